package player

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilitySetRoundTrip(t *testing.T) {
	all := NewCapabilitySet(AllCapabilities()...)
	require.Equal(t, 23, all.Len())

	for _, s := range []CapabilitySet{0, NewCapabilitySet(CapPlay), NewCapabilitySet(CapPlay, CapSeek, CapReceivesUpdates), all} {
		assert.Equal(t, s, FromSlice(s.Slice()))
	}
}

func TestCapabilitySetOps(t *testing.T) {
	s := NewCapabilitySet(CapPlay, CapPause)
	assert.True(t, s.Has(CapPlay))
	assert.False(t, s.Has(CapStop))

	s = s.Set(CapStop, true).Set(CapPause, false)
	assert.Equal(t, NewCapabilitySet(CapPlay, CapStop), s)

	u := s.Union(NewCapabilitySet(CapNext))
	assert.Equal(t, NewCapabilitySet(CapPlay, CapStop, CapNext), u)
	assert.Equal(t, NewCapabilitySet(CapNext), u.Difference(s))
	assert.True(t, CapabilitySet(0).IsEmpty())
}

func TestCapabilitySetStringAndJSON(t *testing.T) {
	s := NewCapabilitySet(CapAlbumArt, CapPlay, CapDatabaseUpdate)
	assert.Equal(t, "[play, album_art, db_update]", s.String())

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["play","album_art","db_update"]`, string(b))

	var back CapabilitySet
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, s, back)

	assert.Error(t, json.Unmarshal([]byte(`["warp_drive"]`), &back))
}

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability(" PlayPause ")
	require.NoError(t, err)
	assert.Equal(t, CapPlayPause, c)

	_, err = ParseCapability("nope")
	assert.ErrorIs(t, err, ErrUnknownCapability)
}

func TestLoopModeAndState(t *testing.T) {
	for in, want := range map[string]LoopMode{"no": LoopNone, "track": LoopTrack, "all": LoopPlaylist, "2": LoopPlaylist} {
		got, err := ParseLoopMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLoopMode("sometimes")
	assert.Error(t, err)

	assert.Equal(t, StatePaused, ParsePlaybackState("pause"))
	assert.Equal(t, StateUnknown, ParsePlaybackState("buffering"))
	assert.Equal(t, "unknown", PlaybackState(42).String())
}

func TestEventSource(t *testing.T) {
	src := Source{PlayerName: "mpd", PlayerID: "localhost:6600"}

	got, ok := EventSource(StateChanged{Source: src, State: StatePlaying})
	require.True(t, ok)
	assert.Equal(t, src, got)

	_, ok = EventSource(VolumeChanged{ControlName: "Master", Percentage: 40})
	assert.False(t, ok)
}

func TestFields(t *testing.T) {
	src := Source{PlayerName: "mpd", PlayerID: "h:1"}
	f := Fields(CapabilitiesChanged{Source: src, Capabilities: NewCapabilitySet(CapPlay)})
	assert.Equal(t, "capabilities_changed", f["type"])
	assert.Equal(t, "mpd", f["player_name"])
	assert.Equal(t, []string{"play"}, f["capabilities"])

	v := Fields(VolumeChanged{ControlName: "Master", DisplayName: "Master", Percentage: 50})
	_, hasPlayer := v["player_name"]
	assert.False(t, hasPlayer)
	assert.Equal(t, 50.0, v["percentage"])
}

func TestCommandStrings(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Play(), "play"},
		{SetLoopMode(LoopTrack), "set_loop:song"},
		{Seek(12.5), "seek:12.5"},
		{SetRandom(true), "set_random:on"},
		{QueueTracks([]string{"a"}, true, nil), "queue_tracks_beginning"},
		{QueueTracks([]string{"a"}, false, nil), "queue_tracks_end"},
		{RemoveTrack(3), "remove_track:3"},
		{PlayQueueIndex(2), "play_queue_index:2"},
		{ClearQueue(), "clear_queue"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cmd.String())
	}
}

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand("seek:30", nil)
	require.NoError(t, err)
	assert.Equal(t, Seek(30), c)

	c, err = ParseCommand("set_loop", map[string]string{"mode": "playlist"})
	require.NoError(t, err)
	assert.Equal(t, SetLoopMode(LoopPlaylist), c)

	c, err = ParseCommand("set_random", map[string]string{"enabled": "off"})
	require.NoError(t, err)
	assert.Equal(t, SetRandom(false), c)

	c, err = ParseCommand("queue_tracks", map[string]string{"body": `{"uris":["a.flac","b.flac"],"insert_at_beginning":true}`})
	require.NoError(t, err)
	assert.Equal(t, CmdQueueTracks, c.Kind)
	assert.Equal(t, []string{"a.flac", "b.flac"}, c.URIs)
	assert.True(t, c.InsertAtBeginning)

	_, err = ParseCommand("remove_track", map[string]string{"position": "-1"})
	assert.Error(t, err)

	_, err = ParseCommand("explode", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}
