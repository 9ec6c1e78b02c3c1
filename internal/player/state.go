package player

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlaybackState is the coarse transport state of a player.
type PlaybackState int

const (
	StateUnknown PlaybackState = iota
	StatePlaying
	StatePaused
	StateStopped
	StateKilled
	StateDisconnected
)

var stateNames = [...]string{
	StateUnknown:      "unknown",
	StatePlaying:      "playing",
	StatePaused:       "paused",
	StateStopped:      "stopped",
	StateKilled:       "killed",
	StateDisconnected: "disconnected",
}

func (s PlaybackState) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return stateNames[StateUnknown]
}

// ParsePlaybackState is lenient: unrecognised input maps to StateUnknown.
func ParsePlaybackState(v string) PlaybackState {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "playing", "play":
		return StatePlaying
	case "paused", "pause":
		return StatePaused
	case "stopped", "stop":
		return StateStopped
	case "killed":
		return StateKilled
	case "disconnected":
		return StateDisconnected
	}
	return StateUnknown
}

func (s PlaybackState) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *PlaybackState) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = ParsePlaybackState(v)
	return nil
}

// LoopMode is the repeat setting of a player.
type LoopMode int

const (
	LoopNone LoopMode = iota
	LoopTrack
	LoopPlaylist
)

func (m LoopMode) String() string {
	switch m {
	case LoopTrack:
		return "song"
	case LoopPlaylist:
		return "playlist"
	}
	return "no"
}

// ParseLoopMode accepts the canonical names plus the aliases backends use.
func ParseLoopMode(v string) (LoopMode, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "no", "none", "off", "0":
		return LoopNone, nil
	case "song", "track", "one", "1":
		return LoopTrack, nil
	case "playlist", "all", "2":
		return LoopPlaylist, nil
	}
	return LoopNone, fmt.Errorf("invalid loop mode %q", v)
}

func (m LoopMode) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

func (m *LoopMode) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	lm, err := ParseLoopMode(v)
	if err != nil {
		return err
	}
	*m = lm
	return nil
}

// Song is the metadata of one playable item. Treat it as immutable once it
// has been attached to an event.
type Song struct {
	Title       string            `json:"title,omitempty"`
	Artist      string            `json:"artist,omitempty"`
	Album       string            `json:"album,omitempty"`
	AlbumArtist string            `json:"album_artist,omitempty"`
	TrackNumber int               `json:"track_number,omitempty"`
	TotalTracks int               `json:"total_tracks,omitempty"`
	Duration    float64           `json:"duration,omitempty"`
	Genre       string            `json:"genre,omitempty"`
	Year        int               `json:"year,omitempty"`
	CoverArtURL string            `json:"cover_art_url,omitempty"`
	StreamURL   string            `json:"stream_url,omitempty"`
	Source      string            `json:"source,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Equal compares the identifying fields, ignoring Metadata.
func (s *Song) Equal(o *Song) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Title == o.Title && s.Artist == o.Artist && s.Album == o.Album &&
		s.StreamURL == o.StreamURL && s.Duration == o.Duration && s.TrackNumber == o.TrackNumber
}

// Track is one queue entry.
type Track struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Artist string `json:"artist,omitempty"`
	URI    string `json:"uri,omitempty"`
}

// Source identifies the player an event came from.
type Source struct {
	PlayerName string `json:"player_name"`
	PlayerID   string `json:"player_id"`
}
