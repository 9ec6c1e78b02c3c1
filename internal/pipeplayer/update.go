package pipeplayer

import (
	"encoding/json"
	"fmt"
	"strconv"

	"audiocontrold/internal/player"
)

// seekMillisThreshold separates second values from millisecond values in
// the "seek" field. Renderers disagree on the unit.
const seekMillisThreshold = 10000

// Update is one JSON line from the metadata pipe. Absent fields are nil and
// leave the cached value alone.
type Update struct {
	State *string  `json:"state"`
	Seek  *float64 `json:"seek"`

	PlayAllowed     *bool `json:"is_play_allowed"`
	PauseAllowed    *bool `json:"is_pause_allowed"`
	SeekAllowed     *bool `json:"is_seek_allowed"`
	NextAllowed     *bool `json:"is_next_allowed"`
	PreviousAllowed *bool `json:"is_previous_allowed"`

	Shuffle *bool   `json:"shuffle"`
	Loop    *string `json:"loop"`

	StreamFormat *StreamFormat `json:"stream_format"`
	NowPlaying   *NowPlaying   `json:"now_playing"`
}

type StreamFormat struct {
	SampleRate    int    `json:"sample_rate"`
	BitsPerSample int    `json:"bits_per_sample"`
	Channels      int    `json:"channels"`
	SampleType    string `json:"sample_type"`
}

// NowPlaying accepts both the short and the RAAT-style field names.
type NowPlaying struct {
	Title       string   `json:"title"`
	Artist      string   `json:"artist"`
	Album       string   `json:"album"`
	Composer    string   `json:"composer"`
	Length      *float64 `json:"length"`
	Duration    *float64 `json:"duration"`
	ArtworkURL  string   `json:"artwork_url"`
	CoverArtURL string   `json:"cover_art_url"`
	OneLine     string   `json:"one_line"`
	TwoLine     string   `json:"two_line_title"`
}

// ParseUpdate decodes one line. Blank lines are not valid updates.
func ParseUpdate(line []byte) (*Update, error) {
	var u Update
	if err := json.Unmarshal(line, &u); err != nil {
		return nil, fmt.Errorf("decode metadata line: %w", err)
	}
	return &u, nil
}

// PlaybackState maps "state", reporting false when the field is absent.
func (u *Update) PlaybackState() (player.PlaybackState, bool) {
	if u.State == nil {
		return player.StateUnknown, false
	}
	return player.ParsePlaybackState(*u.State), true
}

// Position is the "seek" field in seconds.
func (u *Update) Position() (float64, bool) {
	if u.Seek == nil {
		return 0, false
	}
	pos := *u.Seek
	if pos > seekMillisThreshold {
		pos /= 1000
	}
	return pos, true
}

// LoopMode parses "loop". An unknown value is reported as absent.
func (u *Update) LoopMode() (player.LoopMode, bool) {
	if u.Loop == nil {
		return player.LoopNone, false
	}
	m, err := player.ParseLoopMode(*u.Loop)
	if err != nil {
		return player.LoopNone, false
	}
	return m, true
}

// Capabilities applies the allow flags to caps. A present shuffle or loop
// key means the renderer supports that mode.
func (u *Update) Capabilities(caps player.CapabilitySet) player.CapabilitySet {
	flag := func(p *bool, c player.Capability) {
		if p != nil {
			caps = caps.Set(c, *p)
		}
	}
	flag(u.PlayAllowed, player.CapPlay)
	flag(u.PauseAllowed, player.CapPause)
	flag(u.SeekAllowed, player.CapSeek)
	flag(u.NextAllowed, player.CapNext)
	flag(u.PreviousAllowed, player.CapPrevious)

	if u.PlayAllowed != nil || u.PauseAllowed != nil {
		caps = caps.Set(player.CapPlayPause, caps.Has(player.CapPlay) && caps.Has(player.CapPause))
	}
	if u.Shuffle != nil {
		caps = caps.Add(player.CapShuffle)
	}
	if u.Loop != nil {
		caps = caps.Add(player.CapLoop)
	}
	return caps
} // func Capabilities

// Song builds the song from now_playing, or nil when it is absent or empty.
func (u *Update) Song(source string) *player.Song {
	np := u.NowPlaying
	if np == nil {
		return nil
	}

	s := &player.Song{
		Title:       np.Title,
		Artist:      np.Artist,
		Album:       np.Album,
		CoverArtURL: np.CoverArtURL,
		Source:      source,
	}
	if s.Title == "" {
		s.Title = np.TwoLine
	}
	if s.Title == "" {
		s.Title = np.OneLine
	}
	if s.CoverArtURL == "" {
		s.CoverArtURL = np.ArtworkURL
	}
	switch {
	case np.Duration != nil:
		s.Duration = *np.Duration
	case np.Length != nil:
		s.Duration = *np.Length
	}

	meta := map[string]string{}
	if np.Composer != "" {
		meta["composer"] = np.Composer
	}
	if f := u.StreamFormat; f != nil {
		for k, v := range f.fields() {
			meta[k] = v
		}
	}
	if len(meta) > 0 {
		s.Metadata = meta
	}

	if s.Title == "" && s.Artist == "" && s.Album == "" {
		return nil
	}
	return s
} // func Song

func (f *StreamFormat) fields() map[string]string {
	m := map[string]string{}
	if f.SampleRate > 0 {
		m["sample_rate"] = strconv.Itoa(f.SampleRate)
	}
	if f.BitsPerSample > 0 {
		m["bits_per_sample"] = strconv.Itoa(f.BitsPerSample)
	}
	if f.Channels > 0 {
		m["channels"] = strconv.Itoa(f.Channels)
	}
	if f.SampleType != "" {
		m["sample_type"] = f.SampleType
	}
	return m
}

// String renders the format the way the meta endpoint reports it,
// e.g. "44100/16/2 pcm".
func (f *StreamFormat) String() string {
	if f == nil {
		return ""
	}
	s := fmt.Sprintf("%d/%d/%d", f.SampleRate, f.BitsPerSample, f.Channels)
	if f.SampleType != "" {
		s += " " + f.SampleType
	}
	return s
}
