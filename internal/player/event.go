package player

// Canonical event type names, used by subscription filters and the wire format.
const (
	TypeStateChanged          = "state_changed"
	TypeSongChanged           = "song_changed"
	TypeLoopModeChanged       = "loop_mode_changed"
	TypeRandomChanged         = "random_changed"
	TypeCapabilitiesChanged   = "capabilities_changed"
	TypePositionChanged       = "position_changed"
	TypeDatabaseUpdating      = "database_updating"
	TypeQueueChanged          = "queue_changed"
	TypeSongInformationUpdate = "song_information_update"
	TypeActivePlayerChanged   = "active_player_changed"
	TypeVolumeChanged         = "volume_changed"
)

// EventTypes lists every canonical event type name.
var EventTypes = []string{
	TypeStateChanged,
	TypeSongChanged,
	TypeLoopModeChanged,
	TypeRandomChanged,
	TypeCapabilitiesChanged,
	TypePositionChanged,
	TypeDatabaseUpdating,
	TypeQueueChanged,
	TypeSongInformationUpdate,
	TypeActivePlayerChanged,
	TypeVolumeChanged,
}

// Event is one state transition. The set of implementations is closed; all
// of them live in this file. Events are plain values and are never mutated
// after creation.
type Event interface {
	Type() string
	isEvent()
}

// EventSource returns the player that produced e. Volume events are
// device-global and report false.
func EventSource(e Event) (Source, bool) {
	if s, ok := e.(interface{ source() Source }); ok {
		return s.source(), true
	}
	return Source{}, false
}

type StateChanged struct {
	Source Source
	State  PlaybackState
}

type SongChanged struct {
	Source Source
	Song   *Song
}

type LoopModeChanged struct {
	Source Source
	Mode   LoopMode
}

type RandomChanged struct {
	Source  Source
	Enabled bool
}

type CapabilitiesChanged struct {
	Source       Source
	Capabilities CapabilitySet
}

type PositionChanged struct {
	Source   Source
	Position float64
}

// DatabaseUpdating reports library scan progress. Any field may be nil.
type DatabaseUpdating struct {
	Source     Source
	Artist     *string
	Album      *string
	Song       *string
	Percentage *float64
}

type QueueChanged struct {
	Source Source
}

type SongInformationUpdate struct {
	Source Source
	Song   *Song
}

type ActivePlayerChanged struct {
	Source   Source
	PlayerID string
}

// VolumeChanged carries a mixer control identity instead of a player source.
type VolumeChanged struct {
	ControlName string
	DisplayName string
	Percentage  float64
	Decibels    *float64
	RawValue    *int64
}

func (StateChanged) Type() string          { return TypeStateChanged }
func (SongChanged) Type() string           { return TypeSongChanged }
func (LoopModeChanged) Type() string       { return TypeLoopModeChanged }
func (RandomChanged) Type() string         { return TypeRandomChanged }
func (CapabilitiesChanged) Type() string   { return TypeCapabilitiesChanged }
func (PositionChanged) Type() string       { return TypePositionChanged }
func (DatabaseUpdating) Type() string      { return TypeDatabaseUpdating }
func (QueueChanged) Type() string          { return TypeQueueChanged }
func (SongInformationUpdate) Type() string { return TypeSongInformationUpdate }
func (ActivePlayerChanged) Type() string   { return TypeActivePlayerChanged }
func (VolumeChanged) Type() string         { return TypeVolumeChanged }

func (StateChanged) isEvent()          {}
func (SongChanged) isEvent()           {}
func (LoopModeChanged) isEvent()       {}
func (RandomChanged) isEvent()         {}
func (CapabilitiesChanged) isEvent()   {}
func (PositionChanged) isEvent()       {}
func (DatabaseUpdating) isEvent()      {}
func (QueueChanged) isEvent()          {}
func (SongInformationUpdate) isEvent() {}
func (ActivePlayerChanged) isEvent()   {}
func (VolumeChanged) isEvent()         {}

func (e StateChanged) source() Source          { return e.Source }
func (e SongChanged) source() Source           { return e.Source }
func (e LoopModeChanged) source() Source       { return e.Source }
func (e RandomChanged) source() Source         { return e.Source }
func (e CapabilitiesChanged) source() Source   { return e.Source }
func (e PositionChanged) source() Source       { return e.Source }
func (e DatabaseUpdating) source() Source      { return e.Source }
func (e QueueChanged) source() Source          { return e.Source }
func (e SongInformationUpdate) source() Source { return e.Source }
func (e ActivePlayerChanged) source() Source   { return e.Source }

// Fields returns the event-specific payload as a flat map, keyed the way the
// client feed renders it. The type and source identity are included.
func Fields(e Event) map[string]any {
	m := map[string]any{"type": e.Type()}
	if src, ok := EventSource(e); ok {
		m["player_name"] = src.PlayerName
		m["player_id"] = src.PlayerID
	}
	switch ev := e.(type) {
	case StateChanged:
		m["state"] = ev.State.String()
	case SongChanged:
		m["song"] = ev.Song
	case LoopModeChanged:
		m["mode"] = ev.Mode.String()
	case RandomChanged:
		m["enabled"] = ev.Enabled
	case CapabilitiesChanged:
		m["capabilities"] = ev.Capabilities.Names()
	case PositionChanged:
		m["position"] = ev.Position
	case DatabaseUpdating:
		m["artist"] = ev.Artist
		m["album"] = ev.Album
		m["song"] = ev.Song
		m["percentage"] = ev.Percentage
	case SongInformationUpdate:
		m["song"] = ev.Song
	case ActivePlayerChanged:
		m["new_player_id"] = ev.PlayerID
	case VolumeChanged:
		m["control_name"] = ev.ControlName
		m["display_name"] = ev.DisplayName
		m["percentage"] = ev.Percentage
		m["decibels"] = ev.Decibels
		m["raw_value"] = ev.RawValue
	}
	return m
}
