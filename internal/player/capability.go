package player

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// ErrUnknownCapability is returned when a capability name cannot be parsed.
var ErrUnknownCapability = errors.New("unknown capability")

// Capability is a single player ability. Each value occupies its own bit so
// that a CapabilitySet fits in one machine word.
type Capability uint32

const (
	CapPlay Capability = 1 << iota
	CapPause
	CapPlayPause
	CapStop
	CapNext
	CapPrevious
	CapSeek
	CapPosition
	CapLength
	CapVolume
	CapMute
	CapShuffle
	CapLoop
	CapPlaylists
	CapQueue
	CapMetadata
	CapAlbumArt
	CapSearch
	CapBrowse
	CapFavorites
	CapDatabaseUpdate
	CapKillable
	CapReceivesUpdates

	capLimit
)

var capabilityNames = map[Capability]string{
	CapPlay:            "play",
	CapPause:           "pause",
	CapPlayPause:       "playpause",
	CapStop:            "stop",
	CapNext:            "next",
	CapPrevious:        "previous",
	CapSeek:            "seek",
	CapPosition:        "position",
	CapLength:          "length",
	CapVolume:          "volume",
	CapMute:            "mute",
	CapShuffle:         "shuffle",
	CapLoop:            "loop",
	CapPlaylists:       "playlists",
	CapQueue:           "queue",
	CapMetadata:        "metadata",
	CapAlbumArt:        "album_art",
	CapSearch:          "search",
	CapBrowse:          "browse",
	CapFavorites:       "favorites",
	CapDatabaseUpdate:  "db_update",
	CapKillable:        "killable",
	CapReceivesUpdates: "receives_updates",
}

// AllCapabilities lists every capability in bit order.
func AllCapabilities() []Capability {
	out := make([]Capability, 0, len(capabilityNames))
	for c := Capability(1); c < capLimit; c <<= 1 {
		out = append(out, c)
	}
	return out
}

func (c Capability) String() string {
	if n, ok := capabilityNames[c]; ok {
		return n
	}
	return fmt.Sprintf("capability(%#x)", uint32(c))
}

// ParseCapability maps a canonical name (case-insensitive) to its Capability.
func ParseCapability(name string) (Capability, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, n := range capabilityNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCapability, name)
}

func (c Capability) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Capability) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseCapability(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// CapabilitySet is a bitset of Capability values. The zero value is empty.
type CapabilitySet uint32

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= CapabilitySet(c)
	}
	return s
}

// FromSlice is an alias of NewCapabilitySet for symmetry with Slice.
func FromSlice(caps []Capability) CapabilitySet { return NewCapabilitySet(caps...) }

func (s CapabilitySet) Has(c Capability) bool { return s&CapabilitySet(c) != 0 }

func (s CapabilitySet) Add(c Capability) CapabilitySet { return s | CapabilitySet(c) }

func (s CapabilitySet) Remove(c Capability) CapabilitySet { return s &^ CapabilitySet(c) }

// Set adds or removes c depending on enabled.
func (s CapabilitySet) Set(c Capability, enabled bool) CapabilitySet {
	if enabled {
		return s.Add(c)
	}
	return s.Remove(c)
}

func (s CapabilitySet) Union(o CapabilitySet) CapabilitySet { return s | o }

func (s CapabilitySet) Difference(o CapabilitySet) CapabilitySet { return s &^ o }

func (s CapabilitySet) IsEmpty() bool { return s == 0 }

func (s CapabilitySet) Len() int { return bits.OnesCount32(uint32(s)) }

// Slice returns the members in bit order.
func (s CapabilitySet) Slice() []Capability {
	out := make([]Capability, 0, s.Len())
	for c := Capability(1); c < capLimit; c <<= 1 {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Names returns the canonical names of the members in bit order.
func (s CapabilitySet) Names() []string {
	caps := s.Slice()
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = c.String()
	}
	return out
}

func (s CapabilitySet) String() string {
	return "[" + strings.Join(s.Names(), ", ") + "]"
}

func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *CapabilitySet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	var out CapabilitySet
	for _, n := range names {
		c, err := ParseCapability(n)
		if err != nil {
			return err
		}
		out = out.Add(c)
	}
	*s = out
	return nil
}
