package controller

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"audiocontrold/internal/player"
)

// Base carries the state shared by all backends: identity, capabilities,
// liveness and the last values announced on the bus. Embed it in a backend
// controller. All methods are safe for concurrent use; none of them block on
// I/O.
type Base struct {
	name string
	id   string
	pub  Publisher
	clk  clock.Clock

	mu       sync.Mutex
	caps     player.CapabilitySet
	notified player.CapabilitySet
	lastSeen time.Time

	state    player.PlaybackState
	song     *player.Song
	loop     player.LoopMode
	shuffle  bool
	position float64
	hasPos   bool
}

// NewBase creates a Base. pub may be nil, in which case notifications are
// dropped. clk defaults to the wall clock.
func NewBase(name, id string, pub Publisher, clk clock.Clock) *Base {
	if clk == nil {
		clk = clock.New()
	}
	return &Base{name: name, id: id, pub: pub, clk: clk}
}

func (b *Base) Name() string { return b.name }
func (b *Base) ID() string   { return b.id }

// Source is the identity stamped on every event this controller publishes.
func (b *Base) Source() player.Source {
	return player.Source{PlayerName: b.name, PlayerID: b.id}
}

// Clock returns the clock the controller was built with.
func (b *Base) Clock() clock.Clock { return b.clk }

func (b *Base) publish(ev player.Event) {
	if b.pub != nil {
		b.pub.Publish(ev)
	}
}

// ---------------------------------------------------------------------------
// capabilities
// ---------------------------------------------------------------------------

func (b *Base) Capabilities() player.CapabilitySet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.caps
}

// HasCapability reports whether c is currently advertised.
func (b *Base) HasCapability(c player.Capability) bool {
	return b.Capabilities().Has(c)
}

// SetCapabilities replaces the whole set. With notify, a CapabilitiesChanged
// event is published only if the set differs from the previous one.
func (b *Base) SetCapabilities(caps []player.Capability, notify bool) {
	next := player.FromSlice(caps)

	b.mu.Lock()
	changed := next != b.caps
	b.caps = next
	if changed && notify {
		b.notified = next
	}
	b.mu.Unlock()

	if changed && notify {
		b.publish(player.CapabilitiesChanged{Source: b.Source(), Capabilities: next})
	}
}

// SetCapability flips one bit and reports whether it changed. A request to
// notify is ignored when nothing changed; batched callers pass notify=false
// and follow up with NotifyCapabilitiesIfChanged.
func (b *Base) SetCapability(c player.Capability, enabled, notify bool) bool {
	b.mu.Lock()
	next := b.caps.Set(c, enabled)
	changed := next != b.caps
	b.caps = next
	if changed && notify {
		b.notified = next
	}
	b.mu.Unlock()

	if changed && notify {
		b.publish(player.CapabilitiesChanged{Source: b.Source(), Capabilities: next})
	}
	return changed
}

// NotifyCapabilitiesChanged stores caps and publishes it unconditionally.
func (b *Base) NotifyCapabilitiesChanged(caps player.CapabilitySet) {
	b.mu.Lock()
	b.caps = caps
	b.notified = caps
	b.mu.Unlock()

	b.publish(player.CapabilitiesChanged{Source: b.Source(), Capabilities: caps})
}

// NotifyCapabilitiesIfChanged publishes the current set if it differs from
// the last one announced, and reports whether it did.
func (b *Base) NotifyCapabilitiesIfChanged() bool {
	b.mu.Lock()
	caps := b.caps
	if caps == b.notified {
		b.mu.Unlock()
		return false
	}
	b.notified = caps
	b.mu.Unlock()

	b.publish(player.CapabilitiesChanged{Source: b.Source(), Capabilities: caps})
	return true
}

// ---------------------------------------------------------------------------
// liveness
// ---------------------------------------------------------------------------

// Seen records activity from the backend.
func (b *Base) Seen() {
	now := b.clk.Now()
	b.mu.Lock()
	b.lastSeen = now
	b.mu.Unlock()
}

// Alive is Seen under the name the listen loops use.
func (b *Base) Alive() { b.Seen() }

func (b *Base) LastSeen() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeen
}

// ---------------------------------------------------------------------------
// cached player state
// ---------------------------------------------------------------------------

func (b *Base) PlaybackState() player.PlaybackState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) Song() *player.Song {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.song
}

func (b *Base) LoopMode() player.LoopMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loop
}

func (b *Base) Shuffle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shuffle
}

func (b *Base) Position() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position, b.hasPos
}

// UpdateState publishes StateChanged only when s differs from the cached state.
func (b *Base) UpdateState(s player.PlaybackState) bool {
	b.mu.Lock()
	if b.state == s {
		b.mu.Unlock()
		return false
	}
	b.state = s
	b.mu.Unlock()

	b.publish(player.StateChanged{Source: b.Source(), State: s})
	return true
}

// UpdateSong publishes SongChanged only when the song identity changed.
func (b *Base) UpdateSong(s *player.Song) bool {
	b.mu.Lock()
	if b.song.Equal(s) {
		b.mu.Unlock()
		return false
	}
	b.song = s
	b.mu.Unlock()

	b.publish(player.SongChanged{Source: b.Source(), Song: s})
	return true
}

// UpdateLoopMode publishes LoopModeChanged only on change.
func (b *Base) UpdateLoopMode(m player.LoopMode) bool {
	b.mu.Lock()
	if b.loop == m {
		b.mu.Unlock()
		return false
	}
	b.loop = m
	b.mu.Unlock()

	b.publish(player.LoopModeChanged{Source: b.Source(), Mode: m})
	return true
}

// UpdateRandom publishes RandomChanged only on change.
func (b *Base) UpdateRandom(enabled bool) bool {
	b.mu.Lock()
	if b.shuffle == enabled {
		b.mu.Unlock()
		return false
	}
	b.shuffle = enabled
	b.mu.Unlock()

	b.publish(player.RandomChanged{Source: b.Source(), Enabled: enabled})
	return true
}

// ---------------------------------------------------------------------------
// unconditional notifications
// ---------------------------------------------------------------------------

func (b *Base) NotifyStateChanged(s player.PlaybackState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	b.publish(player.StateChanged{Source: b.Source(), State: s})
}

func (b *Base) NotifySongChanged(s *player.Song) {
	b.mu.Lock()
	b.song = s
	b.mu.Unlock()
	b.publish(player.SongChanged{Source: b.Source(), Song: s})
}

func (b *Base) NotifyLoopMode(m player.LoopMode) {
	b.mu.Lock()
	b.loop = m
	b.mu.Unlock()
	b.publish(player.LoopModeChanged{Source: b.Source(), Mode: m})
}

func (b *Base) NotifyRandomMode(enabled bool) {
	b.mu.Lock()
	b.shuffle = enabled
	b.mu.Unlock()
	b.publish(player.RandomChanged{Source: b.Source(), Enabled: enabled})
}

func (b *Base) NotifyPosition(pos float64) {
	b.mu.Lock()
	b.position, b.hasPos = pos, true
	b.mu.Unlock()
	b.publish(player.PositionChanged{Source: b.Source(), Position: pos})
}

// SetPosition updates the cached position without publishing.
func (b *Base) SetPosition(pos float64) {
	b.mu.Lock()
	b.position, b.hasPos = pos, true
	b.mu.Unlock()
}

func (b *Base) NotifyQueueChanged() {
	b.publish(player.QueueChanged{Source: b.Source()})
}

func (b *Base) NotifyDatabaseUpdate(artist, album, song *string, pct *float64) {
	b.publish(player.DatabaseUpdating{Source: b.Source(), Artist: artist, Album: album, Song: song, Percentage: pct})
}

func (b *Base) NotifySongInformationUpdate(s *player.Song) {
	b.publish(player.SongInformationUpdate{Source: b.Source(), Song: s})
}

func (b *Base) NotifyActivePlayerChanged(playerID string) {
	b.publish(player.ActivePlayerChanged{Source: b.Source(), PlayerID: playerID})
}

// NotifyVolume publishes a device-global volume change.
func (b *Base) NotifyVolume(control, display string, pct float64, db *float64, raw *int64) {
	b.publish(player.VolumeChanged{ControlName: control, DisplayName: display, Percentage: pct, Decibels: db, RawValue: raw})
}
