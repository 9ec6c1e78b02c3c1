// Package controller holds what every player backend shares: the Controller
// interface, the capability and notification substrate (Base), the
// reconnecting listener state machine (Reconnector) and the Null player.
package controller

import (
	"context"
	"time"

	"audiocontrold/internal/player"
)

// Publisher is the side of the event bus controllers talk to.
type Publisher interface {
	Publish(player.Event)
}

// Controller is one backend player instance.
type Controller interface {
	Name() string
	ID() string

	Capabilities() player.CapabilitySet
	LastSeen() time.Time
	PlaybackState() player.PlaybackState
	Song() *player.Song
	LoopMode() player.LoopMode
	Shuffle() bool
	Position() (float64, bool)

	Queue(ctx context.Context) ([]player.Track, error)
	SendCommand(ctx context.Context, cmd player.Command) bool

	MetaKeys() []string
	MetaValue(key string) (string, bool)

	Start(ctx context.Context) error
	Stop() error
}

// Notifier is what backend listeners call into when the device pushes a
// change. Backend-specific extensions become methods here rather than type
// assertions on a concrete controller.
type Notifier interface {
	Seen()
	NotifyStateChanged(state player.PlaybackState)
	NotifyRandomMode(enabled bool)
	NotifyLoopMode(mode player.LoopMode)
	RefreshSong()
	RefreshPosition()
}
