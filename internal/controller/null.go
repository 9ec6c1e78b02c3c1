package controller

import (
	"context"

	"github.com/benbjohnson/clock"

	"audiocontrold/internal/player"
)

// Null is a player that accepts every command and never produces events on
// its own. It keeps the registry non-empty on hosts without a real backend.
type Null struct {
	*Base
}

var _ Controller = (*Null)(nil)

// NewNull creates the null player.
func NewNull(pub Publisher, clk clock.Clock) *Null {
	n := &Null{Base: NewBase("null", "null", pub, clk)}
	n.SetCapabilities([]player.Capability{
		player.CapPlay, player.CapPause, player.CapPlayPause, player.CapStop,
		player.CapNext, player.CapPrevious, player.CapSeek, player.CapLoop,
		player.CapShuffle, player.CapQueue,
	}, false)
	return n
}

func (n *Null) Queue(context.Context) ([]player.Track, error) { return nil, nil }

// SendCommand accepts the command. Transport commands are reflected in the
// cached state so the player looks responsive.
func (n *Null) SendCommand(_ context.Context, cmd player.Command) bool {
	switch cmd.Kind {
	case player.CmdPlay:
		n.UpdateState(player.StatePlaying)
	case player.CmdPause:
		n.UpdateState(player.StatePaused)
	case player.CmdPlayPause:
		if n.PlaybackState() == player.StatePlaying {
			n.UpdateState(player.StatePaused)
		} else {
			n.UpdateState(player.StatePlaying)
		}
	case player.CmdStop:
		n.UpdateState(player.StateStopped)
	case player.CmdSetLoopMode:
		n.UpdateLoopMode(cmd.LoopMode)
	case player.CmdSetRandom:
		n.UpdateRandom(cmd.Enabled)
	}
	n.Seen()
	return true
}

func (n *Null) MetaKeys() []string { return []string{"playback_state"} }

func (n *Null) MetaValue(key string) (string, bool) {
	if key == "playback_state" {
		return n.PlaybackState().String(), true
	}
	return "", false
}

func (n *Null) Start(context.Context) error {
	n.Seen()
	return nil
}

func (n *Null) Stop() error { return nil }

// RefreshSong and RefreshPosition satisfy Notifier; there is nothing to fetch.
func (n *Null) RefreshSong()     {}
func (n *Null) RefreshPosition() {}

var _ Notifier = (*Null)(nil)
