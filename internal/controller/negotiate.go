package controller

import "audiocontrold/internal/player"

// Transport is the set of capabilities that depend on live playback status.
// Backends derive it from one status snapshot.
type Transport struct {
	Next     bool
	Previous bool
	Stop     bool
	Seek     bool
}

// FailClosed is applied when no status snapshot could be fetched.
var FailClosed = Transport{}

// DeriveTransport applies the common rules: Next and Previous need a
// neighbour in the queue and a non-stopped player, Stop needs a non-stopped
// player, Seek needs a seekable source.
func DeriveTransport(hasNext, hasPrevious, stopped, seekable bool) Transport {
	return Transport{
		Next:     hasNext && !stopped,
		Previous: hasPrevious && !stopped,
		Stop:     !stopped,
		Seek:     seekable,
	}
}

// ApplyTransport flips the four bits quietly and publishes at most one
// CapabilitiesChanged. It reports whether anything was published.
func (b *Base) ApplyTransport(t Transport) bool {
	b.SetCapability(player.CapNext, t.Next, false)
	b.SetCapability(player.CapPrevious, t.Previous, false)
	b.SetCapability(player.CapStop, t.Stop, false)
	b.SetCapability(player.CapSeek, t.Seek, false)
	return b.NotifyCapabilitiesIfChanged()
}
