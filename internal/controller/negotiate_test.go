package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiocontrold/internal/player"
)

func TestDeriveTransport(t *testing.T) {
	tests := []struct {
		name                   string
		next, prev, stop, seek bool
		want                   Transport
	}{
		{"playing mid-queue", true, true, false, true, Transport{Next: true, Previous: true, Stop: true, Seek: true}},
		{"stopped", true, true, true, true, Transport{Seek: true}},
		{"last track", false, true, false, false, Transport{Previous: true, Stop: true}},
		{"nothing", false, false, true, false, FailClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTransport(tt.next, tt.prev, tt.stop, tt.seek))
		})
	}
}

func TestApplyTransportPublishesOnce(t *testing.T) {
	rec := &recorder{}
	b := NewBase("mpd", "id", rec, nil)
	b.SetCapabilities([]player.Capability{player.CapPlay, player.CapPause}, false)

	assert.True(t, b.ApplyTransport(Transport{Next: true, Previous: true, Stop: true, Seek: true}))
	require.Equal(t, 1, rec.count(player.TypeCapabilitiesChanged))

	caps := b.Capabilities()
	for _, c := range []player.Capability{player.CapPlay, player.CapPause, player.CapNext, player.CapPrevious, player.CapStop, player.CapSeek} {
		assert.True(t, caps.Has(c), c.String())
	}

	// unchanged snapshot
	assert.False(t, b.ApplyTransport(Transport{Next: true, Previous: true, Stop: true, Seek: true}))
	assert.Equal(t, 1, rec.count(player.TypeCapabilitiesChanged))

	assert.True(t, b.ApplyTransport(FailClosed))
	assert.Equal(t, 2, rec.count(player.TypeCapabilitiesChanged))
	assert.Equal(t, player.NewCapabilitySet(player.CapPlay, player.CapPause), b.Capabilities())
}
