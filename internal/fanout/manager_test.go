package fanout

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiocontrold/internal/eventbus"
	"audiocontrold/internal/player"
)

var (
	srcA = player.Source{PlayerName: "PlayerA", PlayerID: "a"}
	srcB = player.Source{PlayerName: "PlayerB", PlayerID: "b"}
)

func newManager(t *testing.T) (*Manager, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	m := New(nil, WithClock(mock))
	t.Cleanup(m.Close)
	return m, mock
}

// pending returns the client's new events, failing if the client is unknown.
func pending(t *testing.T, m *Manager, id uint64) []player.Event {
	t.Helper()
	evs, ok := m.EventsFor(id)
	require.True(t, ok, "client %d not registered", id)
	return evs
}

func TestPlayerFilter(t *testing.T) {
	m, mock := newManager(t)
	id := m.Register(Subscription{Players: []string{"PlayerA"}})

	mock.Add(time.Millisecond)
	m.QueueEvent(player.StateChanged{Source: srcB, State: player.StatePlaying})
	m.QueueEvent(player.StateChanged{Source: srcA, State: player.StatePlaying})

	got := pending(t, m, id)
	require.Len(t, got, 1)
	src, _ := player.EventSource(got[0])
	assert.Equal(t, "PlayerA", src.PlayerName)
}

func TestWildcardReceivesVolume(t *testing.T) {
	m, mock := newManager(t)
	id := m.Register(Subscription{Players: []string{"*"}})

	mock.Add(time.Millisecond)
	m.QueueEvent(player.VolumeChanged{ControlName: "Master", DisplayName: "Master", Percentage: 70})

	got := pending(t, m, id)
	require.Len(t, got, 1)
	assert.Equal(t, player.TypeVolumeChanged, got[0].Type())
}

func TestVolumeMatchedOnTypeOnly(t *testing.T) {
	m, _ := newManager(t)
	named := m.Register(Subscription{Players: []string{"PlayerA"}})
	typed := m.Register(Subscription{EventTypes: []string{player.TypeStateChanged}})

	m.QueueEvent(player.VolumeChanged{ControlName: "Master", Percentage: 10})

	assert.Len(t, pending(t, m, named), 1)
	assert.Empty(t, pending(t, m, typed))
}

func TestEventTypeFilter(t *testing.T) {
	m, _ := newManager(t)
	id := m.Register(Subscription{EventTypes: []string{player.TypeQueueChanged, player.TypeRandomChanged}})

	m.QueueEvent(player.StateChanged{Source: srcA, State: player.StatePaused})
	m.QueueEvent(player.QueueChanged{Source: srcA})
	m.QueueEvent(player.RandomChanged{Source: srcB, Enabled: true})

	got := pending(t, m, id)
	require.Len(t, got, 2)
	assert.Equal(t, player.TypeQueueChanged, got[0].Type())
	assert.Equal(t, player.TypeRandomChanged, got[1].Type())
}

func TestNoDuplicatesNoLoss(t *testing.T) {
	m, mock := newManager(t)
	id := m.Register(Subscription{})

	var seen []float64
	collect := func() {
		for _, ev := range pending(t, m, id) {
			seen = append(seen, ev.(player.PositionChanged).Position)
		}
	}

	pos := 0.0
	for round := 0; round < 20; round++ {
		for i := 0; i < round%4; i++ {
			m.QueueEvent(player.PositionChanged{Source: srcA, Position: pos})
			pos++
		}
		// even rounds keep the clock still, so checkpoint and arrival times tie
		if round%2 == 1 {
			mock.Add(time.Millisecond)
		}
		collect()
	}

	require.Len(t, seen, int(pos))
	for i, p := range seen {
		assert.Equal(t, float64(i), p)
	}
}

func TestNewClientGetsNoHistory(t *testing.T) {
	m, mock := newManager(t)
	m.QueueEvent(player.QueueChanged{Source: srcA})
	mock.Add(time.Second)

	id := m.Register(Subscription{})
	assert.Empty(t, pending(t, m, id))
}

func TestBufferBound(t *testing.T) {
	m, _ := newManager(t)
	for i := 0; i < 150; i++ {
		m.QueueEvent(player.PositionChanged{Source: srcA, Position: float64(i)})
		assert.LessOrEqual(t, m.Len(), DefaultCapacity)
	}

	buf := m.Buffered()
	require.Len(t, buf, 100)
	assert.Equal(t, 50.0, buf[0].(player.PositionChanged).Position)
	assert.Equal(t, 149.0, buf[99].(player.PositionChanged).Position)
}

func TestUpdateSubscription(t *testing.T) {
	m, _ := newManager(t)
	id := m.Register(Subscription{Players: []string{"PlayerB"}})

	assert.True(t, m.UpdateSubscription(id, Subscription{Players: []string{"PlayerA"}}))
	assert.False(t, m.UpdateSubscription(999, Subscription{}))

	m.QueueEvent(player.QueueChanged{Source: srcA})
	assert.Len(t, pending(t, m, id), 1)
}

func TestPruneInactiveClients(t *testing.T) {
	m, mock := newManager(t)
	idle := m.Register(Subscription{})
	busy := m.Register(Subscription{})

	mock.Add(50 * time.Minute)
	m.RecordActivity(busy)
	mock.Add(20 * time.Minute)

	clients, _ := m.PruneInactiveAndOld(time.Hour, DefaultEventTTL)
	assert.Equal(t, 1, clients)
	assert.Equal(t, 1, m.ClientCount())
	_, ok := m.EventsFor(idle)
	assert.False(t, ok)
}

func TestPruneOldEventsFrontToBack(t *testing.T) {
	m, mock := newManager(t)

	m.QueueEvent(player.PositionChanged{Source: srcA, Position: 0})
	mock.Add(10 * time.Second)
	m.QueueEvent(player.PositionChanged{Source: srcA, Position: 1})
	mock.Add(10 * time.Second)
	m.QueueEvent(player.PositionChanged{Source: srcA, Position: 2})
	mock.Add(15 * time.Second)

	// ages are now 35s, 25s, 15s
	_, events := m.PruneInactiveAndOld(time.Hour, 30*time.Second)
	assert.Equal(t, 1, events)
	buf := m.Buffered()
	require.Len(t, buf, 2)
	assert.Equal(t, 1.0, buf[0].(player.PositionChanged).Position)

	mock.Add(10 * time.Second)
	_, events = m.PruneInactiveAndOld(time.Hour, 30*time.Second)
	assert.Equal(t, 1, events)
	assert.Equal(t, 1, m.Len())
}

func TestRemoveClient(t *testing.T) {
	m, _ := newManager(t)
	id := m.Register(Subscription{})
	m.RemoveClient(id)
	assert.Equal(t, 0, m.ClientCount())
	_, ok := m.EventsFor(id)
	assert.False(t, ok)
}

func TestDrainsFromBus(t *testing.T) {
	bus := eventbus.New(nil)
	m := New(bus)
	id := m.Register(Subscription{})

	bus.Publish(player.StateChanged{Source: srcA, State: player.StatePlaying})
	bus.Publish(player.QueueChanged{Source: srcA})

	require.Eventually(t, func() bool { return m.Len() == 2 }, time.Second, 5*time.Millisecond)
	got := pending(t, m, id)
	require.Len(t, got, 2)
	assert.Equal(t, player.TypeStateChanged, got[0].Type())

	m.Close()
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestEncode(t *testing.T) {
	b, err := Encode(player.StateChanged{Source: srcA, State: player.StatePaused})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "state_changed",
		"player_name": "PlayerA",
		"player_id": "a",
		"state": "paused",
		"source": {"player_name": "PlayerA", "player_id": "a"}
	}`, string(b))

	b, err = Encode(player.VolumeChanged{ControlName: "Master", DisplayName: "Main", Percentage: 55})
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "volume_changed", m["type"])
	assert.Equal(t, "Main", m["display_name"])
	assert.Nil(t, m["source"])
}

func TestParseSubscription(t *testing.T) {
	sub, err := ParseSubscription([]byte(`{"players":["mpd"],"event_types":["state_changed"]}`))
	require.NoError(t, err)
	assert.Equal(t, Subscription{Players: []string{"mpd"}, EventTypes: []string{"state_changed"}}, sub)

	sub, err = ParseSubscription([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, sub.Players)

	for _, bad := range []string{`nonsense`, `null`, `["mpd"]`, `{"player":["mpd"]}`, `{"players":"mpd"}`} {
		_, err := ParseSubscription([]byte(bad))
		assert.Error(t, err, bad)
	}
}
