// Package fanout turns the single bus stream into many independently paced
// client feeds. Events land in one bounded, chronologically ordered buffer;
// each client pulls whatever is newer than its own checkpoint.
package fanout

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"audiocontrold/internal/metrics"
	"audiocontrold/internal/player"
)

const (
	DefaultCapacity      = 100
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultPruneInterval = 5 * time.Minute
	DefaultClientTTL     = time.Hour
	DefaultEventTTL      = 30 * time.Second

	// Wildcard in a player filter matches every player.
	Wildcard = "*"
)

// EventSource is the subscribe side of the event bus.
type EventSource interface {
	SubscribeAll() (uint64, <-chan player.Event)
	Unsubscribe(id uint64) bool
}

// Subscription is a client's filter. Empty lists mean "everything".
type Subscription struct {
	Players    []string `json:"players,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

type entry struct {
	ev  player.Event
	at  time.Time
	seq uint64
}

type client struct {
	players  map[string]struct{} // nil = all
	types    map[string]struct{} // nil = all
	lastTime time.Time
	lastSeq  uint64
	activity time.Time
}

func toSet(v []string) map[string]struct{} {
	if len(v) == 0 {
		return nil
	}
	return lo.SliceToMap(v, func(s string) (string, struct{}) { return s, struct{}{} })
}

func (c *client) apply(sub Subscription) {
	c.players = toSet(sub.Players)
	if _, ok := c.players[Wildcard]; ok {
		c.players = nil
	}
	c.types = toSet(sub.EventTypes)
}

func (c *client) wants(ev player.Event) bool {
	if c.types != nil {
		if _, ok := c.types[ev.Type()]; !ok {
			return false
		}
	}
	src, scoped := player.EventSource(ev)
	if !scoped || c.players == nil {
		return true
	}
	_, ok := c.players[src.PlayerName]
	return ok
}

// Manager is the fan-out hub. All methods are safe for concurrent use and
// none of them block on client I/O.
type Manager struct {
	logger   *zap.Logger
	clk      clock.Clock
	capacity int

	src   EventSource
	subID uint64
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	buf     []entry
	seq     uint64
	nextID  uint64
	clients map[uint64]*client
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clk = c } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = l.Named("fanout") } }

func WithCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// New creates a Manager. When src is non-nil the manager subscribes to it
// and starts draining events into the buffer until Close.
func New(src EventSource, opts ...Option) *Manager {
	m := &Manager{
		logger:   zap.NewNop(),
		clk:      clock.New(),
		capacity: DefaultCapacity,
		src:      src,
		clients:  make(map[uint64]*client),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}

	if src == nil {
		close(m.done)
		return m
	}
	id, ch := src.SubscribeAll()
	m.subID = id
	go m.drain(ch)
	return m
}

func (m *Manager) drain(ch <-chan player.Event) {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.QueueEvent(ev)
		}
	}
}

// Close unsubscribes from the bus and waits for the drain loop to exit.
func (m *Manager) Close() {
	m.once.Do(func() {
		close(m.stop)
		if m.src != nil {
			m.src.Unsubscribe(m.subID)
		}
	})
	<-m.done
}

// QueueEvent appends ev to the buffer, evicting the oldest entry once the
// buffer is over capacity.
func (m *Manager) QueueEvent(ev player.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.buf = append(m.buf, entry{ev: ev, at: m.clk.Now(), seq: m.seq})
	if over := len(m.buf) - m.capacity; over > 0 {
		n := copy(m.buf, m.buf[over:])
		clear(m.buf[n:])
		m.buf = m.buf[:n]
	}
	metrics.FanoutBuffered.Set(float64(len(m.buf)))
}

// Register adds a client and returns its id. The checkpoint starts at now,
// so a new client never receives history.
func (m *Manager) Register(sub Subscription) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	now := m.clk.Now()
	c := &client{lastTime: now, lastSeq: m.seq, activity: now}
	c.apply(sub)
	m.clients[m.nextID] = c
	metrics.FanoutClients.Set(float64(len(m.clients)))

	m.logger.Debug("client registered", zap.Uint64("client", m.nextID),
		zap.Strings("players", sub.Players), zap.Strings("event_types", sub.EventTypes))
	return m.nextID
}

// UpdateSubscription replaces the client's filter and refreshes its activity.
func (m *Manager) UpdateSubscription(id uint64, sub Subscription) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[id]
	if !ok {
		return false
	}
	c.apply(sub)
	c.activity = m.clk.Now()
	return true
}

// RecordActivity refreshes liveness without moving the checkpoint.
func (m *Manager) RecordActivity(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[id]; ok {
		c.activity = m.clk.Now()
	}
}

// EventsFor returns, in order, the buffered events newer than the client's
// checkpoint that pass its filter, and advances the checkpoint to now. ok is
// false once the client is gone, for instance after pruning.
func (m *Manager) EventsFor(id uint64) (events []player.Event, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[id]
	if !ok {
		return nil, false
	}

	for _, e := range m.buf {
		if e.at.Before(c.lastTime) || (e.at.Equal(c.lastTime) && e.seq <= c.lastSeq) {
			continue
		}
		if c.wants(e.ev) {
			events = append(events, e.ev)
		}
	}
	c.lastTime = m.clk.Now()
	c.lastSeq = m.seq
	return events, true
}

// RemoveClient forgets a client.
func (m *Manager) RemoveClient(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, id)
	metrics.FanoutClients.Set(float64(len(m.clients)))
}

// PruneInactiveAndOld drops clients idle for longer than clientTTL, then
// evicts buffer entries older than eventTTL from the front. Eviction stops
// at the first fresh entry.
func (m *Manager) PruneInactiveAndOld(clientTTL, eventTTL time.Duration) (clients, events int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	for id, c := range m.clients {
		if now.Sub(c.activity) > clientTTL {
			delete(m.clients, id)
			clients++
		}
	}

	for events < len(m.buf) && now.Sub(m.buf[events].at) > eventTTL {
		events++
	}
	if events > 0 {
		n := copy(m.buf, m.buf[events:])
		clear(m.buf[n:])
		m.buf = m.buf[:n]
	}

	metrics.FanoutClients.Set(float64(len(m.clients)))
	metrics.FanoutBuffered.Set(float64(len(m.buf)))
	if clients > 0 || events > 0 {
		m.logger.Debug("pruned", zap.Int("clients", clients), zap.Int("events", events))
	}
	return clients, events
}

// Len is the number of buffered events.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}

// ClientCount is the number of registered clients.
func (m *Manager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Buffered returns a copy of the buffered events, oldest first.
func (m *Manager) Buffered() []player.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Map(m.buf, func(e entry, _ int) player.Event { return e.ev })
}
