package audiocontrol

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"audiocontrold/internal/eventbus"
	"audiocontrold/internal/player"
)

// Plugin reacts to bus events.
type Plugin interface {
	Name() string
	HandleEvent(ev player.Event)
}

// typedPlugin narrows the bus subscription to the listed event types.
type typedPlugin interface {
	EventTypes() []string
}

// AttachPlugins subscribes every plugin to bus on its own worker. The
// returned channel closes once all workers have exited after ctx ends.
func AttachPlugins(ctx context.Context, bus *eventbus.Bus, logger *zap.Logger, plugins ...Plugin) <-chan struct{} {
	if logger == nil {
		logger = zap.NewNop()
	}
	var workers []<-chan struct{}
	for _, p := range plugins {
		var (
			id uint64
			ch <-chan player.Event
		)
		if tp, ok := p.(typedPlugin); ok {
			id, ch = bus.Subscribe(tp.EventTypes()...)
		} else {
			id, ch = bus.SubscribeAll()
		}
		logger.Info("plugin attached", zap.String("plugin", p.Name()), zap.Uint64("subscriber", id))
		workers = append(workers, bus.SpawnWorker(ctx, id, ch, p.HandleEvent))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, w := range workers {
			<-w
		}
	}()
	return done
}

// ---------------------------------------------------------------------------
// ActiveMonitor
// ---------------------------------------------------------------------------

// ActiveMonitor makes a player active as soon as it starts playing.
type ActiveMonitor struct {
	reg    *Registry
	logger *zap.Logger
}

func NewActiveMonitor(reg *Registry, logger *zap.Logger) *ActiveMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActiveMonitor{reg: reg, logger: logger.Named("active-monitor")}
}

func (m *ActiveMonitor) Name() string { return "ActiveMonitor" }

func (m *ActiveMonitor) EventTypes() []string { return []string{player.TypeStateChanged} }

func (m *ActiveMonitor) HandleEvent(ev player.Event) {
	sc, ok := ev.(player.StateChanged)
	if !ok || sc.State != player.StatePlaying {
		return
	}
	if m.reg.IsActive(sc.Source.PlayerID) {
		return
	}
	m.logger.Debug("player started playing, switching",
		zap.String("name", sc.Source.PlayerName), zap.String("id", sc.Source.PlayerID))
	if !m.reg.SetActive(sc.Source.PlayerID) {
		m.reg.SetActive(sc.Source.PlayerName)
	}
}

// ---------------------------------------------------------------------------
// EventLogger
// ---------------------------------------------------------------------------

// EventLoggerConfig filters what EventLogger writes.
type EventLoggerConfig struct {
	OnlyActive bool
	Level      zapcore.Level
	Types      []string // empty logs every type
}

// EventLogger writes bus events to the log.
type EventLogger struct {
	reg    *Registry
	logger *zap.Logger
	cfg    EventLoggerConfig
	types  map[string]struct{}
}

func NewEventLogger(reg *Registry, logger *zap.Logger, cfg EventLoggerConfig) *EventLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &EventLogger{reg: reg, logger: logger.Named("events"), cfg: cfg}
	if len(cfg.Types) > 0 {
		l.types = lo.SliceToMap(cfg.Types, func(t string) (string, struct{}) { return t, struct{}{} })
	}
	return l
}

func (l *EventLogger) Name() string { return "EventLogger" }

func (l *EventLogger) EventTypes() []string { return l.cfg.Types }

func (l *EventLogger) HandleEvent(ev player.Event) {
	src, hasSource := player.EventSource(ev)
	active := hasSource && l.reg != nil && l.reg.IsActive(src.PlayerID)
	if l.cfg.OnlyActive && !active {
		return
	}
	if l.types != nil {
		if _, ok := l.types[ev.Type()]; !ok {
			return
		}
	}

	ce := l.logger.Check(l.cfg.Level, "player event")
	if ce == nil {
		return
	}
	fields := []zap.Field{zap.String("type", ev.Type())}
	if hasSource {
		fields = append(fields,
			zap.String("player", src.PlayerName),
			zap.String("player_id", src.PlayerID),
			zap.Bool("active", active))
	}
	ce.Write(append(fields, eventFields(ev)...)...)
} // func HandleEvent

func eventFields(ev player.Event) []zap.Field {
	switch e := ev.(type) {
	case player.StateChanged:
		return []zap.Field{zap.Stringer("state", e.State)}
	case player.SongChanged:
		return songFields(e.Song)
	case player.SongInformationUpdate:
		return songFields(e.Song)
	case player.LoopModeChanged:
		return []zap.Field{zap.Stringer("mode", e.Mode)}
	case player.RandomChanged:
		return []zap.Field{zap.Bool("enabled", e.Enabled)}
	case player.CapabilitiesChanged:
		return []zap.Field{zap.Strings("capabilities", e.Capabilities.Names())}
	case player.PositionChanged:
		return []zap.Field{zap.Float64("position", e.Position)}
	case player.DatabaseUpdating:
		if e.Percentage != nil {
			return []zap.Field{zap.Float64("percentage", *e.Percentage)}
		}
	case player.ActivePlayerChanged:
		return []zap.Field{zap.String("active_id", e.PlayerID)}
	case player.VolumeChanged:
		return []zap.Field{zap.String("control", e.ControlName), zap.Float64("percentage", e.Percentage)}
	}
	return nil
}

func songFields(s *player.Song) []zap.Field {
	if s == nil {
		return []zap.Field{zap.Bool("song", false)}
	}
	return []zap.Field{zap.String("title", s.Title), zap.String("artist", s.Artist), zap.String("album", s.Album)}
}
