// Package mpdplayer drives a Music Player Daemon. A long-lived idle watcher
// reports subsystem changes; every query and command runs on its own short
// connection.
package mpdplayer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"audiocontrold/internal/controller"
	"audiocontrold/internal/metrics"
	"audiocontrold/internal/player"
)

const (
	DefaultPort           = 6600
	DefaultSocket         = "/run/mpd/socket"
	DefaultCommandTimeout = 3 * time.Second

	// Name is the player name every MPD controller registers under.
	Name = "mpd"
)

// Config selects the MPD server and the reconnect budget.
type Config struct {
	Host           string
	Port           int
	Socket         string
	Password       string
	MaxReconnect   int
	Backoff        time.Duration
	CommandTimeout time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = controller.DefaultMaxReconnectAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = controller.DefaultReconnectBackoff
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	return cfg
}

var defaultCapabilities = []player.Capability{
	player.CapPlay, player.CapPause, player.CapPlayPause, player.CapStop,
	player.CapNext, player.CapPrevious, player.CapSeek, player.CapLoop,
	player.CapShuffle, player.CapKillable, player.CapQueue,
	player.CapDatabaseUpdate, player.CapReceivesUpdates,
}

// Controller is the MPD backend.
type Controller struct {
	*controller.Base

	cfg    Config
	logger *zap.Logger
	recon  *controller.Reconnector

	dial  func(ctx context.Context) (mpdClient, error)
	watch func() (watcher, error)

	mu         sync.Mutex
	queueLen   int
	volume     int
	hasVolume  bool
	dbUpdating bool

	listening atomic.Bool
	killed    atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var (
	_ controller.Controller = (*Controller)(nil)
	_ controller.Notifier   = (*Controller)(nil)
)

// New creates an MPD controller. Nothing is dialled until Start.
func New(cfg Config, pub controller.Publisher, logger *zap.Logger, clk clock.Clock) *Controller {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	id := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	m := &Controller{
		Base:   controller.NewBase(Name, id, pub, clk),
		cfg:    cfg,
		logger: logger.Named("mpd").With(zap.String("player_id", id)),
		dial:   cfg.dialMPD,
		watch:  cfg.newWatcherMPD,
	}
	m.recon = controller.NewReconnector(Name, m.logger,
		controller.WithMaxAttempts(cfg.MaxReconnect),
		controller.WithBackoff(cfg.Backoff),
		controller.WithClock(clk),
		controller.WithStateHook(m.onConnState),
	)
	m.SetCapabilities(defaultCapabilities, false)
	return m
} // func New

// Reconnector exposes the listener state machine.
func (m *Controller) Reconnector() *controller.Reconnector { return m.recon }

// Start launches the idle listener. It returns immediately.
func (m *Controller) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()
	m.killed.Store(false)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = m.recon.Run(ctx, m.connect)
	}()
	m.logger.Info("started", zap.String("host", m.cfg.Host), zap.Int("port", m.cfg.Port),
		zap.String("socket", m.cfg.Socket))
	return nil
} // func Start

// Stop cancels the listener and waits for it to exit.
func (m *Controller) Stop() error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.wg.Wait()
	}
	return nil
} // func Stop

// onConnState maps listener transitions to the playback state. After a kill
// the listener's own failure must not replace "killed".
func (m *Controller) onConnState(s controller.ConnState) {
	if m.killed.Load() {
		m.listening.Store(false)
		return
	}
	switch s {
	case controller.Listening:
		m.listening.Store(true)
	case controller.Connecting:
		if m.listening.Swap(false) {
			m.UpdateState(player.StateDisconnected)
		}
	case controller.PermanentlyDisabled:
		m.listening.Store(false)
		m.UpdateState(player.StateDisconnected)
	}
}

// withClient runs fn on a fresh connection bounded by the command timeout.
// fn has always returned by the time withClient does. A successful dial
// counts as proof of life for the reconnect budget.
func (m *Controller) withClient(ctx context.Context, what string, fn func(mpdClient) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CommandTimeout)
	defer cancel()

	c, err := m.dial(ctx)
	if err != nil {
		m.logger.Warn("connect failed", zap.String("op", what), zap.Error(err))
		return fmt.Errorf("%s: %w", what, err)
	}
	m.recon.ReportSuccess()
	m.Seen()

	done := make(chan error, 1)
	go func() { done <- fn(c) }()

	select {
	case err = <-done:
		c.Close()
	case <-ctx.Done():
		// closing the connection unblocks fn; wait so nothing it touches
		// outlives the call
		c.Close()
		<-done
		err = ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
} // func withClient

// ---------------------------------------------------------------------------
// cached device state
// ---------------------------------------------------------------------------

func (m *Controller) queueLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queueLen
}

func (m *Controller) setQueueLength(n int) {
	m.mu.Lock()
	m.queueLen = n
	m.mu.Unlock()
}

// setVolume caches v and reports whether it changed.
func (m *Controller) setVolume(v int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasVolume && m.volume == v {
		return false
	}
	m.volume, m.hasVolume = v, true
	return true
}

// setUpdating caches the database job flag and reports whether it changed.
func (m *Controller) setUpdating(v bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dbUpdating == v {
		return false
	}
	m.dbUpdating = v
	return true
}

func (m *Controller) commandResult(cmd player.Command, ok bool) bool {
	metrics.CommandResult(Name, cmd.Name(), ok)
	return ok
}
