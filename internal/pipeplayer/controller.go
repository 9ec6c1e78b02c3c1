// Package pipeplayer drives a renderer that reports its state as JSON lines
// on a metadata pipe and takes commands as text lines on a control pipe.
// Roon bridges (RAAT) and shairport-style helpers work this way.
package pipeplayer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"audiocontrold/internal/controller"
	"audiocontrold/internal/metrics"
	"audiocontrold/internal/player"
)

const (
	DefaultName = "pipe"

	// DefaultStaleAfter is how long a playing renderer may stay silent before
	// its state is reset to unknown.
	DefaultStaleAfter = 10 * time.Second
)

var ErrNoControlPipe = errors.New("no control pipe configured")

// Config names the two pipes.
type Config struct {
	Name       string
	Metadata   string
	Control    string
	StaleAfter time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return cfg
}

// Until the first line arrives nothing is known about the renderer.
var defaultCapabilities = []player.Capability{
	player.CapPlay, player.CapPause, player.CapStop, player.CapReceivesUpdates,
}

// Controller is the pipe backend.
type Controller struct {
	*controller.Base

	cfg    Config
	logger *zap.Logger
	reader *Reader

	mu     sync.Mutex
	format *StreamFormat
	lines  int
	bad    int
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ controller.Controller = (*Controller)(nil)

// New creates a pipe controller. The id is the metadata path.
func New(cfg Config, pub controller.Publisher, logger *zap.Logger, clk clock.Clock) *Controller {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(cfg.Name).With(zap.String("player_id", cfg.Metadata))

	c := &Controller{
		Base:   controller.NewBase(cfg.Name, cfg.Metadata, pub, clk),
		cfg:    cfg,
		logger: logger,
	}
	c.reader = NewReader(cfg.Metadata, c.HandleLine, logger, c.Clock())
	c.SetCapabilities(defaultCapabilities, false)
	return c
}

// Reader exposes the metadata reader, mostly so tests can shorten its delays.
func (c *Controller) Reader() *Reader { return c.reader }

func (c *Controller) Start(ctx context.Context) error {
	if c.cfg.Metadata == "" {
		return fmt.Errorf("%s: metadata pipe is required", c.cfg.Name)
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		_ = c.reader.Run(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.monitorStale(ctx)
	}()
	c.logger.Info("started", zap.String("metadata", c.cfg.Metadata), zap.String("control", c.cfg.Control))
	return nil
}

func (c *Controller) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
	return nil
}

// HandleLine applies one metadata line. Capabilities go first so that a
// state change is never announced with stale transport flags.
func (c *Controller) HandleLine(line []byte) {
	u, err := ParseUpdate(line)
	c.mu.Lock()
	c.lines++
	if err != nil {
		c.bad++
	}
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("skipping malformed metadata line", zap.Error(err))
		return
	}
	c.Seen()

	c.SetCapabilities(u.Capabilities(c.Capabilities()).Slice(), false)
	c.NotifyCapabilitiesIfChanged()

	if u.NowPlaying != nil {
		if u.StreamFormat != nil {
			c.mu.Lock()
			c.format = u.StreamFormat
			c.mu.Unlock()
		}
		c.UpdateSong(u.Song(c.cfg.Name))
	}
	if s, ok := u.PlaybackState(); ok {
		c.UpdateState(s)
	}
	if m, ok := u.LoopMode(); ok {
		c.UpdateLoopMode(m)
	}
	if u.Shuffle != nil {
		c.UpdateRandom(*u.Shuffle)
	}
	if pos, ok := u.Position(); ok {
		c.NotifyPosition(pos)
	}
} // func HandleLine

// monitorStale resets a playing renderer to unknown once it has gone quiet.
func (c *Controller) monitorStale(ctx context.Context) {
	tick := c.Clock().Ticker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.checkStale()
		}
	}
}

func (c *Controller) checkStale() {
	if c.PlaybackState() != player.StatePlaying {
		return
	}
	quiet := c.Clock().Since(c.LastSeen())
	if quiet > c.cfg.StaleAfter {
		c.logger.Warn("no updates while playing, state unknown", zap.Duration("quiet", quiet))
		c.UpdateState(player.StateUnknown)
	}
}

// commandLine renders cmd for the control pipe.
func commandLine(cmd player.Command) (string, error) {
	switch cmd.Kind {
	case player.CmdPlay:
		return "play", nil
	case player.CmdPause:
		return "pause", nil
	case player.CmdPlayPause:
		return "playpause", nil
	case player.CmdStop:
		return "stop", nil
	case player.CmdNext:
		return "next", nil
	case player.CmdPrevious:
		return "previous", nil
	case player.CmdSeek:
		if cmd.Position < 0 {
			return "", fmt.Errorf("negative seek position %.1f", cmd.Position)
		}
		return fmt.Sprintf("seek %.1f", cmd.Position), nil
	case player.CmdSetLoopMode:
		switch cmd.LoopMode {
		case player.LoopTrack:
			return "loop_track", nil
		case player.LoopPlaylist:
			return "loop_playlist", nil
		}
		return "loop_off", nil
	case player.CmdSetRandom:
		if cmd.Enabled {
			return "shuffle_on", nil
		}
		return "shuffle_off", nil
	case player.CmdKill:
		return "kill", nil
	}
	return "", fmt.Errorf("%s is not supported by pipe players", cmd.Name())
} // func commandLine

// SendCommand writes one line to the control pipe. Queue commands are not
// supported.
func (c *Controller) SendCommand(_ context.Context, cmd player.Command) bool {
	ok := c.send(cmd)
	metrics.CommandResult(c.Name(), cmd.Name(), ok)
	return ok
}

func (c *Controller) send(cmd player.Command) bool {
	line, err := commandLine(cmd)
	if err != nil {
		c.logger.Warn("rejecting command", zap.Stringer("command", cmd), zap.Error(err))
		return false
	}
	if c.cfg.Control == "" {
		c.logger.Warn("rejecting command", zap.Stringer("command", cmd), zap.Error(ErrNoControlPipe))
		return false
	}
	if err := writeControl(c.cfg.Control, line); err != nil {
		c.logger.Warn("command failed", zap.Stringer("command", cmd), zap.Error(err))
		return false
	}
	c.logger.Debug("command sent", zap.String("line", line))
	return true
}

// Queue is always empty; the renderer owns its queue.
func (c *Controller) Queue(context.Context) ([]player.Track, error) { return nil, nil }

func (c *Controller) MetaKeys() []string {
	return []string{"metadata_pipe", "control_pipe", "playback_state", "last_seen", "stream_format", "lines_read", "lines_malformed"}
}

func (c *Controller) MetaValue(key string) (string, bool) {
	switch key {
	case "metadata_pipe":
		return c.cfg.Metadata, true
	case "control_pipe":
		return c.cfg.Control, true
	case "playback_state":
		return c.PlaybackState().String(), true
	case "last_seen":
		if t := c.LastSeen(); !t.IsZero() {
			return t.UTC().Format(time.RFC3339), true
		}
		return "", true
	case "stream_format":
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.format.String(), true
	case "lines_read":
		c.mu.Lock()
		defer c.mu.Unlock()
		return strconv.Itoa(c.lines), true
	case "lines_malformed":
		c.mu.Lock()
		defer c.mu.Unlock()
		return strconv.Itoa(c.bad), true
	}
	return "", false
} // func MetaValue
