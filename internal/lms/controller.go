// Package lms drives one player attached to a Lyrion/Logitech Media Server.
// Notifications arrive over the telnet-style CLI; queries and commands go
// through the JSON-RPC endpoint.
package lms

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"audiocontrold/internal/controller"
	"audiocontrold/internal/metrics"
	"audiocontrold/internal/player"
)

// Name is the player name every LMS controller registers under.
const Name = "lms"

// Config selects the server and the player on it.
type Config struct {
	Server       string
	Port         int // JSON-RPC
	CLIPort      int
	PlayerMAC    string
	MaxReconnect int
	Backoff      time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.Port == 0 {
		cfg.Port = DefaultRPCPort
	}
	if cfg.CLIPort == 0 {
		cfg.CLIPort = DefaultCLIPort
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = controller.DefaultMaxReconnectAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = controller.DefaultReconnectBackoff
	}
	return cfg
}

var defaultCapabilities = []player.Capability{
	player.CapPlay, player.CapPause, player.CapPlayPause, player.CapStop,
	player.CapNext, player.CapPrevious, player.CapSeek, player.CapLoop,
	player.CapShuffle, player.CapQueue, player.CapReceivesUpdates,
}

// Controller is the LMS backend.
type Controller struct {
	*controller.Base

	cfg      Config
	logger   *zap.Logger
	rpc      *RPC
	listener *Listener
	recon    *controller.Reconnector

	mu     sync.Mutex
	volume int
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var (
	_ controller.Controller = (*Controller)(nil)
	_ controller.Notifier   = (*Controller)(nil)
)

// New creates an LMS controller. Nothing is dialled until Start.
func New(cfg Config, pub controller.Publisher, logger *zap.Logger, clk clock.Clock) *Controller {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("lms").With(zap.String("player_id", cfg.PlayerMAC))

	c := &Controller{
		Base:   controller.NewBase(Name, cfg.PlayerMAC, pub, clk),
		cfg:    cfg,
		logger: logger,
		rpc:    NewRPC(cfg.Server, cfg.Port, logger),
		volume: -1,
	}
	c.listener = NewListener(net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.CLIPort)), cfg.PlayerMAC, c, logger)
	c.recon = controller.NewReconnector(Name, logger,
		controller.WithMaxAttempts(cfg.MaxReconnect),
		controller.WithBackoff(cfg.Backoff),
		controller.WithClock(clk),
		controller.WithStateHook(c.onConnState),
	)
	c.SetCapabilities(defaultCapabilities, false)
	return c
}

// Reconnector exposes the CLI listener state machine.
func (c *Controller) Reconnector() *controller.Reconnector { return c.recon }

func (c *Controller) Start(ctx context.Context) error {
	if c.cfg.Server == "" || c.cfg.PlayerMAC == "" {
		return fmt.Errorf("lms: server and player MAC are required")
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.recon.Run(ctx, c.connect)
	}()
	c.logger.Info("started", zap.String("server", c.cfg.Server), zap.Int("cli_port", c.cfg.CLIPort))
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
	c.listener.Stop()
	return nil
}

// connect opens the CLI subscription and syncs the cached state.
func (c *Controller) connect(ctx context.Context) (controller.Session, error) {
	sess, err := c.listener.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.refresh(ctx); err != nil {
		c.logger.Warn("initial status failed", zap.Error(err))
	}
	return sess, nil
}

func (c *Controller) onConnState(s controller.ConnState) {
	if s == controller.PermanentlyDisabled {
		c.UpdateState(player.StateDisconnected)
	}
}

func (c *Controller) status(ctx context.Context) (*Status, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultRPCTimeout)
	defer cancel()
	st, err := c.rpc.Status(ctx, c.cfg.PlayerMAC, "-", 1)
	if err != nil {
		c.ApplyTransport(controller.FailClosed)
		return nil, err
	}
	c.recon.ReportSuccess()
	c.Seen()
	return st, nil
}

// refresh pulls a full status snapshot and announces what changed.
func (c *Controller) refresh(ctx context.Context) error {
	st, err := c.status(ctx)
	if err != nil {
		return err
	}
	c.UpdateSong(songFromStatus(st))
	c.ApplyTransport(negotiate(st))
	c.UpdateState(stateFromStatus(st))
	c.UpdateLoopMode(repeatMode(strconv.Itoa(int(st.Repeat))))
	c.UpdateRandom(st.Shuffle > 0)
	c.SetPosition(float64(st.Time))

	c.mu.Lock()
	changed := int(st.Volume) != c.volume
	c.volume = int(st.Volume)
	c.mu.Unlock()
	if changed {
		raw := int64(st.Volume)
		c.NotifyVolume(Name, c.cfg.PlayerMAC, float64(st.Volume), nil, &raw)
	}
	return nil
}

// negotiate derives the transport capabilities from a status snapshot.
func negotiate(st *Status) controller.Transport {
	stopped := st.Mode == "stop" || st.Mode == ""
	cur, n := int(st.CurIndex), int(st.Tracks)
	seekable := st.Duration > 0 && st.Remote == 0
	return controller.DeriveTransport(cur+1 < n, cur > 0 && n > 0, stopped, seekable)
}

func stateFromStatus(st *Status) player.PlaybackState {
	if st.Power == 0 {
		return player.StateDisconnected
	}
	if st.Mode == "" {
		return player.StateStopped
	}
	return player.ParsePlaybackState(st.Mode)
}

func songFromStatus(st *Status) *player.Song {
	if len(st.PlaylistLoop) == 0 {
		return nil
	}
	it := st.PlaylistLoop[0]
	s := &player.Song{
		Title:       it.Title,
		Artist:      it.Artist,
		Album:       it.Album,
		Genre:       it.Genre,
		Year:        int(it.Year),
		TrackNumber: int(it.TrackNum),
		Duration:    float64(it.Duration),
		CoverArtURL: it.Artwork,
		Source:      Name,
	}
	if s.Title == "" {
		s.Title = st.CurrentTitle
	}
	if st.Remote != 0 {
		s.StreamURL = it.URL
		s.Source = "remote"
	}
	if it.ID != "" {
		s.Metadata = map[string]string{"id": string(it.ID)}
	}
	return s
}

// ---------------------------------------------------------------------------
// Notifier
// ---------------------------------------------------------------------------

// NotifyStateChanged publishes the state the CLI reported and re-negotiates
// the transport capabilities against fresh status.
func (c *Controller) NotifyStateChanged(s player.PlaybackState) {
	c.Base.NotifyStateChanged(s)
	if st, err := c.status(context.Background()); err == nil {
		c.ApplyTransport(negotiate(st))
	} else {
		c.logger.Warn("status after state change failed", zap.Error(err))
	}
}

func (c *Controller) RefreshSong() {
	st, err := c.status(context.Background())
	if err != nil {
		c.logger.Warn("refresh song failed", zap.Error(err))
		return
	}
	c.UpdateSong(songFromStatus(st))
	c.ApplyTransport(negotiate(st))
}

func (c *Controller) RefreshPosition() {
	st, err := c.status(context.Background())
	if err != nil {
		c.logger.Warn("refresh position failed", zap.Error(err))
		return
	}
	c.NotifyPosition(float64(st.Time))
}

// ---------------------------------------------------------------------------
// commands
// ---------------------------------------------------------------------------

// commandArgs maps cmd onto the slim.request argument list.
func commandArgs(cmd player.Command) ([][]string, error) {
	switch cmd.Kind {
	case player.CmdPlay:
		return [][]string{{"play"}}, nil
	case player.CmdPause:
		return [][]string{{"pause", "1"}}, nil
	case player.CmdPlayPause:
		return [][]string{{"pause"}}, nil
	case player.CmdStop:
		return [][]string{{"stop"}}, nil
	case player.CmdNext:
		return [][]string{{"playlist", "index", "+1"}}, nil
	case player.CmdPrevious:
		return [][]string{{"playlist", "index", "-1"}}, nil
	case player.CmdSeek:
		if cmd.Position < 0 {
			return nil, fmt.Errorf("negative seek position %.1f", cmd.Position)
		}
		return [][]string{{"time", strconv.FormatFloat(cmd.Position, 'f', -1, 64)}}, nil
	case player.CmdSetRandom:
		return [][]string{{"playlist", "shuffle", lo.Ternary(cmd.Enabled, "1", "0")}}, nil
	case player.CmdSetLoopMode:
		v := "0"
		switch cmd.LoopMode {
		case player.LoopTrack:
			v = "1"
		case player.LoopPlaylist:
			v = "2"
		}
		return [][]string{{"playlist", "repeat", v}}, nil
	case player.CmdClearQueue:
		return [][]string{{"playlist", "clear"}}, nil
	case player.CmdRemoveTrack:
		if cmd.Index < 0 {
			return nil, fmt.Errorf("invalid queue position %d", cmd.Index)
		}
		return [][]string{{"playlist", "delete", strconv.Itoa(cmd.Index)}}, nil
	case player.CmdPlayQueueIndex:
		if cmd.Index < 0 {
			return nil, fmt.Errorf("invalid queue position %d", cmd.Index)
		}
		return [][]string{{"playlist", "index", strconv.Itoa(cmd.Index)}}, nil
	case player.CmdQueueTracks:
		if len(cmd.URIs) == 0 {
			return nil, fmt.Errorf("no uris to queue")
		}
		verb := "add"
		uris := cmd.URIs
		if cmd.InsertAtBeginning {
			// insert puts each uri right after the current track, so go backwards
			verb = "insert"
			uris = make([]string, len(cmd.URIs))
			for i, u := range cmd.URIs {
				uris[len(uris)-1-i] = u
			}
		}
		out := make([][]string, 0, len(uris))
		for _, u := range uris {
			out = append(out, []string{"playlist", verb, u})
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported command %s", cmd.Name())
} // func commandArgs

// SendCommand runs cmd through JSON-RPC and reports whether every request
// succeeded.
func (c *Controller) SendCommand(ctx context.Context, cmd player.Command) bool {
	reqs, err := commandArgs(cmd)
	if err == nil {
		ctx, cancel := context.WithTimeout(ctx, 2*DefaultRPCTimeout)
		defer cancel()
		for _, args := range reqs {
			if _, err = c.rpc.Request(ctx, c.cfg.PlayerMAC, args...); err != nil {
				break
			}
		}
	}
	ok := err == nil
	metrics.CommandResult(Name, cmd.Name(), ok)
	if !ok {
		c.logger.Warn("command failed", zap.Stringer("command", cmd), zap.Error(err))
		return false
	}

	c.recon.ReportSuccess()
	c.Seen()
	switch cmd.Kind {
	case player.CmdQueueTracks, player.CmdRemoveTrack, player.CmdClearQueue:
		c.NotifyQueueChanged()
	}
	return true
} // func SendCommand

// Queue lists up to 500 entries of the current playlist.
func (c *Controller) Queue(ctx context.Context) ([]player.Track, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultRPCTimeout)
	defer cancel()
	st, err := c.rpc.Status(ctx, c.cfg.PlayerMAC, "0", 500)
	if err != nil {
		return nil, err
	}
	tracks := make([]player.Track, 0, len(st.PlaylistLoop))
	for _, it := range st.PlaylistLoop {
		name := it.Title
		if name == "" {
			name = "Unknown Title"
		}
		tracks = append(tracks, player.Track{ID: string(it.ID), Name: name, Artist: it.Artist, URI: it.URL})
	}
	return tracks, nil
}

func (c *Controller) MetaKeys() []string {
	return []string{"server", "rpc_port", "cli_port", "player_mac", "connection_status", "reconnect_attempts", "playback_state", "last_seen"}
}

func (c *Controller) MetaValue(key string) (string, bool) {
	switch key {
	case "server":
		return c.cfg.Server, true
	case "rpc_port":
		return strconv.Itoa(c.cfg.Port), true
	case "cli_port":
		return strconv.Itoa(c.cfg.CLIPort), true
	case "player_mac":
		return c.cfg.PlayerMAC, true
	case "connection_status":
		return c.recon.State().String(), true
	case "reconnect_attempts":
		return strconv.Itoa(c.recon.Attempts()), true
	case "playback_state":
		return c.PlaybackState().String(), true
	case "last_seen":
		if t := c.LastSeen(); !t.IsZero() {
			return t.Format(time.RFC3339), true
		}
		return "", true
	}
	return "", false
}
