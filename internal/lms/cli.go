package lms

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"go.uber.org/zap"

	"audiocontrold/internal/controller"
	"audiocontrold/internal/player"
)

const (
	DefaultCLIPort      = 9090
	cliReadTimeout      = time.Second
	displayNotifyWindow = 200 * time.Millisecond
)

// ignoredPrefixes are CLI notifications that carry nothing we track.
var ignoredPrefixes = []string{
	"playlist open",
	"playlist pause",
	"playlist newsong",
	"playlist jump",
	"button",
	"menustatus",
	"server currentSong",
	"material-skin",
	"prefset plugin.fulltext",
	"prefset server currentSong",
	"mixer",
	"scanner notify progress",
	"listen 1",
}

// Line is one decoded CLI notification.
type Line struct {
	MAC   string // empty for server-wide notifications
	Parts []string
}

// ParseLine splits and URL-decodes a raw CLI line. The first token is a
// player MAC when it contains a colon.
func ParseLine(raw string) Line {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return Line{}
	}

	var l Line
	if first := unescape(fields[0]); strings.Contains(first, ":") {
		l.MAC = first
		fields = fields[1:]
	}
	l.Parts = make([]string, len(fields))
	for i, f := range fields {
		l.Parts[i] = unescape(f)
	}
	return l
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// Ignored reports whether the command matches an ignored prefix.
func (l Line) Ignored() bool {
	cmd := strings.Join(l.Parts, " ")
	for _, p := range ignoredPrefixes {
		if strings.HasPrefix(cmd, p) {
			return true
		}
	}
	return false
}

func (l Line) arg(i int) string {
	if i < len(l.Parts) {
		return l.Parts[i]
	}
	return ""
}

// repeatMode maps the LMS repeat value: 0 off, 1 song, 2 playlist.
func repeatMode(v string) player.LoopMode {
	switch v {
	case "1":
		return player.LoopTrack
	case "2":
		return player.LoopPlaylist
	}
	return player.LoopNone
}

// Listener follows the CLI notification stream of one player and forwards
// what it hears to a controller.Notifier.
type Listener struct {
	addr   string
	mac    string
	target controller.Notifier
	logger *zap.Logger

	debounced func(func())
	stopped   atomic.Bool
	dial      func(ctx context.Context, addr string) (net.Conn, error)
}

// NewListener creates a listener for mac on the CLI at addr (host:port).
func NewListener(addr, mac string, target controller.Notifier, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	var d net.Dialer
	return &Listener{
		addr:      addr,
		mac:       mac,
		target:    target,
		logger:    logger.Named("cli"),
		debounced: debounce.New(displayNotifyWindow),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// Connect opens the CLI connection and subscribes to notifications. It is a
// controller.ConnectFunc.
func (l *Listener) Connect(ctx context.Context) (controller.Session, error) {
	conn, err := l.dial(ctx, l.addr)
	if err != nil {
		return nil, fmt.Errorf("cli connect %s: %w", l.addr, err)
	}
	l.stopped.Store(false)
	if _, err := conn.Write([]byte("listen 1\n")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cli subscribe: %w", err)
	}
	l.logger.Info("subscribed to CLI notifications", zap.String("addr", l.addr), zap.String("mac", l.mac))
	return &cliSession{l: l, conn: conn}, nil
}

// Stop drops a pending displaynotify refresh. Connect re-arms the listener.
func (l *Listener) Stop() {
	l.stopped.Store(true)
	l.debounced(func() {})
}

type cliSession struct {
	l    *Listener
	conn net.Conn
}

// Listen reads lines with a short deadline so cancellation is noticed
// within one read timeout.
func (s *cliSession) Listen(ctx context.Context) error {
	r := bufio.NewReader(s.conn)
	var partial strings.Builder

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(cliReadTimeout)); err != nil {
			return err
		}

		chunk, err := r.ReadString('\n')
		partial.WriteString(chunk)

		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("cli read: %w", err)
		}

		line := partial.String()
		partial.Reset()
		s.l.Handle(line)
	}
} // func Listen

func (s *cliSession) Close() error { return s.conn.Close() }

// Handle processes one raw CLI line.
func (l *Listener) Handle(raw string) {
	line := ParseLine(raw)
	if len(line.Parts) == 0 {
		return
	}
	if line.MAC != "" {
		if !strings.EqualFold(line.MAC, l.mac) {
			return
		}
		l.target.Seen()
	}
	if line.Ignored() {
		l.logger.Debug("ignored", zap.Strings("line", line.Parts))
		return
	}
	l.dispatch(line)
}

func (l *Listener) dispatch(line Line) {
	switch line.arg(0) {
	case "pause":
		if line.arg(1) == "1" {
			l.target.NotifyStateChanged(player.StatePaused)
		} else {
			l.target.NotifyStateChanged(player.StatePlaying)
		}

	case "client":
		switch line.arg(1) {
		case "disconnect":
			l.target.NotifyStateChanged(player.StateDisconnected)
		case "reconnect":
			l.target.NotifyStateChanged(player.StateStopped)
		}

	case "power":
		if line.arg(1) == "1" {
			l.target.NotifyStateChanged(player.StateStopped)
		} else {
			l.target.NotifyStateChanged(player.StateDisconnected)
		}

	case "playlist":
		l.playlistOption(line.arg(1), line.arg(2))

	case "prefset":
		if line.arg(1) == "server" {
			l.playlistOption(line.arg(2), line.arg(3))
		}

	case "displaynotify":
		l.debounced(func() {
			if l.stopped.Load() {
				return
			}
			l.target.RefreshSong()
			l.target.RefreshPosition()
		})

	case "time":
		l.target.RefreshPosition()

	default:
		l.logger.Debug("unhandled", zap.Strings("line", line.Parts))
	}
} // func dispatch

func (l *Listener) playlistOption(option, value string) {
	if value == "" {
		return
	}
	switch option {
	case "shuffle":
		l.target.NotifyRandomMode(value != "0")
	case "repeat":
		l.target.NotifyLoopMode(repeatMode(value))
	}
}
