package mpdplayer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fhs/gompd/v2/mpd"
)

// mpdClient is the subset of *mpd.Client the controller uses. Tests swap in
// a fake.
type mpdClient interface {
	Status() (mpd.Attrs, error)
	CurrentSong() (mpd.Attrs, error)
	PlaylistInfo(start, end int) ([]mpd.Attrs, error)
	Stats() (mpd.Attrs, error)
	Version() string
	Play(pos int) error
	Pause(pause bool) error
	Stop() error
	Next() error
	Previous() error
	Repeat(repeat bool) error
	Single(single bool) error
	Random(random bool) error
	SeekCur(d time.Duration, relative bool) error
	Add(uri string) error
	AddID(uri string, pos int) (int, error)
	Delete(start, end int) error
	Clear() error
	Kill() error
	Close() error
}

// gompdClient adds the raw protocol commands gompd has no method for.
type gompdClient struct {
	*mpd.Client
}

var _ mpdClient = gompdClient{}

func (c gompdClient) Kill() error {
	return c.Command("kill").OK()
}

// watcher is the idle side of the protocol, satisfied by *mpd.Watcher
// through gompdWatcher.
type watcher interface {
	Events() <-chan string
	Errors() <-chan error
	Close() error
}

type gompdWatcher struct {
	w *mpd.Watcher
}

func (g gompdWatcher) Events() <-chan string { return g.w.Event }
func (g gompdWatcher) Errors() <-chan error  { return g.w.Error }
func (g gompdWatcher) Close() error          { return g.w.Close() }

// idleSubsystems are the MPD subsystems the listener subscribes to.
var idleSubsystems = []string{"player", "mixer", "options", "playlist", "database", "update"}

// endpoint picks the unix socket when configured and reachable, TCP otherwise.
func (cfg Config) endpoint() (network, addr string) {
	if cfg.Socket != "" {
		if conn, err := net.DialTimeout("unix", cfg.Socket, 500*time.Millisecond); err == nil {
			conn.Close()
			return "unix", cfg.Socket
		}
	}
	return "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
} // func endpoint

// dialMPD opens a short-lived command connection and authenticates it.
func (cfg Config) dialMPD(ctx context.Context) (mpdClient, error) {
	network, addr := cfg.endpoint()

	type result struct {
		c   *mpd.Client
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := mpd.Dial(network, addr)
		ch <- result{c, err}
	}()

	var c *mpd.Client
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.c != nil {
				r.c.Close()
			}
		}()
		return nil, fmt.Errorf("dial %s %s: %w", network, addr, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("dial %s %s: %w", network, addr, r.err)
		}
		c = r.c
	}

	if cfg.Password != "" {
		if err := c.Command("password %s", cfg.Password).OK(); err != nil {
			c.Close()
			return nil, fmt.Errorf("password auth failed: %w", err)
		}
	}
	return gompdClient{c}, nil
} // func dialMPD

// newWatcherMPD opens the long-lived idle connection.
func (cfg Config) newWatcherMPD() (watcher, error) {
	network, addr := cfg.endpoint()
	w, err := mpd.NewWatcher(network, addr, cfg.Password, idleSubsystems...)
	if err != nil {
		return nil, fmt.Errorf("watcher %s %s: %w", network, addr, err)
	}
	return gompdWatcher{w}, nil
} // func newWatcherMPD
