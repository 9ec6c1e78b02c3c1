// Package server is the daemon's HTTP surface: the WebSocket event feed, the
// player REST endpoints and the metrics endpoint.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"audiocontrold/internal/audiocontrol"
	"audiocontrold/internal/fanout"
	"audiocontrold/internal/metrics"
)

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 1 << 20
)

// Options tunes the feed timing. Zero values take the fanout defaults.
type Options struct {
	PollInterval  time.Duration
	PruneInterval time.Duration
	ClientTTL     time.Duration
	EventTTL      time.Duration
	Clock         clock.Clock
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = fanout.DefaultPollInterval
	}
	if o.PruneInterval <= 0 {
		o.PruneInterval = fanout.DefaultPruneInterval
	}
	if o.ClientTTL <= 0 {
		o.ClientTTL = fanout.DefaultClientTTL
	}
	if o.EventTTL <= 0 {
		o.EventTTL = fanout.DefaultEventTTL
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// Server routes requests to the registry and the fan-out manager.
type Server struct {
	reg    *audiocontrol.Registry
	fan    *fanout.Manager
	logger *zap.Logger
	opts   Options
	mux    *http.ServeMux
}

func New(reg *audiocontrol.Registry, fan *fanout.Manager, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		reg:    reg,
		fan:    fan,
		logger: logger.Named("http"),
		opts:   opts.withDefaults(),
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /events/{player}", s.handleEvents)

	s.mux.HandleFunc("GET /players", s.handlePlayers)
	s.mux.HandleFunc("POST /players/pause-all", s.handlePauseAll)
	s.mux.HandleFunc("POST /players/stop-all", s.handleStopAll)

	s.mux.HandleFunc("GET /player", s.handleActivePlayer)
	s.mux.HandleFunc("POST /player/{name}/command/{command}", s.handleCommand)
	s.mux.HandleFunc("GET /player/{name}/queue", s.handleQueue)
	s.mux.HandleFunc("GET /player/{name}/meta", s.handleMeta)
	s.mux.HandleFunc("GET /player/{name}/meta/{key}", s.handleMetaKey)

	s.mux.Handle("GET /metrics", metrics.Handler())
}

// Handler is the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.mux.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("took", time.Since(start)))
	})
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// Request contexts derive from ctx, so open feeds end with it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown", zap.Error(err))
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
} // func Serve

// RunPruner drops idle feed clients and stale events until ctx is done.
func (s *Server) RunPruner(ctx context.Context) {
	tick := s.opts.Clock.Ticker(s.opts.PruneInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			clients, events := s.fan.PruneInactiveAndOld(s.opts.ClientTTL, s.opts.EventTTL)
			if clients > 0 || events > 0 {
				s.logger.Info("pruned feed state", zap.Int("clients", clients), zap.Int("events", events))
			}
		}
	}
}
