package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"audiocontrold/internal/audiocontrol"
	"audiocontrold/internal/config"
	"audiocontrold/internal/controller"
	"audiocontrold/internal/eventbus"
	"audiocontrold/internal/fanout"
	"audiocontrold/internal/lms"
	"audiocontrold/internal/logging"
	"audiocontrold/internal/mpdplayer"
	"audiocontrold/internal/pipeplayer"
	"audiocontrold/internal/server"
)

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath, cmd.Flags(), nil)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Verbose, cfg.LogPath)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting audiocontrold",
		zap.String("version", version),
		zap.String("config", cfg.Path),
		zap.Bool("config_found", cfg.FileFound))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, logger)
}

// run wires the bus, the players and the HTTP surface, and blocks until ctx
// ends or a component fails.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	clk := clock.New()
	bus := eventbus.New(logger)

	fan := fanout.New(bus, fanout.WithClock(clk), fanout.WithLogger(logger))
	defer fan.Close()

	reg := audiocontrol.New(bus, logger)
	for _, c := range buildPlayers(cfg, bus, logger, clk) {
		reg.Add(c)
	}

	plugins := []audiocontrol.Plugin{audiocontrol.NewActiveMonitor(reg, logger)}
	if cfg.EventLog.Enabled {
		plugins = append(plugins, audiocontrol.NewEventLogger(reg, logger, audiocontrol.EventLoggerConfig{
			OnlyActive: cfg.EventLog.ActiveOnly,
			Level:      logging.ParseLevel(cfg.EventLog.Level),
			Types:      cfg.EventLog.Types,
		}))
	}

	addr := net.JoinHostPort(cfg.ListenIP, strconv.Itoa(cfg.ListenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := server.New(reg, fan, logger, server.Options{
		PollInterval:  cfg.Fanout.PollInterval,
		PruneInterval: cfg.Fanout.PruneInterval,
		ClientTTL:     cfg.Fanout.ClientTTL,
		EventTTL:      cfg.Fanout.EventTTL,
		Clock:         clk,
	})

	g, ctx := errgroup.WithContext(ctx)

	pluginsDone := audiocontrol.AttachPlugins(ctx, bus, logger, plugins...)

	if err := reg.Start(ctx); err != nil {
		ln.Close()
		return err
	}

	g.Go(func() error { return srv.Serve(ctx, ln) })
	g.Go(func() error {
		srv.RunPruner(ctx)
		return nil
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify ready", zap.Error(err))
	} else if ok {
		logger.Debug("notified systemd")
	}

	<-ctx.Done()
	logger.Info("shutting down")
	daemon.SdNotify(false, daemon.SdNotifyStopping) //nolint:errcheck

	if err := reg.Stop(); err != nil {
		logger.Warn("stop players", zap.Error(err))
	}
	err = g.Wait()
	<-pluginsDone
	return err
} // func run

func buildPlayers(cfg *config.Config, bus *eventbus.Bus, logger *zap.Logger, clk clock.Clock) []controller.Controller {
	var players []controller.Controller

	if cfg.MPD.Enabled {
		players = append(players, mpdplayer.New(mpdplayer.Config{
			Host:         cfg.MPD.Host,
			Port:         cfg.MPD.Port,
			Socket:       cfg.MPD.Socket,
			Password:     cfg.MPD.Password,
			MaxReconnect: cfg.MPD.MaxReconnect,
			Backoff:      cfg.MPD.Backoff,
		}, bus, logger, clk))
	}
	if cfg.LMS.Enabled() {
		players = append(players, lms.New(lms.Config{
			Server:       cfg.LMS.Server,
			Port:         cfg.LMS.Port,
			CLIPort:      cfg.LMS.CLIPort,
			PlayerMAC:    cfg.LMS.Player,
			MaxReconnect: cfg.LMS.MaxReconnect,
			Backoff:      cfg.LMS.Backoff,
		}, bus, logger, clk))
	}
	if cfg.Pipe.Enabled() {
		players = append(players, pipeplayer.New(pipeplayer.Config{
			Name:     cfg.Pipe.Name,
			Metadata: cfg.Pipe.Metadata,
			Control:  cfg.Pipe.Control,
		}, bus, logger, clk))
	}
	if cfg.NullPlayer {
		players = append(players, controller.NewNull(bus, clk))
	}
	return players
}
