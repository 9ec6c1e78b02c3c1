// Package config resolves the daemon configuration from command-line flags,
// a key=value file, the MPD environment variables and built-in defaults, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/ini.v1"

	"audiocontrold/internal/controller"
	"audiocontrold/internal/fanout"
	"audiocontrold/internal/lms"
	"audiocontrold/internal/mpdplayer"
)

const (
	DefaultFileName   = "audiocontrold.conf"
	DefaultListenIP   = "0.0.0.0"
	DefaultListenPort = 1080
)

// Source records which layer supplied a value.
type Source string

const (
	FromDefault Source = "default"
	FromEnv     Source = "env"
	FromFile    Source = "file"
	FromFlag    Source = "flag"
)

type MPD struct {
	Enabled      bool
	Host         string
	Port         int
	Socket       string
	Password     string
	MaxReconnect int
	Backoff      time.Duration
}

type LMS struct {
	Server       string
	Port         int
	CLIPort      int
	Player       string
	MaxReconnect int
	Backoff      time.Duration
}

// Enabled reports whether enough is configured to run the LMS backend.
func (l LMS) Enabled() bool { return l.Server != "" && l.Player != "" }

type Pipe struct {
	Name     string
	Metadata string
	Control  string
}

func (p Pipe) Enabled() bool { return p.Metadata != "" }

type Fanout struct {
	PollInterval  time.Duration
	PruneInterval time.Duration
	ClientTTL     time.Duration
	EventTTL      time.Duration
}

type EventLog struct {
	Enabled    bool
	Level      string
	ActiveOnly bool
	Types      []string
}

// Config is the resolved configuration.
type Config struct {
	Path      string
	FileFound bool

	MPD        MPD
	LMS        LMS
	Pipe       Pipe
	NullPlayer bool

	ListenIP   string
	ListenPort int

	LogPath string
	Verbose bool

	Fanout   Fanout
	EventLog EventLog

	sources map[string]Source
}

// Default returns the built-in defaults.
func Default() *Config {
	c := &Config{
		MPD: MPD{
			Enabled:      true,
			Host:         "localhost",
			Port:         mpdplayer.DefaultPort,
			Socket:       mpdplayer.DefaultSocket,
			MaxReconnect: controller.DefaultMaxReconnectAttempts,
			Backoff:      controller.DefaultReconnectBackoff,
		},
		LMS: LMS{
			Port:         lms.DefaultRPCPort,
			CLIPort:      lms.DefaultCLIPort,
			MaxReconnect: controller.DefaultMaxReconnectAttempts,
			Backoff:      controller.DefaultReconnectBackoff,
		},
		ListenIP:   DefaultListenIP,
		ListenPort: DefaultListenPort,
		Fanout: Fanout{
			PollInterval:  fanout.DefaultPollInterval,
			PruneInterval: fanout.DefaultPruneInterval,
			ClientTTL:     fanout.DefaultClientTTL,
			EventTTL:      fanout.DefaultEventTTL,
		},
		EventLog: EventLog{Level: "info"},
		sources:  map[string]Source{},
	}
	for _, k := range keys {
		c.sources[k.name] = FromDefault
	}
	return c
}

// DefaultPath is ~/.config/audiocontrold.conf, or empty when there is no home
// directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", DefaultFileName)
}

// Load resolves the configuration. path may be empty for the default
// location; a missing file is not an error. fs may be nil. getenv defaults to
// os.Getenv.
func Load(path string, fs *pflag.FlagSet, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	c := Default()

	c.applyEnv(ParseMPDEnv(getenv))

	if path == "" {
		path = DefaultPath()
	}
	c.Path = path
	if path != "" {
		if err := c.applyFile(path); err != nil {
			return nil, err
		}
	}

	if fs != nil {
		if err := c.applyFlags(fs); err != nil {
			return nil, err
		}
	}
	return c, nil
} // func Load

func (c *Config) set(k *key, raw string, src Source) error {
	if err := k.set(c, strings.TrimSpace(raw)); err != nil {
		return fmt.Errorf("%s: %s=%q: %w", src, k.name, raw, err)
	}
	c.sources[k.name] = src
	return nil
}

func (c *Config) applyEnv(env MPDEnv) {
	if env.Host != "" {
		c.MPD.Host = env.Host
		c.sources["mpdhost"] = FromEnv
	}
	if env.Port != 0 {
		c.MPD.Port = env.Port
		c.sources["mpdport"] = FromEnv
	}
	if env.Socket != "" {
		c.MPD.Socket = env.Socket
		c.sources["mpdsocket"] = FromEnv
	}
	if env.Password != "" {
		c.MPD.Password = env.Password
		c.sources["mpdpass"] = FromEnv
	}
}

// applyFile reads the section-less key=value file. Unknown keys are an
// error so typos do not go unnoticed.
func (c *Config) applyFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	f, err := ini.LoadSources(ini.LoadOptions{
		Insensitive:         true,
		IgnoreInlineComment: true,
	}, path)
	if err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	c.FileFound = true

	for _, ik := range f.Section(ini.DefaultSection).Keys() {
		k, ok := keyByName[ik.Name()]
		if !ok {
			return fmt.Errorf("config file %s: unknown key %q", path, ik.Name())
		}
		if ik.String() == "" {
			continue
		}
		if err := c.set(k, ik.String(), FromFile); err != nil {
			return err
		}
	}
	return nil
} // func applyFile

func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		k, ok := keyByName[keyName(f.Name)]
		if !ok {
			return
		}
		raw := f.Value.String()
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			raw = strings.Join(sv.GetSlice(), ",")
		}
		err = c.set(k, raw, FromFlag)
	})
	return err
}

// Source reports where a key's value came from.
func (c *Config) Source(name string) Source {
	if s, ok := c.sources[name]; ok {
		return s
	}
	return FromDefault
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	port := func(name string, v int) {
		if v <= 0 || v > 65535 {
			errs = append(errs, fmt.Errorf("%s: port %d out of range", name, v))
		}
	}
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %s", name, d))
		}
	}
	notNegative := func(name string, d time.Duration) {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative, got %s", name, d))
		}
	}

	port("mpdport", c.MPD.Port)
	port("lms_port", c.LMS.Port)
	port("lms_cli_port", c.LMS.CLIPort)
	port("listenport", c.ListenPort)

	if c.MPD.MaxReconnect <= 0 {
		errs = append(errs, fmt.Errorf("mpd_max_reconnect: must be positive, got %d", c.MPD.MaxReconnect))
	}
	positive("mpd_backoff", c.MPD.Backoff)
	if c.LMS.MaxReconnect <= 0 {
		errs = append(errs, fmt.Errorf("lms_max_reconnect: must be positive, got %d", c.LMS.MaxReconnect))
	}
	positive("lms_backoff", c.LMS.Backoff)
	positive("poll_interval", c.Fanout.PollInterval)
	positive("prune_interval", c.Fanout.PruneInterval)
	notNegative("client_ttl", c.Fanout.ClientTTL)
	notNegative("event_ttl", c.Fanout.EventTTL)

	if (c.LMS.Server == "") != (c.LMS.Player == "") {
		errs = append(errs, errors.New("lms_server and lms_player must be set together"))
	}
	if !c.MPD.Enabled && !c.LMS.Enabled() && !c.Pipe.Enabled() && !c.NullPlayer {
		errs = append(errs, errors.New("no players configured"))
	}
	return errors.Join(errs...)
} // func Validate
