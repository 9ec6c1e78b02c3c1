package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"gopkg.in/ini.v1"
)

type kind int

const (
	kindString kind = iota
	kindInt
	kindBool
	kindDuration
	kindList
)

// key is one configuration setting. The same name is used in the file and,
// with dashes for underscores, as the flag.
type key struct {
	name  string
	usage string
	binding
}

type binding struct {
	kind   kind
	secret bool
	set    func(c *Config, v string) error
	get    func(c *Config) string
}

func str(p func(*Config) *string) binding {
	return binding{
		kind: kindString,
		set:  func(c *Config, v string) error { *p(c) = v; return nil },
		get:  func(c *Config) string { return *p(c) },
	}
}

func secret(p func(*Config) *string) binding {
	b := str(p)
	b.secret = true
	return b
}

func num(p func(*Config) *int) binding {
	return binding{
		kind: kindInt,
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*p(c) = n
			return nil
		},
		get: func(c *Config) string { return strconv.Itoa(*p(c)) },
	}
}

func boolean(p func(*Config) *bool) binding {
	return binding{
		kind: kindBool,
		set: func(c *Config, v string) error {
			b, err := parseBool(v)
			if err != nil {
				return err
			}
			*p(c) = b
			return nil
		},
		get: func(c *Config) string { return strconv.FormatBool(*p(c)) },
	}
}

func duration(p func(*Config) *time.Duration) binding {
	return binding{
		kind: kindDuration,
		set: func(c *Config, v string) error {
			d, err := parseDuration(v)
			if err != nil {
				return err
			}
			*p(c) = d
			return nil
		},
		get: func(c *Config) string { return p(c).String() },
	}
}

func list(p func(*Config) *[]string) binding {
	return binding{
		kind: kindList,
		set: func(c *Config, v string) error {
			parts := lo.Map(strings.Split(v, ","), func(s string, _ int) string { return strings.TrimSpace(s) })
			*p(c) = lo.Compact(parts)
			return nil
		},
		get: func(c *Config) string { return strings.Join(*p(c), ",") },
	}
}

var keys = []*key{
	{"mpd", "enable the MPD player", boolean(func(c *Config) *bool { return &c.MPD.Enabled })},
	{"mpdhost", "MPD host <address>", str(func(c *Config) *string { return &c.MPD.Host })},
	{"mpdport", "MPD host <port>", num(func(c *Config) *int { return &c.MPD.Port })},
	{"mpdsocket", "MPD unix socket <path>", str(func(c *Config) *string { return &c.MPD.Socket })},
	{"mpdpass", "MPD server password", secret(func(c *Config) *string { return &c.MPD.Password })},
	{"mpd_max_reconnect", "failed MPD connections before giving up", num(func(c *Config) *int { return &c.MPD.MaxReconnect })},
	{"mpd_backoff", "wait between MPD reconnect attempts", duration(func(c *Config) *time.Duration { return &c.MPD.Backoff })},

	{"lms_server", "Lyrion/Logitech Media Server host", str(func(c *Config) *string { return &c.LMS.Server })},
	{"lms_port", "LMS JSON-RPC port", num(func(c *Config) *int { return &c.LMS.Port })},
	{"lms_cli_port", "LMS CLI port", num(func(c *Config) *int { return &c.LMS.CLIPort })},
	{"lms_player", "MAC address of the LMS player to follow", str(func(c *Config) *string { return &c.LMS.Player })},
	{"lms_max_reconnect", "failed LMS CLI connections before giving up", num(func(c *Config) *int { return &c.LMS.MaxReconnect })},
	{"lms_backoff", "wait between LMS reconnect attempts", duration(func(c *Config) *time.Duration { return &c.LMS.Backoff })},

	{"pipe_name", "player name of the pipe renderer", str(func(c *Config) *string { return &c.Pipe.Name })},
	{"pipe_metadata", "metadata pipe or file of a pipe renderer", str(func(c *Config) *string { return &c.Pipe.Metadata })},
	{"pipe_control", "control pipe of a pipe renderer", str(func(c *Config) *string { return &c.Pipe.Control })},

	{"null_player", "register the null player", boolean(func(c *Config) *bool { return &c.NullPlayer })},

	{"listenip", "HTTP listen IP", str(func(c *Config) *string { return &c.ListenIP })},
	{"listenport", "HTTP listen port", num(func(c *Config) *int { return &c.ListenPort })},

	{"log", "write logs to file instead of stderr", str(func(c *Config) *string { return &c.LogPath })},
	{"verbose", "enable verbose logging", boolean(func(c *Config) *bool { return &c.Verbose })},

	{"poll_interval", "event feed push interval", duration(func(c *Config) *time.Duration { return &c.Fanout.PollInterval })},
	{"prune_interval", "interval between feed client and event pruning", duration(func(c *Config) *time.Duration { return &c.Fanout.PruneInterval })},
	{"client_ttl", "drop feed clients idle for longer than this", duration(func(c *Config) *time.Duration { return &c.Fanout.ClientTTL })},
	{"event_ttl", "drop buffered events older than this", duration(func(c *Config) *time.Duration { return &c.Fanout.EventTTL })},

	{"eventlog", "log player events", boolean(func(c *Config) *bool { return &c.EventLog.Enabled })},
	{"eventlog_level", "level for logged player events", str(func(c *Config) *string { return &c.EventLog.Level })},
	{"eventlog_active_only", "only log events of the active player", boolean(func(c *Config) *bool { return &c.EventLog.ActiveOnly })},
	{"eventlog_types", "comma separated event types to log", list(func(c *Config) *[]string { return &c.EventLog.Types })},
}

var keyByName = lo.KeyBy(keys, func(k *key) string { return k.name })

func flagName(key string) string { return strings.ReplaceAll(key, "_", "-") }
func keyName(flag string) string { return strings.ReplaceAll(flag, "-", "_") }

// RegisterFlags adds one flag per key to fs. Defaults shown in help are the
// built-in ones; Load only applies flags that were set.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	for _, k := range keys {
		name := flagName(k.name)
		switch k.kind {
		case kindInt:
			n, _ := strconv.Atoi(k.get(def))
			fs.Int(name, n, k.usage)
		case kindBool:
			b, _ := strconv.ParseBool(k.get(def))
			fs.Bool(name, b, k.usage)
		case kindDuration:
			d, _ := time.ParseDuration(k.get(def))
			fs.Duration(name, d, k.usage)
		case kindList:
			fs.StringSlice(name, nil, k.usage)
		default:
			if k.secret {
				fs.String(name, "", k.usage)
			} else {
				fs.String(name, k.get(def), k.usage)
			}
		}
	}
} // func RegisterFlags

// Dump writes the resolved configuration as a config file, each key preceded
// by a comment naming its source. Secrets are masked.
func (c *Config) Dump(w io.Writer) error {
	f := ini.Empty()
	sec := f.Section(ini.DefaultSection)
	if c.Path != "" {
		state := "not found"
		if c.FileFound {
			state = "loaded"
		}
		sec.Comment = fmt.Sprintf("# config path: %s (%s)", c.Path, state)
	}
	for _, k := range keys {
		v := k.get(c)
		if k.secret && v != "" {
			v = "********"
		}
		ik, err := sec.NewKey(k.name, v)
		if err != nil {
			return err
		}
		ik.Comment = "# " + string(c.Source(k.name))
	}
	_, err := f.WriteTo(w)
	return err
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return strconv.ParseBool(v)
}

// parseDuration accepts Go durations and bare numbers of seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}
