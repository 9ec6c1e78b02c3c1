package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConf(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseMPDEnv(t *testing.T) {
	tests := []struct {
		host string
		port string
		want MPDEnv
	}{
		{"", "", MPDEnv{}},
		{"music.lan", "6601", MPDEnv{Host: "music.lan", Port: 6601}},
		{"/run/mpd/socket", "", MPDEnv{Socket: "/run/mpd/socket"}},
		{"run/mpd.sock", "", MPDEnv{Socket: "run/mpd.sock"}},
		{"@mpd", "", MPDEnv{Socket: "@mpd"}},
		{"secret@music.lan", "x", MPDEnv{Host: "music.lan", Password: "secret"}},
		{"secret@/run/mpd/socket", "", MPDEnv{Socket: "/run/mpd/socket", Password: "secret"}},
		{"secret@@mpd", "", MPDEnv{Socket: "@mpd", Password: "secret"}},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got := ParseMPDEnv(envMap(map[string]string{"MPD_HOST": tt.host, "MPD_PORT": tt.port}))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.conf"), nil, envMap(nil))
	require.NoError(t, err)

	assert.False(t, c.FileFound)
	assert.True(t, c.MPD.Enabled)
	assert.Equal(t, "localhost", c.MPD.Host)
	assert.Equal(t, 6600, c.MPD.Port)
	assert.Equal(t, 5, c.MPD.MaxReconnect)
	assert.Equal(t, 5*time.Second, c.MPD.Backoff)
	assert.Equal(t, 9000, c.LMS.Port)
	assert.Equal(t, 9090, c.LMS.CLIPort)
	assert.Equal(t, 5, c.LMS.MaxReconnect)
	assert.Equal(t, 5*time.Second, c.LMS.Backoff)
	assert.Equal(t, 500*time.Millisecond, c.Fanout.PollInterval)
	assert.Equal(t, 5*time.Minute, c.Fanout.PruneInterval)
	assert.Equal(t, time.Hour, c.Fanout.ClientTTL)
	assert.Equal(t, 30*time.Second, c.Fanout.EventTTL)
	assert.Equal(t, FromDefault, c.Source("mpdhost"))
	assert.NoError(t, c.Validate())
}

func TestPrecedence(t *testing.T) {
	path := writeConf(t, `
# comment
mpdhost = file.lan
mpdport = 6610
mpdpass = p#ss
lms_server = lms.lan
lms_player = 00:04:20:aa:bb:cc
lms_max_reconnect = 9
eventlog_types = state_changed, song_changed
poll_interval = 0.25
`)
	env := envMap(map[string]string{"MPD_HOST": "envpass@env.lan", "MPD_PORT": "6620"})

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--mpdport=6630", "--verbose", "--client-ttl=2m", "--lms-backoff=30s"}))

	c, err := Load(path, fs, env)
	require.NoError(t, err)

	assert.True(t, c.FileFound)
	assert.Equal(t, "file.lan", c.MPD.Host, "file beats env")
	assert.Equal(t, FromFile, c.Source("mpdhost"))
	assert.Equal(t, 6630, c.MPD.Port, "flag beats file")
	assert.Equal(t, FromFlag, c.Source("mpdport"))
	assert.Equal(t, "p#ss", c.MPD.Password)
	assert.True(t, c.Verbose)
	assert.Equal(t, 2*time.Minute, c.Fanout.ClientTTL)
	assert.Equal(t, 250*time.Millisecond, c.Fanout.PollInterval)
	assert.Equal(t, []string{"state_changed", "song_changed"}, c.EventLog.Types)
	assert.True(t, c.LMS.Enabled())
	assert.Equal(t, 9, c.LMS.MaxReconnect)
	assert.Equal(t, 30*time.Second, c.LMS.Backoff)
	assert.Equal(t, 5, c.MPD.MaxReconnect, "LMS keys leave MPD alone")
	assert.Equal(t, "localhost", Default().MPD.Host)
}

func TestEnvBeatsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "none"), nil, envMap(map[string]string{"MPD_HOST": "pw@@mpd", "MPD_PORT": "7000"}))
	require.NoError(t, err)
	assert.Equal(t, "@mpd", c.MPD.Socket)
	assert.Equal(t, "pw", c.MPD.Password)
	assert.Equal(t, 7000, c.MPD.Port)
	assert.Equal(t, FromEnv, c.Source("mpdport"))
}

func TestUnknownKeyRejected(t *testing.T) {
	_, err := Load(writeConf(t, "mpdhots = x\n"), nil, envMap(nil))
	assert.ErrorContains(t, err, "unknown key")
}

func TestBadValueRejected(t *testing.T) {
	_, err := Load(writeConf(t, "mpdport = many\n"), nil, envMap(nil))
	assert.ErrorContains(t, err, "mpdport")
}

func TestValidate(t *testing.T) {
	c := Default()
	c.ListenPort = 0
	c.Fanout.EventTTL = -time.Second
	c.LMS.Server = "lms.lan"
	c.LMS.Backoff = 0
	err := c.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "listenport")
	assert.ErrorContains(t, err, "event_ttl")
	assert.ErrorContains(t, err, "lms_player")
	assert.ErrorContains(t, err, "lms_backoff")

	c = Default()
	c.MPD.Enabled = false
	assert.ErrorContains(t, c.Validate(), "no players")
	c.NullPlayer = true
	assert.NoError(t, c.Validate())
}

func TestDump(t *testing.T) {
	c, err := Load(writeConf(t, "mpdpass = hunter2\nnull_player = yes\n"), nil, envMap(nil))
	require.NoError(t, err)
	assert.True(t, c.NullPlayer)

	var buf bytes.Buffer
	require.NoError(t, c.Dump(&buf))
	out := buf.String()
	assert.Contains(t, out, "config path:")
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "# file")
	assert.Contains(t, out, "mpdhost")
}
