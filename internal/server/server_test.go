package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiocontrold/internal/audiocontrol"
	"audiocontrold/internal/controller"
	"audiocontrold/internal/eventbus"
	"audiocontrold/internal/fanout"
	"audiocontrold/internal/player"
)

type fixture struct {
	bus  *eventbus.Bus
	fan  *fanout.Manager
	reg  *audiocontrol.Registry
	null *controller.Null
	srv  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := eventbus.New(nil)
	fan := fanout.New(bus)
	reg := audiocontrol.New(bus, nil)
	null := controller.NewNull(bus, clock.New())
	reg.Add(null)

	s := New(reg, fan, nil, Options{PollInterval: 10 * time.Millisecond})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		fan.Close()
	})
	return &fixture{bus: bus, fan: fan, reg: reg, null: null, srv: srv}
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.srv.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	msg := readMessage(t, conn)
	require.Equal(t, "welcome", msg["type"])
	require.Equal(t, fanout.WelcomeText, msg["message"])
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(text)))
}

func stateEvent(name string, state player.PlaybackState) player.StateChanged {
	return player.StateChanged{
		Source: player.Source{PlayerName: name, PlayerID: name},
		State:  state,
	}
}

func TestFeedDeliversEvents(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/events")

	f.bus.Publish(stateEvent("mpd", player.StatePlaying))

	msg := readMessage(t, conn)
	assert.Equal(t, player.TypeStateChanged, msg["type"])
	assert.Equal(t, "playing", msg["state"])
	src, ok := msg["source"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mpd", src["player_name"])
}

func TestFeedPlayerPathFilters(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/events/lms")

	f.bus.Publish(stateEvent("mpd", player.StatePlaying))
	f.bus.Publish(stateEvent("lms", player.StatePaused))

	msg := readMessage(t, conn)
	assert.Equal(t, "paused", msg["state"])
	assert.Equal(t, "lms", msg["player_name"])
}

func TestFeedSubscriptionUpdate(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/events")

	send(t, conn, `{"event_types":["song_changed"]}`)
	msg := readMessage(t, conn)
	assert.Equal(t, "subscription_updated", msg["type"])

	f.bus.Publish(stateEvent("mpd", player.StatePlaying))
	f.bus.Publish(player.SongChanged{
		Source: player.Source{PlayerName: "mpd", PlayerID: "mpd"},
		Song:   &player.Song{Title: "Blue in Green"},
	})

	msg = readMessage(t, conn)
	assert.Equal(t, player.TypeSongChanged, msg["type"])
}

func TestFeedRejectsBadFrame(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/events/lms")

	send(t, conn, `{"players": 3}`)
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["message"], "Invalid message format")

	// the old filter still applies
	f.bus.Publish(stateEvent("mpd", player.StatePlaying))
	f.bus.Publish(stateEvent("lms", player.StateStopped))
	msg = readMessage(t, conn)
	assert.Equal(t, "lms", msg["player_name"])
}

func TestFeedClientRemovedOnClose(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/events")
	require.Equal(t, 1, f.fan.ClientCount())

	conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return f.fan.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFeedClosesPrunedClient(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/events")

	time.Sleep(5 * time.Millisecond)
	clients, _ := f.fan.PruneInactiveAndOld(time.Millisecond, time.Hour)
	require.Equal(t, 1, clients)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(b) > 0 && b[0] == '{' {
		require.NoError(t, json.Unmarshal(b, &out))
	}
	return resp.StatusCode, out
}

func TestPlayersEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/players")
	require.NoError(t, err)
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
	assert.Equal(t, "null", list[0]["name"])
	assert.Equal(t, true, list[0]["active"])

	status, active := do(t, http.MethodGet, f.srv.URL+"/player", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "null", active["id"])
}

func TestCommandEndpoint(t *testing.T) {
	f := newFixture(t)

	status, resp := do(t, http.MethodPost, f.srv.URL+"/player/null/command/play", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, player.StatePlaying, f.null.PlaybackState())

	status, _ = do(t, http.MethodPost, f.srv.URL+"/player/active/command/set_loop", `{"mode":"track"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, player.LoopTrack, f.null.LoopMode())

	status, _ = do(t, http.MethodPost, f.srv.URL+"/player/null/command/seek?position=abc", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, http.MethodPost, f.srv.URL+"/player/null/command/dance", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, http.MethodPost, f.srv.URL+"/player/ghost/command/play", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, http.MethodPost, f.srv.URL+"/player/null/command/play", "not json")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPauseAll(t *testing.T) {
	f := newFixture(t)
	f.null.SendCommand(context.Background(), player.Play())

	status, resp := do(t, http.MethodPost, f.srv.URL+"/players/pause-all", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, player.StatePaused, f.null.PlaybackState())

	status, resp = do(t, http.MethodPost, f.srv.URL+"/players/stop-all?except=null", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["message"], "skipped 1")
}

func TestMetaEndpoints(t *testing.T) {
	f := newFixture(t)

	status, meta := do(t, http.MethodGet, f.srv.URL+"/player/null/meta", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, meta, "playback_state")

	status, kv := do(t, http.MethodGet, f.srv.URL+"/player/null/meta/playback_state", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "playback_state", kv["key"])

	status, _ = do(t, http.MethodGet, f.srv.URL+"/player/null/meta/nope", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, q := do(t, http.MethodGet, f.srv.URL+"/player/null/queue", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{}, q["tracks"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "audiocontrold_")
}

func TestRunPrunerDropsIdleClients(t *testing.T) {
	mock := clock.NewMock()
	fan := fanout.New(nil, fanout.WithClock(mock))
	defer fan.Close()
	fan.Register(fanout.Subscription{})

	s := New(audiocontrol.New(nil, nil), fan, nil, Options{
		PruneInterval: time.Minute,
		ClientTTL:     time.Hour,
		Clock:         mock,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunPruner(ctx)
	}()

	// let the pruner create its ticker before moving time
	time.Sleep(20 * time.Millisecond)
	mock.Add(2 * time.Hour)
	assert.Eventually(t, func() bool { return fan.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
