package audiocontrol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"audiocontrold/internal/controller"
	"audiocontrold/internal/eventbus"
	"audiocontrold/internal/player"
)

type fakePlayer struct {
	*controller.Base

	mu       sync.Mutex
	commands []player.Command
	refuse   bool
	startErr error
	started  bool
}

func newFake(name, id string, pub controller.Publisher, caps ...player.Capability) *fakePlayer {
	f := &fakePlayer{Base: controller.NewBase(name, id, pub, nil)}
	f.SetCapabilities(caps, false)
	return f
}

func (f *fakePlayer) Queue(context.Context) ([]player.Track, error) { return nil, nil }

func (f *fakePlayer) SendCommand(_ context.Context, cmd player.Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return !f.refuse
}

func (f *fakePlayer) Commands() []player.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]player.Command(nil), f.commands...)
}

func (f *fakePlayer) MetaKeys() []string              { return nil }
func (f *fakePlayer) MetaValue(string) (string, bool) { return "", false }
func (f *fakePlayer) Stop() error                     { return nil }

func (f *fakePlayer) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = f.startErr == nil
	return f.startErr
}

type recorder struct {
	mu     sync.Mutex
	events []player.Event
}

func (r *recorder) Publish(ev player.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Events() []player.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]player.Event(nil), r.events...)
}

func TestFirstAddedIsActive(t *testing.T) {
	reg := New(nil, nil)
	_, ok := reg.Active()
	assert.False(t, ok)

	a := newFake("mpd", "localhost:6600", nil)
	b := newFake("lms", "00:11:22:33:44:55", nil)
	assert.Equal(t, 0, reg.Add(a))
	assert.Equal(t, 1, reg.Add(b))

	active, ok := reg.Active()
	require.True(t, ok)
	assert.Same(t, a, active)
	assert.Len(t, reg.Players(), 2)
}

func TestByName(t *testing.T) {
	reg := New(nil, nil)
	a := newFake("mpd", "localhost:6600", nil)
	b := newFake("lms", "00:11:22:33:44:55", nil)
	reg.Add(a)
	reg.Add(b)

	c, ok := reg.ByName("LMS")
	require.True(t, ok)
	assert.Same(t, b, c)

	c, ok = reg.ByName("00:11:22:33:44:55")
	require.True(t, ok)
	assert.Same(t, b, c)

	c, ok = reg.ByName("active")
	require.True(t, ok)
	assert.Same(t, a, c)

	_, ok = reg.ByName("spotify")
	assert.False(t, ok)
}

func TestSetActivePublishesOnChangeOnly(t *testing.T) {
	rec := &recorder{}
	reg := New(rec, nil)
	reg.Add(newFake("mpd", "m", nil))
	reg.Add(newFake("lms", "l", nil))

	assert.True(t, reg.SetActive("mpd"))
	assert.Empty(t, rec.Events())

	assert.True(t, reg.SetActive("lms"))
	require.Len(t, rec.Events(), 1)
	ev := rec.Events()[0].(player.ActivePlayerChanged)
	assert.Equal(t, "l", ev.PlayerID)
	assert.Equal(t, "lms", ev.Source.PlayerName)
	assert.True(t, reg.IsActive("l"))

	assert.False(t, reg.SetActive("nope"))
	assert.True(t, reg.IsActive("l"))
}

func TestSendCommandRouting(t *testing.T) {
	ctx := context.Background()
	reg := New(nil, nil)
	assert.False(t, reg.SendCommand(ctx, player.Play()))

	a := newFake("mpd", "m", nil)
	b := newFake("lms", "l", nil)
	c := newFake("pipe", "p", nil)
	c.refuse = true
	reg.Add(a)
	reg.Add(b)
	reg.Add(c)

	assert.True(t, reg.SendCommand(ctx, player.Play()))
	assert.True(t, reg.SendCommandTo(ctx, "lms", player.Next()))
	assert.False(t, reg.SendCommandTo(ctx, "unknown", player.Next()))
	assert.Equal(t, 1, reg.SendCommandToInactive(ctx, player.Pause()))

	assert.Equal(t, []player.Command{player.Play()}, a.Commands())
	assert.Equal(t, []player.Command{player.Next(), player.Pause()}, b.Commands())
	assert.Equal(t, []player.Command{player.Pause()}, c.Commands())
}

func TestPauseAllAndStopAll(t *testing.T) {
	ctx := context.Background()
	reg := New(nil, nil)
	pausable := newFake("mpd", "m", nil, player.CapPause, player.CapStop)
	stopOnly := newFake("pipe", "p", nil, player.CapStop)
	neither := newFake("null", "n", nil)
	skipped := newFake("lms", "l", nil, player.CapPause)
	for _, p := range []*fakePlayer{pausable, stopOnly, neither, skipped} {
		reg.Add(p)
	}

	res := reg.PauseAll(ctx, "LMS")
	assert.Equal(t, BulkResult{Succeeded: 2, Skipped: 1}, res)
	assert.Equal(t, []player.Command{player.Pause()}, pausable.Commands())
	assert.Equal(t, []player.Command{player.Stop()}, stopOnly.Commands())
	assert.Empty(t, neither.Commands())
	assert.Empty(t, skipped.Commands())

	res = reg.StopAll(ctx, "")
	assert.Equal(t, BulkResult{Succeeded: 3}, res)
	assert.Equal(t, player.Stop(), pausable.Commands()[1])
	assert.Equal(t, player.Pause(), skipped.Commands()[0])
}

func TestStartStop(t *testing.T) {
	reg := New(nil, nil)
	assert.ErrorIs(t, reg.Start(context.Background()), ErrNoPlayers)

	ok := newFake("mpd", "m", nil)
	bad := newFake("lms", "l", nil)
	bad.startErr = errors.New("no server")
	reg.Add(ok)
	reg.Add(bad)
	require.NoError(t, reg.Start(context.Background()))
	assert.True(t, ok.started)

	reg2 := New(nil, nil)
	reg2.Add(bad)
	assert.Error(t, reg2.Start(context.Background()))
	assert.NoError(t, reg.Stop())
}

func TestActiveMonitorSwitchesOnPlay(t *testing.T) {
	bus := eventbus.New(nil)
	reg := New(bus, nil)
	a := newFake("mpd", "m", bus)
	b := newFake("lms", "l", bus)
	reg.Add(a)
	reg.Add(b)

	_, watch := bus.Subscribe(player.TypeActivePlayerChanged)

	ctx, cancel := context.WithCancel(context.Background())
	done := AttachPlugins(ctx, bus, nil, NewActiveMonitor(reg, nil))

	b.UpdateState(player.StatePaused)
	b.UpdateState(player.StatePlaying)

	select {
	case ev := <-watch:
		assert.Equal(t, "l", ev.(player.ActivePlayerChanged).PlayerID)
	case <-time.After(2 * time.Second):
		t.Fatal("no active player change")
	}
	assert.True(t, reg.IsActive("l"))

	// already active: no second switch
	b.UpdateState(player.StatePaused)
	b.UpdateState(player.StatePlaying)
	select {
	case ev := <-watch:
		t.Fatalf("unexpected %v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	<-done
}

func TestEventLoggerFilters(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	reg := New(nil, nil)
	reg.Add(newFake("mpd", "m", nil))
	reg.Add(newFake("lms", "l", nil))

	active := player.Source{PlayerName: "mpd", PlayerID: "m"}
	other := player.Source{PlayerName: "lms", PlayerID: "l"}

	l := NewEventLogger(reg, logger, EventLoggerConfig{Level: zapcore.WarnLevel})
	l.HandleEvent(player.StateChanged{Source: other, State: player.StatePlaying})
	l.HandleEvent(player.VolumeChanged{ControlName: "mpd", Percentage: 40})
	require.Equal(t, 2, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "playing", entry.ContextMap()["state"])
	assert.Equal(t, false, entry.ContextMap()["active"])

	logs.TakeAll()
	l = NewEventLogger(reg, logger, EventLoggerConfig{OnlyActive: true, Level: zapcore.InfoLevel})
	l.HandleEvent(player.StateChanged{Source: other, State: player.StatePlaying})
	l.HandleEvent(player.VolumeChanged{ControlName: "mpd"})
	l.HandleEvent(player.PositionChanged{Source: active, Position: 3})
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, player.TypePositionChanged, logs.All()[0].ContextMap()["type"])

	logs.TakeAll()
	l = NewEventLogger(reg, logger, EventLoggerConfig{Types: []string{player.TypeSongChanged}})
	l.HandleEvent(player.StateChanged{Source: active, State: player.StatePlaying})
	l.HandleEvent(player.SongChanged{Source: active, Song: &player.Song{Title: "T"}})
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "T", logs.All()[0].ContextMap()["title"])
	assert.Equal(t, []string{player.TypeSongChanged}, l.EventTypes())
}
