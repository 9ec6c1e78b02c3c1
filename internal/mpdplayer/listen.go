package mpdplayer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/fhs/gompd/v2/mpd"
	"go.uber.org/zap"

	"audiocontrold/internal/controller"
	"audiocontrold/internal/player"
)

var errWatcherClosed = errors.New("mpd watcher closed")

// session is one idle watcher, run by the Reconnector.
type session struct {
	m *Controller
	w watcher
}

// connect opens the watcher and brings the cached state up to date before
// the first idle event arrives.
func (m *Controller) connect(ctx context.Context) (controller.Session, error) {
	w, err := m.watch()
	if err != nil {
		return nil, err
	}
	if err := m.withClient(ctx, "initial sync", m.syncAll); err != nil {
		w.Close()
		return nil, err
	}
	return &session{m: m, w: w}, nil
} // func connect

// Listen blocks on idle events. A watcher error ends the session so the
// Reconnector can count it.
func (s *session) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-s.w.Errors():
			if !ok {
				return errWatcherClosed
			}
			return fmt.Errorf("idle: %w", err)

		case subsystem, ok := <-s.w.Events():
			if !ok {
				return errWatcherClosed
			}
			s.m.logger.Debug("idle event", zap.String("subsystem", subsystem))
			s.m.Alive()
			if err := s.m.withClient(ctx, subsystem, func(c mpdClient) error {
				return s.m.handleSubsystem(c, subsystem)
			}); err != nil {
				return err
			}
		}
	}
} // func Listen

func (s *session) Close() error { return s.w.Close() }

// syncAll refreshes everything the subsystems would report.
func (m *Controller) syncAll(c mpdClient) error {
	status, err := c.Status()
	if err != nil {
		m.ApplyTransport(controller.FailClosed)
		return err
	}
	if err := m.syncPlayer(c, status); err != nil {
		return err
	}
	m.syncOptions(status)
	m.syncMixer(status)
	m.syncDatabase(status)
	if n, ok := atoiOK(status["playlistlength"]); ok {
		m.setQueueLength(n)
	}
	return nil
}

// handleSubsystem re-queries what one idle subsystem reported as changed.
func (m *Controller) handleSubsystem(c mpdClient, subsystem string) error {
	status, err := c.Status()
	if err != nil {
		m.ApplyTransport(controller.FailClosed)
		return err
	}

	switch subsystem {
	case "player":
		return m.syncPlayer(c, status)
	case "options":
		m.syncOptions(status)
	case "mixer":
		m.syncMixer(status)
	case "playlist":
		if n, ok := atoiOK(status["playlistlength"]); ok {
			m.setQueueLength(n)
		}
		m.NotifyQueueChanged()
		song, err := c.CurrentSong()
		if err != nil {
			return err
		}
		m.ApplyTransport(negotiate(status, song["file"]))
	case "update", "database":
		m.syncDatabase(status)
	default:
		m.logger.Debug("ignoring subsystem", zap.String("subsystem", subsystem))
	}
	return nil
} // func handleSubsystem

// syncPlayer refreshes song, capabilities, state and position in that order
// so a state change is never announced ahead of its song.
func (m *Controller) syncPlayer(c mpdClient, status mpd.Attrs) error {
	attrs, err := c.CurrentSong()
	if err != nil {
		m.ApplyTransport(controller.FailClosed)
		return err
	}

	m.UpdateSong(songFromAttrs(attrs, status))
	m.ApplyTransport(negotiate(status, attrs["file"]))
	m.UpdateState(parseState(status["state"]))

	if elapsed, err := strconv.ParseFloat(status["elapsed"], 64); err == nil {
		m.NotifyPosition(elapsed)
	}
	return nil
} // func syncPlayer

func (m *Controller) syncOptions(status mpd.Attrs) {
	m.UpdateLoopMode(loopMode(status["repeat"] == "1", status["single"] == "1"))
	m.UpdateRandom(status["random"] == "1")
}

func (m *Controller) syncMixer(status mpd.Attrs) {
	v, ok := atoiOK(status["volume"])
	if !ok || v < 0 {
		// -1 means no mixer
		return
	}
	if m.setVolume(v) {
		raw := int64(v)
		m.NotifyVolume(Name, "MPD", float64(v), nil, &raw)
	}
}

func (m *Controller) syncDatabase(status mpd.Attrs) {
	_, running := status["updating_db"]
	if !m.setUpdating(running) {
		return
	}
	if running {
		m.logger.Info("database update running", zap.String("job", status["updating_db"]))
		m.NotifyDatabaseUpdate(nil, nil, nil, nil)
		return
	}
	m.logger.Info("database update finished")
	done := 100.0
	m.NotifyDatabaseUpdate(nil, nil, nil, &done)
}

// RefreshSong re-reads the current song and announces it if it changed.
func (m *Controller) RefreshSong() {
	err := m.withClient(context.Background(), "refresh song", func(c mpdClient) error {
		status, err := c.Status()
		if err != nil {
			return err
		}
		attrs, err := c.CurrentSong()
		if err != nil {
			return err
		}
		m.UpdateSong(songFromAttrs(attrs, status))
		return nil
	})
	if err != nil {
		m.logger.Warn("refresh song failed", zap.Error(err))
	}
}

// RefreshPosition re-reads the elapsed time and announces it.
func (m *Controller) RefreshPosition() {
	err := m.withClient(context.Background(), "refresh position", func(c mpdClient) error {
		status, err := c.Status()
		if err != nil {
			return err
		}
		if elapsed, err := strconv.ParseFloat(status["elapsed"], 64); err == nil {
			m.NotifyPosition(elapsed)
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("refresh position failed", zap.Error(err))
	}
}

func parseState(s string) player.PlaybackState {
	if s == "" {
		return player.StateStopped
	}
	return player.ParsePlaybackState(s)
}

// loopMode folds MPD's repeat and single flags into one mode.
func loopMode(repeat, single bool) player.LoopMode {
	switch {
	case repeat && single:
		return player.LoopTrack
	case repeat:
		return player.LoopPlaylist
	}
	return player.LoopNone
}

// songFromAttrs builds a Song from currentsong, or nil when nothing is loaded.
func songFromAttrs(attrs, status mpd.Attrs) *player.Song {
	file := attrs["file"]
	if file == "" {
		return nil
	}

	s := &player.Song{
		Title:       attrs["Title"],
		Artist:      attrs["Artist"],
		Album:       attrs["Album"],
		AlbumArtist: attrs["AlbumArtist"],
		Genre:       attrs["Genre"],
		Source:      Name,
		Metadata:    map[string]string{"file": file},
	}
	if s.Title == "" {
		s.Title = attrs["Name"]
	}
	if s.Title == "" {
		s.Title = strings.TrimSuffix(path.Base(file), path.Ext(file))
	}

	num, total, _ := strings.Cut(attrs["Track"], "/")
	s.TrackNumber, _ = strconv.Atoi(num)
	s.TotalTracks, _ = strconv.Atoi(total)

	if date := attrs["Date"]; len(date) >= 4 {
		s.Year, _ = strconv.Atoi(date[:4])
	}

	if d, err := strconv.ParseFloat(attrs["duration"], 64); err == nil {
		s.Duration = d
	} else {
		s.Duration = statusDuration(status)
	}

	if isStream(file) {
		s.StreamURL = file
	}
	if id := attrs["Id"]; id != "" {
		s.Metadata["id"] = id
	}
	return s
} // func songFromAttrs
