package mpdplayer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"audiocontrold/internal/player"
)

var errUnsupported = errors.New("unsupported command")

// SendCommand runs cmd on a fresh connection and reports whether MPD
// acknowledged it.
func (m *Controller) SendCommand(ctx context.Context, cmd player.Command) bool {
	err := m.withClient(ctx, cmd.String(), func(c mpdClient) error {
		return m.dispatch(c, cmd)
	})
	if err != nil {
		m.logger.Warn("command failed", zap.Stringer("command", cmd), zap.Error(err))
		return m.commandResult(cmd, false)
	}
	m.logger.Debug("command sent", zap.Stringer("command", cmd))

	switch cmd.Kind {
	case player.CmdQueueTracks, player.CmdRemoveTrack, player.CmdClearQueue:
		m.NotifyQueueChanged()
	case player.CmdKill:
		m.NotifyStateChanged(player.StateKilled)
		go m.Stop()
	}
	return m.commandResult(cmd, true)
} // func SendCommand

func (m *Controller) dispatch(c mpdClient, cmd player.Command) error {
	switch cmd.Kind {
	case player.CmdPlay:
		return c.Play(-1)
	case player.CmdPause:
		return c.Pause(true)
	case player.CmdPlayPause:
		status, err := c.Status()
		if err != nil {
			return err
		}
		if status["state"] == "play" {
			return c.Pause(true)
		}
		return c.Play(-1)
	case player.CmdStop:
		return c.Stop()
	case player.CmdNext:
		return c.Next()
	case player.CmdPrevious:
		return c.Previous()

	case player.CmdSetLoopMode:
		repeat := cmd.LoopMode != player.LoopNone
		single := cmd.LoopMode == player.LoopTrack
		if err := c.Repeat(repeat); err != nil {
			return err
		}
		return c.Single(single)
	case player.CmdSetRandom:
		return c.Random(cmd.Enabled)
	case player.CmdSeek:
		if cmd.Position < 0 {
			return fmt.Errorf("negative seek position %.1f", cmd.Position)
		}
		return c.SeekCur(time.Duration(cmd.Position*float64(time.Second)), false)

	case player.CmdKill:
		// set before MPD goes away so the watcher failure is not reported
		// as a disconnect
		m.killed.Store(true)
		// MPD drops the connection instead of answering
		if err := c.Kill(); err != nil {
			m.logger.Debug("kill returned", zap.Error(err))
		}
		return nil

	case player.CmdQueueTracks:
		return queueTracks(c, cmd.URIs, cmd.InsertAtBeginning)
	case player.CmdRemoveTrack:
		if cmd.Index < 0 {
			return fmt.Errorf("invalid queue position %d", cmd.Index)
		}
		return c.Delete(cmd.Index, cmd.Index+1)
	case player.CmdClearQueue:
		return c.Clear()
	case player.CmdPlayQueueIndex:
		if cmd.Index < 0 {
			return fmt.Errorf("invalid queue position %d", cmd.Index)
		}
		return c.Play(cmd.Index)
	}
	return fmt.Errorf("%w: %s", errUnsupported, cmd.Name())
} // func dispatch

// queueTracks appends uris, or inserts them at the head of the queue while
// keeping their order.
func queueTracks(c mpdClient, uris []string, atBeginning bool) error {
	if len(uris) == 0 {
		return errors.New("no uris to queue")
	}
	if !atBeginning {
		for _, uri := range uris {
			if err := c.Add(uri); err != nil {
				return fmt.Errorf("add %q: %w", uri, err)
			}
		}
		return nil
	}
	for i, uri := range uris {
		if _, err := c.AddID(uri, i); err != nil {
			return fmt.Errorf("insert %q: %w", uri, err)
		}
	}
	return nil
}

// Queue lists the current play queue.
func (m *Controller) Queue(ctx context.Context) ([]player.Track, error) {
	var tracks []player.Track
	err := m.withClient(ctx, "queue", func(c mpdClient) error {
		items, err := c.PlaylistInfo(-1, -1)
		if err != nil {
			return err
		}
		tracks = make([]player.Track, 0, len(items))
		for _, it := range items {
			name := it["Title"]
			if name == "" {
				name = it["file"]
			}
			tracks = append(tracks, player.Track{
				ID:     it["Id"],
				Name:   name,
				Artist: it["Artist"],
				URI:    it["file"],
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.setQueueLength(len(tracks))
	return tracks, nil
} // func Queue
