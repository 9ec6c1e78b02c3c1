package mpdplayer

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

var metaKeys = []string{
	"hostname", "port", "socket", "connection_status", "reconnect_attempts",
	"queue_length", "volume", "playback_state", "last_seen", "db_updating",
	"stats", "mpd_version",
}

func (m *Controller) MetaKeys() []string {
	return append([]string(nil), metaKeys...)
}

// MetaValue answers diagnostic queries. stats and mpd_version hit the server.
func (m *Controller) MetaValue(key string) (string, bool) {
	switch key {
	case "hostname":
		return m.cfg.Host, true
	case "port":
		return strconv.Itoa(m.cfg.Port), true
	case "socket":
		return m.cfg.Socket, true
	case "connection_status":
		return m.recon.State().String(), true
	case "reconnect_attempts":
		return strconv.Itoa(m.recon.Attempts()), true
	case "queue_length":
		return strconv.Itoa(m.queueLength()), true
	case "volume":
		m.mu.Lock()
		v, ok := m.volume, m.hasVolume
		m.mu.Unlock()
		if !ok {
			return "", true
		}
		return strconv.Itoa(v), true
	case "playback_state":
		return m.PlaybackState().String(), true
	case "last_seen":
		if t := m.LastSeen(); !t.IsZero() {
			return t.Format(time.RFC3339), true
		}
		return "", true
	case "db_updating":
		m.mu.Lock()
		v := m.dbUpdating
		m.mu.Unlock()
		return strconv.FormatBool(v), true
	case "stats":
		var out string
		err := m.withClient(context.Background(), "stats", func(c mpdClient) error {
			stats, err := c.Stats()
			if err != nil {
				return err
			}
			b, err := json.Marshal(stats)
			out = string(b)
			return err
		})
		if err != nil {
			return "", false
		}
		return out, true
	case "mpd_version":
		var out string
		err := m.withClient(context.Background(), "version", func(c mpdClient) error {
			out = c.Version()
			return nil
		})
		if err != nil {
			return "", false
		}
		return out, true
	}
	return "", false
} // func MetaValue
