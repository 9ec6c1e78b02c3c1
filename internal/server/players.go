package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"audiocontrold/internal/controller"
	"audiocontrold/internal/player"
)

type playerInfo struct {
	Name         string               `json:"name"`
	ID           string               `json:"id"`
	State        player.PlaybackState `json:"state"`
	Capabilities player.CapabilitySet `json:"capabilities"`
	LastSeen     *time.Time           `json:"last_seen"`
	Active       bool                 `json:"active"`
	Song         *player.Song         `json:"song,omitempty"`
	LoopMode     player.LoopMode      `json:"loop_mode"`
	Shuffle      bool                 `json:"shuffle"`
	Position     *float64             `json:"position,omitempty"`
}

type commandResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) info(c controller.Controller) playerInfo {
	p := playerInfo{
		Name:         c.Name(),
		ID:           c.ID(),
		State:        c.PlaybackState(),
		Capabilities: c.Capabilities(),
		Active:       s.reg.IsActive(c.ID()),
		Song:         c.Song(),
		LoopMode:     c.LoopMode(),
		Shuffle:      c.Shuffle(),
	}
	if t := c.LastSeen(); !t.IsZero() {
		p.LastSeen = &t
	}
	if pos, ok := c.Position(); ok {
		p.Position = &pos
	}
	return p
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

func (s *Server) notFound(w http.ResponseWriter, format string, a ...any) {
	s.writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf(format, a...)})
}

// lookup resolves {name}, writing a 404 when there is no such player.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (controller.Controller, bool) {
	name := r.PathValue("name")
	c, ok := s.reg.ByName(name)
	if !ok {
		s.notFound(w, "player %q not found", name)
	}
	return c, ok
}

func (s *Server) handlePlayers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, lo.Map(s.reg.Players(), func(c controller.Controller, _ int) playerInfo {
		return s.info(c)
	}))
}

func (s *Server) handleActivePlayer(w http.ResponseWriter, _ *http.Request) {
	c, ok := s.reg.Active()
	if !ok {
		s.notFound(w, "no active player")
		return
	}
	s.writeJSON(w, http.StatusOK, s.info(c))
}

// commandArgs merges the query parameters with the JSON body. Scalar body
// fields become arguments; the raw body is kept for queue_tracks.
func commandArgs(r *http.Request) (map[string]string, error) {
	args := map[string]string{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			args[k] = v[0]
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return args, nil
	}
	args["body"] = string(body)

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("body is not a JSON object: %w", err)
	}
	for k, v := range fields {
		switch v := v.(type) {
		case string:
			args[k] = v
		case float64, bool:
			args[k] = fmt.Sprint(v)
		}
	}
	return args, nil
} // func commandArgs

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}

	args, err := commandArgs(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, commandResponse{Message: err.Error()})
		return
	}
	cmd, err := player.ParseCommand(r.PathValue("command"), args)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, player.ErrUnknownCommand) {
			status = http.StatusNotFound
		}
		s.writeJSON(w, status, commandResponse{Message: err.Error()})
		return
	}

	if !c.SendCommand(r.Context(), cmd) {
		s.writeJSON(w, http.StatusOK, commandResponse{
			Message: fmt.Sprintf("Command %s failed on player %s", cmd, c.Name()),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, commandResponse{
		Success: true,
		Message: fmt.Sprintf("Command %s sent to player %s", cmd, c.Name()),
	})
} // func handleCommand

func (s *Server) handlePauseAll(w http.ResponseWriter, r *http.Request) {
	except := r.URL.Query().Get("except")
	res := s.reg.PauseAll(r.Context(), except)
	s.writeJSON(w, http.StatusOK, bulkResponse("paused", except, res.Succeeded, res.Skipped))
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	except := r.URL.Query().Get("except")
	res := s.reg.StopAll(r.Context(), except)
	s.writeJSON(w, http.StatusOK, bulkResponse("stopped", except, res.Succeeded, res.Skipped))
}

func bulkResponse(verb, except string, succeeded, skipped int) commandResponse {
	resp := commandResponse{Success: succeeded > 0}
	switch {
	case succeeded > 0 && except != "":
		resp.Message = fmt.Sprintf("%s %d players (skipped %d matching %q)", verb, succeeded, skipped, except)
	case succeeded > 0:
		resp.Message = fmt.Sprintf("%s %d players", verb, succeeded)
	case skipped > 0:
		resp.Message = fmt.Sprintf("no players %s (skipped %d matching %q)", verb, skipped, except)
	default:
		resp.Message = "no players " + verb
	}
	return resp
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	tracks, err := c.Queue(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	if tracks == nil {
		tracks = []player.Track{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"player": c.Name(),
		"id":     c.ID(),
		"tracks": tracks,
	})
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	meta := map[string]string{}
	for _, k := range c.MetaKeys() {
		if v, ok := c.MetaValue(k); ok {
			meta[k] = v
		}
	}
	s.writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleMetaKey(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	key := r.PathValue("key")
	v, ok := c.MetaValue(key)
	if !ok {
		s.notFound(w, "meta key %q not found on player %s", key, c.Name())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": v})
}
