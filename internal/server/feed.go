package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"audiocontrold/internal/fanout"
)

// handleEvents upgrades to a WebSocket and pushes the client's share of the
// fan-out buffer every poll interval. Text frames from the client replace its
// subscription.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var sub fanout.Subscription
	if p := r.PathValue("player"); p != "" {
		sub.Players = []string{p}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	id := s.fan.Register(sub)
	defer s.fan.RemoveClient(id)

	logger := s.logger.With(zap.Uint64("client", id))
	logger.Info("feed client connected", zap.String("remote", r.RemoteAddr), zap.Strings("players", sub.Players))
	defer logger.Info("feed client disconnected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := write(ctx, conn, fanout.Welcome(id)); err != nil {
		return
	}

	go func() {
		defer cancel()
		s.readFrames(ctx, conn, id, logger)
	}()

	tick := s.opts.Clock.Ticker(s.opts.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-tick.C:
			events, ok := s.fan.EventsFor(id)
			if !ok {
				logger.Info("feed client pruned, closing")
				conn.Close(websocket.StatusGoingAway, "client expired")
				return
			}
			for _, ev := range events {
				b, err := fanout.Encode(ev)
				if err != nil {
					logger.Warn("encode event", zap.String("type", ev.Type()), zap.Error(err))
					continue
				}
				if err := write(ctx, conn, b); err != nil {
					logger.Debug("write failed", zap.Error(err))
					return
				}
			}
		}
	}
} // func handleEvents

// readFrames handles client frames until the connection breaks.
func (s *Server) readFrames(ctx context.Context, conn *websocket.Conn, id uint64, logger *zap.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if st := websocket.CloseStatus(err); st != -1 {
				logger.Debug("client closed", zap.Stringer("status", st))
			} else if !errors.Is(err, context.Canceled) {
				logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		s.fan.RecordActivity(id)
		if typ != websocket.MessageText {
			continue
		}

		sub, err := fanout.ParseSubscription(data)
		if err != nil {
			logger.Debug("invalid subscription", zap.ByteString("frame", data), zap.Error(err))
			if write(ctx, conn, fanout.ErrorMessage(err)) != nil {
				return
			}
			continue
		}
		s.fan.UpdateSubscription(id, sub)
		logger.Debug("subscription updated", zap.Strings("players", sub.Players), zap.Strings("event_types", sub.EventTypes))
		if write(ctx, conn, fanout.SubscriptionUpdated()) != nil {
			return
		}
	}
} // func readFrames

func write(ctx context.Context, conn *websocket.Conn, b []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}
