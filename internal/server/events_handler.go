package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stackpanel/stackpanel/internal/domain"
	"github.com/stackpanel/stackpanel/internal/repository/redis"
)

const eventWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the access token is checked before the upgrade
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents relays sync progress events to a websocket client until either side hangs up.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, r, domain.ErrUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Client messages are ignored; a read error means the client went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	actor := domain.ActorFromContext(r.Context())
	s.logger.Debug("Event stream client connected", zap.Int64("user_id", actor))

	events := s.events.Subscribe(ctx, redis.SyncChannel)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Event stream client disconnected", zap.Int64("user_id", actor))
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event source closed"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug("Failed to send event", zap.Error(err))
				return
			}
		}
	}
}
