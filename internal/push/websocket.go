package push

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mealwave/ordernotify/internal/model"
)

// WebSocketSource consumes order events over a persistent WebSocket. On
// connect it announces the user's identity to join the per-user channel.
type WebSocketSource struct {
	addr   string
	token  string
	userID string
	logger *zap.Logger
}

type joinFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// NewWebSocketSource creates a WebSocket push source.
func NewWebSocketSource(addr, token, userID string, logger *zap.Logger) *WebSocketSource {
	return &WebSocketSource{addr: addr, token: token, userID: userID, logger: logger}
}

// Run dials, joins and reads events until ctx is cancelled. Connection
// failures are logged and followed by a redial after a short delay.
func (s *WebSocketSource) Run(ctx context.Context, wake chan<- struct{}) error {
	for {
		if err := s.consume(ctx, wake); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("push connection lost", zap.Error(err))
		}

		sleepCtx(ctx, reconnectDelay)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *WebSocketSource) consume(ctx context.Context, wake chan<- struct{}) error {
	opts := &websocket.DialOptions{}
	if s.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + s.token}}
	}

	conn, _, err := websocket.Dial(ctx, s.addr, opts)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, joinFrame{Type: "join", UserID: s.userID}); err != nil {
		return err
	}

	s.logger.Info("push channel connected", zap.String("addr", s.addr))

	for {
		var ev model.PushEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return err
		}

		switch ev.Type {
		case model.PushEventCreated, model.PushEventStatusChange:
			s.logger.Debug("push event received",
				zap.String("type", ev.Type),
				zap.String("newStatus", string(ev.NewStatus)),
			)
			signal(wake)
		default:
			s.logger.Debug("push event ignored", zap.String("type", ev.Type))
		}
	}
}
