package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/jwt-new/jwtmiddleware"
	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/realtime"
	"github.com/gorilla/websocket"
)

type SessionRegistry interface {
	Join(identity string, conn realtime.Conn)
	Leave(connID string)
}

// SessionGreeter вызывается сразу после входа в комнату
type SessionGreeter interface {
	OnJoin(ctx context.Context, identity string, conn realtime.Conn) error
}

// WebSocketHandler обрабатывает GET /ws. Аутентификация уже пройдена в jwtmiddleware,
// после апгрейда подключение попадает в комнату администраторов и получает счётчик непрочитанных.
func WebSocketHandler(log *slog.Logger, registry SessionRegistry, greeter SessionGreeter, upgrader *websocket.Upgrader, opts realtime.WSOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.WebSocketHandler"
		logger := log.With(slog.String("op", op))

		adminID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("adminID not found in context")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade сам пишет ответ клиенту
			logger.Warn("websocket upgrade failed", slog.Any("error", err))
			return
		}

		conn := realtime.NewWSConn(ws, opts)
		logger = logger.With(slog.String("adminID", adminID), slog.String("connID", conn.ID()))

		registry.Join(adminID, conn)
		defer registry.Leave(conn.ID())

		if err := greeter.OnJoin(r.Context(), adminID, conn); err != nil {
			logger.Error("failed to send initial unread count", slog.Any("error", err))
		}

		conn.Run(r.Context())
		logger.Debug("websocket session closed")
	}
}

// NewUpgrader пустой allowedOrigins означает проверку same-origin по умолчанию
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	u := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(allowedOrigins) == 0 {
		return u
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	u.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
	return u
}
