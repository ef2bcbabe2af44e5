package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/msniranjan18/chit-call/config"
	"github.com/msniranjan18/chit-call/pkg/auth"
	"github.com/msniranjan18/chit-call/pkg/hub"
)

func newUpgrader(ws config.WebSocketConfig) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  ws.ReadBufferSize,
		WriteBufferSize: ws.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins for development
			return true
		},
	}
}

// HandleWS authenticates the upgrade request with the token in the query
// string (or Authorization header) and attaches the socket to the hub.
func HandleWS(h *hub.Hub, sessions auth.SessionLookup, ws config.WebSocketConfig, logger *slog.Logger) http.HandlerFunc {
	upgrader := newUpgrader(ws)

	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := auth.Authenticate(r, sessions)
		if err != nil {
			logger.Warn("WebSocket: authentication failed", "error", err)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error", "error", err, "user_id", claims.UserID)
			return
		}

		h.Attach(conn, claims.UserID, claims.SessionID)
	}
}
