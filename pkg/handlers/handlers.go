// Package handlers implements the REST API and the websocket upgrade.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/msniranjan18/chit-call/pkg/events"
)

// Notifier pushes a real-time event to one user.
type Notifier interface {
	Notify(ctx context.Context, userID string, t events.Type, from string, payload any) bool
}

// Presence answers who is connected right now.
type Presence interface {
	IsOnline(userID string) bool
	Snapshot() []string
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

// Helper function to get IP address
func getIPAddress(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	if idx := strings.Index(ip, ","); idx != -1 {
		ip = ip[:idx]
	}
	if idx := strings.LastIndex(ip, ":"); idx != -1 && !strings.Contains(ip[idx:], "]") {
		ip = ip[:idx]
	}
	return strings.TrimSpace(ip)
}
