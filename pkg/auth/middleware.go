package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/msniranjan18/chit-call/pkg/models"
)

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	sessionIDKey contextKey = "session_id"
)

// SessionLookup resolves a login session; a missing session revokes every
// token issued for it.
type SessionLookup interface {
	GetSession(ctx context.Context, sessionID string) (*models.UserSession, error)
}

// TokenFromRequest returns the bearer token, falling back to the token query
// parameter used by websocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Authenticate validates the request token and, when sessions is non-nil,
// that its session still exists and belongs to the token's user.
func Authenticate(r *http.Request, sessions SessionLookup) (*Claims, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims, err := ValidateJWT(token)
	if err != nil {
		return nil, err
	}
	if sessions != nil {
		sess, err := sessions.GetSession(r.Context(), claims.SessionID)
		if err != nil || sess.UserID != claims.UserID {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}

// AuthMiddleware rejects unauthenticated requests with 401 and stores the
// user and session ids in the request context.
func AuthMiddleware(sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := Authenticate(r, sessions)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.UserID, claims.SessionID)))
		})
	}
}

func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func GetSessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}
