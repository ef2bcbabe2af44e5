package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msniranjan18/chit-call/pkg/models"
)

type sessionMap map[string]*models.UserSession

func (m sessionMap) GetSession(_ context.Context, id string) (*models.UserSession, error) {
	s, ok := m[id]
	if !ok {
		return nil, ErrInvalidToken
	}
	return s, nil
}

func TestGenerateAndValidate(t *testing.T) {
	InitJWT("test-secret", time.Hour)

	token, expiresAt, err := GenerateJWT("user-1", "session-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "session-1", claims.SessionID)

	_, err = ValidateJWT(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	refreshed, _, err := RefreshJWT(token)
	require.NoError(t, err)
	claims, err = ValidateJWT(refreshed)
	require.NoError(t, err)
	assert.Equal(t, "session-1", claims.SessionID)
}

func TestExpiredToken(t *testing.T) {
	InitJWT("test-secret", time.Hour)
	now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	defer func() { now = time.Now }()

	token, _, err := GenerateJWT("user-1", "session-1")
	require.NoError(t, err)

	now = time.Now
	_, err = ValidateJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	_, err := HashPassword("short")
	assert.Error(t, err)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NoError(t, CheckPassword(hash, "correct horse"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong horse"), ErrInvalidCredentials)
}

func TestAuthMiddleware(t *testing.T) {
	InitJWT("test-secret", time.Hour)
	sessions := sessionMap{"s1": {UserID: "u1", SessionID: "s1"}}

	var gotUser, gotSession string
	handler := AuthMiddleware(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
		gotSession = GetSessionID(r.Context())
	}))

	valid, _, err := GenerateJWT("u1", "s1")
	require.NoError(t, err)
	revoked, _, err := GenerateJWT("u1", "gone")
	require.NoError(t, err)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) }, http.StatusOK},
		{"query token", func(r *http.Request) { r.URL.RawQuery = "token=" + valid }, http.StatusOK},
		{"missing token", func(r *http.Request) {}, http.StatusUnauthorized},
		{"not bearer", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, http.StatusUnauthorized},
		{"revoked session", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+revoked) }, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser, gotSession = "", ""
			req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "u1", gotUser)
				assert.Equal(t, "s1", gotSession)
			}
		})
	}
}
