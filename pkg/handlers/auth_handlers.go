package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/msniranjan18/chit-call/pkg/auth"
	"github.com/msniranjan18/chit-call/pkg/models"
	"github.com/msniranjan18/chit-call/pkg/store"
)

type AccountStore interface {
	store.UserStore
	store.SessionStore
}

type AuthHandler struct {
	store  AccountStore
	logger *slog.Logger
}

func NewAuthHandler(store AccountStore, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{store: store, logger: logger}
}

// Register godoc
// @Summary      Register a new user
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body      models.RegisterRequest  true  "Registration"
// @Success      201      {object}  models.AuthResponse
// @Failure      400      {string}  string
// @Failure      409      {string}  string
// @Router       /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("Register: invalid request body", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 3 || len(req.Username) > 50 {
		h.logger.Warn("Register: invalid username length", "length", len(req.Username))
		http.Error(w, "Username must be 3 to 50 characters", http.StatusBadRequest)
		return
	}

	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user := &models.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			http.Error(w, "Username already taken", http.StatusConflict)
			return
		}
		h.logger.Error("Register: failed to create user", "error", err, "username", req.Username)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Register: new user created", "user_id", user.ID, "username", user.Username)
	h.issue(w, r, user, http.StatusCreated)
}

// Login godoc
// @Summary      Log in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body      models.LoginRequest  true  "Credentials"
// @Success      200      {object}  models.AuthResponse
// @Failure      401      {string}  string
// @Router       /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("Login: invalid request body", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Warn("Login: user not found", "username", req.Username)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.logger.Error("Login: failed to get user", "error", err, "username", req.Username)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		h.logger.Warn("Login: wrong password", "user_id", user.ID)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	h.issue(w, r, user, http.StatusOK)
}

func (h *AuthHandler) issue(w http.ResponseWriter, r *http.Request, user *models.User, status int) {
	session := &models.UserSession{
		UserID:     user.ID,
		DeviceInfo: r.UserAgent(),
		IPAddress:  getIPAddress(r),
	}
	if err := h.store.CreateSession(r.Context(), session); err != nil {
		h.logger.Error("Failed to create session", "error", err, "user_id", user.ID)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	token, expiresAt, err := auth.GenerateJWT(user.ID, session.SessionID)
	if err != nil {
		h.logger.Error("Failed to generate JWT", "error", err, "user_id", user.ID)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Session issued", "user_id", user.ID, "session_id", session.SessionID, "expires_at", expiresAt)
	writeJSON(w, status, models.AuthResponse{Token: token, User: *user, ExpiresAt: expiresAt})
}

// Logout godoc
// @Summary      Revoke the current session
// @Tags         auth
// @Security     BearerAuth
// @Success      200  {object}  map[string]string
// @Router       /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := auth.GetSessionID(r.Context())
	if sessionID == "" {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	if err := h.store.DeleteSession(r.Context(), sessionID); err != nil {
		h.logger.Error("Logout: failed to delete session", "error", err, "session_id", sessionID)
		http.Error(w, "Failed to logout", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Logout: successful", "session_id", sessionID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// Verify godoc
// @Summary      Current user for a token
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  models.User
// @Router       /auth/verify [get]
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUserByID(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		h.logger.Warn("Verify: user not found", "error", err)
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// RefreshToken godoc
// @Summary      Issue a fresh token for the current session
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	newToken, expiresAt, err := auth.RefreshJWT(auth.TokenFromRequest(r))
	if err != nil {
		h.logger.Warn("RefreshToken: failed to refresh token", "error", err)
		http.Error(w, "Failed to refresh token", http.StatusUnauthorized)
		return
	}

	if err := h.store.TouchSession(r.Context(), auth.GetSessionID(r.Context()), time.Now().UTC()); err != nil {
		h.logger.Warn("RefreshToken: failed to touch session", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      newToken,
		"expires_at": expiresAt,
	})
}
