package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/msniranjan18/chit-call/pkg/auth"
	"github.com/msniranjan18/chit-call/pkg/models"
	"github.com/msniranjan18/chit-call/pkg/store"
)

const maxSearchResults = 50

type UserHandler struct {
	store    store.UserStore
	presence Presence
	logger   *slog.Logger
}

func NewUserHandler(store store.UserStore, presence Presence, logger *slog.Logger) *UserHandler {
	return &UserHandler{store: store, presence: presence, logger: logger}
}

// GetCurrentUser godoc
// @Summary      Authenticated user profile
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  models.User
// @Router       /users/me [get]
func (h *UserHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	h.writeUser(w, r, auth.GetUserID(r.Context()))
}

// GetUser godoc
// @Summary      User profile with live presence
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  models.User
// @Failure      404  {string}  string
// @Router       /users/{id} [get]
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	h.writeUser(w, r, r.PathValue("id"))
}

func (h *UserHandler) writeUser(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := h.store.GetUserByID(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Warn("GetUser: user not found", "user_id", userID)
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("GetUser: failed to get user", "error", err, "user_id", userID)
		http.Error(w, "Failed to get user", http.StatusInternalServerError)
		return
	}

	user.IsOnline = h.presence.IsOnline(user.ID)
	writeJSON(w, http.StatusOK, user)
}

// GetOnlineUsers godoc
// @Summary      Users with a live connection
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  models.OnlineUsersResponse
// @Router       /users/online [get]
func (h *UserHandler) GetOnlineUsers(w http.ResponseWriter, r *http.Request) {
	ids := h.presence.Snapshot()
	writeJSON(w, http.StatusOK, models.OnlineUsersResponse{Count: len(ids), UserIDs: ids})
}

// SearchUsers godoc
// @Summary      Search users by username or display name
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Param        q      query     string  true   "Search text"
// @Param        limit  query     int     false  "Max results"
// @Success      200    {array}   models.User
// @Router       /users/search [get]
func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		http.Error(w, "Query parameter q is required", http.StatusBadRequest)
		return
	}

	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxSearchResults)
	}

	users, err := h.store.SearchUsers(r.Context(), query, limit)
	if err != nil {
		h.logger.Error("SearchUsers: failed", "error", err, "query", query)
		http.Error(w, "Failed to search users", http.StatusInternalServerError)
		return
	}

	self := auth.GetUserID(r.Context())
	results := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID == self {
			continue
		}
		u.IsOnline = h.presence.IsOnline(u.ID)
		results = append(results, u)
	}

	h.logger.Debug("SearchUsers: completed", "query", query, "results", len(results))
	writeJSON(w, http.StatusOK, results)
}
