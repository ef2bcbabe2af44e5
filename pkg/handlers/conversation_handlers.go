package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/msniranjan18/chit-call/pkg/auth"
	"github.com/msniranjan18/chit-call/pkg/events"
	"github.com/msniranjan18/chit-call/pkg/models"
	"github.com/msniranjan18/chit-call/pkg/store"
)

type ConversationHandler struct {
	conversations store.ConversationStore
	users         store.UserStore
	notifier      Notifier
	logger        *slog.Logger
}

func NewConversationHandler(conversations store.ConversationStore, users store.UserStore, notifier Notifier, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, users: users, notifier: notifier, logger: logger}
}

// CreateConversation godoc
// @Summary      Open the conversation with another user
// @Description  Returns the existing conversation for the pair if there is one.
// @Tags         conversations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      models.ConversationRequest  true  "Peer"
// @Success      200      {object}  models.Conversation
// @Failure      400      {string}  string
// @Failure      404      {string}  string
// @Router       /conversations [post]
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())

	var req models.ConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("CreateConversation: invalid request body", "error", err, "user_id", userID)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	peerID := strings.TrimSpace(req.ParticipantID)
	if peerID == "" || peerID == userID {
		http.Error(w, "A different participant is required", http.StatusBadRequest)
		return
	}

	if _, err := h.users.GetUserByID(r.Context(), peerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		h.logger.Error("CreateConversation: failed to get participant", "error", err, "participant_id", peerID)
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}

	conv, err := h.conversations.FindOrCreateConversation(r.Context(), []string{userID, peerID})
	if err != nil {
		h.logger.Error("CreateConversation: failed", "error", err, "user_id", userID, "participant_id", peerID)
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Conversation opened", "conversation_id", conv.ID, "user_id", userID)
	writeJSON(w, http.StatusOK, conv)
}

// GetConversations godoc
// @Summary      Conversations of the current user, most recent first
// @Tags         conversations
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  models.ConversationListResponse
// @Router       /conversations [get]
func (h *ConversationHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())

	convs, err := h.conversations.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("GetConversations: failed", "error", err, "user_id", userID)
		http.Error(w, "Failed to get conversations", http.StatusInternalServerError)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}

	writeJSON(w, http.StatusOK, models.ConversationListResponse{Conversations: convs, Total: len(convs)})
}

// GetConversation godoc
// @Summary      One conversation
// @Tags         conversations
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Conversation ID"
// @Success      200  {object}  models.Conversation
// @Failure      404  {string}  string
// @Router       /conversations/{id} [get]
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.member(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// MarkRead godoc
// @Summary      Mark every message from the peer as read
// @Description  Pushes messages-read to the peer when anything changed.
// @Tags         conversations
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Conversation ID"
// @Success      200  {object}  models.ReadReceipt
// @Failure      404  {string}  string
// @Router       /conversations/{id}/read [post]
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.member(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	userID := auth.GetUserID(r.Context())

	ids, err := h.conversations.MarkRead(r.Context(), conv.ID, userID)
	if err != nil {
		h.logger.Error("MarkRead: failed", "error", err, "conversation_id", conv.ID, "user_id", userID)
		http.Error(w, "Failed to mark messages as read", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	receipt := models.ReadReceipt{
		ConversationID: conv.ID,
		MessageIDs:     ids,
		ReadBy:         userID,
		ReadAt:         time.Now().UTC(),
	}
	if len(ids) > 0 {
		h.notifier.Notify(r.Context(), conv.Peer(userID), events.TypeMessagesRead, userID, receipt)
		h.logger.Debug("Messages marked read", "conversation_id", conv.ID, "user_id", userID, "count", len(ids))
	}

	writeJSON(w, http.StatusOK, receipt)
}

// member loads the conversation and checks that the caller takes part in it.
// Outsiders get the same 404 as a missing conversation.
func (h *ConversationHandler) member(w http.ResponseWriter, r *http.Request, conversationID string) (*models.Conversation, bool) {
	return loadMembership(w, r, h.conversations, conversationID, h.logger)
}

func loadMembership(w http.ResponseWriter, r *http.Request, conversations store.ConversationStore, conversationID string, logger *slog.Logger) (*models.Conversation, bool) {
	userID := auth.GetUserID(r.Context())

	conv, err := conversations.GetConversation(r.Context(), conversationID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !conv.HasParticipant(userID)) {
		logger.Warn("Conversation not accessible", "conversation_id", conversationID, "user_id", userID)
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		logger.Error("Failed to get conversation", "error", err, "conversation_id", conversationID)
		http.Error(w, "Failed to get conversation", http.StatusInternalServerError)
		return nil, false
	}
	return conv, true
}
