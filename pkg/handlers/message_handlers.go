package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/msniranjan18/chit-call/config"
	"github.com/msniranjan18/chit-call/pkg/auth"
	"github.com/msniranjan18/chit-call/pkg/events"
	"github.com/msniranjan18/chit-call/pkg/models"
	"github.com/msniranjan18/chit-call/pkg/store"
)

const maxContentLength = 4096

type MessageHandler struct {
	store    store.ConversationStore
	notifier Notifier
	paging   config.MessagesConfig
	logger   *slog.Logger
}

func NewMessageHandler(conversations store.ConversationStore, notifier Notifier, paging config.MessagesConfig, logger *slog.Logger) *MessageHandler {
	if paging.PageSize <= 0 {
		paging.PageSize = store.DefaultPageSize
	}
	if paging.MaxPageSize < paging.PageSize {
		paging.MaxPageSize = paging.PageSize
	}
	return &MessageHandler{store: conversations, notifier: notifier, paging: paging, logger: logger}
}

// GetMessages godoc
// @Summary      Page backwards through a conversation
// @Description  Page 1 holds the newest messages. Each page is chronological.
// @Tags         messages
// @Security     BearerAuth
// @Produce      json
// @Param        conversation_id  query     string  true   "Conversation ID"
// @Param        page             query     int     false  "Page, starting at 1"
// @Param        limit            query     int     false  "Page size"
// @Success      200              {object}  models.MessagePage
// @Failure      404              {string}  string
// @Router       /messages [get]
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		http.Error(w, "Conversation ID is required", http.StatusBadRequest)
		return
	}

	conv, ok := loadMembership(w, r, h.store, conversationID, h.logger)
	if !ok {
		return
	}

	page := 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}

	limit := h.paging.PageSize
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = min(l, h.paging.MaxPageSize)
	}

	result, err := h.store.ListMessages(r.Context(), conv.ID, page, limit)
	if err != nil {
		h.logger.Error("GetMessages: failed", "error", err, "conversation_id", conv.ID)
		http.Error(w, "Failed to get messages", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// SendMessage godoc
// @Summary      Send a message
// @Description  The client_id is echoed back untouched for correlation.
// @Tags         messages
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      models.MessageRequest  true  "Message"
// @Success      201      {object}  models.MessageResponse
// @Failure      400      {string}  string
// @Failure      404      {string}  string
// @Router       /messages [post]
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())

	var req models.MessageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("SendMessage: invalid request body", "error", err, "user_id", userID)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.ConversationID == "" {
		http.Error(w, "Conversation ID is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "Message content is required", http.StatusBadRequest)
		return
	}
	if utf8.RuneCountInString(req.Content) > maxContentLength {
		http.Error(w, "Message content is too long", http.StatusBadRequest)
		return
	}

	conv, ok := loadMembership(w, r, h.store, req.ConversationID, h.logger)
	if !ok {
		return
	}

	message, err := h.store.AppendMessage(r.Context(), conv.ID, userID, req.Content, req.ReplyTo)
	if err != nil {
		h.logger.Error("SendMessage: failed to save message", "error", err, "conversation_id", conv.ID, "user_id", userID)
		http.Error(w, "Failed to send message", http.StatusInternalServerError)
		return
	}

	h.notifier.Notify(r.Context(), conv.Peer(userID), events.TypeNewMessage, userID, message)

	h.logger.Debug("Message sent", "message_id", message.ID, "conversation_id", conv.ID, "user_id", userID)
	writeJSON(w, http.StatusCreated, models.MessageResponse{Message: *message, ClientID: req.ClientID})
}
