package routes

import (
	"log/slog"
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/msniranjan18/chit-call/config"
	"github.com/msniranjan18/chit-call/pkg/auth"
	"github.com/msniranjan18/chit-call/pkg/handlers"
	"github.com/msniranjan18/chit-call/pkg/hub"
	"github.com/msniranjan18/chit-call/pkg/store"
)

func NewRouter(h *hub.Hub, s store.Store, cfg *config.Config, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	// Create handlers
	authHandler := handlers.NewAuthHandler(s, logger)
	userHandler := handlers.NewUserHandler(s, h.Registry(), logger)
	conversationHandler := handlers.NewConversationHandler(s, s, h, logger)
	messageHandler := handlers.NewMessageHandler(s, h, cfg.Messages, logger)

	// Authentication endpoints (no auth required)
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// WebSocket endpoint
	mux.HandleFunc("GET /ws", handlers.HandleWS(h, s, cfg.WebSocket, logger))

	mux.Handle("GET /swagger/", httpSwagger.WrapHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// API endpoints with authentication middleware
	apiRouter := http.NewServeMux()

	// Auth endpoints (require auth)
	apiRouter.HandleFunc("POST /api/auth/refresh", authHandler.RefreshToken)
	apiRouter.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	apiRouter.HandleFunc("GET /api/auth/verify", authHandler.Verify)

	// User endpoints
	apiRouter.HandleFunc("GET /api/users/me", userHandler.GetCurrentUser)
	apiRouter.HandleFunc("GET /api/users/search", userHandler.SearchUsers)
	apiRouter.HandleFunc("GET /api/users/online", userHandler.GetOnlineUsers)
	apiRouter.HandleFunc("GET /api/users/{id}", userHandler.GetUser)

	// Conversation endpoints
	apiRouter.HandleFunc("GET /api/conversations", conversationHandler.GetConversations)
	apiRouter.HandleFunc("POST /api/conversations", conversationHandler.CreateConversation)
	apiRouter.HandleFunc("GET /api/conversations/{id}", conversationHandler.GetConversation)
	apiRouter.HandleFunc("POST /api/conversations/{id}/read", conversationHandler.MarkRead)

	// Message endpoints
	apiRouter.HandleFunc("GET /api/messages", messageHandler.GetMessages)
	apiRouter.HandleFunc("POST /api/messages", messageHandler.SendMessage)

	// Apply authentication middleware to API routes
	mux.Handle("/api/", auth.AuthMiddleware(s)(apiRouter))

	return mux
}
