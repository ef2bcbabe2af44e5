package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/msniranjan18/chit-call/config"
	"github.com/msniranjan18/chit-call/pkg/auth"
	"github.com/msniranjan18/chit-call/pkg/hub"
	"github.com/msniranjan18/chit-call/pkg/routes"
	"github.com/msniranjan18/chit-call/pkg/store"

	_ "github.com/msniranjan18/chit-call/docs"
)

// @title						Chit-Call API
// @version					1.0
// @description				Direct messaging with presence and WebRTC call signaling.
// @BasePath					/api
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	cfg := config.Load()
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting Chit-Call server", "port", cfg.Server.Port, "env", cfg.Server.Env)

	// 1. Initialize Redis (optional)
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		var err error
		rdb, err = store.InitRedis(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	// 2. Initialize Storage
	logger.Info("Initializing storage", "driver", cfg.Store.Driver)
	storage, err := store.NewStore(ctx, store.Driver(cfg.Store.Driver), cfg.Database, rdb, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	go store.StartCleanupWorker(ctx, storage, time.Hour, 30*24*time.Hour, logger)

	// 3. Initialize JWT authentication
	auth.InitJWT(cfg.JWT.Secret, cfg.JWT.Expiration)

	// 4. Initialize WebSocket Hub
	wsHub := hub.NewHub(storage, hub.Options{
		WebSocket:   cfg.WebSocket,
		RingTimeout: cfg.Call.RingTimeout,
	}, logger)
	if rdb != nil {
		wsHub.SetRelay(hub.NewRelay(rdb, logger))
		go wsHub.ListenToRedis(ctx)
	}
	go wsHub.Run(ctx)

	// 5. Start HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      routes.NewRouter(wsHub, storage, cfg, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server is ready to accept connections", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server failed", "error", err)
		}
		stop()
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}

	select {
	case <-wsHub.Done():
	case <-shutdownCtx.Done():
		logger.Warn("Hub did not stop in time")
	}
	logger.Info("Server stopped")
}
