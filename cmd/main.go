/*
Package main is the entry point for the Naberya server.

It loads configuration, initializes the global logger, opens the PostgreSQL store
(or the in-memory store in development), wires the community service, the chat
coordinator and optional avatar storage into the HTTP router, and shuts everything
down gracefully on SIGINT or SIGTERM.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"naberya/internal/app/chat"
	"naberya/internal/app/community"
	"naberya/internal/app/db"
	"naberya/internal/app/storage"
	"naberya/internal/configs"
	"naberya/internal/handler"
	"naberya/internal/pkg/logx"
)

func main() {
	// Load configuration from defaults, config file and environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("history_limit", cfg.HistoryLimit).
		Bool("storage_enabled", cfg.StorageEnabled()).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence
	var (
		repo community.Repository
		pool *pgxpool.Pool
	)
	if cfg.DatabaseDSN == "" {
		logx.Warn("DATABASE_URL is empty, using the in-memory store. Data is lost on restart.")
		repo = community.NewMemoryRepository()
	} else {
		pool, err = db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			logx.Fatal(err, "Failed to connect to the database")
		}
		defer pool.Close()
		repo = db.NewStore(pool)
	}

	service := community.NewService(repo, community.BcryptHasher{Cost: bcrypt.DefaultCost}, community.Options{
		HistoryLimit:  cfg.HistoryLimit,
		AvatarBaseURL: cfg.AvatarBaseURL,
		IconBaseURL:   cfg.IconBaseURL,
	})

	// Initialize the chat coordinator
	coordinator := chat.NewCoordinator(service, chat.Options{
		JWTSecret:      cfg.JWTSecret,
		RequestTimeout: cfg.RequestTimeout,
	})

	deps := &handler.AppDeps{
		Coordinator: coordinator,
		Service:     service,
		Config:      cfg,
	}

	if cfg.StorageEnabled() {
		store, err := storage.NewStorageService(ctx, storage.ServiceConfig{
			S3BucketName:      cfg.S3BucketName,
			S3Endpoint:        cfg.S3Endpoint,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
			AssetBaseURL:      cfg.AssetBaseURL,
		})
		if err != nil {
			logx.Fatal(err, "Failed to initialize storage service")
		}
		deps.Avatars = storage.NewAvatars(store)
	}

	// Setup HTTP server and routes
	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler.Router(ctx, deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Naberya server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Coordinator did not drain all connections")
	}

	logx.Info("Server gracefully stopped.")
}
