/*
Package handler provides the HTTP handlers and routing setup for the Naberya server.

This file defines the main Router, applying middleware for CORS, request ids, logging
and IP-based rate limiting before delegating to the REST handlers and the WebSocket
endpoint.
*/
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"naberya/internal/pkg/auth/jwt"
	"naberya/internal/pkg/limiter"
	"naberya/internal/pkg/logx"
	"naberya/internal/pkg/resp"
)

const (
	AuthRate     = 0.2
	AuthBurst    = 5
	ConnectRate  = 1
	ConnectBurst = 10
)

// Router sets up the main HTTP routing table. The rate limiters' sweepers stop when ctx is done.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	authLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(AuthRate), AuthBurst)
	connectLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(ConnectRate), ConnectBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, map[string]any{
			"status":      "ok",
			"service":     "Naberya",
			"connections": deps.Coordinator.Registry().Len(),
		})
	})

	r.With(connectLimiter.Middleware).Get("/ws", HandleWebSocket(deps, wsUpgrader))

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		api.Route("/auth", func(auth chi.Router) {
			auth.Use(authLimiter.Middleware)
			auth.Post("/register", HandleRegister(deps))
			auth.Post("/login", HandleLogin(deps))
		})

		api.Route("/user", func(user chi.Router) {
			user.Use(jwt.RequireIdentity)
			user.Get("/profile", HandleGetUserProfile(deps))

			if deps.Avatars != nil {
				user.Post("/avatar/presign", HandlePresignAvatar(deps))
				user.Post("/avatar", HandleConfirmAvatar(deps))
				user.Post("/avatar/upload", HandleUploadAvatar(deps))
			}
		})
	})

	return r
}
