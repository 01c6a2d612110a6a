package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"naberya/internal/app/chat"
	"naberya/internal/pkg/limiter"
	"naberya/internal/pkg/logx"
)

// HandleWebSocket upgrades the request and serves the connection until it closes.
// Authentication happens over the socket with register, login or login-with-id.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := logx.AnonymizeIP(limiter.ClientIP(r))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket", "ip", ip)
			return
		}

		client := chat.NewClient(conn, ip)

		logx.Debug("WebSocket connection established", "ip", ip)

		if err := deps.Coordinator.Serve(client); err != nil {
			logx.Warn("WebSocket connection refused", "ip", ip, "error", err.Error())
		}
	}
}
