package handler

import (
	"naberya/internal/app/chat"
	"naberya/internal/app/community"
	"naberya/internal/app/storage"
	"naberya/internal/configs"
)

// AppDeps bundles what the HTTP surface needs.
type AppDeps struct {
	Coordinator *chat.Coordinator
	Service     *community.Service
	Config      *configs.AppConfig

	// Avatars is nil when object storage is not configured; the avatar routes are then not mounted.
	Avatars *storage.Avatars
}
