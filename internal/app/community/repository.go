package community

import (
	"context"
	"errors"

	"naberya/internal/app/user"
)

var (
	// ErrNotFound is returned by a Repository when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned by a Repository when a unique constraint is violated.
	ErrDuplicate = errors.New("duplicate record")
)

// Repository is the persistence collaborator of the domain service.
// Implementations: db.Store (PostgreSQL) and MemoryRepository.
type Repository interface {
	CreateUser(ctx context.Context, u user.User) error
	UserByID(ctx context.Context, id string) (user.User, error)
	UserByUsername(ctx context.Context, username string) (user.User, error)
	UpdateUserAvatar(ctx context.Context, id, avatar string) error

	// CreateServer stores the server, its channels and the owner membership atomically.
	CreateServer(ctx context.Context, s Server, channels []Channel) error
	ServerByID(ctx context.Context, id string) (Server, error)
	ServerByInviteCode(ctx context.Context, code string) (Server, error)
	ServersByMember(ctx context.Context, userID string) ([]Server, error)
	DeleteServer(ctx context.Context, id string) error

	AddMember(ctx context.Context, serverID, userID string) error
	RemoveMember(ctx context.Context, serverID, userID string) error
	Members(ctx context.Context, serverID string) ([]user.Profile, error)

	CreateChannel(ctx context.Context, ch Channel) error
	ChannelByID(ctx context.Context, id string) (Channel, error)
	ChannelsByServer(ctx context.Context, serverID string) ([]Channel, error)
	DeleteChannel(ctx context.Context, id string) error

	SaveMessage(ctx context.Context, m Message) error
	// RecentMessages returns at most limit of the newest messages, oldest first.
	RecentMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
}
