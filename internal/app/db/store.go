package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"naberya/internal/app/community"
	"naberya/internal/app/user"
)

// Store implements community.Repository on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an initialized pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ community.Repository = (*Store)(nil)

const selectUser = `
SELECT u.id, u.username, u.password_hash, u.avatar, u.created_at,
       COALESCE((SELECT array_agg(m.server_id::text ORDER BY m.joined_at)
                 FROM server_members m WHERE m.user_id = u.id), '{}')
FROM users u`

const selectServer = `
SELECT s.id, s.name, s.icon, s.invite_code, s.owner_id, s.created_at,
       COALESCE((SELECT array_agg(c.id::text ORDER BY c.created_at, c.kind)
                 FROM channels c WHERE c.server_id = s.id), '{}'),
       COALESCE((SELECT array_agg(m.user_id::text ORDER BY m.joined_at)
                 FROM server_members m WHERE m.server_id = s.id), '{}')
FROM servers s`

const selectChannel = `SELECT id, server_id, name, kind, created_at FROM channels`

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Avatar, &u.CreatedAt, &u.JoinedServerIDs)
	return u, notFound(err)
}

func scanServer(row pgx.Row) (community.Server, error) {
	var s community.Server
	err := row.Scan(&s.ID, &s.Name, &s.Icon, &s.InviteCode, &s.OwnerID, &s.CreatedAt, &s.ChannelIDs, &s.MemberIDs)
	return s, notFound(err)
}

func scanChannel(row pgx.Row) (community.Channel, error) {
	var ch community.Channel
	err := row.Scan(&ch.ID, &ch.ServerID, &ch.Name, &ch.Kind, &ch.CreatedAt)
	return ch, notFound(err)
}

// notFound maps pgx.ErrNoRows to community.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return community.ErrNotFound
	}
	return err
}

// constraint maps constraint violations to the repository sentinels.
func constraint(err error) error {
	switch {
	case err == nil:
		return nil
	case IsUniqueViolation(err):
		return community.ErrDuplicate
	case IsForeignKeyViolation(err):
		return community.ErrNotFound
	default:
		return err
	}
}

func (s *Store) CreateUser(ctx context.Context, u user.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, avatar, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.PasswordHash, u.Avatar, u.CreatedAt)
	return constraint(err)
}

func (s *Store) UserByID(ctx context.Context, id string) (user.User, error) {
	return scanUser(s.pool.QueryRow(ctx, selectUser+` WHERE u.id = $1`, id))
}

func (s *Store) UserByUsername(ctx context.Context, username string) (user.User, error) {
	return scanUser(s.pool.QueryRow(ctx, selectUser+` WHERE u.username = $1`, username))
}

func (s *Store) UpdateUserAvatar(ctx context.Context, id, avatar string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET avatar = $2 WHERE id = $1`, id, avatar)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return community.ErrNotFound
	}
	return nil
}

// CreateServer inserts the server, the owner membership and the channels in one transaction.
func (s *Store) CreateServer(ctx context.Context, server community.Server, channels []community.Channel) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO servers (id, name, icon, invite_code, owner_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			server.ID, server.Name, server.Icon, server.InviteCode, server.OwnerID, server.CreatedAt); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO server_members (server_id, user_id, joined_at) VALUES ($1, $2, $3)`,
			server.ID, server.OwnerID, server.CreatedAt); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, ch := range channels {
			batch.Queue(
				`INSERT INTO channels (id, server_id, name, kind, created_at) VALUES ($1, $2, $3, $4, $5)`,
				ch.ID, server.ID, ch.Name, string(ch.Kind), ch.CreatedAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert default channels: %w", err)
		}
		return nil
	})
	return constraint(err)
}

func (s *Store) ServerByID(ctx context.Context, id string) (community.Server, error) {
	return scanServer(s.pool.QueryRow(ctx, selectServer+` WHERE s.id = $1`, id))
}

func (s *Store) ServerByInviteCode(ctx context.Context, code string) (community.Server, error) {
	return scanServer(s.pool.QueryRow(ctx, selectServer+` WHERE s.invite_code = $1`, code))
}

func (s *Store) ServersByMember(ctx context.Context, userID string) ([]community.Server, error) {
	rows, err := s.pool.Query(ctx, selectServer+`
WHERE EXISTS (SELECT 1 FROM server_members m WHERE m.server_id = s.id AND m.user_id = $1)
ORDER BY s.created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	servers := []community.Server{}
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

func (s *Store) DeleteServer(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return community.ErrNotFound
	}
	return nil
}

func (s *Store) AddMember(ctx context.Context, serverID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO server_members (server_id, user_id) VALUES ($1, $2)`, serverID, userID)
	return constraint(err)
}

func (s *Store) RemoveMember(ctx context.Context, serverID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM server_members WHERE server_id = $1 AND user_id = $2`, serverID, userID)
	return err
}

func (s *Store) Members(ctx context.Context, serverID string) ([]user.Profile, error) {
	rows, err := s.pool.Query(ctx, `
SELECT u.id, u.username, u.avatar
FROM server_members m JOIN users u ON u.id = m.user_id
WHERE m.server_id = $1
ORDER BY m.joined_at`, serverID)
	if err != nil {
		return nil, err
	}

	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (user.Profile, error) {
		var p user.Profile
		err := row.Scan(&p.ID, &p.Username, &p.Avatar)
		return p, err
	})
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []user.Profile{}
	}
	return members, nil
}

func (s *Store) CreateChannel(ctx context.Context, ch community.Channel) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO channels (id, server_id, name, kind, created_at) VALUES ($1, $2, $3, $4, $5)`,
		ch.ID, ch.ServerID, ch.Name, string(ch.Kind), ch.CreatedAt)
	return constraint(err)
}

func (s *Store) ChannelByID(ctx context.Context, id string) (community.Channel, error) {
	return scanChannel(s.pool.QueryRow(ctx, selectChannel+` WHERE id = $1`, id))
}

func (s *Store) ChannelsByServer(ctx context.Context, serverID string) ([]community.Channel, error) {
	rows, err := s.pool.Query(ctx, selectChannel+` WHERE server_id = $1 ORDER BY created_at, kind`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []community.Channel{}
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return community.ErrNotFound
	}
	return nil
}

func (s *Store) SaveMessage(ctx context.Context, m community.Message) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO messages (id, channel_id, sender_id, sender_name, sender_avatar, content, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ChannelID, m.SenderID, m.SenderName, m.SenderAvatar, m.Content, m.CreatedAt)
	return constraint(err)
}

// RecentMessages reads the newest rows by insertion sequence and returns them oldest first.
func (s *Store) RecentMessages(ctx context.Context, channelID string, limit int) ([]community.Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, content, channel_id, sender_id, sender_name, sender_avatar, created_at FROM (
    SELECT seq, id, content, channel_id, sender_id, sender_name, sender_avatar, created_at
    FROM messages WHERE channel_id = $1
    ORDER BY seq DESC LIMIT $2
) recent ORDER BY seq ASC`, channelID, limit)
	if err != nil {
		return nil, err
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (community.Message, error) {
		var m community.Message
		err := row.Scan(&m.ID, &m.Content, &m.ChannelID, &m.SenderID, &m.SenderName, &m.SenderAvatar, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []community.Message{}
	}
	return messages, nil
}
