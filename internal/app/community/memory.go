package community

import (
	"context"
	"slices"
	"sort"
	"sync"

	"naberya/internal/app/user"
)

// MemoryRepository is an in-process Repository used in development when no database
// is configured, and by tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	users    map[string]user.User
	servers  map[string]Server
	channels map[string]Channel
	messages map[string][]Message
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[string]user.User),
		servers:  make(map[string]Server),
		channels: make(map[string]Channel),
		messages: make(map[string][]Message),
	}
}

var _ Repository = (*MemoryRepository)(nil)

func (m *MemoryRepository) CreateUser(_ context.Context, u user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrDuplicate
		}
	}

	u.JoinedServerIDs = nil
	m.users[u.ID] = u
	return nil
}

func (m *MemoryRepository) UserByID(_ context.Context, id string) (user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return user.User{}, ErrNotFound
	}
	return m.withServers(u), nil
}

func (m *MemoryRepository) UserByUsername(_ context.Context, username string) (user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Username == username {
			return m.withServers(u), nil
		}
	}
	return user.User{}, ErrNotFound
}

func (m *MemoryRepository) UpdateUserAvatar(_ context.Context, id, avatar string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Avatar = avatar
	m.users[id] = u
	return nil
}

func (m *MemoryRepository) CreateServer(_ context.Context, s Server, channels []Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.servers {
		if existing.InviteCode == s.InviteCode {
			return ErrDuplicate
		}
	}
	if _, ok := m.users[s.OwnerID]; !ok {
		return ErrNotFound
	}

	s.ChannelIDs = nil
	s.MemberIDs = []string{s.OwnerID}
	for _, ch := range channels {
		m.channels[ch.ID] = ch
	}
	m.servers[s.ID] = s
	return nil
}

func (m *MemoryRepository) ServerByID(_ context.Context, id string) (Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.servers[id]
	if !ok {
		return Server{}, ErrNotFound
	}
	return m.resolve(s), nil
}

func (m *MemoryRepository) ServerByInviteCode(_ context.Context, code string) (Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.servers {
		if s.InviteCode == code {
			return m.resolve(s), nil
		}
	}
	return Server{}, ErrNotFound
}

func (m *MemoryRepository) ServersByMember(_ context.Context, userID string) ([]Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	servers := []Server{}
	for _, s := range m.servers {
		if slices.Contains(s.MemberIDs, userID) {
			servers = append(servers, m.resolve(s))
		}
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].CreatedAt.Before(servers[j].CreatedAt) })
	return servers, nil
}

func (m *MemoryRepository) DeleteServer(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[id]; !ok {
		return ErrNotFound
	}
	for chID, ch := range m.channels {
		if ch.ServerID == id {
			delete(m.channels, chID)
			delete(m.messages, chID)
		}
	}
	delete(m.servers, id)
	return nil
}

func (m *MemoryRepository) AddMember(_ context.Context, serverID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[serverID]
	if !ok {
		return ErrNotFound
	}
	if slices.Contains(s.MemberIDs, userID) {
		return ErrDuplicate
	}
	s.MemberIDs = append(slices.Clone(s.MemberIDs), userID)
	m.servers[serverID] = s
	return nil
}

func (m *MemoryRepository) RemoveMember(_ context.Context, serverID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[serverID]
	if !ok {
		return ErrNotFound
	}
	s.MemberIDs = slices.DeleteFunc(slices.Clone(s.MemberIDs), func(id string) bool { return id == userID })
	m.servers[serverID] = s
	return nil
}

func (m *MemoryRepository) Members(_ context.Context, serverID string) ([]user.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.servers[serverID]
	if !ok {
		return nil, ErrNotFound
	}

	members := make([]user.Profile, 0, len(s.MemberIDs))
	for _, id := range s.MemberIDs {
		if u, ok := m.users[id]; ok {
			members = append(members, u.Profile())
		}
	}
	return members, nil
}

func (m *MemoryRepository) CreateChannel(_ context.Context, ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[ch.ServerID]; !ok {
		return ErrNotFound
	}
	m.channels[ch.ID] = ch
	return nil
}

func (m *MemoryRepository) ChannelByID(_ context.Context, id string) (Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.channels[id]
	if !ok {
		return Channel{}, ErrNotFound
	}
	return ch, nil
}

func (m *MemoryRepository) ChannelsByServer(_ context.Context, serverID string) ([]Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.channelsOf(serverID), nil
}

func (m *MemoryRepository) DeleteChannel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.channels[id]; !ok {
		return ErrNotFound
	}
	delete(m.channels, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryRepository) SaveMessage(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.channels[msg.ChannelID]; !ok {
		return ErrNotFound
	}
	m.messages[msg.ChannelID] = append(m.messages[msg.ChannelID], msg)
	return nil
}

func (m *MemoryRepository) RecentMessages(_ context.Context, channelID string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[channelID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return slices.Clone(all), nil
}

// channelsOf must be called with mu held.
func (m *MemoryRepository) channelsOf(serverID string) []Channel {
	channels := []Channel{}
	for _, ch := range m.channels {
		if ch.ServerID == serverID {
			channels = append(channels, ch)
		}
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].CreatedAt.Equal(channels[j].CreatedAt) {
			return channels[i].Kind < channels[j].Kind
		}
		return channels[i].CreatedAt.Before(channels[j].CreatedAt)
	})
	return channels
}

// resolve fills ChannelIDs and copies MemberIDs; must be called with mu held.
func (m *MemoryRepository) resolve(s Server) Server {
	s.MemberIDs = slices.Clone(s.MemberIDs)
	s.ChannelIDs = []string{}
	for _, ch := range m.channelsOf(s.ID) {
		s.ChannelIDs = append(s.ChannelIDs, ch.ID)
	}
	return s
}

// withServers fills JoinedServerIDs; must be called with mu held.
func (m *MemoryRepository) withServers(u user.User) user.User {
	u.JoinedServerIDs = []string{}
	for _, s := range m.servers {
		if slices.Contains(s.MemberIDs, u.ID) {
			u.JoinedServerIDs = append(u.JoinedServerIDs, s.ID)
		}
	}
	sort.Strings(u.JoinedServerIDs)
	return u
}
