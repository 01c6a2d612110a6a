package community

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"naberya/internal/app/user"
	"naberya/internal/pkg/errs"
	"naberya/internal/pkg/logx"
	"naberya/internal/pkg/randx"
)

const (
	// MaxServerNameLength is the maximum server name length in characters.
	MaxServerNameLength = 50

	// MaxChannelNameLength is the maximum channel name length in characters.
	MaxChannelNameLength = 50

	// MaxContentBytes is the maximum size of a message body.
	MaxContentBytes = 5000

	minPasswordLength = 6
	maxPasswordLength = 50

	// maxInviteAttempts bounds retries on invite code collisions.
	maxInviteAttempts = 5
)

// ErrNotPermitted is returned for owner-gated operations attempted by a non-owner,
// and for kicking the owner. Callers drop these requests without replying.
var ErrNotPermitted = errors.New("operation not permitted")

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.]{3,20}$`)

// Options configures the Service.
type Options struct {
	// HistoryLimit is the number of messages returned by History.
	HistoryLimit int

	// AvatarBaseURL and IconBaseURL point to the external image services used for
	// generated avatars and server icons.
	AvatarBaseURL string
	IconBaseURL   string
}

// Service is the domain service.
type Service struct {
	repo   Repository
	hasher PasswordHasher
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, hasher PasswordHasher, opts Options) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}

	return &Service{
		repo:   repo,
		hasher: hasher,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		logger: logx.Component("community"),
	}
}

// Register creates an account and returns it.
func (s *Service) Register(ctx context.Context, username, password string) (user.User, error) {
	username = strings.TrimSpace(username)
	if !usernameRegex.MatchString(username) {
		return user.User{}, errs.NewError(errs.ErrInvalidUsername)
	}

	passwordLen := utf8.RuneCountInString(password)
	if passwordLen < minPasswordLength || passwordLen > maxPasswordLength {
		return user.User{}, errs.NewError(errs.ErrInvalidPassword)
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return user.User{}, errs.NewError(errs.ErrUnknown, err)
	}

	u := user.User{
		ID:              randx.NewID(),
		Username:        username,
		PasswordHash:    hashed,
		Avatar:          s.avatarURL(username),
		JoinedServerIDs: []string{},
		CreatedAt:       s.now(),
	}

	if err := s.repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicate) {
			s.logger.Info().Str("username", username).Msg("Registration conflict: username already exists")
			return user.User{}, errs.NewError(errs.ErrUserAlreadyExists)
		}
		return user.User{}, errs.NewError(errs.ErrUnknown, err)
	}

	s.logger.Info().Str("user_id", u.ID).Str("username", username).Msg("User registered")
	return u, nil
}

// Login verifies credentials and returns the account.
func (s *Service) Login(ctx context.Context, username, password string) (user.User, error) {
	u, err := s.repo.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return user.User{}, errs.NewError(errs.ErrInvalidCredentials)
		}
		return user.User{}, errs.NewError(errs.ErrUnknown, err)
	}

	if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
		s.logger.Info().Str("username", u.Username).Msg("Login failed: password mismatch")
		return user.User{}, errs.NewError(errs.ErrInvalidCredentials)
	}

	return u, nil
}

// UserByID loads an account by id.
func (s *Service) UserByID(ctx context.Context, id string) (user.User, error) {
	canonical, ok := randx.NormalizeID(id)
	if !ok {
		return user.User{}, errs.NewError(errs.ErrUserNotFound)
	}

	u, err := s.repo.UserByID(ctx, canonical)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return user.User{}, errs.NewError(errs.ErrUserNotFound)
		}
		return user.User{}, errs.NewError(errs.ErrUnknown, err)
	}

	return u, nil
}

// UpdateAvatar replaces the avatar reference of an account.
func (s *Service) UpdateAvatar(ctx context.Context, userID, avatar string) (user.User, error) {
	u, err := s.UserByID(ctx, userID)
	if err != nil {
		return user.User{}, err
	}

	if err := s.repo.UpdateUserAvatar(ctx, u.ID, avatar); err != nil {
		return user.User{}, errs.NewError(errs.ErrUnknown, err)
	}

	u.Avatar = avatar
	return u, nil
}

// ServersOf returns the servers userID belongs to.
func (s *Service) ServersOf(ctx context.Context, userID string) ([]Server, error) {
	servers, err := s.repo.ServersByMember(ctx, userID)
	if err != nil {
		return nil, errs.NewError(errs.ErrUnknown, err)
	}
	return servers, nil
}

// CreateServer creates a server owned by ownerID with a default text and voice channel.
func (s *Service) CreateServer(ctx context.Context, ownerID, name string) (ServerDetail, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxServerNameLength {
		return ServerDetail{}, errs.NewError(errs.ErrInvalidServerName, MaxServerNameLength)
	}

	owner, err := s.UserByID(ctx, ownerID)
	if err != nil {
		return ServerDetail{}, err
	}

	now := s.now()
	server := Server{
		ID:        randx.NewID(),
		Name:      name,
		Icon:      s.iconURL(name),
		OwnerID:   owner.ID,
		MemberIDs: []string{owner.ID},
		CreatedAt: now,
	}

	channels := []Channel{
		{ID: randx.NewID(), Name: DefaultTextChannelName, Kind: ChannelText, ServerID: server.ID, CreatedAt: now},
		{ID: randx.NewID(), Name: DefaultVoiceChannelName, Kind: ChannelVoice, ServerID: server.ID, CreatedAt: now},
	}
	for _, ch := range channels {
		server.ChannelIDs = append(server.ChannelIDs, ch.ID)
	}

	for attempt := 1; ; attempt++ {
		code, err := randx.InviteCode()
		if err != nil {
			return ServerDetail{}, errs.NewError(errs.ErrUnknown, err)
		}
		server.InviteCode = code

		err = s.repo.CreateServer(ctx, server, channels)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicate) || attempt == maxInviteAttempts {
			return ServerDetail{}, errs.NewError(errs.ErrUnknown, err)
		}

		s.logger.Warn().Int("attempt", attempt).Msg("Invite code collision, retrying")
	}

	s.logger.Info().
		Str("server_id", server.ID).
		Str("owner_id", owner.ID).
		Str("invite_code", server.InviteCode).
		Msg("Server created")

	return ServerDetail{
		Server:   server,
		Channels: channels,
		Members:  []user.Profile{owner.Profile()},
	}, nil
}

// JoinByCode adds userID to the server identified by the invite code.
func (s *Service) JoinByCode(ctx context.Context, userID, code string) (Server, error) {
	code = randx.NormalizeInviteCode(code)
	if !randx.IsValidInviteCode(code) {
		return Server{}, errs.NewError(errs.ErrInvalidInviteCode)
	}

	server, err := s.repo.ServerByInviteCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Server{}, errs.NewError(errs.ErrInvalidInviteCode)
		}
		return Server{}, errs.NewError(errs.ErrUnknown, err)
	}

	if server.IsMember(userID) {
		return Server{}, errs.NewError(errs.ErrAlreadyMember)
	}

	if err := s.repo.AddMember(ctx, server.ID, userID); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Server{}, errs.NewError(errs.ErrAlreadyMember)
		}
		return Server{}, errs.NewError(errs.ErrUnknown, err)
	}

	return s.server(ctx, server.ID)
}

// ServerDetail returns the resolved server for one of its members.
func (s *Service) ServerDetail(ctx context.Context, actorID, serverID string) (ServerDetail, error) {
	server, err := s.memberServer(ctx, actorID, serverID)
	if err != nil {
		return ServerDetail{}, err
	}
	return s.detail(ctx, server)
}

// IsMember reports whether userID currently belongs to the server. A deleted or
// unknown server has no members.
func (s *Service) IsMember(ctx context.Context, userID, serverID string) (bool, error) {
	server, err := s.server(ctx, serverID)
	if err != nil {
		if errs.Is(err, errs.ErrServerNotFound) {
			return false, nil
		}
		return false, err
	}
	return server.IsMember(userID), nil
}

// CreateChannel adds a channel to a server owned by actorID.
func (s *Service) CreateChannel(ctx context.Context, actorID, serverID, name string, kind ChannelKind) (ServerDetail, error) {
	server, err := s.ownedServer(ctx, actorID, serverID)
	if err != nil {
		return ServerDetail{}, err
	}

	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxChannelNameLength {
		return ServerDetail{}, errs.NewError(errs.ErrInvalidChannelName, MaxChannelNameLength)
	}
	if kind == "" {
		kind = ChannelText
	}
	if !kind.Valid() {
		return ServerDetail{}, errs.NewError(errs.ErrInvalidParams)
	}

	ch := Channel{
		ID:        randx.NewID(),
		Name:      name,
		Kind:      kind,
		ServerID:  server.ID,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateChannel(ctx, ch); err != nil {
		return ServerDetail{}, errs.NewError(errs.ErrUnknown, err)
	}

	server, err = s.server(ctx, server.ID)
	if err != nil {
		return ServerDetail{}, err
	}
	return s.detail(ctx, server)
}

// DeleteChannel removes a channel from a server owned by actorID. It returns the
// updated server and the deleted channel.
func (s *Service) DeleteChannel(ctx context.Context, actorID, serverID, channelID string) (ServerDetail, Channel, error) {
	server, err := s.ownedServer(ctx, actorID, serverID)
	if err != nil {
		return ServerDetail{}, Channel{}, err
	}

	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return ServerDetail{}, Channel{}, err
	}
	if ch.ServerID != server.ID {
		return ServerDetail{}, Channel{}, errs.NewError(errs.ErrChannelNotFound)
	}

	if err := s.repo.DeleteChannel(ctx, ch.ID); err != nil {
		return ServerDetail{}, Channel{}, errs.NewError(errs.ErrUnknown, err)
	}

	server, err = s.server(ctx, server.ID)
	if err != nil {
		return ServerDetail{}, Channel{}, err
	}

	detail, err := s.detail(ctx, server)
	return detail, ch, err
}

// DeleteServer removes a server owned by actorID together with its channels and
// messages. It returns the deleted server and its channels.
func (s *Service) DeleteServer(ctx context.Context, actorID, serverID string) (Server, []Channel, error) {
	server, err := s.ownedServer(ctx, actorID, serverID)
	if err != nil {
		return Server{}, nil, err
	}

	channels, err := s.repo.ChannelsByServer(ctx, server.ID)
	if err != nil {
		return Server{}, nil, errs.NewError(errs.ErrUnknown, err)
	}

	if err := s.repo.DeleteServer(ctx, server.ID); err != nil {
		return Server{}, nil, errs.NewError(errs.ErrUnknown, err)
	}

	s.logger.Info().Str("server_id", server.ID).Int("channels", len(channels)).Msg("Server deleted")
	return server, channels, nil
}

// KickMember removes targetID from a server owned by actorID and returns the new member list.
func (s *Service) KickMember(ctx context.Context, actorID, serverID, targetID string) ([]user.Profile, error) {
	server, err := s.ownedServer(ctx, actorID, serverID)
	if err != nil {
		return nil, err
	}

	target, ok := randx.NormalizeID(targetID)
	if !ok || !server.IsMember(target) {
		return nil, errs.NewError(errs.ErrUserNotFound)
	}
	if target == server.OwnerID {
		return nil, ErrNotPermitted
	}

	if err := s.repo.RemoveMember(ctx, server.ID, target); err != nil {
		return nil, errs.NewError(errs.ErrUnknown, err)
	}

	members, err := s.repo.Members(ctx, server.ID)
	if err != nil {
		return nil, errs.NewError(errs.ErrUnknown, err)
	}
	return members, nil
}

// TextChannel returns a text channel visible to actorID.
func (s *Service) TextChannel(ctx context.Context, actorID, channelID string) (Channel, error) {
	return s.memberChannel(ctx, actorID, channelID, ChannelText)
}

// VoiceChannel returns a voice channel visible to actorID.
func (s *Service) VoiceChannel(ctx context.Context, actorID, channelID string) (Channel, error) {
	return s.memberChannel(ctx, actorID, channelID, ChannelVoice)
}

// History returns the configured number of newest messages of a text channel, oldest first.
func (s *Service) History(ctx context.Context, actorID, channelID string) (Channel, []Message, error) {
	ch, err := s.TextChannel(ctx, actorID, channelID)
	if err != nil {
		return Channel{}, nil, err
	}

	messages, err := s.repo.RecentMessages(ctx, ch.ID, s.opts.HistoryLimit)
	if err != nil {
		return Channel{}, nil, errs.NewError(errs.ErrUnknown, err)
	}
	return ch, messages, nil
}

// PostMessage persists a message from sender in a text channel. avatar overrides the
// sender's stored avatar when non-empty.
func (s *Service) PostMessage(ctx context.Context, sender user.Profile, channelID, content, avatar string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, errs.NewError(errs.ErrMessageContentEmpty)
	}
	if len(content) > MaxContentBytes {
		return Message{}, errs.NewError(errs.ErrMessageContentTooLong)
	}

	ch, err := s.TextChannel(ctx, sender.ID, channelID)
	if err != nil {
		return Message{}, err
	}

	if avatar == "" {
		avatar = sender.Avatar
	}

	msg := Message{
		ID:           randx.NewID(),
		Content:      content,
		ChannelID:    ch.ID,
		SenderID:     sender.ID,
		SenderName:   sender.Username,
		SenderAvatar: avatar,
		CreatedAt:    s.now(),
	}

	if err := s.repo.SaveMessage(ctx, msg); err != nil {
		return Message{}, errs.NewError(errs.ErrUnknown, err)
	}
	return msg, nil
}

func (s *Service) server(ctx context.Context, serverID string) (Server, error) {
	canonical, ok := randx.NormalizeID(serverID)
	if !ok {
		return Server{}, errs.NewError(errs.ErrServerNotFound)
	}

	server, err := s.repo.ServerByID(ctx, canonical)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Server{}, errs.NewError(errs.ErrServerNotFound)
		}
		return Server{}, errs.NewError(errs.ErrUnknown, err)
	}
	return server, nil
}

// memberServer hides servers from non-members behind ErrServerNotFound.
func (s *Service) memberServer(ctx context.Context, actorID, serverID string) (Server, error) {
	server, err := s.server(ctx, serverID)
	if err != nil {
		return Server{}, err
	}
	if !server.IsMember(actorID) {
		return Server{}, errs.NewError(errs.ErrServerNotFound)
	}
	return server, nil
}

func (s *Service) ownedServer(ctx context.Context, actorID, serverID string) (Server, error) {
	server, err := s.server(ctx, serverID)
	if err != nil {
		return Server{}, err
	}
	if server.OwnerID != actorID {
		return Server{}, ErrNotPermitted
	}
	return server, nil
}

func (s *Service) channel(ctx context.Context, channelID string) (Channel, error) {
	canonical, ok := randx.NormalizeID(channelID)
	if !ok {
		return Channel{}, errs.NewError(errs.ErrChannelNotFound)
	}

	ch, err := s.repo.ChannelByID(ctx, canonical)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Channel{}, errs.NewError(errs.ErrChannelNotFound)
		}
		return Channel{}, errs.NewError(errs.ErrUnknown, err)
	}
	return ch, nil
}

func (s *Service) memberChannel(ctx context.Context, actorID, channelID string, kind ChannelKind) (Channel, error) {
	ch, err := s.channel(ctx, channelID)
	if err != nil {
		return Channel{}, err
	}

	if _, err := s.memberServer(ctx, actorID, ch.ServerID); err != nil {
		return Channel{}, errs.NewError(errs.ErrChannelNotFound)
	}

	if ch.Kind != kind {
		return Channel{}, errs.NewError(errs.ErrChannelKindMismatch, ch.Kind)
	}
	return ch, nil
}

func (s *Service) detail(ctx context.Context, server Server) (ServerDetail, error) {
	channels, err := s.repo.ChannelsByServer(ctx, server.ID)
	if err != nil {
		return ServerDetail{}, errs.NewError(errs.ErrUnknown, err)
	}

	members, err := s.repo.Members(ctx, server.ID)
	if err != nil {
		return ServerDetail{}, errs.NewError(errs.ErrUnknown, err)
	}

	return ServerDetail{Server: server, Channels: channels, Members: members}, nil
}

func (s *Service) avatarURL(username string) string {
	return s.opts.AvatarBaseURL + "?seed=" + url.QueryEscape(username)
}

func (s *Service) iconURL(name string) string {
	return s.opts.IconBaseURL + "?name=" + url.QueryEscape(name) + "&background=random"
}
