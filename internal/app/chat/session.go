package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"naberya/internal/app/community"
	"naberya/internal/app/user"
	"naberya/internal/pkg/auth/jwt"
	"naberya/internal/pkg/errs"
	"naberya/internal/pkg/randx"
)

// Session is the per-connection state machine. Inbound events run sequentially on the
// connection's read goroutine. Authentication state lives in the registry binding;
// the active server, text and voice rooms live in the index.
type Session struct {
	co   *Coordinator
	conn *Connection

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards tokenExpiry, which the write goroutine reads on heartbeats.
	mu          sync.Mutex
	tokenExpiry time.Time

	closeOnce sync.Once

	logger zerolog.Logger
}

// ID returns the connection id.
func (s *Session) ID() string { return s.conn.ID }

// Connection returns the registered connection.
func (s *Session) Connection() *Connection { return s.conn }

// HandleFrame decodes and dispatches one inbound frame. Frames that are not envelopes
// are answered with ErrInvalidJSONFormat.
func (s *Session) HandleFrame(frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Type == "" {
		s.logger.Warn().Err(err).Int("frame_bytes", len(frame)).Msg("Client sent invalid JSON")
		s.sendError(EventError, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	s.dispatch(env)
}

// Close tears the session down once: it leaves every room, tells former voice peers,
// and unregisters the connection. It never writes to the closing connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()

		left := s.co.index.LeaveAll(s.conn.ID)
		for _, roomID := range left {
			if roomID.Kind() == RoomVoice {
				s.co.relay.NotifyVoiceDeparture(roomID, s.conn)
			}
		}

		s.co.registry.Unregister(s.conn.ID)
		s.conn.close()
		s.co.wg.Done()

		s.logger.Debug().Int("rooms_left", len(left)).Msg("Connection torn down.")
	})
}

// RefreshToken issues a new token when the current one is within jwt.RefreshWindow
// of expiry. It runs on the write goroutine heartbeat.
func (s *Session) RefreshToken() {
	id, bound := s.conn.Identity()
	if !bound {
		return
	}

	s.mu.Lock()
	expiry := s.tokenExpiry
	s.mu.Unlock()

	if expiry.IsZero() || time.Now().Before(expiry.Add(-jwt.RefreshWindow)) {
		return
	}

	s.logger.Info().Time("current_expiry", expiry).Msg("JWT token is nearing expiry, attempting refresh.")

	token, expiresAt, err := s.issueToken(id)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate new token. Aborting refresh.")
		return
	}

	s.send(EventTokenUpdate, TokenUpdatePayload{Token: token, ExpiresAt: expiresAt})
}

func (s *Session) issueToken(id Identity) (string, time.Time, error) {
	token, expiresAt, err := jwt.GenerateToken(&jwt.Payload{
		ID:       id.UserID,
		Username: id.Username,
		Avatar:   id.Avatar,
	}, s.co.opts.JWTSecret, s.co.opts.TokenTTL)
	if err != nil {
		return "", time.Time{}, err
	}

	s.mu.Lock()
	s.tokenExpiry = expiresAt
	s.mu.Unlock()

	return token, expiresAt.UTC(), nil
}

// send queues an event for this connection only.
func (s *Session) send(event EventType, payload any) {
	frame, err := Encode(event, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(event)).Msg("Failed to encode event")
		return
	}
	s.conn.Send(frame)
}

// sendError reports err on event (error or auth-error).
func (s *Session) sendError(event EventType, err error) {
	customErr := errs.As(err)
	s.send(event, ErrorPayload{Code: customErr.Code, Message: customErr.Message})
}

// identity returns the bound identity or errUnauthenticated.
func (s *Session) identity() (Identity, error) {
	id, ok := s.conn.Identity()
	if !ok {
		return Identity{}, errUnauthenticated
	}
	return id, nil
}

// actor returns the bound identity after checking an optional identity claim from the payload.
func (s *Session) actor(claimed string) (Identity, error) {
	id, err := s.identity()
	if err != nil {
		return Identity{}, err
	}

	if claimed != "" {
		canonical, ok := randx.NormalizeID(claimed)
		if !ok || canonical != id.UserID {
			return Identity{}, errIdentityMismatch
		}
	}
	return id, nil
}

func (id Identity) profile() user.Profile {
	return user.Profile{ID: id.UserID, Username: id.Username, Avatar: id.Avatar}
}

// switchRoom makes target the connection's only room of its kind. Voice rooms left on
// the way are notified.
func (s *Session) switchRoom(target RoomID) {
	for _, roomID := range s.co.index.RoomsOf(s.conn.ID) {
		if roomID.Kind() != target.Kind() || roomID == target {
			continue
		}
		if s.co.index.Leave(roomID, s.conn.ID) && roomID.Kind() == RoomVoice {
			s.co.relay.NotifyVoiceDeparture(roomID, s.conn)
		}
	}

	s.co.index.Join(target, s.conn)
}

// stillMember re-checks membership after a room join. Kicks and server deletions
// persist before they evict, so a join that raced one is either seen here or evicted.
func (s *Session) stillMember(ctx context.Context, userID, serverID string) bool {
	member, err := s.co.domain.IsMember(ctx, userID, serverID)
	if err != nil {
		s.logger.Error().Err(err).Str("server_id", serverID).Msg("Failed to re-check membership")
		return false
	}
	return member
}

// toServer broadcasts to the server room and makes sure the acting connection hears it
// even when it has not selected the server.
func (s *Session) toServer(serverID string, event EventType, payload any) {
	roomID := ServerRoom(serverID)

	if _, err := s.co.index.Broadcast(roomID, event, payload, ""); err != nil {
		s.logger.Error().Err(err).Str("event", string(event)).Msg("Failed to broadcast to server room")
		return
	}

	if !s.co.index.Contains(roomID, s.conn.ID) {
		s.send(event, payload)
	}
}

// --- Authentication ---

func (s *Session) handleRegister(ctx context.Context, raw json.RawMessage) error {
	p, err := decode[CredentialsPayload](EventRegister, raw)
	if err != nil {
		s.sendError(EventAuthError, err)
		return nil
	}
	if _, bound := s.conn.Identity(); bound {
		s.sendError(EventAuthError, errs.NewError(errs.ErrAlreadyLoggedIn))
		return nil
	}

	u, err := s.co.domain.Register(ctx, p.Username, p.Password)
	if err != nil {
		s.sendError(EventAuthError, err)
		return nil
	}

	return s.authenticate(ctx, u)
}

func (s *Session) handleLogin(ctx context.Context, raw json.RawMessage) error {
	p, err := decode[CredentialsPayload](EventLogin, raw)
	if err != nil {
		s.sendError(EventAuthError, err)
		return nil
	}
	if _, bound := s.conn.Identity(); bound {
		s.sendError(EventAuthError, errs.NewError(errs.ErrAlreadyLoggedIn))
		return nil
	}

	u, err := s.co.domain.Login(ctx, p.Username, p.Password)
	if err != nil {
		s.sendError(EventAuthError, err)
		return nil
	}

	return s.authenticate(ctx, u)
}

// handleLoginWithID resumes a session for a known user id without a credential check.
func (s *Session) handleLoginWithID(ctx context.Context, raw json.RawMessage) error {
	p, err := decode[LoginWithIDPayload](EventLoginWithID, raw)
	if err != nil {
		s.sendError(EventAuthError, err)
		return nil
	}
	if _, bound := s.conn.Identity(); bound {
		s.sendError(EventAuthError, errs.NewError(errs.ErrAlreadyLoggedIn))
		return nil
	}

	u, err := s.co.domain.UserByID(ctx, p.UserID)
	if err != nil {
		s.sendError(EventAuthError, err)
		return nil
	}

	return s.authenticate(ctx, u)
}

// authenticate binds u to the connection and sends auth-success and load-servers.
func (s *Session) authenticate(ctx context.Context, u user.User) error {
	id := Identity{UserID: u.ID, Username: u.Username, Avatar: u.Avatar}

	if err := s.co.registry.BindIdentity(s.conn.ID, id); err != nil {
		if errors.Is(err, ErrAlreadyBound) {
			s.sendError(EventAuthError, errs.NewError(errs.ErrAlreadyLoggedIn))
			return nil
		}
		return errs.NewError(errs.ErrUnknown, err)
	}

	token, expiresAt, err := s.issueToken(id)
	if err != nil {
		return errs.NewError(errs.ErrUnknown, err)
	}

	s.logger.Info().Str("user_id", u.ID).Str("username", u.Username).Msg("Connection authenticated.")

	s.send(EventAuthSuccess, AuthSuccessPayload{
		User:         u,
		ConnectionID: s.conn.ID,
		Token:        token,
		ExpiresAt:    expiresAt,
	})

	servers, err := s.co.domain.ServersOf(ctx, u.ID)
	if err != nil {
		return err
	}
	s.send(EventLoadServers, servers)
	return nil
}

// --- Servers ---

func (s *Session) handleCreateServer(ctx context.Context, raw json.RawMessage) error {
	p, err := decode[CreateServerPayload](EventCreateServer, raw)
	if err != nil {
		return err
	}
	id, err := s.actor(p.OwnerID)
	if err != nil {
		return err
	}

	detail, err := s.co.domain.CreateServer(ctx, id.UserID, p.Name)
	if err != nil {
		return err
	}

	s.send(EventServerCreated, detail)
	return nil
}

func (s *Session) handleJoinByCode(ctx context.Context, raw json.RawMessage) error {
	p, err := decode[JoinByCodePayload](EventJoinByCode, raw)
	if err != nil {
		return err
	}
	id, err := s.actor(p.UserID)
	if err != nil {
		return err
	}

	server, err := s.co.domain.JoinByCode(ctx, id.UserID, p.Code)
	if err != nil {
		return err
	}

	s.send(EventServerJoined, server)

	detail, err := s.co.domain.ServerDetail(ctx, id.UserID, server.ID)
	if err != nil {
		return err
	}
	if _, err := s.co.index.Broadcast(ServerRoom(server.ID), EventMemberList,
		MemberListPayload{ServerID: server.ID, Members: detail.Members}, ""); err != nil {
		s.logger.Error().Err(err).Msg("Failed to broadcast member list")
	}
	return nil
}

func (s *Session) handleSelectServer(ctx context.Context, raw json.RawMessage) error {
	p, err := decode[ServerPayload](EventSelectServer, raw)
	if err != nil {
		return err
	}
	id, err := s.identity()
	if err != nil {
		return err
	}

	detail, err := s.co.domain.ServerDetail(ctx, id.UserID, p.ServerID)
	if err != nil {
		return err
	}

	roomID := ServerRoom(detail.ID)
	s.switchRoom(roomID)
	if !s.stillMember(ctx, id.UserID, detail.ID) {
		s.co.index.Leave(roomID, s.conn.ID)
		return errs.NewError(errs.ErrServerNotFound)
	}

	s.send(EventServerDetails, detail)
	return nil
}

func (s *Session) handleCreateChannel(ctx context.Context, raw json.RawMessage) error {
	p, err := decode[CreateChannelPayload](EventCreateChannel, raw)
	if err != nil {
		return err
	}
	id, err := s.actor(p.UserID)
	if err != nil {
		return err
	}

	detail, err := s.co.domain.CreateChannel(ctx, id.UserID, p.ServerID, p.Name, p.Type)
	if err != nil {
		return err
	}

	s.toServer(detail.ID, EventServerUpdated, detail)
	return nil
}

func (s *Session) handleDeleteChannel(ctx context.Context, raw json.RawMessage) error {
	p, err := decode[DeleteChannelPayload](EventDeleteChannel, raw)
	if err != nil {
		return err
	}
	id, err := s.actor(p.UserID)
	if err != nil {
		return err
	}

	detail, ch, err := s.co.domain.DeleteChannel(ctx, id.UserID, p.ServerID, p.ChannelID)
	if err != nil {
		return err
	}

	s.dissolveChannel(ch)
	s.toServer(detail.ID, EventServerUpdated, detail)
	return nil
}

func (s *Session) handleDeleteServer(ctx context.Context, raw json.RawMessage) error {
	p, err := decode[DeleteServerPayload](EventDeleteServer, raw)
	if err != nil {
		return err
	}
	id, err := s.actor(p.UserID)
	if err != nil {
		return err
	}

	server, channels, err := s.co.domain.DeleteServer(ctx, id.UserID, p.ServerID)
	if err != nil {
		return err
	}

	s.toServer(server.ID, EventServerDeleted, ServerRefPayload{ServerID: server.ID})

	for _, ch := range channels {
		s.dissolveChannel(ch)
	}
	s.co.index.Dissolve(ServerRoom(server.ID))
	return nil
}

func (s *Session) dissolveChannel(ch community.Channel) {
	if ch.Kind == community.ChannelVoice {
		s.co.relay.DissolveVoice(ch.ID)
		return
	}
	s.co.index.Dissolve(ChannelRoom(ch.ID))
}

// handleKickUser removes a member and evicts the member's live connections from the
// server's rooms.
func (s *Session) handleKickUser(ctx context.Context, raw json.RawMessage) error {
	p, err := decode[KickPayload](EventKickUser, raw)
	if err != nil {
		return err
	}
	id, err := s.actor(p.OwnerID)
	if err != nil {
		return err
	}

	members, err := s.co.domain.KickMember(ctx, id.UserID, p.ServerID, p.UserID)
	if err != nil {
		return err
	}

	detail, err := s.co.domain.ServerDetail(ctx, id.UserID, p.ServerID)
	if err != nil {
		return err
	}

	target, _ := randx.NormalizeID(p.UserID)
	for _, conn := range s.co.registry.ConnectionsOf(target) {
		s.evict(conn, detail)
	}

	s.toServer(detail.ID, EventMemberList, MemberListPayload{ServerID: detail.ID, Members: members})
	return nil
}

func (s *Session) evict(conn *Connection, detail community.ServerDetail) {
	s.co.index.Leave(ServerRoom(detail.ID), conn.ID)

	for _, ch := range detail.Channels {
		if ch.Kind == community.ChannelVoice {
			s.co.relay.LeaveVoice(ch.ID, conn)
			continue
		}
		s.co.index.Leave(ChannelRoom(ch.ID), conn.ID)
	}

	if frame, err := Encode(EventKicked, ServerRefPayload{ServerID: detail.ID}); err == nil {
		conn.Send(frame)
	}
}

// --- Text channels ---

func (s *Session) handleJoinChannel(ctx context.Context, raw json.RawMessage) error {
	p, err := decode[ChannelPayload](EventJoinChannel, raw)
	if err != nil {
		return err
	}
	id, err := s.identity()
	if err != nil {
		return err
	}

	ch, messages, err := s.co.domain.History(ctx, id.UserID, p.ChannelID)
	if err != nil {
		return err
	}

	roomID := ChannelRoom(ch.ID)
	s.switchRoom(roomID)
	if !s.stillMember(ctx, id.UserID, ch.ServerID) {
		s.co.index.Leave(roomID, s.conn.ID)
		return errs.NewError(errs.ErrChannelNotFound)
	}

	s.send(EventLoadMessages, LoadMessagesPayload{ChannelID: ch.ID, Messages: messages})
	return nil
}

// handleSendMessage persists the message and broadcasts it to the channel room,
// sender included.
func (s *Session) handleSendMessage(ctx context.Context, raw json.RawMessage) error {
	p, err := decode[SendMessagePayload](EventSendMessage, raw)
	if err != nil {
		return err
	}
	id, err := s.actor(p.SenderID)
	if err != nil {
		return err
	}

	channelID, ok := randx.NormalizeID(p.ChannelID)
	if !ok || !s.co.index.Contains(ChannelRoom(channelID), s.conn.ID) {
		return errs.NewError(errs.ErrNotChannelMember)
	}

	msg, err := s.co.domain.PostMessage(ctx, id.profile(), channelID, p.Content, p.SenderAvatar)
	if err != nil {
		return err
	}

	if _, err := s.co.index.Broadcast(ChannelRoom(channelID), EventNewMessage, msg, ""); err != nil {
		return errs.NewError(errs.ErrUnknown, err)
	}
	return nil
}

// --- Voice ---

func (s *Session) handleJoinVoice(ctx context.Context, raw json.RawMessage) error {
	p, err := decode[ChannelPayload](EventJoinVoice, raw)
	if err != nil {
		return err
	}
	id, err := s.identity()
	if err != nil {
		return err
	}

	ch, err := s.co.domain.VoiceChannel(ctx, id.UserID, p.ChannelID)
	if err != nil {
		return err
	}

	target := VoiceRoom(ch.ID)
	for _, roomID := range s.co.index.RoomsOf(s.conn.ID) {
		if roomID.Kind() == RoomVoice && roomID != target {
			s.co.relay.LeaveVoice(roomID.Entity(), s.conn)
		}
	}

	peers := s.co.relay.BootstrapVoiceJoin(ch.ID, s.conn)
	if !s.stillMember(ctx, id.UserID, ch.ServerID) {
		s.co.relay.LeaveVoice(ch.ID, s.conn)
		return errs.NewError(errs.ErrChannelNotFound)
	}

	s.send(EventAllVoiceUsers, VoiceUsersPayload{ChannelID: ch.ID, Users: peers})
	return nil
}

func (s *Session) handleLeaveVoice(_ context.Context, raw json.RawMessage) error {
	p, err := decode[ChannelPayload](EventLeaveVoice, raw)
	if err != nil {
		return err
	}

	channelID, ok := randx.NormalizeID(p.ChannelID)
	if !ok {
		return nil
	}
	s.co.relay.LeaveVoice(channelID, s.conn)
	return nil
}

func (s *Session) handleSendingSignal(_ context.Context, raw json.RawMessage) error {
	p, err := decode[SignalPayload](EventSendingSignal, raw)
	if err != nil {
		return err
	}

	s.co.relay.RelayOffer(s.conn.ID, p.offerTarget(), p.Signal)
	return nil
}

func (s *Session) handleReturningSignal(_ context.Context, raw json.RawMessage) error {
	p, err := decode[SignalPayload](EventReturnSignal, raw)
	if err != nil {
		return err
	}

	s.co.relay.RelayAnswer(s.conn.ID, p.answerTarget(), p.Signal)
	return nil
}
