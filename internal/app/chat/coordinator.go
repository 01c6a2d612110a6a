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
	"naberya/internal/pkg/logx"
)

// Domain is the part of the community service the coordinator drives.
type Domain interface {
	Register(ctx context.Context, username, password string) (user.User, error)
	Login(ctx context.Context, username, password string) (user.User, error)
	UserByID(ctx context.Context, id string) (user.User, error)
	ServersOf(ctx context.Context, userID string) ([]community.Server, error)

	CreateServer(ctx context.Context, ownerID, name string) (community.ServerDetail, error)
	JoinByCode(ctx context.Context, userID, code string) (community.Server, error)
	ServerDetail(ctx context.Context, actorID, serverID string) (community.ServerDetail, error)
	IsMember(ctx context.Context, userID, serverID string) (bool, error)
	CreateChannel(ctx context.Context, actorID, serverID, name string, kind community.ChannelKind) (community.ServerDetail, error)
	DeleteChannel(ctx context.Context, actorID, serverID, channelID string) (community.ServerDetail, community.Channel, error)
	DeleteServer(ctx context.Context, actorID, serverID string) (community.Server, []community.Channel, error)
	KickMember(ctx context.Context, actorID, serverID, targetID string) ([]user.Profile, error)

	VoiceChannel(ctx context.Context, actorID, channelID string) (community.Channel, error)
	History(ctx context.Context, actorID, channelID string) (community.Channel, []community.Message, error)
	PostMessage(ctx context.Context, sender user.Profile, channelID, content, avatar string) (community.Message, error)
}

var _ Domain = (*community.Service)(nil)

// Options configures the Coordinator.
type Options struct {
	// JWTSecret signs the session tokens issued on authentication.
	JWTSecret string

	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration

	// RequestTimeout bounds each domain call made while handling an event.
	RequestTimeout time.Duration
}

// handlerFunc handles one inbound event for a session.
type handlerFunc func(s *Session, ctx context.Context, raw json.RawMessage) error

// handlers is the dispatch table, shared by every session.
var handlers = map[EventType]handlerFunc{
	EventRegister:       (*Session).handleRegister,
	EventLogin:          (*Session).handleLogin,
	EventLoginWithID:    (*Session).handleLoginWithID,
	EventCreateServer:   (*Session).handleCreateServer,
	EventJoinByCode:     (*Session).handleJoinByCode,
	EventSelectServer:   (*Session).handleSelectServer,
	EventCreateChannel:  (*Session).handleCreateChannel,
	EventDeleteChannel:  (*Session).handleDeleteChannel,
	EventDeleteServer:   (*Session).handleDeleteServer,
	EventKickUser:       (*Session).handleKickUser,
	EventJoinChannel:    (*Session).handleJoinChannel,
	EventSendMessage:    (*Session).handleSendMessage,
	EventJoinVoice:      (*Session).handleJoinVoice,
	EventSendingSignal:  (*Session).handleSendingSignal,
	EventReturnSignal:   (*Session).handleReturningSignal,
	EventLeaveVoice:     (*Session).handleLeaveVoice,
	EventLeaveVoiceRoom: (*Session).handleLeaveVoice,
}

// authEvents may be handled before identity is bound.
var authEvents = map[EventType]bool{
	EventRegister:    true,
	EventLogin:       true,
	EventLoginWithID: true,
}

var (
	// errUnauthenticated marks events sent before authentication; they are dropped.
	errUnauthenticated = errors.New("connection is not authenticated")

	// errIdentityMismatch marks payload identity claims that differ from the bound identity.
	errIdentityMismatch = errors.New("payload identity does not match connection")
)

// Coordinator owns the registry, the room index and the relay, and runs a Session
// per connection.
type Coordinator struct {
	registry *Registry
	index    *Index
	relay    *Relay
	domain   Domain
	opts     Options

	baseCtx context.Context
	cancel  context.CancelFunc

	// admitMu makes registration and wg.Add atomic with respect to Shutdown.
	admitMu sync.Mutex
	wg      sync.WaitGroup

	logger zerolog.Logger
}

// NewCoordinator constructs a Coordinator with fresh shared state.
func NewCoordinator(domain Domain, opts Options) *Coordinator {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = jwt.SessionExpiration
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}

	registry := NewRegistry()
	index := NewIndex()
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		registry: registry,
		index:    index,
		relay:    NewRelay(registry, index),
		domain:   domain,
		opts:     opts,
		baseCtx:  ctx,
		cancel:   cancel,
		logger:   logx.Component("coordinator"),
	}
}

// Registry returns the connection registry.
func (co *Coordinator) Registry() *Registry { return co.registry }

// Index returns the room membership index.
func (co *Coordinator) Index() *Index { return co.index }

// Relay returns the signaling relay.
func (co *Coordinator) Relay() *Relay { return co.relay }

// Connect registers sink and returns its unauthenticated session.
func (co *Coordinator) Connect(sink Sink) (*Session, error) {
	co.admitMu.Lock()
	conn, err := co.registry.Register(sink)
	if err != nil {
		co.admitMu.Unlock()
		return nil, err
	}
	co.wg.Add(1)
	co.admitMu.Unlock()

	ctx, cancel := context.WithCancel(co.baseCtx)
	s := &Session{
		co:     co,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		logger: co.logger.With().Str("connection_id", conn.ID).Logger(),
	}

	s.logger.Debug().Int("connections", co.registry.Len()).Msg("Connection registered.")
	return s, nil
}

// Serve runs a websocket client until it disconnects, then tears its session down.
func (co *Coordinator) Serve(client *Client) error {
	s, err := co.Connect(client)
	if err != nil {
		// Writes the close frame and releases the socket.
		client.Close()
		client.WritePump(nil)
		return err
	}
	defer s.Close()

	go client.WritePump(s.RefreshToken)
	client.ReadPump(s.HandleFrame)
	return nil
}

// Shutdown closes every live connection and waits for their sessions to tear down
// or for ctx to expire.
func (co *Coordinator) Shutdown(ctx context.Context) error {
	co.logger.Info().Msg("Shutting down coordinator...")

	co.admitMu.Lock()
	conns := co.registry.Close()
	co.admitMu.Unlock()

	co.cancel()
	for _, conn := range conns {
		conn.close()
	}

	done := make(chan struct{})
	go func() {
		co.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		co.logger.Info().Int("closed_connections", len(conns)).Msg("Coordinator shutdown complete.")
		return nil
	case <-ctx.Done():
		co.logger.Warn().Int("connections", co.registry.Len()).Msg("Coordinator shutdown timed out.")
		return ctx.Err()
	}
}

// dispatch routes one inbound envelope and reports the outcome to the client.
func (s *Session) dispatch(env Envelope) {
	handler, ok := handlers[env.Type]
	if !ok {
		s.sendError(EventError, errs.NewError(errs.ErrUnsupportedEvent, env.Type))
		return
	}

	if !authEvents[env.Type] {
		if _, bound := s.conn.Identity(); !bound {
			s.logger.Debug().Str("event", string(env.Type)).Msg("Dropping event from unauthenticated connection.")
			return
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.co.opts.RequestTimeout)
	defer cancel()

	err := handler(s, ctx, env.Payload)
	switch {
	case err == nil:
	case errors.Is(err, community.ErrNotPermitted),
		errors.Is(err, errIdentityMismatch),
		errors.Is(err, errUnauthenticated):
		s.logger.Debug().Err(err).Str("event", string(env.Type)).Msg("Dropping unauthorized request.")
	default:
		s.sendError(EventError, err)
	}
}
