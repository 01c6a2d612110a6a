package chat

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"naberya/internal/app/community"
	"naberya/internal/app/user"
	"naberya/internal/pkg/errs"
)

// EventType names an event carried in an Envelope.
type EventType string

// Inbound events.
const (
	EventRegister       EventType = "register"
	EventLogin          EventType = "login"
	EventLoginWithID    EventType = "login-with-id"
	EventCreateServer   EventType = "create-server"
	EventJoinByCode     EventType = "join-server-by-code"
	EventSelectServer   EventType = "select-server"
	EventCreateChannel  EventType = "create-channel"
	EventDeleteChannel  EventType = "delete-channel"
	EventDeleteServer   EventType = "delete-server"
	EventKickUser       EventType = "kick-user"
	EventJoinChannel    EventType = "join-channel"
	EventSendMessage    EventType = "send-message"
	EventJoinVoice      EventType = "join-voice"
	EventSendingSignal  EventType = "sending-signal"
	EventReturnSignal   EventType = "returning-signal"
	EventLeaveVoice     EventType = "leave-voice"
	EventLeaveVoiceRoom EventType = "leave-voice-room"
)

// Outbound events.
const (
	EventAuthSuccess      EventType = "auth-success"
	EventAuthError        EventType = "auth-error"
	EventLoadServers      EventType = "load-servers"
	EventServerCreated    EventType = "server-created"
	EventServerJoined     EventType = "server-joined"
	EventServerDetails    EventType = "server-details"
	EventServerUpdated    EventType = "server-updated"
	EventServerDeleted    EventType = "server-deleted"
	EventMemberList       EventType = "update-member-list"
	EventLoadMessages     EventType = "load-messages"
	EventNewMessage       EventType = "new-message"
	EventAllVoiceUsers    EventType = "all-voice-users"
	EventUserJoinedVoice  EventType = "user-joined-voice"
	EventUserJoinedSignal EventType = "user-joined-signal"
	EventReturnedSignal   EventType = "receiving-returned-signal"
	EventUserLeftVoice    EventType = "user-left-voice"
	EventError            EventType = "error"
	EventKicked           EventType = "kicked-from-server"
	EventTokenUpdate      EventType = "token-update"
)

// Envelope is the frame exchanged over the socket in both directions.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Encode renders an outbound frame.
func Encode(event EventType, payload any) ([]byte, error) {
	return json.Marshal(outbound{Type: event, Payload: payload})
}

// validator is implemented by every inbound payload.
type validator interface {
	validate() bool
}

// decode unmarshals raw into T and validates it. Malformed payloads yield ErrInvalidPayload.
func decode[T validator](event EventType, raw json.RawMessage) (T, error) {
	var payload T
	if len(bytes.TrimSpace(raw)) == 0 || json.Unmarshal(raw, &payload) != nil || !payload.validate() {
		return payload, errs.NewError(errs.ErrInvalidPayload, event)
	}
	return payload, nil
}

// bareID lets a payload be sent either as an object or as a bare id string.
func bareID(raw []byte, id *string) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return false
	}
	return json.Unmarshal(raw, id) == nil
}

// --- Inbound payloads ---

// CredentialsPayload is sent with register and login.
type CredentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (p CredentialsPayload) validate() bool {
	return strings.TrimSpace(p.Username) != "" && p.Password != ""
}

// LoginWithIDPayload resumes a session for a previously issued user id.
type LoginWithIDPayload struct {
	UserID string `json:"userId"`
}

func (p *LoginWithIDPayload) UnmarshalJSON(data []byte) error {
	if bareID(data, &p.UserID) {
		return nil
	}
	type plain LoginWithIDPayload
	return json.Unmarshal(data, (*plain)(p))
}

func (p LoginWithIDPayload) validate() bool { return p.UserID != "" }

// CreateServerPayload carries the new server's name. OwnerID is optional.
type CreateServerPayload struct {
	Name    string `json:"name"`
	OwnerID string `json:"ownerId,omitempty"`
}

func (p CreateServerPayload) validate() bool { return strings.TrimSpace(p.Name) != "" }

// JoinByCodePayload carries an invite code. UserID is optional.
type JoinByCodePayload struct {
	Code   string `json:"code"`
	UserID string `json:"userId,omitempty"`
}

func (p JoinByCodePayload) validate() bool { return strings.TrimSpace(p.Code) != "" }

// ServerPayload names a server; used by select-server.
type ServerPayload struct {
	ServerID string `json:"serverId"`
}

func (p *ServerPayload) UnmarshalJSON(data []byte) error {
	if bareID(data, &p.ServerID) {
		return nil
	}
	type plain ServerPayload
	return json.Unmarshal(data, (*plain)(p))
}

func (p ServerPayload) validate() bool { return p.ServerID != "" }

// ChannelPayload names a channel; used by join-channel, join-voice and leave-voice.
type ChannelPayload struct {
	ChannelID string `json:"channelId"`
}

func (p *ChannelPayload) UnmarshalJSON(data []byte) error {
	if bareID(data, &p.ChannelID) {
		return nil
	}
	type plain ChannelPayload
	return json.Unmarshal(data, (*plain)(p))
}

func (p ChannelPayload) validate() bool { return p.ChannelID != "" }

// CreateChannelPayload creates a channel in a server. Type defaults to text.
type CreateChannelPayload struct {
	ServerID string                `json:"serverId"`
	Name     string                `json:"name"`
	Type     community.ChannelKind `json:"type,omitempty"`
	UserID   string                `json:"userId,omitempty"`
}

func (p CreateChannelPayload) validate() bool {
	return p.ServerID != "" && strings.TrimSpace(p.Name) != "" && (p.Type == "" || p.Type.Valid())
}

// DeleteChannelPayload removes a channel from a server.
type DeleteChannelPayload struct {
	ServerID  string `json:"serverId"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId,omitempty"`
}

func (p DeleteChannelPayload) validate() bool { return p.ServerID != "" && p.ChannelID != "" }

// DeleteServerPayload removes a server.
type DeleteServerPayload struct {
	ServerID string `json:"serverId"`
	UserID   string `json:"userId,omitempty"`
}

func (p DeleteServerPayload) validate() bool { return p.ServerID != "" }

// KickPayload removes UserID from a server. OwnerID is the optional actor claim.
type KickPayload struct {
	ServerID string `json:"serverId"`
	UserID   string `json:"userId"`
	OwnerID  string `json:"ownerId,omitempty"`
}

func (p KickPayload) validate() bool { return p.ServerID != "" && p.UserID != "" }

// SendMessagePayload posts a message. SenderName is ignored in favour of the bound identity.
type SendMessagePayload struct {
	Content      string `json:"content"`
	ChannelID    string `json:"channelId"`
	SenderID     string `json:"senderId,omitempty"`
	SenderName   string `json:"senderName,omitempty"`
	SenderAvatar string `json:"senderAvatar,omitempty"`
}

func (p SendMessagePayload) validate() bool { return p.ChannelID != "" }

// SignalPayload carries an opaque negotiation payload to another connection.
// The target is TargetConnectionID, or UserToSignal for offers and CallerID for answers.
type SignalPayload struct {
	TargetConnectionID string          `json:"targetConnectionId,omitempty"`
	UserToSignal       string          `json:"userToSignal,omitempty"`
	CallerID           string          `json:"callerId,omitempty"`
	Signal             json.RawMessage `json:"signal"`
}

func (p SignalPayload) validate() bool {
	return len(bytes.TrimSpace(p.Signal)) > 0 && (p.TargetConnectionID != "" || p.UserToSignal != "" || p.CallerID != "")
}

func (p SignalPayload) offerTarget() string {
	if p.TargetConnectionID != "" {
		return p.TargetConnectionID
	}
	return p.UserToSignal
}

func (p SignalPayload) answerTarget() string {
	if p.TargetConnectionID != "" {
		return p.TargetConnectionID
	}
	return p.CallerID
}

// --- Outbound payloads ---

// AuthSuccessPayload is sent once identity is bound to the connection.
type AuthSuccessPayload struct {
	User         user.User `json:"user"`
	ConnectionID string    `json:"connectionId"`
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ErrorPayload is sent with auth-error and error.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ServerRefPayload names a server in server-deleted and kicked-from-server.
type ServerRefPayload struct {
	ServerID string `json:"serverId"`
}

// MemberListPayload is sent with update-member-list.
type MemberListPayload struct {
	ServerID string         `json:"serverId"`
	Members  []user.Profile `json:"members"`
}

// LoadMessagesPayload is the backlog of a text channel, oldest first.
type LoadMessagesPayload struct {
	ChannelID string              `json:"channelId"`
	Messages  []community.Message `json:"messages"`
}

// VoicePeer identifies a connection in a voice room.
type VoicePeer struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	Avatar       string `json:"avatar"`
}

// VoiceUsersPayload is sent to a voice joiner: the peers it must initiate negotiation with.
type VoiceUsersPayload struct {
	ChannelID string      `json:"channelId"`
	Users     []VoicePeer `json:"users"`
}

// VoicePeerPayload announces a peer joining a voice room.
type VoicePeerPayload struct {
	ChannelID string    `json:"channelId"`
	Peer      VoicePeer `json:"peer"`
}

// VoiceLeftPayload announces a peer leaving a voice room.
type VoiceLeftPayload struct {
	ChannelID    string `json:"channelId"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
}

// OfferPayload is delivered to the target of an offer.
type OfferPayload struct {
	Signal   json.RawMessage `json:"signal"`
	CallerID string          `json:"callerId"`
}

// AnswerPayload is delivered to the caller that made the offer.
type AnswerPayload struct {
	Signal     json.RawMessage `json:"signal"`
	AnswererID string          `json:"answererId"`
}

// TokenUpdatePayload carries a refreshed session token.
type TokenUpdatePayload struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
