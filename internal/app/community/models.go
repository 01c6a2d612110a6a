/*
Package community implements the domain service of Naberya: accounts, servers
(communities) with invite codes, channels and persisted messages.

The service validates input, enforces ownership and membership rules and delegates
persistence to a Repository. Business failures are returned as *errs.CustomError;
ownership violations are reported with ErrNotPermitted so that callers can drop
them silently.
*/
package community

import (
	"time"

	"naberya/internal/app/user"
)

// ChannelKind distinguishes text channels from voice channels.
type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
)

// Valid reports whether k is a known channel kind.
func (k ChannelKind) Valid() bool {
	return k == ChannelText || k == ChannelVoice
}

const (
	// DefaultTextChannelName is the text channel created with every server.
	DefaultTextChannelName = "genel"

	// DefaultVoiceChannelName is the voice channel created with every server.
	DefaultVoiceChannelName = "Sohbet Odası"
)

// Server is a community. ChannelIDs and MemberIDs are filled by the repository.
type Server struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Icon       string    `json:"icon"`
	InviteCode string    `json:"inviteCode"`
	OwnerID    string    `json:"ownerId"`
	ChannelIDs []string  `json:"channels"`
	MemberIDs  []string  `json:"members"`
	CreatedAt  time.Time `json:"createdAt"`
}

// IsMember reports whether userID belongs to the server.
func (s Server) IsMember(userID string) bool {
	for _, id := range s.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Channel belongs to exactly one server.
type Channel struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Kind      ChannelKind `json:"type"`
	ServerID  string      `json:"serverId"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Message is a persisted text message. Sender name and avatar are copied at send time.
type Message struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	ChannelID    string    `json:"channelId"`
	SenderID     string    `json:"senderId"`
	SenderName   string    `json:"senderName"`
	SenderAvatar string    `json:"senderAvatar"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ServerDetail is a server with its channels and member profiles resolved. In JSON the
// resolved lists replace the id lists of the embedded Server.
type ServerDetail struct {
	Server
	Channels []Channel      `json:"channels"`
	Members  []user.Profile `json:"members"`
}
