/*
Package user contains the identity types shared by the domain service, the chat core
and the HTTP handlers.
*/
package user

import "time"

// User is a registered account as persisted by the domain service.
type User struct {
	// ID is the canonical UUID of the account.
	ID string `json:"id"`

	Username string `json:"username"`

	// PasswordHash is the bcrypt hash of the password. It never leaves the server.
	PasswordHash string `json:"-"`

	// Avatar is the URL of the avatar image, generated at registration or uploaded later.
	Avatar string `json:"avatar"`

	// JoinedServerIDs lists the servers the user is a member of.
	JoinedServerIDs []string `json:"joinedServers"`

	CreatedAt time.Time `json:"createdAt"`
}

// Profile is the public view of a user, as shown in member lists and voice peers.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Profile returns the public view of u.
func (u User) Profile() Profile {
	return Profile{
		ID:       u.ID,
		Username: u.Username,
		Avatar:   u.Avatar,
	}
}
