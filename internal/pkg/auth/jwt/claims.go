package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set of a Naberya session token. It is issued on every
// successful socket or REST authentication and identifies the registered user.
type Payload struct {
	jwt.StandardClaims

	// ID is the canonical user id.
	ID string `json:"id"`

	Username string `json:"username"`

	// Avatar is the avatar reference at issue time; clients may display it before
	// loading the profile.
	Avatar string `json:"avatar,omitempty"`
}
