package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// SessionExpiration is the lifetime of a session token.
	SessionExpiration = 24 * time.Hour

	// RefreshWindow is how long before expiry a live socket receives a fresh token.
	RefreshWindow = 10 * time.Minute

	// TokenIssuer identifies the issuer of the token.
	TokenIssuer = "Naberya-Server"
)

// GenerateToken signs payload with HS256 and returns the token with its expiry.
func GenerateToken(payload *Payload, secretKey string, duration time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(duration)

	payload.StandardClaims = jwt.StandardClaims{
		ExpiresAt: expiresAt.Unix(),
		IssuedAt:  now.Unix(),
		Issuer:    TokenIssuer,
		Subject:   payload.ID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	signed, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// ParseToken validates tokenString and returns its claims.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid || claims.ID == "" {
		return nil, errors.New("invalid or expired token")
	}

	return claims, nil
}
