/*
Package randx generates invite codes and identifiers, and normalizes identifiers
received from clients.

Invite codes are six characters drawn from [0-9A-Z] with crypto/rand. All entity and
connection identifiers are UUIDs kept in canonical lower-case form so that ids coming
from different sources compare equal.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// InviteChars is the alphabet for invite codes (0-9, A-Z).
	InviteChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// InviteCodeLength is the fixed length of an invite code.
	InviteCodeLength = 6
)

var inviteCharsLen = big.NewInt(int64(len(InviteChars)))

// InviteCode returns a random invite code of InviteCodeLength characters.
func InviteCode() (string, error) {
	result := make([]byte, InviteCodeLength)

	for i := range InviteCodeLength {
		num, err := rand.Int(rand.Reader, inviteCharsLen)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for invite code: %w", err)
		}

		result[i] = InviteChars[num.Int64()]
	}

	return string(result), nil
}

// NormalizeInviteCode trims and upper-cases a user supplied code.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidInviteCode reports whether code has the invite code length and alphabet.
func IsValidInviteCode(code string) bool {
	if len(code) != InviteCodeLength {
		return false
	}

	for _, char := range code {
		if !strings.ContainsRune(InviteChars, char) {
			return false
		}
	}

	return true
}

// NewID returns a new UUID v4 string.
func NewID() string {
	return uuid.New().String()
}

// NormalizeID parses id as a UUID and returns its canonical form.
func NormalizeID(id string) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}
