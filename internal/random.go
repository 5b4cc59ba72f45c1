package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	refreshSecretSize   = 32
	refreshTokenRawSize = 16 + refreshSecretSize
	// SecretSize is the entropy of emailed secrets.
	SecretSize = 32
)

// ErrMalformedToken is returned for refresh tokens that do not decode.
var ErrMalformedToken = errors.New("malformed token")

// NewSessionID returns a random UUID string.
func NewSessionID() string {
	return uuid.NewString()
}

// NewRefreshToken returns an opaque refresh token carrying sessionID and a
// fresh 32 byte secret, plus the hash under which it is stored.
func NewRefreshToken(sessionID string) (token string, hash string, err error) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return "", "", fmt.Errorf("refresh token session id: %w", err)
	}
	var raw [refreshTokenRawSize]byte
	copy(raw[:16], sid[:])
	if _, err := rand.Read(raw[16:]); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(raw[:])
	return token, HashToken(token), nil
}

// ParseRefreshToken extracts the session id and storage hash of token
// without any lookup.
func ParseRefreshToken(token string) (sessionID string, hash string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != refreshTokenRawSize {
		return "", "", ErrMalformedToken
	}
	sid, err := uuid.FromBytes(raw[:16])
	if err != nil {
		return "", "", ErrMalformedToken
	}
	return sid.String(), HashToken(token), nil
}

// NewURLSecret returns size random bytes as unpadded base64url, so the
// length is fixed for a given size.
func NewURLSecret(size int) (string, error) {
	if size < 16 {
		return "", errors.New("secret size must be >= 16")
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken is the storage key of any bearer value.
func HashToken(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
