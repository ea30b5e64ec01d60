// Package session owns authentication: the user directory, session
// creation and resolution, and the pluggable session stores (memory,
// SQLite, Redis). Tokens are opaque 256-bit random values; stores key
// sessions by the token's SHA-256 so a leaked store never yields usable
// credentials and lookups stay constant-time in the token bytes.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Roles known to the gateway. Admin and owner bypass the per-file
// allow-list; member sees only its allowed files.
const (
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
	RoleMember = "member"
)

// AllowAllSentinel in a user's allowed_files grants access to every file
// in the user's organization.
const AllowAllSentinel = "all"

// DefaultTTL is the absolute session lifetime.
const DefaultTTL = 24 * time.Hour

// User is one entry of the user directory.
type User struct {
	ID             string   `yaml:"id"`
	Username       string   `yaml:"username"`
	PasswordSHA256 string   `yaml:"password_sha256"`
	Role           string   `yaml:"role"`
	OrganizationID string   `yaml:"organization_id"`
	AllowedFiles   []string `yaml:"allowed_files"`
}

// Session is one authenticated session. Token carries the raw credential
// and is populated only on creation; stores persist the hashed key.
type Session struct {
	Token          string    `json:"-"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Role           string    `json:"role"`
	OrganizationID string    `json:"organization_id"`
	AllowedFiles   []string  `json:"allowed_files"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Expired reports whether the session's absolute lifetime has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ErrSessionNotFound is the store-level miss. The gate maps it to an
// Unauthenticated error before it reaches any transport.
var ErrSessionNotFound = errors.New("session not found")

// Store persists sessions keyed by hashed token.
type Store interface {
	// Put stores a session under key.
	Put(ctx context.Context, key string, s *Session) error

	// Get returns the session for key, or ErrSessionNotFound.
	Get(ctx context.Context, key string) (*Session, error)

	// Touch updates the session's sliding last-activity timestamp.
	Touch(ctx context.Context, key string, at time.Time) error

	// Delete removes the session. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}

// NewToken generates an opaque session token with 256 bits of entropy.
func NewToken() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

// HashToken derives the store key from a raw token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
