package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
)

// Gate is the authentication front door: it mints sessions from the user
// directory (or an SSO verifier) and resolves tokens on every request.
type Gate struct {
	users  *UserDirectory
	store  Store
	ttl    time.Duration
	sso    *SSOVerifier
	logger *slog.Logger

	now func() time.Time
}

// NewGate creates a gate over the given user directory and session store.
func NewGate(users *UserDirectory, store Store, ttl time.Duration, logger *slog.Logger) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		users:  users,
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// WithSSO enables bearer-token exchange.
func (g *Gate) WithSSO(v *SSOVerifier) *Gate {
	g.sso = v
	return g
}

// Authenticate verifies a username/password pair and mints a session.
// Unknown users and wrong passwords return the same error so login
// responses never reveal which usernames exist.
func (g *Gate) Authenticate(ctx context.Context, username, password string) (*Session, error) {
	user, ok := g.users.Lookup(username)
	if !ok || !user.VerifyPassword(password) {
		g.logger.Warn("login failed", "username", username)
		return nil, gateerrors.Unauthenticated("invalid credentials", nil)
	}
	return g.mint(ctx, user)
}

// AuthenticateBearer exchanges a verified identity-provider token for a
// first-party session. Fails when SSO is not configured.
func (g *Gate) AuthenticateBearer(ctx context.Context, bearer string) (*Session, error) {
	if g.sso == nil {
		return nil, gateerrors.Unauthenticated("bearer login is not enabled", nil)
	}
	user, err := g.sso.Verify(bearer)
	if err != nil {
		g.logger.Warn("bearer login failed", "error", err)
		return nil, gateerrors.Unauthenticated("invalid bearer token", err)
	}
	return g.mint(ctx, user)
}

func (g *Gate) mint(ctx context.Context, user *User) (*Session, error) {
	token, err := NewToken()
	if err != nil {
		return nil, gateerrors.Internal("generate session token", err)
	}

	now := g.now().UTC()
	sess := &Session{
		Token:          token,
		UserID:         user.ID,
		Username:       user.Username,
		Role:           user.Role,
		OrganizationID: user.OrganizationID,
		AllowedFiles:   user.AllowedFiles,
		CreatedAt:      now,
		LastActivity:   now,
		ExpiresAt:      now.Add(g.ttl),
	}

	if err := g.store.Put(ctx, HashToken(token), sess); err != nil {
		return nil, gateerrors.Internal("store session", err)
	}

	g.logger.Info("session created",
		"user_id", user.ID,
		"role", user.Role,
		"organization_id", user.OrganizationID,
		"expires_at", sess.ExpiresAt)
	return sess, nil
}

// Resolve validates a token and returns its session, sliding the
// last-activity timestamp. Expired sessions are deleted on access.
func (g *Gate) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, gateerrors.Unauthenticated("missing session token", nil)
	}

	key := HashToken(token)
	sess, err := g.store.Get(ctx, key)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, gateerrors.Unauthenticated("invalid session", nil)
	}
	if err != nil {
		return nil, gateerrors.Internal("load session", err)
	}

	now := g.now().UTC()
	if sess.Expired(now) {
		_ = g.store.Delete(ctx, key)
		return nil, gateerrors.New(gateerrors.ErrCodeSessionExpired, "session expired", nil)
	}

	if err := g.store.Touch(ctx, key, now); err != nil {
		// Sliding activity is best-effort; the session itself is valid.
		g.logger.Warn("session touch failed", "error", err)
	}
	sess.LastActivity = now
	sess.Token = token
	return sess, nil
}

// Logout invalidates a session. Logging out an unknown token succeeds.
func (g *Gate) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := g.store.Delete(ctx, HashToken(token)); err != nil {
		return gateerrors.Internal("delete session", err)
	}
	return nil
}
