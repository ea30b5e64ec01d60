package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
)

const testUsersYAML = `
users:
  - username: alice
    role: admin
    organization_id: org-a
    password_sha256: 2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b
  - username: bob
    role: member
    organization_id: org-a
    allowed_files: [report.txt, notes.md]
    password_sha256: 2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b
`

// The hash above is sha256("secret").

func testGate(t *testing.T) (*Gate, *MemoryStore) {
	t.Helper()
	users, err := ParseUserDirectory([]byte(testUsersYAML))
	require.NoError(t, err)

	store := NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGate(users, store, time.Hour, logger), store
}

func TestGate_AuthenticateAndResolve(t *testing.T) {
	// Given: a gate with a known user
	gate, _ := testGate(t)
	ctx := context.Background()

	// When: logging in with correct credentials
	sess, err := gate.Authenticate(ctx, "bob", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)
	assert.GreaterOrEqual(t, len(sess.Token), 32, "token must carry at least 128 bits of entropy")

	// Then: resolving the token returns the same identity
	resolved, err := gate.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "bob", resolved.Username)
	assert.Equal(t, RoleMember, resolved.Role)
	assert.Equal(t, "org-a", resolved.OrganizationID)
	assert.Equal(t, []string{"report.txt", "notes.md"}, resolved.AllowedFiles)
}

func TestGate_WrongPasswordAndUnknownUserAreIndistinguishable(t *testing.T) {
	gate, _ := testGate(t)
	ctx := context.Background()

	_, errWrong := gate.Authenticate(ctx, "bob", "not-the-password")
	_, errUnknown := gate.Authenticate(ctx, "mallory", "secret")

	require.Error(t, errWrong)
	require.Error(t, errUnknown)
	assert.Equal(t, errWrong.Error(), errUnknown.Error())
	assert.True(t, gateerrors.IsKind(errWrong, gateerrors.KindUnauthenticated))
}

func TestGate_ResolveUnknownTokenFails(t *testing.T) {
	gate, _ := testGate(t)

	_, err := gate.Resolve(context.Background(), "deadbeef")
	require.Error(t, err)
	assert.True(t, gateerrors.IsKind(err, gateerrors.KindUnauthenticated))
}

func TestGate_ExpiredSessionIsDeletedOnAccess(t *testing.T) {
	// Given: a session created in the past beyond the TTL
	gate, store := testGate(t)
	ctx := context.Background()

	base := time.Now().UTC()
	gate.now = func() time.Time { return base.Add(-2 * time.Hour) }
	sess, err := gate.Authenticate(ctx, "alice", "secret")
	require.NoError(t, err)

	// When: resolving after expiry
	gate.now = func() time.Time { return base }
	_, err = gate.Resolve(ctx, sess.Token)

	// Then: the resolve fails as unauthenticated and the row is gone
	require.Error(t, err)
	assert.True(t, gateerrors.IsKind(err, gateerrors.KindUnauthenticated))
	assert.Equal(t, gateerrors.ErrCodeSessionExpired, gateerrors.GetCode(err))
	assert.Equal(t, 0, store.Len())
}

func TestGate_ResolveSlidesLastActivity(t *testing.T) {
	gate, store := testGate(t)
	ctx := context.Background()

	base := time.Now().UTC()
	gate.now = func() time.Time { return base }
	sess, err := gate.Authenticate(ctx, "alice", "secret")
	require.NoError(t, err)

	later := base.Add(10 * time.Minute)
	gate.now = func() time.Time { return later }
	resolved, err := gate.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, later, resolved.LastActivity)

	stored, err := store.Get(ctx, HashToken(sess.Token))
	require.NoError(t, err)
	assert.Equal(t, later, stored.LastActivity)
}

func TestGate_LogoutInvalidatesSession(t *testing.T) {
	gate, _ := testGate(t)
	ctx := context.Background()

	sess, err := gate.Authenticate(ctx, "alice", "secret")
	require.NoError(t, err)

	require.NoError(t, gate.Logout(ctx, sess.Token))

	_, err = gate.Resolve(ctx, sess.Token)
	assert.Error(t, err)

	// Logging out again is harmless.
	assert.NoError(t, gate.Logout(ctx, sess.Token))
}

func TestGate_StoreNeverHoldsRawTokens(t *testing.T) {
	// The store key must be a hash, not the credential itself.
	gate, store := testGate(t)
	ctx := context.Background()

	sess, err := gate.Authenticate(ctx, "alice", "secret")
	require.NoError(t, err)

	_, err = store.Get(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.Get(ctx, HashToken(sess.Token))
	assert.NoError(t, err)
}

func TestNewToken_IsUniqueAndHexEncoded(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
