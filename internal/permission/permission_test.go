package permission

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
	"github.com/tessellate-ai/raggate/internal/session"
)

func memberSession(org string, allowed ...string) *session.Session {
	return &session.Session{
		UserID:         "u-1",
		Username:       "bob",
		Role:           session.RoleMember,
		OrganizationID: org,
		AllowedFiles:   allowed,
	}
}

func TestResolve_AdminAndOwnerGetAllowAll(t *testing.T) {
	for _, role := range []string{session.RoleAdmin, session.RoleOwner} {
		t.Run(role, func(t *testing.T) {
			sess := memberSession("org-a", "irrelevant.txt")
			sess.Role = role

			view, err := Resolve(sess)
			require.NoError(t, err)
			assert.True(t, view.AllowAll)
			assert.Empty(t, view.AllowedFilenames)
			assert.True(t, view.CanSee("anything.pdf"))
		})
	}
}

func TestResolve_AllSentinelGrantsAllowAll(t *testing.T) {
	view, err := Resolve(memberSession("org-a", "a.txt", "all"))
	require.NoError(t, err)
	assert.True(t, view.AllowAll)
}

func TestResolve_MemberGetsAllowList(t *testing.T) {
	view, err := Resolve(memberSession("org-a", "report.txt", "notes.md"))
	require.NoError(t, err)

	assert.False(t, view.AllowAll)
	assert.True(t, view.CanSee("report.txt"))
	assert.False(t, view.CanSee("secret.txt"))

	where := view.Where()
	assert.Equal(t, "org-a", where.OrganizationID)
	assert.Equal(t, []string{"report.txt", "notes.md"}, where.Filenames)
}

func TestResolve_MissingOrganizationFailsClosed(t *testing.T) {
	_, err := Resolve(memberSession(""))
	require.Error(t, err)
	assert.True(t, gateerrors.IsKind(err, gateerrors.KindOrganizationRequired))
}

func TestResolve_NilSessionIsUnauthenticated(t *testing.T) {
	_, err := Resolve(nil)
	require.Error(t, err)
	assert.True(t, gateerrors.IsKind(err, gateerrors.KindUnauthenticated))
}

func TestWhere_EmptyAllowListMatchesNothing(t *testing.T) {
	// A member with no grants must not degrade to org-wide access: the
	// predicate carries an impossible filename rather than no filter.
	view, err := Resolve(memberSession("org-a"))
	require.NoError(t, err)

	where := view.Where()
	assert.NotEmpty(t, where.Filenames)
	assert.Equal(t, []string{""}, where.Filenames)
}

func TestGuardOrganization(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	view, err := Resolve(memberSession("org-a", "a.txt"))
	require.NoError(t, err)

	t.Run("same org passes", func(t *testing.T) {
		assert.NoError(t, GuardOrganization(logger, view, "org-a"))
	})

	t.Run("empty target passes", func(t *testing.T) {
		assert.NoError(t, GuardOrganization(logger, view, ""))
	})

	t.Run("foreign org is forbidden but surfaces as not found", func(t *testing.T) {
		err := GuardOrganization(logger, view, "org-b")
		require.Error(t, err)
		assert.True(t, gateerrors.IsKind(err, gateerrors.KindOrganizationForbidden))
		assert.Equal(t, gateerrors.KindNotFound, gateerrors.PublicKind(err))
	})
}
