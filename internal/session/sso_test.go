package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ssoTestSecret = "sso-test-secret"

func signSSOToken(t *testing.T, claims ssoClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() ssoClaims {
	return ssoClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "carol",
			Issuer:    "idp.example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		OrganizationID: "org-b",
		Role:           RoleOwner,
		AllowedFiles:   []string{"all"},
	}
}

func TestSSOVerifier_MapsClaimsToUser(t *testing.T) {
	v, err := NewSSOVerifier(ssoTestSecret, "idp.example.com", "")
	require.NoError(t, err)

	user, err := v.Verify(signSSOToken(t, validClaims(), ssoTestSecret))
	require.NoError(t, err)

	assert.Equal(t, "carol", user.ID)
	assert.Equal(t, RoleOwner, user.Role)
	assert.Equal(t, "org-b", user.OrganizationID)
	assert.Equal(t, []string{"all"}, user.AllowedFiles)
}

func TestSSOVerifier_RejectsWrongSecret(t *testing.T) {
	v, err := NewSSOVerifier(ssoTestSecret, "", "")
	require.NoError(t, err)

	_, err = v.Verify(signSSOToken(t, validClaims(), "a-different-secret"))
	assert.Error(t, err)
}

func TestSSOVerifier_RejectsExpiredToken(t *testing.T) {
	v, err := NewSSOVerifier(ssoTestSecret, "", "")
	require.NoError(t, err)

	claims := validClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	_, err = v.Verify(signSSOToken(t, claims, ssoTestSecret))
	assert.Error(t, err)
}

func TestSSOVerifier_RejectsWrongIssuer(t *testing.T) {
	v, err := NewSSOVerifier(ssoTestSecret, "expected-issuer", "")
	require.NoError(t, err)

	_, err = v.Verify(signSSOToken(t, validClaims(), ssoTestSecret))
	assert.Error(t, err)
}

func TestSSOVerifier_RequiresOrganizationClaim(t *testing.T) {
	v, err := NewSSOVerifier(ssoTestSecret, "", "")
	require.NoError(t, err)

	claims := validClaims()
	claims.OrganizationID = ""

	_, err = v.Verify(signSSOToken(t, claims, ssoTestSecret))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organization")
}

func TestSSOVerifier_DefaultsRoleToMember(t *testing.T) {
	v, err := NewSSOVerifier(ssoTestSecret, "", "")
	require.NoError(t, err)

	claims := validClaims()
	claims.Role = ""

	user, err := v.Verify(signSSOToken(t, claims, ssoTestSecret))
	require.NoError(t, err)
	assert.Equal(t, RoleMember, user.Role)
}

func TestParseUserDirectory_Validation(t *testing.T) {
	t.Run("rejects unknown role", func(t *testing.T) {
		_, err := ParseUserDirectory([]byte("users:\n  - username: x\n    role: superuser\n"))
		assert.Error(t, err)
	})

	t.Run("rejects duplicate username", func(t *testing.T) {
		_, err := ParseUserDirectory([]byte("users:\n  - username: x\n  - username: x\n"))
		assert.Error(t, err)
	})

	t.Run("defaults id and role", func(t *testing.T) {
		dir, err := ParseUserDirectory([]byte("users:\n  - username: x\n    organization_id: org-a\n"))
		require.NoError(t, err)

		u, ok := dir.Lookup("x")
		require.True(t, ok)
		assert.Equal(t, "x", u.ID)
		assert.Equal(t, RoleMember, u.Role)
	})

	t.Run("sso-only accounts never verify passwords", func(t *testing.T) {
		dir, err := ParseUserDirectory([]byte("users:\n  - username: x\n"))
		require.NoError(t, err)

		u, _ := dir.Lookup("x")
		assert.False(t, u.VerifyPassword(""))
		assert.False(t, u.VerifyPassword("anything"))
	})
}
