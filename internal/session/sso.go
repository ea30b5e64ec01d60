package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// SSOVerifier validates HMAC-signed identity-provider tokens and maps
// their claims onto a gateway user. The gateway still mints its own
// opaque session; inbound JWTs are credentials, not sessions.
type SSOVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// ssoClaims are the claims the gateway reads from an inbound token.
type ssoClaims struct {
	jwt.RegisteredClaims
	OrganizationID string   `json:"org"`
	Role           string   `json:"role"`
	AllowedFiles   []string `json:"allowed_files"`
}

// NewSSOVerifier creates a verifier. Issuer and audience checks apply
// only when the corresponding value is non-empty.
func NewSSOVerifier(secret, issuer, audience string) (*SSOVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("sso secret is required")
	}
	return &SSOVerifier{secret: []byte(secret), issuer: issuer, audience: audience}, nil
}

// Verify parses and validates the token and returns the mapped user.
func (v *SSOVerifier) Verify(tokenString string) (*User, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &ssoClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("verify sso token: %w", err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("sso token has no subject")
	}
	if claims.OrganizationID == "" {
		return nil, fmt.Errorf("sso token has no organization claim")
	}

	role := claims.Role
	switch role {
	case RoleAdmin, RoleOwner, RoleMember:
	case "":
		role = RoleMember
	default:
		return nil, fmt.Errorf("sso token has unknown role %q", role)
	}

	return &User{
		ID:             claims.Subject,
		Username:       claims.Subject,
		Role:           role,
		OrganizationID: claims.OrganizationID,
		AllowedFiles:   claims.AllowedFiles,
	}, nil
}
