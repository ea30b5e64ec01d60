package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// UserDirectory is the read-only set of users loaded from the YAML users
// file at startup. Password hashes are lowercase hex SHA-256.
type UserDirectory struct {
	byUsername map[string]*User
}

type usersFile struct {
	Users []*User `yaml:"users"`
}

// LoadUserDirectory reads and validates the users file.
func LoadUserDirectory(path string) (*UserDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file %s: %w", path, err)
	}
	return ParseUserDirectory(data)
}

// ParseUserDirectory builds a directory from YAML bytes.
func ParseUserDirectory(data []byte) (*UserDirectory, error) {
	var parsed usersFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}

	dir := &UserDirectory{byUsername: make(map[string]*User, len(parsed.Users))}
	for i, u := range parsed.Users {
		if u.Username == "" {
			return nil, fmt.Errorf("user %d: username is required", i)
		}
		if u.ID == "" {
			u.ID = u.Username
		}
		switch u.Role {
		case RoleAdmin, RoleOwner, RoleMember:
		case "":
			u.Role = RoleMember
		default:
			return nil, fmt.Errorf("user %q: unknown role %q", u.Username, u.Role)
		}
		if _, dup := dir.byUsername[u.Username]; dup {
			return nil, fmt.Errorf("user %q: duplicate username", u.Username)
		}
		dir.byUsername[u.Username] = u
	}
	return dir, nil
}

// Lookup returns the user by username.
func (d *UserDirectory) Lookup(username string) (*User, bool) {
	u, ok := d.byUsername[username]
	return u, ok
}

// Len returns the number of users in the directory.
func (d *UserDirectory) Len() int {
	return len(d.byUsername)
}

// VerifyPassword checks a candidate password against the user's stored
// hash in constant time. Users without a stored hash never authenticate
// by password (SSO-only accounts).
func (u *User) VerifyPassword(password string) bool {
	if u.PasswordSHA256 == "" {
		return false
	}
	sum := sha256.Sum256([]byte(password))
	candidate := hex.EncodeToString(sum[:])
	stored := strings.ToLower(u.PasswordSHA256)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(stored)) == 1
}

// HashPassword returns the directory representation of a password. Used
// by tooling that writes users files.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
