package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// sessionSchema creates the sessions table. The session_id column holds
// the hashed token, never the raw credential.
const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id      TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	username        TEXT NOT NULL,
	role            TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	allowed_files   TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	last_activity   TIMESTAMP NOT NULL,
	expires_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
`

// SQLiteStore persists sessions in SQLite, sharing the document store's
// database handle so one file carries all gateway state.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore prepares the sessions table on an open database handle.
// The handle's lifecycle belongs to the caller; Close here is a no-op.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sessionSchema); err != nil {
		return nil, fmt.Errorf("create sessions schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put stores a session under key.
func (s *SQLiteStore) Put(ctx context.Context, key string, sess *Session) error {
	allowed, err := json.Marshal(sess.AllowedFiles)
	if err != nil {
		return fmt.Errorf("encode allowed files: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions
		 (session_id, user_id, username, role, organization_id, allowed_files, created_at, last_activity, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, sess.UserID, sess.Username, sess.Role, sess.OrganizationID,
		string(allowed), sess.CreatedAt, sess.LastActivity, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Get returns the session for key, or ErrSessionNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, role, organization_id, allowed_files, created_at, last_activity, expires_at
		 FROM sessions WHERE session_id = ?`, key)

	sess := &Session{}
	var allowed string
	err := row.Scan(&sess.UserID, &sess.Username, &sess.Role, &sess.OrganizationID,
		&allowed, &sess.CreatedAt, &sess.LastActivity, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if err := json.Unmarshal([]byte(allowed), &sess.AllowedFiles); err != nil {
		return nil, fmt.Errorf("decode allowed files: %w", err)
	}
	return sess, nil
}

// Touch updates the sliding last-activity timestamp.
func (s *SQLiteStore) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE session_id = ?`, at, key)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Delete removes the session.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, key)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes every session past its absolute expiry. Called
// opportunistically by the gate; not required for correctness because
// Get results are expiry-checked.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close is a no-op; the database handle belongs to the document store.
func (s *SQLiteStore) Close() error { return nil }
