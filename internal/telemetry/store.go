package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLiteSink persists query events, keeping only the newest rows so the
// table cannot grow without bound. It shares the document store's
// database handle.
type SQLiteSink struct {
	db      *sql.DB
	maxRows int
}

const eventSchema = `
CREATE TABLE IF NOT EXISTS query_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	organization_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	question TEXT NOT NULL,
	mode TEXT NOT NULL,
	result_count INTEGER NOT NULL,
	source_chunk_ids TEXT NOT NULL DEFAULT '',
	answer_length INTEGER NOT NULL DEFAULT 0,
	retrieve_ms INTEGER NOT NULL,
	generate_ms INTEGER NOT NULL,
	response_ms INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_events_org ON query_events(organization_id, id DESC);
`

// NewSQLiteSink prepares the events table. maxRows <= 0 keeps 10000.
func NewSQLiteSink(db *sql.DB, maxRows int) (*SQLiteSink, error) {
	if db == nil {
		return nil, fmt.Errorf("telemetry: database handle is required")
	}
	if maxRows <= 0 {
		maxRows = 10000
	}
	if _, err := db.Exec(eventSchema); err != nil {
		return nil, fmt.Errorf("telemetry: create schema: %w", err)
	}
	return &SQLiteSink{db: db, maxRows: maxRows}, nil
}

// Record inserts the event and prunes rows beyond the retention bound.
func (s *SQLiteSink) Record(ctx context.Context, ev QueryEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_events
			(query_id, session_id, organization_id, user_id, question, mode,
			 result_count, source_chunk_ids, answer_length, retrieve_ms,
			 generate_ms, response_ms, success, error_kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.QueryID, ev.SessionID, ev.OrganizationID, ev.UserID, ev.Question,
		string(ev.Mode), ev.ResultCount, strings.Join(ev.SourceChunkIDs, ","),
		ev.AnswerLength, ev.RetrieveTime.Milliseconds(), ev.GenerateTime.Milliseconds(),
		ev.ResponseTime.Milliseconds(), boolToInt(ev.Success), ev.ErrorKind,
		ev.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("telemetry: insert event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM query_events
		WHERE id <= (SELECT MAX(id) FROM query_events) - ?`, s.maxRows)
	if err != nil {
		return fmt.Errorf("telemetry: prune events: %w", err)
	}
	return nil
}

// Recent returns up to limit events for the organization, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, orgID string, limit int) ([]QueryEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT query_id, session_id, organization_id, user_id, question, mode,
		       result_count, source_chunk_ids, answer_length, retrieve_ms,
		       generate_ms, response_ms, success, error_kind, created_at
		FROM query_events
		WHERE organization_id = ?
		ORDER BY id DESC
		LIMIT ?`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("telemetry: query events: %w", err)
	}
	defer rows.Close()

	var out []QueryEvent
	for rows.Next() {
		var ev QueryEvent
		var mode, chunkIDs string
		var retrieveMs, generateMs, responseMs int64
		var success int
		var createdAt time.Time
		if err := rows.Scan(&ev.QueryID, &ev.SessionID, &ev.OrganizationID,
			&ev.UserID, &ev.Question, &mode, &ev.ResultCount, &chunkIDs,
			&ev.AnswerLength, &retrieveMs, &generateMs, &responseMs, &success,
			&ev.ErrorKind, &createdAt); err != nil {
			return nil, fmt.Errorf("telemetry: scan event: %w", err)
		}
		ev.Mode = AnswerMode(mode)
		if chunkIDs != "" {
			ev.SourceChunkIDs = strings.Split(chunkIDs, ",")
		}
		ev.RetrieveTime = time.Duration(retrieveMs) * time.Millisecond
		ev.GenerateTime = time.Duration(generateMs) * time.Millisecond
		ev.ResponseTime = time.Duration(responseMs) * time.Millisecond
		ev.Success = success != 0
		ev.Timestamp = createdAt
		out = append(out, ev)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
