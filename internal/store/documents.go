package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
)

// documentSchema creates the documents table. The (organization_id, filename)
// index backs permission-filtered lookups and listings.
const documentSchema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id          TEXT PRIMARY KEY,
	filename        TEXT NOT NULL,
	content         BLOB NOT NULL,
	file_type       TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	uploaded_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_org_filename
	ON documents(organization_id, filename);
CREATE INDEX IF NOT EXISTS idx_documents_org_uploaded
	ON documents(organization_id, uploaded_at DESC);
`

// SQLiteDocumentStore implements DocumentStore on a SQLite database.
// Each operation runs in its own implicit transaction; WAL mode keeps
// readers unblocked during ingest writes.
type SQLiteDocumentStore struct {
	db *sql.DB
}

var _ DocumentStore = (*SQLiteDocumentStore)(nil)

// NewSQLiteDocumentStore opens (or creates) the document database at path.
// Pass ":memory:" for an in-memory store in tests.
func NewSQLiteDocumentStore(path string) (*SQLiteDocumentStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open document store %s: %w", path, err)
	}

	// modernc.org/sqlite ignores most DSN params; set pragmas explicitly.
	// Single connection sidesteps table-lock contention under the pure Go driver.
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(documentSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create documents schema: %w", err)
	}

	return &SQLiteDocumentStore{db: db}, nil
}

// DB exposes the underlying handle so sibling stores (sessions, analytics)
// can share one database file.
func (s *SQLiteDocumentStore) DB() *sql.DB {
	return s.db
}

// Insert stores a new document and returns its generated DocID.
func (s *SQLiteDocumentStore) Insert(ctx context.Context, filename string, content []byte, orgID string) (string, error) {
	if orgID == "" {
		return "", ErrOrgScopeMissing
	}

	docID := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (doc_id, filename, content, file_type, organization_id, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		docID, filename, content, FileTypeOf(filename), orgID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert document %s: %w", filename, err)
	}

	return docID, nil
}

// Get returns the document by ID within the organization.
func (s *SQLiteDocumentStore) Get(ctx context.Context, docID, orgID string) (*Document, error) {
	if orgID == "" {
		return nil, ErrOrgScopeMissing
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT doc_id, filename, content, file_type, organization_id, uploaded_at
		 FROM documents WHERE doc_id = ? AND organization_id = ?`,
		docID, orgID)

	return scanDocument(row, docID)
}

// GetByFilename returns the most recently uploaded document with the given
// filename within the organization.
func (s *SQLiteDocumentStore) GetByFilename(ctx context.Context, filename, orgID string) (*Document, error) {
	if orgID == "" {
		return nil, ErrOrgScopeMissing
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT doc_id, filename, content, file_type, organization_id, uploaded_at
		 FROM documents WHERE filename = ? AND organization_id = ?
		 ORDER BY uploaded_at DESC LIMIT 1`,
		filename, orgID)

	return scanDocument(row, filename)
}

// List returns document metadata for the organization, newest first.
func (s *SQLiteDocumentStore) List(ctx context.Context, orgID string) ([]*DocumentMeta, error) {
	if orgID == "" {
		return nil, ErrOrgScopeMissing
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, filename, file_type, length(content), organization_id, uploaded_at
		 FROM documents WHERE organization_id = ?
		 ORDER BY uploaded_at DESC`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var metas []*DocumentMeta
	for rows.Next() {
		m := &DocumentMeta{}
		if err := rows.Scan(&m.DocID, &m.Filename, &m.FileType, &m.SizeBytes, &m.OrganizationID, &m.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document meta: %w", err)
		}
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	return metas, nil
}

// Organizations returns every organization with at least one document.
func (s *SQLiteDocumentStore) Organizations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT organization_id FROM documents ORDER BY organization_id`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return orgs, nil
}

// Delete removes the document. The second delete of the same document
// succeeds and reports 0 rows removed.
func (s *SQLiteDocumentStore) Delete(ctx context.Context, docID, orgID string) (int, error) {
	if orgID == "" {
		return 0, ErrOrgScopeMissing
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE doc_id = ? AND organization_id = ?`,
		docID, orgID)
	if err != nil {
		return 0, fmt.Errorf("delete document %s: %w", docID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete document %s: %w", docID, err)
	}
	return int(n), nil
}

// Close releases the underlying database handle.
func (s *SQLiteDocumentStore) Close() error {
	return s.db.Close()
}

func scanDocument(row *sql.Row, key string) (*Document, error) {
	doc := &Document{}
	err := row.Scan(&doc.DocID, &doc.Filename, &doc.Content, &doc.FileType, &doc.OrganizationID, &doc.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, gateerrors.NotFound(fmt.Sprintf("document %q not found", key), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("scan document %s: %w", key, err)
	}
	return doc, nil
}
