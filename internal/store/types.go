// Package store provides the persistence layer: the relational document
// store (SQLite), the vector index (HNSW), and the lexical index (Bleve).
// Every read and write is scoped to an organization.
package store

import (
	"context"
	"fmt"
	"time"
)

// Document represents one uploaded file with its raw bytes and metadata.
type Document struct {
	DocID          string    // Opaque identifier, unique within the store
	Filename       string    // Original filename, not unique
	Content        []byte    // Immutable raw bytes
	FileType       string    // Extension-derived tag ("txt", "md", "html", ...)
	OrganizationID string    // Tenant tag, always required
	UploadedAt     time.Time
}

// DocumentMeta is a Document without its content, for listings.
type DocumentMeta struct {
	DocID          string    `json:"doc_id"`
	Filename       string    `json:"filename"`
	FileType       string    `json:"file_type"`
	SizeBytes      int64     `json:"size_bytes"`
	OrganizationID string    `json:"organization_id"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

// Chunk is one retrievable fragment of a Document. Filename and
// organization are denormalized from the parent so both indices can
// filter without a join.
type Chunk struct {
	DocID          string
	ChunkIndex     int
	Text           string    // Original text, preserved for display
	Start          int       // Byte offset into the document text (inclusive)
	End            int       // Byte offset into the document text (exclusive)
	TokenCount     int
	Embedding      []float32 // L2-normalized, fixed dimension
	Filename       string
	FileType       string
	OrganizationID string
	UploadedAt     time.Time
}

// ID returns the composite chunk identifier (doc_id, chunk_index).
func (c *Chunk) ID() string {
	return ChunkID(c.DocID, c.ChunkIndex)
}

// ChunkID builds the composite chunk identifier.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s:%d", docID, index)
}

// Where is a metadata predicate for index operations. OrganizationID is
// mandatory on every retrieval call; DocID and Filenames narrow further.
type Where struct {
	// OrganizationID scopes the operation to one tenant. Never empty on reads.
	OrganizationID string

	// DocID restricts to a single document when set.
	DocID string

	// Filenames restricts to the given filenames when non-empty
	// (the permission allow-list). Empty means all filenames.
	Filenames []string
}

// ErrOrgScopeMissing is returned when a store operation is attempted
// without an organization scope. This is a programmer error, not a
// user-input error: callers must always bind the tenant first.
var ErrOrgScopeMissing = fmt.Errorf("store: operation requires an organization scope")

// VectorHit is one k-NN result from the vector index.
type VectorHit struct {
	ChunkID string
	Score   float64 // Cosine similarity, clipped to [0,1]
	Meta    ChunkMeta
}

// ChunkMeta is the metadata carried alongside every indexed vector and
// lexical document.
type ChunkMeta struct {
	DocID          string
	ChunkIndex     int
	Filename       string
	FileType       string
	OrganizationID string
	TokenCount     int
	Start          int // Byte offset into the document text (inclusive)
	End            int // Byte offset into the document text (exclusive)
	UploadedAt     time.Time
}

// LexicalHit is one BM25 result from the lexical index.
type LexicalHit struct {
	ChunkID string
	Score   float64 // Raw BM25 score; normalization happens at fusion
	Excerpt string  // Highlighted excerpt, « » around matched spans, <= 240 bytes
	Meta    ChunkMeta
}

// LexicalOptions configures a lexical search.
type LexicalOptions struct {
	// Highlight requests « » highlight markers in excerpts.
	Highlight bool
}

// FacetCounts maps field values to document counts for one faceted field.
type FacetCounts map[string]int

// VectorIndex stores chunk embeddings plus metadata and answers filtered
// k-NN queries. Top-k is computed over the filtered subset, never by
// filtering after the fact.
type VectorIndex interface {
	// Upsert inserts or replaces chunks by their composite ID.
	Upsert(ctx context.Context, chunks []*Chunk) error

	// KNN returns the k nearest chunks to query among those matching
	// where, descending by cosine score.
	KNN(ctx context.Context, query []float32, k int, where Where) ([]*VectorHit, error)

	// Delete removes every chunk matching where.
	Delete(ctx context.Context, where Where) error

	// Count returns the number of live chunks matching where.
	Count(where Where) int

	// Save persists the index to its backing location.
	Save() error

	// Close releases resources.
	Close() error
}

// LexicalIndex is the inverted index over chunk text with BM25 scoring,
// metadata filtering, prefix suggestions, and facet aggregations.
type LexicalIndex interface {
	// Index adds or replaces chunks in the index.
	Index(ctx context.Context, chunks []*Chunk) error

	// Search returns chunks matching query within where, scored by BM25.
	Search(ctx context.Context, query string, k int, where Where, opts LexicalOptions) ([]*LexicalHit, error)

	// Delete removes every chunk matching where.
	Delete(ctx context.Context, where Where) error

	// Suggest returns up to limit completion candidates for prefix within
	// the organization. Best-effort: errors degrade to an empty slice.
	Suggest(ctx context.Context, prefix, orgID string, limit int) ([]string, error)

	// Facets returns value counts for the given metadata fields within where.
	Facets(ctx context.Context, where Where, fields []string) (map[string]FacetCounts, error)

	// Count returns the number of indexed chunks matching where.
	Count(where Where) int

	// Close releases resources.
	Close() error
}

// DocumentStore persists raw document bytes and metadata. Every operation
// takes the caller's organization and fails with NotFound when no row
// matches both the identifier and the organization.
type DocumentStore interface {
	// Insert stores a new document and returns its generated DocID.
	Insert(ctx context.Context, filename string, content []byte, orgID string) (string, error)

	// Get returns the document by ID within the organization.
	Get(ctx context.Context, docID, orgID string) (*Document, error)

	// GetByFilename returns the most recently uploaded document with the
	// given filename within the organization.
	GetByFilename(ctx context.Context, filename, orgID string) (*Document, error)

	// List returns document metadata for the organization, newest first.
	List(ctx context.Context, orgID string) ([]*DocumentMeta, error)

	// Delete removes the document. Returns the number of rows removed
	// (0 or 1); deleting an absent document is not an error.
	Delete(ctx context.Context, docID, orgID string) (int, error)

	// Close releases the underlying database handle.
	Close() error
}

// ErrDimensionMismatch indicates a vector whose width does not match the
// index. The index was built with a different embedding model; a reindex
// is required before mixing.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: index expects %d, got %d (reindex required)", e.Expected, e.Got)
}

// FileTypeOf derives the file-type tag from a filename extension.
func FileTypeOf(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		switch filename[i] {
		case '.':
			return filename[i+1:]
		case '/', '\\':
			return ""
		}
	}
	return ""
}
