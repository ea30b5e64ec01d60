package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
)

func newTestDocStore(t *testing.T) *SQLiteDocumentStore {
	t.Helper()
	s, err := NewSQLiteDocumentStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocumentStore_InsertAndGet(t *testing.T) {
	// Given: a document store with one uploaded file
	s := newTestDocStore(t)
	ctx := context.Background()

	docID, err := s.Insert(ctx, "notes.md", []byte("# Quarterly notes"), "org-a")
	require.NoError(t, err)
	require.NotEmpty(t, docID)

	// When: fetching it back within the same organization
	doc, err := s.Get(ctx, docID, "org-a")

	// Then: all fields round-trip
	require.NoError(t, err)
	assert.Equal(t, docID, doc.DocID)
	assert.Equal(t, "notes.md", doc.Filename)
	assert.Equal(t, []byte("# Quarterly notes"), doc.Content)
	assert.Equal(t, "md", doc.FileType)
	assert.Equal(t, "org-a", doc.OrganizationID)
	assert.False(t, doc.UploadedAt.IsZero())
}

func TestDocumentStore_GetCrossOrgIsNotFound(t *testing.T) {
	// Given: a document owned by org-a
	s := newTestDocStore(t)
	ctx := context.Background()

	docID, err := s.Insert(ctx, "secret.txt", []byte("internal"), "org-a")
	require.NoError(t, err)

	// When: org-b asks for it by ID
	_, err = s.Get(ctx, docID, "org-b")

	// Then: the response is indistinguishable from a missing document
	require.Error(t, err)
	ge, ok := gateerrors.AsGateError(err)
	require.True(t, ok)
	assert.Equal(t, gateerrors.KindNotFound, ge.Kind)
}

func TestDocumentStore_GetByFilenameReturnsNewest(t *testing.T) {
	// Given: two uploads sharing a filename in one organization
	s := newTestDocStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "report.txt", []byte("v1"), "org-a")
	require.NoError(t, err)
	second, err := s.Insert(ctx, "report.txt", []byte("v2"), "org-a")
	require.NoError(t, err)

	// When: resolving by filename
	doc, err := s.GetByFilename(ctx, "report.txt", "org-a")

	// Then: the most recent upload wins
	require.NoError(t, err)
	assert.Equal(t, second, doc.DocID)
	assert.Equal(t, []byte("v2"), doc.Content)
}

func TestDocumentStore_ListIsOrgScoped(t *testing.T) {
	// Given: documents across two organizations
	s := newTestDocStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "a.txt", []byte("aaa"), "org-a")
	require.NoError(t, err)
	_, err = s.Insert(ctx, "b.txt", []byte("bbbb"), "org-a")
	require.NoError(t, err)
	_, err = s.Insert(ctx, "c.txt", []byte("c"), "org-b")
	require.NoError(t, err)

	// When: listing org-a
	metas, err := s.List(ctx, "org-a")

	// Then: only org-a documents appear, with sizes and no content
	require.NoError(t, err)
	require.Len(t, metas, 2)
	for _, m := range metas {
		assert.Equal(t, "org-a", m.OrganizationID)
	}
	names := []string{metas[0].Filename, metas[1].Filename}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)
}

func TestDocumentStore_OrganizationsListsDistinctTenants(t *testing.T) {
	// Given: documents across two organizations
	s := newTestDocStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "a.txt", []byte("a"), "org-a")
	require.NoError(t, err)
	_, err = s.Insert(ctx, "b.txt", []byte("b"), "org-a")
	require.NoError(t, err)
	_, err = s.Insert(ctx, "c.txt", []byte("c"), "org-b")
	require.NoError(t, err)

	// When
	orgs, err := s.Organizations(ctx)

	// Then: each tenant once, sorted
	require.NoError(t, err)
	assert.Equal(t, []string{"org-a", "org-b"}, orgs)
}

func TestDocumentStore_DeleteIsIdempotent(t *testing.T) {
	// Given: one stored document
	s := newTestDocStore(t)
	ctx := context.Background()

	docID, err := s.Insert(ctx, "gone.txt", []byte("bye"), "org-a")
	require.NoError(t, err)

	// When: deleting it twice
	n1, err1 := s.Delete(ctx, docID, "org-a")
	n2, err2 := s.Delete(ctx, docID, "org-a")

	// Then: the first removes one row, the second succeeds removing none
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, 1, n1)
	assert.Equal(t, 0, n2)
}

func TestDocumentStore_DeleteCrossOrgRemovesNothing(t *testing.T) {
	// Given: a document owned by org-a
	s := newTestDocStore(t)
	ctx := context.Background()

	docID, err := s.Insert(ctx, "keep.txt", []byte("mine"), "org-a")
	require.NoError(t, err)

	// When: org-b tries to delete it
	n, err := s.Delete(ctx, docID, "org-b")

	// Then: nothing is removed and the original is intact
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	doc, err := s.Get(ctx, docID, "org-a")
	require.NoError(t, err)
	assert.Equal(t, "keep.txt", doc.Filename)
}

func TestDocumentStore_EmptyOrgIsRejected(t *testing.T) {
	// Given: a document store
	s := newTestDocStore(t)
	ctx := context.Background()

	// When/Then: every operation without an organization fails fast
	_, err := s.Insert(ctx, "x.txt", []byte("x"), "")
	assert.ErrorIs(t, err, ErrOrgScopeMissing)

	_, err = s.Get(ctx, "some-id", "")
	assert.ErrorIs(t, err, ErrOrgScopeMissing)

	_, err = s.GetByFilename(ctx, "x.txt", "")
	assert.ErrorIs(t, err, ErrOrgScopeMissing)

	_, err = s.List(ctx, "")
	assert.ErrorIs(t, err, ErrOrgScopeMissing)

	_, err = s.Delete(ctx, "some-id", "")
	assert.ErrorIs(t, err, ErrOrgScopeMissing)
}

func TestFileTypeOf(t *testing.T) {
	assert.Equal(t, "md", FileTypeOf("README.md"))
	assert.Equal(t, "txt", FileTypeOf("dir/notes.txt"))
	assert.Equal(t, "html", FileTypeOf("page.tmpl.html"))
	assert.Equal(t, "", FileTypeOf("Makefile"))
	assert.Equal(t, "", FileTypeOf("dir.v2/Makefile"))
}
