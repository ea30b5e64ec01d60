package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunk(docID string, index int, org, filename, text string, emb []float32) *Chunk {
	return &Chunk{
		DocID:          docID,
		ChunkIndex:     index,
		Text:           text,
		TokenCount:     len(text) / 4,
		Embedding:      emb,
		Filename:       filename,
		FileType:       FileTypeOf(filename),
		OrganizationID: org,
		UploadedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func newTestVectorIndex(t *testing.T) *HNSWVectorIndex {
	t.Helper()
	idx, err := NewHNSWVectorIndex(3, "")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestVectorIndex_KNNOrdersByCosine(t *testing.T) {
	// Given: three chunks at known angles from the query direction
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*Chunk{
		testChunk("d1", 0, "org-a", "a.txt", "aligned", []float32{1, 0, 0}),
		testChunk("d1", 1, "org-a", "a.txt", "diagonal", []float32{1, 1, 0}),
		testChunk("d1", 2, "org-a", "a.txt", "orthogonal", []float32{0, 0, 1}),
	}))

	// When: searching along the first axis
	hits, err := idx.KNN(ctx, []float32{1, 0, 0}, 3, Where{OrganizationID: "org-a"})

	// Then: results descend by similarity and scores stay within [0,1]
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, ChunkID("d1", 0), hits[0].ChunkID)
	assert.Equal(t, ChunkID("d1", 1), hits[1].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.7071, hits[1].Score, 1e-3)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}
}

func TestVectorIndex_TenantsNeverMix(t *testing.T) {
	// Given: identical vectors indexed for two organizations
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*Chunk{
		testChunk("d1", 0, "org-a", "a.txt", "alpha", []float32{1, 0, 0}),
		testChunk("d2", 0, "org-b", "b.txt", "beta", []float32{1, 0, 0}),
	}))

	// When: org-a queries
	hits, err := idx.KNN(ctx, []float32{1, 0, 0}, 10, Where{OrganizationID: "org-a"})

	// Then: only org-a chunks come back
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "org-a", hits[0].Meta.OrganizationID)
}

func TestVectorIndex_KNNRequiresOrg(t *testing.T) {
	idx := newTestVectorIndex(t)

	_, err := idx.KNN(context.Background(), []float32{1, 0, 0}, 5, Where{})
	assert.ErrorIs(t, err, ErrOrgScopeMissing)
}

func TestVectorIndex_FilenameAllowListFiltersBeforeTopK(t *testing.T) {
	// Given: many well-matching chunks in disallowed files and one weaker
	// match in an allowed file
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	var chunks []*Chunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, testChunk("noise", i, "org-a", "noise.txt", "strong", []float32{1, 0, 0}))
	}
	chunks = append(chunks, testChunk("doc", 0, "org-a", "allowed.txt", "weak", []float32{0, 1, 0.2}))
	require.NoError(t, idx.Upsert(ctx, chunks))

	// When: querying with a single-file allow-list
	hits, err := idx.KNN(ctx, []float32{1, 0, 0}, 3, Where{
		OrganizationID: "org-a",
		Filenames:      []string{"allowed.txt"},
	})

	// Then: the allowed chunk surfaces even though stronger matches exist
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ChunkID("doc", 0), hits[0].ChunkID)
}

func TestVectorIndex_UpsertReplacesPreviousVersion(t *testing.T) {
	// Given: one chunk indexed twice with different vectors
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*Chunk{
		testChunk("d1", 0, "org-a", "a.txt", "old", []float32{1, 0, 0}),
	}))
	require.NoError(t, idx.Upsert(ctx, []*Chunk{
		testChunk("d1", 0, "org-a", "a.txt", "new", []float32{0, 1, 0}),
	}))

	// When: counting and querying near the old vector
	hits, err := idx.KNN(ctx, []float32{1, 0, 0}, 5, Where{OrganizationID: "org-a"})

	// Then: exactly one live version exists, carrying the new embedding
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Count(Where{OrganizationID: "org-a"}))
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.0, hits[0].Score, 1e-6)
}

func TestVectorIndex_DeleteByDoc(t *testing.T) {
	// Given: two documents in one organization
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*Chunk{
		testChunk("d1", 0, "org-a", "a.txt", "one", []float32{1, 0, 0}),
		testChunk("d1", 1, "org-a", "a.txt", "two", []float32{0, 1, 0}),
		testChunk("d2", 0, "org-a", "b.txt", "three", []float32{0, 0, 1}),
	}))

	// When: deleting the first document
	require.NoError(t, idx.Delete(ctx, Where{OrganizationID: "org-a", DocID: "d1"}))

	// Then: only the second document's chunk remains searchable
	assert.Equal(t, 1, idx.Count(Where{OrganizationID: "org-a"}))
	hits, err := idx.KNN(ctx, []float32{1, 0, 0}, 5, Where{OrganizationID: "org-a"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ChunkID("d2", 0), hits[0].ChunkID)
}

func TestVectorIndex_DimensionMismatchIsRejected(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []*Chunk{
		testChunk("d1", 0, "org-a", "a.txt", "wrong", []float32{1, 0}),
	})
	var dim ErrDimensionMismatch
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 3, dim.Expected)
	assert.Equal(t, 2, dim.Got)

	_, err = idx.KNN(ctx, []float32{1, 0, 0, 0}, 5, Where{OrganizationID: "org-a"})
	require.ErrorAs(t, err, &dim)
}

func TestVectorIndex_SaveAndReload(t *testing.T) {
	// Given: an index persisted to disk, with one chunk deleted before saving
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.gob")

	idx, err := NewHNSWVectorIndex(3, path)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, []*Chunk{
		testChunk("d1", 0, "org-a", "a.txt", "keep", []float32{1, 0, 0}),
		testChunk("d2", 0, "org-a", "b.txt", "drop", []float32{0, 1, 0}),
		testChunk("d3", 0, "org-b", "c.txt", "other tenant", []float32{0, 0, 1}),
	}))
	require.NoError(t, idx.Delete(ctx, Where{OrganizationID: "org-a", DocID: "d2"}))
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	// When: reopening from the snapshot
	reloaded, err := NewHNSWVectorIndex(3, path)
	require.NoError(t, err)
	defer reloaded.Close()

	// Then: live chunks, metadata, and tenant boundaries survive the reload
	assert.Equal(t, 1, reloaded.Count(Where{OrganizationID: "org-a"}))
	assert.Equal(t, 1, reloaded.Count(Where{OrganizationID: "org-b"}))

	hits, err := reloaded.KNN(ctx, []float32{1, 0, 0}, 5, Where{OrganizationID: "org-a"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ChunkID("d1", 0), hits[0].ChunkID)
	assert.Equal(t, "a.txt", hits[0].Meta.Filename)
}

func TestVectorIndex_ReloadWithDifferentDimsFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.gob")

	idx, err := NewHNSWVectorIndex(3, path)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(context.Background(), []*Chunk{
		testChunk("d1", 0, "org-a", "a.txt", "v", []float32{1, 0, 0}),
	}))
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	_, err = NewHNSWVectorIndex(5, path)
	var dim ErrDimensionMismatch
	require.ErrorAs(t, err, &dim)
}
