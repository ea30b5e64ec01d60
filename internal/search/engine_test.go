package search

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessellate-ai/raggate/internal/embed"
	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
	"github.com/tessellate-ai/raggate/internal/permission"
	"github.com/tessellate-ai/raggate/internal/store"
)

type engineHarness struct {
	engine   *Engine
	docs     store.DocumentStore
	vectors  store.VectorIndex
	lexical  store.LexicalIndex
	embedder embed.Provider
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	dir := t.TempDir()

	docs, err := store.NewSQLiteDocumentStore(filepath.Join(dir, "docs.db"))
	require.NoError(t, err)
	vectors, err := store.NewHNSWVectorIndex(embed.DefaultDimensions, "")
	require.NoError(t, err)
	lexical, err := store.NewBleveLexicalIndex(filepath.Join(dir, "lexical.bleve"))
	require.NoError(t, err)
	embedder := embed.NewStaticProvider(embed.DefaultDimensions)

	t.Cleanup(func() {
		lexical.Close()
		vectors.Close()
		docs.Close()
	})

	return &engineHarness{
		engine:   NewEngine(embedder, vectors, lexical, docs, nil),
		docs:     docs,
		vectors:  vectors,
		lexical:  lexical,
		embedder: embedder,
	}
}

// ingest stores a document and indexes it as a single chunk in both
// backends, returning the generated doc ID.
func (h *engineHarness) ingest(t *testing.T, org, filename, content string) string {
	t.Helper()
	ctx := context.Background()

	docID, err := h.docs.Insert(ctx, filename, []byte(content), org)
	require.NoError(t, err)

	vec, err := h.embedder.Embed(ctx, content)
	require.NoError(t, err)

	ch := &store.Chunk{
		DocID:          docID,
		ChunkIndex:     0,
		Text:           content,
		Start:          0,
		End:            len(content),
		TokenCount:     len(strings.Fields(content)),
		Embedding:      vec,
		Filename:       filename,
		FileType:       store.FileTypeOf(filename),
		OrganizationID: org,
		UploadedAt:     time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, h.vectors.Upsert(ctx, []*store.Chunk{ch}))
	require.NoError(t, h.lexical.Index(ctx, []*store.Chunk{ch}))
	return docID
}

func allowAllView(org string) *permission.View {
	return &permission.View{UserID: "u-test", Role: "member", OrganizationID: org, AllowAll: true}
}

func TestEngine_RetrieveFindsLexicalMatch(t *testing.T) {
	// Given: two documents in one organization
	h := newEngineHarness(t)
	wantID := h.ingest(t, "org-a", "deploy.md", "The deployment pipeline pushes containers to the kubernetes cluster")
	h.ingest(t, "org-a", "billing.md", "Invoices are generated on the first day of every month")

	// When: asking about the deployment topic, lexical-dominant
	resp, err := h.engine.Retrieve(context.Background(), "kubernetes deployment pipeline", allowAllView("org-a"), Options{
		LexicalWeight: 1.0,
		MinFusedScore: 0.1,
	})

	// Then: the deployment doc ranks first with a highlighted excerpt
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	top := resp.Results[0]
	assert.Equal(t, wantID, top.DocID)
	assert.Equal(t, "deploy.md", top.Filename)
	assert.Contains(t, top.Text, "«")
	assert.GreaterOrEqual(t, top.FusedScore, 0.0)
	assert.LessOrEqual(t, top.FusedScore, 1.0)
	assert.Contains(t, resp.SourceDocIDs, wantID)
}

func TestEngine_TenantIsolation(t *testing.T) {
	// Given: the same content uploaded to two organizations
	h := newEngineHarness(t)
	aID := h.ingest(t, "org-a", "secrets.md", "rotation policy for production signing keys")
	h.ingest(t, "org-b", "secrets.md", "rotation policy for production signing keys")

	// When: querying as org-a
	resp, err := h.engine.Retrieve(context.Background(), "signing key rotation policy", allowAllView("org-a"), Options{
		LexicalWeight: 1.0,
		MinFusedScore: 0.1,
	})

	// Then: only org-a documents come back
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, aID, r.DocID)
	}
}

func TestEngine_AllowListRestrictsFilenames(t *testing.T) {
	// Given: two documents, a view granting only one of them
	h := newEngineHarness(t)
	h.ingest(t, "org-a", "handbook.md", "vacation policy grants twenty days of paid leave")
	h.ingest(t, "org-a", "payroll.md", "vacation payouts are processed with the final payroll")

	view := &permission.View{
		UserID:           "u-restricted",
		Role:             "member",
		OrganizationID:   "org-a",
		AllowedFilenames: []string{"handbook.md"},
	}

	// When
	resp, err := h.engine.Retrieve(context.Background(), "vacation policy", view, Options{
		LexicalWeight: 1.0,
		MinFusedScore: 0.1,
	})

	// Then: only the granted file appears
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, "handbook.md", r.Filename)
	}
}

func TestEngine_EnrichmentAttachesFullFile(t *testing.T) {
	// Given: a strongly matching document
	h := newEngineHarness(t)
	content := "incident response runbook: page the on-call engineer first"
	h.ingest(t, "org-a", "runbook.md", content)

	// When: the top hit clears the enrichment threshold
	resp, err := h.engine.Retrieve(context.Background(), "incident response runbook", allowAllView("org-a"), Options{
		LexicalWeight:       1.0,
		MinFusedScore:       0.1,
		EnrichmentThreshold: 0.5,
		IncludeFullFile:     true,
	})

	// Then: the full document rides along
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	top := resp.Results[0]
	require.NotNil(t, top.FullFileContent)
	assert.Equal(t, content, *top.FullFileContent)
}

func TestEngine_EnrichmentMissingDocumentIsNotFatal(t *testing.T) {
	// Given: an indexed chunk whose backing document has been deleted
	h := newEngineHarness(t)
	docID := h.ingest(t, "org-a", "stale.md", "archived quarterly report for the platform team")
	_, err := h.docs.Delete(context.Background(), docID, "org-a")
	require.NoError(t, err)

	// When
	resp, err := h.engine.Retrieve(context.Background(), "quarterly report platform", allowAllView("org-a"), Options{
		LexicalWeight:   1.0,
		MinFusedScore:   0.1,
		IncludeFullFile: true,
	})

	// Then: the hit still returns, enrichment is simply absent
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Nil(t, resp.Results[0].FullFileContent)
	assert.NotEmpty(t, resp.Results[0].Text)
}

func TestEngine_EmptyQuestionRejected(t *testing.T) {
	// Given
	h := newEngineHarness(t)

	// When
	_, err := h.engine.Retrieve(context.Background(), "   ", allowAllView("org-a"), Options{})

	// Then
	require.Error(t, err)
	assert.True(t, gateerrors.IsKind(err, gateerrors.KindInvalidInput))
}

func TestEngine_NilViewRejected(t *testing.T) {
	h := newEngineHarness(t)

	_, err := h.engine.Retrieve(context.Background(), "anything", nil, Options{})

	require.Error(t, err)
	assert.True(t, gateerrors.IsKind(err, gateerrors.KindUnauthenticated))
}

func TestEngine_KLimitsResults(t *testing.T) {
	// Given: five documents sharing the query vocabulary
	h := newEngineHarness(t)
	for i := 0; i < 5; i++ {
		h.ingest(t, "org-a", fmt.Sprintf("note-%d.md", i),
			fmt.Sprintf("meeting notes entry %d about the migration schedule", i))
	}

	// When: asking for two results
	resp, err := h.engine.Retrieve(context.Background(), "migration schedule notes", allowAllView("org-a"), Options{
		K:             2,
		LexicalWeight: 1.0,
		MinFusedScore: 0.01,
	})

	// Then
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
}

// stubVectorIndex and stubLexicalIndex let tests force backend failures
// and dense-only hits.
type stubVectorIndex struct {
	hits []*store.VectorHit
	err  error
}

func (s *stubVectorIndex) Upsert(context.Context, []*store.Chunk) error { return nil }
func (s *stubVectorIndex) KNN(context.Context, []float32, int, store.Where) ([]*store.VectorHit, error) {
	return s.hits, s.err
}
func (s *stubVectorIndex) Delete(context.Context, store.Where) error { return nil }
func (s *stubVectorIndex) Count(store.Where) int { return len(s.hits) }
func (s *stubVectorIndex) Save() error  { return nil }
func (s *stubVectorIndex) Close() error { return nil }

type stubLexicalIndex struct {
	hits []*store.LexicalHit
	err  error
}

func (s *stubLexicalIndex) Index(context.Context, []*store.Chunk) error { return nil }
func (s *stubLexicalIndex) Search(context.Context, string, int, store.Where, store.LexicalOptions) ([]*store.LexicalHit, error) {
	return s.hits, s.err
}
func (s *stubLexicalIndex) Delete(context.Context, store.Where) error { return nil }
func (s *stubLexicalIndex) Suggest(context.Context, string, string, int) ([]string, error) {
	return nil, nil
}
func (s *stubLexicalIndex) Facets(context.Context, store.Where, []string) (map[string]store.FacetCounts, error) {
	return nil, nil
}
func (s *stubLexicalIndex) Count(store.Where) int { return len(s.hits) }
func (s *stubLexicalIndex) Close() error { return nil }

func TestEngine_DegradesWhenOneBackendFails(t *testing.T) {
	// Given: a dense backend that errors and a healthy lexical backend
	dir := t.TempDir()
	docs, err := store.NewSQLiteDocumentStore(filepath.Join(dir, "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	lexHits := []*store.LexicalHit{{
		ChunkID: "doc-1:0",
		Score:   3.0,
		Excerpt: "«release» checklist",
		Meta:    store.ChunkMeta{DocID: "doc-1", ChunkIndex: 0, Filename: "release.md", OrganizationID: "org-a"},
	}}
	engine := NewEngine(
		embed.NewStaticProvider(embed.DefaultDimensions),
		&stubVectorIndex{err: fmt.Errorf("graph unavailable")},
		&stubLexicalIndex{hits: lexHits},
		docs,
		nil,
	)

	// When
	resp, err := engine.Retrieve(context.Background(), "release checklist", allowAllView("org-a"), Options{
		LexicalWeight: 1.0,
		MinFusedScore: 0.1,
	})

	// Then: lexical results survive the dense failure
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc-1", resp.Results[0].DocID)
}

func TestEngine_BothBackendsFailingIsFatal(t *testing.T) {
	dir := t.TempDir()
	docs, err := store.NewSQLiteDocumentStore(filepath.Join(dir, "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	engine := NewEngine(
		embed.NewStaticProvider(embed.DefaultDimensions),
		&stubVectorIndex{err: fmt.Errorf("graph unavailable")},
		&stubLexicalIndex{err: fmt.Errorf("index unavailable")},
		docs,
		nil,
	)

	_, err = engine.Retrieve(context.Background(), "anything at all", allowAllView("org-a"), Options{})
	require.Error(t, err)
}

func TestEngine_DenseOnlyHitSlicesTextFromDocument(t *testing.T) {
	// Given: a real document and a dense hit carrying only byte offsets
	dir := t.TempDir()
	docs, err := store.NewSQLiteDocumentStore(filepath.Join(dir, "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	content := "first sentence here. the important middle part. trailing words."
	docID, err := docs.Insert(context.Background(), "plan.md", []byte(content), "org-a")
	require.NoError(t, err)

	start := strings.Index(content, "the important")
	end := start + len("the important middle part.")
	denseHits := []*store.VectorHit{{
		ChunkID: store.ChunkID(docID, 1),
		Score:   0.9,
		Meta: store.ChunkMeta{
			DocID: docID, ChunkIndex: 1, Filename: "plan.md",
			OrganizationID: "org-a", Start: start, End: end,
		},
	}}
	engine := NewEngine(
		embed.NewStaticProvider(embed.DefaultDimensions),
		&stubVectorIndex{hits: denseHits},
		&stubLexicalIndex{},
		docs,
		nil,
	)

	// When: the hit has no lexical excerpt
	resp, err := engine.Retrieve(context.Background(), "important middle", allowAllView("org-a"), Options{
		DenseWeight:   1.0,
		MinFusedScore: 0.1,
	})

	// Then: chunk text is recovered from the stored document
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "the important middle part.", resp.Results[0].Text)
}
