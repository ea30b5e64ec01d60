package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tessellate-ai/raggate/internal/chunk"
	"github.com/tessellate-ai/raggate/internal/embed"
	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
	"github.com/tessellate-ai/raggate/internal/store"
)

// DefaultMaxConcurrent caps simultaneous write operations.
const DefaultMaxConcurrent = 16

// Pipeline coordinates the dual-write path: document store first, then
// both indices, with rollback when any stage fails so partial state is
// never visible to readers.
type Pipeline struct {
	docs     store.DocumentStore
	vectors  store.VectorIndex
	lexical  store.LexicalIndex
	embedder embed.Provider
	splitter *chunk.Splitter
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	max      int
}

// NewPipeline wires the write path. maxConcurrent <= 0 uses the default.
func NewPipeline(
	docs store.DocumentStore,
	vectors store.VectorIndex,
	lexical store.LexicalIndex,
	embedder embed.Provider,
	splitter *chunk.Splitter,
	maxConcurrent int,
	logger *slog.Logger,
) *Pipeline {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		docs:     docs,
		vectors:  vectors,
		lexical:  lexical,
		embedder: embedder,
		splitter: splitter,
		logger:   logger,
		inflight: make(map[string]struct{}),
		max:      maxConcurrent,
	}
}

func writeKey(docID, orgID string) string {
	return docID + "|" + orgID
}

// acquire registers an in-flight write for (docID, orgID). It fails Busy
// when the same document already has a write in flight or the registry is
// at capacity.
func (p *Pipeline) acquire(docID, orgID string) error {
	key := writeKey(docID, orgID)
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.inflight[key]; exists {
		return gateerrors.Busy(fmt.Sprintf("write already in flight for document %s", docID))
	}
	if len(p.inflight) >= p.max {
		return gateerrors.Busy(fmt.Sprintf("too many concurrent index writes (max %d)", p.max))
	}
	p.inflight[key] = struct{}{}
	return nil
}

func (p *Pipeline) release(docID, orgID string) {
	p.mu.Lock()
	delete(p.inflight, writeKey(docID, orgID))
	p.mu.Unlock()
}

// InFlight returns the number of writes currently in progress.
func (p *Pipeline) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// Ingest stores the document and indexes its chunks in both backends.
// Any failure after the document row exists rolls everything back, so the
// caller either gets a doc ID whose chunks are queryable or no trace at
// all.
func (p *Pipeline) Ingest(ctx context.Context, filename string, content []byte, orgID string) (string, error) {
	if orgID == "" {
		return "", store.ErrOrgScopeMissing
	}
	if len(content) == 0 {
		return "", gateerrors.InvalidInput("document is empty", nil)
	}

	docID, err := p.docs.Insert(ctx, filename, content, orgID)
	if err != nil {
		return "", err
	}

	if err := p.acquire(docID, orgID); err != nil {
		_, _ = p.docs.Delete(ctx, docID, orgID)
		return "", err
	}
	defer p.release(docID, orgID)

	doc := &store.Document{
		DocID:          docID,
		Filename:       filename,
		Content:        content,
		FileType:       store.FileTypeOf(filename),
		OrganizationID: orgID,
		UploadedAt:     time.Now().UTC(),
	}

	if err := p.indexDocument(ctx, doc); err != nil {
		p.rollback(docID, orgID, true)
		return "", err
	}
	return docID, nil
}

// Delete removes the document from both indices and the store. Idempotent:
// deleting an absent document succeeds with no effect.
func (p *Pipeline) Delete(ctx context.Context, docID, orgID string) error {
	if orgID == "" {
		return store.ErrOrgScopeMissing
	}
	if err := p.acquire(docID, orgID); err != nil {
		return err
	}
	defer p.release(docID, orgID)

	where := store.Where{OrganizationID: orgID, DocID: docID}
	if err := p.vectors.Delete(ctx, where); err != nil {
		return gateerrors.New(gateerrors.ErrCodeIndexWriteFailed, "vector delete failed", err)
	}
	if err := p.lexical.Delete(ctx, where); err != nil {
		return gateerrors.New(gateerrors.ErrCodeIndexWriteFailed, "lexical delete failed", err)
	}
	if _, err := p.docs.Delete(ctx, docID, orgID); err != nil {
		return err
	}
	return nil
}

// Reindex rebuilds both indices for an existing document without touching
// its stored bytes. A failure leaves the document unindexed but present,
// so a retry can complete the job.
func (p *Pipeline) Reindex(ctx context.Context, docID, orgID string) error {
	if orgID == "" {
		return store.ErrOrgScopeMissing
	}

	doc, err := p.docs.Get(ctx, docID, orgID)
	if err != nil {
		return err
	}

	if err := p.acquire(docID, orgID); err != nil {
		return err
	}
	defer p.release(docID, orgID)

	where := store.Where{OrganizationID: orgID, DocID: docID}
	if err := p.vectors.Delete(ctx, where); err != nil {
		return gateerrors.New(gateerrors.ErrCodeIndexWriteFailed, "vector delete failed", err)
	}
	if err := p.lexical.Delete(ctx, where); err != nil {
		return gateerrors.New(gateerrors.ErrCodeIndexWriteFailed, "lexical delete failed", err)
	}

	if err := p.indexDocument(ctx, doc); err != nil {
		p.rollback(docID, orgID, false)
		return err
	}
	return nil
}

// ReindexFile rebuilds the most recent document with the given filename.
func (p *Pipeline) ReindexFile(ctx context.Context, filename, orgID string) (string, error) {
	doc, err := p.docs.GetByFilename(ctx, filename, orgID)
	if err != nil {
		return "", err
	}
	return doc.DocID, p.Reindex(ctx, doc.DocID, orgID)
}

// ReindexOrganization rebuilds every document in the organization, one at
// a time. It reports how many documents were rebuilt and stops at the
// first failure.
func (p *Pipeline) ReindexOrganization(ctx context.Context, orgID string) (int, error) {
	metas, err := p.docs.List(ctx, orgID)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, meta := range metas {
		if err := ctx.Err(); err != nil {
			return done, gateerrors.Cancelled("reindex interrupted", err)
		}
		if err := p.Reindex(ctx, meta.DocID, orgID); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// Refresh blocks until in-flight writes drain and both indices have
// acknowledged their pending state. After it returns, reads observe every
// write that completed before the call.
func (p *Pipeline) Refresh(ctx context.Context) error {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for p.InFlight() > 0 {
		select {
		case <-ctx.Done():
			return gateerrors.Cancelled("refresh interrupted", ctx.Err())
		case <-tick.C:
		}
	}
	if err := p.vectors.Save(); err != nil {
		return gateerrors.New(gateerrors.ErrCodeIndexWriteFailed, "vector snapshot failed", err)
	}
	return nil
}

// indexDocument runs decode → chunk → embed → dual index write.
func (p *Pipeline) indexDocument(ctx context.Context, doc *store.Document) error {
	text, err := DecodeText(doc.Content, doc.FileType)
	if err != nil {
		return err
	}

	decoded := *doc
	decoded.Content = []byte(text)
	chunks, err := p.splitter.Split(&decoded)
	if err != nil {
		return gateerrors.InvalidInput("document could not be chunked", err)
	}
	if len(chunks) == 0 {
		return gateerrors.InvalidInput("document contains no indexable text", nil)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(embeddings) != len(chunks) {
		return gateerrors.Internal(
			fmt.Sprintf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks)), nil)
	}
	for i, c := range chunks {
		c.Embedding = embeddings[i]
	}

	if err := ctx.Err(); err != nil {
		return gateerrors.Cancelled("ingest interrupted", err)
	}

	if err := p.vectors.Upsert(ctx, chunks); err != nil {
		return gateerrors.New(gateerrors.ErrCodeIndexWriteFailed, "vector index write failed", err)
	}
	if err := p.lexical.Index(ctx, chunks); err != nil {
		return gateerrors.New(gateerrors.ErrCodeIndexWriteFailed, "lexical index write failed", err)
	}
	return nil
}

// rollback clears every trace of the document after a failed write. It
// runs on a fresh context so cancellation of the original request cannot
// leave partial state behind.
func (p *Pipeline) rollback(docID, orgID string, dropDocument bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	where := store.Where{OrganizationID: orgID, DocID: docID}
	if err := p.vectors.Delete(ctx, where); err != nil {
		p.logger.Error("rollback: vector delete failed",
			slog.String("doc_id", docID), slog.String("error", err.Error()))
	}
	if err := p.lexical.Delete(ctx, where); err != nil {
		p.logger.Error("rollback: lexical delete failed",
			slog.String("doc_id", docID), slog.String("error", err.Error()))
	}
	if dropDocument {
		if _, err := p.docs.Delete(ctx, docID, orgID); err != nil {
			p.logger.Error("rollback: document delete failed",
				slog.String("doc_id", docID), slog.String("error", err.Error()))
		}
	}
}
