package search

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/tessellate-ai/raggate/internal/embed"
	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
	"github.com/tessellate-ai/raggate/internal/permission"
	"github.com/tessellate-ai/raggate/internal/store"
)

// Result is one fused retrieval hit, ready for the orchestrator.
type Result struct {
	DocID      string `json:"doc_id"`
	ChunkIndex int    `json:"chunk_index"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	Text       string `json:"text"`

	FusedScore   float64 `json:"fused_score"`
	DenseScore   float64 `json:"dense_score"`
	LexicalScore float64 `json:"lexical_score"`

	// FullFileContent is attached for results at or above the enrichment
	// threshold when the caller asked for it. Nil otherwise, and nil when
	// the backing document has since been deleted.
	FullFileContent *string `json:"full_file_content,omitempty"`
}

// Response bundles the ranked results with the distinct documents they
// came from.
type Response struct {
	Results      []*Result `json:"results"`
	SourceDocIDs []string  `json:"source_doc_ids"`
}

// Engine runs hybrid retrieval over the dense and lexical backends.
type Engine struct {
	embedder embed.Provider
	vectors  store.VectorIndex
	lexical  store.LexicalIndex
	docs     store.DocumentStore
	logger   *slog.Logger
}

// NewEngine wires the retrieval engine. All dependencies are required.
func NewEngine(
	embedder embed.Provider,
	vectors store.VectorIndex,
	lexical store.LexicalIndex,
	docs store.DocumentStore,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder: embedder,
		vectors:  vectors,
		lexical:  lexical,
		docs:     docs,
		logger:   logger,
	}
}

// Retrieve answers a question within the caller's permission view: both
// backends are queried in parallel under the view's predicate, scores
// are normalized and fused, weak hits dropped, and strong hits enriched
// with full document content.
func (e *Engine) Retrieve(ctx context.Context, question string, view *permission.View, opts Options) (*Response, error) {
	start := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, gateerrors.InvalidInput("question must not be empty", nil)
	}
	if view == nil {
		return nil, gateerrors.Unauthenticated("retrieval requires a permission view", nil)
	}

	opts = opts.withDefaults()
	where := view.Where()
	fetchK := opts.candidateK()

	qvec, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	dense, lexical, searchErr := e.parallelSearch(ctx, question, qvec, fetchK, where)
	if searchErr != nil {
		if dense == nil && lexical == nil {
			return nil, searchErr
		}
		// One backend failed; continue degraded on the other.
		e.logger.Warn("retrieval degraded to single backend",
			slog.String("error", searchErr.Error()),
			slog.Int("dense_hits", len(dense)),
			slog.Int("lexical_hits", len(lexical)))
	}

	candidates := collect(dense, lexical)
	switch opts.FusionMethod {
	case FusionRRF:
		fuseRRF(candidates, DefaultRRFConstant)
	default:
		fuseWeighted(candidates, opts.DenseWeight, opts.LexicalWeight)
	}

	kept := make(map[string]*candidate, len(candidates))
	for id, c := range candidates {
		if c.Fused < opts.MinFusedScore {
			continue
		}
		kept[id] = c
	}

	boostByFilename(kept, question)

	ranked := rankCandidates(kept)
	if len(ranked) > opts.K {
		ranked = ranked[:opts.K]
	}

	results, sourceIDs, err := e.materialize(ctx, ranked, where.OrganizationID, opts)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("retrieval complete",
		slog.String("organization_id", where.OrganizationID),
		slog.Int("dense_hits", len(dense)),
		slog.Int("lexical_hits", len(lexical)),
		slog.Int("returned", len(results)),
		slog.Duration("elapsed", time.Since(start)))

	return &Response{Results: results, SourceDocIDs: sourceIDs}, nil
}

// parallelSearch fans out to both backends. A single backend failing is
// reported alongside the surviving result set; both failing returns the
// dense error.
func (e *Engine) parallelSearch(ctx context.Context, question string, qvec []float32, k int, where store.Where) ([]*store.VectorHit, []*store.LexicalHit, error) {
	var (
		dense    []*store.VectorHit
		lexical  []*store.LexicalHit
		denseErr error
		lexErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dense, denseErr = e.vectors.KNN(gctx, qvec, k, where)
		return nil
	})
	g.Go(func() error {
		lexical, lexErr = e.lexical.Search(gctx, question, k, where, store.LexicalOptions{Highlight: true})
		return nil
	})
	_ = g.Wait()

	if denseErr != nil && lexErr != nil {
		return nil, nil, denseErr
	}
	if denseErr != nil {
		return nil, lexical, denseErr
	}
	if lexErr != nil {
		return dense, nil, lexErr
	}
	return dense, lexical, nil
}

// boostByFilename multiplies the fused score when a query token equals a
// token of the result's filename, then clips back into [0,1]. Tokens are
// compared whole so "log" does not fire on "catalog.txt".
func boostByFilename(candidates map[string]*candidate, question string) {
	tokens := queryTokens(question)
	if len(tokens) == 0 {
		return
	}
	for _, c := range candidates {
		nameTokens := filenameTokens(c.Meta.Filename)
		for _, tok := range tokens {
			if nameTokens[tok] {
				c.Fused = clip01(c.Fused * filenameBoost)
				break
			}
		}
	}
}

func filenameTokens(name string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = true
	}
	return out
}

func queryTokens(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

// materialize builds the final result list: chunk text comes from the
// lexical excerpt when present, otherwise it is sliced from the parent
// document by byte offset. Enrichment attaches the full document for
// results at or above the threshold; a deleted document leaves the field
// nil rather than failing the query.
func (e *Engine) materialize(ctx context.Context, ranked []*candidate, orgID string, opts Options) ([]*Result, []string, error) {
	results := make([]*Result, 0, len(ranked))
	docCache := make(map[string]*store.Document)
	seenDocs := make(map[string]bool)
	var sourceIDs []string

	for _, c := range ranked {
		r := &Result{
			DocID:        c.Meta.DocID,
			ChunkIndex:   c.Meta.ChunkIndex,
			Filename:     c.Meta.Filename,
			FileType:     c.Meta.FileType,
			Text:         c.Excerpt,
			FusedScore:   c.Fused,
			DenseScore:   c.DenseScore,
			LexicalScore: c.LexicalScore,
		}

		needDoc := r.Text == "" || (opts.IncludeFullFile && c.Fused >= opts.EnrichmentThreshold)
		if needDoc {
			doc := e.lookupDoc(ctx, docCache, c.Meta.DocID, orgID)
			if doc != nil {
				content := string(doc.Content)
				if r.Text == "" {
					r.Text = sliceOffsets(content, c.Meta.Start, c.Meta.End)
				}
				if opts.IncludeFullFile && c.Fused >= opts.EnrichmentThreshold {
					r.FullFileContent = &content
				}
			}
		}

		if !seenDocs[c.Meta.DocID] {
			seenDocs[c.Meta.DocID] = true
			sourceIDs = append(sourceIDs, c.Meta.DocID)
		}
		results = append(results, r)
	}

	return results, sourceIDs, nil
}

// lookupDoc fetches a document once per query, caching misses as nil.
func (e *Engine) lookupDoc(ctx context.Context, cache map[string]*store.Document, docID, orgID string) *store.Document {
	if doc, ok := cache[docID]; ok {
		return doc
	}
	doc, err := e.docs.Get(ctx, docID, orgID)
	if err != nil {
		if !gateerrors.IsKind(err, gateerrors.KindNotFound) {
			e.logger.Warn("document enrichment failed",
				slog.String("doc_id", docID),
				slog.String("error", err.Error()))
		}
		doc = nil
	}
	cache[docID] = doc
	return doc
}

func sliceOffsets(content string, start, end int) string {
	if start < 0 || end > len(content) || start >= end {
		return ""
	}
	return content[start:end]
}
