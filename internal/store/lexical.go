package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/lang/ru"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	// URLStripFilterName removes URLs before tokenization so links never
	// pollute the term dictionary.
	URLStripFilterName = "url_strip"

	// DocAnalyzerName is the analyzer for chunk text: URL stripping,
	// unicode tokenization, case folding, English and Russian stopwords.
	DocAnalyzerName = "doc_analyzer"

	// maxExcerptBytes caps a highlighted excerpt per chunk.
	maxExcerptBytes = 240

	// deleteBatchSize bounds one delete-by-query page.
	deleteBatchSize = 1000
)

// highlight markers for matched spans.
const (
	highlightOpen  = "«"
	highlightClose = "»"
)

var urlPattern = regexp.MustCompile(`(?:https?://|www\.)\S+`)

func init() {
	registry.RegisterCharFilter(URLStripFilterName, urlStripConstructor)
}

// urlStripConstructor creates the URL-removal char filter for Bleve.
func urlStripConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.CharFilter, error) {
	return &urlStripFilter{}, nil
}

type urlStripFilter struct{}

// Filter replaces URLs with spaces, preserving byte offsets as closely as
// the tokenizer needs (replacement keeps a single space per URL).
func (f *urlStripFilter) Filter(input []byte) []byte {
	return urlPattern.ReplaceAll(input, []byte(" "))
}

// BleveLexicalIndex implements LexicalIndex on Bleve with BM25 scoring.
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)

// NewBleveLexicalIndex opens (or creates) the lexical index at path.
// An empty path creates an in-memory index for tests.
func NewBleveLexicalIndex(path string) (*BleveLexicalIndex, error) {
	mapping, err := buildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("build lexical mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	return &BleveLexicalIndex{index: idx, path: path}, nil
}

// buildIndexMapping wires the custom analyzer and per-field mappings.
// Metadata fields use the keyword analyzer so term queries filter on
// exact values; content uses the document analyzer.
func buildIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	err := im.AddCustomAnalyzer(DocAnalyzerName, map[string]interface{}{
		"type":         custom.Name,
		"char_filters": []string{URLStripFilterName},
		"tokenizer":    unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			en.StopName,
			ru.StopName,
		},
	})
	if err != nil {
		return nil, err
	}

	contentFM := bleve.NewTextFieldMapping()
	contentFM.Analyzer = DocAnalyzerName
	contentFM.Store = true
	contentFM.IncludeTermVectors = true
	contentFM.IncludeInAll = false

	keywordFM := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.Store = true
		fm.IncludeInAll = false
		return fm
	}

	numericFM := bleve.NewNumericFieldMapping()
	numericFM.Store = true
	numericFM.IncludeInAll = false

	tokenCountFM := bleve.NewNumericFieldMapping()
	tokenCountFM.Store = true
	tokenCountFM.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", contentFM)
	doc.AddFieldMappingsAt("doc_id", keywordFM())
	doc.AddFieldMappingsAt("filename", keywordFM())
	doc.AddFieldMappingsAt("organization_id", keywordFM())
	doc.AddFieldMappingsAt("file_type", keywordFM())
	doc.AddFieldMappingsAt("uploaded_at", keywordFM())
	doc.AddFieldMappingsAt("chunk_index", numericFM)
	doc.AddFieldMappingsAt("token_count", tokenCountFM)

	offsetFM := bleve.NewNumericFieldMapping()
	offsetFM.Store = true
	offsetFM.IncludeInAll = false
	doc.AddFieldMappingsAt("start", offsetFM)
	doc.AddFieldMappingsAt("end", offsetFM)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = DocAnalyzerName
	return im, nil
}

// Index adds or replaces chunks in the index.
func (b *BleveLexicalIndex) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := b.index.NewBatch()
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.OrganizationID == "" {
			return ErrOrgScopeMissing
		}
		doc := map[string]interface{}{
			"content":         c.Text,
			"doc_id":          c.DocID,
			"filename":        c.Filename,
			"organization_id": c.OrganizationID,
			"file_type":       c.FileType,
			"chunk_index":     c.ChunkIndex,
			"token_count":     c.TokenCount,
			"start":           c.Start,
			"end":             c.End,
			"uploaded_at":     c.UploadedAt.UTC().Format(time.RFC3339),
		}
		if err := batch.Index(c.ID(), doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID(), err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute lexical batch: %w", err)
	}
	return nil
}

// Search returns chunks matching query within where, scored by BM25.
func (b *BleveLexicalIndex) Search(ctx context.Context, queryStr string, k int, where Where, opts LexicalOptions) ([]*LexicalHit, error) {
	if where.OrganizationID == "" {
		return nil, ErrOrgScopeMissing
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	if strings.TrimSpace(queryStr) == "" || k < 1 {
		return []*LexicalHit{}, nil
	}

	match := bleve.NewMatchQuery(queryStr)
	match.SetField("content")
	match.Analyzer = DocAnalyzerName
	if fuzz := autoFuzziness(queryStr); fuzz > 0 {
		match.SetFuzziness(fuzz)
	}

	full := bleve.NewConjunctionQuery(match)
	appendFilterQueries(full, where)

	req := bleve.NewSearchRequestOptions(full, k, 0, false)
	req.Fields = []string{"content", "doc_id", "filename", "organization_id", "file_type", "chunk_index", "token_count", "start", "end", "uploaded_at"}
	req.IncludeLocations = true

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	hits := make([]*LexicalHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		content, _ := hit.Fields["content"].(string)
		excerpt := content
		if opts.Highlight {
			excerpt = buildExcerpt(content, hit.Locations)
		} else if len(excerpt) > maxExcerptBytes {
			excerpt = truncateRunes(excerpt, maxExcerptBytes)
		}
		hits = append(hits, &LexicalHit{
			ChunkID: hit.ID,
			Score:   hit.Score,
			Excerpt: excerpt,
			Meta:    metaFromFields(hit.Fields),
		})
	}
	return hits, nil
}

// Delete removes every chunk matching where, paging through matches.
func (b *BleveLexicalIndex) Delete(ctx context.Context, where Where) error {
	if where.OrganizationID == "" {
		return ErrOrgScopeMissing
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("lexical index is closed")
	}

	filter := bleve.NewConjunctionQuery()
	appendFilterQueries(filter, where)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		req := bleve.NewSearchRequestOptions(filter, deleteBatchSize, 0, false)
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("lexical delete scan: %w", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}

		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("lexical delete batch: %w", err)
		}
	}
}

// Suggest returns completion candidates for prefix within the organization.
// Candidates are index terms and filenames starting with the prefix.
func (b *BleveLexicalIndex) Suggest(ctx context.Context, prefix, orgID string, limit int) ([]string, error) {
	if orgID == "" {
		return nil, ErrOrgScopeMissing
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" || limit < 1 {
		return []string{}, nil
	}

	content := bleve.NewPrefixQuery(prefix)
	content.SetField("content")
	filename := bleve.NewPrefixQuery(prefix)
	filename.SetField("filename")

	either := bleve.NewDisjunctionQuery(content, filename)
	full := bleve.NewConjunctionQuery(either)
	appendFilterQueries(full, Where{OrganizationID: orgID})

	req := bleve.NewSearchRequestOptions(full, limit*4, 0, false)
	req.Fields = []string{"filename"}
	req.IncludeLocations = true

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical suggest: %w", err)
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(term string) {
		if _, dup := seen[term]; dup || len(out) >= limit {
			return
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}

	for _, hit := range res.Hits {
		for _, termLocs := range hit.Locations {
			for term := range termLocs {
				if strings.HasPrefix(term, prefix) {
					add(term)
				}
			}
		}
		if name, ok := hit.Fields["filename"].(string); ok && strings.HasPrefix(strings.ToLower(name), prefix) {
			add(name)
		}
	}

	sort.Strings(out)
	return out, nil
}

// Facets returns value counts for the given metadata fields within where.
func (b *BleveLexicalIndex) Facets(ctx context.Context, where Where, fields []string) (map[string]FacetCounts, error) {
	if where.OrganizationID == "" {
		return nil, ErrOrgScopeMissing
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	filter := bleve.NewConjunctionQuery()
	appendFilterQueries(filter, where)

	req := bleve.NewSearchRequestOptions(filter, 0, 0, false)
	for _, f := range fields {
		req.AddFacet(f, bleve.NewFacetRequest(f, 100))
	}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical facets: %w", err)
	}

	out := make(map[string]FacetCounts, len(fields))
	for name, fr := range res.Facets {
		counts := make(FacetCounts)
		for _, tf := range fr.Terms.Terms() {
			counts[tf.Term] = tf.Count
		}
		out[name] = counts
	}
	return out, nil
}

// Count returns the number of indexed chunks matching where.
func (b *BleveLexicalIndex) Count(where Where) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed || where.OrganizationID == "" {
		return 0
	}

	filter := bleve.NewConjunctionQuery()
	appendFilterQueries(filter, where)

	req := bleve.NewSearchRequestOptions(filter, 0, 0, false)
	res, err := b.index.Search(req)
	if err != nil {
		return 0
	}
	return int(res.Total)
}

// Close closes the index.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// appendFilterQueries adds the mandatory organization term plus optional
// doc and filename predicates to a conjunction.
func appendFilterQueries(conj *query.ConjunctionQuery, where Where) {
	org := bleve.NewTermQuery(where.OrganizationID)
	org.SetField("organization_id")
	conj.AddQuery(org)

	if where.DocID != "" {
		doc := bleve.NewTermQuery(where.DocID)
		doc.SetField("doc_id")
		conj.AddQuery(doc)
	}

	if len(where.Filenames) > 0 {
		names := bleve.NewDisjunctionQuery()
		for _, fn := range where.Filenames {
			tq := bleve.NewTermQuery(fn)
			tq.SetField("filename")
			names.AddQuery(tq)
		}
		conj.AddQuery(names)
	}
}

// autoFuzziness applies fuzziness only to single-token queries, scaled by
// term length the way AUTO fuzziness does: 0 for short terms, 1 for
// medium, 2 for long.
func autoFuzziness(queryStr string) int {
	tokens := strings.Fields(queryStr)
	if len(tokens) != 1 {
		return 0
	}
	switch n := len([]rune(tokens[0])); {
	case n <= 2:
		return 0
	case n <= 5:
		return 1
	default:
		return 2
	}
}

// metaFromFields reconstructs chunk metadata from stored fields.
func metaFromFields(fields map[string]interface{}) ChunkMeta {
	meta := ChunkMeta{}
	if v, ok := fields["doc_id"].(string); ok {
		meta.DocID = v
	}
	if v, ok := fields["filename"].(string); ok {
		meta.Filename = v
	}
	if v, ok := fields["organization_id"].(string); ok {
		meta.OrganizationID = v
	}
	if v, ok := fields["file_type"].(string); ok {
		meta.FileType = v
	}
	if v, ok := fields["chunk_index"].(float64); ok {
		meta.ChunkIndex = int(v)
	}
	if v, ok := fields["token_count"].(float64); ok {
		meta.TokenCount = int(v)
	}
	if v, ok := fields["start"].(float64); ok {
		meta.Start = int(v)
	}
	if v, ok := fields["end"].(float64); ok {
		meta.End = int(v)
	}
	if v, ok := fields["uploaded_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			meta.UploadedAt = t
		}
	}
	return meta
}

// buildExcerpt produces a highlighted window around the first match.
// Matched spans are wrapped in « »; the result stays under the excerpt cap.
func buildExcerpt(content string, locations search.FieldTermLocationMap) string {
	spans := matchSpans(content, locations)
	if len(spans) == 0 {
		return truncateRunes(content, maxExcerptBytes)
	}

	// Window centered on the first match, sized to the cap minus marker room.
	first := spans[0]
	window := maxExcerptBytes - 2*len(highlightOpen)
	start := first.start - window/3
	if start < 0 {
		start = 0
	}
	start = alignRuneStart(content, start)
	end := start + window
	if end > len(content) {
		end = len(content)
	}
	end = alignRuneStart(content, end)

	var sb strings.Builder
	pos := start
	for _, sp := range spans {
		if sp.start < start || sp.end > end {
			continue
		}
		sb.WriteString(content[pos:sp.start])
		sb.WriteString(highlightOpen)
		sb.WriteString(content[sp.start:sp.end])
		sb.WriteString(highlightClose)
		pos = sp.end
	}
	sb.WriteString(content[pos:end])

	excerpt := strings.TrimSpace(sb.String())
	if len(excerpt) > maxExcerptBytes {
		excerpt = truncateRunes(excerpt, maxExcerptBytes)
	}
	return excerpt
}

type span struct{ start, end int }

// matchSpans flattens term locations into sorted, merged byte spans.
func matchSpans(content string, locations search.FieldTermLocationMap) []span {
	var spans []span
	for field, termLocs := range locations {
		if field != "content" {
			continue
		}
		for _, locs := range termLocs {
			for _, loc := range locs {
				start, end := int(loc.Start), int(loc.End)
				if start < 0 || end > len(content) || start >= end {
					continue
				}
				spans = append(spans, span{start: start, end: end})
			}
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	// Merge overlaps so nested markers never appear.
	merged := spans[:0]
	for _, sp := range spans {
		if n := len(merged); n > 0 && sp.start <= merged[n-1].end {
			if sp.end > merged[n-1].end {
				merged[n-1].end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}

// alignRuneStart moves a byte offset back to the nearest rune boundary.
func alignRuneStart(s string, i int) int {
	for i > 0 && i < len(s) && (s[i]&0xC0) == 0x80 {
		i--
	}
	return i
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:alignRuneStart(s, n)]
}
