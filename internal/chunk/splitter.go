package chunk

import (
	"fmt"

	"github.com/tessellate-ai/raggate/internal/store"
)

const (
	// DefaultTokensPerChunk is the target chunk size.
	DefaultTokensPerChunk = 512

	// DefaultOverlapTokens is the overlap between consecutive chunks,
	// keeping sentences that straddle a boundary retrievable from both
	// sides.
	DefaultOverlapTokens = 128

	// MaxChunkTokens is the hard ceiling: no produced chunk exceeds it.
	MaxChunkTokens = 1024

	// shortDocBytes is the size under which a document is split
	// sentence-aware regardless of type; token windows would chop a short
	// document mid-thought for no gain.
	shortDocBytes = 2000
)

// Splitter turns a document into overlapping chunks. Markup files and
// short documents are split on sentence boundaries; long plain text uses
// fixed token windows.
type Splitter struct {
	tokensPerChunk int
	overlapTokens  int
}

// NewSplitter creates a splitter. Non-positive arguments fall back to
// defaults; overlap is clamped below the chunk size so windows always
// advance.
func NewSplitter(tokensPerChunk, overlapTokens int) *Splitter {
	if tokensPerChunk <= 0 {
		tokensPerChunk = DefaultTokensPerChunk
	}
	if tokensPerChunk > MaxChunkTokens {
		tokensPerChunk = MaxChunkTokens
	}
	if overlapTokens < 0 {
		overlapTokens = DefaultOverlapTokens
	}
	if overlapTokens >= tokensPerChunk {
		overlapTokens = tokensPerChunk / 2
	}
	return &Splitter{tokensPerChunk: tokensPerChunk, overlapTokens: overlapTokens}
}

// Split produces the document's chunks with exact byte offsets. Embeddings
// are left nil; the indexing pipeline fills them. An empty or
// whitespace-only document yields no chunks.
func (s *Splitter) Split(doc *store.Document) ([]*store.Chunk, error) {
	if doc == nil {
		return nil, fmt.Errorf("chunk: document is nil")
	}

	text := string(doc.Content)
	spans := s.spansFor(text, doc.FileType)

	chunks := make([]*store.Chunk, 0, len(spans))
	for _, sp := range spans {
		chunkText := text[sp.Start:sp.End]
		count := CountTokens(chunkText)
		if count == 0 {
			continue
		}
		chunks = append(chunks, &store.Chunk{
			DocID:          doc.DocID,
			ChunkIndex:     len(chunks),
			Text:           chunkText,
			Start:          sp.Start,
			End:            sp.End,
			TokenCount:     count,
			Filename:       doc.Filename,
			FileType:       doc.FileType,
			OrganizationID: doc.OrganizationID,
			UploadedAt:     doc.UploadedAt,
		})
	}
	return chunks, nil
}

type span struct {
	Start int
	End   int
}

// spansFor selects the strategy and returns chunk byte ranges.
func (s *Splitter) spansFor(text, fileType string) []span {
	if sentenceAware(fileType) || len(text) < shortDocBytes {
		return s.sentenceSpans(text)
	}
	return s.tokenSpans(text, 0)
}

func sentenceAware(fileType string) bool {
	switch fileType {
	case "md", "markdown", "html", "htm":
		return true
	}
	return false
}

// tokenSpans slices text into fixed token windows with overlap. The base
// offset shifts all spans, letting oversized sentences reuse this path.
func (s *Splitter) tokenSpans(text string, base int) []span {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	stride := s.tokensPerChunk - s.overlapTokens
	var spans []span
	for start := 0; start < len(tokens); start += stride {
		end := start + s.tokensPerChunk
		if end > len(tokens) {
			end = len(tokens)
		}
		spans = append(spans, span{
			Start: base + tokens[start].Start,
			End:   base + tokens[end-1].End,
		})
		if end == len(tokens) {
			break
		}
	}
	return spans
}

// sentenceSpans packs whole sentences into chunks up to the token budget,
// carrying roughly overlapTokens of trailing sentences into the next
// chunk. A single sentence larger than the budget degrades to token
// windows over just that sentence.
func (s *Splitter) sentenceSpans(text string) []span {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	counts := make([]int, len(sentences))
	for i, sen := range sentences {
		counts[i] = CountTokens(text[sen.Start:sen.End])
	}

	var spans []span
	i := 0
	for i < len(sentences) {
		// Oversized sentence: token windows over its range.
		if counts[i] > s.tokensPerChunk {
			sub := s.tokenSpans(text[sentences[i].Start:sentences[i].End], sentences[i].Start)
			spans = append(spans, sub...)
			i++
			continue
		}

		// Pack sentences while the budget holds.
		total := 0
		j := i
		for j < len(sentences) && counts[j] <= s.tokensPerChunk && total+counts[j] <= s.tokensPerChunk {
			total += counts[j]
			j++
		}
		spans = append(spans, span{Start: sentences[i].Start, End: sentences[j-1].End})

		if j >= len(sentences) {
			break
		}

		// Walk back to build the overlap, always advancing at least one.
		next := j
		carried := 0
		for next > i+1 && carried+counts[next-1] <= s.overlapTokens {
			next--
			carried += counts[next]
		}
		i = next
	}
	return spans
}
