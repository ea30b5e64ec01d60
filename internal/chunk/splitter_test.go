package chunk

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessellate-ai/raggate/internal/store"
)

func testDoc(filename, content string) *store.Document {
	return &store.Document{
		DocID:          "doc-1",
		Filename:       filename,
		Content:        []byte(content),
		FileType:       store.FileTypeOf(filename),
		OrganizationID: "org-a",
		UploadedAt:     time.Now().UTC(),
	}
}

func wordText(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word%04d", i)
	}
	return strings.Join(words, " ")
}

func TestSplitter_EmptyAndWhitespaceDocsYieldNoChunks(t *testing.T) {
	s := NewSplitter(0, 0)

	chunks, err := s.Split(testDoc("empty.txt", ""))
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = s.Split(testDoc("blank.txt", "   \n\t\n  "))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitter_OffsetsSliceTheDocumentExactly(t *testing.T) {
	// Given: a long plain-text document split into token windows
	s := NewSplitter(64, 16)
	doc := testDoc("long.txt", wordText(500))

	// When: splitting
	chunks, err := s.Split(doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// Then: every chunk's offsets reproduce its text from the document
	text := string(doc.Content)
	for _, c := range chunks {
		assert.Equal(t, text[c.Start:c.End], c.Text)
		assert.Equal(t, "doc-1", c.DocID)
		assert.Equal(t, "org-a", c.OrganizationID)
	}
}

func TestSplitter_TokenWindowsRespectSizeAndOverlap(t *testing.T) {
	// Given: 500 identifiable words with 64-token chunks and 16 overlap
	s := NewSplitter(64, 16)
	doc := testDoc("long.txt", wordText(500))

	chunks, err := s.Split(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Then: every chunk stays within budget and indexes are sequential
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.LessOrEqual(t, c.TokenCount, 64)
	}

	// And consecutive chunks share exactly the overlap tokens
	firstWords := strings.Fields(chunks[0].Text)
	secondWords := strings.Fields(chunks[1].Text)
	assert.Len(t, firstWords, 64)
	assert.Equal(t, firstWords[64-16:], secondWords[:16])
}

func TestSplitter_FullCoverage(t *testing.T) {
	// Every word of the document must land in at least one chunk.
	s := NewSplitter(64, 16)
	doc := testDoc("long.txt", wordText(333))

	chunks, err := s.Split(doc)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, c := range chunks {
		for _, w := range strings.Fields(c.Text) {
			seen[w] = true
		}
	}
	for i := 0; i < 333; i++ {
		assert.True(t, seen[fmt.Sprintf("word%04d", i)], "word %d missing from all chunks", i)
	}
}

func TestSplitter_MarkdownSplitsOnSentences(t *testing.T) {
	// Given: a markdown document with distinct sentences
	s := NewSplitter(10, 3)
	content := "# Title\n\nFirst sentence is short. Second sentence is also short. " +
		"Third one keeps going a little longer than the others. Fourth wraps it up."
	doc := testDoc("notes.md", content)

	chunks, err := s.Split(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Then: no chunk starts mid-sentence (each begins at a sentence or
	// heading start) and offsets stay exact
	for _, c := range chunks {
		assert.Equal(t, content[c.Start:c.End], c.Text)
		head := strings.TrimSpace(c.Text)
		require.NotEmpty(t, head)
		first := head[0]
		assert.True(t, first == '#' || (first >= 'A' && first <= 'Z'),
			"chunk should start at a sentence boundary, got %q", head[:min(20, len(head))])
	}
}

func TestSplitter_ShortPlainTextUsesSentences(t *testing.T) {
	// A short .txt document (under the short-doc threshold) is split
	// sentence-aware even though its type is plain text.
	s := NewSplitter(5, 1)
	content := "Alpha beta gamma delta. Epsilon zeta eta theta. Iota kappa lambda mu."
	doc := testDoc("short.txt", content)

	chunks, err := s.Split(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, content[c.Start:c.End], c.Text)
		assert.True(t, strings.HasSuffix(strings.TrimSpace(c.Text), "."),
			"sentence-aware chunks should end at sentence boundaries")
	}
}

func TestSplitter_OversizedSentenceFallsBackToTokenWindows(t *testing.T) {
	// Given: one giant sentence with no terminal punctuation
	s := NewSplitter(32, 8)
	content := wordText(200) // no periods anywhere
	doc := testDoc("giant.md", content)

	chunks, err := s.Split(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, 32)
		assert.Equal(t, content[c.Start:c.End], c.Text)
	}
}

func TestSplitter_NoChunkExceedsHardCeiling(t *testing.T) {
	// Even with the largest configuration, the ceiling holds.
	s := NewSplitter(MaxChunkTokens*2, 0) // clamped to MaxChunkTokens
	doc := testDoc("huge.txt", wordText(5000))

	chunks, err := s.Split(doc)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, MaxChunkTokens)
	}
}

func TestSplitter_DeterministicAcrossRuns(t *testing.T) {
	s := NewSplitter(64, 16)
	doc := testDoc("stable.txt", wordText(300))

	first, err := s.Split(doc)
	require.NoError(t, err)
	second, err := s.Split(doc)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Start, second[i].Start)
		assert.Equal(t, first[i].End, second[i].End)
	}
}

func TestTokenize_Offsets(t *testing.T) {
	text := "  hello   world\nпривет "
	tokens := Tokenize(text)
	require.Len(t, tokens, 3)

	assert.Equal(t, "hello", text[tokens[0].Start:tokens[0].End])
	assert.Equal(t, "world", text[tokens[1].Start:tokens[1].End])
	assert.Equal(t, "привет", text[tokens[2].Start:tokens[2].End])
	assert.Equal(t, 3, CountTokens(text))
}
