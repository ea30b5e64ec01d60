// Package index is the write path: it turns uploaded bytes into stored
// documents and indexed chunks, keeping the document store, vector index,
// and lexical index consistent with each other.
package index

import (
	"strings"
	"unicode/utf8"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
)

// DecodeText prepares raw document bytes for chunking. Markup formats are
// stripped to visible text; everything else passes through as UTF-8.
//
// Stripping is byte-preserving: removed markup is overwritten with spaces
// so every offset into the decoded text is also a valid offset into the
// original bytes. Chunk byte ranges therefore stay meaningful against the
// stored document.
func DecodeText(content []byte, fileType string) (string, error) {
	if !utf8.Valid(content) {
		return "", gateerrors.New(gateerrors.ErrCodeUnsupportedFormat,
			"document is not valid UTF-8 text", nil)
	}
	text := string(content)
	switch fileType {
	case "html", "htm":
		return blankMarkup(text), nil
	default:
		return text, nil
	}
}

// blankMarkup replaces HTML tags, comments, and script/style bodies with
// spaces of identical byte length.
func blankMarkup(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	i := 0
	for i < len(text) {
		if text[i] != '<' {
			b.WriteByte(text[i])
			i++
			continue
		}

		end := markupEnd(text, i)
		if end < 0 {
			// Unterminated markup; keep the rest verbatim.
			b.WriteString(text[i:])
			break
		}
		for j := i; j < end; j++ {
			b.WriteByte(' ')
		}
		i = end
	}
	return b.String()
}

// markupEnd returns the byte offset just past the markup element starting
// at i, or -1 when it never closes. Comments and script/style elements are
// consumed whole, including their bodies.
func markupEnd(text string, i int) int {
	rest := text[i:]

	if strings.HasPrefix(rest, "<!--") {
		if n := strings.Index(rest, "-->"); n >= 0 {
			return i + n + len("-->")
		}
		return -1
	}

	for _, elem := range []string{"script", "style"} {
		if !hasTagPrefix(rest, elem) {
			continue
		}
		closing := "</" + elem + ">"
		if n := indexFold(rest, closing); n >= 0 {
			return i + n + len(closing)
		}
		return -1
	}

	if n := strings.IndexByte(rest, '>'); n >= 0 {
		return i + n + 1
	}
	return -1
}

// hasTagPrefix reports whether rest starts an opening tag for elem,
// case-insensitively, followed by a delimiter.
func hasTagPrefix(rest, elem string) bool {
	if len(rest) < len(elem)+2 {
		return false
	}
	if !strings.EqualFold(rest[1:1+len(elem)], elem) {
		return false
	}
	c := rest[1+len(elem)]
	return c == '>' || c == ' ' || c == '\t' || c == '\n' || c == '/'
}

// indexFold is a case-insensitive strings.Index for ASCII needles.
func indexFold(s, needle string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(needle))
}
