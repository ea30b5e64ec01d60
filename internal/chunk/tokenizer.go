// Package chunk splits documents into overlapping retrievable fragments.
// Two strategies exist: fixed token windows for long plain text, and
// sentence-aware packing for markup and short documents. Both guarantee
// that a chunk's byte offsets slice the original document text exactly.
package chunk

import "unicode"

// Token is one whitespace-delimited unit with its byte offsets into the
// source text.
type Token struct {
	Start int // Inclusive byte offset
	End   int // Exclusive byte offset
}

// Tokenize splits text on Unicode whitespace, recording byte offsets.
// The tokenizer is intentionally simple and stable: token counts drive
// chunk boundaries, and boundaries must not move between releases or the
// same document would re-chunk differently on reindex.
func Tokenize(text string) []Token {
	var tokens []Token
	start := -1

	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, Token{Start: start, End: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Start: start, End: len(text)})
	}

	return tokens
}

// CountTokens returns the token count without allocating offsets.
func CountTokens(text string) int {
	n := 0
	inToken := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inToken = false
			continue
		}
		if !inToken {
			n++
			inToken = true
		}
	}
	return n
}
