package chunk

// sentenceSpan is one sentence's byte range. Spans tile the text: each
// span ends where the next begins, so concatenating them reproduces the
// document exactly.
type sentenceSpan struct {
	Start int
	End   int
}

// splitSentences finds sentence boundaries: terminal punctuation followed
// by whitespace, or a blank line. Closing quotes and brackets after the
// terminal stay with their sentence. Markup headings end at the newline
// because a blank line follows them in well-formed documents; a heading
// glued to its paragraph is treated as part of the first sentence, which
// is acceptable for retrieval.
func splitSentences(text string) []sentenceSpan {
	if len(text) == 0 {
		return nil
	}

	var spans []sentenceSpan
	start := 0
	i := 0
	runes := []rune(text)
	offsets := runeOffsets(text, runes)

	for i < len(runes) {
		r := runes[i]

		// Blank line always terminates.
		if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			end := skipNewlines(runes, i)
			spans = append(spans, sentenceSpan{Start: start, End: offsets[end]})
			start = offsets[end]
			i = end
			continue
		}

		if isTerminal(r) {
			j := i + 1
			for j < len(runes) && isClosing(runes[j]) {
				j++
			}
			if j >= len(runes) || isSpaceRune(runes[j]) {
				// Trailing whitespace attaches to this sentence.
				for j < len(runes) && isSpaceRune(runes[j]) {
					j++
				}
				end := len(text)
				if j < len(runes) {
					end = offsets[j]
				}
				spans = append(spans, sentenceSpan{Start: start, End: end})
				start = end
				i = j
				continue
			}
		}

		i++
	}

	if start < len(text) {
		spans = append(spans, sentenceSpan{Start: start, End: len(text)})
	}
	return spans
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '»', '”', '’':
		return true
	}
	return false
}

func isSpaceRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func skipNewlines(runes []rune, i int) int {
	for i < len(runes) && (runes[i] == '\n' || runes[i] == '\r') {
		i++
	}
	return i
}

// runeOffsets maps each rune index to its byte offset; the slice has one
// extra entry equal to len(text) so lookups past the last rune are safe.
func runeOffsets(text string, runes []rune) []int {
	offsets := make([]int, len(runes)+1)
	b := 0
	for i, r := range runes {
		offsets[i] = b
		b += runeLen(r)
	}
	offsets[len(runes)] = len(text)
	return offsets
}

func runeLen(r rune) int {
	switch {
	case r < 0x80:
		return 1
	case r < 0x800:
		return 2
	case r < 0x10000:
		return 3
	default:
		return 4
	}
}
