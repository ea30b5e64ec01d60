package orchestrator

import (
	"fmt"
	"strings"

	"github.com/tessellate-ai/raggate/internal/search"
)

// sourceSeparator divides source blocks in the prompt. Stable across
// releases so prompt caches and tests stay valid.
const sourceSeparator = "\n---\n"

const promptInstruction = `Answer the question using ONLY the sources below. ` +
	`Cite every claim with the source filename in square brackets, like [report.md]. ` +
	`If the sources do not contain the answer, say so plainly instead of guessing.`

// BuildPrompt assembles the generation prompt: instruction, then the
// sources in fused-score-descending order, then the question. Full file
// content is included when enrichment attached it, otherwise the chunk
// excerpt.
func BuildPrompt(question string, results []*search.Result) string {
	var sb strings.Builder
	sb.WriteString(promptInstruction)
	sb.WriteString("\n\nSources:\n")

	for i, r := range results {
		if i > 0 {
			sb.WriteString(sourceSeparator)
		}
		fmt.Fprintf(&sb, "[%s]\n", r.Filename)
		if r.FullFileContent != nil {
			sb.WriteString(*r.FullFileContent)
		} else {
			sb.WriteString(r.Text)
		}
	}

	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

// buildCitations lists unique source filenames with the best fused score
// per file, in the results' fused-descending order.
func buildCitations(results []*search.Result) []Citation {
	seen := make(map[string]bool, len(results))
	out := make([]Citation, 0, len(results))
	for _, r := range results {
		if seen[r.Filename] {
			continue
		}
		seen[r.Filename] = true
		out = append(out, Citation{Filename: r.Filename, Score: r.FusedScore})
	}
	return out
}

// buildExcerpts collects the per-result display texts for the immediate
// frame, capped so the frame stays small.
func buildExcerpts(results []*search.Result, max int) []string {
	if max <= 0 || max > len(results) {
		max = len(results)
	}
	out := make([]string, 0, max)
	for _, r := range results[:max] {
		out = append(out, r.Text)
	}
	return out
}
