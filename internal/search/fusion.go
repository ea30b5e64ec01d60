package search

import (
	"sort"

	"github.com/tessellate-ai/raggate/internal/store"
)

// candidate accumulates per-backend evidence for one chunk during fusion.
type candidate struct {
	ChunkID string
	Meta    store.ChunkMeta
	Excerpt string

	DenseScore   float64 // normalized [0,1], 0 when absent
	LexicalScore float64 // normalized [0,1], 0 when absent
	denseRank    int     // 1-based, 0 when absent
	lexicalRank  int     // 1-based, 0 when absent

	Fused float64
}

// collect merges backend result lists into one candidate per chunk.
// Lexical scores are normalized by the per-query maximum; dense scores
// arrive already clipped to [0,1].
func collect(dense []*store.VectorHit, lexical []*store.LexicalHit) map[string]*candidate {
	byID := make(map[string]*candidate, len(dense)+len(lexical))

	for i, hit := range dense {
		c := &candidate{ChunkID: hit.ChunkID, Meta: hit.Meta}
		c.DenseScore = hit.Score
		c.denseRank = i + 1
		byID[hit.ChunkID] = c
	}

	var maxLex float64
	for _, hit := range lexical {
		if hit.Score > maxLex {
			maxLex = hit.Score
		}
	}

	for i, hit := range lexical {
		c, ok := byID[hit.ChunkID]
		if !ok {
			c = &candidate{ChunkID: hit.ChunkID, Meta: hit.Meta}
			byID[hit.ChunkID] = c
		}
		if maxLex > 0 {
			c.LexicalScore = hit.Score / maxLex
		}
		c.lexicalRank = i + 1
		c.Excerpt = hit.Excerpt
	}

	return byID
}

// fuseWeighted computes denseWeight·dense + lexicalWeight·lexical with
// missing scores contributing zero.
func fuseWeighted(candidates map[string]*candidate, denseWeight, lexicalWeight float64) {
	for _, c := range candidates {
		c.Fused = denseWeight*c.DenseScore + lexicalWeight*c.LexicalScore
	}
}

// fuseRRF computes reciprocal-rank fusion over the backends where the
// chunk appears. Raw RRF scores are tiny; they are rescaled by the
// theoretical two-backend maximum so the min-score floor and the [0,1]
// bound apply uniformly across fusion methods.
func fuseRRF(candidates map[string]*candidate, k int) {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	ceiling := 2.0 / float64(k+1)

	for _, c := range candidates {
		var score float64
		if c.denseRank > 0 {
			score += 1.0 / float64(k+c.denseRank)
		}
		if c.lexicalRank > 0 {
			score += 1.0 / float64(k+c.lexicalRank)
		}
		c.Fused = score / ceiling
	}
}

// rankCandidates orders by fused score descending with deterministic
// tie-breaks: dense score descending, then chunk index ascending, then
// chunk ID for total order.
func rankCandidates(candidates map[string]*candidate) []*candidate {
	out := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Fused != b.Fused {
			return a.Fused > b.Fused
		}
		if a.DenseScore != b.DenseScore {
			return a.DenseScore > b.DenseScore
		}
		if a.Meta.ChunkIndex != b.Meta.ChunkIndex {
			return a.Meta.ChunkIndex < b.Meta.ChunkIndex
		}
		return a.ChunkID < b.ChunkID
	})
	return out
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
