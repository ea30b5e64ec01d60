// Package search implements hybrid retrieval: dense and lexical backends
// queried in parallel, scores fused, permission-filtered, and optionally
// enriched with full document content.
package search

import "github.com/tessellate-ai/raggate/internal/config"

// Fusion methods.
const (
	FusionWeighted = "weighted"
	FusionRRF      = "rrf"
)

// Default retrieval parameters.
const (
	DefaultK                   = 10
	DefaultCandidateFloor      = 20
	DefaultDenseWeight         = 0.7
	DefaultLexicalWeight       = 0.3
	DefaultMinFusedScore       = 0.2
	DefaultEnrichmentThreshold = 0.5
	DefaultRRFConstant         = 60

	// filenameBoost multiplies the fused score when a query token matches
	// the result's filename. Clipped back into [0,1] afterwards.
	filenameBoost = 1.3
)

// Options tune one retrieval call. Zero values fall back to defaults.
type Options struct {
	// K is the number of results to return.
	K int

	// DenseWeight and LexicalWeight drive weighted fusion; they must sum
	// to 1 (validated at config load).
	DenseWeight   float64
	LexicalWeight float64

	// MinFusedScore drops weak results after fusion.
	MinFusedScore float64

	// EnrichmentThreshold gates full-document attachment.
	EnrichmentThreshold float64

	// IncludeFullFile attaches document content to strong results.
	IncludeFullFile bool

	// FusionMethod is "weighted" or "rrf".
	FusionMethod string

	// CandidateFloor is the minimum per-backend fetch; the engine asks
	// each backend for max(K, CandidateFloor) candidates so fusion has
	// material to work with at small K.
	CandidateFloor int
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.K <= 0 {
		o.K = DefaultK
	}
	if o.DenseWeight == 0 && o.LexicalWeight == 0 {
		o.DenseWeight = DefaultDenseWeight
		o.LexicalWeight = DefaultLexicalWeight
	}
	if o.MinFusedScore == 0 {
		o.MinFusedScore = DefaultMinFusedScore
	}
	if o.EnrichmentThreshold == 0 {
		o.EnrichmentThreshold = DefaultEnrichmentThreshold
	}
	if o.FusionMethod == "" {
		o.FusionMethod = FusionWeighted
	}
	if o.CandidateFloor <= 0 {
		o.CandidateFloor = DefaultCandidateFloor
	}
	return o
}

// candidateK is the per-backend fetch size.
func (o Options) candidateK() int {
	if o.K > o.CandidateFloor {
		return o.K
	}
	return o.CandidateFloor
}

// OptionsFromConfig builds the default options for a deployment.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		K:                   cfg.Search.DefaultK,
		DenseWeight:         cfg.Search.DenseWeight,
		LexicalWeight:       cfg.Search.LexicalWeight,
		MinFusedScore:       cfg.Search.MinFusedScore,
		EnrichmentThreshold: cfg.Search.EnrichmentThreshold,
		IncludeFullFile:     true,
		FusionMethod:        cfg.Search.FusionMode,
		CandidateFloor:      cfg.Search.CandidateFloor,
	}
}
