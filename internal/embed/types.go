// Package embed turns text into fixed-width dense vectors. Providers are
// interchangeable: a remote HTTP service for production, a deterministic
// hash embedder for tests and offline operation. Wrappers add caching and
// retry on top of any provider.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultDimensions is the embedding width when config leaves it unset.
	DefaultDimensions = 384

	// DefaultBatchSize is texts per provider request.
	DefaultBatchSize = 32

	// MaxBatchSize bounds one request to keep provider memory predictable.
	MaxBatchSize = 256

	// DefaultRequestTimeout bounds one provider call.
	DefaultRequestTimeout = 30 * time.Second
)

// Provider generates vector embeddings for text. Implementations must be
// deterministic: the same text and model always yield the same vector.
type Provider interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the provider is ready to serve.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length. A zero vector is
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
