package embed

import (
	"context"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
)

// RetryingProvider wraps a Provider with the downstream retry policy:
// three attempts total with exponential backoff. When every attempt fails
// the error classifies as embedding-unavailable so callers and transports
// can map it without inspecting provider internals.
type RetryingProvider struct {
	inner Provider
	cfg   gateerrors.RetryConfig
}

var _ Provider = (*RetryingProvider)(nil)

// NewRetryingProvider creates a retrying wrapper with the default policy.
func NewRetryingProvider(inner Provider) *RetryingProvider {
	return &RetryingProvider{
		inner: inner,
		cfg:   gateerrors.DefaultRetryConfig(),
	}
}

// Embed generates the embedding for a single text, retrying on failure.
func (r *RetryingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := gateerrors.RetryWithResult(ctx, r.cfg, func() ([]float32, error) {
		return r.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, r.classify(ctx, err)
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts, retrying the whole
// batch on failure. Providers are deterministic, so a retried batch cannot
// produce different vectors for the texts that had already succeeded.
func (r *RetryingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := gateerrors.RetryWithResult(ctx, r.cfg, func() ([][]float32, error) {
		return r.inner.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, r.classify(ctx, err)
	}
	return vecs, nil
}

// classify keeps cancellation errors intact and marks everything else as
// embedding-unavailable.
func (r *RetryingProvider) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return gateerrors.Cancelled("embedding cancelled", err)
	}
	if gateerrors.IsKind(err, gateerrors.KindEmbeddingUnavailable) {
		return err
	}
	return gateerrors.New(gateerrors.ErrCodeEmbeddingUnavailable,
		"embedding provider failed after retries", err)
}

// Dimensions returns the embedding width of the inner provider.
func (r *RetryingProvider) Dimensions() int { return r.inner.Dimensions() }

// ModelName returns the inner provider's model identifier.
func (r *RetryingProvider) ModelName() string { return r.inner.ModelName() }

// Available reports the inner provider's readiness.
func (r *RetryingProvider) Available(ctx context.Context) bool { return r.inner.Available(ctx) }

// Close closes the inner provider.
func (r *RetryingProvider) Close() error { return r.inner.Close() }
