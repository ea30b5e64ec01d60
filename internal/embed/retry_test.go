package embed

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
)

// flakyProvider fails a fixed number of times before succeeding.
type flakyProvider struct {
	*StaticProvider
	failures int
	calls    int
}

func (f *flakyProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("transient provider failure %d", f.calls)
	}
	return f.StaticProvider.Embed(ctx, text)
}

func (f *flakyProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("transient provider failure %d", f.calls)
	}
	return f.StaticProvider.EmbedBatch(ctx, texts)
}

func fastRetrying(inner Provider) *RetryingProvider {
	r := NewRetryingProvider(inner)
	r.cfg.InitialDelay = 0
	r.cfg.MaxDelay = 0
	return r
}

func TestRetryingProvider_RecoversFromTransientFailures(t *testing.T) {
	// Given: a provider that fails twice before succeeding
	inner := &flakyProvider{StaticProvider: NewStaticProvider(16), failures: 2}
	r := fastRetrying(inner)

	// When: embedding once
	vec, err := r.Embed(context.Background(), "eventually works")

	// Then: the third attempt succeeds
	require.NoError(t, err)
	assert.Len(t, vec, 16)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingProvider_ExhaustionClassifiesAsUnavailable(t *testing.T) {
	// Given: a provider that never succeeds
	inner := &flakyProvider{StaticProvider: NewStaticProvider(16), failures: 100}
	r := fastRetrying(inner)

	// When: embedding
	_, err := r.Embed(context.Background(), "doomed")

	// Then: three attempts were made and the error carries the
	// embedding-unavailable classification
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls)
	assert.True(t, gateerrors.IsKind(err, gateerrors.KindEmbeddingUnavailable))
	assert.Equal(t, gateerrors.ErrCodeEmbeddingUnavailable, gateerrors.GetCode(err))
}

func TestRetryingProvider_CancellationWinsOverRetry(t *testing.T) {
	// Given: a failing provider and an already-cancelled context
	inner := &flakyProvider{StaticProvider: NewStaticProvider(16), failures: 100}
	r := fastRetrying(inner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When: embedding
	_, err := r.Embed(ctx, "cancelled")

	// Then: the error classifies as cancelled, not unavailable
	require.Error(t, err)
	assert.True(t, gateerrors.IsCancelled(err))
}

func TestRetryingProvider_BatchRetriesWholeBatch(t *testing.T) {
	inner := &flakyProvider{StaticProvider: NewStaticProvider(16), failures: 1}
	r := fastRetrying(inner)

	vecs, err := r.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 2, inner.calls)
}
