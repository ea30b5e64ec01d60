package embed

import (
	"fmt"
	"log/slog"

	"github.com/tessellate-ai/raggate/internal/config"
)

// New builds the embedding stack from config: the selected provider wrapped
// with retry, then caching. Provider "static" is the deterministic hash
// embedder; "http" talks to a remote service; empty falls back to static so
// the gateway can run without any embedding infrastructure.
func New(cfg *config.Config, logger *slog.Logger) (Provider, error) {
	ec := cfg.Embeddings

	var base Provider
	switch ec.Provider {
	case "", "static":
		base = NewStaticProvider(ec.Dimensions)

	case "http":
		p, err := NewHTTPProvider(HTTPConfig{
			Endpoint:       ec.Endpoint,
			Model:          ec.ModelID,
			Dimensions:     ec.Dimensions,
			BatchSize:      ec.BatchSize,
			RequestTimeout: cfg.EmbeddingRequestTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("create http embedding provider: %w", err)
		}
		base = p

	default:
		return nil, fmt.Errorf("unknown embedding provider %q (want \"http\" or \"static\")", ec.Provider)
	}

	logger.Info("embedding provider ready",
		"provider", base.ModelName(),
		"dimensions", base.Dimensions(),
		"cache_size", ec.CacheSize,
		"cache_ttl", cfg.EmbeddingCacheTTL())

	return NewCachedProvider(NewRetryingProvider(base), ec.CacheSize, cfg.EmbeddingCacheTTL()), nil
}
