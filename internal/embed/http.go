package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPConfig configures the remote embedding provider.
type HTTPConfig struct {
	Endpoint       string        // Base URL of the embedding service
	Model          string        // Model identifier sent with every request
	Dimensions     int           // Expected vector width; 0 detects from the first response
	BatchSize      int           // Texts per request
	RequestTimeout time.Duration // Bound on one HTTP call
	PoolSize       int           // Idle connection pool size
}

// HTTPProvider generates embeddings via an Ollama-compatible HTTP API
// (POST /api/embed with a string or string-array input).
type HTTPProvider struct {
	client    *http.Client
	transport *http.Transport
	config    HTTPConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Provider = (*HTTPProvider)(nil)

type embedRequest struct {
	Model string      `json:"model"`
	Input interface{} `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewHTTPProvider creates a remote embedding provider. No network call is
// made here; availability is checked lazily so a slow service cannot block
// startup.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}

	// Timeouts are applied per request via context so callers keep control;
	// a static client timeout would override them.
	return &HTTPProvider{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}, nil
}

// Embed generates the embedding for a single text.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
// Requests are split into config-sized batches.
func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedding provider is closed")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := p.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *HTTPProvider) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: p.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.config.Endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(msg))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(parsed.Embeddings))
	}

	out := make([][]float32, len(parsed.Embeddings))
	for i, vec := range parsed.Embeddings {
		if err := p.checkDims(vec); err != nil {
			return nil, err
		}
		out[i] = normalizeVector(vec)
	}
	return out, nil
}

// checkDims verifies the vector width, learning it from the first response
// when config left it unset.
func (p *HTTPProvider) checkDims(vec []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dims == 0 {
		p.dims = len(vec)
		return nil
	}
	if len(vec) != p.dims {
		return fmt.Errorf("embedding width changed: expected %d, got %d", p.dims, len(vec))
	}
	return nil
}

// Dimensions returns the embedding width, or the configured default before
// the first response has been seen.
func (p *HTTPProvider) Dimensions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.dims == 0 {
		return DefaultDimensions
	}
	return p.dims
}

// ModelName returns the model identifier.
func (p *HTTPProvider) ModelName() string { return p.config.Model }

// Available probes the service with a trivial embed call.
func (p *HTTPProvider) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.embedOnce(probeCtx, []string{"ping"})
	return err == nil
}

// Close releases idle connections.
func (p *HTTPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.transport.CloseIdleConnections()
	return nil
}
