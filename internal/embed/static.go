package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"unicode"
)

// StaticModelName identifies the deterministic hash embedder.
const StaticModelName = "static-hash"

// StaticProvider is a deterministic, dependency-free embedder. Each token
// hashes to a pseudo-random unit direction; the text embedding is the
// normalized sum. Similar texts share tokens and therefore direction, which
// is enough signal for tests and for degraded operation when no embedding
// service is reachable.
type StaticProvider struct {
	dims int
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a static embedder with the given width.
func NewStaticProvider(dims int) *StaticProvider {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &StaticProvider{dims: dims}
}

// Embed generates the embedding for a single text.
func (s *StaticProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, s.dims)
	for _, token := range tokenizeStatic(text) {
		s.addTokenDirection(vec, token)
	}
	return normalizeVector(vec), nil
}

// EmbedBatch generates embeddings for multiple texts, preserving order.
func (s *StaticProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding width.
func (s *StaticProvider) Dimensions() int { return s.dims }

// ModelName returns the model identifier.
func (s *StaticProvider) ModelName() string { return StaticModelName }

// Available always reports true; the static embedder has no dependencies.
func (s *StaticProvider) Available(ctx context.Context) bool { return true }

// Close releases resources.
func (s *StaticProvider) Close() error { return nil }

// addTokenDirection accumulates the token's hash-derived direction into vec.
// The SHA-256 digest seeds a splitmix64 stream so every dimension gets an
// independent pseudo-random component.
func (s *StaticProvider) addTokenDirection(vec []float32, token string) {
	digest := sha256.Sum256([]byte(token))
	state := binary.BigEndian.Uint64(digest[:8])

	for i := range vec {
		state += 0x9E3779B97F4A7C15
		z := state
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		z ^= z >> 31

		// Map to [-1, 1).
		vec[i] += float32(int64(z)) / float32(1<<63)
	}
}

// tokenizeStatic lowercases and splits on non-letter, non-digit runes.
func tokenizeStatic(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
