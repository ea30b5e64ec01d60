// Package llm generates answers from retrieved context. Providers speak
// their native HTTP APIs; the adapter fails over between them in
// preference order and hands the caller a bounded token stream.
package llm

import (
	"context"
	"time"
)

// Defaults applied when config leaves generation options unset.
const (
	DefaultMaxTokens      = 1024
	DefaultTemperature    = 0.2
	DefaultRequestTimeout = 120 * time.Second

	// TokenBufferSize bounds how far generation may run ahead of a slow
	// consumer before the producer blocks.
	TokenBufferSize = 256
)

// Options tune one generation call.
type Options struct {
	MaxTokens   int
	Temperature float64
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Temperature == 0 {
		o.Temperature = DefaultTemperature
	}
	return o
}

// Token is one unit of a streamed answer. A Token with Err set is the
// last one on its stream; a Token with Done set marks clean completion.
type Token struct {
	Text string
	Done bool
	Err  error
}

// Provider is one upstream text-generation backend.
type Provider interface {
	// Name identifies the provider ("openai", "anthropic", "ollama").
	Name() string

	// Generate returns the complete answer for the prompt.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)

	// Stream emits answer tokens as they arrive. The channel always
	// terminates with a Done or Err token and is then closed. Cancelling
	// the context stops upstream consumption promptly.
	Stream(ctx context.Context, prompt string, opts Options) (<-chan Token, error)
}
