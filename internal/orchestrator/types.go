// Package orchestrator runs a query end to end: authenticate, authorize,
// retrieve, then either hand back raw chunks or generate an answer from
// them. Transports plug in through the Emitter interface.
package orchestrator

import (
	"context"

	"github.com/tessellate-ai/raggate/internal/llm"
	"github.com/tessellate-ai/raggate/internal/permission"
	"github.com/tessellate-ai/raggate/internal/search"
	"github.com/tessellate-ai/raggate/internal/session"
	"github.com/tessellate-ai/raggate/internal/telemetry"
)

// Request is one query as it arrives from a transport.
type Request struct {
	Question string `json:"question"`

	// Humanize selects answer generation; false returns raw chunks.
	Humanize bool `json:"humanize"`

	// Stream selects token streaming over a single final answer.
	Stream bool `json:"stream"`

	// K overrides the configured result count when positive.
	K int `json:"k,omitempty"`
}

// Citation names a source file and the best fused score among its chunks.
type Citation struct {
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
}

// Emitter receives the orchestrator's output in transport-specific form.
// Calls arrive in a fixed order per query: Status* → Immediate → exactly
// one of (StreamStart StreamToken* StreamEnd) | Overview | Chunks.
// A write error aborts the query.
type Emitter interface {
	Status(message string) error
	Immediate(citations []Citation, excerpts []string) error
	StreamStart() error
	StreamToken(token string) error
	StreamEnd() error
	Overview(answer string, citations []Citation) error
	Chunks(results []*search.Result, citations []Citation) error
}

// Retriever is the slice of the search engine the orchestrator needs.
type Retriever interface {
	Retrieve(ctx context.Context, question string, view *permission.View, opts search.Options) (*search.Response, error)
}

// Generator is the slice of the LLM adapter the orchestrator needs.
// *llm.Adapter satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
	Stream(ctx context.Context, prompt string, opts llm.Options) (<-chan llm.Token, error)
}

// SessionResolver turns an opaque token into a live session.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*session.Session, error)
}

// AnalyticsSink receives a QueryEvent after every query, successful or
// not. Implementations must be safe for concurrent use; failures are
// logged by the orchestrator and never propagate.
type AnalyticsSink interface {
	Record(ctx context.Context, ev telemetry.QueryEvent) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Record(context.Context, telemetry.QueryEvent) error { return nil }

// MultiSink fans an event out to several sinks, returning the first
// error after every sink has seen the event.
type MultiSink []AnalyticsSink

func (m MultiSink) Record(ctx context.Context, ev telemetry.QueryEvent) error {
	var firstErr error
	for _, sink := range m {
		if err := sink.Record(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
