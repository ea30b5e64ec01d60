package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
	"github.com/tessellate-ai/raggate/internal/llm"
	"github.com/tessellate-ai/raggate/internal/permission"
	"github.com/tessellate-ai/raggate/internal/search"
	"github.com/tessellate-ai/raggate/internal/session"
	"github.com/tessellate-ai/raggate/internal/store"
	"github.com/tessellate-ai/raggate/internal/telemetry"
)

// Orchestrator drives the query state machine over its collaborators.
type Orchestrator struct {
	sessions  SessionResolver
	retriever Retriever
	generator Generator
	analytics AnalyticsSink
	options   search.Options
	genOpts   llm.Options
	logger    *slog.Logger
}

// New wires an orchestrator. A nil analytics sink records nothing.
func New(
	sessions SessionResolver,
	retriever Retriever,
	generator Generator,
	analytics AnalyticsSink,
	options search.Options,
	genOpts llm.Options,
	logger *slog.Logger,
) *Orchestrator {
	if analytics == nil {
		analytics = NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sessions:  sessions,
		retriever: retriever,
		generator: generator,
		analytics: analytics,
		options:   options,
		genOpts:   genOpts,
		logger:    logger,
	}
}

// Execute runs one query: authenticate the token, authorize the view,
// retrieve, then emit raw chunks or a generated answer. The returned
// error is what the transport should surface; emission already done is
// not rolled back.
func (o *Orchestrator) Execute(ctx context.Context, token string, req Request, em Emitter) error {
	start := time.Now()
	ev := telemetry.QueryEvent{
		QueryID:   uuid.NewString(),
		SessionID: session.HashToken(token),
		Question:  req.Question,
		Mode:      telemetry.ModeRaw,
		Timestamp: start.UTC(),
	}
	defer func() {
		ev.ResponseTime = time.Since(start)
		o.emitAnalytics(&ev)
	}()

	// AUTH
	sess, err := o.sessions.Resolve(ctx, token)
	if err != nil {
		return o.fail(&ev, err)
	}
	ev.UserID = sess.UserID

	// AUTHORIZE
	view, err := permission.Resolve(sess)
	if err != nil {
		return o.fail(&ev, err)
	}
	ev.OrganizationID = view.OrganizationID

	// RETRIEVE
	if err := em.Status("retrieving"); err != nil {
		return o.fail(&ev, err)
	}
	opts := o.options
	if req.K > 0 {
		opts.K = req.K
	}
	retrieveStart := time.Now()
	resp, err := o.retriever.Retrieve(ctx, req.Question, view, opts)
	ev.RetrieveTime = time.Since(retrieveStart)
	if err != nil {
		return o.fail(&ev, err)
	}
	ev.ResultCount = len(resp.Results)
	for _, r := range resp.Results {
		ev.SourceChunkIDs = append(ev.SourceChunkIDs, store.ChunkID(r.DocID, r.ChunkIndex))
	}

	citations := buildCitations(resp.Results)
	if err := em.Immediate(citations, buildExcerpts(resp.Results, 5)); err != nil {
		return o.fail(&ev, err)
	}

	// DECIDE_MODE
	if !req.Humanize {
		if err := em.Chunks(resp.Results, citations); err != nil {
			return o.fail(&ev, err)
		}
		ev.Success = true
		return nil
	}

	// PROMPT → GENERATE → EMIT
	prompt := BuildPrompt(req.Question, resp.Results)
	generateStart := time.Now()
	var started bool
	if req.Stream {
		ev.Mode = telemetry.ModeStreamed
		started, err = o.streamAnswer(ctx, prompt, em, &ev.AnswerLength)
	} else {
		ev.Mode = telemetry.ModeGenerated
		err = o.generateAnswer(ctx, prompt, citations, em, &ev.AnswerLength)
	}
	ev.GenerateTime = time.Since(generateStart)
	if err != nil {
		// Generation failed after retrieval succeeded: degrade to raw
		// chunks so the caller keeps the sources, unless streaming had
		// already begun or the caller is gone.
		if !started && !gateerrors.IsCancelled(err) {
			_ = em.Chunks(resp.Results, citations)
		}
		return o.fail(&ev, err)
	}

	ev.Success = true
	return nil
}

func (o *Orchestrator) generateAnswer(ctx context.Context, prompt string, citations []Citation, em Emitter, answerLen *int) error {
	answer, err := o.generator.Generate(ctx, prompt, o.genOpts)
	if err != nil {
		return err
	}
	*answerLen = len(answer)
	return em.Overview(answer, citations)
}

// streamAnswer reports whether stream_start was emitted so callers know
// a degraded chunks frame would violate the frame order.
func (o *Orchestrator) streamAnswer(ctx context.Context, prompt string, em Emitter, answerLen *int) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tokens, err := o.generator.Stream(ctx, prompt, o.genOpts)
	if err != nil {
		return false, err
	}
	if err := em.StreamStart(); err != nil {
		return false, err
	}
	for tok := range tokens {
		if tok.Err != nil {
			return true, tok.Err
		}
		if tok.Done {
			break
		}
		*answerLen += len(tok.Text)
		if err := em.StreamToken(tok.Text); err != nil {
			// Transport gone; cancel stops upstream generation.
			return true, err
		}
	}
	return true, em.StreamEnd()
}

// fail classifies the error for analytics and hands it back unchanged.
func (o *Orchestrator) fail(ev *telemetry.QueryEvent, err error) error {
	ev.Success = false
	ev.ErrorKind = string(gateerrors.KindOf(err))
	return err
}

// emitAnalytics records the event fire-and-forget. Sink failures are
// logged, never surfaced.
func (o *Orchestrator) emitAnalytics(ev *telemetry.QueryEvent) {
	event := *ev
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.analytics.Record(ctx, event); err != nil {
			o.logger.Warn("analytics sink failed",
				slog.String("query_id", event.QueryID),
				slog.String("error", err.Error()))
		}
	}()
}
