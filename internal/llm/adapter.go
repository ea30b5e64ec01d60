package llm

import (
	"context"
	"log/slog"

	"github.com/tessellate-ai/raggate/internal/config"
	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
)

// Adapter fronts an ordered list of providers. Calls try each provider in
// preference order, falling through on unavailable or rate-limited
// failures; when every provider fails the caller gets LLMUnavailable.
// A per-provider circuit breaker skips providers that keep failing until
// their reset timeout elapses.
type Adapter struct {
	providers []Provider
	breakers  []*gateerrors.CircuitBreaker
	defaults  Options
	logger    *slog.Logger
}

// NewAdapter builds an adapter over the given providers in order.
func NewAdapter(providers []Provider, defaults Options, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	breakers := make([]*gateerrors.CircuitBreaker, len(providers))
	for i, p := range providers {
		breakers[i] = gateerrors.NewCircuitBreaker(p.Name())
	}
	return &Adapter{providers: providers, breakers: breakers, defaults: defaults.withDefaults(), logger: logger}
}

// NewAdapterFromConfig instantiates the configured providers in
// preference order. Unknown provider names are skipped with a warning.
func NewAdapterFromConfig(cfg *config.Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.LLMRequestTimeout()

	var providers []Provider
	for _, name := range cfg.LLM.ProviderPreference {
		switch name {
		case "openai":
			providers = append(providers,
				NewOpenAIProvider(cfg.LLM.OpenAI.BaseURL, cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.Model, timeout))
		case "anthropic":
			providers = append(providers,
				NewAnthropicProvider(cfg.LLM.Anthropic.BaseURL, cfg.LLM.Anthropic.APIKey, cfg.LLM.Anthropic.Model, timeout))
		case "ollama":
			providers = append(providers,
				NewOllamaProvider(cfg.LLM.Ollama.Host, cfg.LLM.Ollama.Model, timeout))
		default:
			logger.Warn("unknown llm provider in preference list", slog.String("provider", name))
		}
	}

	return NewAdapter(providers, Options{
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, logger)
}

// Providers returns the configured provider names in order.
func (a *Adapter) Providers() []string {
	names := make([]string, len(a.providers))
	for i, p := range a.providers {
		names[i] = p.Name()
	}
	return names
}

// Defaults returns the adapter's default generation options.
func (a *Adapter) Defaults() Options { return a.defaults }

// Generate produces the complete answer, failing over between providers.
func (a *Adapter) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	opts = a.merge(opts)

	var lastErr error
	for i, p := range a.providers {
		if !a.admit(i, p) {
			continue
		}
		answer, err := p.Generate(ctx, prompt, opts)
		if err == nil {
			a.breakers[i].RecordSuccess()
			return answer, nil
		}
		if !a.failover(i, p, err) {
			return "", err
		}
		lastErr = err
	}
	return "", a.exhausted(lastErr)
}

// Stream produces a token stream from the first provider that accepts
// the request. Failover happens only at stream start; a provider that
// dies mid-stream surfaces its error on the stream itself.
func (a *Adapter) Stream(ctx context.Context, prompt string, opts Options) (<-chan Token, error) {
	opts = a.merge(opts)

	var lastErr error
	for i, p := range a.providers {
		if !a.admit(i, p) {
			continue
		}
		tokens, err := p.Stream(ctx, prompt, opts)
		if err == nil {
			a.breakers[i].RecordSuccess()
			return tokens, nil
		}
		if !a.failover(i, p, err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, a.exhausted(lastErr)
}

// admit consults the provider's circuit breaker.
func (a *Adapter) admit(i int, p Provider) bool {
	if a.breakers[i].Allow() {
		return true
	}
	a.logger.Debug("llm provider circuit open, skipping",
		slog.String("provider", p.Name()))
	return false
}

// failover reports whether the error warrants trying the next provider.
// Cancellation and input errors never do.
func (a *Adapter) failover(i int, p Provider, err error) bool {
	code := gateerrors.GetCode(err)
	if code == gateerrors.ErrCodeLLMUnavailable || code == gateerrors.ErrCodeLLMRateLimited {
		a.breakers[i].RecordFailure()
		a.logger.Warn("llm provider failed, trying next",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()))
		return true
	}
	return false
}

func (a *Adapter) exhausted(lastErr error) error {
	if len(a.providers) == 0 {
		return gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "no llm providers configured", nil)
	}
	return gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "all llm providers failed", lastErr)
}

func (a *Adapter) merge(opts Options) Options {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = a.defaults.MaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = a.defaults.Temperature
	}
	return opts
}
