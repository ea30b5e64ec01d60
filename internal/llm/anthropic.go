package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider speaks the Anthropic messages API.
type AnthropicProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewAnthropicProvider builds a provider against baseURL (default
// https://api.anthropic.com).
func NewAnthropicProvider(baseURL, apiKey, model string, timeout time.Duration) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &AnthropicProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	opts = opts.withDefaults()
	resp, err := p.post(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "anthropic: malformed response", err)
	}
	var sb strings.Builder
	for _, block := range body.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "anthropic: empty response", nil)
	}
	return sb.String(), nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, prompt string, opts Options) (<-chan Token, error) {
	opts = opts.withDefaults()
	resp, err := p.post(ctx, prompt, opts, true)
	if err != nil {
		return nil, err
	}

	out := make(chan Token, TokenBufferSize)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		reader := newSSEReader(resp.Body)
		for {
			ev, err := reader.Next()
			if err == io.EOF {
				emit(ctx, out, Token{Done: true})
				return
			}
			if err != nil {
				emit(ctx, out, Token{Err: gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "anthropic: stream read failed", err)})
				return
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
				continue
			}
			switch event.Type {
			case "content_block_delta":
				if event.Delta.Text == "" {
					continue
				}
				if !emit(ctx, out, Token{Text: event.Delta.Text}) {
					return
				}
			case "message_stop":
				emit(ctx, out, Token{Done: true})
				return
			case "error":
				emit(ctx, out, Token{Err: gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "anthropic: upstream error event", nil)})
				return
			}
		}
	}()
	return out, nil
}

func (p *AnthropicProvider) post(ctx context.Context, prompt string, opts Options, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(anthropicRequest{
		Model:       p.model,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, gateerrors.Internal("anthropic: marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, gateerrors.Internal("anthropic: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	if p.apiKey != "" {
		req.Header.Set("x-api-key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gateerrors.Cancelled("anthropic: request cancelled", ctx.Err())
		}
		return nil, gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "anthropic: request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("anthropic", resp)
	}
	return resp, nil
}
