package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
)

// OpenAIProvider speaks the OpenAI chat-completions API. Any server that
// implements the same contract works through a custom base URL.
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIProvider builds a provider against baseURL (default
// https://api.openai.com).
func NewOpenAIProvider(baseURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	baseURL = strings.TrimRight(baseURL, "/")
	// Config may carry the /v1 suffix; the request path adds it.
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	return &OpenAIProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	opts = opts.withDefaults()
	resp, err := p.post(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "openai: malformed response", err)
	}
	if len(body.Choices) == 0 {
		return "", gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "openai: empty response", nil)
	}
	return body.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, prompt string, opts Options) (<-chan Token, error) {
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
				emit(ctx, out, Token{Err: gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "openai: stream read failed", err)})
				return
			}
			if ev.Data == "[DONE]" {
				emit(ctx, out, Token{Done: true})
				return
			}

			var chunk openaiResponse
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			if !emit(ctx, out, Token{Text: text}) {
				return
			}
		}
	}()
	return out, nil
}

func (p *OpenAIProvider) post(ctx context.Context, prompt string, opts Options, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(openaiRequest{
		Model:       p.model,
		Messages:    []openaiMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, gateerrors.Internal("openai: marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, gateerrors.Internal("openai: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gateerrors.Cancelled("openai: request cancelled", ctx.Err())
		}
		return nil, gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "openai: request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("openai", resp)
	}
	return resp, nil
}

// statusError maps an upstream HTTP failure to the error taxonomy.
// 429 classifies as rate limited so the adapter can fail over.
func statusError(providerName string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("%s: status %d: %s", providerName, resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode == http.StatusTooManyRequests {
		return gateerrors.New(gateerrors.ErrCodeLLMRateLimited, msg, nil)
	}
	return gateerrors.New(gateerrors.ErrCodeLLMUnavailable, msg, nil)
}

// emit sends the token unless the consumer has gone away. It reports
// whether the stream should continue.
func emit(ctx context.Context, out chan<- Token, tok Token) bool {
	select {
	case out <- tok:
		return true
	case <-ctx.Done():
		return false
	}
}
