package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	gateerrors "github.com/tessellate-ai/raggate/internal/errors"
)

// DefaultOllamaHost is the local Ollama daemon.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaProvider speaks the Ollama /api/generate API. Streaming responses
// are newline-delimited JSON rather than SSE.
type OllamaProvider struct {
	host   string
	model  string
	client *http.Client
}

// NewOllamaProvider builds a provider against the Ollama host.
func NewOllamaProvider(host, model string, timeout time.Duration) *OllamaProvider {
	if host == "" {
		host = DefaultOllamaHost
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &OllamaProvider{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (p *OllamaProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	opts = opts.withDefaults()
	resp, err := p.post(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "ollama: malformed response", err)
	}
	return body.Response, nil
}

func (p *OllamaProvider) Stream(ctx context.Context, prompt string, opts Options) (<-chan Token, error) {
	opts = opts.withDefaults()
	resp, err := p.post(ctx, prompt, opts, true)
	if err != nil {
		return nil, err
	}

	out := make(chan Token, TokenBufferSize)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Response != "" {
				if !emit(ctx, out, Token{Text: chunk.Response}) {
					return
				}
			}
			if chunk.Done {
				emit(ctx, out, Token{Done: true})
				return
			}
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			emit(ctx, out, Token{Err: gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "ollama: stream read failed", err)})
			return
		}
		emit(ctx, out, Token{Done: true})
	}()
	return out, nil
}

func (p *OllamaProvider) post(ctx context.Context, prompt string, opts Options, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(ollamaRequest{
		Model:  p.model,
		Prompt: prompt,
		Stream: stream,
		Options: ollamaOptions{
			NumPredict:  opts.MaxTokens,
			Temperature: opts.Temperature,
		},
	})
	if err != nil {
		return nil, gateerrors.Internal("ollama: marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, gateerrors.Internal("ollama: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gateerrors.Cancelled("ollama: request cancelled", ctx.Err())
		}
		return nil, gateerrors.New(gateerrors.ErrCodeLLMUnavailable, "ollama: request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("ollama", resp)
	}
	return resp, nil
}
