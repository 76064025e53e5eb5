package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openvia "github.com/openvia/openvia"
)

const defaultTimeout = 120 * time.Second

// Provider speaks the OpenAI chat completions protocol.
type Provider struct {
	apiKey      string
	baseURL     string
	model       string
	temperature *float64
	maxTokens   int
	client      *http.Client
	logger      *slog.Logger
}

var _ openvia.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = &t }
}

// WithMaxTokens caps completion length.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// WithHTTPClient overrides the HTTP client (timeouts, proxies, test servers).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New creates a chat completions provider. baseURL is the API root
// (e.g. "https://api.openai.com/v1"); the chat completions path is appended
// unless already present.
func New(apiKey, baseURL, model string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  openvia.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name identifies the provider for logs and errors.
func (p *Provider) Name() string { return "openaicompat" }

// MaxContextTokens estimates the context window from the model name.
func (p *Provider) MaxContextTokens() int { return contextTokens(p.model) }

// Chat sends one streaming chat completions request. The returned channel
// carries the unified event stream and is closed after the terminal event.
func (p *Provider) Chat(ctx context.Context, req openvia.ChatRequest) <-chan openvia.LLMEvent {
	out := make(chan openvia.LLMEvent)
	go func() {
		defer close(out)
		p.stream(ctx, req, out)
	}()
	return out
}

func (p *Provider) stream(ctx context.Context, req openvia.ChatRequest, out chan<- openvia.LLMEvent) {
	body := BuildBody(req, p.model)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}
	body.Temperature = p.temperature
	body.MaxTokens = p.maxTokens

	resp, err := p.send(ctx, body)
	if err != nil {
		fail(ctx, out, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		httpErr := &openvia.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: openvia.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
		p.logger.Warn("chat completions request rejected", "status", resp.StatusCode)
		fail(ctx, out, httpErr.Error())
		return
	}

	ParseSSE(ctx, resp.Body, out)
}

func (p *Provider) send(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completions request: %w", err)
	}
	return resp, nil
}

// endpoint resolves the full URL, tolerating base URLs that already include
// the chat completions path.
func (p *Provider) endpoint() string {
	if strings.HasSuffix(p.baseURL, "/chat/completions") {
		return p.baseURL
	}
	return p.baseURL + "/chat/completions"
}

func fail(ctx context.Context, out chan<- openvia.LLMEvent, msg string) {
	select {
	case out <- openvia.LLMEvent{Type: openvia.LLMError, Content: msg}:
	case <-ctx.Done():
	}
}
