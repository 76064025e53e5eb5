// Package gemini implements the unified provider contract over the Google
// Gemini generateContent streaming API.
package gemini

import (
	"bufio"
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

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultTimeout = 120 * time.Second
)

// Provider speaks the Gemini streamGenerateContent protocol.
type Provider struct {
	apiKey          string
	baseURL         string
	model           string
	temperature     float64
	topP            float64
	thinkingEnabled bool
	client          *http.Client
	logger          *slog.Logger
}

var _ openvia.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API root.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// WithTopP sets nucleus sampling.
func WithTopP(t float64) Option {
	return func(p *Provider) { p.topP = t }
}

// WithThinking enables the unbounded thinking budget.
func WithThinking() Option {
	return func(p *Provider) { p.thinkingEnabled = true }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New creates a Gemini provider.
func New(apiKey, model string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		model:       model,
		temperature: 0.1,
		topP:        0.9,
		client:      &http.Client{Timeout: defaultTimeout},
		logger:      openvia.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name identifies the provider for logs and errors.
func (p *Provider) Name() string { return "gemini" }

// MaxContextTokens estimates the context window from the model name.
func (p *Provider) MaxContextTokens() int {
	m := strings.ToLower(p.model)
	switch {
	case strings.HasPrefix(m, "gemini-1.5-pro"):
		return 2_097_152
	case strings.HasPrefix(m, "gemini"):
		return 1_048_576
	}
	return 1_048_576
}

// Chat sends one streaming generateContent request. The returned channel
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
	send := func(ev openvia.LLMEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	body := p.buildBody(req)
	payload, err := json.Marshal(body)
	if err != nil {
		send(openvia.LLMEvent{Type: openvia.LLMError, Content: "gemini: marshal body: " + err.Error()})
		return
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", p.baseURL, p.model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		send(openvia.LLMEvent{Type: openvia.LLMError, Content: "gemini: create request: " + err.Error()})
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		send(openvia.LLMEvent{Type: openvia.LLMError, Content: "gemini: request failed: " + err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		httpErr := &openvia.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: retryAfter(resp, string(raw)),
		}
		p.logger.Warn("gemini request rejected", "status", resp.StatusCode)
		send(openvia.LLMEvent{Type: openvia.LLMError, Content: httpErr.Error()})
		return
	}

	p.parseStream(ctx, resp.Body, out)
}

// parseStream consumes the SSE body, emitting text deltas as chunks arrive
// and tool calls as their functionCall parts appear. Chunks whose JSON spans
// multiple lines are buffered until braces balance.
func (p *Provider) parseStream(ctx context.Context, body io.Reader, out chan<- openvia.LLMEvent) {
	send := func(ev openvia.LLMEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	var usage openvia.Usage
	responseID := ""
	var jsonBuf strings.Builder

	handle := func(data string) bool {
		var chunk generateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return true
		}
		if chunk.ResponseID != "" {
			responseID = chunk.ResponseID
		}
		if chunk.UsageMetadata != nil {
			usage = openvia.Usage{
				InputTokens:  chunk.UsageMetadata.PromptTokenCount,
				OutputTokens: chunk.UsageMetadata.CandidatesTokenCount,
			}
		}
		if len(chunk.Candidates) == 0 {
			return true
		}
		for _, pt := range chunk.Candidates[0].Content.Parts {
			if pt.Thought {
				continue
			}
			if pt.Text != nil && *pt.Text != "" {
				if !send(openvia.LLMEvent{Type: openvia.LLMTextDelta, Content: *pt.Text}) {
					return false
				}
			}
			if pt.FunctionCall != nil {
				args := pt.FunctionCall.Args
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				ev := openvia.LLMEvent{
					Type: openvia.LLMToolCall,
					// Gemini assigns no call ids; the name doubles as the
					// id and functionResponse pairing key.
					ID:   pt.FunctionCall.Name,
					Name: pt.FunctionCall.Name,
					Args: args,
				}
				if pt.ThoughtSignature != "" {
					meta, _ := json.Marshal(callMeta{ThoughtSignature: pt.ThoughtSignature})
					ev.Meta = meta
				}
				if !send(ev) {
					return false
				}
			}
		}
		return true
	}

	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			if jsonBuf.Len() > 0 {
				jsonBuf.WriteString(line)
				if isCompleteJSON(jsonBuf.String()) {
					if !handle(jsonBuf.String()) {
						return
					}
					jsonBuf.Reset()
				}
			}
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}
		if isCompleteJSON(data) {
			if !handle(data) {
				return
			}
		} else {
			jsonBuf.Reset()
			jsonBuf.WriteString(data)
		}
	}

	if err := scanner.Err(); err != nil {
		send(openvia.LLMEvent{Type: openvia.LLMError, Content: "gemini: stream read failed: " + err.Error()})
		return
	}

	if jsonBuf.Len() > 0 && isCompleteJSON(jsonBuf.String()) {
		if !handle(jsonBuf.String()) {
			return
		}
	}

	send(openvia.LLMEvent{Type: openvia.LLMDone, Usage: usage, ResponseID: responseID})
}

// retryAfter resolves the retry delay from the Retry-After header or the
// google.rpc.RetryInfo detail in the error body.
func retryAfter(resp *http.Response, body string) time.Duration {
	if ra := openvia.ParseRetryAfter(resp.Header.Get("Retry-After")); ra != 0 {
		return ra
	}
	var envelope struct {
		Error struct {
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &envelope) != nil {
		return 0
	}
	for _, raw := range envelope.Error.Details {
		var detail struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		}
		if json.Unmarshal(raw, &detail) != nil {
			continue
		}
		if detail.Type == "type.googleapis.com/google.rpc.RetryInfo" && detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
	}
	return 0
}

// isCompleteJSON checks whether a string has balanced braces/brackets,
// indicating it is a complete JSON value.
func isCompleteJSON(s string) bool {
	depth := 0
	inString := false
	escape := false

	for _, ch := range s {
		if escape {
			escape = false
			continue
		}
		if ch == '\\' && inString {
			escape = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}
	return depth == 0 && !inString
}
