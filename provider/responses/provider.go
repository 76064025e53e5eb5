package responses

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openvia "github.com/openvia/openvia"
)

const defaultTimeout = 120 * time.Second

// Provider speaks the Responses API protocol.
type Provider struct {
	apiKey      string
	url         string
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

// WithMaxTokens caps output length.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New creates a Responses API provider. url is the full endpoint
// (e.g. "https://api.openai.com/v1/responses"); the path is appended when
// the base lacks it.
func New(apiKey, url, model string, opts ...Option) *Provider {
	u := strings.TrimRight(url, "/")
	if !strings.HasSuffix(u, "/responses") {
		u += "/responses"
	}
	p := &Provider{
		apiKey: apiKey,
		url:    u,
		model:  model,
		client: &http.Client{Timeout: defaultTimeout},
		logger: openvia.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name identifies the provider for logs and errors.
func (p *Provider) Name() string { return "responses" }

// MaxContextTokens estimates the context window from the model name.
func (p *Provider) MaxContextTokens() int {
	m := strings.ToLower(p.model)
	switch {
	case strings.HasPrefix(m, "gpt-4.1"):
		return 1_047_576
	case strings.HasPrefix(m, "gpt-5"):
		return 400_000
	case strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return 200_000
	}
	return 128_000
}

// Chat sends one streaming Responses request. The returned channel carries
// the unified event stream and is closed after the terminal event.
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

	body := request{
		Model:              p.model,
		Input:              buildInput(req),
		Instructions:       req.SystemPrompt,
		Stream:             true,
		PreviousResponseID: req.PreviousResponseID,
		Temperature:        p.temperature,
		MaxOutputTokens:    p.maxTokens,
	}
	if len(req.Tools) > 0 {
		body.Tools = buildTools(req.Tools)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		send(openvia.LLMEvent{Type: openvia.LLMError, Content: "responses: marshal request: " + err.Error()})
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		send(openvia.LLMEvent{Type: openvia.LLMError, Content: "responses: build request: " + err.Error()})
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		send(openvia.LLMEvent{Type: openvia.LLMError, Content: "responses: request failed: " + err.Error()})
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
		p.logger.Warn("responses request rejected", "status", resp.StatusCode)
		send(openvia.LLMEvent{Type: openvia.LLMError, Content: httpErr.Error()})
		return
	}

	p.parseStream(ctx, resp.Body, out)
}

// callRef pairs the wire-level call identity cached from output_item.added.
type callRef struct {
	CallID string
	Name   string
}

// parseStream consumes the typed SSE events. Function-call arguments stream
// keyed by item_id, so added events cache item_id to call identity; each
// call is emitted once, deduped by call_id, with output_item.done as the
// fallback for servers that skip the arguments.done event.
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
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	calls := make(map[string]callRef) // item_id -> identity
	emitted := make(map[string]bool)  // call_id -> already emitted
	terminal := false

	emitCall := func(ref callRef, args string) bool {
		if ref.CallID == "" || emitted[ref.CallID] {
			return true
		}
		emitted[ref.CallID] = true
		raw := json.RawMessage(args)
		if !json.Valid(raw) || len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		return send(openvia.LLMEvent{Type: openvia.LLMToolCall, ID: ref.CallID, Name: ref.Name, Args: raw})
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "response.output_text.delta":
			if ev.Delta != "" {
				if !send(openvia.LLMEvent{Type: openvia.LLMTextDelta, Content: ev.Delta}) {
					return
				}
			}

		case "response.output_item.added":
			if ev.Item != nil && ev.Item.Type == "function_call" {
				calls[ev.Item.ID] = callRef{CallID: ev.Item.CallID, Name: ev.Item.Name}
			}

		case "response.function_call_arguments.delta":
			ref := calls[ev.ItemID]
			if ev.Delta != "" {
				if !send(openvia.LLMEvent{
					Type:         openvia.LLMToolCallDelta,
					ID:           ref.CallID,
					Name:         ref.Name,
					ArgsFragment: ev.Delta,
				}) {
					return
				}
			}

		case "response.function_call_arguments.done":
			if !emitCall(calls[ev.ItemID], ev.Arguments) {
				return
			}

		case "response.output_item.done":
			if ev.Item != nil && ev.Item.Type == "function_call" {
				ref := callRef{CallID: ev.Item.CallID, Name: ev.Item.Name}
				if ref.CallID == "" {
					ref = calls[ev.Item.ID]
				}
				if !emitCall(ref, ev.Item.Arguments) {
					return
				}
			}

		case "response.completed":
			var u openvia.Usage
			id := ""
			if ev.Response != nil {
				id = ev.Response.ID
				if ev.Response.Usage != nil {
					u = openvia.Usage{
						InputTokens:  ev.Response.Usage.InputTokens,
						OutputTokens: ev.Response.Usage.OutputTokens,
					}
				}
			}
			terminal = true
			send(openvia.LLMEvent{Type: openvia.LLMDone, Usage: u, ResponseID: id})
			return

		case "response.failed", "error":
			msg := "responses: stream failed"
			if ev.Response != nil && ev.Response.Error != nil {
				msg = "responses: " + ev.Response.Error.Message
			}
			terminal = true
			send(openvia.LLMEvent{Type: openvia.LLMError, Content: msg})
			return
		}
	}

	if terminal {
		return
	}
	if err := scanner.Err(); err != nil {
		send(openvia.LLMEvent{Type: openvia.LLMError, Content: "responses: stream read failed: " + err.Error()})
		return
	}
	send(openvia.LLMEvent{Type: openvia.LLMError, Content: "responses: stream ended without completion"})
}
