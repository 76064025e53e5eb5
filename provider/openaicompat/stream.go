package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	openvia "github.com/openvia/openvia"
)

// partialToolCall accumulates a tool call across streaming fragments. The
// first fragment for an index carries the id and name; later fragments
// append to the arguments string.
type partialToolCall struct {
	ID   string
	Name string
	Args strings.Builder
}

// ParseSSE reads a chat completions SSE stream and emits unified events.
// Tool-call fragments are accumulated per choice index and flushed as
// complete tool_call events when the stream finishes. Exactly one terminal
// done or error event is emitted.
func ParseSSE(ctx context.Context, body io.Reader, out chan<- openvia.LLMEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var partials map[int]*partialToolCall
	var order []int
	var usage openvia.Usage
	responseID := ""

	send := func(ev openvia.LLMEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	flush := func() bool {
		for _, idx := range order {
			p := partials[idx]
			args := json.RawMessage(p.Args.String())
			if !json.Valid(args) || len(args) == 0 {
				args = json.RawMessage("{}")
			}
			if !send(openvia.LLMEvent{Type: openvia.LLMToolCall, ID: p.ID, Name: p.Name, Args: args}) {
				return false
			}
		}
		partials = nil
		order = nil
		return true
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			if !flush() {
				return
			}
			send(openvia.LLMEvent{Type: openvia.LLMDone, Usage: usage, ResponseID: responseID})
			return
		}

		var chunk ChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed frames; keep-alives and vendor extensions
			// show up here on some backends.
			continue
		}
		if chunk.ID != "" {
			responseID = chunk.ID
		}
		if chunk.Usage != nil {
			usage = openvia.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}

		for _, choice := range chunk.Choices {
			delta := choice.Delta
			if delta == nil {
				continue
			}
			if delta.Content != "" {
				if !send(openvia.LLMEvent{Type: openvia.LLMTextDelta, Content: delta.Content}) {
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				if partials == nil {
					partials = make(map[int]*partialToolCall)
				}
				p, ok := partials[tc.Index]
				if !ok {
					p = &partialToolCall{}
					partials[tc.Index] = p
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					p.ID = tc.ID
				}
				if tc.Function.Name != "" {
					p.Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					p.Args.WriteString(tc.Function.Arguments)
					if !send(openvia.LLMEvent{
						Type:         openvia.LLMToolCallDelta,
						ID:           p.ID,
						Name:         p.Name,
						ArgsFragment: tc.Function.Arguments,
					}) {
						return
					}
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(openvia.LLMEvent{Type: openvia.LLMError, Content: "stream read failed: " + err.Error()})
		return
	}

	// Some backends close the stream after the final chunk without the
	// [DONE] sentinel. Treat a clean EOF as completion.
	if !flush() {
		return
	}
	send(openvia.LLMEvent{Type: openvia.LLMDone, Usage: usage, ResponseID: responseID})
}
