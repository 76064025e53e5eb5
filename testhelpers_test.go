package openvia

import (
	"context"
	"encoding/json"
)

// scriptedProvider replays canned event sequences, one per Chat call.
// Requests are recorded for assertions. When the script runs out it emits
// a bare done so loops terminate instead of hanging.
type scriptedProvider struct {
	name     string
	rounds   [][]LLMEvent
	idx      int
	requests []ChatRequest
}

func (p *scriptedProvider) Name() string {
	if p.name == "" {
		return "scripted"
	}
	return p.name
}

func (p *scriptedProvider) MaxContextTokens() int { return 128_000 }

func (p *scriptedProvider) Chat(ctx context.Context, req ChatRequest) <-chan LLMEvent {
	p.requests = append(p.requests, req)
	var round []LLMEvent
	if p.idx < len(p.rounds) {
		round = p.rounds[p.idx]
		p.idx++
	} else {
		round = []LLMEvent{{Type: LLMDone}}
	}

	ch := make(chan LLMEvent)
	go func() {
		defer close(ch)
		for _, ev := range round {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// textRound scripts a round that streams text and finishes.
func textRound(chunks ...string) []LLMEvent {
	var evs []LLMEvent
	for _, c := range chunks {
		evs = append(evs, LLMEvent{Type: LLMTextDelta, Content: c})
	}
	return append(evs, LLMEvent{Type: LLMDone})
}

// toolRound scripts a round that requests one tool call and finishes.
func toolRound(id, name, args string) []LLMEvent {
	return []LLMEvent{
		{Type: LLMToolCall, ID: id, Name: name, Args: json.RawMessage(args)},
		{Type: LLMDone},
	}
}

// echoTool returns a tool that reports its raw arguments back.
func echoTool(name string, tags ...string) ToolDefinition {
	return ToolDefinition{
		Name:        name,
		Description: "echoes its arguments",
		Input: InputSchema{Fields: map[string]Field{
			"value": {Type: "string", Optional: true},
		}},
		Tags: tags,
		Exec: func(_ context.Context, args json.RawMessage, _ ToolContext) ToolResult {
			return ToolResult{Success: true, Data: string(args)}
		},
	}
}

// collect drains an agent event stream into a slice.
func collect(ch <-chan AgentEvent) []AgentEvent {
	var out []AgentEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

// lastEvent returns the terminal event of a collected stream.
func lastEvent(evs []AgentEvent) AgentEvent {
	if len(evs) == 0 {
		return AgentEvent{}
	}
	return evs[len(evs)-1]
}
