package openvia

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

// newTestGateway wires a gateway over the scripted provider with the given
// tools registered.
func newTestGateway(t *testing.T, p Provider, tools ...ToolDefinition) *Gateway {
	t.Helper()
	registry := NewRegistry(nil)
	registry.RegisterAll(tools)
	return NewGateway(
		p,
		registry,
		NewExecutor(registry, nil),
		NewEngine(),
		NewSessionManager(nil),
		WithWorkRoot(t.TempDir()),
	)
}

func newTestSession(g *Gateway) *Session {
	return g.Sessions().GetOrCreate("u1", "c1")
}

func TestGatewayPlainTextTurn(t *testing.T) {
	p := &scriptedProvider{rounds: [][]LLMEvent{textRound("Hello", ", ", "world")}}
	g := newTestGateway(t, p)
	s := newTestSession(g)

	evs := collect(g.Run(context.Background(), Turn{Text: "hi", Session: s}))

	last := lastEvent(evs)
	if last.Type != AgentDone {
		t.Fatalf("terminal event = %s, want done", last.Type)
	}
	if last.Content != "Hello, world" {
		t.Errorf("full response = %q, want %q", last.Content, "Hello, world")
	}

	var deltas []string
	for _, ev := range evs {
		if ev.Type == AgentTextDelta {
			deltas = append(deltas, ev.Content)
		}
	}
	if strings.Join(deltas, "") != "Hello, world" {
		t.Errorf("deltas = %q, want %q", strings.Join(deltas, ""), "Hello, world")
	}

	history := s.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("history roles = %s, %s", history[0].Role, history[1].Role)
	}
	if history[1].Content != "Hello, world" {
		t.Errorf("assistant history = %q", history[1].Content)
	}
}

func TestGatewayToolLoop(t *testing.T) {
	p := &scriptedProvider{rounds: [][]LLMEvent{
		toolRound("call_1", "echo_read", `{"value":"a"}`),
		textRound("done with tools"),
	}}
	// "echo_read" contains a read hint, so policy allows without asking.
	g := newTestGateway(t, p, echoTool("echo_read"))
	s := newTestSession(g)

	evs := collect(g.Run(context.Background(), Turn{Text: "go", Session: s}))

	var types []AgentEventType
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	want := []AgentEventType{AgentToolStart, AgentToolResult, AgentTextDelta, AgentDone}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}

	if len(p.requests) != 2 {
		t.Fatalf("provider rounds = %d, want 2", len(p.requests))
	}
	// The second round carries the tool result out-of-band.
	second := p.requests[1]
	if len(second.ToolResults) != 1 {
		t.Fatalf("second round tool results = %d, want 1", len(second.ToolResults))
	}
	rec := second.ToolResults[0]
	if rec.ToolCallID != "call_1" || rec.ToolName != "echo_read" {
		t.Errorf("tool result record = %+v", rec)
	}
	if rec.IsError {
		t.Error("tool result marked as error")
	}

	// Tool-call state never lands in history.
	for _, msg := range s.History() {
		if strings.Contains(msg.Content, "call_1") {
			t.Errorf("tool call leaked into history: %q", msg.Content)
		}
	}
}

func TestGatewayApprovalDenied(t *testing.T) {
	p := &scriptedProvider{rounds: [][]LLMEvent{
		toolRound("call_1", "launch", `{"value":"x"}`),
		textRound("understood"),
	}}
	// "launch" matches no read/write hints: default require-approval.
	g := newTestGateway(t, p, echoTool("launch"))
	s := newTestSession(g)

	denied := false
	turn := Turn{
		Text:    "go",
		Session: s,
		OnPermission: func(_ context.Context, prompt string) (bool, error) {
			denied = true
			if !strings.Contains(prompt, "launch") {
				t.Errorf("prompt %q does not name the tool", prompt)
			}
			return false, nil
		},
	}
	evs := collect(g.Run(context.Background(), turn))

	if !denied {
		t.Fatal("permission callback never invoked")
	}

	var pending, result *AgentEvent
	for i := range evs {
		switch evs[i].Type {
		case AgentToolPending:
			pending = &evs[i]
		case AgentToolResult:
			result = &evs[i]
		}
	}
	if pending == nil {
		t.Fatal("no tool_pending event")
	}
	if result == nil || result.Result == nil {
		t.Fatal("no tool_result event")
	}
	if result.Result.Success {
		t.Error("denied call reported success")
	}
	if result.Result.Error != "User denied permission" {
		t.Errorf("denied result error = %q", result.Result.Error)
	}

	// The denial is recoverable: the LLM sees it and the turn completes.
	if last := lastEvent(evs); last.Type != AgentDone {
		t.Fatalf("terminal event = %s, want done", last.Type)
	}
	if p.requests[1].ToolResults[0].IsError != true {
		t.Error("denial not marked as error in the next round")
	}
}

func TestGatewayNoPermissionFuncDenies(t *testing.T) {
	p := &scriptedProvider{rounds: [][]LLMEvent{
		toolRound("call_1", "launch", `{}`),
		textRound("ok"),
	}}
	g := newTestGateway(t, p, echoTool("launch"))
	s := newTestSession(g)

	evs := collect(g.Run(context.Background(), Turn{Text: "go", Session: s}))
	for _, ev := range evs {
		if ev.Type == AgentToolResult && ev.Result != nil {
			if ev.Result.Success {
				t.Error("approval without handler should deny")
			}
			return
		}
	}
	t.Fatal("no tool_result event")
}

func TestGatewayIterationCap(t *testing.T) {
	// Every round asks for another tool call; the loop must stop at the cap.
	var rounds [][]LLMEvent
	for i := 0; i < 20; i++ {
		rounds = append(rounds, toolRound(fmt.Sprintf("call_%d", i), "echo_read", `{}`))
	}
	p := &scriptedProvider{rounds: rounds}

	registry := NewRegistry(nil)
	registry.Register(echoTool("echo_read"))
	g := NewGateway(p, registry, NewExecutor(registry, nil), NewEngine(), NewSessionManager(nil),
		WithMaxIterations(3), WithWorkRoot(t.TempDir()))
	s := newTestSession(g)

	preHistory := len(s.History())
	evs := collect(g.Run(context.Background(), Turn{Text: "go", Session: s}))

	last := lastEvent(evs)
	if last.Type != AgentError {
		t.Fatalf("terminal event = %s, want error", last.Type)
	}
	if last.Content != "Max iterations (3) reached" {
		t.Errorf("error = %q", last.Content)
	}
	if len(p.requests) != 3 {
		t.Errorf("provider rounds = %d, want 3", len(p.requests))
	}
	// The user message survives; no partial assistant state does.
	history := s.History()
	if len(history) != preHistory+1 {
		t.Fatalf("history length = %d, want %d", len(history), preHistory+1)
	}
	if history[len(history)-1].Role != "user" {
		t.Errorf("retained message role = %s, want user", history[len(history)-1].Role)
	}
}

func TestGatewayStreamErrorRevertsHistory(t *testing.T) {
	p := &scriptedProvider{rounds: [][]LLMEvent{
		{
			{Type: LLMTextDelta, Content: "partial"},
			{Type: LLMError, Content: "connection reset"},
		},
	}}
	g := newTestGateway(t, p)
	s := newTestSession(g)
	s.Append(Message{Role: "user", Content: "earlier"}, Message{Role: "assistant", Content: "reply"})

	evs := collect(g.Run(context.Background(), Turn{Text: "again", Session: s}))

	last := lastEvent(evs)
	if last.Type != AgentError {
		t.Fatalf("terminal event = %s, want error", last.Type)
	}
	if last.Content != "connection reset" {
		t.Errorf("error = %q", last.Content)
	}

	history := s.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3 (pre-turn + user message)", len(history))
	}
	if history[2].Content != "again" || history[2].Role != "user" {
		t.Errorf("retained message = %+v", history[2])
	}
}

func TestGatewayUnexpectedStreamEnd(t *testing.T) {
	// Stream closes without done or error: transport failure.
	p := &scriptedProvider{rounds: [][]LLMEvent{
		{{Type: LLMTextDelta, Content: "trunc"}},
	}}
	g := newTestGateway(t, p)
	s := newTestSession(g)

	evs := collect(g.Run(context.Background(), Turn{Text: "go", Session: s}))
	last := lastEvent(evs)
	if last.Type != AgentError {
		t.Fatalf("terminal event = %s, want error", last.Type)
	}
	if !strings.Contains(last.Content, "ended unexpectedly") {
		t.Errorf("error = %q", last.Content)
	}
}

func TestGatewayToolNotFound(t *testing.T) {
	p := &scriptedProvider{rounds: [][]LLMEvent{
		toolRound("call_1", "read_missing", `{}`),
		textRound("recovered"),
	}}
	g := newTestGateway(t, p) // no tools registered
	s := newTestSession(g)

	evs := collect(g.Run(context.Background(), Turn{Text: "go", Session: s}))
	for _, ev := range evs {
		if ev.Type == AgentToolResult && ev.Result != nil {
			if ev.Result.Success || !strings.Contains(ev.Result.Error, "tool not found") {
				t.Errorf("result = %+v", ev.Result)
			}
		}
	}
	if last := lastEvent(evs); last.Type != AgentDone {
		t.Fatalf("terminal event = %s, want done (recoverable)", last.Type)
	}
}

func TestGatewayResponseIDCarriedAcrossTurns(t *testing.T) {
	p := &scriptedProvider{rounds: [][]LLMEvent{
		{{Type: LLMDone, ResponseID: "resp_1"}},
		{{Type: LLMDone, ResponseID: "resp_2"}},
	}}
	g := newTestGateway(t, p)
	s := newTestSession(g)

	collect(g.Run(context.Background(), Turn{Text: "one", Session: s}))
	if s.ResponseID != "resp_1" {
		t.Fatalf("session response id = %q, want resp_1", s.ResponseID)
	}

	collect(g.Run(context.Background(), Turn{Text: "two", Session: s}))
	if len(p.requests) != 2 {
		t.Fatalf("rounds = %d", len(p.requests))
	}
	if p.requests[0].PreviousResponseID != "" {
		t.Errorf("first turn carried a previous response id: %q", p.requests[0].PreviousResponseID)
	}
	if p.requests[1].PreviousResponseID != "resp_1" {
		t.Errorf("second turn previous response id = %q, want resp_1", p.requests[1].PreviousResponseID)
	}
}

func TestGatewaySystemPromptPrecedence(t *testing.T) {
	p := &scriptedProvider{rounds: [][]LLMEvent{textRound("a"), textRound("b")}}
	registry := NewRegistry(nil)
	g := NewGateway(p, registry, NewExecutor(registry, nil), NewEngine(), NewSessionManager(nil),
		WithSystemPrompt("default prompt"), WithWorkRoot(t.TempDir()))
	s := newTestSession(g)

	collect(g.Run(context.Background(), Turn{Text: "x", Session: s}))
	collect(g.Run(context.Background(), Turn{Text: "y", Session: s, SystemPrompt: "override"}))

	if p.requests[0].SystemPrompt != "default prompt" {
		t.Errorf("first turn system prompt = %q", p.requests[0].SystemPrompt)
	}
	if p.requests[1].SystemPrompt != "override" {
		t.Errorf("second turn system prompt = %q", p.requests[1].SystemPrompt)
	}
}

func TestGatewayMalformedToolResultStillSerializes(t *testing.T) {
	bad := ToolDefinition{
		Name:        "echo_read",
		Description: "returns unserializable data",
		Exec: func(_ context.Context, _ json.RawMessage, _ ToolContext) ToolResult {
			return ToolResult{Success: true, Data: make(chan int)}
		},
	}
	p := &scriptedProvider{rounds: [][]LLMEvent{
		toolRound("call_1", "echo_read", `{}`),
		textRound("ok"),
	}}
	g := newTestGateway(t, p, bad)
	s := newTestSession(g)

	collect(g.Run(context.Background(), Turn{Text: "go", Session: s}))
	rec := p.requests[1].ToolResults[0]
	if !strings.Contains(rec.Content, "unserializable") {
		t.Errorf("fallback content = %q", rec.Content)
	}
	if !rec.IsError {
		t.Error("unserializable result should be marked as error")
	}
}
