package openvia

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// defaultMaxIterations bounds the number of LLM rounds per turn.
const defaultMaxIterations = 10

// PermissionFunc asks the human behind the originating channel to approve a
// tool call. A nil func means approval is never granted.
type PermissionFunc func(ctx context.Context, prompt string) (bool, error)

// Turn is one user message handed to the gateway.
type Turn struct {
	// Input is the user content; Text is used when Blocks is empty.
	Text   string
	Blocks []ContentBlock
	// Session is the conversation container; the gateway holds its lock
	// for the duration of the turn.
	Session *Session
	// SystemPrompt overrides the gateway default when non-empty.
	SystemPrompt string
	// OnPermission resolves require-approval decisions.
	OnPermission PermissionFunc
}

// Gateway drives the multi-round tool-calling loop: call the LLM, classify
// each proposed tool call, optionally wait for human approval, execute,
// splice results into the next round, and stream agent events out.
type Gateway struct {
	provider     Provider
	registry     *Registry
	executor     *Executor
	policy       *Engine
	sessions     *SessionManager
	systemPrompt string
	maxIter      int
	workRoot     string
	tracer       Tracer
	logger       *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithSystemPrompt sets the default system prompt for every turn.
func WithSystemPrompt(prompt string) GatewayOption {
	return func(g *Gateway) { g.systemPrompt = prompt }
}

// WithMaxIterations overrides the per-turn round bound.
func WithMaxIterations(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.maxIter = n
		}
	}
}

// WithWorkRoot sets the root directory under which per-user tool working
// directories are created.
func WithWorkRoot(dir string) GatewayOption {
	return func(g *Gateway) { g.workRoot = dir }
}

// WithTracer enables span emission for turns, rounds, and tool calls.
func WithTracer(t Tracer) GatewayOption {
	return func(g *Gateway) { g.tracer = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway wires the orchestrator from its collaborators.
func NewGateway(provider Provider, registry *Registry, executor *Executor, policy *Engine, sessions *SessionManager, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider: provider,
		registry: registry,
		executor: executor,
		policy:   policy,
		sessions: sessions,
		maxIter:  defaultMaxIterations,
		logger:   NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.workRoot == "" {
		g.workRoot = DefaultWorkRoot()
	}
	return g
}

// DefaultWorkRoot returns the default per-user session workspace root.
func DefaultWorkRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return filepath.Join(home, ".openvia", "sessions")
}

// Sessions exposes the session manager for channel glue (clear commands).
func (g *Gateway) Sessions() *SessionManager { return g.sessions }

// Run executes one turn and returns its event stream. The stream is finite;
// its last event is exactly one done or error. Turns for the same session
// serialize on the session lock; turns for different sessions run in
// parallel.
func (g *Gateway) Run(ctx context.Context, turn Turn) <-chan AgentEvent {
	ch := make(chan AgentEvent)
	go func() {
		defer close(ch)
		g.runTurn(ctx, turn, ch)
	}()
	return ch
}

// emit sends an event unless ctx is cancelled. Returns false on cancellation.
func emit(ctx context.Context, ch chan<- AgentEvent, ev AgentEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (g *Gateway) runTurn(ctx context.Context, turn Turn, ch chan<- AgentEvent) {
	session := turn.Session
	if session == nil {
		emit(ctx, ch, AgentEvent{Type: AgentError, Content: "internal: turn has no session"})
		return
	}

	if g.tracer != nil {
		var span Span
		ctx, span = g.tracer.Start(ctx, "gateway.turn",
			StringAttr("user", session.UserID),
			StringAttr("chat", session.ChatID))
		defer span.End()
	}

	session.Lock()
	defer session.Unlock()

	userMsg := Message{Role: "user", Content: turn.Text, Blocks: turn.Blocks}
	preHistory := session.History()
	messages := append(session.History(), userMsg)

	systemPrompt := turn.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = g.systemPrompt
	}

	tools := g.registry.Schemas()
	execCtx := ToolContext{
		UserID:  session.UserID,
		ChatID:  session.ChatID,
		WorkDir: g.userWorkDir(session.UserID),
	}
	policyCtx := PolicyContext{
		UserID:       session.UserID,
		ChatID:       session.ChatID,
		AllowedTools: session.AllowedTools,
		DeniedTools:  session.DeniedTools,
	}

	// revert restores pre-turn history plus the user message after a
	// terminal failure, so the user's words survive but no partial
	// assistant state does.
	revert := func() {
		session.SetHistory(append(preHistory, userMsg))
	}

	var lastResults []ToolResultRecord
	previousResponseID := session.ResponseID
	var accumulated string

	for iter := 0; iter < g.maxIter; iter++ {
		roundCtx := ctx
		var roundSpan Span
		if g.tracer != nil {
			roundCtx, roundSpan = g.tracer.Start(ctx, "gateway.round", IntAttr("iteration", iter))
		}
		endRound := func() {
			if roundSpan != nil {
				roundSpan.End()
				roundSpan = nil
			}
		}

		req := ChatRequest{
			Messages:           messages,
			Tools:              tools,
			ToolResults:        lastResults,
			SystemPrompt:       systemPrompt,
			PreviousResponseID: previousResponseID,
		}

		var pending []ToolCall
		finished := false

		for ev := range g.provider.Chat(roundCtx, req) {
			switch ev.Type {
			case LLMTextDelta:
				accumulated += ev.Content
				if !emit(ctx, ch, AgentEvent{Type: AgentTextDelta, Content: ev.Content}) {
					endRound()
					revert()
					return
				}
			case LLMToolCall:
				if ev.Name != "" {
					pending = append(pending, ToolCall{ID: ev.ID, Name: ev.Name, Args: ev.Args, Meta: ev.Meta})
				}
			case LLMToolCallDelta:
				// Progress only; the complete call follows as tool_call.
			case LLMDone:
				if ev.ResponseID != "" {
					previousResponseID = ev.ResponseID
				}
				finished = true
				if len(pending) == 0 {
					endRound()
					session.Append(userMsg, AssistantMessage(accumulated))
					session.ResponseID = previousResponseID
					emit(ctx, ch, AgentEvent{Type: AgentDone, Content: accumulated})
					return
				}
			case LLMError:
				if roundSpan != nil {
					roundSpan.Error(fmt.Errorf("%s", ev.Content))
				}
				endRound()
				g.logger.Error("llm stream failed", "provider", g.provider.Name(), "error", ev.Content)
				revert()
				emit(ctx, ch, AgentEvent{Type: AgentError, Content: ev.Content})
				return
			}
		}

		if !finished {
			// Stream ended without done or error: treat as transport failure.
			endRound()
			revert()
			emit(ctx, ch, AgentEvent{Type: AgentError, Content: "llm stream ended unexpectedly"})
			return
		}

		// Process tool calls sequentially in provider order; this keeps
		// policy evaluation ordering deterministic and avoids racing
		// approval prompts from the same turn.
		results := make([]ToolResultRecord, 0, len(pending))
		for _, tc := range pending {
			if !emit(ctx, ch, AgentEvent{Type: AgentToolStart, ID: tc.ID, Name: tc.Name, Args: tc.Args}) {
				endRound()
				revert()
				return
			}

			result, aborted := g.processToolCall(roundCtx, tc, execCtx, policyCtx, turn.OnPermission, ch)
			if aborted {
				endRound()
				revert()
				return
			}

			if !emit(ctx, ch, AgentEvent{Type: AgentToolResult, ID: tc.ID, Name: tc.Name, Result: &result}) {
				endRound()
				revert()
				return
			}

			isError := !result.Success
			content, err := json.Marshal(result)
			if err != nil {
				content = []byte(`{"success":false,"error":"unserializable tool result"}`)
				isError = true
			}
			results = append(results, ToolResultRecord{
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				ToolArgs:   tc.Args,
				Meta:       tc.Meta,
				Content:    string(content),
				IsError:    isError,
			})
		}
		lastResults = results
		endRound()
	}

	// Liveness bound hit: the turn is abandoned. Partial text is retained
	// in the emitted deltas but not auto-returned as a final response.
	g.logger.Warn("turn exceeded iteration cap", "user", session.UserID, "max", g.maxIter)
	revert()
	emit(ctx, ch, AgentEvent{Type: AgentError, Content: fmt.Sprintf("Max iterations (%d) reached", g.maxIter)})
}

// processToolCall runs one call through policy, approval, and execution.
// The aborted result reports that the consumer went away mid-approval.
func (g *Gateway) processToolCall(ctx context.Context, tc ToolCall, execCtx ToolContext, policyCtx PolicyContext, onPermission PermissionFunc, ch chan<- AgentEvent) (ToolResult, bool) {
	def, ok := g.registry.Get(tc.Name)
	if !ok {
		return ErrorResult("tool not found: " + tc.Name), false
	}

	decision := g.policy.Evaluate(def, tc.Args, policyCtx)
	switch decision.Kind {
	case DecisionAllow:
		return g.executor.Execute(ctx, Call{Name: tc.Name, Args: tc.Args, Context: execCtx}), false

	case DecisionDeny:
		return ErrorResult(decision.Reason), false

	case DecisionRequireApproval:
		if !emit(ctx, ch, AgentEvent{Type: AgentToolPending, ID: tc.ID, Name: tc.Name, Args: tc.Args, Prompt: decision.Prompt}) {
			return ToolResult{}, true
		}
		allowed := false
		if onPermission != nil {
			var err error
			allowed, err = onPermission(ctx, decision.Prompt)
			if err != nil {
				g.logger.Warn("permission request failed, denying",
					"tool", tc.Name, "user", policyCtx.UserID, "error", err)
				allowed = false
			}
		}
		if !allowed {
			return ErrorResult("User denied permission"), false
		}
		return g.executor.Execute(ctx, Call{Name: tc.Name, Args: tc.Args, Context: execCtx}), false
	}

	// Unreachable: Evaluate is total over the three kinds.
	return ErrorResult("internal: unknown policy decision"), false
}

// userWorkDir resolves and creates the per-user tool working directory.
func (g *Gateway) userWorkDir(userID string) string {
	dir := filepath.Join(g.workRoot, userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		g.logger.Warn("work dir creation failed, falling back to temp", "dir", dir, "error", err)
		return os.TempDir()
	}
	return dir
}
