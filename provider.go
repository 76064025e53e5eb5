package openvia

import "context"

// ChatRequest is the model-agnostic request handed to a Provider.
type ChatRequest struct {
	// Messages is the conversation so far (history plus the current user
	// message). Raw tool-call state never appears here; the previous
	// round's results travel in ToolResults instead.
	Messages []Message
	// Tools advertises the registry schemas to the model.
	Tools []ToolSchema
	// ToolResults carries the previous round's executed calls. The adapter
	// translates them into the provider's tool-response representation.
	ToolResults []ToolResultRecord
	// SystemPrompt is attached in the provider's designated slot.
	SystemPrompt string
	// PreviousResponseID chains rounds on stateful providers.
	PreviousResponseID string
}

// Provider abstracts one LLM wire protocol behind the unified event stream.
//
// Chat returns a finite, non-restartable sequence of LLMEvents produced
// incrementally as provider bytes arrive. The channel is closed after the
// terminal done or error event. Transport failures, non-2xx responses,
// aborted reads, and envelope parse failures surface as a single terminal
// error event.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) <-chan LLMEvent
	// MaxContextTokens is a static estimate derived from the model name.
	MaxContextTokens() int
	// Name identifies the provider for logs and errors.
	Name() string
}
