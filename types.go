package openvia

import "encoding/json"

// --- Conversation types ---

// Message is one turn in a conversation. Content carries plain text; Blocks
// carries multimodal content and takes precedence when non-empty.
type Message struct {
	Role    string         `json:"role"` // "user", "assistant", "system"
	Content string         `json:"content,omitempty"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`
}

// ContentBlock is a typed piece of message content.
type ContentBlock struct {
	Kind     string `json:"kind"` // "text" or "image"
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"` // base64
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: "text", Text: text}
}

// ImageBlock creates an image content block from base64 data.
func ImageBlock(mimeType, data string) ContentBlock {
	return ContentBlock{Kind: "image", MimeType: mimeType, Data: data}
}

// UserMessage creates a user message with plain text content.
func UserMessage(text string) Message {
	return Message{Role: "user", Content: text}
}

// UserBlocksMessage creates a user message with multimodal content.
func UserBlocksMessage(blocks []ContentBlock) Message {
	return Message{Role: "user", Blocks: blocks}
}

// AssistantMessage creates an assistant message with plain text content.
func AssistantMessage(text string) Message {
	return Message{Role: "assistant", Content: text}
}

// SystemMessage creates a system message.
func SystemMessage(text string) Message {
	return Message{Role: "system", Content: text}
}

// Text returns the textual content of a message, flattening text blocks.
func (m Message) Text() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var out string
	for _, b := range m.Blocks {
		if b.Kind == "text" {
			out += b.Text
		}
	}
	return out
}

// --- Tool call plumbing ---

// ToolCall is an in-flight request from the LLM to execute a named tool.
// Meta carries opaque provider hints (e.g. the Gemini thoughtSignature) that
// must be echoed back on the next round.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorResult creates a failed ToolResult with the given message.
func ErrorResult(msg string) ToolResult {
	return ToolResult{Success: false, Error: msg}
}

// ToolResultRecord carries one executed tool call and its serialized result
// into the next LLM round. The adapter translates records into the provider's
// tool-response representation; they are never persisted into history.
type ToolResultRecord struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	ToolArgs   json.RawMessage `json:"tool_args,omitempty"`
	Meta       json.RawMessage `json:"meta,omitempty"`
	Content    string          `json:"content"` // JSON-encoded ToolResult
	IsError    bool            `json:"is_error"`
}

// Usage counts tokens consumed by one LLM round.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- Unified provider event stream ---

// LLMEventType identifies the kind of provider event.
type LLMEventType string

const (
	// LLMTextDelta carries an incremental text chunk.
	LLMTextDelta LLMEventType = "text_delta"
	// LLMToolCall carries a complete tool call with parsed arguments.
	LLMToolCall LLMEventType = "tool_call"
	// LLMToolCallDelta carries an argument fragment for progress reporting.
	LLMToolCallDelta LLMEventType = "tool_call_delta"
	// LLMDone terminates a successful stream.
	LLMDone LLMEventType = "done"
	// LLMError terminates a failed stream.
	LLMError LLMEventType = "error"
)

// LLMEvent is one event in the unified provider stream. The sequence is
// finite and not restartable; exactly one done or error event ends it.
type LLMEvent struct {
	Type LLMEventType `json:"type"`
	// Content is the text delta (text_delta) or error message (error).
	Content string `json:"content,omitempty"`
	// ID, Name, Args, Meta describe a tool call (tool_call, tool_call_delta).
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
	Meta json.RawMessage `json:"meta,omitempty"`
	// ArgsFragment is a partial arguments string (tool_call_delta only).
	ArgsFragment string `json:"args_fragment,omitempty"`
	// Usage and ResponseID are set on done.
	Usage      Usage  `json:"usage,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
}

// --- Outgoing agent event stream ---

// AgentEventType identifies the kind of agent event.
type AgentEventType string

const (
	// AgentTextDelta carries an incremental chunk of the assistant reply.
	AgentTextDelta AgentEventType = "text_delta"
	// AgentToolStart signals a tool call is about to be processed.
	AgentToolStart AgentEventType = "tool_start"
	// AgentToolPending signals the tool call awaits human approval.
	AgentToolPending AgentEventType = "tool_pending"
	// AgentToolResult carries the result of a processed tool call.
	AgentToolResult AgentEventType = "tool_result"
	// AgentDone terminates a successful turn with the full response.
	AgentDone AgentEventType = "done"
	// AgentError terminates a failed turn.
	AgentError AgentEventType = "error"
)

// AgentEvent is one event in the per-turn stream emitted by the gateway.
// The stream is finite; the last event is exactly one done or error.
type AgentEvent struct {
	Type AgentEventType `json:"type"`
	// Content is the text delta (text_delta), the full response (done),
	// or the error message (error).
	Content string `json:"content,omitempty"`
	// ID, Name, Args describe the tool call for tool_* events.
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
	// Prompt is the approval prompt (tool_pending only).
	Prompt string `json:"prompt,omitempty"`
	// Result is the execution outcome (tool_result only).
	Result *ToolResult `json:"result,omitempty"`
}
