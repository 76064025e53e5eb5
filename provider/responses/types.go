// Package responses implements the unified provider contract over the
// OpenAI Responses API, the stateful successor to chat completions.
package responses

import "encoding/json"

// --- Request types ---

type request struct {
	Model              string  `json:"model"`
	Input              []item  `json:"input"`
	Instructions       string  `json:"instructions,omitempty"`
	Tools              []tool  `json:"tools,omitempty"`
	Stream             bool    `json:"stream,omitempty"`
	PreviousResponseID string  `json:"previous_response_id,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	MaxOutputTokens    int     `json:"max_output_tokens,omitempty"`
}

// item is one typed input item: a message, or a function_call_output.
type item struct {
	Type    string        `json:"type,omitempty"` // "message", "function_call_output"
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

// contentPart is a typed content element inside a message item.
type contentPart struct {
	Type     string `json:"type"` // "input_text", "input_image", "output_text"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// tool is a function definition in the Responses flat tool format.
type tool struct {
	Type        string          `json:"type"` // "function"
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// --- Streaming event types ---

// streamEvent is the envelope of one SSE data frame. Fields are populated
// depending on the event type.
type streamEvent struct {
	Type      string        `json:"type"`
	Delta     string        `json:"delta,omitempty"`
	ItemID    string        `json:"item_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Item      *outputItem   `json:"item,omitempty"`
	Response  *responseBody `json:"response,omitempty"`
}

// outputItem describes an output item added or completed during streaming.
type outputItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // "message", "function_call", ...
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// responseBody is the response object carried by lifecycle events.
type responseBody struct {
	ID    string `json:"id"`
	Usage *usage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
