package openaicompat

import (
	"encoding/json"
	"fmt"

	openvia "github.com/openvia/openvia"
)

// BuildBody converts a unified ChatRequest into the chat completions body.
//
// The system prompt becomes a leading role:"system" message. Tool results
// from the previous round are synthesized into one assistant message with
// tool_calls followed by role:"tool" result messages, which is the pairing
// this protocol requires.
func BuildBody(req openvia.ChatRequest, model string) ChatRequest {
	var msgs []Message

	if req.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.SystemPrompt})
	}

	for _, m := range req.Messages {
		msgs = append(msgs, convertMessage(m))
	}

	if len(req.ToolResults) > 0 {
		var calls []ToolCallRequest
		for _, tr := range req.ToolResults {
			calls = append(calls, ToolCallRequest{
				ID:   tr.ToolCallID,
				Type: "function",
				Function: FunctionCall{
					Name:      tr.ToolName,
					Arguments: argsString(tr.ToolArgs),
				},
			})
		}
		msgs = append(msgs, Message{Role: "assistant", Content: "", ToolCalls: calls})
		for _, tr := range req.ToolResults {
			msgs = append(msgs, Message{
				Role:       "tool",
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
	}

	body := ChatRequest{
		Model:    model,
		Messages: msgs,
	}
	if len(req.Tools) > 0 {
		body.Tools = BuildToolDefs(req.Tools)
	}
	return body
}

// convertMessage serializes one unified message, rendering image blocks as
// base64 data URLs.
func convertMessage(m openvia.Message) Message {
	if len(m.Blocks) == 0 {
		return Message{Role: m.Role, Content: m.Content}
	}
	var blocks []ContentBlock
	for _, b := range m.Blocks {
		switch b.Kind {
		case "text":
			blocks = append(blocks, ContentBlock{Type: "text", Text: b.Text})
		case "image":
			url := fmt.Sprintf("data:%s;base64,%s", b.MimeType, b.Data)
			blocks = append(blocks, ContentBlock{Type: "image_url", ImageURL: &ImageURL{URL: url}})
		}
	}
	return Message{Role: m.Role, Content: blocks}
}

// BuildToolDefs converts unified tool schemas to the wire tool format.
func BuildToolDefs(tools []openvia.ToolSchema) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// argsString renders tool call arguments as the JSON string this protocol
// expects, defaulting to an empty object.
func argsString(args json.RawMessage) string {
	if len(args) == 0 {
		return "{}"
	}
	return string(args)
}
