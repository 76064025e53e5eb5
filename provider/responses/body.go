package responses

import (
	"encoding/json"
	"fmt"

	openvia "github.com/openvia/openvia"
)

// buildInput assembles the typed input items.
//
// With a previous_response_id the server already holds the conversation, so
// only the new items are sent: the function_call_output items of the round
// just executed, or the latest user message at the start of a turn. Without
// one the full history is replayed.
func buildInput(req openvia.ChatRequest) []item {
	var items []item

	if req.PreviousResponseID == "" {
		for _, m := range req.Messages {
			items = append(items, convertMessage(m))
		}
	} else if len(req.ToolResults) == 0 && len(req.Messages) > 0 {
		items = append(items, convertMessage(req.Messages[len(req.Messages)-1]))
	}

	for _, tr := range req.ToolResults {
		items = append(items, item{
			Type:   "function_call_output",
			CallID: tr.ToolCallID,
			Output: tr.Content,
		})
	}
	return items
}

// convertMessage maps one unified message to a message item. User content
// uses input_* part types, assistant content uses output_text.
func convertMessage(m openvia.Message) item {
	var parts []contentPart

	if len(m.Blocks) == 0 {
		parts = append(parts, contentPart{Type: textType(m.Role), Text: m.Content})
	} else {
		for _, b := range m.Blocks {
			switch b.Kind {
			case "text":
				parts = append(parts, contentPart{Type: textType(m.Role), Text: b.Text})
			case "image":
				url := fmt.Sprintf("data:%s;base64,%s", b.MimeType, b.Data)
				parts = append(parts, contentPart{Type: "input_image", ImageURL: url})
			}
		}
	}

	return item{Type: "message", Role: m.Role, Content: parts}
}

func textType(role string) string {
	if role == "assistant" {
		return "output_text"
	}
	return "input_text"
}

// buildTools converts unified tool schemas to the flat Responses tool format.
func buildTools(tools []openvia.ToolSchema) []tool {
	out := make([]tool, 0, len(tools))
	for _, t := range tools {
		params := t.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, tool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return out
}
