package gemini

import (
	"encoding/json"
	"fmt"

	openvia "github.com/openvia/openvia"
)

// BuildBody constructs the generateContent request body.
//
// The previous round's tool results become a model turn of functionCall
// parts followed by a user turn of functionResponse parts with matching
// names, which is the pairing Gemini validates. Calls carrying a
// thoughtSignature echo it on the functionCall part; a round with no
// signatures at all is downgraded to a synthetic text turn pair, which
// thinking models accept where an unsigned functionCall is rejected.
func (g *Provider) buildBody(req openvia.ChatRequest) map[string]any {
	var contents []map[string]any

	for _, m := range req.Messages {
		contents = append(contents, convertMessage(m))
	}

	if len(req.ToolResults) > 0 {
		contents = append(contents, toolRoundContents(req.ToolResults)...)
	}

	body := map[string]any{
		"contents": contents,
	}

	if req.SystemPrompt != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.SystemPrompt}},
		}
	}

	if len(req.Tools) > 0 {
		declarations := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			var params any
			if len(t.InputSchema) > 0 {
				if err := json.Unmarshal(t.InputSchema, &params); err != nil {
					params = map[string]any{}
				}
			} else {
				params = map[string]any{}
			}
			declarations = append(declarations, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			})
		}
		body["tools"] = []map[string]any{
			{"functionDeclarations": declarations},
		}
	}

	genConfig := map[string]any{
		"temperature": g.temperature,
		"topP":        g.topP,
	}
	if g.thinkingEnabled {
		genConfig["thinkingConfig"] = map[string]any{"thinkingBudget": -1}
	}
	body["generationConfig"] = genConfig

	return body
}

// convertMessage maps one unified message to a Gemini content entry. Images
// travel as inlineData parts.
func convertMessage(m openvia.Message) map[string]any {
	var parts []map[string]any

	if len(m.Blocks) == 0 {
		parts = append(parts, map[string]any{"text": m.Content})
	} else {
		for _, b := range m.Blocks {
			switch b.Kind {
			case "text":
				parts = append(parts, map[string]any{"text": b.Text})
			case "image":
				parts = append(parts, map[string]any{
					"inlineData": map[string]any{
						"mimeType": b.MimeType,
						"data":     b.Data,
					},
				})
			}
		}
	}
	// Gemini requires at least one part.
	if len(parts) == 0 {
		parts = append(parts, map[string]any{"text": ""})
	}

	return map[string]any{
		"role":  mapRole(m.Role),
		"parts": parts,
	}
}

// toolRoundContents renders the executed calls of the previous round.
func toolRoundContents(results []openvia.ToolResultRecord) []map[string]any {
	if !anySigned(results) {
		return textFallbackContents(results)
	}

	callParts := make([]map[string]any, 0, len(results))
	respParts := make([]map[string]any, 0, len(results))
	for _, tr := range results {
		var args any
		if len(tr.ToolArgs) > 0 {
			if err := json.Unmarshal(tr.ToolArgs, &args); err != nil {
				args = map[string]any{}
			}
		} else {
			args = map[string]any{}
		}

		call := map[string]any{
			"functionCall": map[string]any{
				"name": tr.ToolName,
				"args": args,
			},
		}
		if sig := signature(tr.Meta); sig != "" {
			call["thoughtSignature"] = sig
		}
		callParts = append(callParts, call)

		respParts = append(respParts, map[string]any{
			"functionResponse": map[string]any{
				"name": tr.ToolName,
				"response": map[string]any{
					"result": tr.Content,
				},
			},
		})
	}

	return []map[string]any{
		{"role": "model", "parts": callParts},
		{"role": "user", "parts": respParts},
	}
}

// textFallbackContents narrates the calls and results as plain text turns.
func textFallbackContents(results []openvia.ToolResultRecord) []map[string]any {
	var callText, respText string
	for _, tr := range results {
		callText += fmt.Sprintf("[called tool %s with arguments %s]\n", tr.ToolName, string(tr.ToolArgs))
		respText += fmt.Sprintf("[tool %s returned: %s]\n", tr.ToolName, tr.Content)
	}
	return []map[string]any{
		{"role": "model", "parts": []map[string]any{{"text": callText}}},
		{"role": "user", "parts": []map[string]any{{"text": respText}}},
	}
}

func anySigned(results []openvia.ToolResultRecord) bool {
	for _, tr := range results {
		if signature(tr.Meta) != "" {
			return true
		}
	}
	return false
}

// signature extracts the thoughtSignature from call metadata.
func signature(meta json.RawMessage) string {
	if len(meta) == 0 {
		return ""
	}
	var m callMeta
	if err := json.Unmarshal(meta, &m); err != nil {
		return ""
	}
	return m.ThoughtSignature
}

// mapRole converts standard roles to Gemini API roles. Contents accept only
// "user" and "model"; a stray system message maps to "user" (the system
// prompt itself travels as systemInstruction).
func mapRole(role string) string {
	switch role {
	case "assistant":
		return "model"
	case "user", "model":
		return role
	}
	return "user"
}
