// Package skill exposes a directory of markdown skill documents to the
// agent. Skills are read lazily at call time; nothing is injected into the
// system prompt.
package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	openvia "github.com/openvia/openvia"
)

// Tool serves skills from a docs directory of .md files.
type Tool struct {
	docsDir string
}

// New creates a skill tool over docsDir.
func New(docsDir string) *Tool {
	return &Tool{docsDir: docsDir}
}

// Definitions returns the skill tool definitions.
func (t *Tool) Definitions() []openvia.ToolDefinition {
	return []openvia.ToolDefinition{
		{
			Name:        "list_skills",
			Description: "List the available skill documents with their first-line summaries.",
			Input:       openvia.InputSchema{Fields: map[string]openvia.Field{}},
			Tags:        []string{"read"},
			Exec:        t.list,
		},
		{
			Name:        "read_skill",
			Description: "Read a skill document by name.",
			Input: openvia.InputSchema{Fields: map[string]openvia.Field{
				"name": {Type: "string", Description: "Skill name as returned by list_skills"},
			}},
			Tags: []string{"read"},
			Exec: t.read,
		},
	}
}

func (t *Tool) list(_ context.Context, _ json.RawMessage, _ openvia.ToolContext) openvia.ToolResult {
	entries, err := os.ReadDir(t.docsDir)
	if err != nil {
		return openvia.ErrorResult("list skills: " + err.Error())
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(names)

	if len(names) == 0 {
		return openvia.ToolResult{Success: true, Data: "no skills available"}
	}

	var out strings.Builder
	fmt.Fprintf(&out, "%d skill(s):\n", len(names))
	for _, name := range names {
		line := "(no summary)"
		if data, err := os.ReadFile(filepath.Join(t.docsDir, name+".md")); err == nil {
			if first := firstLine(string(data)); first != "" {
				line = first
			}
		}
		fmt.Fprintf(&out, "- %s: %s\n", name, line)
	}
	return openvia.ToolResult{Success: true, Data: out.String()}
}

func (t *Tool) read(_ context.Context, args json.RawMessage, _ openvia.ToolContext) openvia.ToolResult {
	var params struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return openvia.ErrorResult("invalid args: " + err.Error())
	}
	if params.Name == "" {
		return openvia.ErrorResult("name is required")
	}
	// Names are bare identifiers; reject anything path-like.
	if strings.ContainsAny(params.Name, `/\`) || strings.Contains(params.Name, "..") {
		return openvia.ErrorResult("invalid skill name: " + params.Name)
	}

	data, err := os.ReadFile(filepath.Join(t.docsDir, params.Name+".md"))
	if err != nil {
		return openvia.ErrorResult("skill not found: " + params.Name)
	}
	return openvia.ToolResult{Success: true, Data: string(data)}
}

// firstLine returns the first non-empty line, stripping markdown heading
// markers.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line != "" {
			return line
		}
	}
	return ""
}
