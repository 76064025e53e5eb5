// Package file provides read, write, and edit tools confined to the
// per-user working directory.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	openvia "github.com/openvia/openvia"
)

const maxReadBytes = 10 * 1024 * 1024

// Definitions returns the file tool definitions.
func Definitions() []openvia.ToolDefinition {
	pathField := openvia.Field{Type: "string", Description: "File path relative to the working directory"}

	return []openvia.ToolDefinition{
		{
			Name:        "read_file",
			Description: "Read a file from the working directory.",
			Input:       openvia.InputSchema{Fields: map[string]openvia.Field{"path": pathField}},
			Tags:        []string{"read"},
			Exec:        read,
		},
		{
			Name:        "write_file",
			Description: "Write content to a file in the working directory, creating parent directories as needed.",
			Input: openvia.InputSchema{Fields: map[string]openvia.Field{
				"path":    pathField,
				"content": {Type: "string", Description: "Content to write"},
			}},
			Tags: []string{"write"},
			Exec: write,
		},
		{
			Name:        "edit_file",
			Description: "Replace a string in a file. The old string must appear exactly once.",
			Input: openvia.InputSchema{Fields: map[string]openvia.Field{
				"path": pathField,
				"old":  {Type: "string", Description: "Existing text to replace"},
				"new":  {Type: "string", Description: "Replacement text"},
			}},
			Tags: []string{"write"},
			Exec: edit,
		},
	}
}

// resolvePath confines a relative path to the working directory.
func resolvePath(workDir, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	resolved := filepath.Clean(filepath.Join(workDir, path))
	if resolved != workDir && !strings.HasPrefix(resolved, workDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes working directory: %s", path)
	}
	return resolved, nil
}

func read(_ context.Context, args json.RawMessage, tc openvia.ToolContext) openvia.ToolResult {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return openvia.ErrorResult("invalid args: " + err.Error())
	}
	resolved, err := resolvePath(tc.WorkDir, params.Path)
	if err != nil {
		return openvia.ErrorResult(err.Error())
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return openvia.ErrorResult("read error: " + err.Error())
	}
	if info.Size() > maxReadBytes {
		return openvia.ErrorResult(fmt.Sprintf("file too large: %d bytes (limit %d)", info.Size(), maxReadBytes))
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return openvia.ErrorResult("read error: " + err.Error())
	}
	return openvia.ToolResult{Success: true, Data: string(data)}
}

func write(_ context.Context, args json.RawMessage, tc openvia.ToolContext) openvia.ToolResult {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return openvia.ErrorResult("invalid args: " + err.Error())
	}
	resolved, err := resolvePath(tc.WorkDir, params.Path)
	if err != nil {
		return openvia.ErrorResult(err.Error())
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return openvia.ErrorResult("mkdir error: " + err.Error())
	}
	if err := os.WriteFile(resolved, []byte(params.Content), 0o644); err != nil {
		return openvia.ErrorResult("write error: " + err.Error())
	}
	return openvia.ToolResult{
		Success: true,
		Data:    fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.Path),
	}
}

func edit(_ context.Context, args json.RawMessage, tc openvia.ToolContext) openvia.ToolResult {
	var params struct {
		Path string `json:"path"`
		Old  string `json:"old"`
		New  string `json:"new"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return openvia.ErrorResult("invalid args: " + err.Error())
	}
	if params.Old == "" {
		return openvia.ErrorResult("old string is required")
	}
	resolved, err := resolvePath(tc.WorkDir, params.Path)
	if err != nil {
		return openvia.ErrorResult(err.Error())
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return openvia.ErrorResult("read error: " + err.Error())
	}
	content := string(data)

	switch n := strings.Count(content, params.Old); {
	case n == 0:
		return openvia.ErrorResult("old string not found in file")
	case n > 1:
		return openvia.ErrorResult(fmt.Sprintf("old string appears %d times, must be unique", n))
	}

	updated := strings.Replace(content, params.Old, params.New, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return openvia.ErrorResult("write error: " + err.Error())
	}
	return openvia.ToolResult{Success: true, Data: "edited " + params.Path}
}
