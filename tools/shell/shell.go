// Package shell provides a tool that executes commands in the per-user
// working directory. Safety gating happens in the policy engine; the tool
// itself only bounds time and output size.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	openvia "github.com/openvia/openvia"
)

const (
	defaultTimeoutSecs = 30
	maxTimeoutSecs     = 300
	maxOutputBytes     = 10 * 1024 * 1024
)

// Definitions returns the shell tool definition.
func Definitions() []openvia.ToolDefinition {
	return []openvia.ToolDefinition{{
		Name:        "shell",
		Description: "Execute a shell command in the working directory. Returns stdout and stderr.",
		Input: openvia.InputSchema{Fields: map[string]openvia.Field{
			"command": {Type: "string", Description: "Shell command to execute"},
			"timeout": {Type: "integer", Description: "Timeout in seconds (default 30, max 300)", Optional: true},
		}},
		Tags: []string{"execute"},
		Exec: run,
	}}
}

func run(ctx context.Context, args json.RawMessage, tc openvia.ToolContext) openvia.ToolResult {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return openvia.ErrorResult("invalid args: " + err.Error())
	}
	if params.Command == "" {
		return openvia.ErrorResult("command is required")
	}

	timeout := defaultTimeoutSecs
	if params.Timeout > 0 {
		timeout = params.Timeout
	}
	if timeout > maxTimeoutSecs {
		timeout = maxTimeoutSecs
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", params.Command)
	cmd.Dir = tc.WorkDir

	stdout := &cappedBuffer{limit: maxOutputBytes}
	stderr := &cappedBuffer{limit: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()

	output := stdout.buf.String()
	if stderr.buf.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.buf.String()
	}
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n... (truncated)"
	} else if stdout.truncated || stderr.truncated {
		output += "\n... (truncated)"
	}

	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return openvia.ToolResult{
				Success: false,
				Data:    output,
				Error:   fmt.Sprintf("command timed out after %ds", timeout),
			}
		}
		return openvia.ToolResult{Success: false, Data: output, Error: "exit: " + err.Error()}
	}

	if output == "" {
		output = "(no output)"
	}
	return openvia.ToolResult{Success: true, Data: output}
}

// cappedBuffer retains at most limit bytes and discards the rest, so a
// runaway command cannot grow process memory past the output cap.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	switch {
	case remaining <= 0:
		if len(p) > 0 {
			b.truncated = true
		}
	case len(p) > remaining:
		b.buf.Write(p[:remaining])
		b.truncated = true
	default:
		b.buf.Write(p)
	}
	return len(p), nil
}
