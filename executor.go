package openvia

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Call is one tool invocation request handed to the Executor.
type Call struct {
	Name    string
	Args    json.RawMessage
	Context ToolContext
}

// Executor validates arguments and runs tool bodies. It is a pure execution
// unit: policy decisions happen before a call ever reaches it.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
}

// NewExecutor creates an Executor over the given registry.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = NopLogger()
	}
	return &Executor{registry: registry, logger: logger}
}

// Execute looks up the tool, validates arguments against its schema, and
// invokes the body. Panics and failures are normalized into a failed
// ToolResult so the LLM can observe and recover from them.
func (e *Executor) Execute(ctx context.Context, call Call) (result ToolResult) {
	def, ok := e.registry.Get(call.Name)
	if !ok {
		return ErrorResult("tool not found: " + call.Name)
	}

	if err := def.Input.Validate(call.Args); err != nil {
		return ErrorResult("invalid arguments: " + err.Error())
	}

	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("tool panicked", "tool", call.Name, "panic", p)
			result = ErrorResult(fmt.Sprintf("tool %q panic: %v", call.Name, p))
		}
	}()

	start := time.Now()
	result = def.Exec(ctx, call.Args, call.Context)
	e.logger.Debug("tool executed",
		"tool", call.Name,
		"user", call.Context.UserID,
		"success", result.Success,
		"duration", time.Since(start))
	return result
}
