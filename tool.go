package openvia

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
)

// ToolContext carries the per-turn execution environment into a tool.
type ToolContext struct {
	UserID  string
	ChatID  string
	WorkDir string
}

// ExecFunc is the executable body of a tool. Recoverable failures are
// reported through the ToolResult; panics are caught by the Executor.
type ExecFunc func(ctx context.Context, args json.RawMessage, tc ToolContext) ToolResult

// ToolDefinition declares one tool: its wire identity, typed input schema,
// permission tags consulted by the policy engine, and executable body.
// Definitions are immutable after registration.
type ToolDefinition struct {
	Name        string
	Description string
	Input       InputSchema
	Tags        []string
	Exec        ExecFunc
}

// Registry maps tool names to definitions. It is populated at startup and
// effectively immutable afterwards, so lookups take no lock.
type Registry struct {
	tools  map[string]ToolDefinition
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = NopLogger()
	}
	return &Registry{tools: make(map[string]ToolDefinition), logger: logger}
}

// Register adds a tool definition. Re-registration replaces the previous
// definition and is logged.
func (r *Registry) Register(def ToolDefinition) {
	if _, exists := r.tools[def.Name]; exists {
		r.logger.Warn("tool re-registered, replacing previous definition", "tool", def.Name)
	}
	r.tools[def.Name] = def
}

// RegisterAll adds every definition in order; later duplicates win.
func (r *Registry) RegisterAll(defs []ToolDefinition) {
	for _, d := range defs {
		r.Register(d)
	}
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (ToolDefinition, bool) {
	def, ok := r.tools[name]
	return def, ok
}

// Schemas renders the JSON Schema projection of every registered tool,
// sorted by name for deterministic request bodies.
func (r *Registry) Schemas() []ToolSchema {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ToolSchema, 0, len(names))
	for _, name := range names {
		def := r.tools[name]
		out = append(out, ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Input.JSONSchema(),
		})
	}
	return out
}

// ValidateArgs checks args against the named tool's schema.
func (r *Registry) ValidateArgs(name string, args json.RawMessage) error {
	def, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}
	return def.Input.Validate(args)
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(discardHandler{})
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
