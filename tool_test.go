package openvia

import (
	"context"
	"encoding/json"
	"testing"
)

func TestRegistryReplacesOnReregistration(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(ToolDefinition{Name: "echo", Description: "first"})
	r.Register(ToolDefinition{Name: "echo", Description: "second"})
	r.Register(ToolDefinition{Name: "other", Description: "x"})

	def, ok := r.Get("echo")
	if !ok {
		t.Fatal("echo not found")
	}
	if def.Description != "second" {
		t.Errorf("description = %q, want the last registration", def.Description)
	}
	if n := len(r.Schemas()); n != 2 {
		t.Errorf("schemas = %d, want 2 distinct names", n)
	}
}

func TestRegistrySchemasProjection(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(ToolDefinition{
		Name:        "shell",
		Description: "run a command",
		Input: InputSchema{Fields: map[string]Field{
			"command": {Type: "string"},
		}},
	})

	schemas := r.Schemas()
	if len(schemas) != 1 {
		t.Fatalf("schemas = %d", len(schemas))
	}
	s := schemas[0]
	if s.Name != "shell" || s.Description != "run a command" {
		t.Errorf("schema = %+v", s)
	}
	var parsed map[string]any
	if err := json.Unmarshal(s.InputSchema, &parsed); err != nil {
		t.Fatalf("input_schema not valid JSON: %v", err)
	}
	if parsed["type"] != "object" {
		t.Errorf("input_schema type = %v", parsed["type"])
	}
}

func TestExecutorValidatesBeforeRunning(t *testing.T) {
	r := NewRegistry(nil)
	ran := false
	r.Register(ToolDefinition{
		Name:  "strict",
		Input: InputSchema{Fields: map[string]Field{"path": {Type: "string"}}},
		Exec: func(_ context.Context, _ json.RawMessage, _ ToolContext) ToolResult {
			ran = true
			return ToolResult{Success: true}
		},
	})
	e := NewExecutor(r, nil)

	res := e.Execute(context.Background(), Call{Name: "strict", Args: json.RawMessage(`{}`)})
	if res.Success {
		t.Error("missing required arg should fail")
	}
	if ran {
		t.Error("tool body ran despite validation failure")
	}

	res = e.Execute(context.Background(), Call{Name: "strict", Args: json.RawMessage(`{"path":"a"}`)})
	if !res.Success || !ran {
		t.Errorf("valid call: result=%+v ran=%v", res, ran)
	}
}

func TestExecutorRecoversPanic(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(ToolDefinition{
		Name: "boom",
		Exec: func(_ context.Context, _ json.RawMessage, _ ToolContext) ToolResult {
			panic("kaboom")
		},
	})
	e := NewExecutor(r, nil)

	res := e.Execute(context.Background(), Call{Name: "boom", Args: json.RawMessage(`{}`)})
	if res.Success {
		t.Error("panicking tool reported success")
	}
	if res.Error == "" {
		t.Error("panic produced no error message")
	}
}

func TestExecutorUnknownTool(t *testing.T) {
	e := NewExecutor(NewRegistry(nil), nil)
	res := e.Execute(context.Background(), Call{Name: "ghost"})
	if res.Success || res.Error == "" {
		t.Errorf("result = %+v", res)
	}
}
