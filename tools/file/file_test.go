package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	openvia "github.com/openvia/openvia"
)

func tc(dir string) openvia.ToolContext { return openvia.ToolContext{WorkDir: dir} }

func TestWriteThenRead(t *testing.T) {
	dir := t.TempDir()

	res := write(context.Background(), json.RawMessage(`{"path":"notes/todo.md","content":"buy milk"}`), tc(dir))
	if !res.Success {
		t.Fatalf("write = %+v", res)
	}

	res = read(context.Background(), json.RawMessage(`{"path":"notes/todo.md"}`), tc(dir))
	if !res.Success || res.Data != "buy milk" {
		t.Fatalf("read = %+v", res)
	}
}

func TestReadMissingFile(t *testing.T) {
	res := read(context.Background(), json.RawMessage(`{"path":"ghost.txt"}`), tc(t.TempDir()))
	if res.Success {
		t.Error("missing file read succeeded")
	}
}

func TestPathConfinement(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
	}{
		{"absolute", "/etc/passwd"},
		{"parent escape", "../outside.txt"},
		{"nested escape", "a/../../outside.txt"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := fmt.Sprintf(`{"path":%q,"content":"x"}`, tt.path)
			if res := write(context.Background(), json.RawMessage(args), tc(dir)); res.Success {
				t.Errorf("write to %q succeeded", tt.path)
			}
			args = fmt.Sprintf(`{"path":%q}`, tt.path)
			if res := read(context.Background(), json.RawMessage(args), tc(dir)); res.Success {
				t.Errorf("read of %q succeeded", tt.path)
			}
		})
	}
}

func TestResolvePathAllowsDotInside(t *testing.T) {
	dir := t.TempDir()
	resolved, err := resolvePath(dir, "a/./b.txt")
	if err != nil {
		t.Fatalf("resolvePath: %v", err)
	}
	if resolved != filepath.Join(dir, "a", "b.txt") {
		t.Errorf("resolved = %q", resolved)
	}
}

func TestEditExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("aaa bbb aaa"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Ambiguous: "aaa" appears twice.
	res := edit(context.Background(), json.RawMessage(`{"path":"f.txt","old":"aaa","new":"ccc"}`), tc(dir))
	if res.Success {
		t.Error("ambiguous edit succeeded")
	}
	if !strings.Contains(res.Error, "2 times") {
		t.Errorf("error = %q", res.Error)
	}

	// Unique: replaced in place.
	res = edit(context.Background(), json.RawMessage(`{"path":"f.txt","old":"bbb","new":"ZZZ"}`), tc(dir))
	if !res.Success {
		t.Fatalf("edit = %+v", res)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "f.txt"))
	if string(data) != "aaa ZZZ aaa" {
		t.Errorf("file = %q", data)
	}

	// Absent old string.
	res = edit(context.Background(), json.RawMessage(`{"path":"f.txt","old":"nope","new":"x"}`), tc(dir))
	if res.Success || !strings.Contains(res.Error, "not found") {
		t.Errorf("result = %+v", res)
	}
}

func TestDefinitionsTags(t *testing.T) {
	for _, def := range Definitions() {
		switch def.Name {
		case "read_file":
			if len(def.Tags) == 0 || def.Tags[0] != "read" {
				t.Errorf("read_file tags = %v", def.Tags)
			}
		case "write_file", "edit_file":
			if len(def.Tags) == 0 || def.Tags[0] != "write" {
				t.Errorf("%s tags = %v", def.Name, def.Tags)
			}
		}
	}
}
