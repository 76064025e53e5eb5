package skill

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	openvia "github.com/openvia/openvia"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListSkills(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "deploy", "# Deploy\nSteps for deploying.")
	writeSkill(t, dir, "backup", "How to take backups.")
	if err := os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := New(dir).list(context.Background(), nil, openvia.ToolContext{})
	if !res.Success {
		t.Fatalf("list = %+v", res)
	}
	out := res.Data.(string)
	if !strings.Contains(out, "2 skill(s)") {
		t.Errorf("count missing: %q", out)
	}
	// Sorted, with first-line summaries (heading markers stripped).
	if strings.Index(out, "backup") > strings.Index(out, "deploy") {
		t.Errorf("not sorted: %q", out)
	}
	if !strings.Contains(out, "deploy: Deploy") {
		t.Errorf("summary missing: %q", out)
	}
	if strings.Contains(out, "ignore") {
		t.Errorf("non-markdown file listed: %q", out)
	}
}

func TestListSkillsEmptyDir(t *testing.T) {
	res := New(t.TempDir()).list(context.Background(), nil, openvia.ToolContext{})
	if !res.Success || res.Data != "no skills available" {
		t.Errorf("result = %+v", res)
	}
}

func TestReadSkill(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "deploy", "# Deploy\nfull text")

	res := New(dir).read(context.Background(), json.RawMessage(`{"name":"deploy"}`), openvia.ToolContext{})
	if !res.Success || !strings.Contains(res.Data.(string), "full text") {
		t.Errorf("result = %+v", res)
	}
}

func TestReadSkillRejectsPaths(t *testing.T) {
	tool := New(t.TempDir())
	for _, name := range []string{"../secret", "a/b", `a\b`, ""} {
		args, _ := json.Marshal(map[string]string{"name": name})
		if res := tool.read(context.Background(), args, openvia.ToolContext{}); res.Success {
			t.Errorf("read of %q succeeded", name)
		}
	}
}

func TestReadSkillMissing(t *testing.T) {
	res := New(t.TempDir()).read(context.Background(), json.RawMessage(`{"name":"ghost"}`), openvia.ToolContext{})
	if res.Success || !strings.Contains(res.Error, "not found") {
		t.Errorf("result = %+v", res)
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"# Title\nbody", "Title"},
		{"\n\nplain text", "plain text"},
		{"## Second level", "Second level"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := firstLine(tt.in); got != tt.want {
			t.Errorf("firstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
