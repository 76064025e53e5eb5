package shell

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	openvia "github.com/openvia/openvia"
)

func runTool(t *testing.T, args string) openvia.ToolResult {
	t.Helper()
	return run(context.Background(), json.RawMessage(args), openvia.ToolContext{WorkDir: t.TempDir()})
}

func TestRunEcho(t *testing.T) {
	res := runTool(t, `{"command":"echo hello"}`)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Data.(string), "hello") {
		t.Errorf("output = %v", res.Data)
	}
}

func TestRunWorksInWorkDir(t *testing.T) {
	dir := t.TempDir()
	res := run(context.Background(), json.RawMessage(`{"command":"pwd"}`), openvia.ToolContext{WorkDir: dir})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Data.(string), dir) {
		t.Errorf("pwd = %v, want under %s", res.Data, dir)
	}
}

func TestRunCapturesStderr(t *testing.T) {
	res := runTool(t, `{"command":"echo out; echo err 1>&2"}`)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	out := res.Data.(string)
	if !strings.Contains(out, "out") || !strings.Contains(out, "err") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "--- stderr ---") {
		t.Errorf("stderr not delimited: %q", out)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	res := runTool(t, `{"command":"exit 3"}`)
	if res.Success {
		t.Error("non-zero exit reported success")
	}
	if !strings.Contains(res.Error, "exit") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRunTimeout(t *testing.T) {
	res := runTool(t, `{"command":"sleep 5","timeout":1}`)
	if res.Success {
		t.Error("timed-out command reported success")
	}
	if !strings.Contains(res.Error, "timed out after 1s") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestRunMissingCommand(t *testing.T) {
	res := runTool(t, `{}`)
	if res.Success || res.Error != "command is required" {
		t.Errorf("result = %+v", res)
	}
}

func TestCappedBufferStopsRetainingAtLimit(t *testing.T) {
	b := &cappedBuffer{limit: 8}

	for _, chunk := range []string{"abcd", "efgh", "ijkl"} {
		n, err := b.Write([]byte(chunk))
		if err != nil || n != len(chunk) {
			t.Fatalf("Write = (%d, %v), must accept the full chunk", n, err)
		}
	}

	if got := b.buf.String(); got != "abcdefgh" {
		t.Errorf("retained = %q", got)
	}
	if !b.truncated {
		t.Error("overflow not flagged")
	}
}

func TestCappedBufferSplitsOverflowingChunk(t *testing.T) {
	b := &cappedBuffer{limit: 4}
	if _, err := b.Write([]byte("abcdef")); err != nil {
		t.Fatal(err)
	}
	if b.buf.String() != "abcd" || !b.truncated {
		t.Errorf("retained = %q, truncated = %v", b.buf.String(), b.truncated)
	}
}

func TestCappedBufferUnderLimit(t *testing.T) {
	b := &cappedBuffer{limit: 16}
	if _, err := b.Write([]byte("short")); err != nil {
		t.Fatal(err)
	}
	if b.buf.String() != "short" || b.truncated {
		t.Errorf("retained = %q, truncated = %v", b.buf.String(), b.truncated)
	}
}

func TestRunEmptyOutput(t *testing.T) {
	res := runTool(t, `{"command":"true"}`)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.Data != "(no output)" {
		t.Errorf("data = %v", res.Data)
	}
}
