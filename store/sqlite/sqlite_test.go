package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	openvia "github.com/openvia/openvia"
)

func newTestSink(t *testing.T, opts ...Option) *Sink {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "audit.db"), opts...)
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAppendAndEntries(t *testing.T) {
	s := newTestSink(t)

	e := openvia.AuditEntry{
		Timestamp: 1700000000,
		UserID:    "u1",
		ChatID:    "c1",
		Tool:      "shell",
		Args:      `{"command":"ls"}`,
		Decision:  "allowed",
	}
	if err := s.Append(e); err != nil {
		t.Fatal(err)
	}

	got, err := s.Entries(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != e {
		t.Errorf("entries = %+v", got)
	}
}

func TestCapacityEviction(t *testing.T) {
	s := newTestSink(t, WithCapacity(3))

	for i := 0; i < 5; i++ {
		e := openvia.AuditEntry{
			Timestamp: int64(i),
			Tool:      fmt.Sprintf("tool_%d", i),
			Decision:  "allowed",
		}
		if err := s.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Entries(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	// Oldest evicted first.
	if got[0].Tool != "tool_2" || got[2].Tool != "tool_4" {
		t.Errorf("retained = %s .. %s", got[0].Tool, got[2].Tool)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	s := newTestSink(t)
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
}
