package openvia

import "sync"

// MaxAudit is the capacity of the in-memory audit ring buffer.
const MaxAudit = 1000

// AuditEntry records one policy decision.
type AuditEntry struct {
	Timestamp int64  `json:"timestamp"`
	UserID    string `json:"user_id"`
	ChatID    string `json:"chat_id"`
	Tool      string `json:"tool"`
	Args      string `json:"args"`
	Decision  string `json:"decision"`
}

// AuditSink mirrors audit entries to durable storage. Implementations must
// preserve append order and may apply their own ring semantics.
type AuditSink interface {
	Append(entry AuditEntry) error
}

// auditLog is a fixed-capacity ring buffer of audit entries.
type auditLog struct {
	mu    sync.Mutex
	buf   []AuditEntry
	start int
	count int
}

func newAuditLog(capacity int) *auditLog {
	return &auditLog{buf: make([]AuditEntry, capacity)}
}

func (l *auditLog) append(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count < len(l.buf) {
		l.buf[(l.start+l.count)%len(l.buf)] = entry
		l.count++
		return
	}
	// Full: overwrite the oldest entry and advance the window.
	l.buf[l.start] = entry
	l.start = (l.start + 1) % len(l.buf)
}

func (l *auditLog) entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, 0, l.count)
	for i := 0; i < l.count; i++ {
		out = append(out, l.buf[(l.start+i)%len(l.buf)])
	}
	return out
}
