package openvia

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// MaxHistory bounds the number of messages retained per session.
	MaxHistory = 20
	// SessionTimeout is the idle duration after which a session is evicted.
	SessionTimeout = 30 * time.Minute
	// sweepInterval is how often the background sweeper runs.
	sweepInterval = 5 * time.Minute
)

// Session is the per-(user, chat) container for rolling conversation state.
// The mutex guards history and lastActivity; the gateway holds it for the
// duration of one turn, serializing turns from the same user.
type Session struct {
	UserID string
	ChatID string

	// ResponseID is the provider-assigned response handle for stateful
	// providers (Responses API); empty otherwise.
	ResponseID string

	// AllowedTools and DeniedTools feed the policy engine. A nil
	// AllowedTools means no restriction.
	AllowedTools []string
	DeniedTools  []string

	mu           sync.Mutex
	history      []Message
	lastActivity time.Time
}

// Lock acquires the per-session turn lock.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the per-session turn lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// History returns a copy of the session history. Callers must hold the
// session lock for a consistent multi-call view.
func (s *Session) History() []Message {
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// SetHistory replaces the session history, applying the retention bound.
// Used by the gateway to revert after a failed turn.
func (s *Session) SetHistory(history []Message) {
	s.history = trimHistory(history)
}

// Append adds messages to the history and applies the retention bound.
func (s *Session) Append(msgs ...Message) {
	s.history = trimHistory(append(s.history, msgs...))
}

// Touch bumps the activity timestamp.
func (s *Session) Touch() {
	s.lastActivity = time.Now()
}

// LastActivity returns the last activity timestamp.
func (s *Session) LastActivity() time.Time {
	return s.lastActivity
}

// trimHistory keeps the most recent MaxHistory messages, dropping oldest
// first. When the cut lands on an assistant message, it is dropped too so
// the retained history still opens with a user turn.
func trimHistory(history []Message) []Message {
	if len(history) <= MaxHistory {
		return history
	}
	trimmed := history[len(history)-MaxHistory:]
	for len(trimmed) > 0 && trimmed[0].Role == "assistant" {
		trimmed = trimmed[1:]
	}
	return trimmed
}

// sessionKey identifies a session.
type sessionKey struct {
	userID string
	chatID string
}

// SessionManager owns all sessions and evicts idle ones. An in-flight turn
// holds its own reference to the session, so eviction never interrupts it;
// the next request simply starts a fresh session.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[sessionKey]*Session
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSessionManager creates a manager with the default timeout.
func NewSessionManager(logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = NopLogger()
	}
	return &SessionManager{
		sessions: make(map[sessionKey]*Session),
		timeout:  SessionTimeout,
		logger:   logger,
	}
}

// GetOrCreate returns the session for (userID, chatID), creating it when
// absent, and bumps its activity timestamp.
func (m *SessionManager) GetOrCreate(userID, chatID string) *Session {
	key := sessionKey{userID, chatID}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		s = &Session{UserID: userID, ChatID: chatID}
		m.sessions[key] = s
		m.logger.Debug("session created", "user", userID, "chat", chatID)
	}
	s.Touch()
	return s
}

// Clear removes the session for (userID, chatID).
func (m *SessionManager) Clear(userID, chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionKey{userID, chatID})
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts every session idle longer than the timeout as of now.
func (m *SessionManager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for key, s := range m.sessions {
		if now.Sub(s.LastActivity()) > m.timeout {
			delete(m.sessions, key)
			evicted++
		}
	}
	if evicted > 0 {
		m.logger.Info("sessions evicted", "count", evicted, "remaining", len(m.sessions))
	}
	return evicted
}

// StartSweeper runs Sweep on a fixed interval until ctx is cancelled.
func (m *SessionManager) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep(time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
}
