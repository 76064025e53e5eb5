package openvia

import (
	"context"
	"log/slog"
	"sync"
)

// PermissionRequest is an approval prompt correlated by ID, delivered to the
// channel that originated the turn and resolved out-of-band.
type PermissionRequest struct {
	ID      string
	Prompt  string
	Context RequestContext
}

// RequestContext identifies who and where an approval request came from.
type RequestContext struct {
	UserID    string
	ChatID    string
	ChannelID string
}

// PermissionHandler delivers a prompt to the originating channel. It is
// invoked asynchronously; delivery failure resolves the request as deny.
type PermissionHandler func(ctx context.Context, req PermissionRequest) error

// pendingPermission pairs a request with its one-shot resolver.
type pendingPermission struct {
	req     PermissionRequest
	decided chan bool // buffered(1); closed never, resolved at most once
}

// Bridge correlates approval requests and their asynchronous resolutions
// across concurrent sessions and channels. Requests from different sessions
// are independent; resolvers are single-shot and Resolve is idempotent.
type Bridge struct {
	mu      sync.Mutex
	pending map[string]*pendingPermission
	handler PermissionHandler
	logger  *slog.Logger
}

// NewBridge creates an empty permission bridge.
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = NopLogger()
	}
	return &Bridge{pending: make(map[string]*pendingPermission), logger: logger}
}

// RegisterHandler installs the dispatcher that delivers prompts to channels.
// Only one handler is active; later registrations replace earlier ones.
func (b *Bridge) RegisterHandler(h PermissionHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Request allocates a request ID, stores a pending entry, dispatches the
// prompt through the registered handler, and blocks until the request is
// resolved or ctx is cancelled. With no handler registered, or when the
// handler fails, it resolves immediately as deny.
func (b *Bridge) Request(ctx context.Context, prompt string, rc RequestContext) (bool, error) {
	p := &pendingPermission{
		req: PermissionRequest{
			ID:      NewID(),
			Prompt:  prompt,
			Context: rc,
		},
		decided: make(chan bool, 1),
	}

	b.mu.Lock()
	handler := b.handler
	if handler == nil {
		b.mu.Unlock()
		b.logger.Warn("permission requested with no handler registered, denying",
			"user", rc.UserID, "channel", rc.ChannelID)
		return false, nil
	}
	b.pending[p.req.ID] = p
	b.mu.Unlock()

	// Deliver asynchronously so a slow channel cannot block the caller's
	// ability to observe ctx cancellation.
	go func() {
		if err := handler(ctx, p.req); err != nil {
			b.logger.Warn("permission prompt delivery failed, denying",
				"id", p.req.ID, "error", err)
			b.Resolve(p.req.ID, false)
		}
	}()

	select {
	case allow := <-p.decided:
		return allow, nil
	case <-ctx.Done():
		b.remove(p.req.ID)
		return false, ctx.Err()
	}
}

// Resolve completes the pending request with the given decision and removes
// it. Unknown or already-resolved IDs are logged and ignored.
func (b *Bridge) Resolve(id string, allow bool) {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Debug("resolve for unknown permission request", "id", id)
		return
	}
	p.decided <- allow
}

// FindByUser returns the oldest pending request for a user, for channels
// that accept free-text approvals instead of button clicks.
func (b *Bridge) FindByUser(userID string) (PermissionRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var found *pendingPermission
	for _, p := range b.pending {
		if p.req.Context.UserID != userID {
			continue
		}
		if found == nil || p.req.ID < found.req.ID {
			// UUIDv7 IDs are time-sortable, so the smallest ID is the oldest.
			found = p
		}
	}
	if found == nil {
		return PermissionRequest{}, false
	}
	return found.req, true
}

// Pending returns the number of unresolved requests.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) remove(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}
