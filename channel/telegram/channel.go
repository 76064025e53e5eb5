// Package telegram adapts the Telegram Bot API as a gateway channel:
// long-polled updates in, HTML-rendered replies out, and inline-keyboard
// approval prompts resolved through the permission bridge.
package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	openvia "github.com/openvia/openvia"
)

// ChannelID is the identifier this adapter reports.
const ChannelID = "telegram"

// Channel is a Telegram Bot API channel.
type Channel struct {
	token   string
	bridge  *openvia.Bridge
	allowed map[string]bool // nil = everyone
	client  *http.Client
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

var (
	_ openvia.Channel            = (*Channel)(nil)
	_ openvia.PermissionNotifier = (*Channel)(nil)
)

// Option configures a Channel.
type Option func(*Channel)

// WithAllowedUsers restricts the channel to the given Telegram user IDs.
// Messages from anyone else are dropped with a log line.
func WithAllowedUsers(ids []string) Option {
	return func(c *Channel) {
		if len(ids) == 0 {
			return
		}
		c.allowed = make(map[string]bool, len(ids))
		for _, id := range ids {
			c.allowed[id] = true
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Channel) { c.client = client }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// New creates a Telegram channel. The bridge receives approvals from the
// inline keyboard and from free-text yes/no replies.
func New(token string, bridge *openvia.Bridge, opts ...Option) *Channel {
	c := &Channel{
		token:  token,
		bridge: bridge,
		// Long poll timeout is 30s; leave headroom.
		client: &http.Client{Timeout: 40 * time.Second},
		logger: openvia.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID reports the channel identifier.
func (c *Channel) ID() string { return ChannelID }

// Start long-polls for updates and dispatches messages to handler until ctx
// is cancelled or Stop is called. Each message runs in its own goroutine so
// a long turn in one chat does not stall the poll loop.
func (c *Channel) Start(ctx context.Context, handler openvia.MessageHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	var offset int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := c.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("telegram poll failed", "error", err)
			time.Sleep(2 * time.Second)
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			switch {
			case u.CallbackQuery != nil:
				c.handleCallback(ctx, u.CallbackQuery)
			case u.Message != nil:
				c.handleMessage(ctx, u.Message, handler)
			}
		}
	}
}

// Stop cancels the poll loop.
func (c *Channel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, m *Message, handler openvia.MessageHandler) {
	if m.From == nil {
		return
	}
	userID := strconv.FormatInt(m.From.ID, 10)
	chatID := strconv.FormatInt(m.Chat.ID, 10)

	if c.allowed != nil && !c.allowed[userID] {
		c.logger.Info("message from unauthorized user dropped", "user", userID)
		return
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}

	// A bare yes/no resolves the user's oldest pending approval instead of
	// starting a turn.
	if decision, ok := parseDecision(text); ok {
		if req, found := c.bridge.FindByUser(userID); found {
			c.bridge.Resolve(req.ID, decision)
			ack := "Denied."
			if decision {
				ack = "Approved."
			}
			if _, err := c.Send(ctx, chatID, ack); err != nil {
				c.logger.Warn("approval ack send failed", "error", err)
			}
			return
		}
	}

	input := c.buildInput(ctx, m, text)
	if len(input) == 0 {
		return
	}

	go func() {
		reply := func(ctx context.Context, text string) error {
			_, err := c.Send(ctx, chatID, text)
			return err
		}
		if err := handler(ctx, input, userID, chatID, reply); err != nil {
			c.logger.Error("message handler failed", "user", userID, "error", err)
			if _, sendErr := c.Send(ctx, chatID, "Something went wrong: "+err.Error()); sendErr != nil {
				c.logger.Warn("error reply send failed", "error", sendErr)
			}
		}
	}()
}

// buildInput converts a Telegram message into content blocks, downloading
// the largest photo rendition when present.
func (c *Channel) buildInput(ctx context.Context, m *Message, text string) []openvia.ContentBlock {
	var blocks []openvia.ContentBlock
	if text != "" {
		blocks = append(blocks, openvia.TextBlock(text))
	}
	if len(m.Photo) > 0 {
		best := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		data, err := c.downloadFile(ctx, best.FileID)
		if err != nil {
			c.logger.Warn("photo download failed", "error", err)
		} else {
			blocks = append(blocks, openvia.ImageBlock("image/jpeg", base64.StdEncoding.EncodeToString(data)))
		}
	}
	return blocks
}

// HandlePermissionRequest delivers an approval prompt with Approve/Deny
// buttons carrying the request ID in their callback data.
func (c *Channel) HandlePermissionRequest(ctx context.Context, req openvia.PermissionRequest) error {
	kb := InlineKeyboard{InlineKeyboard: [][]InlineButton{{
		{Text: "✅ Approve", CallbackData: "perm:" + req.ID + ":allow"},
		{Text: "❌ Deny", CallbackData: "perm:" + req.ID + ":deny"},
	}}}
	prompt := req.Prompt + "\n\nReply yes/no or use the buttons."
	_, err := c.sendWithKeyboard(ctx, req.Context.ChatID, prompt, kb)
	return err
}

func (c *Channel) handleCallback(ctx context.Context, cb *CallbackQuery) {
	id, allow, ok := parseCallback(cb.Data)
	if !ok {
		if err := c.answerCallback(ctx, cb.ID, ""); err != nil {
			c.logger.Debug("callback answer failed", "error", err)
		}
		return
	}

	if cb.From != nil && c.allowed != nil && !c.allowed[strconv.FormatInt(cb.From.ID, 10)] {
		c.logger.Info("callback from unauthorized user dropped", "user", cb.From.ID)
		return
	}

	c.bridge.Resolve(id, allow)

	ack := "Denied"
	if allow {
		ack = "Approved"
	}
	if err := c.answerCallback(ctx, cb.ID, ack); err != nil {
		c.logger.Debug("callback answer failed", "error", err)
	}
	// Strip the keyboard by rewriting the prompt with the decision.
	if cb.Message != nil {
		chatID := strconv.FormatInt(cb.Message.Chat.ID, 10)
		msgID := strconv.FormatInt(cb.Message.MessageID, 10)
		if err := c.Edit(ctx, chatID, msgID, cb.Message.Text+"\n\n"+ack+"."); err != nil {
			c.logger.Debug("prompt edit failed", "error", err)
		}
	}
}

// parseCallback decodes "perm:<id>:allow|deny" callback data.
func parseCallback(data string) (id string, allow, ok bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != "perm" {
		return "", false, false
	}
	switch parts[2] {
	case "allow":
		return parts[1], true, true
	case "deny":
		return parts[1], false, true
	}
	return "", false, false
}

// parseDecision interprets free-text approval replies.
func parseDecision(text string) (decision, ok bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y", "approve", "allow", "ok":
		return true, true
	case "no", "n", "deny", "reject":
		return false, true
	}
	return false, false
}

// Streamer edits one Telegram message in place as text deltas accumulate,
// then renders the final text with formatting. Used by the app glue to show
// progress during long turns.
type Streamer struct {
	ch       *Channel
	chatID   string
	msgID    string
	interval time.Duration
	lastEdit time.Time
	buf      strings.Builder
}

// NewStreamer creates a streamer for one turn in one chat.
func (c *Channel) NewStreamer(chatID string) *Streamer {
	return &Streamer{ch: c, chatID: chatID, interval: 1500 * time.Millisecond}
}

// Push appends a text delta, creating or editing the progress message when
// the edit interval has elapsed. Errors are swallowed; streaming is best
// effort and the final text still arrives via Finish.
func (s *Streamer) Push(ctx context.Context, delta string) {
	s.buf.WriteString(delta)
	if time.Since(s.lastEdit) < s.interval {
		return
	}
	s.lastEdit = time.Now()

	preview := s.buf.String()
	if len(preview) > maxMessageLength-16 {
		preview = preview[:maxMessageLength-16] + "…"
	}
	if s.msgID == "" {
		id, err := s.ch.sendPlain(ctx, s.chatID, preview)
		if err != nil {
			return
		}
		s.msgID = id
		return
	}
	if err := s.ch.Edit(ctx, s.chatID, s.msgID, preview); err != nil {
		s.ch.logger.Debug("stream edit failed", "error", err)
	}
}

// Finish renders the full text with formatting. When the text fits in the
// progress message it is edited in place; longer output is sent fresh.
func (s *Streamer) Finish(ctx context.Context, full string) error {
	if full == "" {
		full = s.buf.String()
	}
	if s.msgID != "" && len(full) <= maxMessageLength {
		if err := s.ch.EditFormatted(ctx, s.chatID, s.msgID, full); err == nil {
			return nil
		}
	}
	if s.msgID != "" {
		// Leave the partial in place; the full reply follows.
		if err := s.ch.Edit(ctx, s.chatID, s.msgID, "…"); err != nil {
			s.ch.logger.Debug("stream trailer edit failed", "error", err)
		}
	}
	_, err := s.ch.Send(ctx, s.chatID, full)
	return err
}

// Fail reports a turn error into the chat.
func (s *Streamer) Fail(ctx context.Context, msg string) {
	if _, err := s.ch.Send(ctx, s.chatID, fmt.Sprintf("Error: %s", msg)); err != nil {
		s.ch.logger.Warn("error send failed", "error", err)
	}
}
