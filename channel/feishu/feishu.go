// Package feishu adapts the Feishu (Lark) open platform as a gateway
// channel: an event webhook server for incoming messages, the message send
// API for replies, and interactive approval cards resolved through the
// permission bridge.
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	openvia "github.com/openvia/openvia"
)

// ChannelID is the identifier this adapter reports.
const ChannelID = "feishu"

const (
	defaultBaseURL   = "https://open.feishu.cn"
	maxMessageLength = 4096
	tokenSlack       = 5 * time.Minute
)

// Channel is a Feishu open-platform channel.
type Channel struct {
	appID       string
	appSecret   string
	verifyToken string
	listenAddr  string
	baseURL     string
	bridge      *openvia.Bridge
	allowed     map[string]bool
	client      *http.Client
	logger      *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	server      *http.Server
	seen        map[string]bool // event_id dedupe; Feishu redelivers on slow acks
}

var (
	_ openvia.Channel            = (*Channel)(nil)
	_ openvia.PermissionNotifier = (*Channel)(nil)
)

// Option configures a Channel.
type Option func(*Channel)

// WithAllowedUsers restricts the channel to the given open IDs.
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

// WithVerifyToken sets the event subscription verification token.
func WithVerifyToken(token string) Option {
	return func(c *Channel) { c.verifyToken = token }
}

// WithBaseURL overrides the API root (Lark international deployments).
func WithBaseURL(url string) Option {
	return func(c *Channel) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Channel) { c.client = client }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// New creates a Feishu channel listening for event callbacks on listenAddr.
func New(appID, appSecret, listenAddr string, bridge *openvia.Bridge, opts ...Option) *Channel {
	c := &Channel{
		appID:      appID,
		appSecret:  appSecret,
		listenAddr: listenAddr,
		baseURL:    defaultBaseURL,
		bridge:     bridge,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     openvia.NopLogger(),
		seen:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID reports the channel identifier.
func (c *Channel) ID() string { return ChannelID }

// Start serves the event callback endpoint until ctx is cancelled or Stop
// is called.
func (c *Channel) Start(ctx context.Context, handler openvia.MessageHandler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		c.handleEvent(ctx, w, r, handler)
	})

	srv := &http.Server{Addr: c.listenAddr, Handler: mux}
	c.mu.Lock()
	c.server = srv
	c.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("feishu server shutdown failed", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Stop shuts down the event server.
func (c *Channel) Stop() error {
	c.mu.Lock()
	srv := c.server
	c.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (c *Channel) handleEvent(ctx context.Context, w http.ResponseWriter, r *http.Request, handler openvia.MessageHandler) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	// Subscription handshake.
	if env.Type == "url_verification" {
		writeJSON(w, map[string]string{"challenge": env.Challenge})
		return
	}

	if env.Header == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if c.verifyToken != "" && env.Header.Token != c.verifyToken {
		c.logger.Warn("event with bad verification token dropped")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if c.duplicate(env.Header.EventID) {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch env.Header.EventType {
	case "im.message.receive_v1":
		c.handleMessage(ctx, env.Event, handler)
	case "card.action.trigger":
		c.handleCardAction(env.Event)
	}
	w.WriteHeader(http.StatusOK)
}

// duplicate records the event ID and reports whether it was already seen.
func (c *Channel) duplicate(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[id] {
		return true
	}
	// Bound the dedupe set; redeliveries come within seconds.
	if len(c.seen) > 4096 {
		c.seen = make(map[string]bool)
	}
	c.seen[id] = true
	return false
}

func (c *Channel) handleMessage(ctx context.Context, raw json.RawMessage, handler openvia.MessageHandler) {
	var ev messageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.logger.Warn("message event decode failed", "error", err)
		return
	}

	userID := ev.Sender.SenderID.OpenID
	chatID := ev.Message.ChatID
	if c.allowed != nil && !c.allowed[userID] {
		c.logger.Info("message from unauthorized user dropped", "user", userID)
		return
	}

	text := extractText(ev.Message.MessageType, ev.Message.Content)
	if text == "" {
		return
	}

	// Free-text approvals mirror the Telegram channel.
	if decision, ok := parseDecision(text); ok {
		if req, found := c.bridge.FindByUser(userID); found {
			c.bridge.Resolve(req.ID, decision)
			ack := "Denied."
			if decision {
				ack = "Approved."
			}
			if err := c.sendText(ctx, chatID, ack); err != nil {
				c.logger.Warn("approval ack send failed", "error", err)
			}
			return
		}
	}

	go func() {
		reply := func(ctx context.Context, text string) error {
			return c.sendText(ctx, chatID, text)
		}
		input := []openvia.ContentBlock{openvia.TextBlock(text)}
		if err := handler(ctx, input, userID, chatID, reply); err != nil {
			c.logger.Error("message handler failed", "user", userID, "error", err)
			if sendErr := c.sendText(ctx, chatID, "Something went wrong: "+err.Error()); sendErr != nil {
				c.logger.Warn("error reply send failed", "error", sendErr)
			}
		}
	}()
}

func (c *Channel) handleCardAction(raw json.RawMessage) {
	var action cardAction
	if err := json.Unmarshal(raw, &action); err != nil {
		c.logger.Warn("card action decode failed", "error", err)
		return
	}
	if c.allowed != nil && !c.allowed[action.Operator.OpenID] {
		c.logger.Info("card action from unauthorized user dropped", "user", action.Operator.OpenID)
		return
	}
	v := action.Action.Value
	if v.PermissionID == "" {
		return
	}
	c.bridge.Resolve(v.PermissionID, v.Decision == "allow")
}

// extractText pulls plain text out of a message content payload.
func extractText(msgType, content string) string {
	if msgType != "text" {
		return ""
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.Text)
}

func parseDecision(text string) (decision, ok bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y", "approve", "allow", "ok":
		return true, true
	case "no", "n", "deny", "reject":
		return false, true
	}
	return false, false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// --- Outbound API ---

// tenantToken returns a valid tenant_access_token, refreshing when the
// cached one is within the expiry slack.
func (c *Channel) tenantToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Until(c.tokenExpiry) > tokenSlack {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("feishu: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("feishu: token request: %w", err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("feishu: decode token response: %w", err)
	}
	if tr.Code != 0 {
		return "", fmt.Errorf("feishu: token error %d: %s", tr.Code, tr.Msg)
	}

	c.mu.Lock()
	c.token = tr.TenantAccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tr.Expire) * time.Second)
	c.mu.Unlock()
	return tr.TenantAccessToken, nil
}

// sendText sends plain text replies, splitting at the message length limit.
func (c *Channel) sendText(ctx context.Context, chatID, text string) error {
	for _, chunk := range splitMessage(text) {
		content, _ := json.Marshal(map[string]string{"text": chunk})
		if err := c.sendMessage(ctx, chatID, "text", string(content)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendMessage(ctx context.Context, chatID, msgType, content string) error {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{
		"receive_id": chatID,
		"msg_type":   msgType,
		"content":    content,
	})
	url := c.baseURL + "/open-apis/im/v1/messages?receive_id_type=chat_id"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("feishu: create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("feishu: send request: %w", err)
	}
	defer resp.Body.Close()

	var ar apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return fmt.Errorf("feishu: decode send response: %w", err)
	}
	if ar.Code != 0 {
		return fmt.Errorf("feishu: send error %d: %s", ar.Code, ar.Msg)
	}
	return nil
}

// HandlePermissionRequest delivers an approval prompt as an interactive
// card with Approve/Deny buttons carrying the request ID.
func (c *Channel) HandlePermissionRequest(ctx context.Context, req openvia.PermissionRequest) error {
	card := approvalCard(req)
	content, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("feishu: marshal card: %w", err)
	}
	return c.sendMessage(ctx, req.Context.ChatID, "interactive", string(content))
}

// approvalCard builds the interactive card JSON for one approval request.
func approvalCard(req openvia.PermissionRequest) map[string]any {
	button := func(text, decision, style string) map[string]any {
		return map[string]any{
			"tag":  "button",
			"text": map[string]any{"tag": "plain_text", "content": text},
			"type": style,
			"value": actionValue{
				PermissionID: req.ID,
				Decision:     decision,
			},
		}
	}
	return map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"elements": []map[string]any{
			{
				"tag":  "div",
				"text": map[string]any{"tag": "plain_text", "content": req.Prompt},
			},
			{
				"tag": "action",
				"actions": []map[string]any{
					button("Approve", "allow", "primary"),
					button("Deny", "deny", "danger"),
				},
			},
		},
	}
}

// splitMessage splits text into chunks within the message length limit,
// preferring newline boundaries.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}
	var chunks []string
	remaining := text
	for len(remaining) > maxMessageLength {
		window := remaining[:maxMessageLength]
		pos := strings.LastIndex(window, "\n")
		if pos == -1 {
			pos = maxMessageLength
		} else {
			pos++
		}
		chunks = append(chunks, remaining[:pos])
		remaining = remaining[pos:]
	}
	if len(remaining) > 0 {
		chunks = append(chunks, remaining)
	}
	return chunks
}
