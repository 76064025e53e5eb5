package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openvia "github.com/openvia/openvia"
)

func postEvent(t *testing.T, c *Channel, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/events", strings.NewReader(body))
	c.handleEvent(context.Background(), w, r, nil)
	return w
}

func TestHandleEventURLVerification(t *testing.T) {
	c := New("app", "secret", ":0", openvia.NewBridge(nil))

	w := postEvent(t, c, `{"type":"url_verification","challenge":"ch-42"}`)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Challenge != "ch-42" {
		t.Errorf("challenge = %q", resp.Challenge)
	}
}

func TestHandleEventBadVerifyToken(t *testing.T) {
	c := New("app", "secret", ":0", openvia.NewBridge(nil), WithVerifyToken("expected"))

	w := postEvent(t, c, `{"schema":"2.0","header":{"event_id":"e1","event_type":"im.message.receive_v1","token":"wrong"},"event":{}}`)
	if w.Code != 403 {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestHandleEventMalformedPayload(t *testing.T) {
	c := New("app", "secret", ":0", openvia.NewBridge(nil))
	if w := postEvent(t, c, `{not json`); w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDuplicateEvents(t *testing.T) {
	c := New("app", "secret", ":0", openvia.NewBridge(nil))

	if c.duplicate("e1") {
		t.Error("first delivery flagged as duplicate")
	}
	if !c.duplicate("e1") {
		t.Error("redelivery not flagged")
	}
	// Events without IDs are never deduped.
	if c.duplicate("") || c.duplicate("") {
		t.Error("empty event id deduped")
	}
}

func TestCardActionResolvesPermission(t *testing.T) {
	bridge := openvia.NewBridge(nil)
	bridge.RegisterHandler(func(ctx context.Context, req openvia.PermissionRequest) error {
		return nil
	})
	c := New("app", "secret", ":0", bridge)

	got := make(chan bool, 1)
	go func() {
		allow, _ := bridge.Request(context.Background(), "Run shell?", openvia.RequestContext{UserID: "ou_1"})
		got <- allow
	}()

	deadline := time.Now().Add(2 * time.Second)
	var reqID string
	for time.Now().Before(deadline) {
		if req, ok := bridge.FindByUser("ou_1"); ok {
			reqID = req.ID
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if reqID == "" {
		t.Fatal("request never became pending")
	}

	body := fmt.Sprintf(`{"schema":"2.0","header":{"event_id":"e-card","event_type":"card.action.trigger"},"event":{"operator":{"open_id":"ou_1"},"action":{"value":{"permission_id":%q,"decision":"allow"}}}}`, reqID)
	if w := postEvent(t, c, body); w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}

	select {
	case allow := <-got:
		if !allow {
			t.Error("card approval resolved as deny")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request not resolved")
	}
}

func TestCardActionUnauthorizedOperatorIgnored(t *testing.T) {
	bridge := openvia.NewBridge(nil)
	bridge.RegisterHandler(func(ctx context.Context, req openvia.PermissionRequest) error {
		return nil
	})
	c := New("app", "secret", ":0", bridge, WithAllowedUsers([]string{"ou_ok"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Request(ctx, "Run shell?", openvia.RequestContext{UserID: "ou_ok"})

	deadline := time.Now().Add(2 * time.Second)
	var reqID string
	for time.Now().Before(deadline) {
		if req, ok := bridge.FindByUser("ou_ok"); ok {
			reqID = req.ID
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if reqID == "" {
		t.Fatal("request never became pending")
	}

	body := fmt.Sprintf(`{"schema":"2.0","header":{"event_id":"e-bad","event_type":"card.action.trigger"},"event":{"operator":{"open_id":"ou_stranger"},"action":{"value":{"permission_id":%q,"decision":"allow"}}}}`, reqID)
	postEvent(t, c, body)

	if bridge.Pending() != 1 {
		t.Error("unauthorized operator resolved the request")
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		content string
		want    string
	}{
		{"text", "text", `{"text":"hello there"}`, "hello there"},
		{"trims whitespace", "text", `{"text":"  hi  "}`, "hi"},
		{"image ignored", "image", `{"image_key":"img_1"}`, ""},
		{"broken json", "text", `{oops`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractText(tt.msgType, tt.content); got != tt.want {
				t.Errorf("extractText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		text         string
		wantDecision bool
		wantOK       bool
	}{
		{"yes", true, true},
		{"Approve", true, true},
		{"no", false, true},
		{"reject", false, true},
		{"what is this", false, false},
	}
	for _, tt := range tests {
		decision, ok := parseDecision(tt.text)
		if decision != tt.wantDecision || ok != tt.wantOK {
			t.Errorf("parseDecision(%q) = (%v, %v), want (%v, %v)",
				tt.text, decision, ok, tt.wantDecision, tt.wantOK)
		}
	}
}

func TestApprovalCardCarriesRequestID(t *testing.T) {
	card := approvalCard(openvia.PermissionRequest{ID: "perm-9", Prompt: "Allow rm -rf?"})

	raw, err := json.Marshal(card)
	if err != nil {
		t.Fatal(err)
	}
	s := string(raw)
	if !strings.Contains(s, `"permission_id":"perm-9"`) {
		t.Errorf("card missing request id: %s", s)
	}
	if !strings.Contains(s, `"decision":"allow"`) || !strings.Contains(s, `"decision":"deny"`) {
		t.Errorf("card missing decision buttons: %s", s)
	}
	if !strings.Contains(s, "Allow rm -rf?") {
		t.Errorf("card missing prompt: %s", s)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short"); len(got) != 1 || got[0] != "short" {
		t.Errorf("chunks = %v", got)
	}

	long := strings.Repeat(strings.Repeat("x", 80)+"\n", 120)
	chunks := splitMessage(long)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > maxMessageLength {
			t.Errorf("chunk %d is %d bytes", i, len(c))
		}
	}
	if strings.Join(chunks, "") != long {
		t.Error("chunks do not reassemble to the original text")
	}
}
