package openvia

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBridgeRequestResolve(t *testing.T) {
	b := NewBridge(nil)

	delivered := make(chan PermissionRequest, 1)
	b.RegisterHandler(func(_ context.Context, req PermissionRequest) error {
		delivered <- req
		return nil
	})

	done := make(chan bool, 1)
	go func() {
		allow, err := b.Request(context.Background(), "run rm?", RequestContext{UserID: "u1", ChannelID: "telegram"})
		if err != nil {
			t.Errorf("Request: %v", err)
		}
		done <- allow
	}()

	req := <-delivered
	if req.Prompt != "run rm?" || req.Context.UserID != "u1" {
		t.Errorf("delivered request = %+v", req)
	}
	if req.ID == "" {
		t.Error("request has no id")
	}

	b.Resolve(req.ID, true)
	select {
	case allow := <-done:
		if !allow {
			t.Error("resolved allow, requester saw deny")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Request did not return after Resolve")
	}

	if b.Pending() != 0 {
		t.Errorf("pending = %d after resolution", b.Pending())
	}
}

func TestBridgeNoHandlerDenies(t *testing.T) {
	b := NewBridge(nil)
	allow, err := b.Request(context.Background(), "x", RequestContext{})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if allow {
		t.Error("no handler should deny immediately")
	}
}

func TestBridgeHandlerErrorDenies(t *testing.T) {
	b := NewBridge(nil)
	b.RegisterHandler(func(context.Context, PermissionRequest) error {
		return errors.New("chat unreachable")
	})

	allow, err := b.Request(context.Background(), "x", RequestContext{})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if allow {
		t.Error("delivery failure should deny")
	}
}

func TestBridgeContextCancellation(t *testing.T) {
	b := NewBridge(nil)
	b.RegisterHandler(func(context.Context, PermissionRequest) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := b.Request(ctx, "x", RequestContext{})
		result <- err
	}()

	// Let the request register before abandoning it.
	deadline := time.Now().Add(time.Second)
	for b.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Request did not observe cancellation")
	}
	if b.Pending() != 0 {
		t.Errorf("pending = %d after abandonment", b.Pending())
	}
}

func TestBridgeFindByUser(t *testing.T) {
	b := NewBridge(nil)
	b.RegisterHandler(func(context.Context, PermissionRequest) error { return nil })

	go b.Request(context.Background(), "approve?", RequestContext{UserID: "u7"})

	deadline := time.Now().Add(time.Second)
	for b.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	req, ok := b.FindByUser("u7")
	if !ok {
		t.Fatal("pending request for u7 not found")
	}
	if req.Prompt != "approve?" {
		t.Errorf("prompt = %q", req.Prompt)
	}
	if _, ok := b.FindByUser("stranger"); ok {
		t.Error("found a request for an unrelated user")
	}

	b.Resolve(req.ID, false)
}

func TestBridgeConcurrentUsersResolveIndependently(t *testing.T) {
	b := NewBridge(nil)

	delivered := make(chan PermissionRequest, 2)
	b.RegisterHandler(func(_ context.Context, req PermissionRequest) error {
		delivered <- req
		return nil
	})

	type outcome struct {
		allow bool
		err   error
	}
	results := map[string]chan outcome{
		"u1": make(chan outcome, 1),
		"u2": make(chan outcome, 1),
	}
	for _, user := range []string{"u1", "u2"} {
		user := user
		go func() {
			allow, err := b.Request(context.Background(), "run for "+user+"?", RequestContext{UserID: user})
			results[user] <- outcome{allow, err}
		}()
	}

	byUser := make(map[string]PermissionRequest, 2)
	for i := 0; i < 2; i++ {
		select {
		case req := <-delivered:
			byUser[req.Context.UserID] = req
		case <-time.After(2 * time.Second):
			t.Fatal("prompt not delivered")
		}
	}
	if byUser["u1"].ID == byUser["u2"].ID {
		t.Fatal("both users share one request id")
	}

	// Each lookup sees only its own user's request.
	for _, user := range []string{"u1", "u2"} {
		req, ok := b.FindByUser(user)
		if !ok {
			t.Fatalf("pending request for %s not found", user)
		}
		if req.Context.UserID != user || req.ID != byUser[user].ID {
			t.Errorf("FindByUser(%s) = %+v", user, req)
		}
	}

	// Resolve in the reverse of request order, with opposite decisions.
	b.Resolve(byUser["u2"].ID, false)
	b.Resolve(byUser["u1"].ID, true)

	select {
	case got := <-results["u2"]:
		if got.err != nil || got.allow {
			t.Errorf("u2 outcome = %+v, want deny", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("u2 request did not return")
	}
	select {
	case got := <-results["u1"]:
		if got.err != nil || !got.allow {
			t.Errorf("u1 outcome = %+v, want allow", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("u1 request did not return")
	}

	if b.Pending() != 0 {
		t.Errorf("pending = %d after both resolutions", b.Pending())
	}
}

func TestBridgeResolveUnknownIDIsNoop(t *testing.T) {
	b := NewBridge(nil)
	b.Resolve("missing", true) // must not panic
}
