package openaicompat

import (
	"net/http"
	"testing"
	"time"
)

func TestNewDefaultClientTimeout(t *testing.T) {
	p := New("k", "https://api.openai.com/v1", "gpt-4.1")
	if p.client.Timeout != defaultTimeout {
		t.Errorf("timeout = %v, want %v", p.client.Timeout, defaultTimeout)
	}
}

func TestWithHTTPClientOverridesTimeout(t *testing.T) {
	c := &http.Client{Timeout: 10 * time.Second}
	p := New("k", "https://api.openai.com/v1", "gpt-4.1", WithHTTPClient(c))
	if p.client != c {
		t.Error("client not replaced")
	}
	if p.client.Timeout != 10*time.Second {
		t.Errorf("timeout = %v", p.client.Timeout)
	}
}
