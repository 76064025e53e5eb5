package resolve

import (
	"testing"
	"time"
)

func TestProviderRouting(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantName string
	}{
		{"gemini format", Config{Format: "gemini", Model: "gemini-2.5-flash"}, "gemini"},
		{"responses format", Config{Format: "responses", Model: "gpt-4.1"}, "responses"},
		{"responses by url suffix", Config{Format: "openai", Model: "gpt-4.1",
			BaseURL: "https://api.openai.com/v1/responses"}, "responses"},
		{"responses url with trailing slash", Config{Format: "openai", Model: "gpt-4.1",
			BaseURL: "https://api.openai.com/v1/responses/"}, "responses"},
		{"openai", Config{Format: "openai", Model: "gpt-4.1"}, "openaicompat"},
		{"claude over chat completions", Config{Format: "claude", Model: "claude-sonnet-4-5"}, "openaicompat"},
		{"qwen", Config{Format: "qwen", Model: "qwen3-max"}, "openaicompat"},
		{"ollama", Config{Format: "ollama", Model: "llama3"}, "openaicompat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Provider(tt.cfg)
			if err != nil {
				t.Fatalf("Provider: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestHTTPClientTimeout(t *testing.T) {
	if c := httpClient(Config{Timeout: 10 * time.Second}); c == nil || c.Timeout != 10*time.Second {
		t.Errorf("client = %+v, want 10s timeout", c)
	}
	// Zero means the adapter keeps its own default.
	if c := httpClient(Config{}); c != nil {
		t.Errorf("client = %+v, want nil for unset timeout", c)
	}
}

func TestProviderErrors(t *testing.T) {
	if _, err := Provider(Config{Format: "openai"}); err == nil {
		t.Error("missing model accepted")
	}
	if _, err := Provider(Config{Format: "carrier-pigeon", Model: "x"}); err == nil {
		t.Error("unknown format accepted")
	}
}
