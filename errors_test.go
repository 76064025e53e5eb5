package openvia

import (
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{"seconds", "30", 30 * time.Second},
		{"zero", "0", 0},
		{"empty", "", 0},
		{"garbage", "soon", 0},
		{"negative", "-5", 0},
		{"whitespace", "  12  ", 12 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.in); got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(90 * time.Second).UTC().Format(time.RFC1123)
	d := ParseRetryAfter(future)
	if d <= 0 || d > 91*time.Second {
		t.Errorf("future date parsed to %v", d)
	}

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC1123)
	if d := ParseRetryAfter(past); d != 0 {
		t.Errorf("past date parsed to %v, want 0", d)
	}
}

func TestErrHTTPMessage(t *testing.T) {
	err := &ErrHTTP{Status: 429, Body: "rate limited"}
	if err.Error() != "http 429: rate limited" {
		t.Errorf("Error() = %q", err.Error())
	}
}
