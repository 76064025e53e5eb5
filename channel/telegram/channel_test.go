package telegram

import "testing"

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data      string
		wantID    string
		wantAllow bool
		wantOK    bool
	}{
		{"perm:abc123:allow", "abc123", true, true},
		{"perm:abc123:deny", "abc123", false, true},
		{"perm:abc123:maybe", "", false, false},
		{"perm:abc123", "", false, false},
		{"vote:abc123:allow", "", false, false},
		{"", "", false, false},
	}
	for _, tt := range tests {
		id, allow, ok := parseCallback(tt.data)
		if id != tt.wantID || allow != tt.wantAllow || ok != tt.wantOK {
			t.Errorf("parseCallback(%q) = (%q, %v, %v), want (%q, %v, %v)",
				tt.data, id, allow, ok, tt.wantID, tt.wantAllow, tt.wantOK)
		}
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		text         string
		wantDecision bool
		wantOK       bool
	}{
		{"yes", true, true},
		{"y", true, true},
		{"approve", true, true},
		{"allow", true, true},
		{"OK", true, true},
		{"  Yes  ", true, true},
		{"no", false, true},
		{"n", false, true},
		{"deny", false, true},
		{"reject", false, true},
		{"maybe later", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		decision, ok := parseDecision(tt.text)
		if decision != tt.wantDecision || ok != tt.wantOK {
			t.Errorf("parseDecision(%q) = (%v, %v), want (%v, %v)",
				tt.text, decision, ok, tt.wantDecision, tt.wantOK)
		}
	}
}
