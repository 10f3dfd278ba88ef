package sandbox

import (
	"strings"
	"testing"
)

func TestRedact_EnginePaths(t *testing.T) {
	r := NewRedactor("fluent", 0)

	got := r.Redact("failed to open /home/svc/.local/bin/fluent-cli/config.toml")
	if strings.Contains(got, "fluent-cli") {
		t.Errorf("path survived redaction: %q", got)
	}
	if !strings.Contains(got, "[REDACTED_PATH]") {
		t.Errorf("placeholder missing: %q", got)
	}
}

func TestRedact_KeyTokens(t *testing.T) {
	r := NewRedactor("fluent", 0)

	tests := []string{
		"rejected: api_key=sk_live_4242 is invalid",
		"rejected: API-KEY 12345",
		"auth header Bearer abcdef",
		"token sk-proj-xyz rejected",
	}
	for _, in := range tests {
		got := r.Redact(in)
		if !strings.Contains(got, "[REDACTED_KEY]") {
			t.Errorf("Redact(%q) = %q, want key placeholder", in, got)
		}
	}
}

func TestRedact_Truncates(t *testing.T) {
	r := NewRedactor("fluent", 100)
	got := r.Redact(strings.Repeat("x", 1000))
	if len(got) > 100 {
		t.Errorf("len = %d, want <= 100", len(got))
	}
}

func TestRedact_PassThrough(t *testing.T) {
	r := NewRedactor("fluent", 0)
	in := "connection refused"
	if got := r.Redact(in); got != in {
		t.Errorf("Redact(%q) = %q, want unchanged", in, got)
	}
}

func TestRedact_NilReceiver(t *testing.T) {
	var r *Redactor
	if got := r.Redact("text"); got != "text" {
		t.Errorf("nil Redact = %q", got)
	}
}
