package sandbox

import (
	"regexp"
	"strings"
)

// Placeholders substituted for sensitive substrings in diagnostic text.
const (
	redactedPath = "[REDACTED_PATH]"
	redactedKey  = "[REDACTED_KEY]"
)

const defaultMaxDiagnosticLen = 500

// Redactor scrubs engine diagnostics before they reach the caller:
// filesystem paths naming the engine binary and API-key-like tokens are
// replaced with fixed placeholders, and the text is truncated. Server-side
// logs keep the full detail; the redacted form is all a client ever sees.
type Redactor struct {
	pathPattern *regexp.Regexp
	keyPattern  *regexp.Regexp
	maxLen      int
}

// NewRedactor creates a Redactor for the given engine binary name.
// maxLen bounds the redacted output; 0 = 500 bytes.
func NewRedactor(binaryName string, maxLen int) *Redactor {
	if maxLen <= 0 {
		maxLen = defaultMaxDiagnosticLen
	}
	name := regexp.QuoteMeta(binaryName)
	return &Redactor{
		pathPattern: regexp.MustCompile(`/\S*` + name + `\S*`),
		keyPattern:  regexp.MustCompile(`(?i)(api[_-]?key|bearer|sk-)\S*`),
		maxLen:      maxLen,
	}
}

// Redact applies all substitutions and truncates the result.
// A nil Redactor passes text through unchanged.
func (r *Redactor) Redact(s string) string {
	if r == nil || s == "" {
		return s
	}
	s = r.pathPattern.ReplaceAllString(s, redactedPath)
	s = r.keyPattern.ReplaceAllString(s, redactedKey)
	if len(s) > r.maxLen {
		s = s[:r.maxLen]
	}
	return strings.TrimSpace(s)
}
