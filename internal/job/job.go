// Package job defines the engine job request and its input validation.
// Validation runs before any filesystem or process side effect — a rejected
// request never stages a file and never builds a command.
package job

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Per-field length caps. These bound what a single request can push into
// the argument vector; the aggregate payload cap lives in Policy.
const (
	maxRequestChars       = 5000
	maxOverrideTokens     = 10
	maxOverrideTokenChars = 100
	maxPathFieldChars     = 500
	maxValueFieldChars    = 1000
	maxRunIDChars         = 100
)

// denylist holds the shell metacharacters that must never appear in any
// string field. The command vector is passed to the process without a
// shell, so these are defense in depth, not the only barrier.
const denylist = ";&|`$()<>\"'\\\n\r"

// Request is the externally supplied job description for one engine
// invocation. Field names mirror the wire contract.
type Request struct {
	Engine  string `json:"engine"`
	Request string `json:"request,omitempty"`

	// Inline payloads, staged as transient files before execution.
	Config       string `json:"config,omitempty"`
	PipelineFile string `json:"pipelineFile,omitempty"`

	// Whitespace-separated key=value tokens, one -o flag pair each.
	Override string `json:"override,omitempty"`

	AdditionalContextFile string `json:"additionalContextFile,omitempty"`
	Upsert                bool   `json:"upsert,omitempty"`
	Input                 string `json:"input,omitempty"`
	Metadata              string `json:"metadata,omitempty"`
	UploadImageFile       string `json:"uploadImageFile,omitempty"`
	DownloadMedia         string `json:"downloadMedia,omitempty"`
	ParseCode             bool   `json:"parseCode,omitempty"`
	ExecuteOutput         bool   `json:"executeOutput,omitempty"`
	Markdown              bool   `json:"markdown,omitempty"`
	GenerateCypher        string `json:"generateCypher,omitempty"`

	// Pipeline sub-request, honored only when PipelineFile is present.
	PipelineInput string `json:"pipelineInput,omitempty"`
	JSONOutput    bool   `json:"jsonOutput,omitempty"`
	RunID         string `json:"runId,omitempty"`
	ForceFresh    bool   `json:"forceFresh,omitempty"`
}

// Overrides splits the override field into its individual tokens.
func (r *Request) Overrides() []string {
	return strings.Fields(r.Override)
}

// Policy holds the operator-configured validation limits.
// None of these are request-controlled.
type Policy struct {
	AllowedEngines  []string // Engine identifiers accepted by the gateway.
	MaxPayloadBytes int      // Aggregate serialized request cap.
}

// DefaultPolicy returns the validation limits used when none are configured.
func DefaultPolicy() Policy {
	return Policy{
		AllowedEngines:  []string{"openai", "anthropic", "google", "cohere", "mistral"},
		MaxPayloadBytes: 10 << 20, // 10 MB
	}
}

// ValidationError reports a rejected request. It names the offending field
// and a reason, never the raw offending content.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

// Validate runs all syntactic and policy checks on the request, in order:
// engine membership, denylisted characters, traversal markers, per-field
// length caps, aggregate size. The first violation wins.
func Validate(r *Request, p Policy) *ValidationError {
	if r == nil {
		return &ValidationError{Field: "engine", Reason: "request body is required"}
	}

	if r.Engine == "" {
		return &ValidationError{Field: "engine", Reason: "engine is required"}
	}
	if !contains(p.AllowedEngines, r.Engine) {
		return &ValidationError{
			Field:  "engine",
			Reason: fmt.Sprintf("must be one of %s", strings.Join(p.AllowedEngines, ", ")),
		}
	}

	for _, f := range r.stringFields() {
		if i := strings.IndexAny(f.value, denylist); i >= 0 {
			return &ValidationError{Field: f.name, Reason: "contains a disallowed character"}
		}
		if strings.Contains(f.value, "..") || strings.HasPrefix(f.value, "/") {
			return &ValidationError{Field: f.name, Reason: "contains a path traversal marker"}
		}
		if f.max > 0 && len(f.value) > f.max {
			return &ValidationError{
				Field:  f.name,
				Reason: fmt.Sprintf("exceeds %d characters", f.max),
			}
		}
	}

	tokens := r.Overrides()
	if len(tokens) > maxOverrideTokens {
		return &ValidationError{
			Field:  "override",
			Reason: fmt.Sprintf("more than %d tokens", maxOverrideTokens),
		}
	}
	for _, tok := range tokens {
		if len(tok) > maxOverrideTokenChars {
			return &ValidationError{
				Field:  "override",
				Reason: fmt.Sprintf("token exceeds %d characters", maxOverrideTokenChars),
			}
		}
	}

	if p.MaxPayloadBytes > 0 {
		// The request was already decoded, so Marshal cannot fail here.
		raw, err := json.Marshal(r)
		if err != nil {
			return &ValidationError{Field: "request", Reason: "not serializable"}
		}
		if len(raw) > p.MaxPayloadBytes {
			return &ValidationError{
				Field:  "request",
				Reason: fmt.Sprintf("payload exceeds %d bytes", p.MaxPayloadBytes),
			}
		}
	}

	return nil
}

type field struct {
	name  string
	value string
	max   int // 0 = no per-field cap (aggregate cap still applies)
}

// stringFields enumerates every client-controlled string field with its cap.
// Inline file contents carry no per-field cap here — the staging manager
// enforces its own content bound.
func (r *Request) stringFields() []field {
	return []field{
		{"request", r.Request, maxRequestChars},
		{"config", r.Config, 0},
		{"pipelineFile", r.PipelineFile, 0},
		{"override", r.Override, maxOverrideTokens * (maxOverrideTokenChars + 1)},
		{"additionalContextFile", r.AdditionalContextFile, maxPathFieldChars},
		{"input", r.Input, maxValueFieldChars},
		{"metadata", r.Metadata, maxPathFieldChars},
		{"uploadImageFile", r.UploadImageFile, maxPathFieldChars},
		{"downloadMedia", r.DownloadMedia, maxPathFieldChars},
		{"generateCypher", r.GenerateCypher, maxValueFieldChars},
		{"pipelineInput", r.PipelineInput, maxValueFieldChars},
		{"runId", r.RunID, maxRunIDChars},
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
