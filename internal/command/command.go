// Package command builds the argument vector for one engine invocation.
// Build is a pure function: it never consults the environment or any
// mutable state, so identical inputs always produce identical vectors.
package command

import (
	"github.com/fluentgate/fluentgate/internal/job"
)

// StagedFiles holds the filesystem paths resolved for a request's inline
// payloads. Empty path = the payload was absent.
type StagedFiles struct {
	Config   string
	Pipeline string
}

// Builder maps validated requests to argument vectors for a fixed engine
// binary.
type Builder struct {
	binary string
}

// New creates a Builder for the given engine binary.
func New(binary string) *Builder {
	return &Builder{binary: binary}
}

// Build produces the command vector in its fixed documented order:
// binary, engine, optional request text, options, then the pipeline
// sub-command block when a pipeline file was staged. Absent and false
// fields contribute nothing; no flag is ever emitted with an empty value.
//
// The vector is handed to process creation verbatim — it never passes
// through a shell.
func (b *Builder) Build(r *job.Request, files StagedFiles) []string {
	vec := []string{b.binary, r.Engine}

	if r.Request != "" {
		vec = append(vec, r.Request)
	}

	if files.Config != "" {
		vec = append(vec, "-c", files.Config)
	}
	for _, tok := range r.Overrides() {
		vec = append(vec, "-o", tok)
	}
	if r.AdditionalContextFile != "" {
		vec = append(vec, "-a", r.AdditionalContextFile)
	}
	if r.Upsert {
		vec = append(vec, "--upsert")
	}
	if r.Input != "" {
		vec = append(vec, "-i", r.Input)
	}
	if r.Metadata != "" {
		vec = append(vec, "-t", r.Metadata)
	}
	if r.UploadImageFile != "" {
		vec = append(vec, "--upload-image-file", r.UploadImageFile)
	}
	if r.DownloadMedia != "" {
		vec = append(vec, "--download-media", r.DownloadMedia)
	}
	if r.ParseCode {
		vec = append(vec, "--parse-code")
	}
	if r.ExecuteOutput {
		vec = append(vec, "--execute-output")
	}
	if r.Markdown {
		vec = append(vec, "--markdown")
	}
	if r.GenerateCypher != "" {
		vec = append(vec, "--generate-cypher", r.GenerateCypher)
	}

	if files.Pipeline != "" {
		vec = append(vec, "pipeline", "--file", files.Pipeline)
		if r.PipelineInput != "" {
			vec = append(vec, "--input", r.PipelineInput)
		}
		if r.JSONOutput {
			vec = append(vec, "--json-output")
		}
		if r.RunID != "" {
			vec = append(vec, "--run-id", r.RunID)
		}
		if r.ForceFresh {
			vec = append(vec, "--force-fresh")
		}
	}

	return vec
}
