package command

import (
	"reflect"
	"testing"

	"github.com/fluentgate/fluentgate/internal/job"
)

func TestBuild_Minimal(t *testing.T) {
	b := New("fluent")
	got := b.Build(&job.Request{Engine: "openai", Request: "hello"}, StagedFiles{})
	want := []string{"fluent", "openai", "hello"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() = %v, want %v", got, want)
	}
}

func TestBuild_NoRequestText(t *testing.T) {
	b := New("fluent")
	got := b.Build(&job.Request{Engine: "openai"}, StagedFiles{})
	want := []string{"fluent", "openai"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() = %v, want %v", got, want)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	b := New("fluent")
	req := &job.Request{
		Engine:         "anthropic",
		Request:        "summarize",
		Override:       "a=1 b=2",
		Upsert:         true,
		Input:          "data.txt",
		Metadata:       "tag1,tag2",
		ParseCode:      true,
		Markdown:       true,
		GenerateCypher: "match all nodes",
	}
	files := StagedFiles{Config: "/stage/cfg.json", Pipeline: "/stage/p.yaml"}

	first := b.Build(req, files)
	for i := 0; i < 10; i++ {
		if got := b.Build(req, files); !reflect.DeepEqual(got, first) {
			t.Fatalf("Build() not deterministic: run %d = %v, first = %v", i, got, first)
		}
	}
}

func TestBuild_FullOptionOrder(t *testing.T) {
	b := New("fluent")
	req := &job.Request{
		Engine:                "openai",
		Request:               "go",
		Override:              "a=1 b=2",
		AdditionalContextFile: "ctx.txt",
		Upsert:                true,
		Input:                 "in.txt",
		Metadata:              "meta",
		UploadImageFile:       "img.png",
		DownloadMedia:         "media",
		ParseCode:             true,
		ExecuteOutput:         true,
		Markdown:              true,
		GenerateCypher:        "query",
	}
	got := b.Build(req, StagedFiles{Config: "/s/c.json"})
	want := []string{
		"fluent", "openai", "go",
		"-c", "/s/c.json",
		"-o", "a=1", "-o", "b=2",
		"-a", "ctx.txt",
		"--upsert",
		"-i", "in.txt",
		"-t", "meta",
		"--upload-image-file", "img.png",
		"--download-media", "media",
		"--parse-code",
		"--execute-output",
		"--markdown",
		"--generate-cypher", "query",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() = %v, want %v", got, want)
	}
}

func TestBuild_PipelineBlock(t *testing.T) {
	b := New("fluent")
	req := &job.Request{Engine: "openai", RunID: "run-42"}
	got := b.Build(req, StagedFiles{Pipeline: "/s/p.yaml"})
	want := []string{"fluent", "openai", "pipeline", "--file", "/s/p.yaml", "--run-id", "run-42"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() = %v, want %v", got, want)
	}
}

func TestBuild_PipelineFlagsIgnoredWithoutPipelineFile(t *testing.T) {
	// Pipeline options only apply inside the pipeline sub-command block.
	b := New("fluent")
	req := &job.Request{Engine: "openai", RunID: "run-42", JSONOutput: true, ForceFresh: true}
	got := b.Build(req, StagedFiles{})
	want := []string{"fluent", "openai"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() = %v, want %v", got, want)
	}
}

func TestBuild_PipelineAllFlags(t *testing.T) {
	b := New("fluent")
	req := &job.Request{
		Engine:        "openai",
		PipelineInput: "seed",
		JSONOutput:    true,
		RunID:         "r1",
		ForceFresh:    true,
	}
	got := b.Build(req, StagedFiles{Pipeline: "/s/p.yaml"})
	want := []string{
		"fluent", "openai",
		"pipeline", "--file", "/s/p.yaml",
		"--input", "seed",
		"--json-output",
		"--run-id", "r1",
		"--force-fresh",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() = %v, want %v", got, want)
	}
}
