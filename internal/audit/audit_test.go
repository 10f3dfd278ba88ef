package audit

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "audit.db"),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite(SQLiteConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestAppendAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs := []*Record{
		{ClientID: "10.0.0.1", Engine: "openai", Status: StatusSuccess, DurationMs: 120},
		{ClientID: "10.0.0.1", Engine: "anthropic", Status: StatusFailure, ExitCode: 2, Error: "[REDACTED_PATH] not found"},
		{ClientID: "10.0.0.2", Engine: "openai", Status: StatusTimeout, ExitCode: -1},
	}
	for i, rec := range recs {
		rec.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
		if rec.ID.String() == "00000000-0000-0000-0000-000000000000" {
			t.Fatalf("Append(%d) did not assign an ID", i)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d records", len(got))
	}
	if got[0].Status != StatusTimeout {
		t.Errorf("newest record status = %q, want timeout", got[0].Status)
	}
}

func TestRecent_Empty(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Recent on empty store = %d records", len(got))
	}
}
