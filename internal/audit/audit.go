// Package audit persists per-job outcome records. Full execution detail is
// kept server-side; the records only ever hold already-redacted error text.
// Auditing is best-effort — a write failure is logged and never fails the
// request that produced it.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job statuses recorded for accepted requests.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusTimeout = "timeout"
)

// Record is one job outcome.
type Record struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CorrelationID string    `gorm:"index" json:"correlation_id"`
	ClientID      string    `gorm:"index" json:"client_id"`
	Engine        string    `json:"engine"`
	Status        string    `gorm:"index" json:"status"`
	ExitCode      int       `json:"exit_code"`
	DurationMs    int64     `json:"duration_ms"`
	Error         string    `json:"error,omitempty"` // Redacted diagnostic, if any.
	CreatedAt     time.Time `json:"created_at"`
}

// TableName keeps the table name stable across backends.
func (Record) TableName() string { return "job_records" }

// Store persists job records.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
