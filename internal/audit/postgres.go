package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgresConfig configures the PostgreSQL audit backend.
type PostgresConfig struct {
	DSN              string
	MaxOpenConns     int // Default: 25
	MaxIdleConns     int // Default: 5
	ConnMaxLifetimeS int // Default: 1800 (30 min)
}

func (c PostgresConfig) maxOpen() int {
	if c.MaxOpenConns > 0 {
		return c.MaxOpenConns
	}
	return 25
}

func (c PostgresConfig) maxIdle() int {
	if c.MaxIdleConns > 0 {
		return c.MaxIdleConns
	}
	return 5
}

func (c PostgresConfig) maxLifetime() time.Duration {
	if c.ConnMaxLifetimeS > 0 {
		return time.Duration(c.ConnMaxLifetimeS) * time.Second
	}
	return 30 * time.Minute
}

// PostgresStore implements Store backed by PostgreSQL via GORM.
type PostgresStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// OpenPostgres connects to PostgreSQL, configures the pool, and migrates.
func OpenPostgres(cfg PostgresConfig, slogger *slog.Logger) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      gormLogger(slogger),
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.maxOpen())
	sqlDB.SetMaxIdleConns(cfg.maxIdle())
	sqlDB.SetConnMaxLifetime(cfg.maxLifetime())

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("auto-migrating: %w", err)
	}

	slogger.Info("audit store opened",
		slog.String("driver", "postgres"),
		slog.Int("max_open_conns", cfg.maxOpen()),
	)
	return &PostgresStore{db: db, logger: slogger}, nil
}

// Append writes one job record.
func (s *PostgresStore) Append(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// Recent returns the newest records, most recent first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	var recs []Record
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// Close releases the database connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
