package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/fluentgate/fluentgate/internal/audit"
	"github.com/fluentgate/fluentgate/internal/command"
	"github.com/fluentgate/fluentgate/internal/config"
	"github.com/fluentgate/fluentgate/internal/gateway/httpapi"
	"github.com/fluentgate/fluentgate/internal/job"
	"github.com/fluentgate/fluentgate/internal/observability"
	"github.com/fluentgate/fluentgate/internal/ratelimit"
	"github.com/fluentgate/fluentgate/internal/sandbox"
	"github.com/fluentgate/fluentgate/internal/staging"
)

var (
	serveConfigPath string
	serveListenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `fluentgate --config path` and `fluentgate serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", "", "path to config file")
		cmd.Flags().StringVar(&serveListenAddr, "listen", "", "override listen address (e.g. :8080)")
	}
}

// runServe starts the gateway: config, observability, staging, sandbox,
// rate limiter, audit store, then the HTTP server until SIGINT/SIGTERM.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("FLUENTGATE_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveListenAddr != "" {
		cfg.ListenAddr = serveListenAddr
	}

	logger.Info("starting gateway",
		slog.String("listen_addr", cfg.ListenAddr),
		slog.String("engine", cfg.Engine.BinaryName()),
	)

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Observability (optional).
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}()

	// Staged file manager, swept on shutdown.
	stager, err := staging.NewManager(staging.Config{
		Dir:               cfg.Staging.Dir,
		AllowedExtensions: cfg.Staging.AllowedExtensions,
		MaxContentBytes:   cfg.Staging.MaxContentBytes,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing staging: %w", err)
	}
	defer stager.Sweep()

	// Stale-sweep backstop for files leaked by crashed requests.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Staging.SweepSchedule(), func() {
		before := stager.Count()
		stager.SweepStale(cfg.Staging.StaleMaxAge())
		if m := obs.MetricsOrNil(); m != nil {
			if swept := before - stager.Count(); swept > 0 {
				m.StagedFilesSwept.Add(float64(swept))
			}
			m.StagedFiles.Set(float64(stager.Count()))
		}
	}); err != nil {
		return fmt.Errorf("invalid stale sweep schedule %q: %w", cfg.Staging.SweepSchedule(), err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Sandboxed executor with stderr redaction. Docker backend when
	// configured, direct process execution otherwise.
	redactor := sandbox.NewRedactor(cfg.Engine.BinaryName(), cfg.Engine.MaxStderrChars)
	var sb sandbox.Sandbox
	if d := cfg.Engine.Docker; d != nil {
		sb = sandbox.NewDockerSandbox(sandbox.DockerConfig{
			Image:          d.Image,
			DefaultTimeout: cfg.Engine.Timeout(),
			MemoryMB:       d.MemoryMB,
			CPUCores:       d.CPUCores,
			PIDsLimit:      d.PIDsLimit,
			MaxOutputBytes: cfg.Engine.MaxOutputBytes,
			DisableNetwork: d.DisableNetwork,
			StagingDir:     stager.Dir(),
		}, redactor, logger)
	} else {
		sb, err = sandbox.NewProcessSandbox(sandbox.ProcessConfig{
			DefaultTimeout: cfg.Engine.Timeout(),
			WorkDir:        cfg.Engine.WorkDir,
			MaxOutputBytes: cfg.Engine.MaxOutputBytes,
		}, redactor, logger)
		if err != nil {
			return fmt.Errorf("initializing sandbox: %w", err)
		}
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerWindow: cfg.RateLimit.RequestsPerMinute,
		Window:            cfg.RateLimit.Window(),
	})

	// Audit store (optional).
	var store audit.Store
	if cfg.Audit != nil {
		store, err = openAuditStore(cfg.Audit, logger)
		if err != nil {
			return fmt.Errorf("opening audit store: %w", err)
		}
		defer func() {
			if cerr := store.Close(); cerr != nil {
				logger.Warn("closing audit store", slog.String("error", cerr.Error()))
			}
		}()
	}

	policy := job.Policy{
		AllowedEngines:  cfg.Engine.AllowedEngines(),
		MaxPayloadBytes: int(cfg.MaxBodyBytes()),
	}

	gwCfg := httpapi.Config{
		ListenAddr:     cfg.ListenAddr,
		EnableDocs:     cfg.EnableDocs,
		APIKeys:        apiKeysFromEnv(),
		MaxRequestSize: cfg.MaxBodyBytes(),
		ExecTimeout:    cfg.Engine.Timeout(),
	}
	if obs != nil {
		gwCfg.Metrics = obs.Metrics
		gwCfg.Tracer = obs.Tracer
		gwCfg.HealthChecker = obs.Health
		if obs.Metrics != nil {
			gwCfg.MetricsRegistry = obs.Metrics.Registry
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			gwCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
		registerHealthChecks(obs.Health, cfg, stager, store)
	}

	gw := httpapi.NewGateway(gwCfg, policy, command.New(cfg.Engine.BinaryName()), stager, sb, limiter, logger)
	if store != nil {
		gw.WithAuditStore(store)
	}

	// Start the gateway and wait for signal or server error.
	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return gw.Stop(shutdownCtx)
}

// openAuditStore opens the configured audit backend, sqlite by default.
func openAuditStore(cfg *config.AuditConfig, logger *slog.Logger) (audit.Store, error) {
	switch cfg.AuditDriver() {
	case "postgres":
		if cfg.Postgres == nil || cfg.Postgres.DSN == "" {
			return nil, fmt.Errorf("audit.postgres.dsn is required for the postgres driver")
		}
		return audit.OpenPostgres(audit.PostgresConfig{
			DSN:              cfg.Postgres.DSN,
			MaxOpenConns:     cfg.Postgres.MaxOpenConns,
			MaxIdleConns:     cfg.Postgres.MaxIdleConns,
			ConnMaxLifetimeS: cfg.Postgres.ConnMaxLifetimeS,
		}, logger)
	default:
		path := filepath.Join(os.TempDir(), "fluentgate", "audit.db")
		journalMode := ""
		if cfg.SQLite != nil {
			if cfg.SQLite.Path != "" {
				path = cfg.SQLite.Path
			}
			journalMode = cfg.SQLite.JournalMode
		}
		return audit.OpenSQLite(audit.SQLiteConfig{
			Path:        path,
			JournalMode: journalMode,
		}, logger)
	}
}

// registerHealthChecks wires readiness probes: the engine binary must be
// resolvable, the staging directory writable, and the audit store (when
// configured) answering queries.
func registerHealthChecks(h *observability.HealthChecker, cfg *config.Config, stager *staging.Manager, store audit.Store) {
	binary := cfg.Engine.BinaryName()
	if cfg.Engine.Docker != nil {
		binary = "docker"
	}
	h.AddCheck("engine", func(ctx context.Context) error {
		_, err := exec.LookPath(binary)
		return err
	})
	h.AddCheck("staging", func(ctx context.Context) error {
		path, err := stager.Stage("probe", ".txt")
		if err != nil {
			return err
		}
		stager.Release(path)
		return nil
	})
	if store != nil {
		h.AddCheck("audit", func(ctx context.Context) error {
			_, err := store.Recent(ctx, 1)
			return err
		})
	}
}

// apiKeysFromEnv parses FLUENTGATE_API_KEYS ("key:client,key2:client2")
// into the API key → client ID mapping. Empty = authentication disabled.
func apiKeysFromEnv() map[string]string {
	envKeys := os.Getenv("FLUENTGATE_API_KEYS")
	if envKeys == "" {
		return nil
	}
	keys := make(map[string]string)
	for _, entry := range strings.Split(envKeys, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) == 2 {
			keys[parts[0]] = parts[1]
		}
	}
	return keys
}
