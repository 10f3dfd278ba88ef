// Package httpapi implements the HTTP gateway for the fluent engine.
//
// Security:
//   - Engine, option, and file-content validation before anything touches disk
//   - Request body size limits (default 10 MB)
//   - Per-client sliding-window rate limiting
//   - Optional API key authentication (constant-time comparison)
//   - Engine processes run without a shell, with a minimal environment
//   - All requests logged with correlation IDs; stderr redacted before reuse
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/fluentgate/fluentgate/internal/audit"
	"github.com/fluentgate/fluentgate/internal/command"
	"github.com/fluentgate/fluentgate/internal/gateway"
	"github.com/fluentgate/fluentgate/internal/job"
	"github.com/fluentgate/fluentgate/internal/observability"
	"github.com/fluentgate/fluentgate/internal/ratelimit"
	"github.com/fluentgate/fluentgate/internal/sandbox"
	"github.com/fluentgate/fluentgate/internal/staging"
)

const defaultMaxRequestSize = 10 << 20 // 10 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → client ID mapping. Empty = no auth.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 10 MB default.
	ExecTimeout    time.Duration     // Per-job execution timeout.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for middleware and job counters.
	Tracer          *observability.TracerSetup      // OTel tracer, nil when tracing is disabled.
}

// Gateway is the HTTP gateway. It owns the full request pipeline:
// admit → validate → stage → build → execute → respond.
type Gateway struct {
	config  Config
	policy  job.Policy
	builder *command.Builder
	stager  *staging.Manager
	sandbox sandbox.Sandbox
	limiter *ratelimit.Limiter
	store   audit.Store // nil = auditing disabled.
	logger  *slog.Logger
	server  *http.Server
	maxBody int64

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP gateway.
func NewGateway(cfg Config, policy job.Policy, builder *command.Builder, stager *staging.Manager, sb sandbox.Sandbox, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:  cfg,
		policy:  policy,
		builder: builder,
		stager:  stager,
		sandbox: sb,
		limiter: rl,
		logger:  logger,
		maxBody: maxSize,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

// WithAuditStore attaches an audit store to the gateway and enables the
// job history endpoint.
func (g *Gateway) WithAuditStore(store audit.Store) *Gateway {
	g.store = store
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "fluentgate",
			Version: "v0.0.1",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Body cap first: a handler binding an over-limit body must fail
	// before the bytes are held in memory, not after.
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return limitRequestBody(g.maxBody, next)
	})

	// Metrics/tracing middleware (applied globally).
	var tracer trace.Tracer
	if g.config.Tracer != nil {
		tracer = g.config.Tracer.Tracer()
	}
	if g.config.Metrics != nil || tracer != nil {
		metrics := g.config.Metrics
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(metrics, tracer, next)
		})
	}

	// /v1 group, authenticated when API keys are configured.
	if len(g.config.APIKeys) > 0 {
		g.group = g.okapi.Group("/v1", g.authenticate)
	} else {
		g.group = g.okapi.Group("/v1")
	}

	g.group.Post("/execute", g.handleExecute,
		okapi.DocSummary("Submit a job for the fluent engine"),
		okapi.DocTags("Jobs"),
		okapi.DocRequestBody(job.Request{}),
		okapi.DocResponse(ExecuteResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusRequestEntityTooLarge, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
		okapi.DocResponse(http.StatusBadGateway, ErrorBody{}),
		okapi.DocResponse(http.StatusGatewayTimeout, ExecuteResponse{}),
	)
	g.group.Get("/engines", g.handleEngines,
		okapi.DocSummary("List accepted engine identifiers"),
		okapi.DocTags("Jobs"),
		okapi.DocResponse(EnginesResponse{}),
	)
	if g.store != nil {
		g.group.Get("/jobs", g.handleRecentJobs,
			okapi.DocSummary("List recent job records"),
			okapi.DocTags("Jobs"),
			okapi.DocResponse([]audit.Record{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// ExecuteResponse is the JSON response for POST /v1/execute.
type ExecuteResponse struct {
	Success       bool   `json:"success"`
	Output        string `json:"output,omitempty"`
	Error         string `json:"error,omitempty"` // Redacted engine stderr.
	ExitCode      int    `json:"exitCode"`
	TimedOut      bool   `json:"timedOut,omitempty"`
	DurationMs    int64  `json:"durationMs"`
	CorrelationID string `json:"correlationId"`
}

func (g *Gateway) handleExecute(c *okapi.Context) error {
	clientID := clientIdentity(c.Request())

	// Admission control before any parsing work.
	if g.limiter != nil {
		if err := g.limiter.Allow(clientID); err != nil {
			if g.config.Metrics != nil {
				g.config.Metrics.RateLimitedTotal.Inc()
			}
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req job.Request
	if err := c.Bind(&req); err != nil {
		status, msg := bindFailure(err)
		return c.JSON(status, ErrorBody{Error: msg})
	}

	if verr := job.Validate(&req, g.policy); verr != nil {
		if g.config.Metrics != nil {
			g.config.Metrics.ValidationFailures.WithLabelValues(verr.Field).Inc()
		}
		return c.JSON(http.StatusBadRequest, ErrorBody{Error: verr.Error()})
	}

	correlationID := newCorrelationID()
	g.logger.Info("job accepted",
		slog.String("client_id", clientID),
		slog.String("correlation_id", correlationID),
		slog.String("engine", req.Engine),
	)

	start := time.Now()
	resp, err := g.runJob(c.Context(), clientID, correlationID, &req)
	if g.config.Metrics != nil {
		g.config.Metrics.JobDuration.WithLabelValues(req.Engine).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		switch {
		case errors.Is(err, staging.ErrContentTooLarge):
			g.recordJob(c.Context(), clientID, correlationID, &req, nil, "content too large")
			return c.JSON(http.StatusRequestEntityTooLarge, ErrorBody{Error: "file content too large"})
		case errors.Is(err, staging.ErrInvalidExtension):
			g.recordJob(c.Context(), clientID, correlationID, &req, nil, "invalid extension")
			return c.JSON(http.StatusBadRequest, ErrorBody{Error: "file extension not allowed"})
		default:
			g.logger.Error("job execution failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			g.recordJob(c.Context(), clientID, correlationID, &req, nil, "execution failed")
			return c.JSON(http.StatusBadGateway, ErrorBody{Error: "engine execution failed"})
		}
	}

	if resp.TimedOut {
		return c.JSON(http.StatusGatewayTimeout, resp)
	}
	return c.OK(resp)
}

// runJob drives an admitted, validated request through staging, command
// construction, and sandboxed execution. Staged files are released before
// it returns, success or not.
func (g *Gateway) runJob(ctx context.Context, clientID, correlationID string, req *job.Request) (*ExecuteResponse, error) {
	configPath, err := g.stager.Stage(req.Config, ".json")
	if err != nil {
		return nil, err
	}
	pipelinePath, err := g.stager.Stage(req.PipelineFile, ".yaml")
	if err != nil {
		g.stager.Release(configPath)
		return nil, err
	}
	defer func() {
		g.stager.Release(configPath, pipelinePath)
		if g.config.Metrics != nil {
			g.config.Metrics.StagedFiles.Set(float64(g.stager.Count()))
		}
	}()
	if g.config.Metrics != nil {
		g.config.Metrics.StagedFiles.Set(float64(g.stager.Count()))
	}

	argv := g.builder.Build(req, command.StagedFiles{
		Config:   configPath,
		Pipeline: pipelinePath,
	})

	exec := g.sandbox
	if g.config.Metrics != nil || g.config.Tracer != nil {
		exec = observability.NewInstrumentedSandbox(g.sandbox, req.Engine, g.config.Metrics, g.config.Tracer)
	}

	result, err := exec.Execute(ctx, sandbox.ExecutionRequest{
		Command: argv,
		Timeout: g.config.ExecTimeout,
	})
	if err != nil {
		return nil, err
	}

	resp := &ExecuteResponse{
		Success:       !result.Failed(),
		Output:        result.Stdout,
		ExitCode:      result.ExitCode,
		TimedOut:      result.TimedOut,
		DurationMs:    result.Duration.Milliseconds(),
		CorrelationID: correlationID,
	}
	if result.Failed() {
		resp.Error = result.Stderr
	}

	g.recordJob(ctx, clientID, correlationID, req, result, resp.Error)
	return resp, nil
}

// recordJob appends an audit record and updates job counters. Audit failures
// are logged, never surfaced to the client.
func (g *Gateway) recordJob(ctx context.Context, clientID, correlationID string, req *job.Request, result *sandbox.ExecutionResult, errMsg string) {
	status := audit.StatusFailure
	var exitCode int
	var durationMs int64
	if result != nil {
		exitCode = result.ExitCode
		durationMs = result.Duration.Milliseconds()
		switch {
		case result.TimedOut:
			status = audit.StatusTimeout
		case result.ExitCode == 0:
			status = audit.StatusSuccess
		}
	}

	if g.config.Metrics != nil {
		g.config.Metrics.JobsTotal.WithLabelValues(req.Engine, status).Inc()
	}

	if g.store == nil {
		return
	}
	rec := &audit.Record{
		CorrelationID: correlationID,
		ClientID:      clientID,
		Engine:        req.Engine,
		Status:        status,
		ExitCode:      exitCode,
		DurationMs:    durationMs,
		Error:         errMsg,
	}
	if err := g.store.Append(ctx, rec); err != nil {
		g.logger.Warn("audit append failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// EnginesResponse is the JSON response for GET /v1/engines.
type EnginesResponse struct {
	Engines []string `json:"engines"`
}

func (g *Gateway) handleEngines(c *okapi.Context) error {
	return c.OK(EnginesResponse{Engines: g.policy.AllowedEngines})
}

const recentJobsLimit = 50

func (g *Gateway) handleRecentJobs(c *okapi.Context) error {
	records, err := g.store.Recent(c.Context(), recentJobsLimit)
	if err != nil {
		g.logger.Error("listing job records failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing job records failed")
	}
	return c.OK(records)
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped client ID.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		clientID := ""
		for key, id := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				clientID = id
			}
		}
		if clientID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("clientID", clientID)
		return next(c)
	}
}

// --- Helpers ---

// limitRequestBody wraps every request body in http.MaxBytesReader so the
// transport enforces the aggregate size bound, not just post-parse checks.
func limitRequestBody(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// bindFailure maps a body-decode error to its status: 413 when the
// MaxBytesReader cap tripped, 400 for everything else.
func bindFailure(err error) (int, string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge, "request body too large"
	}
	return http.StatusBadRequest, "invalid request body"
}

// clientIdentity resolves the rate-limit identity: the first value of
// X-Forwarded-For when present, else the remote host.
func clientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

var _ gateway.Gateway = (*Gateway)(nil)
