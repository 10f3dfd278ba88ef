package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Per-probe budget. The staging probe touches disk and the engine probe
// walks PATH (or shells out to docker); neither should hold /readyz hostage.
const probeTimeout = 3 * time.Second

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// HealthChecker aggregates readiness probes for the gateway's runtime
// dependencies: the engine binary, the staging directory, and (when
// configured) the audit store. Liveness is unconditional — a gateway
// that can answer HTTP is alive even when a dependency is down.
type HealthChecker struct {
	mu     sync.Mutex
	probes []probe
	logger *slog.Logger
}

type probe struct {
	name  string
	check func(ctx context.Context) error
}

// HealthStatus is the JSON body served on /healthz and /readyz.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single readiness probe.
type CheckResult struct {
	Status    string `json:"status"`            // "ok" or "fail"
	Message   string `json:"message,omitempty"` // Error message on failure.
	LatencyMS int64  `json:"latencyMs"`
}

// NewHealthChecker creates a HealthChecker with no probes registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named readiness probe. Safe to call before and
// after the server starts.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	h.probes = append(h.probes, probe{name: name, check: check})
	h.mu.Unlock()
}

// CheckHealth is the liveness answer: always "ok" while the process runs.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: statusOK}
}

// CheckReady runs every registered probe concurrently and aggregates the
// results. The gateway is "ok" only when all probes pass; a single
// failure degrades it but individual results are still reported so an
// operator can see which dependency is down.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.Lock()
	probes := make([]probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.Unlock()

	if len(probes) == 0 {
		return HealthStatus{Status: statusOK}
	}

	results := make([]CheckResult, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, p probe) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.check(probeCtx)
			results[i] = CheckResult{
				Status:    statusOK,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				results[i].Status = statusFail
				results[i].Message = err.Error()
			}
		}(i, p)
	}
	wg.Wait()

	status := HealthStatus{
		Status: statusOK,
		Checks: make(map[string]CheckResult, len(probes)),
	}
	for i, p := range probes {
		status.Checks[p.name] = results[i]
		if results[i].Status == statusFail {
			status.Status = statusDegraded
			if h.logger != nil {
				h.logger.Warn("readiness probe failed",
					slog.String("check", p.name),
					slog.String("error", results[i].Message),
				)
			}
		}
	}
	return status
}
