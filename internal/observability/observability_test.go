package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/fluentgate/fluentgate/internal/config"
	"github.com/fluentgate/fluentgate/internal/sandbox"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestNew_MetricsEnabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.Metrics == nil {
		t.Fatal("expected metrics collector")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
	if obs.MetricsOrNil() != nil {
		t.Error("expected nil metrics from nil Observability")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Initialize some metrics so they appear in Gather (a CounterVec only
	// appears after first use).
	m.JobsTotal.WithLabelValues("openai", "success").Inc()
	m.ExecutionsTotal.WithLabelValues("openai", "success").Inc()
	m.ValidationFailures.WithLabelValues("engine").Inc()
	m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/execute", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"fluentgate_jobs_total",
		"fluentgate_engine_executions_total",
		"fluentgate_jobs_validation_failures_total",
		"fluentgate_http_requests_total",
		"fluentgate_jobs_rate_limited_total",
		"fluentgate_staging_files",
		"fluentgate_active_requests",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	m.JobsTotal.WithLabelValues("anthropic", "success").Inc()
	m.JobsTotal.WithLabelValues("anthropic", "success").Inc()
	m.JobsTotal.WithLabelValues("anthropic", "failure").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "fluentgate_jobs_total" {
			found = true
			for _, metric := range f.GetMetric() {
				labels := labelMap(metric.GetLabel())
				if labels["status"] == "success" {
					if got := metric.GetCounter().GetValue(); got != 2 {
						t.Errorf("success count = %v, want 2", got)
					}
				}
				if labels["status"] == "failure" {
					if got := metric.GetCounter().GetValue(); got != 1 {
						t.Errorf("failure count = %v, want 1", got)
					}
				}
			}
		}
	}
	if !found {
		t.Error("fluentgate_jobs_total not found")
	}
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("audit", func(ctx context.Context) error { return nil })
	h.AddCheck("staging", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if status.Checks["audit"].Status != "ok" {
		t.Errorf("audit check = %q, want ok", status.Checks["audit"].Status)
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("audit", func(ctx context.Context) error { return errors.New("connection refused") })
	h.AddCheck("staging", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["audit"].Status != "fail" {
		t.Errorf("audit check = %q, want fail", status.Checks["audit"].Status)
	}
	if status.Checks["staging"].Status != "ok" {
		t.Errorf("staging check = %q, want ok", status.Checks["staging"].Status)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckHealth()
	if status.Status != "ok" {
		t.Errorf("liveness status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_ProbesRunConcurrently(t *testing.T) {
	h := NewHealthChecker(nil)
	release := make(chan struct{})
	h.AddCheck("a", func(ctx context.Context) error { <-release; return nil })
	h.AddCheck("b", func(ctx context.Context) error { close(release); return nil })

	// Would deadlock if probes ran sequentially in registration order.
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_ReportsLatency(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("slow", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	status := h.CheckReady(context.Background())
	if got := status.Checks["slow"].LatencyMS; got < 10 {
		t.Errorf("LatencyMS = %d, want >= 10", got)
	}
}

// --- Tracing ---

func TestNewTracerSetup_DisabledReturnsNil(t *testing.T) {
	ts, err := NewTracerSetup(nil)
	if err != nil || ts != nil {
		t.Fatalf("NewTracerSetup(nil) = (%v, %v), want (nil, nil)", ts, err)
	}
	ts, err = NewTracerSetup(&config.TracingConfig{Enabled: false})
	if err != nil || ts != nil {
		t.Fatalf("disabled config = (%v, %v), want (nil, nil)", ts, err)
	}
}

func TestNewTracerSetup_UnsupportedProtocol(t *testing.T) {
	if _, err := NewTracerSetup(&config.TracingConfig{Enabled: true, Protocol: "thrift"}); err == nil {
		t.Fatal("expected error for unsupported protocol")
	}
}

// --- InstrumentedSandbox (wrapper) ---

type mockSandbox struct {
	result *sandbox.ExecutionResult
	err    error
	called int
}

func (m *mockSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	m.called++
	return m.result, m.err
}

func TestInstrumentedSandbox_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockSandbox{
		result: &sandbox.ExecutionResult{ExitCode: 0, Duration: 100 * time.Millisecond},
	}

	s := NewInstrumentedSandbox(inner, "openai", metrics, nil)
	result, err := s.Execute(context.Background(), sandbox.ExecutionRequest{Command: []string{"fluent", "openai"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if inner.called != 1 {
		t.Errorf("inner called %d times, want 1", inner.called)
	}

	val := counterValue(t, metrics.Registry, "fluentgate_engine_executions_total", prometheus.Labels{"engine": "openai", "status": "success"})
	if val != 1 {
		t.Errorf("executions = %v, want 1", val)
	}
}

func TestInstrumentedSandbox_NonZeroExit(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockSandbox{
		result: &sandbox.ExecutionResult{ExitCode: 2},
	}

	s := NewInstrumentedSandbox(inner, "openai", metrics, nil)
	if _, err := s.Execute(context.Background(), sandbox.ExecutionRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val := counterValue(t, metrics.Registry, "fluentgate_engine_executions_total", prometheus.Labels{"engine": "openai", "status": "nonzero_exit"})
	if val != 1 {
		t.Errorf("nonzero_exit executions = %v, want 1", val)
	}
}

func TestInstrumentedSandbox_Timeout(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockSandbox{
		result: &sandbox.ExecutionResult{TimedOut: true, ExitCode: -1},
	}

	s := NewInstrumentedSandbox(inner, "google", metrics, nil)
	if _, err := s.Execute(context.Background(), sandbox.ExecutionRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val := counterValue(t, metrics.Registry, "fluentgate_engine_executions_total", prometheus.Labels{"engine": "google", "status": "timeout"})
	if val != 1 {
		t.Errorf("timeout executions = %v, want 1", val)
	}
}

func TestInstrumentedSandbox_Error(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockSandbox{err: errors.New("binary not found")}

	s := NewInstrumentedSandbox(inner, "openai", metrics, nil)
	if _, err := s.Execute(context.Background(), sandbox.ExecutionRequest{}); err == nil {
		t.Fatal("expected error")
	}

	val := counterValue(t, metrics.Registry, "fluentgate_engine_executions_total", prometheus.Labels{"engine": "openai", "status": "error"})
	if val != 1 {
		t.Errorf("error executions = %v, want 1", val)
	}
}

func TestInstrumentedSandbox_NilMetrics(t *testing.T) {
	// Should not panic with nil metrics.
	inner := &mockSandbox{result: &sandbox.ExecutionResult{}}
	s := NewInstrumentedSandbox(inner, "openai", nil, nil)
	if _, err := s.Execute(context.Background(), sandbox.ExecutionRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- HTTP Middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	val := counterValue(t, metrics.Registry, "fluentgate_http_requests_total", prometheus.Labels{"method": "GET", "path": "/test", "status_code": "200"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_ErrorStatus(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	req := httptest.NewRequest("POST", "/v1/execute", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	val := counterValue(t, metrics.Registry, "fluentgate_http_requests_total", prometheus.Labels{"method": "POST", "path": "/v1/execute", "status_code": "502"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	// Should not panic with nil metrics.
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// --- Helpers ---

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
