package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// maxOutputBytes caps stdout/stderr to prevent OOM from chatty engines.
	maxOutputBytes = 1 << 20 // 1 MB

	defaultTimeout = 60 * time.Second
)

// ProcessConfig configures the process-based sandbox.
type ProcessConfig struct {
	DefaultTimeout time.Duration
	WorkDir        string // Fixed working directory. Empty = a private temp dir.
	MaxOutputBytes int    // Per-stream capture cap. 0 = 1 MB.
}

// ProcessSandbox executes command vectors as isolated OS processes.
//
// Security guarantees:
//   - The vector goes straight to exec — no shell, no re-parsing
//   - Process runs in its own process group (Setpgid)
//   - Entire process group killed on timeout/cancel
//   - No environment inheritance from parent — only a minimal safe set
//   - Fixed working directory, distinct from any request-writable path
//   - stdout/stderr capped to prevent OOM
//   - stderr redacted and truncated before it leaves the package
type ProcessSandbox struct {
	defaultTimeout time.Duration
	workDir        string
	maxOutput      int
	redactor       *Redactor
	logger         *slog.Logger
}

// NewProcessSandbox creates a process-based sandbox. The redactor scrubs
// stderr before results are returned.
func NewProcessSandbox(cfg ProcessConfig, redactor *Redactor, logger *slog.Logger) (*ProcessSandbox, error) {
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "fluentgate-work-*")
		if err != nil {
			return nil, fmt.Errorf("creating sandbox work dir: %w", err)
		}
		workDir = dir
	}

	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = maxOutputBytes
	}

	return &ProcessSandbox{
		defaultTimeout: timeout,
		workDir:        workDir,
		maxOutput:      maxOutput,
		redactor:       redactor,
		logger:         logger,
	}, nil
}

// WorkDir returns the sandbox working directory.
func (s *ProcessSandbox) WorkDir() string { return s.workDir }

// Execute runs the command vector in an isolated process environment.
// A timeout or non-zero exit is reported through the result, not as an
// error; errors are reserved for failures to run the process at all.
func (s *ProcessSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, req.Command[0], req.Command[1:]...)
	cmd.Dir = s.workDir

	// Process group isolation — the child runs in its own group.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	// Kill the entire process group on context cancellation (timeout/cancel).
	// This ensures children spawned by the engine are also terminated.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID = kill the entire process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	// Sanitized environment — NO inheritance from the host process.
	cmd.Env = s.buildEnv()

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: s.maxOutput}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: s.maxOutput}

	s.logger.Info("sandbox executing",
		slog.String("program", req.Command[0]),
		slog.Int("args", len(req.Command)-1),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &ExecutionResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   s.redactor.Redact(stderrBuf.String()),
		Duration: duration,
	}

	if runErr != nil {
		// Timeout first: the deadline kill surfaces as a run error.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("sandbox execution timed out",
				slog.Duration("timeout", timeout),
				slog.Duration("duration", duration),
			)
			result.TimedOut = true
			result.ExitCode = -1
			return result, nil
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// The process never ran (binary missing, permission denied, ...).
			return nil, fmt.Errorf("execution failed: %w", runErr)
		}
	}

	s.logger.Info("sandbox execution completed",
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", len(result.Stdout)),
		slog.Int("stderr_bytes", len(result.Stderr)),
	)

	return result, nil
}

// buildEnv constructs a minimal, safe environment. The parent process's
// environment is NEVER inherited — this prevents API keys, credentials,
// and other secrets from leaking into the engine process.
func (s *ProcessSandbox) buildEnv() []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + s.workDir,
		"TMPDIR=" + s.workDir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded (not an error — just capped).
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	full := len(p)
	if lw.remaining <= 0 {
		return full, nil // Silently discard.
	}
	if len(p) > lw.remaining {
		p = p[:lw.remaining]
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	if err != nil {
		return n, err
	}
	// Report the full length even when the tail was discarded, so the
	// caller's copy loop keeps draining instead of failing short-write.
	return full, nil
}
