package sandbox

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

const (
	defaultDockerPIDsLimit = 64
	defaultDockerCPUCores  = 1.0
	defaultDockerMemoryMB  = 512
	defaultDockerImage     = "fluent-runtime:latest"
)

// DockerConfig configures the Docker-based sandbox.
type DockerConfig struct {
	Image          string        // Container image carrying the engine binary.
	DefaultTimeout time.Duration // Wall-clock timeout per execution.
	MemoryMB       int           // --memory hard limit.
	CPUCores       float64       // --cpus rate limit (e.g. 0.5 = half a core).
	PIDsLimit      int           // --pids-limit (prevents fork bombs).
	MaxOutputBytes int           // Per-stream capture cap.
	DisableNetwork bool          // true = --network=none. The engine usually needs provider APIs.
	StagingDir     string        // Host staging dir, bind-mounted read-only so staged paths resolve.
}

// DockerSandbox executes the engine inside ephemeral Docker containers.
//
// Security guarantees:
//   - Each execution gets its own container (--rm, plus deferred docker rm -f safety net)
//   - ALL Linux capabilities dropped (--cap-drop=ALL)
//   - Read-only root filesystem (--read-only) with tmpfs for writable dirs
//   - Privilege escalation blocked (--security-opt=no-new-privileges)
//   - Non-root user (--user=65534:65534)
//   - No host PID namespace, no docker socket mount, no privileged mode
//   - Staging dir mounted read-only; nothing else from the host is visible
//   - Memory hard limit with no swap (OOM kill on exceed)
//   - PIDs limit prevents fork bombs
//   - CPU rate limited
//   - stdout/stderr capped to prevent OOM on the host
//   - Container always cleaned up, even on timeout/crash
type DockerSandbox struct {
	config   DockerConfig
	redactor *Redactor
	logger   *slog.Logger
}

// NewDockerSandbox creates a Docker-based sandbox.
func NewDockerSandbox(cfg DockerConfig, redactor *Redactor, logger *slog.Logger) *DockerSandbox {
	if cfg.Image == "" {
		cfg.Image = defaultDockerImage
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = defaultDockerMemoryMB
	}
	if cfg.CPUCores <= 0 {
		cfg.CPUCores = defaultDockerCPUCores
	}
	if cfg.PIDsLimit <= 0 {
		cfg.PIDsLimit = defaultDockerPIDsLimit
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = maxOutputBytes
	}
	return &DockerSandbox{
		config:   cfg,
		redactor: redactor,
		logger:   logger,
	}
}

// Execute runs one engine invocation inside an ephemeral container.
// A timeout is a result, not an error; non-zero exit likewise.
func (s *DockerSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	containerName, err := generateContainerName()
	if err != nil {
		return nil, fmt.Errorf("generating container name: %w", err)
	}

	args := s.buildDockerArgs(containerName)
	args = append(args, req.Command...)

	cmd := exec.CommandContext(ctx, "docker", args...)

	// Kill the docker client on context cancellation; the daemon stops the
	// container when the client disconnects.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: s.config.MaxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: s.config.MaxOutputBytes}

	s.logger.Info("docker sandbox executing",
		slog.String("container", containerName),
		slog.String("image", s.config.Image),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	// Safety net: force remove the container in case --rm didn't fire
	// (e.g., OOM kill, daemon restart, context cancel race).
	s.forceRemoveContainer(containerName)

	if runErr != nil && ctx.Err() != nil {
		s.logger.Warn("docker sandbox timed out",
			slog.String("container", containerName),
			slog.Duration("timeout", timeout),
			slog.Duration("duration", duration),
		)
		return &ExecutionResult{
			Stderr:   s.redactor.Redact(stderrBuf.String()),
			ExitCode: -1,
			TimedOut: true,
			Duration: duration,
		}, nil
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("docker execution failed: %w", runErr)
		}
	}

	s.logger.Info("docker sandbox completed",
		slog.String("container", containerName),
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdoutBuf.Len()),
		slog.Int("stderr_bytes", stderrBuf.Len()),
	)

	return &ExecutionResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   s.redactor.Redact(stderrBuf.String()),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// buildDockerArgs constructs the full docker run argument list with all
// security hardening flags. The command itself is NOT included — caller appends it.
func (s *DockerSandbox) buildDockerArgs(name string) []string {
	memoryFlag := strconv.Itoa(s.config.MemoryMB) + "m"
	cpuFlag := strconv.FormatFloat(s.config.CPUCores, 'f', 2, 64)
	pidsFlag := strconv.Itoa(s.config.PIDsLimit)

	args := []string{
		"run", "--rm",
		"--name", name,

		// --- Security hardening ---
		"--cap-drop=ALL",                   // Drop all Linux capabilities.
		"--security-opt=no-new-privileges", // Block setuid/setgid escalation.
		"--read-only",                      // Read-only root filesystem.
		"--user=65534:65534",               // Non-root (nobody).

		// --- Resource limits ---
		"--memory=" + memoryFlag,      // Hard memory limit.
		"--memory-swap=" + memoryFlag, // Same as memory = disable swap (OOM kill).
		"--cpus=" + cpuFlag,           // CPU rate limit.
		"--pids-limit=" + pidsFlag,    // Fork bomb protection.

		// --- Writable tmpfs for working directories ---
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
		"--tmpfs", "/home/sandbox:rw,noexec,nosuid,size=64m",

		// --- Sanitized environment (no host inheritance) ---
		"--env", "HOME=/home/sandbox",
		"--env", "PATH=/usr/local/bin:/usr/bin:/bin",
		"--env", "LANG=en_US.UTF-8",
		"--env", "TERM=dumb",

		"--workdir", "/home/sandbox",
	}

	// Network policy: engine invocations need provider APIs unless
	// explicitly disabled.
	if s.config.DisableNetwork {
		args = append(args, "--network=none")
	} else {
		args = append(args, "--network=bridge")
	}

	// Staged files must resolve inside the container at the same paths the
	// argument vector carries. Read-only, nothing is written back.
	if s.config.StagingDir != "" {
		args = append(args, "-v", s.config.StagingDir+":"+s.config.StagingDir+":ro")
	}

	// Image (must come after all flags, before command).
	args = append(args, s.config.Image)

	return args
}

// forceRemoveContainer attempts to remove a container by name.
// This is a safety net — if --rm didn't fire due to OOM kill, daemon
// restart, or context cancel race, this ensures no container leakage.
// Errors are logged but not returned (best-effort cleanup).
func (s *DockerSandbox) forceRemoveContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil {
		// "No such container" is expected when --rm already cleaned up.
		if !bytes.Contains(out, []byte("No such container")) {
			s.logger.Warn("docker rm -f failed",
				slog.String("container", name),
				slog.String("error", err.Error()),
				slog.String("output", string(out)),
			)
		}
	}
}

// generateContainerName returns a unique container name: fluentgate-run-<16 hex chars>.
func generateContainerName() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "fluentgate-run-" + hex.EncodeToString(b), nil
}

var _ Sandbox = (*DockerSandbox)(nil)
