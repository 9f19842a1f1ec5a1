package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ozonassist/internal/api"
)

// ErrDaemonNotRunning is returned by Stop when no live daemon owns the PID file.
var ErrDaemonNotRunning = errors.New("daemon is not running")

// Pinger is the liveness check used to detect a serving daemon.
type Pinger interface {
	Status(ctx context.Context) (api.ServerStatus, error)
}

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	Port  int
}

// StopResult captures daemon stop orchestration state.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Launch starts a detached ozonassist daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForServer polls until the daemon answers or timeout passes.
func WaitForServer(ctx context.Context, pinger Pinger, timeout time.Duration) (api.ServerStatus, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		status, err := pinger.Status(ctx)
		if err == nil {
			return status, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return api.ServerStatus{}, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return api.ServerStatus{}, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless one already answers.
func EnsureStarted(ctx context.Context, pinger Pinger, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if status, err := pinger.Status(ctx); err == nil {
		return StartResult{State: StartStateAlreadyRunning, Port: status.Port}, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	status, err := WaitForServer(ctx, pinger, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{State: StartStateStarted, Port: status.Port}, nil
}

// ReadPID returns the PID recorded in path, or 0 when the file is absent.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s is corrupt", path)
	}
	return pid, nil
}

// Alive reports whether a process with pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Stop signals the daemon recorded in pidPath to shut down, escalating to
// SIGKILL when it outlives gracePeriod.
func Stop(pidPath string, gracePeriod time.Duration) (StopResult, error) {
	pid, err := ReadPID(pidPath)
	if err != nil {
		return StopResult{}, err
	}
	if !Alive(pid) {
		_ = os.Remove(pidPath)
		return StopResult{}, ErrDaemonNotRunning
	}

	result := StopResult{PID: pid}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return result, fmt.Errorf("signal daemon (pid %d): %w", pid, err)
	}
	if waitForExit(pid, gracePeriod) {
		return result, nil
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return result, fmt.Errorf("kill daemon (pid %d): %w", pid, err)
	}
	waitForExit(pid, 2*time.Second)
	_ = os.Remove(pidPath)
	result.ForcedKill = true
	return result, nil
}

func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !Alive(pid)
}
