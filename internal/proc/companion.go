// Package proc spawns and supervises the shared companion process: a
// re-execution of the current binary that hosts all of a task's background
// monitors. One companion exists per task generation; the parent keeps the
// handle for liveness polling and teardown.
package proc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Companion is the parent-side handle of a spawned companion process.
type Companion struct {
	cmd    *exec.Cmd
	pid    int
	logger *slog.Logger

	mu       sync.Mutex
	waited   bool
	exitCode int
	done     chan struct{}
}

// SpawnOptions configures a companion launch.
type SpawnOptions struct {
	// Args are passed to the re-executed binary after the program name.
	Args []string
	// Env entries appended to the current environment; carries the host
	// marker the child checks at startup.
	Env []string
	// ExtraFiles are inherited as descriptors 3, 4, ... in order.
	ExtraFiles []*os.File
	Logger     *slog.Logger
}

// Spawn re-executes the current binary as a companion process in its own
// process group. Spawn failures propagate: there is no fallback mode to
// silently degrade into here, the caller decides.
func Spawn(opts SpawnOptions) (*Companion, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(exe, opts.Args...)
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.ExtraFiles = opts.ExtraFiles
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start companion: %w", err)
	}

	c := &Companion{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		logger: logger,
		done:   make(chan struct{}),
	}
	logger.Info("companion process started", "pid", c.pid)

	// reap in the background so an exited companion never lingers as a
	// zombie that liveness probes would have to special-case
	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		c.waited = true
		c.exitCode = exitCodeFromError(err)
		c.mu.Unlock()
		close(c.done)
		logger.Info("companion process exited", "pid", c.pid, "exit_code", c.exitCode)
	}()
	return c, nil
}

// PID returns the companion's process id.
func (c *Companion) PID() int { return c.pid }

// Alive reports whether the companion is still running.
func (c *Companion) Alive() bool {
	c.mu.Lock()
	waited := c.waited
	c.mu.Unlock()
	if waited {
		return false
	}
	return PIDAlive(c.pid)
}

// Done is closed once the companion has exited and been reaped.
func (c *Companion) Done() <-chan struct{} { return c.done }

// ExitCode returns the exit code once Done is closed, -1 before.
func (c *Companion) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.waited {
		return -1
	}
	return c.exitCode
}

// Stop asks the companion to exit: SIGTERM, a graceful wait, then SIGKILL
// with a bounded secondary wait.
func (c *Companion) Stop(graceful, kill time.Duration) {
	if !c.Alive() {
		return
	}
	c.logger.Info("sending SIGTERM to companion", "pid", c.pid)
	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.logger.Warn("failed to signal companion", "error", err)
	}
	select {
	case <-c.done:
		return
	case <-time.After(graceful):
	}

	c.logger.Warn("graceful shutdown timeout, killing companion", "timeout", graceful)
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.logger.Error("failed to kill companion", "error", err)
	}
	select {
	case <-c.done:
	case <-time.After(kill):
		c.logger.Error("companion did not exit after kill signal")
	}
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
