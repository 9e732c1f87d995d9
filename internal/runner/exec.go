package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Exec runs commands as OS processes.
type Exec struct {
	// Timeout bounds every command; zero means no limit.
	Timeout time.Duration

	// Logger receives a debug record per launched process. Nil discards.
	Logger *slog.Logger
}

// Run starts cmd and waits for it.
//
// The process is placed in its own group. On timeout or cancellation the
// whole group is killed, so grandchildren spawned by the tool do not outlive
// the phase.
func (e *Exec) Run(ctx context.Context, cmd Command) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	closeAll, err := e.attachOutput(c, cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	runCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	logger.Debug("process started", "phase", cmd.Phase, "pid", c.Process.Pid, "dir", cmd.Dir)

	done := make(chan error, 1)
	go func() {
		done <- c.Wait()
	}()

	killed, err := awaitExit(runCtx, done, func() {
		if killErr := syscall.Kill(-c.Process.Pid, syscall.SIGKILL); killErr != nil {
			logger.Debug("kill process group", "phase", cmd.Phase, "pid", c.Process.Pid, "error", killErr)
		}
	})
	if killed {
		if ctx.Err() != nil {
			return fmt.Errorf("%s cancelled: %w", cmd.Phase, ctx.Err())
		}
		logger.Debug("process killed", "phase", cmd.Phase, "pid", c.Process.Pid, "timeout", e.Timeout)
		return fmt.Errorf("%s after %s: %w", cmd.Phase, e.Timeout, ErrTimeout)
	}
	return exitResult(cmd, err)
}

// awaitExit waits for the process to report on done. If ctx ends first the
// process is killed and killed is true. A process that has already exited
// when ctx ends is never reported as killed.
func awaitExit(ctx context.Context, done <-chan error, kill func()) (killed bool, err error) {
	select {
	case err = <-done:
		return false, err
	case <-ctx.Done():
	}
	select {
	case err = <-done:
		return false, err
	default:
	}
	kill()
	return true, <-done
}

// exitResult converts the error of Wait.
func exitResult(cmd Command, err error) error {
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("wait %s: %w", cmd.Path, err)
	}
	return nil
}

// attachOutput opens the redirection targets of cmd and returns a func
// closing them.
func (e *Exec) attachOutput(c *exec.Cmd, cmd Command) (func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	open := func(name string) (*os.File, error) {
		if !filepath.IsAbs(name) {
			name = filepath.Join(cmd.Dir, name)
		}
		f, err := os.Create(name)
		if err != nil {
			return nil, fmt.Errorf("open output %s: %w", name, err)
		}
		files = append(files, f)
		return f, nil
	}

	if cmd.Stdout != "" {
		f, err := open(cmd.Stdout)
		if err != nil {
			closeAll()
			return nil, err
		}
		c.Stdout = f
		if cmd.Stderr == cmd.Stdout {
			c.Stderr = f
		}
	}
	if cmd.Stderr != "" && cmd.Stderr != cmd.Stdout {
		f, err := open(cmd.Stderr)
		if err != nil {
			closeAll()
			return nil, err
		}
		c.Stderr = f
	}
	return closeAll, nil
}
