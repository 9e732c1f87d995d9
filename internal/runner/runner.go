// Package runner launches the external programs that make up each pipeline
// phase.
//
// A Command is run to completion in its own working directory and process
// group. Output streams go to files, never to the parent's terminal, so many
// commands may run at once from different goroutines.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/roach88/e2eshark/internal/ledger"
)

// ErrTimeout is returned when a command exceeds its phase timeout.
var ErrTimeout = errors.New("phase timed out")

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Command describes one external program invocation.
type Command struct {
	Phase ledger.Phase

	Path string
	Args []string

	// Dir is the working directory. Relative Stdout/Stderr paths are
	// resolved against it.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the inherited environment.
	Env []string

	// Stdout and Stderr name the files receiving each stream. Equal
	// non-empty paths mean combined output; empty discards the stream.
	Stdout string
	Stderr string
}

// String renders the shell-equivalent text of c, as written to commands.log.
func (c Command) String() string {
	var b strings.Builder
	b.WriteString(quote(c.Path))
	for _, a := range c.Args {
		b.WriteByte(' ')
		b.WriteString(quote(a))
	}
	switch {
	case c.Stdout != "" && c.Stdout == c.Stderr:
		fmt.Fprintf(&b, " 1> %s 2>&1", quote(c.Stdout))
	default:
		if c.Stdout != "" {
			fmt.Fprintf(&b, " > %s", quote(c.Stdout))
		}
		if c.Stderr != "" {
			fmt.Fprintf(&b, " 2>%s", quote(c.Stderr))
		}
	}
	return b.String()
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`|&;<>()*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Runner runs a command to completion.
//
// A nil error means the command exited zero. Callers classify failures with
// errors.Is(err, ErrTimeout) and errors.As(err, **ExitError); any other
// error means the command could not be started.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd Command) error

func (f RunnerFunc) Run(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// Logged returns a Runner that appends each command's text to w before
// delegating to inner.
func Logged(inner Runner, w io.Writer) Runner {
	return &loggedRunner{inner: inner, w: w}
}

type loggedRunner struct {
	inner Runner

	mu sync.Mutex
	w  io.Writer
}

func (l *loggedRunner) Run(ctx context.Context, cmd Command) error {
	l.mu.Lock()
	_, err := io.WriteString(l.w, cmd.String()+"\n")
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write commands log: %w", err)
	}
	return l.inner.Run(ctx, cmd)
}
