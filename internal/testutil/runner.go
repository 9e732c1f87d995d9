package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/e2eshark/internal/ledger"
	"github.com/roach88/e2eshark/internal/runner"
)

// Step scripts how FakeRunner answers a command of one phase.
type Step struct {
	// Files are written relative to the command's Dir before returning,
	// standing in for the artifacts the real tool would produce.
	Files map[string][]byte

	// Do runs after Files are written. It may produce artifacts whose
	// names depend on the command, or inspect it.
	Do func(cmd runner.Command) error

	// Err is returned when Do is nil or returns nil.
	Err error
}

// FakeRunner is a scripted runner.Runner that records every command.
//
// Phases without a Step succeed without side effects.
//
// Thread-safety: FakeRunner may be shared by concurrently running pipelines.
type FakeRunner struct {
	mu    sync.Mutex
	steps map[ledger.Phase]Step
	calls []runner.Command
}

// NewFakeRunner creates a runner where every phase succeeds.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{steps: make(map[ledger.Phase]Step)}
}

// On scripts phase and returns the runner for chaining.
func (f *FakeRunner) On(phase ledger.Phase, step Step) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[phase] = step
	return f
}

// Fail makes every command of phase exit with code.
func (f *FakeRunner) Fail(phase ledger.Phase, code int) *FakeRunner {
	return f.On(phase, Step{Err: &runner.ExitError{Code: code}})
}

// Run implements runner.Runner.
func (f *FakeRunner) Run(ctx context.Context, cmd runner.Command) error {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	step := f.steps[cmd.Phase]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	for name, data := range step.Files {
		if err := os.WriteFile(filepath.Join(cmd.Dir, name), data, 0o644); err != nil {
			return fmt.Errorf("fake %s: %w", cmd.Phase, err)
		}
	}
	if step.Do != nil {
		if err := step.Do(cmd); err != nil {
			return err
		}
	}
	return step.Err
}

// Calls returns a copy of every recorded command in call order.
func (f *FakeRunner) Calls() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runner.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// Phases returns the phase of every recorded command in call order.
func (f *FakeRunner) Phases() []ledger.Phase {
	calls := f.Calls()
	out := make([]ledger.Phase, len(calls))
	for i, c := range calls {
		out[i] = c.Phase
	}
	return out
}

// CallsIn returns the commands whose working directory is dir.
func (f *FakeRunner) CallsIn(dir string) []runner.Command {
	var out []runner.Command
	for _, c := range f.Calls() {
		if c.Dir == dir {
			out = append(out, c)
		}
	}
	return out
}
