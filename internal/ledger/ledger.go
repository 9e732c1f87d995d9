// Package ledger records the status and wall time of every phase of one
// test run.
//
// A Ledger starts with every phase NotRun. Each phase moves to Passed or
// Failed exactly once; nothing is retried within a run. The ledger is
// persisted as time.log, one line per phase in pipeline order:
//
//	model-run	passed	1.250000
//	onnx-import	failed	0.031000
//	torch-mlir	notrun	0.000000
package ledger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Phase is one external-process step of the pipeline.
type Phase string

const (
	PhaseModelRun   Phase = "model-run"
	PhaseONNXImport Phase = "onnx-import"
	PhaseTorchMLIR  Phase = "torch-mlir"
	PhaseCompile    Phase = "compile"
	PhaseInference  Phase = "inference"
)

// Phases lists every phase in execution order.
var Phases = []Phase{PhaseModelRun, PhaseONNXImport, PhaseTorchMLIR, PhaseCompile, PhaseInference}

// Index returns the position of p in Phases, or -1.
func (p Phase) Index() int {
	for i, q := range Phases {
		if q == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool { return p.Index() >= 0 }

// Status of one phase.
type Status string

const (
	NotRun Status = "notrun"
	Passed Status = "passed"
	Failed Status = "failed"
)

// Outcome is the recorded result of one phase.
type Outcome struct {
	Status  Status
	Elapsed time.Duration
}

// Entry pairs a phase with its outcome.
type Entry struct {
	Phase Phase
	Outcome
}

var (
	// ErrAlreadyRecorded is returned when a phase that already left NotRun
	// is recorded again.
	ErrAlreadyRecorded = errors.New("phase outcome already recorded")

	// ErrUnknownPhase is returned for a phase outside Phases.
	ErrUnknownPhase = errors.New("unknown phase")
)

// Ledger is the per-test record of phase outcomes.
// It is owned by a single pipeline run and is not safe for concurrent use.
type Ledger struct {
	outcomes [5]Outcome
}

// New returns a ledger with every phase NotRun.
func New() *Ledger {
	l := &Ledger{}
	for i := range l.outcomes {
		l.outcomes[i] = Outcome{Status: NotRun}
	}
	return l
}

// Pass records a successful phase.
func (l *Ledger) Pass(p Phase, elapsed time.Duration) error {
	return l.record(p, Outcome{Status: Passed, Elapsed: elapsed})
}

// Fail records a failed phase.
func (l *Ledger) Fail(p Phase, elapsed time.Duration) error {
	return l.record(p, Outcome{Status: Failed, Elapsed: elapsed})
}

func (l *Ledger) record(p Phase, o Outcome) error {
	idx := p.Index()
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, p)
	}
	if cur := l.outcomes[idx].Status; cur != NotRun {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyRecorded, p, cur)
	}
	l.outcomes[idx] = o
	return nil
}

// Outcome returns the outcome of p. Unknown phases report NotRun.
func (l *Ledger) Outcome(p Phase) Outcome {
	idx := p.Index()
	if idx < 0 {
		return Outcome{Status: NotRun}
	}
	return l.outcomes[idx]
}

// Entries returns all phases with their outcomes, in order.
func (l *Ledger) Entries() []Entry {
	entries := make([]Entry, len(Phases))
	for i, p := range Phases {
		entries[i] = Entry{Phase: p, Outcome: l.outcomes[i]}
	}
	return entries
}

// FirstFailure returns the failed phase, if any.
func (l *Ledger) FirstFailure() (Phase, bool) {
	for i, p := range Phases {
		if l.outcomes[i].Status == Failed {
			return p, true
		}
	}
	return "", false
}

// Total is the sum of all recorded elapsed times.
func (l *Ledger) Total() time.Duration {
	var total time.Duration
	for _, o := range l.outcomes {
		total += o.Elapsed
	}
	return total
}

// WriteTo writes the time.log representation of the ledger.
func (l *Ledger) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, e := range l.Entries() {
		n, err := fmt.Fprintf(w, "%s\t%s\t%.6f\n", e.Phase, e.Status, e.Elapsed.Seconds())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Save writes the ledger to path, replacing any previous content.
func (l *Ledger) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ledger file: %w", err)
	}
	if _, err := l.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write ledger file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger file: %w", err)
	}
	return nil
}
