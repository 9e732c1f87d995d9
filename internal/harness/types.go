package harness

import (
	"fmt"
	"time"

	"github.com/roach88/e2eshark/internal/compare"
	"github.com/roach88/e2eshark/internal/ledger"
	"github.com/roach88/e2eshark/internal/selector"
)

// Result is the outcome of running one test.
type Result struct {
	Test selector.TestID `json:"test"`

	// Pass indicates every configured phase passed and, at inference
	// depth, the output matched the reference.
	Pass bool `json:"pass"`

	// Failure is set when Pass is false.
	Failure *Failure `json:"-"`

	// Errors contains human readable failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Ledger holds the status and elapsed time of every phase.
	Ledger *ledger.Ledger `json:"-"`

	// Comparison is the inference comparison, nil when inference did not
	// get as far as comparing.
	Comparison *compare.Result `json:"-"`

	// Dir is the test's run directory.
	Dir string `json:"dir"`

	Started time.Time `json:"started"`
}

// NewResult creates a new passing result with an all-NotRun ledger.
func NewResult(id selector.TestID) *Result {
	return &Result{
		Test:   id,
		Pass:   true,
		Errors: []string{},
		Ledger: ledger.New(),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Fail records f as the reason the test stopped. Only the first failure is
// kept; the pipeline never continues past one.
func (r *Result) Fail(f *Failure) {
	if r.Failure == nil {
		r.Failure = f
	}
	r.AddError(f.Error())
}

// Kind is the failure kind, empty when the test passed.
func (r *Result) Kind() Kind {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Kind
}

// Phase is the phase the test failed in, empty when it passed or failed
// before any phase ran.
func (r *Result) Phase() ledger.Phase {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Phase
}

// Line renders the one-line status printed for the test:
//
//	Test onnx/operators/add passed
//	Test onnx/operators/add failed[compile]
//	Test onnx/operators/add failed[output-mismatch]
func (r *Result) Line() string {
	if r.Pass {
		return fmt.Sprintf("Test %s passed", r.Test)
	}
	return fmt.Sprintf("Test %s failed[%s]", r.Test, r.failureTag())
}

func (r *Result) failureTag() string {
	switch {
	case r.Failure == nil:
		return "unknown"
	case r.Failure.Kind == KindOutputMismatch:
		return string(KindOutputMismatch)
	case r.Failure.Phase == "":
		return string(r.Failure.Kind)
	}
	return string(r.Failure.Phase)
}
