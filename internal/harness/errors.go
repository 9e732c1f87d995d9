package harness

import (
	"errors"
	"fmt"

	"github.com/roach88/e2eshark/internal/ledger"
)

// Kind categorizes why a test failed.
type Kind string

const (
	// KindEnvironment means the run directory or workspace could not be
	// prepared. No phase ran.
	KindEnvironment Kind = "environment"

	// KindPhase means an external command exited non-zero or could not be
	// started.
	KindPhase Kind = "phase"

	// KindTimeout means an external command exceeded the phase timeout.
	KindTimeout Kind = "timeout"

	// KindOutputMismatch means inference ran but its output does not match
	// the reference.
	KindOutputMismatch Kind = "output-mismatch"

	// KindArtifact means a reference tensor is missing, corrupt or of an
	// unsupported dtype.
	KindArtifact Kind = "artifact"
)

// Failure describes why a test stopped.
type Failure struct {
	Kind    Kind
	Phase   ledger.Phase // empty for KindEnvironment
	Message string
	Err     error
}

func (f *Failure) Error() string {
	msg := f.Message
	if f.Err != nil {
		if msg == "" {
			msg = f.Err.Error()
		} else {
			msg = msg + ": " + f.Err.Error()
		}
	}
	if f.Phase != "" {
		return fmt.Sprintf("%s: %s (phase=%s)", f.Kind, msg, f.Phase)
	}
	return fmt.Sprintf("%s: %s", f.Kind, msg)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsTimeout returns true if err is a Failure of KindTimeout.
// Uses errors.As to handle wrapped errors.
func IsTimeout(err error) bool {
	return isKind(err, KindTimeout)
}

// IsMismatch returns true if err is a Failure of KindOutputMismatch.
func IsMismatch(err error) bool {
	return isKind(err, KindOutputMismatch)
}

// IsEnvironment returns true if err is a Failure of KindEnvironment.
func IsEnvironment(err error) bool {
	return isKind(err, KindEnvironment)
}

func isKind(err error, k Kind) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind == k
	}
	return false
}
