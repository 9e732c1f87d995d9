// Package compare decides whether a tensor observed on the target hardware
// matches its reference.
//
// Both tensors are flattened first so that any structurally equivalent
// reshape compares equal. Tensors of different lengths (or dtypes) never
// reach the elementwise check.
package compare

import (
	"fmt"
	"io"
	"math"

	"github.com/roach88/e2eshark/internal/tensor"
)

// Default tolerances, the same values torch.allclose is called with.
const (
	DefaultAtol = 1e-3
	DefaultRtol = 1e-3
)

// Policy selects exact or tolerance based equality.
type Policy struct {
	// ZeroTolerance requires every element to be equal. NaN is never equal.
	ZeroTolerance bool

	// Atol and Rtol bound |observed - reference| <= Atol + Rtol*|reference|.
	// Ignored when ZeroTolerance is set.
	Atol float64
	Rtol float64
}

// DefaultPolicy returns the tolerance policy with DefaultAtol/DefaultRtol.
func DefaultPolicy() Policy {
	return Policy{Atol: DefaultAtol, Rtol: DefaultRtol}
}

// ExactPolicy returns the zero tolerance policy.
func ExactPolicy() Policy {
	return Policy{ZeroTolerance: true}
}

// Reason categorizes a mismatch.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonShapeMismatch Reason = "shape-mismatch"
	ReasonDTypeMismatch Reason = "dtype-mismatch"
	ReasonNaN           Reason = "nan"
	ReasonValue         Reason = "value-mismatch"
)

// Result is the outcome of one comparison.
type Result struct {
	Match  bool
	Reason Reason

	// Index of the first offending element, -1 when not applicable.
	Index int

	// Mismatches counts offending elements. Zero for shape/dtype failures.
	Mismatches int

	// MaxAbsDiff is the largest |observed - reference| over comparable
	// elements (NaN pairs excluded).
	MaxAbsDiff float64
}

func (r Result) String() string {
	if r.Match {
		return "match"
	}
	switch r.Reason {
	case ReasonShapeMismatch, ReasonDTypeMismatch:
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %d element(s) differ, first at index %d, max abs diff %g",
		r.Reason, r.Mismatches, r.Index, r.MaxAbsDiff)
}

// Tensors compares reference and observed under p.
func Tensors(reference, observed *tensor.Tensor, p Policy) Result {
	ref := reference.Flatten()
	obs := observed.Flatten()
	if !ref.Shape().Equal(obs.Shape()) {
		return Result{Reason: ReasonShapeMismatch, Index: -1}
	}
	if ref.DType() != obs.DType() {
		return Result{Reason: ReasonDTypeMismatch, Index: -1}
	}

	res := Result{Match: true, Index: -1}
	cmp := elementComparator(ref.DType(), p)
	for i := 0; i < ref.Size(); i++ {
		ok, nan, diff := cmp(ref, obs, i)
		if !nan && diff > res.MaxAbsDiff {
			res.MaxAbsDiff = diff
		}
		if ok {
			continue
		}
		res.Mismatches++
		if res.Match {
			res.Match = false
			res.Index = i
			res.Reason = ReasonValue
		}
		if nan {
			res.Reason = ReasonNaN
		}
	}
	return res
}

type elementFn func(ref, obs *tensor.Tensor, i int) (ok, nan bool, absDiff float64)

func elementComparator(dtype tensor.DType, p Policy) elementFn {
	if dtype.IsFloat() {
		// Floats are compared in float32 arithmetic, the precision of the
		// widest supported float type.
		atol, rtol := float32(p.Atol), float32(p.Rtol)
		return func(ref, obs *tensor.Tensor, i int) (bool, bool, float64) {
			r, o := ref.Float32(i), obs.Float32(i)
			if isNaN32(r) || isNaN32(o) {
				return false, true, 0
			}
			if r == o {
				return true, false, 0
			}
			diff := abs32(o - r)
			if p.ZeroTolerance {
				return false, false, float64(diff)
			}
			if math.IsInf(float64(r), 0) || math.IsInf(float64(o), 0) {
				return false, false, math.Inf(1)
			}
			// Explicit conversion prevents fused multiply-add.
			bound := atol + float32(rtol*abs32(r))
			return diff <= bound, false, float64(diff)
		}
	}
	return func(ref, obs *tensor.Tensor, i int) (bool, bool, float64) {
		r, o := ref.Int64(i), obs.Int64(i)
		if r == o {
			return true, false, 0
		}
		diff := math.Abs(float64(o) - float64(r))
		if p.ZeroTolerance {
			return false, false, diff
		}
		bound := p.Atol + p.Rtol*math.Abs(float64(r))
		return diff <= bound, false, diff
	}
}

func isNaN32(f float32) bool { return f != f }

func abs32(f float32) float32 { return float32(math.Abs(float64(f))) }

// WriteFailure dumps both full tensors and the comparison result, the content
// of failedinference.log.
func WriteFailure(w io.Writer, reference, observed *tensor.Tensor, res Result) error {
	_, err := fmt.Fprintf(w, "Comparison: %s\nGold reference:\n%s\nOutput from target hardware:\n%s\n",
		res, reference, observed)
	return err
}
