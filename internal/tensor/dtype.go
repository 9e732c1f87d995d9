package tensor

import (
	"strings"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ErrUnsupportedDType is returned whenever a datatype outside the supported
// set is named or encountered.
var ErrUnsupportedDType = errors.New("unsupported datatype")

// DType is the element datatype of a Tensor.
// The numeric values are the codes used in the reference file header.
type DType uint8

const (
	InvalidDType DType = iota
	Int8
	Int16
	Float16
	BFloat16
	Int64
	Float32
)

var dtypeNames = [...]string{
	InvalidDType: "invalid",
	Int8:         "int8",
	Int16:        "int16",
	Float16:      "float16",
	BFloat16:     "bfloat16",
	Int64:        "int64",
	Float32:      "float32",
}

// runtimeNames are the element type suffixes understood by iree-run-module.
var runtimeNames = [...]string{
	Int8:     "i8",
	Int16:    "i16",
	Float16:  "f16",
	BFloat16: "bf16",
	Int64:    "i64",
	Float32:  "f32",
}

// Element is the set of Go types a Tensor can hold.
type Element interface {
	int8 | int16 | int64 | float32 | float16.Float16 | bfloat16.BFloat16
}

// String returns the canonical name, e.g. "float32".
func (d DType) String() string {
	if !d.Valid() {
		return "invalid"
	}
	return dtypeNames[d]
}

// Valid reports whether d is one of the supported datatypes.
func (d DType) Valid() bool {
	return d > InvalidDType && d <= Float32
}

// Size is the number of bytes of one element.
func (d DType) Size() int {
	switch d {
	case Int8:
		return 1
	case Int16, Float16, BFloat16:
		return 2
	case Float32:
		return 4
	case Int64:
		return 8
	}
	return 0
}

// IsFloat reports whether d is a floating point type.
func (d DType) IsFloat() bool {
	return d == Float16 || d == BFloat16 || d == Float32
}

// RuntimeName is the element type suffix used in runtime shape arguments.
func (d DType) RuntimeName() string {
	if !d.Valid() {
		return ""
	}
	return runtimeNames[d]
}

// ParseDType accepts canonical names ("float32"), runtime names ("f32") and
// torch style names ("torch.float32", "float", "half").
func ParseDType(name string) (DType, error) {
	n := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "torch.")
	switch n {
	case "int8", "i8":
		return Int8, nil
	case "int16", "i16", "short":
		return Int16, nil
	case "float16", "f16", "half":
		return Float16, nil
	case "bfloat16", "bf16":
		return BFloat16, nil
	case "int64", "i64", "long":
		return Int64, nil
	case "float32", "f32", "float":
		return Float32, nil
	}
	return InvalidDType, errors.Wrapf(ErrUnsupportedDType, "%q", name)
}

// dtypeFromCode validates a code read from a file header.
func dtypeFromCode(code uint8) (DType, error) {
	d := DType(code)
	if !d.Valid() {
		return InvalidDType, errors.Wrapf(ErrUnsupportedDType, "code %d", code)
	}
	return d, nil
}

// DTypeOf returns the DType for the Go element type T.
func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return Int8
	case int16:
		return Int16
	case float16.Float16:
		return Float16
	case bfloat16.BFloat16:
		return BFloat16
	case int64:
		return Int64
	case float32:
		return Float32
	}
	return InvalidDType
}

// makeFlat allocates a zeroed flat slice of n elements for d.
func makeFlat(d DType, n int) (any, error) {
	switch d {
	case Int8:
		return make([]int8, n), nil
	case Int16:
		return make([]int16, n), nil
	case Float16:
		return make([]float16.Float16, n), nil
	case BFloat16:
		return make([]bfloat16.BFloat16, n), nil
	case Int64:
		return make([]int64, n), nil
	case Float32:
		return make([]float32, n), nil
	}
	return nil, errors.Wrapf(ErrUnsupportedDType, "%s", d)
}
