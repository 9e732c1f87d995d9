package tensor

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// maxElementSize is the byte size of the widest supported element.
const maxElementSize = 8

// ErrShapeOverflow is returned for shapes whose byte size overflows int.
var ErrShapeOverflow = errors.New("tensor shape too large")

// Shape is the ordered list of dimensions of a tensor.
// A nil or empty Shape is a scalar with one element.
type Shape []int

// Size is the number of elements, the product of all dimensions.
func (s Shape) Size() int {
	size := 1
	for _, d := range s {
		size *= d
	}
	return size
}

// Rank is the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// Equal compares dimensions one by one.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not alias s.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// validate rejects negative dimensions and shapes whose encoded size does
// not fit in an int. Size and NumBytes are only meaningful on valid shapes.
func (s Shape) validate() error {
	for axis, d := range s {
		if d < 0 {
			return errors.Errorf("negative dimension %d on axis %d of shape %s", d, axis, s)
		}
	}
	if slices.Contains(s, 0) {
		return nil
	}
	limit := math.MaxInt / maxElementSize
	size := 1
	for _, d := range s {
		if size > limit/d {
			return errors.Wrapf(ErrShapeOverflow, "shape %s", s)
		}
		size *= d
	}
	return nil
}

// Tensor is an immutable n-dimensional array stored flat in row-major order.
type Tensor struct {
	dtype DType
	shape Shape
	flat  any
}

// FromFlat builds a tensor of the given shape from a copy of flat.
func FromFlat[T Element](shape Shape, flat []T) (*Tensor, error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}
	if len(flat) != shape.Size() {
		return nil, errors.Errorf("shape %s needs %d elements, got %d", shape, shape.Size(), len(flat))
	}
	data := make([]T, len(flat))
	copy(data, flat)
	return &Tensor{dtype: DTypeOf[T](), shape: shape.Clone(), flat: data}, nil
}

// FromValues builds a rank-1 tensor from values.
func FromValues[T Element](values ...T) *Tensor {
	data := make([]T, len(values))
	copy(data, values)
	return &Tensor{dtype: DTypeOf[T](), shape: Shape{len(values)}, flat: data}
}

// Zeros returns a zero-filled tensor.
func Zeros(dtype DType, shape Shape) (*Tensor, error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}
	flat, err := makeFlat(dtype, shape.Size())
	if err != nil {
		return nil, err
	}
	return &Tensor{dtype: dtype, shape: shape.Clone(), flat: flat}, nil
}

// DType returns the element datatype.
func (t *Tensor) DType() DType { return t.dtype }

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() Shape { return t.shape.Clone() }

// Size is the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// Flat returns the underlying flat slice, one of the Element slice types.
// It must not be modified.
func (t *Tensor) Flat() any { return t.flat }

// Descriptor returns the shape/dtype pair used to talk to the runtime.
func (t *Tensor) Descriptor() Descriptor {
	return Descriptor{Shape: t.Shape(), DType: t.dtype}
}

// FlatOf returns the flat data of t as []T, failing if T does not match.
func FlatOf[T Element](t *Tensor) ([]T, error) {
	data, ok := t.flat.([]T)
	if !ok {
		return nil, errors.Errorf("tensor has dtype %s, requested %s", t.dtype, DTypeOf[T]())
	}
	return data, nil
}

// Reshape returns a tensor sharing the same storage with a new shape of the
// same size.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}
	if shape.Size() != t.Size() {
		return nil, errors.Errorf("cannot reshape %s (%d elements) to %s (%d elements)",
			t.shape, t.Size(), shape, shape.Size())
	}
	return &Tensor{dtype: t.dtype, shape: shape.Clone(), flat: t.flat}, nil
}

// Flatten returns the rank-1 view of t.
func (t *Tensor) Flatten() *Tensor {
	return &Tensor{dtype: t.dtype, shape: Shape{t.Size()}, flat: t.flat}
}

// Float32 returns element i of a floating point tensor as float32. The
// conversion is exact for all supported float types.
func (t *Tensor) Float32(i int) float32 {
	switch data := t.flat.(type) {
	case []float32:
		return data[i]
	case []float16.Float16:
		return data[i].Float32()
	case []bfloat16.BFloat16:
		return data[i].Float32()
	}
	return float32(t.Float64(i))
}

// Float64 returns element i converted to float64.
func (t *Tensor) Float64(i int) float64 {
	switch data := t.flat.(type) {
	case []int8:
		return float64(data[i])
	case []int16:
		return float64(data[i])
	case []int64:
		return float64(data[i])
	case []float32:
		return float64(data[i])
	case []float16.Float16:
		return float64(data[i].Float32())
	case []bfloat16.BFloat16:
		return float64(data[i].Float32())
	}
	panic(fmt.Sprintf("tensor: unexpected flat type %T", t.flat))
}

// Int64 returns element i of an integer tensor.
func (t *Tensor) Int64(i int) int64 {
	switch data := t.flat.(type) {
	case []int8:
		return int64(data[i])
	case []int16:
		return int64(data[i])
	case []int64:
		return data[i]
	}
	return int64(t.Float64(i))
}

// FormatElement renders element i the way String does.
func (t *Tensor) FormatElement(i int) string {
	if t.dtype.IsFloat() {
		return strconv.FormatFloat(float64(t.Float32(i)), 'g', -1, 32)
	}
	return strconv.FormatInt(t.Int64(i), 10)
}

// String renders the dtype, shape and every element, e.g.
// "float32[3]{1, 2, 3}". Nothing is elided: failure dumps need all values.
func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString(t.dtype.String())
	sb.WriteString(t.shape.String())
	sb.WriteByte('{')
	for i := 0; i < t.Size(); i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.FormatElement(i))
	}
	sb.WriteByte('}')
	return sb.String()
}
