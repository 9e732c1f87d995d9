package tensor

import (
	"strconv"
	"strings"
)

// Descriptor is the out-of-band shape and dtype of a raw tensor stream.
type Descriptor struct {
	Shape Shape
	DType DType
}

// RuntimeArg renders d in the runtime's textual form: dimensions joined by
// "x" followed by the element type, e.g. "2x3xf32". A scalar is just "f32".
//
// This is the only place that knows the runtime's shape syntax.
func (d Descriptor) RuntimeArg() string {
	parts := make([]string, 0, d.Shape.Rank()+1)
	for _, dim := range d.Shape {
		parts = append(parts, strconv.Itoa(dim))
	}
	parts = append(parts, d.DType.RuntimeName())
	return strings.Join(parts, "x")
}

func (d Descriptor) String() string {
	return d.DType.String() + d.Shape.String()
}
