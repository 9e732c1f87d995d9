package tensor

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// ByteOrder of every raw tensor stream.
var ByteOrder = binary.LittleEndian

// ErrShortBuffer is returned by Decode when the data holds fewer bytes than
// the shape and dtype require.
var ErrShortBuffer = errors.New("not enough bytes for tensor")

// NumBytes is the raw encoded size of a tensor with the given dtype/shape.
func NumBytes(dtype DType, shape Shape) int {
	return dtype.Size() * shape.Size()
}

// Encode serializes the elements of t, in row-major order, with no header.
// An empty tensor encodes to an empty (non-nil) buffer.
func Encode(t *Tensor) ([]byte, error) {
	if !t.dtype.Valid() {
		return nil, errors.Wrapf(ErrUnsupportedDType, "encoding %s", t.dtype)
	}
	buf := bytes.NewBuffer(make([]byte, 0, NumBytes(t.dtype, t.shape)))
	if err := binary.Write(buf, ByteOrder, t.flat); err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s tensor", t.dtype)
	}
	return buf.Bytes(), nil
}

// Decode reinterprets raw bytes as a tensor of the given dtype and shape.
// Only the first NumBytes(dtype, shape) bytes are used; trailing bytes are
// ignored. Fewer bytes than that is ErrShortBuffer.
func Decode(data []byte, dtype DType, shape Shape) (*Tensor, error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}
	t, err := Zeros(dtype, shape)
	if err != nil {
		return nil, err
	}
	need := NumBytes(dtype, shape)
	if len(data) < need {
		return nil, errors.Wrapf(ErrShortBuffer, "%s%s needs %d bytes, got %d", dtype, shape, need, len(data))
	}
	if err := binary.Read(bytes.NewReader(data[:need]), ByteOrder, t.flat); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s%s", dtype, shape)
	}
	return t, nil
}

// WriteRaw writes Encode(t) to path.
func WriteRaw(path string, t *Tensor) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing raw tensor to %q", path)
	}
	return nil
}

// ReadRaw reads path and decodes it with the given dtype/shape.
func ReadRaw(path string, dtype DType, shape Shape) (*Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading raw tensor from %q", path)
	}
	return Decode(data, dtype, shape)
}
