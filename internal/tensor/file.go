package tensor

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
)

const (
	fileMagic   = "E2ET"
	fileVersion = 1

	// maxRank guards against reading garbage headers as huge dim lists.
	maxRank = 64
)

// WriteTo writes t in the reference file layout, see the package doc.
func (t *Tensor) WriteTo(w io.Writer) (int64, error) {
	data, err := Encode(t)
	if err != nil {
		return 0, err
	}
	header := make([]byte, 8+8*t.shape.Rank())
	copy(header, fileMagic)
	header[4] = fileVersion
	header[5] = uint8(t.dtype)
	ByteOrder.PutUint16(header[6:8], uint16(t.shape.Rank()))
	for i, d := range t.shape {
		ByteOrder.PutUint64(header[8+8*i:], uint64(d))
	}
	n, err := w.Write(header)
	total := int64(n)
	if err != nil {
		return total, errors.Wrapf(err, "failed to write tensor header")
	}
	n, err = w.Write(data)
	total += int64(n)
	if err != nil {
		return total, errors.Wrapf(err, "failed to write tensor data")
	}
	return total, nil
}

// Read parses one tensor in the reference file layout.
func Read(r io.Reader) (*Tensor, error) {
	var fixed [8]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, errors.Wrapf(err, "failed to read tensor header")
	}
	if string(fixed[:4]) != fileMagic {
		return nil, errors.Errorf("bad tensor file magic %q", fixed[:4])
	}
	if fixed[4] != fileVersion {
		return nil, errors.Errorf("unsupported tensor file version %d", fixed[4])
	}
	dtype, err := dtypeFromCode(fixed[5])
	if err != nil {
		return nil, err
	}
	rank := int(ByteOrder.Uint16(fixed[6:8]))
	if rank > maxRank {
		return nil, errors.Errorf("tensor rank %d exceeds %d", rank, maxRank)
	}
	dims := make([]byte, 8*rank)
	if _, err := io.ReadFull(r, dims); err != nil {
		return nil, errors.Wrapf(err, "failed to read tensor dims")
	}
	shape := make(Shape, rank)
	for i := range shape {
		shape[i] = int(ByteOrder.Uint64(dims[8*i:]))
	}
	if err := shape.validate(); err != nil {
		return nil, err
	}
	// Read before allocating the tensor so a header claiming more data than
	// the stream holds fails on the short read.
	need := NumBytes(dtype, shape)
	data, err := io.ReadAll(io.LimitReader(r, int64(need)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s%s tensor data", dtype, shape)
	}
	if len(data) < need {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "%s%s tensor needs %d bytes, got %d", dtype, shape, need, len(data))
	}
	return Decode(data, dtype, shape)
}

// Save writes t to filePath in the reference file layout.
func Save(filePath string, t *Tensor) (err error) {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q to save tensor", filePath)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "close file %q, where tensor was saved", filePath)
		}
	}()
	w := bufio.NewWriter(f)
	if _, err = t.WriteTo(w); err != nil {
		return errors.WithMessagef(err, "saving tensor to %q", filePath)
	}
	if err = w.Flush(); err != nil {
		return errors.Wrapf(err, "saving tensor to %q", filePath)
	}
	return nil
}

// Load reads a tensor saved with Save (or by the driver stub).
func Load(filePath string) (*Tensor, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q to load tensor", filePath)
	}
	defer f.Close()
	t, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, errors.WithMessagef(err, "loading tensor from %q", filePath)
	}
	return t, nil
}
