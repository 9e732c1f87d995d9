// Package tensor holds the flat numeric tensors exchanged with the model
// driver and the hardware runtime.
//
// A Tensor is an immutable flat slice plus a Shape and a DType. The only
// transformations are Reshape/Flatten, which share storage, and the byte
// codecs:
//
//   - Encode/Decode: raw little-endian element bytes with no header. This is
//     the format the runtime reads with --input=...=@file and writes with
//     --output=@file. Shape and dtype travel out of band, see Descriptor.
//   - Save/Load: the reference tensor file written by the driver stub
//     (".tensor"), a short header followed by the same raw bytes.
//
// Supported element types are int8, int16, float16, bfloat16, int64 and
// float32. float16 values use github.com/x448/float16 and bfloat16 values use
// github.com/gomlx/gopjrt/dtypes/bfloat16. Any other type name is rejected
// with ErrUnsupportedDType.
//
// # Reference File Layout
//
//	offset  size       field
//	0       4          magic "E2ET"
//	4       1          version (1)
//	5       1          dtype code (see DType)
//	6       2          rank, uint16 little-endian
//	8       8*rank     dims, uint64 little-endian
//	...     size*elem  raw elements, little-endian
package tensor
