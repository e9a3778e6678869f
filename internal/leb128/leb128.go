// Package leb128 implements the LEB128 variable-length integer encodings
// used throughout the WebAssembly binary format: unsigned (uN), signed
// (sN), with checked readers for the decoder and unchecked fast-path
// readers for already-validated code.
package leb128

import (
	"errors"
	"fmt"
	"io"
)

// ErrOverflow is returned when an encoding uses more bytes than the
// target bit width allows (canonical-range enforcement), mirroring the
// "malformed" class of errors from the binary format specification.
var ErrOverflow = errors.New("leb128: integer too large")

// maxBytes returns the maximum number of LEB128 bytes a value of bitWidth
// bits can occupy: ceil(bitWidth/7).
func maxBytes(bitWidth int) int {
	return (bitWidth + 6) / 7
}

// DecodeUint32 reads an unsigned LEB128-encoded value constrained to 32
// bits. It rejects encodings using more than ceil(32/7)=5 bytes and
// rejects non-canonical high bits in the final byte.
func DecodeUint32(r io.ByteReader) (uint32, uint64, error) {
	v, n, err := decodeUint(r, 32)
	return uint32(v), n, err
}

// DecodeUint64 reads an unsigned LEB128-encoded value constrained to 64 bits.
func DecodeUint64(r io.ByteReader) (uint64, uint64, error) {
	return decodeUint(r, 64)
}

func decodeUint(r io.ByteReader, bitWidth int) (v uint64, bytesRead uint64, err error) {
	max := maxBytes(bitWidth)
	var shift uint
	for i := 0; ; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, bytesRead, err
		}
		bytesRead++
		if i == max-1 {
			// The last permissible byte: any bit above bitWidth must be zero,
			// else the value overflows its target width.
			hi := b &^ (0x7f >> uint(max*7-bitWidth))
			if hi != 0 {
				return 0, bytesRead, fmt.Errorf("%w: more than %d bytes", ErrOverflow, max)
			}
		} else if i >= max {
			return 0, bytesRead, fmt.Errorf("%w: more than %d bytes", ErrOverflow, max)
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, bytesRead, nil
		}
		shift += 7
	}
}

// DecodeInt32 reads a signed LEB128-encoded value constrained to 32 bits.
func DecodeInt32(r io.ByteReader) (int32, uint64, error) {
	v, n, err := decodeInt(r, 32)
	return int32(v), n, err
}

// DecodeInt64 reads a signed LEB128-encoded value constrained to 64 bits.
func DecodeInt64(r io.ByteReader) (int64, uint64, error) {
	return decodeInt(r, 64)
}

// DecodeInt33AsInt64 reads the 33-bit signed immediate used by the
// block-type encoding (a signed LEB128 whose value range is that of a
// 33-bit two's complement integer, per the multi-value proposal).
func DecodeInt33AsInt64(r io.ByteReader) (int64, uint64, error) {
	return decodeInt(r, 33)
}

func decodeInt(r io.ByteReader, bitWidth int) (v int64, bytesRead uint64, err error) {
	max := maxBytes(bitWidth)
	var shift uint
	var b byte
	for i := 0; ; i++ {
		b, err = r.ReadByte()
		if err != nil {
			return 0, bytesRead, err
		}
		bytesRead++
		if i >= max {
			return 0, bytesRead, fmt.Errorf("%w: more than %d bytes", ErrOverflow, max)
		}
		if i == max-1 {
			// The last permissible byte must end the encoding, and its bits
			// above bitWidth must all repeat the value's sign bit.
			used := uint(bitWidth - 7*(max-1))
			ext := byte(0x7f) &^ (byte(1)<<(used-1) - 1)
			if b&0x80 != 0 || (b&ext != 0 && b&ext != ext) {
				return 0, bytesRead, fmt.Errorf("%w: more than %d bytes", ErrOverflow, max)
			}
		}
		v |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	// Sign-extend if the sign bit of the last read group is set and there
	// are remaining high bits in the target width.
	if shift < 64 && (b&0x40) != 0 {
		v |= -1 << shift
	}
	return v, bytesRead, nil
}

// DecodeUint32NoCheck is the fast path used by the execution engine once
// a function body has already been validated: it trusts the encoding is
// canonical and skips range enforcement, mirroring the decoder's
// "nocheck" readers.
func DecodeUint32NoCheck(b []byte) (v uint32, n int) {
	var shift uint
	for {
		c := b[n]
		v |= uint32(c&0x7f) << shift
		n++
		if c&0x80 == 0 {
			return v, n
		}
		shift += 7
	}
}

// DecodeInt64NoCheck is the unchecked fast-path signed 64-bit reader.
func DecodeInt64NoCheck(b []byte) (v int64, n int) {
	var shift uint
	var c byte
	for {
		c = b[n]
		v |= int64(c&0x7f) << shift
		n++
		shift += 7
		if c&0x80 == 0 {
			break
		}
	}
	if shift < 64 && c&0x40 != 0 {
		v |= -1 << shift
	}
	return v, n
}

// DecodeInt32NoCheck is the unchecked fast-path signed reader.
func DecodeInt32NoCheck(b []byte) (v int32, n int) {
	var shift uint
	var c byte
	for {
		c = b[n]
		v |= int32(c&0x7f) << shift
		n++
		shift += 7
		if c&0x80 == 0 {
			break
		}
	}
	if shift < 32 && c&0x40 != 0 {
		v |= -1 << shift
	}
	return v, n
}
