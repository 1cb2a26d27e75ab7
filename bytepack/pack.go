// Package bytepack provides bounds-checked little-endian and big-endian
// integer packing primitives used by the rest of the APX stack.
package bytepack

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when a buffer is too small for the requested
// pack or unpack operation.
var ErrShortBuffer = errors.New("bytepack: short buffer")

// PackLE packs the low n bytes of val into buf using little-endian byte
// order, where n is 1, 2, 4 or 8. It returns ErrShortBuffer if buf is
// smaller than n.
func PackLE(buf []byte, val uint64, n int) error {
	if len(buf) < n {
		return ErrShortBuffer
	}
	switch n {
	case 1:
		buf[0] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(val))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(val))
	case 8:
		binary.LittleEndian.PutUint64(buf, val)
	default:
		return packGeneric(buf, val, n, false)
	}
	return nil
}

// PackBE packs the low n bytes of val into buf using big-endian byte
// order, where n is 1, 2, 3, 4 or 8.
func PackBE(buf []byte, val uint64, n int) error {
	if len(buf) < n {
		return ErrShortBuffer
	}
	switch n {
	case 1:
		buf[0] = byte(val)
	case 2:
		binary.BigEndian.PutUint16(buf, uint16(val))
	case 4:
		binary.BigEndian.PutUint32(buf, uint32(val))
	case 8:
		binary.BigEndian.PutUint64(buf, val)
	default:
		return packGeneric(buf, val, n, true)
	}
	return nil
}

// packGeneric handles odd widths (notably 3, used by 24-bit fields).
func packGeneric(buf []byte, val uint64, n int, bigEndian bool) error {
	if len(buf) < n {
		return ErrShortBuffer
	}
	for i := 0; i < n; i++ {
		var shift int
		if bigEndian {
			shift = 8 * (n - 1 - i)
		} else {
			shift = 8 * i
		}
		buf[i] = byte(val >> uint(shift))
	}
	return nil
}

// UnpackLE unpacks n bytes (1, 2, 3, 4 or 8) from buf as a little-endian
// unsigned integer.
func UnpackLE(buf []byte, n int) (uint64, error) {
	if len(buf) < n {
		return 0, ErrShortBuffer
	}
	switch n {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	case 8:
		return binary.LittleEndian.Uint64(buf), nil
	default:
		return unpackGeneric(buf, n, false)
	}
}

// UnpackBE unpacks n bytes (1, 2, 3, 4 or 8) from buf as a big-endian
// unsigned integer.
func UnpackBE(buf []byte, n int) (uint64, error) {
	if len(buf) < n {
		return 0, ErrShortBuffer
	}
	switch n {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(buf)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(buf)), nil
	case 8:
		return binary.BigEndian.Uint64(buf), nil
	default:
		return unpackGeneric(buf, n, true)
	}
}

func unpackGeneric(buf []byte, n int, bigEndian bool) (uint64, error) {
	if len(buf) < n {
		return 0, ErrShortBuffer
	}
	var val uint64
	for i := 0; i < n; i++ {
		var shift int
		if bigEndian {
			shift = 8 * (n - 1 - i)
		} else {
			shift = 8 * i
		}
		val |= uint64(buf[i]) << uint(shift)
	}
	return val, nil
}
