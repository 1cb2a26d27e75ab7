// Package numheader implements the NumHeader variable-length length-prefix
// framing used to delimit packets on the wire (spec.md §4.1).
//
// Grounded on original_source/apx/src/numheader.c's 32-bit short/long form
// split, re-expressed with explicit bounds checking in the style of
// protocol/rtmp/amf.
package numheader

import "github.com/cogu/apx-go/bytepack"

// Maximum length encodable. The long form reserves its high bit as the
// "long" marker, leaving 31 bits for the value.
const MaxLength = 0x7FFFFFFF

// ShortFormMax is the largest length that fits in the 1-byte short form.
const ShortFormMax = 0x7F

// Result describes the outcome of a decode attempt.
type Result int8

const (
	// OK means a complete header was decoded.
	OK Result = iota
	// Incomplete means there were not enough bytes available yet to
	// determine the header; the caller should wait for more data.
	Incomplete
)

// Encode writes the NumHeader encoding of length into buf, returning the
// number of bytes written. It returns 0 if length is out of range or buf is
// too small for the required form.
func Encode(buf []byte, length int) int {
	if length < 0 || length > MaxLength {
		return 0
	}
	if length <= ShortFormMax {
		if len(buf) < 1 {
			return 0
		}
		buf[0] = byte(length)
		return 1
	}
	if len(buf) < 4 {
		return 0
	}
	if err := bytepack.PackBE(buf[:4], uint64(length)|0x80000000, 4); err != nil {
		return 0
	}
	return 4
}

// EncodedLen returns the number of bytes Encode would use for length,
// without writing anything.
func EncodedLen(length int) int {
	if length < 0 || length > MaxLength {
		return 0
	}
	if length <= ShortFormMax {
		return 1
	}
	return 4
}

// Decode parses a NumHeader prefix from buf. It returns the decoded length,
// the number of bytes consumed, and a Result indicating whether decoding
// succeeded or requires more data. A buf with fewer than 4 bytes, whose
// first byte has its high bit set, is Incomplete.
func Decode(buf []byte) (length int, consumed int, result Result) {
	if len(buf) == 0 {
		return 0, 0, Incomplete
	}
	if buf[0]&0x80 == 0 {
		return int(buf[0]), 1, OK
	}
	if len(buf) < 4 {
		return 0, 0, Incomplete
	}
	v, err := bytepack.UnpackBE(buf[:4], 4)
	if err != nil {
		return 0, 0, Incomplete
	}
	return int(v & 0x7FFFFFFF), 4, OK
}
