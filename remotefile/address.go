/*
Package remotefile implements the RemoteFile address header and command
codec that underlies APX (spec.md §3, §4.2).

Grounded on protocol/rtmp/packet.go's header-size-variant read/write
pattern, and on original_source/apx/include/c-apx/rmf.h for the exact
command type numbers and payload shapes.
*/
package remotefile

import (
	"github.com/pkg/errors"

	"github.com/cogu/apx-go/bytepack"
)

// Address space constants (spec.md §3).
//
// The 4-byte header's bit 31 is a fixed form marker (always 1, never part
// of the address value); bit 30 is the more-bit; the address itself lives
// entirely in bits 29..0, giving a 30-bit logical address space. spec.md §3
// quotes the command area and the high-address range using their
// already-wire-encoded appearance (0xBFFFFC00, with the form marker baked
// in); CmdAreaAddress below is the corresponding *logical* address that
// EncodeAddress/DecodeAddress operate on, matching
// original_source/apx/include/c-apx/rmf.h's RMF_CMD_START_ADDR (0x3FFFFC00)
// exactly and reproducing the identical on-wire bytes (see address_test.go).
const (
	LowAddressMin  uint32 = 0x00000000
	LowAddressMax  uint32 = 0x3FFFFFFF
	HighAddressMin uint32 = 0x40000000
	HighAddressMax uint32 = 0xBFFFFFFF
	CmdAreaAddress uint32 = 0x3FFFFC00
	InvalidAddress uint32 = 0x7FFFFFFF
)

// shortFormMax is the largest address that fits a 2-byte header.
const shortFormMax uint32 = 0x3FFF

const (
	shortHighBit uint16 = 0x8000
	shortMoreBit uint16 = 0x4000
	shortAddrMsk uint16 = 0x3FFF

	longHighBit uint32 = 0x80000000
	longMoreBit uint32 = 0x40000000
	longAddrMsk uint32 = 0x3FFFFFFF
)

// ErrShortBuffer is returned when the supplied buffer cannot hold the
// encoded or to-be-decoded header.
var ErrShortBuffer = errors.New("remotefile: short buffer")

// HeaderSize returns the number of bytes an address header for addr
// requires: 2 for addr <= 0x3FFF, 4 otherwise.
func HeaderSize(addr uint32) int {
	if addr <= shortFormMax {
		return 2
	}
	return 4
}

// EncodeAddress writes the RemoteFile address header for addr into buf,
// returning the number of bytes written (2 or 4), or 0 if buf is too small.
func EncodeAddress(buf []byte, addr uint32, more bool) int {
	if addr <= shortFormMax {
		if len(buf) < 2 {
			return 0
		}
		word := uint16(addr) & shortAddrMsk
		if more {
			word |= shortMoreBit
		}
		bytepack.PackBE(buf[:2], uint64(word), 2)
		return 2
	}
	if len(buf) < 4 {
		return 0
	}
	word := longHighBit | (addr & longAddrMsk)
	if more {
		word |= longMoreBit
	}
	bytepack.PackBE(buf[:4], uint64(word), 4)
	return 4
}

// DecodeAddress decodes a RemoteFile address header from the start of buf,
// returning the address, the more-bit, and the number of bytes consumed (2
// or 4). It returns consumed == 0 if buf does not hold a complete header.
func DecodeAddress(buf []byte) (addr uint32, more bool, consumed int) {
	if len(buf) == 0 {
		return 0, false, 0
	}
	if buf[0]&0x80 == 0 {
		if len(buf) < 2 {
			return 0, false, 0
		}
		v, _ := bytepack.UnpackBE(buf[:2], 2)
		word := uint16(v)
		return uint32(word & shortAddrMsk), word&shortMoreBit != 0, 2
	}
	if len(buf) < 4 {
		return 0, false, 0
	}
	v, _ := bytepack.UnpackBE(buf[:4], 4)
	word := uint32(v)
	return word & longAddrMsk, word&longMoreBit != 0, 4
}
