package remotefile

import (
	"github.com/pkg/errors"

	"github.com/cogu/apx-go/bytepack"
)

// Command type codes, written as a little-endian uint32 immediately after
// the address header when addr == CmdAreaAddress (spec.md §4.2).
//
// Numeric values for ACK/PUBLISH_FILE/REVOKE_FILE/HEARTBEAT/PING/OPEN_FILE/
// CLOSE_FILE/FILE_READ/COMPRESS_INFO and the error codes follow
// original_source/apx/include/c-apx/rmf.h, which spec.md leaves implicit
// beyond naming the commands it actually exercises.
const (
	CmdAck            uint32 = 0
	CmdPublishFile    uint32 = 3 // aka FILE_INFO
	CmdRevokeFile     uint32 = 4
	CmdHeartbeatRqst  uint32 = 5
	CmdHeartbeatRsp   uint32 = 6
	CmdPingRqst       uint32 = 7
	CmdPingRsp        uint32 = 8
	CmdOpenFile       uint32 = 10
	CmdCloseFile      uint32 = 11
	CmdFileRead       uint32 = 12
	CmdCompressInfo   uint32 = 13
	CmdErrInvalid     uint32 = 400 // INVALID_CMD
	CmdErrInvalidWr   uint32 = 401 // INVALID_WRITE
	CmdErrInvalidRead uint32 = 402 // INVALID_READ_HANDLER
)

// File type codes carried in a PUBLISH_FILE payload (spec.md §4.3).
const (
	FileTypeFixed     uint16 = 0
	FileTypeDynamic8  uint16 = 1
	FileTypeDynamic16 uint16 = 2
	FileTypeDynamic32 uint16 = 3
	FileTypeStream    uint16 = 4
)

// Digest type codes carried in a PUBLISH_FILE payload (spec.md §4.3).
const (
	DigestNone   uint16 = 0
	DigestSHA1   uint16 = 1
	DigestSHA256 uint16 = 2
)

const maxDigestLen = 32
const maxNameLen = 255

// publishFileHeaderLen is the size, in bytes, of the fixed-width portion of
// a PUBLISH_FILE payload, before the NUL-terminated name: address(4) +
// size(4) + fileType(2) + digestType(2) + digest(32).
const publishFileHeaderLen = 4 + 4 + 2 + 2 + maxDigestLen

// Outcome describes the result of decoding a command message.
type Outcome int8

const (
	// OutcomeOK means a full, well-formed command was decoded.
	OutcomeOK Outcome = iota
	// OutcomeShort means buf does not yet hold a complete command; the
	// caller should wait for more bytes and retry.
	OutcomeShort
	// OutcomeMalformed means buf holds a complete but invalid command
	// (bad sizes, missing NUL terminator, unknown code in a context that
	// requires validation).
	OutcomeMalformed
)

// ErrMalformedCommand wraps the cause of an OutcomeMalformed decode.
var ErrMalformedCommand = errors.New("remotefile: malformed command")

// PublishFile is the decoded payload of a PUBLISH_FILE / FILE_INFO command.
type PublishFile struct {
	Address    uint32
	Size       uint32
	FileType   uint16
	DigestType uint16
	Digest     [maxDigestLen]byte
	Name       string
}

// EncodePublishFile writes the command code and payload of a PUBLISH_FILE
// command to buf (the address header is not included), returning the number
// of bytes written, or 0 if buf is too small or name is too long.
func EncodePublishFile(buf []byte, p PublishFile) int {
	if len(p.Name) > maxNameLen {
		return 0
	}
	total := 4 + publishFileHeaderLen + len(p.Name) + 1
	if len(buf) < total {
		return 0
	}
	bytepack.PackLE(buf[0:4], uint64(CmdPublishFile), 4)
	off := 4
	bytepack.PackLE(buf[off:off+4], uint64(p.Address), 4)
	off += 4
	bytepack.PackLE(buf[off:off+4], uint64(p.Size), 4)
	off += 4
	bytepack.PackLE(buf[off:off+2], uint64(p.FileType), 2)
	off += 2
	bytepack.PackLE(buf[off:off+2], uint64(p.DigestType), 2)
	off += 2
	copy(buf[off:off+maxDigestLen], p.Digest[:])
	off += maxDigestLen
	copy(buf[off:off+len(p.Name)], p.Name)
	off += len(p.Name)
	buf[off] = 0
	off++
	return off
}

// DecodePublishFile decodes a PUBLISH_FILE payload (the bytes following the
// 4-byte command code) from buf.
func DecodePublishFile(buf []byte) (p PublishFile, consumed int, outcome Outcome) {
	if len(buf) < publishFileHeaderLen {
		return PublishFile{}, 0, OutcomeShort
	}
	addr, _ := bytepack.UnpackLE(buf[0:4], 4)
	size, _ := bytepack.UnpackLE(buf[4:8], 4)
	fileType, _ := bytepack.UnpackLE(buf[8:10], 2)
	digestType, _ := bytepack.UnpackLE(buf[10:12], 2)
	p.Address = uint32(addr)
	p.Size = uint32(size)
	p.FileType = uint16(fileType)
	p.DigestType = uint16(digestType)
	copy(p.Digest[:], buf[12:12+maxDigestLen])

	nameBuf := buf[publishFileHeaderLen:]
	nul := -1
	limit := maxNameLen + 1
	if len(nameBuf) < limit {
		limit = len(nameBuf)
	}
	for i := 0; i < limit; i++ {
		if nameBuf[i] == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		if len(nameBuf) < maxNameLen+1 {
			return PublishFile{}, 0, OutcomeShort
		}
		return PublishFile{}, 0, OutcomeMalformed
	}
	p.Name = string(nameBuf[:nul])
	return p, publishFileHeaderLen + nul + 1, OutcomeOK
}

// AddressCommand is the decoded payload shared by REVOKE_FILE, OPEN_FILE and
// CLOSE_FILE, each of which carries a single 4-byte address argument.
type AddressCommand struct {
	Address uint32
}

const addressCommandLen = 4

// EncodeAddressCommand writes cmd followed by its 4-byte address argument
// to buf, returning the number of bytes written, or 0 if buf is too small.
func EncodeAddressCommand(buf []byte, cmd uint32, addr uint32) int {
	if len(buf) < 4+addressCommandLen {
		return 0
	}
	bytepack.PackLE(buf[0:4], uint64(cmd), 4)
	bytepack.PackLE(buf[4:8], uint64(addr), 4)
	return 8
}

// DecodeAddressCommand decodes the 4-byte address argument (the bytes
// following the command code) shared by REVOKE_FILE, OPEN_FILE and
// CLOSE_FILE.
func DecodeAddressCommand(buf []byte) (cmd AddressCommand, consumed int, outcome Outcome) {
	if len(buf) < addressCommandLen {
		return AddressCommand{}, 0, OutcomeShort
	}
	addr, _ := bytepack.UnpackLE(buf[:4], 4)
	return AddressCommand{Address: uint32(addr)}, addressCommandLen, OutcomeOK
}

// ErrorCommand is the decoded payload of an error command (code >= 400):
// INVALID_CMD, INVALID_WRITE or INVALID_READ_HANDLER, each reporting the
// address that triggered the failure.
type ErrorCommand struct {
	Code    uint32
	Address uint32
}

// IsErrorCommand reports whether cmd is one of the >=400 error codes.
func IsErrorCommand(cmd uint32) bool {
	return cmd >= CmdErrInvalid
}

// EncodeErrorCommand writes an error command (code and triggering address)
// to buf.
func EncodeErrorCommand(buf []byte, code uint32, addr uint32) int {
	return EncodeAddressCommand(buf, code, addr)
}

// DecodeErrorCommand decodes the 4-byte address argument of an error
// command (the bytes following the command code).
func DecodeErrorCommand(code uint32, buf []byte) (ErrorCommand, int, Outcome) {
	ac, consumed, outcome := DecodeAddressCommand(buf)
	return ErrorCommand{Code: code, Address: ac.Address}, consumed, outcome
}

// EncodeAck writes a bare ACK command (code only, no payload) to buf.
func EncodeAck(buf []byte) int {
	if len(buf) < 4 {
		return 0
	}
	bytepack.PackLE(buf[0:4], uint64(CmdAck), 4)
	return 4
}

// EncodeHeartbeat writes a bare HEARTBEAT_RQST or HEARTBEAT_RSP command
// (code only, no payload) to buf.
func EncodeHeartbeat(buf []byte, rsp bool) int {
	cmd := CmdHeartbeatRqst
	if rsp {
		cmd = CmdHeartbeatRsp
	}
	if len(buf) < 4 {
		return 0
	}
	bytepack.PackLE(buf[0:4], uint64(cmd), 4)
	return 4
}

// EncodePing writes a bare PING_RQST or PING_RSP command (code only, no
// payload) to buf.
func EncodePing(buf []byte, rsp bool) int {
	cmd := CmdPingRqst
	if rsp {
		cmd = CmdPingRsp
	}
	if len(buf) < 4 {
		return 0
	}
	bytepack.PackLE(buf[0:4], uint64(cmd), 4)
	return 4
}

// DecodeCommandType reads the 4-byte little-endian command code at the
// start of buf, returning the code and the number of bytes consumed.
func DecodeCommandType(buf []byte) (cmd uint32, consumed int, outcome Outcome) {
	if len(buf) < 4 {
		return 0, 0, OutcomeShort
	}
	v, _ := bytepack.UnpackLE(buf[:4], 4)
	return uint32(v), 4, OutcomeOK
}
