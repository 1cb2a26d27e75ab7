package remotefile

import (
	"bytes"
	"testing"

	"github.com/cogu/apx-go/numheader"
)

func TestPublishFileRoundTrip(t *testing.T) {
	var digest [32]byte
	digest[0] = 0xAA
	p := PublishFile{
		Address:    0x100,
		Size:       64,
		FileType:   FileTypeFixed,
		DigestType: DigestSHA256,
		Digest:     digest,
		Name:       "TestNode.Output",
	}
	buf := make([]byte, 512)
	n := EncodePublishFile(buf, p)
	if n == 0 {
		t.Fatal("EncodePublishFile failed")
	}
	cmd, consumed, outcome := DecodeCommandType(buf[:n])
	if outcome != OutcomeOK || cmd != CmdPublishFile {
		t.Fatalf("unexpected command type: %v %v", cmd, outcome)
	}
	got, payloadLen, outcome := DecodePublishFile(buf[consumed:n])
	if outcome != OutcomeOK {
		t.Fatalf("DecodePublishFile: %v", outcome)
	}
	if got.Address != p.Address || got.Size != p.Size || got.FileType != p.FileType ||
		got.DigestType != p.DigestType || got.Name != p.Name || got.Digest != p.Digest {
		t.Errorf("got %+v, want %+v", got, p)
	}
	if consumed+payloadLen != n {
		t.Errorf("consumed mismatch: %d+%d != %d", consumed, payloadLen, n)
	}
}

func TestPublishFileNameTooLong(t *testing.T) {
	name := bytes.Repeat([]byte{'a'}, maxNameLen+1)
	buf := make([]byte, 1024)
	n := EncodePublishFile(buf, PublishFile{Name: string(name)})
	if n != 0 {
		t.Errorf("expected encode to reject oversized name, got n=%d", n)
	}
}

func TestPublishFileMissingTerminator(t *testing.T) {
	buf := make([]byte, publishFileHeaderLen+3)
	buf[publishFileHeaderLen] = 'a'
	buf[publishFileHeaderLen+1] = 'b'
	buf[publishFileHeaderLen+2] = 'c'
	_, _, outcome := DecodePublishFile(buf)
	if outcome != OutcomeShort {
		t.Errorf("truncated name with no NUL yet should be OutcomeShort, got %v", outcome)
	}
}

func TestAddressCommandRoundTrip(t *testing.T) {
	for _, cmd := range []uint32{CmdRevokeFile, CmdOpenFile, CmdCloseFile} {
		buf := make([]byte, 16)
		n := EncodeAddressCommand(buf, cmd, 0x200)
		got, consumed, outcome := DecodeCommandType(buf[:n])
		if outcome != OutcomeOK || got != cmd {
			t.Fatalf("cmd %d: bad command type decode", cmd)
		}
		ac, payloadLen, outcome := DecodeAddressCommand(buf[consumed:n])
		if outcome != OutcomeOK || ac.Address != 0x200 || consumed+payloadLen != n {
			t.Errorf("cmd %d: got %+v %d %v", cmd, ac, payloadLen, outcome)
		}
	}
}

func TestErrorCommand(t *testing.T) {
	if !IsErrorCommand(CmdErrInvalidWr) {
		t.Error("INVALID_WRITE should be an error command")
	}
	if IsErrorCommand(CmdOpenFile) {
		t.Error("OPEN_FILE should not be an error command")
	}
	buf := make([]byte, 16)
	n := EncodeErrorCommand(buf, CmdErrInvalidWr, 0x300)
	cmd, consumed, _ := DecodeCommandType(buf[:n])
	ec, _, outcome := DecodeErrorCommand(cmd, buf[consumed:n])
	if outcome != OutcomeOK || ec.Code != CmdErrInvalidWr || ec.Address != 0x300 {
		t.Errorf("got %+v %v", ec, outcome)
	}
}

// TestAckFramedPacket pins the greeting-ACK scenario from spec.md: the
// server's ACK is a 9-byte packet (numheader + 4-byte command-area address
// header + 4-byte zero command code).
func TestAckFramedPacket(t *testing.T) {
	addrBuf := make([]byte, 4)
	addrLen := EncodeAddress(addrBuf, CmdAreaAddress, false)
	ackBuf := make([]byte, 4)
	ackLen := EncodeAck(ackBuf)

	body := append(addrBuf[:addrLen], ackBuf[:ackLen]...)
	framed := make([]byte, 4+len(body))
	hdrLen := numheader.Encode(framed, len(body))
	copy(framed[hdrLen:], body)
	framed = framed[:hdrLen+len(body)]

	if len(framed) != 9 {
		t.Fatalf("expected 9-byte packet, got %d", len(framed))
	}
	want := []byte{0x08, 0xBF, 0xFF, 0xFC, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(framed, want) {
		t.Fatalf("got % X, want % X", framed, want)
	}
}

// TestRequirePortWriteFramedPacket pins spec.md's require-port write
// scenario: a plain (non-command) data write of 2 payload bytes to address
// 0x0000 produces a 5-byte packet with a 2-byte address header.
func TestRequirePortWriteFramedPacket(t *testing.T) {
	payload := []byte{0x03, 0x07}
	addrBuf := make([]byte, 2)
	addrLen := EncodeAddress(addrBuf, 0, false)
	body := append(addrBuf[:addrLen], payload...)
	framed := make([]byte, 4+len(body))
	hdrLen := numheader.Encode(framed, len(body))
	copy(framed[hdrLen:], body)
	framed = framed[:hdrLen+len(body)]

	want := []byte{0x04, 0x00, 0x00, 0x03, 0x07}
	if !bytes.Equal(framed, want) {
		t.Fatalf("got % X, want % X", framed, want)
	}
}

// TestPublishFileFramedPacket pins the full framed wire layout — NumHeader
// length prefix, command-area address header, and little-endian command
// code — against spec.md's worked example: publishing provide-port file
// "TestNode1.out" of size 2 produces a 67-byte packet beginning
// 0x42 0xBF 0xFF 0xFC 0x00 0x03 0x00 0x00 0x00.
func TestPublishFileFramedPacket(t *testing.T) {
	var digest [32]byte
	p := PublishFile{
		Address:    0,
		Size:       2,
		FileType:   FileTypeFixed,
		DigestType: DigestNone,
		Digest:     digest,
		Name:       "TestNode1.out",
	}
	cmdBuf := make([]byte, 512)
	n := EncodePublishFile(cmdBuf, p)

	addrBuf := make([]byte, 4)
	addrLen := EncodeAddress(addrBuf, CmdAreaAddress, false)

	body := append(addrBuf[:addrLen], cmdBuf[:n]...)
	framed := make([]byte, 4+len(body))
	hdrLen := numheader.Encode(framed, len(body))
	copy(framed[hdrLen:], body)
	framed = framed[:hdrLen+len(body)]

	if len(framed) != 67 {
		t.Fatalf("expected 67-byte packet, got %d", len(framed))
	}
	want := []byte{0x42, 0xBF, 0xFF, 0xFC, 0x00, 0x03, 0x00, 0x00, 0x00}
	for i := range want {
		if framed[i] != want[i] {
			t.Fatalf("got % X..., want % X...", framed[:len(want)], want)
		}
	}
}
