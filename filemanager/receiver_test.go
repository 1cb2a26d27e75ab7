package filemanager

import (
	"bytes"
	"testing"

	"github.com/cogu/apx-go/numheader"
	"github.com/cogu/apx-go/remotefile"
)

// framePacket builds a NumHeader-framed (address-header + payload) packet,
// mirroring what Worker.sendFramed produces on the wire.
func framePacket(addr uint32, more bool, payload []byte) []byte {
	hdrSize := remotefile.HeaderSize(addr)
	body := make([]byte, hdrSize+len(payload))
	remotefile.EncodeAddress(body, addr, more)
	copy(body[hdrSize:], payload)

	out := make([]byte, numheader.EncodedLen(len(body))+len(body))
	n := numheader.Encode(out, len(body))
	copy(out[n:], body)
	return out
}

func TestReceiverSinglePacket(t *testing.T) {
	r := NewReceiver()
	r.Write(framePacket(0x10, false, []byte{1, 2, 3}))

	pkt, ok := r.TryParseNext()
	if !ok {
		t.Fatal("TryParseNext() = false, want true")
	}
	if pkt.Address != 0x10 || !bytes.Equal(pkt.Payload, []byte{1, 2, 3}) {
		t.Errorf("pkt = %+v", pkt)
	}
	if !pkt.Complete {
		t.Error("single chunk should be Complete")
	}
	if _, ok := r.TryParseNext(); ok {
		t.Error("buffer should be exhausted")
	}
}

func TestReceiverWaitsForMoreData(t *testing.T) {
	r := NewReceiver()
	full := framePacket(0x20, false, []byte{9, 9})
	r.Write(full[:len(full)-1])
	if _, ok := r.TryParseNext(); ok {
		t.Fatal("TryParseNext should report incomplete with a truncated buffer")
	}
	r.Write(full[len(full)-1:])
	if _, ok := r.TryParseNext(); !ok {
		t.Fatal("TryParseNext should succeed once the rest arrives")
	}
}

func TestReceiverContinuationReassembly(t *testing.T) {
	r := NewReceiver()
	chunk1 := []byte{1, 2, 3}
	chunk2 := []byte{4, 5}
	chunk3 := []byte{6}

	r.Write(framePacket(0x1000, true, chunk1))
	r.Write(framePacket(0x1000+uint32(len(chunk1)), true, chunk2))
	r.Write(framePacket(0x1000+uint32(len(chunk1)+len(chunk2)), false, chunk3))

	pkt1, ok := r.TryParseNext()
	if !ok || pkt1.Complete {
		t.Fatalf("first chunk: ok=%v complete=%v, want ok=true complete=false", ok, pkt1.Complete)
	}
	if r.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", r.Pending())
	}

	pkt2, ok := r.TryParseNext()
	if !ok || pkt2.Complete {
		t.Fatalf("second chunk: ok=%v complete=%v, want ok=true complete=false", ok, pkt2.Complete)
	}

	pkt3, ok := r.TryParseNext()
	if !ok || !pkt3.Complete {
		t.Fatalf("final chunk: ok=%v complete=%v, want ok=true complete=true", ok, pkt3.Complete)
	}
	if pkt3.StartAddress != 0x1000 {
		t.Errorf("StartAddress = %#x, want 0x1000", pkt3.StartAddress)
	}
	want := append(append(append([]byte{}, chunk1...), chunk2...), chunk3...)
	if !bytes.Equal(pkt3.Reassembled, want) {
		t.Errorf("Reassembled = %v, want %v", pkt3.Reassembled, want)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending() after completion = %d, want 0", r.Pending())
	}
}

func TestReceiverCommandPacketAlwaysComplete(t *testing.T) {
	r := NewReceiver()
	ackBuf := make([]byte, 4)
	remotefile.EncodeAck(ackBuf)
	r.Write(framePacket(remotefile.CmdAreaAddress, false, ackBuf))

	pkt, ok := r.TryParseNext()
	if !ok || !pkt.Complete {
		t.Fatalf("command packet: ok=%v complete=%v, want true,true", ok, pkt.Complete)
	}
	if pkt.Address != remotefile.CmdAreaAddress {
		t.Errorf("Address = %#x, want CmdAreaAddress", pkt.Address)
	}
}
