package filemanager

import (
	"github.com/cogu/apx-go/numheader"
	"github.com/cogu/apx-go/remotefile"
)

// Packet is one decoded RemoteFile data or command message, as handed to a
// FileManager by Receiver.TryParseNext (spec.md §4.7).
type Packet struct {
	Address uint32
	More    bool
	Payload []byte

	// Complete is true once Payload (for a single-chunk write) or
	// Reassembled (for the final chunk of a multi-chunk write) holds a
	// whole logical write. It is always true for command messages
	// (Address == remotefile.CmdAreaAddress) and for any chunk with
	// More == false.
	Complete bool

	// Reassembled holds the concatenation of every chunk in a multi-chunk
	// logical write, set only on the completing chunk. StartAddress is
	// that write's first chunk's address. For a single-chunk write,
	// Reassembled is nil and callers should use Payload directly.
	Reassembled  []byte
	StartAddress uint32
}

// pendingWrite tracks a logical write still awaiting its terminating
// more_bit=0 chunk.
type pendingWrite struct {
	start uint32
	next  uint32
	data  []byte
}

// Receiver owns a growable byte buffer fed by Write and parsed one framed
// packet at a time by TryParseNext (spec.md §4.7). It reassembles
// continuation chunks (spec.md §8 "Continuation") while still surfacing
// each chunk's own (address, more, payload) immediately, since the
// destination file's byte range must be updated once per chunk in receipt
// order — reassembly is for callers that want the whole logical write, not
// a substitute for per-chunk application.
type Receiver struct {
	buf     []byte
	pending map[uint32]*pendingWrite // keyed by expected next address
}

// NewReceiver returns an empty Receiver.
func NewReceiver() *Receiver {
	return &Receiver{pending: make(map[uint32]*pendingWrite)}
}

// Write appends data to the receive buffer.
func (r *Receiver) Write(data []byte) {
	r.buf = append(r.buf, data...)
}

// TryParseNext attempts to decode one framed packet from the head of the
// buffer. It returns ok == false if the buffer does not yet hold a
// complete packet; the caller should Write more data and retry.
func (r *Receiver) TryParseNext() (Packet, bool) {
	bodyLen, hdrConsumed, result := numheader.Decode(r.buf)
	if result != numheader.OK {
		return Packet{}, false
	}
	total := hdrConsumed + bodyLen
	if len(r.buf) < total {
		return Packet{}, false
	}
	body := r.buf[hdrConsumed:total]

	addr, more, addrConsumed := remotefile.DecodeAddress(body)
	if addrConsumed == 0 {
		return Packet{}, false
	}
	payload := body[addrConsumed:]

	pkt := r.assemble(addr, more, payload)

	remaining := make([]byte, len(r.buf)-total)
	copy(remaining, r.buf[total:])
	r.buf = remaining

	return pkt, true
}

// assemble applies continuation-chunk bookkeeping to one decoded packet.
func (r *Receiver) assemble(addr uint32, more bool, payload []byte) Packet {
	pkt := Packet{Address: addr, More: more, Payload: payload}

	if addr == remotefile.CmdAreaAddress {
		pkt.Complete = true
		return pkt
	}

	if pw, active := r.pending[addr]; active {
		pw.data = append(pw.data, payload...)
		pw.next = addr + uint32(len(payload))
		delete(r.pending, addr)
		if more {
			r.pending[pw.next] = pw
			return pkt
		}
		pkt.Complete = true
		pkt.StartAddress = pw.start
		pkt.Reassembled = pw.data
		return pkt
	}

	if !more {
		pkt.Complete = true
		return pkt
	}

	next := addr + uint32(len(payload))
	r.pending[next] = &pendingWrite{start: addr, next: next, data: append([]byte(nil), payload...)}
	return pkt
}

// Pending reports how many logical writes are still awaiting their
// terminating chunk. Exposed mainly for tests.
func (r *Receiver) Pending() int {
	return len(r.pending)
}
