package filemanager

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/cogu/apx-go/logging"
	"github.com/cogu/apx-go/numheader"
	"github.com/cogu/apx-go/remotefile"
)

// errShortEncode is returned when a fixed-size scratch buffer passed to a
// remotefile Encode* function turns out too small — a programming error,
// since every command this package builds has a bounded encoded size.
var errShortEncode = errors.New("filemanager: command encode buffer too small")

// TransmitHandler is the connection-supplied sink a Worker dispatches
// framed packets through (spec.md §4.7's transmit handler: get_send_buffer
// then send). GetSendBuffer returns a buffer of exactly n bytes for the
// caller to fill; Send flushes buf[offset:offset+length].
type TransmitHandler interface {
	GetSendBuffer(n int) ([]byte, error)
	Send(offset, length int) (int, error)
}

// AvailabilityReporter is an optional capability a TransmitHandler may also
// implement, reporting how many bytes the underlying transport can accept
// (spec.md §4.7 "optional get_send_avail"). Worker does not query it:
// SEND_COMPLETE_FILE chunking is governed by Message.ChunkSize alone.
type AvailabilityReporter interface {
	GetSendAvail() int
}

// ring is a fixed-capacity circular buffer of messages (spec.md §4.7 "a
// fixed-capacity ring of messages"), deliberately not a growable slice: a
// full ring means the caller is producing faster than the transport can
// drain and the newest message is dropped and logged, not buffered without
// bound.
type ring struct {
	buf        []Message
	head, tail int
	count      int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Message, capacity)}
}

func (r *ring) push(m Message) bool {
	if r.count == len(r.buf) {
		return false
	}
	r.buf[r.tail] = m
	r.tail = (r.tail + 1) % len(r.buf)
	r.count++
	return true
}

func (r *ring) pop() (Message, bool) {
	if r.count == 0 {
		return Message{}, false
	}
	m := r.buf[r.head]
	r.buf[r.head] = Message{}
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return m, true
}

func (r *ring) len() int {
	return r.count
}

// Worker is the per-connection outbound message queue and dispatcher
// (spec.md §4.7): a fixed-capacity ring guarded by a short-critical-section
// lock, a binary semaphore that wakes a background goroutine, and a
// transmit handler each dispatched message is turned into bytes through.
//
// Production code calls Start/Stop and lets the background goroutine drain
// the ring (grounded on protocol/rtcp/client.go's wg/quit/Start/Stop
// lifecycle). Tests instead call Run directly — spec.md §8's "Cooperative
// worker" property requires that each Run call dispatch at most one
// message, decreasing the queue length by exactly one on success, with no
// goroutine involved at all.
type Worker struct {
	mu   sync.Mutex
	ring *ring
	sem  chan struct{}

	transmit TransmitHandler
	log      logging.Func

	started atomic.Bool
	exited  atomic.Bool
	wg      sync.WaitGroup
}

// NewWorker returns a Worker with the given ring capacity, dispatching
// through transmit. log may be nil (treated as logging.Discard).
func NewWorker(capacity int, transmit TransmitHandler, log logging.Func) *Worker {
	if log == nil {
		log = logging.Discard
	}
	return &Worker{
		ring:     newRing(capacity),
		sem:      make(chan struct{}, 1),
		transmit: transmit,
		log:      log,
	}
}

// Enqueue appends msg to the ring and wakes the worker, returning false
// (and logging) if the ring is full.
func (w *Worker) Enqueue(msg Message) bool {
	w.mu.Lock()
	ok := w.ring.push(msg)
	w.mu.Unlock()
	if !ok {
		w.log(logging.WarnLevel, "filemanager: outbound queue full, dropping message", "type", msg.Type)
		return false
	}
	w.post()
	return true
}

func (w *Worker) post() {
	select {
	case w.sem <- struct{}{}:
	default:
	}
}

func (w *Worker) dequeue() (Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ring.pop()
}

// QueueLen returns the number of messages currently queued.
func (w *Worker) QueueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ring.len()
}

// Start launches the background dispatch goroutine. Calling Start more
// than once, or after Stop, is a programming error.
func (w *Worker) Start() {
	w.started.Store(true)
	w.wg.Add(1)
	go w.loop()
}

// Stop enqueues an EXIT message, wakes the worker and waits for it to
// return. A Stop before Start is a no-op (spec.md §5).
func (w *Worker) Stop() {
	if !w.started.Load() {
		return
	}
	w.Enqueue(Message{Type: MsgExit})
	w.wg.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		<-w.sem
		for w.Run() && !w.exited.Load() {
		}
		if w.exited.Load() {
			return
		}
	}
}

// Run dispatches at most one queued message, reporting whether one was
// dispatched. This is the cooperative entry point tests drive directly
// (spec.md §8): each call pops and processes exactly one message, or
// returns false immediately if the queue is empty.
func (w *Worker) Run() bool {
	msg, ok := w.dequeue()
	if !ok {
		return false
	}
	if msg.Type == MsgExit {
		w.exited.Store(true)
		return true
	}
	if err := w.dispatch(msg); err != nil {
		w.log(logging.WarnLevel, "filemanager: send failed", "type", msg.Type, "err", err)
	}
	return true
}

func (w *Worker) dispatch(msg Message) error {
	switch msg.Type {
	case MsgSendAck:
		return w.sendCommand(func(buf []byte) int { return remotefile.EncodeAck(buf) })
	case MsgSendFileInfo:
		pf := remotefile.PublishFile{
			Address:    msg.Addr,
			Size:       msg.Size,
			FileType:   msg.FileType,
			DigestType: msg.DigestType,
			Digest:     msg.Digest,
			Name:       msg.Name,
		}
		return w.sendCommand(func(buf []byte) int { return remotefile.EncodePublishFile(buf, pf) })
	case MsgSendOpen:
		return w.sendCommand(func(buf []byte) int { return remotefile.EncodeAddressCommand(buf, remotefile.CmdOpenFile, msg.Addr) })
	case MsgSendClose:
		return w.sendCommand(func(buf []byte) int { return remotefile.EncodeAddressCommand(buf, remotefile.CmdCloseFile, msg.Addr) })
	case MsgSendError:
		return w.sendCommand(func(buf []byte) int { return remotefile.EncodeErrorCommand(buf, msg.ErrorCode, msg.Addr) })
	case MsgFileWriteDirect:
		return w.sendData(msg.Addr, msg.More, msg.Data)
	case MsgSendCompleteFile:
		return w.sendCompleteFile(msg)
	default:
		return nil
	}
}

// sendCommand frames a command (NumHeader length prefix, CmdAreaAddress
// header, then the command bytes written by encode) and transmits it.
func (w *Worker) sendCommand(encode func(buf []byte) int) error {
	scratch := make([]byte, 512)
	n := encode(scratch)
	if n == 0 {
		return errShortEncode
	}
	return w.sendFramed(remotefile.CmdAreaAddress, false, scratch[:n])
}

// sendData frames a single data chunk at addr and transmits it.
func (w *Worker) sendData(addr uint32, more bool, data []byte) error {
	return w.sendFramed(addr, more, data)
}

// sendCompleteFile reads msg.Size bytes from msg.Source in msg.ChunkSize
// pieces (defaulting to the whole file in one chunk when ChunkSize is 0)
// and sends them as a sequence of data packets, setting the more-bit on
// every chunk but the last (spec.md §4.7 "send the file's entire current
// contents").
func (w *Worker) sendCompleteFile(msg Message) error {
	chunk := msg.ChunkSize
	if chunk <= 0 {
		chunk = int(msg.Size)
	}
	if chunk <= 0 {
		return nil
	}
	buf := make([]byte, chunk)
	var off uint32
	for off < msg.Size {
		want := chunk
		if remaining := int(msg.Size - off); remaining < want {
			want = remaining
		}
		n, err := msg.Source(off, buf[:want])
		if err != nil {
			return err
		}
		more := off+uint32(n) < msg.Size
		if err := w.sendFramed(msg.Addr+off, more, buf[:n]); err != nil {
			return err
		}
		off += uint32(n)
	}
	return nil
}

// sendFramed builds the full wire packet — NumHeader length prefix,
// RemoteFile address header, payload — into a transmit-supplied buffer and
// flushes it.
func (w *Worker) sendFramed(addr uint32, more bool, payload []byte) error {
	hdrSize := remotefile.HeaderSize(addr)
	bodyLen := hdrSize + len(payload)
	total := numheader.EncodedLen(bodyLen) + bodyLen

	buf, err := w.transmit.GetSendBuffer(total)
	if err != nil {
		return err
	}
	off := numheader.Encode(buf, bodyLen)
	off += remotefile.EncodeAddress(buf[off:], addr, more)
	copy(buf[off:], payload)

	_, err = w.transmit.Send(0, total)
	return err
}
