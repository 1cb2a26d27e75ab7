package connection

// Transport is the byte pipe a Connection runs over (spec.md §6): it sends
// bytes on request and delivers incoming bytes and lifecycle events back
// through the Connection's OnData/OnConnected/OnDisconnected methods.
// TCPTransport in this package is the default implementation; callers may
// supply others (an in-process pipe, a test double).
type Transport interface {
	Send(data []byte) (int, error)
}

// transmitAdapter adapts a Transport to filemanager.TransmitHandler. It is
// only ever driven by the Connection's single Worker goroutine (or, in
// test mode, by sequential Run() calls), so the reused scratch buffer
// needs no locking of its own.
type transmitAdapter struct {
	transport Transport
	scratch   []byte
}

func (t *transmitAdapter) GetSendBuffer(n int) ([]byte, error) {
	if cap(t.scratch) < n {
		t.scratch = make([]byte, n)
	}
	t.scratch = t.scratch[:n]
	return t.scratch, nil
}

func (t *transmitAdapter) Send(offset, length int) (int, error) {
	return t.transport.Send(t.scratch[offset : offset+length])
}
