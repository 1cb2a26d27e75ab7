package node

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/cogu/apx-go/apxerr"
	"github.com/cogu/apx-go/apxvm"
)

// buffer is one of the three area-scoped byte buffers: payload plus a
// parallel one-byte-per-byte dirty flag array, guarded by its own lock
// (spec.md §5: "the definition, provide, and require areas are
// independently lockable").
type buffer struct {
	mu    sync.Mutex
	data  []byte
	dirty []byte
}

func newBuffer(size uint32) buffer {
	return buffer{data: make([]byte, size), dirty: make([]byte, size)}
}

func (b *buffer) write(offset uint32, src []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	end := uint64(offset) + uint64(len(src))
	if end > uint64(len(b.data)) {
		return apxerr.New(apxerr.BufferBoundary, fmt.Sprintf("write [%d,%d) exceeds buffer of size %d", offset, end, len(b.data)))
	}
	copy(b.data[offset:], src)
	for i := range src {
		b.dirty[int(offset)+i] = 1
	}
	return nil
}

func (b *buffer) read(offset uint32, dest []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	end := uint64(offset) + uint64(len(dest))
	if end > uint64(len(b.data)) {
		return 0, apxerr.New(apxerr.BufferBoundary, fmt.Sprintf("read [%d,%d) exceeds buffer of size %d", offset, end, len(b.data)))
	}
	return copy(dest, b.data[offset:end]), nil
}

// Instance is a live, stateful node: its three buffers, their per-area
// lifecycle state, and — once AttachNode has supplied the port table — the
// ability to pack and unpack individual port values.
//
// An Instance can exist before its Node is known: the connection layer
// allocates the definition buffer first (sized from the announced
// PUBLISH_FILE), writes the incoming bytes, and only calls AttachNode once
// the definition has been parsed, at which point the provide and require
// buffers are sized and allocated.
type Instance struct {
	node *Node

	areas [numAreas]buffer

	stateMu sync.Mutex
	state   [numAreas]State

	digestMu  sync.Mutex
	digest    [32]byte
	digestSet bool
}

// NewInstance returns an Instance with all three buffers allocated
// immediately from n, suitable for a locally-defined node whose signature
// is known up front.
func NewInstance(n *Node) *Instance {
	inst := &Instance{node: n}
	inst.areas[AreaDefinition] = newBuffer(uint32(len(n.DefinitionText)))
	inst.areas[AreaProvide] = newBuffer(n.ProvideSize)
	inst.areas[AreaRequire] = newBuffer(n.RequireSize)
	copy(inst.areas[AreaDefinition].data, n.DefinitionText)
	for i := range inst.areas[AreaDefinition].dirty {
		inst.areas[AreaDefinition].dirty[i] = 1
	}
	inst.applyInitValues()
	return inst
}

// applyInitValues packs each port's declared `:=v` initial value directly
// into its buffer slot, stamping dirty flags but leaving the area's
// lifecycle state untouched: these are construction-time defaults, not a
// peer write, so they must not advance the area to CONNECTED (spec.md §3:
// a freshly-built instance's areas start out, and remain, disconnected
// until the handshake actually delivers data).
func (inst *Instance) applyInitValues() {
	for i, p := range inst.node.ProvidePorts {
		if p.Element.HasInit {
			inst.seedPortValue(AreaProvide, inst.node.ProvidePorts, i, p.InitValue)
		}
	}
	for i, p := range inst.node.RequirePorts {
		if p.Element.HasInit {
			inst.seedPortValue(AreaRequire, inst.node.RequirePorts, i, p.InitValue)
		}
	}
}

// seedPortValue packs v into port idx's buffer slot without touching the
// area's lifecycle state, used only for applying §6 `:=v` initial values at
// construction time.
func (inst *Instance) seedPortValue(area Area, ports []*Port, idx int, v apxvm.Value) error {
	p := ports[idx]
	buf := make([]byte, p.Size)
	n, err := apxvm.Pack(p.PackProgram, v, buf)
	if err != nil {
		return err
	}
	return inst.areas[area].write(p.Offset, buf[:n])
}

// NewPendingInstance returns an Instance with only its definition buffer
// allocated, sized defSize (the size announced by the peer's PUBLISH_FILE).
// AttachNode must be called once the definition text has been received and
// parsed.
func NewPendingInstance(defSize uint32) *Instance {
	inst := &Instance{}
	inst.areas[AreaDefinition] = newBuffer(defSize)
	return inst
}

// AttachNode supplies the now-known node signature, allocating the provide
// and require buffers to their declared sizes and seeding their `:=v`
// initial values. Every call allocates fresh buffers, discarding any earlier
// provide/require contents, so callers should only call it once per
// Instance.
func (inst *Instance) AttachNode(n *Node) {
	inst.node = n
	inst.areas[AreaProvide] = newBuffer(n.ProvideSize)
	inst.areas[AreaRequire] = newBuffer(n.RequireSize)
	inst.applyInitValues()
}

// Node returns the attached node signature, or nil if AttachNode has not
// been called yet.
func (inst *Instance) Node() *Node {
	return inst.node
}

// GetState returns the current lifecycle state of area.
func (inst *Instance) GetState(area Area) State {
	inst.stateMu.Lock()
	defer inst.stateMu.Unlock()
	return inst.state[area]
}

// SetState transitions area to s.
func (inst *Instance) SetState(area Area, s State) {
	inst.stateMu.Lock()
	defer inst.stateMu.Unlock()
	inst.state[area] = s
}

// WriteAreaData writes src at offset into area, stamping dirty flags, and
// advances the area's state to CONNECTED if this is its first write
// (spec.md §4.8 "transitions the port-area state to CONNECTED on first
// write").
func (inst *Instance) WriteAreaData(area Area, offset uint32, src []byte) error {
	if err := inst.areas[area].write(offset, src); err != nil {
		return err
	}
	if len(src) > 0 {
		inst.stateMu.Lock()
		if inst.state[area] != StateConnected {
			inst.state[area] = StateConnected
		}
		inst.stateMu.Unlock()
	}
	return nil
}

// WriteDefinitionData writes received definition bytes.
func (inst *Instance) WriteDefinitionData(offset uint32, src []byte) error {
	return inst.WriteAreaData(AreaDefinition, offset, src)
}

// WriteRequirePortData writes received require-port bytes.
func (inst *Instance) WriteRequirePortData(offset uint32, src []byte) error {
	return inst.WriteAreaData(AreaRequire, offset, src)
}

// AllWritten reports whether every byte of area has been written at least
// once. The connection layer uses this to detect when a multi-chunk
// incoming file (most commonly a definition) has been fully received,
// without tracking byte-range coverage itself.
func (inst *Instance) AllWritten(area Area) bool {
	b := &inst.areas[area]
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.dirty {
		if d == 0 {
			return false
		}
	}
	return true
}

// ReadAreaData copies len(dest) bytes starting at offset from area into
// dest, returning the number of bytes copied.
func (inst *Instance) ReadAreaData(area Area, offset uint32, dest []byte) (int, error) {
	return inst.areas[area].read(offset, dest)
}

// ReadProvidePortData copies len(dest) bytes from the provide buffer.
func (inst *Instance) ReadProvidePortData(offset uint32, dest []byte) (int, error) {
	return inst.ReadAreaData(AreaProvide, offset, dest)
}

// Digest returns the SHA-256 of the definition buffer's current contents,
// computed once and memoized (spec.md §4.6: "computed once on assembly").
// Callers must only invoke Digest after the definition buffer is fully
// written; calling it earlier memoizes a digest of a partial buffer.
func (inst *Instance) Digest() [32]byte {
	inst.digestMu.Lock()
	defer inst.digestMu.Unlock()
	if !inst.digestSet {
		inst.digest = sha256.Sum256(inst.areas[AreaDefinition].data)
		inst.digestSet = true
	}
	return inst.digest
}

// SetProvidePortValue packs v through port idx's pack program and writes
// the result into the provide buffer at the port's offset.
func (inst *Instance) SetProvidePortValue(idx int, v apxvm.Value) error {
	return inst.setPortValue(AreaProvide, inst.node.ProvidePorts, idx, v)
}

// GetProvidePortValue unpacks the current bytes at provide port idx's
// offset through its unpack program.
func (inst *Instance) GetProvidePortValue(idx int) (apxvm.Value, error) {
	return inst.getPortValue(AreaProvide, inst.node.ProvidePorts, idx)
}

// SetRequirePortValue packs v through require port idx's pack program and
// writes the result into the require buffer at the port's offset.
func (inst *Instance) SetRequirePortValue(idx int, v apxvm.Value) error {
	return inst.setPortValue(AreaRequire, inst.node.RequirePorts, idx, v)
}

// GetRequirePortValue unpacks the current bytes at require port idx's
// offset through its unpack program.
func (inst *Instance) GetRequirePortValue(idx int) (apxvm.Value, error) {
	return inst.getPortValue(AreaRequire, inst.node.RequirePorts, idx)
}

func (inst *Instance) setPortValue(area Area, ports []*Port, idx int, v apxvm.Value) error {
	if inst.node == nil {
		return apxerr.New(apxerr.NodeMissing, "node not attached")
	}
	if idx < 0 || idx >= len(ports) {
		return apxerr.New(apxerr.InvalidArgument, fmt.Sprintf("port index %d out of range", idx))
	}
	p := ports[idx]
	buf := make([]byte, p.Size)
	n, err := apxvm.Pack(p.PackProgram, v, buf)
	if err != nil {
		return err
	}
	return inst.WriteAreaData(area, p.Offset, buf[:n])
}

func (inst *Instance) getPortValue(area Area, ports []*Port, idx int) (apxvm.Value, error) {
	if inst.node == nil {
		return apxvm.Value{}, apxerr.New(apxerr.NodeMissing, "node not attached")
	}
	if idx < 0 || idx >= len(ports) {
		return apxvm.Value{}, apxerr.New(apxerr.InvalidArgument, fmt.Sprintf("port index %d out of range", idx))
	}
	p := ports[idx]
	buf := make([]byte, p.Size)
	n, err := inst.ReadAreaData(area, p.Offset, buf)
	if err != nil {
		return apxvm.Value{}, err
	}
	v, _, err := apxvm.Unpack(p.UnpackProgram, buf[:n])
	return v, err
}
