package connection

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/cogu/apx-go/apxdef"
	"github.com/cogu/apx-go/apxerr"
	"github.com/cogu/apx-go/apxvm"
	"github.com/cogu/apx-go/filemanager"
	"github.com/cogu/apx-go/filestore"
	"github.com/cogu/apx-go/logging"
	"github.com/cogu/apx-go/node"
	"github.com/cogu/apx-go/remotefile"
)

const defaultChunkSize = 1024
const defaultRingCapacity = 64

// localNode is one node this side has published (spec.md §4.8 "client
// publishes every local node's files").
type localNode struct {
	name      string
	inst      *node.Instance
	defFile   *filestore.File
	outFile   *filestore.File // nil if the node declares no provide ports
	published bool
}

// remoteNode is one node the peer has announced via PUBLISH_FILE.
type remoteNode struct {
	name      string
	inst      *node.Instance
	defFile   *filestore.File
	outFile   *filestore.File // peer's provide-port file, once announced
	outOpened bool
	reqFile   *filestore.File // our own "<name>.in" file, published once the definition is parsed
}

// localFileBinding resolves an OPEN_FILE target (one of our local files) to
// the instance area it should stream.
type localFileBinding struct {
	inst *node.Instance
	area node.Area
}

// Connection is one RemoteFile/APX peer connection: the greeting handshake,
// state machine, and the routing between incoming RemoteFile traffic and
// this side's node instances (spec.md §4.8).
type Connection struct {
	role         Role
	monitor      bool
	chunkSize    int
	ringCapacity int

	transport Transport
	tx        *transmitAdapter
	worker    *filemanager.Worker
	receiver  *filemanager.Receiver
	shared    *filemanager.Shared
	log       logging.Func

	stateMu sync.Mutex
	state   State

	greetingReceived bool
	preBuf           []byte

	nodeMu          sync.Mutex
	localNodes      []*localNode
	remoteNodes     map[string]*remoteNode
	remoteFileOwner map[*filestore.File]*remoteNode
	localFileOwner  map[*filestore.File]*localFileBinding

	// remoteRequireOwner maps a peer-published "<node>.in" file back to
	// the local node whose require buffer it echoes (spec.md §4.8: the
	// server republishes our own node's require-port footprint so a
	// later broker fan-out write lands through the normal OPEN_FILE/data
	// path instead of a separate channel).
	remoteRequireOwner map[*filestore.File]*localNode

	onProvideWrite func(nodeName string, payload []byte, offset uint32)
	onNodeAttached func(nodeName string)
}

// NewConnection returns a Connection in state CONNECT, ready for
// OnConnected to be called once the transport is up.
func NewConnection(role Role, transport Transport, connID uint64, opts ...Option) (*Connection, error) {
	c := &Connection{
		role:               role,
		chunkSize:          defaultChunkSize,
		ringCapacity:       defaultRingCapacity,
		transport:          transport,
		receiver:           filemanager.NewReceiver(),
		shared:             filemanager.NewShared(connID),
		log:                logging.Discard,
		remoteNodes:        make(map[string]*remoteNode),
		remoteFileOwner:    make(map[*filestore.File]*remoteNode),
		localFileOwner:     make(map[*filestore.File]*localFileBinding),
		remoteRequireOwner: make(map[*filestore.File]*localNode),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.tx = &transmitAdapter{transport: transport}
	c.worker = filemanager.NewWorker(c.ringCapacity, c.tx, c.log)
	return c, nil
}

// Worker exposes the outbound worker so callers can choose Start() (a
// background goroutine) or drive it cooperatively via Run() in tests.
func (c *Connection) Worker() *filemanager.Worker { return c.worker }

// Shared exposes the file inventory, mainly for tests and for a Broker to
// inspect published files.
func (c *Connection) Shared() *filemanager.Shared { return c.shared }

// SetProvideWriteHandler registers the callback invoked whenever a fully
// received provide-port write lands on a remote node (spec.md §4.9's
// broker fan-out trigger).
func (c *Connection) SetProvideWriteHandler(fn func(nodeName string, payload []byte, offset uint32)) {
	c.onProvideWrite = fn
}

// SetNodeAttachedHandler registers the callback invoked once a remote
// node's definition has been parsed and its require-port buffer is ready
// for fan-out writes (spec.md §4.9: the broker builds its per-connection
// routing table "at definition-parse time").
func (c *Connection) SetNodeAttachedHandler(fn func(nodeName string)) {
	c.onNodeAttached = fn
}

// RemoteNodeSignature returns the parsed *node.Node for a remote node this
// connection has announced, once its definition has completed. It returns
// ok == false before that point or if no such node was ever announced.
func (c *Connection) RemoteNodeSignature(nodeName string) (*node.Node, bool) {
	c.nodeMu.Lock()
	rn, ok := c.remoteNodes[nodeName]
	c.nodeMu.Unlock()
	if !ok || rn.inst == nil {
		return nil, false
	}
	n := rn.inst.Node()
	if n == nil {
		return nil, false
	}
	return n, true
}

// GetState returns the connection's current lifecycle state.
func (c *Connection) GetState() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// OnConnected sends this side's greeting and transitions to GREETING_SENT.
func (c *Connection) OnConnected() error {
	if _, err := c.transport.Send(BuildGreeting(c.monitor)); err != nil {
		return err
	}
	c.setState(StateGreetingSent)
	return nil
}

// OnDisconnected tears the connection down from the transport side.
func (c *Connection) OnDisconnected() {
	c.setState(StateDisconnected)
	c.shared.Detach()
	c.worker.Stop()
}

// AddLocalNode registers a node this side owns, publishing its files
// immediately if the connection is already RUNNING, or queuing the publish
// for when the handshake completes otherwise.
func (c *Connection) AddLocalNode(name string, defText []byte, provide, require []*apxvm.Element) (*node.Instance, error) {
	n, err := node.NewNode(name, defText, provide, require)
	if err != nil {
		return nil, err
	}
	inst := node.NewInstance(n)
	digest := inst.Digest()

	defFile, err := c.shared.PublishLocalDefinition(name+filestore.ExtDefinition, uint32(len(defText)), filestore.DigestSHA256, digest)
	if err != nil {
		return nil, err
	}
	ln := &localNode{name: name, inst: inst, defFile: defFile}

	c.nodeMu.Lock()
	c.localFileOwner[defFile] = &localFileBinding{inst: inst, area: node.AreaDefinition}
	if n.ProvideSize > 0 {
		outFile, err := c.shared.PublishLocalPortData(name+filestore.ExtProvide, n.ProvideSize)
		if err != nil {
			c.nodeMu.Unlock()
			return nil, err
		}
		ln.outFile = outFile
		c.localFileOwner[outFile] = &localFileBinding{inst: inst, area: node.AreaProvide}
	}
	c.localNodes = append(c.localNodes, ln)
	c.nodeMu.Unlock()

	if c.GetState() == StateRunning {
		c.publishLocalNode(ln)
	}
	return inst, nil
}

func (c *Connection) publishLocalNode(ln *localNode) {
	c.worker.Enqueue(filemanager.Message{
		Type: filemanager.MsgSendFileInfo,
		Addr: ln.defFile.Address, Name: ln.defFile.Name, Size: ln.defFile.Size,
		FileType: uint16(ln.defFile.FileType), DigestType: uint16(ln.defFile.DigestType), Digest: ln.defFile.Digest,
	})
	if ln.outFile != nil {
		c.worker.Enqueue(filemanager.Message{
			Type: filemanager.MsgSendFileInfo,
			Addr: ln.outFile.Address, Name: ln.outFile.Name, Size: ln.outFile.Size,
			FileType: uint16(ln.outFile.FileType),
		})
	}
	ln.published = true
}

func (c *Connection) publishPendingLocalNodes() {
	c.nodeMu.Lock()
	defer c.nodeMu.Unlock()
	for _, ln := range c.localNodes {
		if !ln.published {
			c.publishLocalNode(ln)
		}
	}
}

// SetLocalProvidePortValue sets nodeName's provide port idx to v, pushing
// the new bytes to the peer as a RemoteFile data message if the provide
// file has already been published (spec.md §4.8 "Runtime").
func (c *Connection) SetLocalProvidePortValue(nodeName string, idx int, v apxvm.Value) error {
	c.nodeMu.Lock()
	var ln *localNode
	for _, candidate := range c.localNodes {
		if candidate.name == nodeName {
			ln = candidate
			break
		}
	}
	c.nodeMu.Unlock()
	if ln == nil {
		return apxerr.New(apxerr.NodeMissing, "unknown local node "+nodeName)
	}
	if err := ln.inst.SetProvidePortValue(idx, v); err != nil {
		return err
	}
	if ln.outFile == nil {
		return nil
	}
	port := ln.inst.Node().ProvidePorts[idx]
	buf := make([]byte, port.Size)
	if _, err := ln.inst.ReadProvidePortData(port.Offset, buf); err != nil {
		return err
	}
	c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgFileWriteDirect, Addr: ln.outFile.Address + port.Offset, Data: buf})
	return nil
}

// WriteRemoteRequireBytes writes data at offset into nodeName's require
// buffer and forwards it to the peer as a RemoteFile data message
// (spec.md §4.9: the broker "replays the write on each peer via the
// peer's FileManagerWorker").
func (c *Connection) WriteRemoteRequireBytes(nodeName string, offset uint32, data []byte) error {
	c.nodeMu.Lock()
	rn, ok := c.remoteNodes[nodeName]
	c.nodeMu.Unlock()
	if !ok || rn.reqFile == nil {
		return apxerr.New(apxerr.NodeMissing, "no require file for "+nodeName)
	}
	if err := rn.inst.WriteRequirePortData(offset, data); err != nil {
		return err
	}
	c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgFileWriteDirect, Addr: rn.reqFile.Address + offset, Data: data})
	return nil
}

// OnData feeds received bytes into the connection: greeting parsing while
// the handshake is in progress, then framed RemoteFile packets once it is
// complete.
func (c *Connection) OnData(data []byte) error {
	if !c.greetingReceived {
		c.preBuf = append(c.preBuf, data...)
		g, consumed, ok, err := tryConsumeGreeting(c.preBuf)
		if !ok {
			return nil
		}
		if err != nil {
			return c.fail(err)
		}
		_ = g
		remainder := append([]byte(nil), c.preBuf[consumed:]...)
		c.preBuf = nil
		c.greetingReceived = true
		if c.role == RoleServer {
			c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgSendAck})
			c.setState(StateRunning)
		}
		if len(remainder) > 0 {
			return c.OnData(remainder)
		}
		return nil
	}
	c.receiver.Write(data)
	return c.drainReceiver()
}

func (c *Connection) drainReceiver() error {
	for {
		pkt, ok := c.receiver.TryParseNext()
		if !ok {
			return nil
		}
		if err := c.routePacket(pkt); err != nil {
			return err
		}
		if c.GetState() == StateDisconnected {
			return nil
		}
	}
}

func (c *Connection) routePacket(pkt filemanager.Packet) error {
	if pkt.Address == remotefile.CmdAreaAddress {
		return c.handleCommand(pkt.Payload)
	}
	return c.handleData(pkt)
}

func (c *Connection) handleCommand(payload []byte) error {
	cmd, consumed, outcome := remotefile.DecodeCommandType(payload)
	if outcome != remotefile.OutcomeOK {
		return c.fail(errors.Wrap(remotefile.ErrMalformedCommand, "command type"))
	}
	body := payload[consumed:]

	switch {
	case cmd == remotefile.CmdAck:
		if c.role == RoleClient {
			c.setState(StateGreetingAckReceived)
			c.setState(StateRunning)
			c.publishPendingLocalNodes()
		}
	case cmd == remotefile.CmdPublishFile:
		pf, _, outcome := remotefile.DecodePublishFile(body)
		if outcome != remotefile.OutcomeOK {
			return c.fail(errors.Wrap(remotefile.ErrMalformedCommand, "publish_file"))
		}
		if err := c.handlePublishFile(pf); err != nil {
			return c.fail(err)
		}
	case cmd == remotefile.CmdOpenFile:
		ac, _, outcome := remotefile.DecodeAddressCommand(body)
		if outcome != remotefile.OutcomeOK {
			return c.fail(errors.Wrap(remotefile.ErrMalformedCommand, "open_file"))
		}
		c.handleOpenFile(ac.Address)
	case cmd == remotefile.CmdCloseFile:
		ac, _, outcome := remotefile.DecodeAddressCommand(body)
		if outcome != remotefile.OutcomeOK {
			return c.fail(errors.Wrap(remotefile.ErrMalformedCommand, "close_file"))
		}
		if f := c.shared.FindLocalByAddress(ac.Address); f != nil {
			f.Open = false
		}
	case remotefile.IsErrorCommand(cmd):
		ec, _, _ := remotefile.DecodeErrorCommand(cmd, body)
		c.log(logging.WarnLevel, "connection: peer reported error", "code", ec.Code, "address", ec.Address)
	default:
		c.log(logging.WarnLevel, "connection: ignoring unrecognized command", "cmd", cmd)
	}
	return nil
}

func (c *Connection) handlePublishFile(pf remotefile.PublishFile) error {
	switch {
	case strings.HasSuffix(pf.Name, filestore.ExtDefinition):
		name := strings.TrimSuffix(pf.Name, filestore.ExtDefinition)
		f, err := c.shared.AdoptRemoteFile(pf)
		if err != nil {
			c.rejectOverlap(pf, err)
			return err
		}
		inst := node.NewPendingInstance(pf.Size)
		inst.SetState(node.AreaDefinition, node.StateWaitingForFileData)

		c.nodeMu.Lock()
		rn := c.remoteNodes[name]
		if rn == nil {
			rn = &remoteNode{name: name}
			c.remoteNodes[name] = rn
		}
		rn.inst = inst
		rn.defFile = f
		c.remoteFileOwner[f] = rn
		c.nodeMu.Unlock()

		c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgSendOpen, Addr: f.Address})

	case strings.HasSuffix(pf.Name, filestore.ExtProvide):
		name := strings.TrimSuffix(pf.Name, filestore.ExtProvide)
		f, err := c.shared.AdoptRemoteFile(pf)
		if err != nil {
			c.rejectOverlap(pf, err)
			return err
		}
		c.nodeMu.Lock()
		rn := c.remoteNodes[name]
		if rn == nil {
			rn = &remoteNode{name: name}
			c.remoteNodes[name] = rn
		}
		rn.outFile = f
		c.remoteFileOwner[f] = rn
		ready := rn.inst != nil && rn.inst.Node() != nil && !rn.outOpened
		if ready {
			rn.outOpened = true
		}
		c.nodeMu.Unlock()
		if ready {
			c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgSendOpen, Addr: f.Address})
		}

	case strings.HasSuffix(pf.Name, filestore.ExtRequire):
		name := strings.TrimSuffix(pf.Name, filestore.ExtRequire)
		f, err := c.shared.AdoptRemoteFile(pf)
		if err != nil {
			c.rejectOverlap(pf, err)
			return err
		}
		c.nodeMu.Lock()
		var ln *localNode
		for _, candidate := range c.localNodes {
			if candidate.name == name {
				ln = candidate
				break
			}
		}
		if ln != nil {
			c.remoteRequireOwner[f] = ln
		}
		c.nodeMu.Unlock()
		c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgSendOpen, Addr: f.Address})

	default:
		c.log(logging.WarnLevel, "connection: ignoring publish for unrecognized file", "name", pf.Name)
	}
	return nil
}

func (c *Connection) handleOpenFile(addr uint32) {
	f := c.shared.FindLocalByAddress(addr)
	if f == nil {
		c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgSendError, ErrorCode: remotefile.CmdErrInvalidRead, Addr: addr})
		return
	}
	c.nodeMu.Lock()
	binding, ok := c.localFileOwner[f]
	c.nodeMu.Unlock()
	if !ok {
		c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgSendError, ErrorCode: remotefile.CmdErrInvalidRead, Addr: addr})
		return
	}
	f.Open = true
	inst, area := binding.inst, binding.area
	c.worker.Enqueue(filemanager.Message{
		Type: filemanager.MsgSendCompleteFile,
		Addr: f.Address, Size: f.Size, ChunkSize: c.chunkSize,
		Source: func(offset uint32, dest []byte) (int, error) { return inst.ReadAreaData(area, offset, dest) },
	})
}

func (c *Connection) handleData(pkt filemanager.Packet) error {
	f := c.shared.FindRemoteByAddress(pkt.Address)
	if f == nil {
		c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgSendError, ErrorCode: remotefile.CmdErrInvalidWr, Addr: pkt.Address})
		return nil
	}
	offset := pkt.Address - f.Address

	c.nodeMu.Lock()
	ln, isRequireEcho := c.remoteRequireOwner[f]
	rn, ok := c.remoteFileOwner[f]
	c.nodeMu.Unlock()

	if isRequireEcho {
		if err := ln.inst.WriteRequirePortData(offset, pkt.Payload); err != nil {
			c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgSendError, ErrorCode: remotefile.CmdErrInvalidWr, Addr: pkt.Address})
		}
		return nil
	}
	if !ok {
		return nil
	}

	switch f {
	case rn.defFile:
		if err := rn.inst.WriteDefinitionData(offset, pkt.Payload); err != nil {
			c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgSendError, ErrorCode: remotefile.CmdErrInvalidWr, Addr: pkt.Address})
			return nil
		}
		if rn.inst.AllWritten(node.AreaDefinition) {
			return c.onDefinitionComplete(rn)
		}
	case rn.outFile:
		if err := rn.inst.WriteAreaData(node.AreaProvide, offset, pkt.Payload); err != nil {
			c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgSendError, ErrorCode: remotefile.CmdErrInvalidWr, Addr: pkt.Address})
			return nil
		}
		if c.onProvideWrite != nil && pkt.Complete {
			payload, writeOffset := pkt.Payload, offset
			if pkt.Reassembled != nil {
				payload, writeOffset = pkt.Reassembled, pkt.StartAddress-f.Address
			}
			c.onProvideWrite(rn.name, payload, writeOffset)
		}
	}
	return nil
}

func (c *Connection) onDefinitionComplete(rn *remoteNode) error {
	defBytes := make([]byte, rn.defFile.Size)
	if _, err := rn.inst.ReadAreaData(node.AreaDefinition, 0, defBytes); err != nil {
		return c.fail(err)
	}
	if rn.defFile.DigestType != filestore.DigestNone && !rn.defFile.VerifyDigest(defBytes) {
		return c.fail(errors.New("connection: definition digest mismatch"))
	}
	def, err := apxdef.Parse(string(defBytes))
	if err != nil {
		return c.fail(err)
	}
	n, err := apxdef.BuildNode(def, defBytes)
	if err != nil {
		return c.fail(err)
	}
	rn.inst.AttachNode(n)
	rn.inst.SetState(node.AreaDefinition, node.StateConnected)

	if c.role == RoleServer {
		reqFile, err := c.shared.PublishLocalPortData(rn.name+filestore.ExtRequire, n.RequireSize)
		if err != nil {
			return c.fail(err)
		}
		rn.reqFile = reqFile
		c.nodeMu.Lock()
		c.localFileOwner[reqFile] = &localFileBinding{inst: rn.inst, area: node.AreaRequire}
		c.nodeMu.Unlock()
		c.worker.Enqueue(filemanager.Message{
			Type: filemanager.MsgSendFileInfo,
			Addr: reqFile.Address, Name: reqFile.Name, Size: reqFile.Size,
			FileType: uint16(reqFile.FileType),
		})
		if c.onNodeAttached != nil {
			c.onNodeAttached(rn.name)
		}
	}

	c.nodeMu.Lock()
	needOpen := rn.outFile != nil && !rn.outOpened
	if needOpen {
		rn.outOpened = true
	}
	outAddr := uint32(0)
	if rn.outFile != nil {
		outAddr = rn.outFile.Address
	}
	c.nodeMu.Unlock()
	if needOpen {
		c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgSendOpen, Addr: outAddr})
	}
	return nil
}

// rejectOverlap enqueues an INVALID_WRITE error command for an overlapping
// PUBLISH_FILE before the caller tears the connection down, per spec.md §9:
// an overlapping remote publish is rejected with INVALID_WRITE *and*
// disconnected, not dropped silently.
func (c *Connection) rejectOverlap(pf remotefile.PublishFile, err error) {
	if errors.Is(err, filestore.ErrOverlap) {
		c.worker.Enqueue(filemanager.Message{Type: filemanager.MsgSendError, ErrorCode: remotefile.CmdErrInvalidWr, Addr: pf.Address})
	}
}

func (c *Connection) fail(err error) error {
	c.log(logging.WarnLevel, "connection: disconnecting", "err", err)
	c.setState(StateDisconnected)
	c.shared.Detach()
	c.worker.Stop()
	return err
}
