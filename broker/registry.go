// Package broker implements the server-side routing described in
// spec.md §4.9: when a provide-port write arrives on one connection, it is
// replayed on every other connection whose require port matches by port
// name and compatible data-element shape.
package broker

import (
	"sync"

	"github.com/cogu/apx-go/apxvm"
	"github.com/cogu/apx-go/connection"
	"github.com/cogu/apx-go/logging"
)

// portKey identifies a require target by port name alone: spec.md §4.9
// matches "by port name and compatible data-element type", not by the
// provider and consumer sharing a node name.
type portKey struct {
	port string
}

// requireTarget is one (peer connection, peer node/require-port file,
// offset, length) entry from spec.md §4.9's fan-out map.
type requireTarget struct {
	conn     *connection.Connection
	nodeName string
	offset   uint32
	length   uint32
	element  *apxvm.Element
}

// Registry is the broker's per-connection fan-out table, computed
// incrementally as connections parse peer node definitions (spec.md §4.9
// "computed at definition-parse time"). It holds no transport state of its
// own — plain indexed collections the way protocol/rtmp/conn.go keeps
// channelsIn/channelsOut, guarded by one mutex the way Shared guards its
// file maps.
type Registry struct {
	mu        sync.Mutex
	log       logging.Func
	requirers map[portKey][]requireTarget
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithLog sets the logging.Func the Registry reports fan-out failures and
// type mismatches through. The default is logging.Discard.
func WithLog(log logging.Func) Option {
	return func(r *Registry) { r.log = log }
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		log:       logging.Discard,
		requirers: make(map[portKey][]requireTarget),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach wires c into the broker: its provide-port writes are routed to
// matching require ports on other attached connections, and its own
// require ports become routing targets once their owning node's
// definition is parsed.
func (r *Registry) Attach(c *connection.Connection) {
	c.SetProvideWriteHandler(func(nodeName string, payload []byte, offset uint32) {
		r.route(c, nodeName, payload, offset)
	})
	c.SetNodeAttachedHandler(func(nodeName string) {
		r.registerRequirePorts(c, nodeName)
	})
}

// Detach removes every routing-table entry pointing at c, called once c
// disconnects so a dead connection is never replayed into.
func (r *Registry) Detach(c *connection.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, targets := range r.requirers {
		kept := targets[:0]
		for _, t := range targets {
			if t.conn != c {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(r.requirers, k)
		} else {
			r.requirers[k] = kept
		}
	}
}

func (r *Registry) registerRequirePorts(c *connection.Connection, nodeName string) {
	n, ok := c.RemoteNodeSignature(nodeName)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range n.RequirePorts {
		k := portKey{port: p.Name}
		r.requirers[k] = append(r.requirers[k], requireTarget{
			conn: c, nodeName: nodeName, offset: p.Offset, length: p.Size, element: p.Element,
		})
	}
}

// route forwards one completed provide-port write to every matching
// require port on every other attached connection.
func (r *Registry) route(src *connection.Connection, nodeName string, payload []byte, offset uint32) {
	n, ok := src.RemoteNodeSignature(nodeName)
	if !ok {
		return
	}
	port := n.ProvidePortAtOffset(offset)
	if port == nil {
		r.log(logging.WarnLevel, "broker: write does not land on a known provide port",
			"node", nodeName, "offset", offset)
		return
	}

	k := portKey{port: port.Name}
	r.mu.Lock()
	targets := append([]requireTarget(nil), r.requirers[k]...)
	r.mu.Unlock()

	for _, t := range targets {
		if t.conn == src {
			continue
		}
		if !typeCompatible(port.Element, t.element) {
			r.log(logging.WarnLevel, "broker: provide/require type mismatch, leaving initial value",
				"port", port.Name)
			continue
		}
		data := payload
		if uint32(len(data)) > t.length {
			data = data[:t.length]
		}
		if err := t.conn.WriteRemoteRequireBytes(t.nodeName, t.offset, data); err != nil {
			r.log(logging.WarnLevel, "broker: fan-out write failed",
				"node", t.nodeName, "port", port.Name, "err", err)
		}
	}
}

// typeCompatible reports whether a provide port's and a require port's data
// elements have the same packed shape (spec.md §4.9 "compatible data-element
// type"): matching scalar kind, array length/dynamic flag, and, for
// records, matching children recursively. Names, ranges, and value tables
// are display/validation metadata and are not part of the wire shape, so
// they are not compared.
func typeCompatible(a, b *apxvm.Element) bool {
	if a == nil || b == nil {
		return false
	}
	if a.IsRecord() != b.IsRecord() {
		return false
	}
	if a.IsRecord() {
		if len(a.Children) != len(b.Children) {
			return false
		}
		for i := range a.Children {
			if !typeCompatible(a.Children[i], b.Children[i]) {
				return false
			}
		}
		return true
	}
	return a.Scalar == b.Scalar && a.ArrayLen == b.ArrayLen && a.Dynamic == b.Dynamic
}
