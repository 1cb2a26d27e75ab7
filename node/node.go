package node

import "github.com/cogu/apx-go/apxvm"

// Node is a node's static signature: its name, its definition text, and its
// provide- and require-port tables with offsets into their respective
// buffers (spec.md §3 "Node").
type Node struct {
	Name           string
	DefinitionText []byte
	ProvidePorts   []*Port
	RequirePorts   []*Port
	ProvideSize    uint32
	RequireSize    uint32
}

// NewNode compiles provideElements and requireElements into port tables,
// assigning each port a byte offset into its area in declaration order.
func NewNode(name string, definitionText []byte, provideElements, requireElements []*apxvm.Element) (*Node, error) {
	providePorts, provideSize, err := buildPorts(provideElements)
	if err != nil {
		return nil, err
	}
	requirePorts, requireSize, err := buildPorts(requireElements)
	if err != nil {
		return nil, err
	}
	return &Node{
		Name:           name,
		DefinitionText: definitionText,
		ProvidePorts:   providePorts,
		RequirePorts:   requirePorts,
		ProvideSize:    provideSize,
		RequireSize:    requireSize,
	}, nil
}

// ProvidePortAtOffset returns the provide port whose byte range contains
// offset, used to map a RemoteFile write back to the port it landed on.
func (n *Node) ProvidePortAtOffset(offset uint32) *Port {
	for _, p := range n.ProvidePorts {
		if offset >= p.Offset && offset < p.Offset+p.Size {
			return p
		}
	}
	return nil
}
