package node

import "github.com/cogu/apx-go/apxvm"

// Port is one provide- or require-port of a node: a typed data element at a
// fixed byte offset into the node's provide or require buffer, with the
// pack and unpack programs the compiler produced from its signature tree.
type Port struct {
	Name          string
	Element       *apxvm.Element
	Offset        uint32
	Size          uint32
	InitValue     apxvm.Value
	PackProgram   *apxvm.Program
	UnpackProgram *apxvm.Program
}

func buildPorts(elements []*apxvm.Element) ([]*Port, uint32, error) {
	ports := make([]*Port, len(elements))
	var cursor uint32
	for i, el := range elements {
		packProg, err := apxvm.Compile(el, apxvm.KindPackProgram)
		if err != nil {
			return nil, 0, err
		}
		unpackProg, err := apxvm.Compile(el, apxvm.KindUnpackProgram)
		if err != nil {
			return nil, 0, err
		}
		size := el.FixedSize()
		ports[i] = &Port{
			Name:          el.Name,
			Element:       el,
			Offset:        cursor,
			Size:          size,
			InitValue:     el.InitValue,
			PackProgram:   packProg,
			UnpackProgram: unpackProg,
		}
		cursor += size
	}
	return ports, cursor, nil
}
