package apxdef

import "github.com/cogu/apx-go/node"

// BuildNode compiles a parsed Definition into a node.Node, matching
// spec.md §4.6's expectation that the node signature tree comes from the
// definition parser.
func BuildNode(def *Definition, definitionText []byte) (*node.Node, error) {
	return node.NewNode(def.Name, definitionText, def.ProvidePorts, def.RequirePorts)
}
