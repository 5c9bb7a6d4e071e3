package query

import "regexp"

type node interface {
	isNode()
}

type identityNode struct{}

type literalNode struct {
	value Value
}

// indexNode evaluates key against the original input and looks it up in the
// outputs of target.
type indexNode struct {
	target node
	key    node
}

type sliceNode struct {
	target node
	from   node
	to     node
}

type iterateNode struct {
	target node
}

type tryNode struct {
	body node
}

type stringNode struct {
	parts []node
}

type arrayNode struct {
	body node
}

type objectEntry struct {
	key   node
	value node
}

type objectNode struct {
	entries []objectEntry
}

type pipeNode struct {
	left  node
	right node
}

type commaNode struct {
	left  node
	right node
}

type binaryNode struct {
	op    tokenType
	left  node
	right node
}

type andNode struct {
	left  node
	right node
}

type orNode struct {
	left  node
	right node
}

type altNode struct {
	left  node
	right node
}

type negNode struct {
	operand node
}

type ifBranch struct {
	cond node
	then node
}

type ifNode struct {
	branches []ifBranch
	orElse   node
}

type callNode struct {
	name string
	args []node
	re   *regexp.Regexp
}

func (identityNode) isNode() {}
func (literalNode) isNode()  {}
func (indexNode) isNode()    {}
func (sliceNode) isNode()    {}
func (iterateNode) isNode()  {}
func (tryNode) isNode()      {}
func (stringNode) isNode()   {}
func (arrayNode) isNode()    {}
func (objectNode) isNode()   {}
func (pipeNode) isNode()     {}
func (commaNode) isNode()    {}
func (binaryNode) isNode()   {}
func (andNode) isNode()      {}
func (orNode) isNode()       {}
func (altNode) isNode()      {}
func (negNode) isNode()      {}
func (ifNode) isNode()       {}
func (callNode) isNode()     {}
