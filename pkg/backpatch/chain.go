package backpatch

// nodeID indexes Engine.nodes, offset by one so the zero Chain is empty.
type nodeID int32

type chainNode struct {
	blank int
	next  nodeID
}

// Chain is a list of blank labels that all resolve to the same concrete label.
// A chain is consumed by exactly one merge or resolve.
type Chain struct{ head, tail nodeID }

func (c Chain) Empty() bool { return c.head == 0 }

func (e *Engine) node(id nodeID) *chainNode { return &e.nodes[id-1] }

func (e *Engine) single(blank int) Chain {
	e.nodes = append(e.nodes, chainNode{blank: blank})
	id := nodeID(len(e.nodes))
	return Chain{head: id, tail: id}
}

// merge concatenates b onto a.
func (e *Engine) merge(a, b Chain) Chain {
	if a.Empty() { return b }
	if b.Empty() { return a }
	e.node(a.tail).next = b.head
	return Chain{head: a.head, tail: b.tail}
}

// Blanks lists the blank labels of c in order.
func (e *Engine) Blanks(c Chain) []int {
	var out []int
	for id := c.head; id != 0; id = e.node(id).next {
		out = append(out, e.node(id).blank)
	}
	return out
}

// resolve emits one backpatch equation per blank in c.
func (e *Engine) resolve(c Chain, label int) {
	for id := c.head; id != 0; id = e.node(id).next {
		e.patch(e.node(id).blank, label)
	}
}
