// Copyright Contributors to the Sykli project

package condition

import "strings"

// Node is a structured condition-tree predicate. Exactly one leaf kind
// or combinator is populated per node (the kind is implied by which
// fields are non-zero, mirroring the wire shape in
// internal/pipeline.Condition).
type Node struct {
	branch string
	hasBranch bool

	tag    string
	hasTag bool

	hasTagLeaf bool // HasTag() leaf: true iff any tag is present

	event    string
	hasEvent bool

	inCI bool

	field string
	op    string
	value string

	lit    bool
	hasLit bool

	and []Node
	or  []Node
	not *Node
}

// Branch matches Context.Branch against a pattern with a single
// trailing '*' glob.
func Branch(pattern string) Node { return Node{branch: pattern, hasBranch: true} }

// Tag matches Context.Tag against a pattern with a single trailing '*' glob.
func Tag(pattern string) Node { return Node{tag: pattern, hasTag: true} }

// HasTag is true iff Context.Tag is non-empty.
func HasTag() Node { return Node{hasTagLeaf: true} }

// Event matches Context.Event for equality.
func Event(kind string) Node { return Node{event: kind, hasEvent: true} }

// InCI is true iff Context.InCI is set.
func InCI() Node { return Node{inCI: true} }

// Field compares a named context field against a literal with op "==" or "!=".
func Field(name, op, value string) Node { return Node{field: name, op: op, value: value} }

// Literal is a constant leaf, used for a structured condition node
// with no populated leaf or combinator (an empty sub-tree in an
// and/or/not position means "always true").
func Literal(b bool) Node { return Node{lit: b, hasLit: true} }

// And combines nodes with short-circuiting conjunction.
func And(nodes ...Node) Node { return Node{and: nodes} }

// Or combines nodes with short-circuiting disjunction.
func Or(nodes ...Node) Node { return Node{or: nodes} }

// Not negates a node.
func Not(n Node) Node { return Node{not: &n} }

// Eval evaluates the node against ctx.
func (n Node) Eval(ctx Context) bool {
	switch {
	case n.hasLit:
		return n.lit
	case n.not != nil:
		return !n.not.Eval(ctx)
	case len(n.and) > 0:
		for _, c := range n.and {
			if !c.Eval(ctx) {
				return false
			}
		}
		return true
	case len(n.or) > 0:
		for _, c := range n.or {
			if c.Eval(ctx) {
				return true
			}
		}
		return false
	case n.hasBranch:
		return matchGlob(n.branch, ctx.Branch)
	case n.hasTag:
		return matchGlob(n.tag, ctx.Tag)
	case n.hasTagLeaf:
		return ctx.Tag != ""
	case n.hasEvent:
		return ctx.Event == n.event
	case n.inCI:
		return ctx.InCI
	case n.field != "":
		v, _ := ctx.Get(n.field)
		switch n.op {
		case "!=":
			return v != n.value
		default: // "=="
			return v == n.value
		}
	}
	return false
}

// matchGlob supports a single trailing '*' as the only wildcard form.
func matchGlob(pattern, value string) bool {
	if pattern == "" {
		return value == ""
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}
