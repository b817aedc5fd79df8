// Copyright Contributors to the Sykli project

package elaborate

import (
	"github.com/yairfalse/sykli/internal/condition"
	"github.com/yairfalse/sykli/internal/pipeline"
)

// evalWhen evaluates a task's when clause, whichever form it took on
// the wire: a string DSL expression or a structured condition tree. A
// nil/zero when always evaluates true: absence means unconditional.
func evalWhen(w *pipeline.When, ctx condition.Context) (bool, error) {
	if w == nil || w.IsZero() {
		return true, nil
	}
	if w.Condition != nil {
		return toNode(*w.Condition).Eval(ctx), nil
	}
	return condition.Eval(w.Expr, ctx)
}

// toNode converts the wire condition tree into the package's evaluable
// Node tree.
func toNode(c pipeline.Condition) condition.Node {
	switch {
	case c.Not != nil:
		return condition.Not(toNode(*c.Not))
	case len(c.And) > 0:
		nodes := make([]condition.Node, len(c.And))
		for i, sub := range c.And {
			nodes[i] = toNode(sub)
		}
		return condition.And(nodes...)
	case len(c.Or) > 0:
		nodes := make([]condition.Node, len(c.Or))
		for i, sub := range c.Or {
			nodes[i] = toNode(sub)
		}
		return condition.Or(nodes...)
	case c.Branch != "":
		return condition.Branch(c.Branch)
	case c.Tag != "" || c.HasTag:
		if c.Tag != "" {
			return condition.Tag(c.Tag)
		}
		return condition.HasTag()
	case c.Event != "":
		return condition.Event(c.Event)
	case c.InCI:
		return condition.InCI()
	case c.Field != "":
		return condition.Field(c.Field, c.Op, c.Value)
	}
	return condition.Literal(true) // empty sub-tree: always true
}
