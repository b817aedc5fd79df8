// Copyright Contributors to the Sykli project

package elaborate

import (
	"fmt"

	"github.com/yairfalse/sykli/internal/condition"
	"github.com/yairfalse/sykli/internal/pipeline"
)

// Elaborate converts a decoded pipeline into a concrete, immutable task
// DAG, running its passes in order: expand matrices, flatten groups,
// resolve capabilities, resolve input_from, dedupe edges, evaluate
// conditions, validate.
func Elaborate(p *pipeline.Pipeline, ctx condition.Context) (*Graph, error) {
	nodes := make(map[string]*Node)
	var order []string
	errs := &Errors{}

	addNode := func(n *Node) {
		if _, dup := nodes[n.Name]; dup {
			errs.add(ErrDuplicateName, "duplicate task name", n.Name)
			return
		}
		nodes[n.Name] = n
		order = append(order, n.Name)
	}

	// Pass 1: expand matrices (plain tasks and matrix/matrix_map group templates).
	groupMembers := make(map[string][]string, len(p.Groups))
	for _, t := range p.Tasks {
		for _, exp := range expandMatrix(t) {
			addNode(&Node{
				Name:         exp.task.Name,
				Kind:         NodeTask,
				Task:         exp.task,
				MatrixValues: exp.values,
				DependsOn:    append([]string(nil), exp.task.DependsOn...),
			})
		}
	}
	for _, g := range p.Groups {
		if g.Kind != pipeline.GroupMatrix && g.Kind != pipeline.GroupMatrixMap {
			continue
		}
		if g.Task == nil {
			errs.add(ErrUnknownDependsOn, "matrix group has no template task", g.Name)
			continue
		}
		var members []string
		for _, exp := range expandMatrix(*g.Task) {
			addNode(&Node{
				Name:         exp.task.Name,
				Kind:         NodeTask,
				Task:         exp.task,
				MatrixValues: exp.values,
				DependsOn:    append([]string(nil), exp.task.DependsOn...),
			})
			members = append(members, exp.task.Name)
		}
		groupMembers[g.Name] = members
	}

	for _, gate := range p.Gates {
		addNode(&Node{
			Name:      gate.Name,
			Kind:      NodeGate,
			Gate:      gate,
			DependsOn: append([]string(nil), gate.DependsOn...),
		})
	}

	// Pass 2: flatten parallel/chain groups into explicit edges.
	for _, g := range p.Groups {
		if g.Kind != pipeline.GroupParallel && g.Kind != pipeline.GroupChain {
			continue
		}
		edges, members := flattenGroup(g)
		groupMembers[g.Name] = members
		for member, deps := range edges {
			n, ok := nodes[member]
			if !ok {
				errs.add(ErrUnknownDependsOn, fmt.Sprintf("group %q references unknown task", g.Name), member)
				continue
			}
			n.DependsOn = append(n.DependsOn, deps...)
		}
	}

	// after_group: every task naming a group in AfterGroup depends on
	// every member of that group.
	for _, name := range order {
		n := nodes[name]
		if n.Kind != NodeTask {
			continue
		}
		for _, groupName := range n.Task.AfterGroup {
			members, ok := groupMembers[groupName]
			if !ok {
				errs.add(ErrUnknownDependsOn, fmt.Sprintf("after_group references unknown group %q", groupName), name)
				continue
			}
			n.DependsOn = append(n.DependsOn, members...)
		}
	}

	// Pass 3: resolve provides/needs capabilities.
	errs.Violations = append(errs.Violations, resolveCapabilities(nodes, order).Violations...)

	// Pass 4: resolve input_from into dependency edges.
	for _, name := range order {
		n := nodes[name]
		if n.Kind != NodeTask {
			continue
		}
		for _, in := range n.Task.InputFrom {
			if _, ok := nodes[in.Task]; !ok {
				errs.add(ErrUnknownDependsOn, fmt.Sprintf("input_from references unknown task %q", in.Task), name)
				continue
			}
			n.DependsOn = append(n.DependsOn, in.Task)
		}
	}

	// Pass 5: dedupe edges.
	for _, name := range order {
		nodes[name].DependsOn = dedupeOrdered(nodes[name].DependsOn)
	}

	// Pass 6: evaluate conditions and prune.
	for _, name := range order {
		n := nodes[name]
		if n.Kind != NodeTask || n.Task.When == nil {
			continue
		}
		nodeCtx := ctx
		if len(n.MatrixValues) > 0 {
			nodeCtx.Fields = mergeEnv(ctx.Fields, n.MatrixValues)
		}
		ok, err := evalWhen(n.Task.When, nodeCtx)
		if err != nil {
			errs.add(ErrConditionParse, err.Error(), name)
			continue
		}
		if !ok {
			n.Pruned = true
			n.PruneReason = PruneReasonConditionFalse
		}
	}

	// Pass 7: validate (cycles, unknown refs, empty env keys, undeclared mounts).
	resources := make(map[string]pipeline.Resource, len(p.Resources))
	for _, r := range p.Resources {
		resources[r.Name] = r
	}
	errs.Violations = append(errs.Violations, validate(nodes, order, resources).Violations...)

	if err := errs.errOrNil(); err != nil {
		return nil, err
	}

	return &Graph{
		PipelineName: p.Name,
		Nodes:        nodes,
		Order:        order,
	}, nil
}

// dedupeOrdered removes duplicate strings while preserving first
// occurrence order.
func dedupeOrdered(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
