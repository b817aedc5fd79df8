// Copyright Contributors to the Sykli project

package elaborate

import (
	"fmt"

	"github.com/yairfalse/sykli/internal/pipeline"
)

// validate runs every structural check over the elaborated graph,
// collecting every violation rather than stopping at the first
// (distinct, typed errors per violation kind).
func validate(nodes map[string]*Node, order []string, resources map[string]pipeline.Resource) *Errors {
	errs := &Errors{}

	validateDependsOnKnown(nodes, order, errs)
	validateEmptyEnvKeys(nodes, order, errs)
	validateMounts(nodes, order, resources, errs)
	validateK8sOptions(nodes, order, errs)
	validateCycles(nodes, order, errs)

	return errs
}

func validateK8sOptions(nodes map[string]*Node, order []string, errs *Errors) {
	for _, name := range order {
		n := nodes[name]
		if n.Kind != NodeTask || n.Task.K8s == nil {
			continue
		}
		for _, verr := range pipeline.ValidateK8sOptions(n.Task.K8s) {
			errs.add(ErrInvalidK8sOptions, verr.Error(), name)
		}
	}
}

func validateDependsOnKnown(nodes map[string]*Node, order []string, errs *Errors) {
	for _, name := range order {
		n := nodes[name]
		for _, dep := range n.DependsOn {
			if _, ok := nodes[dep]; !ok {
				errs.add(ErrUnknownDependsOn,
					fmt.Sprintf("depends on unknown task %q", dep), name)
			}
		}
	}
}

func validateEmptyEnvKeys(nodes map[string]*Node, order []string, errs *Errors) {
	for _, name := range order {
		n := nodes[name]
		if n.Kind != NodeTask {
			continue
		}
		for k := range n.Task.Env {
			if k == "" {
				errs.add(ErrEmptyEnvKey, "task has an empty environment variable key", name)
			}
		}
	}
}

func validateMounts(nodes map[string]*Node, order []string, resources map[string]pipeline.Resource, errs *Errors) {
	for _, name := range order {
		n := nodes[name]
		if n.Kind != NodeTask {
			continue
		}
		for _, m := range n.Task.Mounts {
			if _, ok := resources[m.Resource]; !ok {
				errs.add(ErrUndeclaredMount,
					fmt.Sprintf("mount references undeclared resource %q", m.Resource), name)
			}
		}
		for _, cm := range n.Task.CacheMounts {
			if _, ok := resources[cm.Cache]; !ok {
				errs.add(ErrUndeclaredMount,
					fmt.Sprintf("cache_mount references undeclared resource %q", cm.Cache), name)
			}
		}
	}
}

// validateCycles runs Tarjan's strongly-connected-components algorithm
// and reports any SCC of size > 1, plus any self-edge, as a cycle.
func validateCycles(nodes map[string]*Node, order []string, errs *Errors) {
	t := &tarjan{
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
		nodes:   nodes,
	}

	for _, name := range order {
		for _, dep := range nodes[name].DependsOn {
			if dep == name {
				errs.add(ErrCycle, "task depends on itself", name)
			}
		}
	}

	for _, name := range order {
		if _, done := t.index[name]; !done {
			t.strongconnect(name)
		}
	}

	for _, scc := range t.sccs {
		if len(scc) > 1 {
			errs.add(ErrCycle, "cyclic dependency", scc...)
		}
	}
}

// tarjan implements Tarjan's SCC algorithm over the DependsOn edges
// (dep→task, i.e. we walk from a task to its dependencies — cycles are
// direction-agnostic for SCC purposes).
type tarjan struct {
	nodes   map[string]*Node
	counter int
	index   map[string]int
	lowlink map[string]int
	onStack map[string]bool
	stack   []string
	sccs    [][]string
}

func (t *tarjan) strongconnect(v string) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.nodes[v].DependsOn {
		if _, ok := t.nodes[w]; !ok {
			continue // unknown dep already reported separately
		}
		if _, visited := t.index[w]; !visited {
			t.strongconnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.lowlink[v] {
				t.lowlink[v] = t.index[w]
			}
		}
	}

	if t.lowlink[v] == t.index[v] {
		var scc []string
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
}
