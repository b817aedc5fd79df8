// Copyright Contributors to the Sykli project

package elaborate

import (
	"fmt"

	"github.com/yairfalse/sykli/internal/pipeline"
)

// expandMatrix performs the Cartesian expansion of a single task
// template over its Matrix dimensions, naming each concrete task
// "task-v1-v2-..." in dimension declaration order and injecting
// matrix values as both environment variables and name suffix. A
// task with no matrix expands to itself.
func expandMatrix(t pipeline.Task) []expandedTask {
	if len(t.Matrix) == 0 {
		return []expandedTask{{task: t, values: nil}}
	}

	combos := cartesian(t.Matrix)
	out := make([]expandedTask, 0, len(combos))
	for _, combo := range combos {
		clone := t
		clone.Matrix = nil
		clone.Env = mergeEnv(t.Env, combo)
		clone.Name = suffixName(t.Name, t.Matrix, combo)
		out = append(out, expandedTask{task: clone, values: combo})
	}
	return out
}

type expandedTask struct {
	task   pipeline.Task
	values map[string]string
}

// cartesian returns every dimension-value assignment in declaration
// order: dims[0] varies slowest, matching the naming scheme
// "task-v1-v2-..." where v1 is the first declared dimension.
func cartesian(dims pipeline.Matrix) []map[string]string {
	combos := []map[string]string{{}}
	for _, dim := range dims {
		var next []map[string]string
		for _, existing := range combos {
			for _, v := range dim.Values {
				c := make(map[string]string, len(existing)+1)
				for k, ev := range existing {
					c[k] = ev
				}
				c[dim.Name] = v
				next = append(next, c)
			}
		}
		combos = next
	}
	return combos
}

func mergeEnv(base map[string]string, combo map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(combo))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range combo {
		out[k] = v
	}
	return out
}

// suffixName appends matrix values in dimension-declaration order.
func suffixName(base string, dims pipeline.Matrix, combo map[string]string) string {
	name := base
	for _, dim := range dims {
		name = fmt.Sprintf("%s-%s", name, combo[dim.Name])
	}
	return name
}

// matrixCount is a convenience used by tests asserting the matrix
// expansion property: Π nᵢ nodes, each distinct.
func matrixCount(dims pipeline.Matrix) int {
	n := 1
	for _, d := range dims {
		n *= len(d.Values)
	}
	return n
}
