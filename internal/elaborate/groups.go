// Copyright Contributors to the Sykli project

package elaborate

import "github.com/yairfalse/sykli/internal/pipeline"

// flattenGroup returns the additional dependency edges a group
// implies, keyed by member task name, plus the resolved membership
// list (used by after_group resolution). parallel groups imply no
// intra-group edges; chain groups imply a linear edge per adjacent
// pair.
func flattenGroup(g pipeline.Group) (edges map[string][]string, members []string) {
	edges = make(map[string][]string)

	switch g.Kind {
	case pipeline.GroupParallel:
		members = append(members, g.Members...)

	case pipeline.GroupChain:
		members = append(members, g.Members...)
		for i := 1; i < len(g.Members); i++ {
			prev, cur := g.Members[i-1], g.Members[i]
			edges[cur] = append(edges[cur], prev)
		}

	// matrix / matrix_map groups expand their template task elsewhere
	// (expandMatrix); membership is filled in by the caller once the
	// expanded names are known.
	case pipeline.GroupMatrix, pipeline.GroupMatrixMap:
	}

	return edges, members
}
