// Copyright Contributors to the Sykli project

package elaborate

// resolveCapabilities adds, for every needs(cap) on a node, an edge
// from every node that provides(cap). A capability with no provider
// is an elaboration error.
func resolveCapabilities(nodes map[string]*Node, order []string) *Errors {
	providers := make(map[string][]string) // capability name -> providing node names
	for _, name := range order {
		n := nodes[name]
		if n.Kind != NodeTask {
			continue
		}
		for _, cap := range n.Task.Provides {
			providers[cap.Name] = append(providers[cap.Name], name)
		}
	}

	errs := &Errors{}
	for _, name := range order {
		n := nodes[name]
		if n.Kind != NodeTask {
			continue
		}
		for _, need := range n.Task.Needs {
			provs, ok := providers[need.Name]
			if !ok || len(provs) == 0 {
				errs.add(ErrMissingCapability,
					"no task provides capability \""+need.Name+"\"", name)
				continue
			}
			n.DependsOn = append(n.DependsOn, provs...)
		}
	}
	return errs
}
