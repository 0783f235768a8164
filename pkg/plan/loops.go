package plan

// CollectLoops walks root and returns every Loop node keyed by id, so the
// engine can evaluate a loop's Until predicate and MaxIterationsPolicy
// once the scheduler reports all of its children terminal for the current
// iteration.
func CollectLoops(root Node) map[string]*Loop {
	out := make(map[string]*Loop)
	collectLoops(root, out)
	return out
}

func collectLoops(n Node, out map[string]*Loop) {
	switch v := n.(type) {
	case *Workflow:
		collectLoopsChildren(v.Children, out)
	case *Sequence:
		collectLoopsChildren(v.Children, out)
	case *Parallel:
		collectLoopsChildren(v.Children, out)
	case *MergeQueue:
		collectLoopsChildren(v.Children, out)
	case *Worktree:
		collectLoopsChildren(v.Children, out)
	case *Loop:
		out[v.ID] = v
		collectLoopsChildren(v.Children, out)
	}
}

func collectLoopsChildren(children []Node, out map[string]*Loop) {
	for _, c := range children {
		collectLoops(c, out)
	}
}
