package plan

// Seq builds a Sequence node.
func Seq(id string, children ...Node) *Sequence {
	return &Sequence{ID: id, Children: children}
}

// Par builds a Parallel node with an explicit group concurrency cap (0 for
// unbounded, governed only by the global cap).
func Par(id string, groupCap int, children ...Node) *Parallel {
	return &Parallel{ID: id, GroupCap: groupCap, Children: children}
}

// Repeat builds a Loop node.
func Repeat(id string, until func(LoopState) bool, maxIterations int, policy MaxIterationsPolicy, children ...Node) *Loop {
	return &Loop{ID: id, Children: children, Until: until, MaxIterations: maxIterations, MaxIterationsPolicy: policy}
}

// If builds a Branch node.
func If(id string, predicate func() bool, ifTrue, ifFalse Node) *Branch {
	return &Branch{ID: id, Predicate: predicate, IfTrue: ifTrue, IfFalse: ifFalse}
}

// In wraps children in a Worktree bound to workspaceID.
func In(id, workspaceID string, children ...Node) *Worktree {
	return &Worktree{ID: id, WorkspaceID: workspaceID, Children: children}
}

// Queue builds a MergeQueue node.
func Queue(id string, children ...Node) *MergeQueue {
	return &MergeQueue{ID: id, Children: children}
}
