package scheduler

import (
	"strings"

	"github.com/animus-labs/diagflow/internal/workflow"
)

// Node is the engine-side wrapper of one activity invocation.
// It is mutated only by the goroutine running its step.
type Node struct {
	Ref    workflow.ActivityRef
	Parent *Node
	Depth  int

	key    string
	state  workflow.NodeState
	result workflow.StepResult
	err    error
}

func newNode(ref workflow.ActivityRef, parent *Node) *Node {
	n := &Node{Ref: ref, Parent: parent, key: ref.Name, state: workflow.NodePending}
	if parent != nil {
		n.Depth = parent.Depth + 1
	}
	return n
}

func (n *Node) State() workflow.NodeState { return n.state }

func (n *Node) transition(to workflow.NodeState) error {
	if !workflow.CanTransition(n.state, to) {
		return workflow.Errorf(workflow.ErrInvalidTransition, n.key, "%s -> %s", n.state, to)
	}
	n.state = to
	return nil
}

// path renders the ancestry of n, root first.
func (n *Node) path() string {
	var names []string
	for cur := n; cur != nil; cur = cur.Parent {
		names = append(names, cur.key)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, " -> ")
}

func (n *Node) hasAncestor(other *Node) bool {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur == other {
			return true
		}
	}
	return false
}

func parentKey(n *Node) string {
	if n.Parent == nil {
		return ""
	}
	return n.Parent.key
}
