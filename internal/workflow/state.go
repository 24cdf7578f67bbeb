package workflow

// NodeState is the lifecycle state of one execution node.
type NodeState string

const (
	NodePending NodeState = "pending"
	NodeRunning NodeState = "running"
	NodeDone    NodeState = "done"
	NodeFailed  NodeState = "failed"
)

func (s NodeState) Terminal() bool {
	return s == NodeDone || s == NodeFailed
}

// CanTransition enforces Pending -> Running -> {Done, Failed}.
func CanTransition(from, to NodeState) bool {
	switch from {
	case NodePending:
		return to == NodeRunning
	case NodeRunning:
		return to == NodeDone || to == NodeFailed
	default:
		return false
	}
}

// Status is the overall outcome of a traversal.
type Status string

const (
	StatusSucceeded          Status = "Succeeded"
	StatusPartiallySucceeded Status = "PartiallySucceeded"
	StatusFailed             Status = "Failed"
)
