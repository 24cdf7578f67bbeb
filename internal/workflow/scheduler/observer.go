package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/animus-labs/diagflow/internal/workflow"
)

type EventKind string

const (
	// EventState reports a node state change.
	EventState EventKind = "state"
	// EventExpanded reports that every child of a node reached a terminal state.
	EventExpanded EventKind = "expanded"
)

type Event struct {
	Kind     EventKind
	RunID    string
	Activity string
	Target   string
	Parent   string
	Depth    int
	State    workflow.NodeState
	Result   *workflow.StepResult
	Err      error
	At       time.Time
}

// Observer receives traversal events. Implementations are called from many
// goroutines at once and must not block for long.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// Observers fans events out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) Observe(ctx context.Context, ev Event) {
	for _, o := range m {
		o.Observe(ctx, ev)
	}
}

// LogObserver writes one structured line per event.
func LogObserver(logger *slog.Logger) Observer {
	return ObserverFunc(func(ctx context.Context, ev Event) {
		attrs := []any{
			"run_id", ev.RunID,
			"activity", ev.Activity,
			"depth", ev.Depth,
		}
		if ev.Parent != "" {
			attrs = append(attrs, "parent", ev.Parent)
		}
		switch {
		case ev.Kind == EventExpanded:
			logger.DebugContext(ctx, "branch expanded", attrs...)
		case ev.State == workflow.NodeFailed:
			attrs = append(attrs, "error_code", workflow.ErrorCode(ev.Err), "error", ev.Err)
			logger.WarnContext(ctx, "activity failed", attrs...)
		case ev.State == workflow.NodeDone:
			logger.InfoContext(ctx, "activity done", attrs...)
		default:
			attrs = append(attrs, "state", string(ev.State))
			logger.DebugContext(ctx, "activity state", attrs...)
		}
	})
}
