package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/animus-labs/diagflow/internal/platform/logging"
	"github.com/animus-labs/diagflow/internal/workflow"
	"github.com/animus-labs/diagflow/internal/workflow/scheduler"
)

const defaultWriteTimeout = 2 * time.Second

type Inserter interface {
	Insert(ctx context.Context, record Record) (Record, bool, error)
}

// Observer persists every node state change. Write failures are logged and
// never affect the traversal.
type Observer struct {
	store   Inserter
	logger  *slog.Logger
	timeout time.Duration
}

func NewObserver(store Inserter, logger *slog.Logger) *Observer {
	return &Observer{
		store:   store,
		logger:  logging.Component(logger, "ledger"),
		timeout: defaultWriteTimeout,
	}
}

func (o *Observer) Observe(ctx context.Context, ev scheduler.Event) {
	if o == nil || o.store == nil || ev.Kind != scheduler.EventState {
		return
	}
	record, err := RecordFromEvent(ev)
	if err != nil {
		o.logger.Error("encode ledger record", "run_id", ev.RunID, "activity", ev.Activity, "error", err)
		return
	}

	// Terminal events of a canceled traversal still need to land.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()
	if _, _, err := o.store.Insert(writeCtx, record); err != nil {
		o.logger.Error("write ledger record",
			"run_id", ev.RunID,
			"activity", ev.Activity,
			"state", string(ev.State),
			"error", err,
		)
	}
}

func RecordFromEvent(ev scheduler.Event) (Record, error) {
	record := Record{
		RunID:      ev.RunID,
		Activity:   ev.Activity,
		Target:     ev.Target,
		Parent:     ev.Parent,
		Depth:      ev.Depth,
		State:      string(ev.State),
		RecordedAt: ev.At,
	}
	if ev.Err != nil {
		record.ErrorCode = workflow.ErrorCode(ev.Err)
		record.ErrorMessage = ev.Err.Error()
	}
	if ev.Result != nil {
		raw, err := json.Marshal(ev.Result)
		if err != nil {
			return Record{}, err
		}
		record.Result = raw
	}
	return record, nil
}
