package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/animus-labs/diagflow/internal/workflow"
	"github.com/animus-labs/diagflow/internal/workflow/scheduler"
)

func TestQueriesRunScoped(t *testing.T) {
	if !strings.Contains(insertRecordQuery, "ON CONFLICT (run_id, activity, state) DO NOTHING") {
		t.Fatalf("expected idempotency conflict clause in insert query")
	}
	if !strings.Contains(selectRecordQuery, "run_id = $1") {
		t.Fatalf("expected run_id predicate in select query")
	}
	if !strings.Contains(listRecordsByRunQuery, "run_id = $1") {
		t.Fatalf("expected run_id predicate in list query")
	}
	if !strings.Contains(listRecordsByRunQuery, "ORDER BY") {
		t.Fatalf("expected ORDER BY in list query")
	}
	if !strings.Contains(createTableQuery, "UNIQUE (run_id, activity, state)") {
		t.Fatalf("expected unique constraint backing the conflict clause")
	}
}

func TestNilStore(t *testing.T) {
	var s *Store
	if NewStore(nil) != nil {
		t.Fatalf("NewStore(nil) should be nil")
	}
	if err := s.EnsureSchema(context.Background()); err == nil {
		t.Fatalf("EnsureSchema() expected error")
	}
	if _, _, err := s.Insert(context.Background(), Record{}); err == nil {
		t.Fatalf("Insert() expected error")
	}
	if _, err := s.ListByRun(context.Background(), "r1"); err == nil {
		t.Fatalf("ListByRun() expected error")
	}
}

func TestRecordFromEvent(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	res := workflow.StepResult{Process: "diagnostic", Name: "whois", Data: map[string]any{"customer_id": "42"}}
	got, err := RecordFromEvent(scheduler.Event{
		Kind:     scheduler.EventState,
		RunID:    "r1",
		Activity: "whois",
		Target:   "http://localhost:9292/diagnostic/start",
		State:    workflow.NodeDone,
		Result:   &res,
		At:       at,
	})
	if err != nil {
		t.Fatalf("RecordFromEvent() err=%v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(got.Result, &decoded); err != nil {
		t.Fatalf("result not json: %v", err)
	}
	if decoded["name"] != "whois" {
		t.Fatalf("result=%s", got.Result)
	}
	got.Result = nil
	want := Record{
		RunID:      "r1",
		Activity:   "whois",
		Target:     "http://localhost:9292/diagnostic/start",
		State:      "done",
		RecordedAt: at,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordFromEvent_Failure(t *testing.T) {
	cause := fmt.Errorf("%w: cloud_zabbix: status 500", workflow.ErrActivityUnreachable)
	got, err := RecordFromEvent(scheduler.Event{
		Kind:     scheduler.EventState,
		RunID:    "r1",
		Activity: "cloud_zabbix",
		Parent:   "whois",
		Depth:    1,
		State:    workflow.NodeFailed,
		Err:      cause,
	})
	if err != nil {
		t.Fatalf("RecordFromEvent() err=%v", err)
	}
	if got.ErrorCode != workflow.ErrorCode(cause) || got.ErrorMessage != cause.Error() {
		t.Fatalf("error fields=%q %q", got.ErrorCode, got.ErrorMessage)
	}
	if got.Parent != "whois" || got.Depth != 1 || got.Result != nil {
		t.Fatalf("record=%+v", got)
	}
}

type fakeInserter struct {
	mu      sync.Mutex
	records []Record
	ctxErr  []error
	err     error
}

func (f *fakeInserter) Insert(ctx context.Context, record Record) (Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	f.ctxErr = append(f.ctxErr, ctx.Err())
	return record, f.err == nil, f.err
}

func TestObserver_WritesStateEventsOnly(t *testing.T) {
	store := &fakeInserter{}
	obs := NewObserver(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	obs.Observe(ctx, scheduler.Event{Kind: scheduler.EventState, RunID: "r1", Activity: "whois", State: workflow.NodeRunning})
	obs.Observe(ctx, scheduler.Event{Kind: scheduler.EventExpanded, RunID: "r1", Activity: "whois"})

	if len(store.records) != 1 {
		t.Fatalf("records=%d, want 1", len(store.records))
	}
	if store.records[0].State != "running" {
		t.Fatalf("state=%q", store.records[0].State)
	}
	if store.ctxErr[0] != nil {
		t.Fatalf("write context inherited cancellation: %v", store.ctxErr[0])
	}
}

func TestObserver_SwallowsWriteErrors(t *testing.T) {
	store := &fakeInserter{err: errors.New("db down")}
	obs := NewObserver(store, nil)
	obs.Observe(context.Background(), scheduler.Event{Kind: scheduler.EventState, RunID: "r1", Activity: "whois", State: workflow.NodeDone})
	if len(store.records) != 1 {
		t.Fatalf("records=%d", len(store.records))
	}
}

func TestObserver_RecordsTraversal(t *testing.T) {
	store := &fakeInserter{}
	exec := executorFunc(func(_ context.Context, ref workflow.ActivityRef, _ map[string]any) (workflow.StepResult, error) {
		if ref.Name == "root" {
			return workflow.StepResult{Process: "p", Name: "root", NextActivities: workflow.NextActivities{
				Definitions: []workflow.ActivityRef{{Name: "leaf", Target: "http://node/p/leaf"}},
			}}, nil
		}
		return workflow.StepResult{Process: "p", Name: ref.Name}, nil
	})
	s := scheduler.New(exec, scheduler.WithObserver(NewObserver(store, nil)), scheduler.WithRunIDs(func() string { return "run-1" }))
	if _, err := s.Run(context.Background(), workflow.ActivityRef{Name: "root", Target: "http://node/p/root"}, nil); err != nil {
		t.Fatalf("Run() err=%v", err)
	}

	var got []string
	for _, r := range store.records {
		if r.RunID != "run-1" {
			t.Fatalf("run id=%q", r.RunID)
		}
		got = append(got, r.Activity+":"+r.State)
	}
	want := []string{"root:pending", "root:running", "root:done", "leaf:pending", "leaf:running", "leaf:done"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("transitions mismatch (-want +got):\n%s", diff)
	}
}

type executorFunc func(ctx context.Context, ref workflow.ActivityRef, input map[string]any) (workflow.StepResult, error)

func (f executorFunc) Execute(ctx context.Context, ref workflow.ActivityRef, input map[string]any) (workflow.StepResult, error) {
	return f(ctx, ref, input)
}
