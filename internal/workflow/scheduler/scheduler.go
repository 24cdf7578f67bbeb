package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/animus-labs/diagflow/internal/platform/logging"
	"github.com/animus-labs/diagflow/internal/workflow"
	"github.com/animus-labs/diagflow/internal/workflow/executor"
	"github.com/animus-labs/diagflow/internal/workflow/graph"
)

// Result is the externally visible outcome of one traversal.
type Result struct {
	RunID      string
	Root       string
	Status     workflow.Status
	Results    map[string]workflow.StepResult
	Failures   map[string]error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Names returns every aggregated activity name in sorted order.
func (r Result) Names() []string {
	out := make([]string, 0, len(r.Results)+len(r.Failures))
	for name := range r.Results {
		out = append(out, name)
	}
	for name := range r.Failures {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type Scheduler struct {
	exec     executor.Executor
	observer Observer
	logger   *slog.Logger
	sem      *semaphore.Weighted
	now      func() time.Time
	newRunID func() string
}

type Option func(*Scheduler)

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMaxParallel bounds the number of concurrent executor calls. n <= 0 means unbounded.
func WithMaxParallel(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		} else {
			s.sem = nil
		}
	}
}

func WithRunIDs(newID func() string) Option {
	return func(s *Scheduler) { s.newRunID = newID }
}

func New(exec executor.Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		exec:     exec,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Component(s.logger, "scheduler")
	if s.observer == nil {
		s.observer = Observers()
	}
	return s
}

// Run executes root with input and walks every activity reachable from it.
// Node failures are reported in the Result; the returned error is non-nil only
// for fatal traversal errors or cancellation, and the partial Result is still valid.
func (s *Scheduler) Run(ctx context.Context, root workflow.ActivityRef, input map[string]any) (Result, error) {
	if s == nil || s.exec == nil {
		return Result{}, errors.New("scheduler executor is required")
	}
	name := strings.TrimSpace(root.Name)
	if name == "" {
		return Result{}, workflow.Errorf(workflow.ErrMalformedActivityList, "", "root activity name is required")
	}
	target, err := graph.NormalizeTarget(root.Target)
	if err != nil {
		return Result{}, workflow.Errorf(workflow.ErrMalformedActivityList, name, "root: %v", err)
	}

	t := s.begin(ctx, input)
	node := newNode(workflow.ActivityRef{Name: name, Target: target}, nil)
	t.visited[target] = node
	t.observe(t.ctx, node, EventState)

	err = t.branch(t.ctx, node)
	return t.finish(ctx, node, err)
}

// Continue treats an already produced StepResult as the Done root, keyed by
// its name, and walks the activities it declares.
func (s *Scheduler) Continue(ctx context.Context, root workflow.StepResult, input map[string]any) (Result, error) {
	if s == nil || s.exec == nil {
		return Result{}, errors.New("scheduler executor is required")
	}
	if err := root.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", workflow.ErrInvalidResponse, err)
	}

	t := s.begin(ctx, input)
	node := newNode(workflow.ActivityRef{Name: strings.TrimSpace(root.Name)}, nil)
	t.observe(t.ctx, node, EventState)
	if err := node.transition(workflow.NodeRunning); err != nil {
		return t.finish(ctx, node, err)
	}
	t.observe(t.ctx, node, EventState)

	exp, err := t.settle(t.ctx, node, root.Clone(), nil)
	if err == nil && node.State() == workflow.NodeDone {
		err = t.expand(t.ctx, node, exp)
	}
	return t.finish(ctx, node, err)
}

type traversal struct {
	s      *Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	runID  string
	input  map[string]any
	agg    *aggregate
	start  time.Time

	mu      sync.Mutex
	visited map[string]*Node
}

func (s *Scheduler) begin(ctx context.Context, input map[string]any) *traversal {
	runID, ok := workflow.RunIDFromContext(ctx)
	if !ok {
		runID = s.newRunID()
	}
	tctx, cancel := context.WithCancel(workflow.WithRunID(ctx, runID))
	s.logger.InfoContext(ctx, "workflow started", "run_id", runID)
	return &traversal{
		s:       s,
		ctx:     tctx,
		cancel:  cancel,
		runID:   runID,
		input:   workflow.CloneData(input),
		agg:     newAggregate(),
		start:   s.now().UTC(),
		visited: make(map[string]*Node),
	}
}

func (t *traversal) finish(parent context.Context, root *Node, err error) (Result, error) {
	t.cancel()
	results, failures := t.agg.snapshot()
	res := Result{
		RunID:      t.runID,
		Root:       root.key,
		Results:    results,
		Failures:   failures,
		StartedAt:  t.start,
		FinishedAt: t.s.now().UTC(),
	}
	_, rootDone := results[root.key]
	switch {
	case !rootDone:
		res.Status = workflow.StatusFailed
	case len(failures) > 0:
		res.Status = workflow.StatusPartiallySucceeded
	default:
		res.Status = workflow.StatusSucceeded
	}

	// Errors caused by our own cancellation surface as the caller's context error.
	if err != nil && !workflow.IsFatal(err) {
		if perr := parent.Err(); perr != nil {
			err = perr
		}
	}

	attrs := []any{
		"run_id", res.RunID,
		"status", string(res.Status),
		"done", len(results),
		"failed", len(failures),
		"duration_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	}
	if err != nil {
		t.s.logger.ErrorContext(parent, "workflow aborted", append(attrs, "error", err)...)
	} else {
		t.s.logger.InfoContext(parent, "workflow finished", attrs...)
	}
	return res, err
}

// branch runs n and then its whole subtree.
func (t *traversal) branch(ctx context.Context, n *Node) error {
	exp, err := t.step(ctx, n)
	if err != nil {
		return err
	}
	if n.State() != workflow.NodeDone {
		return nil
	}
	return t.expand(ctx, n, exp)
}

// step moves n to Running, invokes the executor and settles the outcome.
// Only fatal errors and cancellation are returned; node failures are recorded.
func (t *traversal) step(ctx context.Context, n *Node) (graph.Expansion, error) {
	if err := ctx.Err(); err != nil {
		return graph.Expansion{}, err
	}
	if err := n.transition(workflow.NodeRunning); err != nil {
		return graph.Expansion{}, err
	}
	t.observe(ctx, n, EventState)

	res, execErr := t.call(ctx, n)
	if err := ctx.Err(); err != nil {
		t.s.logger.DebugContext(ctx, "discarding abandoned step", "run_id", t.runID, "activity", n.key)
		return graph.Expansion{}, err
	}
	return t.settle(ctx, n, res, execErr)
}

// call runs the executor for n. A call still running when ctx is done is
// abandoned: call returns ctx.Err() at once and the late result is dropped.
func (t *traversal) call(ctx context.Context, n *Node) (workflow.StepResult, error) {
	if t.s.sem != nil {
		if err := t.s.sem.Acquire(ctx, 1); err != nil {
			return workflow.StepResult{}, err
		}
		defer t.s.sem.Release(1)
	}

	type outcome struct {
		res workflow.StepResult
		err error
	}
	done := make(chan outcome, 1)
	input := workflow.CloneData(t.input)
	go func() {
		res, err := t.s.exec.Execute(ctx, n.Ref, input)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return workflow.StepResult{}, ctx.Err()
	}
}

// settle records the node as Done when res is usable and expands cleanly,
// Failed otherwise.
func (t *traversal) settle(ctx context.Context, n *Node, res workflow.StepResult, execErr error) (graph.Expansion, error) {
	if execErr != nil {
		return graph.Expansion{}, t.fail(ctx, n, execErr)
	}
	exp, err := graph.Expand(res)
	if err != nil {
		return graph.Expansion{}, t.fail(ctx, n, err)
	}

	if err := n.transition(workflow.NodeDone); err != nil {
		return graph.Expansion{}, err
	}
	n.result = res
	if err := t.agg.done(n.key, res); err != nil {
		return graph.Expansion{}, err
	}
	t.observe(ctx, n, EventState)
	return exp, nil
}

func (t *traversal) fail(ctx context.Context, n *Node, cause error) error {
	if err := n.transition(workflow.NodeFailed); err != nil {
		return err
	}
	n.err = cause
	if err := t.agg.failed(n.key, cause); err != nil {
		return err
	}
	t.observe(ctx, n, EventState)
	return nil
}

// expand schedules the children of a Done node and waits for all of them.
func (t *traversal) expand(ctx context.Context, parent *Node, exp graph.Expansion) error {
	if exp.Empty() {
		return nil
	}

	children := make([]*Node, 0, len(exp.Refs))
	for _, ref := range exp.Refs {
		child := newNode(ref, parent)
		if err := t.visit(child); err != nil {
			return err
		}
		children = append(children, child)
	}
	for _, child := range children {
		t.observe(ctx, child, EventState)
	}

	g, gctx := errgroup.WithContext(ctx)
	if exp.Parallel {
		for _, child := range children {
			child := child
			g.Go(func() error { return t.branch(gctx, child) })
		}
	} else {
		g.Go(func() error {
			for _, child := range children {
				child := child
				childExp, err := t.step(gctx, child)
				if err != nil {
					return err
				}
				if child.State() == workflow.NodeDone {
					g.Go(func() error { return t.expand(gctx, child, childExp) })
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	t.observe(ctx, parent, EventExpanded)
	return nil
}

// visit registers n's target; a target seen before is a cycle.
func (t *traversal) visit(n *Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.visited[n.Ref.Target]
	if !ok {
		t.visited[n.Ref.Target] = n
		return nil
	}
	if n.hasAncestor(prev) {
		return workflow.Errorf(workflow.ErrCycleDetected, n.key, "%s -> %s revisits %s", n.Parent.path(), n.key, n.Ref.Target)
	}
	return workflow.Errorf(workflow.ErrCycleDetected, n.key, "target %s already visited by %s", n.Ref.Target, prev.path())
}

func (t *traversal) observe(ctx context.Context, n *Node, kind EventKind) {
	ev := Event{
		Kind:     kind,
		RunID:    t.runID,
		Activity: n.key,
		Target:   n.Ref.Target,
		Parent:   parentKey(n),
		Depth:    n.Depth,
		State:    n.state,
		Err:      n.err,
		At:       t.s.now().UTC(),
	}
	if n.state == workflow.NodeDone {
		res := n.result
		ev.Result = &res
	}
	t.s.observer.Observe(ctx, ev)
}
