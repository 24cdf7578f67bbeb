// Package executor invokes a single workflow step and returns its StepResult.
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/animus-labs/diagflow/internal/workflow"
)

// Executor runs one activity. Implementations report transport failures as
// workflow.ErrActivityUnreachable and malformed results as workflow.ErrInvalidResponse.
// Execute should return once ctx is done; the scheduler stops waiting for calls
// that do not and discards whatever they return later.
type Executor interface {
	Execute(ctx context.Context, ref workflow.ActivityRef, input map[string]any) (workflow.StepResult, error)
}

type Func func(ctx context.Context, ref workflow.ActivityRef, input map[string]any) (workflow.StepResult, error)

func (f Func) Execute(ctx context.Context, ref workflow.ActivityRef, input map[string]any) (workflow.StepResult, error) {
	return f(ctx, ref, input)
}

// Static returns an executor that always answers with result.
func Static(result workflow.StepResult) Executor {
	return Func(func(ctx context.Context, _ workflow.ActivityRef, _ map[string]any) (workflow.StepResult, error) {
		if err := ctx.Err(); err != nil {
			return workflow.StepResult{}, err
		}
		return result.Clone(), nil
	})
}

// Registry resolves executors by activity name, falling back to a default
// executor (typically HTTP) for names that were not registered.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Executor
	fallback Executor
}

func NewRegistry(fallback Executor) *Registry {
	return &Registry{
		byName:   make(map[string]Executor),
		fallback: fallback,
	}
}

func (r *Registry) Register(name string, exec Executor) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("activity name is required")
	}
	if exec == nil {
		return fmt.Errorf("executor for %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("executor for %q already registered", name)
	}
	r.byName[name] = exec
	return nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Lookup(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if exec, ok := r.byName[name]; ok {
		return exec, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

func (r *Registry) Execute(ctx context.Context, ref workflow.ActivityRef, input map[string]any) (workflow.StepResult, error) {
	exec, ok := r.Lookup(ref.Name)
	if !ok {
		return workflow.StepResult{}, workflow.Errorf(workflow.ErrActivityUnreachable, ref.Name, "no executor registered")
	}
	return exec.Execute(ctx, ref, input)
}
