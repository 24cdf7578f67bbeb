package scheduler

import (
	"sync"

	"github.com/animus-labs/diagflow/internal/workflow"
)

// aggregate collects terminal nodes by activity name. Every key is written once.
type aggregate struct {
	mu       sync.Mutex
	results  map[string]workflow.StepResult
	failures map[string]error
}

func newAggregate() *aggregate {
	return &aggregate{
		results:  make(map[string]workflow.StepResult),
		failures: make(map[string]error),
	}
}

func (a *aggregate) done(name string, res workflow.StepResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkFree(name); err != nil {
		return err
	}
	a.results[name] = res
	return nil
}

func (a *aggregate) failed(name string, cause error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkFree(name); err != nil {
		return err
	}
	a.failures[name] = cause
	return nil
}

func (a *aggregate) checkFree(name string) error {
	if _, ok := a.results[name]; ok {
		return workflow.Errorf(workflow.ErrDuplicateResult, name, "result already recorded")
	}
	if _, ok := a.failures[name]; ok {
		return workflow.Errorf(workflow.ErrDuplicateResult, name, "failure already recorded")
	}
	return nil
}

func (a *aggregate) snapshot() (map[string]workflow.StepResult, map[string]error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	results := make(map[string]workflow.StepResult, len(a.results))
	for k, v := range a.results {
		results[k] = v
	}
	failures := make(map[string]error, len(a.failures))
	for k, v := range a.failures {
		failures[k] = v
	}
	return results, failures
}
