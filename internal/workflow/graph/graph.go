// Package graph turns a StepResult's declared next activities into the
// fragment of the workflow graph the scheduler walks next.
package graph

import (
	"errors"
	"net/url"
	"strings"

	"github.com/animus-labs/diagflow/internal/workflow"
)

// Expansion is the ordered set of children declared by one step.
// Parallel carries the step's parallelizable hint.
type Expansion struct {
	Parallel bool
	Refs     []workflow.ActivityRef
}

func (e Expansion) Empty() bool {
	return len(e.Refs) == 0
}

// Expand validates result.NextActivities and returns it as an Expansion.
// Names and targets are trimmed; declaration order is preserved.
func Expand(result workflow.StepResult) (Expansion, error) {
	defs := result.NextActivities.Definitions
	out := Expansion{
		Parallel: result.NextActivities.Parallelizable,
		Refs:     make([]workflow.ActivityRef, 0, len(defs)),
	}

	seen := make(map[string]struct{}, len(defs))
	for i, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return Expansion{}, workflow.Errorf(workflow.ErrMalformedActivityList, result.Name, "definitions[%d].name is required", i)
		}
		target, err := NormalizeTarget(def.Target)
		if err != nil {
			return Expansion{}, workflow.Errorf(workflow.ErrMalformedActivityList, result.Name, "definitions[%d] %q: %v", i, name, err)
		}
		if _, dup := seen[name]; dup {
			return Expansion{}, workflow.Errorf(workflow.ErrDuplicateActivityName, result.Name, "%q declared more than once", name)
		}
		seen[name] = struct{}{}
		out.Refs = append(out.Refs, workflow.ActivityRef{Name: name, Target: target})
	}
	return out, nil
}

// NormalizeTarget requires an absolute http(s) URI and returns it in a form
// suitable for comparing visited targets.
func NormalizeTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("target is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.New("target is not a valid URI")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", errors.New("target must be an absolute http(s) URI")
	}
	if u.Host == "" {
		return "", errors.New("target host is required")
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
