package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// StepResult is the outcome of a single step. Data is opaque to the engine.
type StepResult struct {
	Process        string         `json:"process"`
	Name           string         `json:"name"`
	Data           map[string]any `json:"data"`
	NextActivities NextActivities `json:"next_activities"`
}

// NextActivities declares the activities to run after a step.
// An empty Definitions list marks a terminal step.
type NextActivities struct {
	Parallelizable bool          `json:"parallelizable"`
	Definitions    []ActivityRef `json:"definitions"`
}

// ActivityRef identifies an invokable step by name and target URI.
type ActivityRef struct {
	Name   string `json:"name"`
	Target string `json:"url"`
}

func (r StepResult) Terminal() bool {
	return len(r.NextActivities.Definitions) == 0
}

func (r StepResult) Validate() error {
	if strings.TrimSpace(r.Process) == "" {
		return errors.New("process is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

// Clone returns a deep copy so callers never share Data with the producer.
func (r StepResult) Clone() StepResult {
	out := r
	out.Data = cloneMap(r.Data)
	if r.NextActivities.Definitions != nil {
		out.NextActivities.Definitions = append([]ActivityRef(nil), r.NextActivities.Definitions...)
	}
	return out
}

func (r StepResult) MarshalJSON() ([]byte, error) {
	type alias StepResult
	a := alias(r)
	if a.Data == nil {
		a.Data = map[string]any{}
	}
	return json.Marshal(a)
}

func (n NextActivities) MarshalJSON() ([]byte, error) {
	defs := n.Definitions
	if defs == nil {
		defs = []ActivityRef{}
	}
	return json.Marshal(struct {
		Parallelizable bool          `json:"parallelizable"`
		Definitions    []ActivityRef `json:"definitions"`
	}{n.Parallelizable, defs})
}

// UnmarshalJSON accepts the canonical object form as well as `null` and `[]`,
// which older step endpoints return for terminal steps.
func (n *NextActivities) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*n = NextActivities{}
		return nil
	case data[0] == '[':
		var defs []ActivityRef
		if err := json.Unmarshal(data, &defs); err != nil {
			return fmt.Errorf("next_activities: %w", err)
		}
		*n = NextActivities{Definitions: defs}
		return nil
	}

	var wire struct {
		Parallelizable json.RawMessage `json:"parallelizable"`
		Definitions    []ActivityRef   `json:"definitions"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("next_activities: %w", err)
	}
	parallel, err := parseFlag(wire.Parallelizable)
	if err != nil {
		return fmt.Errorf("next_activities.parallelizable: %w", err)
	}
	*n = NextActivities{Parallelizable: parallel, Definitions: wire.Definitions}
	return nil
}

// UnmarshalJSON reads the target from "url", falling back to "target".
func (a *ActivityRef) UnmarshalJSON(data []byte) error {
	var wire struct {
		Name   string `json:"name"`
		URL    string `json:"url"`
		Target string `json:"target"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	target := wire.URL
	if strings.TrimSpace(target) == "" {
		target = wire.Target
	}
	*a = ActivityRef{Name: wire.Name, Target: target}
	return nil
}

// DecodeStepResult parses and validates a StepResult body.
// Failures wrap ErrInvalidResponse.
func DecodeStepResult(raw []byte) (StepResult, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return StepResult{}, fmt.Errorf("%w: body is not a JSON object", ErrInvalidResponse)
	}
	var out StepResult
	if err := DecodeJSON(raw, &out); err != nil {
		return StepResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := out.Validate(); err != nil {
		return StepResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	return out, nil
}

// DecodeJSON decodes a single JSON value into v, keeping numbers as
// json.Number so opaque data keeps its exact digits.
func DecodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func parseFlag(raw json.RawMessage) (bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, fmt.Errorf("expected boolean, got %s", raw)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "y":
		return true, nil
	case "no", "false", "n", "":
		return false, nil
	default:
		return false, fmt.Errorf("unsupported value %q", s)
	}
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		return t
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// CloneData deep-copies a JSON-shaped map.
func CloneData(in map[string]any) map[string]any {
	return cloneMap(in)
}
