// Package schema validates step bodies against the JSON schemas of the
// workflow-step contract before they are decoded into typed values.
package schema

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/animus-labs/diagflow/internal/workflow"
)

//go:embed step_result.schema.json
var stepResultDoc []byte

//go:embed step_request.schema.json
var stepRequestDoc []byte

var ErrInvalidRequest = errors.New("invalid step request")

type Validator struct {
	stepResult  *openapi3.Schema
	stepRequest *openapi3.Schema
}

func Load(ctx context.Context) (*Validator, error) {
	stepResult, err := loadSchema(ctx, stepResultDoc)
	if err != nil {
		return nil, fmt.Errorf("step result schema: %w", err)
	}
	stepRequest, err := loadSchema(ctx, stepRequestDoc)
	if err != nil {
		return nil, fmt.Errorf("step request schema: %w", err)
	}
	return &Validator{stepResult: stepResult, stepRequest: stepRequest}, nil
}

// StepResultDocument returns the raw JSON schema served to step authors.
func StepResultDocument() []byte {
	return bytes.Clone(stepResultDoc)
}

// ValidateStepResult checks a response body; failures wrap workflow.ErrInvalidResponse.
func (v *Validator) ValidateStepResult(raw []byte) error {
	if v == nil || v.stepResult == nil {
		return errors.New("schema validator not initialized")
	}
	// Validation works on its own decoded view; callers decode the body with
	// workflow.DecodeStepResult, which keeps numbers exact.
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", workflow.ErrInvalidResponse, err)
	}
	if obj, ok := doc.(map[string]any); ok {
		dropNulls(obj, "data", "next_activities")
	}
	if err := v.stepResult.VisitJSON(doc); err != nil {
		return fmt.Errorf("%w: %s", workflow.ErrInvalidResponse, describe(err))
	}
	return nil
}

// ValidateStepRequest checks an entry-step request body; failures wrap ErrInvalidRequest.
func (v *Validator) ValidateStepRequest(body map[string]any) error {
	if v == nil || v.stepRequest == nil {
		return errors.New("schema validator not initialized")
	}
	view, err := jsonView(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := v.stepRequest.VisitJSON(view); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, describe(err))
	}
	return nil
}

// jsonView re-decodes body with plain JSON types so json.Number values
// validate as numbers. body itself is left untouched.
func jsonView(body map[string]any) (any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var view any
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, err
	}
	return view, nil
}

func loadSchema(ctx context.Context, raw []byte) (*openapi3.Schema, error) {
	s := openapi3.NewSchema()
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := s.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return s, nil
}

// dropNulls treats explicit nulls like absent fields.
func dropNulls(obj map[string]any, keys ...string) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v == nil {
			delete(obj, k)
		}
	}
}

func describe(err error) string {
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		path := strings.Join(se.JSONPointer(), "/")
		if path == "" {
			return se.Reason
		}
		return path + ": " + se.Reason
	}
	return err.Error()
}
