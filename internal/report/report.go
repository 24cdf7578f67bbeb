// Package report renders a finished traversal as a JSON document and archives
// it to object storage.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/animus-labs/diagflow/internal/platform/objectstore"
	"github.com/animus-labs/diagflow/internal/workflow"
	"github.com/animus-labs/diagflow/internal/workflow/scheduler"
)

const contentType = "application/json"

type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Document is the archived form of a scheduler.Result.
type Document struct {
	RunID      string                         `json:"run_id"`
	Root       string                         `json:"root"`
	Status     workflow.Status                `json:"status"`
	StartedAt  time.Time                      `json:"started_at"`
	FinishedAt time.Time                      `json:"finished_at"`
	Results    map[string]workflow.StepResult `json:"results"`
	Failures   map[string]Failure             `json:"failures"`
}

func FromResult(res scheduler.Result) Document {
	doc := Document{
		RunID:      res.RunID,
		Root:       res.Root,
		Status:     res.Status,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Results:    make(map[string]workflow.StepResult, len(res.Results)),
		Failures:   make(map[string]Failure, len(res.Failures)),
	}
	for name, r := range res.Results {
		doc.Results[name] = r
	}
	for name, err := range res.Failures {
		doc.Failures[name] = Failure{Code: workflow.ErrorCode(err), Message: err.Error()}
	}
	return doc
}

// Key is the object key of a run's archived document.
func Key(runID string) string {
	return "workflows/" + strings.TrimSpace(runID) + "/result.json"
}

// Archive writes res to bucket and returns the object key.
func Archive(ctx context.Context, store objectstore.Store, bucket string, res scheduler.Result) (string, error) {
	if store == nil {
		return "", errors.New("object store is required")
	}
	if strings.TrimSpace(res.RunID) == "" {
		return "", errors.New("run id is required")
	}
	raw, err := json.MarshalIndent(FromResult(res), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	key := Key(res.RunID)
	if err := store.Put(ctx, bucket, key, bytes.NewReader(raw), int64(len(raw)), contentType); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// Load reads an archived document back.
func Load(ctx context.Context, store objectstore.Store, bucket, runID string) (Document, error) {
	if store == nil {
		return Document{}, errors.New("object store is required")
	}
	key := Key(runID)
	body, _, err := store.Get(ctx, bucket, key)
	if err != nil {
		return Document{}, fmt.Errorf("get %s: %w", key, err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", key, err)
	}
	var doc Document
	if err := workflow.DecodeJSON(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return doc, nil
}
