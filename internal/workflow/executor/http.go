package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/animus-labs/diagflow/internal/platform/env"
	"github.com/animus-labs/diagflow/internal/platform/requestid"
	"github.com/animus-labs/diagflow/internal/workflow"
	"github.com/animus-labs/diagflow/internal/workflow/schema"
)

const (
	HeaderRequestID = requestid.Header
	HeaderRunID     = "X-Workflow-Run-Id"
)

type HTTPConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
}

func HTTPConfigFromEnv() (HTTPConfig, error) {
	timeout, err := env.Duration("DIAGFLOW_STEP_TIMEOUT", 10*time.Second)
	if err != nil {
		return HTTPConfig{}, err
	}
	maxBody, err := env.Int("DIAGFLOW_STEP_MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return HTTPConfig{}, err
	}
	cfg := HTTPConfig{
		Timeout:      timeout,
		MaxBodyBytes: int64(maxBody),
		UserAgent:    env.String("DIAGFLOW_USER_AGENT", "diagflow"),
	}
	if err := cfg.Validate(); err != nil {
		return HTTPConfig{}, err
	}
	return cfg, nil
}

func (c HTTPConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("DIAGFLOW_STEP_TIMEOUT must be >= 0")
	}
	if c.MaxBodyBytes < 1 {
		return fmt.Errorf("DIAGFLOW_STEP_MAX_BODY_BYTES must be >= 1")
	}
	return nil
}

// HTTPExecutor POSTs the step input to the activity target and decodes the
// StepResult it answers with.
type HTTPExecutor struct {
	client    *http.Client
	cfg       HTTPConfig
	validator *schema.Validator
}

// NewHTTP builds an executor. A nil client gets a pooled transport; a nil
// validator skips schema checks and relies on typed decoding alone.
func NewHTTP(cfg HTTPConfig, validator *schema.Validator, client *http.Client) (*HTTPExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Transport: newTransport()}
	}
	return &HTTPExecutor{client: client, cfg: cfg, validator: validator}, nil
}

func (e *HTTPExecutor) Execute(ctx context.Context, ref workflow.ActivityRef, input map[string]any) (workflow.StepResult, error) {
	if e == nil || e.client == nil {
		return workflow.StepResult{}, fmt.Errorf("http executor not initialized")
	}
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	if input == nil {
		input = map[string]any{}
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return workflow.StepResult{}, fmt.Errorf("marshal input for %s: %w", ref.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ref.Target, bytes.NewReader(payload))
	if err != nil {
		return workflow.StepResult{}, fmt.Errorf("%w: %s: %w", workflow.ErrActivityUnreachable, ref.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, requestid.FromContextOrNew(ctx))
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	if runID, ok := workflow.RunIDFromContext(ctx); ok {
		req.Header.Set(HeaderRunID, runID)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return workflow.StepResult{}, fmt.Errorf("%w: %s: %w", workflow.ErrActivityUnreachable, ref.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBodyBytes+1))
	if err != nil {
		return workflow.StepResult{}, fmt.Errorf("%w: %s: read body: %w", workflow.ErrActivityUnreachable, ref.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return workflow.StepResult{}, workflow.Errorf(workflow.ErrActivityUnreachable, ref.Name, "%s returned status %d", ref.Target, resp.StatusCode)
	}
	if int64(len(raw)) > e.cfg.MaxBodyBytes {
		return workflow.StepResult{}, workflow.Errorf(workflow.ErrInvalidResponse, ref.Name, "body exceeds %d bytes", e.cfg.MaxBodyBytes)
	}

	if e.validator != nil {
		if err := e.validator.ValidateStepResult(raw); err != nil {
			return workflow.StepResult{}, fmt.Errorf("%s: %w", ref.Name, err)
		}
	}
	result, err := workflow.DecodeStepResult(raw)
	if err != nil {
		return workflow.StepResult{}, fmt.Errorf("%s: %w", ref.Name, err)
	}
	return result, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
