package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/diagflow/internal/platform/requestid"
	"github.com/animus-labs/diagflow/internal/workflow"
	"github.com/animus-labs/diagflow/internal/workflow/schema"
)

func newExecutor(t *testing.T, cfg HTTPConfig) *HTTPExecutor {
	t.Helper()
	v, err := schema.Load(context.Background())
	if err != nil {
		t.Fatalf("schema.Load() err=%v", err)
	}
	exec, err := NewHTTP(cfg, v, nil)
	if err != nil {
		t.Fatalf("NewHTTP() err=%v", err)
	}
	return exec
}

func defaultConfig() HTTPConfig {
	return HTTPConfig{Timeout: 2 * time.Second, MaxBodyBytes: 1 << 16, UserAgent: "diagflow-test"}
}

func TestHTTPExecutor_PostsInputAndDecodes(t *testing.T) {
	var gotBody map[string]any
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method=%s, want POST", r.Method)
		}
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"process":"diagnostic","name":"diagnostic_cloud_zabbix","data":{"cluster_info":"up"},"next_activities":[]}`))
	}))
	defer srv.Close()

	exec := newExecutor(t, defaultConfig())
	ctx := workflow.WithRunID(context.Background(), "run-1")
	res, err := exec.Execute(ctx, workflow.ActivityRef{Name: "cloud_zabbix", Target: srv.URL + "/diagnostic/activity/cloud/zabbix"}, map[string]any{"key": "42"})
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if res.Name != "diagnostic_cloud_zabbix" || !res.Terminal() {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotBody["key"] != "42" {
		t.Fatalf("posted body=%v, want key 42", gotBody)
	}
	if gotHeaders.Get(HeaderRunID) != "run-1" {
		t.Fatalf("%s=%q, want run-1", HeaderRunID, gotHeaders.Get(HeaderRunID))
	}
	if gotHeaders.Get(HeaderRequestID) == "" {
		t.Fatalf("expected %s header", HeaderRequestID)
	}
	if gotHeaders.Get("User-Agent") != "diagflow-test" {
		t.Fatalf("User-Agent=%q", gotHeaders.Get("User-Agent"))
	}
}

func TestHTTPExecutor_NonSuccessStatusIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newExecutor(t, defaultConfig()).Execute(context.Background(), workflow.ActivityRef{Name: "a", Target: srv.URL}, nil)
	if !errors.Is(err, workflow.ErrActivityUnreachable) {
		t.Fatalf("err=%v, want ErrActivityUnreachable", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Fatalf("err=%v should mention the status", err)
	}
}

func TestHTTPExecutor_ConnectionRefusedIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	_, err := newExecutor(t, defaultConfig()).Execute(context.Background(), workflow.ActivityRef{Name: "a", Target: target}, nil)
	if !errors.Is(err, workflow.ErrActivityUnreachable) {
		t.Fatalf("err=%v, want ErrActivityUnreachable", err)
	}
}

func TestHTTPExecutor_MalformedBodyIsInvalidResponse(t *testing.T) {
	bodies := []string{
		`<html>hello</html>`,
		`{"process":"diagnostic"}`,
		`{"process":"diagnostic","name":"x","next_activities":{"parallelizable":"maybe"}}`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		_, err := newExecutor(t, defaultConfig()).Execute(context.Background(), workflow.ActivityRef{Name: "a", Target: srv.URL}, nil)
		srv.Close()
		if !errors.Is(err, workflow.ErrInvalidResponse) {
			t.Fatalf("body %s: err=%v, want ErrInvalidResponse", body, err)
		}
	}
}

func TestHTTPExecutor_OversizedBodyIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"process":"p","name":"n","data":{"pad":"` + strings.Repeat("x", 256) + `"}}`))
	}))
	defer srv.Close()

	cfg := defaultConfig()
	cfg.MaxBodyBytes = 64
	_, err := newExecutor(t, cfg).Execute(context.Background(), workflow.ActivityRef{Name: "a", Target: srv.URL}, nil)
	if !errors.Is(err, workflow.ErrInvalidResponse) {
		t.Fatalf("err=%v, want ErrInvalidResponse", err)
	}
}

func TestHTTPExecutor_TimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := defaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	_, err := newExecutor(t, cfg).Execute(context.Background(), workflow.ActivityRef{Name: "slow", Target: srv.URL}, nil)
	if !errors.Is(err, workflow.ErrActivityUnreachable) {
		t.Fatalf("err=%v, want ErrActivityUnreachable", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want wrapped DeadlineExceeded", err)
	}
}

func TestHTTPConfigFromEnv(t *testing.T) {
	t.Setenv("DIAGFLOW_STEP_TIMEOUT", "3s")
	t.Setenv("DIAGFLOW_STEP_MAX_BODY_BYTES", "0")
	if _, err := HTTPConfigFromEnv(); err == nil {
		t.Fatalf("HTTPConfigFromEnv() expected error for zero body limit")
	}
	t.Setenv("DIAGFLOW_STEP_MAX_BODY_BYTES", "1024")
	cfg, err := HTTPConfigFromEnv()
	if err != nil {
		t.Fatalf("HTTPConfigFromEnv() err=%v", err)
	}
	if cfg.Timeout != 3*time.Second || cfg.MaxBodyBytes != 1024 {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestHTTPExecutor_ForwardsRequestID(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(HeaderRequestID)
		_, _ = w.Write([]byte(`{"process":"p","name":"a"}`))
	}))
	defer srv.Close()

	ctx := requestid.WithContext(context.Background(), "req-7")
	if _, err := newExecutor(t, defaultConfig()).Execute(ctx, workflow.ActivityRef{Name: "a", Target: srv.URL}, nil); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if got != "req-7" {
		t.Fatalf("%s=%q, want req-7", HeaderRequestID, got)
	}
}
