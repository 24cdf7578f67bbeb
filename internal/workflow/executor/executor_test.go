package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/animus-labs/diagflow/internal/workflow"
)

func TestRegistry_ResolvesByNameThenFallback(t *testing.T) {
	fallback := Static(workflow.StepResult{Process: "diagnostic", Name: "from_fallback"})
	reg := NewRegistry(fallback)
	if err := reg.Register("cloud_zabbix", Static(workflow.StepResult{Process: "diagnostic", Name: "diagnostic_cloud_zabbix"})); err != nil {
		t.Fatalf("Register() err=%v", err)
	}

	res, err := reg.Execute(context.Background(), workflow.ActivityRef{Name: "cloud_zabbix"}, nil)
	if err != nil || res.Name != "diagnostic_cloud_zabbix" {
		t.Fatalf("Execute(cloud_zabbix)=%+v, %v", res, err)
	}
	res, err = reg.Execute(context.Background(), workflow.ActivityRef{Name: "other"}, nil)
	if err != nil || res.Name != "from_fallback" {
		t.Fatalf("Execute(other)=%+v, %v", res, err)
	}
}

func TestRegistry_UnknownWithoutFallback(t *testing.T) {
	_, err := NewRegistry(nil).Execute(context.Background(), workflow.ActivityRef{Name: "ghost"}, nil)
	if !errors.Is(err, workflow.ErrActivityUnreachable) {
		t.Fatalf("err=%v, want ErrActivityUnreachable", err)
	}
}

func TestRegistry_RegisterRejectsDuplicatesAndBlanks(t *testing.T) {
	reg := NewRegistry(nil)
	exec := Static(workflow.StepResult{Process: "p", Name: "n"})
	if err := reg.Register("a", exec); err != nil {
		t.Fatalf("Register() err=%v", err)
	}
	if err := reg.Register("a", exec); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := reg.Register(" ", exec); err == nil {
		t.Fatalf("expected blank name error")
	}
	if err := reg.Register("b", nil); err == nil {
		t.Fatalf("expected nil executor error")
	}
	if diff := cmp.Diff([]string{"a"}, reg.Names()); diff != "" {
		t.Fatalf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestStatic_ReturnsIndependentCopies(t *testing.T) {
	exec := Static(workflow.StepResult{Process: "p", Name: "n", Data: map[string]any{"k": "v"}})
	first, _ := exec.Execute(context.Background(), workflow.ActivityRef{}, nil)
	first.Data["k"] = "mutated"
	second, _ := exec.Execute(context.Background(), workflow.ActivityRef{}, nil)
	if second.Data["k"] != "v" {
		t.Fatalf("static result was mutated through a previous copy")
	}
}

func TestStatic_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Static(workflow.StepResult{Process: "p", Name: "n"}).Execute(ctx, workflow.ActivityRef{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}
