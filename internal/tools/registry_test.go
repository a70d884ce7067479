package tools

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	clierr "github.com/ggonzalez94/lendtools/internal/errors"
	"github.com/ggonzalez94/lendtools/internal/logging"
	"github.com/ggonzalez94/lendtools/internal/schema"
	"github.com/ggonzalez94/lendtools/internal/telemetry"
)

type fakeTool struct {
	name string
	fn   func(inv Invocation) Response
}

func (f fakeTool) Name() string          { return f.name }
func (f fakeTool) Description() string   { return "fake" }
func (f fakeTool) Schema() schema.Object { return schema.ObjectSchema(schema.Object{}) }
func (f fakeTool) Call(ctx context.Context, inv Invocation) Response {
	return f.fn(inv)
}

func TestRegistryCallAssignsIDAndCounts(t *testing.T) {
	metrics := telemetry.New()
	reg := NewRegistry(logging.Discard(), metrics)
	var seen string
	if err := reg.Register(fakeTool{name: "echo", fn: func(inv Invocation) Response {
		seen = inv.ID
		return Response{Raw: "ok", Summary: "done", Outcome: OutcomeOK}
	}}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	resp := reg.Call(context.Background(), "echo", Invocation{})
	if resp.Outcome != OutcomeOK || resp.Summary != "done" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("expected a uuid invocation id, got %q", seen)
	}
	if got := testutil.ToFloat64(metrics.ToolCallsVec().WithLabelValues("echo", "ok")); got != 1 {
		t.Fatalf("expected one counted call, got %v", got)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry(logging.Discard(), telemetry.New())
	_ = reg.Register(fakeTool{name: "deposit", fn: func(Invocation) Response { return Response{} }})
	resp := reg.Call(context.Background(), "swap", Invocation{})
	if resp.Outcome != OutcomeError {
		t.Fatalf("expected error outcome, got %+v", resp)
	}
	cErr, ok := clierr.As(resp.Err)
	if !ok || cErr.Code != clierr.CodeNotFound || len(cErr.Available) != 1 || cErr.Available[0] != "deposit" {
		t.Fatalf("expected not found error listing deposit, got %v", resp.Err)
	}
}

func TestRegistryRecoversPanics(t *testing.T) {
	metrics := telemetry.New()
	reg := NewRegistry(logging.Discard(), metrics)
	_ = reg.Register(fakeTool{name: "boom", fn: func(Invocation) Response { panic("nil pointer") }})
	resp := reg.Call(context.Background(), "boom", Invocation{})
	if resp.Outcome != OutcomeError {
		t.Fatalf("expected error outcome, got %+v", resp)
	}
	if got := testutil.ToFloat64(metrics.ToolCallsVec().WithLabelValues("boom", "error")); got != 1 {
		t.Fatalf("expected panic counted as error, got %v", got)
	}
}

func TestRegistryRejectsDuplicatesAndSorts(t *testing.T) {
	reg := NewRegistry(logging.Discard(), telemetry.New())
	noop := func(Invocation) Response { return Response{} }
	if err := reg.Register(fakeTool{name: "repay", fn: noop}, fakeTool{name: "borrow", fn: noop}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register(fakeTool{name: "repay", fn: noop}); err == nil {
		t.Fatal("expected duplicate error")
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "borrow" || names[1] != "repay" {
		t.Fatalf("unexpected order %v", names)
	}
}
