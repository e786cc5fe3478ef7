package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" || id2 == "" {
		t.Fatal("NewTraceID returned empty string")
	}
	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestWithValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithInvocationID(ctx, "inv-1")
	ctx = WithActor(ctx, "cli")
	ctx = WithRequestID(ctx, "req-1")

	if got := GetTraceID(ctx); got != "trace-1" {
		t.Errorf("trace id = %q", got)
	}
	if got := GetInvocationID(ctx); got != "inv-1" {
		t.Errorf("invocation id = %q", got)
	}
	if got := GetActor(ctx); got != "cli" {
		t.Errorf("actor = %q", got)
	}
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("request id = %q", got)
	}
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	if GetTraceID(ctx) != "" || GetInvocationID(ctx) != "" || GetActor(ctx) != "" || GetRequestID(ctx) != "" {
		t.Error("expected empty values on a bare context")
	}
}

func TestNewContextPartial(t *testing.T) {
	ctx := NewContext(context.Background(), &TraceContext{TraceID: "trace-2", Actor: "gateway"})

	tc := FromContext(ctx)
	if tc.TraceID != "trace-2" || tc.Actor != "gateway" {
		t.Errorf("unexpected trace context %+v", tc)
	}
	if tc.InvocationID != "" || tc.RequestID != "" {
		t.Errorf("unset fields leaked: %+v", tc)
	}
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())
	if GetTraceID(ctx) == "" {
		t.Fatal("trace id not generated")
	}

	kept := NewRequestContext(WithTraceID(context.Background(), "existing"))
	if GetTraceID(kept) != "existing" {
		t.Error("existing trace id replaced")
	}
}

func TestStartSpanSetsTraceID(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test", "op")
	defer span.End()

	if GetTraceID(ctx) == "" {
		t.Error("StartSpan did not set a trace id")
	}
}
