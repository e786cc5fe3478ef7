package toolexecutor

import (
	"context"
	"time"

	"github.com/chainlesschain/skilltools/pkg/risk"
)

// InvocationContext carries what the caller grants to one invocation.
type InvocationContext struct {
	// Granted permission strings. Matching is exact.
	Granted []string
	// Approval supplied up front by the caller.
	Approval risk.Approval
	// Timeout overrides the executor default when the tool sets none.
	Timeout time.Duration
	// Actor identifies the caller in logs, audit events and history.
	Actor string
}

type invocationKey struct{}

// Invocation is what a running handler can learn about its call.
type Invocation struct {
	ID      string
	ToolID  string
	Actor   string
	Granted []string
}

// ContextWithInvocation attaches invocation metadata for handlers.
func ContextWithInvocation(ctx context.Context, inv *Invocation) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if inv == nil {
		return ctx
	}
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFromContext returns the invocation metadata, or nil.
func InvocationFromContext(ctx context.Context) *Invocation {
	if ctx == nil {
		return nil
	}
	if inv, ok := ctx.Value(invocationKey{}).(*Invocation); ok {
		return inv
	}
	return nil
}
