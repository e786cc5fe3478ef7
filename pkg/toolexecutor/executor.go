package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/chainlesschain/skilltools/internal/observability"
	"github.com/chainlesschain/skilltools/internal/tracing"
	"github.com/chainlesschain/skilltools/pkg/permission"
	"github.com/chainlesschain/skilltools/pkg/registry"
	"github.com/chainlesschain/skilltools/pkg/risk"
	"github.com/chainlesschain/skilltools/pkg/schema"
	"github.com/chainlesschain/skilltools/pkg/tooldef"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxConcurrency = 16

	tracerName = "skilltools/toolexecutor"
)

// Recorder persists finished invocations.
type Recorder interface {
	RecordInvocation(ctx context.Context, res ExecutionResult, actor string) error
}

// Options configures an Executor. Zero values fall back to defaults.
type Options struct {
	DefaultTimeout time.Duration
	MaxConcurrency int
	// ToolTimeouts override per-tool timeouts by tool id.
	ToolTimeouts map[string]time.Duration
	Recorder     Recorder
	// Approvals, when set, is asked before a call is refused for lack of
	// approval.
	Approvals *ApprovalManager
}

// Call is one entry of a batch.
type Call struct {
	Tool    string
	Args    map[string]any
	Context *InvocationContext
}

// Executor runs invocations against a registry and a handler table.
type Executor struct {
	registry *registry.Registry
	handlers *HandlerTable
	opts     Options
}

// New creates an Executor.
func New(reg *registry.Registry, handlers *HandlerTable, opts Options) *Executor {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if handlers == nil {
		handlers = NewHandlerTable()
	}

	observability.EnsureRegistered()

	log.Info().
		Dur("default_timeout", opts.DefaultTimeout).
		Int("max_concurrency", opts.MaxConcurrency).
		Bool("approval_channel", opts.Approvals != nil).
		Msg("Tool executor initialized")

	return &Executor{registry: reg, handlers: handlers, opts: opts}
}

// Registry returns the registry the executor reads from.
func (e *Executor) Registry() *registry.Registry {
	return e.registry
}

// Handlers returns the executor's handler table.
func (e *Executor) Handlers() *HandlerTable {
	return e.handlers
}

// CheckBindings returns the enabled tools that have no handler.
func (e *Executor) CheckBindings() []string {
	return e.handlers.Missing(e.registry.IDs(registry.Filter{EnabledOnly: true}))
}

// DisableUnbound soft-disables every enabled tool without a handler and
// returns their ids.
func (e *Executor) DisableUnbound() []string {
	missing := e.CheckBindings()
	for _, id := range missing {
		if err := e.registry.SetEnabled(id, false); err != nil {
			log.Warn().Err(err).Str("tool", id).Msg("Failed to disable unbound tool")
		}
	}
	if len(missing) > 0 {
		log.Warn().Int("count", len(missing)).Msg("Disabled tools without handlers")
	}
	return missing
}

// Invoke runs one call through lookup, validation, permission gate, risk
// policy, execution and shaping. It never panics and never returns a raw
// handler error.
func (e *Executor) Invoke(ctx context.Context, tool string, args map[string]any, ic *InvocationContext) ExecutionResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if ic == nil {
		ic = &InvocationContext{}
	}

	start := time.Now()
	invocationID, _ := gonanoid.New()

	if ic.Actor != "" {
		ctx = tracing.WithActor(ctx, ic.Actor)
	}
	ctx, span := tracing.StartInvocation(ctx, tracerName, tool, invocationID)

	res, def := e.run(ctx, invocationID, tool, args, ic)

	res.InvocationID = invocationID
	if def != nil {
		res.ToolID = def.ID
	} else {
		res.ToolID = tool
	}
	res.DurationMs = time.Since(start).Milliseconds()

	span.Finish(res.ToolID, res.Success, string(res.Kind), res.Error)

	e.finish(ctx, res, ic, time.Since(start))
	return res
}

func (e *Executor) run(ctx context.Context, invocationID, tool string, args map[string]any, ic *InvocationContext) (ExecutionResult, *tooldef.ToolDefinition) {
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	// Lookup
	def, ok := e.registry.Get(tool)
	if !ok || !def.Enabled {
		logger.Debug().Str("tool", tool).Bool("registered", ok).Msg("Tool not available")
		return failure(KindUnknownTool, fmt.Sprintf("unknown tool: %s", tool), nil), nil
	}
	handler, bound := e.handlers.Lookup(def.ID)
	if !bound {
		logger.Error().Str("tool", def.ID).Msg("No handler bound for enabled tool")
		return failure(KindHandlerNotImplemented, fmt.Sprintf("no handler bound for tool %s", def.ID), nil), def
	}

	// Validate
	normalized, errs := schema.ValidateObject(def.ParametersSchema, args, schema.Options{})
	if len(errs) > 0 {
		logger.Debug().Str("tool", def.ID).Strs("paths", errs.Paths()).Msg("Argument validation failed")
		return failure(KindSchemaValidation, errs.Error(), errs), def
	}

	// PermissionCheck
	if err := permission.Check(def.RequiredPermissions, ic.Granted); err != nil {
		var denied *permission.DeniedError
		var missing []string
		if errors.As(err, &denied) {
			missing = denied.Missing
		}
		logger.Warn().Str("tool", def.ID).Strs("missing", missing).Msg("Permission denied")
		return failure(KindPermissionDenied, err.Error(), PermissionDetails{Missing: missing}), def
	}

	// RiskCheck
	if err := risk.Check(def.RiskLevel, ic.Approval); err != nil {
		if !e.approveOutOfBand(ctx, invocationID, def, normalized, ic) {
			decision := risk.Classify(def.RiskLevel)
			logger.Warn().
				Str("tool", def.ID).
				Int("risk_level", int(def.RiskLevel)).
				Str("decision", string(decision)).
				Msg("Risk approval required")
			return failure(KindRiskApprovalRequired, err.Error(), RiskDetails{
				Level:    int(def.RiskLevel),
				Decision: string(decision),
			}), def
		}
	}

	// Execute and Shape
	return e.execute(ctx, invocationID, def, handler, normalized, ic), def
}

func (e *Executor) approveOutOfBand(ctx context.Context, invocationID string, def *tooldef.ToolDefinition, args map[string]any, ic *InvocationContext) bool {
	if e.opts.Approvals == nil {
		return false
	}
	granted, reason, err := e.opts.Approvals.Approve(ctx, ApprovalRequest{
		InvocationID: invocationID,
		ToolID:       def.ID,
		ToolName:     def.Name,
		Description:  def.Description,
		RiskLevel:    def.RiskLevel,
		Decision:     risk.Classify(def.RiskLevel),
		Args:         args,
		Actor:        ic.Actor,
	})
	if err != nil {
		reason = err.Error()
	}
	approved := err == nil && risk.Check(def.RiskLevel, granted) == nil

	status := "denied"
	if approved {
		status = "success"
	}
	observability.RecordSecurityAudit(ctx, "approval:"+def.ID, ic.Actor, status, map[string]interface{}{
		"invocation_id": invocationID,
		"risk_level":    int(def.RiskLevel),
		"reason":        reason,
	})
	return approved
}

func (e *Executor) timeoutFor(def *tooldef.ToolDefinition, ic *InvocationContext) time.Duration {
	if t, ok := e.opts.ToolTimeouts[def.ID]; ok && t > 0 {
		return t
	}
	if t := def.Timeout(); t > 0 {
		return t
	}
	if ic.Timeout > 0 {
		return ic.Timeout
	}
	return e.opts.DefaultTimeout
}

func (e *Executor) execute(ctx context.Context, invocationID string, def *tooldef.ToolDefinition, handler HandlerFunc, args map[string]any, ic *InvocationContext) ExecutionResult {
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	timeout := e.timeoutFor(def, ic)

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	handlerCtx := ContextWithInvocation(timeoutCtx, &Invocation{
		ID:      invocationID,
		ToolID:  def.ID,
		Actor:   ic.Actor,
		Granted: append([]string(nil), ic.Granted...),
	})

	resultChan := make(chan any, 1)
	errChan := make(chan error, 1)

	observability.HandlerStarted()
	go func() {
		defer observability.HandlerFinished()
		defer func() {
			if r := recover(); r != nil {
				errChan <- &PanicError{Value: r, Stack: string(debug.Stack())}
			}
		}()

		output, err := handler(handlerCtx, args)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- output
		}
	}()

	logger.Debug().Str("tool", def.ID).Dur("timeout", timeout).Msg("Executing tool")

	select {
	case output := <-resultChan:
		res := shapeOutput(output, def.ReturnSchema)
		if res.Kind == KindResultShapeMismatch {
			logger.Error().Str("tool", def.ID).Str("error", res.Error).Msg("Handler output rejected")
		}
		return res

	case err := <-errChan:
		if res, stopped := e.interrupted(ctx, timeoutCtx, def, timeout); stopped {
			return res
		}
		var panicErr *PanicError
		if errors.As(err, &panicErr) {
			logger.Error().
				Str("tool", def.ID).
				Interface("panic", panicErr.Value).
				Str("stack", panicErr.Stack).
				Msg("Handler panicked")
			return failure(KindHandlerExecution, err.Error(), ExecutionFailure{Cause: err.Error(), Panic: true})
		}
		logger.Error().Str("tool", def.ID).Err(err).Msg("Tool execution failed")
		return failure(KindHandlerExecution, err.Error(), ExecutionFailure{Cause: err.Error()})

	case <-timeoutCtx.Done():
		if res, stopped := e.interrupted(ctx, timeoutCtx, def, timeout); stopped {
			return res
		}
		return e.cancelled(ctx, def, timeoutCtx.Err())
	}
}

// interrupted reports why the handler's context ended, if it did. The
// caller's own cancellation or deadline wins over the handler timeout so a
// HandlerTimeout always names the timeout that fired.
func (e *Executor) interrupted(ctx, timeoutCtx context.Context, def *tooldef.ToolDefinition, timeout time.Duration) (ExecutionResult, bool) {
	if err := ctx.Err(); err != nil {
		return e.cancelled(ctx, def, err), true
	}
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return e.timedOut(ctx, def, timeout), true
	}
	return ExecutionResult{}, false
}

// cancelled reports a call abandoned because the caller gave up on it.
func (e *Executor) cancelled(ctx context.Context, def *tooldef.ToolDefinition, cause error) ExecutionResult {
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Warn().Str("tool", def.ID).Err(cause).Msg("Tool execution cancelled")
	msg := fmt.Sprintf("invocation cancelled: %v", cause)
	return failure(KindHandlerExecution, msg, ExecutionFailure{Cause: msg, Cancelled: true})
}

// timedOut reports a handler that outlived its deadline. Whatever it returns
// later is discarded.
func (e *Executor) timedOut(ctx context.Context, def *tooldef.ToolDefinition, timeout time.Duration) ExecutionResult {
	observability.RecordHandlerTimeout(def.ID)
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Error().
		Str("tool", def.ID).
		Dur("timeout", timeout).
		Msg("Tool execution timeout")
	return failure(KindHandlerTimeout, fmt.Sprintf("tool execution timeout after %v", timeout),
		TimeoutDetails{TimeoutMs: timeout.Milliseconds()})
}

func (e *Executor) finish(ctx context.Context, res ExecutionResult, ic *InvocationContext, duration time.Duration) {
	observability.RecordInvocation(res.ToolID, metricLabel(res.Kind), duration)

	status := "success"
	switch {
	case res.Success:
	case res.Kind == KindPermissionDenied || res.Kind == KindRiskApprovalRequired:
		status = "denied"
	default:
		status = "failure"
	}
	meta := map[string]interface{}{
		"invocation_id": res.InvocationID,
		"duration_ms":   res.DurationMs,
	}
	if !res.Success {
		meta["kind"] = string(res.Kind)
	}
	observability.RecordInvocationAudit(ctx, res.ToolID, ic.Actor, status, meta)

	if e.opts.Recorder != nil {
		if err := e.opts.Recorder.RecordInvocation(context.WithoutCancel(ctx), res, ic.Actor); err != nil {
			log.Warn().Err(err).Str("invocation_id", res.InvocationID).Msg("Failed to record invocation history")
		}
	}

	ev := log.Debug()
	if !res.Success {
		ev = log.Info().Str("kind", string(res.Kind))
	}
	ev.Str("tool", res.ToolID).
		Str("invocation_id", res.InvocationID).
		Bool("success", res.Success).
		Int64("duration_ms", res.DurationMs).
		Msg("Invocation finished")
}

// InvokeBatch runs independent calls concurrently, at most MaxConcurrency at
// a time. Results are returned in input order.
func (e *Executor) InvokeBatch(ctx context.Context, calls []Call) []ExecutionResult {
	results := make([]ExecutionResult, len(calls))

	g := new(errgroup.Group)
	g.SetLimit(e.opts.MaxConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.Invoke(ctx, call.Tool, call.Args, call.Context)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// PermissionDetails accompanies PermissionDenied.
type PermissionDetails struct {
	Missing []string `json:"missing"`
}

// RiskDetails accompanies RiskApprovalRequired.
type RiskDetails struct {
	Level    int    `json:"level"`
	Decision string `json:"decision"`
}

// ExecutionFailure accompanies HandlerExecutionError.
type ExecutionFailure struct {
	Cause     string `json:"cause"`
	Panic     bool   `json:"panic,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// TimeoutDetails accompanies HandlerTimeout.
type TimeoutDetails struct {
	TimeoutMs int64 `json:"timeout_ms"`
}

// PanicError wraps a value recovered from a handler panic.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}
