package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainlesschain/skilltools/pkg/registry"
	"github.com/chainlesschain/skilltools/pkg/risk"
	"github.com/chainlesschain/skilltools/pkg/schema"
	"github.com/chainlesschain/skilltools/pkg/tooldef"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func jsonParserDef() *tooldef.ToolDefinition {
	return &tooldef.ToolDefinition{
		ID:          "tool_json_parser",
		Name:        "json_parser",
		Description: "Parse JSON text",
		Category:    "data",
		ParametersSchema: &schema.Node{
			Kind: schema.KindObject,
			Properties: map[string]*schema.Node{
				"json":   {Kind: schema.KindString},
				"action": {Kind: schema.KindString, Enum: []any{"parse", "stringify"}},
				"indent": {Kind: schema.KindInteger, Default: 2, HasDefault: true},
			},
			Required: []string{"json", "action"},
		},
		ReturnSchema: &schema.Node{
			Kind: schema.KindObject,
			Properties: map[string]*schema.Node{
				"success": {Kind: schema.KindBoolean},
				"result":  {Kind: schema.KindAny},
			},
		},
		RiskLevel: risk.Low,
		Enabled:   true,
	}
}

func walletDef() *tooldef.ToolDefinition {
	return &tooldef.ToolDefinition{
		ID:       "tool_wallet_manager",
		Name:     "wallet_manager",
		Category: "blockchain",
		ParametersSchema: &schema.Node{
			Kind:       schema.KindObject,
			Properties: map[string]*schema.Node{"action": {Kind: schema.KindString}},
			Required:   []string{"action"},
		},
		RequiredPermissions: []string{"wallet:manage"},
		RiskLevel:           risk.Critical,
		Enabled:             true,
	}
}

func simpleDef(id string, level risk.Level, perms ...string) *tooldef.ToolDefinition {
	return &tooldef.ToolDefinition{
		ID:                  id,
		Name:                id + "_name",
		ParametersSchema:    &schema.Node{Kind: schema.KindObject},
		RequiredPermissions: perms,
		RiskLevel:           level,
		Enabled:             true,
	}
}

func parseHandler(_ context.Context, args map[string]any) (any, error) {
	var out any
	if err := json.Unmarshal([]byte(args["json"].(string)), &out); err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true, "result": out, "indent": args["indent"]}, nil
}

func okHandler(_ context.Context, _ map[string]any) (any, error) {
	return map[string]any{"success": true}, nil
}

type fixture struct {
	reg      *registry.Registry
	handlers *HandlerTable
	exec     *Executor
}

func newFixture(t *testing.T, opts Options, defs ...*tooldef.ToolDefinition) *fixture {
	t.Helper()
	reg := registry.New()
	for _, d := range defs {
		require.NoError(t, reg.Register(d))
	}
	handlers := NewHandlerTable()
	return &fixture{reg: reg, handlers: handlers, exec: New(reg, handlers, opts)}
}

func TestInvoke_JSONParser(t *testing.T) {
	f := newFixture(t, Options{}, jsonParserDef())
	f.handlers.Bind("tool_json_parser", parseHandler)
	ctx := context.Background()

	res := f.exec.Invoke(ctx, "tool_json_parser", map[string]any{"json": `{"a":1}`, "action": "parse"}, nil)
	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, map[string]any{"a": float64(1)}, res.Payload["result"])
	assert.Equal(t, 2, res.Payload["indent"], "default applied before dispatch")
	assert.Equal(t, "tool_json_parser", res.ToolID)
	assert.NotEmpty(t, res.InvocationID)

	byName := f.exec.Invoke(ctx, "json_parser", map[string]any{"json": `[]`, "action": "parse"}, nil)
	assert.True(t, byName.Success)
	assert.Equal(t, "tool_json_parser", byName.ToolID)

	missing := f.exec.Invoke(ctx, "tool_json_parser", map[string]any{"json": `{"a":1}`}, nil)
	require.False(t, missing.Success)
	assert.Equal(t, KindSchemaValidation, missing.Kind)
	errs, ok := missing.Details.(schema.ValidationErrors)
	require.True(t, ok)
	assert.Contains(t, errs.Paths(), "$.action")
	assert.Contains(t, missing.Error, "action")
}

func TestInvoke_ReportsAllViolations(t *testing.T) {
	f := newFixture(t, Options{}, jsonParserDef())
	f.handlers.Bind("tool_json_parser", parseHandler)

	res := f.exec.Invoke(context.Background(), "tool_json_parser", map[string]any{"action": "explode", "indent": "wide"}, nil)
	require.Equal(t, KindSchemaValidation, res.Kind)
	errs := res.Details.(schema.ValidationErrors)
	assert.ElementsMatch(t, []string{"$.json", "$.action", "$.indent"}, errs.Paths())
}

func TestInvoke_RiskApprovalRequired(t *testing.T) {
	f := newFixture(t, Options{}, walletDef())
	var calls atomic.Int32
	f.handlers.Bind("tool_wallet_manager", func(context.Context, map[string]any) (any, error) {
		calls.Add(1)
		return map[string]any{"success": true, "address": "0xabc"}, nil
	})
	ctx := context.Background()
	args := map[string]any{"action": "create"}
	granted := []string{"wallet:manage"}

	res := f.exec.Invoke(ctx, "tool_wallet_manager", args, &InvocationContext{Granted: granted})
	require.False(t, res.Success)
	assert.Equal(t, KindRiskApprovalRequired, res.Kind)
	assert.Equal(t, RiskDetails{Level: 5, Decision: string(risk.RequireElevatedApproval)}, res.Details)

	confirmed := f.exec.Invoke(ctx, "tool_wallet_manager", args, &InvocationContext{
		Granted:  granted,
		Approval: risk.Approval{Confirmed: true},
	})
	assert.Equal(t, KindRiskApprovalRequired, confirmed.Kind, "confirmation does not satisfy elevated approval")
	assert.Equal(t, int32(0), calls.Load())

	elevated := f.exec.Invoke(ctx, "tool_wallet_manager", args, &InvocationContext{
		Granted:  granted,
		Approval: risk.Approval{Elevated: true},
	})
	require.True(t, elevated.Success)
	assert.Equal(t, "0xabc", elevated.Payload["address"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvoke_PermissionCheckedBeforeRisk(t *testing.T) {
	f := newFixture(t, Options{}, walletDef())
	f.handlers.Bind("tool_wallet_manager", okHandler)

	res := f.exec.Invoke(context.Background(), "tool_wallet_manager", map[string]any{"action": "create"}, nil)
	require.False(t, res.Success)
	assert.Equal(t, KindPermissionDenied, res.Kind)
	assert.Equal(t, PermissionDetails{Missing: []string{"wallet:manage"}}, res.Details)
}

func TestInvoke_UnknownTool(t *testing.T) {
	f := newFixture(t, Options{}, jsonParserDef())
	f.handlers.Bind("tool_json_parser", parseHandler)

	res := f.exec.Invoke(context.Background(), "tool_missing", map[string]any{"anything": make(chan int)}, nil)
	require.False(t, res.Success)
	assert.Equal(t, KindUnknownTool, res.Kind)
	assert.Nil(t, res.Details)
	assert.Equal(t, "tool_missing", res.ToolID)
}

func TestInvoke_DisabledToolIsUnknown(t *testing.T) {
	f := newFixture(t, Options{}, jsonParserDef())
	f.handlers.Bind("tool_json_parser", parseHandler)
	require.NoError(t, f.reg.SetEnabled("tool_json_parser", false))

	res := f.exec.Invoke(context.Background(), "tool_json_parser", map[string]any{"json": "1", "action": "parse"}, nil)
	assert.Equal(t, KindUnknownTool, res.Kind)
}

func TestInvoke_HandlerNotImplemented(t *testing.T) {
	f := newFixture(t, Options{}, jsonParserDef())

	res := f.exec.Invoke(context.Background(), "tool_json_parser", nil, nil)
	require.False(t, res.Success)
	assert.Equal(t, KindHandlerNotImplemented, res.Kind, "binding checked before argument validation")
}

func TestInvoke_HandlerFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler HandlerFunc
		kind    ErrorKind
		check   func(t *testing.T, res ExecutionResult)
	}{
		{
			name:    "error",
			handler: func(context.Context, map[string]any) (any, error) { return nil, errors.New("disk full") },
			kind:    KindHandlerExecution,
			check: func(t *testing.T, res ExecutionResult) {
				assert.Equal(t, ExecutionFailure{Cause: "disk full"}, res.Details)
			},
		},
		{
			name:    "panic",
			handler: func(context.Context, map[string]any) (any, error) { panic("boom") },
			kind:    KindHandlerExecution,
			check: func(t *testing.T, res ExecutionResult) {
				details := res.Details.(ExecutionFailure)
				assert.True(t, details.Panic)
				assert.Contains(t, details.Cause, "boom")
			},
		},
		{
			name: "timeout",
			handler: func(ctx context.Context, _ map[string]any) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			kind: KindHandlerTimeout,
		},
		{
			name: "ignores cancellation",
			handler: func(context.Context, map[string]any) (any, error) {
				time.Sleep(200 * time.Millisecond)
				return map[string]any{"success": true}, nil
			},
			kind: KindHandlerTimeout,
		},
		{
			name:    "reported failure",
			handler: func(context.Context, map[string]any) (any, error) { return map[string]any{"success": false, "error": "bad input", "code": 7}, nil },
			kind:    KindHandlerExecution,
			check: func(t *testing.T, res ExecutionResult) {
				assert.Equal(t, "bad input", res.Error)
				assert.Equal(t, map[string]any{"code": 7}, res.Details)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := simpleDef("tool_flaky", risk.Low)
			def.TimeoutMs = 50
			f := newFixture(t, Options{}, def)
			f.handlers.Bind("tool_flaky", tt.handler)

			res := f.exec.Invoke(context.Background(), "tool_flaky", nil, nil)
			require.False(t, res.Success)
			assert.Equal(t, tt.kind, res.Kind)
			assert.NotEmpty(t, res.Error)
			if tt.check != nil {
				tt.check(t, res)
			}
		})
	}
}

func TestInvoke_ResultShapeMismatch(t *testing.T) {
	type wrongShape struct {
		Value int `json:"value"`
	}
	tests := []struct {
		name   string
		output any
	}{
		{"nil", nil},
		{"string", "done"},
		{"slice", []any{1, 2}},
		{"missing success", map[string]any{"value": 1}},
		{"success not bool", map[string]any{"success": "yes"}},
		{"failure without error", map[string]any{"success": false}},
		{"struct without success", wrongShape{Value: 1}},
		{"return schema violation", map[string]any{"success": true, "result": 1, "extra": true, "count": "x"}},
		{"channel in payload", map[string]any{"success": true, "stream": make(chan int)}},
		{"func in payload", map[string]any{"success": true, "next": func() {}}},
		{"NaN in payload", map[string]any{"success": true, "ratio": math.NaN()}},
		{"channel in failure details", map[string]any{"success": false, "error": "boom", "stream": make(chan int)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := simpleDef("tool_shape", risk.Low)
			def.ReturnSchema = &schema.Node{
				Kind: schema.KindObject,
				Properties: map[string]*schema.Node{
					"success": {Kind: schema.KindBoolean},
					"count":   {Kind: schema.KindInteger},
				},
			}
			f := newFixture(t, Options{}, def)
			output := tt.output
			f.handlers.Bind("tool_shape", func(context.Context, map[string]any) (any, error) { return output, nil })

			res := f.exec.Invoke(context.Background(), "tool_shape", nil, nil)
			require.False(t, res.Success)
			assert.Equal(t, KindResultShapeMismatch, res.Kind)
			assert.IsType(t, ShapeMismatch{}, res.Details)
		})
	}
}

func TestInvoke_StructOutput(t *testing.T) {
	type hashResult struct {
		Success bool   `json:"success"`
		Hash    string `json:"hash"`
	}
	f := newFixture(t, Options{}, simpleDef("tool_hash", risk.Low))
	f.handlers.Bind("tool_hash", func(context.Context, map[string]any) (any, error) {
		return &hashResult{Success: true, Hash: "abc"}, nil
	})

	res := f.exec.Invoke(context.Background(), "tool_hash", nil, nil)
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"hash": "abc"}, res.Payload)
}

func TestInvoke_TimeoutPrecedence(t *testing.T) {
	def := simpleDef("tool_slow", risk.Low)
	f := newFixture(t, Options{DefaultTimeout: time.Second}, def)

	var seen atomic.Int64
	f.handlers.Bind("tool_slow", func(ctx context.Context, _ map[string]any) (any, error) {
		deadline, _ := ctx.Deadline()
		seen.Store(int64(time.Until(deadline)))
		return map[string]any{"success": true}, nil
	})

	f.exec.Invoke(context.Background(), "tool_slow", nil, &InvocationContext{Timeout: 100 * time.Millisecond})
	assert.LessOrEqual(t, time.Duration(seen.Load()), 100*time.Millisecond)

	f.exec.Invoke(context.Background(), "tool_slow", nil, nil)
	assert.Greater(t, time.Duration(seen.Load()), 500*time.Millisecond)

	f.exec.opts.ToolTimeouts = map[string]time.Duration{"tool_slow": 20 * time.Millisecond}
	f.exec.Invoke(context.Background(), "tool_slow", nil, &InvocationContext{Timeout: 5 * time.Second})
	assert.LessOrEqual(t, time.Duration(seen.Load()), 20*time.Millisecond)
}

func TestInvoke_HandlerSeesInvocation(t *testing.T) {
	f := newFixture(t, Options{}, simpleDef("tool_ctx", risk.Low))
	var got *Invocation
	f.handlers.Bind("tool_ctx", func(ctx context.Context, _ map[string]any) (any, error) {
		got = InvocationFromContext(ctx)
		return map[string]any{"success": true}, nil
	})

	res := f.exec.Invoke(context.Background(), "tool_ctx", nil, &InvocationContext{Actor: "tester", Granted: []string{"x"}})
	require.True(t, res.Success)
	require.NotNil(t, got)
	assert.Equal(t, res.InvocationID, got.ID)
	assert.Equal(t, "tester", got.Actor)
	assert.Equal(t, []string{"x"}, got.Granted)
}

func TestInvokeBatch_FailuresAreIsolated(t *testing.T) {
	hang := simpleDef("tool_hang", risk.Low)
	hang.TimeoutMs = 50
	f := newFixture(t, Options{MaxConcurrency: 4},
		jsonParserDef(), hang, simpleDef("tool_panic", risk.Low), simpleDef("tool_ok", risk.Low))
	f.handlers.Bind("tool_json_parser", parseHandler)
	f.handlers.Bind("tool_hang", func(context.Context, map[string]any) (any, error) {
		select {}
	})
	f.handlers.Bind("tool_panic", func(context.Context, map[string]any) (any, error) { panic("kaboom") })
	f.handlers.Bind("tool_ok", okHandler)

	calls := []Call{
		{Tool: "tool_hang"},
		{Tool: "tool_json_parser", Args: map[string]any{"json": `{"a":1}`, "action": "parse"}},
		{Tool: "tool_panic"},
		{Tool: "tool_ok"},
		{Tool: "tool_nope"},
	}
	for i := 0; i < 20; i++ {
		calls = append(calls, Call{Tool: "tool_ok"})
	}

	results := f.exec.InvokeBatch(context.Background(), calls)
	require.Len(t, results, len(calls))
	assert.Equal(t, KindHandlerTimeout, results[0].Kind)
	assert.True(t, results[1].Success)
	assert.Equal(t, KindHandlerExecution, results[2].Kind)
	assert.True(t, results[3].Success)
	assert.Equal(t, KindUnknownTool, results[4].Kind)
	for _, res := range results[5:] {
		assert.True(t, res.Success)
	}
}

func TestInvoke_ApprovalChannel(t *testing.T) {
	def := simpleDef("tool_confirm", risk.Elevated)
	var calls atomic.Int32
	handler := func(context.Context, map[string]any) (any, error) {
		calls.Add(1)
		return map[string]any{"success": true}, nil
	}

	t.Run("approved", func(t *testing.T) {
		f := newFixture(t, Options{Approvals: NewApprovalManager(approve)}, def)
		f.handlers.Bind("tool_confirm", handler)
		res := f.exec.Invoke(context.Background(), "tool_confirm", nil, nil)
		assert.True(t, res.Success)
	})

	t.Run("denied", func(t *testing.T) {
		f := newFixture(t, Options{Approvals: NewApprovalManager(stubApprover{resp: ApprovalResponse{Reason: "no"}})}, def)
		f.handlers.Bind("tool_confirm", handler)
		res := f.exec.Invoke(context.Background(), "tool_confirm", nil, nil)
		assert.Equal(t, KindRiskApprovalRequired, res.Kind)
	})

	t.Run("channel timeout", func(t *testing.T) {
		am := NewApprovalManager(stubApprover{resp: approve.resp, delay: time.Second})
		am.SetDefaultTimeout(20 * time.Millisecond)
		f := newFixture(t, Options{Approvals: am}, def)
		f.handlers.Bind("tool_confirm", handler)
		res := f.exec.Invoke(context.Background(), "tool_confirm", nil, nil)
		assert.Equal(t, KindRiskApprovalRequired, res.Kind)
	})

	assert.Equal(t, int32(1), calls.Load())
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordInvocation(ctx context.Context, res ExecutionResult, actor string) error {
	args := m.Called(ctx, res, actor)
	return args.Error(0)
}

func TestInvoke_RecordsHistory(t *testing.T) {
	rec := &mockRecorder{}
	rec.On("RecordInvocation", mock.Anything, mock.MatchedBy(func(res ExecutionResult) bool {
		return res.ToolID == "tool_ok" && res.Success
	}), "cli").Return(nil).Once()
	rec.On("RecordInvocation", mock.Anything, mock.MatchedBy(func(res ExecutionResult) bool {
		return res.Kind == KindUnknownTool
	}), "cli").Return(errors.New("db closed")).Once()

	f := newFixture(t, Options{Recorder: rec}, simpleDef("tool_ok", risk.Low))
	f.handlers.Bind("tool_ok", okHandler)

	ic := &InvocationContext{Actor: "cli"}
	assert.True(t, f.exec.Invoke(context.Background(), "tool_ok", nil, ic).Success)
	assert.Equal(t, KindUnknownTool, f.exec.Invoke(context.Background(), "tool_gone", nil, ic).Kind)

	rec.AssertExpectations(t)
}

func TestInvoke_CallerContextEnds(t *testing.T) {
	waitHandler := func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ignoreHandler := func(context.Context, map[string]any) (any, error) {
		time.Sleep(300 * time.Millisecond)
		return map[string]any{"success": true}, nil
	}

	tests := []struct {
		name    string
		handler HandlerFunc
		ctx     func() (context.Context, context.CancelFunc)
		cause   string
	}{
		{
			name:    "caller deadline",
			handler: waitHandler,
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 30*time.Millisecond)
			},
			cause: "deadline exceeded",
		},
		{
			name:    "caller deadline with handler ignoring it",
			handler: ignoreHandler,
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 30*time.Millisecond)
			},
			cause: "deadline exceeded",
		},
		{
			name:    "caller cancel",
			handler: waitHandler,
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(20*time.Millisecond, cancel)
				return ctx, cancel
			},
			cause: "canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockRecorder{}
			rec.On("RecordInvocation", mock.MatchedBy(func(ctx context.Context) bool {
				return ctx.Err() == nil
			}), mock.MatchedBy(func(res ExecutionResult) bool {
				return res.ToolID == "tool_wait" && res.Kind == KindHandlerExecution
			}), "cli").Return(nil).Once()

			f := newFixture(t, Options{Recorder: rec}, simpleDef("tool_wait", risk.Low))
			f.handlers.Bind("tool_wait", tt.handler)

			ctx, cancel := tt.ctx()
			defer cancel()
			res := f.exec.Invoke(ctx, "tool_wait", nil, &InvocationContext{Actor: "cli"})

			require.False(t, res.Success)
			assert.Equal(t, KindHandlerExecution, res.Kind)
			details, ok := res.Details.(ExecutionFailure)
			require.True(t, ok)
			assert.True(t, details.Cancelled)
			assert.Contains(t, details.Cause, tt.cause)
			rec.AssertExpectations(t)
		})
	}
}

func TestInvoke_HandlerTimeoutReportsFiredTimeout(t *testing.T) {
	def := simpleDef("tool_wait", risk.Low)
	def.TimeoutMs = 40
	f := newFixture(t, Options{}, def)
	f.handlers.Bind("tool_wait", func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := f.exec.Invoke(ctx, "tool_wait", nil, nil)

	require.False(t, res.Success)
	assert.Equal(t, KindHandlerTimeout, res.Kind)
	assert.Equal(t, TimeoutDetails{TimeoutMs: 40}, res.Details)
}

func TestCheckBindingsAndDisableUnbound(t *testing.T) {
	f := newFixture(t, Options{}, simpleDef("tool_a", risk.Low), simpleDef("tool_b", risk.Low), simpleDef("tool_c", risk.Low))
	require.NoError(t, f.reg.SetEnabled("tool_c", false))
	f.handlers.Bind("tool_a", okHandler)

	assert.Equal(t, []string{"tool_b"}, f.exec.CheckBindings())

	assert.Equal(t, []string{"tool_b"}, f.exec.DisableUnbound())
	def, ok := f.reg.Get("tool_b")
	require.True(t, ok)
	assert.False(t, def.Enabled)
	assert.Empty(t, f.exec.CheckBindings())
}
