// Package toolexecutor dispatches invocations to bound tool handlers.
//
// Every call walks the same pipeline: lookup, argument validation,
// permission gate, risk policy, handler execution, result shaping. The first
// failing stage ends the call; nothing is retried.
//
// Invariants:
// - Validation, permission and risk failures never reach a handler.
// - Handler panics, errors, timeouts and malformed output are normalized into
//   an ExecutionResult; none of them escape Invoke.
// - Every handler execution is bounded by a timeout.
//
// Usage:
//
//	handlers := toolexecutor.NewHandlerTable()
//	handlers.Bind("tool_echo", func(ctx context.Context, args map[string]any) (any, error) {
//		return map[string]any{"success": true, "text": args["text"]}, nil
//	})
//	exec := toolexecutor.New(reg, handlers, toolexecutor.Options{})
//	res := exec.Invoke(ctx, "tool_echo", map[string]any{"text": "hi"}, &toolexecutor.InvocationContext{})
package toolexecutor
