package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chainlesschain/skilltools/internal/observability"
	"github.com/chainlesschain/skilltools/pkg/history"
	"github.com/chainlesschain/skilltools/pkg/llmtools"
	"github.com/chainlesschain/skilltools/pkg/registry"
	"github.com/chainlesschain/skilltools/pkg/risk"
	"github.com/chainlesschain/skilltools/pkg/tooldef"
	"github.com/chainlesschain/skilltools/pkg/toolexecutor"
)

// Export formats accepted by tools.export.
const (
	FormatJSON      = "json"
	FormatAnthropic = "anthropic"
	FormatOpenAI    = "openai"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.RegisterMethod("tools.list", s.handleToolsList)
	_ = s.RegisterMethod("tools.get", s.handleToolsGet)
	_ = s.RegisterMethod("tools.categories", s.handleToolsCategories)
	_ = s.RegisterMethod("tools.invoke", s.handleToolsInvoke, Mutating())
	_ = s.RegisterMethod("tools.invokeBatch", s.handleToolsInvokeBatch, Mutating())
	_ = s.RegisterMethod("tools.setEnabled", s.handleToolsSetEnabled, Mutating())
	_ = s.RegisterMethod("tools.register", s.handleToolsRegister, Mutating())
	_ = s.RegisterMethod("tools.unregister", s.handleToolsUnregister, Mutating())
	_ = s.RegisterMethod("tools.export", s.handleToolsExport)
	_ = s.RegisterMethod("clients.list", s.handleClientsList)

	if s.history != nil {
		_ = s.RegisterMethod("history.recent", s.handleHistoryRecent)
		_ = s.RegisterMethod("history.stats", s.handleHistoryStats)
	}
}

func (s *Server) handleToolsList(_ context.Context, params map[string]any) (any, error) {
	filter := filterFromParams(params)
	defs := s.registry.List(filter)
	return map[string]any{
		"tools":      defs,
		"total":      len(defs),
		"generation": s.registry.Generation(),
	}, nil
}

func (s *Server) handleToolsGet(_ context.Context, params map[string]any) (any, error) {
	id, err := requiredString(params, "id")
	if err != nil {
		return nil, err
	}
	def, ok := s.registry.Get(id)
	if !ok {
		return nil, &RPCError{Code: ToolNotFound, Message: fmt.Sprintf("tool not found: %s", id)}
	}
	return def, nil
}

func (s *Server) handleToolsCategories(context.Context, map[string]any) (any, error) {
	return map[string]any{"categories": s.registry.Categories()}, nil
}

// handleToolsInvoke returns the executor envelope as the RPC result; tool
// failures are not RPC errors.
func (s *Server) handleToolsInvoke(ctx context.Context, params map[string]any) (any, error) {
	call, err := callFromParams(ctx, params)
	if err != nil {
		return nil, err
	}
	return s.executor.Invoke(ctx, call.Tool, call.Args, call.Context), nil
}

func (s *Server) handleToolsInvokeBatch(ctx context.Context, params map[string]any) (any, error) {
	raw, ok := params["calls"].([]any)
	if !ok {
		return nil, invalidParams("calls parameter is required and must be an array")
	}

	calls := make([]toolexecutor.Call, 0, len(raw))
	for i, item := range raw {
		p, ok := item.(map[string]any)
		if !ok {
			return nil, invalidParams(fmt.Sprintf("calls[%d] must be an object", i))
		}
		call, err := callFromParams(ctx, p)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return map[string]any{"results": s.executor.InvokeBatch(ctx, calls)}, nil
}

func (s *Server) handleToolsSetEnabled(ctx context.Context, params map[string]any) (any, error) {
	id, err := requiredString(params, "id")
	if err != nil {
		return nil, err
	}
	enabled, ok := params["enabled"].(bool)
	if !ok {
		return nil, invalidParams("enabled parameter is required and must be a boolean")
	}

	err = s.registry.SetEnabled(id, enabled)
	s.audit(ctx, "tools.setEnabled", err, map[string]any{"tool_id": id, "enabled": enabled})
	if err != nil {
		return nil, registryError(err)
	}
	return map[string]any{"id": id, "enabled": enabled}, nil
}

// handleToolsRegister registers a definition document. Definitions added
// over the gateway are never builtin. With replace=true an existing custom
// tool is replaced, subject to the version check.
func (s *Server) handleToolsRegister(ctx context.Context, params map[string]any) (any, error) {
	doc, ok := params["definition"].(map[string]any)
	if !ok {
		return nil, invalidParams("definition parameter is required and must be an object")
	}
	replace, _ := params["replace"].(bool)

	def, err := tooldef.Decode(doc)
	if err != nil {
		s.audit(ctx, "tools.register", err, map[string]any{"tool_id": doc["id"]})
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	def.IsBuiltin = false

	action := "registered"
	if replace {
		if _, exists := s.registry.Get(def.ID); exists {
			err = s.registry.Replace(def)
			action = "replaced"
		} else {
			err = s.registry.Register(def)
		}
	} else {
		err = s.registry.Register(def)
	}
	s.audit(ctx, "tools.register", err, map[string]any{"tool_id": def.ID, "action": action})
	if err != nil {
		return nil, registryError(err)
	}

	if _, bound := s.executor.Handlers().Lookup(def.ID); !bound {
		s.logger.Warn().Str("tool", def.ID).Msg("Tool registered without a bound handler")
	}
	return map[string]any{"id": def.ID, "action": action}, nil
}

func (s *Server) handleToolsUnregister(ctx context.Context, params map[string]any) (any, error) {
	id, err := requiredString(params, "id")
	if err != nil {
		return nil, err
	}
	err = s.registry.Unregister(id)
	s.audit(ctx, "tools.unregister", err, map[string]any{"tool_id": id})
	if err != nil {
		return nil, registryError(err)
	}
	return map[string]any{"id": id, "unregistered": true}, nil
}

func (s *Server) handleToolsExport(_ context.Context, params map[string]any) (any, error) {
	format, _ := params["format"].(string)
	if format == "" {
		format = FormatJSON
	}
	defs := llmtools.Exportable(s.registry, filterFromParams(params))

	switch strings.ToLower(format) {
	case FormatJSON:
		return map[string]any{"format": FormatJSON, "tools": llmtools.Specs(defs)}, nil
	case FormatAnthropic:
		return map[string]any{"format": FormatAnthropic, "tools": llmtools.AnthropicTools(defs)}, nil
	case FormatOpenAI:
		return map[string]any{"format": FormatOpenAI, "tools": llmtools.OpenAITools(defs)}, nil
	default:
		return nil, invalidParams(fmt.Sprintf("unsupported export format %q (want json, anthropic or openai)", format))
	}
}

func (s *Server) handleClientsList(context.Context, map[string]any) (any, error) {
	return map[string]any{"clients": s.clients.GetConnectedClients()}, nil
}

func (s *Server) handleHistoryRecent(ctx context.Context, params map[string]any) (any, error) {
	q := history.Query{}
	q.ToolID, _ = params["tool_id"].(string)
	q.Actor, _ = params["actor"].(string)
	q.Kind, _ = params["kind"].(string)
	q.FailuresOnly, _ = params["failures_only"].(bool)
	if limit, ok := params["limit"].(float64); ok {
		q.Limit = int(limit)
	}
	if since, ok := params["since"].(string); ok && since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return nil, invalidParams("since must be an RFC3339 timestamp")
		}
		q.Since = t
	}

	records, err := s.history.Recent(ctx, q)
	if err != nil {
		return nil, err
	}
	return map[string]any{"records": records}, nil
}

func (s *Server) handleHistoryStats(ctx context.Context, _ map[string]any) (any, error) {
	stats, err := s.history.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"stats": stats}, nil
}

func (s *Server) audit(ctx context.Context, action string, err error, meta map[string]any) {
	status := "success"
	if err != nil {
		status = "failure"
		meta["error"] = err.Error()
	}
	observability.RecordManagementAudit(ctx, action, actorFromContext(ctx), status, meta)
}

// callFromParams reads {tool, args, granted, confirm, elevated, timeout_ms}.
func callFromParams(ctx context.Context, params map[string]any) (toolexecutor.Call, error) {
	tool, err := requiredString(params, "tool")
	if err != nil {
		return toolexecutor.Call{}, err
	}
	args, _ := params["args"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	ic := &toolexecutor.InvocationContext{Actor: actorFromContext(ctx)}
	if granted, ok := params["granted"].([]any); ok {
		for _, g := range granted {
			if str, ok := g.(string); ok {
				ic.Granted = append(ic.Granted, str)
			}
		}
	}
	confirm, _ := params["confirm"].(bool)
	elevated, _ := params["elevated"].(bool)
	ic.Approval = risk.Approval{Confirmed: confirm, Elevated: elevated}
	if ms, ok := params["timeout_ms"].(float64); ok && ms > 0 {
		ic.Timeout = time.Duration(ms) * time.Millisecond
	}

	return toolexecutor.Call{Tool: tool, Args: args, Context: ic}, nil
}

func filterFromParams(params map[string]any) registry.Filter {
	var f registry.Filter
	f.Category, _ = params["category"].(string)
	f.ToolType, _ = params["tool_type"].(string)
	f.Permission, _ = params["permission"].(string)
	f.EnabledOnly, _ = params["enabled_only"].(bool)
	f.BuiltinOnly, _ = params["builtin_only"].(bool)
	f.CustomOnly, _ = params["custom_only"].(bool)
	return f
}

func requiredString(params map[string]any, key string) (string, error) {
	value, ok := params[key].(string)
	if !ok || value == "" {
		return "", invalidParams(fmt.Sprintf("%s parameter is required and must be a string", key))
	}
	return value, nil
}

func invalidParams(msg string) *RPCError {
	return &RPCError{Code: InvalidParams, Message: msg}
}

// registryError maps registry failures onto RPC codes.
func registryError(err error) error {
	var dup *registry.DuplicateError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return &RPCError{Code: ToolNotFound, Message: err.Error()}
	case errors.As(err, &dup):
		return &RPCError{Code: RegistryConflict, Message: err.Error(), Data: map[string]any{
			"field": dup.Field, "value": dup.Value, "owner": dup.Owner,
		}}
	case errors.Is(err, registry.ErrBuiltinImmutable), errors.Is(err, registry.ErrStaleVersion):
		return &RPCError{Code: RegistryConflict, Message: err.Error()}
	default:
		var invalid *tooldef.InvalidDefinitionError
		if errors.As(err, &invalid) {
			return &RPCError{Code: InvalidParams, Message: err.Error()}
		}
		return err
	}
}

func actorFromContext(ctx context.Context) string {
	if id := ClientIDFromContext(ctx); id != "" {
		return "gateway:" + id
	}
	return "gateway"
}
