// Package llmtools exposes registered tools to LLM providers and routes the
// tool calls they emit back through the executor.
package llmtools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/chainlesschain/skilltools/pkg/registry"
	"github.com/chainlesschain/skilltools/pkg/tooldef"
	"github.com/chainlesschain/skilltools/pkg/toolexecutor"
)

// Spec is the provider-neutral description of one tool.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is a tool use requested by a model.
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// ToolResult pairs a call with its executor outcome.
type ToolResult struct {
	Call    ToolCall                     `json:"call"`
	Result  toolexecutor.ExecutionResult `json:"result"`
	Content string                       `json:"content"`
	IsError bool                         `json:"is_error"`
}

// Exportable returns the enabled definitions in reg matching f, sorted by name.
// Disabled tools are never offered to a model.
func Exportable(reg *registry.Registry, f registry.Filter) []*tooldef.ToolDefinition {
	f.EnabledOnly = true
	defs := reg.List(f)
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Specs converts definitions to provider-neutral specs.
func Specs(defs []*tooldef.ToolDefinition) []Spec {
	specs := make([]Spec, 0, len(defs))
	for _, def := range defs {
		specs = append(specs, Spec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: inputSchema(def),
		})
	}
	return specs
}

// inputSchema always yields an object schema with a properties map, which
// both providers require.
func inputSchema(def *tooldef.ToolDefinition) map[string]any {
	out := def.ParametersSchema.ToMap()
	out["type"] = "object"
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

func requiredOf(def *tooldef.ToolDefinition) []string {
	if def.ParametersSchema == nil || len(def.ParametersSchema.Required) == 0 {
		return nil
	}
	return append([]string(nil), def.ParametersSchema.Required...)
}

// Dispatch runs model tool calls concurrently and returns results in call
// order. Calls are resolved by tool name or id.
func Dispatch(ctx context.Context, exec *toolexecutor.Executor, calls []ToolCall, ic *toolexecutor.InvocationContext) []ToolResult {
	batch := make([]toolexecutor.Call, len(calls))
	for i, c := range calls {
		batch[i] = toolexecutor.Call{Tool: c.Name, Args: c.Parameters, Context: ic}
	}

	results := exec.InvokeBatch(ctx, batch)

	out := make([]ToolResult, len(calls))
	for i, res := range results {
		out[i] = ToolResult{
			Call:    calls[i],
			Result:  res,
			Content: resultContent(res),
			IsError: !res.Success,
		}
	}
	return out
}

// resultContent renders a result envelope as the text a model sees.
func resultContent(res toolexecutor.ExecutionResult) string {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}
