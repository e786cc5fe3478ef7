package llmtools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainlesschain/skilltools/pkg/registry"
	"github.com/chainlesschain/skilltools/pkg/risk"
	"github.com/chainlesschain/skilltools/pkg/schema"
	"github.com/chainlesschain/skilltools/pkg/tooldef"
	"github.com/chainlesschain/skilltools/pkg/toolexecutor"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parserDef() *tooldef.ToolDefinition {
	return &tooldef.ToolDefinition{
		ID:          "tool_json_parser",
		Name:        "json_parser",
		Description: "Parse JSON text",
		Category:    "data",
		ParametersSchema: &schema.Node{
			Kind: schema.KindObject,
			Properties: map[string]*schema.Node{
				"json":   {Kind: schema.KindString},
				"action": {Kind: schema.KindString, Enum: []any{"parse"}},
			},
			Required: []string{"json", "action"},
		},
		RiskLevel: risk.Low,
		Enabled:   true,
	}
}

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(parserDef()))
	require.NoError(t, reg.Register(&tooldef.ToolDefinition{
		ID: "tool_ping", Name: "ping", Description: "No arguments", RiskLevel: risk.Low, Enabled: true,
	}))
	require.NoError(t, reg.Register(&tooldef.ToolDefinition{
		ID: "tool_off", Name: "off", RiskLevel: risk.Low, Enabled: false,
	}))
	return reg
}

func decode(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestExportable_SkipsDisabled(t *testing.T) {
	defs := Exportable(newRegistry(t), registry.Filter{})
	require.Len(t, defs, 2)
	assert.Equal(t, "json_parser", defs[0].Name)
	assert.Equal(t, "ping", defs[1].Name)
}

func TestSpecs_AlwaysObjectSchema(t *testing.T) {
	specs := Specs(Exportable(newRegistry(t), registry.Filter{}))
	require.Len(t, specs, 2)

	assert.Equal(t, "object", specs[0].InputSchema["type"])
	assert.Equal(t, []any{"json", "action"}, specs[0].InputSchema["required"])

	assert.Equal(t, "object", specs[1].InputSchema["type"])
	assert.Equal(t, map[string]any{}, specs[1].InputSchema["properties"])
}

func TestAnthropicTools(t *testing.T) {
	tools := AnthropicTools([]*tooldef.ToolDefinition{parserDef()})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)

	m := decode(t, tools[0].OfTool)
	assert.Equal(t, "json_parser", m["name"])
	assert.Equal(t, "Parse JSON text", m["description"])
	input := m["input_schema"].(map[string]any)
	assert.Equal(t, "object", input["type"])
	assert.Equal(t, []any{"json", "action"}, input["required"])
	assert.Contains(t, input["properties"], "json")
}

func TestOpenAITools(t *testing.T) {
	tools := OpenAITools([]*tooldef.ToolDefinition{parserDef()})
	require.Len(t, tools, 1)

	m := decode(t, tools[0])
	assert.Equal(t, "function", m["type"])
	fn := m["function"].(map[string]any)
	assert.Equal(t, "json_parser", fn["name"])
	params := fn["parameters"].(map[string]any)
	assert.Equal(t, "object", params["type"])
	assert.Equal(t, []any{"json", "action"}, params["required"])
}

func TestAnthropicToolCalls(t *testing.T) {
	var msg anthropic.Message
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "m",
		"content": [
			{"type": "text", "text": "Let me parse that."},
			{"type": "tool_use", "id": "tu_1", "name": "json_parser", "input": {"json": "{}", "action": "parse"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 1, "output_tokens": 1}
	}`), &msg))

	calls, err := AnthropicToolCalls(msg.Content)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, ToolCall{ID: "tu_1", Name: "json_parser", Parameters: map[string]any{"json": "{}", "action": "parse"}}, calls[0])
}

func TestOpenAIToolCalls(t *testing.T) {
	calls, err := OpenAIToolCalls([]openai.ChatCompletionMessageToolCall{{
		ID:   "call_1",
		Type: "function",
		Function: openai.ChatCompletionMessageToolCallFunction{
			Name:      "ping",
			Arguments: `{}`,
		},
	}})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "ping", calls[0].Name)
	assert.Equal(t, map[string]any{}, calls[0].Parameters)

	_, err = OpenAIToolCalls([]openai.ChatCompletionMessageToolCall{{
		ID:       "call_2",
		Function: openai.ChatCompletionMessageToolCallFunction{Name: "ping", Arguments: `{`},
	}})
	assert.Error(t, err)
}

func TestDispatch_RoutesThroughExecutor(t *testing.T) {
	reg := newRegistry(t)
	handlers := toolexecutor.NewHandlerTable()
	handlers.Bind("tool_json_parser", func(_ context.Context, args map[string]any) (any, error) {
		return map[string]any{"success": true, "result": map[string]any{}}, nil
	})
	exec := toolexecutor.New(reg, handlers, toolexecutor.Options{})

	calls := []ToolCall{
		{ID: "a", Name: "json_parser", Parameters: map[string]any{"json": "{}", "action": "parse"}},
		{ID: "b", Name: "json_parser", Parameters: map[string]any{"json": "{}"}},
		{ID: "c", Name: "off"},
	}
	results := Dispatch(context.Background(), exec, calls, nil)
	require.Len(t, results, 3)

	assert.False(t, results[0].IsError)
	assert.JSONEq(t, `{"success":true,"result":{}}`, results[0].Content)

	assert.True(t, results[1].IsError)
	assert.Equal(t, toolexecutor.KindSchemaValidation, results[1].Result.Kind)

	assert.True(t, results[2].IsError)
	assert.Equal(t, toolexecutor.KindUnknownTool, results[2].Result.Kind)

	msg := decode(t, AnthropicToolResultMessage(results))
	assert.Equal(t, "user", msg["role"])
	blocks := msg["content"].([]any)
	require.Len(t, blocks, 3)
	first := blocks[0].(map[string]any)
	assert.Equal(t, "tool_result", first["type"])
	assert.Equal(t, "a", first["tool_use_id"])

	toolMsgs := OpenAIToolMessages(results)
	require.Len(t, toolMsgs, 3)
	tm := decode(t, toolMsgs[1])
	assert.Equal(t, "tool", tm["role"])
	assert.Equal(t, "b", tm["tool_call_id"])
}
