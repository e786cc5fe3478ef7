package llmtools

import (
	"encoding/json"
	"fmt"

	"github.com/chainlesschain/skilltools/pkg/tooldef"
	"github.com/openai/openai-go"
)

// OpenAITools converts definitions into chat completion function tools.
func OpenAITools(defs []*tooldef.ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(inputSchema(def)),
			},
		})
	}
	return tools
}

// OpenAIToolCalls decodes the function calls of an assistant message.
func OpenAIToolCalls(toolCalls []openai.ChatCompletionMessageToolCall) ([]ToolCall, error) {
	calls := make([]ToolCall, 0, len(toolCalls))
	for _, tc := range toolCalls {
		var params map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &params); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Parameters: params})
	}
	return calls, nil
}

// OpenAIToolMessages renders one tool message per result.
func OpenAIToolMessages(results []ToolResult) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(results))
	for _, r := range results {
		msgs = append(msgs, openai.ToolMessage(r.Content, r.Call.ID))
	}
	return msgs
}
