package llmtools

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainlesschain/skilltools/pkg/tooldef"
)

// AnthropicTools converts definitions into Messages API tool params.
func AnthropicTools(defs []*tooldef.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := inputSchema(def)
		toolParam := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   requiredOf(def),
			},
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return tools
}

// AnthropicToolCalls extracts tool_use blocks from a response.
func AnthropicToolCalls(content []anthropic.ContentBlockUnion) ([]ToolCall, error) {
	var calls []ToolCall
	for _, block := range content {
		b, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		var params map[string]any
		if raw := b.JSON.Input.Raw(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &params); err != nil {
				return nil, fmt.Errorf("failed to parse tool input for %s: %w", b.Name, err)
			}
		}
		calls = append(calls, ToolCall{ID: b.ID, Name: b.Name, Parameters: params})
	}
	return calls, nil
}

// AnthropicToolResultMessage packs results into the user message that answers
// the assistant's tool_use blocks.
func AnthropicToolResultMessage(results []ToolResult) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, anthropic.NewToolResultBlock(r.Call.ID, r.Content, r.IsError))
	}
	return anthropic.NewUserMessage(blocks...)
}
