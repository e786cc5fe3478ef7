// Package builtins implements the handlers shipped with the builtin catalog.
// Other catalog entries are bound by the host application.
package builtins

import (
	"fmt"

	"github.com/chainlesschain/skilltools/pkg/toolexecutor"
)

// Handlers returns the builtin handlers keyed by tool id.
func Handlers() map[string]toolexecutor.HandlerFunc {
	return map[string]toolexecutor.HandlerFunc{
		"tool_json_parser":     JSONParser,
		"tool_uuid_generator":  UUIDGenerator,
		"tool_hash_calculator": HashCalculator,
		"tool_base64_codec":    Base64Codec,
		"tool_text_analyzer":   TextAnalyzer,
	}
}

// Register binds every builtin handler into table and returns the bound ids.
func Register(table *toolexecutor.HandlerTable) []string {
	ids := make([]string, 0, 5)
	for id, fn := range Handlers() {
		table.Bind(id, fn)
		ids = append(ids, id)
	}
	return ids
}

func ok(fields map[string]any) map[string]any {
	fields["success"] = true
	return fields
}

func fail(format string, args ...any) map[string]any {
	return map[string]any{"success": false, "error": fmt.Sprintf(format, args...)}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// intArg reads an integer argument that may arrive as any numeric type.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case uint64:
		return int(v)
	}
	return fallback
}
