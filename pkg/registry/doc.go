// Package registry holds the process-wide set of tool definitions.
//
// Invariants:
// - Tool ids and names are unique; a name never shadows another tool's id.
// - Readers see a complete immutable snapshot and never block on writers.
// - Builtin tools are never replaced or removed; they can only be disabled.
//
// Usage:
//
//	reg := registry.New()
//	_ = reg.Register(def)
//	def, ok := reg.Get("tool_json_parser")
//	_ = reg.SetEnabled("tool_json_parser", false)
package registry
