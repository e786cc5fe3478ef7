// Package schema validates tool arguments against the JSON-Schema subset used
// by tool definitions: object, array, string, number, integer, boolean and any,
// with required, enum, default, nested properties and items.
//
// Invariants:
// - Every violation is reported, each with a path such as $.items[2].name.
// - Defaults are applied to a returned copy; the input is never modified.
// - Undeclared object properties pass through unless Options.Strict is set.
//
// Usage:
//
//	node, _ := schema.Parse(map[string]any{"type": "object", "required": []any{"json"}, ...})
//	normalized, errs := schema.Validate(node, args)
package schema
