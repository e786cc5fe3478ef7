package builtins

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

const maxIndent = 10

// JSONParser handles tool_json_parser: parse, stringify, validate and query.
func JSONParser(_ context.Context, args map[string]any) (any, error) {
	text := stringArg(args, "json")

	switch stringArg(args, "action") {
	case "parse":
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return fail("invalid JSON: %v", err), nil
		}
		return ok(map[string]any{"result": v}), nil

	case "stringify":
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			// Not JSON yet: stringify the raw text as a JSON string.
			v = text
		}
		indent := intArg(args, "indent", 2)
		if indent < 0 || indent > maxIndent {
			return fail("indent must be between 0 and %d", maxIndent), nil
		}
		var (
			out []byte
			err error
		)
		if indent > 0 {
			out, err = json.MarshalIndent(v, "", strings.Repeat(" ", indent))
		} else {
			out, err = json.Marshal(v)
		}
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"result": string(out)}), nil

	case "validate":
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return ok(map[string]any{"valid": false, "reason": err.Error()}), nil
		}
		return ok(map[string]any{"valid": true}), nil

	case "query":
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return fail("invalid JSON: %v", err), nil
		}
		result, found := queryPath(v, stringArg(args, "path"))
		if !found {
			return fail("path %q not found", stringArg(args, "path")), nil
		}
		return ok(map[string]any{"result": result}), nil
	}

	return fail("unsupported action %q", stringArg(args, "action")), nil
}

// queryPath walks a dot path such as "a.b.0" through decoded JSON. An empty
// path returns the whole document.
func queryPath(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, exists := node[part]
			if !exists {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
