package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError is one violation found while validating a value.
type ValidationError struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Message  string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (expected %s, got %s)", e.Path, e.Message, e.Expected, e.Actual)
}

// ValidationErrors is the complete list of violations for one value.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// Paths returns the path of every violation.
func (errs ValidationErrors) Paths() []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Path
	}
	return out
}

// Options tunes validation.
type Options struct {
	// Strict rejects object properties that the schema does not declare.
	Strict bool
}

// Validate checks value against node and returns a normalized copy with
// defaults applied. The input is never modified. All violations are reported.
func Validate(node *Node, value any) (any, ValidationErrors) {
	return ValidateWithOptions(node, value, Options{})
}

// ValidateWithOptions is Validate with explicit options.
func ValidateWithOptions(node *Node, value any, opts Options) (any, ValidationErrors) {
	v := &validator{opts: opts}
	out := v.validate("$", node, value)
	if len(v.errs) > 0 {
		return nil, v.errs
	}
	return out, nil
}

// ValidateObject validates a tool argument document. A nil args map is
// treated as an empty object.
func ValidateObject(node *Node, args map[string]any, opts Options) (map[string]any, ValidationErrors) {
	var in any = args
	if args == nil {
		in = map[string]any{}
	}
	out, errs := ValidateWithOptions(node, in, opts)
	if errs != nil {
		return nil, errs
	}
	m, _ := asMap(out)
	return m, nil
}

type validator struct {
	opts Options
	errs ValidationErrors
}

func (v *validator) fail(path, expected, actual, msg string) {
	v.errs = append(v.errs, ValidationError{Path: path, Expected: expected, Actual: actual, Message: msg})
}

func (v *validator) validate(path string, n *Node, value any) any {
	if n == nil {
		return deepCopy(value)
	}

	var out any
	switch n.Kind {
	case KindAny:
		out = deepCopy(value)
	case KindObject:
		out = v.validateObject(path, n, value)
	case KindArray:
		out = v.validateArray(path, n, value)
	case KindString:
		if _, ok := value.(string); !ok {
			v.fail(path, "string", typeName(value), "type mismatch")
			return nil
		}
		out = value
	case KindNumber:
		if _, ok := asFloat(value); !ok {
			v.fail(path, "number", typeName(value), "type mismatch")
			return nil
		}
		out = value
	case KindInteger:
		f, ok := asFloat(value)
		if !ok || !isIntegral(f) {
			v.fail(path, "integer", typeName(value), "type mismatch")
			return nil
		}
		out = value
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			v.fail(path, "boolean", typeName(value), "type mismatch")
			return nil
		}
		out = value
	default:
		v.fail(path, "known schema type", string(n.Kind), "unsupported schema type")
		return nil
	}

	if len(n.Enum) > 0 && !inEnum(n.Enum, value) {
		v.fail(path, "one of "+formatEnum(n.Enum), fmt.Sprintf("%v", value), "value not in enum")
	}

	return out
}

func (v *validator) validateObject(path string, n *Node, value any) any {
	obj, ok := asMap(value)
	if !ok {
		v.fail(path, "object", typeName(value), "type mismatch")
		return nil
	}

	out := make(map[string]any, len(obj)+len(n.Properties))

	required := make(map[string]bool, len(n.Required))
	for _, name := range n.Required {
		required[name] = true
		if _, present := obj[name]; !present {
			expected := "value"
			if prop, ok := n.Properties[name]; ok && prop.Kind != KindAny {
				expected = string(prop.Kind)
			}
			v.fail(path+"."+name, expected, "missing", "required field missing")
		}
	}

	for _, name := range sortedKeys(n.Properties) {
		prop := n.Properties[name]
		raw, present := obj[name]
		if !present {
			if prop.HasDefault && !required[name] {
				out[name] = deepCopy(prop.Default)
			}
			continue
		}
		out[name] = v.validate(path+"."+name, prop, raw)
	}

	extras := make([]string, 0)
	for name := range obj {
		if _, declared := n.Properties[name]; !declared {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		if v.opts.Strict {
			v.fail(path+"."+name, "no additional properties", "unexpected field", "property not declared")
			continue
		}
		out[name] = deepCopy(obj[name])
	}

	return out
}

func (v *validator) validateArray(path string, n *Node, value any) any {
	items, ok := asSlice(value)
	if !ok {
		v.fail(path, "array", typeName(value), "type mismatch")
		return nil
	}
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = v.validate(fmt.Sprintf("%s[%d]", path, i), n.Items, item)
	}
	return out
}

func inEnum(enum []any, value any) bool {
	for _, candidate := range enum {
		if equalValues(candidate, value) {
			return true
		}
	}
	return false
}

func formatEnum(enum []any) string {
	parts := make([]string, len(enum))
	for i, e := range enum {
		if s, ok := e.(string); ok {
			parts[i] = fmt.Sprintf("%q", s)
		} else {
			parts[i] = fmt.Sprintf("%v", e)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
