package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Kind is the type tag of a schema node.
type Kind string

const (
	KindAny     Kind = "any"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
)

// ParseKind converts a JSON-Schema type keyword into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindAny, KindObject, KindArray, KindString, KindNumber, KindInteger, KindBoolean:
		return k, nil
	default:
		return "", fmt.Errorf("unsupported schema type %q", s)
	}
}

// Node is one level of a parameters or return schema.
type Node struct {
	Kind        Kind
	Description string
	Enum        []any
	Default     any
	HasDefault  bool

	// Object
	Properties map[string]*Node
	Required   []string

	// Array
	Items *Node
}

// Parse builds a Node tree from a decoded JSON-Schema document.
// A missing "type" means object when "properties" is present, otherwise any.
func Parse(doc map[string]any) (*Node, error) {
	return parseAt("$", doc)
}

func parseAt(path string, doc map[string]any) (*Node, error) {
	n := &Node{Kind: KindAny}

	if raw, ok := doc["type"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%s: type must be a string, got %s", path, typeName(raw))
		}
		kind, err := ParseKind(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		n.Kind = kind
	} else if _, ok := doc["properties"]; ok {
		n.Kind = KindObject
	}

	if d, ok := doc["description"].(string); ok {
		n.Description = d
	}

	if raw, ok := doc["enum"]; ok {
		values, ok := asSlice(raw)
		if !ok {
			return nil, fmt.Errorf("%s: enum must be an array", path)
		}
		n.Enum = values
	}

	if raw, ok := doc["default"]; ok {
		n.Default = deepCopy(raw)
		n.HasDefault = true
	}

	if raw, ok := doc["properties"]; ok {
		props, ok := asMap(raw)
		if !ok {
			return nil, fmt.Errorf("%s: properties must be an object", path)
		}
		n.Properties = make(map[string]*Node, len(props))
		for name, sub := range props {
			subDoc, ok := asMap(sub)
			if !ok {
				return nil, fmt.Errorf("%s.%s: property schema must be an object", path, name)
			}
			child, err := parseAt(path+"."+name, subDoc)
			if err != nil {
				return nil, err
			}
			n.Properties[name] = child
		}
	}

	if raw, ok := doc["required"]; ok {
		values, ok := asSlice(raw)
		if !ok {
			return nil, fmt.Errorf("%s: required must be an array", path)
		}
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: required entries must be strings", path)
			}
			n.Required = append(n.Required, s)
		}
	}

	if raw, ok := doc["items"]; ok {
		itemDoc, ok := asMap(raw)
		if !ok {
			return nil, fmt.Errorf("%s: items must be an object", path)
		}
		items, err := parseAt(path+"[]", itemDoc)
		if err != nil {
			return nil, err
		}
		n.Items = items
	}

	return n, nil
}

// UndeclaredRequired returns the path of every required name that has no
// matching entry in properties, searching nested objects and array items.
func (n *Node) UndeclaredRequired() []string {
	var out []string
	n.walkRequired("$", &out)
	return out
}

func (n *Node) walkRequired(path string, out *[]string) {
	if n == nil {
		return
	}
	for _, name := range n.Required {
		if _, ok := n.Properties[name]; !ok {
			*out = append(*out, path+"."+name)
		}
	}
	for _, name := range sortedKeys(n.Properties) {
		n.Properties[name].walkRequired(path+"."+name, out)
	}
	if n.Items != nil {
		n.Items.walkRequired(path+"[]", out)
	}
}

// IsEmpty reports whether the node places no constraint at all.
func (n *Node) IsEmpty() bool {
	return n == nil || (n.Kind == KindAny && len(n.Enum) == 0 && len(n.Properties) == 0 && n.Items == nil)
}

// ToMap renders the node back into JSON-Schema form.
func (n *Node) ToMap() map[string]any {
	if n == nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if n.Kind != KindAny {
		out["type"] = string(n.Kind)
	}
	if n.Description != "" {
		out["description"] = n.Description
	}
	if len(n.Enum) > 0 {
		out["enum"] = deepCopy(n.Enum)
	}
	if n.HasDefault {
		out["default"] = deepCopy(n.Default)
	}
	if n.Properties != nil {
		props := make(map[string]any, len(n.Properties))
		for name, child := range n.Properties {
			props[name] = child.ToMap()
		}
		out["properties"] = props
	}
	if len(n.Required) > 0 {
		req := make([]any, len(n.Required))
		for i, r := range n.Required {
			req[i] = r
		}
		out["required"] = req
	}
	if n.Items != nil {
		out["items"] = n.Items.ToMap()
	}
	return out
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		Kind:        n.Kind,
		Description: n.Description,
		HasDefault:  n.HasDefault,
		Default:     deepCopy(n.Default),
		Items:       n.Items.Clone(),
	}
	if n.Enum != nil {
		c.Enum = deepCopy(n.Enum).([]any)
	}
	if n.Required != nil {
		c.Required = append([]string(nil), n.Required...)
	}
	if n.Properties != nil {
		c.Properties = make(map[string]*Node, len(n.Properties))
		for name, child := range n.Properties {
			c.Properties[name] = child.Clone()
		}
	}
	return c
}

func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.ToMap())
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}
	parsed, err := Parse(doc)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var doc map[string]any
	if err := value.Decode(&doc); err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}
	parsed, err := Parse(doc)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

func sortedKeys(m map[string]*Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
