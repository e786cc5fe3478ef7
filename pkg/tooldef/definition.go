package tooldef

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/chainlesschain/skilltools/pkg/risk"
	"github.com/chainlesschain/skilltools/pkg/schema"
)

// Example is a documented sample invocation. Examples are not validation
// fixtures and may omit required fields.
type Example struct {
	Description string         `json:"description" yaml:"description"`
	Params      map[string]any `json:"params" yaml:"params"`
}

// ToolDefinition describes one invocable tool.
type ToolDefinition struct {
	ID                  string       `json:"id" yaml:"id"`
	Name                string       `json:"name" yaml:"name"`
	Description         string       `json:"description,omitempty" yaml:"description,omitempty"`
	Category            string       `json:"category,omitempty" yaml:"category,omitempty"`
	ToolType            string       `json:"tool_type,omitempty" yaml:"tool_type,omitempty"`
	ParametersSchema    *schema.Node `json:"parameters_schema,omitempty" yaml:"parameters_schema,omitempty"`
	ReturnSchema        *schema.Node `json:"return_schema,omitempty" yaml:"return_schema,omitempty"`
	Examples            []Example    `json:"examples,omitempty" yaml:"examples,omitempty"`
	RequiredPermissions []string     `json:"required_permissions" yaml:"required_permissions"`
	RiskLevel           risk.Level   `json:"risk_level" yaml:"risk_level"`
	IsBuiltin           bool         `json:"is_builtin" yaml:"is_builtin"`
	Enabled             bool         `json:"enabled" yaml:"enabled"`
	Version             string       `json:"version,omitempty" yaml:"version,omitempty"`
	TimeoutMs           int          `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// Timeout returns the per-tool execution timeout, or zero when unset.
func (d *ToolDefinition) Timeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// HasPermission reports whether the tool requires perm.
func (d *ToolDefinition) HasPermission(perm string) bool {
	for _, p := range d.RequiredPermissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the definition.
func (d *ToolDefinition) Clone() *ToolDefinition {
	if d == nil {
		return nil
	}
	c := *d
	c.ParametersSchema = d.ParametersSchema.Clone()
	c.ReturnSchema = d.ReturnSchema.Clone()
	if d.RequiredPermissions != nil {
		c.RequiredPermissions = append([]string(nil), d.RequiredPermissions...)
	}
	if d.Examples != nil {
		c.Examples = make([]Example, len(d.Examples))
		for i, ex := range d.Examples {
			c.Examples[i] = Example{Description: ex.Description}
			if ex.Params != nil {
				c.Examples[i].Params = schema.DeepCopy(ex.Params).(map[string]any)
			}
		}
	}
	return &c
}

// Normalize trims identifiers and deduplicates permissions in place.
func (d *ToolDefinition) Normalize() {
	d.ID = strings.TrimSpace(d.ID)
	d.Name = strings.TrimSpace(d.Name)
	if len(d.RequiredPermissions) == 0 {
		d.RequiredPermissions = []string{}
		return
	}
	seen := make(map[string]bool, len(d.RequiredPermissions))
	perms := make([]string, 0, len(d.RequiredPermissions))
	for _, p := range d.RequiredPermissions {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		perms = append(perms, p)
	}
	sort.Strings(perms)
	d.RequiredPermissions = perms
}

// InvalidDefinitionError lists every structural problem found in a definition.
type InvalidDefinitionError struct {
	ID       string
	Problems []string
}

func (e *InvalidDefinitionError) Error() string {
	id := e.ID
	if id == "" {
		id = "<no id>"
	}
	return fmt.Sprintf("invalid tool definition %s: %s", id, strings.Join(e.Problems, "; "))
}

// Validate checks the structural invariants a definition must satisfy before
// it can be registered.
func Validate(d *ToolDefinition) error {
	if d == nil {
		return &InvalidDefinitionError{Problems: []string{"definition is nil"}}
	}

	var problems []string
	if strings.TrimSpace(d.ID) == "" {
		problems = append(problems, "id cannot be empty")
	}
	if strings.TrimSpace(d.Name) == "" {
		problems = append(problems, "name cannot be empty")
	}
	if !d.RiskLevel.Valid() {
		problems = append(problems, fmt.Sprintf("risk_level %d out of range [1,5]", int(d.RiskLevel)))
	}
	if d.RiskLevel >= risk.High && len(d.RequiredPermissions) == 0 {
		problems = append(problems, fmt.Sprintf("risk_level %d requires at least one required permission", int(d.RiskLevel)))
	}
	for _, p := range d.RequiredPermissions {
		if strings.TrimSpace(p) == "" {
			problems = append(problems, "required_permissions contains an empty entry")
			break
		}
	}

	if d.ParametersSchema != nil {
		if k := d.ParametersSchema.Kind; k != schema.KindObject && k != schema.KindAny {
			problems = append(problems, fmt.Sprintf("parameters_schema must be an object, got %s", k))
		}
		for _, path := range d.ParametersSchema.UndeclaredRequired() {
			problems = append(problems, fmt.Sprintf("parameters_schema requires undeclared property %s", path))
		}
	}
	if d.ReturnSchema != nil {
		for _, path := range d.ReturnSchema.UndeclaredRequired() {
			problems = append(problems, fmt.Sprintf("return_schema requires undeclared property %s", path))
		}
	}

	if d.Version != "" {
		if _, err := semver.NewVersion(d.Version); err != nil {
			problems = append(problems, fmt.Sprintf("invalid version %q: %v", d.Version, err))
		}
	}
	if d.TimeoutMs < 0 {
		problems = append(problems, "timeout_ms cannot be negative")
	}

	if len(problems) > 0 {
		return &InvalidDefinitionError{ID: d.ID, Problems: problems}
	}
	return nil
}

// IsNewerOrEqual reports whether candidate's version is at least current's.
// Unversioned definitions always compare as equal.
func IsNewerOrEqual(candidate, current *ToolDefinition) bool {
	if candidate.Version == "" || current.Version == "" {
		return true
	}
	cv, err := semver.NewVersion(candidate.Version)
	if err != nil {
		return false
	}
	ov, err := semver.NewVersion(current.Version)
	if err != nil {
		return true
	}
	return !cv.LessThan(ov)
}

// ExampleViolations validates each example against the parameters schema
// and returns the violations keyed by example index. It is a documentation
// aid; examples are never enforced.
func ExampleViolations(d *ToolDefinition) map[int]schema.ValidationErrors {
	out := make(map[int]schema.ValidationErrors)
	for i, ex := range d.Examples {
		if _, errs := schema.ValidateObject(d.ParametersSchema, ex.Params, schema.Options{}); len(errs) > 0 {
			out[i] = errs
		}
	}
	return out
}

// rawDefinition mirrors ToolDefinition with an optional enabled flag so a
// missing value can default to true.
type rawDefinition struct {
	ToolDefinition
	Enabled *bool `json:"enabled"`
}

// Decode builds a definition from a decoded JSON or YAML document. The
// document is checked against the definition meta-schema first.
func Decode(doc map[string]any) (*ToolDefinition, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode definition: %w", err)
	}

	var raw rawDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode definition %v: %w", doc["id"], err)
	}

	def := raw.ToolDefinition
	def.Enabled = raw.Enabled == nil || *raw.Enabled
	def.Normalize()
	return &def, nil
}

// DecodeJSON decodes a single definition from JSON text.
func DecodeJSON(data []byte) (*ToolDefinition, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse definition: %w", err)
	}
	return Decode(doc)
}
