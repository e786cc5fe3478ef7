package tooldef

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// DefinitionSchema is the JSON Schema every catalog entry must satisfy
// before it is decoded.
const DefinitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "risk_level"],
  "properties": {
    "id": {
      "type": "string",
      "minLength": 1,
      "description": "Globally unique tool identifier"
    },
    "name": {
      "type": "string",
      "minLength": 1,
      "description": "Unique human-facing tool name"
    },
    "description": { "type": "string" },
    "category": { "type": "string" },
    "tool_type": { "type": "string" },
    "parameters_schema": { "$ref": "#/definitions/schemaNode" },
    "return_schema": { "$ref": "#/definitions/schemaNode" },
    "examples": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "description": { "type": "string" },
          "params": { "type": "object" }
        }
      }
    },
    "required_permissions": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "risk_level": {
      "type": "integer",
      "minimum": 1,
      "maximum": 5
    },
    "is_builtin": { "type": "boolean" },
    "enabled": { "type": "boolean" },
    "version": { "type": "string" },
    "timeout_ms": { "type": "integer", "minimum": 0 }
  },
  "definitions": {
    "schemaNode": {
      "type": "object",
      "properties": {
        "type": {
          "type": "string",
          "enum": ["any", "object", "array", "string", "number", "integer", "boolean"]
        },
        "description": { "type": "string" },
        "enum": { "type": "array" },
        "properties": {
          "type": "object",
          "additionalProperties": { "$ref": "#/definitions/schemaNode" }
        },
        "required": {
          "type": "array",
          "items": { "type": "string" }
        },
        "items": { "$ref": "#/definitions/schemaNode" }
      }
    }
  }
}`

var (
	metaOnce   sync.Once
	metaSchema *gojsonschema.Schema
	metaErr    error
)

func loadMetaSchema() (*gojsonschema.Schema, error) {
	metaOnce.Do(func() {
		metaSchema, metaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(DefinitionSchema))
	})
	return metaSchema, metaErr
}

// ValidateDocument checks a raw decoded definition document against
// DefinitionSchema and reports every violation.
func ValidateDocument(doc map[string]any) error {
	s, err := loadMetaSchema()
	if err != nil {
		return fmt.Errorf("failed to compile definition schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to validate definition document: %w", err)
	}
	if result.Valid() {
		return nil
	}

	id, _ := doc["id"].(string)
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return &InvalidDefinitionError{ID: strings.TrimSpace(id), Problems: problems}
}
