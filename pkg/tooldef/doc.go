// Package tooldef is the typed model of a tool catalog entry.
//
// Invariants:
// - id and name are non-empty; uniqueness is enforced by the registry.
// - Every required name in parameters_schema is a declared property.
// - risk_level is within [1,5]; levels 4 and 5 carry at least one permission.
//
// Definitions decode from JSON or YAML documents using the catalog's
// snake_case keys. Decode runs the meta-schema check before typed decoding.
package tooldef
