package toolexecutor

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/chainlesschain/skilltools/pkg/schema"
)

// ExecutionResult is the uniform envelope returned by every invocation.
//
// On success Payload holds the handler's fields other than "success". On
// failure Error and Kind are set and Details carries kind-specific data:
// schema.ValidationErrors, the missing permissions, the risk level, or a
// shape mismatch description.
type ExecutionResult struct {
	InvocationID string
	ToolID       string
	Success      bool
	Payload      map[string]any
	Error        string
	Kind         ErrorKind
	Details      any
	DurationMs   int64
}

// MarshalJSON renders {"success":true, ...payload} or
// {"success":false, "error", "kind", "details"}.
func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	if r.Success {
		out := make(map[string]any, len(r.Payload)+1)
		for k, v := range r.Payload {
			out[k] = v
		}
		out["success"] = true
		return json.Marshal(out)
	}

	out := map[string]any{
		"success": false,
		"error":   r.Error,
		"kind":    r.Kind,
	}
	if r.Details != nil {
		out["details"] = r.Details
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads an envelope produced by MarshalJSON. Details decode as
// generic JSON values.
func (r *ExecutionResult) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	success, ok := raw["success"].(bool)
	if !ok {
		return fmt.Errorf("execution result: missing success flag")
	}

	*r = ExecutionResult{Success: success}
	if success {
		delete(raw, "success")
		r.Payload = raw
		return nil
	}
	r.Error, _ = raw["error"].(string)
	if kind, ok := raw["kind"].(string); ok {
		r.Kind = ErrorKind(kind)
	}
	r.Details = raw["details"]
	return nil
}

func failure(kind ErrorKind, msg string, details any) ExecutionResult {
	return ExecutionResult{Kind: kind, Error: msg, Details: details}
}

// ShapeMismatch describes why handler output was rejected.
type ShapeMismatch struct {
	Detail string                  `json:"detail"`
	Errors schema.ValidationErrors `json:"errors,omitempty"`
}

// shapeOutput turns raw handler output into an envelope. Output must be a map,
// or a value that marshals to a JSON object, carrying a boolean "success";
// "success":false additionally requires a string "error". A successful
// payload is also checked against the tool's return schema when one exists.
func shapeOutput(output any, returnSchema *schema.Node) ExecutionResult {
	fields, err := toObject(output)
	if err != nil {
		return failure(KindResultShapeMismatch, "handler output is not an object", ShapeMismatch{Detail: err.Error()})
	}

	flag, present := fields["success"]
	success, isBool := flag.(bool)
	if !present || !isBool {
		return failure(KindResultShapeMismatch, "handler output has no boolean success field",
			ShapeMismatch{Detail: "missing or non-boolean \"success\""})
	}

	if !success {
		msg, ok := fields["error"].(string)
		if !ok {
			return failure(KindResultShapeMismatch, "handler reported failure without an error message",
				ShapeMismatch{Detail: "\"success\":false requires a string \"error\""})
		}
		rest := make(map[string]any, len(fields))
		for k, v := range fields {
			if k != "success" && k != "error" {
				rest[k] = v
			}
		}
		var details any
		if len(rest) > 0 {
			details = rest
		}
		return failure(KindHandlerExecution, msg, details)
	}

	if returnSchema != nil && !returnSchema.IsEmpty() {
		if _, errs := schema.Validate(returnSchema, fields); len(errs) > 0 {
			return failure(KindResultShapeMismatch, "handler output does not match return schema",
				ShapeMismatch{Detail: errs.Error(), Errors: errs})
		}
	}

	payload := make(map[string]any, len(fields))
	for k, v := range fields {
		if k != "success" {
			payload[k] = v
		}
	}
	return ExecutionResult{Success: true, Payload: payload}
}

func toObject(output any) (map[string]any, error) {
	switch v := output.(type) {
	case nil:
		return nil, fmt.Errorf("handler returned nil")
	case map[string]any:
		if _, err := json.Marshal(v); err != nil {
			return nil, fmt.Errorf("handler output is not JSON encodable: %w", err)
		}
		return v, nil
	}

	rv := reflect.ValueOf(output)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("handler returned nil %s", rv.Type())
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct:
	default:
		return nil, fmt.Errorf("handler returned %s", rv.Kind())
	}

	data, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("marshal handler output: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("handler output is not a JSON object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("handler output marshals to null")
	}
	return fields, nil
}
