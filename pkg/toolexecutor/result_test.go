package toolexecutor

import (
	"encoding/json"
	"testing"

	"github.com/chainlesschain/skilltools/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionResult_MarshalJSON(t *testing.T) {
	ok := ExecutionResult{
		InvocationID: "inv",
		ToolID:       "tool_json_parser",
		Success:      true,
		Payload:      map[string]any{"result": map[string]any{"a": 1}, "success": false},
	}
	data, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"result":{"a":1}}`, string(data))

	failed := ExecutionResult{
		Kind:    KindSchemaValidation,
		Error:   "schema validation failed",
		Details: schema.ValidationErrors{{Path: "$.action", Expected: "string", Actual: "missing", Message: "required property missing"}},
	}
	data, err = json.Marshal(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": false,
		"error": "schema validation failed",
		"kind": "SchemaValidationError",
		"details": [{"path":"$.action","expected":"string","actual":"missing","message":"required property missing"}]
	}`, string(data))

	data, err = json.Marshal(ExecutionResult{Kind: KindUnknownTool, Error: "unknown tool: x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"unknown tool: x","kind":"UnknownTool"}`, string(data))
}

func TestExecutionResult_UnmarshalJSON(t *testing.T) {
	var res ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(`{"success":true,"hash":"abc"}`), &res))
	assert.True(t, res.Success)
	assert.Equal(t, map[string]any{"hash": "abc"}, res.Payload)

	require.NoError(t, json.Unmarshal([]byte(`{"success":false,"error":"denied","kind":"PermissionDenied","details":{"missing":["file:write"]}}`), &res))
	assert.False(t, res.Success)
	assert.Nil(t, res.Payload)
	assert.Equal(t, KindPermissionDenied, res.Kind)
	assert.Equal(t, "denied", res.Error)
	assert.Equal(t, map[string]any{"missing": []any{"file:write"}}, res.Details)

	assert.Error(t, json.Unmarshal([]byte(`{"error":"x"}`), &res))
}

func TestErrorKind_PreDispatch(t *testing.T) {
	pre := map[ErrorKind]bool{
		KindUnknownTool:           true,
		KindSchemaValidation:      true,
		KindPermissionDenied:      true,
		KindRiskApprovalRequired:  true,
		KindHandlerNotImplemented: true,
	}
	for _, k := range AllKinds {
		assert.Equal(t, pre[k], k.PreDispatch(), string(k))
	}
	assert.Equal(t, "ok", metricLabel(""))
}

func TestHandlerTable(t *testing.T) {
	table := NewHandlerTable()
	table.Bind("b", okHandler)
	table.Bind("a", okHandler)
	table.Bind("nil", nil)

	_, ok := table.Lookup("a")
	assert.True(t, ok)
	_, ok = table.Lookup("nil")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, table.Bound())
	assert.Equal(t, []string{"c", "nil"}, table.Missing([]string{"a", "c", "b", "nil"}))

	table.Unbind("a")
	assert.Equal(t, []string{"b"}, table.Bound())
}
