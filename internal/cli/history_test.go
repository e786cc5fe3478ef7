package cli

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryCommands(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "invoke", "tool_hash_calculator", "--args", `{"data":"a"}`, "--actor", "tester")
	require.NoError(t, err)
	_, err = env.run(t, "invoke", "no_such_tool")
	require.Error(t, err)

	t.Run("recent", func(t *testing.T) {
		out, err := env.run(t, "history", "--json", "--actor", "tester")
		require.NoError(t, err)

		var records []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &records))
		require.Len(t, records, 1)
		assert.Equal(t, "tool_hash_calculator", records[0]["tool_id"])
		assert.Equal(t, true, records[0]["success"])
	})

	t.Run("failures", func(t *testing.T) {
		out, err := env.run(t, "history", "--json", "--failures")
		require.NoError(t, err)

		var records []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &records))
		require.Len(t, records, 1)
		assert.Equal(t, "UnknownTool", records[0]["kind"])
	})

	t.Run("table", func(t *testing.T) {
		out, err := env.run(t, "history")
		require.NoError(t, err)
		assert.Contains(t, out, "tool_hash_calculator")
		assert.Contains(t, out, "tester")
	})

	t.Run("stats", func(t *testing.T) {
		out, err := env.run(t, "history", "stats", "--json")
		require.NoError(t, err)

		var stats []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &stats))
		assert.NotEmpty(t, stats)
	})

	t.Run("prune keeps recent records", func(t *testing.T) {
		out, err := env.run(t, "history", "prune", "--older-than", "1h")
		require.NoError(t, err)
		assert.Contains(t, out, "pruned 0 records")
	})
}

func TestHistoryDisabled(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("SKILLTOOLS_HISTORY_ENABLED", "false")

	_, err := env.run(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history is disabled")

	_, statErr := os.Stat(env.dir + "/history.db")
	assert.True(t, os.IsNotExist(statErr))
}
