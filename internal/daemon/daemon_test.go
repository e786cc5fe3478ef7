package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chainlesschain/skilltools/internal/config"
	"github.com/chainlesschain/skilltools/internal/logger"
	"github.com/chainlesschain/skilltools/pkg/history"
	"github.com/chainlesschain/skilltools/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoTool = `{"id": "custom_echo", "name": "echo", "description": "Echo", "risk_level": 1, "required_permissions": []}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Catalog.CustomDir = filepath.Join(dir, "tools")
	cfg.Catalog.DebounceMs = 20
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.Audit.Enabled = false
	cfg.Gateway.Port = 0
	return cfg
}

// createTestDaemon creates a daemon for testing with a quiet logger
func createTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "warn"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	d, err := New(cfg, log)
	require.NoError(t, err)
	return d
}

func TestNew(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))
	defer d.GetEngine().Close()

	assert.NotNil(t, d.GetEngine().Executor)
	assert.NotNil(t, d.GetEngine().History)
	assert.NotNil(t, d.GetGatewayServer())
	assert.NotNil(t, d.watcher)
	assert.NotNil(t, d.pruner)
	assert.NotNil(t, d.GetLifecycle())
}

func TestDaemonStartStop(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))

	require.NoError(t, d.Start())
	assert.Error(t, d.Start())

	status := d.Status()
	assert.True(t, status.Running)
	assert.Positive(t, status.Tools)
	assert.True(t, d.GetLifecycle().IsRunning())
	assert.NotEmpty(t, d.GetGatewayServer().Addr())

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
	assert.Error(t, d.Stop())

	_, err := os.Stat(d.GetLifecycle().Path())
	assert.True(t, os.IsNotExist(err))
}

func TestDaemonHotReloadsCustomTools(t *testing.T) {
	cfg := testConfig(t)
	d := createTestDaemon(t, cfg)
	require.NoError(t, d.Start())
	defer d.Stop()

	reg := d.GetEngine().Registry
	path := filepath.Join(cfg.Catalog.CustomDir, "echo.json")
	require.NoError(t, os.WriteFile(path, []byte(echoTool), 0o644))

	require.Eventually(t, func() bool {
		_, ok := reg.Get("custom_echo")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, ok := reg.Get("custom_echo")
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDaemonRecordsHistory(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))
	require.NoError(t, d.Start())
	defer d.Stop()

	engine := d.GetEngine()
	res := engine.Executor.Invoke(context.Background(), "tool_uuid_generator", map[string]any{"count": 2},
		&toolexecutor.InvocationContext{Actor: "test"})
	require.True(t, res.Success)

	records, err := engine.History.Recent(context.Background(), history.Query{ToolID: "tool_uuid_generator"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, res.InvocationID, records[0].InvocationID)
	assert.Equal(t, "test", records[0].Actor)
}
