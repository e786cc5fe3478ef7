package plugin

import (
	"context"
	"os"
	"testing"

	"github.com/chainlesschain/skilltools/pkg/catalog"
	"github.com/chainlesschain/skilltools/pkg/registry"
	"github.com/chainlesschain/skilltools/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pluginCatalog = `tools:
  - id: plugin_echo
    name: plugin_echo
    description: Echo from a plugin
    category: test
    parameters_schema:
      type: object
      properties:
        message: { type: string }
      required: [message]
    risk_level: 1
  - id: plugin_fail
    name: plugin_fail
    risk_level: 1
`

type hostFixture struct {
	dir      string
	reg      *registry.Registry
	handlers *toolexecutor.HandlerTable
	exec     *toolexecutor.Executor
	dialer   *fakeDialer
	host     *Host
}

func newHostFixture(t *testing.T, hostVersion string) *hostFixture {
	t.Helper()
	f := &hostFixture{
		dir:      t.TempDir(),
		reg:      registry.New(),
		handlers: toolexecutor.NewHandlerTable(),
	}
	impl := newFakeHandlers("plugin_echo", "plugin_fail")
	f.dialer = newFakeDialer(impl)
	f.exec = toolexecutor.New(f.reg, f.handlers, toolexecutor.Options{})
	f.host = NewHost(HostConfig{
		Dir:         f.dir,
		HostVersion: hostVersion,
		Handlers:    f.handlers,
		Catalog:     catalog.NewLoader(f.reg),
		Logger:      zerolog.New(os.Stdout).Level(zerolog.Disabled),
		Dial:        f.dialer.dial,
	})
	return f
}

func echoManifest(extra map[string]any) map[string]any {
	m := map[string]any{
		"id":      "echo-plugin",
		"name":    "Echo",
		"version": "1.2.0",
		"main":    "handler",
		"tools":   []string{"plugin_echo", "plugin_fail"},
		"catalog": "tools.yaml",
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func TestHostLoadsAndBinds(t *testing.T) {
	f := newHostFixture(t, "0.1.0")
	writePlugin(t, f.dir, "echo", echoManifest(nil), map[string]string{"tools.yaml": pluginCatalog})

	records, err := f.host.LoadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StateLoaded, records[0].State)
	assert.Equal(t, "echo-plugin", records[0].ID)
	assert.Equal(t, "1.2.0", records[0].Version)
	assert.ElementsMatch(t, []string{"plugin_echo", "plugin_fail"}, records[0].Tools)

	_, ok := f.reg.Get("plugin_echo")
	require.True(t, ok, "catalog shipped with the plugin is registered")

	ic := &toolexecutor.InvocationContext{Actor: "test"}
	res := f.exec.Invoke(context.Background(), "plugin_echo", map[string]any{"message": "hello"}, ic)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "hello", res.Payload["echo"])

	res = f.exec.Invoke(context.Background(), "plugin_echo", map[string]any{}, ic)
	assert.Equal(t, toolexecutor.KindSchemaValidation, res.Kind)

	res = f.exec.Invoke(context.Background(), "plugin_fail", map[string]any{}, ic)
	assert.False(t, res.Success)
	assert.Equal(t, toolexecutor.KindHandlerExecution, res.Kind)
	assert.Contains(t, res.Error, "plugin exploded")
}

func TestHostUnloadRestoresState(t *testing.T) {
	f := newHostFixture(t, "")
	writePlugin(t, f.dir, "echo", echoManifest(nil), map[string]string{"tools.yaml": pluginCatalog})

	shadowed := func(context.Context, map[string]any) (any, error) {
		return map[string]any{"success": true, "from": "builtin"}, nil
	}
	f.handlers.Bind("plugin_fail", shadowed)

	_, err := f.host.LoadAll()
	require.NoError(t, err)
	conn := f.dialer.conn("echo-plugin")
	require.NotNil(t, conn)

	require.NoError(t, f.host.Unload("echo-plugin"))
	assert.True(t, conn.isClosed())
	assert.Empty(t, f.host.Records())

	_, bound := f.handlers.Lookup("plugin_echo")
	assert.False(t, bound)

	fn, bound := f.handlers.Lookup("plugin_fail")
	require.True(t, bound)
	out, err := fn(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "builtin", out.(map[string]any)["from"])

	_, ok := f.reg.Get("plugin_echo")
	assert.False(t, ok, "plugin catalog entries are dropped on unload")

	assert.Error(t, f.host.Unload("echo-plugin"))
}

func TestHostRecordsFailures(t *testing.T) {
	t.Run("host version mismatch", func(t *testing.T) {
		f := newHostFixture(t, "0.1.0")
		writePlugin(t, f.dir, "echo", echoManifest(map[string]any{"host_version": ">=2.0.0"}), nil)

		records, err := f.host.LoadAll()
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, StateFailed, records[0].State)
		assert.Contains(t, records[0].Error, "requires host")
		assert.Nil(t, f.dialer.conn("echo-plugin"))
	})

	t.Run("declared tool not served", func(t *testing.T) {
		f := newHostFixture(t, "")
		writePlugin(t, f.dir, "echo", echoManifest(map[string]any{
			"tools":   []string{"plugin_echo", "plugin_missing"},
			"catalog": "",
		}), nil)

		records, err := f.host.LoadAll()
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, StateFailed, records[0].State)
		assert.Contains(t, records[0].Error, "plugin_missing")
		assert.True(t, f.dialer.conn("echo-plugin").isClosed())

		_, bound := f.handlers.Lookup("plugin_echo")
		assert.False(t, bound)
	})

	t.Run("invalid manifest does not stop others", func(t *testing.T) {
		f := newHostFixture(t, "")
		writePlugin(t, f.dir, "broken", map[string]any{"id": "broken"}, nil)
		writePlugin(t, f.dir, "echo", echoManifest(map[string]any{"catalog": ""}), nil)

		records, err := f.host.LoadAll()
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "broken", records[0].ID)
		assert.Equal(t, StateFailed, records[0].State)
		assert.Equal(t, StateLoaded, records[1].State)
	})

	t.Run("second load of the same plugin", func(t *testing.T) {
		f := newHostFixture(t, "")
		writePlugin(t, f.dir, "echo", echoManifest(map[string]any{"catalog": ""}), nil)
		found, err := Discover(f.dir, zerolog.Nop())
		require.NoError(t, err)

		_, err = f.host.Load(found[0])
		require.NoError(t, err)
		_, err = f.host.Load(found[0])
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already loaded")

		records := f.host.Records()
		require.Len(t, records, 1)
		assert.Equal(t, StateLoaded, records[0].State)
	})
}

func TestHostStop(t *testing.T) {
	f := newHostFixture(t, "")
	writePlugin(t, f.dir, "echo", echoManifest(map[string]any{"catalog": ""}), nil)

	_, err := f.host.LoadAll()
	require.NoError(t, err)
	require.NoError(t, f.host.Stop())

	assert.True(t, f.dialer.conn("echo-plugin").isClosed())
	assert.Empty(t, f.host.Records())
	assert.Empty(t, f.handlers.Bound())
}

func TestDialProcessMissingExecutable(t *testing.T) {
	dir := t.TempDir()
	_, err := dialProcess(Discovered{ID: "x", Path: dir}, &Manifest{ID: "x", Main: "handler"}, newHCLogger(zerolog.Nop(), "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin executable not found")
}
