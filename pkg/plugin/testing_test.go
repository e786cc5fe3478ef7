package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

// fakeHandlers serves echo, fail and block.
type fakeHandlers struct {
	tools   []string
	release chan struct{}
}

func newFakeHandlers(tools ...string) *fakeHandlers {
	if len(tools) == 0 {
		tools = []string{"plugin_echo", "plugin_fail", "plugin_block"}
	}
	return &fakeHandlers{tools: tools, release: make(chan struct{})}
}

func (f *fakeHandlers) Tools() ([]string, error) {
	return f.tools, nil
}

func (f *fakeHandlers) Invoke(tool string, args map[string]any) (map[string]any, error) {
	switch tool {
	case "plugin_echo":
		return map[string]any{"success": true, "echo": args["message"], "args": args}, nil
	case "plugin_fail":
		return nil, errors.New("plugin exploded")
	case "plugin_block":
		<-f.release
		return map[string]any{"success": true}, nil
	}
	return nil, errors.New("unknown tool " + tool)
}

// fakeConn is an in-process Conn.
type fakeConn struct {
	impl   Handlers
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Tools() ([]string, error) {
	return c.impl.Tools()
}

func (c *fakeConn) InvokeContext(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.impl.Invoke(tool, args)
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out fakeConns and remembers them by plugin id.
type fakeDialer struct {
	impl  Handlers
	mu    sync.Mutex
	conns map[string]*fakeConn
}

func newFakeDialer(impl Handlers) *fakeDialer {
	return &fakeDialer{impl: impl, conns: make(map[string]*fakeConn)}
}

func (d *fakeDialer) dial(_ Discovered, m *Manifest, _ hclog.Logger) (Conn, error) {
	conn := &fakeConn{impl: d.impl}
	d.mu.Lock()
	d.conns[m.ID] = conn
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) conn(id string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[id]
}

// writePlugin creates dir/<name>/plugin.json and any extra files.
func writePlugin(t *testing.T, dir, name string, manifest map[string]any, files map[string]string) string {
	t.Helper()
	pluginDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))

	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, ManifestFile), data, 0o644))

	for rel, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(pluginDir, rel), []byte(content), 0o644))
	}
	return pluginDir
}

func createManifestFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ManifestFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
