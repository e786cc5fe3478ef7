package daemon

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleManager_PIDFile(t *testing.T) {
	l := NewPIDFile(t.TempDir())

	assert.False(t, l.IsRunning())
	_, err := l.GetPID()
	assert.Error(t, err)

	require.NoError(t, l.Start())
	pid, err := l.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, l.IsRunning())

	require.NoError(t, l.Stop())
	assert.False(t, l.IsRunning())
	require.NoError(t, l.Stop())
}

func TestLifecycleManager_RefusesLiveOwner(t *testing.T) {
	l := NewPIDFile(t.TempDir())
	require.NoError(t, os.WriteFile(l.Path(), []byte(strconv.Itoa(os.Getppid())), 0o644))

	err := l.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestLifecycleManager_InvalidPIDFile(t *testing.T) {
	l := NewPIDFile(t.TempDir())
	require.NoError(t, os.WriteFile(l.Path(), []byte("not-a-pid"), 0o644))

	_, err := l.GetPID()
	assert.ErrorContains(t, err, "invalid PID file")
	assert.False(t, l.IsRunning())
	require.NoError(t, l.Start())
}
