package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartWritesPIDFileAndStopRemovesIt(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "fluxcap.pid")
	d := New(Config{PIDFile: pidFile})

	require.NoError(t, d.Start())

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))

	d.Stop()

	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))
}

func TestTriggerShutdownStopsRun(t *testing.T) {
	shutdownCalled := false
	d := New(Config{OnShutdown: func() { shutdownCalled = true }})
	require.NoError(t, d.Start())

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	time.Sleep(20 * time.Millisecond)
	d.TriggerShutdown()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}
	assert.True(t, shutdownCalled)
}

func TestSIGHUPInvokesOnReload(t *testing.T) {
	reloaded := make(chan struct{}, 1)
	d := New(Config{OnReload: func() error { reloaded <- struct{}{}; return nil }})
	require.NoError(t, d.Start())

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("OnReload was not invoked")
	}

	d.TriggerShutdown()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}
}
