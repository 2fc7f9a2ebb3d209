package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDefinitionWatcher_Scan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.yaml")
	require.NoError(t, os.WriteFile(path, []byte(singleDefinition), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	w := NewDefinitionWatcher(dir, time.Second, func(context.Context) error { return nil }, zaptest.NewLogger(t))

	changed, err := w.scan()
	require.NoError(t, err)
	assert.Equal(t, []string{path}, changed)

	changed, err = w.scan()
	require.NoError(t, err)
	assert.Empty(t, changed)

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	changed, err = w.scan()
	require.NoError(t, err)
	assert.Equal(t, []string{path}, changed)

	require.NoError(t, os.Remove(path))
	changed, err = w.scan()
	require.NoError(t, err)
	assert.Equal(t, []string{path}, changed)
}

func TestDefinitionWatcher_MissingDir(t *testing.T) {
	w := NewDefinitionWatcher(filepath.Join(t.TempDir(), "missing"), time.Second, nil, nil)
	_, err := w.scan()
	assert.Error(t, err)
}

func TestDefinitionWatcher_RunReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.yaml")
	require.NoError(t, os.WriteFile(path, []byte(singleDefinition), 0o644))

	var reloads atomic.Int32
	w := NewDefinitionWatcher(dir, 10*time.Millisecond, func(context.Context) error {
		reloads.Add(1)
		return nil
	}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// 启动快照不触发重载
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	assert.Eventually(t, func() bool { return reloads.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestEngine_WatchDefinitionsRegistersNewFiles(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(testEngineConfig(), zaptest.NewLogger(t))

	w := e.WatchDefinitions(dir, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "list.yml"), []byte(listDefinition), 0o644))

	assert.Eventually(t, func() bool { return len(e.GetWorkflows()) == 2 }, 2*time.Second, 10*time.Millisecond)
}
