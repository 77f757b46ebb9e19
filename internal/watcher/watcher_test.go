package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, target string, h Handlers) *Watcher {
	t.Helper()
	w, err := New(target, h)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestOnChangeFiresForWrites(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(target, []byte("{}"), 0600))

	var changes atomic.Int32
	startWatcher(t, target, Handlers{OnChange: func() { changes.Add(1) }})

	require.NoError(t, os.WriteFile(target, []byte(`{"CLIDESK_PORT":4000}`), 0600))

	assert.Eventually(t, func() bool { return changes.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestUnrelatedFilesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "settings.json")

	var calls atomic.Int32
	startWatcher(t, target, Handlers{
		OnChange: func() { calls.Add(1) },
		OnDelete: func() { calls.Add(1) },
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0600))
	require.NoError(t, os.Remove(filepath.Join(dir, "other.json")))

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestOnDeleteRecreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "projects")
	require.NoError(t, os.MkdirAll(target, 0750))

	var deletes atomic.Int32
	startWatcher(t, target, Handlers{OnDelete: func() {
		deletes.Add(1)
		_ = os.MkdirAll(target, 0750)
	}})

	require.NoError(t, os.RemoveAll(target))

	assert.Eventually(t, func() bool { return deletes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.DirExists(t, target)
}

func TestStopIsIdempotent(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "x"), Handlers{})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestMissingParentDoesNotFailStart(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "absent", "settings.json"), Handlers{})
	require.NoError(t, err)
	assert.NoError(t, w.Start())
	assert.NoError(t, w.Stop())
}
