package fs

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReloader struct {
	calls atomic.Int32
}

func (c *countingReloader) Reload(ctx context.Context, root string) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestShouldIgnore(t *testing.T) {
	root := t.TempDir()
	repo := NewRepository(Config{Path: root})

	cases := []struct {
		name   string
		event  fsnotify.Event
		ignore bool
	}{
		{"passport write", fsnotify.Event{Name: filepath.Join(root, "a.jsonld"), Op: fsnotify.Write}, false},
		{"nested yaml", fsnotify.Event{Name: filepath.Join(root, "x", "b.yml"), Op: fsnotify.Create}, false},
		{"chmod only", fsnotify.Event{Name: filepath.Join(root, "a.jsonld"), Op: fsnotify.Chmod}, true},
		{"temp file", fsnotify.Event{Name: filepath.Join(root, TempFilePrefix+"42"), Op: fsnotify.Create}, true},
		{"tombstone log", fsnotify.Event{Name: filepath.Join(root, ".dpp", TombstoneFile), Op: fsnotify.Write}, true},
		{"git internals", fsnotify.Event{Name: filepath.Join(root, ".git", "index.json"), Op: fsnotify.Write}, true},
		{"other extension", fsnotify.Event{Name: filepath.Join(root, "readme.md"), Op: fsnotify.Write}, true},
		{"removed directory", fsnotify.Event{Name: filepath.Join(root, "batch-7"), Op: fsnotify.Remove}, false},
		{"created directory", fsnotify.Event{Name: filepath.Join(root, "batch-7"), Op: fsnotify.Create}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ignore, repo.shouldIgnore(root, tc.event))
		})
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping watcher test in short mode")
	}
	root := t.TempDir()
	repo := NewRepository(Config{Path: root})
	require.NoError(t, repo.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	target := &countingReloader{}
	w := repo.NewWatcher(target, 20*time.Millisecond)
	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool {
		return repo.State().(RepositoryState).WatcherActive
	}, 2*time.Second, 10*time.Millisecond)

	// Writes in the system directory never trigger a reload.
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".dpp"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".dpp", TombstoneFile), []byte("{}\n"), 0644))

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.jsonld"), []byte(`{"id":"urn:a"}`), 0644))
	require.Eventually(t, func() bool { return target.calls.Load() > 0 }, 5*time.Second, 20*time.Millisecond)

	// New directories are picked up as well.
	before := target.calls.Load()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "batch"), 0755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "batch", "b.json"), []byte(`{"id":"urn:b"}`), 0644))
	require.Eventually(t, func() bool { return target.calls.Load() > before }, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		return !repo.State().(RepositoryState).WatcherActive
	}, 2*time.Second, 10*time.Millisecond)
}
