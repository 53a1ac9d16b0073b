package fs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses bursts of filesystem events into one reload.
const DefaultDebounce = 200 * time.Millisecond

// Reloader is what the watcher drives; *store.Store implements it.
type Reloader interface {
	Reload(ctx context.Context, root string) (int, error)
}

// Watcher reloads a store whenever passport files under the repository root
// change.
type Watcher struct {
	repo     *Repository
	target   Reloader
	debounce time.Duration
	logger   *slog.Logger
	onReload func(n int, err error)
}

// NewWatcher creates a watcher for the repository root. A debounce of zero
// uses DefaultDebounce.
func (r *Repository) NewWatcher(target Reloader, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		repo:     r,
		target:   target,
		debounce: debounce,
		logger:   r.config.Logger,
	}
}

// OnReload registers a callback invoked after each watcher-triggered reload.
func (w *Watcher) OnReload(fn func(n int, err error)) {
	w.onReload = fn
}

// Start subscribes to the root directory tree and processes events in the
// background until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	root := w.repo.Root()
	if err := w.repo.recursiveAdd(watcher, root); err != nil {
		_ = watcher.Close()
		return err
	}
	w.repo.setWatcherActive(true)
	w.logger.Info("watching passport directory", "path", root)

	lifecycle.Go(ctx, func(ctx context.Context) error {
		return w.run(ctx, watcher, root)
	}, lifecycle.WithErrorHandler(func(err error) {
		w.logger.Error("watcher stopped", "error", err)
	}))
	return nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher, root string) error {
	defer w.repo.setWatcherActive(false)
	defer watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("watcher events channel closed")
			}
			w.logger.Debug("event received", "name", event.Name, "op", event.Op.String())

			if event.Has(fsnotify.Create) && !w.repo.isSystemDir(filepath.Base(event.Name)) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.repo.recursiveAdd(watcher, event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			if w.repo.shouldIgnore(root, event) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() { w.reload(ctx) })

		case err, ok := <-watcher.Errors:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("watcher errors channel closed")
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := w.target.Reload(ctx, "")
	if err != nil {
		w.logger.Error("reload after file change failed", "error", err)
	} else {
		w.logger.Info("reloaded after file change", "documents", n)
	}
	if w.onReload != nil {
		w.onReload(n, err)
	}
}

// recursiveAdd watches dir and every directory below it, skipping the system
// directory and .git.
func (r *Repository) recursiveAdd(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && r.isSystemDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// shouldIgnore filters events that cannot change the set of passports.
func (r *Repository) shouldIgnore(root string, event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return true
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, TempFilePrefix) {
		return true
	}
	rel, err := filepath.Rel(root, event.Name)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if r.isSystemDir(part) {
			return true
		}
	}

	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		// Probably a directory; a removed one may have held passports.
		return !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename)
	}
	if _, ok := r.serializers[ext]; !ok {
		return true
	}
	ok, err := doublestar.Match(r.config.Pattern, rel)
	return err != nil || !ok
}
