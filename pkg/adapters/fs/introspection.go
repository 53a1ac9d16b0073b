package fs

import (
	"time"

	"github.com/aretw0/introspection"
)

// RepositoryState exposes internal state for observability.
type RepositoryState struct {
	Path          string     `json:"path"`
	SystemDir     string     `json:"system_dir"`
	Pattern       string     `json:"pattern"`
	Documents     int        `json:"documents"`
	CacheSize     int        `json:"cache_size"`
	SkipInvalid   bool       `json:"skip_invalid"`
	Skipped       int        `json:"skipped"`
	Tombstones    int        `json:"tombstones"`
	WatcherActive bool       `json:"watcher_active"`
	LastScan      *time.Time `json:"last_scan,omitempty"`
}

// State implements introspection.Introspectable.
func (r *Repository) State() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RepositoryState{
		Path:          r.root,
		SystemDir:     r.config.SystemDir,
		Pattern:       r.config.Pattern,
		Documents:     len(r.paths),
		CacheSize:     r.cache.Len(),
		SkipInvalid:   r.config.SkipInvalid,
		Skipped:       r.skipped,
		Tombstones:    r.tombstones,
		WatcherActive: r.watcherActive,
		LastScan:      r.lastScan,
	}
}

// ComponentType implements introspection.Component.
func (r *Repository) ComponentType() string {
	return "repository"
}

var _ introspection.Introspectable = (*Repository)(nil)
var _ introspection.Component = (*Repository)(nil)

func (r *Repository) setWatcherActive(active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watcherActive = active
}
