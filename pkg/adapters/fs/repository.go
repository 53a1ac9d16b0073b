// Package fs stores passports as files in a directory tree.
//
// A Repository is both the core.Source the store reloads from and, when
// write-through persistence is enabled, the core.Sink it writes to.
package fs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/lignum/dpp/pkg/core"
)

const (
	// DefaultPattern selects the files a scan loads, relative to the root.
	DefaultPattern = "**/*.{jsonld,json,yaml,yml}"
	// DefaultSystemDir holds the tombstone log. Scans never descend into it.
	DefaultSystemDir = ".dpp"
	// DefaultExtension is used for passports written for the first time.
	DefaultExtension = ".jsonld"
)

// Config holds the configuration for the filesystem repository.
type Config struct {
	Path        string
	Pattern     string // doublestar glob, e.g. "passports/**/*.jsonld"
	SystemDir   string // e.g. ".dpp"
	Extension   string // format of newly written files
	SkipInvalid bool   // log and skip unreadable files instead of failing the scan
	MustExist   bool
	Logger      *slog.Logger
}

// Repository implements core.Source and core.Sink on a directory.
type Repository struct {
	config      Config
	serializers map[string]Serializer
	cache       *cache

	mu            sync.RWMutex
	root          string
	paths         map[string]string // document id -> file path
	watcherActive bool
	lastScan      *time.Time
	skipped       int
	tombstones    int

	tombMu sync.Mutex
}

// NewRepository creates a new filesystem-backed repository.
func NewRepository(config Config) *Repository {
	if config.Pattern == "" {
		config.Pattern = DefaultPattern
	}
	if config.SystemDir == "" {
		config.SystemDir = DefaultSystemDir
	}
	if config.Extension == "" {
		config.Extension = DefaultExtension
	}
	if !strings.HasPrefix(config.Extension, ".") {
		config.Extension = "." + config.Extension
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Repository{
		config:      config,
		serializers: DefaultSerializers(),
		cache:       newCache(),
		root:        config.Path,
		paths:       make(map[string]string),
	}
}

// Initialize checks the pattern and creates the root directory if needed.
func (r *Repository) Initialize(ctx context.Context) error {
	if !doublestar.ValidatePattern(r.config.Pattern) {
		return fmt.Errorf("invalid file pattern %q", r.config.Pattern)
	}
	if _, ok := r.serializers[r.config.Extension]; !ok {
		return fmt.Errorf("unsupported extension %q", r.config.Extension)
	}

	root := r.Root()
	if r.config.MustExist {
		info, err := os.Stat(root)
		if os.IsNotExist(err) {
			return fmt.Errorf("passport directory does not exist: %s", root)
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("passport path is not a directory: %s", root)
		}
		return nil
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create passport directory: %w", err)
	}
	return nil
}

// Root returns the directory of the last successful scan, or the configured
// path before the first one.
func (r *Repository) Root() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root
}

// Scan implements core.Source. Files are matched against the configured
// pattern relative to root; the system directory, .git and temp files are
// skipped. Any unreadable or invalid file, or two files declaring the same
// id, fail the scan unless SkipInvalid is set.
func (r *Repository) Scan(ctx context.Context, root string) ([]core.Document, error) {
	if root == "" {
		root = r.Root()
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}

	var docs []core.Document
	paths := make(map[string]string)
	seen := make(map[string]bool)
	skipped := 0

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && r.isSystemDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), TempFilePrefix) {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)
		if ok, err := doublestar.Match(r.config.Pattern, relPath); err != nil {
			return err
		} else if !ok {
			return nil
		}
		ser, ok := r.serializers[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}

		doc, err := r.load(path, d, ser)
		if err == nil {
			err = doc.Validate()
		}
		if err == nil {
			if other, dup := paths[doc.ID()]; dup {
				err = fmt.Errorf("%w: duplicate document id %s (also in %s)", core.ErrInvalidDocument, doc.ID(), other)
			}
		}
		if err != nil {
			if r.config.SkipInvalid {
				r.config.Logger.Warn("skipping invalid passport file", "path", relPath, "error", err)
				skipped++
				return nil
			}
			return fmt.Errorf("%s: %w", relPath, err)
		}

		paths[doc.ID()] = path
		seen[path] = true
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cache.Prune(seen)
	now := time.Now()
	r.mu.Lock()
	r.root = root
	r.paths = paths
	r.lastScan = &now
	r.skipped = skipped
	r.mu.Unlock()

	r.config.Logger.Debug("scan complete", "path", root, "documents", len(docs), "skipped", skipped)
	return docs, nil
}

func (r *Repository) load(path string, d os.DirEntry, ser Serializer) (core.Document, error) {
	info, err := d.Info()
	if err != nil {
		return nil, err
	}
	if doc, hit := r.cache.Get(path, info.ModTime(), info.Size()); hit {
		return doc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := ser.Parse(data)
	if err != nil {
		return nil, err
	}
	r.cache.Set(path, doc, info.ModTime(), info.Size())
	return doc, nil
}

func (r *Repository) isSystemDir(name string) bool {
	return name == ".git" || name == r.config.SystemDir
}

// Persist implements core.Sink. A passport is written back to the file it
// was loaded from; new passports get a file named after their id.
func (r *Repository) Persist(ctx context.Context, doc core.Document) error {
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("%w: document has no id", core.ErrInvalidDocument)
	}
	path := r.pathFor(id)

	ser, ok := r.serializers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		ser = JSONSerializer{}
	}
	data, err := ser.Serialize(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", id, err)
	}
	if err := writeFileAtomic(path, data, 0644); err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil {
		r.cache.Set(path, doc, info.ModTime(), info.Size())
	}

	r.mu.Lock()
	r.paths[id] = path
	r.mu.Unlock()
	r.config.Logger.Debug("passport written", "id", id, "path", path)
	return nil
}

// Remove implements core.Sink: it records the final version in the
// tombstone log and deletes the file.
func (r *Repository) Remove(ctx context.Context, final core.Document) error {
	id := final.ID()
	if err := r.appendTombstone(final); err != nil {
		return fmt.Errorf("failed to write tombstone for %s: %w", id, err)
	}

	r.mu.RLock()
	path, ok := r.paths[id]
	r.mu.RUnlock()
	if ok {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
		r.cache.Delete(path)
	}

	r.mu.Lock()
	delete(r.paths, id)
	r.tombstones++
	r.mu.Unlock()
	r.config.Logger.Debug("passport removed", "id", id, "path", path)
	return nil
}

// PathOf returns the file backing a passport, if known.
func (r *Repository) PathOf(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.paths[id]
	return path, ok
}

func (r *Repository) pathFor(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if path, ok := r.paths[id]; ok {
		return path
	}
	path := filepath.Join(r.root, FileName(id, r.config.Extension))
	for other, p := range r.paths {
		if p == path && other != id {
			h := fnv.New32a()
			_, _ = h.Write([]byte(id))
			return filepath.Join(r.root, fmt.Sprintf("%s-%08x%s", slug(id), h.Sum32(), r.config.Extension))
		}
	}
	return path
}

// FileName derives a file name from a passport id, e.g.
// "did:web:dpp.local:dpp:42" becomes "did-web-dpp.local-dpp-42.jsonld".
func FileName(id, ext string) string {
	return slug(id) + ext
}

func slug(id string) string {
	var b strings.Builder
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteRune('-')
		}
	}
	s := strings.TrimLeft(b.String(), ".")
	if s == "" {
		s = "passport"
	}
	return s
}

var (
	_ core.Source = (*Repository)(nil)
	_ core.Sink   = (*Repository)(nil)
)
