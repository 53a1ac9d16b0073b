// Package store is the in-memory Digital Product Passport store.
//
// Documents are kept as immutable versions: every mutation builds a new
// version off to the side and publishes it with a single pointer swap, so
// readers never observe a partially applied change. Writers on the same
// document id are serialized by a per-document mutex; writers on different
// ids do not block each other. Reload builds a complete new index from the
// configured Source and swaps it in only when the scan succeeded.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lignum/dpp/pkg/core"
)

// entry is the slot of a single document id.
type entry struct {
	mu      sync.Mutex // serializes writers of this id
	current atomic.Pointer[core.Document]
	removed atomic.Bool

	// guarded by mu
	history   []revision
	truncated time.Time
}

// Store owns every passport document.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*entry
	root string

	reloadMu   sync.Mutex
	lastReload time.Time // guarded by mu
	reloads    int       // guarded by mu

	obsMu     sync.RWMutex
	observers []func(core.Event)

	opts   *options
	logger *slog.Logger
}

// New creates an empty Store. Call Reload to populate it from its Source.
func New(opts ...Option) *Store {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Store{
		docs:      make(map[string]*entry),
		root:      o.root,
		observers: append([]func(core.Event){}, o.observers...),
		opts:      o,
		logger:    o.logger,
	}
}

// Subscribe registers an observer after construction. See WithObserver.
func (s *Store) Subscribe(fn func(core.Event)) {
	if fn == nil {
		return
	}
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) emit(t core.EventType, id string) {
	ev := core.Event{Type: t, ID: id, Timestamp: s.opts.now().Unix()}
	s.obsMu.RLock()
	observers := append([]func(core.Event){}, s.observers...)
	s.obsMu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}

// Create stores a new document. A missing id is generated; an explicit id
// that is already taken fails with core.ErrConflict.
func (s *Store) Create(ctx context.Context, doc core.Document) (core.Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", core.ErrInvalidDocument)
	}
	next := doc.Clone()
	changed := next.TopLevelKeys()

	if raw, ok := next[core.KeyID]; ok {
		if id, isString := raw.(string); !isString || id == "" {
			return nil, fmt.Errorf("%w: %q must be a non-empty string", core.ErrInvalidDocument, core.KeyID)
		}
	} else {
		next[core.KeyID] = core.NewDocumentID(s.opts.idDomain)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	now := core.FormatTime(s.opts.now())
	next[core.KeyCreated] = now
	next[core.KeyModified] = now
	if _, ok := next[core.KeyStatus]; !ok {
		next[core.KeyStatus] = core.StatusActive
	}
	core.AppendChange(next, core.ChangeCreate, core.ChangeObjectPassport, changed, core.ActorFrom(ctx), s.opts.now())

	id := next.ID()
	e := &entry{}
	e.mu.Lock()

	s.mu.Lock()
	if _, exists := s.docs[id]; exists {
		s.mu.Unlock()
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: document %s already exists", core.ErrConflict, id)
	}
	s.docs[id] = e
	s.mu.Unlock()

	if s.opts.sink != nil {
		if err := s.opts.sink.Persist(ctx, next); err != nil {
			e.removed.Store(true)
			s.mu.Lock()
			if s.docs[id] == e {
				delete(s.docs, id)
			}
			s.mu.Unlock()
			e.mu.Unlock()
			return nil, fmt.Errorf("failed to persist %s: %w", id, err)
		}
	}
	e.current.Store(&next)
	e.mu.Unlock()

	s.logger.Debug("document created", "id", id)
	s.emit(core.EventCreate, id)
	return next.Clone(), nil
}

// Get returns the current version of a document.
func (s *Store) Get(ctx context.Context, id string) (core.Document, error) {
	s.mu.RLock()
	e, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok || e.removed.Load() {
		return nil, fmt.Errorf("%w: document %s", core.ErrNotFound, id)
	}
	p := e.current.Load()
	if p == nil {
		return nil, fmt.Errorf("%w: document %s", core.ErrNotFound, id)
	}
	return p.Clone(), nil
}

// Exists reports whether a document with the id is currently stored.
func (s *Store) Exists(id string) bool {
	_, err := s.Get(context.Background(), id)
	return err == nil
}

// Patch applies an RFC 7396 merge patch to the document and records an
// update change listing the touched top-level keys.
func (s *Store) Patch(ctx context.Context, id string, patch []byte) (core.Document, error) {
	return s.update(ctx, id, func(cur core.Document) (core.Document, string, []string, error) {
		next, changed, err := core.MergeDocumentPatch(cur, patch)
		return next, core.ChangeObjectPassport, changed, err
	})
}

// PatchCollection merge-patches one data element collection of a document.
func (s *Store) PatchCollection(ctx context.Context, id, collectionID string, patch []byte) (core.Document, error) {
	return s.update(ctx, id, func(cur core.Document) (core.Document, string, []string, error) {
		next, changed, err := core.MergeCollectionPatch(cur, collectionID, patch)
		return next, core.CollectionChangeObject(collectionID), changed, err
	})
}

type mutation func(cur core.Document) (next core.Document, changeObject string, changed []string, err error)

// acquire locks the live entry for id. After the lock is taken the entry is
// checked again, since a reload or delete may have replaced it meanwhile.
func (s *Store) acquire(id string) (*entry, error) {
	for {
		s.mu.RLock()
		e, ok := s.docs[id]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: document %s", core.ErrNotFound, id)
		}
		e.mu.Lock()
		s.mu.RLock()
		live := s.docs[id] == e
		s.mu.RUnlock()
		if live && !e.removed.Load() && e.current.Load() != nil {
			return e, nil
		}
		e.mu.Unlock()
		if !live {
			continue
		}
		return nil, fmt.Errorf("%w: document %s", core.ErrNotFound, id)
	}
}

func (s *Store) update(ctx context.Context, id string, fn mutation) (core.Document, error) {
	next, err := s.commit(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("document updated", "id", id)
	s.emit(core.EventModify, id)
	return next.Clone(), nil
}

func (s *Store) commit(ctx context.Context, id string, fn mutation) (core.Document, error) {
	e, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	cur := *e.current.Load()
	next, changeObject, changed, err := fn(cur)
	if err != nil {
		return nil, err
	}
	now := s.opts.now()
	next[core.KeyModified] = core.FormatTime(now)
	core.AppendChange(next, core.ChangeUpdate, changeObject, changed, core.ActorFrom(ctx), now)

	if s.opts.sink != nil {
		if err := s.opts.sink.Persist(ctx, next); err != nil {
			return nil, fmt.Errorf("failed to persist %s: %w", id, err)
		}
	}

	s.record(e, cur, next, now)
	e.current.Store(&next)
	return next, nil
}

// Delete removes a document. The delete change record is appended to the
// final version, which is handed to the Sink (tombstone log) when one is
// configured; otherwise it is dropped together with the document.
func (s *Store) Delete(ctx context.Context, id string) error {
	e, err := s.acquire(id)
	if err != nil {
		return err
	}

	final := e.current.Load().Clone()
	now := s.opts.now()
	final[core.KeyModified] = core.FormatTime(now)
	core.AppendChange(final, core.ChangeDelete, core.ChangeObjectPassport, nil, core.ActorFrom(ctx), now)

	if s.opts.sink != nil {
		if err := s.opts.sink.Remove(ctx, final); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("failed to remove %s: %w", id, err)
		}
	}

	e.removed.Store(true)
	s.mu.Lock()
	if s.docs[id] == e {
		delete(s.docs, id)
	}
	s.mu.Unlock()
	e.mu.Unlock()

	s.logger.Debug("document deleted", "id", id)
	s.emit(core.EventDelete, id)
	return nil
}

// All returns a lazy sequence of the current documents, in id order. The id
// set is captured when iteration starts; each document is yielded as a
// consistent version. Documents deleted mid-iteration are skipped.
func (s *Store) All() iter.Seq[core.Document] {
	return func(yield func(core.Document) bool) {
		for _, e := range s.snapshot() {
			if e.removed.Load() {
				continue
			}
			p := e.current.Load()
			if p == nil {
				continue
			}
			if !yield(p.Clone()) {
				return
			}
		}
	}
}

// List collects All into a slice.
func (s *Store) List(ctx context.Context) []core.Document {
	var docs []core.Document
	for doc := range s.All() {
		docs = append(docs, doc)
	}
	return docs
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) snapshot() []*entry {
	s.mu.RLock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	entries := make([]*entry, len(ids))
	for i, id := range ids {
		entries[i] = s.docs[id]
	}
	s.mu.RUnlock()
	return entries
}

// Reload re-scans root (or the configured root when empty) and replaces the
// whole store with its contents. On any scan failure the current contents
// are kept. In-memory changes that were not persisted are lost.
func (s *Store) Reload(ctx context.Context, root string) (int, error) {
	if s.opts.source == nil {
		return 0, errors.New("store has no source configured")
	}

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if root == "" {
		s.mu.RLock()
		root = s.root
		s.mu.RUnlock()
	}

	docs, err := s.opts.source.Scan(ctx, root)
	if err != nil {
		s.logger.Error("reload failed, keeping current documents", "path", root, "error", err)
		return 0, fmt.Errorf("reload %s: %w", root, err)
	}

	next := make(map[string]*entry, len(docs))
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return 0, fmt.Errorf("reload %s: %w", root, err)
		}
		id := doc.ID()
		if _, dup := next[id]; dup {
			return 0, fmt.Errorf("reload %s: %w: duplicate document id %s", root, core.ErrInvalidDocument, id)
		}
		e := &entry{truncated: loadedSince(doc)}
		d := doc.Clone()
		e.current.Store(&d)
		next[id] = e
	}

	s.carryHistory(next)

	s.mu.Lock()
	previous := s.docs
	s.docs = next
	s.root = root
	s.lastReload = s.opts.now()
	s.reloads++
	s.mu.Unlock()

	for id, old := range previous {
		if next[id] != old {
			old.removed.Store(true)
		}
	}

	s.logger.Info("documents reloaded", "path", root, "count", len(next))
	s.emit(core.EventReload, "")
	return len(next), nil
}
