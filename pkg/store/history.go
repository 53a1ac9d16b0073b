package store

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/lignum/dpp/pkg/core"
)

// revision undoes one update: applying reverse to the version published at
// `at` yields the version before it.
type revision struct {
	at      time.Time
	reverse []byte
}

// record appends the reverse patch of an update. Must hold e.mu.
func (s *Store) record(e *entry, before, after core.Document, at time.Time) {
	limit := s.opts.historyLimit
	if limit == 0 {
		return
	}
	reverse, err := core.ReversePatch(after, before)
	if err != nil {
		// Without the reverse patch older versions cannot be rebuilt; mark
		// everything up to now as unavailable.
		s.logger.Warn("failed to record revision", "id", after.ID(), "error", err)
		e.history = nil
		e.truncated = at
		return
	}
	e.history = append(e.history, revision{at: at, reverse: reverse})
	if n := len(e.history) - limit; n > 0 {
		e.truncated = e.history[n-1].at
		e.history = append([]revision(nil), e.history[n:]...)
	}
}

// loadedSince is the oldest instant a freshly loaded document can answer
// for: versions before its last modification are not on disk.
func loadedSince(doc core.Document) time.Time {
	if t := doc.Modified(); !t.IsZero() {
		return t
	}
	return doc.Created()
}

// carryHistory keeps the revisions of documents whose reloaded content is
// identical to the version in memory.
func (s *Store) carryHistory(next map[string]*entry) {
	s.mu.RLock()
	previous := make(map[string]*entry, len(s.docs))
	for id, e := range s.docs {
		previous[id] = e
	}
	s.mu.RUnlock()

	for id, ne := range next {
		old, ok := previous[id]
		if !ok {
			continue
		}
		old.mu.Lock()
		cur := old.current.Load()
		if cur != nil && reflect.DeepEqual(*cur, *ne.current.Load()) {
			ne.history = append([]revision(nil), old.history...)
			ne.truncated = old.truncated
		}
		old.mu.Unlock()
	}
}

// VersionAt rebuilds the document as it was at the given instant. Instants
// before the document was created, or older than the retained history, fail
// with core.ErrNotFound.
func (s *Store) VersionAt(ctx context.Context, id string, at time.Time) (core.Document, error) {
	s.mu.RLock()
	e, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok || e.removed.Load() {
		return nil, fmt.Errorf("%w: document %s", core.ErrNotFound, id)
	}

	e.mu.Lock()
	p := e.current.Load()
	history := append([]revision(nil), e.history...)
	truncated := e.truncated
	e.mu.Unlock()
	if p == nil {
		return nil, fmt.Errorf("%w: document %s", core.ErrNotFound, id)
	}

	doc := p.Clone()
	if created := doc.Created(); !created.IsZero() && at.Before(created) {
		return nil, fmt.Errorf("%w: no version of %s exists at %s", core.ErrNotFound, id, core.FormatTime(at))
	}
	if !truncated.IsZero() && at.Before(truncated) {
		return nil, fmt.Errorf("%w: version of %s at %s is no longer retained", core.ErrNotFound, id, core.FormatTime(at))
	}

	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].at.After(at) {
			break
		}
		prev, err := core.ApplyJSONPatch(doc, history[i].reverse)
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild %s: %w", id, err)
		}
		doc = prev
	}
	return doc, nil
}

// Revisions returns the number of retained revisions for a document.
func (s *Store) Revisions(id string) int {
	s.mu.RLock()
	e, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}
