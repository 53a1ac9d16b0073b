package store

import (
	"time"

	"github.com/aretw0/introspection"
)

// StoreState exposes internal state for observability.
type StoreState struct {
	Documents    int        `json:"documents"`
	Root         string     `json:"root,omitempty"`
	Persistent   bool       `json:"persistent"`
	HistoryLimit int        `json:"history_limit"`
	Reloads      int        `json:"reloads"`
	LastReload   *time.Time `json:"last_reload,omitempty"`
	Observers    int        `json:"observers"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	s.mu.RLock()
	state := StoreState{
		Documents:    len(s.docs),
		Root:         s.root,
		Persistent:   s.opts.sink != nil,
		HistoryLimit: s.opts.historyLimit,
		Reloads:      s.reloads,
	}
	if !s.lastReload.IsZero() {
		t := s.lastReload
		state.LastReload = &t
	}
	s.mu.RUnlock()

	s.obsMu.RLock()
	state.Observers = len(s.observers)
	s.obsMu.RUnlock()
	return state
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "store"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)
