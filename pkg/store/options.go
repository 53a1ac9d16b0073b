package store

import (
	"io"
	"log/slog"
	"time"

	"github.com/lignum/dpp/pkg/core"
)

// DefaultIDDomain is the did:web domain used for generated ids.
const DefaultIDDomain = "dpp.local"

// DefaultHistoryLimit bounds the number of reverse patches kept per document.
const DefaultHistoryLimit = 64

// options holds the internal configuration for the Store.
type options struct {
	logger       *slog.Logger
	now          func() time.Time
	idDomain     string
	source       core.Source
	sink         core.Sink
	root         string
	observers    []func(core.Event)
	historyLimit int
}

// Option defines a functional option for configuring the Store.
type Option func(*options)

// defaultOptions returns the default configuration.
func defaultOptions() *options {
	return &options{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:          time.Now,
		idDomain:     DefaultIDDomain,
		historyLimit: DefaultHistoryLimit,
	}
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDDomain sets the did:web domain for generated document ids.
func WithIDDomain(domain string) Option {
	return func(o *options) {
		if domain != "" {
			o.idDomain = domain
		}
	}
}

// WithSource sets where Reload reads documents from, and the default root.
func WithSource(src core.Source, root string) Option {
	return func(o *options) {
		o.source = src
		o.root = root
	}
}

// WithSink enables write-through persistence of mutations.
func WithSink(sink core.Sink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithObserver registers a callback invoked after every committed mutation
// and reload. Callbacks run synchronously, with no store lock held.
func WithObserver(fn func(core.Event)) Option {
	return func(o *options) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// WithHistoryLimit bounds the revisions kept per document. Zero disables
// version history.
func WithHistoryLimit(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.historyLimit = n
		}
	}
}
