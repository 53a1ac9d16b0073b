// Package httpapi serves the passport store, registry and resolver over HTTP.
package httpapi

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/lignum/dpp/pkg/core"
	"github.com/lignum/dpp/pkg/registry"
)

// Store is the document store as seen by the HTTP layer.
type Store interface {
	Create(ctx context.Context, doc core.Document) (core.Document, error)
	Get(ctx context.Context, id string) (core.Document, error)
	Patch(ctx context.Context, id string, patch []byte) (core.Document, error)
	PatchCollection(ctx context.Context, id, collectionID string, patch []byte) (core.Document, error)
	Delete(ctx context.Context, id string) error
	All() iter.Seq[core.Document]
	Len() int
	VersionAt(ctx context.Context, id string, at time.Time) (core.Document, error)
	Reload(ctx context.Context, root string) (int, error)
}

// Registry is the registration index as seen by the HTTP layer.
type Registry interface {
	Register(ctx context.Context, req registry.Request) (registry.Entry, error)
	Entry(idOrSuffix string) (registry.Entry, error)
	Entries() int
}

// Resolver maps identifiers and Digital Links to passports.
type Resolver interface {
	Resolve(ctx context.Context, path string) (core.Document, error)
	ResolveByProductID(ctx context.Context, value string) (core.Document, error)
}

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 10 << 20

type options struct {
	logger      *slog.Logger
	corsOrigins []string
	components  map[string]any
}

// Option configures a Server.
type Option func(*options)

// WithLogger sets the logger for request and error logs.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCORSOrigins sets the allowed CORS origins. Default is "*".
func WithCORSOrigins(origins ...string) Option {
	return func(o *options) {
		if len(origins) > 0 {
			o.corsOrigins = origins
		}
	}
}

// WithComponent adds a component whose introspection state is reported by
// /health under name. Values that do not implement State() are ignored.
func WithComponent(name string, c any) Option {
	return func(o *options) {
		o.components[name] = c
	}
}

// Server is the HTTP front of one store.
type Server struct {
	store    Store
	registry Registry
	resolver Resolver
	validate *validator.Validate
	metrics  *Metrics
	logger   *slog.Logger
	opts     *options
}

// New creates a Server.
func New(store Store, reg Registry, res Resolver, opts ...Option) *Server {
	o := &options{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		corsOrigins: []string{"*"},
		components:  map[string]any{},
	}
	for _, opt := range opts {
		opt(o)
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	s := &Server{
		store:    store,
		registry: reg,
		resolver: res,
		validate: v,
		logger:   o.logger,
		opts:     o,
	}
	s.metrics = newMetrics(
		func() float64 { return float64(store.Len()) },
		func() float64 { return float64(reg.Entries()) },
	)
	return s
}

// Metrics returns the server's Prometheus collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(s.metrics.middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", ActorHeader, "X-Request-ID"},
		ExposedHeaders: []string{"Location", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(actor)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Post("/admin/reload", s.reload)

	r.Route("/dpps", func(r chi.Router) {
		r.Post("/", s.createDPP)
		r.Get("/", s.listDPPs)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getDPP)
			r.Patch("/", s.patchDPP)
			r.Delete("/", s.deleteDPP)
			r.Get("/versions", s.dppVersion)
			r.Get("/dataElements/{collectionId}", s.getCollection)
			r.Patch("/dataElements/{collectionId}", s.patchCollection)
			r.Get("/dataElements/{collectionId}/{elementId}", s.getElement)
		})
	})
	r.Get("/dppsByProductId/{productId}", s.dppByProductID)
	r.Get("/dppsByProductId/{productId}/versions", s.dppVersionByProductID)

	r.Post("/registerDPP", s.registerDPP)
	r.Get("/registry/{suffix}", s.registryEntry)

	for _, prefix := range []string{"/id/01", "/01"} {
		r.Get(prefix+"/{gtin}", s.digitalLink)
		r.Get(prefix+"/{gtin}/21/{serial}", s.digitalLink)
		r.Get(prefix+"/{gtin}/10/{batch}", s.digitalLink)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, CodeNotFound, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})
	return r
}
