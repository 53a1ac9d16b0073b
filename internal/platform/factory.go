package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/lignum/dpp/pkg/adapters/fs"
	"github.com/lignum/dpp/pkg/adapters/httpapi"
	"github.com/lignum/dpp/pkg/registry"
	"github.com/lignum/dpp/pkg/store"
)

// Runtime is the wired set of components serving one passport directory.
type Runtime struct {
	Config   Config
	Logger   *slog.Logger
	Repo     *fs.Repository
	Store    *store.Store
	Registry *registry.Registry
	Resolver *registry.Resolver
	Watcher  *fs.Watcher // nil unless Config.Watch
}

// New builds the runtime for cfg and performs the initial load. When
// cfg.Watch is set, the directory watcher runs until ctx is cancelled.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	policy, _ := registry.ParsePolicy(cfg.RegistryPolicy)

	repo := fs.NewRepository(fs.Config{
		Path:        cfg.Dir,
		Pattern:     cfg.Pattern,
		SystemDir:   cfg.SystemDir,
		SkipInvalid: cfg.SkipInvalid,
		MustExist:   !cfg.Persist,
		Logger:      logger.With("component", "fs"),
	})
	if err := repo.Initialize(ctx); err != nil {
		return nil, err
	}

	opts := []store.Option{
		store.WithLogger(logger.With("component", "store")),
		store.WithIDDomain(cfg.IDDomain),
		store.WithSource(repo, cfg.Dir),
		store.WithHistoryLimit(cfg.HistoryLimit),
	}
	if cfg.Persist {
		opts = append(opts, store.WithSink(repo))
	}
	s := store.New(opts...)

	reg := registry.New(s,
		registry.WithPolicy(policy),
		registry.WithLogger(logger.With("component", "registry")),
	)
	s.Subscribe(reg.Observe)

	n, err := s.Reload(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}
	logger.Info("passports loaded", "path", cfg.Dir, "count", n, "persist", cfg.Persist)

	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Repo:     repo,
		Store:    s,
		Registry: reg,
		Resolver: registry.NewResolver(s, reg, logger.With("component", "resolver")),
	}

	if cfg.Watch {
		rt.Watcher = repo.NewWatcher(s, 0)
		if err := rt.Watcher.Start(ctx); err != nil {
			return nil, fmt.Errorf("start watcher: %w", err)
		}
	}
	return rt, nil
}

// Handler returns the HTTP API over the runtime's components.
func (rt *Runtime) Handler() http.Handler {
	return httpapi.New(rt.Store, rt.Registry, rt.Resolver,
		httpapi.WithLogger(rt.Logger.With("component", "http")),
		httpapi.WithCORSOrigins(rt.Config.CORSOrigins...),
		httpapi.WithComponent("store", rt.Store),
		httpapi.WithComponent("registry", rt.Registry),
		httpapi.WithComponent("repository", rt.Repo),
	).Handler()
}
