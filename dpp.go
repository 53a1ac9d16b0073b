package dpp

import (
	"context"
	_ "embed"
	"log/slog"

	"github.com/lignum/dpp/internal/platform"
)

// Version is the release of this module.
//
//go:embed VERSION
var Version string

// Config is the process configuration. See LoadConfig.
type Config = platform.Config

// Runtime is an opened passport directory with its store, registry and
// resolver.
type Runtime = platform.Runtime

// LoadConfig reads optional env files and the DPP_* environment variables.
func LoadConfig(envFiles ...string) (Config, error) {
	return platform.LoadConfig(envFiles...)
}

// Open loads the passport directory described by cfg.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	return platform.New(ctx, cfg, logger)
}
