package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lignum/dpp/internal/platform"
)

var (
	verbose  bool
	dir      string
	envFiles []string
)

var rootCmd = &cobra.Command{
	Use:   "dpp",
	Short: "A Digital Product Passport store, registry and resolver",
	Long: `dpp serves a directory of JSON-LD Digital Product Passports.
It keeps every passport in memory, records an audit trail of changes,
maps product identifiers to passports and resolves GS1 Digital Links.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&dir, "dir", "d", "", "Passport directory (default $DPP_DIR, or the nearest directory holding .dpp or .git)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "Env files to load before reading DPP_* variables")
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig() (platform.Config, error) {
	cfg, err := platform.LoadConfig(envFiles...)
	if err != nil {
		return cfg, err
	}
	switch {
	case dir != "":
		cfg.Dir = dir
	case os.Getenv("DPP_DIR") == "":
		if wd, err := os.Getwd(); err == nil {
			if root, err := platform.FindRoot(wd, cfg.SystemDir); err == nil {
				cfg.Dir = root
			}
		}
	}
	return cfg, nil
}

// openRuntime loads the passports for one-shot commands.
func openRuntime(ctx context.Context, mutate func(*platform.Config)) *platform.Runtime {
	cfg, err := loadConfig()
	if err != nil {
		fatal("Error loading configuration", err)
	}
	cfg.Watch = false
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := platform.New(ctx, cfg, slog.Default())
	if err != nil {
		fatal("Error opening passport directory", err)
	}
	return rt
}
