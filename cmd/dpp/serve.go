package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/spf13/cobra"

	"github.com/lignum/dpp/internal/platform"
	lcadapter "github.com/lignum/dpp/pkg/adapters/lifecycle"
)

var (
	serveAddr    string
	serveWatch   bool
	servePersist bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the passport directory over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("addr") {
			cfg.Addr = serveAddr
		}
		if flags.Changed("watch") {
			cfg.Watch = serveWatch
		}
		if flags.Changed("persist") {
			cfg.Persist = servePersist
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, slog.Default())
	},
}

func serve(ctx context.Context, cfg platform.Config, logger *slog.Logger) error {
	rt, err := platform.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	events := lcadapter.NewSource(rt.Store, 0)
	if err := events.Start(ctx); err != nil {
		return err
	}
	lifecycle.Go(ctx, func(ctx context.Context) error {
		for e := range events.Events() {
			logger.Debug("store event", "event", e.String())
		}
		if n := events.Dropped(); n > 0 {
			logger.Warn("store events dropped", "count", n)
		}
		return nil
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "dir", cfg.Dir, "watch", cfg.Watch, "persist", cfg.Persist)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address (default $DPP_ADDR)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload when passport files change (default $DPP_WATCH)")
	serveCmd.Flags().BoolVar(&servePersist, "persist", false, "Write changes back to the passport files (default $DPP_PERSIST)")
	rootCmd.AddCommand(serveCmd)
}
