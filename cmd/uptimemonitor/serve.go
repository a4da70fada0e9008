package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/httpapi"
	apimw "github.com/hamed0406/uptimemonitor/internal/httpapi/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the queue workers, the sweep loop and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			logger.Error("startup_failed", zap.Error(err))
			return err
		}
		defer func() { _ = a.close() }()

		a.queue.Start(ctx)
		go a.sweeper.Run(ctx)

		api := httpapi.NewServer(logger, a.store, a.sweeper)
		keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			logger.Info("api_listen", zap.String("addr", cfg.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
			close(errc)
		}()

		select {
		case <-ctx.Done():
			logger.Info("shutdown_requested")
		case err := <-errc:
			if err != nil {
				logger.Error("api_failed", zap.Error(err))
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api_shutdown_error", zap.Error(err))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
