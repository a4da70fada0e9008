package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepWait time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Queue one check per eligible website, then run the queue until it drains",
	Long: `sweep performs a single pass, suitable for cron. It exits once every check,
retry and notification it caused has finished, or when --wait elapses.`,
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
		n, err := a.sweeper.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %d checks\n", n)

		waitCtx, cancel := context.WithTimeout(ctx, sweepWait)
		defer cancel()
		if err := a.queue.Wait(waitCtx); err != nil {
			logger.Warn("sweep_wait_incomplete", zap.Error(err))
			return fmt.Errorf("queue did not drain: %w", err)
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepWait, "wait", 5*time.Minute, "maximum time to wait for queued jobs")
	rootCmd.AddCommand(sweepCmd)
}
