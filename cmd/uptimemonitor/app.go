package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/config"
	"github.com/hamed0406/uptimemonitor/internal/monitor"
	"github.com/hamed0406/uptimemonitor/internal/notify"
	"github.com/hamed0406/uptimemonitor/internal/probe"
	"github.com/hamed0406/uptimemonitor/internal/queue"
	"github.com/hamed0406/uptimemonitor/internal/repo"
	"github.com/hamed0406/uptimemonitor/internal/repo/memory"
	"github.com/hamed0406/uptimemonitor/internal/repo/postgres"
	"github.com/hamed0406/uptimemonitor/internal/repo/sqlite"
	"github.com/hamed0406/uptimemonitor/internal/scheduler"
)

// app wires the store, the job queue and the sweeper.
type app struct {
	log     *zap.Logger
	store   repo.Store
	queue   *queue.Queue
	sweeper *scheduler.Sweeper
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (repo.Store, error) {
	switch cfg.DatabaseDriver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		return postgres.New(ctx, cfg.DatabaseURL, log)
	case "sqlite":
		path := cfg.DatabaseURL
		if path == "" {
			path = "uptime.db"
		}
		return sqlite.New(ctx, path)
	default:
		return nil, fmt.Errorf("unknown DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
}

func newMailer(cfg config.Config, log *zap.Logger) notify.Mailer {
	if cfg.SMTPHost == "" {
		log.Warn("smtp_not_configured", zap.String("fallback", "log"))
		return notify.LogMailer{Logger: log}
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		User:       cfg.SMTPUser,
		Password:   cfg.SMTPPassword,
		SkipVerify: cfg.SMTPSkipVerify,
	})
}

// retryPolicy overrides monitor.DefaultPolicy with whatever the config sets.
func retryPolicy(cfg config.Config) queue.Policy {
	p := monitor.DefaultPolicy
	if cfg.RetryAttempts > 0 {
		p.MaxAttempts = cfg.RetryAttempts
	}
	if len(cfg.RetryBackoff) > 0 {
		p.Backoff = cfg.RetryBackoff
	}
	return p
}

func newApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DatabaseDriver, err)
	}
	log.Info("store_opened", zap.String("driver", cfg.DatabaseDriver))

	q := queue.New(log, queue.WithWorkers(cfg.Workers))
	policy := retryPolicy(cfg)

	checker := monitor.NewChecker(store, probe.NewHTTPProber(cfg.ProbeTimeout), q, log)
	notifier := notify.NewDownNotifier(newMailer(cfg, log), cfg.MailFrom, cfg.MailFromName)
	dispatcher := monitor.NewDispatcher(store, notifier, log)
	monitor.Register(q, checker, dispatcher, policy)

	return &app{
		log:     log,
		store:   store,
		queue:   q,
		sweeper: scheduler.NewSweeper(log, store, q, cfg.SweepInterval),
	}, nil
}

// close stops the workers, then releases the store.
func (a *app) close() error {
	a.queue.Stop()
	_ = a.log.Sync()
	return a.store.Close()
}
