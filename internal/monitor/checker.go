package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/probe"
	"github.com/hamed0406/uptimemonitor/internal/queue"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

// Checker runs the check_endpoint job.
type Checker struct {
	Endpoints repo.EndpointStore
	Clients   repo.ClientStore
	Prober    probe.Prober
	Recorder  *Recorder
	Updater   *StateUpdater
	Queue     Enqueuer
	Clock     func() time.Time
	Logger    *zap.Logger
}

func NewChecker(store repo.Store, p probe.Prober, q Enqueuer, logger *zap.Logger) *Checker {
	return &Checker{
		Endpoints: store,
		Clients:   store,
		Prober:    p,
		Recorder:  &Recorder{Checks: store},
		Updater:   &StateUpdater{Endpoints: store},
		Queue:     q,
		Clock:     time.Now,
		Logger:    logger,
	}
}

func (c *Checker) Handle(ctx context.Context, job queue.Job) error {
	var p CheckPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", CheckJob, err)
	}
	return c.Run(ctx, p.EndpointID)
}

// Run performs one check cycle. Probe failures are data; only storage and
// enqueue errors are returned.
func (c *Checker) Run(ctx context.Context, id domain.EndpointID) error {
	ep, err := c.Endpoints.GetEndpoint(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		c.Logger.Info("check_skipped", zap.Int64("endpoint_id", int64(id)), zap.String("reason", "endpoint not found"))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load endpoint %d: %w", id, err)
	}
	if !ep.Active {
		c.Logger.Info("check_skipped", zap.Int64("endpoint_id", int64(id)), zap.String("reason", "endpoint inactive"))
		return nil
	}

	wasUp := ep.IsUp
	now := c.now()

	res := c.Prober.Probe(ctx, ep.URL)

	rec, err := c.Recorder.Record(ctx, ep.ID, res, now)
	if err != nil {
		return err
	}
	if _, err := c.Updater.Apply(ctx, ep, res, now); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Int64("endpoint_id", int64(ep.ID)),
		zap.String("name", ep.DisplayName()),
		zap.String("url", ep.URL),
		zap.Bool("up", res.Up),
		zap.Int64("latency_ms", res.LatencyMS),
	}
	if res.StatusCode != nil {
		fields = append(fields, zap.Int("status", *res.StatusCode))
	}
	if res.Error != "" {
		fields = append(fields, zap.String("reason", res.Error))
	}
	if res.Up {
		c.Logger.Info("check_completed", fields...)
	} else {
		c.Logger.Warn("check_failed", fields...)
	}

	if !wasUp || res.Up {
		return nil
	}

	client, err := c.Clients.GetClient(ctx, ep.ClientID)
	if err != nil {
		return fmt.Errorf("load client %d: %w", ep.ClientID, err)
	}
	payload := NotifyPayload{EndpointID: ep.ID, CheckID: rec.ID, URL: ep.URL, Recipient: client.Email}
	if err := c.Queue.Enqueue(ctx, NotifyJob, "", payload); err != nil {
		return fmt.Errorf("enqueue notification for endpoint %d: %w", ep.ID, err)
	}
	c.Logger.Info("website_down_notification_queued",
		zap.Int64("endpoint_id", int64(ep.ID)),
		zap.Int64("check_id", int64(rec.ID)),
		zap.String("name", ep.DisplayName()),
		zap.String("url", ep.URL),
		zap.String("recipient", client.Email),
	)
	return nil
}

// Failed logs a check job that ran out of attempts.
func (c *Checker) Failed(ctx context.Context, job queue.Job, err error) {
	var p CheckPayload
	_ = json.Unmarshal(job.Payload, &p)
	c.Logger.Error("check_job_failed",
		zap.Int64("endpoint_id", int64(p.EndpointID)),
		zap.String("url", p.URL),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
}

func (c *Checker) now() time.Time {
	if c.Clock == nil {
		return time.Now().UTC()
	}
	return c.Clock().UTC()
}
