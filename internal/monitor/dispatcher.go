package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/queue"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

type Notifier interface {
	Notify(ctx context.Context, to string, ep *domain.Endpoint, check *domain.CheckRecord) error
}

// Dispatcher runs the send_downtime_notification job.
type Dispatcher struct {
	Endpoints repo.EndpointStore
	Checks    repo.CheckStore
	Clients   repo.ClientStore
	Notifier  Notifier
	Logger    *zap.Logger
}

func NewDispatcher(store repo.Store, n Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{Endpoints: store, Checks: store, Clients: store, Notifier: n, Logger: logger}
}

func (d *Dispatcher) Handle(ctx context.Context, job queue.Job) error {
	var p NotifyPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", NotifyJob, err)
	}

	err := d.send(ctx, p)
	if err != nil {
		d.Logger.Warn("notification_attempt_failed",
			zap.Int64("endpoint_id", int64(p.EndpointID)),
			zap.String("url", p.URL),
			zap.String("recipient", p.Recipient),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		return err
	}
	d.Logger.Info("notification_sent",
		zap.Int64("endpoint_id", int64(p.EndpointID)),
		zap.Int64("check_id", int64(p.CheckID)),
		zap.String("url", p.URL),
		zap.String("recipient", p.Recipient),
	)
	return nil
}

func (d *Dispatcher) send(ctx context.Context, p NotifyPayload) error {
	ep, err := d.Endpoints.GetEndpoint(ctx, p.EndpointID)
	if err != nil {
		return fmt.Errorf("load endpoint %d: %w", p.EndpointID, err)
	}
	check, err := d.Checks.GetCheck(ctx, p.CheckID)
	if err != nil {
		return fmt.Errorf("load check %d: %w", p.CheckID, err)
	}
	to := p.Recipient
	if client, err := d.Clients.GetClient(ctx, ep.ClientID); err == nil && client.Email != "" {
		to = client.Email
	}
	return d.Notifier.Notify(ctx, to, ep, check)
}

// Failed logs a notification that ran out of attempts.
func (d *Dispatcher) Failed(ctx context.Context, job queue.Job, err error) {
	var p NotifyPayload
	_ = json.Unmarshal(job.Payload, &p)
	d.Logger.Error("notification_job_failed",
		zap.Int64("endpoint_id", int64(p.EndpointID)),
		zap.String("url", p.URL),
		zap.String("recipient", p.Recipient),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
}
