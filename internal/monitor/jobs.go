package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/queue"
)

const (
	CheckJob  = "check_endpoint"
	NotifyJob = "send_downtime_notification"
)

// DefaultPolicy is used for both job types: three attempts, waiting 10s
// and then 30s between them.
var DefaultPolicy = queue.Policy{
	MaxAttempts: 3,
	Backoff:     []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second},
}

type CheckPayload struct {
	EndpointID domain.EndpointID `json:"endpoint_id"`
	URL        string            `json:"url"`
}

type NotifyPayload struct {
	EndpointID domain.EndpointID `json:"endpoint_id"`
	CheckID    domain.CheckID    `json:"check_id"`
	URL        string            `json:"url"`
	Recipient  string            `json:"recipient"`
}

// Enqueuer is the part of the queue the jobs and the sweeper need.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType, key string, payload any) error
}

// EndpointKey serializes every check of one endpoint.
func EndpointKey(id domain.EndpointID) string {
	return fmt.Sprintf("endpoint:%d", id)
}

// EnqueueCheck schedules one check cycle for ep.
func EnqueueCheck(ctx context.Context, q Enqueuer, ep *domain.Endpoint) error {
	return q.Enqueue(ctx, CheckJob, EndpointKey(ep.ID), CheckPayload{EndpointID: ep.ID, URL: ep.URL})
}

// Register binds both job handlers to q with the given retry policy.
func Register(q *queue.Queue, c *Checker, d *Dispatcher, p queue.Policy) {
	q.Register(CheckJob, c.Handle, p, c.Failed)
	q.Register(NotifyJob, d.Handle, p, d.Failed)
}
