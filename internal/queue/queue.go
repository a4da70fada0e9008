// Package queue runs named jobs on a pool of workers with per-job-type
// retry policies. Jobs that share a key never run at the same time.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrClosed     = errors.New("queue closed")
	ErrUnknownJob = errors.New("unknown job type")
)

// Job is one unit of work. Attempt starts at 1.
type Job struct {
	ID      string
	Type    string
	Key     string
	Payload json.RawMessage
	Attempt int
}

type Handler func(ctx context.Context, job Job) error

// FailedFunc is called once when a job exhausts its attempts.
type FailedFunc func(ctx context.Context, job Job, err error)

// Policy controls retries. The delay before attempt n+1 is Backoff[n-1];
// the last delay is reused when Backoff is shorter than MaxAttempts-1.
type Policy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	i := attempt - 1
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	if i < 0 {
		i = 0
	}
	return p.Backoff[i]
}

type registration struct {
	handler  Handler
	policy   Policy
	onFailed FailedFunc
}

type Queue struct {
	log     *zap.Logger
	workers int

	mu       sync.Mutex
	cond     *sync.Cond
	types    map[string]registration
	ready    []*Job
	busy     map[string]bool   // keys with a job running or waiting on backoff
	backlog  map[string][]*Job // jobs waiting for their key
	timers   map[*time.Timer]*Job
	inflight int
	idle     chan struct{}
	closed   bool
	started  bool

	wg sync.WaitGroup
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func New(log *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		log:     log,
		workers: 4,
		types:   make(map[string]registration),
		busy:    make(map[string]bool),
		backlog: make(map[string][]*Job),
		timers:  make(map[*time.Timer]*Job),
		idle:    make(chan struct{}),
	}
	close(q.idle)
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register binds a handler and its retry policy to a job type.
func (q *Queue) Register(jobType string, h Handler, p Policy, onFailed FailedFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.types[jobType] = registration{handler: h, policy: p, onFailed: onFailed}
}

// Enqueue marshals payload to JSON and schedules a job. An empty key means
// the job is not serialized against any other.
func (q *Queue) Enqueue(ctx context.Context, jobType, key string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", jobType, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if _, ok := q.types[jobType]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobType)
	}
	job := &Job{ID: uuid.NewString(), Type: jobType, Key: key, Payload: raw, Attempt: 1}
	if q.inflight == 0 {
		q.idle = make(chan struct{})
	}
	q.inflight++

	if key != "" && q.busy[key] {
		q.backlog[key] = append(q.backlog[key], job)
		return nil
	}
	if key != "" {
		q.busy[key] = true
	}
	q.ready = append(q.ready, job)
	q.cond.Signal()
	return nil
}

// Start launches the workers. Jobs see ctx's values but not its
// cancellation: a running job always finishes, and only Stop ends the
// workers.
func (q *Queue) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.log.Info("queue_started", zap.Int("workers", q.workers))
}

// Stop rejects new jobs, drops queued jobs and pending retries, and waits
// for running jobs to return.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := len(q.ready)
	for _, waiting := range q.backlog {
		dropped += len(waiting)
	}
	for t := range q.timers {
		t.Stop()
		dropped++
	}
	q.ready = nil
	q.backlog = map[string][]*Job{}
	q.timers = map[*time.Timer]*Job{}
	if dropped > 0 {
		q.log.Warn("queue_dropped_jobs", zap.Int("count", dropped))
		q.inflight -= dropped
		if q.inflight == 0 {
			close(q.idle)
		}
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
	q.log.Info("queue_stopped")
}

// Wait blocks until every enqueued job has finished, including retries.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		job := q.next()
		if job == nil {
			return
		}
		q.run(ctx, job)
	}
}

func (q *Queue) next() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.ready) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil
	}
	job := q.ready[0]
	q.ready[0] = nil
	q.ready = q.ready[1:]
	return job
}

func (q *Queue) run(ctx context.Context, job *Job) {
	q.mu.Lock()
	reg := q.types[job.Type]
	q.mu.Unlock()

	err := safeCall(ctx, reg.handler, *job)
	if err == nil {
		q.finish(job)
		return
	}

	if job.Attempt < reg.policy.attempts() {
		d := reg.policy.delay(job.Attempt)
		q.log.Warn("job_attempt_failed",
			zap.String("job_id", job.ID),
			zap.String("job_type", job.Type),
			zap.Int("attempt", job.Attempt),
			zap.Duration("retry_in", d),
			zap.Error(err),
		)
		job.Attempt++
		q.retryAfter(job, d)
		return
	}

	q.log.Error("job_failed",
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
	if reg.onFailed != nil {
		reg.onFailed(ctx, *job, err)
	}
	q.finish(job)
}

// retryAfter re-queues job once d has elapsed, keeping its key held.
func (q *Queue) retryAfter(job *Job, d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.doneLocked(job)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, pending := q.timers[t]; !pending {
			return // dropped by Stop
		}
		delete(q.timers, t)
		if q.closed {
			q.doneLocked(job)
			return
		}
		q.ready = append(q.ready, job)
		q.cond.Signal()
	})
	q.timers[t] = job
}

func (q *Queue) finish(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.doneLocked(job)
}

// doneLocked releases the job's key, promoting the next job waiting on it.
func (q *Queue) doneLocked(job *Job) {
	if job.Key != "" {
		if waiting := q.backlog[job.Key]; len(waiting) > 0 && !q.closed {
			next := waiting[0]
			if len(waiting) == 1 {
				delete(q.backlog, job.Key)
			} else {
				q.backlog[job.Key] = waiting[1:]
			}
			q.ready = append(q.ready, next)
			q.cond.Signal()
		} else {
			delete(q.busy, job.Key)
		}
	}
	q.inflight--
	if q.inflight == 0 {
		close(q.idle)
	}
}

func safeCall(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s job: %v", job.Type, r)
		}
	}()
	return h(ctx, job)
}
