package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/notify"
	"github.com/hamed0406/uptimemonitor/internal/probe"
	"github.com/hamed0406/uptimemonitor/internal/queue"
	"github.com/hamed0406/uptimemonitor/internal/repo"
	"github.com/hamed0406/uptimemonitor/internal/repo/memory"
)

// --- fakes ---

type fixedProber struct {
	mu    sync.Mutex
	res   probe.Result
	calls int
}

func (f *fixedProber) Probe(ctx context.Context, url string) probe.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.res
}

type enqueued struct {
	jobType string
	key     string
	payload any
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (f *fakeQueue) Enqueue(ctx context.Context, jobType, key string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, enqueued{jobType, key, payload})
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	to    []string
	err   error
	calls int
}

func (f *fakeNotifier) Notify(ctx context.Context, to string, ep *domain.Endpoint, check *domain.CheckRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.to = append(f.to, to)
	return f.err
}

// failingChecks makes CreateCheck fail while leaving the rest of the store intact.
type failingChecks struct {
	*memory.Store
	mu    sync.Mutex
	calls int
}

func (f *failingChecks) CreateCheck(ctx context.Context, c *domain.CheckRecord) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("database unavailable")
}

func status(code int) probe.Result {
	return probe.Result{Up: probe.Classify(code), StatusCode: &code, LatencyMS: 42}
}

var checkTime = time.Date(2025, 9, 28, 12, 30, 0, 0, time.UTC)

func seedEndpoint(t *testing.T, s *memory.Store, up bool, downAt *time.Time) *domain.Endpoint {
	t.Helper()
	c := &domain.Client{Email: "owner@example.com", Name: "Owner", Active: true}
	require.NoError(t, s.CreateClient(context.Background(), c))
	ep := &domain.Endpoint{ClientID: c.ID, URL: "https://example.com", Active: true, IsUp: up, LastDowntimeAt: downAt}
	require.NoError(t, s.CreateEndpoint(context.Background(), ep))
	return ep
}

func newTestChecker(s repo.Store, p probe.Prober, q Enqueuer, log *zap.Logger) *Checker {
	c := NewChecker(s, p, q, log)
	c.Clock = func() time.Time { return checkTime }
	return c
}

// --- Recorder / StateUpdater ---

func TestRecorder_TransportFailure(t *testing.T) {
	s := memory.New()
	ep := seedEndpoint(t, s, true, nil)
	r := &Recorder{Checks: s}

	rec, err := r.Record(context.Background(), ep.ID, probe.Result{Error: "Connection timeout", LatencyMS: 10000}, checkTime)
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.False(t, rec.IsUp)
	assert.Nil(t, rec.StatusCode)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "Connection timeout", *rec.ErrorMessage)
	assert.Equal(t, int64(10000), *rec.ResponseTimeMS)
	assert.True(t, rec.CheckedAt.Equal(checkTime))
}

func TestRecorder_PropagatesStoreErrors(t *testing.T) {
	r := &Recorder{Checks: memory.New()}
	_, err := r.Record(context.Background(), 99, status(200), checkTime)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestStateUpdater_DowntimeOnlyOnTransition(t *testing.T) {
	earlier := checkTime.Add(-time.Hour)
	cases := []struct {
		name     string
		wasUp    bool
		res      probe.Result
		wantDown *time.Time
	}{
		{"up to down", true, status(500), &checkTime},
		{"down to down", false, status(503), &earlier},
		{"down to up", false, status(200), &earlier},
		{"up to up", true, status(204), &earlier},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := memory.New()
			ep := seedEndpoint(t, s, tc.wasUp, &earlier)
			u := &StateUpdater{Endpoints: s}

			out, err := u.Apply(context.Background(), ep, tc.res, checkTime)
			require.NoError(t, err)

			stored, err := s.GetEndpoint(context.Background(), ep.ID)
			require.NoError(t, err)
			for _, got := range []*domain.Endpoint{out, stored} {
				assert.Equal(t, tc.res.Up, got.IsUp)
				require.NotNil(t, got.LastCheckedAt)
				assert.True(t, got.LastCheckedAt.Equal(checkTime))
				assert.Equal(t, int64(42), *got.ResponseTimeMS)
				require.NotNil(t, got.LastDowntimeAt)
				assert.True(t, got.LastDowntimeAt.Equal(*tc.wantDown))
			}
		})
	}
}

// --- Checker ---

func TestChecker_UpToDownQueuesOneNotification(t *testing.T) {
	s := memory.New()
	ep := seedEndpoint(t, s, true, nil)
	q := &fakeQueue{}
	core, logs := observer.New(zap.InfoLevel)
	c := newTestChecker(s, &fixedProber{res: status(500)}, q, zap.New(core))

	require.NoError(t, c.Run(context.Background(), ep.ID))

	checks, err := s.ListChecks(context.Background(), ep.ID, 10)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.False(t, checks[0].IsUp)
	assert.Equal(t, 500, *checks[0].StatusCode)
	assert.Nil(t, checks[0].ErrorMessage)

	got, err := s.GetEndpoint(context.Background(), ep.ID)
	require.NoError(t, err)
	assert.False(t, got.IsUp)
	require.NotNil(t, got.LastDowntimeAt)
	assert.True(t, got.LastDowntimeAt.Equal(checkTime))

	require.Len(t, q.jobs, 1)
	assert.Equal(t, NotifyJob, q.jobs[0].jobType)
	p := q.jobs[0].payload.(NotifyPayload)
	assert.Equal(t, ep.ID, p.EndpointID)
	assert.Equal(t, checks[0].ID, p.CheckID)
	assert.Equal(t, "owner@example.com", p.Recipient)
	assert.Equal(t, "https://example.com is down!", notify.Subject(p.URL))

	queued := logs.FilterMessage("website_down_notification_queued").All()
	require.Len(t, queued, 1)
	assert.Equal(t, "https://example.com", queued[0].ContextMap()["name"])

	failed := logs.FilterMessage("check_failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zap.WarnLevel, failed[0].Level)
	assert.Equal(t, int64(500), failed[0].ContextMap()["status"])
}

func TestChecker_NoNotificationWithoutTransition(t *testing.T) {
	earlier := checkTime.Add(-24 * time.Hour)
	cases := []struct {
		name  string
		wasUp bool
		res   probe.Result
	}{
		{"down to down", false, status(500)},
		{"up to up", true, status(200)},
		{"down to up", false, status(200)},
		{"down to down on timeout", false, probe.Result{Error: "Connection timeout", LatencyMS: 10000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := memory.New()
			ep := seedEndpoint(t, s, tc.wasUp, &earlier)
			q := &fakeQueue{}
			c := newTestChecker(s, &fixedProber{res: tc.res}, q, zap.NewNop())

			require.NoError(t, c.Run(context.Background(), ep.ID))

			assert.Empty(t, q.jobs)
			got, err := s.GetEndpoint(context.Background(), ep.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.res.Up, got.IsUp)
			assert.True(t, got.LastDowntimeAt.Equal(earlier))

			checks, err := s.ListChecks(context.Background(), ep.ID, 10)
			require.NoError(t, err)
			assert.Len(t, checks, 1, "one record per completed cycle")
		})
	}
}

func TestChecker_TimeoutRecordsError(t *testing.T) {
	s := memory.New()
	ep := seedEndpoint(t, s, true, nil)
	q := &fakeQueue{}
	c := newTestChecker(s, &fixedProber{res: probe.Result{Error: "Connection timeout", LatencyMS: 10001}}, q, zap.NewNop())

	require.NoError(t, c.Run(context.Background(), ep.ID))

	checks, err := s.ListChecks(context.Background(), ep.ID, 1)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.False(t, checks[0].IsUp)
	assert.Nil(t, checks[0].StatusCode)
	assert.Equal(t, "Connection timeout", *checks[0].ErrorMessage)
	assert.Len(t, q.jobs, 1)
}

func TestChecker_SkipsMissingAndInactiveEndpoints(t *testing.T) {
	s := memory.New()
	ep := seedEndpoint(t, s, true, nil)
	off := &domain.Endpoint{ClientID: ep.ClientID, URL: "https://off.example", Active: false, IsUp: true}
	require.NoError(t, s.CreateEndpoint(context.Background(), off))

	p := &fixedProber{res: status(500)}
	c := newTestChecker(s, p, &fakeQueue{}, zap.NewNop())

	assert.NoError(t, c.Run(context.Background(), 999))
	assert.NoError(t, c.Run(context.Background(), off.ID))
	assert.Equal(t, 0, p.calls)
}

func TestChecker_EnqueueFailureIsReturned(t *testing.T) {
	s := memory.New()
	ep := seedEndpoint(t, s, true, nil)
	c := newTestChecker(s, &fixedProber{res: status(502)}, &fakeQueue{err: queue.ErrClosed}, zap.NewNop())

	assert.ErrorIs(t, c.Run(context.Background(), ep.ID), queue.ErrClosed)
}

func TestChecker_HandleDecodesPayload(t *testing.T) {
	s := memory.New()
	ep := seedEndpoint(t, s, true, nil)
	p := &fixedProber{res: status(200)}
	c := newTestChecker(s, p, &fakeQueue{}, zap.NewNop())

	raw, _ := json.Marshal(CheckPayload{EndpointID: ep.ID, URL: ep.URL})
	require.NoError(t, c.Handle(context.Background(), queue.Job{Type: CheckJob, Payload: raw, Attempt: 1}))
	assert.Equal(t, 1, p.calls)

	assert.Error(t, c.Handle(context.Background(), queue.Job{Type: CheckJob, Payload: json.RawMessage(`{`)}))
}

func TestEnqueueCheck_UsesEndpointKey(t *testing.T) {
	q := &fakeQueue{}
	require.NoError(t, EnqueueCheck(context.Background(), q, &domain.Endpoint{ID: 7, URL: "https://x"}))
	require.Len(t, q.jobs, 1)
	assert.Equal(t, CheckJob, q.jobs[0].jobType)
	assert.Equal(t, "endpoint:7", q.jobs[0].key)
	assert.Equal(t, CheckPayload{EndpointID: 7, URL: "https://x"}, q.jobs[0].payload)
}

// --- Dispatcher ---

func TestDispatcher_SendsToClientEmail(t *testing.T) {
	s := memory.New()
	ep := seedEndpoint(t, s, false, nil)
	rec := &domain.CheckRecord{EndpointID: ep.ID, CheckedAt: checkTime}
	require.NoError(t, s.CreateCheck(context.Background(), rec))

	n := &fakeNotifier{}
	core, logs := observer.New(zap.InfoLevel)
	d := NewDispatcher(s, n, zap.New(core))

	raw, _ := json.Marshal(NotifyPayload{EndpointID: ep.ID, CheckID: rec.ID, URL: ep.URL, Recipient: "stale@example.com"})
	require.NoError(t, d.Handle(context.Background(), queue.Job{Type: NotifyJob, Payload: raw, Attempt: 1}))

	assert.Equal(t, []string{"owner@example.com"}, n.to)
	assert.Equal(t, 1, logs.FilterMessage("notification_sent").Len())
}

func TestDispatcher_FailureIsLoggedAndReturned(t *testing.T) {
	s := memory.New()
	ep := seedEndpoint(t, s, false, nil)
	rec := &domain.CheckRecord{EndpointID: ep.ID, CheckedAt: checkTime}
	require.NoError(t, s.CreateCheck(context.Background(), rec))

	n := &fakeNotifier{err: errors.New("smtp 421")}
	core, logs := observer.New(zap.InfoLevel)
	d := NewDispatcher(s, n, zap.New(core))

	raw, _ := json.Marshal(NotifyPayload{EndpointID: ep.ID, CheckID: rec.ID, URL: ep.URL, Recipient: "owner@example.com"})
	err := d.Handle(context.Background(), queue.Job{Type: NotifyJob, Payload: raw, Attempt: 2})
	require.EqualError(t, err, "smtp 421")

	entries := logs.FilterMessage("notification_attempt_failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(ep.ID), fields["endpoint_id"])
	assert.Equal(t, "https://example.com", fields["url"])
	assert.Equal(t, "owner@example.com", fields["recipient"])
	assert.Equal(t, "smtp 421", fields["error"])
}

// --- through the queue ---

func fastPolicy() queue.Policy {
	return queue.Policy{MaxAttempts: 3, Backoff: []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}}
}

func runQueue(t *testing.T, log *zap.Logger) *queue.Queue {
	t.Helper()
	q := queue.New(log, queue.WithWorkers(2))
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func drain(t *testing.T, q *queue.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
}

func TestPipeline_PersistenceFailureExhaustsRetries(t *testing.T) {
	mem := memory.New()
	ep := seedEndpoint(t, mem, true, nil)
	store := &failingChecks{Store: mem}

	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	q := runQueue(t, log)
	n := &fakeNotifier{}
	Register(q, newTestChecker(store, &fixedProber{res: status(500)}, q, log), NewDispatcher(store, n, log), fastPolicy())

	require.NoError(t, EnqueueCheck(context.Background(), q, ep))
	drain(t, q)

	assert.Equal(t, 3, store.calls)
	assert.Equal(t, 0, n.calls, "no notification without a completed cycle")

	failed := logs.FilterMessage("check_job_failed").All()
	require.Len(t, failed, 1)
	fields := failed[0].ContextMap()
	assert.Equal(t, int64(ep.ID), fields["endpoint_id"])
	assert.Equal(t, "https://example.com", fields["url"])
	assert.Equal(t, "database unavailable", fields["error"])
}

func TestPipeline_DownNotificationRetriesDelivery(t *testing.T) {
	s := memory.New()
	ep := seedEndpoint(t, s, true, nil)

	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	q := runQueue(t, log)
	n := &fakeNotifier{err: errors.New("connection reset")}
	Register(q, newTestChecker(s, &fixedProber{res: status(500)}, q, log), NewDispatcher(s, n, log), fastPolicy())

	require.NoError(t, EnqueueCheck(context.Background(), q, ep))
	drain(t, q)

	assert.Equal(t, 3, n.calls)
	assert.Equal(t, 3, logs.FilterMessage("notification_attempt_failed").Len())
	failed := logs.FilterMessage("notification_job_failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "owner@example.com", failed[0].ContextMap()["recipient"])
}

func TestPipeline_SecondDownCheckDoesNotNotifyAgain(t *testing.T) {
	s := memory.New()
	ep := seedEndpoint(t, s, true, nil)

	q := runQueue(t, zap.NewNop())
	n := &fakeNotifier{}
	Register(q, newTestChecker(s, &fixedProber{res: status(503)}, q, zap.NewNop()), NewDispatcher(s, n, zap.NewNop()), fastPolicy())

	for i := 0; i < 3; i++ {
		require.NoError(t, EnqueueCheck(context.Background(), q, ep))
	}
	drain(t, q)

	assert.Equal(t, 1, n.calls)
	checks, err := s.ListChecks(context.Background(), ep.ID, 10)
	require.NoError(t, err)
	assert.Len(t, checks, 3)
}

func TestDefaultPolicy(t *testing.T) {
	assert.Equal(t, 3, DefaultPolicy.MaxAttempts)
	assert.Equal(t, []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}, DefaultPolicy.Backoff)
}

func TestPipeline_CancelledStartContextDoesNotMarkDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	s := memory.New()
	c := &domain.Client{Email: "owner@example.com", Active: true}
	require.NoError(t, s.CreateClient(context.Background(), c))
	ep := &domain.Endpoint{ClientID: c.ID, URL: srv.URL, Active: true, IsUp: true}
	require.NoError(t, s.CreateEndpoint(context.Background(), ep))

	ctx, cancel := context.WithCancel(context.Background())
	q := queue.New(zap.NewNop(), queue.WithWorkers(1))
	q.Start(ctx)
	t.Cleanup(q.Stop)
	n := &fakeNotifier{}
	Register(q, newTestChecker(s, probe.NewHTTPProber(probe.DefaultTimeout), q, zap.NewNop()), NewDispatcher(s, n, zap.NewNop()), fastPolicy())

	require.NoError(t, EnqueueCheck(context.Background(), q, ep))
	time.Sleep(50 * time.Millisecond)
	cancel()
	drain(t, q)

	got, err := s.GetEndpoint(context.Background(), ep.ID)
	require.NoError(t, err)
	assert.True(t, got.IsUp)
	assert.Nil(t, got.LastDowntimeAt)
	checks, err := s.ListChecks(context.Background(), ep.ID, 10)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.True(t, checks[0].IsUp)
	assert.Equal(t, 0, n.calls)
}

func TestChecker_LogsEveryCheckAtInfoOrWarn(t *testing.T) {
	s := memory.New()
	c0 := &domain.Client{Email: "owner@example.com", Active: true}
	require.NoError(t, s.CreateClient(context.Background(), c0))
	ep := &domain.Endpoint{ClientID: c0.ID, URL: "https://shop.example.com", Name: "Shop", Active: true, IsUp: true}
	require.NoError(t, s.CreateEndpoint(context.Background(), ep))

	core, logs := observer.New(zap.InfoLevel)
	p := &fixedProber{res: status(200)}
	c := newTestChecker(s, p, &fakeQueue{}, zap.New(core))
	require.NoError(t, c.Run(context.Background(), ep.ID))

	done := logs.FilterMessage("check_completed").All()
	require.Len(t, done, 1)
	assert.Equal(t, zap.InfoLevel, done[0].Level)
	assert.Equal(t, true, done[0].ContextMap()["up"])
	assert.Equal(t, "Shop", done[0].ContextMap()["name"])

	p.res = probe.Result{Error: "Connection refused", LatencyMS: 3}
	require.NoError(t, c.Run(context.Background(), ep.ID))

	failed := logs.FilterMessage("check_failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zap.WarnLevel, failed[0].Level)
	assert.Equal(t, "Connection refused", failed[0].ContextMap()["reason"])
}
