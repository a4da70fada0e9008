// Package monitor runs one check cycle per endpoint: probe, record the
// observation, update the endpoint's cached state, and queue a downtime
// email on an up -> down transition.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/probe"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

// Recorder persists one CheckRecord per probe.
type Recorder struct {
	Checks repo.CheckStore
}

func (r *Recorder) Record(ctx context.Context, endpointID domain.EndpointID, res probe.Result, at time.Time) (*domain.CheckRecord, error) {
	latency := res.LatencyMS
	rec := &domain.CheckRecord{
		EndpointID:     endpointID,
		IsUp:           res.Up,
		StatusCode:     res.StatusCode,
		ResponseTimeMS: &latency,
		CheckedAt:      at,
	}
	if res.Error != "" {
		msg := res.Error
		rec.ErrorMessage = &msg
	}
	if err := r.Checks.CreateCheck(ctx, rec); err != nil {
		return nil, fmt.Errorf("record check for endpoint %d: %w", endpointID, err)
	}
	return rec, nil
}

// StateUpdater applies a probe result to the endpoint row. ep must be the
// state read before the probe ran; last_downtime_at only moves when ep was up.
type StateUpdater struct {
	Endpoints repo.EndpointStore
}

func (u *StateUpdater) Apply(ctx context.Context, ep *domain.Endpoint, res probe.Result, at time.Time) (*domain.Endpoint, error) {
	latency := res.LatencyMS
	st := repo.EndpointStatus{
		IsUp:           res.Up,
		CheckedAt:      at,
		ResponseTimeMS: &latency,
	}
	if ep.IsUp && !res.Up {
		st.DowntimeAt = &at
	}
	if err := u.Endpoints.UpdateEndpointStatus(ctx, ep.ID, st); err != nil {
		return nil, fmt.Errorf("update endpoint %d: %w", ep.ID, err)
	}

	out := *ep
	out.IsUp = st.IsUp
	out.LastCheckedAt = &at
	out.ResponseTimeMS = &latency
	if st.DowntimeAt != nil {
		out.LastDowntimeAt = &at
	}
	return &out, nil
}
