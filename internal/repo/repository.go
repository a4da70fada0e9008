package repo

import (
	"context"
	"errors"
	"time"

	"github.com/hamed0406/uptimemonitor/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Ports (interfaces). Every adapter under repo/ implements all of them.
type ClientStore interface {
	CreateClient(ctx context.Context, c *domain.Client) error
	GetClient(ctx context.Context, id domain.ClientID) (*domain.Client, error)
	FindClientByEmail(ctx context.Context, email string) (*domain.Client, error)
	ListClients(ctx context.Context, activeOnly bool) ([]*domain.Client, error)
}

type EndpointStore interface {
	CreateEndpoint(ctx context.Context, e *domain.Endpoint) error
	GetEndpoint(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error)
	FindEndpoint(ctx context.Context, clientID domain.ClientID, url string) (*domain.Endpoint, error)
	ListEndpointsByClient(ctx context.Context, clientID domain.ClientID, activeOnly bool) ([]*domain.Endpoint, error)
	// ListEligibleEndpoints returns active endpoints whose client is active.
	ListEligibleEndpoints(ctx context.Context) ([]*domain.Endpoint, error)
	UpdateEndpointStatus(ctx context.Context, id domain.EndpointID, st EndpointStatus) error
}

type CheckStore interface {
	CreateCheck(ctx context.Context, c *domain.CheckRecord) error
	GetCheck(ctx context.Context, id domain.CheckID) (*domain.CheckRecord, error)
	// ListChecks returns the newest checks first.
	ListChecks(ctx context.Context, endpointID domain.EndpointID, limit int) ([]*domain.CheckRecord, error)
}

type Store interface {
	ClientStore
	EndpointStore
	CheckStore
	Close() error
}

// EndpointStatus is the single-row update applied after each probe.
// A nil DowntimeAt leaves last_downtime_at untouched.
type EndpointStatus struct {
	IsUp           bool
	CheckedAt      time.Time
	ResponseTimeMS *int64
	DowntimeAt     *time.Time
}
