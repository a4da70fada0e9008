package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

// Store keeps everything in maps. Values are copied in and out so callers
// never share a row with the store.
type Store struct {
	mu        sync.RWMutex
	clients   map[domain.ClientID]domain.Client
	endpoints map[domain.EndpointID]domain.Endpoint
	checks    map[domain.CheckID]domain.CheckRecord

	nextClient   domain.ClientID
	nextEndpoint domain.EndpointID
	nextCheck    domain.CheckID
}

func New() *Store {
	return &Store{
		clients:   make(map[domain.ClientID]domain.Client),
		endpoints: make(map[domain.EndpointID]domain.Endpoint),
		checks:    make(map[domain.CheckID]domain.CheckRecord, 128),
	}
}

func (m *Store) Close() error { return nil }

// ---- ClientStore ----

func (m *Store) CreateClient(ctx context.Context, c *domain.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextClient++
	c.ID = m.nextClient
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.clients[c.ID] = *c
	return nil
}

func (m *Store) GetClient(ctx context.Context, id domain.ClientID) (*domain.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &c, nil
}

func (m *Store) FindClientByEmail(ctx context.Context, email string) (*domain.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		if c.Email == email {
			cc := c
			return &cc, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *Store) ListClients(ctx context.Context, activeOnly bool) ([]*domain.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Client, 0, len(m.clients))
	for _, c := range m.clients {
		if activeOnly && !c.Active {
			continue
		}
		cc := c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- EndpointStore ----

func (m *Store) CreateEndpoint(ctx context.Context, e *domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[e.ClientID]; !ok {
		return repo.ErrNotFound
	}
	m.nextEndpoint++
	e.ID = m.nextEndpoint
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.endpoints[e.ID] = *e
	return nil
}

func (m *Store) GetEndpoint(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.endpoints[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &e, nil
}

func (m *Store) FindEndpoint(ctx context.Context, clientID domain.ClientID, url string) (*domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.endpoints {
		if e.ClientID == clientID && e.URL == url {
			ee := e
			return &ee, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *Store) ListEndpointsByClient(ctx context.Context, clientID domain.ClientID, activeOnly bool) ([]*domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(e domain.Endpoint) bool {
		return e.ClientID == clientID && (!activeOnly || e.Active)
	}), nil
}

func (m *Store) ListEligibleEndpoints(ctx context.Context) ([]*domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(func(e domain.Endpoint) bool {
		return e.Active && m.clients[e.ClientID].Active
	}), nil
}

// collect must be called with m.mu held.
func (m *Store) collect(keep func(domain.Endpoint) bool) []*domain.Endpoint {
	out := make([]*domain.Endpoint, 0)
	for _, e := range m.endpoints {
		if !keep(e) {
			continue
		}
		ee := e
		out = append(out, &ee)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Store) UpdateEndpointStatus(ctx context.Context, id domain.EndpointID, st repo.EndpointStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.endpoints[id]
	if !ok {
		return repo.ErrNotFound
	}
	checked := st.CheckedAt
	e.IsUp = st.IsUp
	e.LastCheckedAt = &checked
	e.ResponseTimeMS = copyInt64(st.ResponseTimeMS)
	if st.DowntimeAt != nil {
		down := *st.DowntimeAt
		e.LastDowntimeAt = &down
	}
	m.endpoints[id] = e
	return nil
}

// ---- CheckStore ----

func (m *Store) CreateCheck(ctx context.Context, c *domain.CheckRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[c.EndpointID]; !ok {
		return repo.ErrNotFound
	}
	m.nextCheck++
	c.ID = m.nextCheck
	m.checks[c.ID] = *c
	return nil
}

func (m *Store) GetCheck(ctx context.Context, id domain.CheckID) (*domain.CheckRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &c, nil
}

func (m *Store) ListChecks(ctx context.Context, endpointID domain.EndpointID, limit int) ([]*domain.CheckRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.CheckRecord, 0)
	for _, c := range m.checks {
		if c.EndpointID != endpointID {
			continue
		}
		cc := c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CheckedAt.Equal(out[j].CheckedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CheckedAt.After(out[j].CheckedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
