package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS clients (
  id         BIGSERIAL PRIMARY KEY,
  email      TEXT NOT NULL UNIQUE,
  name       TEXT NOT NULL DEFAULT '',
  is_active  BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS websites (
  id               BIGSERIAL PRIMARY KEY,
  client_id        BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
  url              TEXT NOT NULL,
  name             TEXT NOT NULL DEFAULT '',
  is_active        BOOLEAN NOT NULL DEFAULT TRUE,
  is_up            BOOLEAN NOT NULL DEFAULT TRUE,
  last_checked_at  TIMESTAMPTZ NULL,
  last_downtime_at TIMESTAMPTZ NULL,
  response_time_ms BIGINT NULL,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_websites_client_active ON websites (client_id, is_active);
CREATE INDEX IF NOT EXISTS idx_websites_last_checked  ON websites (last_checked_at);

CREATE TABLE IF NOT EXISTS website_checks (
  id               BIGSERIAL PRIMARY KEY,
  website_id       BIGINT NOT NULL REFERENCES websites(id) ON DELETE CASCADE,
  is_up            BOOLEAN NOT NULL,
  response_time_ms BIGINT NULL,
  status_code      INTEGER NULL,
  error_message    TEXT NULL,
  checked_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checks_website_time ON website_checks (website_id, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_checks_checked_at   ON website_checks (checked_at);
`

const (
	clientCols   = `id, email, name, is_active, created_at`
	endpointCols = `id, client_id, url, name, is_active, is_up, last_checked_at, last_downtime_at, response_time_ms, created_at`
	checkCols    = `id, website_id, is_up, response_time_ms, status_code, error_message, checked_at`
)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New connects, pings and applies the schema.
func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Info("postgres_ready")
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}

// ---- ClientStore ----

func (s *Store) CreateClient(ctx context.Context, c *domain.Client) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO clients (email, name, is_active, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		c.Email, c.Name, c.Active, c.CreatedAt,
	).Scan((*int64)(&c.ID))
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *Store) GetClient(ctx context.Context, id domain.ClientID) (*domain.Client, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+clientCols+` FROM clients WHERE id = $1`, int64(id))
	c, err := scanClient(row)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (s *Store) FindClientByEmail(ctx context.Context, email string) (*domain.Client, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+clientCols+` FROM clients WHERE email = $1`, email)
	c, err := scanClient(row)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (s *Store) ListClients(ctx context.Context, activeOnly bool) ([]*domain.Client, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+clientCols+`
		   FROM clients
		  WHERE ($1 = FALSE OR is_active)
		  ORDER BY id`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []*domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- EndpointStore ----

func (s *Store) CreateEndpoint(ctx context.Context, e *domain.Endpoint) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO websites (client_id, url, name, is_active, is_up, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		int64(e.ClientID), e.URL, e.Name, e.Active, e.IsUp, e.CreatedAt,
	).Scan((*int64)(&e.ID))
	if err != nil {
		return fmt.Errorf("insert website: %w", err)
	}
	return nil
}

func (s *Store) GetEndpoint(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+endpointCols+` FROM websites WHERE id = $1`, int64(id))
	e, err := scanEndpoint(row)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (s *Store) FindEndpoint(ctx context.Context, clientID domain.ClientID, url string) (*domain.Endpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+endpointCols+` FROM websites WHERE client_id = $1 AND url = $2 ORDER BY id LIMIT 1`,
		int64(clientID), url)
	e, err := scanEndpoint(row)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (s *Store) ListEndpointsByClient(ctx context.Context, clientID domain.ClientID, activeOnly bool) ([]*domain.Endpoint, error) {
	return s.queryEndpoints(ctx,
		`SELECT `+endpointCols+`
		   FROM websites
		  WHERE client_id = $1 AND ($2 = FALSE OR is_active)
		  ORDER BY id`, int64(clientID), activeOnly)
}

func (s *Store) ListEligibleEndpoints(ctx context.Context) ([]*domain.Endpoint, error) {
	return s.queryEndpoints(ctx, `
SELECT w.id, w.client_id, w.url, w.name, w.is_active, w.is_up,
       w.last_checked_at, w.last_downtime_at, w.response_time_ms, w.created_at
  FROM websites w
  JOIN clients c ON c.id = w.client_id
 WHERE w.is_active AND c.is_active
 ORDER BY w.id`)
}

func (s *Store) queryEndpoints(ctx context.Context, q string, args ...any) ([]*domain.Endpoint, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list websites: %w", err)
	}
	defer rows.Close()

	var out []*domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan website: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateEndpointStatus(ctx context.Context, id domain.EndpointID, st repo.EndpointStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE websites
		    SET is_up = $2,
		        last_checked_at = $3,
		        response_time_ms = $4,
		        last_downtime_at = COALESCE($5, last_downtime_at)
		  WHERE id = $1`,
		int64(id), st.IsUp, st.CheckedAt, st.ResponseTimeMS, st.DowntimeAt,
	)
	if err != nil {
		return fmt.Errorf("update website status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ---- CheckStore ----

func (s *Store) CreateCheck(ctx context.Context, c *domain.CheckRecord) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO website_checks
		   (website_id, is_up, response_time_ms, status_code, error_message, checked_at)
		 VALUES
		   ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		int64(c.EndpointID), c.IsUp, c.ResponseTimeMS, c.StatusCode, c.ErrorMessage, c.CheckedAt,
	).Scan((*int64)(&c.ID))
	if err != nil {
		return fmt.Errorf("insert check: %w", err)
	}
	return nil
}

func (s *Store) GetCheck(ctx context.Context, id domain.CheckID) (*domain.CheckRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+checkCols+` FROM website_checks WHERE id = $1`, int64(id))
	c, err := scanCheck(row)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (s *Store) ListChecks(ctx context.Context, endpointID domain.EndpointID, limit int) ([]*domain.CheckRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+checkCols+`
		   FROM website_checks
		  WHERE website_id = $1
		  ORDER BY checked_at DESC, id DESC
		  LIMIT $2`, int64(endpointID), limit)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	defer rows.Close()

	var out []*domain.CheckRecord
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- scanning ----

func scanClient(row pgx.Row) (*domain.Client, error) {
	var c domain.Client
	if err := row.Scan((*int64)(&c.ID), &c.Email, &c.Name, &c.Active, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanEndpoint(row pgx.Row) (*domain.Endpoint, error) {
	var e domain.Endpoint
	err := row.Scan(
		(*int64)(&e.ID), (*int64)(&e.ClientID), &e.URL, &e.Name, &e.Active, &e.IsUp,
		&e.LastCheckedAt, &e.LastDowntimeAt, &e.ResponseTimeMS, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanCheck(row pgx.Row) (*domain.CheckRecord, error) {
	var c domain.CheckRecord
	err := row.Scan(
		(*int64)(&c.ID), (*int64)(&c.EndpointID), &c.IsUp, &c.ResponseTimeMS,
		&c.StatusCode, &c.ErrorMessage, &c.CheckedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
