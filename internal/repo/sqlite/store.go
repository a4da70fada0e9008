package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

const (
	clientCols   = `id, email, name, is_active, created_at`
	endpointCols = `id, client_id, url, name, is_active, is_up, last_checked_at, last_downtime_at, response_time_ms, created_at`
	checkCols    = `id, website_id, is_up, response_time_ms, status_code, error_message, checked_at`
)

// Store implements repo.Store on an embedded SQLite file.
type Store struct {
	db *sql.DB
}

// New opens the database file and makes sure the schema exists.
func New(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// one writer at a time; concurrent jobs queue on the pool
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS clients (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	email      TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	is_active  INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS websites (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	client_id        INTEGER NOT NULL,
	url              TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	is_active        INTEGER NOT NULL DEFAULT 1,
	is_up            INTEGER NOT NULL DEFAULT 1,
	last_checked_at  TEXT,
	last_downtime_at TEXT,
	response_time_ms INTEGER,
	created_at       TEXT NOT NULL,
	FOREIGN KEY(client_id) REFERENCES clients(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_websites_client_active ON websites (client_id, is_active);

CREATE TABLE IF NOT EXISTS website_checks (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	website_id       INTEGER NOT NULL,
	is_up            INTEGER NOT NULL,
	response_time_ms INTEGER,
	status_code      INTEGER,
	error_message    TEXT,
	checked_at       TEXT NOT NULL,
	FOREIGN KEY(website_id) REFERENCES websites(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_checks_website_time ON website_checks (website_id, checked_at DESC);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}

// timeLayout is fixed width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// ---- ClientStore ----

func (s *Store) CreateClient(ctx context.Context, c *domain.Client) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (email, name, is_active, created_at) VALUES (?, ?, ?, ?)`,
		c.Email, c.Name, c.Active, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert client: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read client id: %w", err)
	}
	c.ID = domain.ClientID(id)
	return nil
}

func (s *Store) GetClient(ctx context.Context, id domain.ClientID) (*domain.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientCols+` FROM clients WHERE id = ?`, int64(id)))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (s *Store) FindClientByEmail(ctx context.Context, email string) (*domain.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientCols+` FROM clients WHERE email = ?`, email))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (s *Store) ListClients(ctx context.Context, activeOnly bool) ([]*domain.Client, error) {
	q := `SELECT ` + clientCols + ` FROM clients`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()
	var out []*domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client row: %w", err)
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
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO websites (client_id, url, name, is_active, is_up, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		int64(e.ClientID), e.URL, e.Name, e.Active, e.IsUp, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert website: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read website id: %w", err)
	}
	e.ID = domain.EndpointID(id)
	return nil
}

func (s *Store) GetEndpoint(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	e, err := scanEndpoint(s.db.QueryRowContext(ctx, `SELECT `+endpointCols+` FROM websites WHERE id = ?`, int64(id)))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (s *Store) FindEndpoint(ctx context.Context, clientID domain.ClientID, url string) (*domain.Endpoint, error) {
	e, err := scanEndpoint(s.db.QueryRowContext(ctx,
		`SELECT `+endpointCols+` FROM websites WHERE client_id = ? AND url = ? ORDER BY id LIMIT 1`,
		int64(clientID), url))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (s *Store) ListEndpointsByClient(ctx context.Context, clientID domain.ClientID, activeOnly bool) ([]*domain.Endpoint, error) {
	q := `SELECT ` + endpointCols + ` FROM websites WHERE client_id = ?`
	if activeOnly {
		q += ` AND is_active = 1`
	}
	return s.queryEndpoints(ctx, q+` ORDER BY id`, int64(clientID))
}

func (s *Store) ListEligibleEndpoints(ctx context.Context) ([]*domain.Endpoint, error) {
	return s.queryEndpoints(ctx, `
SELECT w.id, w.client_id, w.url, w.name, w.is_active, w.is_up,
       w.last_checked_at, w.last_downtime_at, w.response_time_ms, w.created_at
  FROM websites w
  JOIN clients c ON c.id = w.client_id
 WHERE w.is_active = 1 AND c.is_active = 1
 ORDER BY w.id`)
}

func (s *Store) queryEndpoints(ctx context.Context, q string, args ...any) ([]*domain.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list websites: %w", err)
	}
	defer rows.Close()
	var out []*domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan website row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateEndpointStatus(ctx context.Context, id domain.EndpointID, st repo.EndpointStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE websites
		    SET is_up = ?, last_checked_at = ?, response_time_ms = ?,
		        last_downtime_at = COALESCE(?, last_downtime_at)
		  WHERE id = ?`,
		st.IsUp, formatTime(st.CheckedAt), st.ResponseTimeMS, nullTime(st.DowntimeAt), int64(id))
	if err != nil {
		return fmt.Errorf("failed to update website status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// ---- CheckStore ----

func (s *Store) CreateCheck(ctx context.Context, c *domain.CheckRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO website_checks (website_id, is_up, response_time_ms, status_code, error_message, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		int64(c.EndpointID), c.IsUp, c.ResponseTimeMS, c.StatusCode, c.ErrorMessage, formatTime(c.CheckedAt))
	if err != nil {
		return fmt.Errorf("failed to create check: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read check id: %w", err)
	}
	c.ID = domain.CheckID(id)
	return nil
}

func (s *Store) GetCheck(ctx context.Context, id domain.CheckID) (*domain.CheckRecord, error) {
	c, err := scanCheck(s.db.QueryRowContext(ctx, `SELECT `+checkCols+` FROM website_checks WHERE id = ?`, int64(id)))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (s *Store) ListChecks(ctx context.Context, endpointID domain.EndpointID, limit int) ([]*domain.CheckRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkCols+` FROM website_checks WHERE website_id = ? ORDER BY checked_at DESC, id DESC LIMIT ?`,
		int64(endpointID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", err)
	}
	defer rows.Close()
	var out []*domain.CheckRecord
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- scanning ----

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(row scanner) (*domain.Client, error) {
	var (
		c       domain.Client
		id      int64
		created string
	)
	if err := row.Scan(&id, &c.Email, &c.Name, &c.Active, &created); err != nil {
		return nil, err
	}
	c.ID = domain.ClientID(id)
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &c, nil
}

func scanEndpoint(row scanner) (*domain.Endpoint, error) {
	var (
		e                 domain.Endpoint
		id, clientID      int64
		checked, downtime sql.NullString
		responseMS        sql.NullInt64
		created           string
	)
	if err := row.Scan(&id, &clientID, &e.URL, &e.Name, &e.Active, &e.IsUp, &checked, &downtime, &responseMS, &created); err != nil {
		return nil, err
	}
	e.ID = domain.EndpointID(id)
	e.ClientID = domain.ClientID(clientID)
	e.LastCheckedAt = parseNullTime(checked)
	e.LastDowntimeAt = parseNullTime(downtime)
	if responseMS.Valid {
		v := responseMS.Int64
		e.ResponseTimeMS = &v
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &e, nil
}

func scanCheck(row scanner) (*domain.CheckRecord, error) {
	var (
		c          domain.CheckRecord
		id, siteID int64
		responseMS sql.NullInt64
		status     sql.NullInt64
		errMsg     sql.NullString
		checked    string
	)
	if err := row.Scan(&id, &siteID, &c.IsUp, &responseMS, &status, &errMsg, &checked); err != nil {
		return nil, err
	}
	c.ID = domain.CheckID(id)
	c.EndpointID = domain.EndpointID(siteID)
	if responseMS.Valid {
		v := responseMS.Int64
		c.ResponseTimeMS = &v
	}
	if status.Valid {
		v := int(status.Int64)
		c.StatusCode = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		c.ErrorMessage = &v
	}
	c.CheckedAt, _ = time.Parse(time.RFC3339Nano, checked)
	return &c, nil
}
