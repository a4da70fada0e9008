package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	apimw "github.com/hamed0406/uptimemonitor/internal/httpapi/middleware"
	"github.com/hamed0406/uptimemonitor/internal/repo/memory"
)

// ---- test helpers ----

type fakeSweeper struct {
	mu    sync.Mutex
	n     int
	err   error
	calls int
}

func (f *fakeSweeper) RunOnce(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.n, f.err
}

type fixture struct {
	ts      *httptest.Server
	store   *memory.Store
	sweeper *fakeSweeper
	client  *domain.Client
	site    *domain.Endpoint
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	active := &domain.Client{Email: "a@example.com", Name: "Acme", Active: true}
	inactive := &domain.Client{Email: "z@example.com", Name: "Zed", Active: false}
	for _, c := range []*domain.Client{active, inactive} {
		if err := store.CreateClient(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	site := &domain.Endpoint{ClientID: active.ID, URL: "https://acme.example", Active: true, IsUp: true}
	paused := &domain.Endpoint{ClientID: active.ID, URL: "https://paused.example", Active: false, IsUp: true}
	for _, e := range []*domain.Endpoint{site, paused} {
		if err := store.CreateEndpoint(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	base := time.Date(2025, 9, 28, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		code := 200
		if err := store.CreateCheck(ctx, &domain.CheckRecord{EndpointID: site.ID, IsUp: true, StatusCode: &code, CheckedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}

	sw := &fakeSweeper{n: 1}
	srv := NewServer(zap.NewNop(), store, sw)
	keys := apimw.Keys{
		Public: []string{"pub_test"},
		Admin:  []string{"adm_test"},
	}
	// very high rate limits to avoid flakiness in tests
	ts := httptest.NewServer(srv.Router(keys, nil, 10_000, 10_000, 10_000, 10_000))
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, store: store, sweeper: sw, client: active, site: site}
}

func (f *fixture) do(t *testing.T, method, path, key string, out any) int {
	t.Helper()
	req, _ := http.NewRequest(method, f.ts.URL+path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

// ---- tests ----

func TestHealthz_NoKeyNeeded(t *testing.T) {
	f := setup(t)
	if code := f.do(t, http.MethodGet, "/healthz", "", nil); code != http.StatusOK {
		t.Fatalf("want 200, got %d", code)
	}
}

func TestListClients_ActiveOnlyWithActiveWebsites(t *testing.T) {
	f := setup(t)

	var body struct {
		Clients []struct {
			ID       int64  `json:"id"`
			Email    string `json:"email"`
			Websites []struct {
				URL  string `json:"url"`
				IsUp bool   `json:"is_up"`
			} `json:"websites"`
		} `json:"clients"`
	}
	if code := f.do(t, http.MethodGet, "/api/clients", "pub_test", &body); code != http.StatusOK {
		t.Fatalf("want 200, got %d", code)
	}
	if len(body.Clients) != 1 || body.Clients[0].Email != "a@example.com" {
		t.Fatalf("unexpected clients: %+v", body.Clients)
	}
	if ws := body.Clients[0].Websites; len(ws) != 1 || ws[0].URL != "https://acme.example" || !ws[0].IsUp {
		t.Fatalf("unexpected websites: %+v", ws)
	}
}

func TestListClients_RequiresKey(t *testing.T) {
	f := setup(t)
	if code := f.do(t, http.MethodGet, "/api/clients", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", code)
	}
}

func TestClientWebsites(t *testing.T) {
	f := setup(t)

	var body struct {
		Websites []map[string]any `json:"websites"`
	}
	if code := f.do(t, http.MethodGet, "/api/clients/1/websites", "pub_test", &body); code != http.StatusOK {
		t.Fatalf("want 200, got %d", code)
	}
	if len(body.Websites) != 1 {
		t.Fatalf("want 1 active website, got %d", len(body.Websites))
	}
	if _, ok := body.Websites[0]["last_downtime_at"]; !ok {
		t.Fatalf("last_downtime_at should be present (null): %v", body.Websites[0])
	}

	if code := f.do(t, http.MethodGet, "/api/clients/404/websites", "pub_test", nil); code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", code)
	}
	if code := f.do(t, http.MethodGet, "/api/clients/abc/websites", "pub_test", nil); code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", code)
	}
}

func TestWebsiteChecks_NewestFirstWithLimit(t *testing.T) {
	f := setup(t)

	var body struct {
		Checks []struct {
			ID        int64     `json:"id"`
			CheckedAt time.Time `json:"checked_at"`
		} `json:"checks"`
	}
	if code := f.do(t, http.MethodGet, "/api/websites/1/checks?limit=2", "adm_test", &body); code != http.StatusOK {
		t.Fatalf("want 200, got %d", code)
	}
	if len(body.Checks) != 2 {
		t.Fatalf("want 2 checks, got %d", len(body.Checks))
	}
	if !body.Checks[0].CheckedAt.After(body.Checks[1].CheckedAt) {
		t.Fatalf("checks not newest first: %+v", body.Checks)
	}

	if code := f.do(t, http.MethodGet, "/api/websites/1/checks?limit=0", "pub_test", nil); code != http.StatusBadRequest {
		t.Fatalf("want 400 for bad limit, got %d", code)
	}
	if code := f.do(t, http.MethodGet, "/api/websites/77/checks", "pub_test", nil); code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", code)
	}
}

func TestSweep_AdminOnly(t *testing.T) {
	f := setup(t)

	if code := f.do(t, http.MethodPost, "/api/sweep", "pub_test", nil); code != http.StatusForbidden {
		t.Fatalf("public key should be forbidden, got %d", code)
	}
	var body struct {
		Queued int `json:"queued"`
	}
	if code := f.do(t, http.MethodPost, "/api/sweep", "adm_test", &body); code != http.StatusAccepted {
		t.Fatalf("want 202, got %d", code)
	}
	f.sweeper.mu.Lock()
	calls := f.sweeper.calls
	f.sweeper.err = errors.New("queue closed")
	f.sweeper.mu.Unlock()
	if body.Queued != 1 || calls != 1 {
		t.Fatalf("queued=%d calls=%d", body.Queued, calls)
	}

	if code := f.do(t, http.MethodPost, "/api/sweep", "adm_test", nil); code != http.StatusInternalServerError {
		t.Fatalf("want 500 on sweep error, got %d", code)
	}
}
