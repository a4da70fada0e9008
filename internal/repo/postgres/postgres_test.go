package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}
	store, err := New(context.Background(), dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("New store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresStore_ClientEndpointCheckLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	// Unique email per run to avoid UNIQUE(email) collisions with previous runs.
	c := &domain.Client{
		Email:  fmt.Sprintf("ops-%d@example.com", time.Now().UTC().UnixNano()),
		Name:   "Ops",
		Active: true,
	}
	if err := store.CreateClient(ctx, c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	e := &domain.Endpoint{ClientID: c.ID, URL: "https://example.com", Active: true, IsUp: true}
	if err := store.CreateEndpoint(ctx, e); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	eligible, err := store.ListEligibleEndpoints(ctx)
	if err != nil {
		t.Fatalf("ListEligibleEndpoints: %v", err)
	}
	found := false
	for _, x := range eligible {
		if x.ID == e.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("endpoint %d not eligible", e.ID)
	}

	at := time.Now().UTC().Truncate(time.Microsecond)
	code := 500
	ms := int64(42)
	rec := &domain.CheckRecord{EndpointID: e.ID, IsUp: false, StatusCode: &code, ResponseTimeMS: &ms, CheckedAt: at}
	if err := store.CreateCheck(ctx, rec); err != nil {
		t.Fatalf("CreateCheck: %v", err)
	}
	got, err := store.GetCheck(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetCheck: %v", err)
	}
	if got.StatusCode == nil || *got.StatusCode != 500 || got.ErrorMessage != nil {
		t.Fatalf("unexpected check: %+v", got)
	}

	if err := store.UpdateEndpointStatus(ctx, e.ID, repo.EndpointStatus{IsUp: false, CheckedAt: at, ResponseTimeMS: &ms, DowntimeAt: &at}); err != nil {
		t.Fatalf("UpdateEndpointStatus: %v", err)
	}
	later := at.Add(time.Minute)
	if err := store.UpdateEndpointStatus(ctx, e.ID, repo.EndpointStatus{IsUp: false, CheckedAt: later}); err != nil {
		t.Fatalf("UpdateEndpointStatus: %v", err)
	}
	ep, err := store.GetEndpoint(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEndpoint: %v", err)
	}
	if ep.IsUp || ep.LastDowntimeAt == nil || !ep.LastDowntimeAt.Equal(at) {
		t.Fatalf("downtime should stay at first transition: %+v", ep)
	}

	if _, err := store.GetEndpoint(ctx, -1); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
