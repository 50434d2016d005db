package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newCoordinator(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/shard/biz1-loc1":
			if hits != nil {
				hits.Add(1)
			}
			json.NewEncoder(w).Encode(ShardConnection{
				ShardID:          "shard-2",
				ConnectionString: "postgres://app:pw@db2/shard",
				IsActive:         true,
				MaxBusinesses:    100,
			})
		case r.Method == http.MethodGet && r.URL.Path == "/shard/down-loc1":
			w.WriteHeader(http.StatusInternalServerError)
		case r.Method == http.MethodPost && r.URL.Path == "/register":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["tenantId"] == "" || body["locationId"] == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(ShardConnection{ShardID: "shard-9", IsActive: true})
		case r.Method == http.MethodGet && r.URL.Path == "/shards/health":
			json.NewEncoder(w).Encode([]ShardConnection{
				{ShardID: "shard-1", IsActive: true},
				{ShardID: "shard-2", IsActive: false},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/shard/shard-1/capacity":
			json.NewEncoder(w).Encode(map[string]bool{"canAcceptNewBusiness": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestResolve(t *testing.T) {
	srv := newCoordinator(t, nil)
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, APIKey: "test-key"})
	conn, err := c.Resolve(context.Background(), "biz1", "loc1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if conn.ShardID != "shard-2" || !conn.IsActive {
		t.Fatalf("unexpected connection: %+v", conn)
	}
}

func TestResolve_ValidatesBeforeNetwork(t *testing.T) {
	// baseURL inválida a propósito: si valida bien, nunca llega a la red
	c := New(Options{BaseURL: "http://127.0.0.1:1", APIKey: "k"})

	if _, err := c.Resolve(context.Background(), "", "loc1"); !errors.Is(err, ErrEmptyTenantLocation) {
		t.Fatalf("expected ErrEmptyTenantLocation, got %v", err)
	}
	if _, err := c.Resolve(context.Background(), "biz1", "  "); !errors.Is(err, ErrEmptyTenantLocation) {
		t.Fatalf("expected ErrEmptyTenantLocation, got %v", err)
	}
}

func TestResolve_CoordinatorErrorPropagates(t *testing.T) {
	srv := newCoordinator(t, nil)
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, APIKey: "test-key"})
	_, err := c.Resolve(context.Background(), "down", "loc1")
	if !errors.Is(err, ErrCoordinator) {
		t.Fatalf("expected ErrCoordinator, got %v", err)
	}
}

func TestResolve_CachesByTenantLocation(t *testing.T) {
	var hits atomic.Int64
	srv := newCoordinator(t, &hits)
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, APIKey: "test-key", CacheTTL: time.Minute})
	for i := 0; i < 5; i++ {
		if _, err := c.Resolve(context.Background(), "biz1", "loc1"); err != nil {
			t.Fatalf("Resolve #%d failed: %v", i, err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("coordinator hits = %d, want 1 (cached)", hits.Load())
	}
}

func TestRegister(t *testing.T) {
	srv := newCoordinator(t, nil)
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, APIKey: "test-key"})
	conn, err := c.Register(context.Background(), "biz2", "loc9", "appointment")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if conn.ShardID != "shard-9" {
		t.Fatalf("registered shard = %q", conn.ShardID)
	}

	if _, err := c.Register(context.Background(), "", "loc9", ""); !errors.Is(err, ErrEmptyTenantLocation) {
		t.Fatalf("expected ErrEmptyTenantLocation, got %v", err)
	}
}

func TestHealthAndCapacity(t *testing.T) {
	srv := newCoordinator(t, nil)
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, APIKey: "test-key"})

	shards, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if len(shards) != 2 || shards[0].ShardID != "shard-1" {
		t.Fatalf("unexpected health: %+v", shards)
	}

	ok, err := c.Capacity(context.Background(), "shard-1")
	if err != nil || !ok {
		t.Fatalf("Capacity = %v, %v", ok, err)
	}
}

func TestBearerCredential(t *testing.T) {
	srv := newCoordinator(t, nil)
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, APIKey: "wrong"})
	if _, err := c.Health(context.Background()); !errors.Is(err, ErrCoordinator) {
		t.Fatalf("expected ErrCoordinator on bad credential, got %v", err)
	}
}
