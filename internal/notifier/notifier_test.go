package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/meridianhq/opstream/internal/envelope"
)

func TestNotify_PostsExpectedPayload(t *testing.T) {
	var mu sync.Mutex
	var got []Notification

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notifications" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var msg Notification
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("bad body: %v", err)
		}
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := New(Options{BaseURL: srv.URL, QueueSize: 8})
	n.Notify(envelope.OpCreate, "biz1", "loc1", "appointment", "ap2401-00001", "shard-2", true, nil)
	n.Notify(envelope.OpDelete, "biz1", "loc1", "appointment", "ap2401-00001", "", false, errTest)
	n.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("notifications received = %d, want 2", len(got))
	}
	if got[0].Type != "resource_created" || !got[0].Success || got[0].ShardID != "shard-2" {
		t.Fatalf("first notification mismatch: %+v", got[0])
	}
	if got[1].Type != "resource_error" || got[1].Success || got[1].Error == "" {
		t.Fatalf("failure notification mismatch: %+v", got[1])
	}
}

var errTest = &testErr{}

type testErr struct{}

func (*testErr) Error() string { return "store unavailable" }

func TestNotify_HubFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(Options{BaseURL: srv.URL, QueueSize: 8})
	// no panic, no error hacia el caller
	n.Notify(envelope.OpUpdate, "biz1", "loc1", "patient", "pa2401-00001", "", true, nil)
	n.Close()
}

func TestNotify_QueueFullDrops(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()

	n := New(Options{BaseURL: srv.URL, QueueSize: 1, Timeout: time.Second})
	for i := 0; i < 10; i++ {
		n.Notify(envelope.OpCreate, "biz1", "loc1", "appointment", "", "", true, nil)
	}
	close(blocked)
	n.Close()
	// si llegamos acá sin deadlock, el enqueue nunca bloqueó
}

func TestTypeFor(t *testing.T) {
	if typeFor(envelope.OpPatch, true) != "resource_patched" {
		t.Fatal("patch type mismatch")
	}
	if typeFor(envelope.OpCreate, false) != "resource_error" {
		t.Fatal("failure must map to resource_error")
	}
}
