// ABOUTME: Tests for the lease coordinator
// ABOUTME: Exclusivity, takeover signalling, heartbeat and lifecycle behavior

package lease

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nainya/draftsync/internal/metrics"
	"github.com/nainya/draftsync/pkg/docstore"
)

type event struct {
	status   Status
	conflict *Conflict
}

func record(c *Coordinator) <-chan event {
	events := make(chan event, 64)
	c.OnStatus(func(s Status, conflict *Conflict) {
		select {
		case events <- event{s, conflict}:
		default:
		}
	})
	return events
}

// waitFor drains events until want arrives
func waitFor(t *testing.T, events <-chan event, want Status) event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.status == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %s", want)
		}
	}
}

func mustActive(t *testing.T, c *Coordinator, want bool) {
	t.Helper()
	got, err := c.IsActiveNow(context.Background())
	if err != nil {
		t.Fatalf("IsActiveNow failed: %v", err)
	}
	if got != want {
		t.Fatalf("Expected IsActiveNow=%v, got %v", want, got)
	}
}

func TestStartClaimsLease(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()

	c := New(store, Options{DeviceClass: DeviceDesktop, UserAgent: "test"})
	events := record(c)
	defer c.Stop()

	id, err := c.Start(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if id == "" || c.SessionID() != id {
		t.Fatalf("Expected session id, got %q", id)
	}

	waitFor(t, events, StatusActive)
	mustActive(t, c, true)

	rec, err := c.Current(context.Background())
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if rec.SessionID != id || rec.DeviceClass != DeviceDesktop || rec.UserAgent != "test" {
		t.Errorf("Unexpected lease record %+v", rec)
	}
}

func TestStartRequiresUser(t *testing.T) {
	c := New(docstore.NewMemoryStore(), Options{})
	if _, err := c.Start(context.Background(), ""); err == nil {
		t.Error("Expected error for empty user id")
	}
}

func TestTakeoverSignalsConflict(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	a := New(store, Options{DeviceClass: DeviceDesktop})
	aEvents := record(a)
	defer a.Stop()
	b := New(store, Options{DeviceClass: DeviceMobile})
	bEvents := record(b)
	defer b.Stop()

	if _, err := a.Start(ctx, "u1"); err != nil {
		t.Fatalf("A start failed: %v", err)
	}
	waitFor(t, aEvents, StatusActive)
	mustActive(t, a, true)

	bID, err := b.Start(ctx, "u1")
	if err != nil {
		t.Fatalf("B start failed: %v", err)
	}

	mustActive(t, a, false)
	mustActive(t, b, true)

	ev := waitFor(t, aEvents, StatusConflicted)
	if ev.conflict == nil {
		t.Fatal("Expected conflict details")
	}
	if ev.conflict.Remote.DeviceClass != DeviceMobile || ev.conflict.Remote.SessionID != bID {
		t.Errorf("Expected conflict naming B's mobile session, got %+v", ev.conflict.Remote)
	}
	if ev.conflict.LocalSessionID != a.SessionID() {
		t.Errorf("Expected local session %s, got %s", a.SessionID(), ev.conflict.LocalSessionID)
	}

	// A takes the lease back; the most recent claim wins
	if err := a.Claim(ctx); err != nil {
		t.Fatalf("A claim failed: %v", err)
	}
	mustActive(t, a, true)
	mustActive(t, b, false)

	ev = waitFor(t, bEvents, StatusConflicted)
	if ev.conflict.Remote.DeviceClass != DeviceDesktop {
		t.Errorf("Expected conflict naming desktop, got %s", ev.conflict.Remote.DeviceClass)
	}
}

func TestAbsentRecordIsNotConflict(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	c := New(store, Options{})
	events := record(c)
	defer c.Stop()

	if _, err := c.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, events, StatusActive)

	if err := store.Delete(ctx, docstore.LeaseKey("u1")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	mustActive(t, c, false)

	select {
	case ev := <-events:
		if ev.status == StatusConflicted {
			t.Errorf("Absent record signalled conflict")
		}
	case <-time.After(100 * time.Millisecond):
	}
	if c.Status() != StatusActive {
		t.Errorf("Expected cached status unchanged, got %s", c.Status())
	}
}

func TestHeartbeatRefreshesLiveness(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	var ticks int64
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := metrics.NewMetrics()
	c := New(store, Options{
		HeartbeatInterval: 10 * time.Millisecond,
		Metrics:           m,
		Now: func() time.Time {
			return base.Add(time.Duration(atomic.AddInt64(&ticks, 1)) * time.Minute)
		},
	})
	defer c.Stop()

	if _, err := c.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first, err := c.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := c.Current(ctx)
		if err != nil {
			t.Fatalf("Current failed: %v", err)
		}
		if rec.LastActiveAt.After(first.LastActiveAt) {
			if rec.SessionID != first.SessionID {
				t.Fatalf("Heartbeat changed holder")
			}
			if testutil.ToFloat64(m.LeaseHeartbeatsTotal.WithLabelValues("renewed")) < 1 {
				t.Error("Expected renewed heartbeat metric")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Heartbeat never refreshed liveness")
}

func TestHeartbeatSkipsWhenNotHolder(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	a := New(store, Options{})
	defer a.Stop()
	if _, err := a.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	other := Record{SessionID: "other", DeviceClass: DeviceMobile, LastActiveAt: time.Unix(100, 0).UTC()}
	if err := docstore.PutJSON(ctx, store, docstore.LeaseKey("u1"), other); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}

	a.beat(ctx, "u1", a.SessionID())

	got, err := a.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if got.SessionID != "other" || !got.LastActiveAt.Equal(other.LastActiveAt) {
		t.Errorf("Heartbeat touched a lease it does not hold: %+v", got)
	}
}

// interleavedStore runs before once, ahead of the first Merge it forwards
type interleavedStore struct {
	docstore.Store
	once   sync.Once
	before func()
}

func (s *interleavedStore) Merge(ctx context.Context, key string, patch []byte) error {
	s.once.Do(s.before)
	return s.Store.Merge(ctx, key, patch)
}

func TestHeartbeatDoesNotRevertTakeover(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	b := New(store, Options{DeviceClass: DeviceMobile})
	defer b.Stop()

	// the takeover lands after a's holder check and before its write
	wrapped := &interleavedStore{Store: store}
	wrapped.before = func() {
		if _, err := b.Start(ctx, "u1"); err != nil {
			t.Errorf("takeover Start failed: %v", err)
		}
	}

	a := New(wrapped, Options{DeviceClass: DeviceDesktop})
	defer a.Stop()
	if _, err := a.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	a.beat(ctx, "u1", a.SessionID())

	mustActive(t, b, true)
	mustActive(t, a, false)

	rec, err := b.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if rec.SessionID != b.SessionID() || rec.DeviceClass != DeviceMobile {
		t.Errorf("Expected mobile session %s to hold the lease, got %+v", b.SessionID(), rec)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	c := New(store, Options{})
	if _, err := c.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	c.Stop()
	c.Stop()

	if c.SessionID() != "" {
		t.Error("Expected session id cleared")
	}
	mustActive(t, c, false)
	if err := c.Claim(ctx); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for store.Watchers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Watch still open after Stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeactivateThenReclaim(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	c := New(store, Options{})
	events := record(c)
	defer c.Stop()

	if _, err := c.Start(ctx, "u1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, events, StatusActive)

	c.Deactivate()
	waitFor(t, events, StatusInactive)
	if c.Status() != StatusInactive {
		t.Errorf("Expected inactive, got %s", c.Status())
	}

	if err := c.Claim(ctx); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	waitFor(t, events, StatusActive)
	mustActive(t, c, true)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()

	c := New(store, Options{})
	defer c.Stop()

	var calls int64
	unsubscribe := c.OnStatus(func(Status, *Conflict) { atomic.AddInt64(&calls, 1) })
	unsubscribe()
	unsubscribe()

	if _, err := c.Start(context.Background(), "u1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt64(&calls); n != 0 {
		t.Errorf("Expected no calls after unsubscribe, got %d", n)
	}
}
