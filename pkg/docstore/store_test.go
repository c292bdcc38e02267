// ABOUTME: Tests for the memory and SQLite backends and store helpers
// ABOUTME: Runs the shared contract plus backend-specific checks

package docstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nainya/draftsync/internal/metrics"
	"github.com/nainya/draftsync/pkg/docstore"
	"github.com/nainya/draftsync/pkg/docstore/docstoretest"
)

func TestMemoryStoreContract(t *testing.T) {
	docstoretest.RunContract(t, func(t *testing.T) docstore.Store {
		s := docstore.NewMemoryStore()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStoreContract(t *testing.T) {
	docstoretest.RunContract(t, func(t *testing.T) docstore.Store {
		s, err := docstore.OpenSQLite(filepath.Join(t.TempDir(), "records.db"))
		if err != nil {
			t.Fatalf("Failed to open sqlite: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestInstrumentedStoreContract(t *testing.T) {
	docstoretest.RunContract(t, func(t *testing.T) docstore.Store {
		s := docstore.Instrument(docstore.NewMemoryStore(), metrics.NewMetrics(), nil)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	ctx := context.Background()

	s, err := docstore.OpenSQLite(path)
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	if err := s.Put(ctx, docstore.DocumentKey("d1"), []byte(`{"title":"Draft"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := docstore.OpenSQLite(path)
	if err != nil {
		t.Fatalf("Failed to reopen sqlite: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, docstore.DocumentKey("d1"))
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got) != `{"title":"Draft"}` {
		t.Errorf("Expected persisted value, got %s", got)
	}

	n, err := reopened.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 record, got %d", n)
	}
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	s := docstore.NewMemoryStore()
	s.Close()

	ctx := context.Background()
	if err := s.Put(ctx, "k", []byte("v")); !errors.Is(err, docstore.ErrClosed) {
		t.Errorf("Expected ErrClosed from Put, got %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, docstore.ErrClosed) {
		t.Errorf("Expected ErrClosed from Get, got %v", err)
	}
	if _, err := s.Watch(ctx, "k"); !errors.Is(err, docstore.ErrClosed) {
		t.Errorf("Expected ErrClosed from Watch, got %v", err)
	}
}

func TestCloseEndsWatches(t *testing.T) {
	s := docstore.NewMemoryStore()
	ch, err := s.Watch(context.Background(), "k")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	docstoretest.Next(t, ch)

	s.Close()
	if _, ok := <-ch; ok {
		t.Error("Expected watch channel closed")
	}
	if s.Watchers() != 0 {
		t.Errorf("Expected no watchers, got %d", s.Watchers())
	}
}

func TestSlowWatcherSeesLatest(t *testing.T) {
	s := docstore.NewMemoryStore()
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx, "k")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	for i := 0; i < 100; i++ {
		if err := s.Put(ctx, "k", []byte{byte(i)}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	var last docstore.Snapshot
	for len(ch) > 0 {
		last = <-ch
	}
	if len(last.Value) != 1 || last.Value[0] != 99 {
		t.Errorf("Expected final value 99, got %v", last.Value)
	}
}

func TestJSONHelpersAndMerge(t *testing.T) {
	s := docstore.NewMemoryStore()
	defer s.Close()
	ctx := context.Background()
	key := docstore.DocumentKey("d1")

	if err := docstore.MergeJSON(ctx, s, key, map[string]interface{}{"title": "First"}); err != nil {
		t.Fatalf("Merge on missing record failed: %v", err)
	}
	if err := docstore.MergeJSON(ctx, s, key, map[string]interface{}{"privacy": "private"}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	var got map[string]string
	if err := docstore.GetJSON(ctx, s, key, &got); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if got["title"] != "First" || got["privacy"] != "private" {
		t.Errorf("Expected merged fields, got %v", got)
	}

	if err := s.Put(ctx, "bad", []byte("not json")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	var v map[string]interface{}
	if err := docstore.GetJSON(ctx, s, "bad", &v); err == nil {
		t.Error("Expected decode error")
	}
	var syntaxErr *json.SyntaxError
	if err := docstore.GetJSON(ctx, s, "bad", &v); !errors.As(err, &syntaxErr) {
		t.Errorf("Expected wrapped syntax error, got %v", err)
	}
}

func TestInstrumentedRecordsOperations(t *testing.T) {
	m := metrics.NewMetrics()
	s := docstore.Instrument(docstore.NewMemoryStore(), m, nil)
	defer s.Close()
	ctx := context.Background()

	s.Put(ctx, "k", []byte("v"))
	s.Get(ctx, "k")
	s.Get(ctx, "missing")

	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("get", "success")); got != 2 {
		t.Errorf("Expected 2 successful gets, got %v", got)
	}
	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("put", "success")); got != 1 {
		t.Errorf("Expected 1 put, got %v", got)
	}
}

func TestKeyLayout(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{docstore.DocumentKey("d1"), "documents/d1"},
		{docstore.CharactersKey("d1"), "documents/d1/characters"},
		{docstore.LocationsKey("d1"), "documents/d1/locations"},
		{docstore.StructureKey("d1"), "documents/d1/structure"},
		{docstore.LeaseKey("u1"), "users/u1/activeSession/current"},
		{docstore.ActivityKey("u1", "2026-01-02"), "users/u1/writingActivity/2026-01-02"},
		{docstore.ChapterTextKeys("d1", "c1").Meta(), "documents/d1/units/chapter-c1/content"},
		{docstore.BodyTextKeys("d1").Part(3), "documents/d1/units/body/parts/3"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, tt.got)
		}
	}

	n, err := docstore.ParsePartIndex(docstore.BodyTextKeys("d1").Part(12))
	if err != nil || n != 12 {
		t.Errorf("Expected part 12, got %d (%v)", n, err)
	}
	if _, err := docstore.ParsePartIndex("documents/d1"); err == nil {
		t.Error("Expected error for non-part key")
	}
}
