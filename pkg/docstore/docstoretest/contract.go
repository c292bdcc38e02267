// ABOUTME: Behavioral contract every document store backend must satisfy
// ABOUTME: Shared by backend tests and remote client tests

package docstoretest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nainya/draftsync/pkg/docstore"
)

// RunContract exercises a fresh store from newStore in each subtest
func RunContract(t *testing.T, newStore func(t *testing.T) docstore.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(context.Background(), "documents/missing"); !errors.Is(err, docstore.ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("PutGetReplace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Put(ctx, "documents/d1", []byte(`{"title":"one"}`)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Put(ctx, "documents/d1", []byte(`{"title":"two"}`)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := s.Get(ctx, "documents/d1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != `{"title":"two"}` {
			t.Errorf("Expected replaced value, got %s", got)
		}
	})

	t.Run("EmptyValue", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Put(ctx, "documents/d1/units/body/parts/0", []byte{}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get(ctx, "documents/d1/units/body/parts/0")
		if err != nil {
			t.Fatalf("Expected empty record to exist, got %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Expected empty value, got %q", got)
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Put(ctx, "k", []byte("v")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := s.Delete(ctx, "k"); err != nil {
			t.Fatalf("Second delete failed: %v", err)
		}
		if _, err := s.Get(ctx, "k"); !errors.Is(err, docstore.ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("BinarySafe", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		value := []byte{0, 1, 2, 0xff, '\n', 0}

		if err := s.Put(ctx, "bin", value); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := s.Get(ctx, "bin")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, value) {
			t.Errorf("Expected %v, got %v", value, got)
		}
	})

	t.Run("MergeCreatesAndPatches", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		key := "users/u1/activeSession/current"

		if err := s.Merge(ctx, key, []byte(`{"lastActiveAt":"t1"}`)); err != nil {
			t.Fatalf("Merge on missing record failed: %v", err)
		}
		if err := s.Put(ctx, key, []byte(`{"sessionId":"b","lastActiveAt":"t2"}`)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Merge(ctx, key, []byte(`{"lastActiveAt":"t3"}`)); err != nil {
			t.Fatalf("Merge failed: %v", err)
		}

		var got map[string]string
		if err := docstore.GetJSON(ctx, s, key, &got); err != nil {
			t.Fatalf("GetJSON failed: %v", err)
		}
		if got["sessionId"] != "b" || got["lastActiveAt"] != "t3" {
			t.Errorf("Expected sessionId b kept and lastActiveAt t3, got %v", got)
		}
	})

	t.Run("MergeRejectsNonObjects", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.Put(ctx, "raw", []byte("plain text")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Merge(ctx, "raw", []byte(`{"a":1}`)); !errors.Is(err, docstore.ErrNotObject) {
			t.Errorf("Expected ErrNotObject for text record, got %v", err)
		}
		if err := s.Merge(ctx, "fresh", []byte(`[1,2]`)); !errors.Is(err, docstore.ErrNotObject) {
			t.Errorf("Expected ErrNotObject for array patch, got %v", err)
		}
		if got, _ := s.Get(ctx, "raw"); string(got) != "plain text" {
			t.Errorf("Expected record untouched, got %q", got)
		}
	})

	t.Run("ConcurrentMergesKeepEveryField", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				patch := fmt.Sprintf(`{"f%d":%d}`, i, i)
				if err := s.Merge(ctx, "doc", []byte(patch)); err != nil {
					t.Errorf("Merge %d failed: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		var got map[string]int
		if err := docstore.GetJSON(ctx, s, "doc", &got); err != nil {
			t.Fatalf("GetJSON failed: %v", err)
		}
		if len(got) != writers {
			t.Errorf("Expected %d fields after concurrent merges, got %v", writers, got)
		}
	})

	t.Run("MergeNotifiesWatchers", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := s.Watch(ctx, "k")
		if err != nil {
			t.Fatalf("Watch failed: %v", err)
		}
		Next(t, ch)

		if err := s.Merge(ctx, "k", []byte(`{"a":"b"}`)); err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		if got := Next(t, ch); !got.Exists || string(got.Value) != `{"a":"b"}` {
			t.Fatalf("Expected merged snapshot, got %+v", got)
		}
	})

	t.Run("WatchDeliversCurrentThenWrites", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := s.Put(ctx, "users/u1/activeSession/current", []byte("a")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		ch, err := s.Watch(ctx, "users/u1/activeSession/current")
		if err != nil {
			t.Fatalf("Watch failed: %v", err)
		}

		first := Next(t, ch)
		if !first.Exists || string(first.Value) != "a" {
			t.Fatalf("Expected current value a, got %+v", first)
		}

		if err := s.Put(ctx, "users/u1/activeSession/current", []byte("b")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		second := Next(t, ch)
		if !second.Exists || string(second.Value) != "b" {
			t.Fatalf("Expected b, got %+v", second)
		}

		if err := s.Delete(ctx, "users/u1/activeSession/current"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		third := Next(t, ch)
		if third.Exists {
			t.Fatalf("Expected deletion snapshot, got %+v", third)
		}
	})

	t.Run("WatchMissingKey", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := s.Watch(ctx, "absent")
		if err != nil {
			t.Fatalf("Watch failed: %v", err)
		}
		if first := Next(t, ch); first.Exists {
			t.Fatalf("Expected absent snapshot, got %+v", first)
		}
	})

	t.Run("WatchIgnoresOtherKeys", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := s.Watch(ctx, "mine")
		if err != nil {
			t.Fatalf("Watch failed: %v", err)
		}
		Next(t, ch)

		if err := s.Put(ctx, "other", []byte("x")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Put(ctx, "mine", []byte("y")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if got := Next(t, ch); got.Key != "mine" || string(got.Value) != "y" {
			t.Fatalf("Expected only mine=y, got %+v", got)
		}
	})

	t.Run("WatchClosesOnCancel", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())

		ch, err := s.Watch(ctx, "k")
		if err != nil {
			t.Fatalf("Watch failed: %v", err)
		}
		Next(t, ch)
		cancel()

		deadline := time.After(5 * time.Second)
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("Watch channel not closed after cancel")
			}
		}
	})
}

// Next receives one snapshot or fails the test after a timeout
func Next(t *testing.T, ch <-chan docstore.Snapshot) docstore.Snapshot {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			t.Fatal("Watch channel closed unexpectedly")
		}
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for snapshot")
	}
	return docstore.Snapshot{}
}
