package activity

import (
	"context"
	"testing"
	"time"

	"github.com/nainya/draftsync/pkg/docstore"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecordCreatesAndUpdatesDay(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	morning := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	r := NewRecorder(store, nil, fixedClock(morning))

	if err := r.Record(ctx, "u1", "d1", 120); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	r.now = fixedClock(morning.Add(3 * time.Hour))
	if err := r.Record(ctx, "u1", "d2", 300); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := r.Record(ctx, "u1", "d1", 310); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	day, err := r.Day(ctx, "u1", "2026-03-04")
	if err != nil {
		t.Fatalf("Day failed: %v", err)
	}
	if day.WordCount != 310 {
		t.Errorf("Expected latest total 310, got %d", day.WordCount)
	}
	if len(day.DocumentIDs) != 2 {
		t.Errorf("Expected 2 distinct documents, got %v", day.DocumentIDs)
	}
	if !day.CreatedAt.Equal(morning) {
		t.Errorf("Expected createdAt kept at first write, got %v", day.CreatedAt)
	}
	if !day.UpdatedAt.After(day.CreatedAt) {
		t.Errorf("Expected updatedAt after createdAt")
	}
}

func TestRecordIgnoresEmptyActivity(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	r := NewRecorder(store, nil, nil)

	if err := r.Record(context.Background(), "u1", "d1", 0); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := r.Record(context.Background(), "", "d1", 10); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Expected nothing recorded, got %d records", store.Len())
	}
}

func TestStreak(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	today := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	r := NewRecorder(store, nil, nil)

	// active on the 7th, 8th and 9th but not yet today
	for _, d := range []int{7, 8, 9, 5} {
		r.now = fixedClock(time.Date(2026, 3, d, 12, 0, 0, 0, time.UTC))
		if err := r.Record(ctx, "u1", "d1", 10); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	r.now = fixedClock(today)
	streak, err := r.Streak(ctx, "u1")
	if err != nil {
		t.Fatalf("Streak failed: %v", err)
	}
	if streak != 3 {
		t.Errorf("Expected streak 3, got %d", streak)
	}

	if err := r.Record(ctx, "u1", "d1", 10); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if streak, _ := r.Streak(ctx, "u1"); streak != 4 {
		t.Errorf("Expected streak 4 after writing today, got %d", streak)
	}

	if streak, _ := r.Streak(ctx, "nobody"); streak != 0 {
		t.Errorf("Expected no streak, got %d", streak)
	}
}
