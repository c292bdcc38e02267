// ABOUTME: Daily writing activity per user, fed by successful text saves
// ABOUTME: One record per calendar day holding the word total and edited documents

package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nainya/draftsync/internal/metrics"
	"github.com/nainya/draftsync/pkg/docstore"
)

// DateLayout formats day keys
const DateLayout = "2006-01-02"

// maxStreak bounds how far back a streak is counted
const maxStreak = 365

// Day is one day of activity. CreatedAt is set once and never rewritten.
type Day struct {
	Date        string    `json:"date"`
	WordCount   int       `json:"wordCount"`
	DocumentIDs []string  `json:"storyIds"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Recorder writes activity days to a store
type Recorder struct {
	store   docstore.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRecorder creates a recorder. A nil now uses the local wall clock.
func NewRecorder(store docstore.Store, m *metrics.Metrics, now func() time.Time) *Recorder {
	if m == nil {
		m = metrics.NewMetrics()
	}
	if now == nil {
		now = time.Now
	}
	return &Recorder{store: store, metrics: m, now: now}
}

// Record stores wordCount as today's total for userID and adds documentID
// to the day. Counts below one word are ignored.
func (r *Recorder) Record(ctx context.Context, userID, documentID string, wordCount int) error {
	if userID == "" || wordCount < 1 {
		return nil
	}

	now := r.now()
	date := now.Format(DateLayout)
	key := docstore.ActivityKey(userID, date)

	day, err := r.Day(ctx, userID, date)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		day = Day{Date: date, CreatedAt: now.UTC()}
	case err != nil:
		r.metrics.RecordActivity(err)
		return err
	}

	day.WordCount = wordCount
	day.UpdatedAt = now.UTC()
	if documentID != "" && !contains(day.DocumentIDs, documentID) {
		day.DocumentIDs = append(day.DocumentIDs, documentID)
	}

	err = docstore.PutJSON(ctx, r.store, key, day)
	r.metrics.RecordActivity(err)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// Day returns the activity for date (YYYY-MM-DD)
func (r *Recorder) Day(ctx context.Context, userID, date string) (Day, error) {
	var day Day
	if err := docstore.GetJSON(ctx, r.store, docstore.ActivityKey(userID, date), &day); err != nil {
		return Day{}, err
	}
	return day, nil
}

// Streak counts consecutive active days ending today. When today has no
// activity yet the count starts from yesterday.
func (r *Recorder) Streak(ctx context.Context, userID string) (int, error) {
	day := r.now()
	today := day.Format(DateLayout)
	streak := 0

	for streak < maxStreak {
		_, err := r.Day(ctx, userID, day.Format(DateLayout))
		if errors.Is(err, docstore.ErrNotFound) {
			if streak == 0 && day.Format(DateLayout) == today {
				day = day.AddDate(0, 0, -1)
				continue
			}
			break
		}
		if err != nil {
			return 0, err
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
