// ABOUTME: Tests for the chunked text codec
// ABOUTME: Covers round trips, boundary selection, UTF-8 safety and stale part cleanup

package chunk

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/nainya/draftsync/pkg/docstore"
)

func TestSplitRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"short",
		strings.Repeat("x", 1000),
		strings.Repeat("word ", 500),
		strings.Repeat("A sentence here. ", 300),
		strings.Repeat("Paragraph text.\n\n", 200),
		strings.Repeat("héllo wörld ✍️ ", 300),
	}
	sizes := []int{1, 2, 3, 7, 10, 64, 100, 4096, 30000}

	for _, in := range inputs {
		for _, size := range sizes {
			parts := Split(in, size)
			if got := Join(parts); got != in {
				t.Fatalf("Round trip failed for size %d (input len %d)", size, len(in))
			}
		}
	}
}

func TestSplitRandomRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("ab .!?\n日本語")

	for n := 0; n < 200; n++ {
		var sb strings.Builder
		length := rng.Intn(500)
		for i := 0; i < length; i++ {
			sb.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		text := sb.String()
		size := rng.Intn(40) + 1

		parts := Split(text, size)
		if Join(parts) != text {
			t.Fatalf("Round trip failed for %q at size %d", text, size)
		}
		for _, p := range parts {
			if !utf8.ValidString(p) {
				t.Fatalf("Fragment %q is not valid UTF-8", p)
			}
		}
	}
}

func TestSplitFitsInOnePart(t *testing.T) {
	parts := Split("hello", 5)
	if len(parts) != 1 || parts[0] != "hello" {
		t.Errorf("Expected single fragment, got %q", parts)
	}

	parts = Split("", 10)
	if len(parts) != 1 || parts[0] != "" {
		t.Errorf("Expected one empty fragment, got %q", parts)
	}

	parts = Split("anything", 0)
	if len(parts) != 1 {
		t.Errorf("Expected no splitting for non-positive size, got %d parts", len(parts))
	}
}

func TestSplitRespectsMaxSize(t *testing.T) {
	text := strings.Repeat("abcdefghij", 100)
	for _, p := range Split(text, 64) {
		if len(p) > 64 {
			t.Errorf("Fragment of %d bytes exceeds limit", len(p))
		}
	}
}

func TestSplitPrefersParagraphBreak(t *testing.T) {
	// window of 100: paragraph break at 90 lies in the final fifth
	text := strings.Repeat("a", 90) + "\n\n" + strings.Repeat("b", 50)
	parts := Split(text, 100)

	if len(parts) != 2 {
		t.Fatalf("Expected 2 parts, got %d", len(parts))
	}
	if parts[0] != strings.Repeat("a", 90)+"\n\n" {
		t.Errorf("Expected cut after paragraph break, got %q", parts[0])
	}
}

func TestSplitPrefersParagraphOverSentence(t *testing.T) {
	text := strings.Repeat("a", 82) + "\n\n" + strings.Repeat("c", 6) + ". " + strings.Repeat("d", 50)
	parts := Split(text, 100)

	if !strings.HasSuffix(parts[0], "\n\n") {
		t.Errorf("Expected paragraph cut, got %q", parts[0])
	}
}

func TestSplitFallsBackToSentence(t *testing.T) {
	text := strings.Repeat("a", 85) + "! " + strings.Repeat("b", 50)
	parts := Split(text, 100)

	if parts[0] != strings.Repeat("a", 85)+"! " {
		t.Errorf("Expected cut after sentence end, got %q", parts[0])
	}
}

func TestSplitIgnoresBoundaryBeforeZone(t *testing.T) {
	// paragraph break at 10 is outside the final fifth
	text := strings.Repeat("a", 10) + "\n\n" + strings.Repeat("b", 200)
	parts := Split(text, 100)

	if len(parts[0]) != 100 {
		t.Errorf("Expected hard cut at 100, got %d", len(parts[0]))
	}
}

func TestSplitNeverBreaksRune(t *testing.T) {
	text := strings.Repeat("日", 50) // 3 bytes each
	parts := Split(text, 10)

	for _, p := range parts {
		if !utf8.ValidString(p) {
			t.Fatalf("Fragment %q is not valid UTF-8", p)
		}
		if len(p) > 10 {
			t.Errorf("Fragment of %d bytes exceeds limit", len(p))
		}
	}

	// a rune wider than the window is kept whole
	parts = Split("日本", 1)
	if len(parts) != 2 || parts[0] != "日" {
		t.Errorf("Expected whole runes, got %q", parts)
	}
}

func TestStale(t *testing.T) {
	if got := Stale(5, 2); len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Errorf("Expected [2 3 4], got %v", got)
	}
	if got := Stale(2, 5); got != nil {
		t.Errorf("Expected nothing stale when growing, got %v", got)
	}
	if got := Stale(3, 3); got != nil {
		t.Errorf("Expected nothing stale, got %v", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	keys := docstore.ChapterTextKeys("d1", "c1")

	text := strings.Repeat("The quick brown fox. ", 40)
	var committed int
	res, err := Save(ctx, store, keys, text, 100, 0, func(n int) error {
		committed = n
		return nil
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if res.Parts < 2 || committed != res.Parts {
		t.Fatalf("Expected multiple parts committed, got %+v committed=%d", res, committed)
	}

	got, err := Load(ctx, store, keys, res.Parts)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != text {
		t.Error("Loaded text differs from saved text")
	}
}

func TestShrinkCleansStaleParts(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	keys := docstore.ChapterTextKeys("d1", "c1")

	long, err := Save(ctx, store, keys, strings.Repeat("x", 500), 100, 0, nil)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if long.Parts != 5 {
		t.Fatalf("Expected 5 parts, got %d", long.Parts)
	}

	short, err := Save(ctx, store, keys, strings.Repeat("y", 150), 100, long.Parts, nil)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if short.Parts != 2 || short.Pruned != 3 {
		t.Fatalf("Expected 2 parts and 3 pruned, got %+v", short)
	}

	for i := short.Parts; i < long.Parts; i++ {
		if _, err := store.Get(ctx, keys.Part(i)); !errors.Is(err, docstore.ErrNotFound) {
			t.Errorf("Part %d still readable after shrink: %v", i, err)
		}
	}

	got, err := Load(ctx, store, keys, short.Parts)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != strings.Repeat("y", 150) {
		t.Error("Loaded text contains stale content")
	}
}

func TestCommitFailureSkipsPrune(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	keys := docstore.BodyTextKeys("p1")

	if _, err := Save(ctx, store, keys, strings.Repeat("x", 300), 100, 0, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	boom := errors.New("boom")
	_, err := Save(ctx, store, keys, "tiny", 100, 3, func(int) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Expected commit error, got %v", err)
	}
	if _, err := store.Get(ctx, keys.Part(2)); err != nil {
		t.Errorf("Expected old part kept when commit fails, got %v", err)
	}
}

func TestLoadMissingPart(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	keys := docstore.ChapterTextKeys("d1", "c1")

	if _, err := Save(ctx, store, keys, strings.Repeat("z", 300), 100, 0, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, keys.Part(1)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	text, err := Load(ctx, store, keys, 3)
	if !errors.Is(err, ErrMissingPart) {
		t.Fatalf("Expected ErrMissingPart, got %v", err)
	}
	if text != "" {
		t.Errorf("Expected no text on failure, got %d bytes", len(text))
	}
}

func TestDeleteRemovesAllParts(t *testing.T) {
	store := docstore.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	keys := docstore.ChapterTextKeys("d1", "c1")

	res, err := Save(ctx, store, keys, strings.Repeat("q", 250), 100, 0, nil)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := Delete(ctx, store, keys, res.Parts); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Expected empty store, got %d records", store.Len())
	}
}
