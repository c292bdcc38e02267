// ABOUTME: Chunked text codec for records with a size ceiling
// ABOUTME: Splits text at paragraph or sentence boundaries and reassembles it losslessly

package chunk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nainya/draftsync/pkg/docstore"
)

// DefaultMaxPartSize is the largest fragment in bytes
const DefaultMaxPartSize = 30000

// ErrMissingPart indicates a fragment below the recorded part count is absent
var ErrMissingPart = errors.New("chunk: missing part")

// Split cuts text into fragments of at most maxPartSize bytes whose
// concatenation is text. A cut prefers the last paragraph break, then the
// last sentence end, inside the final fifth of the window. Cuts never split
// a UTF-8 sequence; a fragment only exceeds maxPartSize when a single rune
// is larger than it. A non-positive maxPartSize disables splitting.
func Split(text string, maxPartSize int) []string {
	if maxPartSize <= 0 || len(text) <= maxPartSize {
		return []string{text}
	}

	var parts []string
	remaining := text
	for len(remaining) > maxPartSize {
		cut := cutPoint(remaining, maxPartSize)
		parts = append(parts, remaining[:cut])
		remaining = remaining[cut:]
	}
	if remaining != "" {
		parts = append(parts, remaining)
	}
	return parts
}

// cutPoint picks the fragment end for s, where len(s) > limit
func cutPoint(s string, limit int) int {
	window := s[:limit]
	zone := limit - limit/5

	if i := strings.LastIndex(window, "\n\n"); i >= zone {
		return i + 2
	}
	if i := lastSentenceEnd(window); i >= zone {
		return i + 2
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(s)
		cut = size
	}
	return cut
}

// lastSentenceEnd returns the index of the last terminator followed by a space, or -1
func lastSentenceEnd(s string) int {
	for i := len(s) - 2; i >= 0; i-- {
		if s[i+1] != ' ' {
			continue
		}
		switch s[i] {
		case '.', '!', '?':
			return i
		}
	}
	return -1
}

// Join concatenates fragments in order
func Join(parts []string) string {
	return strings.Join(parts, "")
}

// Stale returns the part indexes left over when a text stored in before
// parts is rewritten in after parts
func Stale(before, after int) []int {
	if before <= after {
		return nil
	}
	stale := make([]int, 0, before-after)
	for i := after; i < before; i++ {
		stale = append(stale, i)
	}
	return stale
}

// Result describes one chunked save
type Result struct {
	Parts  int
	Pruned int
}

// Save writes text as fragments under keys, calls commit with the new part
// count, then deletes the fragments a previous save left beyond it. commit
// runs before pruning so the recorded part count never points past a
// deleted fragment. A nil commit is allowed.
func Save(ctx context.Context, s docstore.Store, keys docstore.TextKeys, text string, maxPartSize, storedBefore int, commit func(partCount int) error) (Result, error) {
	parts := Split(text, maxPartSize)

	if err := WriteParts(ctx, s, keys, parts); err != nil {
		return Result{}, err
	}
	if commit != nil {
		if err := commit(len(parts)); err != nil {
			return Result{Parts: len(parts)}, err
		}
	}

	pruned, err := Prune(ctx, s, keys, storedBefore, len(parts))
	return Result{Parts: len(parts), Pruned: pruned}, err
}

// WriteParts stores each fragment at its index
func WriteParts(ctx context.Context, s docstore.Store, keys docstore.TextKeys, parts []string) error {
	for i, part := range parts {
		if err := s.Put(ctx, keys.Part(i), []byte(part)); err != nil {
			return fmt.Errorf("write part %d of %s: %w", i, keys.Unit, err)
		}
	}
	return nil
}

// Prune deletes the fragments at Stale(before, after)
func Prune(ctx context.Context, s docstore.Store, keys docstore.TextKeys, before, after int) (int, error) {
	stale := Stale(before, after)
	for _, i := range stale {
		if err := s.Delete(ctx, keys.Part(i)); err != nil {
			return 0, fmt.Errorf("prune part %d of %s: %w", i, keys.Unit, err)
		}
	}
	return len(stale), nil
}

// Load reassembles partCount fragments. An absent fragment fails the whole
// load with ErrMissingPart rather than yielding shortened text.
func Load(ctx context.Context, s docstore.Store, keys docstore.TextKeys, partCount int) (string, error) {
	parts := make([]string, 0, partCount)
	for i := 0; i < partCount; i++ {
		data, err := s.Get(ctx, keys.Part(i))
		if errors.Is(err, docstore.ErrNotFound) {
			return "", fmt.Errorf("%w: %s part %d of %d", ErrMissingPart, keys.Unit, i, partCount)
		}
		if err != nil {
			return "", fmt.Errorf("read part %d of %s: %w", i, keys.Unit, err)
		}
		parts = append(parts, string(data))
	}
	return Join(parts), nil
}

// Delete removes the fragments of a text stored in partCount parts
func Delete(ctx context.Context, s docstore.Store, keys docstore.TextKeys, partCount int) error {
	_, err := Prune(ctx, s, keys, partCount, 0)
	return err
}
