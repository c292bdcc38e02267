// ABOUTME: Document store contract shared by every backend
// ABOUTME: Key-addressed records with per-key atomic writes and change watches

package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates no record exists at the key
	ErrNotFound = errors.New("docstore: record not found")

	// ErrClosed indicates an operation on a closed store
	ErrClosed = errors.New("docstore: store closed")

	// ErrNotObject indicates a merge into or with a value that is not a JSON object
	ErrNotObject = errors.New("docstore: not a JSON object")
)

// Snapshot is the state of one key as seen by a watcher
type Snapshot struct {
	Key    string
	Value  []byte
	Exists bool
}

// Store is a key-addressed record store. Each call is atomic for its key;
// there are no multi-key transactions.
type Store interface {
	// Get returns the record at key or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the record at key
	Put(ctx context.Context, key string, value []byte) error

	// Merge sets the top-level fields of the JSON object patch on the record
	// at key in one atomic step, creating the record when absent. Fields not
	// named in patch keep whatever a concurrent writer stored.
	Merge(ctx context.Context, key string, patch []byte) error

	// Delete removes the record at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Watch delivers the current state of key followed by every later write,
	// including writes from other processes sharing the backend. The channel
	// is closed when ctx is done or the store closes.
	Watch(ctx context.Context, key string) (<-chan Snapshot, error)

	Close() error
}

// GetJSON reads and decodes the record at key
func GetJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and replaces the record at key
func PutJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// MergeJSON encodes patch and merges it into the record at key
func MergeJSON(ctx context.Context, s Store, key string, patch map[string]interface{}) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch for %s: %w", key, err)
	}
	return s.Merge(ctx, key, data)
}

// mergeObject applies patch to current with shallow object semantics.
// A nil current means no record exists yet.
func mergeObject(current, patch []byte) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if current != nil {
		if err := json.Unmarshal(current, &fields); err != nil || fields == nil {
			return nil, fmt.Errorf("merge into record: %w", ErrNotObject)
		}
	}

	var changes map[string]json.RawMessage
	if err := json.Unmarshal(patch, &changes); err != nil || changes == nil {
		return nil, fmt.Errorf("merge patch: %w", ErrNotObject)
	}
	for field, value := range changes {
		fields[field] = value
	}
	return json.Marshal(fields)
}
