// ABOUTME: Store decorator recording operation metrics and failures
// ABOUTME: Wraps any backend without changing its semantics

package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/nainya/draftsync/internal/logger"
	"github.com/nainya/draftsync/internal/metrics"
)

// Instrumented records metrics for every call to the wrapped store
type Instrumented struct {
	next    Store
	metrics *metrics.Metrics
	log     *logger.Logger
}

// Instrument wraps s. A nil logger discards output.
func Instrument(s Store, m *metrics.Metrics, log *logger.Logger) *Instrumented {
	if log == nil {
		log = logger.Nop()
	}
	return &Instrumented{next: s, metrics: m, log: log}
}

// Unwrap returns the wrapped store
func (i *Instrumented) Unwrap() Store {
	return i.next
}

func (i *Instrumented) record(op, key string, start time.Time, err error) {
	// a missing record is an answer, not a failure
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	i.metrics.RecordStoreOperation(op, err, time.Since(start))
	if err != nil {
		i.log.Warn("store operation failed").Str("operation", op).Str("key", key).Err(err).Send()
	}
}

func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := i.next.Get(ctx, key)
	i.record("get", key, start, err)
	return value, err
}

func (i *Instrumented) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := i.next.Put(ctx, key, value)
	i.record("put", key, start, err)
	return err
}

func (i *Instrumented) Merge(ctx context.Context, key string, patch []byte) error {
	start := time.Now()
	err := i.next.Merge(ctx, key, patch)
	i.record("merge", key, start, err)
	return err
}

func (i *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.record("delete", key, start, err)
	return err
}

// Watch tracks open watches on the StoreWatchers gauge
func (i *Instrumented) Watch(ctx context.Context, key string) (<-chan Snapshot, error) {
	start := time.Now()
	ch, err := i.next.Watch(ctx, key)
	i.record("watch", key, start, err)
	if err != nil {
		return nil, err
	}

	i.metrics.StoreWatchers.Inc()
	out := make(chan Snapshot, watchBuffer)
	go func() {
		defer i.metrics.StoreWatchers.Dec()
		defer close(out)
		for s := range ch {
			select {
			case out <- s:
			case <-ctx.Done():
				for range ch {
				}
				return
			}
		}
	}()
	return out, nil
}

func (i *Instrumented) Close() error {
	return i.next.Close()
}
