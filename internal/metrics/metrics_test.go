package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsIsolatedRegistries(t *testing.T) {
	// Two instances must not collide on registration
	a := NewMetrics()
	b := NewMetrics()

	a.RecordSave("chapter", "success", time.Millisecond)

	if got := testutil.ToFloat64(a.SavesTotal.WithLabelValues("chapter", "success")); got != 1 {
		t.Errorf("Expected 1 save on a, got %v", got)
	}
	if got := testutil.ToFloat64(b.SavesTotal.WithLabelValues("chapter", "success")); got != 0 {
		t.Errorf("Expected 0 saves on b, got %v", got)
	}
}

func TestRecordHelpers(t *testing.T) {
	m := NewMetrics()

	m.RecordGate("denied")
	m.RecordGate("denied")
	m.RecordFlush(errors.New("unit failed"))
	m.RecordChunkParts(3, 2)
	m.RecordStoreOperation("put", nil, time.Millisecond)
	m.RecordHeartbeat("success")

	if got := testutil.ToFloat64(m.GateChecks.WithLabelValues("denied")); got != 2 {
		t.Errorf("Expected 2 denied gate checks, got %v", got)
	}
	if got := testutil.ToFloat64(m.FlushesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("Expected 1 failed flush, got %v", got)
	}
	if got := testutil.ToFloat64(m.ChunkParts.WithLabelValues("pruned")); got != 2 {
		t.Errorf("Expected 2 pruned parts, got %v", got)
	}
	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("put", "success")); got != 1 {
		t.Errorf("Expected 1 put, got %v", got)
	}
	if got := testutil.ToFloat64(m.LeaseHeartbeatsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 heartbeat, got %v", got)
	}
}
