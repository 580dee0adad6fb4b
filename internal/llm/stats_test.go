package llm

import (
	"context"
	"testing"
	"time"
)

func TestStatsSnapshotPercentiles(t *testing.T) {
	stats := NewStats(time.Hour)
	stats.Record(100)
	stats.Record(200)
	stats.Record(300)
	stats.Record(400)
	stats.Record(500)

	snap := stats.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("expected count=5, got %d", snap.Count)
	}
	if snap.MinMs != 100 {
		t.Fatalf("expected min=100, got %d", snap.MinMs)
	}
	if snap.MaxMs != 500 {
		t.Fatalf("expected max=500, got %d", snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if snap.P95Ms != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
	if snap.P99Ms != 496 {
		t.Fatalf("expected p99=496, got %f", snap.P99Ms)
	}
}

func TestStatsPrunesExpiredSamples(t *testing.T) {
	stats := NewStats(10 * time.Millisecond)
	stats.Record(100)
	time.Sleep(25 * time.Millisecond)

	snap := stats.Snapshot()
	if snap.Count != 0 {
		t.Fatalf("expected count=0 after prune, got %d", snap.Count)
	}

	stats.Record(200)
	snap = stats.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("expected count=1 for fresh sample, got %d", snap.Count)
	}
	if snap.MinMs != 200 || snap.MaxMs != 200 {
		t.Fatalf("expected min=max=200, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
}

func TestStatsRecordClampsNegativeDuration(t *testing.T) {
	stats := NewStats(time.Hour)
	stats.Record(-10)
	snap := stats.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("expected count=1, got %d", snap.Count)
	}
	if snap.MinMs != 0 || snap.MaxMs != 0 {
		t.Fatalf("expected clamped duration=0, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
}

func TestStatsCountsErrorsSeparately(t *testing.T) {
	stats := NewStats(time.Hour)
	stats.Record(100)
	stats.RecordError(5000)
	stats.RecordError(10)

	snap := stats.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("expected count=1, got %d", snap.Count)
	}
	if snap.Errors != 2 {
		t.Fatalf("expected errors=2, got %d", snap.Errors)
	}
	if snap.MaxMs != 100 {
		t.Fatalf("failed calls must not affect latency, got max=%d", snap.MaxMs)
	}
}

func TestStatsOnlyErrors(t *testing.T) {
	stats := NewStats(time.Hour)
	stats.RecordError(10)
	snap := stats.Snapshot()
	if snap.Count != 0 || snap.Errors != 1 {
		t.Fatalf("expected count=0 errors=1, got count=%d errors=%d", snap.Count, snap.Errors)
	}
}

func TestInstrumentedRecordsCalls(t *testing.T) {
	stats := NewStats(time.Hour)
	calls := 0
	m := Instrument(Func(func(ctx context.Context, prompt string, opts Options) (string, error) {
		calls++
		if prompt == "fail" {
			return "", &GenerationError{Model: "stub", Op: "complete"}
		}
		return "ok", nil
	}), stats)

	if _, err := m.Complete(context.Background(), "hi", Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Complete(context.Background(), "fail", Options{}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	snap := stats.Snapshot()
	if snap.Count != 1 || snap.Errors != 1 {
		t.Fatalf("expected count=1 errors=1, got count=%d errors=%d", snap.Count, snap.Errors)
	}
	if got := m.Describe().Name; got != "func" {
		t.Fatalf("Describe should pass through, got %q", got)
	}
}
