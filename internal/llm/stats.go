package llm

import (
	"context"
	"slices"
	"sync"
	"time"
)

type sample struct {
	timestamp  time.Time
	durationMs int64
	failed     bool
}

// StatsSnapshot aggregates the latency samples still inside the window.
type StatsSnapshot struct {
	Count  int     `json:"count"`
	Errors int     `json:"errors"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// Stats tracks recent model call latencies within a rolling window.
type Stats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
}

func NewStats(maxAge time.Duration) *Stats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Stats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
	}
}

// Record adds one successful call.
func (s *Stats) Record(durationMs int64) {
	s.add(durationMs, false)
}

// RecordError adds one failed call. Failures count toward Errors only.
func (s *Stats) RecordError(durationMs int64) {
	s.add(durationMs, true)
}

func (s *Stats) add(durationMs int64, failed bool) {
	if durationMs < 0 {
		durationMs = 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.samples = append(s.samples, sample{
		timestamp:  now,
		durationMs: durationMs,
		failed:     failed,
	})
}

func (s *Stats) Snapshot() StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)

	values := make([]int64, 0, len(s.samples))
	var sum int64
	errCount := 0
	for _, sm := range s.samples {
		if sm.failed {
			errCount++
			continue
		}
		values = append(values, sm.durationMs)
		sum += sm.durationMs
	}
	if len(values) == 0 {
		return StatsSnapshot{Errors: errCount}
	}
	slices.Sort(values)

	return StatsSnapshot{
		Count:  len(values),
		Errors: errCount,
		MinMs: values[0],
		MaxMs: values[len(values)-1],
		AvgMs: float64(sum) / float64(len(values)),
		P50Ms: percentile(values, 50),
		P95Ms: percentile(values, 95),
		P99Ms: percentile(values, 99),
	}
}

func (s *Stats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			s.samples[writeIdx] = sm
			writeIdx++
		}
	}
	s.samples = s.samples[:writeIdx]
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	if lower == upper {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}

// Instrumented records the latency of every call made through Model.
type Instrumented struct {
	Model Model
	Stats *Stats
}

var _ Model = (*Instrumented)(nil)

// Instrument wraps m so its calls feed stats.
func Instrument(m Model, stats *Stats) *Instrumented {
	return &Instrumented{Model: m, Stats: stats}
}

func (i *Instrumented) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	start := time.Now()
	out, err := i.Model.Complete(ctx, prompt, opts)
	i.observe(start, err)
	return out, err
}

// StreamComplete records the time to open the stream, not to drain it.
func (i *Instrumented) StreamComplete(ctx context.Context, prompt string, opts Options) (Stream, error) {
	start := time.Now()
	s, err := i.Model.StreamComplete(ctx, prompt, opts)
	i.observe(start, err)
	return s, err
}

func (i *Instrumented) Describe() ModelInfo {
	return i.Model.Describe()
}

func (i *Instrumented) observe(start time.Time, err error) {
	ms := time.Since(start).Milliseconds()
	if err != nil {
		i.Stats.RecordError(ms)
		return
	}
	i.Stats.Record(ms)
}
