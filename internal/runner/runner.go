// Package runner drives a workload from concurrent workers for a fixed
// duration and summarizes the latencies.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"go.uber.org/zap"
)

// Workload is one benchmark scenario. Step is called repeatedly from every
// worker and must be safe for concurrent use.
type Workload interface {
	Name() string
	Setup(ctx context.Context) error
	Step(ctx context.Context) error
}

// Verifier is implemented by workloads that can check the store after a run.
type Verifier interface {
	Verify(ctx context.Context) (bool, error)
}

type Result struct {
	Workload       string        `json:"workload"`
	Concurrency    int           `json:"concurrency"`
	Operations     int64         `json:"operations"`
	Errors         int64         `json:"errors"`
	Throughput     float64       `json:"throughput"`
	AverageLatency time.Duration `json:"average_latency"`
	P95Latency     time.Duration `json:"p95_latency"`
	P99Latency     time.Duration `json:"p99_latency"`
	MaxLatency     time.Duration `json:"max_latency"`
	ErrorRate      float64       `json:"error_rate"`
	TotalTime      time.Duration `json:"total_time"`
	// DataIntegrity is nil when the workload has nothing to verify.
	DataIntegrity *bool `json:"data_integrity,omitempty"`
}

// Latencies up to 10 seconds, in microseconds, with 3 significant figures.
const (
	minLatencyMicros = 1
	maxLatencyMicros = 10_000_000
	sigFigs          = 3
)

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatencyMicros, maxLatencyMicros, sigFigs)
}

// recordLatency clamps d into the histogram range so every successful step
// is counted. Steps slower than the ceiling show up as the ceiling.
func recordLatency(h *hdrhistogram.Histogram, d time.Duration) {
	v := min(max(d.Microseconds(), minLatencyMicros), maxLatencyMicros)
	_ = h.RecordValue(v)
}

// Run calls Setup once, then Step from concurrency workers until duration
// elapses or ctx is cancelled. Failed steps are counted and not timed.
func Run(ctx context.Context, w Workload, concurrency int, duration time.Duration, logger *zap.Logger) (*Result, error) {
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", concurrency)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", duration)
	}
	log := logger.With(zap.String("workload", w.Name()))

	if err := w.Setup(ctx); err != nil {
		return nil, fmt.Errorf("setup %s: %w", w.Name(), err)
	}

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var (
		wg        sync.WaitGroup
		errCount  atomic.Int64
		histMu    sync.Mutex
		histogram = newHistogram()
	)
	log.Info("benchmark started", zap.Int("concurrency", concurrency), zap.Duration("duration", duration))
	start := time.Now()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			// hdrhistogram is not safe for concurrent use; each worker keeps
			// its own and merges it at the end.
			local := newHistogram()
			for runCtx.Err() == nil {
				opStart := time.Now()
				if err := w.Step(runCtx); err != nil {
					if runCtx.Err() != nil {
						break
					}
					errCount.Add(1)
					log.Debug("step failed", zap.Int("worker", worker), zap.Error(err))
					continue
				}
				recordLatency(local, time.Since(opStart))
			}
			histMu.Lock()
			histogram.Merge(local)
			histMu.Unlock()
		}(i)
	}
	wg.Wait()

	result := summarize(histogram, errCount.Load(), time.Since(start))
	result.Workload = w.Name()
	result.Concurrency = concurrency

	if v, ok := w.(Verifier); ok {
		intact, err := v.Verify(ctx)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", w.Name(), err)
		}
		result.DataIntegrity = &intact
		if !intact {
			log.Warn("data integrity check failed")
		}
	}

	log.Info("benchmark finished",
		zap.Int64("operations", result.Operations),
		zap.Int64("errors", result.Errors),
		zap.Float64("throughput", result.Throughput),
		zap.Duration("p99", result.P99Latency))
	return result, nil
}

func summarize(h *hdrhistogram.Histogram, errors int64, total time.Duration) *Result {
	ops := h.TotalCount()
	r := &Result{
		Operations:     ops,
		Errors:         errors,
		TotalTime:      total,
		AverageLatency: time.Duration(h.Mean()) * time.Microsecond,
		P95Latency:     time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99Latency:     time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		MaxLatency:     time.Duration(h.Max()) * time.Microsecond,
	}
	if total > 0 {
		r.Throughput = float64(ops) / total.Seconds()
	}
	if attempts := ops + errors; attempts > 0 {
		r.ErrorRate = float64(errors) / float64(attempts)
	}
	return r
}
