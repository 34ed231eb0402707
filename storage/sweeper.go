package storage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wolfeidau/doto-cache/telemetry"
)

// DefaultSweepInterval is how often the sweeper checks the total budget.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper enforces a LimitedStore's MaxTotalSize in the background.
// The budget is checked periodically rather than on every write, so the
// namespace may overshoot it between runs.
type Sweeper struct {
	store    *LimitedStore
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithInterval sets the time between sweeps.
func WithInterval(d time.Duration) SweeperOption {
	return func(sw *Sweeper) {
		sw.interval = d
	}
}

// WithSweeperLogger sets the logger.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(sw *Sweeper) {
		sw.logger = logger
	}
}

// WithClock sets the time source used to measure sweeps.
func WithClock(now func() time.Time) SweeperOption {
	return func(sw *Sweeper) {
		sw.now = now
	}
}

// NewSweeper creates a sweeper for store.
func NewSweeper(store *LimitedStore, opts ...SweeperOption) *Sweeper {
	sw := &Sweeper{
		store:    store,
		interval: DefaultSweepInterval,
		logger:   slog.Default(),
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sw)
	}
	if sw.interval <= 0 {
		sw.interval = DefaultSweepInterval
	}
	sw.logger = sw.logger.With("component", "sweeper", "namespace", store.Namespace())
	return sw
}

// Start begins background sweeps. It is a no-op if already running or stopped.
func (sw *Sweeper) Start(ctx context.Context) {
	sw.mu.Lock()
	if sw.running || sw.stopped {
		sw.mu.Unlock()
		return
	}
	sw.running = true
	sw.mu.Unlock()

	go sw.run(ctx)
}

// Stop halts background sweeps and waits for an in-flight sweep to finish.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	if !sw.running || sw.stopped {
		sw.mu.Unlock()
		return
	}
	sw.stopped = true
	sw.mu.Unlock()

	close(sw.stopCh)
	<-sw.doneCh
}

func (sw *Sweeper) run(ctx context.Context) {
	defer close(sw.doneCh)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.stopCh:
			return
		case <-ticker.C:
			sw.RunOnce(ctx)
		}
	}
}

// SweepResult contains the results of a sweep.
type SweepResult struct {
	Entries    int
	TotalBytes int64 // before eviction
	Evicted    int
	BytesFreed int64
	Errors     int
	Duration   time.Duration
}

// RunOnce performs a single sweep. When the namespace is over budget the
// largest entries are removed first until it fits.
func (sw *Sweeper) RunOnce(ctx context.Context) *SweepResult {
	ctx = telemetry.WithComponentContext(ctx, "sweeper")
	start := sw.now()
	result := &SweepResult{}
	s := sw.store

	entries, err := s.entries(ctx)
	if err != nil {
		sw.logger.Error("failed to size namespace", "error", err)
		result.Errors++
		result.Duration = sw.now().Sub(start)
		return result
	}

	result.Entries = len(entries)
	for _, e := range entries {
		result.TotalBytes += e.size
	}

	remaining := result.TotalBytes
	if s.maxTotalSize > 0 && remaining > s.maxTotalSize {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].size > entries[j].size
		})

		for _, e := range entries {
			if remaining <= s.maxTotalSize {
				break
			}
			if err := s.store.RemoveItem(ctx, e.key); err != nil {
				sw.logger.Warn("failed to evict entry", "key", e.key, "error", err)
				result.Errors++
				continue
			}
			result.Evicted++
			result.BytesFreed += e.size
			remaining -= e.size
			s.emit(Event{Kind: EventSwept, Key: e.key[len(s.prefix):], Reason: TriggerSweep, Size: e.size})
		}
	}

	result.Duration = sw.now().Sub(start)
	telemetry.RecordSweep(ctx, s.namespace, result.Evicted, result.BytesFreed, remaining, result.Duration)

	if result.Evicted > 0 {
		sw.logger.Info("sweep complete",
			"entries", result.Entries,
			"total_bytes", result.TotalBytes,
			"limit", s.maxTotalSize,
			"evicted", result.Evicted,
			"bytes_freed", result.BytesFreed,
			"duration", result.Duration,
		)
	} else {
		sw.logger.Debug("sweep complete, within budget",
			"entries", result.Entries,
			"total_bytes", result.TotalBytes,
		)
	}

	return result
}
