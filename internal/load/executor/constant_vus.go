package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/authstress/internal/load"
	"github.com/wesleyorama2/authstress/internal/load/metrics"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// Every VU runs iterations back to back (closed model); the think time
// inside each iteration is what paces it.
type ConstantVUs struct {
	config    *Config
	scheduler *load.Scheduler
	metrics   *metrics.Engine

	// State
	startTime  time.Time
	running    atomic.Bool
	unfinished atomic.Int32

	// Cancellation
	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}

	mu sync.RWMutex
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{done: make(chan struct{})}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *load.Scheduler, metricsEngine *metrics.Engine) error {
	defer close(e.done)

	e.mu.Lock()
	e.scheduler = scheduler
	e.metrics = metricsEngine
	e.startTime = time.Now()
	e.mu.Unlock()
	e.running.Store(true)

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()

	// Constant VUs has no ramp
	e.metrics.SetPhase(metrics.PhaseSteady)

	scheduler.ScaleVUs(e.config.VUs, func(vu *load.VirtualUser) {
		scheduler.Start(runCtx, vu)
	})

	waitDone(runCtx, scheduler)

	// Cut think times short; requests already on the wire finish within
	// the graceful stop window.
	cancel()
	e.unfinished.Store(int32(scheduler.Shutdown(e.config.GracefulStopOrDefault())))

	e.metrics.SetPhase(metrics.PhaseDone)
	e.running.Store(false)

	return scheduler.Err()
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return progress(e.running.Load(), e.startTime, e.config.Duration)
}

// GetActiveVUs returns current active VU count.
func (e *ConstantVUs) GetActiveVUs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.scheduler == nil {
		return 0
	}
	return e.scheduler.GetActiveVUCount()
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var elapsed time.Duration
	if !e.startTime.IsZero() {
		elapsed = time.Since(e.startTime)
	}

	stats := &Stats{
		StartTime:     e.startTime,
		CurrentTime:   time.Now(),
		Elapsed:       elapsed,
		TotalDuration: e.config.Duration,
		TargetVUs:     e.config.VUs,
		UnfinishedVUs: int(e.unfinished.Load()),
	}
	if e.scheduler != nil {
		stats.ActiveVUs = e.scheduler.GetActiveVUCount()
	}
	if e.metrics != nil {
		stats.Iterations = e.metrics.Iterations()
	}
	return stats
}

// Stop ends the run early and waits for Run to return.
func (e *ConstantVUs) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	cancel := e.cancelFunc
	e.cancelMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
