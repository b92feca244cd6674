package load

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/authstress/internal/load/metrics"
)

// Scheduler manages the lifecycle of Virtual Users.
//
// It provides:
// - VU pool management (spawning/stopping VUs)
// - the shared HTTP client
// - graceful shutdown coordination
// - a fatal-error latch: the first fatal iteration error stops the run
//
// Executors use the scheduler to control VU counts.
type Scheduler struct {
	scenario Scenario
	metrics  *metrics.Engine
	client   *http.Client
	log      logrus.FieldLogger

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID atomic.Int32

	// Fatal error latch
	fatalOnce sync.Once
	fatalErr  error
	fatalCh   chan struct{}

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	running      sync.WaitGroup
}

// NewScheduler creates a scheduler running scenario on every VU.
func NewScheduler(scenario Scenario, metricsEngine *metrics.Engine, client *http.Client, log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		scenario:   scenario,
		metrics:    metricsEngine,
		client:     client,
		log:        log,
		vus:        make(map[int]*VirtualUser),
		fatalCh:    make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// SpawnVU registers a new VU. The caller runs it, usually with RunVU.
func (s *Scheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))
	vu := NewVirtualUser(id, s.scenario)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// GetVU returns a VU by ID, or nil if not found.
func (s *Scheduler) GetVU(id int) *VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return s.vus[id]
}

// GetActiveVUCount returns the count of VUs neither stopping nor stopped.
func (s *Scheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if st := vu.GetState(); st == VUStateIdle || st == VUStateRunning {
			count++
		}
	}
	return count
}

// StopVU requests a specific VU to stop.
func (s *Scheduler) StopVU(id int) {
	if vu := s.GetVU(id); vu != nil {
		vu.RequestStop()
	}
}

// StopAllVUs requests all VUs to stop.
func (s *Scheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// Start runs vu in its own goroutine. Wait and Shutdown track it.
func (s *Scheduler) Start(ctx context.Context, vu *VirtualUser) {
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.RunVU(ctx, vu)
	}()
}

// RunVU runs iterations on vu until ctx is done, the VU is asked to stop,
// the scheduler shuts down, or an iteration returns a fatal error.
func (s *Scheduler) RunVU(ctx context.Context, vu *VirtualUser) {
	defer s.removeVU(vu)

	log := s.log.WithField("vu", vu.ID)
	log.Debug("virtual user started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case <-s.fatalCh:
			return
		case <-vu.Stopping():
			return
		default:
		}

		err := vu.RunIteration(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrVUStopped) {
			return
		}

		log.WithError(err).Error("fatal iteration error, stopping run")
		s.Fail(err)
		return
	}
}

func (s *Scheduler) removeVU(vu *VirtualUser) {
	vu.MarkStopped()

	s.vusMu.Lock()
	delete(s.vus, vu.ID)
	s.vusMu.Unlock()

	s.UpdateMetrics()
}

// Fail latches err as the run's fatal error. Only the first call counts.
func (s *Scheduler) Fail(err error) {
	s.fatalOnce.Do(func() {
		s.fatalErr = err
		close(s.fatalCh)
	})
}

// Failed returns a channel closed once a fatal error was latched.
func (s *Scheduler) Failed() <-chan struct{} {
	return s.fatalCh
}

// Err returns the latched fatal error, if any.
func (s *Scheduler) Err() error {
	select {
	case <-s.fatalCh:
		return s.fatalErr
	default:
		return nil
	}
}

// Wait blocks until every running VU has exited or timeout elapses.
// It returns false on timeout.
func (s *Scheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Shutdown stops all VUs and waits up to timeout for them to finish their
// current iteration. It returns the number of VUs still running.
func (s *Scheduler) Shutdown(timeout time.Duration) int {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
	s.StopAllVUs()

	remaining := 0
	if !s.Wait(timeout) {
		s.vusMu.RLock()
		remaining = len(s.vus)
		s.vusMu.RUnlock()
		s.log.WithField("vus", remaining).Warn("graceful stop timed out")
	}

	if s.client != nil {
		s.client.CloseIdleConnections()
	}
	return remaining
}

// UpdateMetrics publishes the active VU count.
func (s *Scheduler) UpdateMetrics() {
	if s.metrics != nil {
		s.metrics.SetActiveVUs(s.GetActiveVUCount())
	}
}

// ScaleVUs spawns or stops VUs to reach target. New VUs are handed to
// onSpawn, which usually passes them to Start. Stopped VUs finish their current
// iteration first. Returns the active count after adjustment.
func (s *Scheduler) ScaleVUs(target int, onSpawn func(*VirtualUser)) int {
	current := s.GetActiveVUCount()

	if target > current {
		for i := current; i < target; i++ {
			vu := s.SpawnVU()
			if onSpawn != nil {
				onSpawn(vu)
			}
		}
	} else if target < current {
		excess := current - target

		// Stop the newest VUs first.
		s.vusMu.RLock()
		ids := make([]int, 0, len(s.vus))
		for id, vu := range s.vus {
			if st := vu.GetState(); st == VUStateIdle || st == VUStateRunning {
				ids = append(ids, id)
			}
		}
		s.vusMu.RUnlock()

		sort.Sort(sort.Reverse(sort.IntSlice(ids)))
		for _, id := range ids[:min(excess, len(ids))] {
			s.StopVU(id)
		}
	}

	s.UpdateMetrics()
	return s.GetActiveVUCount()
}
