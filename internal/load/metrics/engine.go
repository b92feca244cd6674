// Package metrics aggregates request latencies, iteration counts and
// check outcomes for a run.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/authstress/internal/checks"
	"github.com/wesleyorama2/authstress/internal/flow"
)

// Histogram range: 1 microsecond to 1 hour, 3 significant figures.
const (
	histMin     = 1
	histMax     = 3_600_000_000
	histSigFigs = 3
)

// Engine collects run metrics. It implements checks.Sink and is safe for
// concurrent use: counters are atomic, histograms are guarded by mutexes.
type Engine struct {
	// Request latency, overall and per request tag
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex
	tagHists      map[string]*hdrhistogram.Histogram
	tagHistsMu    sync.RWMutex

	// Request counters
	totalRequests  atomic.Int64
	failedRequests atomic.Int64
	totalBytes     atomic.Int64

	// Iterations
	iterations       atomic.Int64
	failedIterations atomic.Int64
	iterationHist    *hdrhistogram.Histogram
	iterationHistMu  sync.Mutex

	// Check tallies keyed by (name, scenario)
	checks   map[checkKey]*checkTally
	checkSeq []checkKey
	checksMu sync.RWMutex

	activeVUs atomic.Int32

	currentPhase Phase
	phaseHistory []PhaseChange
	phaseMu      sync.RWMutex

	startTime time.Time
	endTime   atomic.Pointer[time.Time]
}

type checkKey struct {
	name     string
	scenario string
}

type checkTally struct {
	passes atomic.Int64
	fails  atomic.Int64
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// NewEngine creates an Engine whose clock starts now.
func NewEngine() *Engine {
	return &Engine{
		latencyHist:   newHistogram(),
		tagHists:      make(map[string]*hdrhistogram.Histogram),
		iterationHist: newHistogram(),
		checks:        make(map[checkKey]*checkTally),
		currentPhase:  PhaseInit,
		startTime:     time.Now(),
	}
}

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(histMin, histMax, histSigFigs)
}

func clampMicros(d time.Duration) int64 {
	us := d.Microseconds()
	if us < histMin {
		return histMin
	}
	if us > histMax {
		return histMax
	}
	return us
}

// RecordRequest implements checks.Sink.
func (e *Engine) RecordRequest(s flow.RequestSample) {
	us := clampMicros(s.Duration)

	e.latencyHistMu.Lock()
	e.latencyHist.RecordValue(us)
	e.latencyHistMu.Unlock()

	if s.Tag != "" {
		e.recordTag(s.Tag, us)
	}

	e.totalRequests.Add(1)
	e.totalBytes.Add(s.Bytes)
	if s.Failed() {
		e.failedRequests.Add(1)
	}
}

// recordTag records into the per-tag histogram. RecordValue is not
// thread-safe, so the write lock is held.
func (e *Engine) recordTag(tag string, us int64) {
	e.tagHistsMu.Lock()
	defer e.tagHistsMu.Unlock()

	hist, ok := e.tagHists[tag]
	if !ok {
		hist = newHistogram()
		e.tagHists[tag] = hist
	}
	hist.RecordValue(us)
}

// RecordCheck implements checks.Sink.
func (e *Engine) RecordCheck(o checks.Outcome) {
	key := checkKey{name: o.Name, scenario: o.Scenario}

	e.checksMu.RLock()
	tally, ok := e.checks[key]
	e.checksMu.RUnlock()

	if !ok {
		e.checksMu.Lock()
		if tally, ok = e.checks[key]; !ok {
			tally = &checkTally{}
			e.checks[key] = tally
			e.checkSeq = append(e.checkSeq, key)
		}
		e.checksMu.Unlock()
	}

	if o.Passed {
		tally.passes.Add(1)
	} else {
		tally.fails.Add(1)
	}
}

// RecordIteration counts a finished iteration.
func (e *Engine) RecordIteration(passed bool, d time.Duration) {
	e.iterations.Add(1)
	if !passed {
		e.failedIterations.Add(1)
	}

	e.iterationHistMu.Lock()
	e.iterationHist.RecordValue(clampMicros(d))
	e.iterationHistMu.Unlock()
}

// Iterations returns the number of finished iterations.
func (e *Engine) Iterations() int64 {
	return e.iterations.Load()
}

// SetPhase updates the current phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}
	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns the phase transitions so far.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	out := make([]PhaseChange, len(e.phaseHistory))
	copy(out, e.phaseHistory)
	return out
}

// SetActiveVUs updates the active VU count.
func (e *Engine) SetActiveVUs(n int) {
	e.activeVUs.Store(int32(n))
}

// GetActiveVUs returns the active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// Stop freezes the elapsed time used for rates. Records are still accepted.
func (e *Engine) Stop() {
	now := time.Now()
	e.endTime.CompareAndSwap(nil, &now)
}

func (e *Engine) elapsed() time.Duration {
	if end := e.endTime.Load(); end != nil {
		return end.Sub(e.startTime)
	}
	return time.Since(e.startTime)
}

// GetSnapshot returns a point-in-time view of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := statsOf(e.latencyHist)
	e.latencyHistMu.Unlock()

	e.iterationHistMu.Lock()
	iterDuration := statsOf(e.iterationHist)
	e.iterationHistMu.Unlock()

	elapsed := e.elapsed()
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()
	iterations := e.iterations.Load()

	snap := &Snapshot{
		TotalRequests:     total,
		FailedRequests:    failed,
		TotalBytes:        e.totalBytes.Load(),
		Latency:           latency,
		Requests:          e.GetRequestStats(),
		Iterations:        iterations,
		FailedIterations:  e.failedIterations.Load(),
		IterationDuration: iterDuration,
		Checks:            e.GetCheckSummaries(),
		ActiveVUs:         e.GetActiveVUs(),
		CurrentPhase:      e.GetPhase(),
		Elapsed:           elapsed,
		StartTime:         e.startTime,
		Timestamp:         time.Now(),
	}

	if secs := elapsed.Seconds(); secs > 0 {
		snap.RPS = float64(total) / secs
		snap.IterationRate = float64(iterations) / secs
	}
	if total > 0 {
		snap.ErrorRate = float64(failed) / float64(total)
	}

	for _, c := range snap.Checks {
		snap.ChecksPassed += c.Passes
		snap.ChecksFailed += c.Fails
	}
	if n := snap.ChecksPassed + snap.ChecksFailed; n > 0 {
		snap.CheckPassRate = float64(snap.ChecksPassed) / float64(n)
	}

	return snap
}

// GetRequestStats returns latency statistics per request tag.
func (e *Engine) GetRequestStats() map[string]LatencyStats {
	e.tagHistsMu.RLock()
	defer e.tagHistsMu.RUnlock()

	out := make(map[string]LatencyStats, len(e.tagHists))
	for tag, hist := range e.tagHists {
		out[tag] = statsOf(hist)
	}
	return out
}

// GetCheckSummaries returns check tallies grouped by scenario tag, in the
// order each scenario and check was first seen.
func (e *Engine) GetCheckSummaries() []CheckSummary {
	e.checksMu.RLock()
	keys := append([]checkKey(nil), e.checkSeq...)
	out := make([]CheckSummary, 0, len(keys))
	for _, k := range keys {
		t := e.checks[k]
		out = append(out, CheckSummary{
			Name:     k.name,
			Scenario: k.scenario,
			Passes:   t.passes.Load(),
			Fails:    t.fails.Load(),
		})
	}
	e.checksMu.RUnlock()

	scenarioOrder := make(map[string]int)
	for _, c := range out {
		if _, ok := scenarioOrder[c.Scenario]; !ok {
			scenarioOrder[c.Scenario] = len(scenarioOrder)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return scenarioOrder[out[i].Scenario] < scenarioOrder[out[j].Scenario]
	})
	return out
}

func statsOf(h *hdrhistogram.Histogram) LatencyStats {
	if h.TotalCount() == 0 {
		return LatencyStats{}
	}
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return LatencyStats{
		Min:    us(h.Min()),
		Max:    us(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    us(h.ValueAtQuantile(50)),
		P90:    us(h.ValueAtQuantile(90)),
		P95:    us(h.ValueAtQuantile(95)),
		P99:    us(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests  int64                   `json:"totalRequests"`
	FailedRequests int64                   `json:"failedRequests"`
	TotalBytes     int64                   `json:"totalBytes"`
	Latency        LatencyStats            `json:"latency"`
	Requests       map[string]LatencyStats `json:"requests"`
	RPS            float64                 `json:"rps"`
	ErrorRate      float64                 `json:"errorRate"`

	Iterations        int64        `json:"iterations"`
	FailedIterations  int64        `json:"failedIterations"`
	IterationRate     float64      `json:"iterationRate"`
	IterationDuration LatencyStats `json:"iterationDuration"`

	Checks        []CheckSummary `json:"checks"`
	ChecksPassed  int64          `json:"checksPassed"`
	ChecksFailed  int64          `json:"checksFailed"`
	CheckPassRate float64        `json:"checkPassRate"`

	ActiveVUs    int           `json:"activeVUs"`
	CurrentPhase Phase         `json:"currentPhase"`
	Elapsed      time.Duration `json:"elapsed"`
	StartTime    time.Time     `json:"startTime"`
	Timestamp    time.Time     `json:"timestamp"`
}

// CheckSummary is the tally of one named check within one scenario tag.
type CheckSummary struct {
	Name     string `json:"name"`
	Scenario string `json:"scenario"`
	Passes   int64  `json:"passes"`
	Fails    int64  `json:"fails"`
}

// PassRate returns passes / (passes + fails), or 0 when nothing was recorded.
func (c CheckSummary) PassRate() float64 {
	n := c.Passes + c.Fails
	if n == 0 {
		return 0
	}
	return float64(c.Passes) / float64(n)
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

var _ checks.Sink = (*Engine)(nil)
