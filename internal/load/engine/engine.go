// Package engine is the orchestrator of an auth stress run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/authstress/internal/authflow"
	"github.com/wesleyorama2/authstress/internal/checks"
	"github.com/wesleyorama2/authstress/internal/credential"
	"github.com/wesleyorama2/authstress/internal/credstore"
	"github.com/wesleyorama2/authstress/internal/flow"
	"github.com/wesleyorama2/authstress/internal/load"
	"github.com/wesleyorama2/authstress/internal/load/config"
	"github.com/wesleyorama2/authstress/internal/load/executor"
	"github.com/wesleyorama2/authstress/internal/load/metrics"
	"github.com/wesleyorama2/authstress/internal/promsink"
	"github.com/wesleyorama2/authstress/internal/scenario"
)

// redisPingTimeout bounds the connectivity check of the Redis store.
const redisPingTimeout = 5 * time.Second

// Engine is the main orchestrator of a run.
//
// It coordinates:
//   - building the credential store, generator, selector and request flow
//   - running the executor
//   - metrics collection and threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("run.yaml")
//	engine, _ := NewEngine(cfg)
//	result, _ := engine.Run(context.Background())
//	fmt.Printf("Run passed: %v\n", result.Passed)
type Engine struct {
	config *config.TestConfig
	log    logrus.FieldLogger
	runID  string

	// redisClient overrides the client built from the config
	redisClient redis.UniversalClient

	metricsEngine *metrics.Engine
	executor      executor.Executor
	mu            sync.RWMutex

	startTime time.Time
	running   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

// WithRedisClient makes the Redis store use client instead of dialing
// store.redis.addr. The engine does not close it.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(e *Engine) { e.redisClient = client }
}

// WithRunID fixes the run ID. It otherwise comes from store.redis.runId
// or a fresh UUID.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// TestResult contains the complete run results.
type TestResult struct {
	// Run metadata
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	RunID       string        `json:"runId"`
	Executor    string        `json:"executor"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	// Iteration and VU counts
	Iterations       int64 `json:"iterations"`
	FailedIterations int64 `json:"failedIterations"`
	UnfinishedVUs    int   `json:"unfinishedVUs"`

	// Aggregated metrics
	Metrics *metrics.Snapshot      `json:"metrics"`
	Checks  []metrics.CheckSummary `json:"checks"`

	// Threshold evaluation
	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	// Error is set when the run was aborted
	Error string `json:"error,omitempty"`
}

// NewEngine applies defaults to cfg, validates it and returns an Engine.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{config: cfg}
	for _, opt := range opts {
		opt(e)
	}

	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	if e.runID == "" {
		e.runID = cfg.Store.Redis.RunID
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}

	return e, nil
}

// RunID returns the ID of this run.
func (e *Engine) RunID() string {
	return e.runID
}

// Run executes the load profile and returns the results.
//
// The returned error is non-nil only when the run could not start or was
// aborted by a shared-state failure. Failed checks and requests only show
// up in the result.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.startTime = time.Now()
	e.metricsEngine = metrics.NewEngine()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	cfg := e.config
	log := e.log.WithField("run_id", e.runID)
	e.metricsEngine.SetPhase(metrics.PhaseInit)

	store, err := e.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("closing credential store")
		}
	}()

	var sink checks.Sink = e.metricsEngine
	if addr := cfg.Metrics.PrometheusAddr; addr != "" {
		exporter := promsink.New(e.runID)
		sink = checks.MultiSink{e.metricsEngine, exporter}

		promCtx, stopProm := context.WithCancel(context.WithoutCancel(ctx))
		defer stopProm()
		go func() {
			if err := exporter.Serve(promCtx, addr); err != nil {
				log.WithError(err).WithField("addr", addr).Error("prometheus exporter stopped")
			}
		}()
		log.WithField("addr", addr).Info("serving prometheus metrics on /metrics")
	}

	client := load.NewHTTPClient(load.HTTPClientConfig{
		Timeout:             time.Duration(cfg.Target.Timeout),
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     cfg.Target.MaxConnectionsPerHost,
		IdleConnTimeout:     90 * time.Second,
		InsecureSkipVerify:  cfg.Target.InsecureSkipVerify,
	})

	sc, err := e.buildScenario(client, store, sink, log)
	if err != nil {
		return nil, err
	}

	exec, _, err := executor.CreateExecutorFromLoadSettings(ctx, cfg.Name, &cfg.Load)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}
	e.mu.Lock()
	e.executor = exec
	e.mu.Unlock()

	scheduler := load.NewScheduler(sc, e.metricsEngine, client, log)

	log.WithFields(logrus.Fields{
		"executor": exec.Type(),
		"base_url": cfg.Target.BaseURL,
		"store":    cfg.Store.Type,
	}).Info("starting run")

	runErr := exec.Run(ctx, scheduler, e.metricsEngine)
	e.metricsEngine.Stop()

	snapshot := e.metricsEngine.GetSnapshot()
	thresholds := EvaluateThresholds(cfg.Thresholds, snapshot)
	stats := exec.GetStats()

	end := time.Now()
	result := &TestResult{
		Name:             cfg.Name,
		Description:      cfg.Description,
		RunID:            e.runID,
		Executor:         string(exec.Type()),
		StartTime:        e.startTime,
		EndTime:          end,
		Duration:         end.Sub(e.startTime),
		Iterations:       snapshot.Iterations,
		FailedIterations: snapshot.FailedIterations,
		UnfinishedVUs:    stats.UnfinishedVUs,
		Metrics:          snapshot,
		Checks:           snapshot.Checks,
		Passed:           runErr == nil && AllPassed(thresholds),
		Thresholds:       thresholds,
	}

	if runErr != nil {
		result.Error = runErr.Error()
		log.WithError(runErr).Error("run aborted")
		return result, fmt.Errorf("run aborted: %w", runErr)
	}

	log.WithFields(logrus.Fields{
		"iterations": snapshot.Iterations,
		"requests":   snapshot.TotalRequests,
		"passed":     result.Passed,
	}).Info("run finished")

	return result, nil
}

// openStore creates the configured credential store.
func (e *Engine) openStore(ctx context.Context) (credstore.Store, error) {
	if e.config.Store.Type != config.StoreRedis {
		return credstore.NewMemoryStore(), nil
	}

	rc := e.config.Store.Redis
	client := e.redisClient
	var opts []credstore.RedisOption
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		opts = append(opts, credstore.WithOwnedClient())
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if e.redisClient == nil {
			_ = client.Close()
		}
		return nil, fmt.Errorf("%w: redis at %s: %v", credstore.ErrUnavailable, rc.Addr, err)
	}

	return credstore.NewRedisStore(client, rc.KeyPrefix, e.runID, opts...), nil
}

// buildScenario wires the per-iteration collaborators.
func (e *Engine) buildScenario(client *http.Client, store credstore.Store, sink checks.Sink, log logrus.FieldLogger) (*authflow.Scenario, error) {
	cfg := e.config

	genOpts := []credential.Option{}
	if cfg.Credentials.Seed != 0 {
		genOpts = append(genOpts, credential.WithSeed(cfg.Credentials.Seed))
	}
	gen, err := credential.NewGenerator(credential.Config{
		PasswordMinLength: cfg.Credentials.PasswordMinLength,
		PasswordMaxLength: cfg.Credentials.PasswordMaxLength,
		MemorableRatio:    *cfg.Credentials.MemorableRatio,
	}, genOpts...)
	if err != nil {
		return nil, err
	}

	selector, err := scenario.NewSelector(*cfg.Scenario.RegisterRatio)
	if err != nil {
		return nil, err
	}

	thinkMin, thinkMax, err := cfg.Scenario.ThinkTimes()
	if err != nil {
		return nil, err
	}

	flowExec, err := flow.NewExecutor(flow.Config{
		BaseURL:      cfg.Target.BaseURL,
		RegisterPath: cfg.Target.RegisterPath,
		LoginPath:    cfg.Target.LoginPath,
		ThinkTimeMin: thinkMin,
		ThinkTimeMax: thinkMax,
	}, client, store, flow.WithRecorder(sink), flow.WithLogger(log))
	if err != nil {
		return nil, err
	}

	return authflow.New(authflow.Config{
		Generator:  gen,
		Selector:   selector,
		Store:      store,
		Executor:   flowExec,
		Sink:       sink,
		Iterations: e.metricsEngine,
		Logger:     log,
	})
}

// GetConfig returns the run configuration.
func (e *Engine) GetConfig() *config.TestConfig {
	return e.config
}

// GetMetrics returns the current metrics snapshot.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.metricsEngine == nil {
		return nil
	}
	return e.metricsEngine.GetSnapshot()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// GetProgress returns the run progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.executor == nil {
		return 0.0
	}
	return e.executor.GetProgress()
}

// GetStats returns the executor's live statistics, or nil before the
// executor exists.
func (e *Engine) GetStats() *executor.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.executor == nil {
		return nil
	}
	return e.executor.GetStats()
}

// Stop ends a running run early.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	exec, running := e.executor, e.running
	e.mu.RUnlock()

	if !running || exec == nil {
		return nil
	}
	if err := exec.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
