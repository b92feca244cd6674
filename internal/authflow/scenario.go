// Package authflow wires credential generation, scenario selection, the
// request flow and response validation into one iteration.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/authstress/internal/checks"
	"github.com/wesleyorama2/authstress/internal/credential"
	"github.com/wesleyorama2/authstress/internal/credstore"
	"github.com/wesleyorama2/authstress/internal/flow"
	"github.com/wesleyorama2/authstress/internal/scenario"
)

// maxUnusedAttempts bounds the search for a never-registered username.
const maxUnusedAttempts = 16

// IterationRecorder receives one record per finished iteration.
type IterationRecorder interface {
	RecordIteration(passed bool, duration time.Duration)
}

// Config holds the collaborators of a Scenario.
type Config struct {
	Generator  *credential.Generator
	Selector   *scenario.Selector
	Store      credstore.Store
	Executor   *flow.Executor
	Sink       checks.Sink
	Iterations IterationRecorder
	Logger     logrus.FieldLogger
}

// Scenario runs the register/login iteration. All state lives in its
// collaborators, so one Scenario serves every virtual user.
type Scenario struct {
	gen        *credential.Generator
	selector   *scenario.Selector
	store      credstore.Store
	exec       *flow.Executor
	sink       checks.Sink
	iterations IterationRecorder
	log        logrus.FieldLogger
}

// New creates a Scenario.
func New(cfg Config) (*Scenario, error) {
	switch {
	case cfg.Generator == nil:
		return nil, errors.New("authflow: generator is required")
	case cfg.Selector == nil:
		return nil, errors.New("authflow: selector is required")
	case cfg.Store == nil:
		return nil, errors.New("authflow: store is required")
	case cfg.Executor == nil:
		return nil, errors.New("authflow: executor is required")
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Scenario{
		gen:        cfg.Generator,
		selector:   cfg.Selector,
		store:      cfg.Store,
		exec:       cfg.Executor,
		sink:       cfg.Sink,
		iterations: cfg.Iterations,
		log:        log,
	}, nil
}

// Iteration is what one call to Run did.
type Iteration struct {
	Decision   scenario.Decision
	Credential credential.Credential
	Result     *flow.Result
	Outcomes   []checks.Outcome
	Duration   time.Duration
}

// Passed reports whether every check of the iteration passed.
func (it *Iteration) Passed() bool {
	return checks.AllPassed(it.Outcomes)
}

// RunIteration runs one iteration for virtual user vu. Only shared-state
// failures are returned; everything else is reported through the sink.
func (s *Scenario) RunIteration(ctx context.Context, vu int, iteration int64) error {
	_, err := s.Run(ctx, vu, iteration)
	return err
}

// Run runs one iteration and returns its details.
func (s *Scenario) Run(ctx context.Context, vu int, iteration int64) (*Iteration, error) {
	start := time.Now()
	log := s.log.WithFields(logrus.Fields{"vu": vu, "iteration": iteration})

	decision := s.selector.Decide()
	cred, err := s.credentialFor(ctx, decision)
	if err != nil {
		log.WithError(err).Error("credential store failure")
		return nil, err
	}

	result, err := s.exec.Run(ctx, decision, cred)
	if err != nil {
		log.WithError(err).WithField("username", cred.Username).Error("credential store failure")
		return nil, err
	}

	it := &Iteration{
		Decision:   decision,
		Credential: cred,
		Result:     result,
		Outcomes:   checks.Validate(result, decision),
		Duration:   time.Since(start),
	}

	for _, o := range it.Outcomes {
		if !o.Passed {
			log.WithFields(logrus.Fields{
				"tag":      o.Scenario,
				"check":    o.Name,
				"username": cred.Username,
			}).Debug(o.Detail)
		}
	}

	if s.sink != nil {
		checks.Record(s.sink, it.Outcomes)
	}
	if s.iterations != nil && !result.Interrupted {
		s.iterations.RecordIteration(it.Passed(), it.Duration)
	}

	return it, nil
}

// credentialFor generates the identity for decision. The failure branch
// keeps drawing until the username is absent from the store.
func (s *Scenario) credentialFor(ctx context.Context, decision scenario.Decision) (credential.Credential, error) {
	if decision.Registers() {
		return s.gen.Generate(), nil
	}

	for attempt := 0; attempt < maxUnusedAttempts; attempt++ {
		cred := s.gen.Generate()
		_, exists, err := s.store.Get(context.WithoutCancel(ctx), cred.Username)
		if err != nil {
			return credential.Credential{}, fmt.Errorf("%w: lookup %q: %w", flow.ErrSharedState, cred.Username, err)
		}
		if !exists {
			return cred, nil
		}
	}

	return credential.Credential{}, fmt.Errorf("%w: no unused username after %d attempts", flow.ErrSharedState, maxUnusedAttempts)
}
