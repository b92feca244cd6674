package scenario

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// DefaultRegisterRatio is the probability of RegisterThenLogin.
const DefaultRegisterRatio = 0.10

// Selector draws a Decision per iteration. It is safe for concurrent use.
type Selector struct {
	ratio float64

	mu  sync.Mutex
	rng *rand.Rand
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithSource replaces the random source, mainly for tests.
func WithSource(src rand.Source) SelectorOption {
	return func(s *Selector) {
		s.rng = rand.New(src)
	}
}

// NewSelector creates a Selector that picks RegisterThenLogin with
// probability registerRatio.
func NewSelector(registerRatio float64, opts ...SelectorOption) (*Selector, error) {
	if registerRatio < 0 || registerRatio > 1 {
		return nil, fmt.Errorf("scenario: register ratio must be within [0, 1], got %g", registerRatio)
	}

	s := &Selector{
		ratio: registerRatio,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ratio returns the configured registration probability.
func (s *Selector) Ratio() float64 {
	return s.ratio
}

// Decide draws a fresh Decision.
func (s *Selector) Decide() Decision {
	s.mu.Lock()
	draw := s.rng.Float64()
	s.mu.Unlock()

	if draw < s.ratio {
		return NewDecision(RegisterThenLogin)
	}
	return NewDecision(LoginOnlyExpectFailure)
}
