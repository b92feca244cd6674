// Package load runs virtual users that repeatedly execute a scenario.
package load

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrVUStopped is returned by RunIteration once a stop was requested.
var ErrVUStopped = errors.New("virtual user is stopping or stopped")

// Scenario is what a virtual user executes on every iteration. A non-nil
// error is fatal to the whole run.
type Scenario interface {
	RunIteration(ctx context.Context, vu int, iteration int64) error
}

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is inside an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been asked to stop.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated user running iterations back to back.
type VirtualUser struct {
	// Unique identifier for this VU
	ID int

	// Scenario run on every iteration
	Scenario Scenario

	state     atomic.Int32
	iteration atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}

	lastIterStart atomic.Int64
	lastIterEnd   atomic.Int64
}

// NewVirtualUser creates an idle Virtual User.
func NewVirtualUser(id int, scenario Scenario) *VirtualUser {
	return &VirtualUser{
		ID:       id,
		Scenario: scenario,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// LastIterationDuration returns how long the last finished iteration took.
func (vu *VirtualUser) LastIterationDuration() time.Duration {
	start, end := vu.lastIterStart.Load(), vu.lastIterEnd.Load()
	if start == 0 || end < start {
		return 0
	}
	return time.Duration(end - start)
}

// RunIteration executes one iteration of the scenario.
//
// Returns ErrVUStopped when a stop was requested before the iteration
// started, and the scenario's error otherwise.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return fmt.Errorf("VU %d: %w", vu.ID, ErrVUStopped)
	}

	iter := vu.iteration.Add(1)
	vu.lastIterStart.Store(time.Now().UnixNano())

	err := vu.Scenario.RunIteration(ctx, vu.ID, iter)

	vu.lastIterEnd.Store(time.Now().UnixNano())
	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	return err
}

// RequestStop asks the VU to stop after its current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// Stopping returns a channel closed once a stop was requested.
func (vu *VirtualUser) Stopping() <-chan struct{} {
	return vu.stopCh
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped. It is called when the VU
// goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	prev := VUState(vu.state.Swap(int32(VUStateStopped)))
	if prev == VUStateStopped {
		return
	}
	if prev != VUStateStopping {
		close(vu.stopCh)
	}
	close(vu.doneCh)
}
