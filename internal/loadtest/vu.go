// Package loadtest runs virtual users against the shortener backend.
//
// A VirtualUser repeatedly picks an action from the mix, executes it, and
// hands the outcome to a Recorder. The VUScheduler owns the shared HTTP
// client and hands out VUs to the executor.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/shortload/internal/loadtest/action"
	"github.com/wesleyorama2/shortload/internal/loadtest/mix"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is between iterations.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is inside an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU will stop after the current iteration.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
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

// Recorder receives outcomes. metrics.Engine implements it.
type Recorder interface {
	Record(o action.Outcome)
}

// ErrVUStopped is returned by RunIteration once a stop was requested.
var ErrVUStopped = errors.New("virtual user is stopping or stopped")

// VirtualUser is one simulated client.
//
// A VU owns its action environment, including its random source, so it must
// only be driven from a single goroutine. RequestStop is safe to call from
// any goroutine and takes effect between iterations.
type VirtualUser struct {
	ID int

	selector mix.Selector
	actions  action.Set
	env      *action.Env
	recorder Recorder
	logger   *zap.Logger

	state     atomic.Int32
	stopCh    chan struct{}
	doneCh    chan struct{}
	iteration atomic.Int64
}

// NewVirtualUser creates a VU. env.Gen must not be shared with other VUs.
func NewVirtualUser(id int, selector mix.Selector, actions action.Set, env *action.Env, recorder Recorder, logger *zap.Logger) *VirtualUser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VirtualUser{
		ID:       id,
		selector: selector,
		actions:  actions,
		env:      env,
		recorder: recorder,
		logger:   logger,
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

// Rand returns the VU's random source.
func (vu *VirtualUser) Rand() *rand.Rand {
	return vu.env.Gen.Rand()
}

// RunIteration picks one action, executes it, and records the outcome.
// Request failures are part of the outcome; the returned error is only set
// when the VU is stopping or the mix names an unknown action.
//
// An outcome whose request was cancelled through ctx is not recorded: the
// harness cut it short, the backend did not fail it.
func (vu *VirtualUser) RunIteration(ctx context.Context) (action.Outcome, error) {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return action.Outcome{}, ErrVUStopped
	}
	// A stop requested mid-iteration leaves the state at stopping.
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	vu.iteration.Add(1)

	name := vu.selector.Pick(vu.Rand())
	act, ok := vu.actions[name]
	if !ok {
		return action.Outcome{}, fmt.Errorf("VU %d: unknown action %q", vu.ID, name)
	}

	out := act.Execute(ctx, vu.env)
	if ctx.Err() != nil && errors.Is(out.Err, context.Canceled) {
		vu.logger.Debug("dropped cancelled outcome", zap.Int("vu", vu.ID), zap.String("action", out.Action))
		return out, nil
	}
	vu.recorder.Record(out)

	if out.Err != nil {
		vu.logger.Debug("action transport error",
			zap.Int("vu", vu.ID),
			zap.String("action", out.Action),
			zap.Error(out.Err),
		)
	}
	return out, nil
}

// Pause waits for d unless ctx is done or a stop is requested first. It
// reports whether the full pause elapsed.
func (vu *VirtualUser) Pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-t.C:
		return true
	}
}

// StopRequested reports whether RequestStop has been called.
func (vu *VirtualUser) StopRequested() bool {
	select {
	case <-vu.stopCh:
		return true
	default:
		return false
	}
}

// RequestStop asks the VU to stop after its current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-vu.doneCh:
		return true
	case <-t.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped. The goroutine driving the VU
// calls it on exit.
func (vu *VirtualUser) MarkStopped() {
	prev := VUState(vu.state.Swap(int32(VUStateStopped)))
	if prev == VUStateIdle || prev == VUStateRunning {
		close(vu.stopCh)
	}
	select {
	case <-vu.doneCh:
	default:
		close(vu.doneCh)
	}
}
