// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package jobs

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for task outcomes.
var (
	// ErrTaskCancelled marks a task that never ran because an upstream
	// dependency failed or the frame was cancelled.
	ErrTaskCancelled = errors.New("jobs: task cancelled")

	// ErrDispatcherClosed is returned by Submit after Close.
	ErrDispatcherClosed = errors.New("jobs: dispatcher closed")
)

// State is a task's lifecycle phase.
type State int

const (
	StatePending State = iota
	StateRunning
	StateDone
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Func is the work a task performs. It must honor ctx cancellation.
type Func func(ctx context.Context) error

// Task is a unit of work gated on its dependencies. Get one from
// Dispatcher.Submit; the zero value is not usable.
type Task struct {
	id    string
	fn    Func
	ctx   context.Context
	owner *Dispatcher

	// Guarded by the owning dispatcher's mutex.
	state      State
	err        error
	remaining  int
	dependents []*Task

	done chan struct{}
}

// ID returns the identifier the task was submitted with.
func (t *Task) ID() string { return t.id }

// Done returns a channel closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task completes or ctx is cancelled, and returns
// the task's error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task's terminal error. It is nil before completion and
// for tasks that succeeded; reading it is only meaningful after Done.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
