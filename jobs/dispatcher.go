// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// Dispatcher runs tasks on a fixed pool of worker goroutines. Tasks enter
// the run queue once all their dependencies complete; dependency failure
// cancels the whole downstream subtree without stopping unrelated tasks.
type Dispatcher struct {
	logger  *slog.Logger
	workers int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Task
	closed bool

	wg sync.WaitGroup
}

// NewDispatcher starts a dispatcher with the given worker count. workers
// <= 0 uses runtime.NumCPU(). logger may be nil.
func NewDispatcher(workers int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Dispatcher{logger: logger, workers: workers}
	d.cond = sync.NewCond(&d.mu)
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Workers returns the pool size.
func (d *Dispatcher) Workers() int { return d.workers }

// Submit queues fn as a task gated on deps. The task runs once every
// dependency completes; if any dependency fails or is cancelled, the task
// is cancelled instead, transitively. ctx is passed to fn and cancels the
// task if it fires before the task starts. Dependencies must come from
// this dispatcher: task state is guarded by the owning dispatcher's
// mutex, so a foreign task cannot be read safely here.
func (d *Dispatcher) Submit(ctx context.Context, id string, fn Func, deps ...*Task) (*Task, error) {
	if fn == nil {
		return nil, fmt.Errorf("jobs: submit %q: nil func", id)
	}
	t := &Task{id: id, fn: fn, ctx: ctx, owner: d, done: make(chan struct{})}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDispatcherClosed
	}

	// Reject foreign handles before wiring anything: a half-registered
	// task could otherwise be woken by its accepted dependencies.
	for _, dep := range deps {
		if dep.owner != d {
			return nil, fmt.Errorf("jobs: submit %q: dependency %q belongs to another dispatcher", id, dep.id)
		}
	}

	failedDep := ""
	for _, dep := range deps {
		switch dep.state {
		case StateDone:
			// Already satisfied.
		case StateFailed, StateCancelled:
			failedDep = dep.id
		default:
			dep.dependents = append(dep.dependents, t)
			t.remaining++
		}
	}
	if failedDep != "" {
		d.cancelLocked(t, failedDep)
		return t, nil
	}
	if t.remaining == 0 {
		d.enqueueLocked(t)
	}
	return t, nil
}

// AwaitAll blocks until every listed task reaches a terminal state. It
// returns the first error in argument order; cancelled tasks only count
// when nothing failed outright.
func (d *Dispatcher) AwaitAll(ctx context.Context, tasks ...*Task) error {
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var firstCancel error
	for _, t := range tasks {
		err := t.Err()
		if err == nil {
			continue
		}
		if errors.Is(err, ErrTaskCancelled) {
			if firstCancel == nil {
				firstCancel = err
			}
			continue
		}
		return err
	}
	return firstCancel
}

// Close stops the workers after the queue drains. Pending queued tasks
// still run; Submit fails afterwards.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()
}

// enqueueLocked moves a ready task onto the run queue. Caller holds d.mu.
func (d *Dispatcher) enqueueLocked(t *Task) {
	d.queue = append(d.queue, t)
	d.cond.Signal()
}

// cancelLocked marks t cancelled because of dep and cascades to its
// dependents. Caller holds d.mu.
func (d *Dispatcher) cancelLocked(t *Task, dep string) {
	if t.state != StatePending {
		return
	}
	t.state = StateCancelled
	if dep != "" {
		t.err = fmt.Errorf("%w: dependency %q did not complete", ErrTaskCancelled, dep)
	} else {
		t.err = ErrTaskCancelled
	}
	close(t.done)
	d.logger.Debug("task cancelled", "task", t.id, "dependency", dep)
	for _, child := range t.dependents {
		d.cancelLocked(child, t.id)
	}
}

// finishLocked records t's outcome and wakes or cancels its dependents.
// Caller holds d.mu.
func (d *Dispatcher) finishLocked(t *Task, err error) {
	if err != nil {
		t.state = StateFailed
		t.err = fmt.Errorf("jobs: task %q: %w", t.id, err)
		close(t.done)
		d.logger.Debug("task failed", "task", t.id, "error", err)
		for _, child := range t.dependents {
			d.cancelLocked(child, t.id)
		}
		return
	}
	t.state = StateDone
	close(t.done)
	for _, child := range t.dependents {
		if child.state != StatePending {
			continue
		}
		if child.remaining--; child.remaining == 0 {
			d.enqueueLocked(child)
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		t := d.queue[0]
		d.queue = d.queue[1:]
		if t.ctx.Err() != nil {
			d.cancelLocked(t, "")
			d.mu.Unlock()
			continue
		}
		t.state = StateRunning
		d.mu.Unlock()

		err := runTask(t)

		d.mu.Lock()
		d.finishLocked(t, err)
		d.mu.Unlock()
	}
}

// runTask executes the task body, converting a panic into a failure so one
// bad node cannot take down the worker pool.
func runTask(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.fn(t.ctx)
}

// State returns the task's current state. Requires the owning dispatcher
// because task state is guarded by its mutex.
func (d *Dispatcher) State(t *Task) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return t.state
}
