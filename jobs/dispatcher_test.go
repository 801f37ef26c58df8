// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherRunsInDependencyOrder(t *testing.T) {
	d := NewDispatcher(4, nil)
	defer d.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var order []string
	record := func(name string) Func {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	a, _ := d.Submit(ctx, "a", record("a"))
	b, _ := d.Submit(ctx, "b", record("b"), a)
	c, err := d.Submit(ctx, "c", record("c"), a, b)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := d.AwaitAll(ctx, a, b, c); err != nil {
		t.Fatalf("AwaitAll: %v", err)
	}

	idx := func(name string) int {
		for i, n := range order {
			if n == name {
				return i
			}
		}
		t.Fatalf("%q never ran (order %v)", name, order)
		return -1
	}
	if idx("a") > idx("b") || idx("b") > idx("c") {
		t.Errorf("ran out of order: %v", order)
	}
}

func TestDispatcherCancellationCascade(t *testing.T) {
	d := NewDispatcher(2, nil)
	defer d.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	var ran atomic.Int32
	count := func(context.Context) error { ran.Add(1); return nil }

	bad, _ := d.Submit(ctx, "bad", func(context.Context) error { return boom })
	child, _ := d.Submit(ctx, "child", count, bad)
	grandchild, _ := d.Submit(ctx, "grandchild", count, child)

	// An independent branch keeps going.
	free, _ := d.Submit(ctx, "free", count)

	err := d.AwaitAll(ctx, bad, child, grandchild, free)
	if !errors.Is(err, boom) {
		t.Fatalf("AwaitAll: err = %v, want boom", err)
	}
	if got := ran.Load(); got != 1 {
		t.Errorf("%d gated tasks ran, want only the independent one", got)
	}
	if !errors.Is(child.Err(), ErrTaskCancelled) {
		t.Errorf("child.Err() = %v, want ErrTaskCancelled", child.Err())
	}
	if !errors.Is(grandchild.Err(), ErrTaskCancelled) {
		t.Errorf("grandchild.Err() = %v, want ErrTaskCancelled", grandchild.Err())
	}
	if free.Err() != nil {
		t.Errorf("independent task failed: %v", free.Err())
	}
	if d.State(grandchild) != StateCancelled {
		t.Errorf("grandchild state = %v, want cancelled", d.State(grandchild))
	}
}

func TestDispatcherDependencyAlreadyDone(t *testing.T) {
	d := NewDispatcher(1, nil)
	defer d.Close()
	ctx := context.Background()

	a, _ := d.Submit(ctx, "a", func(context.Context) error { return nil })
	if err := a.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// Submitting against a finished dependency runs immediately.
	b, _ := d.Submit(ctx, "b", func(context.Context) error { return nil }, a)
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("Wait b: %v", err)
	}
}

func TestDispatcherDependencyAlreadyFailed(t *testing.T) {
	d := NewDispatcher(1, nil)
	defer d.Close()
	ctx := context.Background()

	bad, _ := d.Submit(ctx, "bad", func(context.Context) error { return errors.New("nope") })
	_ = bad.Wait(ctx)

	b, _ := d.Submit(ctx, "b", func(context.Context) error {
		t.Error("task gated on failed dependency ran")
		return nil
	}, bad)
	if err := b.Wait(ctx); !errors.Is(err, ErrTaskCancelled) {
		t.Fatalf("Wait: err = %v, want ErrTaskCancelled", err)
	}
}

func TestDispatcherContextCancel(t *testing.T) {
	d := NewDispatcher(1, nil)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	blocker, _ := d.Submit(context.Background(), "blocker", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	// Queued behind the only worker; its context dies before it runs.
	late, _ := d.Submit(ctx, "late", func(context.Context) error {
		t.Error("task with cancelled context ran")
		return nil
	})
	cancel()
	close(release)

	if err := blocker.Wait(context.Background()); err != nil {
		t.Fatalf("blocker: %v", err)
	}
	if err := late.Wait(context.Background()); !errors.Is(err, ErrTaskCancelled) {
		t.Fatalf("late: err = %v, want ErrTaskCancelled", err)
	}
}

func TestDispatcherPanicBecomesFailure(t *testing.T) {
	d := NewDispatcher(2, nil)
	defer d.Close()
	ctx := context.Background()

	p, _ := d.Submit(ctx, "panics", func(context.Context) error { panic("kaboom") })
	after, _ := d.Submit(ctx, "after", func(context.Context) error { return nil }, p)

	err := d.AwaitAll(ctx, p, after)
	if err == nil {
		t.Fatal("AwaitAll returned nil after panic")
	}
	if !errors.Is(after.Err(), ErrTaskCancelled) {
		t.Errorf("downstream of panic: err = %v, want ErrTaskCancelled", after.Err())
	}
}

func TestDispatcherAwaitAllFirstErrorWins(t *testing.T) {
	d := NewDispatcher(2, nil)
	defer d.Close()
	ctx := context.Background()

	fail, _ := d.Submit(ctx, "fail", func(context.Context) error { return errors.New("root cause") })
	child, _ := d.Submit(ctx, "child", func(context.Context) error { return nil }, fail)

	// The outright failure wins over the cancellation it caused.
	err := d.AwaitAll(ctx, child, fail)
	if err == nil || errors.Is(err, ErrTaskCancelled) {
		t.Fatalf("AwaitAll = %v, want the root failure", err)
	}

	ok, _ := d.Submit(ctx, "ok", func(context.Context) error { return nil })
	if err := d.AwaitAll(ctx, ok); err != nil {
		t.Fatalf("AwaitAll: %v", err)
	}
}

func TestDispatcherRejectsForeignDependency(t *testing.T) {
	d1 := NewDispatcher(1, nil)
	defer d1.Close()
	d2 := NewDispatcher(1, nil)
	defer d2.Close()
	ctx := context.Background()

	foreign, err := d1.Submit(ctx, "elsewhere", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := d2.Submit(ctx, "gated", func(context.Context) error { return nil }, foreign); err == nil {
		t.Fatal("Submit accepted a dependency owned by another dispatcher")
	}
}

func TestDispatcherSubmitAfterClose(t *testing.T) {
	d := NewDispatcher(1, nil)
	d.Close()
	if _, err := d.Submit(context.Background(), "x", func(context.Context) error { return nil }); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("Submit after close: err = %v, want ErrDispatcherClosed", err)
	}
}

func TestDispatcherParallelism(t *testing.T) {
	d := NewDispatcher(4, nil)
	defer d.Close()
	ctx := context.Background()

	var running, peak atomic.Int32
	tasks := make([]*Task, 0, 8)
	for i := 0; i < 8; i++ {
		tk, _ := d.Submit(ctx, "n", func(context.Context) error {
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		})
		tasks = append(tasks, tk)
	}
	if err := d.AwaitAll(ctx, tasks...); err != nil {
		t.Fatalf("AwaitAll: %v", err)
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, want at least 2", peak.Load())
	}
}
