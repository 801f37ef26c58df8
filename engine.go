// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/frame"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/jobs"
	"github.com/gogpu/framegraph/resource"
)

// ErrEngineClosed is returned by operations on a closed engine.
var ErrEngineClosed = errors.New("framegraph: engine closed")

// Config configures a new Engine. The zero value opens the best available
// backend with a worker per CPU and aliasing enabled.
type Config struct {
	// Backend selects a device backend by name. Empty picks the best
	// available (native hardware first, headless fallback).
	Backend string

	// Device supplies an already-open device instead of a backend name.
	// The engine does not close supplied devices.
	Device device.Device

	// Workers sizes the job dispatcher pool. Zero or negative uses one
	// worker per CPU.
	Workers int

	// DisableAliasing gives every transient resource its own allocation.
	DisableAliasing bool

	// Deterministic makes plan compilation follow registration order on
	// scheduling ties instead of favoring large transient producers.
	Deterministic bool

	// Logger overrides the package logger for this engine.
	Logger *slog.Logger
}

// Engine ties the pieces together: a device, the resource table over it,
// the node registry, plan compilation and per-frame execution. An engine
// is safe for use from one render goroutine; registration and external
// binding may happen from others.
type Engine struct {
	logger *slog.Logger
	dev    device.Device
	ownDev bool

	table    *resource.Table
	registry *graph.Registry
	builder  *graph.Builder
	disp     *jobs.Dispatcher
	sched    *frame.Scheduler
	uploader *frame.Uploader

	mu     sync.Mutex
	plan   *graph.Plan
	active []string
	dirty  bool
	closed bool
}

// New creates an engine from cfg.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = Logger()
	}

	dev := cfg.Device
	ownDev := false
	if dev == nil {
		var err error
		if cfg.Backend != "" {
			dev, err = backend.Open(cfg.Backend)
		} else {
			dev, err = backend.OpenDefault()
		}
		if err != nil {
			return nil, fmt.Errorf("framegraph: open device: %w", err)
		}
		ownDev = true
	}
	logger.Info("device opened", "name", dev.Name(), "device", dev.Capabilities().DeviceName)

	table := resource.NewTable(dev, logger)
	opts := graph.Options{DisableAliasing: cfg.DisableAliasing, Deterministic: cfg.Deterministic}
	disp := jobs.NewDispatcher(cfg.Workers, logger)

	return &Engine{
		logger:   logger,
		dev:      dev,
		ownDev:   ownDev,
		table:    table,
		registry: graph.NewRegistry(),
		builder:  graph.NewBuilder(table, opts, logger),
		disp:     disp,
		sched:    frame.NewScheduler(dev, table, disp, logger),
		uploader: frame.NewUploader(dev, table),
		dirty:    true,
	}, nil
}

// Device returns the engine's device.
func (e *Engine) Device() device.Device { return e.dev }

// Table returns the engine's resource table, for allocating persistent
// resources and resolving handles.
func (e *Engine) Table() *resource.Table { return e.table }

// Uploader returns the engine's uploader for pushing CPU data into
// resources.
func (e *Engine) Uploader() *frame.Uploader { return e.uploader }

// Dispatcher returns the engine's job dispatcher, for running auxiliary
// work on the same pool the frames use.
func (e *Engine) Dispatcher() *jobs.Dispatcher { return e.disp }

// Register adds a node declaration and marks the compiled plan stale.
func (e *Engine) Register(d graph.Declaration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if err := e.registry.Register(d); err != nil {
		return err
	}
	e.dirty = true
	return nil
}

// Unregister removes a node declaration and marks the plan stale.
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry.Unregister(name)
	e.dirty = true
}

// Bind satisfies a resource name with an externally managed handle, such
// as the current swapchain image. The compiled plan captures bound handles,
// so every Bind marks the plan stale and the next frame recompiles.
func (e *Engine) Bind(name string, h resource.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.builder.Bind(name, h)
	e.dirty = true
}

// SetActive restricts the compiled plan to nodes accepted by keep,
// evaluated against the registry in registration order. A nil predicate
// restores the full node set.
func (e *Engine) SetActive(keep func(graph.Declaration) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if keep == nil {
		e.active = nil
	} else {
		e.active = e.registry.ActiveSet(keep)
	}
	e.dirty = true
}

// Plan returns the current compiled plan, recompiling if registrations or
// bindings changed since the last frame.
func (e *Engine) Plan() (*graph.Plan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.planLocked()
}

func (e *Engine) planLocked() (*graph.Plan, error) {
	if e.closed {
		return nil, ErrEngineClosed
	}
	if !e.dirty && e.plan != nil {
		return e.plan, nil
	}
	var plan *graph.Plan
	var err error
	if e.active != nil {
		plan, err = e.builder.CompileActive(e.registry, e.active)
	} else {
		plan, err = e.builder.Compile(e.registry)
	}
	if err != nil {
		return nil, err
	}
	e.plan = plan
	e.dirty = false
	return plan, nil
}

// RenderFrame compiles the plan if needed and executes one frame. Graph
// errors (cycles, unbound inputs) surface as a failed result rather than
// a separate error path, so the render loop has a single outcome to
// inspect.
func (e *Engine) RenderFrame(ctx context.Context) frame.Result {
	e.mu.Lock()
	plan, err := e.planLocked()
	e.mu.Unlock()
	if err != nil {
		return frame.Result{Status: frame.StatusFailed, Err: err}
	}
	return e.sched.RunFrame(ctx, plan)
}

// Stats returns the resource table's memory snapshot.
func (e *Engine) Stats() resource.Stats { return e.table.Stats() }

// Close drains the worker pool, waits for the device to go idle and
// releases every resource. Devices supplied through Config.Device are
// left open.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.disp.Close()
	e.dev.WaitIdle()
	err := e.table.Close()
	if e.ownDev {
		e.dev.Close()
	}
	e.logger.Info("engine closed")
	return err
}
