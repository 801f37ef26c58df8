// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package frame

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/jobs"
	"github.com/gogpu/framegraph/resource"
)

// Scheduler executes compiled plans against a device. It owns no plan
// state: the same scheduler can alternate between plans frame to frame.
type Scheduler struct {
	dev    device.Device
	table  *resource.Table
	disp   *jobs.Dispatcher
	logger *slog.Logger
	frame  uint64
}

// NewScheduler wires a scheduler to its device, resource table and job
// dispatcher. logger may be nil.
func NewScheduler(dev device.Device, table *resource.Table, disp *jobs.Dispatcher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{dev: dev, table: table, disp: disp, logger: logger}
}

// frameRun is one frame's mutable state: resolved bindings, the per-node
// prepare tasks, and the transient handles still waiting to be released.
type frameRun struct {
	bindings map[string]resource.Handle
	pending  map[string]resource.Handle // transients not yet released
	states   map[string]NodeState
	tasks    []*jobs.Task // prepare task per plan position
	firstErr error        // first prepare failure; the frame still submits
}

// RunFrame executes plan once. Prepare work fans out over the dispatcher,
// each node's task gated on its producers' tasks; recording walks the plan
// in execution order and encodes into a single command buffer submitted
// after the last node. A failed preparation turns the node and its
// dependents into no-op passes while independent branches complete
// normally; an error from GPU recording aborts the remainder and the
// frame's commands never reach the queue.
func (s *Scheduler) RunFrame(ctx context.Context, plan *graph.Plan) Result {
	s.frame++
	res := Result{Frame: s.frame, Status: StatusComplete, Nodes: make(map[string]NodeState)}

	run := &frameRun{
		bindings: make(map[string]resource.Handle),
		pending:  make(map[string]resource.Handle),
		states:   res.Nodes,
		tasks:    make([]*jobs.Task, len(plan.Nodes)),
	}
	for i := range plan.Nodes {
		run.states[plan.Nodes[i].Name] = NodePending
	}
	for name, h := range plan.External {
		run.bindings[name] = h
	}

	if err := s.materialize(plan, run); err != nil {
		s.releaseAll(run)
		return s.fail(res, run, err)
	}
	if err := s.submitPrepares(ctx, plan, run); err != nil {
		s.releaseAll(run)
		return s.fail(res, run, err)
	}

	enc, err := s.dev.CreateCommandEncoder(fmt.Sprintf("frame-%d", s.frame))
	if err != nil {
		s.cancelFrom(plan, run, 0)
		s.releaseAll(run)
		return s.fail(res, run, fmt.Errorf("frame %d: encoder: %w", s.frame, err))
	}

	for i := range plan.Nodes {
		if err := ctx.Err(); err != nil {
			discard(enc)
			s.cancelFrom(plan, run, i)
			s.releaseAll(run)
			res.Status = StatusCancelled
			res.Err = fmt.Errorf("frame %d: %w", s.frame, err)
			res.Memory = s.table.Stats()
			return res
		}
		recorded, err := s.record(ctx, plan, run, i, enc)
		if err != nil {
			discard(enc)
			s.cancelFrom(plan, run, i+1)
			s.releaseAll(run)
			return s.fail(res, run, err)
		}
		if recorded {
			res.Recorded++
		}
	}

	buf, err := enc.Finish()
	if err != nil {
		s.releaseAll(run)
		return s.fail(res, run, fmt.Errorf("frame %d: finish: %w", s.frame, err))
	}
	err = s.dev.Submit(buf)
	buf.Destroy()
	if err != nil {
		s.releaseAll(run)
		return s.fail(res, run, fmt.Errorf("frame %d: submit: %w", s.frame, err))
	}
	s.releaseTransients(plan, run)

	if run.firstErr != nil {
		res.Status = StatusFailed
		res.Err = run.firstErr
	}
	res.Memory = s.table.Stats()
	s.logger.Debug("frame finished",
		"frame", s.frame, "recorded", res.Recorded, "status", res.Status.String())
	return res
}

// fail classifies err into the result. Device loss outranks everything.
func (s *Scheduler) fail(res Result, run *frameRun, err error) Result {
	res.Err = err
	switch {
	case errors.Is(err, device.ErrDeviceLost):
		res.Status = StatusDeviceLost
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, jobs.ErrTaskCancelled):
		res.Status = StatusCancelled
	default:
		res.Status = StatusFailed
	}
	res.Memory = s.table.Stats()
	s.logger.Warn("frame aborted", "frame", s.frame, "status", res.Status.String(), "error", err)
	return res
}

// materialize allocates each alias group's backing object and aliases the
// member resources over it. A group whose shared backing cannot be
// allocated falls back to one dedicated allocation per member before the
// failure surfaces; the backing descriptor is the widest member union, so
// a device can refuse it while still fitting the members individually.
func (s *Scheduler) materialize(plan *graph.Plan, run *frameRun) error {
	for gi := range plan.Groups {
		g := &plan.Groups[gi]
		err := s.materializeGroup(g, run)
		if err == nil {
			continue
		}
		if !errors.Is(err, device.ErrOutOfMemory) || len(g.Members) == 1 {
			return fmt.Errorf("frame %d: materialize %q: %w", s.frame, g.Members[0].Name, err)
		}
		s.logger.Warn("shared transient backing failed, using dedicated allocations",
			"group", g.Members[0].Name, "members", len(g.Members), "error", err)
		if err := s.materializeDedicated(g, run); err != nil {
			return fmt.Errorf("frame %d: materialize %q: %w", s.frame, g.Members[0].Name, err)
		}
	}
	return nil
}

// materializeGroup binds every member of g over one shared allocation. The
// backing handle is released immediately so the allocation's lifetime
// follows its members. On error nothing from g stays bound.
func (s *Scheduler) materializeGroup(g *graph.AliasGroup, run *frameRun) error {
	backing := g.Backing
	backing.Label = fmt.Sprintf("transient/%s+%d", g.Members[0].Name, len(g.Members)-1)
	bh, err := s.table.Allocate(backing)
	if err != nil {
		return err
	}
	for _, m := range g.Members {
		h, err := s.table.Alias(bh, m.Desc)
		if err != nil {
			for _, prev := range g.Members {
				if ph, ok := run.pending[prev.Name]; ok {
					delete(run.pending, prev.Name)
					delete(run.bindings, prev.Name)
					_ = s.table.Release(ph)
				}
			}
			_ = s.table.Release(bh)
			return fmt.Errorf("alias %q: %w", m.Name, err)
		}
		run.bindings[m.Name] = h
		run.pending[m.Name] = h
	}
	return s.table.Release(bh)
}

// materializeDedicated gives each member of g its own allocation. Partial
// bindings left by a mid-group failure are cleaned up by the frame abort
// path.
func (s *Scheduler) materializeDedicated(g *graph.AliasGroup, run *frameRun) error {
	for _, m := range g.Members {
		desc := m.Desc
		desc.Label = "transient/" + m.Name
		h, err := s.table.Allocate(desc)
		if err != nil {
			return fmt.Errorf("dedicated %q: %w", m.Name, err)
		}
		run.bindings[m.Name] = h
		run.pending[m.Name] = h
	}
	return nil
}

// submitPrepares fans every node's Prepare out over the dispatcher, gated
// on the prepare tasks of the node's producers. A failing prepare cancels
// its dependent subtree inside the dispatcher without stopping unrelated
// branches. Plan order guarantees a node's producers are submitted before
// the node itself.
func (s *Scheduler) submitPrepares(ctx context.Context, plan *graph.Plan, run *frameRun) error {
	for i := range plan.Nodes {
		n := &plan.Nodes[i]
		deps := make([]*jobs.Task, len(n.DependsOn))
		for j, d := range n.DependsOn {
			deps[j] = run.tasks[d]
		}
		run.states[n.Name] = NodePreparing
		t, err := s.disp.Submit(ctx, "prepare/"+n.Name, n.Node.Prepare, deps...)
		if err != nil {
			return fmt.Errorf("frame %d: submit prepare %q: %w", s.frame, n.Name, err)
		}
		run.tasks[i] = t
	}
	return nil
}

// record encodes one node into the frame's shared encoder. Awaiting the
// node's prepare task is the frame's only suspension point. A prepare
// failure or cancellation turns the node into a no-op pass and recording
// continues; an error from barrier resolution or the node body aborts the
// frame.
func (s *Scheduler) record(ctx context.Context, plan *graph.Plan, run *frameRun, idx int,
	enc device.CommandEncoder) (bool, error) {

	n := &plan.Nodes[idx]

	if err := run.tasks[idx].Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, fmt.Errorf("frame %d: node %q: %w", s.frame, n.Name, ctxErr)
		}
		if errors.Is(err, jobs.ErrTaskCancelled) {
			run.states[n.Name] = NodeCancelled
		} else {
			run.states[n.Name] = NodeFailed
			if run.firstErr == nil {
				run.firstErr = fmt.Errorf("frame %d: node %q: prepare: %w", s.frame, n.Name, err)
			}
		}
		s.logger.Debug("node downgraded to no-op",
			"frame", s.frame, "node", n.Name, "error", err)
		return false, nil
	}
	run.states[n.Name] = NodeReady

	for _, spec := range n.Barriers {
		b, err := s.resolveBarrier(run, spec)
		if err != nil {
			run.states[n.Name] = NodeFailed
			return false, fmt.Errorf("frame %d: node %q: %w", s.frame, n.Name, err)
		}
		enc.Barrier(b)
	}

	run.states[n.Name] = NodeRecording
	rc := graph.NewRecordContext(ctx, s.dev, enc, s.table, run.bindings)
	if err := n.Node.Record(rc); err != nil {
		run.states[n.Name] = NodeFailed
		return false, fmt.Errorf("frame %d: node %q: record: %w", s.frame, n.Name, err)
	}
	run.states[n.Name] = NodeRecorded
	return true, nil
}

// discard finishes and drops an encoder so an aborted frame's commands
// never reach the queue.
func discard(enc device.CommandEncoder) {
	if buf, err := enc.Finish(); err == nil {
		buf.Destroy()
	}
}

// resolveBarrier fills a barrier spec with the frame's device object.
func (s *Scheduler) resolveBarrier(run *frameRun, spec graph.BarrierSpec) (device.Barrier, error) {
	h, ok := run.bindings[spec.Resource]
	if !ok {
		return device.Barrier{}, fmt.Errorf("barrier: resource %q not bound", spec.Resource)
	}
	r, err := s.table.Resolve(h)
	if err != nil {
		return device.Barrier{}, fmt.Errorf("barrier: resolve %q: %w", spec.Resource, err)
	}
	return device.Barrier{
		Label:   spec.Resource,
		Texture: r.Texture,
		Buffer:  r.Buffer,
		Before:  spec.Before,
		After:   spec.After,
	}, nil
}

// cancelFrom marks every node at or after idx that has not recorded as
// cancelled.
func (s *Scheduler) cancelFrom(plan *graph.Plan, run *frameRun, idx int) {
	for i := idx; i < len(plan.Nodes); i++ {
		name := plan.Nodes[i].Name
		if st := run.states[name]; st != NodeRecorded && st != NodeFailed {
			run.states[name] = NodeCancelled
		}
	}
}

// releaseTransients retires the frame's transient handles after the
// submitted commands have taken ownership of the backing allocations,
// keeping the plan's release order. Anything a skipped node left behind
// goes last.
func (s *Scheduler) releaseTransients(plan *graph.Plan, run *frameRun) {
	for i := range plan.Nodes {
		for _, name := range plan.Nodes[i].Releases {
			h, ok := run.pending[name]
			if !ok {
				continue // external or persistent binding, not ours to release
			}
			delete(run.pending, name)
			if err := s.table.Release(h); err != nil {
				s.logger.Warn("transient release", "frame", s.frame, "resource", name, "error", err)
			}
		}
	}
	s.releaseAll(run)
}

// releaseAll drops any transients still live. Their generations retire, so
// handles leaked out of the frame go stale.
func (s *Scheduler) releaseAll(run *frameRun) {
	for name, h := range run.pending {
		delete(run.pending, name)
		if err := s.table.Release(h); err != nil {
			s.logger.Warn("transient leak on abort", "resource", name, "error", err)
		}
	}
}

// Frame returns the number of frames started.
func (s *Scheduler) Frame() uint64 { return s.frame }
