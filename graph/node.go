// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"context"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/resource"
)

// Slot declares one resource a node reads or writes. Name links the slot to
// the matching slot of another node; Desc describes the resource's shape;
// Access is how the node touches it, which drives barrier placement.
type Slot struct {
	Name   string
	Desc   resource.Descriptor
	Access device.Access
}

// Declaration registers a node with the resources it touches. Input slots
// must be produced by some other node's output or bound externally before
// the plan compiles.
type Declaration struct {
	Name    string
	Inputs  []Slot
	Outputs []Slot
	Node    Node
}

// Node is the work a pass contributes to a frame. Prepare runs off the
// record path, potentially in parallel with other nodes' Prepare; Record
// runs in dependency order and encodes GPU commands.
type Node interface {
	// Prepare performs CPU-side work for this frame: culling, uniform
	// updates, staging writes. It must not encode commands.
	Prepare(ctx context.Context) error

	// Record encodes this node's commands using the resolved resources
	// in rc. It is called at most once per frame.
	Record(rc *RecordContext) error
}

// NodeFuncs adapts plain functions to the Node interface. Either field may
// be nil, in which case that phase is a no-op.
type NodeFuncs struct {
	PrepareFunc func(ctx context.Context) error
	RecordFunc  func(rc *RecordContext) error
}

func (f NodeFuncs) Prepare(ctx context.Context) error {
	if f.PrepareFunc == nil {
		return nil
	}
	return f.PrepareFunc(ctx)
}

func (f NodeFuncs) Record(rc *RecordContext) error {
	if f.RecordFunc == nil {
		return nil
	}
	return f.RecordFunc(rc)
}

// RecordContext is handed to a node's Record with everything the node may
// touch: the device, a command encoder scoped to the node, the resource
// table, and the handles its declared slots resolved to.
type RecordContext struct {
	ctx      context.Context
	dev      device.Device
	enc      device.CommandEncoder
	table    *resource.Table
	bindings map[string]resource.Handle
}

// NewRecordContext assembles a record context. Used by the frame scheduler
// and by tests that drive nodes directly.
func NewRecordContext(ctx context.Context, dev device.Device, enc device.CommandEncoder,
	table *resource.Table, bindings map[string]resource.Handle) *RecordContext {
	return &RecordContext{ctx: ctx, dev: dev, enc: enc, table: table, bindings: bindings}
}

// Context returns the frame's context; recording should stop early when it
// is cancelled.
func (rc *RecordContext) Context() context.Context { return rc.ctx }

// Device returns the device the frame executes on.
func (rc *RecordContext) Device() device.Device { return rc.dev }

// Encoder returns the command encoder for this node's commands.
func (rc *RecordContext) Encoder() device.CommandEncoder { return rc.enc }

// Table returns the resource table for resolving handles.
func (rc *RecordContext) Table() *resource.Table { return rc.table }

// Handle returns the resource bound to the named slot. The zero handle
// means the slot was not declared by this node.
func (rc *RecordContext) Handle(slot string) resource.Handle {
	return rc.bindings[slot]
}

// Resolve is shorthand for resolving a named slot through the table.
func (rc *RecordContext) Resolve(slot string) (resource.Resolved, error) {
	return rc.table.Resolve(rc.bindings[slot])
}
