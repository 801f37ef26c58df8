// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"fmt"
	"strings"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/resource"
)

// BarrierSpec is a synchronization point computed at compile time. The
// frame scheduler resolves the resource name to the frame's handle and
// emits a device barrier before the owning node records.
type BarrierSpec struct {
	Resource string
	Before   device.Access
	After    device.Access
}

// PlanNode is one node's compiled form: its position in execution order,
// its direct upstream dependencies, and the per-frame bookkeeping the
// scheduler applies around it.
type PlanNode struct {
	Name string
	Node Node

	// DependsOn indexes Plan.Nodes for every direct upstream node.
	DependsOn []int

	// Inputs and Outputs carry the declared slots, with resource names
	// resolved against the plan's bindings at frame time.
	Inputs  []Slot
	Outputs []Slot

	// Barriers are emitted before this node records.
	Barriers []BarrierSpec

	// Releases names the transient resources whose last use is this
	// node; the scheduler releases their handles after the node records.
	Releases []string
}

// GroupMember is one transient resource packed into an alias group.
type GroupMember struct {
	Name  string
	Desc  resource.Descriptor
	First int // execution-order position of the producer
	Last  int // execution-order position of the final consumer
}

// AliasGroup is a set of transient resources with pairwise disjoint live
// intervals sharing one backing allocation. Backing is sized to the
// largest member.
type AliasGroup struct {
	Backing resource.Descriptor
	Members []GroupMember
}

// Plan is an immutable, compiled frame graph. Nodes are in execution
// order; a node's dependencies always precede it. The same plan may be
// executed for many frames.
type Plan struct {
	Nodes []PlanNode

	// Groups is the transient allocation plan. Each frame materializes
	// one device allocation per group and aliases the members over it.
	Groups []AliasGroup

	// External maps resource names to pre-bound handles (swapchain
	// images, persistent buffers). These outlive the plan and are never
	// released by the scheduler.
	External map[string]resource.Handle
}

// index returns the execution-order position of the named node, or -1.
func (p *Plan) index(name string) int {
	for i := range p.Nodes {
		if p.Nodes[i].Name == name {
			return i
		}
	}
	return -1
}

// TransientBytes reports the total declared size of transient resources
// and the device memory the alias groups actually reserve.
func (p *Plan) TransientBytes() (declared, backed uint64) {
	for _, g := range p.Groups {
		backed += g.Backing.ByteSize()
		for _, m := range g.Members {
			declared += m.Desc.ByteSize()
		}
	}
	return declared, backed
}

// String summarizes the plan for logs: node order and alias packing.
func (p *Plan) String() string {
	var b strings.Builder
	names := make([]string, len(p.Nodes))
	for i := range p.Nodes {
		names[i] = p.Nodes[i].Name
	}
	declared, backed := p.TransientBytes()
	fmt.Fprintf(&b, "plan: %d nodes [%s], %d alias groups, %d/%d transient bytes",
		len(p.Nodes), strings.Join(names, " -> "), len(p.Groups), backed, declared)
	return b.String()
}
