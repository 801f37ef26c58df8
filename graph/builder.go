// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/resource"
)

// Options tunes plan compilation.
type Options struct {
	// DisableAliasing gives every transient resource its own allocation.
	// Useful when debugging rendering artifacts suspected to come from
	// memory reuse.
	DisableAliasing bool

	// Deterministic orders ready nodes purely by registration order.
	// The default order schedules nodes producing the largest transient
	// outputs first, which tightens live intervals for aliasing, but is
	// sensitive to declaration sizes.
	Deterministic bool
}

// Builder compiles a node registry into an executable Plan. External
// resources (swapchain images, persistent buffers) are bound by name
// before compiling.
type Builder struct {
	mu       sync.Mutex
	table    *resource.Table
	opts     Options
	logger   *slog.Logger
	external map[string]resource.Handle
}

// NewBuilder returns a builder over the given resource table. logger may
// be nil.
func NewBuilder(table *resource.Table, opts Options, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{
		table:    table,
		opts:     opts,
		logger:   logger,
		external: make(map[string]resource.Handle),
	}
}

// Bind satisfies the named resource with a pre-existing handle. Inputs
// reading the name no longer require a producing node; an output writing
// the name renders into the bound resource instead of a transient.
func (b *Builder) Bind(name string, h resource.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.external[name] = h
}

// Unbind removes an external binding.
func (b *Builder) Unbind(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.external, name)
}

// slotRef ties a slot back to the declaration that owns it.
type slotRef struct {
	decl int
	slot Slot
}

// Compile links producers to consumers, orders the nodes, packs transient
// resources into alias groups, and computes barriers. The registry is
// snapshotted: later registrations do not affect the returned plan.
func (b *Builder) Compile(reg *Registry) (*Plan, error) {
	return b.compile(reg.snapshot())
}

// CompileActive compiles only the named nodes, keeping registration order.
// Names not present in the registry are ignored.
func (b *Builder) CompileActive(reg *Registry, active []string) (*Plan, error) {
	keep := make(map[string]bool, len(active))
	for _, n := range active {
		keep[n] = true
	}
	var decls []Declaration
	for _, d := range reg.snapshot() {
		if keep[d.Name] {
			decls = append(decls, d)
		}
	}
	return b.compile(decls)
}

func (b *Builder) compile(decls []Declaration) (*Plan, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(decls) == 0 {
		return &Plan{External: cloneBindings(b.external)}, nil
	}

	producers := make(map[string]slotRef)
	consumers := make(map[string][]slotRef)
	for i, d := range decls {
		for _, s := range d.Outputs {
			if prev, ok := producers[s.Name]; ok {
				return nil, &DuplicateProducerError{
					Resource: s.Name,
					First:    decls[prev.decl].Name,
					Second:   d.Name,
				}
			}
			producers[s.Name] = slotRef{decl: i, slot: s}
		}
		for _, s := range d.Inputs {
			consumers[s.Name] = append(consumers[s.Name], slotRef{decl: i, slot: s})
		}
	}

	if err := b.checkBindings(decls, producers, consumers); err != nil {
		return nil, err
	}

	order, err := b.sortNodes(decls, producers, consumers)
	if err != nil {
		return nil, err
	}

	plan := b.assemble(decls, order, producers, consumers)
	if !b.opts.DisableAliasing {
		plan.Groups = packGroups(plan.Groups)
	}
	b.logger.Info("plan compiled", "summary", plan.String())
	return plan, nil
}

// checkBindings verifies every input has a source and that sources and
// sinks agree on resource shape.
func (b *Builder) checkBindings(decls []Declaration,
	producers map[string]slotRef, consumers map[string][]slotRef) error {

	for name, cons := range consumers {
		prod, produced := producers[name]
		ext, bound := b.external[name]

		if !produced && !bound {
			c := cons[0]
			return &UnboundInputError{Node: decls[c.decl].Name, Slot: name}
		}

		var src resource.Descriptor
		var srcName string
		switch {
		case produced:
			src = prod.slot.Desc
			srcName = decls[prod.decl].Name
		case bound:
			d, err := b.table.Describe(ext)
			if err != nil {
				return fmt.Errorf("graph: external binding %q: %w", name, err)
			}
			src = d
			srcName = "<external>"
		}

		for _, c := range cons {
			if src.Conflicts(c.slot.Desc) {
				return &DescriptorMismatchError{
					Resource: name,
					Producer: srcName,
					Consumer: decls[c.decl].Name,
					Detail: fmt.Sprintf("%s %dx%d/%d vs %s %dx%d/%d",
						src.Kind, src.Width, src.Height, src.Size,
						c.slot.Desc.Kind, c.slot.Desc.Width, c.slot.Desc.Height, c.slot.Desc.Size),
				}
			}
		}
	}

	// Outputs into external bindings must match the bound resource.
	for name, prod := range producers {
		ext, bound := b.external[name]
		if !bound {
			continue
		}
		d, err := b.table.Describe(ext)
		if err != nil {
			return fmt.Errorf("graph: external binding %q: %w", name, err)
		}
		if d.Conflicts(prod.slot.Desc) {
			return &DescriptorMismatchError{
				Resource: name,
				Producer: "<external>",
				Consumer: decls[prod.decl].Name,
				Detail:   "output descriptor does not match bound resource",
			}
		}
	}
	return nil
}

// transientWeight is the total size of a node's transient outputs, used by
// the default scheduling order.
func (b *Builder) transientWeight(d Declaration) uint64 {
	var w uint64
	for _, s := range d.Outputs {
		if s.Desc.Lifetime != resource.LifetimeTransient {
			continue
		}
		if _, bound := b.external[s.Name]; bound {
			continue
		}
		w += s.Desc.ByteSize()
	}
	return w
}

// sortNodes runs Kahn's algorithm over producer->consumer edges and
// returns declaration indices in execution order. A cycle yields a
// CycleError naming exactly the nodes on the cycle.
func (b *Builder) sortNodes(decls []Declaration,
	producers map[string]slotRef, consumers map[string][]slotRef) ([]int, error) {

	n := len(decls)
	succ := make([][]int, n)
	indeg := make([]int, n)
	seen := make(map[[2]int]bool)
	for name, prod := range producers {
		for _, c := range consumers[name] {
			if c.decl == prod.decl {
				continue // node reading its own output is not an edge
			}
			e := [2]int{prod.decl, c.decl}
			if seen[e] {
				continue
			}
			seen[e] = true
			succ[prod.decl] = append(succ[prod.decl], c.decl)
			indeg[c.decl]++
		}
	}

	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	pick := func() int {
		best := 0
		if !b.opts.Deterministic {
			var bestW uint64
			for i, idx := range ready {
				w := b.transientWeight(decls[idx])
				if i == 0 || w > bestW {
					best, bestW = i, w
				}
			}
		} else {
			for i, idx := range ready {
				if idx < ready[best] {
					best = i
				}
			}
		}
		idx := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		return idx
	}

	order := make([]int, 0, n)
	for len(ready) > 0 {
		idx := pick()
		order = append(order, idx)
		for _, s := range succ[idx] {
			if indeg[s]--; indeg[s] == 0 {
				ready = append(ready, s)
			}
		}
	}

	if len(order) < n {
		return nil, &CycleError{Nodes: cycleNodes(decls, succ, order)}
	}
	return order, nil
}

// cycleNodes isolates the nodes actually on a cycle: from the set Kahn
// could not order, repeatedly peel nodes with no remaining successors.
func cycleNodes(decls []Declaration, succ [][]int, ordered []int) []string {
	remaining := make(map[int]bool, len(decls))
	for i := range decls {
		remaining[i] = true
	}
	for _, idx := range ordered {
		delete(remaining, idx)
	}
	for {
		peeled := false
		for idx := range remaining {
			hasSucc := false
			for _, s := range succ[idx] {
				if remaining[s] {
					hasSucc = true
					break
				}
			}
			if !hasSucc {
				delete(remaining, idx)
				peeled = true
			}
		}
		if !peeled {
			break
		}
	}
	var names []string
	for i := range decls {
		if remaining[i] {
			names = append(names, decls[i].Name)
		}
	}
	return names
}

// assemble builds the plan nodes, transient intervals, barrier specs and
// release lists from the execution order.
func (b *Builder) assemble(decls []Declaration, order []int,
	producers map[string]slotRef, consumers map[string][]slotRef) *Plan {

	n := len(order)
	pos := make([]int, len(decls)) // decl index -> execution position
	for p, idx := range order {
		pos[idx] = p
	}

	plan := &Plan{
		Nodes:    make([]PlanNode, n),
		External: cloneBindings(b.external),
	}
	for p, idx := range order {
		d := decls[idx]
		pn := PlanNode{Name: d.Name, Node: d.Node, Inputs: d.Inputs, Outputs: d.Outputs}

		depSet := make(map[int]bool)
		for _, s := range d.Inputs {
			prod, ok := producers[s.Name]
			if !ok || prod.decl == idx {
				continue
			}
			depSet[pos[prod.decl]] = true
		}
		for dep := range depSet {
			pn.DependsOn = append(pn.DependsOn, dep)
		}
		sort.Ints(pn.DependsOn)
		plan.Nodes[p] = pn
	}

	// Transient live intervals: producer position through last consumer.
	for name, prod := range producers {
		if _, bound := b.external[name]; bound {
			continue
		}
		if prod.slot.Desc.Lifetime != resource.LifetimeTransient {
			continue
		}
		first := pos[prod.decl]
		last := first
		for _, c := range consumers[name] {
			if p := pos[c.decl]; p > last {
				last = p
			}
		}
		plan.Groups = append(plan.Groups, AliasGroup{
			Backing: prod.slot.Desc,
			Members: []GroupMember{{Name: name, Desc: prod.slot.Desc, First: first, Last: last}},
		})
		plan.Nodes[last].Releases = append(plan.Nodes[last].Releases, name)
	}
	sort.Slice(plan.Groups, func(i, j int) bool {
		gi, gj := plan.Groups[i].Members[0], plan.Groups[j].Members[0]
		if gi.First != gj.First {
			return gi.First < gj.First
		}
		return gi.Name < gj.Name
	})

	b.computeBarriers(plan, producers, consumers, pos)
	return plan
}

// computeBarriers walks each resource's accesses in execution order and
// emits a barrier on every access-kind change. The first access needs no
// barrier: a fresh allocation has no prior use, and external resources are
// synchronized by their owner. Externally bound resources with no in-graph
// producer still transition between consumers whose access kinds differ.
func (b *Builder) computeBarriers(plan *Plan,
	producers map[string]slotRef, consumers map[string][]slotRef, pos []int) {

	type access struct {
		p    int
		mode device.Access
	}
	names := make(map[string]bool, len(producers)+len(consumers))
	for name := range producers {
		names[name] = true
	}
	for name := range consumers {
		names[name] = true
	}
	for name := range names {
		var uses []access
		if prod, ok := producers[name]; ok {
			uses = append(uses, access{pos[prod.decl], prod.slot.Access})
		}
		for _, c := range consumers[name] {
			uses = append(uses, access{pos[c.decl], c.slot.Access})
		}
		sort.Slice(uses, func(i, j int) bool { return uses[i].p < uses[j].p })

		for i := 1; i < len(uses); i++ {
			prev, cur := uses[i-1], uses[i]
			if prev.mode == cur.mode {
				continue
			}
			plan.Nodes[cur.p].Barriers = append(plan.Nodes[cur.p].Barriers, BarrierSpec{
				Resource: name,
				Before:   prev.mode,
				After:    cur.mode,
			})
		}
	}
}

// packGroups merges single-resource groups whose live intervals do not
// overlap and whose descriptors can share an allocation. Largest resources
// seed groups first, so big render targets reuse each other's memory.
func packGroups(singles []AliasGroup) []AliasGroup {
	members := make([]GroupMember, 0, len(singles))
	for _, g := range singles {
		members = append(members, g.Members...)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := members[i].Desc.ByteSize(), members[j].Desc.ByteSize()
		if si != sj {
			return si > sj
		}
		return members[i].Name < members[j].Name
	})

	var groups []AliasGroup
next:
	for _, m := range members {
		for gi := range groups {
			g := &groups[gi]
			if !g.Backing.CanAlias(m.Desc) {
				continue
			}
			overlap := false
			for _, other := range g.Members {
				if m.First <= other.Last && other.First <= m.Last {
					overlap = true
					break
				}
			}
			if overlap {
				continue
			}
			g.Backing = g.Backing.MaxOf(m.Desc)
			g.Members = append(g.Members, m)
			continue next
		}
		groups = append(groups, AliasGroup{Backing: m.Desc, Members: []GroupMember{m}})
	}
	return groups
}

func cloneBindings(src map[string]resource.Handle) map[string]resource.Handle {
	out := make(map[string]resource.Handle, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
