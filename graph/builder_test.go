// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package graph

import (
	"errors"
	"sort"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/resource"
)

func transientTex(name string, w, h uint32) resource.Descriptor {
	return resource.Descriptor{
		Label:    name,
		Kind:     resource.KindTexture,
		Lifetime: resource.LifetimeTransient,
		Width:    w,
		Height:   h,
		Format:   gputypes.TextureFormatRGBA8Unorm,
		TexUsage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	}
}

func noopNode() Node { return NodeFuncs{} }

// pass builds a declaration with slots reading inputs as sampled textures
// and writing outputs as render targets.
func pass(name string, inputs, outputs []Slot) Declaration {
	return Declaration{Name: name, Inputs: inputs, Outputs: outputs, Node: noopNode()}
}

func in(name string, w, h uint32) Slot {
	return Slot{Name: name, Desc: transientTex(name, w, h), Access: device.AccessSampled}
}

func out(name string, w, h uint32) Slot {
	return Slot{Name: name, Desc: transientTex(name, w, h), Access: device.AccessRenderTarget}
}

func newTestBuilder(opts Options) *Builder {
	return NewBuilder(resource.NewTable(nil, nil), opts, nil)
}

func mustCompile(t *testing.T, b *Builder, reg *Registry) *Plan {
	t.Helper()
	plan, err := b.Compile(reg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return plan
}

func register(t *testing.T, reg *Registry, decls ...Declaration) {
	t.Helper()
	for _, d := range decls {
		if err := reg.Register(d); err != nil {
			t.Fatalf("Register %q: %v", d.Name, err)
		}
	}
}

func TestCompileOrdersByDependency(t *testing.T) {
	reg := NewRegistry()
	// Register in scrambled order: the plan must still run Depth before
	// Color and both before Composite.
	register(t, reg,
		pass("Composite", []Slot{in("depth", 1024, 768), in("color", 1024, 768)},
			[]Slot{out("final", 1024, 768)}),
		pass("Color", []Slot{in("depth", 1024, 768)}, []Slot{out("color", 1024, 768)}),
		pass("Depth", nil, []Slot{out("depth", 1024, 768)}),
	)

	plan := mustCompile(t, newTestBuilder(Options{}), reg)
	if len(plan.Nodes) != 3 {
		t.Fatalf("plan has %d nodes, want 3", len(plan.Nodes))
	}
	posOf := func(name string) int {
		p := plan.index(name)
		if p < 0 {
			t.Fatalf("node %q missing from plan", name)
		}
		return p
	}
	if posOf("Depth") >= posOf("Color") {
		t.Error("Depth not ordered before Color")
	}
	if posOf("Color") >= posOf("Composite") {
		t.Error("Color not ordered before Composite")
	}

	comp := plan.Nodes[posOf("Composite")]
	wantDeps := []int{posOf("Depth"), posOf("Color")}
	sort.Ints(wantDeps)
	if len(comp.DependsOn) != 2 || comp.DependsOn[0] != wantDeps[0] || comp.DependsOn[1] != wantDeps[1] {
		t.Errorf("Composite.DependsOn = %v, want %v", comp.DependsOn, wantDeps)
	}
}

func TestCompileUnboundInput(t *testing.T) {
	reg := NewRegistry()
	register(t, reg, pass("NodeX", []Slot{in("foo", 64, 64)}, nil))

	_, err := newTestBuilder(Options{}).Compile(reg)
	if !errors.Is(err, ErrUnboundInput) {
		t.Fatalf("Compile: err = %v, want ErrUnboundInput", err)
	}
	var ub *UnboundInputError
	if !errors.As(err, &ub) {
		t.Fatal("error does not unwrap to *UnboundInputError")
	}
	if ub.Node != "NodeX" || ub.Slot != "foo" {
		t.Errorf("unbound input = %q/%q, want NodeX/foo", ub.Node, ub.Slot)
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	reg := NewRegistry()
	first := pass("blur", []Slot{in("src", 128, 128)}, []Slot{out("blurred", 128, 128)})
	register(t, reg, first)

	err := reg.Register(pass("blur", nil, []Slot{out("other", 64, 64)}))
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("Register: err = %v, want ErrDuplicateName", err)
	}
	// The first registration survives.
	d, ok := reg.Lookup("blur")
	if !ok || len(d.Outputs) != 1 || d.Outputs[0].Name != "blurred" {
		t.Error("first registration was replaced")
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}
}

func TestCompileCycleNamesNodes(t *testing.T) {
	reg := NewRegistry()
	register(t, reg,
		pass("A", []Slot{in("c-out", 32, 32)}, []Slot{out("a-out", 32, 32)}),
		pass("B", []Slot{in("a-out", 32, 32)}, []Slot{out("b-out", 32, 32)}),
		pass("C", []Slot{in("b-out", 32, 32)}, []Slot{out("c-out", 32, 32)}),
		// D hangs off the cycle but is not on it.
		pass("D", []Slot{in("b-out", 32, 32)}, nil),
	)

	_, err := newTestBuilder(Options{}).Compile(reg)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("Compile: err = %v, want ErrCyclicDependency", err)
	}
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatal("error does not unwrap to *CycleError")
	}
	want := []string{"A", "B", "C"}
	if len(ce.Nodes) != len(want) {
		t.Fatalf("cycle names %v, want %v", ce.Nodes, want)
	}
	for i, n := range want {
		if ce.Nodes[i] != n {
			t.Fatalf("cycle names %v, want %v", ce.Nodes, want)
		}
	}
}

func TestCompileDuplicateProducer(t *testing.T) {
	reg := NewRegistry()
	register(t, reg,
		pass("P1", nil, []Slot{out("shared", 64, 64)}),
		pass("P2", nil, []Slot{out("shared", 64, 64)}),
	)
	_, err := newTestBuilder(Options{}).Compile(reg)
	if !errors.Is(err, ErrDuplicateProducer) {
		t.Fatalf("Compile: err = %v, want ErrDuplicateProducer", err)
	}
}

func TestCompileDescriptorMismatch(t *testing.T) {
	reg := NewRegistry()
	register(t, reg,
		pass("Producer", nil, []Slot{out("tex", 256, 256)}),
		pass("Consumer", []Slot{in("tex", 512, 512)}, nil),
	)
	_, err := newTestBuilder(Options{}).Compile(reg)
	if !errors.Is(err, ErrDescriptorMismatch) {
		t.Fatalf("Compile: err = %v, want ErrDescriptorMismatch", err)
	}
	var dm *DescriptorMismatchError
	if !errors.As(err, &dm) {
		t.Fatal("error does not unwrap to *DescriptorMismatchError")
	}
	if dm.Resource != "tex" {
		t.Errorf("mismatch resource = %q, want tex", dm.Resource)
	}
}

func TestCompileAliasesDisjointIntervals(t *testing.T) {
	reg := NewRegistry()
	// gbuffer dies at Lighting; bloom is born after, so the two can share
	// one allocation. hdr overlaps both and cannot.
	register(t, reg,
		pass("GBuffer", nil, []Slot{out("gbuffer", 1024, 1024)}),
		pass("Lighting", []Slot{in("gbuffer", 1024, 1024)}, []Slot{out("hdr", 1024, 1024)}),
		pass("Bloom", []Slot{in("hdr", 1024, 1024)}, []Slot{out("bloom", 1024, 1024)}),
		pass("Tonemap", []Slot{in("hdr", 1024, 1024), in("bloom", 1024, 1024)},
			[]Slot{out("ldr", 1024, 1024)}),
	)

	plan := mustCompile(t, newTestBuilder(Options{}), reg)
	declared, backed := plan.TransientBytes()
	if backed >= declared {
		t.Errorf("aliasing saved nothing: backed %d >= declared %d", backed, declared)
	}

	groupOf := func(name string) int {
		for gi, g := range plan.Groups {
			for _, m := range g.Members {
				if m.Name == name {
					return gi
				}
			}
		}
		t.Fatalf("resource %q not in any group", name)
		return -1
	}
	if groupOf("gbuffer") != groupOf("bloom") {
		t.Error("gbuffer and bloom have disjoint live ranges but were not aliased")
	}
	if groupOf("hdr") == groupOf("gbuffer") {
		t.Error("hdr overlaps gbuffer but shares its group")
	}
}

func TestCompileDisableAliasing(t *testing.T) {
	reg := NewRegistry()
	register(t, reg,
		pass("GBuffer", nil, []Slot{out("gbuffer", 1024, 1024)}),
		pass("Lighting", []Slot{in("gbuffer", 1024, 1024)}, []Slot{out("hdr", 1024, 1024)}),
		pass("Bloom", []Slot{in("hdr", 1024, 1024)}, []Slot{out("bloom", 1024, 1024)}),
	)
	plan := mustCompile(t, newTestBuilder(Options{DisableAliasing: true}), reg)
	if len(plan.Groups) != 3 {
		t.Errorf("got %d groups with aliasing disabled, want 3", len(plan.Groups))
	}
	declared, backed := plan.TransientBytes()
	if backed != declared {
		t.Errorf("backed %d != declared %d with aliasing disabled", backed, declared)
	}
}

func TestCompileGroupSizedToLargestMember(t *testing.T) {
	reg := NewRegistry()
	// big dies at Mid; small is born one node later, so the two merge and
	// the backing must cover the larger of them.
	register(t, reg,
		pass("Big", nil, []Slot{out("big", 2048, 2048)}),
		pass("Mid", []Slot{in("big", 2048, 2048)}, []Slot{out("mid", 128, 128)}),
		pass("Small", []Slot{in("mid", 128, 128)}, []Slot{out("small", 256, 256)}),
		pass("Sink", []Slot{in("small", 256, 256)}, nil),
	)
	plan := mustCompile(t, newTestBuilder(Options{}), reg)

	merged := false
	for _, g := range plan.Groups {
		if len(g.Members) < 2 {
			continue
		}
		merged = true
		for _, m := range g.Members {
			if m.Desc.ByteSize() > g.Backing.ByteSize() {
				t.Errorf("member %q (%d bytes) exceeds backing (%d bytes)",
					m.Name, m.Desc.ByteSize(), g.Backing.ByteSize())
			}
		}
	}
	if !merged {
		t.Error("no alias group merged despite disjoint intervals")
	}
}

func TestCompileBarriersOnAccessChange(t *testing.T) {
	reg := NewRegistry()
	register(t, reg,
		pass("Draw", nil, []Slot{out("target", 512, 512)}),
		pass("Sample", []Slot{in("target", 512, 512)}, nil),
	)
	plan := mustCompile(t, newTestBuilder(Options{}), reg)

	p := plan.index("Sample")
	if p < 0 {
		t.Fatal("Sample missing from plan")
	}
	node := plan.Nodes[p]
	if len(node.Barriers) != 1 {
		t.Fatalf("Sample has %d barriers, want 1", len(node.Barriers))
	}
	bar := node.Barriers[0]
	if bar.Resource != "target" {
		t.Errorf("barrier on %q, want target", bar.Resource)
	}
	if bar.Before != device.AccessRenderTarget || bar.After != device.AccessSampled {
		t.Errorf("barrier %v -> %v, want render-target -> sampled", bar.Before, bar.After)
	}
	// The producer's first write needs no barrier.
	if got := plan.Nodes[plan.index("Draw")].Barriers; len(got) != 0 {
		t.Errorf("Draw has %d barriers, want 0", len(got))
	}
}

func TestCompileBarriersForExternalOnlyResource(t *testing.T) {
	table := resource.NewTable(nil, nil)

	// An imported resource nothing in the graph produces, read under two
	// different access kinds.
	desc := transientTex("shadowmap", 256, 256)
	desc.Lifetime = resource.LifetimeExternal
	ext, err := table.Import(desc, resource.Resolved{Texture: 1})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	reg := NewRegistry()
	register(t, reg,
		Declaration{Name: "CopyOut",
			Inputs: []Slot{{Name: "shadowmap", Desc: desc, Access: device.AccessCopySrc}},
			Node:   noopNode()},
		Declaration{Name: "Sample",
			Inputs: []Slot{{Name: "shadowmap", Desc: desc, Access: device.AccessSampled}},
			Node:   noopNode()},
	)

	b := NewBuilder(table, Options{Deterministic: true}, nil)
	b.Bind("shadowmap", ext)
	plan := mustCompile(t, b, reg)

	if got := plan.Nodes[plan.index("CopyOut")].Barriers; len(got) != 0 {
		t.Errorf("CopyOut has %d barriers, want 0 (first access)", len(got))
	}
	bars := plan.Nodes[plan.index("Sample")].Barriers
	if len(bars) != 1 {
		t.Fatalf("Sample has %d barriers, want 1", len(bars))
	}
	if bars[0].Resource != "shadowmap" ||
		bars[0].Before != device.AccessCopySrc || bars[0].After != device.AccessSampled {
		t.Errorf("barrier = %+v, want shadowmap copy-src -> sampled", bars[0])
	}
}

func TestCompileReleasesAfterLastUse(t *testing.T) {
	reg := NewRegistry()
	register(t, reg,
		pass("Depth", nil, []Slot{out("depth", 512, 512)}),
		pass("Color", []Slot{in("depth", 512, 512)}, []Slot{out("color", 512, 512)}),
		pass("Composite", []Slot{in("depth", 512, 512), in("color", 512, 512)},
			[]Slot{out("final", 512, 512)}),
	)
	plan := mustCompile(t, newTestBuilder(Options{}), reg)

	releasedAt := make(map[string]string)
	for _, n := range plan.Nodes {
		for _, r := range n.Releases {
			releasedAt[r] = n.Name
		}
	}
	if releasedAt["depth"] != "Composite" {
		t.Errorf("depth released at %q, want Composite (its last consumer)", releasedAt["depth"])
	}
	if releasedAt["color"] != "Composite" {
		t.Errorf("color released at %q, want Composite", releasedAt["color"])
	}
	if releasedAt["final"] != "Composite" {
		t.Errorf("final released at %q, want Composite (unconsumed output)", releasedAt["final"])
	}
}

func TestCompileDeterministicOrderStable(t *testing.T) {
	build := func() []string {
		reg := NewRegistry()
		register(t, reg,
			pass("Root", nil, []Slot{out("r", 64, 64)}),
			pass("LeafA", []Slot{in("r", 64, 64)}, []Slot{out("a", 16, 16)}),
			pass("LeafB", []Slot{in("r", 64, 64)}, []Slot{out("b", 512, 512)}),
			pass("Join", []Slot{in("a", 16, 16), in("b", 512, 512)}, nil),
		)
		plan := mustCompile(t, newTestBuilder(Options{Deterministic: true}), reg)
		names := make([]string, len(plan.Nodes))
		for i, n := range plan.Nodes {
			names[i] = n.Name
		}
		return names
	}

	first := build()
	for i := 0; i < 10; i++ {
		if got := build(); len(got) != len(first) {
			t.Fatal("plan length changed between builds")
		} else {
			for j := range got {
				if got[j] != first[j] {
					t.Fatalf("order changed between builds: %v vs %v", got, first)
				}
			}
		}
	}
	// Deterministic mode follows registration order on ties.
	if first[1] != "LeafA" {
		t.Errorf("order = %v, want LeafA before LeafB", first)
	}
}

func TestRegistryActiveSet(t *testing.T) {
	reg := NewRegistry()
	register(t, reg,
		pass("Shadow", nil, []Slot{out("shadow", 2048, 2048)}),
		pass("Geometry", nil, []Slot{out("gbuffer", 1024, 1024)}),
		pass("DebugOverlay", []Slot{in("gbuffer", 1024, 1024)}, nil),
	)

	got := reg.ActiveSet(func(d Declaration) bool { return d.Name != "DebugOverlay" })
	if len(got) != 2 || got[0] != "Shadow" || got[1] != "Geometry" {
		t.Errorf("ActiveSet = %v, want [Shadow Geometry] in registration order", got)
	}
	if all := reg.ActiveSet(nil); len(all) != 3 {
		t.Errorf("nil predicate kept %d of 3 nodes", len(all))
	}
}

func TestCompileActiveSubset(t *testing.T) {
	reg := NewRegistry()
	register(t, reg,
		pass("Depth", nil, []Slot{out("depth", 512, 512)}),
		pass("Color", []Slot{in("depth", 512, 512)}, []Slot{out("color", 512, 512)}),
		pass("Debug", nil, []Slot{out("overlay", 256, 256)}),
	)

	b := newTestBuilder(Options{})
	plan, err := b.CompileActive(reg, []string{"Depth", "Color"})
	if err != nil {
		t.Fatalf("CompileActive: %v", err)
	}
	if len(plan.Nodes) != 2 {
		t.Fatalf("plan has %d nodes, want 2", len(plan.Nodes))
	}
	if plan.index("Debug") >= 0 {
		t.Error("inactive node Debug made it into the plan")
	}

	// Deactivating a producer strands its consumers.
	if _, err := b.CompileActive(reg, []string{"Color"}); !errors.Is(err, ErrUnboundInput) {
		t.Errorf("CompileActive without producer: err = %v, want ErrUnboundInput", err)
	}
}

func TestCompileEmptyRegistry(t *testing.T) {
	plan := mustCompile(t, newTestBuilder(Options{}), NewRegistry())
	if len(plan.Nodes) != 0 {
		t.Errorf("empty registry compiled to %d nodes", len(plan.Nodes))
	}
}
