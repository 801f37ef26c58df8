// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/frame"
	"github.com/gogpu/framegraph/graph"
	"github.com/gogpu/framegraph/resource"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(Config{Backend: backend.BackendHeadless, Workers: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func texSlot(name string, access device.Access) graph.Slot {
	return graph.Slot{
		Name: name,
		Desc: resource.Descriptor{
			Label:    name,
			Kind:     resource.KindTexture,
			Lifetime: resource.LifetimeTransient,
			Width:    128,
			Height:   128,
			Format:   gputypes.TextureFormatRGBA8Unorm,
			TexUsage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
		},
		Access: access,
	}
}

func TestEngineRenderFrame(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.Register(graph.Declaration{
		Name:    "scene",
		Outputs: []graph.Slot{texSlot("scene", device.AccessRenderTarget)},
		Node:    graph.NodeFuncs{},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := eng.Register(graph.Declaration{
		Name:    "post",
		Inputs:  []graph.Slot{texSlot("scene", device.AccessSampled)},
		Outputs: []graph.Slot{texSlot("post", device.AccessRenderTarget)},
		Node:    graph.NodeFuncs{},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res := eng.RenderFrame(context.Background())
	if !res.Ok() {
		t.Fatalf("frame failed: %v", res)
	}
	if res.Recorded != 2 {
		t.Errorf("Recorded = %d, want 2", res.Recorded)
	}
	if eng.Stats().Live != 0 {
		t.Errorf("%d resources live after frame", eng.Stats().Live)
	}
}

func TestEnginePlanCaching(t *testing.T) {
	eng := newTestEngine(t)
	_ = eng.Register(graph.Declaration{
		Name:    "only",
		Outputs: []graph.Slot{texSlot("o", device.AccessRenderTarget)},
		Node:    graph.NodeFuncs{},
	})

	p1, err := eng.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	p2, _ := eng.Plan()
	if p1 != p2 {
		t.Error("plan recompiled without registry changes")
	}

	_ = eng.Register(graph.Declaration{
		Name:   "extra",
		Inputs: []graph.Slot{texSlot("o", device.AccessSampled)},
		Node:   graph.NodeFuncs{},
	})
	p3, err := eng.Plan()
	if err != nil {
		t.Fatalf("Plan after register: %v", err)
	}
	if p3 == p1 {
		t.Error("plan not recompiled after registration")
	}
	if len(p3.Nodes) != 2 {
		t.Errorf("recompiled plan has %d nodes, want 2", len(p3.Nodes))
	}

	// The compiled plan captures bound handles, so any Bind goes stale.
	extDesc := resource.Descriptor{
		Label: "swapchain", Kind: resource.KindTexture,
		Lifetime: resource.LifetimeExternal, Width: 64, Height: 64,
		Format: gputypes.TextureFormatRGBA8Unorm,
	}
	ext, err := eng.Table().Import(extDesc, resource.Resolved{Texture: 1})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	eng.Bind("swapchain", ext)
	p4, err := eng.Plan()
	if err != nil {
		t.Fatalf("Plan after bind: %v", err)
	}
	if p4 == p3 {
		t.Error("plan not recompiled after Bind")
	}
	if p4.External["swapchain"] != ext {
		t.Errorf("plan external binding = %v, want %v", p4.External["swapchain"], ext)
	}
}

func TestEngineSetActive(t *testing.T) {
	eng := newTestEngine(t)
	_ = eng.Register(graph.Declaration{
		Name:    "scene",
		Outputs: []graph.Slot{texSlot("scene", device.AccessRenderTarget)},
		Node:    graph.NodeFuncs{},
	})
	_ = eng.Register(graph.Declaration{
		Name:    "debug",
		Outputs: []graph.Slot{texSlot("overlay", device.AccessRenderTarget)},
		Node:    graph.NodeFuncs{},
	})

	eng.SetActive(func(d graph.Declaration) bool { return d.Name != "debug" })
	plan, err := eng.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Nodes) != 1 || plan.Nodes[0].Name != "scene" {
		t.Fatalf("active plan nodes = %v, want [scene]", plan.Nodes)
	}

	eng.SetActive(nil)
	plan, err = eng.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Nodes) != 2 {
		t.Errorf("full plan has %d nodes, want 2", len(plan.Nodes))
	}
}

func TestEngineCompileErrorSurfacesInResult(t *testing.T) {
	eng := newTestEngine(t)
	_ = eng.Register(graph.Declaration{
		Name:   "orphan",
		Inputs: []graph.Slot{texSlot("missing", device.AccessSampled)},
		Node:   graph.NodeFuncs{},
	})

	res := eng.RenderFrame(context.Background())
	if res.Status != frame.StatusFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	if !errors.Is(res.Err, graph.ErrUnboundInput) {
		t.Errorf("Err = %v, want ErrUnboundInput", res.Err)
	}
}

func TestEngineSuppliedDeviceNotClosed(t *testing.T) {
	dev := backend.NewHeadless(backend.HeadlessConfig{})
	defer dev.Close()

	eng, err := New(Config{Device: dev})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// The device still works after the engine is gone.
	if _, err := dev.CreateBuffer(&device.BufferDescriptor{Size: 4}); err != nil {
		t.Errorf("supplied device closed by engine: %v", err)
	}
}

func TestEngineClosed(t *testing.T) {
	eng := newTestEngine(t)
	_ = eng.Close()

	if err := eng.Register(graph.Declaration{Name: "late", Node: graph.NodeFuncs{}}); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Register after close: err = %v, want ErrEngineClosed", err)
	}
	if _, err := eng.Plan(); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Plan after close: err = %v, want ErrEngineClosed", err)
	}
	// Closing twice is fine.
	if err := eng.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestEngineUploader(t *testing.T) {
	eng := newTestEngine(t)

	h, err := eng.Table().Allocate(resource.Descriptor{
		Label:    "uniforms",
		Kind:     resource.KindBuffer,
		Lifetime: resource.LifetimePersistent,
		Size:     64,
		BufUsage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := eng.Uploader().WriteBuffer(h, 0, make([]byte, 64)); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	if err := eng.Uploader().WriteBuffer(h, 32, make([]byte, 64)); err == nil {
		t.Error("out-of-range upload succeeded")
	}
	_ = eng.Table().Release(h)
}
