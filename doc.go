// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package framegraph orchestrates GPU work as a declarative render graph.
//
// # Overview
//
// Render passes are declared as nodes with named resource inputs and
// outputs. The engine links producers to consumers, orders the passes,
// packs short-lived render targets into shared GPU allocations, and
// executes the result frame by frame, fanning CPU-side preparation out
// over a worker pool.
//
// # Quick Start
//
//	eng, err := framegraph.New(framegraph.Config{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Close()
//
//	eng.Register(graph.Declaration{
//		Name:    "tonemap",
//		Inputs:  []graph.Slot{{Name: "hdr", Desc: hdrDesc, Access: device.AccessSampled}},
//		Outputs: []graph.Slot{{Name: "ldr", Desc: ldrDesc, Access: device.AccessRenderTarget}},
//		Node:    tonemapNode,
//	})
//
//	res := eng.RenderFrame(ctx)
//	if !res.Ok() {
//		log.Printf("frame dropped: %v", res.Err)
//	}
//
// # Backends
//
// Devices open through the backend registry. The in-memory headless
// backend is always available; GPU hardware support registers itself when
// the native backend is imported:
//
//	import _ "github.com/gogpu/framegraph/backend/native"
package framegraph
