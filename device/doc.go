// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package device defines the abstract GPU device capability consumed by the
// framegraph core.
//
// This package is the integration point between the graph orchestration and
// a concrete GPU binding. The core RECEIVES a [Device] from a backend, it
// does NOT talk to a GPU API directly. This keeps the resource table, graph
// builder and frame scheduler testable against the headless backend and
// portable across bindings.
//
// Key interfaces:
//   - [Device]: resource creation/destruction, encoder creation, submission
//   - [CommandEncoder]: per-frame command recording with barriers
//   - [RenderPass]: draw command recording into color/depth attachments
//
// Implementations must be safe for concurrent resource creation and
// destruction; command recording on a single encoder is single-threaded by
// contract (one frame coordinator owns the encoder).
package device
