// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package frame executes compiled plans, one frame at a time.
//
// A frame runs in two phases. Prepare fans every node's CPU-side work out
// over the job dispatcher, each task gated on the node's producers; Record
// then walks the plan in execution order, awaiting each node's preparation,
// emitting barriers and encoding into one frame-wide command buffer that is
// submitted once after the last node. A failed preparation turns the node
// and its dependents into no-op passes while independent branches complete.
// Device loss aborts the frame, dropping its commands unsubmitted, and is
// reported in the Result rather than panicking mid-pipeline.
package frame
