// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package graph builds executable frame plans from declared render nodes.
//
// Nodes declare the resources they read and write by name. The builder
// links producers to consumers, orders the nodes topologically, packs
// compatible transient resources into shared allocations, and computes the
// synchronization barriers each node needs. The resulting Plan is immutable
// and is executed once per frame by the frame scheduler.
package graph
