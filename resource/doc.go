// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package resource implements the generational-arena registry of GPU
// resource handles used by the framegraph core.
//
// Consumers never hold direct references to GPU objects. They hold a
// [Handle] (arena index + generation) and look the object up through the
// [Table] when needed. Once a resource is released and its generation
// retired, every outstanding handle to it resolves to a stale-handle error
// instead of wrong data.
//
// Transient resources may share one underlying device allocation through
// aliasing when their frame lifetimes are proven disjoint; the table tracks
// the shared allocation with its own reference count so the device object
// is destroyed exactly once.
package resource
