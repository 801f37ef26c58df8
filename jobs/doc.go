// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package jobs runs dependency-gated tasks on a fixed worker pool.
//
// A task becomes runnable when every task it depends on has completed. A
// failed or cancelled task cancels everything downstream of it; tasks on
// independent branches keep running. The frame scheduler uses one
// dispatcher per engine to parallelize node preparation.
package jobs
