// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package backend selects and constructs the device the engine renders
// with. Backends self-register from init() functions: the native GPU
// backend registers when built in, and the headless backend is always
// available as a fallback and for tests.
package backend
