// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

// Package native provides a GPU device backed by gogpu/wgpu's HAL layer.
//
// The backend registers itself with the backend registry under the
// "native" name; build with the nogpu tag to exclude it entirely. Render
// passes, pipelines, samplers, transfers and readback map directly onto
// HAL calls. Texture-to-texture copies surface ErrUnsupported and pass
// texture binding records nothing until the HAL grows those paths.
package native
