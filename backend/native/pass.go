// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/device"
)

// nativePass implements device.RenderPass over hal.RenderPassEncoder.
type nativePass struct {
	dev *Device
	rp  hal.RenderPassEncoder
}

func (p *nativePass) SetPipeline(id device.PipelineID) {
	p.dev.mu.RLock()
	pipe, ok := p.dev.pipes[id]
	p.dev.mu.RUnlock()
	if !ok {
		return
	}
	p.rp.SetPipeline(pipe.pipeline)
}

func (p *nativePass) SetVertexBuffer(slot uint32, buffer device.BufferID) {
	b, err := p.dev.buffer(buffer)
	if err != nil {
		return
	}
	p.rp.SetVertexBuffer(slot, b.buf, 0)
}

func (p *nativePass) SetIndexBuffer(buffer device.BufferID, format gputypes.IndexFormat) {
	b, err := p.dev.buffer(buffer)
	if err != nil {
		return
	}
	p.rp.SetIndexBuffer(b.buf, format, 0)
}

// BindTexture is pending HAL support: texture and sampler bind group
// entries are not exposed by the HAL's bind group descriptor yet, so the
// binding cannot be recorded.
// TODO: record the bind group once hal supports texture view bindings.
func (p *nativePass) BindTexture(binding uint32, texture device.TextureID, sampler device.SamplerID) {
	_ = binding
	_ = texture
	_ = sampler
}

func (p *nativePass) Draw(vertexCount, instanceCount uint32) {
	p.rp.Draw(vertexCount, instanceCount, 0, 0)
}

func (p *nativePass) DrawIndexed(indexCount, instanceCount uint32) {
	p.rp.DrawIndexed(indexCount, instanceCount, 0, 0, 0)
}

func (p *nativePass) End() {
	p.rp.End()
}
