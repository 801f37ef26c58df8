// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/device"
)

// passVertexStride is the byte stride of the standard pass vertex:
// position vec2<f32> + uv vec2<f32>.
const passVertexStride = 16

// passVertexLayout returns the vertex buffer layout shared by all
// framegraph pass pipelines.
func passVertexLayout() []gputypes.VertexBufferLayout {
	return []gputypes.VertexBufferLayout{
		{
			ArrayStride: passVertexStride,
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes: []gputypes.VertexAttribute{
				{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0}, // position
				{Format: gputypes.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1}, // uv
			},
		},
	}
}

// CreatePipeline compiles the pipeline's shader and builds the render
// pipeline. WGSL source goes through naga to SPIR-V; precompiled SPIR-V
// is used as-is.
func (d *Device) CreatePipeline(desc *device.PipelineDescriptor) (device.PipelineID, error) {
	spirv := desc.SPIRV
	if len(spirv) == 0 {
		if desc.WGSL == "" {
			return device.InvalidID, fmt.Errorf("%w: pipeline %q has no shader source",
				device.ErrInvalidDescriptor, desc.Label)
		}
		code, err := compileWGSL(desc.WGSL)
		if err != nil {
			return device.InvalidID, fmt.Errorf("native: pipeline %q: %w", desc.Label, err)
		}
		spirv = code
	}

	module, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return device.InvalidID, fmt.Errorf("native: pipeline %q: shader module: %w", desc.Label, err)
	}

	p := &nativePipeline{module: module}

	// Bind group layout:
	//   Binding 0: pass uniforms (uniform buffer, vertex+fragment)
	//   Binding 1: sampled input texture (texture_2d, fragment)
	//   Binding 2: sampler (fragment)
	// Shaders may use a subset of these bindings.
	p.bindLayout, err = d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: desc.Label + "_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		destroyPipeline(d.dev, p)
		return device.InvalidID, fmt.Errorf("native: pipeline %q: bind group layout: %w", desc.Label, err)
	}

	p.pipeLayout, err = d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		destroyPipeline(d.dev, p)
		return device.InvalidID, fmt.Errorf("native: pipeline %q: pipeline layout: %w", desc.Label, err)
	}

	vertexEntry := desc.VertexEntry
	if vertexEntry == "" {
		vertexEntry = "vs_main"
	}
	fragmentEntry := desc.FragmentEntry
	if fragmentEntry == "" {
		fragmentEntry = "fs_main"
	}

	premulBlend := gputypes.BlendStatePremultiplied()
	targets := make([]gputypes.ColorTargetState, len(desc.ColorFormats))
	for i, format := range desc.ColorFormats {
		targets[i] = gputypes.ColorTargetState{
			Format:    format,
			Blend:     &premulBlend,
			WriteMask: gputypes.ColorWriteMaskAll,
		}
	}

	halDesc := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: p.pipeLayout,
		Vertex: hal.VertexState{
			Module:     module,
			EntryPoint: vertexEntry,
			Buffers:    passVertexLayout(),
		},
		Fragment: &hal.FragmentState{
			Module:     module,
			EntryPoint: fragmentEntry,
			Targets:    targets,
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	}
	if desc.DepthEnabled {
		halDesc.DepthStencil = &hal.DepthStencilState{
			Format:            desc.DepthFormat,
			DepthWriteEnabled: true,
			DepthCompare:      gputypes.CompareFunctionLess,
			StencilFront: hal.StencilFaceState{
				Compare:     gputypes.CompareFunctionAlways,
				FailOp:      hal.StencilOperationKeep,
				DepthFailOp: hal.StencilOperationKeep,
				PassOp:      hal.StencilOperationKeep,
			},
			StencilBack: hal.StencilFaceState{
				Compare:     gputypes.CompareFunctionAlways,
				FailOp:      hal.StencilOperationKeep,
				DepthFailOp: hal.StencilOperationKeep,
				PassOp:      hal.StencilOperationKeep,
			},
			StencilReadMask:  0x00,
			StencilWriteMask: 0x00,
		}
	}

	p.pipeline, err = d.dev.CreateRenderPipeline(halDesc)
	if err != nil {
		destroyPipeline(d.dev, p)
		return device.InvalidID, fmt.Errorf("native: pipeline %q: %w", desc.Label, err)
	}

	id := device.PipelineID(d.newID())
	d.mu.Lock()
	d.pipes[id] = p
	d.mu.Unlock()
	return id, nil
}

func (d *Device) DestroyPipeline(id device.PipelineID) {
	d.mu.Lock()
	p, ok := d.pipes[id]
	if ok {
		delete(d.pipes, id)
	}
	d.mu.Unlock()
	if ok {
		destroyPipeline(d.dev, p)
	}
}

// destroyPipeline releases pipeline resources in reverse creation order.
func destroyPipeline(dev hal.Device, p *nativePipeline) {
	if p.pipeline != nil {
		dev.DestroyRenderPipeline(p.pipeline)
	}
	if p.pipeLayout != nil {
		dev.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.bindLayout != nil {
		dev.DestroyBindGroupLayout(p.bindLayout)
	}
	if p.module != nil {
		dev.DestroyShaderModule(p.module)
	}
}
