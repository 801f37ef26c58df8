// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/device"
)

// Descriptor is the semantic description of a resource, used to allocate or
// alias an underlying device object. Only the fields matching Kind are
// meaningful: Width/Height/Format/TexUsage for textures, Size/BufUsage for
// buffers, Sampler for samplers, Pipeline for pipelines.
type Descriptor struct {
	// Label names the resource for diagnostics and device debug labels.
	Label string

	// Kind selects the resource variant.
	Kind Kind

	// Lifetime classifies the backing allocation stability.
	Lifetime Lifetime

	// Texture fields.
	Width    uint32
	Height   uint32
	Format   gputypes.TextureFormat
	TexUsage gputypes.TextureUsage

	// Buffer fields.
	Size     uint64
	BufUsage gputypes.BufferUsage

	// Sampler configuration.
	Sampler device.SamplerDescriptor

	// Pipeline configuration (precompiled artifact or WGSL source).
	Pipeline device.PipelineDescriptor
}

// formatSize returns bytes per pixel for the formats the core deals in.
// Unknown formats assume four bytes, the worst common case.
func formatSize(f gputypes.TextureFormat) uint64 {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRG32Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 4
	}
}

// ByteSize estimates the allocation size of the described resource. Used by
// the aliasing pass for largest-first packing and by the table's stats.
func (d Descriptor) ByteSize() uint64 {
	switch d.Kind {
	case KindTexture:
		return uint64(d.Width) * uint64(d.Height) * formatSize(d.Format)
	case KindBuffer:
		return d.Size
	default:
		return 0
	}
}

// CanAlias reports whether two transient descriptors may share one backing
// allocation. Kind, format and usage must match exactly; dimensions and
// sizes may differ (the shared allocation is sized to the largest member).
func (d Descriptor) CanAlias(o Descriptor) bool {
	if d.Kind != o.Kind {
		return false
	}
	switch d.Kind {
	case KindTexture:
		return d.Format == o.Format && d.TexUsage == o.TexUsage
	case KindBuffer:
		return d.BufUsage == o.BufUsage
	default:
		// Samplers and pipelines are never aliased.
		return false
	}
}

// Conflicts reports whether two descriptors bound to the same resource name
// disagree in a way that makes the binding ambiguous. Producers and
// consumers of a named resource must agree on variant and format; sizes are
// allowed to differ only for buffers (a consumer may read a prefix).
func (d Descriptor) Conflicts(o Descriptor) bool {
	if d.Kind != o.Kind {
		return true
	}
	switch d.Kind {
	case KindTexture:
		return d.Format != o.Format || d.Width != o.Width || d.Height != o.Height
	case KindBuffer:
		return o.Size > d.Size
	default:
		return false
	}
}

// MaxOf grows d to cover o, keeping d's identity fields. Used when sizing
// an alias group's shared allocation.
func (d Descriptor) MaxOf(o Descriptor) Descriptor {
	out := d
	if o.Width > out.Width {
		out.Width = o.Width
	}
	if o.Height > out.Height {
		out.Height = o.Height
	}
	if o.Size > out.Size {
		out.Size = o.Size
	}
	return out
}
