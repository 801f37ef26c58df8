// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import "fmt"

// Kind discriminates the resource variants tracked by the table.
type Kind uint8

const (
	// KindTexture is a GPU texture.
	KindTexture Kind = iota
	// KindBuffer is a GPU buffer.
	KindBuffer
	// KindSampler is a texture sampler.
	KindSampler
	// KindPipeline is a compiled render pipeline.
	KindPipeline
)

// String returns a short human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindTexture:
		return "texture"
	case KindBuffer:
		return "buffer"
	case KindSampler:
		return "sampler"
	case KindPipeline:
		return "pipeline"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Lifetime classifies how long a resource's backing allocation is valid.
type Lifetime uint8

const (
	// LifetimeTransient resources live for one frame; their backing
	// allocation may be reused by unrelated resources afterwards.
	LifetimeTransient Lifetime = iota
	// LifetimePersistent resources keep a stable backing allocation
	// across frames until explicitly released.
	LifetimePersistent
	// LifetimeExternal resources are owned by a collaborator (e.g. the
	// swapchain); the table tracks but never destroys them.
	LifetimeExternal
)

// String returns the lifetime class name.
func (l Lifetime) String() string {
	switch l {
	case LifetimeTransient:
		return "transient"
	case LifetimePersistent:
		return "persistent"
	case LifetimeExternal:
		return "external"
	default:
		return fmt.Sprintf("lifetime(%d)", uint8(l))
	}
}

// Handle is an opaque reference into the resource table: an arena index plus
// the generation the slot had when the handle was issued. The zero Handle is
// invalid (generations start at 1).
type Handle struct {
	index uint32
	gen   uint32
	kind  Kind
}

// Kind returns the resource variant the handle refers to.
func (h Handle) Kind() Kind { return h.kind }

// IsZero reports whether the handle is the invalid zero value.
func (h Handle) IsZero() bool { return h.gen == 0 }

// String returns a compact form like "texture#4@2" for diagnostics.
func (h Handle) String() string {
	if h.IsZero() {
		return "handle(zero)"
	}
	return fmt.Sprintf("%s#%d@%d", h.kind, h.index, h.gen)
}
