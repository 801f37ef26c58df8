// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package device

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// Device errors.
var (
	// ErrDeviceLost is returned when the underlying GPU device has been
	// lost. The caller must recreate the device (and swapchain) before
	// retrying; no partial frame is ever submitted after this error.
	ErrDeviceLost = errors.New("device: device lost")

	// ErrOutOfMemory is returned when the device reports allocation
	// failure. It is surfaced, never retried at this layer.
	ErrOutOfMemory = errors.New("device: out of memory")

	// ErrInvalidDescriptor is returned for descriptors the device cannot
	// satisfy (zero dimensions, empty shader source, and so on).
	ErrInvalidDescriptor = errors.New("device: invalid descriptor")

	// ErrClosed is returned when operating on a closed device.
	ErrClosed = errors.New("device: closed")
)

// Resource identifiers. Zero is never a valid ID.
type (
	// TextureID identifies a device texture.
	TextureID uint64
	// BufferID identifies a device buffer.
	BufferID uint64
	// SamplerID identifies a device sampler.
	SamplerID uint64
	// PipelineID identifies a compiled render or compute pipeline.
	PipelineID uint64
)

// InvalidID is the zero value shared by all resource ID types.
const InvalidID = 0

// Access describes how a pass touches a resource. The scheduler compares
// consecutive accesses of a resource to decide whether a barrier is needed
// between its producer and consumer.
type Access uint8

const (
	// AccessNone means the resource has not been touched this frame.
	AccessNone Access = iota
	// AccessRenderTarget is a color attachment write.
	AccessRenderTarget
	// AccessDepthWrite is a depth/stencil attachment write.
	AccessDepthWrite
	// AccessSampled is a sampled texture read in a shader.
	AccessSampled
	// AccessStorage is a read/write storage binding.
	AccessStorage
	// AccessCopySrc is a transfer read.
	AccessCopySrc
	// AccessCopyDst is a transfer write.
	AccessCopyDst
	// AccessVertex is a vertex buffer read.
	AccessVertex
	// AccessIndex is an index buffer read.
	AccessIndex
	// AccessUniform is a uniform buffer read.
	AccessUniform
	// AccessPresent is the final presentation read of a swapchain image.
	AccessPresent
)

// String returns a human-readable access name.
func (a Access) String() string {
	switch a {
	case AccessNone:
		return "none"
	case AccessRenderTarget:
		return "render-target"
	case AccessDepthWrite:
		return "depth-write"
	case AccessSampled:
		return "sampled"
	case AccessStorage:
		return "storage"
	case AccessCopySrc:
		return "copy-src"
	case AccessCopyDst:
		return "copy-dst"
	case AccessVertex:
		return "vertex"
	case AccessIndex:
		return "index"
	case AccessUniform:
		return "uniform"
	case AccessPresent:
		return "present"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

// Writes reports whether the access mutates the resource. A transition away
// from a writing access is what forces a barrier before the next reader.
func (a Access) Writes() bool {
	switch a {
	case AccessRenderTarget, AccessDepthWrite, AccessStorage, AccessCopyDst:
		return true
	default:
		return false
	}
}

// TextureDescriptor describes parameters for creating a texture.
// This mirrors the WebGPU GPUTextureDescriptor specification, reduced to
// what render passes need.
type TextureDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Width is the texture width in pixels.
	Width uint32

	// Height is the texture height in pixels.
	Height uint32

	// Format is the texture pixel format.
	Format gputypes.TextureFormat

	// Usage specifies how the texture will be used.
	Usage gputypes.TextureUsage
}

// BufferDescriptor describes parameters for creating a buffer.
type BufferDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage specifies how the buffer will be used.
	Usage gputypes.BufferUsage
}

// FilterMode selects texel filtering for samplers.
type FilterMode uint8

const (
	// FilterNearest selects nearest-neighbor filtering.
	FilterNearest FilterMode = iota
	// FilterLinear selects linear filtering.
	FilterLinear
)

// AddressMode selects texture coordinate wrapping for samplers.
type AddressMode uint8

const (
	// AddressClampToEdge clamps coordinates to the edge texel.
	AddressClampToEdge AddressMode = iota
	// AddressRepeat wraps coordinates.
	AddressRepeat
	// AddressMirrorRepeat wraps coordinates with mirroring.
	AddressMirrorRepeat
)

// SamplerDescriptor describes parameters for creating a sampler.
type SamplerDescriptor struct {
	Label     string
	MinFilter FilterMode
	MagFilter FilterMode
	AddressU  AddressMode
	AddressV  AddressMode
}

// PipelineDescriptor describes a render pipeline. Shader compilation to an
// intermediate form happens before the core sees it: either SPIRV carries
// precompiled bytecode, or WGSL carries source that the backend translates
// at setup time. Pipeline creation failures are setup-time errors, never
// frame-time ones.
type PipelineDescriptor struct {
	// Label is an optional debug label.
	Label string

	// SPIRV is precompiled shader bytecode. Takes precedence over WGSL.
	SPIRV []uint32

	// WGSL is shader source translated by the backend during setup.
	WGSL string

	// VertexEntry and FragmentEntry name the shader entry points.
	VertexEntry   string
	FragmentEntry string

	// ColorFormats lists the color attachment formats the pipeline
	// renders into, in attachment order.
	ColorFormats []gputypes.TextureFormat

	// DepthFormat is the depth attachment format when DepthEnabled.
	DepthFormat gputypes.TextureFormat

	// DepthEnabled selects whether the pipeline writes depth.
	DepthEnabled bool
}

// Barrier is a synchronization point between a producer's writes to a
// resource and a consumer's reads. Exactly one of Texture or Buffer is set.
type Barrier struct {
	// Label names the resource for debugging.
	Label string

	// Texture is the texture being transitioned, if any.
	Texture TextureID

	// Buffer is the buffer being transitioned, if any.
	Buffer BufferID

	// Before is the producer's access.
	Before Access

	// After is the consumer's access.
	After Access
}

// ColorAttachment configures one color output of a render pass.
type ColorAttachment struct {
	// Texture is the attachment target.
	Texture TextureID

	// LoadOp selects clear-vs-load behavior on pass begin.
	LoadOp gputypes.LoadOp

	// StoreOp selects whether results are stored on pass end.
	StoreOp gputypes.StoreOp

	// ClearValue is used when LoadOp clears.
	ClearValue gputypes.Color
}

// DepthAttachment configures the depth output of a render pass.
type DepthAttachment struct {
	// Texture is the depth target.
	Texture TextureID

	// LoadOp selects clear-vs-load behavior on pass begin.
	LoadOp gputypes.LoadOp

	// StoreOp selects whether results are stored on pass end.
	StoreOp gputypes.StoreOp

	// ClearDepth is used when LoadOp clears.
	ClearDepth float32
}

// RenderPassDescriptor configures a render pass on a command encoder.
type RenderPassDescriptor struct {
	Label            string
	ColorAttachments []ColorAttachment
	DepthAttachment  *DepthAttachment
}

// RenderPass records draw commands into the attachments it was begun with.
// A pass must be ended with End before the encoder records anything else.
type RenderPass interface {
	// SetPipeline selects the active pipeline.
	SetPipeline(PipelineID)

	// SetVertexBuffer binds a vertex buffer at the given slot.
	SetVertexBuffer(slot uint32, buffer BufferID)

	// SetIndexBuffer binds the index buffer.
	SetIndexBuffer(buffer BufferID, format gputypes.IndexFormat)

	// BindTexture binds a sampled texture at the given binding.
	BindTexture(binding uint32, texture TextureID, sampler SamplerID)

	// Draw records a non-indexed draw.
	Draw(vertexCount, instanceCount uint32)

	// DrawIndexed records an indexed draw.
	DrawIndexed(indexCount, instanceCount uint32)

	// End finishes the pass.
	End()
}

// CommandEncoder records GPU work for one frame. Encoders are owned by a
// single goroutine (the frame coordinator) and are not safe for concurrent
// use.
type CommandEncoder interface {
	// BeginRenderPass begins a render pass. Returns ErrDeviceLost if the
	// device has been lost.
	BeginRenderPass(desc *RenderPassDescriptor) (RenderPass, error)

	// Barrier records a synchronization barrier. Barriers assume linear
	// producer-before-consumer recording order.
	Barrier(b Barrier)

	// CopyBufferToBuffer records a buffer copy.
	CopyBufferToBuffer(src BufferID, srcOffset uint64, dst BufferID, dstOffset, size uint64) error

	// CopyTextureToTexture records a full texture copy. Source and
	// destination must share format and dimensions.
	CopyTextureToTexture(src, dst TextureID) error

	// Finish ends recording and returns the command buffer for submission.
	// The encoder must not be used afterwards.
	Finish() (CommandBuffer, error)
}

// CommandBuffer is a finished, submittable command stream.
type CommandBuffer interface {
	// Destroy releases the command buffer. Called after submission.
	Destroy()
}

// Capabilities describes what a device supports. Used by callers to size
// resources and decide on optional features.
type Capabilities struct {
	// MaxTextureSize is the maximum texture dimension supported.
	MaxTextureSize uint32

	// MaxBufferSize is the maximum buffer size in bytes.
	MaxBufferSize uint64

	// SupportsCompute indicates compute shader support.
	SupportsCompute bool

	// DeviceName is the GPU device name, when known.
	DeviceName string
}

// Device is the abstract GPU device/queue capability the framegraph core
// runs against. Backends register concrete implementations; tests use the
// headless backend.
//
// Resource lifecycle: resources are created via Create* and must be
// explicitly destroyed via Destroy*. IDs become invalid after destruction
// and are never reused by the same device.
type Device interface {
	// Name returns the backend identifier (e.g. "native", "headless").
	Name() string

	// Capabilities returns the device capability limits.
	Capabilities() Capabilities

	// CreateTexture allocates a texture. Returns ErrOutOfMemory when the
	// device cannot satisfy the allocation.
	CreateTexture(desc *TextureDescriptor) (TextureID, error)

	// DestroyTexture releases a texture.
	DestroyTexture(TextureID)

	// WriteTexture uploads pixel data covering the whole texture.
	WriteTexture(id TextureID, data []byte) error

	// ReadTexture downloads the full texture contents. May stall;
	// intended for readback and tests, not the frame hot path.
	ReadTexture(id TextureID) ([]byte, error)

	// CreateBuffer allocates a buffer.
	CreateBuffer(desc *BufferDescriptor) (BufferID, error)

	// DestroyBuffer releases a buffer.
	DestroyBuffer(BufferID)

	// WriteBuffer uploads data at the given offset.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer downloads size bytes from the given offset.
	ReadBuffer(id BufferID, offset, size uint64) ([]byte, error)

	// CreateSampler creates a sampler.
	CreateSampler(desc *SamplerDescriptor) (SamplerID, error)

	// DestroySampler releases a sampler.
	DestroySampler(SamplerID)

	// CreatePipeline compiles a render pipeline. Shader translation
	// failures are returned here, at setup time.
	CreatePipeline(desc *PipelineDescriptor) (PipelineID, error)

	// DestroyPipeline releases a pipeline.
	DestroyPipeline(PipelineID)

	// CreateCommandEncoder begins recording a frame's command stream.
	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Submit submits a finished command buffer to the device queue.
	Submit(CommandBuffer) error

	// WaitIdle blocks until all submitted work completes.
	WaitIdle()

	// Close releases the device and everything it still owns.
	Close()
}
