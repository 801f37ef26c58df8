// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/device"
)

// Device implements device.Device over a hal.Device and hal.Queue.
//
// Resource maps are protected by a mutex; command encoders are owned by a
// single goroutine, matching the HAL's own contract.
type Device struct {
	mu       sync.RWMutex
	dev      hal.Device
	queue    hal.Queue
	name     string
	instance hal.Instance // nil when the device is shared
	closed   bool

	nextID atomic.Uint64

	textures map[device.TextureID]*nativeTexture
	buffers  map[device.BufferID]*nativeBuffer
	samplers map[device.SamplerID]hal.Sampler
	pipes    map[device.PipelineID]*nativePipeline
}

type nativeTexture struct {
	tex  hal.Texture
	view hal.TextureView
	desc device.TextureDescriptor
}

type nativeBuffer struct {
	buf  hal.Buffer
	size uint64
}

type nativePipeline struct {
	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
}

func newDevice(dev hal.Device, queue hal.Queue, name string, instance hal.Instance) *Device {
	d := &Device{
		dev:      dev,
		queue:    queue,
		name:     name,
		instance: instance,
		textures: make(map[device.TextureID]*nativeTexture),
		buffers:  make(map[device.BufferID]*nativeBuffer),
		samplers: make(map[device.SamplerID]hal.Sampler),
		pipes:    make(map[device.PipelineID]*nativePipeline),
	}
	d.nextID.Store(1)
	return d
}

func (d *Device) newID() uint64 { return d.nextID.Add(1) - 1 }

func (d *Device) Name() string { return backend.BackendNative }

func (d *Device) Capabilities() device.Capabilities {
	limits := gputypes.DefaultLimits()
	return device.Capabilities{
		MaxTextureSize:  limits.MaxTextureDimension2D,
		MaxBufferSize:   limits.MaxBufferSize,
		SupportsCompute: true,
		DeviceName:      d.name,
	}
}

func formatBytesPerPixel(f gputypes.TextureFormat) uint32 {
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

// textureUsage maps descriptor usage onto HAL flags. Transfers are always
// allowed so uploads and readback work on any texture.
func textureUsage(u gputypes.TextureUsage) gputypes.TextureUsage {
	return u | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
}

func (d *Device) CreateTexture(desc *device.TextureDescriptor) (device.TextureID, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return device.InvalidID, fmt.Errorf("%w: zero-sized texture %q", device.ErrInvalidDescriptor, desc.Label)
	}
	tex, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         textureUsage(desc.Usage),
	})
	if err != nil {
		return device.InvalidID, fmt.Errorf("native: create texture %q: %w", desc.Label, err)
	}
	view, err := d.dev.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label: desc.Label + "_view",
	})
	if err != nil {
		d.dev.DestroyTexture(tex)
		return device.InvalidID, fmt.Errorf("native: create texture view %q: %w", desc.Label, err)
	}

	id := device.TextureID(d.newID())
	d.mu.Lock()
	d.textures[id] = &nativeTexture{tex: tex, view: view, desc: *desc}
	d.mu.Unlock()
	return id, nil
}

func (d *Device) DestroyTexture(id device.TextureID) {
	d.mu.Lock()
	t, ok := d.textures[id]
	if ok {
		delete(d.textures, id)
	}
	d.mu.Unlock()
	if ok {
		d.dev.DestroyTextureView(t.view)
		d.dev.DestroyTexture(t.tex)
	}
}

func (d *Device) texture(id device.TextureID) (*nativeTexture, error) {
	d.mu.RLock()
	t, ok := d.textures[id]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("native: texture %d not found", id)
	}
	return t, nil
}

func (d *Device) buffer(id device.BufferID) (*nativeBuffer, error) {
	d.mu.RLock()
	b, ok := d.buffers[id]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("native: buffer %d not found", id)
	}
	return b, nil
}

func (d *Device) WriteTexture(id device.TextureID, data []byte) error {
	t, err := d.texture(id)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	bpp := formatBytesPerPixel(t.desc.Format)
	d.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  t.tex,
			MipLevel: 0,
			Origin:   hal.Origin3D{X: 0, Y: 0, Z: 0},
			Aspect:   gputypes.TextureAspectAll,
		},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  t.desc.Width * bpp,
			RowsPerImage: t.desc.Height,
		},
		&hal.Extent3D{
			Width:              t.desc.Width,
			Height:             t.desc.Height,
			DepthOrArrayLayers: 1,
		},
	)
	return nil
}

// copyPitchAlignment is the BytesPerRow alignment required by WebGPU (and
// DX12) for texture-buffer copies.
const copyPitchAlignment = 256

// ReadTexture copies the texture into an aligned staging buffer, waits for
// the GPU, and strips the row padding.
func (d *Device) ReadTexture(id device.TextureID) ([]byte, error) {
	t, err := d.texture(id)
	if err != nil {
		return nil, err
	}

	bpp := formatBytesPerPixel(t.desc.Format)
	bytesPerRow := t.desc.Width * bpp
	alignedBytesPerRow := (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	stagingSize := uint64(alignedBytesPerRow) * uint64(t.desc.Height)

	staging, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "readback_staging",
		Size:  stagingSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create staging buffer: %w", err)
	}
	defer d.dev.DestroyBuffer(staging)

	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "texture_readback"})
	if err != nil {
		return nil, fmt.Errorf("native: create encoder: %w", err)
	}
	if err := enc.BeginEncoding("texture_readback"); err != nil {
		return nil, fmt.Errorf("native: begin encoding: %w", err)
	}

	// Vulkan needs the texture in TRANSFER_SRC layout before the copy, and
	// back to its working layout afterwards. No-op on other backends.
	isTarget := t.desc.Usage&gputypes.TextureUsageRenderAttachment != 0
	if isTarget {
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: t.tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageRenderAttachment,
				NewUsage: gputypes.TextureUsageCopySrc,
			},
		}})
	}
	enc.CopyTextureToBuffer(t.tex, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: alignedBytesPerRow, RowsPerImage: t.desc.Height},
		TextureBase:  hal.ImageCopyTexture{Texture: t.tex, MipLevel: 0},
		Size:         hal.Extent3D{Width: t.desc.Width, Height: t.desc.Height, DepthOrArrayLayers: 1},
	}})
	if isTarget {
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: t.tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageCopySrc,
				NewUsage: gputypes.TextureUsageRenderAttachment,
			},
		}})
	}

	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("native: end encoding: %w", err)
	}
	defer cmdBuf.Destroy()

	if err := d.submitAndWait([]hal.CommandBuffer{cmdBuf}); err != nil {
		return nil, err
	}

	padded := make([]byte, stagingSize)
	if err := d.queue.ReadBuffer(staging, 0, padded); err != nil {
		return nil, fmt.Errorf("native: readback: %w", err)
	}
	if alignedBytesPerRow == bytesPerRow {
		return padded, nil
	}
	out := make([]byte, uint64(bytesPerRow)*uint64(t.desc.Height))
	for y := uint32(0); y < t.desc.Height; y++ {
		src := uint64(y) * uint64(alignedBytesPerRow)
		dst := uint64(y) * uint64(bytesPerRow)
		copy(out[dst:dst+uint64(bytesPerRow)], padded[src:])
	}
	return out, nil
}

func (d *Device) CreateBuffer(desc *device.BufferDescriptor) (device.BufferID, error) {
	if desc.Size == 0 {
		return device.InvalidID, fmt.Errorf("%w: zero-sized buffer %q", device.ErrInvalidDescriptor, desc.Label)
	}
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return device.InvalidID, fmt.Errorf("native: create buffer %q: %w", desc.Label, err)
	}
	id := device.BufferID(d.newID())
	d.mu.Lock()
	d.buffers[id] = &nativeBuffer{buf: buf, size: desc.Size}
	d.mu.Unlock()
	return id, nil
}

func (d *Device) DestroyBuffer(id device.BufferID) {
	d.mu.Lock()
	b, ok := d.buffers[id]
	if ok {
		delete(d.buffers, id)
	}
	d.mu.Unlock()
	if ok {
		d.dev.DestroyBuffer(b.buf)
	}
}

func (d *Device) WriteBuffer(id device.BufferID, offset uint64, data []byte) error {
	b, err := d.buffer(id)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("%w: write past end of buffer", device.ErrInvalidDescriptor)
	}
	if len(data) > 0 {
		d.queue.WriteBuffer(b.buf, offset, data)
	}
	return nil
}

// ReadBuffer copies the range into a staging buffer, waits for the GPU,
// and reads it back.
func (d *Device) ReadBuffer(id device.BufferID, offset, size uint64) ([]byte, error) {
	b, err := d.buffer(id)
	if err != nil {
		return nil, err
	}
	if offset+size > b.size {
		return nil, fmt.Errorf("%w: read past end of buffer", device.ErrInvalidDescriptor)
	}

	staging, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "readback_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create staging buffer: %w", err)
	}
	defer d.dev.DestroyBuffer(staging)

	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "buffer_readback"})
	if err != nil {
		return nil, fmt.Errorf("native: create encoder: %w", err)
	}
	if err := enc.BeginEncoding("buffer_readback"); err != nil {
		return nil, fmt.Errorf("native: begin encoding: %w", err)
	}
	enc.CopyBufferToBuffer(b.buf, staging, []hal.BufferCopy{{
		SrcOffset: offset,
		DstOffset: 0,
		Size:      size,
	}})
	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("native: end encoding: %w", err)
	}
	defer cmdBuf.Destroy()

	if err := d.submitAndWait([]hal.CommandBuffer{cmdBuf}); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	if err := d.queue.ReadBuffer(staging, 0, out); err != nil {
		return nil, fmt.Errorf("native: readback: %w", err)
	}
	return out, nil
}

func filterMode(m device.FilterMode) gputypes.FilterMode {
	if m == device.FilterLinear {
		return gputypes.FilterModeLinear
	}
	return gputypes.FilterModeNearest
}

func addressMode(m device.AddressMode) gputypes.AddressMode {
	switch m {
	case device.AddressRepeat:
		return gputypes.AddressModeRepeat
	case device.AddressMirrorRepeat:
		return gputypes.AddressModeMirrorRepeat
	default:
		return gputypes.AddressModeClampToEdge
	}
}

func (d *Device) CreateSampler(desc *device.SamplerDescriptor) (device.SamplerID, error) {
	sampler, err := d.dev.CreateSampler(&hal.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: addressMode(desc.AddressU),
		AddressModeV: addressMode(desc.AddressV),
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    filterMode(desc.MagFilter),
		MinFilter:    filterMode(desc.MinFilter),
		MipmapFilter: filterMode(desc.MinFilter),
	})
	if err != nil {
		return device.InvalidID, fmt.Errorf("native: create sampler %q: %w", desc.Label, err)
	}
	id := device.SamplerID(d.newID())
	d.mu.Lock()
	d.samplers[id] = sampler
	d.mu.Unlock()
	return id, nil
}

func (d *Device) DestroySampler(id device.SamplerID) {
	d.mu.Lock()
	s, ok := d.samplers[id]
	if ok {
		delete(d.samplers, id)
	}
	d.mu.Unlock()
	if ok {
		d.dev.DestroySampler(s)
	}
}

func (d *Device) CreateCommandEncoder(label string) (device.CommandEncoder, error) {
	enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("native: create encoder: %w", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("native: begin encoding: %w", err)
	}
	return &nativeEncoder{dev: d, enc: enc}, nil
}

func (d *Device) Submit(buf device.CommandBuffer) error {
	nb, ok := buf.(*nativeCommands)
	if !ok {
		return fmt.Errorf("native: foreign command buffer")
	}
	if err := d.queue.Submit([]hal.CommandBuffer{nb.buf}, nil, 0); err != nil {
		return fmt.Errorf("native: submit: %w", err)
	}
	return nil
}

// submitAndWait submits command buffers with a fence and blocks until the
// GPU signals it.
func (d *Device) submitAndWait(bufs []hal.CommandBuffer) error {
	fence, err := d.dev.CreateFence()
	if err != nil {
		return fmt.Errorf("native: create fence: %w", err)
	}
	defer d.dev.DestroyFence(fence)
	if err := d.queue.Submit(bufs, fence, 1); err != nil {
		return fmt.Errorf("native: submit: %w", err)
	}
	if _, err := d.dev.Wait(fence, 1, 5_000_000_000); err != nil {
		return fmt.Errorf("native: wait: %w", err)
	}
	return nil
}

// WaitIdle submits a fence-only batch and blocks on it.
func (d *Device) WaitIdle() {
	_ = d.submitAndWait(nil)
}

func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	textures := d.textures
	buffers := d.buffers
	samplers := d.samplers
	pipes := d.pipes
	d.textures = map[device.TextureID]*nativeTexture{}
	d.buffers = map[device.BufferID]*nativeBuffer{}
	d.samplers = map[device.SamplerID]hal.Sampler{}
	d.pipes = map[device.PipelineID]*nativePipeline{}
	d.mu.Unlock()

	for _, t := range textures {
		d.dev.DestroyTextureView(t.view)
		d.dev.DestroyTexture(t.tex)
	}
	for _, b := range buffers {
		d.dev.DestroyBuffer(b.buf)
	}
	for _, s := range samplers {
		d.dev.DestroySampler(s)
	}
	for _, p := range pipes {
		destroyPipeline(d.dev, p)
	}
	if d.instance != nil {
		d.dev.Destroy()
		d.instance.Destroy()
	}
}
