// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/device"
)

func init() {
	Register(BackendHeadless, func() (device.Device, error) {
		return NewHeadless(HeadlessConfig{}), nil
	})
}

// HeadlessConfig tunes the in-memory device.
type HeadlessConfig struct {
	// MemoryBudget caps total texture and buffer bytes. Zero means
	// unlimited. Exceeding the budget fails allocation with
	// device.ErrOutOfMemory, which is how tests exercise OOM paths.
	MemoryBudget uint64
}

// Headless is a device that executes copies and clears in ordinary
// memory and accepts all other commands as no-ops. It exists for tests
// and CI machines without a GPU; command and barrier ordering matches the
// native backend so plans behave observably the same.
type Headless struct {
	mu     sync.Mutex
	cfg    HeadlessConfig
	nextID uint64
	used   uint64
	lost   bool
	closed bool

	textures map[device.TextureID]*headlessTexture
	buffers  map[device.BufferID][]byte
	samplers map[device.SamplerID]device.SamplerDescriptor
	pipes    map[device.PipelineID]device.PipelineDescriptor

	// Submissions counts command buffers accepted, barriers the barrier
	// commands executed. Exposed for tests through Counters.
	submissions int
	barriers    int
}

type headlessTexture struct {
	desc device.TextureDescriptor
	data []byte
}

// NewHeadless returns an in-memory device.
func NewHeadless(cfg HeadlessConfig) *Headless {
	return &Headless{
		cfg:      cfg,
		textures: make(map[device.TextureID]*headlessTexture),
		buffers:  make(map[device.BufferID][]byte),
		samplers: make(map[device.SamplerID]device.SamplerDescriptor),
		pipes:    make(map[device.PipelineID]device.PipelineDescriptor),
	}
}

// LoseDevice simulates device removal. Every subsequent operation fails
// with device.ErrDeviceLost.
func (h *Headless) LoseDevice() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lost = true
}

// Counters reports accepted submissions and executed barriers.
func (h *Headless) Counters() (submissions, barriers int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.submissions, h.barriers
}

func (h *Headless) check() error {
	if h.lost {
		return device.ErrDeviceLost
	}
	if h.closed {
		return device.ErrClosed
	}
	return nil
}

func (h *Headless) reserve(n uint64) error {
	if h.cfg.MemoryBudget > 0 && h.used+n > h.cfg.MemoryBudget {
		return device.ErrOutOfMemory
	}
	h.used += n
	return nil
}

func (h *Headless) Name() string { return BackendHeadless }

func (h *Headless) Capabilities() device.Capabilities {
	return device.Capabilities{
		MaxTextureSize: 16384,
		MaxBufferSize:  1 << 30,
		DeviceName:     "headless",
	}
}

func texBytes(d *device.TextureDescriptor) uint64 {
	bpp := uint64(4)
	switch d.Format {
	case gputypes.TextureFormatR8Unorm:
		bpp = 1
	case gputypes.TextureFormatRG32Float:
		bpp = 8
	case gputypes.TextureFormatRGBA32Float:
		bpp = 16
	}
	return uint64(d.Width) * uint64(d.Height) * bpp
}

func (h *Headless) CreateTexture(d *device.TextureDescriptor) (device.TextureID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check(); err != nil {
		return device.InvalidID, err
	}
	if d.Width == 0 || d.Height == 0 {
		return device.InvalidID, fmt.Errorf("%w: zero-sized texture %q", device.ErrInvalidDescriptor, d.Label)
	}
	size := texBytes(d)
	if err := h.reserve(size); err != nil {
		return device.InvalidID, err
	}
	h.nextID++
	id := device.TextureID(h.nextID)
	h.textures[id] = &headlessTexture{desc: *d, data: make([]byte, size)}
	return id, nil
}

func (h *Headless) DestroyTexture(id device.TextureID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.textures[id]; ok {
		h.used -= uint64(len(t.data))
		delete(h.textures, id)
	}
}

func (h *Headless) WriteTexture(id device.TextureID, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check(); err != nil {
		return err
	}
	t, ok := h.textures[id]
	if !ok {
		return fmt.Errorf("backend: headless: unknown texture %d", id)
	}
	copy(t.data, data)
	return nil
}

func (h *Headless) ReadTexture(id device.TextureID) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check(); err != nil {
		return nil, err
	}
	t, ok := h.textures[id]
	if !ok {
		return nil, fmt.Errorf("backend: headless: unknown texture %d", id)
	}
	out := make([]byte, len(t.data))
	copy(out, t.data)
	return out, nil
}

func (h *Headless) CreateBuffer(d *device.BufferDescriptor) (device.BufferID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check(); err != nil {
		return device.InvalidID, err
	}
	if err := h.reserve(d.Size); err != nil {
		return device.InvalidID, err
	}
	h.nextID++
	id := device.BufferID(h.nextID)
	h.buffers[id] = make([]byte, d.Size)
	return id, nil
}

func (h *Headless) DestroyBuffer(id device.BufferID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.buffers[id]; ok {
		h.used -= uint64(len(b))
		delete(h.buffers, id)
	}
}

func (h *Headless) WriteBuffer(id device.BufferID, offset uint64, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check(); err != nil {
		return err
	}
	b, ok := h.buffers[id]
	if !ok {
		return fmt.Errorf("backend: headless: unknown buffer %d", id)
	}
	if offset+uint64(len(data)) > uint64(len(b)) {
		return fmt.Errorf("%w: write past end of buffer %d", device.ErrInvalidDescriptor, id)
	}
	copy(b[offset:], data)
	return nil
}

func (h *Headless) ReadBuffer(id device.BufferID, offset, size uint64) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check(); err != nil {
		return nil, err
	}
	b, ok := h.buffers[id]
	if !ok {
		return nil, fmt.Errorf("backend: headless: unknown buffer %d", id)
	}
	if offset+size > uint64(len(b)) {
		return nil, fmt.Errorf("%w: read past end of buffer %d", device.ErrInvalidDescriptor, id)
	}
	out := make([]byte, size)
	copy(out, b[offset:offset+size])
	return out, nil
}

func (h *Headless) CreateSampler(d *device.SamplerDescriptor) (device.SamplerID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check(); err != nil {
		return device.InvalidID, err
	}
	h.nextID++
	id := device.SamplerID(h.nextID)
	h.samplers[id] = *d
	return id, nil
}

func (h *Headless) DestroySampler(id device.SamplerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.samplers, id)
}

func (h *Headless) CreatePipeline(d *device.PipelineDescriptor) (device.PipelineID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check(); err != nil {
		return device.InvalidID, err
	}
	h.nextID++
	id := device.PipelineID(h.nextID)
	h.pipes[id] = *d
	return id, nil
}

func (h *Headless) DestroyPipeline(id device.PipelineID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pipes, id)
}

func (h *Headless) CreateCommandEncoder(label string) (device.CommandEncoder, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check(); err != nil {
		return nil, err
	}
	return &headlessEncoder{dev: h, label: label}, nil
}

func (h *Headless) Submit(buf device.CommandBuffer) error {
	hb, ok := buf.(*headlessCommands)
	if !ok {
		return fmt.Errorf("backend: headless: foreign command buffer")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check(); err != nil {
		return err
	}
	for _, cmd := range hb.cmds {
		if err := cmd(h); err != nil {
			return err
		}
	}
	h.submissions++
	return nil
}

func (h *Headless) WaitIdle() {}

func (h *Headless) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.textures = map[device.TextureID]*headlessTexture{}
	h.buffers = map[device.BufferID][]byte{}
	h.used = 0
}

// command runs against the device with its mutex held.
type command func(h *Headless) error

// headlessEncoder buffers commands until Finish.
type headlessEncoder struct {
	dev      *Headless
	label    string
	cmds     []command
	finished bool
}

func (e *headlessEncoder) Barrier(b device.Barrier) {
	e.cmds = append(e.cmds, func(h *Headless) error {
		h.barriers++
		return nil
	})
}

func (e *headlessEncoder) CopyBufferToBuffer(src device.BufferID, srcOff uint64,
	dst device.BufferID, dstOff, size uint64) error {
	e.cmds = append(e.cmds, func(h *Headless) error {
		s, ok := h.buffers[src]
		if !ok {
			return fmt.Errorf("backend: headless: copy from unknown buffer %d", src)
		}
		d, ok := h.buffers[dst]
		if !ok {
			return fmt.Errorf("backend: headless: copy to unknown buffer %d", dst)
		}
		if srcOff+size > uint64(len(s)) || dstOff+size > uint64(len(d)) {
			return fmt.Errorf("%w: copy out of range", device.ErrInvalidDescriptor)
		}
		copy(d[dstOff:dstOff+size], s[srcOff:srcOff+size])
		return nil
	})
	return nil
}

func (e *headlessEncoder) CopyTextureToTexture(src, dst device.TextureID) error {
	e.cmds = append(e.cmds, func(h *Headless) error {
		s, ok := h.textures[src]
		if !ok {
			return fmt.Errorf("backend: headless: copy from unknown texture %d", src)
		}
		d, ok := h.textures[dst]
		if !ok {
			return fmt.Errorf("backend: headless: copy to unknown texture %d", dst)
		}
		copy(d.data, s.data)
		return nil
	})
	return nil
}

func (e *headlessEncoder) BeginRenderPass(d *device.RenderPassDescriptor) (device.RenderPass, error) {
	// Clears execute; draws are accepted and dropped.
	for _, att := range d.ColorAttachments {
		if att.LoadOp != gputypes.LoadOpClear {
			continue
		}
		tex := att.Texture
		clear := att.ClearValue
		e.cmds = append(e.cmds, func(h *Headless) error {
			t, ok := h.textures[tex]
			if !ok {
				return fmt.Errorf("backend: headless: render to unknown texture %d", tex)
			}
			px := [4]byte{
				byte(clear.R * 255), byte(clear.G * 255),
				byte(clear.B * 255), byte(clear.A * 255),
			}
			for i := 0; i+3 < len(t.data); i += 4 {
				copy(t.data[i:i+4], px[:])
			}
			return nil
		})
	}
	return &headlessPass{}, nil
}

func (e *headlessEncoder) Finish() (device.CommandBuffer, error) {
	if e.finished {
		return nil, fmt.Errorf("backend: headless: encoder %q already finished", e.label)
	}
	e.finished = true
	e.dev.mu.Lock()
	err := e.dev.check()
	e.dev.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &headlessCommands{cmds: e.cmds}, nil
}

type headlessCommands struct {
	cmds []command
}

func (*headlessCommands) Destroy() {}

// headlessPass accepts draw state and does nothing with it.
type headlessPass struct{}

func (*headlessPass) SetPipeline(device.PipelineID)                          {}
func (*headlessPass) SetVertexBuffer(uint32, device.BufferID)                {}
func (*headlessPass) SetIndexBuffer(device.BufferID, gputypes.IndexFormat)   {}
func (*headlessPass) BindTexture(uint32, device.TextureID, device.SamplerID) {}
func (*headlessPass) Draw(uint32, uint32)                                    {}
func (*headlessPass) DrawIndexed(uint32, uint32)                             {}
func (*headlessPass) End()                                                   {}
