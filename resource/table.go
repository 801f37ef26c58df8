// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/framegraph/device"
)

// Sentinel errors for table operations.
var (
	// ErrStaleHandle is returned when a handle's generation no longer
	// matches its slot. Wrapped by StaleHandleError.
	ErrStaleHandle = errors.New("resource: stale handle")

	// ErrTableClosed is returned by operations on a closed table.
	ErrTableClosed = errors.New("resource: table closed")

	// ErrKindMismatch is returned when a handle is resolved as the wrong
	// resource variant.
	ErrKindMismatch = errors.New("resource: kind mismatch")
)

// StaleHandleError reports use of a handle whose slot has been reused or
// released. It wraps ErrStaleHandle.
type StaleHandleError struct {
	Handle Handle
	Have   uint32 // generation currently stored in the slot, 0 if free
}

func (e *StaleHandleError) Error() string {
	return fmt.Sprintf("resource: stale handle %s (slot generation %d)", e.Handle, e.Have)
}

func (e *StaleHandleError) Unwrap() error { return ErrStaleHandle }

// Resolved is the device-level view of a live resource.
type Resolved struct {
	Desc     Descriptor
	Texture  device.TextureID
	Buffer   device.BufferID
	Sampler  device.SamplerID
	Pipeline device.PipelineID
}

// allocation is the backing device object for one or more handles. Aliased
// transients share a single allocation; refs counts the live handles.
type allocation struct {
	refs     int32
	desc     Descriptor // descriptor the device object was created with
	texture  device.TextureID
	buffer   device.BufferID
	sampler  device.SamplerID
	pipeline device.PipelineID
	external bool // device object not owned by the table
}

// slot holds one handle's state. The generation increments on every release
// so stale handles are rejected on resolve.
type slot struct {
	gen   uint32
	live  bool
	refs  int32
	desc  Descriptor
	share *allocation
}

// Table is a generational-arena registry of GPU resources. Handles carry an
// index and a generation; releasing a handle retires its generation, so any
// copy of the handle held elsewhere fails to resolve afterwards.
//
// All methods are safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	dev    device.Device
	slots  []slot
	free   []uint32
	closed bool
	logger *slog.Logger

	allocated uint64 // bytes currently backed by device objects
	peak      uint64
	aliased   uint64 // bytes saved by handles sharing allocations
}

// NewTable creates a resource table over the given device. logger may be
// nil, in which case allocation events are not logged.
func NewTable(dev device.Device, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Table{dev: dev, logger: logger}
}

// createObject creates the device object described by desc and records it
// into alloc. OOM and device errors pass through from the device.
func (t *Table) createObject(desc Descriptor, alloc *allocation) error {
	switch desc.Kind {
	case KindTexture:
		id, err := t.dev.CreateTexture(&device.TextureDescriptor{
			Label:  desc.Label,
			Width:  desc.Width,
			Height: desc.Height,
			Format: desc.Format,
			Usage:  desc.TexUsage,
		})
		if err != nil {
			return err
		}
		alloc.texture = id
	case KindBuffer:
		id, err := t.dev.CreateBuffer(&device.BufferDescriptor{
			Label: desc.Label,
			Size:  desc.Size,
			Usage: desc.BufUsage,
		})
		if err != nil {
			return err
		}
		alloc.buffer = id
	case KindSampler:
		id, err := t.dev.CreateSampler(&desc.Sampler)
		if err != nil {
			return err
		}
		alloc.sampler = id
	case KindPipeline:
		id, err := t.dev.CreatePipeline(&desc.Pipeline)
		if err != nil {
			return err
		}
		alloc.pipeline = id
	default:
		return fmt.Errorf("resource: unknown kind %d", desc.Kind)
	}
	alloc.desc = desc
	return nil
}

// destroyObject releases alloc's device object. External allocations are
// left untouched; the caller owns them.
func (t *Table) destroyObject(alloc *allocation) {
	if alloc.external {
		return
	}
	switch alloc.desc.Kind {
	case KindTexture:
		t.dev.DestroyTexture(alloc.texture)
	case KindBuffer:
		t.dev.DestroyBuffer(alloc.buffer)
	case KindSampler:
		t.dev.DestroySampler(alloc.sampler)
	case KindPipeline:
		t.dev.DestroyPipeline(alloc.pipeline)
	}
}

// grab returns a free slot index, growing the arena if needed. Caller holds
// t.mu.
func (t *Table) grab() uint32 {
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		return idx
	}
	t.slots = append(t.slots, slot{})
	return uint32(len(t.slots) - 1)
}

// install fills a slot and mints its handle. Caller holds t.mu.
func (t *Table) install(idx uint32, desc Descriptor, share *allocation) Handle {
	s := &t.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1 // generation 0 is the zero handle
	}
	s.live = true
	s.refs = 1
	s.desc = desc
	s.share = share
	share.refs++
	return Handle{index: idx, gen: s.gen, kind: desc.Kind}
}

// Allocate creates a device object for desc and returns a fresh handle with
// reference count one.
func (t *Table) Allocate(desc Descriptor) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Handle{}, ErrTableClosed
	}

	alloc := &allocation{}
	if err := t.createObject(desc, alloc); err != nil {
		return Handle{}, fmt.Errorf("resource: allocate %q: %w", desc.Label, err)
	}

	size := desc.ByteSize()
	t.allocated += size
	if t.allocated > t.peak {
		t.peak = t.allocated
	}

	h := t.install(t.grab(), desc, alloc)
	t.logger.Debug("resource allocated",
		"handle", h.String(), "label", desc.Label, "bytes", size)
	return h, nil
}

// Alias registers desc as a view over the allocation backing donor. The
// donor's device object must have been created large enough to cover desc
// (the graph builder sizes alias groups to their largest member). The
// returned handle has its own generation and reference count; the shared
// allocation is destroyed when the last member releases.
func (t *Table) Alias(donor Handle, desc Descriptor) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Handle{}, ErrTableClosed
	}
	s, err := t.lookup(donor)
	if err != nil {
		return Handle{}, err
	}
	if !s.desc.CanAlias(desc) {
		return Handle{}, fmt.Errorf("resource: alias %q over %q: incompatible descriptors",
			desc.Label, s.desc.Label)
	}

	t.aliased += desc.ByteSize()
	h := t.install(t.grab(), desc, s.share)
	t.logger.Debug("resource aliased",
		"handle", h.String(), "label", desc.Label, "donor", donor.String())
	return h, nil
}

// Import wraps an externally owned device object in a handle. The table
// never destroys imported objects; Release only retires the handle.
func (t *Table) Import(desc Descriptor, res Resolved) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Handle{}, ErrTableClosed
	}
	desc.Lifetime = LifetimeExternal
	alloc := &allocation{
		desc:     desc,
		texture:  res.Texture,
		buffer:   res.Buffer,
		sampler:  res.Sampler,
		pipeline: res.Pipeline,
		external: true,
	}
	h := t.install(t.grab(), desc, alloc)
	t.logger.Debug("resource imported", "handle", h.String(), "label", desc.Label)
	return h, nil
}

// lookup validates h against its slot. Caller holds t.mu (read or write).
func (t *Table) lookup(h Handle) (*slot, error) {
	if h.IsZero() || int(h.index) >= len(t.slots) {
		return nil, &StaleHandleError{Handle: h}
	}
	s := &t.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, &StaleHandleError{Handle: h, Have: s.gen}
	}
	if s.desc.Kind != h.kind {
		return nil, fmt.Errorf("resource: resolve %s: %w", h, ErrKindMismatch)
	}
	return s, nil
}

// Resolve returns the device-level view of h. Fails with a StaleHandleError
// if the handle's generation has been retired.
func (t *Table) Resolve(h Handle) (Resolved, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return Resolved{}, ErrTableClosed
	}
	s, err := t.lookup(h)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{
		Desc:     s.desc,
		Texture:  s.share.texture,
		Buffer:   s.share.buffer,
		Sampler:  s.share.sampler,
		Pipeline: s.share.pipeline,
	}, nil
}

// Describe returns the descriptor h was registered with.
func (t *Table) Describe(h Handle) (Descriptor, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, err := t.lookup(h)
	if err != nil {
		return Descriptor{}, err
	}
	return s.desc, nil
}

// Retain increments h's reference count.
func (t *Table) Retain(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTableClosed
	}
	s, err := t.lookup(h)
	if err != nil {
		return err
	}
	s.refs++
	return nil
}

// Release decrements h's reference count. When the count reaches zero the
// slot's generation is retired, so stale copies of h fail to resolve, and
// the backing device object is destroyed once no aliased member still
// references it. Releasing an already-retired handle is an error.
func (t *Table) Release(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTableClosed
	}
	s, err := t.lookup(h)
	if err != nil {
		return err
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}

	s.live = false
	s.share.refs--
	if s.share.refs == 0 {
		t.destroyObject(s.share)
		if !s.share.external {
			size := s.share.desc.ByteSize()
			if size > t.allocated {
				size = t.allocated
			}
			t.allocated -= size
		}
	}
	s.share = nil
	t.free = append(t.free, h.index)
	t.logger.Debug("resource released", "handle", h.String(), "label", s.desc.Label)
	return nil
}

// Close releases every live resource and marks the table unusable. Further
// operations return ErrTableClosed.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		s.live = false
		s.refs = 0
		s.share.refs--
		if s.share.refs == 0 {
			t.destroyObject(s.share)
		}
		s.share = nil
	}
	t.slots = nil
	t.free = nil
	t.allocated = 0
	t.closed = true
	return nil
}

// Stats is a snapshot of the table's memory accounting.
type Stats struct {
	Live      int    // handles currently resolvable
	Allocated uint64 // bytes backed by table-owned device objects
	Peak      uint64 // high-water mark of Allocated
	Aliased   uint64 // bytes satisfied by shared allocations
}

// Stats returns a snapshot of current usage.
func (t *Table) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := Stats{Allocated: t.allocated, Peak: t.peak, Aliased: t.aliased}
	for i := range t.slots {
		if t.slots[i].live {
			st.Live++
		}
	}
	return st
}

// String formats the snapshot for logs.
func (s Stats) String() string {
	return fmt.Sprintf("live=%d allocated=%s peak=%s aliased=%s",
		s.Live, formatBytes(s.Allocated), formatBytes(s.Peak), formatBytes(s.Aliased))
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
