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

// nativeEncoder implements device.CommandEncoder over hal.CommandEncoder.
// Encoding begins at creation and ends with Finish.
type nativeEncoder struct {
	dev      *Device
	enc      hal.CommandEncoder
	finished bool
}

// accessUsage maps a pass access to the HAL usage that drives the image
// layout transition.
func accessUsage(a device.Access) gputypes.TextureUsage {
	switch a {
	case device.AccessRenderTarget, device.AccessDepthWrite:
		return gputypes.TextureUsageRenderAttachment
	case device.AccessStorage:
		return gputypes.TextureUsageStorageBinding
	case device.AccessCopySrc, device.AccessPresent:
		// Presentation reads the image via the swapchain's transfer path.
		return gputypes.TextureUsageCopySrc
	case device.AccessCopyDst:
		return gputypes.TextureUsageCopyDst
	default:
		return gputypes.TextureUsageTextureBinding
	}
}

func (e *nativeEncoder) BeginRenderPass(desc *device.RenderPassDescriptor) (device.RenderPass, error) {
	if e.finished {
		return nil, fmt.Errorf("native: encoder already finished")
	}

	colors := make([]hal.RenderPassColorAttachment, len(desc.ColorAttachments))
	for i, att := range desc.ColorAttachments {
		t, err := e.dev.texture(att.Texture)
		if err != nil {
			return nil, err
		}
		colors[i] = hal.RenderPassColorAttachment{
			View:       t.view,
			LoadOp:     att.LoadOp,
			StoreOp:    att.StoreOp,
			ClearValue: att.ClearValue,
		}
	}

	rpDesc := &hal.RenderPassDescriptor{
		Label:            desc.Label,
		ColorAttachments: colors,
	}
	if desc.DepthAttachment != nil {
		t, err := e.dev.texture(desc.DepthAttachment.Texture)
		if err != nil {
			return nil, err
		}
		rpDesc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:            t.view,
			DepthLoadOp:     desc.DepthAttachment.LoadOp,
			DepthStoreOp:    desc.DepthAttachment.StoreOp,
			DepthClearValue: desc.DepthAttachment.ClearDepth,
			StencilLoadOp:   gputypes.LoadOpClear,
			StencilStoreOp:  gputypes.StoreOpDiscard,
		}
	}

	rp := e.enc.BeginRenderPass(rpDesc)
	return &nativePass{dev: e.dev, rp: rp}, nil
}

// Barrier transitions the texture's image layout between the producer's
// and consumer's usage. Buffer hazards are tracked by the HAL itself.
func (e *nativeEncoder) Barrier(b device.Barrier) {
	if b.Texture == device.InvalidID {
		return
	}
	t, err := e.dev.texture(b.Texture)
	if err != nil {
		return
	}
	e.enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: t.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: accessUsage(b.Before),
			NewUsage: accessUsage(b.After),
		},
	}})
}

func (e *nativeEncoder) CopyBufferToBuffer(src device.BufferID, srcOffset uint64, dst device.BufferID, dstOffset, size uint64) error {
	sb, err := e.dev.buffer(src)
	if err != nil {
		return err
	}
	db, err := e.dev.buffer(dst)
	if err != nil {
		return err
	}
	if srcOffset+size > sb.size || dstOffset+size > db.size {
		return fmt.Errorf("%w: copy out of range", device.ErrInvalidDescriptor)
	}
	e.enc.CopyBufferToBuffer(sb.buf, db.buf, []hal.BufferCopy{{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}})
	return nil
}

// CopyTextureToTexture is not recordable yet: the HAL exposes no direct
// texture-to-texture copy. Passes express full-texture moves with a blit
// pipeline instead.
func (e *nativeEncoder) CopyTextureToTexture(src, dst device.TextureID) error {
	st, err := e.dev.texture(src)
	if err != nil {
		return err
	}
	dt, err := e.dev.texture(dst)
	if err != nil {
		return err
	}
	if st.desc.Format != dt.desc.Format || st.desc.Width != dt.desc.Width || st.desc.Height != dt.desc.Height {
		return fmt.Errorf("%w: texture copy requires matching format and dimensions", device.ErrInvalidDescriptor)
	}
	return fmt.Errorf("native: texture-to-texture copy: %w", ErrUnsupported)
}

func (e *nativeEncoder) Finish() (device.CommandBuffer, error) {
	if e.finished {
		return nil, fmt.Errorf("native: encoder already finished")
	}
	e.finished = true
	buf, err := e.enc.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("native: end encoding: %w", err)
	}
	return &nativeCommands{buf: buf}, nil
}

// nativeCommands wraps a finished hal.CommandBuffer.
type nativeCommands struct {
	buf hal.CommandBuffer
}

func (c *nativeCommands) Destroy() {
	c.buf.Destroy()
}
