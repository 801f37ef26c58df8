// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package frame

import (
	"fmt"
	"sync"

	"github.com/gogpu/framegraph/device"
	"github.com/gogpu/framegraph/resource"
)

// Uploader pushes CPU data into table-managed resources. Writes go through
// the device's upload queue, so they are safe to issue from node Prepare
// functions running in parallel.
type Uploader struct {
	mu    sync.Mutex
	dev   device.Device
	table *resource.Table
}

// NewUploader returns an uploader over the device and table.
func NewUploader(dev device.Device, table *resource.Table) *Uploader {
	return &Uploader{dev: dev, table: table}
}

// WriteBuffer copies data into the buffer behind h at offset.
func (u *Uploader) WriteBuffer(h resource.Handle, offset uint64, data []byte) error {
	r, err := u.table.Resolve(h)
	if err != nil {
		return fmt.Errorf("frame: upload buffer: %w", err)
	}
	if r.Desc.Kind != resource.KindBuffer {
		return fmt.Errorf("frame: upload buffer: %s is not a buffer", h)
	}
	if offset+uint64(len(data)) > r.Desc.Size {
		return fmt.Errorf("frame: upload buffer %q: write of %d at %d exceeds size %d",
			r.Desc.Label, len(data), offset, r.Desc.Size)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dev.WriteBuffer(r.Buffer, offset, data)
}

// WriteTexture replaces the full contents of the texture behind h. data is
// tightly packed rows, top to bottom.
func (u *Uploader) WriteTexture(h resource.Handle, data []byte) error {
	r, err := u.table.Resolve(h)
	if err != nil {
		return fmt.Errorf("frame: upload texture: %w", err)
	}
	if r.Desc.Kind != resource.KindTexture {
		return fmt.Errorf("frame: upload texture: %s is not a texture", h)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dev.WriteTexture(r.Texture, data)
}
