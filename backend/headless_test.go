// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/device"
)

func TestRegistryDefaultsToHeadless(t *testing.T) {
	if !IsRegistered(BackendHeadless) {
		t.Fatal("headless backend not registered")
	}
	dev, err := OpenDefault()
	if err != nil {
		t.Fatalf("OpenDefault: %v", err)
	}
	defer dev.Close()
	if dev.Name() == "" {
		t.Error("device has no name")
	}
}

func TestRegistryUnknownBackend(t *testing.T) {
	if _, err := Open("no-such-backend"); !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("Open unknown: err = %v, want ErrNotAvailable", err)
	}
}

func TestHeadlessBufferRoundTrip(t *testing.T) {
	dev := NewHeadless(HeadlessConfig{})
	defer dev.Close()

	id, err := dev.CreateBuffer(&device.BufferDescriptor{Label: "b", Size: 16})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	want := []byte{1, 2, 3, 4}
	if err := dev.WriteBuffer(id, 4, want); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	got, err := dev.ReadBuffer(id, 4, 4)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ReadBuffer = %v, want %v", got, want)
		}
	}
	if err := dev.WriteBuffer(id, 14, want); err == nil {
		t.Error("write past end succeeded")
	}
}

func TestHeadlessCopyExecutesOnSubmit(t *testing.T) {
	dev := NewHeadless(HeadlessConfig{})
	defer dev.Close()

	src, _ := dev.CreateBuffer(&device.BufferDescriptor{Size: 8})
	dst, _ := dev.CreateBuffer(&device.BufferDescriptor{Size: 8})
	_ = dev.WriteBuffer(src, 0, []byte{9, 9, 9, 9})

	enc, err := dev.CreateCommandEncoder("copy")
	if err != nil {
		t.Fatalf("CreateCommandEncoder: %v", err)
	}
	if err := enc.CopyBufferToBuffer(src, 0, dst, 0, 4); err != nil {
		t.Fatalf("CopyBufferToBuffer: %v", err)
	}
	buf, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	// Nothing runs until Submit.
	before, _ := dev.ReadBuffer(dst, 0, 4)
	if before[0] != 0 {
		t.Error("copy executed before submit")
	}
	if err := dev.Submit(buf); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	after, _ := dev.ReadBuffer(dst, 0, 4)
	if after[0] != 9 {
		t.Errorf("dst[0] = %d after submit, want 9", after[0])
	}
	if subs, _ := dev.Counters(); subs != 1 {
		t.Errorf("submissions = %d, want 1", subs)
	}
}

func TestHeadlessClearOnRenderPass(t *testing.T) {
	dev := NewHeadless(HeadlessConfig{})
	defer dev.Close()

	tex, err := dev.CreateTexture(&device.TextureDescriptor{
		Label: "target", Width: 2, Height: 2,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}

	enc, _ := dev.CreateCommandEncoder("clear")
	pass, err := enc.BeginRenderPass(&device.RenderPassDescriptor{
		ColorAttachments: []device.ColorAttachment{{
			Texture:    tex,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 1, G: 0, B: 0, A: 1},
		}},
	})
	if err != nil {
		t.Fatalf("BeginRenderPass: %v", err)
	}
	pass.End()
	buf, _ := enc.Finish()
	if err := dev.Submit(buf); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	data, _ := dev.ReadTexture(tex)
	if data[0] != 255 || data[1] != 0 || data[3] != 255 {
		t.Errorf("pixel 0 = %v, want red", data[:4])
	}
}

func TestHeadlessMemoryBudget(t *testing.T) {
	dev := NewHeadless(HeadlessConfig{MemoryBudget: 1024})
	defer dev.Close()

	if _, err := dev.CreateBuffer(&device.BufferDescriptor{Size: 512}); err != nil {
		t.Fatalf("first buffer: %v", err)
	}
	if _, err := dev.CreateBuffer(&device.BufferDescriptor{Size: 1024}); !errors.Is(err, device.ErrOutOfMemory) {
		t.Fatalf("over-budget buffer: err = %v, want ErrOutOfMemory", err)
	}
	// Freeing makes room again.
	id, _ := dev.CreateBuffer(&device.BufferDescriptor{Size: 512})
	dev.DestroyBuffer(id)
	if _, err := dev.CreateBuffer(&device.BufferDescriptor{Size: 512}); err != nil {
		t.Fatalf("buffer after free: %v", err)
	}
}

func TestHeadlessDeviceLost(t *testing.T) {
	dev := NewHeadless(HeadlessConfig{})
	defer dev.Close()

	id, _ := dev.CreateBuffer(&device.BufferDescriptor{Size: 8})
	dev.LoseDevice()

	if _, err := dev.CreateBuffer(&device.BufferDescriptor{Size: 8}); !errors.Is(err, device.ErrDeviceLost) {
		t.Errorf("CreateBuffer after loss: err = %v, want ErrDeviceLost", err)
	}
	if err := dev.WriteBuffer(id, 0, []byte{1}); !errors.Is(err, device.ErrDeviceLost) {
		t.Errorf("WriteBuffer after loss: err = %v, want ErrDeviceLost", err)
	}
	if _, err := dev.CreateCommandEncoder("x"); !errors.Is(err, device.ErrDeviceLost) {
		t.Errorf("CreateCommandEncoder after loss: err = %v, want ErrDeviceLost", err)
	}
}

func TestHeadlessZeroSizedTexture(t *testing.T) {
	dev := NewHeadless(HeadlessConfig{})
	defer dev.Close()
	if _, err := dev.CreateTexture(&device.TextureDescriptor{Width: 0, Height: 4}); !errors.Is(err, device.ErrInvalidDescriptor) {
		t.Fatalf("zero-width texture: err = %v, want ErrInvalidDescriptor", err)
	}
}
