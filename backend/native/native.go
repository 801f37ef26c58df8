// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/device"
)

// Package errors.
var (
	// ErrNoAdapter is returned when no usable GPU adapter exists.
	ErrNoAdapter = errors.New("native: no GPU adapters found")

	// ErrUnsupported marks operations the HAL does not implement yet.
	ErrUnsupported = errors.New("native: operation not supported by HAL")
)

func init() {
	backend.Register(backend.BackendNative, func() (device.Device, error) {
		return Open()
	})
}

// Open creates a standalone Vulkan device. Discrete GPUs are preferred,
// then integrated, then whatever the instance exposes first.
func Open() (*Device, error) {
	b, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("native: vulkan backend not available")
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", err)
	}

	return newDevice(openDev.Device, openDev.Queue, selected.Info.Name, instance), nil
}

// OpenShared wraps a device and queue owned by an external provider, such
// as a gogpu render context. The provider must expose HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue. Shared devices are
// never destroyed by Close.
func OpenShared(provider any) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("native: provider does not expose HAL types")
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("native: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("native: provider HalQueue is not hal.Queue")
	}
	return newDevice(dev, queue, "shared", nil), nil
}

// OpenProvider wraps the device owned by a gpucontext host application,
// such as gogpu.App. The host keeps ownership: Close never destroys a
// provider's device.
func OpenProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	if provider == nil {
		return nil, fmt.Errorf("native: nil device provider")
	}
	return OpenShared(provider)
}
