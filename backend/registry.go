// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"errors"
	"sync"

	"github.com/gogpu/framegraph/device"
)

// Backend names.
const (
	BackendNative   = "native"
	BackendHeadless = "headless"
)

// ErrNotAvailable is returned when no registered backend can open a
// device.
var ErrNotAvailable = errors.New("backend: no backend available")

// Factory opens a device. Factories must be cheap to call repeatedly and
// return an error rather than panic when the backend cannot run here.
type Factory func() (device.Device, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// Priority order for device selection (first to open wins).
	// Native hardware beats the in-memory fallback.
	priority = []string{BackendNative, BackendHeadless}
)

// Register registers a device factory under name. Typically called from
// init() in backend packages; a same-name registration replaces the old
// factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// Unregister removes a factory. Useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the registered backend names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}

// IsRegistered reports whether name has a factory.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens a device from the named backend.
func Open(name string) (device.Device, error) {
	registryMu.RLock()
	f, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, ErrNotAvailable
	}
	return f()
}

// OpenDefault opens the best available device in priority order, falling
// back to any registered backend that opens.
func OpenDefault() (device.Device, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var firstErr error
	for _, name := range priority {
		f, ok := factories[name]
		if !ok {
			continue
		}
		dev, err := f()
		if err == nil {
			return dev, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	for name, f := range factories {
		inPriority := false
		for _, p := range priority {
			if p == name {
				inPriority = true
				break
			}
		}
		if inPriority {
			continue
		}
		if dev, err := f(); err == nil {
			return dev, nil
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrNotAvailable
}
