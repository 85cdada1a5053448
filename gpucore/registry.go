// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// PowerPreference hints which adapter a backend should prefer.
type PowerPreference uint8

// Power preferences.
const (
	PowerPreferenceDefault PowerPreference = iota
	PowerPreferenceLowPower
	PowerPreferenceHighPerformance
)

// AdapterOptions are passed to a backend factory when requesting a device.
type AdapterOptions struct {
	// PowerPreference selects between integrated and discrete adapters.
	PowerPreference PowerPreference

	// Label is an optional debug label for the device.
	Label string
}

// DeviceFactory opens a device on a backend. It must return an error
// rather than a nil Device when no compute-capable adapter exists.
type DeviceFactory func(ctx context.Context, opts AdapterOptions) (Device, error)

// RegistryEntry represents a registered device backend.
type RegistryEntry struct {
	// Name is the unique identifier for this backend.
	Name string

	// Priority determines selection order (higher = preferred).
	// Standard priorities:
	//   - 100: GPU backends (Vulkan, Metal, D3D12)
	//   - 10: CPU reference backends
	Priority int

	// Factory opens devices.
	Factory DeviceFactory

	// Available reports if the backend is usable on this system.
	Available func() bool
}

// globalRegistry is the default registry.
var globalRegistry = &Registry{}

// Registry manages registered device backends.
//
// Backends register themselves from init:
//
//	func init() {
//	    gpucore.Register("vulkan", 100, openVulkan, vulkanAvailable)
//	}
//
// and callers request the best available device:
//
//	dev, err := gpucore.RequestDevice(ctx, gpucore.AdapterOptions{})
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*RegistryEntry
}

// NewRegistry creates a new empty registry.
// Most code should use the global registry via Register and RequestDevice.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*RegistryEntry),
	}
}

// Register adds a backend to the global registry.
// If available is nil, the backend is assumed always available.
// Registering a name that already exists replaces the previous entry.
func Register(name string, priority int, factory DeviceFactory, available func() bool) {
	globalRegistry.Register(name, priority, factory, available)
}

// Unregister removes a backend from the global registry.
func Unregister(name string) {
	globalRegistry.Unregister(name)
}

// List returns all registered backend names sorted by priority (highest first).
func List() []string {
	return globalRegistry.List()
}

// Available returns names of all available backends sorted by priority.
func Available() []string {
	return globalRegistry.Available()
}

// Get returns information about a specific backend.
func Get(name string) (*RegistryEntry, bool) {
	return globalRegistry.Get(name)
}

// RequestDevice opens a device on the best available backend.
func RequestDevice(ctx context.Context, opts AdapterOptions) (Device, error) {
	return globalRegistry.RequestDevice(ctx, opts)
}

// RequestDeviceByName opens a device on a specific backend.
func RequestDeviceByName(ctx context.Context, name string, opts AdapterOptions) (Device, error) {
	return globalRegistry.RequestDeviceByName(ctx, name, opts)
}

// Register adds a backend to this registry.
func (r *Registry) Register(name string, priority int, factory DeviceFactory, available func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries == nil {
		r.entries = make(map[string]*RegistryEntry)
	}

	if available == nil {
		available = func() bool { return true }
	}

	r.entries[name] = &RegistryEntry{
		Name:      name,
		Priority:  priority,
		Factory:   factory,
		Available: available,
	}
}

// Unregister removes a backend from this registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, name)
}

// List returns all registered backend names sorted by priority.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedNames(false)
}

// Available returns names of all available backends sorted by priority.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedNames(true)
}

// Get returns information about a specific backend.
func (r *Registry) Get(name string) (*RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[name]
	if !ok {
		return nil, false
	}

	// Return a copy to prevent modification
	entryCopy := *entry
	return &entryCopy, true
}

// RequestDevice opens a device on the best available backend, trying the
// next one when a factory fails.
func (r *Registry) RequestDevice(ctx context.Context, opts AdapterOptions) (Device, error) {
	r.mu.RLock()
	available := r.sortedNames(true)
	r.mu.RUnlock()

	if len(available) == 0 {
		return nil, ErrNoAdapter
	}

	var errs []error
	for _, name := range available {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dev, err := r.RequestDeviceByName(ctx, name, opts)
		if err == nil {
			return dev, nil
		}
		Logger().Debug("gpucore: backend failed, trying next", "backend", name, "err", err)
		errs = append(errs, err)
	}

	return nil, fmt.Errorf("%w: %w", ErrNoAdapter, errors.Join(errs...))
}

// RequestDeviceByName opens a device on a specific backend.
func (r *Registry) RequestDeviceByName(ctx context.Context, name string, opts AdapterOptions) (Device, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &BackendNotFoundError{Name: name}
	}

	if !entry.Available() {
		return nil, &BackendUnavailableError{Name: name}
	}

	dev, err := entry.Factory(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("gpucore: backend %s: %w", name, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("gpucore: backend %s: %w", name, ErrNoAdapter)
	}
	return dev, nil
}

// sortedNames returns backend names sorted by priority (highest first).
// If onlyAvailable is true, filters to available backends only.
// Must be called with lock held.
func (r *Registry) sortedNames(onlyAvailable bool) []string {
	if len(r.entries) == 0 {
		return nil
	}

	type entry struct {
		name     string
		priority int
	}

	entries := make([]entry, 0, len(r.entries))
	for name, e := range r.entries {
		if onlyAvailable && !e.Available() {
			continue
		}
		entries = append(entries, entry{name: name, priority: e.Priority})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].name < entries[j].name
	})

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Errors.
var (
	// ErrNoAdapter is returned when no backend could provide a
	// compute-capable adapter.
	ErrNoAdapter = errors.New("gpucore: no compute adapter available")
)

// BackendNotFoundError indicates a named backend is not registered.
type BackendNotFoundError struct {
	Name string
}

func (e *BackendNotFoundError) Error() string {
	return "gpucore: backend not found: " + e.Name
}

// BackendUnavailableError indicates a backend exists but is not available.
type BackendUnavailableError struct {
	Name string
}

func (e *BackendUnavailableError) Error() string {
	return "gpucore: backend unavailable: " + e.Name
}
