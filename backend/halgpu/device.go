// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package halgpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/kernelcall/gpucore"
	"github.com/gogpu/wgpu/hal"

	_ "github.com/gogpu/wgpu/hal/vulkan" // registers the Vulkan hal backend
)

// BackendName is the registry name of the hal backend.
const BackendName = "vulkan"

func init() {
	gpucore.Register(BackendName, 100, Open, func() bool {
		_, ok := hal.GetBackend(gputypes.BackendVulkan)
		return ok
	})
}

// Device implements gpucore.Device on top of a gogpu/wgpu hal device.
//
// hal performs little validation of its own and reports failures as plain
// Go errors. Device adds the WebGPU validation the core relies on and
// routes every failure through its error scope stack: allocation failures
// to the out-of-memory filter, rejected shaders and layouts to validation,
// and any other hal error to internal.
//
// Submissions signal a device-wide fence with increasing values. MapAsync
// waits for the latest value on a separate goroutine, then reads the
// buffer back with the queue.
//
// Device is safe for concurrent use.
type Device struct {
	opts   options
	scopes gpucore.ErrorScopeStack
	logger atomic.Pointer[slog.Logger]

	device   hal.Device
	queue    hal.Queue
	instance hal.Instance

	// external devices belong to a host application and are not destroyed.
	external bool

	// mu guards buffer map state and the submission timeline.
	mu        sync.Mutex
	fence     hal.Fence
	submitted uint64
	completed uint64
	deferred  []deferredRelease

	buffers   gpucore.Table[*buffer]
	modules   gpucore.Table[*shaderModule]
	bgls      gpucore.Table[*bindGroupLayout]
	layouts   gpucore.Table[*pipelineLayout]
	pipelines gpucore.Table[*computePipeline]
	groups    gpucore.Table[*bindGroup]
	commands  gpucore.Table[*commandBuffer]

	destroyed atomic.Bool
}

// deferredRelease frees hal objects once the fence reaches value.
type deferredRelease struct {
	value   uint64
	release func()
}

// NewDevice wraps an opened hal device and its queue. The Device takes
// ownership: Destroy releases the hal device.
func NewDevice(device hal.Device, queue hal.Queue, opts ...Option) (*Device, error) {
	if device == nil || queue == nil {
		return nil, errors.New("halgpu: nil hal device or queue")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	fence, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("halgpu: create fence: %w", err)
	}
	d := &Device{
		opts:   o,
		device: device,
		queue:  queue,
		fence:  fence,
	}
	d.scopes.OnUncaptured = func(e *gpucore.DeviceError) {
		d.log().Warn("halgpu: uncaptured device error", "filter", e.Filter.String(), "message", e.Message)
	}
	return d, nil
}

// NewFromProvider shares the hal device of a host application, typically a
// gogpu window. The provider must expose HalDevice and HalQueue returning
// hal.Device and hal.Queue. Destroy releases the resources created through
// the Device but leaves the shared device alive.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, errors.New("halgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, errors.New("halgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, errors.New("halgpu: provider HalQueue is not hal.Queue")
	}
	d, err := NewDevice(device, queue, opts...)
	if err != nil {
		return nil, err
	}
	d.external = true
	return d, nil
}

// Open creates a standalone Vulkan device. It is the registry factory for
// BackendName.
func Open(ctx context.Context, ao gpucore.AdapterOptions) (gpucore.Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", gpucore.ErrNoAdapter)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("halgpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	selected := selectAdapter(adapters, ao.PowerPreference)
	if selected == nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no Vulkan adapters found", gpucore.ErrNoAdapter)
	}
	if err := ctx.Err(); err != nil {
		instance.Destroy()
		return nil, err
	}

	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("halgpu: open device on %q: %w", selected.Info.Name, err)
	}

	d, err := NewDevice(openDev.Device, openDev.Queue,
		WithLimits(limits),
		WithAdapterInfo(selected.Info.Name, deviceType(selected.Info.DeviceType)))
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	d.log().Info("halgpu: device opened", "adapter", selected.Info.Name,
		"type", d.opts.deviceType.String(), "label", ao.Label)
	return d, nil
}

// selectAdapter picks the adapter to open, nil when there is none.
func selectAdapter(adapters []hal.ExposedAdapter, pref gpucore.PowerPreference) *hal.ExposedAdapter {
	types := make([]gputypes.DeviceType, len(adapters))
	for i := range adapters {
		types[i] = adapters[i].Info.DeviceType
	}
	i := pickAdapter(types, pref)
	if i < 0 {
		return nil
	}
	return &adapters[i]
}

// pickAdapter prefers a discrete GPU, then an integrated one, falling back
// to the first adapter. LowPower swaps the first two. It returns -1 for an
// empty list.
func pickAdapter(types []gputypes.DeviceType, pref gpucore.PowerPreference) int {
	if len(types) == 0 {
		return -1
	}
	order := []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU}
	if pref == gpucore.PowerPreferenceLowPower {
		order[0], order[1] = order[1], order[0]
	}
	for _, want := range order {
		for i, t := range types {
			if t == want {
				return i
			}
		}
	}
	return 0
}

func deviceType(t gputypes.DeviceType) gpucore.DeviceType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucore.DeviceTypeDiscreteGPU
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucore.DeviceTypeIntegratedGPU
	default:
		return gpucore.DeviceTypeOther
	}
}

// SetLogger sets the logger for this device. Pass nil to fall back to the
// shared gpucore logger.
func (d *Device) SetLogger(l *slog.Logger) {
	d.logger.Store(l)
}

func (d *Device) log() *slog.Logger {
	if l := d.logger.Load(); l != nil {
		return l
	}
	return gpucore.Logger()
}

// Info implements gpucore.Device.
func (d *Device) Info() gpucore.AdapterInfo {
	return gpucore.AdapterInfo{
		Name:       d.opts.name,
		Backend:    BackendName,
		DeviceType: d.opts.deviceType,
	}
}

// Limits implements gpucore.Device.
func (d *Device) Limits() gpucore.Limits {
	l := d.opts.limits
	return gpucore.Limits{
		MaxBufferSize:                     l.MaxBufferSize,
		MaxStorageBufferBindingSize:       l.MaxStorageBufferBindingSize,
		MaxComputeWorkgroupsPerDimension:  l.MaxComputeWorkgroupsPerDimension,
		MaxStorageBuffersPerShaderStage:   l.MaxStorageBuffersPerShaderStage,
		MaxBindingsPerBindGroup:           l.MaxBindingsPerBindGroup,
		MaxComputeInvocationsPerWorkgroup: l.MaxComputeInvocationsPerWorkgroup,
	}
}

// PushErrorScope implements gpucore.Device.
func (d *Device) PushErrorScope(filter gpucore.ErrorFilter) {
	d.scopes.Push(filter)
}

// PopErrorScope implements gpucore.Device. hal reports failures
// synchronously from the call that caused them, so the future is already
// resolved.
func (d *Device) PopErrorScope() *gpucore.Future[*gpucore.DeviceError] {
	e, err := d.scopes.Pop()
	if err != nil {
		return gpucore.Failed[*gpucore.DeviceError](err)
	}
	return gpucore.Resolved(e)
}

func (d *Device) lost() bool { return d.destroyed.Load() }

func (d *Device) validationf(format string, args ...any) {
	d.scopes.Reportf(gpucore.ErrorFilterValidation, format, args...)
}

// reportHAL reports a failed hal call under the filter its error maps to.
func (d *Device) reportHAL(op string, err error) {
	d.scopes.Reportf(classify(err), "%s: %v", op, err)
}

// classify maps a hal error onto a WebGPU error filter. hal backends do not
// export typed errors, so allocation failures are recognised by message.
func classify(err error) gpucore.ErrorFilter {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"out of memory", "out_of_device_memory", "out_of_host_memory", "outofmemory"} {
		if strings.Contains(msg, s) {
			return gpucore.ErrorFilterOutOfMemory
		}
	}
	return gpucore.ErrorFilterInternal
}

// Destroy implements gpucore.Device. It waits for submitted work, releases
// every resource still tracked and, unless the device is shared, the hal
// device itself. It is idempotent.
func (d *Device) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	if err := d.waitIdle(); err != nil {
		d.log().Warn("halgpu: waiting for idle on destroy", "error", err)
	}
	d.flushDeferred()

	d.commands.Drain()
	for _, g := range d.groups.Drain() {
		d.device.DestroyBindGroup(g.hal)
	}
	for _, p := range d.pipelines.Drain() {
		d.device.DestroyComputePipeline(p.hal)
	}
	for _, l := range d.layouts.Drain() {
		d.device.DestroyPipelineLayout(l.hal)
	}
	for _, l := range d.bgls.Drain() {
		d.device.DestroyBindGroupLayout(l.hal)
	}
	for _, m := range d.modules.Drain() {
		d.device.DestroyShaderModule(m.hal)
	}
	d.mu.Lock()
	for _, b := range d.buffers.Drain() {
		d.device.DestroyBuffer(b.hal)
		b.release()
	}
	d.device.DestroyFence(d.fence)
	d.mu.Unlock()

	if !d.external {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.log().Debug("halgpu: device destroyed", "external", d.external)
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *Device) LiveBuffers() int { return d.buffers.Len() }

var _ gpucore.Device = (*Device)(nil)
