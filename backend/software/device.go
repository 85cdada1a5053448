// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/kernelcall/gpucore"
	"github.com/gogpu/kernelcall/internal/parallel"
)

// BackendName is the registry name of the software backend.
const BackendName = "software"

func init() {
	gpucore.Register(BackendName, 10, func(context.Context, gpucore.AdapterOptions) (gpucore.Device, error) {
		return New(), nil
	}, nil)
}

// Device is a CPU implementation of gpucore.Device.
//
// It applies WebGPU validation to every call and reports failures through
// error scopes exactly like a GPU device would. Dispatches execute the host
// kernel registered for the pipeline's (source, entry point) pair; the
// workgroups of one dispatch run in parallel on a worker pool. Submission
// is synchronous, so MapAsync resolves as soon as it is validated.
//
// Device is safe for concurrent use.
type Device struct {
	opts   options
	scopes gpucore.ErrorScopeStack
	pool   *parallel.WorkerPool
	logger atomic.Pointer[slog.Logger]

	// mu guards buffer map state and the memory budget.
	mu        sync.Mutex
	allocated uint64

	buffers   gpucore.Table[*buffer]
	modules   gpucore.Table[*shaderModule]
	bgls      gpucore.Table[*bindGroupLayout]
	layouts   gpucore.Table[*pipelineLayout]
	pipelines gpucore.Table[*computePipeline]
	groups    gpucore.Table[*bindGroup]
	commands  gpucore.Table[*commandBuffer]

	destroyed atomic.Bool
}

// New creates a software device.
func New(opts ...Option) *Device {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d := &Device{
		opts: o,
		pool: parallel.NewWorkerPool(o.workers),
	}
	d.scopes.OnUncaptured = func(e *gpucore.DeviceError) {
		d.log().Warn("software: uncaptured device error", "filter", e.Filter.String(), "message", e.Message)
	}
	d.log().Debug("software: device created", "workers", d.pool.Workers(), "budget", o.budget)
	return d
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
		DeviceType: gpucore.DeviceTypeCPU,
	}
}

// Limits implements gpucore.Device.
func (d *Device) Limits() gpucore.Limits { return d.opts.limits }

// PushErrorScope implements gpucore.Device.
func (d *Device) PushErrorScope(filter gpucore.ErrorFilter) {
	d.scopes.Push(filter)
}

// PopErrorScope implements gpucore.Device. All validation happens
// synchronously on the calling goroutine, so the future is already resolved.
func (d *Device) PopErrorScope() *gpucore.Future[*gpucore.DeviceError] {
	e, err := d.scopes.Pop()
	if err != nil {
		return gpucore.Failed[*gpucore.DeviceError](err)
	}
	return gpucore.Resolved(e)
}

// lost reports whether the device has been destroyed. Calls on a lost
// device produce error objects without reporting, as WebGPU does.
func (d *Device) lost() bool { return d.destroyed.Load() }

func (d *Device) validationf(format string, args ...any) {
	d.scopes.Reportf(gpucore.ErrorFilterValidation, format, args...)
}

// Destroy implements gpucore.Device. It is idempotent.
func (d *Device) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	d.commands.Drain()
	d.groups.Drain()
	d.pipelines.Drain()
	d.layouts.Drain()
	d.bgls.Drain()
	d.modules.Drain()

	d.mu.Lock()
	for _, b := range d.buffers.Drain() {
		b.release()
	}
	d.allocated = 0
	d.mu.Unlock()

	d.pool.Close()
	d.log().Debug("software: device destroyed")
}

// liveResources returns the number of tracked objects, error objects
// included. Used by tests to check that callers release everything.
func (d *Device) liveResources() int {
	return d.buffers.Len() + d.modules.Len() + d.bgls.Len() + d.layouts.Len() +
		d.pipelines.Len() + d.groups.Len() + d.commands.Len()
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *Device) LiveBuffers() int { return d.buffers.Len() }

var _ gpucore.Device = (*Device)(nil)
