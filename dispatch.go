package kernelcall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/kernelcall/gpucore"
)

// scopeOrder is the order in which captured errors are reported.
var scopeOrder = [...]gpucore.ErrorFilter{
	gpucore.ErrorFilterValidation,
	gpucore.ErrorFilterInternal,
	gpucore.ErrorFilterOutOfMemory,
}

// Dispatch compiles k, binds the arguments as group 0 in binding order,
// and submits one command buffer that runs grid workgroups and copies
// every output into a staging buffer.
//
// Every device call is made inside validation, internal and out-of-memory
// error scopes. All three are popped and awaited even when one of them
// has already captured an error; a captured error fails the dispatch with
// a *KernelExecutionError for the first non-empty scope in the order
// validation, internal, out-of-memory. Waiting honours ctx.
//
// Grid values are workgroup counts. A zero grid is valid and runs no
// invocations.
func (c *Call) Dispatch(ctx context.Context, k Kernel, grid Grid) error {
	if err := c.expect("Dispatch", StateDeviceAcquired, StateArgumentsBound); err != nil {
		return err
	}
	d := c.dev
	start := time.Now()

	d.PushErrorScope(gpucore.ErrorFilterValidation)
	d.PushErrorScope(gpucore.ErrorFilterInternal)
	d.PushErrorScope(gpucore.ErrorFilterOutOfMemory)

	release := c.encode(k, grid)

	// Scopes form a stack: the last pushed is popped first. All three are
	// popped before waiting so the stack stays balanced if ctx ends.
	popped := map[gpucore.ErrorFilter]*gpucore.Future[*gpucore.DeviceError]{}
	popped[gpucore.ErrorFilterOutOfMemory] = d.PopErrorScope()
	popped[gpucore.ErrorFilterInternal] = d.PopErrorScope()
	popped[gpucore.ErrorFilterValidation] = d.PopErrorScope()

	release()

	captured, err := c.collect(ctx, popped)
	if err != nil {
		c.state = StateFailed
		return fmt.Errorf("kernelcall: waiting for error scopes: %w", err)
	}
	if len(captured) > 0 {
		c.state = StateFailed
		first := captured[0]
		c.log.Debug("kernelcall: dispatch failed", "entry", k.EntryPoint,
			"scope", first.Filter.String(), "message", first.Message)
		return &KernelExecutionError{
			Scope:      first.Filter,
			Message:    first.Message,
			EntryPoint: k.EntryPoint,
			Others:     captured[1:],
		}
	}

	c.state = StateDispatched
	c.log.Debug("kernelcall: dispatch complete", "entry", k.EntryPoint,
		"grid", []uint32{grid.X, grid.Y, grid.Z}, "outputs", len(c.pending),
		"elapsed", time.Since(start))
	return nil
}

// encode creates the pipeline objects, records and submits the command
// buffer, and returns a function releasing the transient objects.
func (c *Call) encode(k Kernel, grid Grid) (release func()) {
	d := c.dev

	bgl := d.CreateBindGroupLayout(&gpucore.BindGroupLayoutDescriptor{
		Label:   c.label("bind group layout"),
		Entries: c.Layout(),
	})
	layout := d.CreatePipelineLayout(&gpucore.PipelineLayoutDescriptor{
		Label:            c.label("pipeline layout"),
		BindGroupLayouts: []gpucore.BindGroupLayoutID{bgl},
	})

	entries := make([]gpucore.BindGroupEntry, len(c.args))
	for i, a := range c.args {
		entries[i] = gpucore.BindGroupEntry{Binding: a.Binding, Buffer: a.Buffer}
	}
	group := d.CreateBindGroup(&gpucore.BindGroupDescriptor{
		Label:   c.label("bind group"),
		Layout:  bgl,
		Entries: entries,
	})

	module := d.CreateShaderModule(&gpucore.ShaderModuleDescriptor{
		Label: c.label("shader %s", k.EntryPoint),
		Code:  k.Source,
	})
	pipeline := d.CreateComputePipeline(&gpucore.ComputePipelineDescriptor{
		Label:      c.label("pipeline %s", k.EntryPoint),
		Layout:     layout,
		Module:     module,
		EntryPoint: k.EntryPoint,
	})

	enc := d.CreateCommandEncoder(c.label("encoder"))
	pass := enc.BeginComputePass(c.label("pass %s", k.EntryPoint))
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, group)
	pass.DispatchWorkgroups(grid.X, grid.Y, grid.Z)
	pass.End()

	for _, a := range c.args {
		if !a.Output {
			continue
		}
		n := a.Host.ByteLen()
		staging := d.CreateBuffer(&gpucore.BufferDescriptor{
			Label: c.label("staging %d", a.Binding),
			Size:  deviceSize(n),
			Usage: gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst,
		})
		c.buffers = append(c.buffers, staging)
		enc.CopyBufferToBuffer(a.Buffer, 0, staging, 0, uint64(n))
		c.pending = append(c.pending, pendingReadback{
			binding: a.Binding,
			host:    a.Host,
			staging: staging,
			byteLen: n,
		})
	}

	d.Submit(enc.Finish())

	return func() {
		d.DestroyBindGroup(group)
		d.DestroyComputePipeline(pipeline)
		d.DestroyShaderModule(module)
		d.DestroyPipelineLayout(layout)
		d.DestroyBindGroupLayout(bgl)
	}
}

// collect waits for the argument allocation scopes and the popped dispatch
// scopes and returns the captured errors in report order. Allocation
// errors precede dispatch errors of the same filter.
func (c *Call) collect(ctx context.Context, popped map[gpucore.ErrorFilter]*gpucore.Future[*gpucore.DeviceError]) ([]*gpucore.DeviceError, error) {
	byFilter := map[gpucore.ErrorFilter][]*gpucore.DeviceError{}
	var waitErrs []error

	for _, f := range c.allocScopes {
		e, err := f.Wait(ctx)
		if err != nil {
			waitErrs = append(waitErrs, err)
			continue
		}
		if e != nil {
			byFilter[e.Filter] = append(byFilter[e.Filter], e)
		}
	}
	c.allocScopes = nil

	for _, filter := range scopeOrder {
		e, err := popped[filter].Wait(ctx)
		if err != nil {
			waitErrs = append(waitErrs, fmt.Errorf("%s scope: %w", filter, err))
			continue
		}
		if e != nil {
			byFilter[filter] = append(byFilter[filter], e)
		}
	}
	if len(waitErrs) > 0 {
		return nil, errors.Join(waitErrs...)
	}

	var out []*gpucore.DeviceError
	for _, filter := range scopeOrder {
		out = append(out, byFilter[filter]...)
	}
	return out, nil
}
