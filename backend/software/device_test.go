// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/gogpu/kernelcall/gpucore"
)

const doubleSource = `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;

@compute @workgroup_size(4)
fn double(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x < arrayLength(&dst)) {
        dst[gid.x] = src[gid.x] * 2.0;
    }
}
`

func init() {
	RegisterKernel(doubleSource, "double", func(wg Workgroup, b *Bindings) {
		src, dst := b.Float32(0), b.Float32(1)
		wg.ForEachInvocation(func(_, g [3]uint32) {
			if int(g[0]) < len(dst) {
				dst[g[0]] = src[g[0]] * 2
			}
		})
	})
}

// newTestDevice returns a device that is destroyed at test cleanup.
func newTestDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	d := New(append([]Option{WithWorkers(2)}, opts...)...)
	t.Cleanup(d.Destroy)
	return d
}

// scoped runs fn inside a validation, internal and out-of-memory scope and
// returns the captured errors in that order.
func scoped(t *testing.T, d *Device, fn func()) (validation, internal, oom *gpucore.DeviceError) {
	t.Helper()
	d.PushErrorScope(gpucore.ErrorFilterValidation)
	d.PushErrorScope(gpucore.ErrorFilterInternal)
	d.PushErrorScope(gpucore.ErrorFilterOutOfMemory)
	fn()
	ctx := context.Background()
	var err error
	if oom, err = d.PopErrorScope().Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if internal, err = d.PopErrorScope().Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if validation, err = d.PopErrorScope().Wait(ctx); err != nil {
		t.Fatal(err)
	}
	return validation, internal, oom
}

func f32Bytes(v ...float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

func bytesF32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out
}

func uploadBuffer(t *testing.T, d *Device, label string, usage gpucore.BufferUsage, data []byte) gpucore.BufferID {
	t.Helper()
	id := d.CreateBuffer(&gpucore.BufferDescriptor{
		Label: label, Size: uint64(len(data)), Usage: usage, MappedAtCreation: true,
	})
	raw, err := d.MappedRange(id)
	if err != nil {
		t.Fatalf("MappedRange(%s) error = %v", label, err)
	}
	copy(raw, data)
	d.Unmap(id)
	return id
}

// doublePipeline builds the layout, pipeline and bind group for doubleSource.
func doublePipeline(t *testing.T, d *Device, src, dst gpucore.BufferID) (gpucore.ComputePipelineID, gpucore.BindGroupID) {
	t.Helper()
	bgl := d.CreateBindGroupLayout(&gpucore.BindGroupLayoutDescriptor{Entries: []gpucore.BindGroupLayoutEntry{
		{Binding: 0, Visibility: gpucore.ShaderStageCompute, Type: gpucore.BindingTypeReadOnlyStorageBuffer},
		{Binding: 1, Visibility: gpucore.ShaderStageCompute, Type: gpucore.BindingTypeStorageBuffer},
	}})
	pl := d.CreatePipelineLayout(&gpucore.PipelineLayoutDescriptor{BindGroupLayouts: []gpucore.BindGroupLayoutID{bgl}})
	mod := d.CreateShaderModule(&gpucore.ShaderModuleDescriptor{Label: "double", Code: doubleSource})
	pipe := d.CreateComputePipeline(&gpucore.ComputePipelineDescriptor{Layout: pl, Module: mod, EntryPoint: "double"})
	bg := d.CreateBindGroup(&gpucore.BindGroupDescriptor{Layout: bgl, Entries: []gpucore.BindGroupEntry{
		{Binding: 0, Buffer: src},
		{Binding: 1, Buffer: dst},
	}})
	return pipe, bg
}

func TestDevice_Info(t *testing.T) {
	d := newTestDevice(t, WithName("unit"))
	info := d.Info()
	if info.Backend != BackendName || info.Name != "unit" || info.DeviceType != gpucore.DeviceTypeCPU {
		t.Errorf("Info() = %+v", info)
	}
}

func TestDevice_RegisteredBackend(t *testing.T) {
	entry, ok := gpucore.Get(BackendName)
	if !ok {
		t.Fatal("software backend is not registered")
	}
	if entry.Priority != 10 || !entry.Available() {
		t.Errorf("entry = %+v, want priority 10 and available", entry)
	}
}

func TestDevice_DispatchAndReadback(t *testing.T) {
	d := newTestDevice(t)
	input := []float32{1, 2, 3, 4, 5, 6}

	var got []float32
	v, internal, oom := scoped(t, d, func() {
		src := uploadBuffer(t, d, "src", gpucore.BufferUsageStorage, f32Bytes(input...))
		dst := uploadBuffer(t, d, "dst", gpucore.BufferUsageStorage|gpucore.BufferUsageCopySrc, make([]byte, 4*len(input)))
		staging := d.CreateBuffer(&gpucore.BufferDescriptor{
			Label: "staging", Size: uint64(4 * len(input)),
			Usage: gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst,
		})
		pipe, bg := doublePipeline(t, d, src, dst)

		enc := d.CreateCommandEncoder("double")
		pass := enc.BeginComputePass("double")
		pass.SetPipeline(pipe)
		pass.SetBindGroup(0, bg)
		pass.DispatchWorkgroups(gpucore.Workgroups(uint32(len(input)), 4), 1, 1)
		pass.End()
		enc.CopyBufferToBuffer(dst, 0, staging, 0, uint64(4*len(input)))
		d.Submit(enc.Finish())

		if _, err := d.MapAsync(staging, gpucore.MapModeRead).Wait(context.Background()); err != nil {
			t.Fatalf("MapAsync() error = %v", err)
		}
		raw, err := d.MappedRange(staging)
		if err != nil {
			t.Fatal(err)
		}
		got = bytesF32(raw)
		d.Unmap(staging)
	})
	if v != nil || internal != nil || oom != nil {
		t.Fatalf("scopes = (%v, %v, %v), want all nil", v, internal, oom)
	}

	for i, x := range input {
		if got[i] != 2*x {
			t.Errorf("out[%d] = %v, want %v", i, got[i], 2*x)
		}
	}
}

func TestDevice_BufferValidation(t *testing.T) {
	tests := []struct {
		name string
		desc gpucore.BufferDescriptor
		want string
	}{
		{"empty usage", gpucore.BufferDescriptor{Size: 4}, "usage must not be empty"},
		{"unaligned mapped", gpucore.BufferDescriptor{Size: 6, Usage: gpucore.BufferUsageStorage, MappedAtCreation: true}, "multiple of 4"},
		{"map read with storage", gpucore.BufferDescriptor{Size: 4, Usage: gpucore.BufferUsageMapRead | gpucore.BufferUsageStorage}, "MapRead"},
		{"too large", gpucore.BufferDescriptor{Size: 1 << 40, Usage: gpucore.BufferUsageStorage}, "maxBufferSize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDevice(t)
			var id gpucore.BufferID
			v, _, _ := scoped(t, d, func() { id = d.CreateBuffer(&tt.desc) })
			if v == nil || !strings.Contains(v.Message, tt.want) {
				t.Fatalf("validation error = %v, want it to mention %q", v, tt.want)
			}
			if id == gpucore.InvalidID {
				t.Error("failed creation returned InvalidID, want an error object ID")
			}
			if _, err := d.MappedRange(id); !errors.Is(err, gpucore.ErrInvalidResource) {
				t.Errorf("MappedRange(error object) error = %v, want ErrInvalidResource", err)
			}
		})
	}
}

func TestDevice_MemoryBudget(t *testing.T) {
	d := newTestDevice(t, WithMemoryBudget(64))

	v, _, oom := scoped(t, d, func() {
		a := d.CreateBuffer(&gpucore.BufferDescriptor{Size: 48, Usage: gpucore.BufferUsageStorage})
		d.CreateBuffer(&gpucore.BufferDescriptor{Size: 32, Usage: gpucore.BufferUsageStorage})
		d.DestroyBuffer(a)
		d.CreateBuffer(&gpucore.BufferDescriptor{Size: 32, Usage: gpucore.BufferUsageStorage})
	})
	if v != nil {
		t.Errorf("validation = %v, want nil", v)
	}
	if oom == nil {
		t.Fatal("out-of-memory scope is empty, want budget error")
	}
	if !strings.Contains(oom.Message, "64 bytes") {
		t.Errorf("oom message = %q", oom.Message)
	}
	if d.LiveBuffers() != 2 {
		t.Errorf("LiveBuffers() = %d, want 2 (one live, one error object)", d.LiveBuffers())
	}
}

func TestDevice_MapAsyncValidation(t *testing.T) {
	d := newTestDevice(t)

	var storage, staging gpucore.BufferID
	v, _, _ := scoped(t, d, func() {
		storage = d.CreateBuffer(&gpucore.BufferDescriptor{Size: 16, Usage: gpucore.BufferUsageStorage})
		_, err := d.MapAsync(storage, gpucore.MapModeRead).Wait(context.Background())
		if !errors.Is(err, gpucore.ErrMapFailed) {
			t.Errorf("MapAsync(storage) error = %v, want ErrMapFailed", err)
		}
	})
	if v == nil || !strings.Contains(v.Message, "lacks MapRead") {
		t.Errorf("validation = %v, want MapRead usage error", v)
	}

	scoped(t, d, func() {
		staging = d.CreateBuffer(&gpucore.BufferDescriptor{Size: 16, Usage: gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst})
		if _, err := d.MapAsync(staging, gpucore.MapModeRead).Wait(context.Background()); err != nil {
			t.Fatalf("first MapAsync error = %v", err)
		}
		if _, err := d.MapAsync(staging, gpucore.MapModeRead).Wait(context.Background()); !errors.Is(err, gpucore.ErrMapFailed) {
			t.Errorf("second MapAsync error = %v, want ErrMapFailed", err)
		}
	})
}

func TestDevice_PipelineErrors(t *testing.T) {
	d := newTestDevice(t)
	ro := gpucore.BindingTypeReadOnlyStorageBuffer

	layoutFor := func(types ...gpucore.BindingType) gpucore.PipelineLayoutID {
		entries := make([]gpucore.BindGroupLayoutEntry, len(types))
		for i, typ := range types {
			entries[i] = gpucore.BindGroupLayoutEntry{Binding: uint32(i), Visibility: gpucore.ShaderStageCompute, Type: typ}
		}
		bgl := d.CreateBindGroupLayout(&gpucore.BindGroupLayoutDescriptor{Entries: entries})
		return d.CreatePipelineLayout(&gpucore.PipelineLayoutDescriptor{BindGroupLayouts: []gpucore.BindGroupLayoutID{bgl}})
	}

	unregistered := strings.Replace(doubleSource, "* 2.0", "* 3.0", 1)

	tests := []struct {
		name         string
		source       string
		entry        string
		layout       []gpucore.BindingType
		wantFilter   gpucore.ErrorFilter
		wantContains string
	}{
		{"bad wgsl", "@compute fn broken() {}", "broken", []gpucore.BindingType{ro, gpucore.BindingTypeStorageBuffer}, gpucore.ErrorFilterValidation, "workgroup_size"},
		{"syntax error", "this is not wgsl at all ;;; {{{", "main", []gpucore.BindingType{ro, gpucore.BindingTypeStorageBuffer}, gpucore.ErrorFilterValidation, "parse error"},
		{"missing entry", doubleSource, "triple", []gpucore.BindingType{ro, gpucore.BindingTypeStorageBuffer}, gpucore.ErrorFilterValidation, `"triple" not found`},
		{"layout too short", doubleSource, "double", []gpucore.BindingType{ro}, gpucore.ErrorFilterValidation, "not in the layout"},
		{"read_write bound read-only", doubleSource, "double", []gpucore.BindingType{ro, ro}, gpucore.ErrorFilterValidation, "needs storage"},
		{"no host kernel", unregistered, "double", []gpucore.BindingType{ro, gpucore.BindingTypeStorageBuffer}, gpucore.ErrorFilterInternal, "no host implementation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, internal, _ := scoped(t, d, func() {
				mod := d.CreateShaderModule(&gpucore.ShaderModuleDescriptor{Code: tt.source})
				d.CreateComputePipeline(&gpucore.ComputePipelineDescriptor{
					Layout: layoutFor(tt.layout...), Module: mod, EntryPoint: tt.entry,
				})
			})
			got := v
			if tt.wantFilter == gpucore.ErrorFilterInternal {
				got = internal
				if v != nil {
					t.Errorf("validation = %v, want nil", v)
				}
			}
			if got == nil || !strings.Contains(got.Message, tt.wantContains) {
				t.Errorf("%v scope = %v, want message containing %q", tt.wantFilter, got, tt.wantContains)
			}
		})
	}
}

func TestDevice_DispatchLimits(t *testing.T) {
	d := newTestDevice(t)

	v, _, _ := scoped(t, d, func() {
		src := uploadBuffer(t, d, "src", gpucore.BufferUsageStorage, f32Bytes(1))
		dst := uploadBuffer(t, d, "dst", gpucore.BufferUsageStorage, f32Bytes(0))
		pipe, bg := doublePipeline(t, d, src, dst)

		enc := d.CreateCommandEncoder("")
		pass := enc.BeginComputePass("")
		pass.SetPipeline(pipe)
		pass.SetBindGroup(0, bg)
		pass.DispatchWorkgroups(d.Limits().MaxComputeWorkgroupsPerDimension+1, 1, 1)
		pass.End()
		d.Submit(enc.Finish())
	})
	if v == nil || !strings.Contains(v.Message, "maxComputeWorkgroupsPerDimension") {
		t.Errorf("validation = %v, want workgroup limit error", v)
	}
}

func TestDevice_ZeroGridLeavesOutputs(t *testing.T) {
	d := newTestDevice(t)

	var out []float32
	v, _, _ := scoped(t, d, func() {
		src := uploadBuffer(t, d, "src", gpucore.BufferUsageStorage, f32Bytes(1, 2))
		dst := uploadBuffer(t, d, "dst", gpucore.BufferUsageStorage|gpucore.BufferUsageCopySrc, f32Bytes(7, 8))
		staging := d.CreateBuffer(&gpucore.BufferDescriptor{Size: 8, Usage: gpucore.BufferUsageMapRead | gpucore.BufferUsageCopyDst})
		pipe, bg := doublePipeline(t, d, src, dst)

		enc := d.CreateCommandEncoder("")
		pass := enc.BeginComputePass("")
		pass.SetPipeline(pipe)
		pass.SetBindGroup(0, bg)
		pass.DispatchWorkgroups(0, 1, 1)
		pass.End()
		enc.CopyBufferToBuffer(dst, 0, staging, 0, 8)
		d.Submit(enc.Finish())

		if _, err := d.MapAsync(staging, gpucore.MapModeRead).Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
		raw, _ := d.MappedRange(staging)
		out = bytesF32(raw)
	})
	if v != nil {
		t.Fatalf("validation = %v", v)
	}
	if out[0] != 7 || out[1] != 8 {
		t.Errorf("out = %v, want initial contents [7 8]", out)
	}
}

func TestDevice_KernelPanicIsInternal(t *testing.T) {
	const src = `
@group(0) @binding(0) var<storage, read_write> data: array<u32>;
@compute @workgroup_size(1) fn boom() {}
`
	RegisterKernel(src, "boom", func(_ Workgroup, b *Bindings) { _ = b.Uint32(9) })
	t.Cleanup(func() { UnregisterKernel(src, "boom") })

	d := newTestDevice(t)
	v, internal, _ := scoped(t, d, func() {
		buf := uploadBuffer(t, d, "data", gpucore.BufferUsageStorage, make([]byte, 4))
		bgl := d.CreateBindGroupLayout(&gpucore.BindGroupLayoutDescriptor{Entries: []gpucore.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gpucore.ShaderStageCompute, Type: gpucore.BindingTypeStorageBuffer},
		}})
		pl := d.CreatePipelineLayout(&gpucore.PipelineLayoutDescriptor{BindGroupLayouts: []gpucore.BindGroupLayoutID{bgl}})
		mod := d.CreateShaderModule(&gpucore.ShaderModuleDescriptor{Code: src})
		pipe := d.CreateComputePipeline(&gpucore.ComputePipelineDescriptor{Layout: pl, Module: mod, EntryPoint: "boom"})
		bg := d.CreateBindGroup(&gpucore.BindGroupDescriptor{Layout: bgl, Entries: []gpucore.BindGroupEntry{{Binding: 0, Buffer: buf}}})

		enc := d.CreateCommandEncoder("")
		pass := enc.BeginComputePass("")
		pass.SetPipeline(pipe)
		pass.SetBindGroup(0, bg)
		pass.DispatchWorkgroups(3, 1, 1)
		pass.End()
		d.Submit(enc.Finish())
	})
	if v != nil {
		t.Errorf("validation = %v, want nil", v)
	}
	if internal == nil || !strings.Contains(internal.Message, "panicked") {
		t.Errorf("internal = %v, want kernel panic", internal)
	}
}

func TestDevice_SubmitMappedBuffer(t *testing.T) {
	d := newTestDevice(t)
	v, _, _ := scoped(t, d, func() {
		src := d.CreateBuffer(&gpucore.BufferDescriptor{Size: 4, Usage: gpucore.BufferUsageCopySrc, MappedAtCreation: true})
		dst := d.CreateBuffer(&gpucore.BufferDescriptor{Size: 4, Usage: gpucore.BufferUsageCopyDst | gpucore.BufferUsageMapRead})
		enc := d.CreateCommandEncoder("copy")
		enc.CopyBufferToBuffer(src, 0, dst, 0, 4)
		d.Submit(enc.Finish())
	})
	if v == nil || !strings.Contains(v.Message, "is mapped") {
		t.Errorf("validation = %v, want mapped-buffer submit error", v)
	}
}

func TestDevice_Destroy(t *testing.T) {
	d := New(WithWorkers(1))
	d.CreateBuffer(&gpucore.BufferDescriptor{Size: 4, Usage: gpucore.BufferUsageStorage})
	d.Destroy()
	d.Destroy()

	if n := d.liveResources(); n != 0 {
		t.Errorf("liveResources() = %d after Destroy", n)
	}

	// Calls on a destroyed device yield error objects without reporting.
	v, _, _ := scoped(t, d, func() {
		d.CreateBuffer(&gpucore.BufferDescriptor{Size: 4})
	})
	if v != nil {
		t.Errorf("validation = %v on lost device, want nil", v)
	}
}

func TestWorkgroup_ForEachInvocation(t *testing.T) {
	wg := Workgroup{ID: [3]uint32{1, 2, 0}, Size: [3]uint32{2, 2, 1}, Count: [3]uint32{4, 4, 1}}
	var globals [][3]uint32
	wg.ForEachInvocation(func(local, global [3]uint32) {
		globals = append(globals, global)
	})
	want := [][3]uint32{{2, 4, 0}, {3, 4, 0}, {2, 5, 0}, {3, 5, 0}}
	if len(globals) != len(want) {
		t.Fatalf("invocations = %d, want %d", len(globals), len(want))
	}
	for i := range want {
		if globals[i] != want[i] {
			t.Errorf("global[%d] = %v, want %v", i, globals[i], want[i])
		}
	}
}
