package halgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/kernelcall/gpucore"
	"github.com/gogpu/kernelcall/shader"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// maxBindGroups is the WebGPU default maxBindGroups limit.
const maxBindGroups = 4

type shaderModule struct {
	label  string
	module *shader.Module
	hal    hal.ShaderModule
}

type bindGroupLayout struct {
	label   string
	entries []gpucore.BindGroupLayoutEntry
	hal     hal.BindGroupLayout
}

func (l *bindGroupLayout) entry(binding uint32) (gpucore.BindGroupLayoutEntry, bool) {
	for _, e := range l.entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return gpucore.BindGroupLayoutEntry{}, false
}

func (l *bindGroupLayout) equivalent(o *bindGroupLayout) bool {
	if l == o {
		return true
	}
	if len(l.entries) != len(o.entries) {
		return false
	}
	for _, e := range l.entries {
		if oe, ok := o.entry(e.Binding); !ok || oe != e {
			return false
		}
	}
	return true
}

type pipelineLayout struct {
	label  string
	groups []*bindGroupLayout
	hal    hal.PipelineLayout
}

type computePipeline struct {
	label   string
	entry   shader.EntryPoint
	layout  *pipelineLayout
	hal     hal.ComputePipeline
	lastUse uint64
}

type bindGroup struct {
	label   string
	layout  *bindGroupLayout
	buffers []*buffer
	hal     hal.BindGroup
	lastUse uint64
}

// compileSPIRV compiles WGSL with naga and returns little-endian SPIR-V
// words.
func compileSPIRV(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, err
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V output of %d bytes is not word aligned", len(spirvBytes))
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// CreateShaderModule implements gpucore.Device. The source is reflected for
// layout checks and compiled to SPIR-V; failures of either are validation
// errors.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDescriptor) gpucore.ShaderModuleID {
	invalid := func() gpucore.ShaderModuleID {
		return gpucore.ShaderModuleID(d.modules.InsertInvalid())
	}
	if d.lost() {
		return invalid()
	}
	m, err := shader.Reflect(desc.Code)
	if err != nil {
		d.validationf("CreateShaderModule %q: %v", desc.Label, err)
		return invalid()
	}
	words, err := compileSPIRV(desc.Code)
	if err != nil {
		d.validationf("CreateShaderModule %q: compile: %v", desc.Label, err)
		return invalid()
	}
	hm, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		d.reportHAL(fmt.Sprintf("CreateShaderModule %q", desc.Label), err)
		return invalid()
	}
	return gpucore.ShaderModuleID(d.modules.Insert(&shaderModule{label: desc.Label, module: m, hal: hm}))
}

// DestroyShaderModule implements gpucore.Device.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	if m, ok := d.modules.Remove(uint64(id)); ok {
		d.device.DestroyShaderModule(m.hal)
	}
}

func halLayoutEntry(e gpucore.BindGroupLayoutEntry) gputypes.BindGroupLayoutEntry {
	t := gputypes.BufferBindingTypeStorage
	switch e.Type {
	case gpucore.BindingTypeUniformBuffer:
		t = gputypes.BufferBindingTypeUniform
	case gpucore.BindingTypeReadOnlyStorageBuffer:
		t = gputypes.BufferBindingTypeReadOnlyStorage
	}
	return gputypes.BindGroupLayoutEntry{
		Binding:    e.Binding,
		Visibility: gputypes.ShaderStageCompute,
		Buffer: &gputypes.BufferBindingLayout{
			Type:           t,
			MinBindingSize: e.MinBindingSize,
		},
	}
}

// CreateBindGroupLayout implements gpucore.Device.
func (d *Device) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDescriptor) gpucore.BindGroupLayoutID {
	invalid := func() gpucore.BindGroupLayoutID {
		return gpucore.BindGroupLayoutID(d.bgls.InsertInvalid())
	}
	if d.lost() {
		return invalid()
	}
	if msg := gpucore.ValidateBindGroupLayout(desc.Entries, d.Limits()); msg != "" {
		d.validationf("CreateBindGroupLayout %q: %s", desc.Label, msg)
		return invalid()
	}

	entries := make([]gpucore.BindGroupLayoutEntry, len(desc.Entries))
	copy(entries, desc.Entries)
	halEntries := make([]gputypes.BindGroupLayoutEntry, len(entries))
	for i, e := range entries {
		halEntries[i] = halLayoutEntry(e)
	}
	hl, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: halEntries,
	})
	if err != nil {
		d.reportHAL(fmt.Sprintf("CreateBindGroupLayout %q", desc.Label), err)
		return invalid()
	}
	return gpucore.BindGroupLayoutID(d.bgls.Insert(&bindGroupLayout{label: desc.Label, entries: entries, hal: hl}))
}

// DestroyBindGroupLayout implements gpucore.Device.
func (d *Device) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	if l, ok := d.bgls.Remove(uint64(id)); ok {
		d.device.DestroyBindGroupLayout(l.hal)
	}
}

// CreatePipelineLayout implements gpucore.Device.
func (d *Device) CreatePipelineLayout(desc *gpucore.PipelineLayoutDescriptor) gpucore.PipelineLayoutID {
	invalid := func() gpucore.PipelineLayoutID {
		return gpucore.PipelineLayoutID(d.layouts.InsertInvalid())
	}
	if d.lost() {
		return invalid()
	}
	if len(desc.BindGroupLayouts) > maxBindGroups {
		d.validationf("CreatePipelineLayout %q: %d bind group layouts exceed maxBindGroups %d",
			desc.Label, len(desc.BindGroupLayouts), maxBindGroups)
		return invalid()
	}
	groups := make([]*bindGroupLayout, len(desc.BindGroupLayouts))
	halGroups := make([]hal.BindGroupLayout, len(desc.BindGroupLayouts))
	for i, id := range desc.BindGroupLayouts {
		l, err := d.bgls.Get(uint64(id))
		if err != nil {
			d.validationf("CreatePipelineLayout %q: bind group layout %d: %v", desc.Label, i, err)
			return invalid()
		}
		groups[i] = l
		halGroups[i] = l.hal
	}
	hl, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: halGroups,
	})
	if err != nil {
		d.reportHAL(fmt.Sprintf("CreatePipelineLayout %q", desc.Label), err)
		return invalid()
	}
	return gpucore.PipelineLayoutID(d.layouts.Insert(&pipelineLayout{label: desc.Label, groups: groups, hal: hl}))
}

// DestroyPipelineLayout implements gpucore.Device.
func (d *Device) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	if l, ok := d.layouts.Remove(uint64(id)); ok {
		d.device.DestroyPipelineLayout(l.hal)
	}
}

// CreateComputePipeline implements gpucore.Device. The shader's bindings
// are checked against the layout here because hal does not.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDescriptor) gpucore.ComputePipelineID {
	invalid := func() gpucore.ComputePipelineID {
		return gpucore.ComputePipelineID(d.pipelines.InsertInvalid())
	}
	if d.lost() {
		return invalid()
	}

	layout, err := d.layouts.Get(uint64(desc.Layout))
	if err != nil {
		d.validationf("CreateComputePipeline %q: layout: %v", desc.Label, err)
		return invalid()
	}
	mod, err := d.modules.Get(uint64(desc.Module))
	if err != nil {
		d.validationf("CreateComputePipeline %q: shader module: %v", desc.Label, err)
		return invalid()
	}
	entry, ok := mod.module.EntryPoint(desc.EntryPoint)
	if !ok {
		d.validationf("CreateComputePipeline %q: compute entry point %q not found in module %q",
			desc.Label, desc.EntryPoint, mod.label)
		return invalid()
	}
	limits := d.Limits()
	if n := entry.Invocations(); n > limits.MaxComputeInvocationsPerWorkgroup {
		d.validationf("CreateComputePipeline %q: workgroup size %v (%d invocations) exceeds maxComputeInvocationsPerWorkgroup %d",
			desc.Label, entry.WorkgroupSize, n, limits.MaxComputeInvocationsPerWorkgroup)
		return invalid()
	}
	for _, g := range mod.module.Groups() {
		if int(g) >= len(layout.groups) {
			d.validationf("CreateComputePipeline %q: shader uses @group(%d) but the layout has %d groups",
				desc.Label, g, len(layout.groups))
			return invalid()
		}
		if err := mod.module.CheckLayout(g, layout.groups[g].entries); err != nil {
			d.validationf("CreateComputePipeline %q: %v", desc.Label, err)
			return invalid()
		}
	}

	hp, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: layout.hal,
		Compute: hal.ComputeState{
			Module:     mod.hal,
			EntryPoint: entry.Name,
		},
	})
	if err != nil {
		d.reportHAL(fmt.Sprintf("CreateComputePipeline %q", desc.Label), err)
		return invalid()
	}
	p := &computePipeline{label: desc.Label, entry: entry, layout: layout, hal: hp}
	return gpucore.ComputePipelineID(d.pipelines.Insert(p))
}

// DestroyComputePipeline implements gpucore.Device.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	p, ok := d.pipelines.Remove(uint64(id))
	if !ok {
		return
	}
	d.mu.Lock()
	lastUse := p.lastUse
	d.mu.Unlock()
	d.releaseAfter(lastUse, func() { d.device.DestroyComputePipeline(p.hal) })
}

// CreateBindGroup implements gpucore.Device.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDescriptor) gpucore.BindGroupID {
	invalid := func() gpucore.BindGroupID {
		return gpucore.BindGroupID(d.groups.InsertInvalid())
	}
	if d.lost() {
		return invalid()
	}

	layout, err := d.bgls.Get(uint64(desc.Layout))
	if err != nil {
		d.validationf("CreateBindGroup %q: layout: %v", desc.Label, err)
		return invalid()
	}
	if len(desc.Entries) != len(layout.entries) {
		d.validationf("CreateBindGroup %q: %d entries for a layout with %d bindings",
			desc.Label, len(desc.Entries), len(layout.entries))
		return invalid()
	}

	limits := d.Limits()
	seen := make(map[uint32]bool, len(desc.Entries))
	bufs := make([]*buffer, 0, len(desc.Entries))
	halEntries := make([]gputypes.BindGroupEntry, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		le, ok := layout.entry(e.Binding)
		if !ok || seen[e.Binding] {
			d.validationf("CreateBindGroup %q: binding %d does not match the layout", desc.Label, e.Binding)
			return invalid()
		}
		seen[e.Binding] = true

		buf, err := d.buffers.Get(uint64(e.Buffer))
		if err != nil {
			d.validationf("CreateBindGroup %q: binding %d: buffer %d: %v", desc.Label, e.Binding, e.Buffer, err)
			return invalid()
		}
		size, msg := gpucore.ValidateBufferBinding(le, e, buf.usage, buf.size, limits)
		if msg != "" {
			d.validationf("CreateBindGroup %q: binding %d: %s: %s", desc.Label, e.Binding, buf, msg)
			return invalid()
		}
		bufs = append(bufs, buf)
		halEntries = append(halEntries, gputypes.BindGroupEntry{
			Binding: e.Binding,
			Resource: gputypes.BufferBinding{
				Buffer: buf.hal.NativeHandle(),
				Offset: e.Offset,
				Size:   size,
			},
		})
	}

	hg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout.hal,
		Entries: halEntries,
	})
	if err != nil {
		d.reportHAL(fmt.Sprintf("CreateBindGroup %q", desc.Label), err)
		return invalid()
	}
	g := &bindGroup{label: desc.Label, layout: layout, buffers: bufs, hal: hg}
	return gpucore.BindGroupID(d.groups.Insert(g))
}

// DestroyBindGroup implements gpucore.Device.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	g, ok := d.groups.Remove(uint64(id))
	if !ok {
		return
	}
	d.mu.Lock()
	lastUse := g.lastUse
	d.mu.Unlock()
	d.releaseAfter(lastUse, func() { d.device.DestroyBindGroup(g.hal) })
}
