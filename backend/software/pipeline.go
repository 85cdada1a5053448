package software

import (
	"github.com/gogpu/kernelcall/gpucore"
	"github.com/gogpu/kernelcall/shader"
)

// maxBindGroups is the WebGPU default maxBindGroups limit.
const maxBindGroups = 4

type shaderModule struct {
	label  string
	module *shader.Module
}

type bindGroupLayout struct {
	label   string
	entries []gpucore.BindGroupLayoutEntry
}

func (l *bindGroupLayout) entry(binding uint32) (gpucore.BindGroupLayoutEntry, bool) {
	for _, e := range l.entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return gpucore.BindGroupLayoutEntry{}, false
}

// equivalent reports whether two layouts describe the same bindings, which
// WebGPU treats as interchangeable for bind group compatibility.
func (l *bindGroupLayout) equivalent(o *bindGroupLayout) bool {
	if l == o {
		return true
	}
	if len(l.entries) != len(o.entries) {
		return false
	}
	for _, e := range l.entries {
		oe, ok := o.entry(e.Binding)
		if !ok || oe != e {
			return false
		}
	}
	return true
}

type pipelineLayout struct {
	label  string
	groups []*bindGroupLayout
}

type computePipeline struct {
	label  string
	entry  shader.EntryPoint
	layout *pipelineLayout
	kernel KernelFunc
}

type boundBuffer struct {
	binding uint32
	buf     *buffer
	offset  uint64
	size    uint64
}

type bindGroup struct {
	label   string
	layout  *bindGroupLayout
	entries []boundBuffer
}

// CreateShaderModule implements gpucore.Device.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDescriptor) gpucore.ShaderModuleID {
	if d.lost() {
		return gpucore.ShaderModuleID(d.modules.InsertInvalid())
	}
	m, err := shader.Reflect(desc.Code)
	if err != nil {
		d.validationf("CreateShaderModule %q: %v", desc.Label, err)
		return gpucore.ShaderModuleID(d.modules.InsertInvalid())
	}
	return gpucore.ShaderModuleID(d.modules.Insert(&shaderModule{label: desc.Label, module: m}))
}

// DestroyShaderModule implements gpucore.Device.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.modules.Remove(uint64(id))
}

// CreateBindGroupLayout implements gpucore.Device.
func (d *Device) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDescriptor) gpucore.BindGroupLayoutID {
	if d.lost() {
		return gpucore.BindGroupLayoutID(d.bgls.InsertInvalid())
	}
	if msg := gpucore.ValidateBindGroupLayout(desc.Entries, d.opts.limits); msg != "" {
		d.validationf("CreateBindGroupLayout %q: %s", desc.Label, msg)
		return gpucore.BindGroupLayoutID(d.bgls.InsertInvalid())
	}

	entries := make([]gpucore.BindGroupLayoutEntry, len(desc.Entries))
	copy(entries, desc.Entries)
	return gpucore.BindGroupLayoutID(d.bgls.Insert(&bindGroupLayout{label: desc.Label, entries: entries}))
}

// DestroyBindGroupLayout implements gpucore.Device.
func (d *Device) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	d.bgls.Remove(uint64(id))
}

// CreatePipelineLayout implements gpucore.Device.
func (d *Device) CreatePipelineLayout(desc *gpucore.PipelineLayoutDescriptor) gpucore.PipelineLayoutID {
	if d.lost() {
		return gpucore.PipelineLayoutID(d.layouts.InsertInvalid())
	}
	if len(desc.BindGroupLayouts) > maxBindGroups {
		d.validationf("CreatePipelineLayout %q: %d bind group layouts exceed maxBindGroups %d",
			desc.Label, len(desc.BindGroupLayouts), maxBindGroups)
		return gpucore.PipelineLayoutID(d.layouts.InsertInvalid())
	}
	groups := make([]*bindGroupLayout, len(desc.BindGroupLayouts))
	for i, id := range desc.BindGroupLayouts {
		l, err := d.bgls.Get(uint64(id))
		if err != nil {
			d.validationf("CreatePipelineLayout %q: bind group layout %d: %v", desc.Label, i, err)
			return gpucore.PipelineLayoutID(d.layouts.InsertInvalid())
		}
		groups[i] = l
	}
	return gpucore.PipelineLayoutID(d.layouts.Insert(&pipelineLayout{label: desc.Label, groups: groups}))
}

// DestroyPipelineLayout implements gpucore.Device.
func (d *Device) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	d.layouts.Remove(uint64(id))
}

// CreateComputePipeline implements gpucore.Device.
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
	if n := entry.Invocations(); n > d.opts.limits.MaxComputeInvocationsPerWorkgroup {
		d.validationf("CreateComputePipeline %q: workgroup size %v (%d invocations) exceeds maxComputeInvocationsPerWorkgroup %d",
			desc.Label, entry.WorkgroupSize, n, d.opts.limits.MaxComputeInvocationsPerWorkgroup)
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

	kernel, ok := lookupKernel(mod.module.Fingerprint(), entry.Name)
	if !ok {
		d.scopes.Reportf(gpucore.ErrorFilterInternal,
			"CreateComputePipeline %q: no host implementation for entry point %q of module %q",
			desc.Label, entry.Name, mod.label)
		return invalid()
	}

	p := &computePipeline{label: desc.Label, entry: entry, layout: layout, kernel: kernel}
	return gpucore.ComputePipelineID(d.pipelines.Insert(p))
}

// DestroyComputePipeline implements gpucore.Device.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.pipelines.Remove(uint64(id))
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

	limits := d.opts.limits
	seen := make(map[uint32]bool, len(desc.Entries))
	bound := make([]boundBuffer, 0, len(desc.Entries))
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
		bound = append(bound, boundBuffer{binding: e.Binding, buf: buf, offset: e.Offset, size: size})
	}

	return gpucore.BindGroupID(d.groups.Insert(&bindGroup{label: desc.Label, layout: layout, entries: bound}))
}

// DestroyBindGroup implements gpucore.Device.
func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.groups.Remove(uint64(id))
}
