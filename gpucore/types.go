package gpucore

import (
	"fmt"
	"strings"
)

// Resource IDs
//
// These opaque IDs represent device resources. Each device implementation
// maintains a mapping between IDs and actual backend resources.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a device buffer.
type BufferID uint64

// ShaderModuleID is an opaque handle to a compiled shader module.
type ShaderModuleID uint64

// ComputePipelineID is an opaque handle to a compute pipeline.
type ComputePipelineID uint64

// BindGroupLayoutID is an opaque handle to a bind group layout.
type BindGroupLayoutID uint64

// BindGroupID is an opaque handle to a bind group.
type BindGroupID uint64

// PipelineLayoutID is an opaque handle to a pipeline layout.
type PipelineLayoutID uint64

// CommandBufferID is an opaque handle to a finished command buffer.
type CommandBufferID uint64

// InvalidID is the zero value, representing a null resource.
//
// A failed creation does not return InvalidID: it returns a fresh ID that
// refers to an error object, so later use of it is reported as a
// validation error the way WebGPU does.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead indicates the buffer can be mapped for reading.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageMapWrite indicates the buffer can be mapped for writing.
	BufferUsageMapWrite BufferUsage = 1 << 1

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 6

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 7
)

// Has reports whether all bits of f are set in u.
func (u BufferUsage) Has(f BufferUsage) bool { return u&f == f }

// String returns the usage flags joined with '|'.
func (u BufferUsage) String() string {
	if u == 0 {
		return "none"
	}
	names := []struct {
		flag BufferUsage
		name string
	}{
		{BufferUsageMapRead, "MapRead"},
		{BufferUsageMapWrite, "MapWrite"},
		{BufferUsageCopySrc, "CopySrc"},
		{BufferUsageCopyDst, "CopyDst"},
		{BufferUsageUniform, "Uniform"},
		{BufferUsageStorage, "Storage"},
	}
	var parts []string
	for _, n := range names {
		if u.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("BufferUsage(%#x)", uint32(u))
	}
	return strings.Join(parts, "|")
}

// MapMode selects the host access requested by MapAsync.
type MapMode uint32

// Map modes.
const (
	MapModeRead  MapMode = 1 << 0
	MapModeWrite MapMode = 1 << 1
)

// ShaderStage is a bitmask of shader stages a binding is visible to.
type ShaderStage uint32

// Shader stages.
const (
	ShaderStageVertex   ShaderStage = 1 << 0
	ShaderStageFragment ShaderStage = 1 << 1
	ShaderStageCompute  ShaderStage = 1 << 2
)

// BindingType specifies the type of a buffer binding.
type BindingType uint32

// Binding types.
const (
	// BindingTypeUniformBuffer is a uniform buffer binding.
	BindingTypeUniformBuffer BindingType = iota + 1

	// BindingTypeStorageBuffer is a storage buffer binding (read-write).
	BindingTypeStorageBuffer

	// BindingTypeReadOnlyStorageBuffer is a read-only storage buffer binding.
	BindingTypeReadOnlyStorageBuffer
)

// String returns the WGSL-style name of the binding type.
func (t BindingType) String() string {
	switch t {
	case BindingTypeUniformBuffer:
		return "uniform"
	case BindingTypeStorageBuffer:
		return "storage"
	case BindingTypeReadOnlyStorageBuffer:
		return "read-only-storage"
	default:
		return fmt.Sprintf("BindingType(%d)", uint32(t))
	}
}

// DeviceType classifies an adapter.
type DeviceType uint8

// Device types.
const (
	DeviceTypeOther DeviceType = iota
	DeviceTypeIntegratedGPU
	DeviceTypeDiscreteGPU
	DeviceTypeVirtualGPU
	DeviceTypeCPU
)

// String returns a human readable device type.
func (t DeviceType) String() string {
	switch t {
	case DeviceTypeIntegratedGPU:
		return "integrated-gpu"
	case DeviceTypeDiscreteGPU:
		return "discrete-gpu"
	case DeviceTypeVirtualGPU:
		return "virtual-gpu"
	case DeviceTypeCPU:
		return "cpu"
	default:
		return "other"
	}
}

// AdapterInfo describes the adapter a device was opened on.
type AdapterInfo struct {
	// Name is the adapter name reported by the driver.
	Name string

	// Backend is the registry name of the backend ("vulkan", "software").
	Backend string

	// DeviceType classifies the adapter.
	DeviceType DeviceType
}

// Limits holds the device limits the core and the backends validate against.
type Limits struct {
	// MaxBufferSize is the maximum buffer size in bytes.
	MaxBufferSize uint64

	// MaxStorageBufferBindingSize is the maximum storage buffer binding size.
	MaxStorageBufferBindingSize uint64

	// MaxComputeWorkgroupsPerDimension is the maximum workgroups per dispatch dimension.
	MaxComputeWorkgroupsPerDimension uint32

	// MaxStorageBuffersPerShaderStage is the maximum number of storage
	// buffers a compute shader may bind.
	MaxStorageBuffersPerShaderStage uint32

	// MaxBindingsPerBindGroup is the maximum binding index plus one.
	MaxBindingsPerBindGroup uint32

	// MaxComputeInvocationsPerWorkgroup bounds the product of a compute
	// entry point's workgroup size.
	MaxComputeInvocationsPerWorkgroup uint32
}

// DefaultLimits returns the WebGPU default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxBufferSize:                     256 << 20,
		MaxStorageBufferBindingSize:       128 << 20,
		MaxComputeWorkgroupsPerDimension:  65535,
		MaxStorageBuffersPerShaderStage:   8,
		MaxBindingsPerBindGroup:           1000,
		MaxComputeInvocationsPerWorkgroup: 256,
	}
}

// BufferDescriptor describes a buffer.
type BufferDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage is the set of allowed usages.
	Usage BufferUsage

	// MappedAtCreation creates the buffer already mapped for writing.
	// Size must be a multiple of 4.
	MappedAtCreation bool
}

// ShaderModuleDescriptor describes a shader module.
type ShaderModuleDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Code is the WGSL source.
	Code string
}

// BindGroupLayoutDescriptor describes a bind group layout.
type BindGroupLayoutDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Entries defines the bindings in this layout.
	Entries []BindGroupLayoutEntry
}

// BindGroupLayoutEntry describes a single binding in a bind group layout.
type BindGroupLayoutEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Visibility is the set of stages that see the binding.
	Visibility ShaderStage

	// Type is the type of buffer bound at this index.
	Type BindingType

	// MinBindingSize is the minimum buffer size, 0 for no minimum.
	MinBindingSize uint64
}

// PipelineLayoutDescriptor describes a pipeline layout.
type PipelineLayoutDescriptor struct {
	// Label is an optional debug label.
	Label string

	// BindGroupLayouts are the layouts for groups 0..n-1.
	BindGroupLayouts []BindGroupLayoutID
}

// ComputePipelineDescriptor describes a compute pipeline.
type ComputePipelineDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Layout is the pipeline layout.
	Layout PipelineLayoutID

	// Module contains the compute shader.
	Module ShaderModuleID

	// EntryPoint is the name of the shader entry point function.
	EntryPoint string
}

// BindGroupEntry describes a single binding in a bind group.
type BindGroupEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Buffer is the buffer to bind.
	Buffer BufferID

	// Offset is the offset into the buffer.
	Offset uint64

	// Size is the size of the buffer range to bind.
	// Use 0 to bind the entire buffer from offset.
	Size uint64
}

// BindGroupDescriptor describes a bind group.
type BindGroupDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Layout is the bind group layout.
	Layout BindGroupLayoutID

	// Entries are the resource bindings.
	Entries []BindGroupEntry
}

// Workgroups returns the number of workgroups of the given size needed to
// cover n invocations. A zero size yields zero.
func Workgroups(n, size uint32) uint32 {
	if size == 0 {
		return 0
	}
	return uint32((uint64(n) + uint64(size) - 1) / uint64(size))
}
