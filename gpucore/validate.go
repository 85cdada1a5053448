package gpucore

import "fmt"

// ValidateBufferDescriptor applies the WebGPU createBuffer validation rules
// against limits. It returns an empty string for a valid descriptor and a
// message suitable for a validation DeviceError otherwise.
func ValidateBufferDescriptor(desc *BufferDescriptor, limits Limits) string {
	const mapRead, mapWrite = BufferUsageMapRead, BufferUsageMapWrite
	switch {
	case desc.Usage == 0:
		return "usage must not be empty"
	case desc.Size > limits.MaxBufferSize:
		return fmt.Sprintf("size %d exceeds maxBufferSize %d", desc.Size, limits.MaxBufferSize)
	case desc.MappedAtCreation && desc.Size%4 != 0:
		return fmt.Sprintf("mappedAtCreation requires a size multiple of 4, got %d", desc.Size)
	case desc.Usage.Has(mapRead) && desc.Usage&^(mapRead|BufferUsageCopyDst) != 0:
		return fmt.Sprintf("MapRead may only be combined with CopyDst, got %s", desc.Usage)
	case desc.Usage.Has(mapWrite) && desc.Usage&^(mapWrite|BufferUsageCopySrc) != 0:
		return fmt.Sprintf("MapWrite may only be combined with CopySrc, got %s", desc.Usage)
	}
	return ""
}

// ValidateMapMode checks a MapAsync request against a buffer's usage.
func ValidateMapMode(usage BufferUsage, mode MapMode) string {
	switch {
	case mode == MapModeRead && !usage.Has(BufferUsageMapRead):
		return fmt.Sprintf("lacks MapRead usage (%s)", usage)
	case mode == MapModeWrite && !usage.Has(BufferUsageMapWrite):
		return fmt.Sprintf("lacks MapWrite usage (%s)", usage)
	case mode != MapModeRead && mode != MapModeWrite:
		return fmt.Sprintf("invalid map mode %d", mode)
	}
	return ""
}

// ValidateBindGroupLayout checks bind group layout entries for duplicate or
// out-of-range bindings, invalid types and the per-stage storage limit.
func ValidateBindGroupLayout(entries []BindGroupLayoutEntry, limits Limits) string {
	seen := make(map[uint32]bool, len(entries))
	var storage uint32
	for _, e := range entries {
		switch {
		case seen[e.Binding]:
			return fmt.Sprintf("binding %d appears twice", e.Binding)
		case e.Binding >= limits.MaxBindingsPerBindGroup:
			return fmt.Sprintf("binding %d exceeds maxBindingsPerBindGroup %d", e.Binding, limits.MaxBindingsPerBindGroup)
		case e.Type < BindingTypeUniformBuffer || e.Type > BindingTypeReadOnlyStorageBuffer:
			return fmt.Sprintf("binding %d has invalid type %v", e.Binding, e.Type)
		}
		seen[e.Binding] = true
		if e.Type != BindingTypeUniformBuffer && e.Visibility&ShaderStageCompute != 0 {
			storage++
		}
	}
	if storage > limits.MaxStorageBuffersPerShaderStage {
		return fmt.Sprintf("%d storage buffers exceed maxStorageBuffersPerShaderStage %d",
			storage, limits.MaxStorageBuffersPerShaderStage)
	}
	return ""
}

// MinStorageBufferOffsetAlignment is the WebGPU default alignment for
// storage and uniform binding offsets.
const MinStorageBufferOffsetAlignment = 256

// ValidateBufferBinding checks a bind group entry against its layout entry
// and the bound buffer's usage and size. It returns the effective binding
// size, which resolves a zero Size to the rest of the buffer.
func ValidateBufferBinding(le BindGroupLayoutEntry, e BindGroupEntry, usage BufferUsage, bufSize uint64, limits Limits) (uint64, string) {
	need := BufferUsageStorage
	if le.Type == BindingTypeUniformBuffer {
		need = BufferUsageUniform
	}
	size := e.Size
	if size == 0 && e.Offset <= bufSize {
		size = bufSize - e.Offset
	}
	switch {
	case !usage.Has(need):
		return 0, fmt.Sprintf("buffer lacks %s usage (%s)", need, usage)
	case e.Offset%MinStorageBufferOffsetAlignment != 0:
		return 0, fmt.Sprintf("offset %d is not a multiple of %d", e.Offset, MinStorageBufferOffsetAlignment)
	case e.Offset > bufSize || size > bufSize-e.Offset:
		return 0, fmt.Sprintf("range [%d, +%d) is outside a buffer of size %d", e.Offset, size, bufSize)
	case size == 0:
		return 0, "binding size is zero"
	case size%4 != 0:
		return 0, fmt.Sprintf("binding size %d is not a multiple of 4", size)
	case le.Type != BindingTypeUniformBuffer && size > limits.MaxStorageBufferBindingSize:
		return 0, fmt.Sprintf("binding size %d exceeds maxStorageBufferBindingSize %d", size, limits.MaxStorageBufferBindingSize)
	case le.MinBindingSize > 0 && size < le.MinBindingSize:
		return 0, fmt.Sprintf("binding size %d is below minBindingSize %d", size, le.MinBindingSize)
	}
	return size, ""
}

// ValidateCopy checks a buffer-to-buffer copy against the usages and sizes
// of its source and destination.
func ValidateCopy(c BufferCopy, srcUsage BufferUsage, srcSize uint64, dstUsage BufferUsage, dstSize uint64) string {
	switch {
	case c.Src == c.Dst:
		return "source and destination are the same buffer"
	case !srcUsage.Has(BufferUsageCopySrc):
		return fmt.Sprintf("source lacks CopySrc usage (%s)", srcUsage)
	case !dstUsage.Has(BufferUsageCopyDst):
		return fmt.Sprintf("destination lacks CopyDst usage (%s)", dstUsage)
	case c.Size%4 != 0 || c.SrcOffset%4 != 0 || c.DstOffset%4 != 0:
		return fmt.Sprintf("size %d and offsets %d, %d must be multiples of 4", c.Size, c.SrcOffset, c.DstOffset)
	case c.SrcOffset > srcSize || c.Size > srcSize-c.SrcOffset:
		return fmt.Sprintf("source range [%d, +%d) outside a buffer of size %d", c.SrcOffset, c.Size, srcSize)
	case c.DstOffset > dstSize || c.Size > dstSize-c.DstOffset:
		return fmt.Sprintf("destination range [%d, +%d) outside a buffer of size %d", c.DstOffset, c.Size, dstSize)
	}
	return ""
}

// ValidateDispatch checks workgroup counts against
// maxComputeWorkgroupsPerDimension.
func ValidateDispatch(x, y, z uint32, limits Limits) string {
	limit := limits.MaxComputeWorkgroupsPerDimension
	for axis, n := range [3]uint32{x, y, z} {
		if n > limit {
			return fmt.Sprintf("%d workgroups on axis %d exceed maxComputeWorkgroupsPerDimension %d", n, axis, limit)
		}
	}
	return ""
}
