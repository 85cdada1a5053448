package gpucore

import "errors"

// Device abstracts over compute device implementations.
//
// The contract follows WebGPU: creation methods never fail synchronously.
// A creation that fails returns an ID referring to an error object and
// reports a DeviceError to the error scope stack; using such an ID later is
// itself a validation error. Callers bracket work with PushErrorScope and
// PopErrorScope to observe failures.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource referenced by a pending submission is allowed;
//     the device keeps it alive until the submission has executed
//   - IDs become invalid after destruction and are never reused
type Device interface {
	// === Capabilities ===

	// Info describes the adapter the device was opened on.
	Info() AdapterInfo

	// Limits returns the limits the device validates against.
	Limits() Limits

	// === Error Scopes ===

	// PushErrorScope opens an error scope for the given filter.
	PushErrorScope(filter ErrorFilter)

	// PopErrorScope closes the innermost scope. The future resolves with
	// the first captured error, or nil, once all work issued inside the
	// scope has been validated. It fails with ErrEmptyScopeStack when no
	// scope is open.
	PopErrorScope() *Future[*DeviceError]

	// === Buffer Management ===

	// CreateBuffer creates a buffer.
	CreateBuffer(desc *BufferDescriptor) BufferID

	// MappedRange returns the host view of a mapped buffer. The slice is
	// valid until Unmap.
	MappedRange(id BufferID) ([]byte, error)

	// Unmap releases the host view and hands the buffer back to the device.
	Unmap(id BufferID)

	// MapAsync maps a buffer for host access once all submitted work that
	// uses it has completed.
	MapAsync(id BufferID, mode MapMode) *Future[struct{}]

	// DestroyBuffer releases a buffer.
	DestroyBuffer(id BufferID)

	// === Pipeline Management ===

	// CreateShaderModule compiles a WGSL module.
	CreateShaderModule(desc *ShaderModuleDescriptor) ShaderModuleID

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(id ShaderModuleID)

	// CreateBindGroupLayout creates a bind group layout.
	CreateBindGroupLayout(desc *BindGroupLayoutDescriptor) BindGroupLayoutID

	// DestroyBindGroupLayout releases a bind group layout.
	DestroyBindGroupLayout(id BindGroupLayoutID)

	// CreatePipelineLayout creates a pipeline layout.
	CreatePipelineLayout(desc *PipelineLayoutDescriptor) PipelineLayoutID

	// DestroyPipelineLayout releases a pipeline layout.
	DestroyPipelineLayout(id PipelineLayoutID)

	// CreateComputePipeline creates a compute pipeline.
	CreateComputePipeline(desc *ComputePipelineDescriptor) ComputePipelineID

	// DestroyComputePipeline releases a compute pipeline.
	DestroyComputePipeline(id ComputePipelineID)

	// CreateBindGroup binds buffers to a bind group layout.
	CreateBindGroup(desc *BindGroupDescriptor) BindGroupID

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(id BindGroupID)

	// === Command Recording and Execution ===

	// CreateCommandEncoder begins recording a command buffer.
	CreateCommandEncoder(label string) CommandEncoder

	// Submit queues finished command buffers for execution in order.
	// Each command buffer can be submitted once.
	Submit(buffers ...CommandBufferID)

	// Destroy releases the device and every resource it still owns.
	Destroy()
}

// CommandEncoder records commands into a command buffer.
//
// Usage:
//  1. Obtain encoder from Device.CreateCommandEncoder()
//  2. Record compute passes and copies
//  3. Call Finish() and pass the result to Device.Submit()
//
// Misuse (a copy inside an open pass, Finish with an open pass, any call
// after Finish) makes Finish return an invalid command buffer and report
// a validation error.
type CommandEncoder interface {
	// BeginComputePass opens a compute pass.
	BeginComputePass(label string) ComputePassEncoder

	// CopyBufferToBuffer records a buffer copy.
	CopyBufferToBuffer(src BufferID, srcOffset uint64, dst BufferID, dstOffset uint64, size uint64)

	// Finish ends recording.
	Finish() CommandBufferID
}

// ComputePassEncoder records compute commands.
//
// The encoder is single-use and cannot be reused after End().
type ComputePassEncoder interface {
	// SetPipeline sets the active compute pipeline.
	SetPipeline(pipeline ComputePipelineID)

	// SetBindGroup sets a bind group at the specified index.
	SetBindGroup(index uint32, group BindGroupID)

	// DispatchWorkgroups dispatches x*y*z workgroups. Zero on any axis
	// dispatches nothing.
	DispatchWorkgroups(x, y, z uint32)

	// End finishes the compute pass.
	End()
}

// ErrMapFailed is the error a MapAsync future fails with when the map
// request is rejected or aborted.
var ErrMapFailed = errors.New("gpucore: buffer map failed")
