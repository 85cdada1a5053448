// Package gpucore provides the backend-neutral compute device model used by
// kernelcall.
//
// This package defines the [Device] interface, which abstracts over
// different device implementations, allowing the same orchestration code to
// work with:
//   - gogpu/wgpu HAL (Vulkan) via backend/halgpu
//   - a CPU reference device via backend/software
//
// # Architecture
//
//	               +-----------------+
//	               |   kernelcall    |
//	               |     (Call)      |
//	               +--------+--------+
//	                        |
//	               +--------v--------+
//	               |     gpucore     |
//	               | Device, scopes, |
//	               |futures, registry|
//	               +--------+--------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	| backend/halgpu  |          |backend/software |
//	|  (hal.Device)   |          | (host kernels)  |
//	+-----------------+          +-----------------+
//
// # Error Model
//
// Devices follow the WebGPU error model. Creation calls return IDs and
// never fail synchronously; failures are delivered to the innermost
// matching error scope ([ErrorScopeStack]) and the returned ID refers to an
// error object. Backends keep their resources in a [Table], which tracks
// error objects alongside live resources.
//
// # Futures
//
// Every operation that completes asynchronously on a real GPU (popping an
// error scope, mapping a buffer) returns a [Future]. Callers Wait with a
// context, so every suspension point honours cancellation and deadlines.
//
// # Backend Registry
//
// Backends register a [DeviceFactory] with a priority. [RequestDevice]
// tries available backends from highest to lowest priority.
//
// # Command Recording
//
// [Recorder] implements [CommandEncoder] and [ComputePassEncoder] by
// recording a [CommandList]. Backends validate and replay the list when
// it is submitted.
package gpucore
