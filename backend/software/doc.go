// Package software provides a CPU implementation of gpucore.Device.
//
// The software device is the reference backend: it needs no GPU or driver,
// applies the same validation rules a WebGPU implementation applies, and
// reports failures through error scopes. Compute pipelines execute Go host
// kernels registered with RegisterKernel for a given WGSL source and entry
// point; each workgroup of a dispatch is one unit of work on a worker pool.
//
// The package registers itself with gpucore under the name "software" at
// the lowest priority, so it is selected only when no GPU backend is
// available:
//
//	import _ "github.com/gogpu/kernelcall/backend/software"
package software
