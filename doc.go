// Package kernelcall runs a GPU compute kernel against host buffers.
//
// # Overview
//
// A Call is the host-side orchestration of one kernel execution:
//
//	AcquireDevice -> AddArgument (N times) -> Dispatch -> ReadResults -> Close
//
// AcquireDevice asks the gpucore backend registry for a compute device.
// AddArgument uploads an Int32Buffer or Float32Buffer into a new device
// buffer and binds it to the next @binding index of group 0. Dispatch
// compiles the WGSL kernel, records one compute pass plus a copy of every
// output into a staging buffer, and submits it. ReadResults maps the
// staging buffers one by one and copies the bytes back into the host
// buffers. Close releases every device object the Call created.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/kernelcall"
//	    _ "github.com/gogpu/kernelcall/backend/software"
//	    "github.com/gogpu/kernelcall/kernels"
//	)
//
//	in := kernelcall.Float32Buffer{0, 1, 4, 9, 16}
//	out := make(kernelcall.Float32Buffer, len(in))
//
//	call, err := kernelcall.AcquireDevice(ctx)
//	if err != nil {
//	    return err
//	}
//	defer call.Close()
//
//	call.AddInput(kernelcall.Int32Buffer{int32(len(in))})
//	call.AddInput(in)
//	call.AddOutput(out)
//	if err := call.Run(ctx, kernels.ElemwiseSqrt, kernelcall.GridFor(uint32(len(in)), kernels.SqrtWorkgroupSize)); err != nil {
//	    return err
//	}
//	// out is now [0 1 2 3 4]
//
// # Errors
//
// Device errors are collected through WebGPU error scopes. Dispatch
// returns a *KernelExecutionError naming the scope that captured the
// failure; use errors.Is with ErrValidation, ErrInternal or ErrOutOfMemory
// to classify it. A missing device is an *AdapterUnavailableError and a
// failed mapping is a *ReadbackError. Calling operations out of order
// returns ErrInvalidState.
//
// # Backends
//
// Backends register themselves with gpucore when imported. The software
// backend (backend/software) runs everywhere; the halgpu backend
// (backend/halgpu) uses Vulkan through gogpu/wgpu and is preferred when
// available.
package kernelcall
