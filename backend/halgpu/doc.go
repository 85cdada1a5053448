// Package halgpu implements gpucore.Device on real GPUs through the
// gogpu/wgpu hardware abstraction layer.
//
// Importing the package registers the "vulkan" backend with gpucore at
// priority 100, ahead of the software device:
//
//	import _ "github.com/gogpu/kernelcall/backend/halgpu"
//
// Shaders are reflected for layout validation and compiled from WGSL to
// SPIR-V with gogpu/naga before they reach the driver.
//
// A host application that already owns a device, such as a gogpu window,
// can share it through NewFromProvider:
//
//	dev, err := halgpu.NewFromProvider(app.DeviceProvider())
//	call := kernelcall.NewCall(dev)
package halgpu
