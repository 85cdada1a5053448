// Package kernels holds the WGSL compute kernels shipped with kernelcall.
//
// Each kernel is exported as a kernelcall.Kernel together with the
// constants a caller needs to size its dispatch grid. Importing the package
// also registers a host emulation of every kernel with the software backend,
// so the kernels run unchanged on machines without a GPU.
//
// Binding order is part of each kernel's contract: arguments must be added
// to a kernelcall.Call in the order listed in the kernel's documentation.
package kernels
