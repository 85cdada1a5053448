// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/kernelcall/shader"
)

// KernelFunc is the host implementation of one workgroup of a compute
// entry point. It is called concurrently for different workgroups of the
// same dispatch, so it must only write the output elements its workgroup
// owns, the same discipline the WGSL kernel follows.
type KernelFunc func(wg Workgroup, b *Bindings)

// Workgroup identifies the workgroup being executed.
type Workgroup struct {
	// ID is @builtin(workgroup_id).
	ID [3]uint32

	// Size is the entry point's @workgroup_size.
	Size [3]uint32

	// Count is @builtin(num_workgroups).
	Count [3]uint32
}

// ForEachInvocation calls fn for every invocation of the workgroup with its
// local_invocation_id and global_invocation_id, x varying fastest.
func (w Workgroup) ForEachInvocation(fn func(local, global [3]uint32)) {
	for z := range w.Size[2] {
		for y := range w.Size[1] {
			for x := range w.Size[0] {
				local := [3]uint32{x, y, z}
				fn(local, [3]uint32{
					w.ID[0]*w.Size[0] + x,
					w.ID[1]*w.Size[1] + y,
					w.ID[2]*w.Size[2] + z,
				})
			}
		}
	}
}

// Bindings exposes the buffers bound to group 0 as typed views. Accessing
// a binding that is not bound panics, which the device reports as an
// internal error.
type Bindings struct {
	views map[uint32][]byte
}

func (b *Bindings) bytes(binding uint32) []byte {
	v, ok := b.views[binding]
	if !ok {
		panic(fmt.Sprintf("software: binding %d is not bound", binding))
	}
	return v
}

// Bytes returns the raw bytes of a binding.
func (b *Bindings) Bytes(binding uint32) []byte { return b.bytes(binding) }

// Uint32 returns a binding viewed as []uint32.
func (b *Bindings) Uint32(binding uint32) []uint32 {
	return view[uint32](b.bytes(binding))
}

// Int32 returns a binding viewed as []int32.
func (b *Bindings) Int32(binding uint32) []int32 {
	return view[int32](b.bytes(binding))
}

// Float32 returns a binding viewed as []float32.
func (b *Bindings) Float32(binding uint32) []float32 {
	return view[float32](b.bytes(binding))
}

// view reinterprets a word-aligned byte window. Buffer storage is allocated
// as []uint32 and bind offsets are 256-byte aligned, so the cast is aligned.
func view[T uint32 | int32 | float32](raw []byte) []T {
	if len(raw) < 4 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), len(raw)/4)
}

type kernelKey struct {
	fingerprint string
	entry       string
}

var (
	kernelsMu sync.RWMutex
	kernels   = make(map[kernelKey]KernelFunc)
)

// RegisterKernel installs the host implementation of entry in the WGSL
// module source. The software device executes it for pipelines created
// from exactly that source. Registering the same pair again replaces it.
func RegisterKernel(source, entry string, fn KernelFunc) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	kernels[kernelKey{shader.Fingerprint(source), entry}] = fn
}

// UnregisterKernel removes a host implementation.
func UnregisterKernel(source, entry string) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	delete(kernels, kernelKey{shader.Fingerprint(source), entry})
}

func lookupKernel(fingerprint, entry string) (KernelFunc, bool) {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	fn, ok := kernels[kernelKey{fingerprint, entry}]
	return fn, ok
}
