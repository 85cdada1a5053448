package kernels

import (
	"math"

	"github.com/gogpu/kernelcall"
)

// SqrtWorkgroupSize is the @workgroup_size of ElemwiseSqrt.
const SqrtWorkgroupSize = 256

const elemwiseSqrtSource = `
@group(0) @binding(0) var<storage, read> numInputs: u32;
@group(0) @binding(1) var<storage, read> inputs: array<f32>;
@group(0) @binding(2) var<storage, read_write> outputs: array<f32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) position: vec3<u32>) {
    let size = numInputs;
    if (position.x < size) {
        outputs[position.x] = sqrt(inputs[position.x]);
    }
}
`

// ElemwiseSqrt computes outputs[i] = sqrt(inputs[i]) for i < numInputs.
//
// Bindings: 0 numInputs (Int32Buffer of length 1), 1 inputs (Float32Buffer),
// 2 outputs (Float32Buffer, output). Dispatch
// Workgroups(numInputs, SqrtWorkgroupSize) workgroups on x.
var ElemwiseSqrt = kernelcall.Kernel{Source: elemwiseSqrtSource, EntryPoint: "main"}

func sqrtWorkgroup(id uint32, numInputs uint32, inputs, outputs []float32) {
	start := id * SqrtWorkgroupSize
	for x := start; x < start+SqrtWorkgroupSize && x < numInputs; x++ {
		outputs[x] = float32(math.Sqrt(float64(inputs[x])))
	}
}
