package kernels

import "github.com/gogpu/kernelcall"

// IdentityWorkgroupSize is the @workgroup_size of Identity.
const IdentityWorkgroupSize = 256

// identitySource copies 32-bit words, so both int32 and float32 data
// (NaN payloads included) come back bit-identical.
const identitySource = `
@group(0) @binding(0) var<storage, read> count: u32;
@group(0) @binding(1) var<storage, read> inputs: array<u32>;
@group(0) @binding(2) var<storage, read_write> outputs: array<u32>;

@compute @workgroup_size(256)
fn copy_words(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x < count) {
        outputs[gid.x] = inputs[gid.x];
    }
}
`

// Identity copies inputs to outputs element for element.
//
// Bindings: 0 count (Int32Buffer of length 1), 1 inputs, 2 outputs
// (output). Inputs and outputs may be either element type as long as they
// match. Dispatch Workgroups(count, IdentityWorkgroupSize) workgroups on x.
var Identity = kernelcall.Kernel{Source: identitySource, EntryPoint: "copy_words"}

func identityWorkgroup(id uint32, count uint32, inputs, outputs []uint32) {
	start := id * IdentityWorkgroupSize
	for x := start; x < start+IdentityWorkgroupSize && x < count; x++ {
		outputs[x] = inputs[x]
	}
}
