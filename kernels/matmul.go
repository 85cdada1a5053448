package kernels

import "github.com/gogpu/kernelcall"

// MatmulTile is the edge of the square block of C computed by one
// workgroup of Matmul. Matrix sizes must be multiples of it.
const MatmulTile = 64

// MaxMatmulSize is the largest n Matmul accepts. Every element index of an
// n x n matrix must fit the kernel's u32 arithmetic.
const MaxMatmulSize = 1 << 15

// matmulSource tiles C into 64x64 blocks. Each of the 8x8 invocations of a
// workgroup owns an 8x8 sub-block and accumulates it from 64x8 and 8x64
// panels of A and B staged in workgroup memory.
const matmulSource = `
@group(0) @binding(0) var<storage, read> n: u32;
@group(0) @binding(1) var<storage, read> matA: array<f32>;
@group(0) @binding(2) var<storage, read> matB: array<f32>;
@group(0) @binding(3) var<storage, read_write> matC: array<f32>;

// 64x8 panel of A.
var<workgroup> panelA: array<f32, 512>;

// 8x64 panel of B.
var<workgroup> panelB: array<f32, 512>;

@compute @workgroup_size(8, 8)
fn main(
    @builtin(local_invocation_id) tid: vec3<u32>,
    @builtin(workgroup_id) ctaid: vec3<u32>,
) {
    let size = n;
    let aRow = ctaid.y * 64u;
    let bCol = ctaid.x * 64u;
    let lane = tid.x + tid.y * 8u;

    var sum: array<f32, 64>;

    for (var k: u32 = 0u; k < size; k += 8u) {
        workgroupBarrier();
        for (var j: u32 = 0u; j < 8u; j++) {
            panelA[(tid.y + 8u * j) * 8u + tid.x] = matA[(aRow + tid.y + 8u * j) * size + k + tid.x];
            panelB[j * 64u + lane] = matB[(k + j) * size + bCol + lane];
        }
        workgroupBarrier();

        for (var j: u32 = 0u; j < 8u; j++) {
            for (var r: u32 = 0u; r < 8u; r++) {
                let a = panelA[(tid.y * 8u + r) * 8u + j];
                for (var c: u32 = 0u; c < 8u; c++) {
                    sum[r * 8u + c] += a * panelB[j * 64u + tid.x * 8u + c];
                }
            }
        }
    }

    let out = (aRow + tid.y * 8u) * size + bCol + tid.x * 8u;
    for (var r: u32 = 0u; r < 8u; r++) {
        for (var c: u32 = 0u; c < 8u; c++) {
            matC[out + r * size + c] = sum[r * 8u + c];
        }
    }
}
`

// Matmul computes the row-major product matC = matA x matB of two n x n
// float32 matrices.
//
// Bindings: 0 n (Int32Buffer of length 1), 1 matA, 2 matB, 3 matC (output).
// Dispatch MatmulGrid(n). n must be a multiple of MatmulTile no larger
// than MaxMatmulSize.
var Matmul = kernelcall.Kernel{Source: matmulSource, EntryPoint: "main"}

// MatmulGrid returns the dispatch grid for an n x n product: one workgroup
// per 64x64 block, x indexing column blocks and y indexing row blocks.
func MatmulGrid(n uint32) kernelcall.Grid {
	return kernelcall.Grid2D(n/MatmulTile, n/MatmulTile)
}

// matmulWorkgroup computes the 64x64 block of c at workgroup (bx, by).
// Every element accumulates in float32 with ascending k, the order the
// WGSL kernel uses.
func matmulWorkgroup(bx, by, size uint32, a, b, c []float32) {
	n := int(size)
	aRow, bCol := int(by)*MatmulTile, int(bx)*MatmulTile
	if aRow >= n || bCol >= n {
		return
	}
	cols := min(MatmulTile, n-bCol)

	var acc [MatmulTile]float32
	for i := aRow; i < min(aRow+MatmulTile, n); i++ {
		clear(acc[:])
		for k := range n {
			av := a[i*n+k]
			for j, bv := range b[k*n+bCol : k*n+bCol+cols] {
				acc[j] += float32(av * bv)
			}
		}
		copy(c[i*n+bCol:i*n+bCol+cols], acc[:cols])
	}
}
