package kernels

import "github.com/gogpu/kernelcall/backend/software"

func init() {
	software.RegisterKernel(elemwiseSqrtSource, ElemwiseSqrt.EntryPoint, func(wg software.Workgroup, b *software.Bindings) {
		sqrtWorkgroup(wg.ID[0], b.Uint32(0)[0], b.Float32(1), b.Float32(2))
	})
	software.RegisterKernel(identitySource, Identity.EntryPoint, func(wg software.Workgroup, b *software.Bindings) {
		identityWorkgroup(wg.ID[0], b.Uint32(0)[0], b.Uint32(1), b.Uint32(2))
	})
	software.RegisterKernel(matmulSource, Matmul.EntryPoint, func(wg software.Workgroup, b *software.Bindings) {
		matmulWorkgroup(wg.ID[0], wg.ID[1], b.Uint32(0)[0], b.Float32(1), b.Float32(2), b.Float32(3))
	})
}
