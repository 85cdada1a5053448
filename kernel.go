package kernelcall

import "github.com/gogpu/kernelcall/gpucore"

// Kernel is a compute shader: WGSL source text and the name of its
// @compute entry point.
type Kernel struct {
	Source     string
	EntryPoint string
}

// Grid is a dispatch size in workgroups, not elements.
type Grid struct {
	X, Y, Z uint32
}

// Grid1D returns the grid (x, 1, 1).
func Grid1D(x uint32) Grid { return Grid{X: x, Y: 1, Z: 1} }

// Grid2D returns the grid (x, y, 1).
func Grid2D(x, y uint32) Grid { return Grid{X: x, Y: y, Z: 1} }

// GridFor returns the 1D grid covering n elements with workgroups of the
// given size.
func GridFor(n, workgroupSize uint32) Grid {
	return Grid1D(gpucore.Workgroups(n, workgroupSize))
}
