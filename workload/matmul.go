package workload

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"
	"time"

	"github.com/gogpu/kernelcall"
	"github.com/gogpu/kernelcall/internal/parallel"
	"github.com/gogpu/kernelcall/kernels"
	"github.com/gogpu/kernelcall/report"
)

// VerifyPolicy selects how much of a matrix product is checked on the host.
type VerifyPolicy uint8

const (
	// VerifyFull checks every element.
	VerifyFull VerifyPolicy = iota

	// VerifySampled checks each element with probability 2048/n², about
	// 2048 elements per product.
	VerifySampled

	// VerifyNone skips the check.
	VerifyNone
)

// sampleBudget is the expected number of elements VerifySampled checks.
const sampleBudget = 2048

// MatmulTolerance is the largest accepted error relative to the float64
// reference value.
const MatmulTolerance = 1e-5

func (p VerifyPolicy) String() string {
	switch p {
	case VerifyFull:
		return "full"
	case VerifySampled:
		return "sampled"
	case VerifyNone:
		return "none"
	default:
		return fmt.Sprintf("VerifyPolicy(%d)", p)
	}
}

// ParseVerifyPolicy parses "full", "sampled" or "none".
func ParseVerifyPolicy(s string) (VerifyPolicy, error) {
	switch strings.ToLower(s) {
	case "full", "":
		return VerifyFull, nil
	case "sampled":
		return VerifySampled, nil
	case "none":
		return VerifyNone, nil
	}
	return 0, fmt.Errorf("workload: unknown verify policy %q", s)
}

// Matmul multiplies two random Size x Size matrices on the device.
type Matmul struct {
	// Size is the matrix dimension, a positive multiple of kernels.MatmulTile
	// no larger than kernels.MaxMatmulSize.
	Size uint32

	Verify VerifyPolicy
}

// Name implements Workload.
func (w *Matmul) Name() string { return fmt.Sprintf("Matmul%d", w.Size) }

// Run implements Workload.
func (w *Matmul) Run(ctx context.Context, env *Env) error {
	n := w.Size
	if n == 0 || n%kernels.MatmulTile != 0 {
		return fmt.Errorf("%s: size %d is not a positive multiple of %d", w.Name(), n, kernels.MatmulTile)
	}
	if n > kernels.MaxMatmulSize {
		return fmt.Errorf("%s: size %d exceeds %d", w.Name(), n, kernels.MaxMatmulSize)
	}

	count := int(n) * int(n)
	a := make(kernelcall.Float32Buffer, count)
	b := make(kernelcall.Float32Buffer, count)
	for i := range a {
		a[i] = env.Rand.Float32()
		b[i] = env.Rand.Float32()
	}
	c := make(kernelcall.Float32Buffer, count)

	call, err := env.acquire(ctx, w.Name())
	if err != nil {
		return err
	}
	defer call.Close()

	for _, host := range []kernelcall.HostBuffer{kernelcall.Int32Buffer{int32(n)}, a, b} {
		if _, err := call.AddInput(host); err != nil {
			return err
		}
	}
	if _, err := call.AddOutput(c); err != nil {
		return err
	}

	start := time.Now()
	if err := call.Run(ctx, kernels.Matmul, kernels.MatmulGrid(n)); err != nil {
		return err
	}
	elapsed := time.Since(start)
	env.Sink.Log(report.Sprintf("completed kernel in %.3f milliseconds", report.Millis(elapsed)))
	flops := 2 * float64(n) * float64(n) * float64(n)
	env.Sink.Log(report.Sprintf("%.2f GFLOP/s", flops/elapsed.Seconds()/1e9))

	if w.Verify == VerifyNone {
		return nil
	}

	start = time.Now()
	var res checkResult
	if w.Verify == VerifySampled {
		res = checkSampled(env, n, a, b, c)
	} else if res, err = checkFull(n, a, b, c); err != nil {
		return fmt.Errorf("%s: %w", w.Name(), err)
	}
	if res.mismatch != nil {
		m := res.mismatch
		env.Sink.Log(fmt.Sprintf("incorrect value at index (row=%d, col=%d): expected %v got %v",
			m.row, m.col, m.expected, m.actual))
	}
	prefix := "correctness check"
	if w.Verify == VerifySampled {
		prefix = "random correctness check"
	}
	env.Sink.Log(report.Sprintf("%s took %.3f milliseconds", prefix, report.Millis(time.Since(start))))
	env.Sink.Log(report.Sprintf("max abs error over %d checked elements: %g", res.checked, res.maxAbs))

	if m := res.mismatch; m != nil {
		return fmt.Errorf("%w: C[%d][%d] = %v, want %v", ErrIncorrectResult, m.row, m.col, m.actual, m.expected)
	}
	return nil
}

type mismatch struct {
	row, col         uint32
	expected, actual float64
}

type checkResult struct {
	checked  int
	maxAbs   float64
	mismatch *mismatch
}

// merge folds o into r, keeping the first mismatch in row-major order.
func (r *checkResult) merge(o checkResult) {
	r.checked += o.checked
	r.maxAbs = max(r.maxAbs, o.maxAbs)
	if o.mismatch == nil {
		return
	}
	if r.mismatch == nil || o.mismatch.row < r.mismatch.row ||
		(o.mismatch.row == r.mismatch.row && o.mismatch.col < r.mismatch.col) {
		r.mismatch = o.mismatch
	}
}

// check compares element (i, j) of c with a float64 reference product.
func (r *checkResult) check(n, i, j uint32, a, b, c []float32) {
	size, row, col := int(n), int(i), int(j)
	var sum float64
	for k := range size {
		sum += float64(a[row*size+k]) * float64(b[k*size+col])
	}
	actual := float64(c[row*size+col])
	diff := math.Abs(actual - sum)
	r.checked++
	r.maxAbs = max(r.maxAbs, diff)
	if r.mismatch == nil && (diff > math.Abs(sum)*MatmulTolerance || math.IsNaN(diff)) {
		r.mismatch = &mismatch{row: i, col: j, expected: sum, actual: actual}
	}
}

// checkFull verifies every element, one row per work item.
func checkFull(n uint32, a, b, c []float32) (checkResult, error) {
	rows := make([]checkResult, n)
	pool := parallel.NewWorkerPool(runtime.GOMAXPROCS(0))
	defer pool.Close()
	err := pool.ForEach(int(n), func(i int) {
		for j := range n {
			rows[i].check(n, uint32(i), j, a, b, c)
		}
	})
	if err != nil {
		return checkResult{}, fmt.Errorf("verify: %w", err)
	}
	var res checkResult
	for _, r := range rows {
		res.merge(r)
	}
	return res, nil
}

// checkSampled verifies each element with probability sampleBudget/n².
func checkSampled(env *Env, n uint32, a, b, c []float32) checkResult {
	prob := float64(sampleBudget) / (float64(n) * float64(n))
	var res checkResult
	for i := range n {
		for j := range n {
			if env.Rand.Float64() > prob {
				continue
			}
			res.check(n, i, j, a, b, c)
			if res.mismatch != nil {
				return res
			}
		}
	}
	return res
}
