package workload

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gogpu/kernelcall"
	"github.com/gogpu/kernelcall/kernels"
	"github.com/gogpu/kernelcall/report"
)

const (
	// DefaultSqrtN is the ElemwiseSqrt input length when N is zero.
	DefaultSqrtN = 1_000_000

	// SqrtTolerance is the largest accepted absolute error per element.
	SqrtTolerance = 1e-2
)

// ElemwiseSqrt takes the square root of 0, 1, ..., N-1 on the device and
// checks every element against math.Sqrt.
type ElemwiseSqrt struct {
	// N is the input length; zero means DefaultSqrtN.
	N int
}

// Name implements Workload.
func (w *ElemwiseSqrt) Name() string { return "ElemwiseSqrt" }

func (w *ElemwiseSqrt) n() int {
	if w.N <= 0 {
		return DefaultSqrtN
	}
	return w.N
}

// Run implements Workload.
func (w *ElemwiseSqrt) Run(ctx context.Context, env *Env) error {
	n := w.n()
	inputs := make(kernelcall.Float32Buffer, n)
	for i := range inputs {
		inputs[i] = float32(i)
	}
	outputs := make(kernelcall.Float32Buffer, n)

	call, err := env.acquire(ctx, w.Name())
	if err != nil {
		return err
	}
	defer call.Close()

	if _, err := call.AddInput(kernelcall.Int32Buffer{int32(n)}); err != nil {
		return err
	}
	if _, err := call.AddInput(inputs); err != nil {
		return err
	}
	if _, err := call.AddOutput(outputs); err != nil {
		return err
	}

	start := time.Now()
	if err := call.Run(ctx, kernels.ElemwiseSqrt, kernelcall.GridFor(uint32(n), kernels.SqrtWorkgroupSize)); err != nil {
		return err
	}
	env.Sink.Log(report.Sprintf("completed kernel in %.3f milliseconds", report.Millis(time.Since(start))))

	var checkErr error
	for i, actual := range outputs {
		expected := math.Sqrt(float64(inputs[i]))
		if d := math.Abs(float64(actual) - expected); d > SqrtTolerance || math.IsNaN(d) {
			env.Sink.Log(fmt.Sprintf("incorrect value at index %d: expected %v got %v", i, expected, actual))
			checkErr = fmt.Errorf("%w: sqrt(%v) = %v at index %d", ErrIncorrectResult, inputs[i], actual, i)
			break
		}
	}
	env.Sink.Log("correctness check complete.")
	return checkErr
}
