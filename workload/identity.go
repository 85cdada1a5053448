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

// DefaultIdentityN is the Identity length in the Default registry.
const DefaultIdentityN = 1 << 16

// Identity copies N random float32 values through the device and requires
// them back bit for bit.
type Identity struct {
	N int
}

// Name implements Workload.
func (w *Identity) Name() string { return "Identity" }

// Run implements Workload.
func (w *Identity) Run(ctx context.Context, env *Env) error {
	n := max(w.N, 0)
	inputs := make(kernelcall.Float32Buffer, n)
	for i := range inputs {
		inputs[i] = math.Float32frombits(env.Rand.Uint32())
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
	if err := call.Run(ctx, kernels.Identity, kernelcall.GridFor(uint32(n), kernels.IdentityWorkgroupSize)); err != nil {
		return err
	}
	env.Sink.Log(report.Sprintf("copied %d elements in %.3f milliseconds", n, report.Millis(time.Since(start))))

	for i := range inputs {
		if math.Float32bits(inputs[i]) != math.Float32bits(outputs[i]) {
			return fmt.Errorf("%w: element %d is %#08x, want %#08x", ErrIncorrectResult, i,
				math.Float32bits(outputs[i]), math.Float32bits(inputs[i]))
		}
	}
	env.Sink.Log("round trip is bit-identical.")
	return nil
}
