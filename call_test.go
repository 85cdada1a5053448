package kernelcall_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/kernelcall"
	"github.com/gogpu/kernelcall/backend/software"
	"github.com/gogpu/kernelcall/gpucore"
	"github.com/gogpu/kernelcall/kernels"
)

// =============================================================================
// Fixtures
// =============================================================================

// countingDevice records error scope and mapping traffic.
type countingDevice struct {
	gpucore.Device
	pushes, pops, maps atomic.Int32

	// mapFuture, when set, replaces the result of MapAsync.
	mapFuture func() *gpucore.Future[struct{}]
}

func (d *countingDevice) PushErrorScope(f gpucore.ErrorFilter) {
	d.pushes.Add(1)
	d.Device.PushErrorScope(f)
}

func (d *countingDevice) PopErrorScope() *gpucore.Future[*gpucore.DeviceError] {
	d.pops.Add(1)
	return d.Device.PopErrorScope()
}

func (d *countingDevice) MapAsync(id gpucore.BufferID, mode gpucore.MapMode) *gpucore.Future[struct{}] {
	d.maps.Add(1)
	if d.mapFuture != nil {
		return d.mapFuture()
	}
	return d.Device.MapAsync(id, mode)
}

func newSoftware(t *testing.T, opts ...software.Option) *software.Device {
	t.Helper()
	dev := software.New(append([]software.Option{software.WithWorkers(2)}, opts...)...)
	t.Cleanup(dev.Destroy)
	return dev
}

func newCall(t *testing.T, dev gpucore.Device, opts ...kernelcall.Option) *kernelcall.Call {
	t.Helper()
	c := kernelcall.NewCall(dev, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustAdd(t *testing.T, c *kernelcall.Call, host kernelcall.HostBuffer, access kernelcall.AccessMode) kernelcall.Argument {
	t.Helper()
	arg, err := c.AddArgument(host, access)
	if err != nil {
		t.Fatalf("AddArgument() error = %v", err)
	}
	return arg
}

// outOfRangeKernel declares @binding(3) while callers bind only 0..2.
const outOfRangeKernel = `
@group(0) @binding(0) var<storage, read> numInputs: u32;
@group(0) @binding(1) var<storage, read> inputs: array<f32>;
@group(0) @binding(2) var<storage, read_write> outputs: array<f32>;
@group(0) @binding(3) var<storage, read_write> scratch: array<f32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    outputs[gid.x] = inputs[gid.x] + scratch[gid.x];
}
`

// =============================================================================
// ArgumentBinder
// =============================================================================

func TestAddArgument_BindingOrder(t *testing.T) {
	for n := 1; n <= 6; n++ {
		c := newCall(t, newSoftware(t))
		for i := range n {
			access := kernelcall.ReadOnly
			if i%2 == 1 {
				access = kernelcall.Output
			}
			arg := mustAdd(t, c, make(kernelcall.Float32Buffer, i+1), access)
			if arg.Binding != uint32(i) {
				t.Fatalf("n=%d: argument %d got binding %d", n, i, arg.Binding)
			}
		}

		layout := c.Layout()
		if len(layout) != n {
			t.Fatalf("n=%d: len(Layout()) = %d", n, len(layout))
		}
		for i, e := range layout {
			if e.Binding != uint32(i) {
				t.Errorf("n=%d: layout[%d].Binding = %d", n, i, e.Binding)
			}
			if e.Visibility != gpucore.ShaderStageCompute {
				t.Errorf("n=%d: layout[%d].Visibility = %v", n, i, e.Visibility)
			}
			want := gpucore.BindingTypeReadOnlyStorageBuffer
			if i%2 == 1 {
				want = gpucore.BindingTypeStorageBuffer
			}
			if e.Type != want {
				t.Errorf("n=%d: layout[%d].Type = %v, want %v", n, i, e.Type, want)
			}
		}
	}
}

func TestAddArgument_OutputFlags(t *testing.T) {
	c := newCall(t, newSoftware(t))
	in := mustAdd(t, c, kernelcall.Int32Buffer{1}, kernelcall.ReadOnly)
	rw := mustAdd(t, c, kernelcall.Int32Buffer{1}, kernelcall.ReadWrite)
	out := mustAdd(t, c, kernelcall.Int32Buffer{1}, kernelcall.Output)

	if in.Output || rw.Output || !out.Output {
		t.Errorf("Output flags = %v %v %v, want false false true", in.Output, rw.Output, out.Output)
	}
	if out.Access != kernelcall.ReadWrite {
		t.Errorf("output Access = %v, want read-write", out.Access)
	}
	if c.State() != kernelcall.StateArgumentsBound {
		t.Errorf("State() = %v, want ArgumentsBound", c.State())
	}
}

func TestAddArgument_Errors(t *testing.T) {
	c := newCall(t, newSoftware(t))
	if _, err := c.AddArgument(nil, kernelcall.ReadOnly); !errors.Is(err, kernelcall.ErrNilHostBuffer) {
		t.Errorf("AddArgument(nil) error = %v, want ErrNilHostBuffer", err)
	}
	if _, err := c.AddArgument(kernelcall.Int32Buffer{1}, kernelcall.AccessMode(9)); err == nil {
		t.Error("AddArgument with invalid access mode succeeded")
	}
	if len(c.Arguments()) != 0 {
		t.Errorf("failed AddArgument calls bound %d arguments", len(c.Arguments()))
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestCall_StateMachine(t *testing.T) {
	ctx := context.Background()

	c := kernelcall.New()
	if c.State() != kernelcall.StateCreated {
		t.Fatalf("New().State() = %v", c.State())
	}
	if _, err := c.AddInput(kernelcall.Int32Buffer{1}); !errors.Is(err, kernelcall.ErrInvalidState) {
		t.Errorf("AddInput before AcquireDevice error = %v, want ErrInvalidState", err)
	}
	if err := c.Dispatch(ctx, kernels.Identity, kernelcall.Grid1D(1)); !errors.Is(err, kernelcall.ErrInvalidState) {
		t.Errorf("Dispatch before AcquireDevice error = %v, want ErrInvalidState", err)
	}

	c = newCall(t, newSoftware(t))
	if err := c.ReadResults(ctx); !errors.Is(err, kernelcall.ErrInvalidState) {
		t.Errorf("ReadResults before Dispatch error = %v, want ErrInvalidState", err)
	}

	mustAdd(t, c, kernelcall.Int32Buffer{1}, kernelcall.ReadOnly)
	mustAdd(t, c, kernelcall.Int32Buffer{5}, kernelcall.ReadOnly)
	mustAdd(t, c, kernelcall.Int32Buffer{0}, kernelcall.Output)
	if err := c.Dispatch(ctx, kernels.Identity, kernelcall.Grid1D(1)); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if _, err := c.AddInput(kernelcall.Int32Buffer{1}); !errors.Is(err, kernelcall.ErrInvalidState) {
		t.Errorf("AddInput after Dispatch error = %v, want ErrInvalidState", err)
	}
	if err := c.Dispatch(ctx, kernels.Identity, kernelcall.Grid1D(1)); !errors.Is(err, kernelcall.ErrInvalidState) {
		t.Errorf("second Dispatch error = %v, want ErrInvalidState", err)
	}
	if err := c.ReadResults(ctx); err != nil {
		t.Fatalf("ReadResults() error = %v", err)
	}
	if c.State() != kernelcall.StateResultsRead {
		t.Errorf("State() = %v, want ResultsRead", c.State())
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if c.State() != kernelcall.StateDiscarded {
		t.Errorf("State() = %v, want Discarded", c.State())
	}
	if err := c.ReadResults(ctx); !errors.Is(err, kernelcall.ErrInvalidState) {
		t.Errorf("ReadResults after Close error = %v, want ErrInvalidState", err)
	}
}

func TestCall_CloseReleasesBuffers(t *testing.T) {
	tests := []struct {
		name   string
		kernel kernelcall.Kernel
	}{
		{"success", kernels.Identity},
		{"failure", kernelcall.Kernel{Source: outOfRangeKernel, EntryPoint: "main"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newSoftware(t)
			c := kernelcall.NewCall(dev)
			mustAdd(t, c, kernelcall.Int32Buffer{2}, kernelcall.ReadOnly)
			mustAdd(t, c, kernelcall.Float32Buffer{1, 2}, kernelcall.ReadOnly)
			mustAdd(t, c, make(kernelcall.Float32Buffer, 2), kernelcall.Output)
			_ = c.Run(context.Background(), tt.kernel, kernelcall.Grid1D(1))

			if err := c.Close(); err != nil {
				t.Fatal(err)
			}
			if n := dev.LiveBuffers(); n != 0 {
				t.Errorf("LiveBuffers() after Close = %d, want 0", n)
			}
		})
	}
}

func TestAcquireDevice(t *testing.T) {
	ctx := context.Background()

	c, err := kernelcall.AcquireDevice(ctx, kernelcall.WithBackend(software.BackendName))
	if err != nil {
		t.Fatalf("AcquireDevice() error = %v", err)
	}
	defer c.Close()
	if c.State() != kernelcall.StateDeviceAcquired {
		t.Errorf("State() = %v, want DeviceAcquired", c.State())
	}
	if got := c.Device().Info().Backend; got != software.BackendName {
		t.Errorf("backend = %q", got)
	}
}

func TestAcquireDevice_Unavailable(t *testing.T) {
	_, err := kernelcall.AcquireDevice(context.Background(), kernelcall.WithBackend("no-such-backend"))
	if !errors.Is(err, kernelcall.ErrAdapterUnavailable) {
		t.Fatalf("error = %v, want ErrAdapterUnavailable", err)
	}
	var aue *kernelcall.AdapterUnavailableError
	if !errors.As(err, &aue) || aue.Backend != "no-such-backend" {
		t.Errorf("error = %#v, want *AdapterUnavailableError for the backend", err)
	}
	var nf *gpucore.BackendNotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("error %v does not wrap *BackendNotFoundError", err)
	}
}

func TestAcquireDevice_Canceled(t *testing.T) {
	release := make(chan struct{})
	destroyed := make(chan struct{})
	gpucore.Register("blocking-test", 0, func(context.Context, gpucore.AdapterOptions) (gpucore.Device, error) {
		<-release
		return &destroyNotifier{Device: software.New(software.WithWorkers(1)), done: destroyed}, nil
	}, nil)
	t.Cleanup(func() { gpucore.Unregister("blocking-test") })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := kernelcall.AcquireDevice(ctx, kernelcall.WithBackend("blocking-test"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if errors.Is(err, kernelcall.ErrAdapterUnavailable) {
		t.Error("cancellation reported as adapter unavailable")
	}

	// A device that arrives after the caller gave up is destroyed.
	close(release)
	select {
	case <-destroyed:
	case <-time.After(5 * time.Second):
		t.Fatal("late device was not destroyed")
	}
}

type destroyNotifier struct {
	gpucore.Device
	done chan struct{}
}

func (d *destroyNotifier) Destroy() {
	d.Device.Destroy()
	close(d.done)
}

func TestWithDevice_NotDestroyed(t *testing.T) {
	dev := newSoftware(t)
	c, err := kernelcall.AcquireDevice(context.Background(), kernelcall.WithDevice(dev))
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Close()

	// The device must still accept work.
	c2 := newCall(t, dev)
	out := make(kernelcall.Int32Buffer, 1)
	mustAdd(t, c2, kernelcall.Int32Buffer{1}, kernelcall.ReadOnly)
	mustAdd(t, c2, kernelcall.Int32Buffer{42}, kernelcall.ReadOnly)
	mustAdd(t, c2, out, kernelcall.Output)
	if err := c2.Run(context.Background(), kernels.Identity, kernelcall.Grid1D(1)); err != nil {
		t.Fatalf("Run on shared device error = %v", err)
	}
	if out[0] != 42 {
		t.Errorf("out = %v, want [42]", out)
	}
}

// =============================================================================
// KernelDispatcher and ResultReader
// =============================================================================

func TestIdentity_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, n := range []int{0, 1, 2, 255, 256, 257, 4097} {
		t.Run(fmt.Sprintf("float32/n=%d", n), func(t *testing.T) {
			in := make(kernelcall.Float32Buffer, n)
			for i := range in {
				in[i] = rng.Float32()*200 - 100
			}
			if n > 1 {
				in[1] = math.Float32frombits(0x7fc00001) // NaN payload
			}
			out := make(kernelcall.Float32Buffer, n)
			runIdentity(t, in, out)
			for i := range in {
				if math.Float32bits(out[i]) != math.Float32bits(in[i]) {
					t.Fatalf("n=%d: out[%d] bits %#x, want %#x", n, i, math.Float32bits(out[i]), math.Float32bits(in[i]))
				}
			}
		})
		t.Run(fmt.Sprintf("int32/n=%d", n), func(t *testing.T) {
			in := make(kernelcall.Int32Buffer, n)
			for i := range in {
				in[i] = rng.Int32() - math.MaxInt32/2
			}
			out := make(kernelcall.Int32Buffer, n)
			runIdentity(t, in, out)
			for i := range in {
				if out[i] != in[i] {
					t.Fatalf("n=%d: out[%d] = %d, want %d", n, i, out[i], in[i])
				}
			}
		})
	}
}

func runIdentity(t *testing.T, in, out kernelcall.HostBuffer) {
	t.Helper()
	c := newCall(t, newSoftware(t))
	mustAdd(t, c, kernelcall.Int32Buffer{int32(in.Len())}, kernelcall.ReadOnly)
	mustAdd(t, c, in, kernelcall.ReadOnly)
	mustAdd(t, c, out, kernelcall.Output)
	grid := kernelcall.GridFor(uint32(in.Len()), kernels.IdentityWorkgroupSize)
	if err := c.Run(context.Background(), kernels.Identity, grid); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestDispatch_DrainsAllScopes(t *testing.T) {
	tests := []struct {
		name    string
		kernel  kernelcall.Kernel
		wantErr error
	}{
		{"success", kernels.Identity, nil},
		{"validation failure", kernelcall.Kernel{Source: outOfRangeKernel, EntryPoint: "main"}, kernelcall.ErrValidation},
		{"missing entry point", kernelcall.Kernel{Source: kernels.Identity.Source, EntryPoint: "nope"}, kernelcall.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &countingDevice{Device: newSoftware(t)}
			c := newCall(t, dev)
			mustAdd(t, c, kernelcall.Int32Buffer{1}, kernelcall.ReadOnly)
			mustAdd(t, c, kernelcall.Float32Buffer{3}, kernelcall.ReadOnly)
			mustAdd(t, c, make(kernelcall.Float32Buffer, 1), kernelcall.Output)

			pushes, pops := dev.pushes.Load(), dev.pops.Load()
			err := c.Dispatch(context.Background(), tt.kernel, kernelcall.Grid1D(1))
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Dispatch() error = %v, want %v", err, tt.wantErr)
			}
			if got := dev.pushes.Load() - pushes; got != 3 {
				t.Errorf("Dispatch pushed %d scopes, want 3", got)
			}
			if got := dev.pops.Load() - pops; got != 3 {
				t.Errorf("Dispatch popped %d scopes, want 3", got)
			}
		})
	}
}

func TestDispatch_ZeroGrid(t *testing.T) {
	c := newCall(t, newSoftware(t))
	out := kernelcall.Float32Buffer{7, 8}
	mustAdd(t, c, kernelcall.Int32Buffer{2}, kernelcall.ReadOnly)
	mustAdd(t, c, kernelcall.Float32Buffer{1, 2}, kernelcall.ReadOnly)
	mustAdd(t, c, out, kernelcall.Output)

	if err := c.Run(context.Background(), kernels.Identity, kernelcall.Grid1D(0)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out[0] != 7 || out[1] != 8 {
		t.Errorf("out = %v, want pre-dispatch contents [7 8]", out)
	}
}

func TestDispatch_EmptyLayout(t *testing.T) {
	c := newCall(t, newSoftware(t))
	err := c.Dispatch(context.Background(), kernels.Identity, kernelcall.Grid1D(1))
	if !errors.Is(err, kernelcall.ErrValidation) {
		t.Fatalf("Dispatch() with no arguments error = %v, want ErrValidation", err)
	}
	if c.State() != kernelcall.StateFailed {
		t.Errorf("State() = %v, want Failed", c.State())
	}
}

func TestDispatch_GridLimit(t *testing.T) {
	dev := newSoftware(t)
	c := newCall(t, dev)
	mustAdd(t, c, kernelcall.Int32Buffer{1}, kernelcall.ReadOnly)
	mustAdd(t, c, kernelcall.Int32Buffer{1}, kernelcall.ReadOnly)
	mustAdd(t, c, make(kernelcall.Int32Buffer, 1), kernelcall.Output)

	limit := dev.Limits().MaxComputeWorkgroupsPerDimension
	err := c.Dispatch(context.Background(), kernels.Identity, kernelcall.Grid{X: 1, Y: limit + 1, Z: 1})
	var kee *kernelcall.KernelExecutionError
	if !errors.As(err, &kee) || kee.Scope != gpucore.ErrorFilterValidation {
		t.Fatalf("Dispatch() error = %v, want validation KernelExecutionError", err)
	}
	if !strings.Contains(kee.Message, "maxComputeWorkgroupsPerDimension") {
		t.Errorf("Message = %q", kee.Message)
	}
}

func TestDispatch_OutOfMemory(t *testing.T) {
	dev := newSoftware(t, software.WithMemoryBudget(64))
	c := newCall(t, dev)
	mustAdd(t, c, kernelcall.Int32Buffer{16}, kernelcall.ReadOnly)
	mustAdd(t, c, make(kernelcall.Float32Buffer, 16), kernelcall.ReadOnly)
	mustAdd(t, c, make(kernelcall.Float32Buffer, 16), kernelcall.Output)

	err := c.Dispatch(context.Background(), kernels.Identity, kernelcall.Grid1D(1))
	var kee *kernelcall.KernelExecutionError
	if !errors.As(err, &kee) {
		t.Fatalf("Dispatch() error = %v, want *KernelExecutionError", err)
	}

	// Binding the failed allocation is itself a validation error, which is
	// reported first; the out-of-memory error follows.
	if kee.Scope != gpucore.ErrorFilterValidation {
		t.Errorf("Scope = %v, want validation", kee.Scope)
	}
	if !errors.Is(err, kernelcall.ErrOutOfMemory) {
		t.Errorf("errors.Is(%v, ErrOutOfMemory) = false", err)
	}
	if !errors.Is(err, kernelcall.ErrValidation) {
		t.Errorf("errors.Is(%v, ErrValidation) = false", err)
	}
	if errors.Is(err, kernelcall.ErrInternal) {
		t.Errorf("errors.Is(%v, ErrInternal) = true", err)
	}
	found := false
	for _, e := range kee.Others {
		if e.Filter == gpucore.ErrorFilterOutOfMemory {
			found = true
		}
	}
	if !found {
		t.Errorf("Others = %v, want an out-of-memory error", kee.Others)
	}
}

func TestDispatch_KernelDoesNotCompile(t *testing.T) {
	dev := &countingDevice{Device: newSoftware(t)}
	c := newCall(t, dev)
	mustAdd(t, c, kernelcall.Int32Buffer{4}, kernelcall.ReadOnly)
	mustAdd(t, c, kernelcall.Float32Buffer{1, 2, 3, 4}, kernelcall.ReadOnly)
	mustAdd(t, c, make(kernelcall.Float32Buffer, 4), kernelcall.Output)

	broken := kernelcall.Kernel{Source: "this is not wgsl at all ;;; {{{", EntryPoint: "main"}
	err := c.Run(context.Background(), broken, kernelcall.Grid1D(1))
	if !errors.Is(err, kernelcall.ErrValidation) {
		t.Fatalf("Run() error = %v, want ErrValidation", err)
	}
	var kee *kernelcall.KernelExecutionError
	if !errors.As(err, &kee) {
		t.Fatalf("Run() error = %v, want *KernelExecutionError", err)
	}
	if !strings.Contains(kee.Message, "CreateShaderModule") || !strings.Contains(kee.Message, "parse error") {
		t.Errorf("Message = %q, want the shader module parse error", kee.Message)
	}
	if n := dev.maps.Load(); n != 0 {
		t.Errorf("MapAsync called %d times after a failed dispatch", n)
	}
}

func TestReadResults_MapTimeout(t *testing.T) {
	dev := &countingDevice{
		Device:    newSoftware(t),
		mapFuture: gpucore.NewFuture[struct{}],
	}
	c := newCall(t, dev, kernelcall.WithMapTimeout(20*time.Millisecond))
	mustAdd(t, c, kernelcall.Int32Buffer{1}, kernelcall.ReadOnly)
	mustAdd(t, c, kernelcall.Int32Buffer{1}, kernelcall.ReadOnly)
	mustAdd(t, c, make(kernelcall.Int32Buffer, 1), kernelcall.Output)

	err := c.Run(context.Background(), kernels.Identity, kernelcall.Grid1D(1))
	var rbe *kernelcall.ReadbackError
	if !errors.As(err, &rbe) {
		t.Fatalf("Run() error = %v, want *ReadbackError", err)
	}
	if rbe.Binding != 2 || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ReadbackError = %v, want binding 2 and DeadlineExceeded", rbe)
	}
}

// =============================================================================
// Kernels end to end
// =============================================================================

func TestElemwiseSqrt_SmallInput(t *testing.T) {
	c := newCall(t, newSoftware(t))
	in := kernelcall.Float32Buffer{0, 1, 4, 9, 16}
	out := make(kernelcall.Float32Buffer, len(in))
	mustAdd(t, c, kernelcall.Int32Buffer{int32(len(in))}, kernelcall.ReadOnly)
	mustAdd(t, c, in, kernelcall.ReadOnly)
	mustAdd(t, c, out, kernelcall.Output)

	if err := c.Run(context.Background(), kernels.ElemwiseSqrt, kernelcall.Grid1D(1)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i, want := range []float32{0, 1, 2, 3, 4} {
		if math.Abs(float64(out[i]-want)) > 1e-2 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want)
		}
	}
}

func TestMatmul_64(t *testing.T) {
	const n = 64
	rng := rand.New(rand.NewPCG(3, 4))
	a := make(kernelcall.Float32Buffer, n*n)
	b := make(kernelcall.Float32Buffer, n*n)
	for i := range a {
		a[i] = rng.Float32()
		b[i] = rng.Float32()
	}
	out := make(kernelcall.Float32Buffer, n*n)

	c := newCall(t, newSoftware(t))
	mustAdd(t, c, kernelcall.Int32Buffer{n}, kernelcall.ReadOnly)
	mustAdd(t, c, a, kernelcall.ReadOnly)
	mustAdd(t, c, b, kernelcall.ReadOnly)
	mustAdd(t, c, out, kernelcall.Output)

	grid := kernels.MatmulGrid(n)
	if grid != (kernelcall.Grid{X: 1, Y: 1, Z: 1}) {
		t.Fatalf("MatmulGrid(64) = %+v, want (1,1,1)", grid)
	}
	if err := c.Run(context.Background(), kernels.Matmul, grid); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for i := range n {
		for j := range n {
			var want float64
			for k := range n {
				want += float64(a[i*n+k]) * float64(b[k*n+j])
			}
			if got := float64(out[i*n+j]); math.Abs(got-want) > math.Abs(want)*1e-5 {
				t.Fatalf("C[%d][%d] = %v, want %v", i, j, got, want)
			}
		}
	}
}

func TestDispatch_OutOfRangeBinding(t *testing.T) {
	dev := &countingDevice{Device: newSoftware(t)}
	c := newCall(t, dev)
	mustAdd(t, c, kernelcall.Int32Buffer{4}, kernelcall.ReadOnly)
	mustAdd(t, c, kernelcall.Float32Buffer{1, 2, 3, 4}, kernelcall.ReadOnly)
	out := kernelcall.Float32Buffer{9, 9, 9, 9}
	mustAdd(t, c, out, kernelcall.Output)

	err := c.Run(context.Background(), kernelcall.Kernel{Source: outOfRangeKernel, EntryPoint: "main"}, kernelcall.Grid1D(1))
	if !errors.Is(err, kernelcall.ErrValidation) {
		t.Fatalf("Run() error = %v, want ErrValidation", err)
	}
	var kee *kernelcall.KernelExecutionError
	if !errors.As(err, &kee) || !strings.Contains(kee.Message, "@binding(3)") {
		t.Errorf("error = %v, want message naming @binding(3)", err)
	}
	if n := dev.maps.Load(); n != 0 {
		t.Errorf("MapAsync called %d times after a failed dispatch", n)
	}
	if out[0] != 9 {
		t.Errorf("output modified after failed dispatch: %v", out)
	}
}
