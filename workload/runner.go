package workload

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/gogpu/kernelcall"
	"github.com/gogpu/kernelcall/report"
)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCallOptions sets the options every run passes to
// kernelcall.AcquireDevice.
func WithCallOptions(opts ...kernelcall.Option) RunnerOption {
	return func(r *Runner) {
		r.callOpts = opts
	}
}

// WithAcquire replaces device acquisition. Tests use it to run workloads
// on a shared device through kernelcall.NewCall.
func WithAcquire(acquire func(ctx context.Context) (*kernelcall.Call, error)) RunnerOption {
	return func(r *Runner) {
		r.acquire = acquire
	}
}

// WithSeed makes generated inputs reproducible.
func WithSeed(seed uint64) RunnerOption {
	return func(r *Runner) {
		r.seed = seed
		r.seeded = true
	}
}

// Runner executes workloads from a Registry one at a time.
type Runner struct {
	reg  *Registry
	sink report.Sink

	callOpts []kernelcall.Option
	acquire  func(ctx context.Context) (*kernelcall.Call, error)
	seed     uint64
	seeded   bool

	running atomic.Bool
}

// NewRunner returns a Runner over reg that reports to sink. A nil sink
// discards output.
func NewRunner(reg *Registry, sink report.Sink, opts ...RunnerOption) *Runner {
	if sink == nil {
		sink = report.Discard
	}
	r := &Runner{reg: reg, sink: sink}
	for _, opt := range opts {
		opt(r)
	}
	if r.acquire == nil {
		r.acquire = func(ctx context.Context) (*kernelcall.Call, error) {
			return kernelcall.AcquireDevice(ctx, r.callOpts...)
		}
	}
	return r
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool { return r.running.Load() }

// Run executes the named workload. It returns ErrRunInProgress without
// running anything if another run has not finished. A failure is logged to
// the sink as "run failed: <err>" and returned; the Runner accepts the
// next run either way.
func (r *Runner) Run(ctx context.Context, name string) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer r.running.Store(false)

	w, err := r.reg.Get(name)
	if err != nil {
		r.sink.Error("run failed: " + err.Error())
		return err
	}

	env := &Env{Acquire: r.acquire, Sink: r.sink, Rand: r.newRand()}
	start := time.Now()
	if err := w.Run(ctx, env); err != nil {
		r.sink.Error("run failed: " + err.Error())
		return err
	}
	kernelcall.Logger().Debug("workload: run complete", "workload", name, "elapsed", time.Since(start))
	return nil
}

func (r *Runner) newRand() *rand.Rand {
	seed := r.seed
	if !r.seeded {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
