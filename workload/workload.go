package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/gogpu/kernelcall"
	"github.com/gogpu/kernelcall/report"
)

var (
	// ErrUnknownWorkload is returned for a name that was never registered.
	ErrUnknownWorkload = errors.New("workload: unknown workload")

	// ErrDuplicateWorkload is returned when a name is registered twice.
	ErrDuplicateWorkload = errors.New("workload: duplicate workload")

	// ErrRunInProgress is returned by Runner.Run while another run is
	// executing.
	ErrRunInProgress = errors.New("workload: run in progress")

	// ErrIncorrectResult is returned when a correctness check fails.
	ErrIncorrectResult = errors.New("workload: incorrect result")
)

// Workload is one runnable benchmark or check.
type Workload interface {
	// Name identifies the workload in a Registry.
	Name() string

	// Run executes the workload once. It acquires its own Call through
	// env.Acquire and closes it before returning.
	Run(ctx context.Context, env *Env) error
}

// Env carries everything a workload needs for one run.
type Env struct {
	// Acquire returns a new Call with its device acquired.
	Acquire func(ctx context.Context) (*kernelcall.Call, error)

	// Sink receives progress lines.
	Sink report.Sink

	// Rand generates input data.
	Rand *rand.Rand
}

// acquire calls e.Acquire, wrapping its error with the workload name.
func (e *Env) acquire(ctx context.Context, name string) (*kernelcall.Call, error) {
	c, err := e.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: acquire device: %w", name, err)
	}
	return c, nil
}

// Registry is an ordered set of workloads. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	workloads []Workload
	byName    map[string]Workload
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Workload)}
}

// Register adds w. Names must be unique and non-empty.
func (r *Registry) Register(w Workload) error {
	name := w.Name()
	if name == "" {
		return errors.New("workload: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateWorkload, name)
	}
	r.byName[name] = w
	r.workloads = append(r.workloads, w)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(w Workload) {
	if err := r.Register(w); err != nil {
		panic(err)
	}
}

// Names returns the workload names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.workloads))
	for i, w := range r.workloads {
		names[i] = w.Name()
	}
	return names
}

// Get returns the workload registered under name.
func (r *Registry) Get(name string) (Workload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkload, name)
	}
	return w, nil
}

// Default returns a registry with the stock workloads: ElemwiseSqrt, the
// 64, 1024 and 4096 matrix products, and Identity.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister(&ElemwiseSqrt{})
	for _, n := range []uint32{64, 1024, 4096} {
		r.MustRegister(&Matmul{Size: n})
	}
	r.MustRegister(&Identity{N: DefaultIdentityN})
	return r
}
