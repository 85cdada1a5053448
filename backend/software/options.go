package software

import "github.com/gogpu/kernelcall/gpucore"

// Option configures a Device during creation.
//
// Example:
//
//	dev := software.New(software.WithWorkers(4), software.WithMemoryBudget(64<<20))
type Option func(*options)

// options holds optional configuration for Device creation.
type options struct {
	name    string
	limits  gpucore.Limits
	workers int
	budget  uint64
}

// defaultOptions returns the default device options.
func defaultOptions() options {
	return options{
		name:    "software reference device",
		limits:  gpucore.DefaultLimits(),
		workers: 0, // GOMAXPROCS
		budget:  0, // unlimited
	}
}

// WithLimits overrides the limits the device validates against.
func WithLimits(l gpucore.Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithWorkers sets the number of goroutines that execute workgroups.
// Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithMemoryBudget caps the total bytes of live buffers. Allocations that
// would exceed it are reported as out-of-memory errors. Zero means no cap.
func WithMemoryBudget(bytes uint64) Option {
	return func(o *options) {
		o.budget = bytes
	}
}

// WithName sets the adapter name reported by Info.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}
