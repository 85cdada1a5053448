package kernelcall

import (
	"log/slog"
	"time"

	"github.com/gogpu/kernelcall/gpucore"
)

// Option configures a Call.
//
// Example:
//
//	call, err := kernelcall.AcquireDevice(ctx,
//	    kernelcall.WithBackend("software"),
//	    kernelcall.WithMapTimeout(5*time.Second),
//	)
type Option func(*options)

// options holds optional configuration for a Call.
type options struct {
	backend    string
	device     gpucore.Device
	logger     *slog.Logger
	mapTimeout time.Duration
	label      string
	power      gpucore.PowerPreference
}

// defaultOptions returns the default call options.
func defaultOptions() options {
	return options{
		label: "kernelcall",
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithBackend requests a device from the named gpucore backend instead of
// the highest priority available one.
func WithBackend(name string) Option {
	return func(o *options) {
		o.backend = name
	}
}

// WithDevice makes AcquireDevice use dev instead of requesting one. The
// Call does not destroy a device supplied this way.
func WithDevice(dev gpucore.Device) Option {
	return func(o *options) {
		o.device = dev
	}
}

// WithLogger sets the logger for this Call and propagates it to the device
// if the device accepts one. By default the package logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMapTimeout bounds each output mapping wait in ReadResults. Zero, the
// default, waits as long as the context allows.
func WithMapTimeout(d time.Duration) Option {
	return func(o *options) {
		o.mapTimeout = d
	}
}

// WithLabel sets the prefix of the debug labels given to device objects.
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}

// WithPowerPreference is passed to the backend when requesting a device.
func WithPowerPreference(p gpucore.PowerPreference) Option {
	return func(o *options) {
		o.power = p
	}
}
