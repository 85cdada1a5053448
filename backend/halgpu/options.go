package halgpu

import (
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/kernelcall/gpucore"
)

// DefaultFenceTimeout bounds a single wait for submitted work.
const DefaultFenceTimeout = 5 * time.Second

// Option configures a Device during creation.
type Option func(*options)

type options struct {
	limits       gputypes.Limits
	name         string
	deviceType   gpucore.DeviceType
	fenceTimeout time.Duration
}

func defaultOptions() options {
	return options{
		limits:       gputypes.DefaultLimits(),
		name:         "hal device",
		deviceType:   gpucore.DeviceTypeOther,
		fenceTimeout: DefaultFenceTimeout,
	}
}

// WithLimits sets the limits the device was opened with. They are the
// limits the device validates against.
func WithLimits(l gputypes.Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithAdapterInfo sets the adapter name and type reported by Info.
func WithAdapterInfo(name string, t gpucore.DeviceType) Option {
	return func(o *options) {
		o.name = name
		o.deviceType = t
	}
}

// WithFenceTimeout bounds each wait for submitted work. A wait that times
// out fails the pending map request.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.fenceTimeout = d
		}
	}
}
