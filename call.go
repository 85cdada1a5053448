package kernelcall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/kernelcall/gpucore"
)

// State is the lifecycle stage of a Call.
type State uint8

// Call states, in lifecycle order. StateFailed is entered when Dispatch or
// ReadResults fails; only Close is valid afterwards.
const (
	StateCreated State = iota
	StateDeviceAcquired
	StateArgumentsBound
	StateDispatched
	StateResultsRead
	StateFailed
	StateDiscarded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateDeviceAcquired:
		return "DeviceAcquired"
	case StateArgumentsBound:
		return "ArgumentsBound"
	case StateDispatched:
		return "Dispatched"
	case StateResultsRead:
		return "ResultsRead"
	case StateFailed:
		return "Failed"
	case StateDiscarded:
		return "Discarded"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// pendingReadback copies one output argument back to the host.
type pendingReadback struct {
	binding uint32
	host    HostBuffer
	staging gpucore.BufferID
	byteLen int
}

// Call runs one compute kernel against host buffers: acquire a device, bind
// arguments in order, dispatch once, read the outputs back, and Close.
//
// A Call is used for a single dispatch and is not safe for concurrent use.
// Close must be called on every path to release device memory.
//
// Example:
//
//	call, err := kernelcall.AcquireDevice(ctx)
//	if err != nil {
//	    return err
//	}
//	defer call.Close()
//
//	call.AddInput(kernelcall.Int32Buffer{int32(len(in))})
//	call.AddInput(kernelcall.Float32Buffer(in))
//	call.AddOutput(kernelcall.Float32Buffer(out))
//	err = call.Run(ctx, kernels.ElemwiseSqrt, kernelcall.GridFor(uint32(len(in)), 256))
type Call struct {
	opts  options
	state State
	log   *slog.Logger

	dev        gpucore.Device
	ownsDevice bool

	args    []Argument
	pending []pendingReadback

	// buffers lists every buffer the Call allocated, staging included.
	buffers []gpucore.BufferID

	// allocScopes hold the validation and out-of-memory scopes popped
	// around each argument allocation, awaited by Dispatch.
	allocScopes []*gpucore.Future[*gpucore.DeviceError]
}

// New returns a Call in StateCreated. AcquireDevice must be called before
// any other operation.
func New(opts ...Option) *Call {
	o := applyOptions(opts)
	c := &Call{opts: o, log: o.logger}
	if c.log == nil {
		c.log = Logger()
	}
	return c
}

// AcquireDevice creates a Call and acquires its device.
func AcquireDevice(ctx context.Context, opts ...Option) (*Call, error) {
	c := New(opts...)
	if err := c.AcquireDevice(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewCall returns a Call in StateDeviceAcquired that uses dev. The Call
// does not destroy dev on Close.
func NewCall(dev gpucore.Device, opts ...Option) *Call {
	c := New(append(opts, WithDevice(dev))...)
	c.attach(dev, false)
	return c
}

// State returns the current lifecycle state.
func (c *Call) State() State { return c.state }

// Device returns the device, or nil before AcquireDevice.
func (c *Call) Device() gpucore.Device { return c.dev }

// Arguments returns the bound arguments in binding order.
func (c *Call) Arguments() []Argument {
	out := make([]Argument, len(c.args))
	copy(out, c.args)
	return out
}

// Layout returns the binding layout derived from the arguments.
func (c *Call) Layout() []gpucore.BindGroupLayoutEntry {
	out := make([]gpucore.BindGroupLayoutEntry, len(c.args))
	for i, a := range c.args {
		out[i] = a.layoutEntry()
	}
	return out
}

// AcquireDevice requests an adapter and a logical device from the gpucore
// backend registry, or adopts the device given with WithDevice. It waits
// for the request, honouring ctx.
func (c *Call) AcquireDevice(ctx context.Context) error {
	if err := c.expect("AcquireDevice", StateCreated); err != nil {
		return err
	}
	if c.opts.device != nil {
		c.attach(c.opts.device, false)
		return nil
	}

	adapterOpts := gpucore.AdapterOptions{PowerPreference: c.opts.power, Label: c.opts.label}
	backend := c.opts.backend
	fut := gpucore.Go(func() (gpucore.Device, error) {
		if backend != "" {
			return gpucore.RequestDeviceByName(ctx, backend, adapterOpts)
		}
		return gpucore.RequestDevice(ctx, adapterOpts)
	})

	dev, err := fut.Wait(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			// The request may still succeed after we stop waiting.
			go func() {
				if d, err := fut.Wait(context.Background()); err == nil {
					d.Destroy()
				}
			}()
			return fmt.Errorf("kernelcall: acquiring device: %w", err)
		}
		return &AdapterUnavailableError{Backend: backend, Err: err}
	}

	c.attach(dev, true)
	info := dev.Info()
	c.log.Info("kernelcall: device acquired", "backend", info.Backend,
		"adapter", info.Name, "type", info.DeviceType.String())
	return nil
}

func (c *Call) attach(dev gpucore.Device, owned bool) {
	c.dev = dev
	c.ownsDevice = owned
	c.state = StateDeviceAcquired
	if c.opts.logger != nil {
		propagateLogger(dev, c.opts.logger)
	}
}

// expect returns ErrInvalidState unless the Call is in one of states.
func (c *Call) expect(op string, states ...State) error {
	for _, s := range states {
		if c.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s in state %s", ErrInvalidState, op, c.state)
}

func (c *Call) label(format string, args ...any) string {
	return c.opts.label + " " + fmt.Sprintf(format, args...)
}

// Close releases every buffer the Call allocated and, when the Call
// acquired the device itself, the device. Close is idempotent.
func (c *Call) Close() error {
	if c.state == StateDiscarded {
		return nil
	}
	if c.dev != nil {
		for _, id := range c.buffers {
			c.dev.DestroyBuffer(id)
		}
		if c.ownsDevice {
			c.dev.Destroy()
		}
		c.log.Debug("kernelcall: call closed", "buffers", len(c.buffers), "destroyedDevice", c.ownsDevice)
	}
	c.buffers = nil
	c.pending = nil
	c.allocScopes = nil
	c.state = StateDiscarded
	return nil
}
