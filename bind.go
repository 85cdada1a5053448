package kernelcall

import (
	"fmt"

	"github.com/gogpu/kernelcall/gpucore"
)

// AddArgument allocates a device buffer for host, uploads its contents,
// and binds it to the next binding index. Indices start at 0 and follow
// the order of AddArgument calls; they must match the @binding order the
// kernel declares. Output arguments are read back into host by
// ReadResults, so host must already have the length of the result.
//
// Allocation failures are captured in error scopes of their own and
// reported by Dispatch, which is the single point where device errors
// reach the caller.
func (c *Call) AddArgument(host HostBuffer, access AccessMode) (Argument, error) {
	if err := c.expect("AddArgument", StateDeviceAcquired, StateArgumentsBound); err != nil {
		return Argument{}, err
	}
	if host == nil {
		return Argument{}, ErrNilHostBuffer
	}
	if access > Output {
		return Argument{}, fmt.Errorf("kernelcall: invalid access mode %d", access)
	}

	binding := uint32(len(c.args))
	arg := Argument{
		Binding: binding,
		Host:    host,
		Access:  access,
		Output:  access == Output,
	}
	usage := gpucore.BufferUsageStorage
	if arg.Output {
		arg.Access = ReadWrite
		usage |= gpucore.BufferUsageCopySrc
	}

	c.dev.PushErrorScope(gpucore.ErrorFilterValidation)
	c.dev.PushErrorScope(gpucore.ErrorFilterOutOfMemory)
	arg.Buffer = c.dev.CreateBuffer(&gpucore.BufferDescriptor{
		Label:            c.label("arg %d", binding),
		Size:             deviceSize(host.ByteLen()),
		Usage:            usage,
		MappedAtCreation: true,
	})
	c.buffers = append(c.buffers, arg.Buffer)
	oom := c.dev.PopErrorScope()
	c.allocScopes = append(c.allocScopes, c.dev.PopErrorScope(), oom)

	// A failed allocation returns an error object that cannot be mapped.
	// The device has already reported why.
	if raw, err := c.dev.MappedRange(arg.Buffer); err == nil {
		host.encode(raw)
		c.dev.Unmap(arg.Buffer)
	} else {
		c.log.Debug("kernelcall: argument upload skipped", "binding", binding, "err", err)
	}

	c.args = append(c.args, arg)
	c.state = StateArgumentsBound
	c.log.Debug("kernelcall: argument bound", "binding", binding, "kind", host.Kind().String(),
		"len", host.Len(), "access", access.String())
	return arg, nil
}

// AddInput binds host as a read-only argument.
func (c *Call) AddInput(host HostBuffer) (Argument, error) {
	return c.AddArgument(host, ReadOnly)
}

// AddOutput binds host as an output argument.
func (c *Call) AddOutput(host HostBuffer) (Argument, error) {
	return c.AddArgument(host, Output)
}
