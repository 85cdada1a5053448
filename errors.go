package kernelcall

import (
	"errors"
	"fmt"

	"github.com/gogpu/kernelcall/gpucore"
)

// Sentinel errors.
var (
	// ErrAdapterUnavailable is matched by AdapterUnavailableError.
	ErrAdapterUnavailable = errors.New("kernelcall: no compute-capable adapter")

	// ErrInvalidState is returned when an operation is called out of order,
	// for example AddArgument after Dispatch or any call after Close.
	ErrInvalidState = errors.New("kernelcall: invalid call state")

	// ErrNilHostBuffer is returned by AddArgument for a nil HostBuffer.
	ErrNilHostBuffer = errors.New("kernelcall: nil host buffer")

	// ErrValidation, ErrInternal and ErrOutOfMemory are matched by a
	// KernelExecutionError from the corresponding error scope.
	ErrValidation  = errors.New("kernelcall: validation error")
	ErrInternal    = errors.New("kernelcall: internal error")
	ErrOutOfMemory = errors.New("kernelcall: out of memory")
)

// AdapterUnavailableError is returned by AcquireDevice when no backend
// could provide a compute device.
type AdapterUnavailableError struct {
	// Backend is the requested backend, or empty for automatic selection.
	Backend string

	// Err is the registry error describing why each backend failed.
	Err error
}

func (e *AdapterUnavailableError) Error() string {
	msg := ErrAdapterUnavailable.Error()
	if e.Backend != "" {
		msg += " on backend " + e.Backend
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is ErrAdapterUnavailable.
func (e *AdapterUnavailableError) Is(target error) bool { return target == ErrAdapterUnavailable }

func (e *AdapterUnavailableError) Unwrap() error { return e.Err }

// KernelExecutionError reports the error scope that captured a failure
// during Dispatch. When several scopes captured errors, Scope is the first
// in the order validation, internal, out-of-memory, and Others holds the
// rest.
type KernelExecutionError struct {
	Scope   gpucore.ErrorFilter
	Message string

	// EntryPoint is the kernel entry point being dispatched.
	EntryPoint string

	// Others are errors captured by the remaining scopes.
	Others []*gpucore.DeviceError
}

func (e *KernelExecutionError) Error() string {
	msg := fmt.Sprintf("kernelcall: %s error dispatching %q: %s", e.Scope, e.EntryPoint, e.Message)
	if n := len(e.Others); n > 0 {
		msg += fmt.Sprintf(" (and %d more)", n)
	}
	return msg
}

// Is maps the scope to ErrValidation, ErrInternal or ErrOutOfMemory. The
// scopes of Others match too, so an out-of-memory allocation is visible
// behind the validation error it causes.
func (e *KernelExecutionError) Is(target error) bool {
	if filterSentinel(e.Scope) == target {
		return true
	}
	for _, o := range e.Others {
		if o != nil && filterSentinel(o.Filter) == target {
			return true
		}
	}
	return false
}

func filterSentinel(f gpucore.ErrorFilter) error {
	switch f {
	case gpucore.ErrorFilterValidation:
		return ErrValidation
	case gpucore.ErrorFilterInternal:
		return ErrInternal
	case gpucore.ErrorFilterOutOfMemory:
		return ErrOutOfMemory
	}
	return nil
}

// ReadbackError is returned by ReadResults when an output could not be
// mapped for reading.
type ReadbackError struct {
	Binding uint32
	Err     error
}

func (e *ReadbackError) Error() string {
	return fmt.Sprintf("kernelcall: reading back binding %d: %v", e.Binding, e.Err)
}

func (e *ReadbackError) Unwrap() error { return e.Err }
