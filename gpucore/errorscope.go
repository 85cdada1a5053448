package gpucore

import (
	"errors"
	"fmt"
	"sync"
)

// ErrorFilter selects the class of device errors an error scope captures.
type ErrorFilter uint8

// Error filters.
const (
	// ErrorFilterValidation captures API misuse and shader/layout mismatches.
	ErrorFilterValidation ErrorFilter = iota

	// ErrorFilterOutOfMemory captures allocation failures.
	ErrorFilterOutOfMemory

	// ErrorFilterInternal captures implementation failures the caller
	// could not have prevented.
	ErrorFilterInternal
)

// String returns the WebGPU name of the filter.
func (f ErrorFilter) String() string {
	switch f {
	case ErrorFilterValidation:
		return "validation"
	case ErrorFilterOutOfMemory:
		return "out-of-memory"
	case ErrorFilterInternal:
		return "internal"
	default:
		return fmt.Sprintf("ErrorFilter(%d)", uint8(f))
	}
}

// DeviceError is an error raised asynchronously by a device and delivered
// through an error scope.
type DeviceError struct {
	Filter  ErrorFilter
	Message string
}

func (e *DeviceError) Error() string {
	return e.Filter.String() + " error: " + e.Message
}

// ErrEmptyScopeStack is returned when popping an error scope that was
// never pushed.
var ErrEmptyScopeStack = errors.New("gpucore: pop on empty error scope stack")

type errorScope struct {
	filter ErrorFilter
	err    *DeviceError
}

// ErrorScopeStack implements the WebGPU error scope model for backends.
// Each scope keeps the first error matching its filter; errors that match
// no open scope are uncaptured.
//
// The zero value is ready to use. It is safe for concurrent use.
type ErrorScopeStack struct {
	mu     sync.Mutex
	scopes []errorScope

	// OnUncaptured receives errors no open scope captured.
	// When nil they are logged at warn level.
	OnUncaptured func(*DeviceError)
}

// Push opens a scope capturing errors of the given filter.
func (s *ErrorScopeStack) Push(filter ErrorFilter) {
	s.mu.Lock()
	s.scopes = append(s.scopes, errorScope{filter: filter})
	s.mu.Unlock()
}

// Pop closes the innermost scope and returns its captured error, nil when
// the scope saw none.
func (s *ErrorScopeStack) Pop() (*DeviceError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.scopes)
	if n == 0 {
		return nil, ErrEmptyScopeStack
	}
	top := s.scopes[n-1]
	s.scopes = s.scopes[:n-1]
	return top.err, nil
}

// Depth returns the number of open scopes.
func (s *ErrorScopeStack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scopes)
}

// Report delivers err to the innermost open scope with a matching filter.
func (s *ErrorScopeStack) Report(err *DeviceError) {
	if err == nil {
		return
	}

	s.mu.Lock()
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if s.scopes[i].filter != err.Filter {
			continue
		}
		if s.scopes[i].err == nil {
			s.scopes[i].err = err
		}
		s.mu.Unlock()
		return
	}
	hook := s.OnUncaptured
	s.mu.Unlock()

	if hook != nil {
		hook(err)
		return
	}
	Logger().Warn("gpucore: uncaptured device error",
		"filter", err.Filter.String(), "message", err.Message)
}

// Reportf formats and reports a device error.
func (s *ErrorScopeStack) Reportf(filter ErrorFilter, format string, args ...any) {
	s.Report(&DeviceError{Filter: filter, Message: fmt.Sprintf(format, args...)})
}
