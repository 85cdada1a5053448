package kernelcall

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/kernelcall/gpucore"
)

// ElementKind is the element type of a host buffer. Both kinds are 4 bytes
// wide.
type ElementKind uint8

// Element kinds.
const (
	ElementInt32 ElementKind = iota
	ElementFloat32
)

// String returns the WGSL scalar type name.
func (k ElementKind) String() string {
	if k == ElementFloat32 {
		return "f32"
	}
	return "i32"
}

// elementSize is the byte width of every element kind.
const elementSize = 4

// HostBuffer is a flat host array bound to a kernel argument. It is
// implemented by Int32Buffer and Float32Buffer only.
type HostBuffer interface {
	// Kind returns the element type.
	Kind() ElementKind

	// Len returns the number of elements.
	Len() int

	// ByteLen returns Len() * 4.
	ByteLen() int

	// encode writes the elements little-endian into dst.
	encode(dst []byte)

	// decode overwrites the elements from little-endian src.
	decode(src []byte)
}

// Int32Buffer is a HostBuffer of 32-bit signed integers.
type Int32Buffer []int32

func (Int32Buffer) Kind() ElementKind { return ElementInt32 }
func (b Int32Buffer) Len() int        { return len(b) }
func (b Int32Buffer) ByteLen() int    { return len(b) * elementSize }

func (b Int32Buffer) encode(dst []byte) {
	for i, v := range b {
		binary.LittleEndian.PutUint32(dst[i*elementSize:], uint32(v))
	}
}

func (b Int32Buffer) decode(src []byte) {
	for i := range b {
		b[i] = int32(binary.LittleEndian.Uint32(src[i*elementSize:]))
	}
}

// Float32Buffer is a HostBuffer of 32-bit floats.
type Float32Buffer []float32

func (Float32Buffer) Kind() ElementKind { return ElementFloat32 }
func (b Float32Buffer) Len() int        { return len(b) }
func (b Float32Buffer) ByteLen() int    { return len(b) * elementSize }

func (b Float32Buffer) encode(dst []byte) {
	for i, v := range b {
		binary.LittleEndian.PutUint32(dst[i*elementSize:], math.Float32bits(v))
	}
}

func (b Float32Buffer) decode(src []byte) {
	for i := range b {
		b[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*elementSize:]))
	}
}

// AccessMode selects how a kernel may use an argument.
type AccessMode uint8

// Access modes.
const (
	// ReadOnly binds the argument as read-only storage.
	ReadOnly AccessMode = iota

	// ReadWrite binds the argument as read-write storage without reading
	// it back.
	ReadWrite

	// Output binds the argument as read-write storage and copies it back
	// into the host buffer after the dispatch.
	Output
)

// String returns the access mode name.
func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// Argument is a host buffer bound to a kernel binding slot.
type Argument struct {
	// Binding is the @binding index in group 0, assigned in add order.
	Binding uint32

	// Host is the caller's array. Outputs are overwritten by ReadResults.
	Host HostBuffer

	// Access is ReadOnly or ReadWrite; Output arguments are ReadWrite.
	Access AccessMode

	// Buffer is the device buffer holding the argument.
	Buffer gpucore.BufferID

	// Output marks arguments read back after the dispatch.
	Output bool
}

// layoutEntry returns the bind group layout entry for the argument.
func (a Argument) layoutEntry() gpucore.BindGroupLayoutEntry {
	typ := gpucore.BindingTypeReadOnlyStorageBuffer
	if a.Access != ReadOnly {
		typ = gpucore.BindingTypeStorageBuffer
	}
	return gpucore.BindGroupLayoutEntry{
		Binding:    a.Binding,
		Visibility: gpucore.ShaderStageCompute,
		Type:       typ,
	}
}

// deviceSize returns the device allocation for a host byte length: WebGPU
// forbids mapping an empty buffer, so zero-length arrays get one word.
func deviceSize(byteLen int) uint64 {
	return uint64(max(byteLen, elementSize))
}
