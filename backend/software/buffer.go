package software

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/kernelcall/gpucore"
)

type mapState uint8

const (
	unmapped mapState = iota
	mappedAtCreation
	mappedForRead
	mappedForWrite
)

type buffer struct {
	label string
	size  uint64
	usage gpucore.BufferUsage

	// words backs data so that typed views are 4-byte aligned.
	words []uint32
	data  []byte

	state     mapState
	destroyed bool
}

func newBuffer(desc *gpucore.BufferDescriptor) *buffer {
	words := make([]uint32, (desc.Size+3)/4)
	b := &buffer{
		label: desc.Label,
		size:  desc.Size,
		usage: desc.Usage,
		words: words,
	}
	if len(words) > 0 {
		b.data = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), desc.Size)
	}
	return b
}

func (b *buffer) release() {
	b.destroyed = true
	b.state = unmapped
	b.words = nil
	b.data = nil
}

func (b *buffer) String() string {
	if b.label != "" {
		return fmt.Sprintf("buffer %q", b.label)
	}
	return "buffer"
}

// CreateBuffer implements gpucore.Device.
func (d *Device) CreateBuffer(desc *gpucore.BufferDescriptor) gpucore.BufferID {
	if d.lost() {
		return gpucore.BufferID(d.buffers.InsertInvalid())
	}
	if msg := gpucore.ValidateBufferDescriptor(desc, d.opts.limits); msg != "" {
		d.validationf("CreateBuffer %q: %s", desc.Label, msg)
		return gpucore.BufferID(d.buffers.InsertInvalid())
	}

	d.mu.Lock()
	if d.opts.budget > 0 && d.allocated+desc.Size > d.opts.budget {
		allocated := d.allocated
		d.mu.Unlock()
		d.scopes.Reportf(gpucore.ErrorFilterOutOfMemory,
			"CreateBuffer %q: %d bytes requested, %d of %d bytes in use",
			desc.Label, desc.Size, allocated, d.opts.budget)
		return gpucore.BufferID(d.buffers.InsertInvalid())
	}
	d.allocated += desc.Size
	d.mu.Unlock()

	b := newBuffer(desc)
	if desc.MappedAtCreation {
		b.state = mappedAtCreation
	}
	id := gpucore.BufferID(d.buffers.Insert(b))
	d.log().Debug("software: buffer created", "id", id, "label", desc.Label,
		"size", desc.Size, "usage", desc.Usage.String())
	return id
}

// MappedRange implements gpucore.Device.
func (d *Device) MappedRange(id gpucore.BufferID) ([]byte, error) {
	b, err := d.buffers.Get(uint64(id))
	if err != nil {
		return nil, fmt.Errorf("software: MappedRange(%d): %w", id, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.state == unmapped {
		return nil, fmt.Errorf("software: MappedRange: %s is not mapped", b)
	}
	return b.data, nil
}

// Unmap implements gpucore.Device.
func (d *Device) Unmap(id gpucore.BufferID) {
	b, err := d.buffers.Get(uint64(id))
	if err != nil {
		if !d.lost() {
			d.validationf("Unmap(%d): %v", id, err)
		}
		return
	}
	d.mu.Lock()
	b.state = unmapped
	d.mu.Unlock()
}

// MapAsync implements gpucore.Device.
func (d *Device) MapAsync(id gpucore.BufferID, mode gpucore.MapMode) *gpucore.Future[struct{}] {
	fail := func(format string, args ...any) *gpucore.Future[struct{}] {
		msg := fmt.Sprintf(format, args...)
		if !d.lost() {
			d.validationf("MapAsync: %s", msg)
		}
		return gpucore.Failed[struct{}](fmt.Errorf("%w: %s", gpucore.ErrMapFailed, msg))
	}

	b, err := d.buffers.Get(uint64(id))
	if err != nil {
		return fail("buffer %d: %v", id, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case b.state != unmapped:
		return fail("%s is already mapped", b)
	}
	if msg := gpucore.ValidateMapMode(b.usage, mode); msg != "" {
		return fail("%s %s", b, msg)
	}

	if mode == gpucore.MapModeRead {
		b.state = mappedForRead
	} else {
		b.state = mappedForWrite
	}
	return gpucore.Resolved(struct{}{})
}

// DestroyBuffer implements gpucore.Device.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	b, ok := d.buffers.Remove(uint64(id))
	if !ok {
		return
	}
	d.mu.Lock()
	d.allocated -= b.size
	b.release()
	d.mu.Unlock()
}
