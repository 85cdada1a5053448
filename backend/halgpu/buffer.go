package halgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/kernelcall/gpucore"
	"github.com/gogpu/wgpu/hal"
)

type mapState uint8

const (
	unmapped mapState = iota
	mappedAtCreation
	mapPending
	mappedForRead
	mappedForWrite
)

// errMapAborted fails a pending map request that was cancelled by Unmap or
// DestroyBuffer before it completed.
var errMapAborted = errors.New("map request aborted")

type buffer struct {
	label string
	size  uint64
	usage gpucore.BufferUsage
	hal   hal.Buffer

	// shadow is the host copy handed out by MappedRange. Writes are flushed
	// with queue.WriteBuffer at Unmap; reads are filled by queue.ReadBuffer.
	shadow []byte

	state mapState
	// mapGen invalidates in-flight MapAsync requests.
	mapGen    uint64
	lastUse   uint64
	destroyed bool
}

func (b *buffer) release() {
	b.destroyed = true
	b.state = unmapped
	b.mapGen++
	b.shadow = nil
}

func (b *buffer) String() string {
	if b.label != "" {
		return fmt.Sprintf("buffer %q", b.label)
	}
	return "buffer"
}

// halBufferUsage converts usage flags. Buffers written through a host
// shadow also need CopyDst so the queue can upload the shadow.
func halBufferUsage(desc *gpucore.BufferDescriptor) gputypes.BufferUsage {
	u := desc.Usage
	var out gputypes.BufferUsage
	if u.Has(gpucore.BufferUsageMapRead) {
		out |= gputypes.BufferUsageMapRead
	}
	if u.Has(gpucore.BufferUsageMapWrite) {
		out |= gputypes.BufferUsageMapWrite
	}
	if u.Has(gpucore.BufferUsageCopySrc) {
		out |= gputypes.BufferUsageCopySrc
	}
	if u.Has(gpucore.BufferUsageCopyDst) || desc.MappedAtCreation || u.Has(gpucore.BufferUsageMapWrite) {
		out |= gputypes.BufferUsageCopyDst
	}
	if u.Has(gpucore.BufferUsageUniform) {
		out |= gputypes.BufferUsageUniform
	}
	if u.Has(gpucore.BufferUsageStorage) {
		out |= gputypes.BufferUsageStorage
	}
	return out
}

// CreateBuffer implements gpucore.Device.
func (d *Device) CreateBuffer(desc *gpucore.BufferDescriptor) gpucore.BufferID {
	if d.lost() {
		return gpucore.BufferID(d.buffers.InsertInvalid())
	}
	if msg := gpucore.ValidateBufferDescriptor(desc, d.Limits()); msg != "" {
		d.validationf("CreateBuffer %q: %s", desc.Label, msg)
		return gpucore.BufferID(d.buffers.InsertInvalid())
	}

	// hal rejects empty buffers; WebGPU allows them.
	allocSize := max((desc.Size+3)&^3, 4)
	hb, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  allocSize,
		Usage: halBufferUsage(desc),
	})
	if err != nil {
		d.reportHAL(fmt.Sprintf("CreateBuffer %q (%d bytes)", desc.Label, desc.Size), err)
		return gpucore.BufferID(d.buffers.InsertInvalid())
	}

	b := &buffer{label: desc.Label, size: desc.Size, usage: desc.Usage, hal: hb}
	if desc.MappedAtCreation {
		b.state = mappedAtCreation
		b.shadow = make([]byte, desc.Size)
	}
	id := gpucore.BufferID(d.buffers.Insert(b))
	d.log().Debug("halgpu: buffer created", "id", id, "label", desc.Label,
		"size", desc.Size, "usage", desc.Usage.String())
	return id
}

// MappedRange implements gpucore.Device.
func (d *Device) MappedRange(id gpucore.BufferID) ([]byte, error) {
	b, err := d.buffers.Get(uint64(id))
	if err != nil {
		return nil, fmt.Errorf("halgpu: MappedRange(%d): %w", id, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch b.state {
	case mappedAtCreation, mappedForRead, mappedForWrite:
		return b.shadow, nil
	case mapPending:
		return nil, fmt.Errorf("halgpu: MappedRange: %s has a map request pending", b)
	default:
		return nil, fmt.Errorf("halgpu: MappedRange: %s is not mapped", b)
	}
}

// Unmap implements gpucore.Device. Host writes reach the device here.
func (d *Device) Unmap(id gpucore.BufferID) {
	b, err := d.buffers.Get(uint64(id))
	if err != nil {
		if !d.lost() {
			d.validationf("Unmap(%d): %v", id, err)
		}
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch b.state {
	case mappedAtCreation, mappedForWrite:
		if len(b.shadow) > 0 {
			d.queue.WriteBuffer(b.hal, 0, b.shadow)
		}
	case mapPending:
		b.mapGen++
	}
	b.state = unmapped
	b.shadow = nil
}

// MapAsync implements gpucore.Device. The returned future resolves after
// every submission issued so far has completed and, for reads, the buffer
// contents have been copied into the host shadow.
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
	if b.state != unmapped {
		d.mu.Unlock()
		return fail("%s is already mapped or has a map request pending", b)
	}
	if msg := gpucore.ValidateMapMode(b.usage, mode); msg != "" {
		d.mu.Unlock()
		return fail("%s %s", b, msg)
	}
	b.state = mapPending
	gen := b.mapGen
	target := d.submitted
	d.mu.Unlock()

	return gpucore.Go(func() (struct{}, error) {
		data, err := d.mapContents(b, mode, target)

		d.mu.Lock()
		defer d.mu.Unlock()
		if b.mapGen != gen || b.destroyed {
			return struct{}{}, fmt.Errorf("%w: %s: %w", gpucore.ErrMapFailed, b, errMapAborted)
		}
		if err != nil {
			b.state = unmapped
			return struct{}{}, fmt.Errorf("%w: %s: %w", gpucore.ErrMapFailed, b, err)
		}
		b.shadow = data
		if mode == gpucore.MapModeRead {
			b.state = mappedForRead
		} else {
			b.state = mappedForWrite
		}
		return struct{}{}, nil
	})
}

// mapContents waits for the submissions up to target and returns the host
// view for a map request. Write mappings start zeroed.
func (d *Device) mapContents(b *buffer, mode gpucore.MapMode, target uint64) ([]byte, error) {
	if err := d.waitFor(target); err != nil {
		return nil, err
	}
	data := make([]byte, b.size)
	if mode != gpucore.MapModeRead || b.size == 0 {
		return data, nil
	}
	if err := d.queue.ReadBuffer(b.hal, 0, data); err != nil {
		return nil, fmt.Errorf("read back: %w", err)
	}
	return data, nil
}

// DestroyBuffer implements gpucore.Device. The hal buffer outlives any
// submission still using it.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	b, ok := d.buffers.Remove(uint64(id))
	if !ok {
		return
	}
	d.mu.Lock()
	b.release()
	lastUse := b.lastUse
	d.mu.Unlock()
	d.releaseAfter(lastUse, func() { d.device.DestroyBuffer(b.hal) })
}
