package halgpu

import (
	"fmt"
	"time"

	"github.com/gogpu/kernelcall/gpucore"
	"github.com/gogpu/wgpu/hal"
)

// command is a recorded command with its IDs resolved to resources.
type command struct {
	kind     gpucore.CommandKind
	label    string
	pipeline *computePipeline
	index    uint32
	group    *bindGroup
	x, y, z  uint32

	src, dst       *buffer
	srcOff, dstOff uint64
	size           uint64
}

type commandBuffer struct {
	label    string
	commands []command
}

// CreateCommandEncoder implements gpucore.Device. Commands are recorded on
// the host and encoded into a hal command buffer at Submit.
func (d *Device) CreateCommandEncoder(label string) gpucore.CommandEncoder {
	return gpucore.NewRecorder(label, d.finish)
}

// finish validates a recorded command list and resolves its IDs.
func (d *Device) finish(list *gpucore.CommandList) gpucore.CommandBufferID {
	invalid := func() gpucore.CommandBufferID {
		return gpucore.CommandBufferID(d.commands.InsertInvalid())
	}
	if d.lost() {
		return invalid()
	}
	if list.Err != "" {
		d.validationf("CommandEncoder %q: %s", list.Label, list.Err)
		return invalid()
	}

	cb := &commandBuffer{label: list.Label}
	var (
		pipeline *computePipeline
		groups   [maxBindGroups]*bindGroup
	)
	for i, c := range list.Commands {
		resolved := command{kind: c.Kind, label: c.Label}
		msg := ""
		switch c.Kind {
		case gpucore.CommandBeginComputePass, gpucore.CommandEndComputePass:
			pipeline = nil
			groups = [maxBindGroups]*bindGroup{}

		case gpucore.CommandSetPipeline:
			p, err := d.pipelines.Get(uint64(c.Pipeline))
			if err != nil {
				msg = fmt.Sprintf("SetPipeline(%d): %v", c.Pipeline, err)
				break
			}
			pipeline = p
			resolved.pipeline = p

		case gpucore.CommandSetBindGroup:
			if c.Index >= maxBindGroups {
				msg = fmt.Sprintf("SetBindGroup index %d exceeds maxBindGroups %d", c.Index, maxBindGroups)
				break
			}
			g, err := d.groups.Get(uint64(c.BindGroup))
			if err != nil {
				msg = fmt.Sprintf("SetBindGroup(%d, %d): %v", c.Index, c.BindGroup, err)
				break
			}
			groups[c.Index] = g
			resolved.index, resolved.group = c.Index, g

		case gpucore.CommandDispatch:
			msg = d.validateDispatch(pipeline, groups[:], c)
			resolved.x, resolved.y, resolved.z = c.X, c.Y, c.Z

		case gpucore.CommandCopyBufferToBuffer:
			var src, dst *buffer
			src, dst, msg = d.validateCopy(c.Copy)
			resolved.src, resolved.dst = src, dst
			resolved.srcOff, resolved.dstOff, resolved.size = c.Copy.SrcOffset, c.Copy.DstOffset, c.Copy.Size

		default:
			msg = fmt.Sprintf("unknown command kind %d", c.Kind)
		}
		if msg != "" {
			d.validationf("CommandEncoder %q: command %d: %s", list.Label, i, msg)
			return invalid()
		}
		cb.commands = append(cb.commands, resolved)
	}
	return gpucore.CommandBufferID(d.commands.Insert(cb))
}

func (d *Device) validateDispatch(p *computePipeline, groups []*bindGroup, c gpucore.Command) string {
	if p == nil {
		return "DispatchWorkgroups without a pipeline"
	}
	if msg := gpucore.ValidateDispatch(c.X, c.Y, c.Z, d.Limits()); msg != "" {
		return "DispatchWorkgroups: " + msg
	}
	for i, want := range p.layout.groups {
		g := groups[i]
		if g == nil {
			return fmt.Sprintf("DispatchWorkgroups: bind group %d is not set", i)
		}
		if !g.layout.equivalent(want) {
			return fmt.Sprintf("DispatchWorkgroups: bind group %d is incompatible with pipeline %q", i, p.label)
		}
	}
	return ""
}

func (d *Device) validateCopy(c gpucore.BufferCopy) (src, dst *buffer, msg string) {
	src, err := d.buffers.Get(uint64(c.Src))
	if err != nil {
		return nil, nil, fmt.Sprintf("CopyBufferToBuffer source %d: %v", c.Src, err)
	}
	dst, err = d.buffers.Get(uint64(c.Dst))
	if err != nil {
		return nil, nil, fmt.Sprintf("CopyBufferToBuffer destination %d: %v", c.Dst, err)
	}
	if msg := gpucore.ValidateCopy(c, src.usage, src.size, dst.usage, dst.size); msg != "" {
		return nil, nil, "CopyBufferToBuffer: " + msg
	}
	return src, dst, ""
}

// Submit implements gpucore.Device. Each command buffer is encoded and
// submitted with the next fence value; a buffer that fails queue
// validation is skipped.
func (d *Device) Submit(buffers ...gpucore.CommandBufferID) {
	if d.lost() {
		return
	}
	for _, id := range buffers {
		cb, err := d.commands.Get(uint64(id))
		if err != nil {
			d.validationf("Submit: command buffer %d: %v", id, err)
			continue
		}
		d.commands.Remove(uint64(id))

		if msg := d.checkSubmittable(cb); msg != "" {
			d.validationf("Submit %q: %s", cb.label, msg)
			continue
		}
		start := time.Now()
		if err := d.execute(cb); err != nil {
			d.reportHAL(fmt.Sprintf("Submit %q", cb.label), err)
			continue
		}
		d.log().Debug("halgpu: command buffer submitted", "label", cb.label,
			"commands", len(cb.commands), "elapsed", time.Since(start))
	}
}

// checkSubmittable applies queue-submit validation: every buffer a command
// buffer uses must still exist and be unmapped.
func (d *Device) checkSubmittable(cb *commandBuffer) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	check := func(b *buffer) string {
		switch {
		case b.destroyed:
			return fmt.Sprintf("%s was destroyed", b)
		case b.state != unmapped:
			return fmt.Sprintf("%s is mapped", b)
		}
		return ""
	}
	for _, c := range cb.commands {
		var bufs []*buffer
		switch c.kind {
		case gpucore.CommandSetBindGroup:
			bufs = c.group.buffers
		case gpucore.CommandCopyBufferToBuffer:
			bufs = []*buffer{c.src, c.dst}
		}
		for _, b := range bufs {
			if msg := check(b); msg != "" {
				return msg
			}
		}
	}
	return ""
}

// execute encodes cb into a hal command buffer and submits it.
func (d *Device) execute(cb *commandBuffer) error {
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: cb.label})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(cb.label); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}

	var pass hal.ComputePassEncoder
	for _, c := range cb.commands {
		switch c.kind {
		case gpucore.CommandBeginComputePass:
			pass = encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: c.label})
		case gpucore.CommandSetPipeline:
			pass.SetPipeline(c.pipeline.hal)
		case gpucore.CommandSetBindGroup:
			pass.SetBindGroup(c.index, c.group.hal, nil)
		case gpucore.CommandDispatch:
			if c.x != 0 && c.y != 0 && c.z != 0 {
				pass.Dispatch(c.x, c.y, c.z)
			}
		case gpucore.CommandEndComputePass:
			pass.End()
			pass = nil
		case gpucore.CommandCopyBufferToBuffer:
			if c.size > 0 {
				encoder.CopyBufferToBuffer(c.src.hal, c.dst.hal, []hal.BufferCopy{
					{SrcOffset: c.srcOff, DstOffset: c.dstOff, Size: c.size},
				})
			}
		}
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}

	d.mu.Lock()
	value := d.submitted + 1
	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, d.fence, value); err != nil {
		d.mu.Unlock()
		d.device.FreeCommandBuffer(cmdBuf)
		return fmt.Errorf("submit: %w", err)
	}
	d.submitted = value
	for _, c := range cb.commands {
		switch c.kind {
		case gpucore.CommandSetPipeline:
			c.pipeline.lastUse = value
		case gpucore.CommandSetBindGroup:
			c.group.lastUse = value
			for _, b := range c.group.buffers {
				b.lastUse = value
			}
		case gpucore.CommandCopyBufferToBuffer:
			c.src.lastUse = value
			c.dst.lastUse = value
		}
	}
	d.deferred = append(d.deferred, deferredRelease{value: value, release: func() {
		d.device.FreeCommandBuffer(cmdBuf)
	}})
	d.mu.Unlock()
	return nil
}

// waitFor blocks until the fence reaches value, then releases everything
// deferred up to it.
func (d *Device) waitFor(value uint64) error {
	d.mu.Lock()
	done := value <= d.completed
	d.mu.Unlock()
	if done {
		return nil
	}

	ok, err := d.device.Wait(d.fence, value, d.opts.fenceTimeout)
	if err != nil {
		return fmt.Errorf("wait for submission %d: %w", value, err)
	}
	if !ok {
		return fmt.Errorf("submission %d did not complete within %v", value, d.opts.fenceTimeout)
	}
	d.retire(value)
	return nil
}

// waitIdle waits for every submission issued so far.
func (d *Device) waitIdle() error {
	d.mu.Lock()
	value := d.submitted
	d.mu.Unlock()
	return d.waitFor(value)
}

// retire records that the fence reached value and runs the releases it
// unblocks.
func (d *Device) retire(value uint64) {
	d.mu.Lock()
	if value > d.completed {
		d.completed = value
	}
	var ready []deferredRelease
	kept := d.deferred[:0]
	for _, r := range d.deferred {
		if r.value <= d.completed {
			ready = append(ready, r)
		} else {
			kept = append(kept, r)
		}
	}
	d.deferred = kept
	d.mu.Unlock()

	for _, r := range ready {
		r.release()
	}
}

// releaseAfter runs release once the fence has reached value.
func (d *Device) releaseAfter(value uint64, release func()) {
	d.mu.Lock()
	if value > d.completed {
		d.deferred = append(d.deferred, deferredRelease{value: value, release: release})
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	release()
}

// flushDeferred runs every pending release regardless of the fence.
func (d *Device) flushDeferred() {
	d.mu.Lock()
	pending := d.deferred
	d.deferred = nil
	d.mu.Unlock()
	for _, r := range pending {
		r.release()
	}
}
