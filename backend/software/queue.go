package software

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/kernelcall/gpucore"
	"github.com/gogpu/kernelcall/internal/parallel"
)

// op is a validated command ready for execution.
type op interface {
	run(d *Device) error
}

type dispatchOp struct {
	pipeline *computePipeline
	groups   []*bindGroup
	count    [3]uint32
}

type copyOp struct {
	src, dst       *buffer
	srcOff, dstOff uint64
	size           uint64
}

type commandBuffer struct {
	label string
	ops   []op
}

// CreateCommandEncoder implements gpucore.Device.
func (d *Device) CreateCommandEncoder(label string) gpucore.CommandEncoder {
	return gpucore.NewRecorder(label, d.finish)
}

// finish validates a recorded command list, as WebGPU does at
// GPUCommandEncoder.finish, and resolves IDs to resources.
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
		var msg string
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

		case gpucore.CommandDispatch:
			var dop *dispatchOp
			dop, msg = d.validateDispatch(pipeline, groups[:], c)
			if dop != nil {
				cb.ops = append(cb.ops, dop)
			}

		case gpucore.CommandCopyBufferToBuffer:
			var cop *copyOp
			cop, msg = d.validateCopy(c.Copy)
			if cop != nil {
				cb.ops = append(cb.ops, cop)
			}

		default:
			msg = fmt.Sprintf("unknown command kind %d", c.Kind)
		}
		if msg != "" {
			d.validationf("CommandEncoder %q: command %d: %s", list.Label, i, msg)
			return invalid()
		}
	}
	return gpucore.CommandBufferID(d.commands.Insert(cb))
}

func (d *Device) validateDispatch(p *computePipeline, groups []*bindGroup, c gpucore.Command) (*dispatchOp, string) {
	if p == nil {
		return nil, "DispatchWorkgroups without a pipeline"
	}
	if msg := gpucore.ValidateDispatch(c.X, c.Y, c.Z, d.opts.limits); msg != "" {
		return nil, "DispatchWorkgroups: " + msg
	}
	used := make([]*bindGroup, len(p.layout.groups))
	for i, want := range p.layout.groups {
		g := groups[i]
		if g == nil {
			return nil, fmt.Sprintf("DispatchWorkgroups: bind group %d is not set", i)
		}
		if !g.layout.equivalent(want) {
			return nil, fmt.Sprintf("DispatchWorkgroups: bind group %d is incompatible with pipeline %q", i, p.label)
		}
		used[i] = g
	}
	return &dispatchOp{pipeline: p, groups: used, count: [3]uint32{c.X, c.Y, c.Z}}, ""
}

func (d *Device) validateCopy(c gpucore.BufferCopy) (*copyOp, string) {
	src, err := d.buffers.Get(uint64(c.Src))
	if err != nil {
		return nil, fmt.Sprintf("CopyBufferToBuffer source %d: %v", c.Src, err)
	}
	dst, err := d.buffers.Get(uint64(c.Dst))
	if err != nil {
		return nil, fmt.Sprintf("CopyBufferToBuffer destination %d: %v", c.Dst, err)
	}
	if msg := gpucore.ValidateCopy(c, src.usage, src.size, dst.usage, dst.size); msg != "" {
		return nil, "CopyBufferToBuffer: " + msg
	}
	return &copyOp{src: src, dst: dst, srcOff: c.SrcOffset, dstOff: c.DstOffset, size: c.Size}, ""
}

// Submit implements gpucore.Device. Command buffers execute synchronously
// in order; a buffer that fails queue validation is skipped.
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
		for _, o := range cb.ops {
			if err := o.run(d); err != nil {
				d.scopes.Reportf(gpucore.ErrorFilterInternal, "Submit %q: %v", cb.label, err)
				break
			}
		}
		d.log().Debug("software: command buffer executed", "label", cb.label,
			"ops", len(cb.ops), "elapsed", time.Since(start))
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
	for _, o := range cb.ops {
		switch o := o.(type) {
		case *dispatchOp:
			for _, g := range o.groups {
				for _, e := range g.entries {
					if msg := check(e.buf); msg != "" {
						return msg
					}
				}
			}
		case *copyOp:
			if msg := check(o.src); msg != "" {
				return msg
			}
			if msg := check(o.dst); msg != "" {
				return msg
			}
		}
	}
	return ""
}

func (o *copyOp) run(*Device) error {
	copy(o.dst.data[o.dstOff:o.dstOff+o.size], o.src.data[o.srcOff:o.srcOff+o.size])
	return nil
}

func (o *dispatchOp) run(d *Device) error {
	x, y, z := o.count[0], o.count[1], o.count[2]
	total := uint64(x) * uint64(y) * uint64(z)
	if total == 0 {
		return nil
	}

	b := &Bindings{views: make(map[uint32][]byte)}
	if len(o.groups) > 0 {
		for _, e := range o.groups[0].entries {
			b.views[e.binding] = e.buf.data[e.offset : e.offset+e.size]
		}
	}

	size := o.pipeline.entry.WorkgroupSize
	err := d.pool.ForEach(int(total), func(i int) {
		id := [3]uint32{
			uint32(i) % x,
			uint32(i) / x % y,
			uint32(i) / (x * y),
		}
		o.pipeline.kernel(Workgroup{ID: id, Size: size, Count: o.count}, b)
	})

	var pe *parallel.PanicError
	if errors.As(err, &pe) {
		return fmt.Errorf("kernel %q panicked: %v", o.pipeline.entry.Name, pe.Value)
	}
	return err
}
