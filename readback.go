package kernelcall

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/kernelcall/gpucore"
)

// ReadResults maps each output's staging buffer and copies its bytes into
// the output's host buffer. Outputs are read one at a time in binding
// order; each waits for its own mapping, which is what makes the
// dispatch's writes visible to the host. The wait honours ctx and the
// WithMapTimeout option.
func (c *Call) ReadResults(ctx context.Context) error {
	if err := c.expect("ReadResults", StateDispatched); err != nil {
		return err
	}
	start := time.Now()
	for _, p := range c.pending {
		if err := c.readback(ctx, p); err != nil {
			c.state = StateFailed
			return &ReadbackError{Binding: p.binding, Err: err}
		}
	}
	c.state = StateResultsRead
	c.log.Debug("kernelcall: results read", "outputs", len(c.pending), "elapsed", time.Since(start))
	return nil
}

func (c *Call) readback(ctx context.Context, p pendingReadback) error {
	if c.opts.mapTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.mapTimeout)
		defer cancel()
	}
	if _, err := c.dev.MapAsync(p.staging, gpucore.MapModeRead).Wait(ctx); err != nil {
		return err
	}
	defer c.dev.Unmap(p.staging)

	raw, err := c.dev.MappedRange(p.staging)
	if err != nil {
		return err
	}
	if len(raw) < p.byteLen {
		return fmt.Errorf("mapped %d bytes, want %d", len(raw), p.byteLen)
	}
	p.host.decode(raw[:p.byteLen])
	return nil
}

// Run dispatches k and reads the results back. A failed dispatch returns
// before any output is mapped.
func (c *Call) Run(ctx context.Context, k Kernel, grid Grid) error {
	if err := c.Dispatch(ctx, k, grid); err != nil {
		return err
	}
	return c.ReadResults(ctx)
}
