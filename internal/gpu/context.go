package gpu

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrFenceTimeout is returned when a fence does not signal within the
// context's fence timeout.
var ErrFenceTimeout = errors.New("gpu: fence wait timed out")

// fencePollInterval bounds a single device wait so cancellation is noticed.
const fencePollInterval = 50 * time.Millisecond

// ContextOption configures a Context.
type ContextOption func(*contextOptions)

type contextOptions struct {
	framesInFlight int
	maxAssetCount  int
	fenceTimeout   time.Duration
}

func defaultContextOptions() contextOptions {
	return contextOptions{
		framesInFlight: 2,
		maxAssetCount:  100,
		fenceTimeout:   5 * time.Second,
	}
}

// WithFramesInFlight sets how many frames may be recorded ahead of the GPU.
// It sizes descriptor pools and frame rings.
func WithFramesInFlight(n int) ContextOption {
	return func(o *contextOptions) {
		if n > 0 {
			o.framesInFlight = n
		}
	}
}

// WithMaxAssetCount sets the asset count descriptor pools are sized for.
func WithMaxAssetCount(n int) ContextOption {
	return func(o *contextOptions) {
		if n > 0 {
			o.maxAssetCount = n
		}
	}
}

// WithFenceTimeout sets the longest time a fence wait may block.
func WithFenceTimeout(d time.Duration) ContextOption {
	return func(o *contextOptions) {
		if d > 0 {
			o.fenceTimeout = d
		}
	}
}

// Context is the explicit device context every GPU object is created from.
// It owns the device-wide set layout cache and descriptor allocator.
//
// Lifecycle:
//  1. NewContext wraps a backend device
//  2. Resources, passes and frame rings are created against it
//  3. Close destroys the shared caches; the caller destroys the device
//
// Thread Safety: Context methods are safe for concurrent use. Objects
// created from it follow their own rules.
type Context struct {
	device       Device
	caps         Capabilities
	setLayouts   *SetLayoutCache
	descriptors  *DescriptorAllocator
	frames       int
	fenceTimeout time.Duration
}

// NewContext creates a context for a device.
func NewContext(device Device, opts ...ContextOption) (*Context, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	o := defaultContextOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Context{
		device:       device,
		caps:         device.Capabilities(),
		frames:       o.framesInFlight,
		fenceTimeout: o.fenceTimeout,
	}
	c.setLayouts = NewSetLayoutCache(device)
	c.descriptors = NewDescriptorAllocator(device, o.framesInFlight, o.maxAssetCount)
	slogger().Debug("gpu context created",
		"framesInFlight", o.framesInFlight,
		"graphics", c.caps.Graphics,
		"pushConstants", c.caps.PushConstants)
	return c, nil
}

// Device returns the backend device.
func (c *Context) Device() Device { return c.device }

// Capabilities returns the device capabilities captured at creation.
func (c *Context) Capabilities() Capabilities { return c.caps }

// FramesInFlight returns the number of frames recorded ahead of the GPU.
func (c *Context) FramesInFlight() int { return c.frames }

// SetLayouts returns the device-wide set layout cache.
func (c *Context) SetLayouts() *SetLayoutCache { return c.setLayouts }

// Descriptors returns the device-wide descriptor allocator.
func (c *Context) Descriptors() *DescriptorAllocator { return c.descriptors }

// WaitFence blocks until the fence signals, ctx is done or the fence
// timeout elapses.
func (c *Context) WaitFence(ctx context.Context, fence FenceHandle) error {
	deadline := time.Now().Add(c.fenceTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := c.device.WaitFence(fence, fencePollInterval)
		if err != nil {
			return fmt.Errorf("wait fence: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v", ErrFenceTimeout, c.fenceTimeout)
		}
	}
}

// SubmitOneShot records commands into a temporary primary command buffer,
// submits it and waits for completion.
func (c *Context) SubmitOneShot(ctx context.Context, record func(cmd *CommandBuffer) error) error {
	cmd, err := NewCommandBuffer(c, LevelPrimary)
	if err != nil {
		return err
	}
	defer cmd.Destroy()

	if err := cmd.Begin(true); err != nil {
		return err
	}
	if err := record(cmd); err != nil {
		_ = cmd.End()
		cmd.Rollback()
		return err
	}
	if err := cmd.End(); err != nil {
		cmd.Rollback()
		return err
	}

	fence, err := c.device.CreateFence(false)
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer c.device.DestroyFence(fence)

	if err := c.device.Submit([]CommandBufferHandle{cmd.handle}, fence); err != nil {
		cmd.Rollback()
		return fmt.Errorf("submit: %w", err)
	}
	cmd.forget()
	return c.WaitFence(ctx, fence)
}

// Close destroys the shared set layouts and descriptor pools.
func (c *Context) Close() {
	c.descriptors.Destroy()
	c.setLayouts.Destroy()
}
