package gpu

import (
	"errors"
	"fmt"
	"math"
)

// Command buffer errors.
var (
	// ErrNotRecording is returned when a command is recorded outside Begin/End.
	ErrNotRecording = errors.New("gpu: command buffer is not recording")

	// ErrAlreadyRecording is returned by Begin on a recording buffer.
	ErrAlreadyRecording = errors.New("gpu: command buffer is already recording")

	// ErrCommandBufferSealed is returned by End on a buffer that already ended.
	ErrCommandBufferSealed = errors.New("gpu: command buffer already sealed")

	// ErrNotAllocated is returned for buffers that were never allocated or were destroyed.
	ErrNotAllocated = errors.New("gpu: command buffer not allocated")

	// ErrPrimaryOnly is returned when a secondary buffer records a primary-only command.
	ErrPrimaryOnly = errors.New("gpu: command requires a primary command buffer")

	// ErrRenderPassActive is returned when a render pass is begun inside another.
	ErrRenderPassActive = errors.New("gpu: render pass already active")

	// ErrNoRenderPass is returned when a command needs an active render pass.
	ErrNoRenderPass = errors.New("gpu: no active render pass")

	// ErrNilFramebuffer is returned when BeginRenderPass gets a nil framebuffer.
	ErrNilFramebuffer = errors.New("gpu: framebuffer is nil")

	// ErrNilPipeline is returned when a nil pipeline is bound.
	ErrNilPipeline = errors.New("gpu: pipeline is nil")

	// ErrIndexCountOverflow is returned for index counts that do not fit in 32 bits.
	ErrIndexCountOverflow = errors.New("gpu: index count exceeds uint32")
)

// DefaultClearColor is the color attachments are cleared to.
var DefaultClearColor = [4]float32{0.64, 0.8, 0.76, 1}

// CommandBufferState is the recording state of a command buffer.
//
// State Machine:
//
//	Default   -> allocate   -> Allocated
//	Allocated -> Begin()    -> Recording
//	Recording -> End()      -> Sealed
//	Sealed    -> Reset()    -> Reset
//	Reset     -> Begin()    -> Recording
//	Sealed    -> Begin()    -> Recording
//	any but Recording -> Destroy() -> Destroyed
type CommandBufferState uint8

const (
	CommandBufferDefault CommandBufferState = iota
	CommandBufferAllocated
	CommandBufferReset
	CommandBufferRecording
	CommandBufferSealed
	CommandBufferDestroyed
)

// String returns the state name.
func (s CommandBufferState) String() string {
	switch s {
	case CommandBufferDefault:
		return "Default"
	case CommandBufferAllocated:
		return "Allocated"
	case CommandBufferReset:
		return "Reset"
	case CommandBufferRecording:
		return "Recording"
	case CommandBufferSealed:
		return "Sealed"
	case CommandBufferDestroyed:
		return "Destroyed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// CommandBuffer records commands for one submission.
//
// Every Cmd method requires the Recording state and returns
// ErrNotRecording otherwise. Commands are validated before they reach the
// device, so a rejected call records nothing.
//
// CommandBuffer is NOT safe for concurrent use.
type CommandBuffer struct {
	gctx   *Context
	handle CommandBufferHandle
	level  CommandBufferLevel
	state  CommandBufferState

	renderPass  *RenderPass
	framebuffer *Framebuffer
	subpass     uint32

	// touched holds the tracked state each texture had before this
	// recording first changed it.
	touched map[*Texture][]SubresourceState
}

// NewCommandBuffer allocates a command buffer.
func NewCommandBuffer(gctx *Context, level CommandBufferLevel) (*CommandBuffer, error) {
	h, err := gctx.device.AllocateCommandBuffer(level)
	if err != nil {
		return nil, fmt.Errorf("allocate %s command buffer: %w", level, err)
	}
	return &CommandBuffer{gctx: gctx, handle: h, level: level, state: CommandBufferAllocated}, nil
}

// Handle returns the native handle.
func (c *CommandBuffer) Handle() CommandBufferHandle { return c.handle }

// Level returns the buffer level.
func (c *CommandBuffer) Level() CommandBufferLevel { return c.level }

// State returns the recording state.
func (c *CommandBuffer) State() CommandBufferState { return c.state }

// InRenderPass reports whether a render pass is active.
func (c *CommandBuffer) InRenderPass() bool { return c.renderPass != nil }

func (c *CommandBuffer) checkRecording() error {
	if c == nil || c.state != CommandBufferRecording {
		return ErrNotRecording
	}
	return nil
}

func (c *CommandBuffer) checkAllocated() error {
	if c.state == CommandBufferDefault || c.state == CommandBufferDestroyed {
		return fmt.Errorf("%w: state %s", ErrNotAllocated, c.state)
	}
	return nil
}

// Begin starts recording.
func (c *CommandBuffer) Begin(oneTimeSubmit bool) error {
	return c.begin(&BeginInfo{OneTimeSubmit: oneTimeSubmit})
}

// BeginSecondary starts recording a secondary buffer that continues the
// given subpass of a render pass.
func (c *CommandBuffer) BeginSecondary(oneTimeSubmit bool, rp *RenderPass, subpass uint32, fb *Framebuffer) error {
	if c.level != LevelSecondary {
		return fmt.Errorf("begin secondary: %w", ErrNotAllocated)
	}
	if rp == nil {
		return ErrNilRenderPass
	}
	rph, err := rp.Handle()
	if err != nil {
		return err
	}
	inh := &Inheritance{RenderPass: rph, Subpass: subpass}
	if fb != nil {
		if inh.Framebuffer, err = fb.Handle(); err != nil {
			return err
		}
	}
	return c.begin(&BeginInfo{OneTimeSubmit: oneTimeSubmit, Inheritance: inh})
}

func (c *CommandBuffer) begin(info *BeginInfo) error {
	if err := c.checkAllocated(); err != nil {
		return err
	}
	if c.state == CommandBufferRecording {
		return ErrAlreadyRecording
	}
	if err := c.gctx.device.BeginCommandBuffer(c.handle, info); err != nil {
		return fmt.Errorf("begin command buffer: %w", err)
	}
	c.state = CommandBufferRecording
	c.touched = nil
	return nil
}

// End stops recording.
func (c *CommandBuffer) End() error {
	if err := c.checkAllocated(); err != nil {
		return err
	}
	if c.state == CommandBufferSealed {
		return ErrCommandBufferSealed
	}
	if c.state != CommandBufferRecording {
		return ErrNotRecording
	}
	if c.renderPass != nil {
		slogger().Warn("command buffer ended inside a render pass", "renderPass", c.renderPass.Kind())
		c.renderPass, c.framebuffer = nil, nil
	}
	if err := c.gctx.device.EndCommandBuffer(c.handle); err != nil {
		return fmt.Errorf("end command buffer: %w", err)
	}
	c.state = CommandBufferSealed
	return nil
}

// Reset returns the buffer to the initial state.
func (c *CommandBuffer) Reset() error {
	if err := c.checkAllocated(); err != nil {
		return err
	}
	if err := c.gctx.device.ResetCommandBuffer(c.handle); err != nil {
		return fmt.Errorf("reset command buffer: %w", err)
	}
	c.state = CommandBufferReset
	c.renderPass, c.framebuffer, c.subpass = nil, nil, 0
	c.touched = nil
	return nil
}

// remember snapshots the tracked state of t the first time this recording
// changes it. Caller must hold t.mu.
func (c *CommandBuffer) remember(t *Texture) {
	if c == nil {
		return
	}
	if _, ok := c.touched[t]; ok {
		return
	}
	if c.touched == nil {
		c.touched = make(map[*Texture][]SubresourceState)
	}
	c.touched[t] = t.tracker.snapshot()
}

// Rollback restores the tracked state of every texture this recording
// changed. Call it when the recorded commands will never be submitted, so
// trackers do not describe layouts the GPU never reached.
func (c *CommandBuffer) Rollback() {
	for t, mips := range c.touched {
		t.restoreTracking(mips)
	}
	c.touched = nil
}

// forget drops the snapshots once the recording has been submitted.
func (c *CommandBuffer) forget() { c.touched = nil }

// Destroy frees the buffer. Recording buffers cannot be destroyed.
func (c *CommandBuffer) Destroy() error {
	if err := c.checkAllocated(); err != nil {
		slogger().Warn("destroy on unallocated command buffer", "state", c.state)
		return err
	}
	if c.state == CommandBufferRecording {
		return fmt.Errorf("destroy command buffer: %w", ErrAlreadyRecording)
	}
	c.gctx.device.FreeCommandBuffer(c.handle)
	c.handle, c.state = 0, CommandBufferDestroyed
	return nil
}

// =============================================================================
// Render passes
// =============================================================================

// BeginRenderPass starts a render pass over the whole framebuffer. Color
// attachments clear to DefaultClearColor, depth to 1.
func (c *CommandBuffer) BeginRenderPass(rp *RenderPass, fb *Framebuffer, contents SubpassContents) error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	if c.level != LevelPrimary {
		return ErrPrimaryOnly
	}
	if c.renderPass != nil {
		return ErrRenderPassActive
	}
	if rp == nil {
		return ErrNilRenderPass
	}
	if fb == nil {
		return ErrNilFramebuffer
	}
	rph, err := rp.Handle()
	if err != nil {
		return err
	}
	fbh, err := fb.Handle()
	if err != nil {
		return err
	}

	clears := make([]ClearValue, 0, len(rp.desc.Attachments))
	for _, a := range rp.desc.Attachments {
		if a.Format.IsDepth() {
			clears = append(clears, ClearValue{Depth: 1, Stencil: 0})
		} else {
			clears = append(clears, ClearValue{Color: DefaultClearColor})
		}
	}
	w, h := fb.Extent()
	c.gctx.device.CmdBeginRenderPass(c.handle, &RenderPassBegin{
		RenderPass:  rph,
		Framebuffer: fbh,
		Width:       w,
		Height:      h,
		ClearValues: clears,
		Contents:    contents,
	})
	c.renderPass, c.framebuffer, c.subpass = rp, fb, 0
	return nil
}

// NextSubpass advances to the next subpass of the active render pass.
func (c *CommandBuffer) NextSubpass(contents SubpassContents) error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	if c.renderPass == nil {
		return ErrNoRenderPass
	}
	c.gctx.device.CmdNextSubpass(c.handle, contents)
	c.subpass++
	return nil
}

// EndRenderPass ends the active render pass and records the final layout
// of every framebuffer attachment in its state tracker.
func (c *CommandBuffer) EndRenderPass() error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	if c.renderPass == nil {
		return ErrNoRenderPass
	}
	c.gctx.device.CmdEndRenderPass(c.handle)
	c.framebuffer.applyFinalLayouts(c, c.renderPass.finalLayouts)
	c.renderPass, c.framebuffer, c.subpass = nil, nil, 0
	return nil
}

// ExecuteCommands runs sealed secondary buffers.
func (c *CommandBuffer) ExecuteCommands(secondaries ...*CommandBuffer) error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	if c.level != LevelPrimary {
		return ErrPrimaryOnly
	}
	hs := make([]CommandBufferHandle, 0, len(secondaries))
	for _, s := range secondaries {
		if s.level != LevelSecondary || s.state != CommandBufferSealed {
			return fmt.Errorf("execute commands: secondary in state %s: %w", s.state, ErrNotRecording)
		}
		hs = append(hs, s.handle)
	}
	c.gctx.device.CmdExecuteCommands(c.handle, hs)
	return nil
}

// =============================================================================
// Binding and drawing
// =============================================================================

// BindPipeline binds a created pipeline at its bind point.
func (c *CommandBuffer) BindPipeline(p *Pipeline) error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	if p == nil {
		return ErrNilPipeline
	}
	h, err := p.Handle()
	if err != nil {
		return err
	}
	c.gctx.device.CmdBindPipeline(c.handle, p.BindPoint(), h)
	return nil
}

// BindDescriptorSets binds sets starting at firstSet using the layout of p.
func (c *CommandBuffer) BindDescriptorSets(p *Pipeline, firstSet uint32, sets ...*DescriptorSet) error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	if p == nil {
		return ErrNilPipeline
	}
	hs := make([]DescriptorSetHandle, len(sets))
	for i, s := range sets {
		hs[i] = s.handle
	}
	c.gctx.device.CmdBindDescriptorSets(c.handle, p.BindPoint(), p.layout, firstSet, hs)
	return nil
}

// PushConstants updates push-constant bytes visible to stages.
func (c *CommandBuffer) PushConstants(p *Pipeline, stages ShaderStage, offset uint32, data []byte) error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	if p == nil {
		return ErrNilPipeline
	}
	c.gctx.device.CmdPushConstants(c.handle, p.layout, stages, offset, data)
	return nil
}

// BindVertexBuffers binds vertex buffers starting at binding first.
func (c *CommandBuffer) BindVertexBuffers(first uint32, bufs ...*Buffer) error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	hs := make([]BufferHandle, len(bufs))
	offsets := make([]uint64, len(bufs))
	for i, b := range bufs {
		h, err := b.Handle()
		if err != nil {
			return err
		}
		hs[i] = h
	}
	c.gctx.device.CmdBindVertexBuffers(c.handle, first, hs, offsets)
	return nil
}

// BindIndexBuffer binds an index buffer.
func (c *CommandBuffer) BindIndexBuffer(buf *Buffer, typ IndexType) error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	h, err := buf.Handle()
	if err != nil {
		return err
	}
	c.gctx.device.CmdBindIndexBuffer(c.handle, h, 0, typ)
	return nil
}

// SetViewport sets a viewport covering width x height with depth [0, 1].
func (c *CommandBuffer) SetViewport(width, height float32) error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	c.gctx.device.CmdSetViewport(c.handle, Viewport{Width: width, Height: height, MinDepth: 0, MaxDepth: 1})
	return nil
}

// SetScissor sets a scissor covering width x height.
func (c *CommandBuffer) SetScissor(width, height uint32) error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	c.gctx.device.CmdSetScissor(c.handle, Rect{Width: width, Height: height})
	return nil
}

// Draw records a non-indexed draw.
func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	c.gctx.device.CmdDraw(c.handle, vertexCount, instanceCount, firstVertex, firstInstance)
	return nil
}

// DrawIndexed records an indexed draw of a single instance.
func (c *CommandBuffer) DrawIndexed(indexCount uint64) error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	if indexCount > math.MaxUint32 {
		slogger().Error("index count exceeds uint32", "count", indexCount)
		return fmt.Errorf("%w: %d", ErrIndexCountOverflow, indexCount)
	}
	c.gctx.device.CmdDrawIndexed(c.handle, uint32(indexCount), 1, 0, 0, 0)
	return nil
}

// Dispatch records a compute dispatch.
func (c *CommandBuffer) Dispatch(x, y, z uint32) error {
	if err := c.checkRecording(); err != nil {
		return err
	}
	c.gctx.device.CmdDispatch(c.handle, x, y, z)
	return nil
}

// =============================================================================
// Internal recording helpers
// =============================================================================

// The helpers below are called by Texture after it validated the buffer.

func (c *CommandBuffer) pipelineBarrier(src, dst PipelineStage, b ImageBarrier) {
	c.gctx.device.CmdPipelineBarrier(c.handle, src, dst, []ImageBarrier{b})
}

func (c *CommandBuffer) blitImage(src ImageHandle, srcLayout ImageLayout, dst ImageHandle, dstLayout ImageLayout, r ImageBlit) {
	c.gctx.device.CmdBlitImage(c.handle, src, srcLayout, dst, dstLayout, []ImageBlit{r}, FilterLinear)
}

func (c *CommandBuffer) copyImage(src ImageHandle, srcLayout ImageLayout, dst ImageHandle, dstLayout ImageLayout, r ImageCopy) {
	c.gctx.device.CmdCopyImage(c.handle, src, srcLayout, dst, dstLayout, []ImageCopy{r})
}

func (c *CommandBuffer) copyBufferToImage(src BufferHandle, dst ImageHandle, dstLayout ImageLayout, r BufferImageCopy) {
	c.gctx.device.CmdCopyBufferToImage(c.handle, src, dst, dstLayout, []BufferImageCopy{r})
}

func (c *CommandBuffer) copyImageToBuffer(src ImageHandle, srcLayout ImageLayout, dst BufferHandle, r BufferImageCopy) {
	c.gctx.device.CmdCopyImageToBuffer(c.handle, src, srcLayout, dst, []BufferImageCopy{r})
}
