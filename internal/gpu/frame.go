package gpu

import (
	"context"
	"fmt"
)

type frameSlot struct {
	fence FenceHandle
	cmd   *CommandBuffer
}

// FrameRing cycles through the frames in flight. Each slot owns a fence
// created signaled and a primary command buffer; a slot is reused only
// after its fence signals, so per-frame resources indexed by Index are
// never touched while the GPU still reads them.
//
// FrameRing is NOT safe for concurrent use.
type FrameRing struct {
	gctx    *Context
	slots   []frameSlot
	current int
}

// NewFrameRing creates one slot per frame in flight.
func NewFrameRing(gctx *Context) (*FrameRing, error) {
	r := &FrameRing{gctx: gctx, slots: make([]frameSlot, 0, gctx.FramesInFlight())}
	for i := 0; i < gctx.FramesInFlight(); i++ {
		fence, err := gctx.device.CreateFence(true)
		if err != nil {
			r.Destroy()
			return nil, fmt.Errorf("frame %d fence: %w", i, err)
		}
		cmd, err := NewCommandBuffer(gctx, LevelPrimary)
		if err != nil {
			gctx.device.DestroyFence(fence)
			r.Destroy()
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		r.slots = append(r.slots, frameSlot{fence: fence, cmd: cmd})
	}
	return r, nil
}

// Index returns the current frame slot.
func (r *FrameRing) Index() int { return r.current }

// Len returns the number of slots.
func (r *FrameRing) Len() int { return len(r.slots) }

// Begin waits until the current slot is free, resets its command buffer
// and starts recording. The slot fence stays signaled until Submit, so a
// frame dropped with Abort never leaves the slot waiting forever.
func (r *FrameRing) Begin(ctx context.Context) (*CommandBuffer, error) {
	s := r.slots[r.current]
	if err := r.gctx.WaitFence(ctx, s.fence); err != nil {
		return nil, fmt.Errorf("frame %d: %w", r.current, err)
	}
	if err := s.cmd.Reset(); err != nil {
		return nil, err
	}
	if err := s.cmd.Begin(true); err != nil {
		return nil, err
	}
	return s.cmd, nil
}

// Submit ends the current command buffer and submits it with the slot fence.
func (r *FrameRing) Submit() error {
	s := r.slots[r.current]
	if err := s.cmd.End(); err != nil {
		s.cmd.Rollback()
		return err
	}
	if err := r.gctx.device.ResetFence(s.fence); err != nil {
		s.cmd.Rollback()
		return fmt.Errorf("frame %d reset fence: %w", r.current, err)
	}
	if err := r.gctx.device.Submit([]CommandBufferHandle{s.cmd.handle}, s.fence); err != nil {
		s.cmd.Rollback()
		return fmt.Errorf("frame %d submit: %w", r.current, err)
	}
	s.cmd.forget()
	return nil
}

// Abort drops the frame being recorded in the current slot and restores
// the tracked state of every texture it touched. The slot can be begun
// again right away.
func (r *FrameRing) Abort() {
	s := r.slots[r.current]
	if s.cmd.State() == CommandBufferRecording {
		_ = s.cmd.End()
	}
	s.cmd.Rollback()
	slogger().Warn("frame aborted", "frame", r.current)
}

// Advance moves to the next slot.
func (r *FrameRing) Advance() {
	r.current = (r.current + 1) % len(r.slots)
}

// Wait blocks until every slot's work has finished.
func (r *FrameRing) Wait(ctx context.Context) error {
	for i, s := range r.slots {
		if err := r.gctx.WaitFence(ctx, s.fence); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return nil
}

// Destroy frees the slots. Callers wait for the GPU first.
func (r *FrameRing) Destroy() {
	for _, s := range r.slots {
		if s.cmd.State() == CommandBufferRecording {
			_ = s.cmd.End()
		}
		_ = s.cmd.Destroy()
		r.gctx.device.DestroyFence(s.fence)
	}
	r.slots = nil
}
