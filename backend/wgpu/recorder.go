//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/lumen/internal/gpu"
)

// op is one recorded command. It runs with the device lock held.
type op func(e *encoder) error

type commandBuffer struct {
	level     gpu.CommandBufferLevel
	recording bool
	ops       []op
	// err is the first unsupported command; EndCommandBuffer returns it.
	err error
}

// passState is the render pass instance an encoder is inside.
type passState struct {
	rp      *gpu.RenderPassDesc
	fb      *gpu.FramebufferDesc
	clears  []gpu.ClearValue
	subpass int
}

// encoder replays recorded ops into one hal command encoder. Compute
// passes open lazily on the first compute bind or dispatch and close
// before any other command.
type encoder struct {
	d   *Device
	g   *garbage
	enc hal.CommandEncoder

	render  hal.RenderPassEncoder
	compute hal.ComputePassEncoder
	pass    *passState

	computePipe hal.ComputePipeline
	computeSets map[uint32]hal.BindGroup
}

// encodeLocked encodes a primary command buffer into a hal command buffer.
func (d *Device) encodeLocked(cb *commandBuffer, g *garbage) (hal.CommandBuffer, error) {
	if cb.recording {
		return nil, fmt.Errorf("wgpu: submit of a recording command buffer: %w", gpu.ErrInvalidHandle)
	}
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "lumen_encoder"})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("lumen_frame"); err != nil {
		return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	e := &encoder{d: d, g: g, enc: enc, computeSets: make(map[uint32]hal.BindGroup)}
	if err := e.run(cb.ops); err != nil {
		enc.DiscardEncoding()
		return nil, err
	}
	e.endCompute()
	if e.render != nil {
		e.render.End()
		e.render = nil
	}
	halCmd, err := enc.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("wgpu: end encoding: %w", err)
	}
	return halCmd, nil
}

func (e *encoder) run(ops []op) error {
	for _, o := range ops {
		if err := o(e); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) endCompute() {
	if e.compute != nil {
		e.compute.End()
		e.compute = nil
	}
}

// beginCompute opens a compute pass and restores the bound compute state.
func (e *encoder) beginCompute() hal.ComputePassEncoder {
	if e.compute == nil {
		e.compute = e.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "lumen_compute"})
		if e.computePipe != nil {
			e.compute.SetPipeline(e.computePipe)
		}
		for i, g := range e.computeSets {
			e.compute.SetBindGroup(i, g, nil)
		}
	}
	return e.compute
}

func (e *encoder) transition(tex hal.Texture, old, next gputypes.TextureUsage, r gputypes.ImageSubresourceRange) {
	if old == next {
		return
	}
	e.enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: tex,
		Range:   r,
		Usage:   hal.TextureUsageTransition{OldUsage: old, NewUsage: next},
	}})
}

func viewRange(v *view) gputypes.ImageSubresourceRange {
	return gputypes.ImageSubresourceRange{
		Aspect:          textureAspect(v.desc.Aspect),
		BaseMipLevel:    v.desc.BaseMip,
		MipLevelCount:   max(v.desc.MipCount, 1),
		BaseArrayLayer:  v.desc.BaseLayer,
		ArrayLayerCount: max(v.desc.LayerCount, 1),
	}
}

// attachment returns the framebuffer view and texture of attachment i.
func (e *encoder) attachment(i uint32) (*view, *image, error) {
	if int(i) >= len(e.pass.fb.Attachments) {
		return nil, nil, fmt.Errorf("wgpu: attachment %d: %w", i, gpu.ErrInvalidHandle)
	}
	v, ok := e.d.views[e.pass.fb.Attachments[i]]
	if !ok {
		return nil, nil, fmt.Errorf("wgpu: attachment %d view: %w", i, gpu.ErrInvalidHandle)
	}
	img, ok := e.d.images[v.image]
	if !ok {
		return nil, nil, fmt.Errorf("wgpu: attachment %d image: %w", i, gpu.ErrInvalidHandle)
	}
	return v, img, nil
}

func (e *encoder) clearValue(i uint32) gpu.ClearValue {
	if int(i) < len(e.pass.clears) {
		return e.pass.clears[i]
	}
	return gpu.ClearValue{Depth: 1}
}

// beginSubpass opens a hal render pass for the current subpass. Later
// subpasses load what earlier ones stored.
func (e *encoder) beginSubpass() error {
	ps := e.pass
	sub := ps.rp.Subpasses[ps.subpass]
	first := ps.subpass == 0
	last := ps.subpass == len(ps.rp.Subpasses)-1

	load := func(op gpu.LoadOp) gputypes.LoadOp {
		if !first {
			return gputypes.LoadOpLoad
		}
		return loadOp(op)
	}
	store := func(op gpu.StoreOp) gputypes.StoreOp {
		if !last {
			return gputypes.StoreOpStore
		}
		return storeOp(op)
	}

	desc := &hal.RenderPassDescriptor{Label: ps.rp.Label}
	for i, ref := range sub.Color {
		v, _, err := e.attachment(ref.Attachment)
		if err != nil {
			return err
		}
		att := ps.rp.Attachments[ref.Attachment]
		c := e.clearValue(ref.Attachment).Color
		ca := hal.RenderPassColorAttachment{
			View:       v.hal,
			LoadOp:     load(att.LoadOp),
			StoreOp:    store(att.StoreOp),
			ClearValue: gputypes.Color{R: float64(c[0]), G: float64(c[1]), B: float64(c[2]), A: float64(c[3])},
		}
		if i < len(sub.Resolve) {
			rv, _, err := e.attachment(sub.Resolve[i].Attachment)
			if err != nil {
				return err
			}
			ca.ResolveTarget = rv.hal
		}
		desc.ColorAttachments = append(desc.ColorAttachments, ca)
	}
	if ref := sub.DepthStencil; ref != nil {
		v, _, err := e.attachment(ref.Attachment)
		if err != nil {
			return err
		}
		att := ps.rp.Attachments[ref.Attachment]
		cv := e.clearValue(ref.Attachment)
		ds := &hal.RenderPassDepthStencilAttachment{
			View:            v.hal,
			DepthLoadOp:     load(att.LoadOp),
			DepthStoreOp:    store(att.StoreOp),
			DepthClearValue: cv.Depth,
		}
		if att.Format.HasStencil() {
			ds.StencilLoadOp = load(att.StencilLoadOp)
			ds.StencilStoreOp = store(att.StencilStoreOp)
			ds.StencilClearValue = cv.Stencil
		}
		desc.DepthStencilAttachment = ds
	}
	e.render = e.enc.BeginRenderPass(desc)
	return nil
}

// =============================================================================
// Recording
// =============================================================================

func (d *Device) record(cmd gpu.CommandBufferHandle, o op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.commands[cmd]; ok && cb.recording {
		cb.ops = append(cb.ops, o)
	}
}

func (d *Device) fail(cmd gpu.CommandBufferHandle, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.commands[cmd]; ok && cb.err == nil {
		cb.err = err
	}
}

// BeginCommandBuffer starts recording and drops earlier commands.
func (d *Device) BeginCommandBuffer(cmd gpu.CommandBufferHandle, _ *gpu.BeginInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.commands[cmd]
	if !ok {
		return fmt.Errorf("wgpu: begin command buffer %d: %w", cmd, gpu.ErrInvalidHandle)
	}
	cb.recording, cb.ops, cb.err = true, nil, nil
	return nil
}

// EndCommandBuffer seals the command buffer. It reports the first command
// the device could not record.
func (d *Device) EndCommandBuffer(cmd gpu.CommandBufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.commands[cmd]
	if !ok {
		return fmt.Errorf("wgpu: end command buffer %d: %w", cmd, gpu.ErrInvalidHandle)
	}
	cb.recording = false
	return cb.err
}

// ResetCommandBuffer drops every recorded command.
func (d *Device) ResetCommandBuffer(cmd gpu.CommandBufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.commands[cmd]
	if !ok {
		return fmt.Errorf("wgpu: reset command buffer %d: %w", cmd, gpu.ErrInvalidHandle)
	}
	cb.recording, cb.ops, cb.err = false, nil, nil
	return nil
}

// CmdPipelineBarrier records texture usage transitions. Stage and access
// masks are derived by hal from the usages.
func (d *Device) CmdPipelineBarrier(cmd gpu.CommandBufferHandle, _, _ gpu.PipelineStage, barriers []gpu.ImageBarrier) {
	bs := append([]gpu.ImageBarrier(nil), barriers...)
	d.record(cmd, func(e *encoder) error {
		e.endCompute()
		for i := range bs {
			img, ok := e.d.images[bs[i].Image]
			if !ok {
				return fmt.Errorf("wgpu: barrier on image %d: %w", bs[i].Image, gpu.ErrInvalidHandle)
			}
			e.transition(img.hal, layoutUsage(bs[i].OldLayout), layoutUsage(bs[i].NewLayout), subresourceRange(&bs[i]))
		}
		return nil
	})
}

// CmdBeginRenderPass records the start of a render pass instance.
// Attachments move to the render attachment usage first and to the usage
// of their final layout when the pass ends.
func (d *Device) CmdBeginRenderPass(cmd gpu.CommandBufferHandle, begin *gpu.RenderPassBegin) {
	rph, fbh := begin.RenderPass, begin.Framebuffer
	clears := append([]gpu.ClearValue(nil), begin.ClearValues...)
	d.record(cmd, func(e *encoder) error {
		e.endCompute()
		rp, ok := e.d.renderPasses[rph]
		if !ok {
			return fmt.Errorf("wgpu: render pass %d: %w", rph, gpu.ErrInvalidHandle)
		}
		fb, ok := e.d.framebuffers[fbh]
		if !ok {
			return fmt.Errorf("wgpu: framebuffer %d: %w", fbh, gpu.ErrInvalidHandle)
		}
		e.pass = &passState{rp: rp, fb: fb, clears: clears}
		for i, att := range rp.Attachments {
			v, img, err := e.attachment(uint32(i))
			if err != nil {
				return err
			}
			if att.InitialLayout != gpu.LayoutUndefined {
				e.transition(img.hal, layoutUsage(att.InitialLayout), gputypes.TextureUsageRenderAttachment, viewRange(v))
			}
		}
		return e.beginSubpass()
	})
}

// CmdNextSubpass ends the hal pass of the current subpass and opens the
// next one.
func (d *Device) CmdNextSubpass(cmd gpu.CommandBufferHandle, _ gpu.SubpassContents) {
	d.record(cmd, func(e *encoder) error {
		if e.pass == nil || e.render == nil {
			return fmt.Errorf("wgpu: next subpass: %w", gpu.ErrNoRenderPass)
		}
		e.render.End()
		e.render = nil
		e.pass.subpass++
		if e.pass.subpass >= len(e.pass.rp.Subpasses) {
			return fmt.Errorf("wgpu: subpass %d: %w", e.pass.subpass, gpu.ErrNoSubpass)
		}
		return e.beginSubpass()
	})
}

// CmdEndRenderPass ends the render pass and moves attachments to their
// final layouts.
func (d *Device) CmdEndRenderPass(cmd gpu.CommandBufferHandle) {
	d.record(cmd, func(e *encoder) error {
		if e.pass == nil || e.render == nil {
			return fmt.Errorf("wgpu: end render pass: %w", gpu.ErrNoRenderPass)
		}
		e.render.End()
		e.render = nil
		for i, att := range e.pass.rp.Attachments {
			v, img, err := e.attachment(uint32(i))
			if err != nil {
				return err
			}
			e.transition(img.hal, gputypes.TextureUsageRenderAttachment, layoutUsage(att.FinalLayout), viewRange(v))
		}
		e.pass = nil
		return nil
	})
}

// CmdExecuteCommands replays sealed secondary command buffers inline.
func (d *Device) CmdExecuteCommands(cmd gpu.CommandBufferHandle, secondaries []gpu.CommandBufferHandle) {
	hs := append([]gpu.CommandBufferHandle(nil), secondaries...)
	d.record(cmd, func(e *encoder) error {
		for _, h := range hs {
			sec, ok := e.d.commands[h]
			if !ok || sec.level != gpu.LevelSecondary {
				return fmt.Errorf("wgpu: execute secondary %d: %w", h, gpu.ErrInvalidHandle)
			}
			if err := e.run(sec.ops); err != nil {
				return err
			}
		}
		return nil
	})
}

// CmdBindPipeline binds a graphics or compute pipeline.
func (d *Device) CmdBindPipeline(cmd gpu.CommandBufferHandle, point gpu.BindPoint, p gpu.PipelineHandle) {
	d.record(cmd, func(e *encoder) error {
		pl, ok := e.d.pipelines[p]
		if !ok {
			return fmt.Errorf("wgpu: bind pipeline %d: %w", p, gpu.ErrInvalidHandle)
		}
		if point == gpu.BindPointCompute {
			e.computePipe = pl.compute
			e.beginCompute().SetPipeline(pl.compute)
			return nil
		}
		if e.render == nil {
			return fmt.Errorf("wgpu: bind graphics pipeline: %w", gpu.ErrNoRenderPass)
		}
		e.render.SetPipeline(pl.render)
		return nil
	})
}

// CmdBindDescriptorSets binds sets as bind groups, rebuilding groups of
// sets written since their last use.
func (d *Device) CmdBindDescriptorSets(cmd gpu.CommandBufferHandle, point gpu.BindPoint, _ gpu.PipelineLayoutHandle, firstSet uint32, sets []gpu.DescriptorSetHandle) {
	ss := append([]gpu.DescriptorSetHandle(nil), sets...)
	d.record(cmd, func(e *encoder) error {
		for i, s := range ss {
			g, err := e.d.bindGroupLocked(s)
			if err != nil {
				return err
			}
			idx := firstSet + uint32(i)
			if point == gpu.BindPointCompute {
				e.computeSets[idx] = g
				e.beginCompute().SetBindGroup(idx, g, nil)
				continue
			}
			if e.render == nil {
				return fmt.Errorf("wgpu: bind graphics sets: %w", gpu.ErrNoRenderPass)
			}
			e.render.SetBindGroup(idx, g, nil)
		}
		return nil
	})
}

// CmdPushConstants is not supported by WebGPU. The command buffer fails
// to end.
func (d *Device) CmdPushConstants(cmd gpu.CommandBufferHandle, _ gpu.PipelineLayoutHandle, _ gpu.ShaderStage, _ uint32, _ []byte) {
	d.fail(cmd, fmt.Errorf("wgpu: push constants: %w", gpu.ErrUnsupported))
}

// CmdBindVertexBuffers binds vertex buffers to consecutive slots.
func (d *Device) CmdBindVertexBuffers(cmd gpu.CommandBufferHandle, first uint32, buffers []gpu.BufferHandle, offsets []uint64) {
	bs := append([]gpu.BufferHandle(nil), buffers...)
	offs := append([]uint64(nil), offsets...)
	d.record(cmd, func(e *encoder) error {
		if e.render == nil {
			return fmt.Errorf("wgpu: bind vertex buffers: %w", gpu.ErrNoRenderPass)
		}
		for i, h := range bs {
			b, ok := e.d.buffers[h]
			if !ok {
				return fmt.Errorf("wgpu: vertex buffer %d: %w", h, gpu.ErrInvalidHandle)
			}
			var off uint64
			if i < len(offs) {
				off = offs[i]
			}
			e.render.SetVertexBuffer(first+uint32(i), b.hal, off)
		}
		return nil
	})
}

// CmdBindIndexBuffer binds the index buffer.
func (d *Device) CmdBindIndexBuffer(cmd gpu.CommandBufferHandle, buf gpu.BufferHandle, offset uint64, typ gpu.IndexType) {
	d.record(cmd, func(e *encoder) error {
		b, ok := e.d.buffers[buf]
		if !ok {
			return fmt.Errorf("wgpu: index buffer %d: %w", buf, gpu.ErrInvalidHandle)
		}
		if e.render == nil {
			return fmt.Errorf("wgpu: bind index buffer: %w", gpu.ErrNoRenderPass)
		}
		e.render.SetIndexBuffer(b.hal, indexFormat(typ), offset)
		return nil
	})
}

// CmdSetViewport sets the viewport.
func (d *Device) CmdSetViewport(cmd gpu.CommandBufferHandle, vp gpu.Viewport) {
	d.record(cmd, func(e *encoder) error {
		if e.render == nil {
			return fmt.Errorf("wgpu: set viewport: %w", gpu.ErrNoRenderPass)
		}
		e.render.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.MinDepth, vp.MaxDepth)
		return nil
	})
}

// CmdSetScissor sets the scissor rectangle. Negative origins clamp to 0.
func (d *Device) CmdSetScissor(cmd gpu.CommandBufferHandle, r gpu.Rect) {
	d.record(cmd, func(e *encoder) error {
		if e.render == nil {
			return fmt.Errorf("wgpu: set scissor: %w", gpu.ErrNoRenderPass)
		}
		e.render.SetScissorRect(uint32(max(r.X, 0)), uint32(max(r.Y, 0)), r.Width, r.Height)
		return nil
	})
}

// CmdDraw records a non-indexed draw.
func (d *Device) CmdDraw(cmd gpu.CommandBufferHandle, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	d.record(cmd, func(e *encoder) error {
		if e.render == nil {
			return fmt.Errorf("wgpu: draw: %w", gpu.ErrNoRenderPass)
		}
		e.render.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
		return nil
	})
}

// CmdDrawIndexed records an indexed draw.
func (d *Device) CmdDrawIndexed(cmd gpu.CommandBufferHandle, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.record(cmd, func(e *encoder) error {
		if e.render == nil {
			return fmt.Errorf("wgpu: draw indexed: %w", gpu.ErrNoRenderPass)
		}
		e.render.DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
		return nil
	})
}

// CmdDispatch records a compute dispatch.
func (d *Device) CmdDispatch(cmd gpu.CommandBufferHandle, x, y, z uint32) {
	d.record(cmd, func(e *encoder) error {
		if e.render != nil {
			return fmt.Errorf("wgpu: dispatch inside a render pass: %w", gpu.ErrUnsupported)
		}
		e.beginCompute().Dispatch(x, y, z)
		return nil
	})
}

// =============================================================================
// Copies
// =============================================================================

func (e *encoder) bufferTextureCopies(img *image, regions []gpu.BufferImageCopy) []hal.BufferTextureCopy {
	bpp := img.desc.Format.BytesPerPixel()
	out := make([]hal.BufferTextureCopy, len(regions))
	for i, r := range regions {
		out[i] = hal.BufferTextureCopy{
			BufferLayout: hal.ImageDataLayout{Offset: r.BufferOffset, BytesPerRow: r.Width * bpp, RowsPerImage: r.Height},
			TextureBase: hal.ImageCopyTexture{
				Texture:  img.hal,
				MipLevel: r.Subresource.MipLevel,
				Origin:   hal.Origin3D{Z: r.Subresource.BaseLayer},
			},
			Size: extent(r.Width, r.Height, r.Subresource.LayerCount),
		}
	}
	return out
}

// CmdCopyBufferToImage copies buffer data into image mips.
func (d *Device) CmdCopyBufferToImage(cmd gpu.CommandBufferHandle, src gpu.BufferHandle, dst gpu.ImageHandle, _ gpu.ImageLayout, regions []gpu.BufferImageCopy) {
	rs := append([]gpu.BufferImageCopy(nil), regions...)
	d.record(cmd, func(e *encoder) error {
		e.endCompute()
		b, bOK := e.d.buffers[src]
		img, iOK := e.d.images[dst]
		if !bOK || !iOK {
			return fmt.Errorf("wgpu: copy buffer to image: %w", gpu.ErrInvalidHandle)
		}
		e.enc.CopyBufferToTexture(b.hal, img.hal, e.bufferTextureCopies(img, rs))
		return nil
	})
}

// CmdCopyImageToBuffer copies image mips into a buffer.
func (d *Device) CmdCopyImageToBuffer(cmd gpu.CommandBufferHandle, src gpu.ImageHandle, _ gpu.ImageLayout, dst gpu.BufferHandle, regions []gpu.BufferImageCopy) {
	rs := append([]gpu.BufferImageCopy(nil), regions...)
	d.record(cmd, func(e *encoder) error {
		e.endCompute()
		img, iOK := e.d.images[src]
		b, bOK := e.d.buffers[dst]
		if !bOK || !iOK {
			return fmt.Errorf("wgpu: copy image to buffer: %w", gpu.ErrInvalidHandle)
		}
		e.enc.CopyTextureToBuffer(img.hal, b.hal, e.bufferTextureCopies(img, rs))
		return nil
	})
}

// CmdCopyImage copies regions between images of equal format.
func (d *Device) CmdCopyImage(cmd gpu.CommandBufferHandle, src gpu.ImageHandle, _ gpu.ImageLayout, dst gpu.ImageHandle, _ gpu.ImageLayout, regions []gpu.ImageCopy) {
	rs := append([]gpu.ImageCopy(nil), regions...)
	d.record(cmd, func(e *encoder) error {
		e.endCompute()
		s, sOK := e.d.images[src]
		t, tOK := e.d.images[dst]
		if !sOK || !tOK {
			return fmt.Errorf("wgpu: copy image: %w", gpu.ErrInvalidHandle)
		}
		copies := make([]hal.TextureCopy, len(rs))
		for i, r := range rs {
			copies[i] = hal.TextureCopy{
				SrcBase: hal.ImageCopyTexture{Texture: s.hal, MipLevel: r.Src.MipLevel, Origin: hal.Origin3D{Z: r.Src.BaseLayer}},
				DstBase: hal.ImageCopyTexture{Texture: t.hal, MipLevel: r.Dst.MipLevel, Origin: hal.Origin3D{Z: r.Dst.BaseLayer}},
				Size:    extent(r.Width, r.Height, r.Src.LayerCount),
			}
		}
		e.enc.CopyTextureToTexture(s.hal, t.hal, copies)
		return nil
	})
}

// CmdBlitImage scales regions with a fullscreen-triangle render pass per
// layer, since WebGPU has no blit command.
func (d *Device) CmdBlitImage(cmd gpu.CommandBufferHandle, src gpu.ImageHandle, srcLayout gpu.ImageLayout, dst gpu.ImageHandle, dstLayout gpu.ImageLayout, regions []gpu.ImageBlit, filter gpu.Filter) {
	rs := append([]gpu.ImageBlit(nil), regions...)
	d.record(cmd, func(e *encoder) error {
		e.endCompute()
		s, sOK := e.d.images[src]
		t, tOK := e.d.images[dst]
		if !sOK || !tOK {
			return fmt.Errorf("wgpu: blit: %w", gpu.ErrInvalidHandle)
		}
		if t.desc.Format.IsDepth() {
			return fmt.Errorf("wgpu: blit into depth image %q: %w", t.desc.Label, gpu.ErrUnsupported)
		}
		for _, r := range rs {
			if err := e.blit(s, layoutUsage(srcLayout), t, layoutUsage(dstLayout), r, filter); err != nil {
				return err
			}
		}
		return nil
	})
}

var _ gpu.Recorder = (*Device)(nil)
