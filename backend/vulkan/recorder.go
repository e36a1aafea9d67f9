//go:build !nogpu

package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/gogpu/lumen/backend"
	"github.com/gogpu/lumen/internal/gpu"
)

// cmdLocked resolves a command buffer. Recording into an unknown buffer is
// dropped and logged.
func (d *Device) cmdLocked(cmd gpu.CommandBufferHandle) (*commandBuffer, bool) {
	c, ok := d.commands.get(cmd)
	if !ok {
		backend.Logger().Warn("vulkan: record into unknown command buffer", "cmd", cmd)
	}
	return c, ok
}

// fail keeps the first recording error; EndCommandBuffer returns it.
func (c *commandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// BeginCommandBuffer starts recording. Secondary buffers continuing a
// render pass get the inherited pass, subpass and framebuffer.
func (d *Device) BeginCommandBuffer(cmd gpu.CommandBufferHandle, info *gpu.BeginInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.commands.get(cmd)
	if !ok {
		return gpu.ErrInvalidHandle
	}
	c.err = nil
	var flags vk.CommandBufferUsageFlagBits
	if info != nil && info.OneTimeSubmit {
		flags |= vk.CommandBufferUsageOneTimeSubmitBit
	}
	begin := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	if c.level == gpu.LevelSecondary {
		inh := vk.CommandBufferInheritanceInfo{SType: vk.StructureTypeCommandBufferInheritanceInfo}
		if info != nil && info.Inheritance != nil {
			rp, okPass := d.renderPasses.get(info.Inheritance.RenderPass)
			if !okPass {
				return gpu.ErrInvalidHandle
			}
			inh.RenderPass = rp.rp
			inh.Subpass = info.Inheritance.Subpass
			if fb, okFB := d.framebuffers.get(info.Inheritance.Framebuffer); okFB {
				inh.Framebuffer = fb
			}
			flags |= vk.CommandBufferUsageRenderPassContinueBit
		}
		begin.PInheritanceInfo = []vk.CommandBufferInheritanceInfo{inh}
	}
	begin.Flags = vk.CommandBufferUsageFlags(flags)
	return newError("begin command buffer", vk.BeginCommandBuffer(c.cb, &begin))
}

// EndCommandBuffer finishes recording. It returns the first error hit while
// recording, if any.
func (d *Device) EndCommandBuffer(cmd gpu.CommandBufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.commands.get(cmd)
	if !ok {
		return gpu.ErrInvalidHandle
	}
	if err := newError("end command buffer", vk.EndCommandBuffer(c.cb)); err != nil {
		return err
	}
	return c.err
}

// ResetCommandBuffer returns a command buffer to the initial state.
func (d *Device) ResetCommandBuffer(cmd gpu.CommandBufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.commands.get(cmd)
	if !ok {
		return gpu.ErrInvalidHandle
	}
	c.err = nil
	return newError("reset command buffer", vk.ResetCommandBuffer(c.cb, 0))
}

// CmdPipelineBarrier records image memory barriers.
func (d *Device) CmdPipelineBarrier(cmd gpu.CommandBufferHandle, srcStage, dstStage gpu.PipelineStage, barriers []gpu.ImageBarrier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmdLocked(cmd)
	if !ok {
		return
	}
	vb := make([]vk.ImageMemoryBarrier, 0, len(barriers))
	for i := range barriers {
		b := &barriers[i]
		im, ok := d.images.get(b.Image)
		if !ok {
			c.fail(fmt.Errorf("vulkan: barrier on unknown image %d: %w", b.Image, gpu.ErrInvalidHandle))
			continue
		}
		vb = append(vb, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       accessFlags(b.SrcAccess),
			DstAccessMask:       accessFlags(b.DstAccess),
			OldLayout:           imageLayout(b.OldLayout),
			NewLayout:           imageLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               im.img,
			SubresourceRange:    subresourceRange(b),
		})
	}
	if len(vb) == 0 {
		return
	}
	vk.CmdPipelineBarrier(c.cb, pipelineStages(srcStage), pipelineStages(dstStage), 0,
		0, nil, 0, nil, uint32(len(vb)), vb)
}

// CmdBeginRenderPass begins a render pass instance. Clear values of depth
// attachments use their depth and stencil fields.
func (d *Device) CmdBeginRenderPass(cmd gpu.CommandBufferHandle, begin *gpu.RenderPassBegin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmdLocked(cmd)
	if !ok {
		return
	}
	rp, okPass := d.renderPasses.get(begin.RenderPass)
	fb, okFB := d.framebuffers.get(begin.Framebuffer)
	if !okPass || !okFB {
		c.fail(fmt.Errorf("vulkan: begin render pass: %w", gpu.ErrInvalidHandle))
		return
	}
	clears := make([]vk.ClearValue, len(begin.ClearValues))
	for i, cv := range begin.ClearValues {
		if i < len(rp.depth) && rp.depth[i] {
			clears[i] = vk.NewClearDepthStencil(cv.Depth, cv.Stencil)
		} else {
			clears[i] = vk.NewClearValue(cv.Color[:])
		}
	}
	vk.CmdBeginRenderPass(c.cb, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.rp,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: begin.Width, Height: begin.Height},
		},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, subpassContents(begin.Contents))
}

// CmdNextSubpass advances to the next subpass.
func (d *Device) CmdNextSubpass(cmd gpu.CommandBufferHandle, contents gpu.SubpassContents) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cmdLocked(cmd); ok {
		vk.CmdNextSubpass(c.cb, subpassContents(contents))
	}
}

// CmdEndRenderPass ends the render pass instance.
func (d *Device) CmdEndRenderPass(cmd gpu.CommandBufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cmdLocked(cmd); ok {
		vk.CmdEndRenderPass(c.cb)
	}
}

// CmdExecuteCommands executes secondary command buffers.
func (d *Device) CmdExecuteCommands(cmd gpu.CommandBufferHandle, secondaries []gpu.CommandBufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmdLocked(cmd)
	if !ok || len(secondaries) == 0 {
		return
	}
	cbs := make([]vk.CommandBuffer, 0, len(secondaries))
	for _, h := range secondaries {
		s, ok := d.commands.get(h)
		if !ok || s.level != gpu.LevelSecondary {
			c.fail(fmt.Errorf("vulkan: execute commands: %d is not a secondary buffer", h))
			continue
		}
		cbs = append(cbs, s.cb)
	}
	if len(cbs) > 0 {
		vk.CmdExecuteCommands(c.cb, uint32(len(cbs)), cbs)
	}
}

// CmdBindPipeline binds a pipeline.
func (d *Device) CmdBindPipeline(cmd gpu.CommandBufferHandle, point gpu.BindPoint, p gpu.PipelineHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmdLocked(cmd)
	if !ok {
		return
	}
	pipe, ok := d.pipelines.get(p)
	if !ok {
		c.fail(fmt.Errorf("vulkan: bind pipeline %d: %w", p, gpu.ErrInvalidHandle))
		return
	}
	vk.CmdBindPipeline(c.cb, bindPoint(point), pipe)
}

// CmdBindDescriptorSets binds sets starting at firstSet.
func (d *Device) CmdBindDescriptorSets(cmd gpu.CommandBufferHandle, point gpu.BindPoint, layout gpu.PipelineLayoutHandle, firstSet uint32, sets []gpu.DescriptorSetHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmdLocked(cmd)
	if !ok || len(sets) == 0 {
		return
	}
	pl, ok := d.pipelineLayouts.get(layout)
	if !ok {
		c.fail(fmt.Errorf("vulkan: bind descriptor sets: layout %d: %w", layout, gpu.ErrInvalidHandle))
		return
	}
	vs := make([]vk.DescriptorSet, len(sets))
	for i, h := range sets {
		s, ok := d.sets.get(h)
		if !ok {
			c.fail(fmt.Errorf("vulkan: bind descriptor sets: set %d: %w", h, gpu.ErrInvalidHandle))
			return
		}
		vs[i] = s.set
	}
	vk.CmdBindDescriptorSets(c.cb, bindPoint(point), pl, firstSet, uint32(len(vs)), vs, 0, nil)
}

// CmdPushConstants updates push-constant bytes.
func (d *Device) CmdPushConstants(cmd gpu.CommandBufferHandle, layout gpu.PipelineLayoutHandle, stages gpu.ShaderStage, offset uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmdLocked(cmd)
	if !ok || len(data) == 0 {
		return
	}
	pl, ok := d.pipelineLayouts.get(layout)
	if !ok {
		c.fail(fmt.Errorf("vulkan: push constants: layout %d: %w", layout, gpu.ErrInvalidHandle))
		return
	}
	vk.CmdPushConstants(c.cb, pl, shaderStages(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

// CmdBindVertexBuffers binds vertex buffers starting at first.
func (d *Device) CmdBindVertexBuffers(cmd gpu.CommandBufferHandle, first uint32, buffers []gpu.BufferHandle, offsets []uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmdLocked(cmd)
	if !ok || len(buffers) == 0 {
		return
	}
	vb := make([]vk.Buffer, len(buffers))
	vo := make([]vk.DeviceSize, len(buffers))
	for i, h := range buffers {
		b, ok := d.buffers.get(h)
		if !ok {
			c.fail(fmt.Errorf("vulkan: bind vertex buffer %d: %w", h, gpu.ErrInvalidHandle))
			return
		}
		vb[i] = b
		if i < len(offsets) {
			vo[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(c.cb, first, uint32(len(vb)), vb, vo)
}

// CmdBindIndexBuffer binds an index buffer.
func (d *Device) CmdBindIndexBuffer(cmd gpu.CommandBufferHandle, buf gpu.BufferHandle, offset uint64, typ gpu.IndexType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmdLocked(cmd)
	if !ok {
		return
	}
	b, ok := d.buffers.get(buf)
	if !ok {
		c.fail(fmt.Errorf("vulkan: bind index buffer %d: %w", buf, gpu.ErrInvalidHandle))
		return
	}
	vk.CmdBindIndexBuffer(c.cb, b, vk.DeviceSize(offset), indexType(typ))
}

// CmdSetViewport sets the dynamic viewport.
func (d *Device) CmdSetViewport(cmd gpu.CommandBufferHandle, vp gpu.Viewport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cmdLocked(cmd); ok {
		vk.CmdSetViewport(c.cb, 0, 1, []vk.Viewport{{
			X:        vp.X,
			Y:        vp.Y,
			Width:    vp.Width,
			Height:   vp.Height,
			MinDepth: vp.MinDepth,
			MaxDepth: vp.MaxDepth,
		}})
	}
}

// CmdSetScissor sets the dynamic scissor.
func (d *Device) CmdSetScissor(cmd gpu.CommandBufferHandle, r gpu.Rect) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cmdLocked(cmd); ok {
		vk.CmdSetScissor(c.cb, 0, 1, []vk.Rect2D{{
			Offset: vk.Offset2D{X: r.X, Y: r.Y},
			Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
		}})
	}
}

// CmdDraw records a non-indexed draw.
func (d *Device) CmdDraw(cmd gpu.CommandBufferHandle, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cmdLocked(cmd); ok {
		vk.CmdDraw(c.cb, vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

// CmdDrawIndexed records an indexed draw.
func (d *Device) CmdDrawIndexed(cmd gpu.CommandBufferHandle, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cmdLocked(cmd); ok {
		vk.CmdDrawIndexed(c.cb, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	}
}

// CmdDispatch records a compute dispatch.
func (d *Device) CmdDispatch(cmd gpu.CommandBufferHandle, x, y, z uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cmdLocked(cmd); ok {
		vk.CmdDispatch(c.cb, x, y, z)
	}
}

// =============================================================================
// Transfers
// =============================================================================

func bufferImageCopies(regions []gpu.BufferImageCopy) []vk.BufferImageCopy {
	out := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		out[i] = vk.BufferImageCopy{
			BufferOffset:     vk.DeviceSize(r.BufferOffset),
			ImageSubresource: subresourceLayers(r.Subresource),
			ImageExtent:      vk.Extent3D{Width: r.Width, Height: r.Height, Depth: 1},
		}
	}
	return out
}

// transferLocked resolves the buffer and image of a copy.
func (d *Device) transferLocked(c *commandBuffer, buf gpu.BufferHandle, img gpu.ImageHandle) (vk.Buffer, *image, bool) {
	b, okBuf := d.buffers.get(buf)
	im, okImg := d.images.get(img)
	if !okBuf || !okImg {
		c.fail(fmt.Errorf("vulkan: copy between buffer %d and image %d: %w", buf, img, gpu.ErrInvalidHandle))
		return b, nil, false
	}
	return b, im, true
}

// CmdCopyBufferToImage copies buffer regions into image mips.
func (d *Device) CmdCopyBufferToImage(cmd gpu.CommandBufferHandle, src gpu.BufferHandle, dst gpu.ImageHandle, dstLayout gpu.ImageLayout, regions []gpu.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmdLocked(cmd)
	if !ok || len(regions) == 0 {
		return
	}
	b, im, ok := d.transferLocked(c, src, dst)
	if !ok {
		return
	}
	vr := bufferImageCopies(regions)
	vk.CmdCopyBufferToImage(c.cb, b, im.img, imageLayout(dstLayout), uint32(len(vr)), vr)
}

// CmdCopyImageToBuffer copies image mips into a buffer.
func (d *Device) CmdCopyImageToBuffer(cmd gpu.CommandBufferHandle, src gpu.ImageHandle, srcLayout gpu.ImageLayout, dst gpu.BufferHandle, regions []gpu.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmdLocked(cmd)
	if !ok || len(regions) == 0 {
		return
	}
	b, im, ok := d.transferLocked(c, dst, src)
	if !ok {
		return
	}
	vr := bufferImageCopies(regions)
	vk.CmdCopyImageToBuffer(c.cb, im.img, imageLayout(srcLayout), b, uint32(len(vr)), vr)
}

// CmdCopyImage copies regions between images of the same format.
func (d *Device) CmdCopyImage(cmd gpu.CommandBufferHandle, src gpu.ImageHandle, srcLayout gpu.ImageLayout, dst gpu.ImageHandle, dstLayout gpu.ImageLayout, regions []gpu.ImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmdLocked(cmd)
	if !ok || len(regions) == 0 {
		return
	}
	s, okSrc := d.images.get(src)
	t, okDst := d.images.get(dst)
	if !okSrc || !okDst {
		c.fail(fmt.Errorf("vulkan: copy image: %w", gpu.ErrInvalidHandle))
		return
	}
	vr := make([]vk.ImageCopy, len(regions))
	for i, r := range regions {
		vr[i] = vk.ImageCopy{
			SrcSubresource: subresourceLayers(r.Src),
			DstSubresource: subresourceLayers(r.Dst),
			Extent:         vk.Extent3D{Width: r.Width, Height: r.Height, Depth: 1},
		}
	}
	vk.CmdCopyImage(c.cb, s.img, imageLayout(srcLayout), t.img, imageLayout(dstLayout), uint32(len(vr)), vr)
}

// CmdBlitImage scales regions between images with the given filter.
func (d *Device) CmdBlitImage(cmd gpu.CommandBufferHandle, src gpu.ImageHandle, srcLayout gpu.ImageLayout, dst gpu.ImageHandle, dstLayout gpu.ImageLayout, regions []gpu.ImageBlit, f gpu.Filter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmdLocked(cmd)
	if !ok || len(regions) == 0 {
		return
	}
	s, okSrc := d.images.get(src)
	t, okDst := d.images.get(dst)
	if !okSrc || !okDst {
		c.fail(fmt.Errorf("vulkan: blit image: %w", gpu.ErrInvalidHandle))
		return
	}
	vr := make([]vk.ImageBlit, len(regions))
	for i, r := range regions {
		vr[i] = vk.ImageBlit{
			SrcSubresource: subresourceLayers(r.Src),
			SrcOffsets: [2]vk.Offset3D{
				{X: 0, Y: 0, Z: 0},
				{X: int32(r.SrcWidth), Y: int32(r.SrcHeight), Z: 1},
			},
			DstSubresource: subresourceLayers(r.Dst),
			DstOffsets: [2]vk.Offset3D{
				{X: 0, Y: 0, Z: 0},
				{X: int32(r.DstWidth), Y: int32(r.DstHeight), Z: 1},
			},
		}
	}
	vk.CmdBlitImage(c.cb, s.img, imageLayout(srcLayout), t.img, imageLayout(dstLayout), uint32(len(vr)), vr, filter(f))
}
