package gputest

import (
	"slices"

	"github.com/gogpu/lumen/internal/gpu"
)

func (d *Device) BeginCommandBuffer(cmd gpu.CommandBufferHandle, info *gpu.BeginInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmds[cmd]
	if !ok {
		return gpu.ErrInvalidHandle
	}
	c.recording, c.begin, c.commands = true, info, nil
	return nil
}

func (d *Device) EndCommandBuffer(cmd gpu.CommandBufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmds[cmd]
	if !ok {
		return gpu.ErrInvalidHandle
	}
	c.recording = false
	return nil
}

func (d *Device) ResetCommandBuffer(cmd gpu.CommandBufferHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmds[cmd]
	if !ok {
		return gpu.ErrInvalidHandle
	}
	c.recording, c.commands = false, nil
	return nil
}

// record appends a command. Caller must hold mu.
func (d *Device) record(c Command) {
	cb, ok := d.cmds[c.Cmd]
	if !ok {
		d.misuse("%s on unknown command buffer %d", c.Op, c.Cmd)
		return
	}
	if !cb.recording {
		d.misuse("%s on command buffer %d outside recording", c.Op, c.Cmd)
	}
	cb.commands = append(cb.commands, c)
}

func (d *Device) CmdPipelineBarrier(cmd gpu.CommandBufferHandle, src, dst gpu.PipelineStage, barriers []gpu.ImageBarrier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range barriers {
		if _, ok := d.images[b.Image]; !ok {
			d.misuse("barrier on unknown image %d", b.Image)
		}
	}
	d.record(Command{Op: OpBarrier, Cmd: cmd, SrcStage: src, DstStage: dst, Barriers: slices.Clone(barriers)})
}

func (d *Device) CmdBeginRenderPass(cmd gpu.CommandBufferHandle, begin *gpu.RenderPassBegin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := *begin
	d.record(Command{Op: OpBeginPass, Cmd: cmd, Begin: &b})
}

func (d *Device) CmdNextSubpass(cmd gpu.CommandBufferHandle, _ gpu.SubpassContents) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpNextSubpass, Cmd: cmd})
}

func (d *Device) CmdEndRenderPass(cmd gpu.CommandBufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpEndPass, Cmd: cmd})
}

func (d *Device) CmdExecuteCommands(cmd gpu.CommandBufferHandle, secondaries []gpu.CommandBufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpExecute, Cmd: cmd, X: uint32(len(secondaries))})
}

func (d *Device) CmdBindPipeline(cmd gpu.CommandBufferHandle, _ gpu.BindPoint, p gpu.PipelineHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pipelines[p]; !ok {
		d.misuse("bind of unknown pipeline %d", p)
	}
	d.record(Command{Op: OpBindPipeline, Cmd: cmd, Pipeline: p})
}

func (d *Device) CmdBindDescriptorSets(cmd gpu.CommandBufferHandle, _ gpu.BindPoint, _ gpu.PipelineLayoutHandle, first uint32, sets []gpu.DescriptorSetHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range sets {
		if _, ok := d.sets[s]; !ok {
			d.misuse("bind of unknown descriptor set %d", s)
		}
	}
	d.record(Command{Op: OpBindSets, Cmd: cmd, X: first, Sets: slices.Clone(sets)})
}

func (d *Device) CmdPushConstants(cmd gpu.CommandBufferHandle, _ gpu.PipelineLayoutHandle, _ gpu.ShaderStage, offset uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpPushConstants, Cmd: cmd, X: offset, Push: slices.Clone(data)})
}

func (d *Device) CmdBindVertexBuffers(cmd gpu.CommandBufferHandle, first uint32, buffers []gpu.BufferHandle, _ []uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpBindVertex, Cmd: cmd, X: first, Y: uint32(len(buffers))})
}

func (d *Device) CmdBindIndexBuffer(cmd gpu.CommandBufferHandle, _ gpu.BufferHandle, _ uint64, _ gpu.IndexType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpBindIndex, Cmd: cmd})
}

func (d *Device) CmdSetViewport(cmd gpu.CommandBufferHandle, vp gpu.Viewport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpSetViewport, Cmd: cmd, Viewport: vp})
}

func (d *Device) CmdSetScissor(cmd gpu.CommandBufferHandle, r gpu.Rect) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpSetScissor, Cmd: cmd, Scissor: r})
}

func (d *Device) CmdDraw(cmd gpu.CommandBufferHandle, vertexCount, instanceCount, _, _ uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpDraw, Cmd: cmd, X: vertexCount, Y: instanceCount})
}

func (d *Device) CmdDrawIndexed(cmd gpu.CommandBufferHandle, indexCount, instanceCount, _ uint32, _ int32, _ uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpDrawIndexed, Cmd: cmd, X: indexCount, Y: instanceCount})
}

func (d *Device) CmdDispatch(cmd gpu.CommandBufferHandle, x, y, z uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpDispatch, Cmd: cmd, X: x, Y: y, Z: z})
}

// CmdCopyBufferToImage copies into mip 0 as it is recorded.
func (d *Device) CmdCopyBufferToImage(cmd gpu.CommandBufferHandle, src gpu.BufferHandle, dst gpu.ImageHandle, _ gpu.ImageLayout, regions []gpu.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, okb := d.buffers[src]
	img, oki := d.images[dst]
	if !okb || !oki {
		d.misuse("copy buffer %d to image %d: unknown handle", src, dst)
	} else {
		for _, r := range regions {
			if r.Subresource.MipLevel == 0 {
				copy(d.memory[img.mem], d.memory[b.mem][r.BufferOffset:])
			}
		}
	}
	d.record(Command{Op: OpCopyBufToImg, Cmd: cmd, DstImage: dst})
}

// CmdCopyImageToBuffer copies from mip 0 as it is recorded.
func (d *Device) CmdCopyImageToBuffer(cmd gpu.CommandBufferHandle, src gpu.ImageHandle, _ gpu.ImageLayout, dst gpu.BufferHandle, regions []gpu.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, oki := d.images[src]
	b, okb := d.buffers[dst]
	if !okb || !oki {
		d.misuse("copy image %d to buffer %d: unknown handle", src, dst)
	} else {
		for _, r := range regions {
			if r.Subresource.MipLevel == 0 {
				copy(d.memory[b.mem][r.BufferOffset:], d.memory[img.mem])
			}
		}
	}
	d.record(Command{Op: OpCopyImgToBuf, Cmd: cmd, SrcImage: src})
}

func (d *Device) CmdCopyImage(cmd gpu.CommandBufferHandle, src gpu.ImageHandle, _ gpu.ImageLayout, dst gpu.ImageHandle, _ gpu.ImageLayout, regions []gpu.ImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpCopyImage, Cmd: cmd, SrcImage: src, DstImage: dst, Copies: slices.Clone(regions)})
}

func (d *Device) CmdBlitImage(cmd gpu.CommandBufferHandle, src gpu.ImageHandle, _ gpu.ImageLayout, dst gpu.ImageHandle, _ gpu.ImageLayout, regions []gpu.ImageBlit, _ gpu.Filter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpBlitImage, Cmd: cmd, SrcImage: src, DstImage: dst, Blits: slices.Clone(regions)})
}
