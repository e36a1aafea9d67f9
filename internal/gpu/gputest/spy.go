package gputest

import (
	"slices"

	"github.com/gogpu/lumen/internal/gpu"
)

// Commands returns the commands recorded into cmd since its last Begin.
func (d *Device) Commands(cmd gpu.CommandBufferHandle) []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cmds[cmd]
	if !ok {
		return nil
	}
	return slices.Clone(c.commands)
}

// Filter returns the commands of cmd with the given op.
func (d *Device) Filter(cmd gpu.CommandBufferHandle, op Op) []Command {
	var out []Command
	for _, c := range d.Commands(cmd) {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many commands of op were recorded into cmd.
func (d *Device) Count(cmd gpu.CommandBufferHandle, op Op) int {
	return len(d.Filter(cmd, op))
}

// Dispatches returns the (x, y, z) groups of every dispatch in cmd.
func (d *Device) Dispatches(cmd gpu.CommandBufferHandle) [][3]uint32 {
	var out [][3]uint32
	for _, c := range d.Filter(cmd, OpDispatch) {
		out = append(out, [3]uint32{c.X, c.Y, c.Z})
	}
	return out
}

// Submitted returns the command lists of every submitted buffer in order.
func (d *Device) Submitted() [][]Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.submitted)
}

// Created returns how many objects of op were created over the device's life.
func (d *Device) Created(op Op) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[op]
}

// Live returns the number of live objects per kind.
type Live struct {
	Buffers, Images, Views, Samplers    int
	SetLayouts, Pools, Sets             int
	RenderPasses, Framebuffers          int
	PipelineLayouts, Pipelines, Shaders int
	CommandBuffers, Fences              int
}

// Live reports live object counts.
func (d *Device) Live() Live {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Live{
		Buffers:         len(d.buffers),
		Images:          len(d.images),
		Views:           len(d.views),
		Samplers:        len(d.samplers),
		SetLayouts:      len(d.setLayouts),
		Pools:           len(d.pools),
		Sets:            len(d.sets),
		RenderPasses:    len(d.renderPasses),
		Framebuffers:    len(d.framebuffers),
		PipelineLayouts: len(d.layouts),
		Pipelines:       len(d.pipelines),
		Shaders:         len(d.shaders),
		CommandBuffers:  len(d.cmds),
		Fences:          len(d.fences),
	}
}

// ImageDesc returns the description an image was created with.
func (d *Device) ImageDesc(h gpu.ImageHandle) (gpu.ImageDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[h]
	if !ok {
		return gpu.ImageDesc{}, false
	}
	return img.desc, true
}

// Images returns the descriptions of every live image.
func (d *Device) Images() []gpu.ImageDesc {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]gpu.ImageDesc, 0, len(d.images))
	for _, img := range d.images {
		out = append(out, img.desc)
	}
	return out
}

// BufferDescs returns the descriptions of every live buffer.
func (d *Device) BufferDescs() []gpu.BufferDesc {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]gpu.BufferDesc, 0, len(d.buffers))
	for _, b := range d.buffers {
		out = append(out, b.desc)
	}
	return out
}

// BufferContents returns a copy of a live buffer's memory.
func (d *Device) BufferContents(h gpu.BufferHandle) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[h]
	if !ok {
		return nil
	}
	return slices.Clone(d.memory[b.mem])
}

// SetContents returns the current write of every binding of a set.
func (d *Device) SetContents(h gpu.DescriptorSetHandle) map[uint32]gpu.DescriptorWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[uint32]gpu.DescriptorWrite, len(d.sets[h]))
	for k, v := range d.sets[h] {
		out[k] = v
	}
	return out
}

// Updates returns every UpdateDescriptorSets call in order.
func (d *Device) Updates() [][]gpu.DescriptorWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.updates)
}

// View returns the description of a live view.
func (d *Device) View(h gpu.ImageViewHandle) (gpu.ImageViewDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.views[h]
	return v, ok
}

// Sampler returns the description of a live sampler.
func (d *Device) Sampler(h gpu.SamplerHandle) (gpu.SamplerDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.samplers[h]
	return s, ok
}

// PipelineDesc returns the description a pipeline was created from: a
// gpu.GraphicsPipelineDesc or a gpu.ComputePipelineDesc.
func (d *Device) PipelineDesc(h gpu.PipelineHandle) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelines[h]
}

// NewContext returns a device and a context on it. The context is closed
// when the test ends.
func NewContext(t interface {
	Helper()
	Fatalf(format string, args ...any)
	Cleanup(func())
}, opts ...gpu.ContextOption) (*Device, *gpu.Context) {
	t.Helper()
	dev := NewDevice()
	gctx, err := gpu.NewContext(dev, opts...)
	if err != nil {
		t.Fatalf("gputest: new context: %v", err)
	}
	t.Cleanup(gctx.Close)
	return dev, gctx
}
