// Package gputest provides an in-memory gpu.Device for tests.
//
// Device allocates handles, checks that every handle it is given is live,
// counts live objects per kind and records every command per command
// buffer. Transfers between buffers and mip 0 of images are executed as
// they are recorded, so uploads can be read back. Submit signals the fence
// immediately.
package gputest

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gogpu/lumen/internal/gpu"
)

// Op names a recorded command or device call.
type Op string

// Recorded operations.
const (
	OpBarrier         Op = "PipelineBarrier"
	OpBeginPass       Op = "BeginRenderPass"
	OpNextSubpass     Op = "NextSubpass"
	OpEndPass         Op = "EndRenderPass"
	OpExecute         Op = "ExecuteCommands"
	OpBindPipeline    Op = "BindPipeline"
	OpBindSets        Op = "BindDescriptorSets"
	OpPushConstants   Op = "PushConstants"
	OpBindVertex      Op = "BindVertexBuffers"
	OpBindIndex       Op = "BindIndexBuffer"
	OpSetViewport     Op = "SetViewport"
	OpSetScissor      Op = "SetScissor"
	OpDraw            Op = "Draw"
	OpDrawIndexed     Op = "DrawIndexed"
	OpDispatch        Op = "Dispatch"
	OpCopyBufToImg    Op = "CopyBufferToImage"
	OpCopyImgToBuf    Op = "CopyImageToBuffer"
	OpCopyImage       Op = "CopyImage"
	OpBlitImage       Op = "BlitImage"
	OpUpdateSets      Op = "UpdateDescriptorSets"
	OpSubmit          Op = "Submit"
	OpCreateImage     Op = "CreateImage"
	OpCreateBuffer    Op = "CreateBuffer"
	OpCreateSetLayout Op = "CreateSetLayout"
)

// Command is one recorded command.
type Command struct {
	Op  Op
	Cmd gpu.CommandBufferHandle

	// Dispatch groups or draw counts.
	X, Y, Z uint32

	SrcStage, DstStage gpu.PipelineStage
	Barriers           []gpu.ImageBarrier

	Pipeline gpu.PipelineHandle
	Sets     []gpu.DescriptorSetHandle
	Push     []byte
	Begin    *gpu.RenderPassBegin
	Viewport gpu.Viewport
	Scissor  gpu.Rect

	SrcImage, DstImage gpu.ImageHandle
	Copies             []gpu.ImageCopy
	Blits              []gpu.ImageBlit
}

type buffer struct {
	desc gpu.BufferDesc
	mem  gpu.MemoryHandle
}

type image struct {
	desc gpu.ImageDesc
	mem  gpu.MemoryHandle
}

type pool struct {
	maxSets uint32
	sets    map[gpu.DescriptorSetHandle]struct{}
}

type cmdBuffer struct {
	level     gpu.CommandBufferLevel
	recording bool
	begin     *gpu.BeginInfo
	commands  []Command
}

// Device is an in-memory gpu.Device. It is safe for concurrent use.
type Device struct {
	mu sync.Mutex

	caps   gpu.Capabilities
	nextID uint64

	buffers      map[gpu.BufferHandle]*buffer
	memory       map[gpu.MemoryHandle][]byte
	mapped       map[gpu.MemoryHandle]bool
	images       map[gpu.ImageHandle]*image
	views        map[gpu.ImageViewHandle]gpu.ImageViewDesc
	samplers     map[gpu.SamplerHandle]gpu.SamplerDesc
	shaders      map[gpu.ShaderModuleHandle]string
	setLayouts   map[gpu.SetLayoutHandle][]gpu.LayoutBinding
	pools        map[gpu.DescriptorPoolHandle]*pool
	sets         map[gpu.DescriptorSetHandle]map[uint32]gpu.DescriptorWrite
	renderPasses map[gpu.RenderPassHandle]*gpu.RenderPassDesc
	framebuffers map[gpu.FramebufferHandle]gpu.FramebufferDesc
	layouts      map[gpu.PipelineLayoutHandle][]gpu.PushConstantRange
	pipelines    map[gpu.PipelineHandle]any
	cmds         map[gpu.CommandBufferHandle]*cmdBuffer
	fences       map[gpu.FenceHandle]bool

	created   map[Op]int
	updates   [][]gpu.DescriptorWrite
	submitted [][]Command
	failures  map[Op]error
	errs      []error
}

// Option configures a Device.
type Option func(*Device)

// WithCapabilities overrides the reported capabilities.
func WithCapabilities(c gpu.Capabilities) Option {
	return func(d *Device) { d.caps = c }
}

// FullCapabilities are the capabilities a Device reports by default.
var FullCapabilities = gpu.Capabilities{
	Graphics:             true,
	PushConstants:        true,
	MaxPushConstantsSize: 128,
	MaxSamplerAnisotropy: 16,
	MaxColorSamples:      8,
}

// NewDevice returns an empty device.
func NewDevice(opts ...Option) *Device {
	d := &Device{
		caps:         FullCapabilities,
		buffers:      make(map[gpu.BufferHandle]*buffer),
		memory:       make(map[gpu.MemoryHandle][]byte),
		mapped:       make(map[gpu.MemoryHandle]bool),
		images:       make(map[gpu.ImageHandle]*image),
		views:        make(map[gpu.ImageViewHandle]gpu.ImageViewDesc),
		samplers:     make(map[gpu.SamplerHandle]gpu.SamplerDesc),
		shaders:      make(map[gpu.ShaderModuleHandle]string),
		setLayouts:   make(map[gpu.SetLayoutHandle][]gpu.LayoutBinding),
		pools:        make(map[gpu.DescriptorPoolHandle]*pool),
		sets:         make(map[gpu.DescriptorSetHandle]map[uint32]gpu.DescriptorWrite),
		renderPasses: make(map[gpu.RenderPassHandle]*gpu.RenderPassDesc),
		framebuffers: make(map[gpu.FramebufferHandle]gpu.FramebufferDesc),
		layouts:      make(map[gpu.PipelineLayoutHandle][]gpu.PushConstantRange),
		pipelines:    make(map[gpu.PipelineHandle]any),
		cmds:         make(map[gpu.CommandBufferHandle]*cmdBuffer),
		fences:       make(map[gpu.FenceHandle]bool),
		created:      make(map[Op]int),
		failures:     make(map[Op]error),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Fail makes every later call of op return err. A nil err clears it.
// Supported ops are the Create* ops and OpSubmit.
func (d *Device) Fail(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, op)
		return
	}
	d.failures[op] = err
}

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

// misuse records a contract violation. Errors reports them.
func (d *Device) misuse(format string, args ...any) {
	d.errs = append(d.errs, fmt.Errorf(format, args...))
}

// Errors returns every contract violation seen, such as unknown handles.
func (d *Device) Errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.errs)
}

// Capabilities implements gpu.Device.
func (d *Device) Capabilities() gpu.Capabilities { return d.caps }

// =============================================================================
// Resources
// =============================================================================

func (d *Device) CreateBuffer(desc *gpu.BufferDesc) (gpu.BufferHandle, gpu.MemoryHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failures[OpCreateBuffer]; err != nil {
		return 0, 0, err
	}
	h, m := gpu.BufferHandle(d.id()), gpu.MemoryHandle(d.id())
	d.buffers[h] = &buffer{desc: *desc, mem: m}
	d.memory[m] = make([]byte, desc.Size)
	d.created[OpCreateBuffer]++
	return h, m, nil
}

func (d *Device) DestroyBuffer(b gpu.BufferHandle, m gpu.MemoryHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[b]; !ok {
		d.misuse("destroy unknown buffer %d", b)
	}
	delete(d.buffers, b)
	delete(d.memory, m)
	delete(d.mapped, m)
}

func (d *Device) MapMemory(m gpu.MemoryHandle, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.memory[m]
	if !ok {
		return nil, gpu.ErrInvalidHandle
	}
	if d.mapped[m] {
		d.misuse("memory %d mapped twice", m)
	}
	d.mapped[m] = true
	return data[offset : offset+size], nil
}

func (d *Device) UnmapMemory(m gpu.MemoryHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.mapped[m] {
		d.misuse("unmap of unmapped memory %d", m)
	}
	delete(d.mapped, m)
}

func (d *Device) CreateImage(desc *gpu.ImageDesc) (gpu.ImageHandle, gpu.MemoryHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failures[OpCreateImage]; err != nil {
		return 0, 0, err
	}
	h, m := gpu.ImageHandle(d.id()), gpu.MemoryHandle(d.id())
	d.images[h] = &image{desc: *desc, mem: m}
	size := uint64(desc.Width) * uint64(desc.Height) * uint64(desc.Format.BytesPerPixel()) * uint64(desc.ArrayLayers)
	d.memory[m] = make([]byte, size)
	d.created[OpCreateImage]++
	return h, m, nil
}

func (d *Device) DestroyImage(img gpu.ImageHandle, m gpu.MemoryHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.images[img]; !ok {
		d.misuse("destroy unknown image %d", img)
	}
	delete(d.images, img)
	delete(d.memory, m)
}

func (d *Device) CreateImageView(desc *gpu.ImageViewDesc) (gpu.ImageViewHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[desc.Image]
	if !ok {
		return 0, gpu.ErrInvalidHandle
	}
	if desc.BaseMip+desc.MipCount > img.desc.MipLevels {
		d.misuse("view mips [%d,%d) outside image with %d", desc.BaseMip, desc.BaseMip+desc.MipCount, img.desc.MipLevels)
	}
	if desc.BaseLayer+desc.LayerCount > img.desc.ArrayLayers {
		d.misuse("view layers [%d,%d) outside image with %d", desc.BaseLayer, desc.BaseLayer+desc.LayerCount, img.desc.ArrayLayers)
	}
	h := gpu.ImageViewHandle(d.id())
	d.views[h] = *desc
	return h, nil
}

func (d *Device) DestroyImageView(v gpu.ImageViewHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.views[v]; !ok {
		d.misuse("destroy unknown view %d", v)
	}
	delete(d.views, v)
}

func (d *Device) CreateSampler(desc *gpu.SamplerDesc) (gpu.SamplerHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := gpu.SamplerHandle(d.id())
	d.samplers[h] = *desc
	return h, nil
}

func (d *Device) DestroySampler(s gpu.SamplerHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.samplers, s)
}

func (d *Device) CreateShaderModule(label string, _ []uint32) (gpu.ShaderModuleHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := gpu.ShaderModuleHandle(d.id())
	d.shaders[h] = label
	return h, nil
}

func (d *Device) DestroyShaderModule(m gpu.ShaderModuleHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.shaders, m)
}

// =============================================================================
// Descriptors
// =============================================================================

func (d *Device) CreateSetLayout(bindings []gpu.LayoutBinding) (gpu.SetLayoutHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failures[OpCreateSetLayout]; err != nil {
		return 0, err
	}
	h := gpu.SetLayoutHandle(d.id())
	d.setLayouts[h] = slices.Clone(bindings)
	d.created[OpCreateSetLayout]++
	return h, nil
}

func (d *Device) DestroySetLayout(l gpu.SetLayoutHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.setLayouts, l)
}

func (d *Device) CreateDescriptorPool(maxSets uint32, _ []gpu.PoolSize) (gpu.DescriptorPoolHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := gpu.DescriptorPoolHandle(d.id())
	d.pools[h] = &pool{maxSets: maxSets, sets: make(map[gpu.DescriptorSetHandle]struct{})}
	return h, nil
}

func (d *Device) ResetDescriptorPool(p gpu.DescriptorPoolHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pl, ok := d.pools[p]
	if !ok {
		return gpu.ErrInvalidHandle
	}
	d.dropSets(pl)
	return nil
}

func (d *Device) DestroyDescriptorPool(p gpu.DescriptorPoolHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pl, ok := d.pools[p]; ok {
		d.dropSets(pl)
	}
	delete(d.pools, p)
}

// dropSets forgets every set of pl. Caller must hold mu.
func (d *Device) dropSets(pl *pool) {
	for h := range pl.sets {
		delete(d.sets, h)
	}
	clear(pl.sets)
}

func (d *Device) AllocateDescriptorSets(p gpu.DescriptorPoolHandle, layouts []gpu.SetLayoutHandle) ([]gpu.DescriptorSetHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pl, ok := d.pools[p]
	if !ok {
		return nil, gpu.ErrInvalidHandle
	}
	if uint32(len(pl.sets)+len(layouts)) > pl.maxSets {
		return nil, gpu.ErrPoolExhausted
	}
	for _, l := range layouts {
		if _, ok := d.setLayouts[l]; !ok {
			return nil, gpu.ErrInvalidHandle
		}
	}
	out := make([]gpu.DescriptorSetHandle, len(layouts))
	for i := range layouts {
		out[i] = gpu.DescriptorSetHandle(d.id())
		d.sets[out[i]] = make(map[uint32]gpu.DescriptorWrite)
		pl.sets[out[i]] = struct{}{}
	}
	return out, nil
}

func (d *Device) FreeDescriptorSets(p gpu.DescriptorPoolHandle, sets []gpu.DescriptorSetHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pl, ok := d.pools[p]
	if !ok {
		return gpu.ErrInvalidHandle
	}
	for _, h := range sets {
		if _, ok := pl.sets[h]; !ok {
			d.misuse("free of descriptor set %d not allocated from pool %d", h, p)
			return gpu.ErrInvalidHandle
		}
	}
	for _, h := range sets {
		delete(pl.sets, h)
		delete(d.sets, h)
	}
	return nil
}

func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range writes {
		set, ok := d.sets[w.Set]
		if !ok {
			d.misuse("write to unknown descriptor set %d", w.Set)
			continue
		}
		set[w.Binding] = w
	}
	d.updates = append(d.updates, slices.Clone(writes))
}

// =============================================================================
// Render passes and pipelines
// =============================================================================

func (d *Device) CreateRenderPass(desc *gpu.RenderPassDesc) (gpu.RenderPassHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := gpu.RenderPassHandle(d.id())
	d.renderPasses[h] = desc
	return h, nil
}

func (d *Device) DestroyRenderPass(rp gpu.RenderPassHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.renderPasses, rp)
}

func (d *Device) CreateFramebuffer(desc *gpu.FramebufferDesc) (gpu.FramebufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.renderPasses[desc.RenderPass]; !ok {
		return 0, gpu.ErrInvalidHandle
	}
	for _, v := range desc.Attachments {
		if _, ok := d.views[v]; !ok {
			return 0, gpu.ErrInvalidHandle
		}
	}
	h := gpu.FramebufferHandle(d.id())
	d.framebuffers[h] = *desc
	return h, nil
}

func (d *Device) DestroyFramebuffer(fb gpu.FramebufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.framebuffers, fb)
}

func (d *Device) CreatePipelineLayout(setLayouts []gpu.SetLayoutHandle, ranges []gpu.PushConstantRange) (gpu.PipelineLayoutHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range setLayouts {
		if _, ok := d.setLayouts[l]; !ok {
			return 0, gpu.ErrInvalidHandle
		}
	}
	h := gpu.PipelineLayoutHandle(d.id())
	d.layouts[h] = slices.Clone(ranges)
	return h, nil
}

func (d *Device) DestroyPipelineLayout(l gpu.PipelineLayoutHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.layouts, l)
}

func (d *Device) CreateGraphicsPipeline(desc *gpu.GraphicsPipelineDesc) (gpu.PipelineHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.layouts[desc.Layout]; !ok {
		return 0, gpu.ErrInvalidHandle
	}
	h := gpu.PipelineHandle(d.id())
	d.pipelines[h] = *desc
	return h, nil
}

func (d *Device) CreateComputePipeline(desc *gpu.ComputePipelineDesc) (gpu.PipelineHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.layouts[desc.Layout]; !ok {
		return 0, gpu.ErrInvalidHandle
	}
	h := gpu.PipelineHandle(d.id())
	d.pipelines[h] = *desc
	return h, nil
}

func (d *Device) DestroyPipeline(p gpu.PipelineHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, p)
}

// =============================================================================
// Submission
// =============================================================================

func (d *Device) AllocateCommandBuffer(level gpu.CommandBufferLevel) (gpu.CommandBufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := gpu.CommandBufferHandle(d.id())
	d.cmds[h] = &cmdBuffer{level: level}
	return h, nil
}

func (d *Device) FreeCommandBuffer(cmd gpu.CommandBufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cmds, cmd)
}

func (d *Device) CreateFence(signaled bool) (gpu.FenceHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := gpu.FenceHandle(d.id())
	d.fences[h] = signaled
	return h, nil
}

func (d *Device) DestroyFence(f gpu.FenceHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, f)
}

func (d *Device) WaitFence(f gpu.FenceHandle, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.fences[f]
	if !ok {
		return false, gpu.ErrInvalidHandle
	}
	return s, nil
}

func (d *Device) ResetFence(f gpu.FenceHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fences[f]; !ok {
		return gpu.ErrInvalidHandle
	}
	d.fences[f] = false
	return nil
}

func (d *Device) Submit(cmds []gpu.CommandBufferHandle, fence gpu.FenceHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failures[OpSubmit]; err != nil {
		return err
	}
	for _, h := range cmds {
		c, ok := d.cmds[h]
		if !ok {
			return gpu.ErrInvalidHandle
		}
		if c.recording {
			return errors.New("gputest: submit of recording command buffer")
		}
		d.submitted = append(d.submitted, slices.Clone(c.commands))
	}
	if fence != 0 {
		if _, ok := d.fences[fence]; !ok {
			return gpu.ErrInvalidHandle
		}
		d.fences[fence] = true
	}
	return nil
}

func (d *Device) WaitIdle() error { return nil }

// Destroy reports leaks through Errors.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := len(d.buffers) + len(d.images); n > 0 {
		d.misuse("device destroyed with %d live buffers and images", n)
	}
}
