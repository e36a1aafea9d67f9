//go:build !nogpu

package wgpu

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/lumen/backend"
	"github.com/gogpu/lumen/internal/gpu"
)

// idleTimeout bounds WaitIdle.
const idleTimeout = 10 * time.Second

var (
	// ErrNoAdapter is returned when the hal instance exposes no adapter.
	ErrNoAdapter = errors.New("wgpu: no GPU adapter found")

	// ErrNotHALProvider is returned by FromProvider when the provider does
	// not expose hal types.
	ErrNotHALProvider = errors.New("wgpu: provider does not expose HAL device and queue")
)

type buffer struct {
	hal      hal.Buffer
	mem      gpu.MemoryHandle
	size     uint64
	readback bool
	// shadow is the host copy MapMemory hands out. Unmap flushes it to the
	// GPU; readback buffers refresh it from the GPU on map.
	shadow []byte
	mapped bool
}

type image struct {
	hal    hal.Texture
	desc   gpu.ImageDesc
	format gputypes.TextureFormat
}

type view struct {
	hal   hal.TextureView
	image gpu.ImageHandle
	desc  gpu.ImageViewDesc
}

type setLayout struct {
	hal      hal.BindGroupLayout
	bindings []gpu.LayoutBinding
}

type pool struct {
	maxSets uint32
	sets    []gpu.DescriptorSetHandle
}

// descriptorSet holds the entries of one set. The bind group is built on
// first use after a write.
type descriptorSet struct {
	pool    gpu.DescriptorPoolHandle
	layout  *setLayout
	entries map[uint32]gputypes.BindGroupEntry
	group   hal.BindGroup
	dirty   bool
}

type pipelineLayout struct {
	hal    hal.PipelineLayout
	layout []gpu.SetLayoutHandle
}

type pipeline struct {
	render  hal.RenderPipeline
	compute hal.ComputePipeline
}

type fence struct {
	value    uint64
	inFlight bool
	signaled bool
}

// garbage is released once the submission that used it completes.
type garbage struct {
	value  uint64
	cmds   []hal.CommandBuffer
	views  []hal.TextureView
	groups []hal.BindGroup
}

// Device implements gpu.Device over a gogpu/wgpu hal device and queue.
//
// Descriptor sets, render passes and framebuffers have no hal equivalent;
// the device keeps their descriptions and builds bind groups and render
// pass descriptors when commands are encoded. Command buffers record
// operations and encode them into a fresh hal encoder on every submit.
//
// Thread Safety: Device is safe for concurrent use. All resource tables
// are protected by a mutex.
type Device struct {
	mu       sync.Mutex
	device   hal.Device
	queue    hal.Queue
	instance hal.Instance
	owned    bool

	// timeline is signaled with increasing values, one per submit.
	timeline  hal.Fence
	submitted uint64
	completed uint64
	pending   []garbage
	retired   []hal.BindGroup

	nextID atomic.Uint64

	buffers         map[gpu.BufferHandle]*buffer
	memory          map[gpu.MemoryHandle]gpu.BufferHandle
	images          map[gpu.ImageHandle]*image
	views           map[gpu.ImageViewHandle]*view
	samplers        map[gpu.SamplerHandle]hal.Sampler
	modules         map[gpu.ShaderModuleHandle]hal.ShaderModule
	setLayouts      map[gpu.SetLayoutHandle]*setLayout
	pools           map[gpu.DescriptorPoolHandle]*pool
	sets            map[gpu.DescriptorSetHandle]*descriptorSet
	renderPasses    map[gpu.RenderPassHandle]*gpu.RenderPassDesc
	framebuffers    map[gpu.FramebufferHandle]*gpu.FramebufferDesc
	pipelineLayouts map[gpu.PipelineLayoutHandle]*pipelineLayout
	pipelines       map[gpu.PipelineHandle]*pipeline
	commands        map[gpu.CommandBufferHandle]*commandBuffer
	fences          map[gpu.FenceHandle]*fence

	blit *blitter
}

// NewDevice wraps an open hal device and queue. The caller keeps
// ownership of both; Destroy only releases objects the Device created.
func NewDevice(device hal.Device, queue hal.Queue) (*Device, error) {
	return newDevice(device, queue, nil, false)
}

func newDevice(device hal.Device, queue hal.Queue, instance hal.Instance, owned bool) (*Device, error) {
	timeline, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpu: create timeline fence: %w", err)
	}
	d := &Device{
		device:          device,
		queue:           queue,
		instance:        instance,
		owned:           owned,
		timeline:        timeline,
		buffers:         make(map[gpu.BufferHandle]*buffer),
		memory:          make(map[gpu.MemoryHandle]gpu.BufferHandle),
		images:          make(map[gpu.ImageHandle]*image),
		views:           make(map[gpu.ImageViewHandle]*view),
		samplers:        make(map[gpu.SamplerHandle]hal.Sampler),
		modules:         make(map[gpu.ShaderModuleHandle]hal.ShaderModule),
		setLayouts:      make(map[gpu.SetLayoutHandle]*setLayout),
		pools:           make(map[gpu.DescriptorPoolHandle]*pool),
		sets:            make(map[gpu.DescriptorSetHandle]*descriptorSet),
		renderPasses:    make(map[gpu.RenderPassHandle]*gpu.RenderPassDesc),
		framebuffers:    make(map[gpu.FramebufferHandle]*gpu.FramebufferDesc),
		pipelineLayouts: make(map[gpu.PipelineLayoutHandle]*pipelineLayout),
		pipelines:       make(map[gpu.PipelineHandle]*pipeline),
		commands:        make(map[gpu.CommandBufferHandle]*commandBuffer),
		fences:          make(map[gpu.FenceHandle]*fence),
	}
	// Start ID generation at 1 (0 is the null handle).
	d.nextID.Store(1)
	return d, nil
}

// Open creates an instance on api, picks a discrete or integrated adapter
// when one exists, and opens a device the returned Device owns.
func Open(api hal.Backend) (*Device, error) {
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}
	d, err := newDevice(openDev.Device, openDev.Queue, instance, true)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	backend.Logger().Info("wgpu device opened", "adapter", selected.Info.Name)
	return d, nil
}

// FromProvider wraps the hal device and queue of an external provider,
// such as a gogpu window. Besides gpucontext.DeviceProvider the provider
// must expose HalDevice() and HalQueue() returning hal.Device and
// hal.Queue.
func FromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	if provider == nil {
		return nil, ErrNotHALProvider
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, ErrNotHALProvider
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, ErrNotHALProvider
	}
	return NewDevice(device, queue)
}

func (d *Device) id() uint64 { return d.nextID.Add(1) - 1 }

// Capabilities reports a graphics-capable device without push constants.
// Combined image samplers are split across two bindings.
func (d *Device) Capabilities() gpu.Capabilities {
	return gpu.Capabilities{
		Graphics:             true,
		PushConstants:        false,
		MaxSamplerAnisotropy: 1,
		MaxColorSamples:      4,
		SamplerBindingOffset: SamplerBindingOffset,
	}
}

// =============================================================================
// Buffers
// =============================================================================

// CreateBuffer creates a hal buffer with a host shadow.
func (d *Device) CreateBuffer(desc *gpu.BufferDesc) (gpu.BufferHandle, gpu.MemoryHandle, error) {
	if desc.Size == 0 {
		return 0, 0, fmt.Errorf("wgpu: buffer %q: zero size", desc.Label)
	}
	b, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("wgpu: create buffer %q: %w", desc.Label, err)
	}
	h := gpu.BufferHandle(d.id())
	mem := gpu.MemoryHandle(d.id())
	d.mu.Lock()
	d.buffers[h] = &buffer{
		hal:      b,
		mem:      mem,
		size:     desc.Size,
		readback: desc.HostVisible && desc.Usage == gpu.BufferUsageTransferDst,
	}
	d.memory[mem] = h
	d.mu.Unlock()
	return h, mem, nil
}

// DestroyBuffer releases a buffer and its memory handle.
func (d *Device) DestroyBuffer(buf gpu.BufferHandle, mem gpu.MemoryHandle) {
	d.mu.Lock()
	b, ok := d.buffers[buf]
	delete(d.buffers, buf)
	delete(d.memory, mem)
	d.mu.Unlock()
	if ok {
		d.device.DestroyBuffer(b.hal)
	}
}

// MapMemory returns the host shadow of a buffer. Readback buffers are
// refreshed from the GPU first. Image memory cannot be mapped.
func (d *Device) MapMemory(mem gpu.MemoryHandle, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.memory[mem]
	if !ok {
		return nil, fmt.Errorf("wgpu: map memory %d: %w", mem, gpu.ErrInvalidHandle)
	}
	b := d.buffers[h]
	if offset+size > b.size {
		return nil, fmt.Errorf("wgpu: map [%d, %d) of %d-byte buffer: %w", offset, offset+size, b.size, gpu.ErrInvalidHandle)
	}
	if b.shadow == nil {
		b.shadow = make([]byte, b.size)
	}
	if b.readback {
		if err := d.queue.ReadBuffer(b.hal, 0, b.shadow); err != nil {
			return nil, fmt.Errorf("wgpu: read back buffer: %w", err)
		}
	}
	b.mapped = true
	return b.shadow[offset : offset+size], nil
}

// UnmapMemory flushes the shadow of a writable buffer to the GPU.
func (d *Device) UnmapMemory(mem gpu.MemoryHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.memory[mem]
	if !ok {
		return
	}
	b := d.buffers[h]
	if !b.mapped {
		return
	}
	b.mapped = false
	if !b.readback {
		d.queue.WriteBuffer(b.hal, 0, b.shadow)
	}
}

// =============================================================================
// Images
// =============================================================================

// CreateImage creates a texture. The memory handle is a placeholder since
// hal textures own their memory.
func (d *Device) CreateImage(desc *gpu.ImageDesc) (gpu.ImageHandle, gpu.MemoryHandle, error) {
	format := textureFormat(desc.Format)
	if format == 0 {
		return 0, 0, fmt.Errorf("wgpu: image %q format %v: %w", desc.Label, desc.Format, gpu.ErrUnsupported)
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          extent(desc.Width, desc.Height, desc.ArrayLayers),
		MipLevelCount: max(desc.MipLevels, 1),
		SampleCount:   max(desc.Samples, 1),
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         textureUsage(desc),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("wgpu: create texture %q: %w", desc.Label, err)
	}
	h := gpu.ImageHandle(d.id())
	d.mu.Lock()
	d.images[h] = &image{hal: tex, desc: *desc, format: format}
	d.mu.Unlock()
	return h, gpu.MemoryHandle(d.id()), nil
}

// DestroyImage releases a texture.
func (d *Device) DestroyImage(img gpu.ImageHandle, _ gpu.MemoryHandle) {
	d.mu.Lock()
	i, ok := d.images[img]
	delete(d.images, img)
	d.mu.Unlock()
	if ok {
		d.device.DestroyTexture(i.hal)
	}
}

// CreateImageView creates a texture view.
func (d *Device) CreateImageView(desc *gpu.ImageViewDesc) (gpu.ImageViewHandle, error) {
	d.mu.Lock()
	img, ok := d.images[desc.Image]
	d.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("wgpu: view of image %d: %w", desc.Image, gpu.ErrInvalidHandle)
	}
	v, err := d.device.CreateTextureView(img.hal, &hal.TextureViewDescriptor{
		Label:           img.desc.Label,
		Format:          textureFormat(desc.Format),
		Dimension:       viewDimension(desc.Type),
		Aspect:          textureAspect(desc.Aspect),
		BaseMipLevel:    desc.BaseMip,
		MipLevelCount:   max(desc.MipCount, 1),
		BaseArrayLayer:  desc.BaseLayer,
		ArrayLayerCount: max(desc.LayerCount, 1),
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create view of %q: %w", img.desc.Label, err)
	}
	h := gpu.ImageViewHandle(d.id())
	d.mu.Lock()
	d.views[h] = &view{hal: v, image: desc.Image, desc: *desc}
	d.mu.Unlock()
	return h, nil
}

// DestroyImageView releases a texture view.
func (d *Device) DestroyImageView(v gpu.ImageViewHandle) {
	d.mu.Lock()
	vw, ok := d.views[v]
	delete(d.views, v)
	d.mu.Unlock()
	if ok {
		d.device.DestroyTextureView(vw.hal)
	}
}

// CreateSampler creates a sampler. Anisotropy is not forwarded.
func (d *Device) CreateSampler(desc *gpu.SamplerDesc) (gpu.SamplerHandle, error) {
	mode := addressMode(desc.AddressMode)
	s, err := d.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: mode,
		AddressModeV: mode,
		AddressModeW: mode,
		MagFilter:    filterMode(desc.MagFilter),
		MinFilter:    filterMode(desc.MinFilter),
		MipmapFilter: filterMode(desc.MipmapFilter),
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create sampler: %w", err)
	}
	h := gpu.SamplerHandle(d.id())
	d.mu.Lock()
	d.samplers[h] = s
	d.mu.Unlock()
	return h, nil
}

// DestroySampler releases a sampler.
func (d *Device) DestroySampler(s gpu.SamplerHandle) {
	d.mu.Lock()
	hs, ok := d.samplers[s]
	delete(d.samplers, s)
	d.mu.Unlock()
	if ok {
		d.device.DestroySampler(hs)
	}
}

// =============================================================================
// Shaders
// =============================================================================

// CreateShaderModule creates a module from SPIR-V words.
func (d *Device) CreateShaderModule(label string, spirv []uint32) (gpu.ShaderModuleHandle, error) {
	m, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create shader module %q: %w", label, err)
	}
	h := gpu.ShaderModuleHandle(d.id())
	d.mu.Lock()
	d.modules[h] = m
	d.mu.Unlock()
	return h, nil
}

// DestroyShaderModule releases a module.
func (d *Device) DestroyShaderModule(m gpu.ShaderModuleHandle) {
	d.mu.Lock()
	hm, ok := d.modules[m]
	delete(d.modules, m)
	d.mu.Unlock()
	if ok {
		d.device.DestroyShaderModule(hm)
	}
}

// =============================================================================
// Descriptors
// =============================================================================

// CreateSetLayout creates a bind group layout.
func (d *Device) CreateSetLayout(bindings []gpu.LayoutBinding) (gpu.SetLayoutHandle, error) {
	l, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Entries: layoutEntries(bindings),
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create bind group layout: %w", err)
	}
	h := gpu.SetLayoutHandle(d.id())
	d.mu.Lock()
	d.setLayouts[h] = &setLayout{hal: l, bindings: append([]gpu.LayoutBinding(nil), bindings...)}
	d.mu.Unlock()
	return h, nil
}

// DestroySetLayout releases a bind group layout.
func (d *Device) DestroySetLayout(l gpu.SetLayoutHandle) {
	d.mu.Lock()
	sl, ok := d.setLayouts[l]
	delete(d.setLayouts, l)
	d.mu.Unlock()
	if ok {
		d.device.DestroyBindGroupLayout(sl.hal)
	}
}

// CreateDescriptorPool creates a pool. Only the set count is enforced;
// bind groups have no per-type budget.
func (d *Device) CreateDescriptorPool(maxSets uint32, _ []gpu.PoolSize) (gpu.DescriptorPoolHandle, error) {
	h := gpu.DescriptorPoolHandle(d.id())
	d.mu.Lock()
	d.pools[h] = &pool{maxSets: maxSets}
	d.mu.Unlock()
	return h, nil
}

// ResetDescriptorPool frees every set of the pool.
func (d *Device) ResetDescriptorPool(p gpu.DescriptorPoolHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pl, ok := d.pools[p]
	if !ok {
		return fmt.Errorf("wgpu: reset pool %d: %w", p, gpu.ErrInvalidHandle)
	}
	d.freeSetsLocked(pl)
	return nil
}

// DestroyDescriptorPool frees every set and the pool.
func (d *Device) DestroyDescriptorPool(p gpu.DescriptorPoolHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pl, ok := d.pools[p]; ok {
		d.freeSetsLocked(pl)
		delete(d.pools, p)
	}
}

// FreeDescriptorSets returns sets to their pool. Their bind groups are
// retired with the rest of the frame's garbage.
func (d *Device) FreeDescriptorSets(p gpu.DescriptorPoolHandle, sets []gpu.DescriptorSetHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pl, ok := d.pools[p]
	if !ok {
		return fmt.Errorf("wgpu: free sets of pool %d: %w", p, gpu.ErrInvalidHandle)
	}
	for _, h := range sets {
		if set, ok := d.sets[h]; !ok || set.pool != p {
			return fmt.Errorf("wgpu: free set %d: %w", h, gpu.ErrInvalidHandle)
		}
	}
	for _, h := range sets {
		if set, ok := d.sets[h]; ok && set.group != nil {
			d.retired = append(d.retired, set.group)
		}
		delete(d.sets, h)
		pl.sets = slices.DeleteFunc(pl.sets, func(s gpu.DescriptorSetHandle) bool { return s == h })
	}
	return nil
}

func (d *Device) freeSetsLocked(pl *pool) {
	for _, s := range pl.sets {
		if set, ok := d.sets[s]; ok && set.group != nil {
			d.retired = append(d.retired, set.group)
		}
		delete(d.sets, s)
	}
	pl.sets = nil
}

// AllocateDescriptorSets allocates one set per layout.
func (d *Device) AllocateDescriptorSets(p gpu.DescriptorPoolHandle, layouts []gpu.SetLayoutHandle) ([]gpu.DescriptorSetHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pl, ok := d.pools[p]
	if !ok {
		return nil, fmt.Errorf("wgpu: allocate from pool %d: %w", p, gpu.ErrInvalidHandle)
	}
	if uint32(len(pl.sets)+len(layouts)) > pl.maxSets {
		return nil, gpu.ErrPoolExhausted
	}
	out := make([]gpu.DescriptorSetHandle, len(layouts))
	for i, l := range layouts {
		sl, ok := d.setLayouts[l]
		if !ok {
			return nil, fmt.Errorf("wgpu: set layout %d: %w", l, gpu.ErrInvalidHandle)
		}
		h := gpu.DescriptorSetHandle(d.id())
		d.sets[h] = &descriptorSet{pool: p, layout: sl, entries: make(map[uint32]gputypes.BindGroupEntry)}
		pl.sets = append(pl.sets, h)
		out[i] = h
	}
	return out, nil
}

// UpdateDescriptorSets stores the writes. Bind groups are rebuilt when a
// written set is next bound.
func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range writes {
		set, ok := d.sets[w.Set]
		if !ok {
			backend.Logger().Warn("wgpu: descriptor write to unknown set", "set", w.Set)
			continue
		}
		switch {
		case w.Buffer != nil:
			b, ok := d.buffers[w.Buffer.Buffer]
			if !ok {
				continue
			}
			size := w.Buffer.Range
			if size == 0 {
				size = b.size - w.Buffer.Offset
			}
			set.entries[w.Binding] = gputypes.BindGroupEntry{
				Binding:  w.Binding,
				Resource: gputypes.BufferBinding{Buffer: b.hal.NativeHandle(), Offset: w.Buffer.Offset, Size: size},
			}
		case w.Image != nil:
			if v, ok := d.views[w.Image.View]; ok {
				set.entries[w.Binding] = gputypes.BindGroupEntry{
					Binding:  w.Binding,
					Resource: gputypes.TextureViewBinding{TextureView: v.hal.NativeHandle()},
				}
			}
			if w.Type == gpu.DescriptorCombinedImageSampler {
				if s, ok := d.samplers[w.Image.Sampler]; ok {
					set.entries[w.Binding+SamplerBindingOffset] = gputypes.BindGroupEntry{
						Binding:  w.Binding + SamplerBindingOffset,
						Resource: gputypes.SamplerBinding{Sampler: s.NativeHandle()},
					}
				}
			}
		}
		set.dirty = true
	}
}

// bindGroupLocked returns the bind group of a set, rebuilding it after
// writes. The replaced group is retired until the device is idle.
func (d *Device) bindGroupLocked(h gpu.DescriptorSetHandle) (hal.BindGroup, error) {
	set, ok := d.sets[h]
	if !ok {
		return nil, fmt.Errorf("wgpu: descriptor set %d: %w", h, gpu.ErrInvalidHandle)
	}
	if set.group != nil && !set.dirty {
		return set.group, nil
	}
	entries := make([]gputypes.BindGroupEntry, 0, len(set.entries))
	for _, e := range set.entries {
		entries = append(entries, e)
	}
	g, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Layout:  set.layout.hal,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create bind group: %w", err)
	}
	if set.group != nil {
		d.retired = append(d.retired, set.group)
	}
	set.group, set.dirty = g, false
	return g, nil
}

// =============================================================================
// Render passes and framebuffers
// =============================================================================

// CreateRenderPass stores the description. hal render passes are begun
// from it when commands are encoded.
func (d *Device) CreateRenderPass(desc *gpu.RenderPassDesc) (gpu.RenderPassHandle, error) {
	if len(desc.Subpasses) == 0 {
		return 0, gpu.ErrNoSubpass
	}
	cp := *desc
	h := gpu.RenderPassHandle(d.id())
	d.mu.Lock()
	d.renderPasses[h] = &cp
	d.mu.Unlock()
	return h, nil
}

// DestroyRenderPass forgets a render pass description.
func (d *Device) DestroyRenderPass(rp gpu.RenderPassHandle) {
	d.mu.Lock()
	delete(d.renderPasses, rp)
	d.mu.Unlock()
}

// CreateFramebuffer stores the attachment views.
func (d *Device) CreateFramebuffer(desc *gpu.FramebufferDesc) (gpu.FramebufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.renderPasses[desc.RenderPass]; !ok {
		return 0, fmt.Errorf("wgpu: framebuffer render pass %d: %w", desc.RenderPass, gpu.ErrInvalidHandle)
	}
	for _, v := range desc.Attachments {
		if _, ok := d.views[v]; !ok {
			return 0, fmt.Errorf("wgpu: framebuffer attachment %d: %w", v, gpu.ErrInvalidHandle)
		}
	}
	cp := *desc
	cp.Attachments = append([]gpu.ImageViewHandle(nil), desc.Attachments...)
	h := gpu.FramebufferHandle(d.id())
	d.framebuffers[h] = &cp
	return h, nil
}

// DestroyFramebuffer forgets a framebuffer.
func (d *Device) DestroyFramebuffer(fb gpu.FramebufferHandle) {
	d.mu.Lock()
	delete(d.framebuffers, fb)
	d.mu.Unlock()
}

// =============================================================================
// Pipelines
// =============================================================================

// CreatePipelineLayout creates a pipeline layout. Push-constant ranges are
// rejected.
func (d *Device) CreatePipelineLayout(setLayouts []gpu.SetLayoutHandle, ranges []gpu.PushConstantRange) (gpu.PipelineLayoutHandle, error) {
	if len(ranges) > 0 {
		return 0, fmt.Errorf("wgpu: push constants: %w", gpu.ErrUnsupported)
	}
	d.mu.Lock()
	groups := make([]hal.BindGroupLayout, len(setLayouts))
	for i, l := range setLayouts {
		sl, ok := d.setLayouts[l]
		if !ok {
			d.mu.Unlock()
			return 0, fmt.Errorf("wgpu: set layout %d: %w", l, gpu.ErrInvalidHandle)
		}
		groups[i] = sl.hal
	}
	d.mu.Unlock()

	pl, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{BindGroupLayouts: groups})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create pipeline layout: %w", err)
	}
	h := gpu.PipelineLayoutHandle(d.id())
	d.mu.Lock()
	d.pipelineLayouts[h] = &pipelineLayout{hal: pl, layout: append([]gpu.SetLayoutHandle(nil), setLayouts...)}
	d.mu.Unlock()
	return h, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (d *Device) DestroyPipelineLayout(l gpu.PipelineLayoutHandle) {
	d.mu.Lock()
	pl, ok := d.pipelineLayouts[l]
	delete(d.pipelineLayouts, l)
	d.mu.Unlock()
	if ok {
		d.device.DestroyPipelineLayout(pl.hal)
	}
}

// CreateGraphicsPipeline creates a render pipeline against the attachment
// formats of the given subpass.
func (d *Device) CreateGraphicsPipeline(desc *gpu.GraphicsPipelineDesc) (gpu.PipelineHandle, error) {
	d.mu.Lock()
	layout, ok := d.pipelineLayouts[desc.Layout]
	rp, rpOK := d.renderPasses[desc.RenderPass]
	var vs, fs hal.ShaderModule
	var vsEntry, fsEntry string
	for _, st := range desc.Stages {
		switch st.Stage {
		case gpu.ShaderStageVertex:
			vs, vsEntry = d.modules[st.Module], st.EntryPoint
		case gpu.ShaderStageFragment:
			fs, fsEntry = d.modules[st.Module], st.EntryPoint
		case gpu.ShaderStageGeometry:
			d.mu.Unlock()
			return 0, fmt.Errorf("wgpu: pipeline %q geometry stage: %w", desc.Label, gpu.ErrUnsupported)
		}
	}
	d.mu.Unlock()
	if !ok || !rpOK {
		return 0, fmt.Errorf("wgpu: pipeline %q: %w", desc.Label, gpu.ErrInvalidHandle)
	}
	if vs == nil {
		return 0, fmt.Errorf("wgpu: pipeline %q has no vertex stage: %w", desc.Label, gpu.ErrInvalidHandle)
	}
	if int(desc.Subpass) >= len(rp.Subpasses) {
		return 0, fmt.Errorf("wgpu: pipeline %q subpass %d: %w", desc.Label, desc.Subpass, gpu.ErrNoSubpass)
	}
	sub := rp.Subpasses[desc.Subpass]

	pd := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout.hal,
		Vertex: hal.VertexState{
			Module:     vs,
			EntryPoint: vsEntry,
			Buffers:    vertexBuffers(desc.VertexBindings, desc.VertexAttributes),
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  topology(desc.State.Topology),
			CullMode:  cullMode(desc.State.CullMode),
			FrontFace: frontFace(desc.State.FrontFace),
		},
		Multisample: gputypes.MultisampleState{
			Count: max(desc.State.Samples, 1),
			Mask:  0xFFFFFFFF,
		},
	}
	if fs != nil {
		targets := make([]gputypes.ColorTargetState, len(sub.Color))
		for i, ref := range sub.Color {
			targets[i] = gputypes.ColorTargetState{
				Format:    textureFormat(rp.Attachments[ref.Attachment].Format),
				WriteMask: gputypes.ColorWriteMaskAll,
			}
			if desc.State.Blend {
				blend := gputypes.BlendStatePremultiplied()
				targets[i].Blend = &blend
			}
		}
		pd.Fragment = &hal.FragmentState{Module: fs, EntryPoint: fsEntry, Targets: targets}
	}
	if sub.DepthStencil != nil {
		compare := gputypes.CompareFunctionAlways
		if desc.State.DepthTest {
			compare = compareFunction(desc.State.DepthCompare)
		}
		pd.DepthStencil = &hal.DepthStencilState{
			Format:            textureFormat(rp.Attachments[sub.DepthStencil.Attachment].Format),
			DepthWriteEnabled: desc.State.DepthTest && desc.State.DepthWrite,
			DepthCompare:      compare,
		}
	}

	p, err := d.device.CreateRenderPipeline(pd)
	if err != nil {
		return 0, fmt.Errorf("wgpu: create render pipeline %q: %w", desc.Label, err)
	}
	h := gpu.PipelineHandle(d.id())
	d.mu.Lock()
	d.pipelines[h] = &pipeline{render: p}
	d.mu.Unlock()
	return h, nil
}

// CreateComputePipeline creates a compute pipeline.
func (d *Device) CreateComputePipeline(desc *gpu.ComputePipelineDesc) (gpu.PipelineHandle, error) {
	d.mu.Lock()
	layout, ok := d.pipelineLayouts[desc.Layout]
	module, mOK := d.modules[desc.Stage.Module]
	d.mu.Unlock()
	if !ok || !mOK {
		return 0, fmt.Errorf("wgpu: compute pipeline %q: %w", desc.Label, gpu.ErrInvalidHandle)
	}
	p, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  layout.hal,
		Compute: hal.ComputeState{Module: module, EntryPoint: desc.Stage.EntryPoint},
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create compute pipeline %q: %w", desc.Label, err)
	}
	h := gpu.PipelineHandle(d.id())
	d.mu.Lock()
	d.pipelines[h] = &pipeline{compute: p}
	d.mu.Unlock()
	return h, nil
}

// DestroyPipeline releases a pipeline.
func (d *Device) DestroyPipeline(p gpu.PipelineHandle) {
	d.mu.Lock()
	pl, ok := d.pipelines[p]
	delete(d.pipelines, p)
	d.mu.Unlock()
	if !ok {
		return
	}
	if pl.render != nil {
		d.device.DestroyRenderPipeline(pl.render)
	}
	if pl.compute != nil {
		d.device.DestroyComputePipeline(pl.compute)
	}
}

// =============================================================================
// Command buffers
// =============================================================================

// AllocateCommandBuffer allocates an empty command buffer.
func (d *Device) AllocateCommandBuffer(level gpu.CommandBufferLevel) (gpu.CommandBufferHandle, error) {
	h := gpu.CommandBufferHandle(d.id())
	d.mu.Lock()
	d.commands[h] = &commandBuffer{level: level}
	d.mu.Unlock()
	return h, nil
}

// FreeCommandBuffer releases a command buffer.
func (d *Device) FreeCommandBuffer(cmd gpu.CommandBufferHandle) {
	d.mu.Lock()
	delete(d.commands, cmd)
	d.mu.Unlock()
}

// =============================================================================
// Synchronization
// =============================================================================

// CreateFence creates a fence on the device timeline.
func (d *Device) CreateFence(signaled bool) (gpu.FenceHandle, error) {
	h := gpu.FenceHandle(d.id())
	d.mu.Lock()
	d.fences[h] = &fence{signaled: signaled}
	d.mu.Unlock()
	return h, nil
}

// DestroyFence forgets a fence.
func (d *Device) DestroyFence(f gpu.FenceHandle) {
	d.mu.Lock()
	delete(d.fences, f)
	d.mu.Unlock()
}

// WaitFence waits for the timeline value the fence was submitted with.
// An unsubmitted, unsignaled fence reports false at once.
func (d *Device) WaitFence(f gpu.FenceHandle, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	fc, ok := d.fences[f]
	if !ok {
		d.mu.Unlock()
		return false, fmt.Errorf("wgpu: wait fence %d: %w", f, gpu.ErrInvalidHandle)
	}
	if fc.signaled || !fc.inFlight {
		signaled := fc.signaled
		d.mu.Unlock()
		return signaled, nil
	}
	value := fc.value
	d.mu.Unlock()

	done, err := d.device.Wait(d.timeline, value, timeout)
	if err != nil {
		return false, fmt.Errorf("wgpu: wait fence: %w", err)
	}
	if !done {
		return false, nil
	}
	d.mu.Lock()
	fc.inFlight, fc.signaled = false, true
	d.collectLocked(value)
	d.mu.Unlock()
	return true, nil
}

// ResetFence unsignals a fence.
func (d *Device) ResetFence(f gpu.FenceHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fc, ok := d.fences[f]
	if !ok {
		return fmt.Errorf("wgpu: reset fence %d: %w", f, gpu.ErrInvalidHandle)
	}
	fc.signaled = false
	return nil
}

// Submit encodes the command buffers and submits them in one batch. The
// fence, when set, signals when the batch completes.
func (d *Device) Submit(cmds []gpu.CommandBufferHandle, f gpu.FenceHandle) error {
	d.mu.Lock()
	g := garbage{}
	for _, h := range cmds {
		cb, ok := d.commands[h]
		if !ok {
			d.mu.Unlock()
			d.discard(g)
			return fmt.Errorf("wgpu: submit command buffer %d: %w", h, gpu.ErrInvalidHandle)
		}
		halCmd, err := d.encodeLocked(cb, &g)
		if err != nil {
			d.mu.Unlock()
			d.discard(g)
			return err
		}
		g.cmds = append(g.cmds, halCmd)
	}
	d.submitted++
	value := d.submitted
	g.value = value
	var fc *fence
	if f != 0 {
		fc = d.fences[f]
	}
	d.mu.Unlock()

	if err := d.queue.Submit(g.cmds, d.timeline, value); err != nil {
		d.discard(g)
		return fmt.Errorf("wgpu: submit: %w", err)
	}

	d.mu.Lock()
	d.pending = append(d.pending, g)
	if fc != nil {
		fc.value, fc.inFlight, fc.signaled = value, true, false
	}
	d.mu.Unlock()
	return nil
}

// discard frees the objects of an encode that never reached the queue.
func (d *Device) discard(g garbage) {
	for _, c := range g.cmds {
		d.device.FreeCommandBuffer(c)
	}
	for _, v := range g.views {
		d.device.DestroyTextureView(v)
	}
	for _, b := range g.groups {
		d.device.DestroyBindGroup(b)
	}
}

// collectLocked frees garbage of submissions up to value.
func (d *Device) collectLocked(value uint64) {
	d.completed = max(d.completed, value)
	kept := d.pending[:0]
	for _, g := range d.pending {
		if g.value <= d.completed {
			d.discard(g)
			continue
		}
		kept = append(kept, g)
	}
	d.pending = kept
}

// WaitIdle waits for every submission and frees retired bind groups.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	value := d.submitted
	d.mu.Unlock()
	if value > 0 {
		done, err := d.device.Wait(d.timeline, value, idleTimeout)
		if err != nil {
			return fmt.Errorf("wgpu: wait idle: %w", err)
		}
		if !done {
			return fmt.Errorf("wgpu: wait idle: timed out after %v", idleTimeout)
		}
	}
	d.mu.Lock()
	d.collectLocked(value)
	for _, g := range d.retired {
		d.device.DestroyBindGroup(g)
	}
	d.retired = nil
	for _, f := range d.fences {
		if f.inFlight && f.value <= value {
			f.inFlight, f.signaled = false, true
		}
	}
	d.mu.Unlock()
	return nil
}

// Destroy waits for the queue and releases the objects the device still
// holds. An owned hal device and instance are destroyed too.
func (d *Device) Destroy() {
	if err := d.WaitIdle(); err != nil {
		backend.Logger().Warn("wgpu: destroy before idle", "err", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, set := range d.sets {
		if set.group != nil {
			d.device.DestroyBindGroup(set.group)
		}
	}
	d.sets = map[gpu.DescriptorSetHandle]*descriptorSet{}
	if d.blit != nil {
		d.blit.destroy(d.device)
		d.blit = nil
	}
	if d.timeline != nil {
		d.device.DestroyFence(d.timeline)
		d.timeline = nil
	}
	if d.owned {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
		d.device, d.instance = nil, nil
	}
}

var _ gpu.Device = (*Device)(nil)
