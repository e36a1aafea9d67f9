//go:build !nogpu

package vulkan

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/gogpu/lumen/backend"
	"github.com/gogpu/lumen/internal/gpu"
)

type memory struct {
	mem  vk.DeviceMemory
	size uint64
	host bool
}

type image struct {
	img  vk.Image
	desc gpu.ImageDesc
}

type renderPass struct {
	rp vk.RenderPass
	// depth marks attachments cleared with a depth/stencil value.
	depth []bool
}

type descriptorSet struct {
	set  vk.DescriptorSet
	pool gpu.DescriptorPoolHandle
}

type commandBuffer struct {
	cb    vk.CommandBuffer
	level gpu.CommandBufferLevel
	err   error
}

// Device implements gpu.Device on a Vulkan logical device with a single
// graphics and compute queue.
//
// Thread Safety: the handle tables are protected by a mutex. Command
// buffers come from one pool, so recording must stay on one goroutine at
// a time.
type Device struct {
	mu sync.Mutex

	instance vk.Instance
	physical vk.PhysicalDevice
	device   vk.Device
	queue    vk.Queue
	family   uint32
	cmdPool  vk.CommandPool
	memProps vk.PhysicalDeviceMemoryProperties
	caps     gpu.Capabilities
	name     string

	nextID atomic.Uint64

	buffers         table[gpu.BufferHandle, vk.Buffer]
	memory          table[gpu.MemoryHandle, *memory]
	images          table[gpu.ImageHandle, *image]
	views           table[gpu.ImageViewHandle, vk.ImageView]
	samplers        table[gpu.SamplerHandle, vk.Sampler]
	modules         table[gpu.ShaderModuleHandle, vk.ShaderModule]
	setLayouts      table[gpu.SetLayoutHandle, vk.DescriptorSetLayout]
	pools           table[gpu.DescriptorPoolHandle, vk.DescriptorPool]
	sets            table[gpu.DescriptorSetHandle, *descriptorSet]
	renderPasses    table[gpu.RenderPassHandle, *renderPass]
	framebuffers    table[gpu.FramebufferHandle, vk.Framebuffer]
	pipelineLayouts table[gpu.PipelineLayoutHandle, vk.PipelineLayout]
	pipelines       table[gpu.PipelineHandle, vk.Pipeline]
	commands        table[gpu.CommandBufferHandle, *commandBuffer]
	fences          table[gpu.FenceHandle, vk.Fence]
}

var (
	loaderOnce sync.Once
	errLoader  error
)

// loadLoader resolves the Vulkan loader entry points once per process.
func loadLoader() error {
	loaderOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			errLoader = fmt.Errorf("vulkan: load loader: %w", err)
			return
		}
		if err := vk.Init(); err != nil {
			errLoader = fmt.Errorf("vulkan: init loader: %w", err)
		}
	})
	return errLoader
}

// Open loads the Vulkan loader, creates an instance and opens a device on
// the first discrete GPU, or the first GPU with a graphics and compute
// queue family.
func Open(appName string) (*Device, error) {
	if err := loadLoader(); err != nil {
		return nil, err
	}
	var inst vk.Instance
	err := newError("create instance", vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:            vk.StructureTypeApplicationInfo,
			ApiVersion:       uint32(vk.MakeVersion(1, 1, 0)),
			PApplicationName: cstr(appName),
			PEngineName:      "lumen\x00",
		},
	}, nil, &inst))
	if err != nil {
		return nil, err
	}
	if err := vk.InitInstance(inst); err != nil {
		vk.DestroyInstance(inst, nil)
		return nil, fmt.Errorf("vulkan: init instance: %w", err)
	}

	d, err := openDevice(inst)
	if err != nil {
		vk.DestroyInstance(inst, nil)
		return nil, err
	}
	backend.Logger().Info("vulkan device opened", "gpu", d.name, "queueFamily", d.family)
	return d, nil
}

func openDevice(inst vk.Instance) (*Device, error) {
	physical, family, err := pickPhysicalDevice(inst)
	if err != nil {
		return nil, err
	}

	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(physical, &props)
	props.Deref()
	props.Limits.Deref()
	var feats vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(physical, &feats)
	feats.Deref()

	var dev vk.Device
	err = newError("create device", vk.CreateDevice(physical, &vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos: []vk.DeviceQueueCreateInfo{{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}},
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			SamplerAnisotropy: feats.SamplerAnisotropy,
			GeometryShader:    feats.GeometryShader,
		}},
	}, nil, &dev))
	if err != nil {
		return nil, err
	}

	var queue vk.Queue
	vk.GetDeviceQueue(dev, family, 0, &queue)

	var pool vk.CommandPool
	err = newError("create command pool", vk.CreateCommandPool(dev, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool))
	if err != nil {
		vk.DestroyDevice(dev, nil)
		return nil, err
	}

	d := newDevice()
	d.instance = inst
	d.physical = physical
	d.device = dev
	d.queue = queue
	d.family = family
	d.cmdPool = pool
	d.name = vk.ToString(props.DeviceName[:])
	vk.GetPhysicalDeviceMemoryProperties(physical, &d.memProps)
	d.memProps.Deref()

	anisotropy := float32(1)
	if feats.SamplerAnisotropy == vk.True {
		anisotropy = props.Limits.MaxSamplerAnisotropy
	}
	d.caps = gpu.Capabilities{
		Graphics:             true,
		PushConstants:        true,
		MaxPushConstantsSize: props.Limits.MaxPushConstantsSize,
		MaxSamplerAnisotropy: anisotropy,
		MaxColorSamples:      maxSamples(props.Limits.FramebufferColorSampleCounts),
	}
	return d, nil
}

func newDevice() *Device {
	d := &Device{
		buffers:         newTable[gpu.BufferHandle, vk.Buffer](),
		memory:          newTable[gpu.MemoryHandle, *memory](),
		images:          newTable[gpu.ImageHandle, *image](),
		views:           newTable[gpu.ImageViewHandle, vk.ImageView](),
		samplers:        newTable[gpu.SamplerHandle, vk.Sampler](),
		modules:         newTable[gpu.ShaderModuleHandle, vk.ShaderModule](),
		setLayouts:      newTable[gpu.SetLayoutHandle, vk.DescriptorSetLayout](),
		pools:           newTable[gpu.DescriptorPoolHandle, vk.DescriptorPool](),
		sets:            newTable[gpu.DescriptorSetHandle, *descriptorSet](),
		renderPasses:    newTable[gpu.RenderPassHandle, *renderPass](),
		framebuffers:    newTable[gpu.FramebufferHandle, vk.Framebuffer](),
		pipelineLayouts: newTable[gpu.PipelineLayoutHandle, vk.PipelineLayout](),
		pipelines:       newTable[gpu.PipelineHandle, vk.Pipeline](),
		commands:        newTable[gpu.CommandBufferHandle, *commandBuffer](),
		fences:          newTable[gpu.FenceHandle, vk.Fence](),
	}
	// Start ID generation at 1 (0 is the null handle).
	d.nextID.Store(1)
	return d
}

// pickPhysicalDevice prefers a discrete GPU and returns its first queue
// family with graphics and compute support.
func pickPhysicalDevice(inst vk.Instance) (vk.PhysicalDevice, uint32, error) {
	var count uint32
	if err := newError("enumerate physical devices", vk.EnumeratePhysicalDevices(inst, &count, nil)); err != nil {
		return nil, 0, err
	}
	if count == 0 {
		return nil, 0, ErrNoPhysicalDevice
	}
	gpus := make([]vk.PhysicalDevice, count)
	if err := newError("enumerate physical devices", vk.EnumeratePhysicalDevices(inst, &count, gpus)); err != nil {
		return nil, 0, err
	}

	var (
		best       vk.PhysicalDevice
		bestFamily uint32
		found      bool
	)
	for _, pd := range gpus {
		family, ok := queueFamily(pd)
		if !ok {
			continue
		}
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		discrete := props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu
		if !found || discrete {
			best, bestFamily, found = pd, family, true
		}
		if discrete {
			break
		}
	}
	if !found {
		return nil, 0, ErrNoPhysicalDevice
	}
	return best, bestFamily, nil
}

func queueFamily(pd vk.PhysicalDevice) (uint32, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, props)
	required := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)
	for i := range props {
		props[i].Deref()
		if props[i].QueueFlags&required == required {
			return uint32(i), true
		}
	}
	return 0, false
}

func (d *Device) id() uint64 { return d.nextID.Add(1) - 1 }

// Capabilities reports the limits read when the device was opened.
func (d *Device) Capabilities() gpu.Capabilities { return d.caps }

// findMemoryType returns the first memory type allowed by typeBits that has
// every flag in want.
func (d *Device) findMemoryType(typeBits uint32, want vk.MemoryPropertyFlagBits) (uint32, bool) {
	for i := uint32(0); i < d.memProps.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		d.memProps.MemoryTypes[i].Deref()
		flags := d.memProps.MemoryTypes[i].PropertyFlags
		if flags&vk.MemoryPropertyFlags(want) == vk.MemoryPropertyFlags(want) {
			return i, true
		}
	}
	return 0, false
}

func (d *Device) allocate(req vk.MemoryRequirements, host bool) (*memory, error) {
	req.Deref()
	want := vk.MemoryPropertyDeviceLocalBit
	if host {
		want = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	typeIndex, ok := d.findMemoryType(req.MemoryTypeBits, want)
	if !ok {
		return nil, ErrNoMemoryType
	}
	var mem vk.DeviceMemory
	err := newError("allocate memory", vk.AllocateMemory(d.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: typeIndex,
	}, nil, &mem))
	if err != nil {
		return nil, err
	}
	return &memory{mem: mem, size: uint64(req.Size), host: host}, nil
}

// =============================================================================
// Buffers and images
// =============================================================================

// CreateBuffer creates a buffer bound to its own allocation.
func (d *Device) CreateBuffer(desc *gpu.BufferDesc) (gpu.BufferHandle, gpu.MemoryHandle, error) {
	if desc.Size == 0 {
		return 0, 0, fmt.Errorf("vulkan: buffer %q: zero size", desc.Label)
	}
	var buf vk.Buffer
	err := newError("create buffer", vk.CreateBuffer(d.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       bufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buf))
	if err != nil {
		return 0, 0, err
	}
	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, buf, &req)
	mem, err := d.allocate(req, desc.HostVisible)
	if err != nil {
		vk.DestroyBuffer(d.device, buf, nil)
		return 0, 0, fmt.Errorf("vulkan: buffer %q: %w", desc.Label, err)
	}
	if err := newError("bind buffer memory", vk.BindBufferMemory(d.device, buf, mem.mem, 0)); err != nil {
		vk.FreeMemory(d.device, mem.mem, nil)
		vk.DestroyBuffer(d.device, buf, nil)
		return 0, 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.buffers.put(gpu.BufferHandle(d.id()), buf)
	m := d.memory.put(gpu.MemoryHandle(d.id()), mem)
	return b, m, nil
}

// DestroyBuffer destroys a buffer and frees its memory.
func (d *Device) DestroyBuffer(buf gpu.BufferHandle, mem gpu.MemoryHandle) {
	d.mu.Lock()
	b, okBuf := d.buffers.take(buf)
	m, okMem := d.memory.take(mem)
	d.mu.Unlock()
	if okBuf {
		vk.DestroyBuffer(d.device, b, nil)
	}
	if okMem {
		vk.FreeMemory(d.device, m.mem, nil)
	}
}

// MapMemory maps a host-visible range. A zero size maps to the end of the
// allocation.
func (d *Device) MapMemory(mem gpu.MemoryHandle, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	m, ok := d.memory.get(mem)
	d.mu.Unlock()
	if !ok {
		return nil, gpu.ErrInvalidHandle
	}
	if !m.host {
		return nil, ErrNotMappable
	}
	if size == 0 {
		size = m.size - offset
	}
	if offset+size > m.size {
		return nil, fmt.Errorf("vulkan: map [%d, %d) outside %d byte allocation", offset, offset+size, m.size)
	}
	var ptr unsafe.Pointer
	err := newError("map memory", vk.MapMemory(d.device, m.mem, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &ptr))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(ptr), size), nil
}

// UnmapMemory unmaps memory. Host memory is coherent, so no flush is
// needed.
func (d *Device) UnmapMemory(mem gpu.MemoryHandle) {
	d.mu.Lock()
	m, ok := d.memory.get(mem)
	d.mu.Unlock()
	if ok && m.host {
		vk.UnmapMemory(d.device, m.mem)
	}
}

// CreateImage creates an optimally tiled image in device-local memory.
func (d *Device) CreateImage(desc *gpu.ImageDesc) (gpu.ImageHandle, gpu.MemoryHandle, error) {
	vf := format(desc.Format)
	if vf == vk.FormatUndefined {
		return 0, 0, fmt.Errorf("vulkan: image %q: %w: format %s", desc.Label, gpu.ErrUnsupported, desc.Format)
	}
	var flags vk.ImageCreateFlagBits
	if desc.CubeCompatible {
		flags |= vk.ImageCreateCubeCompatibleBit
	}
	var img vk.Image
	err := newError("create image", vk.CreateImage(d.device, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     vk.ImageCreateFlags(flags),
		ImageType: vk.ImageType2d,
		Format:    vf,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     max(desc.MipLevels, 1),
		ArrayLayers:   max(desc.ArrayLayers, 1),
		Samples:       sampleCount(desc.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img))
	if err != nil {
		return 0, 0, err
	}
	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, img, &req)
	mem, err := d.allocate(req, false)
	if err != nil {
		vk.DestroyImage(d.device, img, nil)
		return 0, 0, fmt.Errorf("vulkan: image %q: %w", desc.Label, err)
	}
	if err := newError("bind image memory", vk.BindImageMemory(d.device, img, mem.mem, 0)); err != nil {
		vk.FreeMemory(d.device, mem.mem, nil)
		vk.DestroyImage(d.device, img, nil)
		return 0, 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.images.put(gpu.ImageHandle(d.id()), &image{img: img, desc: *desc})
	m := d.memory.put(gpu.MemoryHandle(d.id()), mem)
	return h, m, nil
}

// DestroyImage destroys an image and frees its memory.
func (d *Device) DestroyImage(img gpu.ImageHandle, mem gpu.MemoryHandle) {
	d.mu.Lock()
	im, okImg := d.images.take(img)
	m, okMem := d.memory.take(mem)
	d.mu.Unlock()
	if okImg {
		vk.DestroyImage(d.device, im.img, nil)
	}
	if okMem {
		vk.FreeMemory(d.device, m.mem, nil)
	}
}

// CreateImageView creates a view over a subresource range.
func (d *Device) CreateImageView(desc *gpu.ImageViewDesc) (gpu.ImageViewHandle, error) {
	d.mu.Lock()
	im, ok := d.images.get(desc.Image)
	d.mu.Unlock()
	if !ok {
		return 0, gpu.ErrInvalidHandle
	}
	var v vk.ImageView
	err := newError("create image view", vk.CreateImageView(d.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    im.img,
		ViewType: viewType(desc.Type),
		Format:   format(desc.Format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectFlags(desc.Aspect),
			BaseMipLevel:   desc.BaseMip,
			LevelCount:     max(desc.MipCount, 1),
			BaseArrayLayer: desc.BaseLayer,
			LayerCount:     max(desc.LayerCount, 1),
		},
	}, nil, &v))
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.views.put(gpu.ImageViewHandle(d.id()), v), nil
}

// DestroyImageView destroys a view.
func (d *Device) DestroyImageView(view gpu.ImageViewHandle) {
	d.mu.Lock()
	v, ok := d.views.take(view)
	d.mu.Unlock()
	if ok {
		vk.DestroyImageView(d.device, v, nil)
	}
}

// CreateSampler creates a sampler. Anisotropy is clamped to the device
// limit and disabled at 1 or below.
func (d *Device) CreateSampler(desc *gpu.SamplerDesc) (gpu.SamplerHandle, error) {
	aniso := min(desc.MaxAnisotropy, d.caps.MaxSamplerAnisotropy)
	enable := vk.Bool32(vk.False)
	if aniso > 1 {
		enable = vk.True
	} else {
		aniso = 1
	}
	am := addressMode(desc.AddressMode)
	var s vk.Sampler
	err := newError("create sampler", vk.CreateSampler(d.device, &vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        filter(desc.MagFilter),
		MinFilter:        filter(desc.MinFilter),
		MipmapMode:       mipmapMode(desc.MipmapFilter),
		AddressModeU:     am,
		AddressModeV:     am,
		AddressModeW:     am,
		AnisotropyEnable: enable,
		MaxAnisotropy:    aniso,
		CompareOp:        vk.CompareOpAlways,
		MinLod:           desc.MinLod,
		MaxLod:           desc.MaxLod,
		BorderColor:      vk.BorderColorFloatOpaqueBlack,
	}, nil, &s))
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.samplers.put(gpu.SamplerHandle(d.id()), s), nil
}

// DestroySampler destroys a sampler.
func (d *Device) DestroySampler(s gpu.SamplerHandle) {
	d.mu.Lock()
	v, ok := d.samplers.take(s)
	d.mu.Unlock()
	if ok {
		vk.DestroySampler(d.device, v, nil)
	}
}

// CreateShaderModule creates a module from SPIR-V words.
func (d *Device) CreateShaderModule(label string, spirv []uint32) (gpu.ShaderModuleHandle, error) {
	if len(spirv) == 0 {
		return 0, fmt.Errorf("vulkan: shader %q: empty SPIR-V", label)
	}
	var m vk.ShaderModule
	err := newError("create shader module", vk.CreateShaderModule(d.device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(spirv) * 4),
		PCode:    spirv,
	}, nil, &m))
	if err != nil {
		return 0, fmt.Errorf("%w (shader %q)", err, label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modules.put(gpu.ShaderModuleHandle(d.id()), m), nil
}

// DestroyShaderModule destroys a module.
func (d *Device) DestroyShaderModule(m gpu.ShaderModuleHandle) {
	d.mu.Lock()
	v, ok := d.modules.take(m)
	d.mu.Unlock()
	if ok {
		vk.DestroyShaderModule(d.device, v, nil)
	}
}

// =============================================================================
// Descriptors
// =============================================================================

// CreateSetLayout creates a descriptor set layout.
func (d *Device) CreateSetLayout(bindings []gpu.LayoutBinding) (gpu.SetLayoutHandle, error) {
	vb := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vb[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  descriptorType(b.Type),
			DescriptorCount: max(b.Count, 1),
			StageFlags:      shaderStages(b.Stages),
		}
	}
	var l vk.DescriptorSetLayout
	err := newError("create descriptor set layout", vk.CreateDescriptorSetLayout(d.device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vb)),
		PBindings:    vb,
	}, nil, &l))
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setLayouts.put(gpu.SetLayoutHandle(d.id()), l), nil
}

// DestroySetLayout destroys a layout.
func (d *Device) DestroySetLayout(l gpu.SetLayoutHandle) {
	d.mu.Lock()
	v, ok := d.setLayouts.take(l)
	d.mu.Unlock()
	if ok {
		vk.DestroyDescriptorSetLayout(d.device, v, nil)
	}
}

// CreateDescriptorPool creates a pool for maxSets sets.
func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []gpu.PoolSize) (gpu.DescriptorPoolHandle, error) {
	vs := make([]vk.DescriptorPoolSize, 0, len(sizes))
	for _, s := range sizes {
		if s.Count == 0 {
			continue
		}
		vs = append(vs, vk.DescriptorPoolSize{
			Type:            descriptorType(s.Type),
			DescriptorCount: s.Count,
		})
	}
	var p vk.DescriptorPool
	err := newError("create descriptor pool", vk.CreateDescriptorPool(d.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(vs)),
		PPoolSizes:    vs,
	}, nil, &p))
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pools.put(gpu.DescriptorPoolHandle(d.id()), p), nil
}

// ResetDescriptorPool returns every set of the pool to it.
func (d *Device) ResetDescriptorPool(p gpu.DescriptorPoolHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.pools.get(p)
	if !ok {
		return gpu.ErrInvalidHandle
	}
	if err := newError("reset descriptor pool", vk.ResetDescriptorPool(d.device, pool, 0)); err != nil {
		return err
	}
	d.forgetSetsLocked(p)
	return nil
}

// DestroyDescriptorPool destroys a pool and its sets.
func (d *Device) DestroyDescriptorPool(p gpu.DescriptorPoolHandle) {
	d.mu.Lock()
	pool, ok := d.pools.take(p)
	if ok {
		d.forgetSetsLocked(p)
	}
	d.mu.Unlock()
	if ok {
		vk.DestroyDescriptorPool(d.device, pool, nil)
	}
}

// FreeDescriptorSets returns sets to the pool they were allocated from.
func (d *Device) FreeDescriptorSets(p gpu.DescriptorPoolHandle, sets []gpu.DescriptorSetHandle) error {
	if len(sets) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.pools.get(p)
	if !ok {
		return gpu.ErrInvalidHandle
	}
	vs := make([]vk.DescriptorSet, len(sets))
	for i, h := range sets {
		s, ok := d.sets.get(h)
		if !ok || s.pool != p {
			return gpu.ErrInvalidHandle
		}
		vs[i] = s.set
	}
	if err := newError("free descriptor sets", vk.FreeDescriptorSets(d.device, pool, uint32(len(vs)), &vs[0])); err != nil {
		return err
	}
	for _, h := range sets {
		delete(d.sets.m, h)
	}
	return nil
}

func (d *Device) forgetSetsLocked(p gpu.DescriptorPoolHandle) {
	for h, s := range d.sets.m {
		if s.pool == p {
			delete(d.sets.m, h)
		}
	}
}

// AllocateDescriptorSets allocates one set per layout.
func (d *Device) AllocateDescriptorSets(p gpu.DescriptorPoolHandle, layouts []gpu.SetLayoutHandle) ([]gpu.DescriptorSetHandle, error) {
	if len(layouts) == 0 {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.pools.get(p)
	if !ok {
		return nil, gpu.ErrInvalidHandle
	}
	vl := make([]vk.DescriptorSetLayout, len(layouts))
	for i, l := range layouts {
		if vl[i], ok = d.setLayouts.get(l); !ok {
			return nil, gpu.ErrInvalidHandle
		}
	}
	sets := make([]vk.DescriptorSet, len(layouts))
	ret := vk.AllocateDescriptorSets(d.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: uint32(len(vl)),
		PSetLayouts:        vl,
	}, &sets[0])
	if ret == vk.ErrorOutOfPoolMemory || ret == vk.ErrorFragmentedPool {
		return nil, gpu.ErrPoolExhausted
	}
	if err := newError("allocate descriptor sets", ret); err != nil {
		return nil, err
	}
	out := make([]gpu.DescriptorSetHandle, len(sets))
	for i, s := range sets {
		out[i] = d.sets.put(gpu.DescriptorSetHandle(d.id()), &descriptorSet{set: s, pool: p})
	}
	return out, nil
}

// UpdateDescriptorSets applies writes in one call. Writes naming unknown
// handles are logged and skipped.
func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	d.mu.Lock()
	vw := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		set, ok := d.sets.get(w.Set)
		if !ok {
			backend.Logger().Warn("vulkan: write to unknown descriptor set", "set", w.Set)
			continue
		}
		out := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.set,
			DstBinding:      w.Binding,
			DescriptorCount: 1,
			DescriptorType:  descriptorType(w.Type),
		}
		switch {
		case w.Buffer != nil:
			buf, ok := d.buffers.get(w.Buffer.Buffer)
			if !ok {
				continue
			}
			rng := vk.DeviceSize(w.Buffer.Range)
			if rng == 0 {
				rng = vk.DeviceSize(vk.WholeSize)
			}
			out.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf,
				Offset: vk.DeviceSize(w.Buffer.Offset),
				Range:  rng,
			}}
		case w.Image != nil:
			info := vk.DescriptorImageInfo{ImageLayout: imageLayout(w.Image.Layout)}
			if w.Image.View != 0 {
				if info.ImageView, ok = d.views.get(w.Image.View); !ok {
					continue
				}
			}
			if w.Image.Sampler != 0 {
				if info.Sampler, ok = d.samplers.get(w.Image.Sampler); !ok {
					continue
				}
			}
			out.PImageInfo = []vk.DescriptorImageInfo{info}
		default:
			continue
		}
		vw = append(vw, out)
	}
	d.mu.Unlock()
	if len(vw) > 0 {
		vk.UpdateDescriptorSets(d.device, uint32(len(vw)), vw, 0, nil)
	}
}

// =============================================================================
// Render passes and pipelines
// =============================================================================

// CreateRenderPass creates a render pass from a validated description.
func (d *Device) CreateRenderPass(desc *gpu.RenderPassDesc) (gpu.RenderPassHandle, error) {
	atts := make([]vk.AttachmentDescription, len(desc.Attachments))
	depth := make([]bool, len(desc.Attachments))
	for i, a := range desc.Attachments {
		atts[i] = vk.AttachmentDescription{
			Format:         format(a.Format),
			Samples:        sampleCount(a.Samples),
			LoadOp:         loadOp(a.LoadOp),
			StoreOp:        storeOp(a.StoreOp),
			StencilLoadOp:  loadOp(a.StencilLoadOp),
			StencilStoreOp: storeOp(a.StencilStoreOp),
			InitialLayout:  imageLayout(a.InitialLayout),
			FinalLayout:    imageLayout(a.FinalLayout),
		}
		depth[i] = a.Format.IsDepth()
	}

	refs := func(in []gpu.AttachmentReference) []vk.AttachmentReference {
		if len(in) == 0 {
			return nil
		}
		out := make([]vk.AttachmentReference, len(in))
		for i, r := range in {
			out[i] = vk.AttachmentReference{Attachment: r.Attachment, Layout: imageLayout(r.Layout)}
		}
		return out
	}
	subs := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i, s := range desc.Subpasses {
		sub := vk.SubpassDescription{
			PipelineBindPoint:    vk.PipelineBindPointGraphics,
			ColorAttachmentCount: uint32(len(s.Color)),
			PColorAttachments:    refs(s.Color),
			PResolveAttachments:  refs(s.Resolve),
		}
		if s.DepthStencil != nil {
			sub.PDepthStencilAttachment = &vk.AttachmentReference{
				Attachment: s.DepthStencil.Attachment,
				Layout:     imageLayout(s.DepthStencil.Layout),
			}
		}
		subs[i] = sub
	}

	deps := make([]vk.SubpassDependency, len(desc.Dependencies))
	for i, dep := range desc.Dependencies {
		deps[i] = vk.SubpassDependency{
			SrcSubpass:    dep.SrcSubpass,
			DstSubpass:    dep.DstSubpass,
			SrcStageMask:  pipelineStages(dep.SrcStage),
			DstStageMask:  pipelineStages(dep.DstStage),
			SrcAccessMask: accessFlags(dep.SrcAccess),
			DstAccessMask: accessFlags(dep.DstAccess),
		}
	}

	var rp vk.RenderPass
	err := newError("create render pass", vk.CreateRenderPass(d.device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(atts)),
		PAttachments:    atts,
		SubpassCount:    uint32(len(subs)),
		PSubpasses:      subs,
		DependencyCount: uint32(len(deps)),
		PDependencies:   deps,
	}, nil, &rp))
	if err != nil {
		return 0, fmt.Errorf("%w (render pass %q)", err, desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.renderPasses.put(gpu.RenderPassHandle(d.id()), &renderPass{rp: rp, depth: depth}), nil
}

// DestroyRenderPass destroys a render pass.
func (d *Device) DestroyRenderPass(rp gpu.RenderPassHandle) {
	d.mu.Lock()
	v, ok := d.renderPasses.take(rp)
	d.mu.Unlock()
	if ok {
		vk.DestroyRenderPass(d.device, v.rp, nil)
	}
}

// CreateFramebuffer creates a framebuffer.
func (d *Device) CreateFramebuffer(desc *gpu.FramebufferDesc) (gpu.FramebufferHandle, error) {
	d.mu.Lock()
	rp, ok := d.renderPasses.get(desc.RenderPass)
	views := make([]vk.ImageView, len(desc.Attachments))
	for i, a := range desc.Attachments {
		var found bool
		if views[i], found = d.views.get(a); !found {
			ok = false
		}
	}
	d.mu.Unlock()
	if !ok {
		return 0, gpu.ErrInvalidHandle
	}
	var fb vk.Framebuffer
	err := newError("create framebuffer", vk.CreateFramebuffer(d.device, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.rp,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           desc.Width,
		Height:          desc.Height,
		Layers:          max(desc.Layers, 1),
	}, nil, &fb))
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.framebuffers.put(gpu.FramebufferHandle(d.id()), fb), nil
}

// DestroyFramebuffer destroys a framebuffer.
func (d *Device) DestroyFramebuffer(fb gpu.FramebufferHandle) {
	d.mu.Lock()
	v, ok := d.framebuffers.take(fb)
	d.mu.Unlock()
	if ok {
		vk.DestroyFramebuffer(d.device, v, nil)
	}
}

// CreatePipelineLayout creates a pipeline layout. Push-constant ranges
// beyond the device limit are rejected.
func (d *Device) CreatePipelineLayout(setLayouts []gpu.SetLayoutHandle, ranges []gpu.PushConstantRange) (gpu.PipelineLayoutHandle, error) {
	d.mu.Lock()
	vl := make([]vk.DescriptorSetLayout, len(setLayouts))
	for i, l := range setLayouts {
		var ok bool
		if vl[i], ok = d.setLayouts.get(l); !ok {
			d.mu.Unlock()
			return 0, gpu.ErrInvalidHandle
		}
	}
	d.mu.Unlock()

	vr := make([]vk.PushConstantRange, len(ranges))
	for i, r := range ranges {
		if r.Offset+r.Size > d.caps.MaxPushConstantsSize {
			return 0, fmt.Errorf("vulkan: push constants [%d, %d) exceed %d bytes",
				r.Offset, r.Offset+r.Size, d.caps.MaxPushConstantsSize)
		}
		vr[i] = vk.PushConstantRange{
			StageFlags: shaderStages(r.Stages),
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}
	var pl vk.PipelineLayout
	err := newError("create pipeline layout", vk.CreatePipelineLayout(d.device, &vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(vl)),
		PSetLayouts:            vl,
		PushConstantRangeCount: uint32(len(vr)),
		PPushConstantRanges:    vr,
	}, nil, &pl))
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelineLayouts.put(gpu.PipelineLayoutHandle(d.id()), pl), nil
}

// DestroyPipelineLayout destroys a pipeline layout.
func (d *Device) DestroyPipelineLayout(l gpu.PipelineLayoutHandle) {
	d.mu.Lock()
	v, ok := d.pipelineLayouts.take(l)
	d.mu.Unlock()
	if ok {
		vk.DestroyPipelineLayout(d.device, v, nil)
	}
}

func (d *Device) stageInfoLocked(s gpu.ShaderStageModule) (vk.PipelineShaderStageCreateInfo, error) {
	m, ok := d.modules.get(s.Module)
	if !ok {
		return vk.PipelineShaderStageCreateInfo{}, gpu.ErrInvalidHandle
	}
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFlagBits(shaderStages(s.Stage)),
		Module: m,
		PName:  cstr(s.EntryPoint),
	}, nil
}

// CreateGraphicsPipeline creates a graphics pipeline with dynamic viewport
// and scissor.
func (d *Device) CreateGraphicsPipeline(desc *gpu.GraphicsPipelineDesc) (gpu.PipelineHandle, error) {
	d.mu.Lock()
	layout, okLayout := d.pipelineLayouts.get(desc.Layout)
	rp, okPass := d.renderPasses.get(desc.RenderPass)
	stages := make([]vk.PipelineShaderStageCreateInfo, len(desc.Stages))
	var stageErr error
	for i, s := range desc.Stages {
		if stages[i], stageErr = d.stageInfoLocked(s); stageErr != nil {
			break
		}
	}
	d.mu.Unlock()
	if !okLayout || !okPass || stageErr != nil {
		return 0, fmt.Errorf("vulkan: pipeline %q: %w", desc.Label, gpu.ErrInvalidHandle)
	}

	bindings := make([]vk.VertexInputBindingDescription, len(desc.VertexBindings))
	for i, b := range desc.VertexBindings {
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: vk.VertexInputRateVertex,
		}
	}
	attrs := make([]vk.VertexInputAttributeDescription, len(desc.VertexAttributes))
	for i, a := range desc.VertexAttributes {
		attrs[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   vertexFormat(a.Format),
			Offset:   a.Offset,
		}
	}

	st := desc.State
	blend := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: 0xF,
		BlendEnable:    vk.False,
	}
	if st.Blend {
		blend.BlendEnable = vk.True
		blend.SrcColorBlendFactor = vk.BlendFactorOne
		blend.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blend.ColorBlendOp = vk.BlendOpAdd
		blend.SrcAlphaBlendFactor = vk.BlendFactorOne
		blend.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blend.AlphaBlendOp = vk.BlendOpAdd
	}
	blends := make([]vk.PipelineColorBlendAttachmentState, st.ColorAttachments)
	for i := range blends {
		blends[i] = blend
	}
	depthTest, depthWrite := vk.Bool32(vk.False), vk.Bool32(vk.False)
	if st.DepthTest {
		depthTest = vk.True
	}
	if st.DepthWrite {
		depthWrite = vk.True
	}
	keep := vk.StencilOpState{
		FailOp:    vk.StencilOpKeep,
		PassOp:    vk.StencilOpKeep,
		CompareOp: vk.CompareOpAlways,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexBindingDescriptionCount:   uint32(len(bindings)),
			PVertexBindingDescriptions:      bindings,
			VertexAttributeDescriptionCount: uint32(len(attrs)),
			PVertexAttributeDescriptions:    attrs,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: topology(st.Topology),
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    cullMode(st.CullMode),
			FrontFace:   frontFace(st.FrontFace),
			LineWidth:   1.0,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: sampleCount(st.Samples),
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:  depthTest,
			DepthWriteEnable: depthWrite,
			DepthCompareOp:   compareOp(st.DepthCompare),
			Front:            keep,
			Back:             keep,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			LogicOpEnable:   vk.False,
			LogicOp:         vk.LogicOpCopy,
			AttachmentCount: uint32(len(blends)),
			PAttachments:    blends,
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates:    []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor},
		},
		Layout:     layout,
		RenderPass: rp.rp,
		Subpass:    desc.Subpass,
	}

	var cache vk.PipelineCache
	pipes := make([]vk.Pipeline, 1)
	err := newError("create graphics pipeline", vk.CreateGraphicsPipelines(d.device, cache, 1, []vk.GraphicsPipelineCreateInfo{info}, nil, pipes))
	if err != nil {
		return 0, fmt.Errorf("%w (pipeline %q)", err, desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelines.put(gpu.PipelineHandle(d.id()), pipes[0]), nil
}

// CreateComputePipeline creates a compute pipeline.
func (d *Device) CreateComputePipeline(desc *gpu.ComputePipelineDesc) (gpu.PipelineHandle, error) {
	d.mu.Lock()
	layout, ok := d.pipelineLayouts.get(desc.Layout)
	stage, err := d.stageInfoLocked(desc.Stage)
	d.mu.Unlock()
	if !ok || err != nil {
		return 0, fmt.Errorf("vulkan: pipeline %q: %w", desc.Label, gpu.ErrInvalidHandle)
	}
	var cache vk.PipelineCache
	pipes := make([]vk.Pipeline, 1)
	err = newError("create compute pipeline", vk.CreateComputePipelines(d.device, cache, 1, []vk.ComputePipelineCreateInfo{{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  stage,
		Layout: layout,
	}}, nil, pipes))
	if err != nil {
		return 0, fmt.Errorf("%w (pipeline %q)", err, desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipelines.put(gpu.PipelineHandle(d.id()), pipes[0]), nil
}

// DestroyPipeline destroys a pipeline.
func (d *Device) DestroyPipeline(p gpu.PipelineHandle) {
	d.mu.Lock()
	v, ok := d.pipelines.take(p)
	d.mu.Unlock()
	if ok {
		vk.DestroyPipeline(d.device, v, nil)
	}
}

// =============================================================================
// Commands and synchronization
// =============================================================================

// AllocateCommandBuffer allocates a command buffer from the device pool.
func (d *Device) AllocateCommandBuffer(level gpu.CommandBufferLevel) (gpu.CommandBufferHandle, error) {
	vl := vk.CommandBufferLevelPrimary
	if level == gpu.LevelSecondary {
		vl = vk.CommandBufferLevelSecondary
	}
	cbs := make([]vk.CommandBuffer, 1)
	d.mu.Lock()
	defer d.mu.Unlock()
	err := newError("allocate command buffer", vk.AllocateCommandBuffers(d.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.cmdPool,
		Level:              vl,
		CommandBufferCount: 1,
	}, cbs))
	if err != nil {
		return 0, err
	}
	return d.commands.put(gpu.CommandBufferHandle(d.id()), &commandBuffer{cb: cbs[0], level: level}), nil
}

// FreeCommandBuffer returns a command buffer to the pool.
func (d *Device) FreeCommandBuffer(cmd gpu.CommandBufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.commands.take(cmd); ok {
		vk.FreeCommandBuffers(d.device, d.cmdPool, 1, []vk.CommandBuffer{c.cb})
	}
}

// CreateFence creates a fence, optionally signaled.
func (d *Device) CreateFence(signaled bool) (gpu.FenceHandle, error) {
	var flags vk.FenceCreateFlagBits
	if signaled {
		flags = vk.FenceCreateSignaledBit
	}
	var f vk.Fence
	err := newError("create fence", vk.CreateFence(d.device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(flags),
	}, nil, &f))
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fences.put(gpu.FenceHandle(d.id()), f), nil
}

// DestroyFence destroys a fence.
func (d *Device) DestroyFence(f gpu.FenceHandle) {
	d.mu.Lock()
	v, ok := d.fences.take(f)
	d.mu.Unlock()
	if ok {
		vk.DestroyFence(d.device, v, nil)
	}
}

// WaitFence waits for a fence. It reports false when the timeout elapses.
func (d *Device) WaitFence(f gpu.FenceHandle, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	v, ok := d.fences.get(f)
	d.mu.Unlock()
	if !ok {
		return false, gpu.ErrInvalidHandle
	}
	ret := vk.WaitForFences(d.device, 1, []vk.Fence{v}, vk.True, uint64(timeout.Nanoseconds()))
	if ret == vk.Timeout {
		return false, nil
	}
	if err := newError("wait for fence", ret); err != nil {
		return false, err
	}
	return true, nil
}

// ResetFence returns a fence to the unsignaled state.
func (d *Device) ResetFence(f gpu.FenceHandle) error {
	d.mu.Lock()
	v, ok := d.fences.get(f)
	d.mu.Unlock()
	if !ok {
		return gpu.ErrInvalidHandle
	}
	return newError("reset fence", vk.ResetFences(d.device, 1, []vk.Fence{v}))
}

// Submit submits primary command buffers to the queue and signals fence,
// when non-zero, on completion.
func (d *Device) Submit(cmds []gpu.CommandBufferHandle, f gpu.FenceHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cbs := make([]vk.CommandBuffer, len(cmds))
	for i, h := range cmds {
		c, ok := d.commands.get(h)
		if !ok {
			return gpu.ErrInvalidHandle
		}
		if c.level != gpu.LevelPrimary {
			return errors.New("vulkan: secondary command buffers cannot be submitted")
		}
		cbs[i] = c.cb
	}
	var fence vk.Fence
	if f != 0 {
		var ok bool
		if fence, ok = d.fences.get(f); !ok {
			return gpu.ErrInvalidHandle
		}
	}
	return newError("queue submit", vk.QueueSubmit(d.queue, 1, []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(cbs)),
		PCommandBuffers:    cbs,
	}}, fence))
}

// WaitIdle waits for the queue to drain.
func (d *Device) WaitIdle() error {
	return newError("device wait idle", vk.DeviceWaitIdle(d.device))
}

// Destroy releases the pool, the device and the instance. Objects still in
// the handle tables are logged as leaks.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil {
		return
	}
	vk.DeviceWaitIdle(d.device)
	if n := d.buffers.len() + d.images.len() + d.pipelines.len() + d.fences.len(); n > 0 {
		backend.Logger().Warn("vulkan: device destroyed with live objects", "count", n)
	}
	vk.DestroyCommandPool(d.device, d.cmdPool, nil)
	vk.DestroyDevice(d.device, nil)
	d.device = nil
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}
