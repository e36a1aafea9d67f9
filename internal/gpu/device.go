package gpu

import (
	"errors"
	"time"
)

// Device errors.
var (
	// ErrNilDevice is returned when a context is created without a device.
	ErrNilDevice = errors.New("gpu: device is nil")

	// ErrUnsupported is returned by backends for features they cannot express.
	ErrUnsupported = errors.New("gpu: operation not supported by backend")

	// ErrPoolExhausted is returned by AllocateDescriptorSets when the pool is full.
	ErrPoolExhausted = errors.New("gpu: descriptor pool exhausted")

	// ErrInvalidHandle is returned when a backend does not know a handle.
	ErrInvalidHandle = errors.New("gpu: invalid handle")
)

// Native object handles. Backends map them to their own objects; the zero
// value is the null handle.
type (
	BufferHandle         uint64
	MemoryHandle         uint64
	ImageHandle          uint64
	ImageViewHandle      uint64
	SamplerHandle        uint64
	ShaderModuleHandle   uint64
	SetLayoutHandle      uint64
	DescriptorPoolHandle uint64
	DescriptorSetHandle  uint64
	RenderPassHandle     uint64
	FramebufferHandle    uint64
	PipelineLayoutHandle uint64
	PipelineHandle       uint64
	CommandBufferHandle  uint64
	FenceHandle          uint64
)

// SubpassExternal names the implicit subpass outside a render pass.
const SubpassExternal = ^uint32(0)

// Capabilities reports what a backend can express.
type Capabilities struct {
	// Graphics is false for compute-only backends.
	Graphics bool
	// PushConstants reports support for push-constant ranges.
	PushConstants bool
	// MaxPushConstantsSize is the byte limit of all push-constant ranges.
	MaxPushConstantsSize uint32
	// MaxSamplerAnisotropy is the largest accepted sampler anisotropy.
	MaxSamplerAnisotropy float32
	// MaxColorSamples is the largest supported color attachment sample count.
	MaxColorSamples uint32
	// SamplerBindingOffset is zero when combined image samplers occupy one
	// binding. Otherwise the sampler half of binding b lives at
	// b+SamplerBindingOffset and shaders must be built to match.
	SamplerBindingOffset uint32
}

// =============================================================================
// Resource descriptors
// =============================================================================

// BufferUsage is a bit mask of buffer usages.
type BufferUsage uint32

const (
	BufferUsageUniform BufferUsage = 1 << iota
	BufferUsageStorage
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

// BufferDesc describes a buffer and its backing memory.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
	// HostVisible requests host-visible, coherent memory.
	HostVisible bool
}

// ImageUsage is a bit mask of image usages.
type ImageUsage uint32

const (
	ImageUsageSampled ImageUsage = 1 << iota
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
	ImageUsageTransferSrc
	ImageUsageTransferDst
)

// ImageDesc describes a 2D image, optionally layered or cube compatible.
type ImageDesc struct {
	Label          string
	Width, Height  uint32
	MipLevels      uint32
	ArrayLayers    uint32
	Format         Format
	Usage          ImageUsage
	Samples        uint32
	CubeCompatible bool
}

// ViewType is the dimensionality of an image view.
type ViewType uint8

const (
	ViewType2D ViewType = iota
	ViewType2DArray
	ViewTypeCube
)

// ImageViewDesc describes a view over a subresource range of an image.
type ImageViewDesc struct {
	Image      ImageHandle
	Format     Format
	Type       ViewType
	Aspect     ImageAspect
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// Filter is a texel filter.
type Filter uint8

const (
	FilterLinear Filter = iota
	FilterNearest
)

// AddressMode controls out-of-range texture coordinates.
type AddressMode uint8

const (
	AddressModeClampToEdge AddressMode = iota
	AddressModeRepeat
	AddressModeMirroredRepeat
)

// SamplerDesc describes a sampler.
type SamplerDesc struct {
	Label         string
	MagFilter     Filter
	MinFilter     Filter
	MipmapFilter  Filter
	AddressMode   AddressMode
	MaxAnisotropy float32
	MinLod        float32
	MaxLod        float32
}

// ShaderStage is a bit mask of shader stages.
type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageGeometry
	ShaderStageFragment
	ShaderStageCompute
)

// DescriptorType is the kind of resource a descriptor binding holds.
type DescriptorType uint8

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorStorageBuffer
	DescriptorCombinedImageSampler
	DescriptorSampledImage
	DescriptorStorageImage
)

// String returns the descriptor type name.
func (t DescriptorType) String() string {
	switch t {
	case DescriptorUniformBuffer:
		return "UniformBuffer"
	case DescriptorStorageBuffer:
		return "StorageBuffer"
	case DescriptorCombinedImageSampler:
		return "CombinedImageSampler"
	case DescriptorSampledImage:
		return "SampledImage"
	case DescriptorStorageImage:
		return "StorageImage"
	default:
		return "Unknown"
	}
}

// IsImage reports whether the descriptor references an image.
func (t DescriptorType) IsImage() bool {
	return t == DescriptorCombinedImageSampler || t == DescriptorSampledImage || t == DescriptorStorageImage
}

// LayoutBinding is one binding of a descriptor set layout.
type LayoutBinding struct {
	Binding uint32
	Type    DescriptorType
	Stages  ShaderStage
	Count   uint32
	// View is the dimensionality of image bindings. Backends that validate
	// view dimensions at layout creation use it.
	View ViewType
}

// PoolSize is the number of descriptors of one type a pool holds.
type PoolSize struct {
	Type  DescriptorType
	Count uint32
}

// BufferInfo is the buffer half of a descriptor write.
type BufferInfo struct {
	Buffer BufferHandle
	Offset uint64
	Range  uint64
}

// ImageInfo is the image half of a descriptor write.
type ImageInfo struct {
	View    ImageViewHandle
	Sampler SamplerHandle
	Layout  ImageLayout
}

// DescriptorWrite updates one binding of one descriptor set.
type DescriptorWrite struct {
	Set     DescriptorSetHandle
	Binding uint32
	Type    DescriptorType
	Buffer  *BufferInfo
	Image   *ImageInfo
}

// FramebufferDesc describes a framebuffer.
type FramebufferDesc struct {
	RenderPass    RenderPassHandle
	Attachments   []ImageViewHandle
	Width, Height uint32
	Layers        uint32
}

// PushConstantRange is a push-constant byte range visible to some stages.
type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

// =============================================================================
// Pipeline descriptors
// =============================================================================

// ShaderStageModule attaches a module to a pipeline stage.
type ShaderStageModule struct {
	Stage      ShaderStage
	Module     ShaderModuleHandle
	EntryPoint string
}

// VertexFormat is the format of one vertex attribute.
type VertexFormat uint8

const (
	VertexFloat32x2 VertexFormat = iota
	VertexFloat32x3
	VertexFloat32x4
)

// Size returns the attribute size in bytes.
func (f VertexFormat) Size() uint32 {
	switch f {
	case VertexFloat32x2:
		return 8
	case VertexFloat32x3:
		return 12
	default:
		return 16
	}
}

// VertexBinding describes one vertex buffer binding.
type VertexBinding struct {
	Binding uint32
	Stride  uint32
}

// VertexAttribute describes one vertex attribute.
type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   VertexFormat
	Offset   uint32
}

// Topology is the primitive topology.
type Topology uint8

const (
	TopologyTriangleList Topology = iota
	TopologyTriangleStrip
	TopologyLineList
	TopologyPointList
)

// CullMode selects culled faces.
type CullMode uint8

const (
	CullNone CullMode = iota
	CullFront
	CullBack
)

// FrontFace is the winding order of front faces.
type FrontFace uint8

const (
	FrontFaceCounterClockwise FrontFace = iota
	FrontFaceClockwise
)

// CompareOp is a depth comparison.
type CompareOp uint8

const (
	CompareNever CompareOp = iota
	CompareLess
	CompareEqual
	CompareLessOrEqual
	CompareGreater
	CompareAlways
)

// GraphicsState is the fixed-function state of a graphics pipeline.
type GraphicsState struct {
	Topology         Topology
	CullMode         CullMode
	FrontFace        FrontFace
	Samples          uint32
	DepthTest        bool
	DepthWrite       bool
	DepthCompare     CompareOp
	Blend            bool
	ColorAttachments uint32
}

// GraphicsPipelineDesc is the backend-level graphics pipeline description.
type GraphicsPipelineDesc struct {
	Label            string
	Layout           PipelineLayoutHandle
	RenderPass       RenderPassHandle
	Subpass          uint32
	Stages           []ShaderStageModule
	VertexBindings   []VertexBinding
	VertexAttributes []VertexAttribute
	State            GraphicsState
}

// ComputePipelineDesc is the backend-level compute pipeline description.
type ComputePipelineDesc struct {
	Label  string
	Layout PipelineLayoutHandle
	Stage  ShaderStageModule
}

// =============================================================================
// Command descriptors
// =============================================================================

// CommandBufferLevel is the level of a command buffer.
type CommandBufferLevel uint8

const (
	LevelPrimary CommandBufferLevel = iota
	LevelSecondary
)

// String returns the level name.
func (l CommandBufferLevel) String() string {
	if l == LevelSecondary {
		return "Secondary"
	}
	return "Primary"
}

// Inheritance is the render pass state a secondary command buffer continues.
type Inheritance struct {
	RenderPass  RenderPassHandle
	Subpass     uint32
	Framebuffer FramebufferHandle
}

// BeginInfo controls how recording starts.
type BeginInfo struct {
	OneTimeSubmit bool
	// Inheritance is set for secondary buffers recorded inside a render pass.
	Inheritance *Inheritance
}

// ImageBarrier is a layout transition or memory barrier on an image range.
type ImageBarrier struct {
	Image                ImageHandle
	OldLayout, NewLayout ImageLayout
	SrcAccess, DstAccess Access
	Aspect               ImageAspect
	BaseMip, MipCount    uint32
	BaseLayer            uint32
	LayerCount           uint32
}

// SubpassContents says where the commands of a subpass are recorded.
type SubpassContents uint8

const (
	ContentsInline SubpassContents = iota
	ContentsSecondary
)

// ClearValue is the clear value of one attachment.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

// RenderPassBegin starts a render pass instance.
type RenderPassBegin struct {
	RenderPass    RenderPassHandle
	Framebuffer   FramebufferHandle
	Width, Height uint32
	ClearValues   []ClearValue
	Contents      SubpassContents
}

// Viewport is a viewport transform.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Rect is a scissor rectangle.
type Rect struct {
	X, Y          int32
	Width, Height uint32
}

// IndexType is the index buffer element type.
type IndexType uint8

const (
	IndexUint32 IndexType = iota
	IndexUint16
)

// BindPoint is the pipeline bind point.
type BindPoint uint8

const (
	BindPointGraphics BindPoint = iota
	BindPointCompute
)

// ImageSubresource selects a mip level and layer range.
type ImageSubresource struct {
	Aspect     ImageAspect
	MipLevel   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// BufferImageCopy copies between a buffer and one mip of an image.
type BufferImageCopy struct {
	BufferOffset  uint64
	Subresource   ImageSubresource
	Width, Height uint32
}

// ImageCopy copies a region between two images.
type ImageCopy struct {
	Src, Dst      ImageSubresource
	Width, Height uint32
}

// ImageBlit scales a region of one image into another.
type ImageBlit struct {
	Src, Dst            ImageSubresource
	SrcWidth, SrcHeight uint32
	DstWidth, DstHeight uint32
}

// =============================================================================
// Device
// =============================================================================

// Device is the backend contract: native object creation, descriptor
// updates, submission and synchronization. Backends live under backend/.
//
// Devices must be safe for concurrent use; the core itself records on a
// single goroutine.
type Device interface {
	Recorder

	// Capabilities reports backend features and limits.
	Capabilities() Capabilities

	CreateBuffer(desc *BufferDesc) (BufferHandle, MemoryHandle, error)
	DestroyBuffer(buf BufferHandle, mem MemoryHandle)
	// MapMemory returns a host view of the memory range. The slice stays
	// valid until UnmapMemory.
	MapMemory(mem MemoryHandle, offset, size uint64) ([]byte, error)
	UnmapMemory(mem MemoryHandle)

	CreateImage(desc *ImageDesc) (ImageHandle, MemoryHandle, error)
	DestroyImage(img ImageHandle, mem MemoryHandle)
	CreateImageView(desc *ImageViewDesc) (ImageViewHandle, error)
	DestroyImageView(view ImageViewHandle)
	CreateSampler(desc *SamplerDesc) (SamplerHandle, error)
	DestroySampler(s SamplerHandle)

	CreateShaderModule(label string, spirv []uint32) (ShaderModuleHandle, error)
	DestroyShaderModule(m ShaderModuleHandle)

	CreateSetLayout(bindings []LayoutBinding) (SetLayoutHandle, error)
	DestroySetLayout(l SetLayoutHandle)
	CreateDescriptorPool(maxSets uint32, sizes []PoolSize) (DescriptorPoolHandle, error)
	ResetDescriptorPool(p DescriptorPoolHandle) error
	DestroyDescriptorPool(p DescriptorPoolHandle)
	// AllocateDescriptorSets returns ErrPoolExhausted when the pool is full.
	AllocateDescriptorSets(p DescriptorPoolHandle, layouts []SetLayoutHandle) ([]DescriptorSetHandle, error)
	// FreeDescriptorSets returns sets to the pool they were allocated from.
	FreeDescriptorSets(p DescriptorPoolHandle, sets []DescriptorSetHandle) error
	UpdateDescriptorSets(writes []DescriptorWrite)

	CreateRenderPass(desc *RenderPassDesc) (RenderPassHandle, error)
	DestroyRenderPass(rp RenderPassHandle)
	CreateFramebuffer(desc *FramebufferDesc) (FramebufferHandle, error)
	DestroyFramebuffer(fb FramebufferHandle)

	CreatePipelineLayout(setLayouts []SetLayoutHandle, ranges []PushConstantRange) (PipelineLayoutHandle, error)
	DestroyPipelineLayout(l PipelineLayoutHandle)
	CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (PipelineHandle, error)
	CreateComputePipeline(desc *ComputePipelineDesc) (PipelineHandle, error)
	DestroyPipeline(p PipelineHandle)

	AllocateCommandBuffer(level CommandBufferLevel) (CommandBufferHandle, error)
	FreeCommandBuffer(cmd CommandBufferHandle)

	CreateFence(signaled bool) (FenceHandle, error)
	DestroyFence(f FenceHandle)
	// WaitFence blocks until the fence signals or the timeout elapses.
	// It reports false on timeout.
	WaitFence(f FenceHandle, timeout time.Duration) (bool, error)
	ResetFence(f FenceHandle) error
	Submit(cmds []CommandBufferHandle, fence FenceHandle) error
	WaitIdle() error

	// Destroy releases the device. All objects must be destroyed first.
	Destroy()
}

// Recorder records commands into native command buffers.
type Recorder interface {
	BeginCommandBuffer(cmd CommandBufferHandle, info *BeginInfo) error
	EndCommandBuffer(cmd CommandBufferHandle) error
	ResetCommandBuffer(cmd CommandBufferHandle) error

	CmdPipelineBarrier(cmd CommandBufferHandle, srcStage, dstStage PipelineStage, barriers []ImageBarrier)
	CmdBeginRenderPass(cmd CommandBufferHandle, begin *RenderPassBegin)
	CmdNextSubpass(cmd CommandBufferHandle, contents SubpassContents)
	CmdEndRenderPass(cmd CommandBufferHandle)
	CmdExecuteCommands(cmd CommandBufferHandle, secondaries []CommandBufferHandle)

	CmdBindPipeline(cmd CommandBufferHandle, point BindPoint, p PipelineHandle)
	CmdBindDescriptorSets(cmd CommandBufferHandle, point BindPoint, layout PipelineLayoutHandle, firstSet uint32, sets []DescriptorSetHandle)
	CmdPushConstants(cmd CommandBufferHandle, layout PipelineLayoutHandle, stages ShaderStage, offset uint32, data []byte)
	CmdBindVertexBuffers(cmd CommandBufferHandle, first uint32, buffers []BufferHandle, offsets []uint64)
	CmdBindIndexBuffer(cmd CommandBufferHandle, buf BufferHandle, offset uint64, typ IndexType)
	CmdSetViewport(cmd CommandBufferHandle, vp Viewport)
	CmdSetScissor(cmd CommandBufferHandle, r Rect)
	CmdDraw(cmd CommandBufferHandle, vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CmdDrawIndexed(cmd CommandBufferHandle, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	CmdDispatch(cmd CommandBufferHandle, x, y, z uint32)

	CmdCopyBufferToImage(cmd CommandBufferHandle, src BufferHandle, dst ImageHandle, dstLayout ImageLayout, regions []BufferImageCopy)
	CmdCopyImageToBuffer(cmd CommandBufferHandle, src ImageHandle, srcLayout ImageLayout, dst BufferHandle, regions []BufferImageCopy)
	CmdCopyImage(cmd CommandBufferHandle, src ImageHandle, srcLayout ImageLayout, dst ImageHandle, dstLayout ImageLayout, regions []ImageCopy)
	CmdBlitImage(cmd CommandBufferHandle, src ImageHandle, srcLayout ImageLayout, dst ImageHandle, dstLayout ImageLayout, regions []ImageBlit, filter Filter)
}
