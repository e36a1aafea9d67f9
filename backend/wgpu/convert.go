//go:build !nogpu

package wgpu

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/lumen/internal/gpu"
)

// SamplerBindingOffset is where the sampler half of a combined image
// sampler binding lives: binding b maps to texture b and sampler
// b+SamplerBindingOffset.
const SamplerBindingOffset = 16

// storageFormat is the texel format of every storage image binding. The
// bloom chain is the only storage image user and it is RGBA32F throughout.
const storageFormat = gputypes.TextureFormatRGBA32Float

func textureFormat(f gpu.Format) gputypes.TextureFormat {
	switch f {
	case gpu.FormatR8G8B8A8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	case gpu.FormatR8G8B8A8Srgb:
		return gputypes.TextureFormatRGBA8UnormSrgb
	case gpu.FormatB8G8R8A8Unorm:
		return gputypes.TextureFormatBGRA8Unorm
	case gpu.FormatB8G8R8A8Srgb:
		return gputypes.TextureFormatBGRA8UnormSrgb
	case gpu.FormatR16G16Sfloat:
		return gputypes.TextureFormatRG16Float
	case gpu.FormatR16G16B16A16Sfloat:
		return gputypes.TextureFormatRGBA16Float
	case gpu.FormatR32G32B32A32Sfloat:
		return gputypes.TextureFormatRGBA32Float
	case gpu.FormatD16Unorm:
		return gputypes.TextureFormatDepth16Unorm
	case gpu.FormatD32Sfloat:
		return gputypes.TextureFormatDepth32Float
	case gpu.FormatD16UnormS8Uint, gpu.FormatD24UnormS8Uint:
		// WebGPU has no 16-bit depth/stencil format.
		return gputypes.TextureFormatDepth24PlusStencil8
	case gpu.FormatD32SfloatS8Uint:
		return gputypes.TextureFormatDepth32FloatStencil8
	default:
		return gputypes.TextureFormat(0)
	}
}

func bufferUsage(desc *gpu.BufferDesc) gputypes.BufferUsage {
	// Host-visible readback buffers map for reading, which WebGPU only
	// allows together with CopyDst.
	if desc.HostVisible && desc.Usage == gpu.BufferUsageTransferDst {
		return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	}
	u := gputypes.BufferUsageCopyDst
	if desc.Usage&gpu.BufferUsageUniform != 0 {
		u |= gputypes.BufferUsageUniform
	}
	if desc.Usage&gpu.BufferUsageStorage != 0 {
		u |= gputypes.BufferUsageStorage
	}
	if desc.Usage&gpu.BufferUsageVertex != 0 {
		u |= gputypes.BufferUsageVertex
	}
	if desc.Usage&gpu.BufferUsageIndex != 0 {
		u |= gputypes.BufferUsageIndex
	}
	if desc.Usage&gpu.BufferUsageTransferSrc != 0 {
		u |= gputypes.BufferUsageCopySrc
	}
	return u
}

func textureUsage(desc *gpu.ImageDesc) gputypes.TextureUsage {
	var u gputypes.TextureUsage
	if desc.Usage&gpu.ImageUsageSampled != 0 {
		u |= gputypes.TextureUsageTextureBinding
	}
	if desc.Usage&gpu.ImageUsageStorage != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	if desc.Usage&(gpu.ImageUsageColorAttachment|gpu.ImageUsageDepthStencilAttachment) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	if desc.Usage&gpu.ImageUsageTransferSrc != 0 {
		// Blits sample their source.
		u |= gputypes.TextureUsageCopySrc | gputypes.TextureUsageTextureBinding
	}
	if desc.Usage&gpu.ImageUsageTransferDst != 0 {
		u |= gputypes.TextureUsageCopyDst
		// Blits render into their destination.
		if !desc.Format.IsDepth() {
			u |= gputypes.TextureUsageRenderAttachment
		}
	}
	return u
}

// layoutUsage maps an image layout to the texture usage hal tracks. The
// undefined layout maps to no usage.
func layoutUsage(l gpu.ImageLayout) gputypes.TextureUsage {
	switch l {
	case gpu.LayoutGeneral:
		return gputypes.TextureUsageStorageBinding
	case gpu.LayoutColorAttachment, gpu.LayoutDepthStencilAttachment, gpu.LayoutPresentSrc:
		return gputypes.TextureUsageRenderAttachment
	case gpu.LayoutShaderReadOnly:
		return gputypes.TextureUsageTextureBinding
	case gpu.LayoutTransferSrc:
		return gputypes.TextureUsageCopySrc
	case gpu.LayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	default:
		return gputypes.TextureUsage(0)
	}
}

func viewDimension(t gpu.ViewType) gputypes.TextureViewDimension {
	switch t {
	case gpu.ViewType2DArray:
		return gputypes.TextureViewDimension2DArray
	case gpu.ViewTypeCube:
		return gputypes.TextureViewDimensionCube
	default:
		return gputypes.TextureViewDimension2D
	}
}

func textureAspect(a gpu.ImageAspect) gputypes.TextureAspect {
	switch a {
	case gpu.AspectDepth:
		return gputypes.TextureAspectDepthOnly
	case gpu.AspectStencil:
		return gputypes.TextureAspectStencilOnly
	default:
		return gputypes.TextureAspectAll
	}
}

func filterMode(f gpu.Filter) gputypes.FilterMode {
	if f == gpu.FilterNearest {
		return gputypes.FilterModeNearest
	}
	return gputypes.FilterModeLinear
}

func addressMode(m gpu.AddressMode) gputypes.AddressMode {
	switch m {
	case gpu.AddressModeRepeat:
		return gputypes.AddressModeRepeat
	case gpu.AddressModeMirroredRepeat:
		return gputypes.AddressModeMirrorRepeat
	default:
		return gputypes.AddressModeClampToEdge
	}
}

func shaderStages(s gpu.ShaderStage) gputypes.ShaderStages {
	var out gputypes.ShaderStages
	if s&gpu.ShaderStageVertex != 0 {
		out |= gputypes.ShaderStageVertex
	}
	if s&gpu.ShaderStageFragment != 0 {
		out |= gputypes.ShaderStageFragment
	}
	if s&gpu.ShaderStageCompute != 0 {
		out |= gputypes.ShaderStageCompute
	}
	return out
}

// layoutEntries expands descriptor bindings to bind group layout entries.
// Combined image samplers become a texture entry and a sampler entry.
func layoutEntries(bindings []gpu.LayoutBinding) []gputypes.BindGroupLayoutEntry {
	out := make([]gputypes.BindGroupLayoutEntry, 0, len(bindings))
	for _, b := range bindings {
		e := gputypes.BindGroupLayoutEntry{Binding: b.Binding, Visibility: shaderStages(b.Stages)}
		switch b.Type {
		case gpu.DescriptorUniformBuffer:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		case gpu.DescriptorStorageBuffer:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
		case gpu.DescriptorSampledImage, gpu.DescriptorCombinedImageSampler:
			e.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: viewDimension(b.View),
			}
		case gpu.DescriptorStorageImage:
			e.StorageTexture = &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessReadWrite,
				Format:        storageFormat,
				ViewDimension: viewDimension(b.View),
			}
		}
		out = append(out, e)
		if b.Type == gpu.DescriptorCombinedImageSampler {
			out = append(out, gputypes.BindGroupLayoutEntry{
				Binding:    b.Binding + SamplerBindingOffset,
				Visibility: shaderStages(b.Stages),
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			})
		}
	}
	return out
}

func vertexFormat(f gpu.VertexFormat) gputypes.VertexFormat {
	switch f {
	case gpu.VertexFloat32x2:
		return gputypes.VertexFormatFloat32x2
	case gpu.VertexFloat32x3:
		return gputypes.VertexFormatFloat32x3
	default:
		return gputypes.VertexFormatFloat32x4
	}
}

// vertexBuffers groups attributes under their buffer bindings in binding
// order. Slots follow the binding numbers.
func vertexBuffers(bindings []gpu.VertexBinding, attrs []gpu.VertexAttribute) []gputypes.VertexBufferLayout {
	var n uint32
	for _, b := range bindings {
		n = max(n, b.Binding+1)
	}
	out := make([]gputypes.VertexBufferLayout, n)
	for _, b := range bindings {
		out[b.Binding].ArrayStride = uint64(b.Stride)
		out[b.Binding].StepMode = gputypes.VertexStepModeVertex
	}
	for _, a := range attrs {
		if a.Binding >= n {
			continue
		}
		out[a.Binding].Attributes = append(out[a.Binding].Attributes, gputypes.VertexAttribute{
			Format:         vertexFormat(a.Format),
			Offset:         uint64(a.Offset),
			ShaderLocation: a.Location,
		})
	}
	return out
}

func topology(t gpu.Topology) gputypes.PrimitiveTopology {
	switch t {
	case gpu.TopologyTriangleStrip:
		return gputypes.PrimitiveTopologyTriangleStrip
	case gpu.TopologyLineList:
		return gputypes.PrimitiveTopologyLineList
	case gpu.TopologyPointList:
		return gputypes.PrimitiveTopologyPointList
	default:
		return gputypes.PrimitiveTopologyTriangleList
	}
}

func cullMode(c gpu.CullMode) gputypes.CullMode {
	switch c {
	case gpu.CullFront:
		return gputypes.CullModeFront
	case gpu.CullBack:
		return gputypes.CullModeBack
	default:
		return gputypes.CullModeNone
	}
}

func frontFace(f gpu.FrontFace) gputypes.FrontFace {
	if f == gpu.FrontFaceClockwise {
		return gputypes.FrontFaceCW
	}
	return gputypes.FrontFaceCCW
}

func compareFunction(c gpu.CompareOp) gputypes.CompareFunction {
	switch c {
	case gpu.CompareNever:
		return gputypes.CompareFunctionNever
	case gpu.CompareLess:
		return gputypes.CompareFunctionLess
	case gpu.CompareEqual:
		return gputypes.CompareFunctionEqual
	case gpu.CompareLessOrEqual:
		return gputypes.CompareFunctionLessEqual
	case gpu.CompareGreater:
		return gputypes.CompareFunctionGreater
	default:
		return gputypes.CompareFunctionAlways
	}
}

// loadOp maps a load op. WebGPU has no don't-care load, so it clears.
func loadOp(op gpu.LoadOp) gputypes.LoadOp {
	if op == gpu.LoadOpLoad {
		return gputypes.LoadOpLoad
	}
	return gputypes.LoadOpClear
}

func storeOp(op gpu.StoreOp) gputypes.StoreOp {
	if op == gpu.StoreOpStore {
		return gputypes.StoreOpStore
	}
	return gputypes.StoreOpDiscard
}

func indexFormat(t gpu.IndexType) gputypes.IndexFormat {
	if t == gpu.IndexUint16 {
		return gputypes.IndexFormatUint16
	}
	return gputypes.IndexFormatUint32
}

func extent(w, h, layers uint32) hal.Extent3D {
	return hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: max(layers, 1)}
}

// subresourceRange is the hal range of a barrier. A zero mip or layer
// count covers the rest of the image.
func subresourceRange(b *gpu.ImageBarrier) gputypes.ImageSubresourceRange {
	return gputypes.ImageSubresourceRange{
		Aspect:          textureAspect(b.Aspect),
		BaseMipLevel:    b.BaseMip,
		MipLevelCount:   b.MipCount,
		BaseArrayLayer:  b.BaseLayer,
		ArrayLayerCount: b.LayerCount,
	}
}
