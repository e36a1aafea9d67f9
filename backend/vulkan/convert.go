//go:build !nogpu

package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/gogpu/lumen/internal/gpu"
)

func format(f gpu.Format) vk.Format {
	switch f {
	case gpu.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case gpu.FormatR8G8B8A8Srgb:
		return vk.FormatR8g8b8a8Srgb
	case gpu.FormatB8G8R8A8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case gpu.FormatB8G8R8A8Srgb:
		return vk.FormatB8g8r8a8Srgb
	case gpu.FormatR16G16Sfloat:
		return vk.FormatR16g16Sfloat
	case gpu.FormatR16G16B16A16Sfloat:
		return vk.FormatR16g16b16a16Sfloat
	case gpu.FormatR32G32B32A32Sfloat:
		return vk.FormatR32g32b32a32Sfloat
	case gpu.FormatD16Unorm:
		return vk.FormatD16Unorm
	case gpu.FormatD32Sfloat:
		return vk.FormatD32Sfloat
	case gpu.FormatD16UnormS8Uint:
		return vk.FormatD16UnormS8Uint
	case gpu.FormatD24UnormS8Uint:
		return vk.FormatD24UnormS8Uint
	case gpu.FormatD32SfloatS8Uint:
		return vk.FormatD32SfloatS8Uint
	default:
		return vk.FormatUndefined
	}
}

func imageLayout(l gpu.ImageLayout) vk.ImageLayout {
	switch l {
	case gpu.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case gpu.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.LayoutDepthStencilAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gpu.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case gpu.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case gpu.LayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	default:
		return vk.ImageLayoutUndefined
	}
}

var accessBits = []struct {
	from gpu.Access
	to   vk.AccessFlagBits
}{
	{gpu.AccessShaderRead, vk.AccessShaderReadBit},
	{gpu.AccessShaderWrite, vk.AccessShaderWriteBit},
	{gpu.AccessColorAttachmentRead, vk.AccessColorAttachmentReadBit},
	{gpu.AccessColorAttachmentWrite, vk.AccessColorAttachmentWriteBit},
	{gpu.AccessDepthStencilRead, vk.AccessDepthStencilAttachmentReadBit},
	{gpu.AccessDepthStencilWrite, vk.AccessDepthStencilAttachmentWriteBit},
	{gpu.AccessTransferRead, vk.AccessTransferReadBit},
	{gpu.AccessTransferWrite, vk.AccessTransferWriteBit},
	{gpu.AccessHostWrite, vk.AccessHostWriteBit},
}

func accessFlags(a gpu.Access) vk.AccessFlags {
	var out vk.AccessFlagBits
	for _, b := range accessBits {
		if a&b.from != 0 {
			out |= b.to
		}
	}
	return vk.AccessFlags(out)
}

var stageBits = []struct {
	from gpu.PipelineStage
	to   vk.PipelineStageFlagBits
}{
	{gpu.StageTopOfPipe, vk.PipelineStageTopOfPipeBit},
	{gpu.StageVertexShader, vk.PipelineStageVertexShaderBit},
	{gpu.StageGeometryShader, vk.PipelineStageGeometryShaderBit},
	{gpu.StageFragmentShader, vk.PipelineStageFragmentShaderBit},
	{gpu.StageEarlyFragmentTests, vk.PipelineStageEarlyFragmentTestsBit},
	{gpu.StageLateFragmentTests, vk.PipelineStageLateFragmentTestsBit},
	{gpu.StageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
	{gpu.StageComputeShader, vk.PipelineStageComputeShaderBit},
	{gpu.StageTransfer, vk.PipelineStageTransferBit},
	{gpu.StageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
	{gpu.StageHost, vk.PipelineStageHostBit},
}

// pipelineStages converts a stage mask. An empty mask becomes top of pipe,
// which Vulkan requires to be non-zero.
func pipelineStages(s gpu.PipelineStage) vk.PipelineStageFlags {
	var out vk.PipelineStageFlagBits
	for _, b := range stageBits {
		if s&b.from != 0 {
			out |= b.to
		}
	}
	if out == 0 {
		out = vk.PipelineStageTopOfPipeBit
	}
	return vk.PipelineStageFlags(out)
}

func aspectFlags(a gpu.ImageAspect) vk.ImageAspectFlags {
	var out vk.ImageAspectFlagBits
	if a&gpu.AspectColor != 0 {
		out |= vk.ImageAspectColorBit
	}
	if a&gpu.AspectDepth != 0 {
		out |= vk.ImageAspectDepthBit
	}
	if a&gpu.AspectStencil != 0 {
		out |= vk.ImageAspectStencilBit
	}
	if out == 0 {
		out = vk.ImageAspectColorBit
	}
	return vk.ImageAspectFlags(out)
}

func bufferUsage(u gpu.BufferUsage) vk.BufferUsageFlags {
	var out vk.BufferUsageFlagBits
	if u&gpu.BufferUsageUniform != 0 {
		out |= vk.BufferUsageUniformBufferBit
	}
	if u&gpu.BufferUsageStorage != 0 {
		out |= vk.BufferUsageStorageBufferBit
	}
	if u&gpu.BufferUsageVertex != 0 {
		out |= vk.BufferUsageVertexBufferBit
	}
	if u&gpu.BufferUsageIndex != 0 {
		out |= vk.BufferUsageIndexBufferBit
	}
	if u&gpu.BufferUsageTransferSrc != 0 {
		out |= vk.BufferUsageTransferSrcBit
	}
	if u&gpu.BufferUsageTransferDst != 0 {
		out |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(out)
}

func imageUsage(u gpu.ImageUsage) vk.ImageUsageFlags {
	var out vk.ImageUsageFlagBits
	if u&gpu.ImageUsageSampled != 0 {
		out |= vk.ImageUsageSampledBit
	}
	if u&gpu.ImageUsageStorage != 0 {
		out |= vk.ImageUsageStorageBit
	}
	if u&gpu.ImageUsageColorAttachment != 0 {
		out |= vk.ImageUsageColorAttachmentBit
	}
	if u&gpu.ImageUsageDepthStencilAttachment != 0 {
		out |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if u&gpu.ImageUsageTransferSrc != 0 {
		out |= vk.ImageUsageTransferSrcBit
	}
	if u&gpu.ImageUsageTransferDst != 0 {
		out |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(out)
}

// sampleCount maps 1, 2, 4, 8 and 16 to the matching bit; anything else is
// single sampled.
func sampleCount(n uint32) vk.SampleCountFlagBits {
	switch n {
	case 2:
		return vk.SampleCount2Bit
	case 4:
		return vk.SampleCount4Bit
	case 8:
		return vk.SampleCount8Bit
	case 16:
		return vk.SampleCount16Bit
	default:
		return vk.SampleCount1Bit
	}
}

// maxSamples returns the largest count in a sample count mask.
func maxSamples(mask vk.SampleCountFlags) uint32 {
	for _, n := range []uint32{16, 8, 4, 2} {
		if mask&vk.SampleCountFlags(sampleCount(n)) != 0 {
			return n
		}
	}
	return 1
}

func viewType(t gpu.ViewType) vk.ImageViewType {
	switch t {
	case gpu.ViewType2DArray:
		return vk.ImageViewType2dArray
	case gpu.ViewTypeCube:
		return vk.ImageViewTypeCube
	default:
		return vk.ImageViewType2d
	}
}

func filter(f gpu.Filter) vk.Filter {
	if f == gpu.FilterNearest {
		return vk.FilterNearest
	}
	return vk.FilterLinear
}

func mipmapMode(f gpu.Filter) vk.SamplerMipmapMode {
	if f == gpu.FilterNearest {
		return vk.SamplerMipmapModeNearest
	}
	return vk.SamplerMipmapModeLinear
}

func addressMode(m gpu.AddressMode) vk.SamplerAddressMode {
	switch m {
	case gpu.AddressModeRepeat:
		return vk.SamplerAddressModeRepeat
	case gpu.AddressModeMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	default:
		return vk.SamplerAddressModeClampToEdge
	}
}

func shaderStages(s gpu.ShaderStage) vk.ShaderStageFlags {
	var out vk.ShaderStageFlagBits
	if s&gpu.ShaderStageVertex != 0 {
		out |= vk.ShaderStageVertexBit
	}
	if s&gpu.ShaderStageGeometry != 0 {
		out |= vk.ShaderStageGeometryBit
	}
	if s&gpu.ShaderStageFragment != 0 {
		out |= vk.ShaderStageFragmentBit
	}
	if s&gpu.ShaderStageCompute != 0 {
		out |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(out)
}

func descriptorType(t gpu.DescriptorType) vk.DescriptorType {
	switch t {
	case gpu.DescriptorStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case gpu.DescriptorCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler
	case gpu.DescriptorSampledImage:
		return vk.DescriptorTypeSampledImage
	case gpu.DescriptorStorageImage:
		return vk.DescriptorTypeStorageImage
	default:
		return vk.DescriptorTypeUniformBuffer
	}
}

func vertexFormat(f gpu.VertexFormat) vk.Format {
	switch f {
	case gpu.VertexFloat32x2:
		return vk.FormatR32g32Sfloat
	case gpu.VertexFloat32x3:
		return vk.FormatR32g32b32Sfloat
	default:
		return vk.FormatR32g32b32a32Sfloat
	}
}

func topology(t gpu.Topology) vk.PrimitiveTopology {
	switch t {
	case gpu.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case gpu.TopologyLineList:
		return vk.PrimitiveTopologyLineList
	case gpu.TopologyPointList:
		return vk.PrimitiveTopologyPointList
	default:
		return vk.PrimitiveTopologyTriangleList
	}
}

func cullMode(c gpu.CullMode) vk.CullModeFlags {
	switch c {
	case gpu.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case gpu.CullBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	default:
		return vk.CullModeFlags(vk.CullModeNone)
	}
}

func frontFace(f gpu.FrontFace) vk.FrontFace {
	if f == gpu.FrontFaceClockwise {
		return vk.FrontFaceClockwise
	}
	return vk.FrontFaceCounterClockwise
}

func compareOp(c gpu.CompareOp) vk.CompareOp {
	switch c {
	case gpu.CompareNever:
		return vk.CompareOpNever
	case gpu.CompareLess:
		return vk.CompareOpLess
	case gpu.CompareEqual:
		return vk.CompareOpEqual
	case gpu.CompareLessOrEqual:
		return vk.CompareOpLessOrEqual
	case gpu.CompareGreater:
		return vk.CompareOpGreater
	default:
		return vk.CompareOpAlways
	}
}

func loadOp(op gpu.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case gpu.LoadOpLoad:
		return vk.AttachmentLoadOpLoad
	case gpu.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	default:
		return vk.AttachmentLoadOpClear
	}
}

func storeOp(op gpu.StoreOp) vk.AttachmentStoreOp {
	if op == gpu.StoreOpDontCare {
		return vk.AttachmentStoreOpDontCare
	}
	return vk.AttachmentStoreOpStore
}

func indexType(t gpu.IndexType) vk.IndexType {
	if t == gpu.IndexUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func bindPoint(p gpu.BindPoint) vk.PipelineBindPoint {
	if p == gpu.BindPointCompute {
		return vk.PipelineBindPointCompute
	}
	return vk.PipelineBindPointGraphics
}

func subpassContents(c gpu.SubpassContents) vk.SubpassContents {
	if c == gpu.ContentsSecondary {
		return vk.SubpassContentsSecondaryCommandBuffers
	}
	return vk.SubpassContentsInline
}

func subresourceLayers(s gpu.ImageSubresource) vk.ImageSubresourceLayers {
	return vk.ImageSubresourceLayers{
		AspectMask:     aspectFlags(s.Aspect),
		MipLevel:       s.MipLevel,
		BaseArrayLayer: s.BaseLayer,
		LayerCount:     max(s.LayerCount, 1),
	}
}

func subresourceRange(b *gpu.ImageBarrier) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     aspectFlags(b.Aspect),
		BaseMipLevel:   b.BaseMip,
		LevelCount:     max(b.MipCount, 1),
		BaseArrayLayer: b.BaseLayer,
		LayerCount:     max(b.LayerCount, 1),
	}
}

// cstr returns s null terminated, the form goki/vulkan expects for names.
func cstr(s string) string {
	if s == "" {
		s = "main"
	}
	if s[len(s)-1] != 0 {
		s += "\x00"
	}
	return s
}
