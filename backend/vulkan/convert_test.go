//go:build !nogpu

package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"

	"github.com/gogpu/lumen/internal/gpu"
)

// =============================================================================
// Conversion tests
// =============================================================================

func TestFormatCoversEveryCoreFormat(t *testing.T) {
	for f := gpu.FormatR8G8B8A8Unorm; f <= gpu.FormatD32SfloatS8Uint; f++ {
		if format(f) == vk.FormatUndefined {
			t.Errorf("format(%s) = Undefined", f)
		}
	}
	if got := format(gpu.FormatUndefined); got != vk.FormatUndefined {
		t.Errorf("format(Undefined) = %v, want Undefined", got)
	}
}

func TestImageLayout(t *testing.T) {
	tests := []struct {
		in   gpu.ImageLayout
		want vk.ImageLayout
	}{
		{gpu.LayoutUndefined, vk.ImageLayoutUndefined},
		{gpu.LayoutGeneral, vk.ImageLayoutGeneral},
		{gpu.LayoutColorAttachment, vk.ImageLayoutColorAttachmentOptimal},
		{gpu.LayoutDepthStencilAttachment, vk.ImageLayoutDepthStencilAttachmentOptimal},
		{gpu.LayoutShaderReadOnly, vk.ImageLayoutShaderReadOnlyOptimal},
		{gpu.LayoutTransferSrc, vk.ImageLayoutTransferSrcOptimal},
		{gpu.LayoutTransferDst, vk.ImageLayoutTransferDstOptimal},
		{gpu.LayoutPresentSrc, vk.ImageLayoutPresentSrc},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			if got := imageLayout(tt.in); got != tt.want {
				t.Errorf("imageLayout(%s) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAccessFlags(t *testing.T) {
	tests := []struct {
		name string
		in   gpu.Access
		want vk.AccessFlagBits
	}{
		{"none", gpu.AccessNone, 0},
		{"shader read", gpu.AccessShaderRead, vk.AccessShaderReadBit},
		{"color write", gpu.AccessColorAttachmentWrite, vk.AccessColorAttachmentWriteBit},
		{"depth read write", gpu.AccessDepthStencilRead | gpu.AccessDepthStencilWrite,
			vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit},
		{"transfer", gpu.AccessTransferRead | gpu.AccessTransferWrite,
			vk.AccessTransferReadBit | vk.AccessTransferWriteBit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := accessFlags(tt.in); got != vk.AccessFlags(tt.want) {
				t.Errorf("accessFlags(%s) = %#x, want %#x", tt.in, got, tt.want)
			}
		})
	}
}

func TestPipelineStagesEmptyIsTopOfPipe(t *testing.T) {
	if got := pipelineStages(0); got != vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit) {
		t.Errorf("pipelineStages(0) = %#x, want top of pipe", got)
	}
	want := vk.PipelineStageFlags(vk.PipelineStageTransferBit | vk.PipelineStageFragmentShaderBit)
	if got := pipelineStages(gpu.StageTransfer | gpu.StageFragmentShader); got != want {
		t.Errorf("pipelineStages(Transfer|Fragment) = %#x, want %#x", got, want)
	}
}

func TestAspectFlagsDefaultsToColor(t *testing.T) {
	if got := aspectFlags(0); got != vk.ImageAspectFlags(vk.ImageAspectColorBit) {
		t.Errorf("aspectFlags(0) = %#x, want color", got)
	}
	want := vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	if got := aspectFlags(gpu.FormatD24UnormS8Uint.Aspect()); got != want {
		t.Errorf("aspectFlags(D24S8) = %#x, want %#x", got, want)
	}
}

func TestSampleCount(t *testing.T) {
	tests := []struct {
		in   uint32
		want vk.SampleCountFlagBits
	}{
		{0, vk.SampleCount1Bit},
		{1, vk.SampleCount1Bit},
		{3, vk.SampleCount1Bit},
		{4, vk.SampleCount4Bit},
		{8, vk.SampleCount8Bit},
	}
	for _, tt := range tests {
		if got := sampleCount(tt.in); got != tt.want {
			t.Errorf("sampleCount(%d) = %v, want %v", tt.in, got, tt.want)
		}
	}
	mask := vk.SampleCountFlags(vk.SampleCount1Bit | vk.SampleCount2Bit | vk.SampleCount4Bit)
	if got := maxSamples(mask); got != 4 {
		t.Errorf("maxSamples(1|2|4) = %d, want 4", got)
	}
}

func TestBufferAndImageUsage(t *testing.T) {
	bu := bufferUsage(gpu.BufferUsageVertex | gpu.BufferUsageTransferDst)
	if want := vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit | vk.BufferUsageTransferDstBit); bu != want {
		t.Errorf("bufferUsage = %#x, want %#x", bu, want)
	}
	iu := imageUsage(gpu.ImageUsageSampled | gpu.ImageUsageColorAttachment)
	if want := vk.ImageUsageFlags(vk.ImageUsageSampledBit | vk.ImageUsageColorAttachmentBit); iu != want {
		t.Errorf("imageUsage = %#x, want %#x", iu, want)
	}
}

func TestCstr(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "main\x00"},
		{"main", "main\x00"},
		{"fs_main\x00", "fs_main\x00"},
	}
	for _, tt := range tests {
		if got := cstr(tt.in); got != tt.want {
			t.Errorf("cstr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSubresourceRangeClampsCounts(t *testing.T) {
	r := subresourceRange(&gpu.ImageBarrier{Aspect: gpu.AspectColor, BaseMip: 3, BaseLayer: 2})
	if r.LevelCount != 1 || r.LayerCount != 1 || r.BaseMipLevel != 3 || r.BaseArrayLayer != 2 {
		t.Errorf("subresourceRange = %+v, want mip 3 layer 2 with counts 1", r)
	}
}
