//go:build !nogpu

package wgpu

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/lumen/internal/gpu"
)

// openNoop opens a Device on the noop hal API.
func openNoop(t *testing.T) *Device {
	t.Helper()
	d, err := Open(noop.API{})
	if err != nil {
		t.Fatalf("Open(noop) failed: %v", err)
	}
	t.Cleanup(d.Destroy)
	return d
}

// =============================================================================
// Conversion tests
// =============================================================================

func TestLayoutEntriesSplitCombinedSamplers(t *testing.T) {
	entries := layoutEntries([]gpu.LayoutBinding{
		{Binding: 0, Type: gpu.DescriptorUniformBuffer, Stages: gpu.ShaderStageVertex, Count: 1},
		{Binding: 1, Type: gpu.DescriptorCombinedImageSampler, Stages: gpu.ShaderStageFragment, Count: 1, View: gpu.ViewTypeCube},
		{Binding: 2, Type: gpu.DescriptorStorageImage, Stages: gpu.ShaderStageCompute, Count: 1},
	})
	if len(entries) != 4 {
		t.Fatalf("len(entries) = %d, want 4", len(entries))
	}

	byBinding := make(map[uint32]gputypes.BindGroupLayoutEntry)
	for _, e := range entries {
		byBinding[e.Binding] = e
	}
	if e := byBinding[0]; e.Buffer == nil || e.Buffer.Type != gputypes.BufferBindingTypeUniform {
		t.Errorf("binding 0 = %+v, want uniform buffer", e)
	}
	if e := byBinding[1]; e.Texture == nil || e.Texture.ViewDimension != gputypes.TextureViewDimensionCube {
		t.Errorf("binding 1 = %+v, want cube texture", e)
	}
	if e, ok := byBinding[1+SamplerBindingOffset]; !ok || e.Sampler == nil {
		t.Errorf("binding %d = %+v, want sampler", 1+SamplerBindingOffset, e)
	}
	if e := byBinding[2]; e.Storage == nil || e.Storage.Format != storageFormat {
		t.Errorf("binding 2 = %+v, want rgba32float storage texture", e)
	}
}

func TestLayoutUsage(t *testing.T) {
	tests := []struct {
		layout gpu.ImageLayout
		want   gputypes.TextureUsage
	}{
		{gpu.LayoutUndefined, 0},
		{gpu.LayoutGeneral, gputypes.TextureUsageStorageBinding},
		{gpu.LayoutColorAttachment, gputypes.TextureUsageRenderAttachment},
		{gpu.LayoutDepthStencilAttachment, gputypes.TextureUsageRenderAttachment},
		{gpu.LayoutPresentSrc, gputypes.TextureUsageRenderAttachment},
		{gpu.LayoutShaderReadOnly, gputypes.TextureUsageTextureBinding},
		{gpu.LayoutTransferSrc, gputypes.TextureUsageCopySrc},
		{gpu.LayoutTransferDst, gputypes.TextureUsageCopyDst},
	}
	for _, tt := range tests {
		if got := layoutUsage(tt.layout); got != tt.want {
			t.Errorf("layoutUsage(%v) = %v, want %v", tt.layout, got, tt.want)
		}
	}
}

func TestBufferUsageReadback(t *testing.T) {
	readback := bufferUsage(&gpu.BufferDesc{HostVisible: true, Usage: gpu.BufferUsageTransferDst})
	if readback != gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst {
		t.Errorf("readback usage = %v, want MapRead|CopyDst", readback)
	}
	uniform := bufferUsage(&gpu.BufferDesc{HostVisible: true, Usage: gpu.BufferUsageUniform})
	if uniform&gputypes.BufferUsageMapRead != 0 {
		t.Error("uniform buffer must not be map-read")
	}
	if uniform&gputypes.BufferUsageCopyDst == 0 {
		t.Error("uniform buffer needs CopyDst for host writes")
	}
}

func TestTextureUsageBlitTargets(t *testing.T) {
	color := textureUsage(&gpu.ImageDesc{Format: gpu.FormatR32G32B32A32Sfloat, Usage: gpu.ImageUsageTransferDst})
	if color&gputypes.TextureUsageRenderAttachment == 0 {
		t.Error("color transfer destination must be renderable for blits")
	}
	depth := textureUsage(&gpu.ImageDesc{Format: gpu.FormatD32Sfloat, Usage: gpu.ImageUsageTransferDst})
	if depth&gputypes.TextureUsageRenderAttachment != 0 {
		t.Error("depth transfer destination must not gain render attachment usage")
	}
}

func TestVertexBuffersGroupAttributes(t *testing.T) {
	layouts := vertexBuffers(
		[]gpu.VertexBinding{{Binding: 0, Stride: 32}},
		[]gpu.VertexAttribute{
			{Location: 0, Binding: 0, Format: gpu.VertexFloat32x3, Offset: 0},
			{Location: 1, Binding: 0, Format: gpu.VertexFloat32x3, Offset: 12},
			{Location: 2, Binding: 0, Format: gpu.VertexFloat32x2, Offset: 24},
		},
	)
	if len(layouts) != 1 {
		t.Fatalf("len(layouts) = %d, want 1", len(layouts))
	}
	if layouts[0].ArrayStride != 32 || len(layouts[0].Attributes) != 3 {
		t.Errorf("layout = %+v, want stride 32 with 3 attributes", layouts[0])
	}
}

// =============================================================================
// Device tests
// =============================================================================

func TestDeviceCapabilities(t *testing.T) {
	d := openNoop(t)
	caps := d.Capabilities()
	if !caps.Graphics {
		t.Error("Graphics = false, want true")
	}
	if caps.PushConstants {
		t.Error("PushConstants = true, want false")
	}
	if caps.SamplerBindingOffset != SamplerBindingOffset {
		t.Errorf("SamplerBindingOffset = %d, want %d", caps.SamplerBindingOffset, SamplerBindingOffset)
	}
}

func TestDeviceBufferShadow(t *testing.T) {
	d := openNoop(t)
	buf, mem, err := d.CreateBuffer(&gpu.BufferDesc{Label: "uniform", Size: 16, Usage: gpu.BufferUsageUniform, HostVisible: true})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	defer d.DestroyBuffer(buf, mem)

	b, err := d.MapMemory(mem, 4, 8)
	if err != nil {
		t.Fatalf("MapMemory failed: %v", err)
	}
	copy(b, []byte{1, 2, 3, 4})
	d.UnmapMemory(mem)

	again, err := d.MapMemory(mem, 0, 16)
	if err != nil {
		t.Fatalf("MapMemory failed: %v", err)
	}
	if again[4] != 1 || again[7] != 4 {
		t.Errorf("shadow = %v, want bytes 4..7 kept", again)
	}
	d.UnmapMemory(mem)

	if _, err := d.MapMemory(mem, 8, 16); !errors.Is(err, gpu.ErrInvalidHandle) {
		t.Errorf("out of range MapMemory error = %v, want ErrInvalidHandle", err)
	}
}

func TestDevicePoolExhausted(t *testing.T) {
	d := openNoop(t)
	layout, err := d.CreateSetLayout([]gpu.LayoutBinding{{Binding: 0, Type: gpu.DescriptorUniformBuffer, Stages: gpu.ShaderStageFragment, Count: 1}})
	if err != nil {
		t.Fatalf("CreateSetLayout failed: %v", err)
	}
	defer d.DestroySetLayout(layout)
	pool, err := d.CreateDescriptorPool(2, nil)
	if err != nil {
		t.Fatalf("CreateDescriptorPool failed: %v", err)
	}
	defer d.DestroyDescriptorPool(pool)

	if _, err := d.AllocateDescriptorSets(pool, []gpu.SetLayoutHandle{layout, layout}); err != nil {
		t.Fatalf("AllocateDescriptorSets failed: %v", err)
	}
	if _, err := d.AllocateDescriptorSets(pool, []gpu.SetLayoutHandle{layout}); !errors.Is(err, gpu.ErrPoolExhausted) {
		t.Errorf("third allocation error = %v, want ErrPoolExhausted", err)
	}
	if err := d.ResetDescriptorPool(pool); err != nil {
		t.Fatalf("ResetDescriptorPool failed: %v", err)
	}
	if _, err := d.AllocateDescriptorSets(pool, []gpu.SetLayoutHandle{layout}); err != nil {
		t.Errorf("allocation after reset failed: %v", err)
	}
}

func TestDeviceFreeDescriptorSets(t *testing.T) {
	d := openNoop(t)
	layout, err := d.CreateSetLayout([]gpu.LayoutBinding{{Binding: 0, Type: gpu.DescriptorUniformBuffer, Stages: gpu.ShaderStageFragment, Count: 1}})
	if err != nil {
		t.Fatalf("CreateSetLayout failed: %v", err)
	}
	defer d.DestroySetLayout(layout)
	pool, err := d.CreateDescriptorPool(2, nil)
	if err != nil {
		t.Fatalf("CreateDescriptorPool failed: %v", err)
	}
	defer d.DestroyDescriptorPool(pool)

	sets, err := d.AllocateDescriptorSets(pool, []gpu.SetLayoutHandle{layout, layout})
	if err != nil {
		t.Fatalf("AllocateDescriptorSets failed: %v", err)
	}
	if err := d.FreeDescriptorSets(pool, sets[:1]); err != nil {
		t.Fatalf("FreeDescriptorSets failed: %v", err)
	}
	if _, err := d.AllocateDescriptorSets(pool, []gpu.SetLayoutHandle{layout}); err != nil {
		t.Errorf("allocation after free failed: %v", err)
	}
	if err := d.FreeDescriptorSets(pool, sets[:1]); !errors.Is(err, gpu.ErrInvalidHandle) {
		t.Errorf("double free error = %v, want ErrInvalidHandle", err)
	}
}

func TestDevicePushConstantsUnsupported(t *testing.T) {
	d := openNoop(t)
	_, err := d.CreatePipelineLayout(nil, []gpu.PushConstantRange{{Stages: gpu.ShaderStageCompute, Size: 8}})
	if !errors.Is(err, gpu.ErrUnsupported) {
		t.Errorf("CreatePipelineLayout error = %v, want ErrUnsupported", err)
	}

	cmd, err := d.AllocateCommandBuffer(gpu.LevelPrimary)
	if err != nil {
		t.Fatalf("AllocateCommandBuffer failed: %v", err)
	}
	defer d.FreeCommandBuffer(cmd)
	if err := d.BeginCommandBuffer(cmd, &gpu.BeginInfo{}); err != nil {
		t.Fatalf("BeginCommandBuffer failed: %v", err)
	}
	d.CmdPushConstants(cmd, 0, gpu.ShaderStageCompute, 0, []byte{0, 0, 0, 0})
	if err := d.EndCommandBuffer(cmd); !errors.Is(err, gpu.ErrUnsupported) {
		t.Errorf("EndCommandBuffer error = %v, want ErrUnsupported", err)
	}
}

func TestDeviceSubmitSignalsFence(t *testing.T) {
	d := openNoop(t)
	img, mem, err := d.CreateImage(&gpu.ImageDesc{
		Label: "target", Width: 4, Height: 4, MipLevels: 1, ArrayLayers: 1,
		Format: gpu.FormatR8G8B8A8Unorm, Usage: gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferSrc, Samples: 1,
	})
	if err != nil {
		t.Fatalf("CreateImage failed: %v", err)
	}
	defer d.DestroyImage(img, mem)
	view, err := d.CreateImageView(&gpu.ImageViewDesc{Image: img, Format: gpu.FormatR8G8B8A8Unorm, Aspect: gpu.AspectColor, MipCount: 1, LayerCount: 1})
	if err != nil {
		t.Fatalf("CreateImageView failed: %v", err)
	}
	defer d.DestroyImageView(view)
	rp, err := d.CreateRenderPass(&gpu.RenderPassDesc{
		Label: "clear",
		Attachments: []gpu.AttachmentDesc{{
			Format: gpu.FormatR8G8B8A8Unorm, Samples: 1,
			LoadOp: gpu.LoadOpClear, StoreOp: gpu.StoreOpStore,
			FinalLayout: gpu.LayoutTransferSrc,
		}},
		Subpasses: []gpu.SubpassDesc{{Color: []gpu.AttachmentReference{{Attachment: 0, Layout: gpu.LayoutColorAttachment}}}},
	})
	if err != nil {
		t.Fatalf("CreateRenderPass failed: %v", err)
	}
	defer d.DestroyRenderPass(rp)
	fb, err := d.CreateFramebuffer(&gpu.FramebufferDesc{RenderPass: rp, Attachments: []gpu.ImageViewHandle{view}, Width: 4, Height: 4, Layers: 1})
	if err != nil {
		t.Fatalf("CreateFramebuffer failed: %v", err)
	}
	defer d.DestroyFramebuffer(fb)

	cmd, _ := d.AllocateCommandBuffer(gpu.LevelPrimary)
	defer d.FreeCommandBuffer(cmd)
	if err := d.BeginCommandBuffer(cmd, &gpu.BeginInfo{OneTimeSubmit: true}); err != nil {
		t.Fatalf("BeginCommandBuffer failed: %v", err)
	}
	d.CmdBeginRenderPass(cmd, &gpu.RenderPassBegin{RenderPass: rp, Framebuffer: fb, Width: 4, Height: 4,
		ClearValues: []gpu.ClearValue{{Color: [4]float32{1, 0, 0, 1}}}})
	d.CmdEndRenderPass(cmd)
	if err := d.EndCommandBuffer(cmd); err != nil {
		t.Fatalf("EndCommandBuffer failed: %v", err)
	}

	fence, _ := d.CreateFence(false)
	defer d.DestroyFence(fence)
	if ok, _ := d.WaitFence(fence, time.Millisecond); ok {
		t.Fatal("unsubmitted fence reported signaled")
	}
	if err := d.Submit([]gpu.CommandBufferHandle{cmd}, fence); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	ok, err := d.WaitFence(fence, time.Second)
	if err != nil || !ok {
		t.Fatalf("WaitFence = %v, %v, want true, nil", ok, err)
	}
	if err := d.ResetFence(fence); err != nil {
		t.Fatalf("ResetFence failed: %v", err)
	}
	if err := d.WaitIdle(); err != nil {
		t.Errorf("WaitIdle failed: %v", err)
	}
	if len(d.pending) != 0 {
		t.Errorf("pending submissions = %d after WaitIdle, want 0", len(d.pending))
	}
}

// plainProvider implements gpucontext.DeviceProvider without hal access.
type plainProvider struct{}

func (plainProvider) Device() gpucontext.Device             { return nil }
func (plainProvider) Queue() gpucontext.Queue               { return nil }
func (plainProvider) Adapter() gpucontext.Adapter           { return nil }
func (plainProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }

// halProvider exposes hal values of the wrong type.
type halProvider struct{ plainProvider }

func (halProvider) HalDevice() any { return 42 }
func (halProvider) HalQueue() any  { return nil }

func TestFromProviderRejects(t *testing.T) {
	tests := []struct {
		name     string
		provider gpucontext.DeviceProvider
	}{
		{"nil", nil},
		{"no hal methods", plainProvider{}},
		{"wrong hal types", halProvider{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromProvider(tt.provider); !errors.Is(err, ErrNotHALProvider) {
				t.Errorf("FromProvider error = %v, want ErrNotHALProvider", err)
			}
		})
	}
}
