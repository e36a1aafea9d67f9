package gpu_test

import (
	"errors"
	"testing"

	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/gpu/gputest"
)

// =============================================================================
// RenderPassBuilder
// =============================================================================

func colorAttachment() gpu.AttachmentDesc {
	return gpu.AttachmentDesc{
		Format:      gpu.FormatR8G8B8A8Unorm,
		LoadOp:      gpu.LoadOpClear,
		StoreOp:     gpu.StoreOpStore,
		FinalLayout: gpu.LayoutShaderReadOnly,
	}
}

func TestRenderPassBuilder_Build(t *testing.T) {
	b := gpu.NewRenderPassBuilder("test")
	a := b.AddAttachment(colorAttachment())
	b.PreallocateReferences(1)
	ref, err := b.NextReference(a, gpu.LayoutColorAttachment)
	if err != nil {
		t.Fatal(err)
	}
	b.AddSubpass(gpu.SubpassRefs{Color: []gpu.AttachmentRef{ref}, Depth: gpu.NoDepth})

	desc, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	if len(desc.Subpasses) != 1 || len(desc.Subpasses[0].Color) != 1 {
		t.Fatalf("subpasses = %+v", desc.Subpasses)
	}
	if desc.Subpasses[0].DepthStencil != nil {
		t.Error("subpass without depth got a depth reference")
	}
	if desc.Attachments[0].Samples != 1 {
		t.Errorf("Samples = %d, want default 1", desc.Attachments[0].Samples)
	}
}

func TestRenderPassBuilder_Errors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *gpu.RenderPassBuilder) error
		want  error
	}{
		{
			name: "more attachments than references",
			build: func(b *gpu.RenderPassBuilder) error {
				a := b.AddAttachment(colorAttachment())
				b.AddAttachment(colorAttachment())
				b.PreallocateReferences(1)
				ref, _ := b.NextReference(a, gpu.LayoutColorAttachment)
				b.AddSubpass(gpu.SubpassRefs{Color: []gpu.AttachmentRef{ref}, Depth: gpu.NoDepth})
				_, err := b.Build()
				return err
			},
			want: gpu.ErrReferenceArity,
		},
		{
			name: "no subpass",
			build: func(b *gpu.RenderPassBuilder) error {
				a := b.AddAttachment(colorAttachment())
				b.PreallocateReferences(1)
				_, _ = b.NextReference(a, gpu.LayoutColorAttachment)
				_, err := b.Build()
				return err
			},
			want: gpu.ErrNoSubpass,
		},
		{
			name: "reference capacity",
			build: func(b *gpu.RenderPassBuilder) error {
				a := b.AddAttachment(colorAttachment())
				b.PreallocateReferences(1)
				_, _ = b.NextReference(a, gpu.LayoutColorAttachment)
				_, err := b.NextReference(a, gpu.LayoutColorAttachment)
				return err
			},
			want: gpu.ErrReferenceCapacity,
		},
		{
			name: "capacity error reaches Build",
			build: func(b *gpu.RenderPassBuilder) error {
				a := b.AddAttachment(colorAttachment())
				b.PreallocateReferences(1)
				ref, _ := b.NextReference(a, gpu.LayoutColorAttachment)
				_, _ = b.NextReference(a, gpu.LayoutColorAttachment)
				b.AddSubpass(gpu.SubpassRefs{Color: []gpu.AttachmentRef{ref}, Depth: gpu.NoDepth})
				_, err := b.Build()
				return err
			},
			want: gpu.ErrReferenceCapacity,
		},
		{
			name: "reference to missing attachment",
			build: func(b *gpu.RenderPassBuilder) error {
				b.AddAttachment(colorAttachment())
				b.PreallocateReferences(1)
				ref, _ := b.NextReference(7, gpu.LayoutColorAttachment)
				b.AddSubpass(gpu.SubpassRefs{Color: []gpu.AttachmentRef{ref}, Depth: gpu.NoDepth})
				_, err := b.Build()
				return err
			},
			want: gpu.ErrInvalidReference,
		},
		{
			name: "subpass slot out of range",
			build: func(b *gpu.RenderPassBuilder) error {
				a := b.AddAttachment(colorAttachment())
				b.PreallocateReferences(1)
				_, _ = b.NextReference(a, gpu.LayoutColorAttachment)
				b.AddSubpass(gpu.SubpassRefs{Color: []gpu.AttachmentRef{3}, Depth: gpu.NoDepth})
				_, err := b.Build()
				return err
			},
			want: gpu.ErrInvalidReference,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.build(gpu.NewRenderPassBuilder(tt.name)); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

// =============================================================================
// Render pass kinds
// =============================================================================

func TestBuildRenderPass_Kinds(t *testing.T) {
	tests := []struct {
		name         string
		kind         gpu.RenderPassKind
		params       gpu.RenderPassParams
		attachments  int
		finalLayouts []gpu.ImageLayout
		formats      []gpu.Format
		depth        bool
		resolve      bool
	}{
		{
			name:         "hdr",
			kind:         gpu.RenderPassHDR,
			attachments:  2,
			finalLayouts: []gpu.ImageLayout{gpu.LayoutShaderReadOnly, gpu.LayoutDepthStencilAttachment},
			formats:      []gpu.Format{gpu.FormatR32G32B32A32Sfloat, gpu.FormatD32Sfloat},
			depth:        true,
		},
		{
			name:         "ldr msaa",
			kind:         gpu.RenderPassLDR,
			params:       gpu.RenderPassParams{ColorFormat: gpu.FormatB8G8R8A8Srgb, Samples: 4},
			attachments:  2,
			finalLayouts: []gpu.ImageLayout{gpu.LayoutColorAttachment, gpu.LayoutPresentSrc},
			formats:      []gpu.Format{gpu.FormatB8G8R8A8Srgb, gpu.FormatB8G8R8A8Srgb},
			resolve:      true,
		},
		{
			name:         "ldr single sample offscreen",
			kind:         gpu.RenderPassLDR,
			params:       gpu.RenderPassParams{ColorFormat: gpu.FormatR8G8B8A8Unorm, Samples: 1, Offscreen: true},
			attachments:  1,
			finalLayouts: []gpu.ImageLayout{gpu.LayoutTransferSrc},
			formats:      []gpu.Format{gpu.FormatR8G8B8A8Unorm},
		},
		{
			name:         "cubemap",
			kind:         gpu.RenderPassCubemap,
			attachments:  1,
			finalLayouts: []gpu.ImageLayout{gpu.LayoutShaderReadOnly},
			formats:      []gpu.Format{gpu.FormatR32G32B32A32Sfloat},
		},
		{
			name:         "brdf",
			kind:         gpu.RenderPassBRDF,
			attachments:  1,
			finalLayouts: []gpu.ImageLayout{gpu.LayoutShaderReadOnly},
			formats:      []gpu.Format{gpu.FormatR16G16Sfloat},
		},
		{
			name:         "prefilter",
			kind:         gpu.RenderPassPrefilter,
			attachments:  1,
			finalLayouts: []gpu.ImageLayout{gpu.LayoutShaderReadOnly},
			formats:      []gpu.Format{gpu.FormatR32G32B32A32Sfloat},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := gpu.BuildRenderPass(tt.kind, tt.params)
			if err != nil {
				t.Fatal(err)
			}
			if len(desc.Attachments) != tt.attachments {
				t.Fatalf("attachments = %d, want %d", len(desc.Attachments), tt.attachments)
			}
			for i, a := range desc.Attachments {
				if a.FinalLayout != tt.finalLayouts[i] {
					t.Errorf("attachment %d final layout = %v, want %v", i, a.FinalLayout, tt.finalLayouts[i])
				}
				if a.Format != tt.formats[i] {
					t.Errorf("attachment %d format = %v, want %v", i, a.Format, tt.formats[i])
				}
			}
			sp := desc.Subpasses[0]
			if (sp.DepthStencil != nil) != tt.depth {
				t.Errorf("depth attachment = %v, want %v", sp.DepthStencil != nil, tt.depth)
			}
			if (len(sp.Resolve) > 0) != tt.resolve {
				t.Errorf("resolve attachments = %d, want resolve %v", len(sp.Resolve), tt.resolve)
			}
			if len(desc.Dependencies) != 1 || desc.Dependencies[0].SrcSubpass != gpu.SubpassExternal {
				t.Errorf("dependencies = %+v, want one external dependency", desc.Dependencies)
			}
		})
	}
}

func TestBuildRenderPass_LDRNeedsFormat(t *testing.T) {
	if _, err := gpu.BuildRenderPass(gpu.RenderPassLDR, gpu.RenderPassParams{Samples: 4}); !errors.Is(err, gpu.ErrMissingFormat) {
		t.Errorf("error = %v, want ErrMissingFormat", err)
	}
}

func TestBuildRenderPass_UnknownKind(t *testing.T) {
	if _, err := gpu.BuildRenderPass(gpu.RenderPassKind(99), gpu.RenderPassParams{}); !errors.Is(err, gpu.ErrUnknownRenderPassKind) {
		t.Errorf("error = %v, want ErrUnknownRenderPassKind", err)
	}
}

func TestRenderPass_CreateIdempotent(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	rp := gpu.NewRenderPass(gctx)
	if _, err := rp.Handle(); !errors.Is(err, gpu.ErrResourceNotCreated) {
		t.Errorf("Handle() before Create error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := rp.Create(gpu.RenderPassHDR, gpu.RenderPassParams{}); err != nil {
			t.Fatal(err)
		}
	}
	if dev.Live().RenderPasses != 1 {
		t.Errorf("render passes = %d, want 1", dev.Live().RenderPasses)
	}
	if rp.AttachmentCount() != 2 {
		t.Errorf("AttachmentCount() = %d, want 2", rp.AttachmentCount())
	}
	rp.Destroy()
	if dev.Live().RenderPasses != 0 {
		t.Error("render pass not destroyed")
	}
}

// =============================================================================
// Framebuffer
// =============================================================================

func TestFramebuffer_CreateErrors(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	rp := gpu.NewRenderPass(gctx)
	if err := rp.Create(gpu.RenderPassCubemap, gpu.RenderPassParams{}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rp.Destroy)
	tex := newTexture(t, gctx, gpu.TextureDesc{
		Width: 16, Height: 16, MipLevels: 1, Format: gpu.FormatR32G32B32A32Sfloat,
		Usage: gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled,
	})

	tests := []struct {
		name string
		cfg  gpu.FramebufferConfig
		want error
	}{
		{"nil render pass", gpu.FramebufferConfig{Attachments: []*gpu.Texture{tex}, ViewIndices: []uint32{0}, Width: 16, Height: 16}, gpu.ErrNilRenderPass},
		{"no attachments", gpu.FramebufferConfig{RenderPass: rp, Width: 16, Height: 16}, gpu.ErrNoAttachments},
		{"no view indices", gpu.FramebufferConfig{RenderPass: rp, Attachments: []*gpu.Texture{tex}, Width: 16, Height: 16}, gpu.ErrNoViewIndices},
		{"index count mismatch", gpu.FramebufferConfig{RenderPass: rp, Attachments: []*gpu.Texture{tex}, ViewIndices: []uint32{0, 0}, Width: 16, Height: 16}, gpu.ErrAttachmentCountMismatch},
		{"render pass count mismatch", gpu.FramebufferConfig{RenderPass: rp, Attachments: []*gpu.Texture{tex, tex}, ViewIndices: []uint32{0, 0}, Width: 16, Height: 16}, gpu.ErrAttachmentCountMismatch},
		{"zero extent", gpu.FramebufferConfig{RenderPass: rp, Attachments: []*gpu.Texture{tex}, ViewIndices: []uint32{0}, Width: 0, Height: 16}, gpu.ErrZeroExtent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := gpu.NewFramebuffer(gctx)
			if err := fb.Create(tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("Create() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFramebuffer_LayeredMipAttachment(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	rp := gpu.NewRenderPass(gctx)
	if err := rp.Create(gpu.RenderPassPrefilter, gpu.RenderPassParams{}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rp.Destroy)
	cube := newTexture(t, gctx, gpu.TextureDesc{
		Width: 64, Height: 64, MipLevels: 5, Cube: true, Format: gpu.FormatR32G32B32A32Sfloat,
		Usage: gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled,
	})

	fb := gpu.NewFramebuffer(gctx)
	if err := fb.Create(gpu.FramebufferConfig{
		RenderPass: rp, Attachments: []*gpu.Texture{cube}, ViewIndices: []uint32{2},
		Width: 16, Height: 16, Layers: 6,
	}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(fb.Destroy)

	h, _ := fb.Handle()
	if h == 0 {
		t.Fatal("framebuffer has no handle")
	}
	// The cube's sampled view plus one 2D array view of mip 2.
	if got := dev.Live().Views; got != 2 {
		t.Errorf("views = %d, want 2", got)
	}
	if fb.Layers() != 6 {
		t.Errorf("Layers() = %d, want 6", fb.Layers())
	}
}

func TestFramebuffer_SingleLayerAttachment(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	rp := gpu.NewRenderPass(gctx)
	if err := rp.Create(gpu.RenderPassCubemap, gpu.RenderPassParams{}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rp.Destroy)
	cube := newTexture(t, gctx, gpu.TextureDesc{
		Width: 32, Height: 32, MipLevels: 1, Cube: true, Format: gpu.FormatR32G32B32A32Sfloat,
		Usage: gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled,
	})

	for face := uint32(0); face < 6; face++ {
		fb := gpu.NewFramebuffer(gctx)
		if err := fb.Create(gpu.FramebufferConfig{
			RenderPass: rp, Attachments: []*gpu.Texture{cube}, ViewIndices: []uint32{0},
			Width: 32, Height: 32, SingleLayer: true, Layer: face,
		}); err != nil {
			t.Fatalf("face %d: %v", face, err)
		}
		t.Cleanup(fb.Destroy)
	}
	// The cube view plus one view per face.
	if got := dev.Live().Views; got != 7 {
		t.Errorf("views = %d, want 7", got)
	}

	bad := gpu.NewFramebuffer(gctx)
	err := bad.Create(gpu.FramebufferConfig{
		RenderPass: rp, Attachments: []*gpu.Texture{cube}, ViewIndices: []uint32{0},
		Width: 32, Height: 32, SingleLayer: true, Layer: 6,
	})
	if !errors.Is(err, gpu.ErrViewOutOfRange) {
		t.Errorf("layer 6 error = %v, want ErrViewOutOfRange", err)
	}
}
