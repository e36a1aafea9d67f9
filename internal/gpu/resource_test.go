package gpu_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/gpu/gputest"
)

// newTexture creates a texture and registers its destruction.
func newTexture(t *testing.T, gctx *gpu.Context, desc gpu.TextureDesc) *gpu.Texture {
	t.Helper()
	tex := gpu.NewTexture(gctx, desc)
	if err := tex.Create(); err != nil {
		t.Fatalf("create texture %q: %v", desc.Label, err)
	}
	t.Cleanup(tex.Destroy)
	return tex
}

// recording returns a primary command buffer in the recording state.
func recording(t *testing.T, gctx *gpu.Context) *gpu.CommandBuffer {
	t.Helper()
	cmd, err := gpu.NewCommandBuffer(gctx, gpu.LevelPrimary)
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Begin(true); err != nil {
		t.Fatal(err)
	}
	return cmd
}

// =============================================================================
// Buffer
// =============================================================================

func TestBuffer_Lifecycle(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	b := gpu.NewBuffer(gctx, gpu.BufferUniform, 64, "ubo")

	if _, err := b.Handle(); !errors.Is(err, gpu.ErrResourceNotCreated) {
		t.Errorf("Handle() before Create error = %v, want ErrResourceNotCreated", err)
	}
	if err := b.Create(); err != nil {
		t.Fatal(err)
	}
	if b.State() != gpu.Created {
		t.Errorf("State() = %v, want Created", b.State())
	}
	if err := b.Create(); err != nil {
		t.Errorf("second Create() error = %v, want nil", err)
	}
	if got := dev.Created(gputest.OpCreateBuffer); got != 1 {
		t.Errorf("device buffers created = %d, want 1", got)
	}

	b.Destroy()
	if b.State() != gpu.Destroyed {
		t.Errorf("State() = %v, want Destroyed", b.State())
	}
	if _, err := b.Handle(); !errors.Is(err, gpu.ErrResourceDestroyed) {
		t.Errorf("Handle() after Destroy error = %v, want ErrResourceDestroyed", err)
	}
	if err := b.Create(); !errors.Is(err, gpu.ErrResourceDestroyed) {
		t.Errorf("Create() after Destroy error = %v, want ErrResourceDestroyed", err)
	}
	b.Destroy() // warns only
	if live := dev.Live(); live.Buffers != 0 {
		t.Errorf("live buffers = %d, want 0", live.Buffers)
	}
}

func TestBuffer_ZeroSize(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	err := gpu.NewBuffer(gctx, gpu.BufferVertex, 0, "empty").Create()
	if !errors.Is(err, gpu.ErrInvalidBufferSize) {
		t.Errorf("Create() error = %v, want ErrInvalidBufferSize", err)
	}
}

func TestBuffer_MapUnmap(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	b := gpu.NewBuffer(gctx, gpu.BufferStaging, 16, "staging")
	if err := b.Create(); err != nil {
		t.Fatal(err)
	}
	defer b.Destroy()

	if err := b.Unmap(); !errors.Is(err, gpu.ErrResourceNotMapped) {
		t.Errorf("Unmap() unmapped error = %v", err)
	}
	if _, err := b.Map(); err != nil {
		t.Fatal(err)
	}
	if b.State() != gpu.Mapped {
		t.Errorf("State() = %v, want Mapped", b.State())
	}
	if _, err := b.Map(); !errors.Is(err, gpu.ErrResourceMapped) {
		t.Errorf("second Map() error = %v, want ErrResourceMapped", err)
	}
	if err := b.Unmap(); err != nil {
		t.Fatal(err)
	}
}

func TestBuffer_StorageNotMappable(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	b := gpu.NewBuffer(gctx, gpu.BufferStorage, 16, "ssbo")
	if err := b.Create(); err != nil {
		t.Fatal(err)
	}
	defer b.Destroy()
	if _, err := b.Map(); !errors.Is(err, gpu.ErrNotHostVisible) {
		t.Errorf("Map() error = %v, want ErrNotHostVisible", err)
	}
}

func TestBuffer_Write(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	b := gpu.NewBuffer(gctx, gpu.BufferUniform, 8, "ubo")
	if err := b.Create(); err != nil {
		t.Fatal(err)
	}
	defer b.Destroy()

	if err := b.WriteValue(4, float32(1)); err != nil {
		t.Fatal(err)
	}
	h, _ := b.Handle()
	got := dev.BufferContents(h)
	want := []byte{0, 0, 0, 0, 0, 0, 0x80, 0x3f}
	if string(got) != string(want) {
		t.Errorf("contents = % x, want % x", got, want)
	}
	if err := b.Write(6, make([]byte, 4)); !errors.Is(err, gpu.ErrWriteOutOfRange) {
		t.Errorf("Write() past end error = %v, want ErrWriteOutOfRange", err)
	}
	if b.State() != gpu.Created {
		t.Errorf("State() after Write = %v, want Created", b.State())
	}
}

func TestNewUniformBuffers(t *testing.T) {
	dev, gctx := gputest.NewContext(t, gpu.WithFramesInFlight(3))
	bufs, err := gpu.NewUniformBuffers(gctx, 128, "camera")
	if err != nil {
		t.Fatal(err)
	}
	if len(bufs) != 3 {
		t.Fatalf("got %d buffers, want one per frame", len(bufs))
	}
	if dev.Live().Buffers != 3 {
		t.Errorf("live buffers = %d, want 3", dev.Live().Buffers)
	}
	for _, b := range bufs {
		b.Destroy()
	}
}

// =============================================================================
// Texture
// =============================================================================

func TestCalculateMipLevels(t *testing.T) {
	tests := []struct {
		w, h, want uint32
	}{
		{1, 1, 1},
		{2, 1, 2},
		{512, 512, 10},
		{1920, 1080, 11},
		{0, 0, 1},
	}
	for _, tt := range tests {
		if got := gpu.CalculateMipLevels(tt.w, tt.h); got != tt.want {
			t.Errorf("CalculateMipLevels(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestTexture_CreateViews(t *testing.T) {
	tests := []struct {
		name      string
		desc      gpu.TextureDesc
		wantViews int
		wantType  gpu.ViewType
		wantMips  uint32
	}{
		{
			name:      "entire image",
			desc:      gpu.TextureDesc{Width: 64, Height: 64, MipLevels: 4, Format: gpu.FormatR8G8B8A8Unorm, Usage: gpu.ImageUsageSampled},
			wantViews: 1, wantType: gpu.ViewType2D, wantMips: 4,
		},
		{
			name:      "per mip",
			desc:      gpu.TextureDesc{Width: 64, Height: 64, MipLevels: 4, Format: gpu.FormatR32G32B32A32Sfloat, Usage: gpu.ImageUsageStorage, Scope: gpu.ScopePerMipLevel},
			wantViews: 4, wantType: gpu.ViewType2D, wantMips: 4,
		},
		{
			name:      "cube",
			desc:      gpu.TextureDesc{Width: 32, Height: 32, MipLevels: 1, Format: gpu.FormatR32G32B32A32Sfloat, Usage: gpu.ImageUsageSampled, Cube: true},
			wantViews: 1, wantType: gpu.ViewTypeCube, wantMips: 1,
		},
		{
			name:      "full chain when unset",
			desc:      gpu.TextureDesc{Width: 16, Height: 8, Format: gpu.FormatR8G8B8A8Unorm, Usage: gpu.ImageUsageSampled},
			wantViews: 1, wantType: gpu.ViewType2D, wantMips: 5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, gctx := gputest.NewContext(t)
			tex := newTexture(t, gctx, tt.desc)
			if tex.MipLevels() != tt.wantMips {
				t.Errorf("MipLevels() = %d, want %d", tex.MipLevels(), tt.wantMips)
			}
			if got := dev.Live().Views; got != tt.wantViews {
				t.Errorf("views = %d, want %d", got, tt.wantViews)
			}
			v, err := tex.View(0)
			if err != nil {
				t.Fatal(err)
			}
			vd, _ := dev.View(v)
			if vd.Type != tt.wantType {
				t.Errorf("view type = %v, want %v", vd.Type, tt.wantType)
			}
			if tt.desc.Cube && tex.ArrayLayers() != 6 {
				t.Errorf("cube layers = %d, want 6", tex.ArrayLayers())
			}
		})
	}
}

func TestTexture_InvalidExtent(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	err := gpu.NewTexture(gctx, gpu.TextureDesc{Width: 0, Height: 4, MipLevels: 1}).Create()
	if !errors.Is(err, gpu.ErrInvalidExtent) {
		t.Errorf("Create() error = %v, want ErrInvalidExtent", err)
	}
}

func TestTexture_CreateFailureLeaksNothing(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	dev.Fail(gputest.OpCreateImage, errors.New("out of memory"))
	tex := gpu.NewTexture(gctx, gpu.TextureDesc{Width: 4, Height: 4, MipLevels: 1, Usage: gpu.ImageUsageSampled})
	if err := tex.Create(); err == nil {
		t.Fatal("Create() succeeded on a failing device")
	}
	if tex.State() != gpu.Uninitialized {
		t.Errorf("State() = %v, want Uninitialized", tex.State())
	}
	if live := dev.Live(); live.Images != 0 || live.Views != 0 {
		t.Errorf("leaked %d images and %d views", live.Images, live.Views)
	}
}

func TestTexture_PerMipViewOutOfRange(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	tex := newTexture(t, gctx, gpu.TextureDesc{
		Width: 8, Height: 8, MipLevels: 2, Usage: gpu.ImageUsageStorage, Scope: gpu.ScopePerMipLevel,
	})
	if _, err := tex.View(2); !errors.Is(err, gpu.ErrViewOutOfRange) {
		t.Errorf("View(2) error = %v, want ErrViewOutOfRange", err)
	}
}

func TestTexture_MipExtent(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	tex := newTexture(t, gctx, gpu.TextureDesc{Width: 1920, Height: 1080, MipLevels: 11, Usage: gpu.ImageUsageSampled})
	tests := []struct{ mip, w, h uint32 }{
		{0, 1920, 1080},
		{1, 960, 540},
		{5, 60, 33},
		{10, 1, 1},
	}
	for _, tt := range tests {
		w, h := tex.MipExtent(tt.mip)
		if w != tt.w || h != tt.h {
			t.Errorf("MipExtent(%d) = %dx%d, want %dx%d", tt.mip, w, h, tt.w, tt.h)
		}
	}
}

func TestTexture_SamplerAnisotropyClamped(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	tex := newTexture(t, gctx, gpu.TextureDesc{Width: 4, Height: 4, MipLevels: 3, Usage: gpu.ImageUsageSampled})
	if err := tex.CreateSampler(gpu.SamplerDesc{MaxAnisotropy: 64}); err != nil {
		t.Fatal(err)
	}
	sd, ok := dev.Sampler(tex.Sampler())
	if !ok {
		t.Fatal("sampler not created")
	}
	if sd.MaxAnisotropy != gputest.FullCapabilities.MaxSamplerAnisotropy {
		t.Errorf("MaxAnisotropy = %v, want clamped to %v", sd.MaxAnisotropy, gputest.FullCapabilities.MaxSamplerAnisotropy)
	}
	if sd.MaxLod != 3 {
		t.Errorf("MaxLod = %v, want mip count", sd.MaxLod)
	}
}

func TestTexture_TransitionRecordsBarriers(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	tex := newTexture(t, gctx, gpu.TextureDesc{Width: 8, Height: 8, MipLevels: 4, Usage: gpu.ImageUsageStorage})
	cmd := recording(t, gctx)

	if err := tex.TransitionLayout(cmd, gpu.LayoutGeneral, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := tex.TransitionLayout(cmd, gpu.LayoutGeneral, 0, 0); err != nil {
		t.Fatal(err)
	}
	barriers := dev.Filter(cmd.Handle(), gputest.OpBarrier)
	if len(barriers) != 1 {
		t.Fatalf("got %d barrier commands, want 1", len(barriers))
	}
	b := barriers[0].Barriers[0]
	if b.OldLayout != gpu.LayoutUndefined || b.NewLayout != gpu.LayoutGeneral || b.MipCount != 4 {
		t.Errorf("barrier = %+v", b)
	}
	for mip := uint32(0); mip < 4; mip++ {
		if got := tex.MipState(mip).Layout; got != gpu.LayoutGeneral {
			t.Errorf("mip %d layout = %v", mip, got)
		}
	}
}

func TestTexture_UnsupportedTransitionLeavesState(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	tex := newTexture(t, gctx, gpu.TextureDesc{Width: 8, Height: 8, MipLevels: 2, Usage: gpu.ImageUsageSampled})
	cmd := recording(t, gctx)

	if err := tex.TransitionLayout(cmd, gpu.LayoutPresentSrc, 0, 0); !errors.Is(err, gpu.ErrUnsupportedTransition) {
		t.Fatalf("error = %v, want ErrUnsupportedTransition", err)
	}
	if got := tex.MipState(0).Layout; got != gpu.LayoutUndefined {
		t.Errorf("layout = %v after rejected transition", got)
	}
	if n := dev.Count(cmd.Handle(), gputest.OpBarrier); n != 0 {
		t.Errorf("recorded %d barriers for rejected transition", n)
	}
}

func TestTexture_GenerateMipmaps(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	tex := newTexture(t, gctx, gpu.TextureDesc{
		Width: 16, Height: 16, MipLevels: 5,
		Usage: gpu.ImageUsageSampled | gpu.ImageUsageTransferSrc | gpu.ImageUsageTransferDst,
		Scope: gpu.ScopePerMipLevel,
	})
	cmd := recording(t, gctx)
	if err := tex.GenerateMipmaps(cmd); err != nil {
		t.Fatal(err)
	}

	blits := dev.Filter(cmd.Handle(), gputest.OpBlitImage)
	if len(blits) != 4 {
		t.Fatalf("got %d blits, want 4", len(blits))
	}
	for i, b := range blits {
		r := b.Blits[0]
		if r.Src.MipLevel != uint32(i) || r.Dst.MipLevel != uint32(i+1) {
			t.Errorf("blit %d: mip %d -> %d", i, r.Src.MipLevel, r.Dst.MipLevel)
		}
		if r.DstWidth != r.SrcWidth/2 {
			t.Errorf("blit %d: width %d -> %d", i, r.SrcWidth, r.DstWidth)
		}
	}
	for mip := uint32(0); mip < 5; mip++ {
		if got := tex.MipState(mip).Layout; got != gpu.LayoutShaderReadOnly {
			t.Errorf("mip %d layout = %v, want ShaderReadOnly", mip, got)
		}
	}
	if tex.GeneratedMips() != 5 {
		t.Errorf("GeneratedMips() = %d, want 5", tex.GeneratedMips())
	}
}

func TestTexture_GenerateMipmapsNeedsTransferUsage(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	tex := newTexture(t, gctx, gpu.TextureDesc{Width: 4, Height: 4, MipLevels: 3, Usage: gpu.ImageUsageSampled})
	if err := tex.GenerateMipmaps(recording(t, gctx)); !errors.Is(err, gpu.ErrMissingUsage) {
		t.Errorf("error = %v, want ErrMissingUsage", err)
	}
}

func TestTexture_UploadAndReadBack(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	tex := newTexture(t, gctx, gpu.TextureDesc{
		Width: 2, Height: 2, MipLevels: 1, Format: gpu.FormatR8G8B8A8Unorm,
		Usage: gpu.ImageUsageSampled | gpu.ImageUsageTransferSrc | gpu.ImageUsageTransferDst,
	})
	data := []byte{
		1, 2, 3, 4, 5, 6, 7, 8,
		9, 10, 11, 12, 13, 14, 15, 16,
	}
	ctx := context.Background()
	if err := tex.CopyFromData(ctx, data); err != nil {
		t.Fatal(err)
	}
	if got := tex.MipState(0).Layout; got != gpu.LayoutShaderReadOnly {
		t.Errorf("layout after upload = %v, want ShaderReadOnly", got)
	}
	got, err := tex.ReadPixels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Errorf("ReadPixels() = %v, want %v", got, data)
	}
	if got := tex.MipState(0).Layout; got != gpu.LayoutShaderReadOnly {
		t.Errorf("layout after readback = %v, want restored ShaderReadOnly", got)
	}
	if live := dev.Live(); live.Buffers != 0 || live.CommandBuffers != 0 || live.Fences != 0 {
		t.Errorf("transfer leaked objects: %+v", live)
	}
	if errs := dev.Errors(); len(errs) != 0 {
		t.Errorf("device misuse: %v", errs)
	}
}

func TestTexture_UploadClampsOversizedData(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	tex := newTexture(t, gctx, gpu.TextureDesc{
		Width: 1, Height: 1, MipLevels: 1, Format: gpu.FormatR8G8B8A8Unorm,
		Usage: gpu.ImageUsageSampled | gpu.ImageUsageTransferDst,
	})
	if err := tex.CopyFromData(context.Background(), make([]byte, 64)); err != nil {
		t.Fatal(err)
	}
	if len(dev.Submitted()) != 1 {
		t.Errorf("submissions = %d, want 1", len(dev.Submitted()))
	}
}

func TestTexture_CopyFromTexture(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	usage := gpu.ImageUsageSampled | gpu.ImageUsageTransferSrc | gpu.ImageUsageTransferDst
	src := newTexture(t, gctx, gpu.TextureDesc{Label: "src", Width: 8, Height: 8, MipLevels: 4, Format: gpu.FormatR8G8B8A8Unorm, Usage: usage})
	dst := newTexture(t, gctx, gpu.TextureDesc{Label: "dst", Width: 8, Height: 8, MipLevels: 3, Format: gpu.FormatR8G8B8A8Unorm, Usage: usage})
	if err := src.CopyFromData(context.Background(), make([]byte, 8*8*4)); err != nil {
		t.Fatal(err)
	}
	cmd := recording(t, gctx)

	// Requests past the shorter chain are clamped.
	if err := dst.CopyFromTexture(cmd, src, 1, 5); err != nil {
		t.Fatal(err)
	}
	copies := dev.Filter(cmd.Handle(), gputest.OpCopyImage)
	if len(copies) != 2 {
		t.Fatalf("got %d copies, want 2 (mips 1 and 2)", len(copies))
	}
	for i, c := range copies {
		if mip := c.Copies[0].Dst.MipLevel; mip != uint32(i+1) {
			t.Errorf("copy %d targets mip %d", i, mip)
		}
	}
	if got := src.MipState(1).Layout; got != gpu.LayoutTransferSrc {
		t.Errorf("src mip 1 layout = %v, want TransferSrc", got)
	}
	if got := dst.MipState(2).Layout; got != gpu.LayoutTransferDst {
		t.Errorf("dst mip 2 layout = %v, want TransferDst", got)
	}
	if got := dst.MipState(0).Layout; got != gpu.LayoutUndefined {
		t.Errorf("dst mip 0 layout = %v, want untouched", got)
	}
	if got := src.MipState(1); got.Access != gpu.AccessTransferRead || got.Stage != gpu.StageTransfer {
		t.Errorf("src mip 1 = %+v, want last access TransferRead at Transfer", got)
	}
	if got := dst.MipState(2); got.Access != gpu.AccessTransferWrite || got.Stage != gpu.StageTransfer {
		t.Errorf("dst mip 2 = %+v, want last access TransferWrite at Transfer", got)
	}
}

func TestTexture_CopyFromTextureNoOps(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	usage := gpu.ImageUsageTransferSrc | gpu.ImageUsageTransferDst
	tex := newTexture(t, gctx, gpu.TextureDesc{Width: 4, Height: 4, MipLevels: 1, Usage: usage})
	cmd := recording(t, gctx)

	for name, src := range map[string]*gpu.Texture{"nil": nil, "self": tex} {
		if err := tex.CopyFromTexture(cmd, src, 0, 1); err != nil {
			t.Errorf("%s copy error = %v", name, err)
		}
	}
	if n := len(dev.Commands(cmd.Handle())); n != 0 {
		t.Errorf("no-op copies recorded %d commands", n)
	}
}
