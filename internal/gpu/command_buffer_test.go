package gpu_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/gpu/gputest"
)

// =============================================================================
// CommandBuffer state machine
// =============================================================================

func TestCommandBuffer_StateMachine(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	cmd, err := gpu.NewCommandBuffer(gctx, gpu.LevelPrimary)
	if err != nil {
		t.Fatal(err)
	}
	steps := []struct {
		name  string
		do    func() error
		want  error
		state gpu.CommandBufferState
	}{
		{"end before begin", cmd.End, gpu.ErrNotRecording, gpu.CommandBufferAllocated},
		{"draw before begin", func() error { return cmd.Draw(3, 1, 0, 0) }, gpu.ErrNotRecording, gpu.CommandBufferAllocated},
		{"begin", func() error { return cmd.Begin(true) }, nil, gpu.CommandBufferRecording},
		{"begin twice", func() error { return cmd.Begin(true) }, gpu.ErrAlreadyRecording, gpu.CommandBufferRecording},
		{"destroy while recording", cmd.Destroy, gpu.ErrAlreadyRecording, gpu.CommandBufferRecording},
		{"end", cmd.End, nil, gpu.CommandBufferSealed},
		{"end sealed", cmd.End, gpu.ErrCommandBufferSealed, gpu.CommandBufferSealed},
		{"reset", cmd.Reset, nil, gpu.CommandBufferReset},
		{"begin after reset", func() error { return cmd.Begin(false) }, nil, gpu.CommandBufferRecording},
		{"end again", cmd.End, nil, gpu.CommandBufferSealed},
		{"destroy", cmd.Destroy, nil, gpu.CommandBufferDestroyed},
		{"begin destroyed", func() error { return cmd.Begin(true) }, gpu.ErrNotAllocated, gpu.CommandBufferDestroyed},
	}
	for _, s := range steps {
		err := s.do()
		if s.want == nil && err != nil {
			t.Fatalf("%s: error = %v", s.name, err)
		}
		if s.want != nil && !errors.Is(err, s.want) {
			t.Fatalf("%s: error = %v, want %v", s.name, err, s.want)
		}
		if cmd.State() != s.state {
			t.Fatalf("%s: state = %v, want %v", s.name, cmd.State(), s.state)
		}
	}
}

func TestCommandBuffer_NilIsNotRecording(t *testing.T) {
	var cmd *gpu.CommandBuffer
	if err := cmd.Dispatch(1, 1, 1); !errors.Is(err, gpu.ErrNotRecording) {
		t.Errorf("Dispatch() on nil error = %v, want ErrNotRecording", err)
	}
}

func TestCommandBuffer_DrawIndexedOverflow(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	cmd := recording(t, gctx)
	if err := cmd.DrawIndexed(math.MaxUint32 + 1); !errors.Is(err, gpu.ErrIndexCountOverflow) {
		t.Errorf("error = %v, want ErrIndexCountOverflow", err)
	}
	if err := cmd.DrawIndexed(36); err != nil {
		t.Fatal(err)
	}
	draws := dev.Filter(cmd.Handle(), gputest.OpDrawIndexed)
	if len(draws) != 1 || draws[0].X != 36 || draws[0].Y != 1 {
		t.Errorf("draws = %+v, want one draw of 36 indices", draws)
	}
}

// renderTarget builds a render pass over a single-sample offscreen LDR
// target and its framebuffer.
func renderTarget(t *testing.T, gctx *gpu.Context) (*gpu.RenderPass, *gpu.Framebuffer, *gpu.Texture) {
	t.Helper()
	rp := gpu.NewRenderPass(gctx)
	if err := rp.Create(gpu.RenderPassLDR, gpu.RenderPassParams{ColorFormat: gpu.FormatR8G8B8A8Unorm, Samples: 1, Offscreen: true}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rp.Destroy)
	tex := newTexture(t, gctx, gpu.TextureDesc{
		Label: "target", Width: 32, Height: 16, MipLevels: 1, Format: gpu.FormatR8G8B8A8Unorm,
		Usage: gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferSrc,
	})
	fb := gpu.NewFramebuffer(gctx)
	if err := fb.Create(gpu.FramebufferConfig{
		RenderPass: rp, Attachments: []*gpu.Texture{tex}, ViewIndices: []uint32{0}, Width: 32, Height: 16,
	}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(fb.Destroy)
	return rp, fb, tex
}

func TestCommandBuffer_RenderPass(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	rp, fb, tex := renderTarget(t, gctx)
	cmd := recording(t, gctx)

	if err := cmd.EndRenderPass(); !errors.Is(err, gpu.ErrNoRenderPass) {
		t.Errorf("EndRenderPass() outside pass error = %v", err)
	}
	if err := cmd.BeginRenderPass(rp, nil, gpu.ContentsInline); !errors.Is(err, gpu.ErrNilFramebuffer) {
		t.Errorf("BeginRenderPass(nil fb) error = %v", err)
	}
	if err := cmd.BeginRenderPass(rp, fb, gpu.ContentsInline); err != nil {
		t.Fatal(err)
	}
	if err := cmd.BeginRenderPass(rp, fb, gpu.ContentsInline); !errors.Is(err, gpu.ErrRenderPassActive) {
		t.Errorf("nested BeginRenderPass() error = %v", err)
	}
	if !cmd.InRenderPass() {
		t.Error("InRenderPass() = false inside a pass")
	}
	if err := cmd.EndRenderPass(); err != nil {
		t.Fatal(err)
	}

	begins := dev.Filter(cmd.Handle(), gputest.OpBeginPass)
	if len(begins) != 1 {
		t.Fatalf("begins = %d, want 1", len(begins))
	}
	b := begins[0].Begin
	if b.Width != 32 || b.Height != 16 {
		t.Errorf("render area = %dx%d, want 32x16", b.Width, b.Height)
	}
	if len(b.ClearValues) != 1 || b.ClearValues[0].Color != gpu.DefaultClearColor {
		t.Errorf("clear values = %+v", b.ClearValues)
	}
	if got := tex.MipState(0).Layout; got != gpu.LayoutTransferSrc {
		t.Errorf("attachment layout after pass = %v, want final layout TransferSrc", got)
	}
}

func TestCommandBuffer_EndRenderPassKeepsAttachmentWrites(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	rp := gpu.NewRenderPass(gctx)
	if err := rp.Create(gpu.RenderPassHDR, gpu.RenderPassParams{}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rp.Destroy)
	color := newTexture(t, gctx, gpu.TextureDesc{
		Label: "hdr", Width: 16, Height: 16, MipLevels: 1, Format: gpu.FormatR32G32B32A32Sfloat,
		Usage: gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled | gpu.ImageUsageStorage,
	})
	depth := newTexture(t, gctx, gpu.TextureDesc{
		Label: "depth", Width: 16, Height: 16, MipLevels: 1, Format: gpu.FormatD32Sfloat,
		Usage: gpu.ImageUsageDepthStencilAttachment,
	})
	fb := gpu.NewFramebuffer(gctx)
	if err := fb.Create(gpu.FramebufferConfig{
		RenderPass: rp, Attachments: []*gpu.Texture{color, depth}, ViewIndices: []uint32{0, 0}, Width: 16, Height: 16,
	}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(fb.Destroy)

	cmd := recording(t, gctx)
	if err := cmd.BeginRenderPass(rp, fb, gpu.ContentsInline); err != nil {
		t.Fatal(err)
	}
	if err := cmd.EndRenderPass(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		tex  *gpu.Texture
		want gpu.SubresourceState
	}{
		{color, gpu.SubresourceState{Layout: gpu.LayoutShaderReadOnly, Access: gpu.AccessColorAttachmentWrite, Stage: gpu.StageColorAttachmentOutput}},
		{depth, gpu.SubresourceState{Layout: gpu.LayoutDepthStencilAttachment, Access: gpu.AccessDepthStencilWrite, Stage: gpu.StageLateFragmentTests}},
	}
	for _, tt := range tests {
		if got := tt.tex.MipState(0); got != tt.want {
			t.Errorf("%s after pass = %+v, want %+v", tt.tex.Label(), got, tt.want)
		}
	}

	// A compute read after the pass must wait on the color writes.
	if err := color.TransitionLayout(cmd, gpu.LayoutGeneral, 0, 0); err != nil {
		t.Fatal(err)
	}
	barriers := dev.Filter(cmd.Handle(), gputest.OpBarrier)
	if len(barriers) != 1 {
		t.Fatalf("barriers = %d, want 1", len(barriers))
	}
	b := barriers[0]
	if b.SrcStage != gpu.StageColorAttachmentOutput {
		t.Errorf("src stage = %v, want ColorAttachmentOutput", b.SrcStage)
	}
	if len(b.Barriers) != 1 || b.Barriers[0].SrcAccess != gpu.AccessColorAttachmentWrite {
		t.Errorf("image barriers = %+v, want src access ColorAttachmentWrite", b.Barriers)
	}
}

func TestCommandBuffer_DepthClear(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	rp := gpu.NewRenderPass(gctx)
	if err := rp.Create(gpu.RenderPassHDR, gpu.RenderPassParams{}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rp.Destroy)
	color := newTexture(t, gctx, gpu.TextureDesc{Width: 8, Height: 8, MipLevels: 1, Format: gpu.FormatR32G32B32A32Sfloat, Usage: gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled})
	depth := newTexture(t, gctx, gpu.TextureDesc{Width: 8, Height: 8, MipLevels: 1, Format: gpu.FormatD32Sfloat, Usage: gpu.ImageUsageDepthStencilAttachment})
	fb := gpu.NewFramebuffer(gctx)
	if err := fb.Create(gpu.FramebufferConfig{RenderPass: rp, Attachments: []*gpu.Texture{color, depth}, ViewIndices: []uint32{0, 0}, Width: 8, Height: 8}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(fb.Destroy)

	cmd := recording(t, gctx)
	if err := cmd.BeginRenderPass(rp, fb, gpu.ContentsInline); err != nil {
		t.Fatal(err)
	}
	clears := dev.Filter(cmd.Handle(), gputest.OpBeginPass)[0].Begin.ClearValues
	if clears[1].Depth != 1 || clears[1].Stencil != 0 {
		t.Errorf("depth clear = %+v, want depth 1 stencil 0", clears[1])
	}
}

func TestCommandBuffer_SecondaryRestrictions(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	rp, fb, _ := renderTarget(t, gctx)

	sec, err := gpu.NewCommandBuffer(gctx, gpu.LevelSecondary)
	if err != nil {
		t.Fatal(err)
	}
	if err := sec.BeginSecondary(true, rp, 0, fb); err != nil {
		t.Fatal(err)
	}
	if err := sec.BeginRenderPass(rp, fb, gpu.ContentsInline); !errors.Is(err, gpu.ErrPrimaryOnly) {
		t.Errorf("secondary BeginRenderPass() error = %v, want ErrPrimaryOnly", err)
	}
	if err := sec.Draw(3, 1, 0, 0); err != nil {
		t.Fatal(err)
	}

	primary := recording(t, gctx)
	if err := primary.ExecuteCommands(sec); err == nil {
		t.Error("ExecuteCommands() accepted a secondary still recording")
	}
	if err := sec.End(); err != nil {
		t.Fatal(err)
	}
	if err := primary.BeginRenderPass(rp, fb, gpu.ContentsSecondary); err != nil {
		t.Fatal(err)
	}
	if err := primary.ExecuteCommands(sec); err != nil {
		t.Errorf("ExecuteCommands() error = %v", err)
	}
}

// =============================================================================
// Pipeline
// =============================================================================

func computePipeline(t *testing.T, gctx *gpu.Context, push []gpu.PushConstantRange) (*gpu.Pipeline, error) {
	t.Helper()
	mod, err := gctx.Device().CreateShaderModule("test.comp", []uint32{0x07230203})
	if err != nil {
		t.Fatal(err)
	}
	p := gpu.NewPipeline(gctx, gpu.PipelineCompute)
	if err := p.SetComputeData(gpu.ComputePipelineData{Label: "test", Shader: mod, PushConstants: push}); err != nil {
		t.Fatal(err)
	}
	return p, p.Create()
}

func TestPipeline_DataNotSet(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	for _, kind := range []gpu.PipelineKind{gpu.PipelineGraphics, gpu.PipelineCompute} {
		if err := gpu.NewPipeline(gctx, kind).Create(); !errors.Is(err, gpu.ErrPipelineDataNotSet) {
			t.Errorf("%v Create() error = %v, want ErrPipelineDataNotSet", kind, err)
		}
	}
}

func TestPipeline_KindMismatch(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	p := gpu.NewPipeline(gctx, gpu.PipelineCompute)
	if err := p.SetGraphicsData(gpu.GraphicsPipelineData{}); !errors.Is(err, gpu.ErrPipelineKindMismatch) {
		t.Errorf("error = %v, want ErrPipelineKindMismatch", err)
	}
}

func TestPipeline_ComputeCreate(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	p, err := computePipeline(t, gctx, []gpu.PushConstantRange{{Stages: gpu.ShaderStageCompute, Size: 16}})
	if err != nil {
		t.Fatal(err)
	}
	if p.BindPoint() != gpu.BindPointCompute {
		t.Errorf("BindPoint() = %v", p.BindPoint())
	}
	h, _ := p.Handle()
	desc, ok := dev.PipelineDesc(h).(gpu.ComputePipelineDesc)
	if !ok {
		t.Fatalf("device holds %T, want compute description", dev.PipelineDesc(h))
	}
	if desc.Stage.EntryPoint != "main" {
		t.Errorf("EntryPoint = %q, want default main", desc.Stage.EntryPoint)
	}
	p.Destroy()
	if live := dev.Live(); live.Pipelines != 0 || live.PipelineLayouts != 0 {
		t.Errorf("Destroy() left %d pipelines and %d layouts", live.Pipelines, live.PipelineLayouts)
	}
}

func TestPipeline_PushConstantLimits(t *testing.T) {
	t.Run("beyond device limit", func(t *testing.T) {
		_, gctx := gputest.NewContext(t)
		_, err := computePipeline(t, gctx, []gpu.PushConstantRange{{Stages: gpu.ShaderStageCompute, Offset: 64, Size: 128}})
		if !errors.Is(err, gpu.ErrPushConstantRange) {
			t.Errorf("error = %v, want ErrPushConstantRange", err)
		}
	})
	t.Run("backend without push constants", func(t *testing.T) {
		caps := gputest.FullCapabilities
		caps.PushConstants, caps.MaxPushConstantsSize = false, 0
		dev := gputest.NewDevice(gputest.WithCapabilities(caps))
		gctx, err := gpu.NewContext(dev)
		if err != nil {
			t.Fatal(err)
		}
		defer gctx.Close()
		_, err = computePipeline(t, gctx, []gpu.PushConstantRange{{Stages: gpu.ShaderStageCompute, Size: 4}})
		if !errors.Is(err, gpu.ErrUnsupported) {
			t.Errorf("error = %v, want ErrUnsupported", err)
		}
		if dev.Live().PipelineLayouts != 0 {
			t.Error("failed create left a pipeline layout")
		}
	})
}

func TestPipeline_GraphicsDefaults(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	rp, _, _ := renderTarget(t, gctx)
	vs, _ := gctx.Device().CreateShaderModule("quad.vert", []uint32{0x07230203})
	fs, _ := gctx.Device().CreateShaderModule("quad.frag", []uint32{0x07230203})

	p := gpu.NewPipeline(gctx, gpu.PipelineGraphics)
	if err := p.SetGraphicsData(gpu.GraphicsPipelineData{
		Label: "quad",
		Shaders: []gpu.ShaderStageModule{
			{Stage: gpu.ShaderStageVertex, Module: vs, EntryPoint: "main"},
			{Stage: gpu.ShaderStageFragment, Module: fs, EntryPoint: "main"},
		},
		RenderPass: rp,
	}); err != nil {
		t.Fatal(err)
	}
	if err := p.Create(); err != nil {
		t.Fatal(err)
	}
	defer p.Destroy()

	h, _ := p.Handle()
	desc := dev.PipelineDesc(h).(gpu.GraphicsPipelineDesc)
	if desc.State != gpu.DefaultGraphicsState() {
		t.Errorf("State = %+v, want defaults", desc.State)
	}
}

func TestPipeline_GraphicsNeedsShaders(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	rp, _, _ := renderTarget(t, gctx)
	p := gpu.NewPipeline(gctx, gpu.PipelineGraphics)
	_ = p.SetGraphicsData(gpu.GraphicsPipelineData{RenderPass: rp})
	if err := p.Create(); !errors.Is(err, gpu.ErrNoShaderStages) {
		t.Errorf("error = %v, want ErrNoShaderStages", err)
	}
}

func TestCommandBuffer_BindAndDispatch(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	p, err := computePipeline(t, gctx, []gpu.PushConstantRange{{Stages: gpu.ShaderStageCompute, Size: 8}})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Destroy()
	set, err := gpu.NewDescriptorSet(gctx, bloomLikeSummary(t))
	if err != nil {
		t.Fatal(err)
	}

	cmd := recording(t, gctx)
	if err := cmd.BindPipeline(nil); !errors.Is(err, gpu.ErrNilPipeline) {
		t.Errorf("BindPipeline(nil) error = %v", err)
	}
	if err := cmd.BindPipeline(p); err != nil {
		t.Fatal(err)
	}
	if err := cmd.BindDescriptorSets(p, 0, set); err != nil {
		t.Fatal(err)
	}
	if err := cmd.PushConstants(p, gpu.ShaderStageCompute, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Dispatch(120, 68, 1); err != nil {
		t.Fatal(err)
	}

	ops := []gputest.Op{gputest.OpBindPipeline, gputest.OpBindSets, gputest.OpPushConstants, gputest.OpDispatch}
	cmds := dev.Commands(cmd.Handle())
	if len(cmds) != len(ops) {
		t.Fatalf("recorded %d commands, want %d", len(cmds), len(ops))
	}
	for i, op := range ops {
		if cmds[i].Op != op {
			t.Errorf("command %d = %s, want %s", i, cmds[i].Op, op)
		}
	}
	if d := dev.Dispatches(cmd.Handle()); d[0] != [3]uint32{120, 68, 1} {
		t.Errorf("dispatch = %v", d[0])
	}
	if errs := dev.Errors(); len(errs) != 0 {
		t.Errorf("device misuse: %v", errs)
	}
}

// =============================================================================
// Context and FrameRing
// =============================================================================

func TestNewContext_NilDevice(t *testing.T) {
	if _, err := gpu.NewContext(nil); !errors.Is(err, gpu.ErrNilDevice) {
		t.Errorf("error = %v, want ErrNilDevice", err)
	}
}

func TestContext_SubmitOneShotRecordError(t *testing.T) {
	dev, gctx := gputest.NewContext(t)
	boom := errors.New("boom")
	err := gctx.SubmitOneShot(context.Background(), func(*gpu.CommandBuffer) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want record error", err)
	}
	if live := dev.Live(); live.CommandBuffers != 0 || live.Fences != 0 {
		t.Errorf("failed one-shot leaked %+v", live)
	}
	if len(dev.Submitted()) != 0 {
		t.Error("failed recording was submitted")
	}
}

func TestContext_WaitFenceCancelled(t *testing.T) {
	dev, gctx := gputest.NewContext(t, gpu.WithFenceTimeout(time.Minute))
	fence, _ := dev.CreateFence(false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gctx.WaitFence(ctx, fence); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestContext_WaitFenceTimeout(t *testing.T) {
	dev, gctx := gputest.NewContext(t, gpu.WithFenceTimeout(time.Millisecond))
	fence, _ := dev.CreateFence(false)
	if err := gctx.WaitFence(context.Background(), fence); !errors.Is(err, gpu.ErrFenceTimeout) {
		t.Errorf("error = %v, want ErrFenceTimeout", err)
	}
}

func TestFrameRing_Cycles(t *testing.T) {
	dev, gctx := gputest.NewContext(t, gpu.WithFramesInFlight(2))
	ring, err := gpu.NewFrameRing(gctx)
	if err != nil {
		t.Fatal(err)
	}
	defer ring.Destroy()

	ctx := context.Background()
	var handles []gpu.CommandBufferHandle
	for frame := 0; frame < 4; frame++ {
		if ring.Index() != frame%2 {
			t.Fatalf("frame %d: Index() = %d", frame, ring.Index())
		}
		cmd, err := ring.Begin(ctx)
		if err != nil {
			t.Fatalf("frame %d: %v", frame, err)
		}
		if err := cmd.Dispatch(1, 1, 1); err != nil {
			t.Fatal(err)
		}
		if err := ring.Submit(); err != nil {
			t.Fatal(err)
		}
		handles = append(handles, cmd.Handle())
		ring.Advance()
	}
	if handles[0] != handles[2] || handles[1] != handles[3] || handles[0] == handles[1] {
		t.Errorf("slots not reused round robin: %v", handles)
	}
	if got := len(dev.Submitted()); got != 4 {
		t.Errorf("submissions = %d, want 4", got)
	}
	if err := ring.Wait(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestFrameRing_AbortKeepsSlotUsable(t *testing.T) {
	dev, gctx := gputest.NewContext(t, gpu.WithFramesInFlight(1), gpu.WithFenceTimeout(50*time.Millisecond))
	ring, err := gpu.NewFrameRing(gctx)
	if err != nil {
		t.Fatal(err)
	}
	defer ring.Destroy()

	ctx := context.Background()
	if _, err := ring.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	ring.Abort()
	cmd, err := ring.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin after Abort: %v", err)
	}
	if cmd.State() != gpu.CommandBufferRecording {
		t.Errorf("state = %v, want recording", cmd.State())
	}
	if err := ring.Submit(); err != nil {
		t.Fatal(err)
	}
	if got := len(dev.Submitted()); got != 1 {
		t.Errorf("submissions = %d, want 1", got)
	}
}

func TestFrameRing_AbortRestoresTrackedState(t *testing.T) {
	_, gctx := gputest.NewContext(t, gpu.WithFramesInFlight(1))
	ring, err := gpu.NewFrameRing(gctx)
	if err != nil {
		t.Fatal(err)
	}
	defer ring.Destroy()
	rp, fb, target := renderTarget(t, gctx)
	other := newTexture(t, gctx, gpu.TextureDesc{
		Label: "other", Width: 8, Height: 8, MipLevels: 3, Format: gpu.FormatR32G32B32A32Sfloat,
		Usage: gpu.ImageUsageStorage | gpu.ImageUsageTransferDst,
	})

	ctx := context.Background()
	cmd, err := ring.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.TransitionLayout(cmd, gpu.LayoutGeneral, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := ring.Submit(); err != nil {
		t.Fatal(err)
	}
	submitted := other.MipState(1)

	if cmd, err = ring.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	if err := other.TransitionLayout(cmd, gpu.LayoutTransferDst, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := other.TransitionLayout(cmd, gpu.LayoutGeneral, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := cmd.BeginRenderPass(rp, fb, gpu.ContentsInline); err != nil {
		t.Fatal(err)
	}
	if err := cmd.EndRenderPass(); err != nil {
		t.Fatal(err)
	}
	ring.Abort()

	if got := other.MipState(1); got != submitted {
		t.Errorf("other mip 1 after abort = %+v, want last submitted %+v", got, submitted)
	}
	if got := target.MipState(0).Layout; got != gpu.LayoutUndefined {
		t.Errorf("target layout after abort = %v, want Undefined", got)
	}
}

func TestContext_SubmitOneShotRecordErrorRestoresTrackedState(t *testing.T) {
	_, gctx := gputest.NewContext(t)
	tex := newTexture(t, gctx, gpu.TextureDesc{
		Label: "tex", Width: 8, Height: 8, MipLevels: 1, Format: gpu.FormatR32G32B32A32Sfloat,
		Usage: gpu.ImageUsageStorage,
	})
	fail := errors.New("record failed")
	err := gctx.SubmitOneShot(context.Background(), func(cmd *gpu.CommandBuffer) error {
		if err := tex.TransitionLayout(cmd, gpu.LayoutGeneral, 0, 0); err != nil {
			return err
		}
		return fail
	})
	if !errors.Is(err, fail) {
		t.Fatalf("error = %v, want %v", err, fail)
	}
	if got := tex.MipState(0).Layout; got != gpu.LayoutUndefined {
		t.Errorf("layout = %v, want Undefined after a dropped recording", got)
	}
}
