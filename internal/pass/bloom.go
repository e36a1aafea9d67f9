package pass

import (
	"context"
	"fmt"

	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/shader"
)

// BloomConfig holds the bloom parameters.
type BloomConfig struct {
	// MaxMips is the length of the downscale and upscale chains.
	MaxMips uint32
	// FilterRadius is the tent filter radius of the upscale pass, in UV units.
	FilterRadius float32
	// Intensity scales the bloom before it is mixed into the scene.
	Intensity float32
	// MixWeight blends between the scene (0) and scene plus bloom (1).
	MixWeight float32
}

// DefaultBloomConfig returns the default bloom parameters.
func DefaultBloomConfig() BloomConfig {
	return BloomConfig{
		MaxMips:      6,
		FilterRadius: 0.005,
		Intensity:    0.04,
		MixWeight:    0.1,
	}
}

// Bloom is a compute bloom: the input is downsampled through a mip chain at
// half resolution, upsampled back with a tent filter, and mixed into a
// full-resolution output.
//
// Descriptor sets:
//
//	downscale   frames x MaxMips      set 0 reads the input, set j reads mip j-1 and writes mip j
//	upscale     frames x (MaxMips-1)  set j reads mips M-1-j (upscale) and M-2-j (downscale), writes M-2-j
//	composition frames                reads the input and upscale mip 0, writes the output
//
// Only downscale set 0 binding 0 and composition binding 0 change per
// draw; every other binding is written once by Create.
type Bloom struct {
	gctx *gpu.Context
	lib  *shader.Library
	cfg  BloomConfig

	created       bool
	width, height uint32

	downscale *gpu.Texture
	upscale   *gpu.Texture
	output    *gpu.Texture

	downLayout, upLayout, compLayout       *gpu.SetLayoutSummary
	downPipeline, upPipeline, compPipeline *gpu.Pipeline

	downSets [][]*gpu.DescriptorSet
	upSets   [][]*gpu.DescriptorSet
	compSets []*gpu.DescriptorSet

	cleanup releaser
}

// NewBloom returns an uncreated bloom pass.
func NewBloom(gctx *gpu.Context, lib *shader.Library, cfg BloomConfig) *Bloom {
	return &Bloom{
		gctx: gctx,
		lib:  lib,
		cfg:  cfg,
		downLayout: summary(
			binding(0, gpu.DescriptorStorageImage, gpu.ShaderStageCompute),
			binding(1, gpu.DescriptorStorageImage, gpu.ShaderStageCompute),
		),
		upLayout: summary(
			binding(0, gpu.DescriptorStorageImage, gpu.ShaderStageCompute),
			binding(1, gpu.DescriptorStorageImage, gpu.ShaderStageCompute),
			binding(2, gpu.DescriptorStorageImage, gpu.ShaderStageCompute),
		),
		compLayout: summary(
			binding(0, gpu.DescriptorCombinedImageSampler, gpu.ShaderStageCompute),
			binding(1, gpu.DescriptorCombinedImageSampler, gpu.ShaderStageCompute),
			binding(2, gpu.DescriptorStorageImage, gpu.ShaderStageCompute),
		),
	}
}

// Config returns the bloom parameters.
func (b *Bloom) Config() BloomConfig { return b.cfg }

// Created reports whether Create succeeded and Destroy has not run since.
func (b *Bloom) Created() bool { return b.created }

// OutputTexture returns the composed full-resolution image. It stays in
// the General layout.
func (b *Bloom) OutputTexture() *gpu.Texture { return b.output }

// DownscaleTexture returns the downscale chain.
func (b *Bloom) DownscaleTexture() *gpu.Texture { return b.downscale }

// UpscaleTexture returns the upscale chain.
func (b *Bloom) UpscaleTexture() *gpu.Texture { return b.upscale }

// Create allocates the chains at half of width x height, the output at
// width x height, the pipelines and every descriptor set. It waits for the
// chains to reach the General layout.
func (b *Bloom) Create(ctx context.Context, width, height uint32) error {
	if b.created {
		slogger().Warn("bloom pass already created")
		return nil
	}
	m := b.cfg.MaxMips
	if m < 2 {
		return fmt.Errorf("bloom: %w: at least 2 mips required, configured %d", ErrInsufficientMips, m)
	}
	if !b.gctx.Capabilities().PushConstants {
		return fmt.Errorf("bloom: %w: push constants", ErrUnsupported)
	}
	bw, bh := width>>1, height>>1
	if bw == 0 || bh == 0 || gpu.CalculateMipLevels(bw, bh) < m {
		slogger().Error("bloom base resolution too small for mip chain",
			"width", width, "height", height, "mips", m)
		return fmt.Errorf("bloom: %w: %dx%d cannot hold %d mips", ErrInsufficientMips, bw, bh, m)
	}
	if err := b.create(ctx, width, height); err != nil {
		b.cleanup.run()
		b.downSets, b.upSets, b.compSets = nil, nil, nil
		return err
	}
	b.width, b.height = width, height
	b.created = true
	slogger().Info("bloom pass created",
		"size", fmt.Sprintf("%dx%d", width, height),
		"mips", m,
		"frames", b.gctx.FramesInFlight())
	return nil
}

func (b *Bloom) create(ctx context.Context, width, height uint32) error {
	m := b.cfg.MaxMips
	frames := b.gctx.FramesInFlight()

	chain := func(label string, usage gpu.ImageUsage) (*gpu.Texture, error) {
		t := gpu.NewTexture(b.gctx, gpu.TextureDesc{
			Label:     label,
			Width:     width >> 1,
			Height:    height >> 1,
			Format:    gpu.FormatR32G32B32A32Sfloat,
			MipLevels: m,
			Usage:     usage,
			Scope:     gpu.ScopePerMipLevel,
		})
		if err := t.Create(); err != nil {
			return nil, err
		}
		b.cleanup.add(t.Destroy)
		return t, nil
	}
	var err error
	transfer := gpu.ImageUsageStorage | gpu.ImageUsageTransferSrc | gpu.ImageUsageTransferDst
	if b.downscale, err = chain("bloom downscale", transfer); err != nil {
		return err
	}
	if b.upscale, err = chain("bloom upscale", transfer|gpu.ImageUsageSampled); err != nil {
		return err
	}
	b.output = gpu.NewTexture(b.gctx, gpu.TextureDesc{
		Label:     "bloom output",
		Width:     width,
		Height:    height,
		Format:    gpu.FormatR32G32B32A32Sfloat,
		MipLevels: 1,
		Usage:     gpu.ImageUsageStorage | gpu.ImageUsageSampled | gpu.ImageUsageTransferSrc,
	})
	if err := b.output.Create(); err != nil {
		return err
	}
	b.cleanup.add(b.output.Destroy)

	clamp := gpu.SamplerDesc{
		MagFilter:    gpu.FilterLinear,
		MinFilter:    gpu.FilterLinear,
		MipmapFilter: gpu.FilterNearest,
		AddressMode:  gpu.AddressModeClampToEdge,
	}
	for _, t := range []*gpu.Texture{b.upscale, b.output} {
		if err := t.CreateSampler(clamp); err != nil {
			return err
		}
	}
	if err := b.gctx.SubmitOneShot(ctx, func(cmd *gpu.CommandBuffer) error {
		for _, t := range []*gpu.Texture{b.downscale, b.upscale, b.output} {
			if err := t.TransitionLayout(cmd, gpu.LayoutGeneral, 0, 0); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("bloom: move chains to general layout: %w", err)
	}

	if b.downPipeline, err = computePipeline(b.gctx, b.lib, shader.BloomDownscaling, 4, b.downLayout); err != nil {
		return fmt.Errorf("bloom: %w", err)
	}
	b.cleanup.add(b.downPipeline.Destroy)
	if b.upPipeline, err = computePipeline(b.gctx, b.lib, shader.BloomUpscaling, 4, b.upLayout); err != nil {
		return fmt.Errorf("bloom: %w", err)
	}
	b.cleanup.add(b.upPipeline.Destroy)
	if b.compPipeline, err = computePipeline(b.gctx, b.lib, shader.BloomComposition, 8, b.compLayout); err != nil {
		return fmt.Errorf("bloom: %w", err)
	}
	b.cleanup.add(b.compPipeline.Destroy)

	b.downSets = make([][]*gpu.DescriptorSet, frames)
	b.upSets = make([][]*gpu.DescriptorSet, frames)
	for f := range frames {
		if b.downSets[f], err = gpu.NewDescriptorSets(b.gctx, b.downLayout, int(m)); err != nil {
			return fmt.Errorf("bloom downscale sets: %w", err)
		}
		b.cleanup.freeSets(b.downSets[f])
		if b.upSets[f], err = gpu.NewDescriptorSets(b.gctx, b.upLayout, int(m-1)); err != nil {
			return fmt.Errorf("bloom upscale sets: %w", err)
		}
		b.cleanup.freeSets(b.upSets[f])
	}
	if b.compSets, err = gpu.NewDescriptorSets(b.gctx, b.compLayout, frames); err != nil {
		return fmt.Errorf("bloom composition sets: %w", err)
	}
	b.cleanup.freeSets(b.compSets)

	for f := range frames {
		if err := b.writeStatic(f); err != nil {
			return fmt.Errorf("bloom frame %d: %w", f, err)
		}
	}
	return nil
}

// writeStatic writes every binding that does not depend on the input.
func (b *Bloom) writeStatic(frame int) error {
	m := b.cfg.MaxMips
	down, up := b.downSets[frame], b.upSets[frame]

	if err := update(down[0], 0, 1, func(w *gpu.WriteDescriptorSets) error {
		return w.AddImage(down[0], 1, b.downscale, gpu.DescriptorStorageImage, 0)
	}); err != nil {
		return err
	}
	for j := uint32(1); j < m; j++ {
		set := down[j]
		if err := update(set, 0, 2, func(w *gpu.WriteDescriptorSets) error {
			if err := w.AddImage(set, 0, b.downscale, gpu.DescriptorStorageImage, j-1); err != nil {
				return err
			}
			return w.AddImage(set, 1, b.downscale, gpu.DescriptorStorageImage, j)
		}); err != nil {
			return err
		}
	}
	for j := uint32(0); j < m-1; j++ {
		set := up[j]
		if err := update(set, 0, 3, func(w *gpu.WriteDescriptorSets) error {
			if err := w.AddImage(set, 0, b.upscale, gpu.DescriptorStorageImage, m-1-j); err != nil {
				return err
			}
			if err := w.AddImage(set, 1, b.downscale, gpu.DescriptorStorageImage, m-2-j); err != nil {
				return err
			}
			return w.AddImage(set, 2, b.upscale, gpu.DescriptorStorageImage, m-2-j)
		}); err != nil {
			return err
		}
	}
	comp := b.compSets[frame]
	return update(comp, 0, 2, func(w *gpu.WriteDescriptorSets) error {
		if err := w.AddImageSampler(comp, 1, b.upscale, 0); err != nil {
			return err
		}
		return w.AddImage(comp, 2, b.output, gpu.DescriptorStorageImage, 0)
	})
}

// validate checks every Draw precondition. It records nothing.
func (b *Bloom) validate(frame int, cmd *gpu.CommandBuffer, input *gpu.Texture) error {
	if !b.created {
		slogger().Error("bloom drawn before create")
		return ErrPassNotCreated
	}
	if err := checkFrame(b.gctx, frame); err != nil {
		return err
	}
	if err := checkRecording(cmd); err != nil {
		return err
	}
	if input == nil {
		slogger().Error("bloom pass has no input texture")
		return fmt.Errorf("bloom: %w", ErrNilInput)
	}
	if st := input.State(); st != gpu.Created {
		slogger().Error("bloom input has no native image", "texture", input.Label(), "state", st)
		return fmt.Errorf("bloom input %q: %w", input.Label(), gpu.ErrResourceNotCreated)
	}
	if mips := input.CalculateMipLevelsFromSize(); mips < b.cfg.MaxMips {
		slogger().Error("bloom input too small for mip chain",
			"width", input.Width(), "height", input.Height(),
			"mips", mips, "required", b.cfg.MaxMips)
		return fmt.Errorf("bloom: %w: %dx%d gives %d, need %d",
			ErrInsufficientMips, input.Width(), input.Height(), mips, b.cfg.MaxMips)
	}
	need := gpu.ImageUsageStorage | gpu.ImageUsageSampled
	if input.Usage()&need != need {
		slogger().Error("bloom input must allow storage and sampled use", "texture", input.Label())
		return fmt.Errorf("bloom input %q: %w", input.Label(), gpu.ErrMissingUsage)
	}
	if orig := input.MipState(0).Layout; orig != gpu.LayoutGeneral {
		if _, _, _, _, err := gpu.LookupTransition(orig, gpu.LayoutGeneral); err != nil {
			slogger().Error("bloom input cannot move to general layout", "texture", input.Label(), "layout", orig)
			return fmt.Errorf("bloom input %q: %w", input.Label(), err)
		}
		if orig != gpu.LayoutUndefined {
			if _, _, _, _, err := gpu.LookupTransition(gpu.LayoutGeneral, orig); err != nil {
				slogger().Error("bloom input layout cannot be restored", "texture", input.Label(), "layout", orig)
				return fmt.Errorf("bloom input %q: %w", input.Label(), err)
			}
		}
	}
	return nil
}

// Draw records the bloom of input into cmd for one frame in flight. The
// input needs at least MaxMips mips worth of extent and storage plus
// sampled usage; it is moved to General for the pass and restored to its
// prior layout afterwards. Any failed precondition records nothing.
func (b *Bloom) Draw(frame int, cmd *gpu.CommandBuffer, input *gpu.Texture) error {
	if err := b.validate(frame, cmd, input); err != nil {
		return err
	}
	restore := input.MipState(0).Layout
	if input.Width() != b.width || input.Height() != b.height {
		slogger().Warn("bloom input size differs from pass size",
			"input", fmt.Sprintf("%dx%d", input.Width(), input.Height()),
			"pass", fmt.Sprintf("%dx%d", b.width, b.height))
	}

	// Configure.
	down0, comp := b.downSets[frame][0], b.compSets[frame]
	if err := update(down0, 0, 1, func(w *gpu.WriteDescriptorSets) error {
		return w.AddImageAt(down0, 0, input, gpu.DescriptorStorageImage, 0, gpu.LayoutGeneral)
	}); err != nil {
		return err
	}
	if err := update(comp, 0, 1, func(w *gpu.WriteDescriptorSets) error {
		return w.AddImageAt(comp, 0, input, gpu.DescriptorCombinedImageSampler, 0, gpu.LayoutGeneral)
	}); err != nil {
		return err
	}

	// Barrier.
	if err := b.barrierInputs(cmd, input); err != nil {
		return err
	}

	// Execute.
	if err := b.downsample(frame, cmd); err != nil {
		return err
	}
	if err := b.seedUpscale(cmd); err != nil {
		return err
	}
	if err := b.upsample(frame, cmd); err != nil {
		return err
	}
	if err := b.compose(frame, cmd); err != nil {
		return err
	}

	if restore != gpu.LayoutGeneral && restore != gpu.LayoutUndefined {
		return input.TransitionLayout(cmd, restore, 0, 0)
	}
	return nil
}

// barrierInputs moves the input to General and orders this frame's writes
// to the chains after the previous frame's reads of them.
func (b *Bloom) barrierInputs(cmd *gpu.CommandBuffer, input *gpu.Texture) error {
	if err := input.TransitionLayout(cmd, gpu.LayoutGeneral, 0, 0); err != nil {
		return err
	}
	if err := input.InsertBarrier(cmd, gpu.ExplicitBarrier{
		SrcAccess: gpu.AccessTransferWrite,
		DstAccess: gpu.AccessShaderRead,
		SrcStage:  gpu.StageTransfer,
		DstStage:  gpu.StageComputeShader,
	}); err != nil {
		return err
	}
	if err := b.downscale.InsertBarrier(cmd, gpu.ExplicitBarrier{
		SrcAccess: gpu.AccessShaderRead | gpu.AccessTransferRead,
		DstAccess: gpu.AccessShaderWrite,
		SrcStage:  gpu.StageComputeShader | gpu.StageTransfer,
		DstStage:  gpu.StageComputeShader,
	}); err != nil {
		return err
	}
	return b.upscale.InsertBarrier(cmd, gpu.ExplicitBarrier{
		SrcAccess: gpu.AccessShaderRead,
		DstAccess: gpu.AccessShaderWrite | gpu.AccessTransferWrite,
		SrcStage:  gpu.StageComputeShader,
		DstStage:  gpu.StageComputeShader | gpu.StageTransfer,
	})
}

// downsample runs the seed dispatch into mip 0 followed by MaxMips-1
// dispatches. Iteration j reads mip j-1 and is sized by it.
func (b *Bloom) downsample(frame int, cmd *gpu.CommandBuffer) error {
	sets := b.downSets[frame]
	if err := cmd.BindPipeline(b.downPipeline); err != nil {
		return err
	}
	w, h := b.downscale.MipExtent(0)
	if err := b.dispatch(cmd, b.downPipeline, sets[0], pushU32(0), w, h); err != nil {
		return err
	}
	for j := uint32(1); j < b.cfg.MaxMips; j++ {
		if err := cmd.BindDescriptorSets(b.downPipeline, 0, sets[j]); err != nil {
			return err
		}
		if err := cmd.PushConstants(b.downPipeline, gpu.ShaderStageCompute, 0, pushU32(j)); err != nil {
			return err
		}
		if err := b.downscale.InsertBarrier(cmd, gpu.ExplicitBarrier{
			SrcAccess: gpu.AccessShaderWrite,
			DstAccess: gpu.AccessShaderRead,
			SrcStage:  gpu.StageComputeShader,
			DstStage:  gpu.StageComputeShader,
			BaseMip:   j - 1,
			MipCount:  1,
		}); err != nil {
			return err
		}
		w, h := b.downscale.MipExtent(j - 1)
		if err := cmd.Dispatch(groups(w), groups(h), 1); err != nil {
			return err
		}
		slogger().Debug("bloom downscale", "mip", j, "size", fmt.Sprintf("%dx%d", w, h))
	}
	return nil
}

// seedUpscale copies the smallest downscale mip into the upscale chain.
func (b *Bloom) seedUpscale(cmd *gpu.CommandBuffer) error {
	last := b.cfg.MaxMips - 1
	if err := b.downscale.InsertBarrier(cmd, gpu.ExplicitBarrier{
		SrcAccess: gpu.AccessShaderWrite,
		DstAccess: gpu.AccessTransferRead,
		SrcStage:  gpu.StageComputeShader,
		DstStage:  gpu.StageTransfer,
		BaseMip:   last,
		MipCount:  1,
	}); err != nil {
		return err
	}
	if err := b.upscale.CopyFromTexture(cmd, b.downscale, last, 1); err != nil {
		return err
	}
	return b.upscale.InsertBarrier(cmd, gpu.ExplicitBarrier{
		SrcAccess: gpu.AccessTransferWrite,
		DstAccess: gpu.AccessShaderRead | gpu.AccessShaderWrite,
		SrcStage:  gpu.StageTransfer,
		DstStage:  gpu.StageComputeShader,
	})
}

// upsample writes upscale mips MaxMips-2 down to 0, each dispatch sized by
// the mip it writes.
func (b *Bloom) upsample(frame int, cmd *gpu.CommandBuffer) error {
	m := b.cfg.MaxMips
	if err := cmd.BindPipeline(b.upPipeline); err != nil {
		return err
	}
	if err := cmd.PushConstants(b.upPipeline, gpu.ShaderStageCompute, 0, pushF32(b.cfg.FilterRadius)); err != nil {
		return err
	}
	for j := uint32(0); j < m-1; j++ {
		out := m - 2 - j
		if err := cmd.BindDescriptorSets(b.upPipeline, 0, b.upSets[frame][j]); err != nil {
			return err
		}
		w, h := b.upscale.MipExtent(out)
		if err := cmd.Dispatch(groups(w), groups(h), 1); err != nil {
			return err
		}
		if err := b.upscale.InsertBarrier(cmd, gpu.ExplicitBarrier{
			SrcAccess: gpu.AccessShaderWrite,
			DstAccess: gpu.AccessShaderRead,
			SrcStage:  gpu.StageComputeShader,
			DstStage:  gpu.StageComputeShader,
			BaseMip:   out,
			MipCount:  1,
		}); err != nil {
			return err
		}
		slogger().Debug("bloom upscale", "mip", out, "size", fmt.Sprintf("%dx%d", w, h))
	}
	return nil
}

// compose mixes the upscaled bloom into the input. One invocation covers
// each texel of the output image.
func (b *Bloom) compose(frame int, cmd *gpu.CommandBuffer) error {
	if err := cmd.BindPipeline(b.compPipeline); err != nil {
		return err
	}
	push := pushF32(b.cfg.Intensity, b.cfg.MixWeight)
	if err := b.dispatch(cmd, b.compPipeline, b.compSets[frame], push, b.output.Width(), b.output.Height()); err != nil {
		return err
	}
	return b.output.InsertBarrier(cmd, gpu.ExplicitBarrier{
		SrcAccess: gpu.AccessShaderWrite,
		DstAccess: gpu.AccessShaderRead,
		SrcStage:  gpu.StageComputeShader,
		DstStage:  gpu.StageFragmentShader,
	})
}

func (b *Bloom) dispatch(cmd *gpu.CommandBuffer, p *gpu.Pipeline, set *gpu.DescriptorSet, push []byte, w, h uint32) error {
	if err := cmd.BindDescriptorSets(p, 0, set); err != nil {
		return err
	}
	if err := cmd.PushConstants(p, gpu.ShaderStageCompute, 0, push); err != nil {
		return err
	}
	return cmd.Dispatch(groups(w), groups(h), 1)
}

// Destroy releases the textures, pipelines and descriptor sets. Destroy on
// a pass that was never created logs a warning.
func (b *Bloom) Destroy() {
	if !b.created {
		slogger().Warn("destroy on bloom pass that was not created")
		return
	}
	b.cleanup.run()
	b.downSets, b.upSets, b.compSets = nil, nil, nil
	b.downscale, b.upscale, b.output = nil, nil, nil
	b.downPipeline, b.upPipeline, b.compPipeline = nil, nil, nil
	b.created = false
}
