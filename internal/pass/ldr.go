package pass

import (
	"fmt"

	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/mesh"
	"github.com/gogpu/lumen/internal/shader"
)

// LDR tone maps the HDR target into the LDR render pass with exposure and
// gamma correction. It draws a fullscreen quad inside a render pass the
// caller has begun.
type LDR struct {
	gctx *gpu.Context
	lib  *shader.Library

	created bool

	layout   *gpu.SetLayoutSummary
	pipeline *gpu.Pipeline
	exposure []*gpu.Buffer
	sets     []*gpu.DescriptorSet
	bound    []bool

	cleanup releaser
}

// NewLDR returns an uncreated LDR pass.
func NewLDR(gctx *gpu.Context, lib *shader.Library) *LDR {
	return &LDR{
		gctx: gctx,
		lib:  lib,
		layout: summary(
			binding(0, gpu.DescriptorCombinedImageSampler, gpu.ShaderStageFragment),
			binding(1, gpu.DescriptorUniformBuffer, gpu.ShaderStageFragment),
		),
	}
}

// Created reports whether Create succeeded and Destroy has not run since.
func (l *LDR) Created() bool { return l.created }

// Create builds the pipeline for rp and one exposure buffer and set per
// frame in flight. The sample count follows the first attachment of rp.
func (l *LDR) Create(rp *gpu.RenderPass) error {
	if l.created {
		slogger().Warn("ldr pass already created")
		return nil
	}
	if rp == nil {
		return fmt.Errorf("ldr: %w", gpu.ErrNilRenderPass)
	}
	if err := l.create(rp); err != nil {
		l.cleanup.run()
		l.pipeline, l.exposure, l.sets, l.bound = nil, nil, nil, nil
		return err
	}
	l.created = true
	slogger().Info("ldr pass created", "frames", l.gctx.FramesInFlight())
	return nil
}

func (l *LDR) create(rp *gpu.RenderPass) error {
	state := gpu.DefaultGraphicsState()
	state.CullMode = gpu.CullNone
	if desc := rp.Desc(); desc != nil && len(desc.Attachments) > 0 {
		state.Samples = max(desc.Attachments[0].Samples, 1)
	}
	var err error
	if l.pipeline, err = graphicsPipeline(l.gctx, l.lib, shader.LDRConversion, rp, state, l.layout); err != nil {
		return fmt.Errorf("ldr: %w", err)
	}
	l.cleanup.add(l.pipeline.Destroy)

	if l.exposure, err = gpu.NewUniformBuffers(l.gctx, 4, "ldr exposure"); err != nil {
		return fmt.Errorf("ldr: %w", err)
	}
	for _, b := range l.exposure {
		l.cleanup.add(b.Destroy)
		if err := b.WriteValue(0, float32(1)); err != nil {
			return err
		}
	}
	if l.sets, err = gpu.NewDescriptorSets(l.gctx, l.layout, l.gctx.FramesInFlight()); err != nil {
		return fmt.Errorf("ldr sets: %w", err)
	}
	l.cleanup.freeSets(l.sets)
	l.bound = make([]bool, len(l.sets))
	return nil
}

// UpdateDescriptorSets points the set of frame at hdr, which is sampled in
// the ShaderReadOnly layout the HDR render pass leaves it in.
func (l *LDR) UpdateDescriptorSets(frame int, hdr *gpu.Texture) error {
	if !l.created {
		slogger().Error("ldr descriptors updated before create")
		return ErrPassNotCreated
	}
	if err := checkFrame(l.gctx, frame); err != nil {
		return err
	}
	if hdr == nil {
		slogger().Error("ldr pass has no hdr texture")
		return fmt.Errorf("ldr: %w", ErrNilInput)
	}
	if hdr.Usage()&gpu.ImageUsageSampled == 0 {
		slogger().Error("ldr input must be sampled", "texture", hdr.Label())
		return fmt.Errorf("ldr input %q: %w", hdr.Label(), gpu.ErrMissingUsage)
	}
	set := l.sets[frame]
	if err := update(set, 1, 1, func(w *gpu.WriteDescriptorSets) error {
		if err := w.AddImageAt(set, 0, hdr, gpu.DescriptorCombinedImageSampler, 0, gpu.LayoutShaderReadOnly); err != nil {
			return err
		}
		return w.AddUniformBuffer(set, 1, l.exposure[frame])
	}); err != nil {
		return fmt.Errorf("ldr frame %d: %w", frame, err)
	}
	l.bound[frame] = true
	return nil
}

// UpdateExposure writes the exposure of frame.
func (l *LDR) UpdateExposure(frame int, exposure float32) error {
	if !l.created {
		slogger().Error("ldr exposure updated before create")
		return ErrPassNotCreated
	}
	if err := checkFrame(l.gctx, frame); err != nil {
		return err
	}
	if exposure <= 0 {
		slogger().Warn("non-positive exposure renders black", "exposure", exposure)
	}
	return l.exposure[frame].WriteValue(0, exposure)
}

// Draw records the tone mapping quad over width x height. cmd must be
// inside the LDR render pass.
func (l *LDR) Draw(frame int, cmd *gpu.CommandBuffer, quad *mesh.Mesh, width, height uint32) error {
	if !l.created {
		slogger().Error("ldr drawn before create")
		return ErrPassNotCreated
	}
	if err := checkFrame(l.gctx, frame); err != nil {
		return err
	}
	if err := checkRecording(cmd); err != nil {
		return err
	}
	if !cmd.InRenderPass() {
		slogger().Error("ldr drawn outside a render pass")
		return fmt.Errorf("ldr: %w", gpu.ErrNoRenderPass)
	}
	if quad == nil {
		slogger().Error("ldr pass has no quad mesh")
		return fmt.Errorf("ldr quad mesh: %w", ErrNilInput)
	}
	if !l.bound[frame] {
		slogger().Error("ldr drawn before its hdr input was bound", "frame", frame)
		return fmt.Errorf("ldr frame %d hdr input: %w", frame, ErrNilInput)
	}

	if err := cmd.BindPipeline(l.pipeline); err != nil {
		return err
	}
	if err := cmd.SetViewport(float32(width), float32(height)); err != nil {
		return err
	}
	if err := cmd.SetScissor(width, height); err != nil {
		return err
	}
	if err := cmd.BindDescriptorSets(l.pipeline, 0, l.sets[frame]); err != nil {
		return err
	}
	return quad.Draw(cmd)
}

// Destroy releases the pipeline, exposure buffers and descriptor sets.
func (l *LDR) Destroy() {
	if !l.created {
		slogger().Warn("destroy on ldr pass that was not created")
		return
	}
	l.cleanup.run()
	l.pipeline, l.exposure, l.sets, l.bound = nil, nil, nil, nil
	l.created = false
}
