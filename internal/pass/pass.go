// Package pass implements the composite render passes: bloom, cubemap
// preprocessing for image-based lighting, LDR tone mapping and the skybox.
//
// Every pass follows the same lifecycle. Create allocates pipelines,
// textures and descriptor sets once; a second Create logs a warning and
// does nothing. Draw records work into a caller-owned command buffer and
// validates every precondition before the first command, so a rejected
// Draw records nothing. Destroy releases what Create allocated.
//
// Within a Draw the order is always: descriptor writes, then barriers,
// then dispatches or draws.
//
// Passes are not safe for concurrent use.
package pass

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/chewxy/math32"

	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/mesh"
	"github.com/gogpu/lumen/internal/shader"
)

// Pass errors.
var (
	// ErrPassNotCreated is returned by Draw before Create.
	ErrPassNotCreated = errors.New("pass: not created")

	// ErrNilInput is returned when a required input texture or mesh is nil.
	ErrNilInput = errors.New("pass: input is nil")

	// ErrInsufficientMips is returned when a texture is too small for the
	// configured mip chain.
	ErrInsufficientMips = errors.New("pass: input has too few mip levels")

	// ErrFrameIndex is returned for a frame index outside the frames in flight.
	ErrFrameIndex = errors.New("pass: frame index out of range")

	// ErrUnsupported is returned when the backend lacks a feature a pass needs.
	ErrUnsupported = errors.New("pass: not supported by backend")
)

// workgroupSize is the local size of every compute shader in both axes.
const workgroupSize = 16

// groups returns the workgroup count covering n invocations.
func groups(n uint32) uint32 {
	return uint32(math32.Ceil(float32(n) / workgroupSize))
}

func checkFrame(gctx *gpu.Context, frame int) error {
	if frame < 0 || frame >= gctx.FramesInFlight() {
		slogger().Error("frame index out of range", "frame", frame, "frames", gctx.FramesInFlight())
		return fmt.Errorf("%w: %d of %d", ErrFrameIndex, frame, gctx.FramesInFlight())
	}
	return nil
}

func checkRecording(cmd *gpu.CommandBuffer) error {
	if cmd == nil || cmd.State() != gpu.CommandBufferRecording {
		slogger().Error("pass drawn into a command buffer that is not recording")
		return gpu.ErrNotRecording
	}
	return nil
}

// pushU32 and pushF32 encode push-constant payloads.
func pushU32(vs ...uint32) []byte {
	b := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

func pushF32(vs ...float32) []byte {
	b := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

// summary builds a set layout summary from bindings that are known to be
// valid.
func summary(bindings ...gpu.LayoutBinding) *gpu.SetLayoutSummary {
	s, err := gpu.NewSetLayoutSummary(bindings...)
	if err != nil {
		panic(fmt.Sprintf("pass: invalid set layout: %v", err))
	}
	return s
}

func binding(n uint32, typ gpu.DescriptorType, stages gpu.ShaderStage) gpu.LayoutBinding {
	return gpu.LayoutBinding{Binding: n, Type: typ, Stages: stages, Count: 1}
}

func cubeBinding(n uint32, stages gpu.ShaderStage) gpu.LayoutBinding {
	b := binding(n, gpu.DescriptorCombinedImageSampler, stages)
	b.View = gpu.ViewTypeCube
	return b
}

// setLayouts resolves summaries to cached layout handles in set order.
func setLayouts(gctx *gpu.Context, summaries ...*gpu.SetLayoutSummary) ([]gpu.SetLayoutHandle, error) {
	out := make([]gpu.SetLayoutHandle, len(summaries))
	for i, s := range summaries {
		h, err := gctx.SetLayouts().Get(s)
		if err != nil {
			return nil, fmt.Errorf("set layout %d: %w", i, err)
		}
		out[i] = h
	}
	return out, nil
}

// computePipeline builds a compute pipeline from a library pipeline.
func computePipeline(gctx *gpu.Context, lib *shader.Library, name string, push uint32, summaries ...*gpu.SetLayoutSummary) (*gpu.Pipeline, error) {
	mods, err := lib.CreateModules(gctx.Device(), name)
	if err != nil {
		return nil, err
	}
	defer mods.Destroy()

	layouts, err := setLayouts(gctx, summaries...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	d := gpu.ComputePipelineData{
		Label:      name,
		Shader:     mods.Module(gpu.ShaderStageCompute),
		EntryPoint: "main",
		SetLayouts: layouts,
	}
	if push > 0 {
		d.PushConstants = []gpu.PushConstantRange{{Stages: gpu.ShaderStageCompute, Size: push}}
	}
	p := gpu.NewPipeline(gctx, gpu.PipelineCompute)
	if err := p.SetComputeData(d); err != nil {
		return nil, err
	}
	if err := p.Create(); err != nil {
		return nil, err
	}
	return p, nil
}

// graphicsPipeline builds a graphics pipeline for the mesh vertex layout.
func graphicsPipeline(gctx *gpu.Context, lib *shader.Library, name string, rp *gpu.RenderPass, state gpu.GraphicsState, summaries ...*gpu.SetLayoutSummary) (*gpu.Pipeline, error) {
	mods, err := lib.CreateModules(gctx.Device(), name)
	if err != nil {
		return nil, err
	}
	defer mods.Destroy()

	layouts, err := setLayouts(gctx, summaries...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	bindings, attrs := mesh.VertexLayout()
	p := gpu.NewPipeline(gctx, gpu.PipelineGraphics)
	if err := p.SetGraphicsData(gpu.GraphicsPipelineData{
		Label:            name,
		Shaders:          mods.Stages(),
		SetLayouts:       layouts,
		VertexBindings:   bindings,
		VertexAttributes: attrs,
		RenderPass:       rp,
		State:            state,
	}); err != nil {
		return nil, err
	}
	if err := p.Create(); err != nil {
		return nil, err
	}
	return p, nil
}

// releaser runs cleanup functions in reverse registration order.
type releaser []func()

func (r *releaser) add(f func()) { *r = append(*r, f) }

func (r *releaser) run() {
	for i := len(*r) - 1; i >= 0; i-- {
		(*r)[i]()
	}
	*r = nil
}

// freeSets registers sets to be returned to their pools.
func (r *releaser) freeSets(sets []*gpu.DescriptorSet) {
	r.add(func() {
		if err := gpu.FreeDescriptorSets(sets...); err != nil {
			slogger().Warn("could not free descriptor sets", "count", len(sets), "err", err)
		}
	})
}

// update applies one batch of writes to a set.
func update(set *gpu.DescriptorSet, buffers, images int, add func(w *gpu.WriteDescriptorSets) error) error {
	w := gpu.NewWriteDescriptorSets(buffers, images)
	if err := add(w); err != nil {
		return err
	}
	return set.Update(w)
}
