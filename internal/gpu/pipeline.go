package gpu

import (
	"errors"
	"fmt"
)

// Pipeline errors.
var (
	// ErrPipelineDataNotSet is returned by Create before SetGraphicsData or
	// SetComputeData.
	ErrPipelineDataNotSet = errors.New("gpu: pipeline data not set")

	// ErrPipelineKindMismatch is returned when data of the wrong kind is set.
	ErrPipelineKindMismatch = errors.New("gpu: pipeline data does not match pipeline kind")

	// ErrPushConstantRange is returned for push-constant ranges beyond the device limit.
	ErrPushConstantRange = errors.New("gpu: push constant range exceeds device limit")

	// ErrNoShaderStages is returned when a pipeline has no shader module.
	ErrNoShaderStages = errors.New("gpu: pipeline has no shader stages")
)

// PipelineKind is the kind of a pipeline.
type PipelineKind uint8

const (
	// PipelineGraphics rasterizes inside a render pass.
	PipelineGraphics PipelineKind = iota
	// PipelineCompute runs compute dispatches.
	PipelineCompute
)

// String returns the kind name.
func (k PipelineKind) String() string {
	if k == PipelineCompute {
		return "Compute"
	}
	return "Graphics"
}

// DefaultGraphicsState returns the fixed-function defaults: triangle list,
// back-face culling, counter-clockwise front faces, one sample, depth test
// off with a Less comparison.
func DefaultGraphicsState() GraphicsState {
	return GraphicsState{
		Topology:         TopologyTriangleList,
		CullMode:         CullBack,
		FrontFace:        FrontFaceCounterClockwise,
		Samples:          1,
		DepthTest:        false,
		DepthWrite:       false,
		DepthCompare:     CompareLess,
		ColorAttachments: 1,
	}
}

// GraphicsPipelineData is everything a graphics pipeline is built from.
type GraphicsPipelineData struct {
	Label            string
	Shaders          []ShaderStageModule
	SetLayouts       []SetLayoutHandle
	PushConstants    []PushConstantRange
	VertexBindings   []VertexBinding
	VertexAttributes []VertexAttribute
	RenderPass       *RenderPass
	Subpass          uint32
	State            GraphicsState
}

// ComputePipelineData is everything a compute pipeline is built from.
type ComputePipelineData struct {
	Label         string
	Shader        ShaderModuleHandle
	EntryPoint    string
	SetLayouts    []SetLayoutHandle
	PushConstants []PushConstantRange
}

// Pipeline is a graphics or compute pipeline and its layout.
//
// Lifecycle:
//  1. NewPipeline picks the kind
//  2. SetGraphicsData or SetComputeData supplies the description
//  3. Create builds the layout and the pipeline
//  4. Destroy releases both
type Pipeline struct {
	gctx     *Context
	kind     PipelineKind
	graphics *GraphicsPipelineData
	compute  *ComputePipelineData

	layout PipelineLayoutHandle
	handle PipelineHandle
	state  Lifecycle
}

// NewPipeline returns an uncreated pipeline of the given kind.
func NewPipeline(gctx *Context, kind PipelineKind) *Pipeline {
	return &Pipeline{gctx: gctx, kind: kind}
}

// Kind returns the pipeline kind.
func (p *Pipeline) Kind() PipelineKind { return p.kind }

// BindPoint returns the bind point derived from the kind.
func (p *Pipeline) BindPoint() BindPoint {
	if p.kind == PipelineCompute {
		return BindPointCompute
	}
	return BindPointGraphics
}

// SetGraphicsData sets the graphics description. A zero State is replaced
// by DefaultGraphicsState.
func (p *Pipeline) SetGraphicsData(d GraphicsPipelineData) error {
	if p.kind != PipelineGraphics {
		return fmt.Errorf("%w: %s pipeline", ErrPipelineKindMismatch, p.kind)
	}
	if d.State == (GraphicsState{}) {
		d.State = DefaultGraphicsState()
	}
	if d.State.Samples == 0 {
		d.State.Samples = 1
	}
	if d.State.ColorAttachments == 0 {
		d.State.ColorAttachments = 1
	}
	p.graphics = &d
	return nil
}

// SetComputeData sets the compute description.
func (p *Pipeline) SetComputeData(d ComputePipelineData) error {
	if p.kind != PipelineCompute {
		return fmt.Errorf("%w: %s pipeline", ErrPipelineKindMismatch, p.kind)
	}
	if d.EntryPoint == "" {
		d.EntryPoint = "main"
	}
	p.compute = &d
	return nil
}

// Create builds the pipeline layout and the pipeline. A second Create logs
// a warning and does nothing.
func (p *Pipeline) Create() error {
	if p.state.live() {
		slogger().Warn("pipeline already created", "kind", p.kind)
		return nil
	}
	switch p.kind {
	case PipelineGraphics:
		if p.graphics == nil {
			return fmt.Errorf("create graphics pipeline: %w", ErrPipelineDataNotSet)
		}
		return p.createGraphics()
	default:
		if p.compute == nil {
			return fmt.Errorf("create compute pipeline: %w", ErrPipelineDataNotSet)
		}
		return p.createCompute()
	}
}

// createLayout is the layout path shared by both kinds.
func (p *Pipeline) createLayout(setLayouts []SetLayoutHandle, ranges []PushConstantRange) error {
	caps := p.gctx.caps
	for _, r := range ranges {
		if !caps.PushConstants {
			return fmt.Errorf("%w: backend has no push constants", ErrUnsupported)
		}
		if r.Offset+r.Size > caps.MaxPushConstantsSize {
			return fmt.Errorf("%w: [%d, %d) > %d", ErrPushConstantRange,
				r.Offset, r.Offset+r.Size, caps.MaxPushConstantsSize)
		}
	}
	l, err := p.gctx.device.CreatePipelineLayout(setLayouts, ranges)
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	p.layout = l
	return nil
}

func (p *Pipeline) createGraphics() error {
	d := p.graphics
	if len(d.Shaders) == 0 {
		return fmt.Errorf("create graphics pipeline %q: %w", d.Label, ErrNoShaderStages)
	}
	if d.RenderPass == nil {
		return fmt.Errorf("create graphics pipeline %q: %w", d.Label, ErrNilRenderPass)
	}
	rp, err := d.RenderPass.Handle()
	if err != nil {
		return err
	}
	if err := p.createLayout(d.SetLayouts, d.PushConstants); err != nil {
		return fmt.Errorf("graphics pipeline %q: %w", d.Label, err)
	}
	h, err := p.gctx.device.CreateGraphicsPipeline(&GraphicsPipelineDesc{
		Label:            d.Label,
		Layout:           p.layout,
		RenderPass:       rp,
		Subpass:          d.Subpass,
		Stages:           d.Shaders,
		VertexBindings:   d.VertexBindings,
		VertexAttributes: d.VertexAttributes,
		State:            d.State,
	})
	if err != nil {
		p.gctx.device.DestroyPipelineLayout(p.layout)
		p.layout = 0
		return fmt.Errorf("create graphics pipeline %q: %w", d.Label, err)
	}
	p.handle, p.state = h, Created
	slogger().Debug("graphics pipeline created", "label", d.Label, "stages", len(d.Shaders))
	return nil
}

func (p *Pipeline) createCompute() error {
	d := p.compute
	if d.Shader == 0 {
		return fmt.Errorf("create compute pipeline %q: %w", d.Label, ErrNoShaderStages)
	}
	if err := p.createLayout(d.SetLayouts, d.PushConstants); err != nil {
		return fmt.Errorf("compute pipeline %q: %w", d.Label, err)
	}
	h, err := p.gctx.device.CreateComputePipeline(&ComputePipelineDesc{
		Label:  d.Label,
		Layout: p.layout,
		Stage:  ShaderStageModule{Stage: ShaderStageCompute, Module: d.Shader, EntryPoint: d.EntryPoint},
	})
	if err != nil {
		p.gctx.device.DestroyPipelineLayout(p.layout)
		p.layout = 0
		return fmt.Errorf("create compute pipeline %q: %w", d.Label, err)
	}
	p.handle, p.state = h, Created
	slogger().Debug("compute pipeline created", "label", d.Label)
	return nil
}

// Handle returns the native pipeline handle.
func (p *Pipeline) Handle() (PipelineHandle, error) {
	if err := checkLive(p.state, p.kind.String()+" pipeline"); err != nil {
		return 0, err
	}
	return p.handle, nil
}

// Layout returns the pipeline layout handle.
func (p *Pipeline) Layout() PipelineLayoutHandle { return p.layout }

// Destroy releases the pipeline and its layout.
func (p *Pipeline) Destroy() {
	if !p.state.live() {
		slogger().Warn("destroy on pipeline without native object", "kind", p.kind, "state", p.state)
		return
	}
	p.gctx.device.DestroyPipeline(p.handle)
	p.gctx.device.DestroyPipelineLayout(p.layout)
	p.handle, p.layout, p.state = 0, 0, Destroyed
}
