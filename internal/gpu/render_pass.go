package gpu

import (
	"errors"
	"fmt"
	"sync"
)

// Render pass errors.
var (
	// ErrReferenceArity is returned by Build when the number of attachment
	// references differs from the number of attachment descriptions.
	ErrReferenceArity = errors.New("gpu: attachment reference count does not match attachment count")

	// ErrReferenceCapacity is returned when more references are requested
	// than were preallocated.
	ErrReferenceCapacity = errors.New("gpu: attachment reference capacity exceeded")

	// ErrInvalidReference is returned when a reference names a missing slot.
	ErrInvalidReference = errors.New("gpu: attachment reference out of range")

	// ErrNoSubpass is returned by Build when no subpass was added.
	ErrNoSubpass = errors.New("gpu: render pass has no subpass")

	// ErrMissingFormat is returned when a render pass kind needs a format
	// that was not supplied.
	ErrMissingFormat = errors.New("gpu: render pass format not set")

	// ErrUnknownRenderPassKind is returned for kinds outside the closed set.
	ErrUnknownRenderPassKind = errors.New("gpu: unknown render pass kind")
)

// LoadOp is what happens to attachment contents at the start of a pass.
type LoadOp uint8

const (
	LoadOpClear LoadOp = iota
	LoadOpLoad
	LoadOpDontCare
)

// StoreOp is what happens to attachment contents at the end of a pass.
type StoreOp uint8

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

// AttachmentDesc describes one render pass attachment.
type AttachmentDesc struct {
	Format         Format
	Samples        uint32
	LoadOp         LoadOp
	StoreOp        StoreOp
	StencilLoadOp  LoadOp
	StencilStoreOp StoreOp
	InitialLayout  ImageLayout
	FinalLayout    ImageLayout
}

// AttachmentReference is a resolved reference to an attachment slot.
type AttachmentReference struct {
	Attachment uint32
	Layout     ImageLayout
}

// SubpassDesc is a resolved subpass.
type SubpassDesc struct {
	Color        []AttachmentReference
	Resolve      []AttachmentReference
	DepthStencil *AttachmentReference
}

// SubpassDependency orders work between subpasses.
type SubpassDependency struct {
	SrcSubpass, DstSubpass uint32
	SrcStage, DstStage     PipelineStage
	SrcAccess, DstAccess   Access
}

// RenderPassDesc is the validated, backend-ready render pass description.
type RenderPassDesc struct {
	Label        string
	Attachments  []AttachmentDesc
	Subpasses    []SubpassDesc
	Dependencies []SubpassDependency
}

// =============================================================================
// Builder
// =============================================================================

// AttachmentRef names a reference slot of a RenderPassBuilder by index.
type AttachmentRef int

// SubpassRefs lists the reference slots one subpass uses.
type SubpassRefs struct {
	Color   []AttachmentRef
	Resolve []AttachmentRef
	// Depth is -1 when the subpass has no depth attachment.
	Depth AttachmentRef
}

// NoDepth marks a subpass without a depth attachment.
const NoDepth AttachmentRef = -1

// RenderPassBuilder accumulates attachments, references, subpasses and
// dependencies, then validates them in Build.
//
// State Machine:
//
//	Empty -> AddAttachment* -> NextReference* -> AddSubpass* -> Build() -> RenderPassDesc
//
// References are index-based: NextReference hands out the next slot of a
// fixed-capacity table and fails once the capacity set by
// PreallocateReferences is used up.
type RenderPassBuilder struct {
	label       string
	attachments []AttachmentDesc
	refs        []AttachmentReference
	refCap      int
	subpasses   []SubpassRefs
	deps        []SubpassDependency
	err         error
}

// NewRenderPassBuilder returns an empty builder.
func NewRenderPassBuilder(label string) *RenderPassBuilder {
	return &RenderPassBuilder{label: label}
}

// AddAttachment appends an attachment description and returns its slot.
func (b *RenderPassBuilder) AddAttachment(d AttachmentDesc) uint32 {
	if d.Samples == 0 {
		d.Samples = 1
	}
	b.attachments = append(b.attachments, d)
	return uint32(len(b.attachments) - 1)
}

// PreallocateReferences fixes the reference capacity to n.
func (b *RenderPassBuilder) PreallocateReferences(n int) {
	b.refCap = n
	b.refs = make([]AttachmentReference, 0, n)
}

// NextReference fills the next reference slot and returns its index.
// A capacity error is also kept and returned by Build.
func (b *RenderPassBuilder) NextReference(attachment uint32, layout ImageLayout) (AttachmentRef, error) {
	if len(b.refs) >= b.refCap {
		slogger().Error("attachment reference capacity exceeded",
			"renderPass", b.label, "capacity", b.refCap)
		err := fmt.Errorf("%w: capacity %d", ErrReferenceCapacity, b.refCap)
		if b.err == nil {
			b.err = err
		}
		return 0, err
	}
	b.refs = append(b.refs, AttachmentReference{Attachment: attachment, Layout: layout})
	return AttachmentRef(len(b.refs) - 1), nil
}

// reference is NextReference for fixed layouts. Its error is kept for
// Build, which fails with it.
func (b *RenderPassBuilder) reference(attachment uint32, layout ImageLayout) AttachmentRef {
	r, _ := b.NextReference(attachment, layout)
	return r
}

// AddSubpass appends a subpass.
func (b *RenderPassBuilder) AddSubpass(s SubpassRefs) {
	b.subpasses = append(b.subpasses, s)
}

// AddDependency appends a subpass dependency.
func (b *RenderPassBuilder) AddDependency(d SubpassDependency) {
	b.deps = append(b.deps, d)
}

// resolve returns the reference in slot r.
func (b *RenderPassBuilder) resolve(r AttachmentRef) (AttachmentReference, error) {
	if r < 0 || int(r) >= len(b.refs) {
		return AttachmentReference{}, fmt.Errorf("%w: slot %d of %d", ErrInvalidReference, r, len(b.refs))
	}
	return b.refs[r], nil
}

func (b *RenderPassBuilder) resolveAll(rs []AttachmentRef) ([]AttachmentReference, error) {
	out := make([]AttachmentReference, 0, len(rs))
	for _, r := range rs {
		ref, err := b.resolve(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

// Build validates the builder and returns the render pass description.
func (b *RenderPassBuilder) Build() (*RenderPassDesc, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.refs) != len(b.attachments) {
		return nil, fmt.Errorf("%w: %d references, %d attachments",
			ErrReferenceArity, len(b.refs), len(b.attachments))
	}
	if len(b.subpasses) == 0 {
		return nil, ErrNoSubpass
	}
	for i, ref := range b.refs {
		if int(ref.Attachment) >= len(b.attachments) {
			return nil, fmt.Errorf("%w: reference %d names attachment %d", ErrInvalidReference, i, ref.Attachment)
		}
	}

	desc := &RenderPassDesc{
		Label:        b.label,
		Attachments:  append([]AttachmentDesc(nil), b.attachments...),
		Dependencies: append([]SubpassDependency(nil), b.deps...),
	}
	for _, sp := range b.subpasses {
		color, err := b.resolveAll(sp.Color)
		if err != nil {
			return nil, err
		}
		resolve, err := b.resolveAll(sp.Resolve)
		if err != nil {
			return nil, err
		}
		sd := SubpassDesc{Color: color, Resolve: resolve}
		if sp.Depth != NoDepth {
			d, err := b.resolve(sp.Depth)
			if err != nil {
				return nil, err
			}
			sd.DepthStencil = &d
		}
		desc.Subpasses = append(desc.Subpasses, sd)
	}
	return desc, nil
}

// =============================================================================
// Render pass kinds
// =============================================================================

// RenderPassKind is the closed set of render passes the renderer uses.
type RenderPassKind uint8

const (
	// RenderPassHDR renders the scene into a float color target with depth.
	RenderPassHDR RenderPassKind = iota
	// RenderPassLDR tone maps into the display format with an MSAA resolve.
	RenderPassLDR
	// RenderPassCubemap renders the six faces of an environment cubemap.
	RenderPassCubemap
	// RenderPassBRDF renders the BRDF integration lookup table.
	RenderPassBRDF
	// RenderPassPrefilter renders one mip of the prefiltered environment map.
	RenderPassPrefilter
)

// String returns the kind name.
func (k RenderPassKind) String() string {
	switch k {
	case RenderPassHDR:
		return "HDR"
	case RenderPassLDR:
		return "LDR"
	case RenderPassCubemap:
		return "Cubemap"
	case RenderPassBRDF:
		return "BRDF"
	case RenderPassPrefilter:
		return "Prefilter"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// RenderPassParams carries the per-kind inputs of BuildRenderPass.
type RenderPassParams struct {
	// ColorFormat is required by LDR.
	ColorFormat Format
	// DepthFormat is used by HDR; it defaults to D32Sfloat.
	DepthFormat Format
	// Samples is the LDR MSAA sample count.
	Samples uint32
	// Offscreen makes LDR resolve into TransferSrc instead of PresentSrc.
	Offscreen bool
}

// colorOutputDependency orders a pass after earlier color writes.
var colorOutputDependency = SubpassDependency{
	SrcSubpass: SubpassExternal,
	DstSubpass: 0,
	SrcStage:   StageColorAttachmentOutput,
	DstStage:   StageColorAttachmentOutput,
	SrcAccess:  AccessNone,
	DstAccess:  AccessColorAttachmentWrite,
}

// BuildRenderPass populates a builder for kind and returns the validated
// description.
func BuildRenderPass(kind RenderPassKind, p RenderPassParams) (*RenderPassDesc, error) {
	b := NewRenderPassBuilder(kind.String())
	switch kind {
	case RenderPassHDR:
		depth := p.DepthFormat
		if depth == FormatUndefined {
			depth = FormatD32Sfloat
		}
		color := b.AddAttachment(AttachmentDesc{
			Format:         FormatR32G32B32A32Sfloat,
			LoadOp:         LoadOpClear,
			StoreOp:        StoreOpStore,
			StencilLoadOp:  LoadOpDontCare,
			StencilStoreOp: StoreOpDontCare,
			InitialLayout:  LayoutUndefined,
			FinalLayout:    LayoutShaderReadOnly,
		})
		ds := b.AddAttachment(AttachmentDesc{
			Format:         depth,
			LoadOp:         LoadOpClear,
			StoreOp:        StoreOpDontCare,
			StencilLoadOp:  LoadOpDontCare,
			StencilStoreOp: StoreOpDontCare,
			InitialLayout:  LayoutUndefined,
			FinalLayout:    LayoutDepthStencilAttachment,
		})
		b.PreallocateReferences(2)
		colorRef := b.reference(color, LayoutColorAttachment)
		depthRef := b.reference(ds, LayoutDepthStencilAttachment)
		b.AddSubpass(SubpassRefs{Color: []AttachmentRef{colorRef}, Depth: depthRef})
		b.AddDependency(SubpassDependency{
			SrcSubpass: SubpassExternal,
			DstSubpass: 0,
			SrcStage:   StageColorAttachmentOutput | StageEarlyFragmentTests,
			DstStage:   StageColorAttachmentOutput | StageEarlyFragmentTests,
			SrcAccess:  AccessNone,
			DstAccess:  AccessColorAttachmentWrite | AccessDepthStencilWrite,
		})

	case RenderPassLDR:
		if p.ColorFormat == FormatUndefined {
			slogger().Error("LDR render pass needs a color format")
			return nil, fmt.Errorf("%s: %w", kind, ErrMissingFormat)
		}
		final := LayoutPresentSrc
		if p.Offscreen {
			final = LayoutTransferSrc
		}
		if p.Samples <= 1 {
			color := b.AddAttachment(AttachmentDesc{
				Format:        p.ColorFormat,
				LoadOp:        LoadOpClear,
				StoreOp:       StoreOpStore,
				StencilLoadOp: LoadOpDontCare, StencilStoreOp: StoreOpDontCare,
				InitialLayout: LayoutUndefined,
				FinalLayout:   final,
			})
			b.PreallocateReferences(1)
			ref := b.reference(color, LayoutColorAttachment)
			b.AddSubpass(SubpassRefs{Color: []AttachmentRef{ref}, Depth: NoDepth})
		} else {
			msaa := b.AddAttachment(AttachmentDesc{
				Format:        p.ColorFormat,
				Samples:       p.Samples,
				LoadOp:        LoadOpClear,
				StoreOp:       StoreOpStore,
				StencilLoadOp: LoadOpDontCare, StencilStoreOp: StoreOpDontCare,
				InitialLayout: LayoutUndefined,
				FinalLayout:   LayoutColorAttachment,
			})
			resolve := b.AddAttachment(AttachmentDesc{
				Format:        p.ColorFormat,
				Samples:       1,
				LoadOp:        LoadOpDontCare,
				StoreOp:       StoreOpStore,
				StencilLoadOp: LoadOpDontCare, StencilStoreOp: StoreOpDontCare,
				InitialLayout: LayoutUndefined,
				FinalLayout:   final,
			})
			b.PreallocateReferences(2)
			colorRef := b.reference(msaa, LayoutColorAttachment)
			resolveRef := b.reference(resolve, LayoutColorAttachment)
			b.AddSubpass(SubpassRefs{
				Color:   []AttachmentRef{colorRef},
				Resolve: []AttachmentRef{resolveRef},
				Depth:   NoDepth,
			})
		}
		b.AddDependency(colorOutputDependency)

	case RenderPassCubemap, RenderPassPrefilter, RenderPassBRDF:
		format := FormatR32G32B32A32Sfloat
		if kind == RenderPassBRDF {
			format = FormatR16G16Sfloat
		}
		color := b.AddAttachment(AttachmentDesc{
			Format:        format,
			LoadOp:        LoadOpClear,
			StoreOp:       StoreOpStore,
			StencilLoadOp: LoadOpDontCare, StencilStoreOp: StoreOpDontCare,
			InitialLayout: LayoutUndefined,
			FinalLayout:   LayoutShaderReadOnly,
		})
		b.PreallocateReferences(1)
		ref := b.reference(color, LayoutColorAttachment)
		b.AddSubpass(SubpassRefs{Color: []AttachmentRef{ref}, Depth: NoDepth})
		b.AddDependency(colorOutputDependency)

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownRenderPassKind, int(kind))
	}
	return b.Build()
}

// =============================================================================
// RenderPass
// =============================================================================

// RenderPass owns a native render pass and remembers the final layout of
// each attachment so command buffers can reconcile tracked state when the
// pass ends.
type RenderPass struct {
	mu sync.Mutex

	gctx         *Context
	kind         RenderPassKind
	handle       RenderPassHandle
	desc         *RenderPassDesc
	finalLayouts []ImageLayout
	state        Lifecycle
}

// NewRenderPass returns an uncreated render pass.
func NewRenderPass(gctx *Context) *RenderPass {
	return &RenderPass{gctx: gctx}
}

// Create builds the description for kind and creates the native object.
// A second Create logs a warning and does nothing.
func (r *RenderPass) Create(kind RenderPassKind, p RenderPassParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.live() {
		slogger().Warn("render pass already created", "kind", r.kind)
		return nil
	}
	desc, err := BuildRenderPass(kind, p)
	if err != nil {
		return fmt.Errorf("build %s render pass: %w", kind, err)
	}
	h, err := r.gctx.device.CreateRenderPass(desc)
	if err != nil {
		return fmt.Errorf("create %s render pass: %w", kind, err)
	}
	r.kind, r.desc, r.handle, r.state = kind, desc, h, Created
	r.finalLayouts = make([]ImageLayout, len(desc.Attachments))
	for i, a := range desc.Attachments {
		r.finalLayouts[i] = a.FinalLayout
	}
	slogger().Debug("render pass created", "kind", kind, "attachments", len(desc.Attachments))
	return nil
}

// Kind returns the render pass kind.
func (r *RenderPass) Kind() RenderPassKind { return r.kind }

// Handle returns the native handle.
func (r *RenderPass) Handle() (RenderPassHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := checkLive(r.state, "render pass "+r.kind.String()); err != nil {
		return 0, err
	}
	return r.handle, nil
}

// Desc returns the description the pass was created from.
func (r *RenderPass) Desc() *RenderPassDesc { return r.desc }

// AttachmentCount returns the number of attachments.
func (r *RenderPass) AttachmentCount() int { return len(r.finalLayouts) }

// FinalLayouts returns the layout each attachment ends the pass in.
func (r *RenderPass) FinalLayouts() []ImageLayout {
	return append([]ImageLayout(nil), r.finalLayouts...)
}

// Destroy releases the native render pass.
func (r *RenderPass) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.live() {
		slogger().Warn("destroy on render pass without native object", "state", r.state)
		return
	}
	r.gctx.device.DestroyRenderPass(r.handle)
	r.handle, r.state = 0, Destroyed
}
