package gpu

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// State tracking errors.
var (
	// ErrMipRangeOutOfBounds is returned when a mip range does not lie within the image.
	ErrMipRangeOutOfBounds = errors.New("gpu: mip range out of bounds")

	// ErrUnsupportedTransition is returned for layout pairs without a known barrier.
	ErrUnsupportedTransition = errors.New("gpu: unsupported layout transition")
)

// ImageLayout is the memory arrangement an image is currently organized for.
type ImageLayout uint8

const (
	// LayoutUndefined means the contents are undefined and may be discarded.
	LayoutUndefined ImageLayout = iota
	// LayoutGeneral supports every access, used for storage images.
	LayoutGeneral
	// LayoutColorAttachment is for color render targets.
	LayoutColorAttachment
	// LayoutDepthStencilAttachment is for depth/stencil render targets.
	LayoutDepthStencilAttachment
	// LayoutShaderReadOnly is for sampled images.
	LayoutShaderReadOnly
	// LayoutTransferSrc is for copy and blit sources.
	LayoutTransferSrc
	// LayoutTransferDst is for copy and blit destinations.
	LayoutTransferDst
	// LayoutPresentSrc is for images handed to the presentation engine.
	LayoutPresentSrc
)

// String returns the layout name.
func (l ImageLayout) String() string {
	switch l {
	case LayoutUndefined:
		return "Undefined"
	case LayoutGeneral:
		return "General"
	case LayoutColorAttachment:
		return "ColorAttachment"
	case LayoutDepthStencilAttachment:
		return "DepthStencilAttachment"
	case LayoutShaderReadOnly:
		return "ShaderReadOnly"
	case LayoutTransferSrc:
		return "TransferSrc"
	case LayoutTransferDst:
		return "TransferDst"
	case LayoutPresentSrc:
		return "PresentSrc"
	default:
		return fmt.Sprintf("Unknown(%d)", int(l))
	}
}

// Access is a bit mask of memory access types.
type Access uint32

const (
	// AccessNone is the empty access mask.
	AccessNone Access = 0
	// AccessShaderRead covers sampled and storage reads.
	AccessShaderRead Access = 1 << iota
	// AccessShaderWrite covers storage writes.
	AccessShaderWrite
	// AccessColorAttachmentRead covers blending reads.
	AccessColorAttachmentRead
	// AccessColorAttachmentWrite covers color output.
	AccessColorAttachmentWrite
	// AccessDepthStencilRead covers depth tests.
	AccessDepthStencilRead
	// AccessDepthStencilWrite covers depth writes.
	AccessDepthStencilWrite
	// AccessTransferRead covers copy and blit reads.
	AccessTransferRead
	// AccessTransferWrite covers copy and blit writes.
	AccessTransferWrite
	// AccessHostWrite covers CPU writes to mapped memory.
	AccessHostWrite
)

var accessNames = []struct {
	bit  Access
	name string
}{
	{AccessShaderRead, "ShaderRead"},
	{AccessShaderWrite, "ShaderWrite"},
	{AccessColorAttachmentRead, "ColorAttachmentRead"},
	{AccessColorAttachmentWrite, "ColorAttachmentWrite"},
	{AccessDepthStencilRead, "DepthStencilRead"},
	{AccessDepthStencilWrite, "DepthStencilWrite"},
	{AccessTransferRead, "TransferRead"},
	{AccessTransferWrite, "TransferWrite"},
	{AccessHostWrite, "HostWrite"},
}

// String returns the set bits joined with '|'.
func (a Access) String() string {
	if a == AccessNone {
		return "None"
	}
	var parts []string
	for _, n := range accessNames {
		if a&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// PipelineStage is a bit mask of pipeline stages.
type PipelineStage uint32

const (
	// StageTopOfPipe is the start of the pipeline.
	StageTopOfPipe PipelineStage = 1 << iota
	// StageVertexShader is vertex shading.
	StageVertexShader
	// StageGeometryShader is geometry shading.
	StageGeometryShader
	// StageFragmentShader is fragment shading.
	StageFragmentShader
	// StageEarlyFragmentTests is the early depth/stencil test stage.
	StageEarlyFragmentTests
	// StageLateFragmentTests is the late depth/stencil test stage.
	StageLateFragmentTests
	// StageColorAttachmentOutput is color output and resolve.
	StageColorAttachmentOutput
	// StageComputeShader is compute shading.
	StageComputeShader
	// StageTransfer covers copies, blits and clears.
	StageTransfer
	// StageBottomOfPipe is the end of the pipeline.
	StageBottomOfPipe
	// StageHost is CPU access.
	StageHost
)

var stageNames = []struct {
	bit  PipelineStage
	name string
}{
	{StageTopOfPipe, "TopOfPipe"},
	{StageVertexShader, "VertexShader"},
	{StageGeometryShader, "GeometryShader"},
	{StageFragmentShader, "FragmentShader"},
	{StageEarlyFragmentTests, "EarlyFragmentTests"},
	{StageLateFragmentTests, "LateFragmentTests"},
	{StageColorAttachmentOutput, "ColorAttachmentOutput"},
	{StageComputeShader, "ComputeShader"},
	{StageTransfer, "Transfer"},
	{StageBottomOfPipe, "BottomOfPipe"},
	{StageHost, "Host"},
}

// String returns the set bits joined with '|'.
func (s PipelineStage) String() string {
	if s == 0 {
		return "None"
	}
	var parts []string
	for _, n := range stageNames {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// =============================================================================
// Layout transition table
// =============================================================================

// transitionMasks holds the access and stage masks of one layout transition.
type transitionMasks struct {
	srcAccess, dstAccess Access
	srcStage, dstStage   PipelineStage
}

type layoutPair struct{ from, to ImageLayout }

// layoutTransitions lists every supported layout change and the masks its
// barrier uses. Pairs not listed are rejected.
var layoutTransitions = map[layoutPair]transitionMasks{
	{LayoutUndefined, LayoutTransferDst}: {
		AccessNone, AccessTransferWrite, StageTopOfPipe, StageTransfer},
	{LayoutTransferDst, LayoutTransferSrc}: {
		AccessTransferWrite, AccessTransferRead, StageTransfer, StageTransfer},
	{LayoutTransferSrc, LayoutTransferDst}: {
		AccessTransferRead, AccessTransferWrite, StageTransfer, StageTransfer},
	{LayoutTransferSrc, LayoutShaderReadOnly}: {
		AccessTransferRead, AccessShaderRead, StageTransfer, StageFragmentShader},
	{LayoutUndefined, LayoutShaderReadOnly}: {
		AccessNone, AccessShaderRead, StageTopOfPipe, StageVertexShader},
	{LayoutTransferDst, LayoutShaderReadOnly}: {
		AccessTransferWrite, AccessShaderRead, StageTransfer, StageFragmentShader},
	{LayoutUndefined, LayoutDepthStencilAttachment}: {
		AccessNone, AccessDepthStencilRead | AccessDepthStencilWrite, StageTopOfPipe, StageEarlyFragmentTests},
	{LayoutShaderReadOnly, LayoutColorAttachment}: {
		AccessShaderRead, AccessColorAttachmentWrite, StageFragmentShader, StageColorAttachmentOutput},
	{LayoutShaderReadOnly, LayoutTransferDst}: {
		AccessShaderRead, AccessTransferWrite, StageFragmentShader, StageTransfer},
	{LayoutShaderReadOnly, LayoutTransferSrc}: {
		AccessShaderRead, AccessTransferRead, StageFragmentShader, StageTransfer},
	{LayoutColorAttachment, LayoutShaderReadOnly}: {
		AccessColorAttachmentWrite, AccessShaderRead, StageColorAttachmentOutput, StageFragmentShader},
	{LayoutUndefined, LayoutColorAttachment}: {
		AccessNone, AccessColorAttachmentWrite, StageTopOfPipe, StageColorAttachmentOutput},
	{LayoutUndefined, LayoutGeneral}: {
		AccessNone, AccessNone, StageTopOfPipe, StageTopOfPipe},
	{LayoutTransferDst, LayoutGeneral}: {
		AccessTransferWrite, AccessNone, StageTransfer, StageTopOfPipe},
	{LayoutGeneral, LayoutTransferDst}: {
		AccessNone, AccessTransferWrite, StageTopOfPipe, StageTransfer},
	{LayoutShaderReadOnly, LayoutGeneral}: {
		AccessShaderRead, AccessShaderRead, StageFragmentShader, StageComputeShader},
	{LayoutGeneral, LayoutShaderReadOnly}: {
		AccessShaderRead, AccessShaderRead, StageComputeShader, StageFragmentShader},
	{LayoutGeneral, LayoutTransferSrc}: {
		AccessShaderRead, AccessTransferRead, StageComputeShader, StageTransfer},
	{LayoutTransferSrc, LayoutGeneral}: {
		AccessTransferRead, AccessShaderRead, StageTransfer, StageComputeShader},
}

// LookupTransition returns the default barrier masks for a layout change.
// It returns ErrUnsupportedTransition for pairs without a table entry.
func LookupTransition(from, to ImageLayout) (srcAccess, dstAccess Access, srcStage, dstStage PipelineStage, err error) {
	m, ok := layoutTransitions[layoutPair{from, to}]
	if !ok {
		return 0, 0, 0, 0, fmt.Errorf("%w: %s -> %s", ErrUnsupportedTransition, from, to)
	}
	return m.srcAccess, m.dstAccess, m.srcStage, m.dstStage, nil
}

// =============================================================================
// StateTracker
// =============================================================================

// SubresourceState is the tracked state of one mip level.
type SubresourceState struct {
	Layout ImageLayout
	Access Access
	Stage  PipelineStage
}

// initialState is the state of every mip of a freshly created image.
var initialState = SubresourceState{Layout: LayoutUndefined, Access: AccessNone, Stage: StageTopOfPipe}

// MipBarrier describes one barrier over a contiguous run of mip levels.
type MipBarrier struct {
	OldLayout, NewLayout ImageLayout
	SrcAccess, DstAccess Access
	SrcStage, DstStage   PipelineStage
	BaseMip, MipCount    uint32
}

// TransitionRequest asks for a mip range to move into a new state.
// MipCount 0 means every mip from BaseMip to the end.
type TransitionRequest struct {
	Layout            ImageLayout
	Access            Access
	Stage             PipelineStage
	BaseMip, MipCount uint32
}

// ExplicitBarrier is a same-layout memory barrier with caller-chosen masks.
// MipCount 0 means every mip from BaseMip to the end.
type ExplicitBarrier struct {
	SrcAccess, DstAccess Access
	SrcStage, DstStage   PipelineStage
	BaseMip, MipCount    uint32
}

// StateTracker records (layout, access, stage) per mip level of one image
// and derives the barriers that move it between states.
//
// Mip levels are tracked independently: transitioning mip 3 leaves mip 0
// untouched.
//
// StateTracker is not safe for concurrent use; Texture serializes access.
type StateTracker struct {
	mips []SubresourceState
}

// NewStateTracker returns a tracker with every mip in the Undefined layout.
func NewStateTracker(mipLevels uint32) *StateTracker {
	if mipLevels == 0 {
		mipLevels = 1
	}
	t := &StateTracker{mips: make([]SubresourceState, mipLevels)}
	for i := range t.mips {
		t.mips[i] = initialState
	}
	return t
}

// MipLevels returns the number of tracked mip levels.
func (t *StateTracker) MipLevels() uint32 { return uint32(len(t.mips)) }

// State returns the tracked state of a mip level.
// Out-of-range levels report the initial state.
func (t *StateTracker) State(mip uint32) SubresourceState {
	if mip >= uint32(len(t.mips)) {
		return initialState
	}
	return t.mips[mip]
}

// Layout returns the layout shared by every mip, or LayoutUndefined and
// false when mips disagree.
func (t *StateTracker) Layout() (ImageLayout, bool) {
	l := t.mips[0].Layout
	for _, s := range t.mips[1:] {
		if s.Layout != l {
			return LayoutUndefined, false
		}
	}
	return l, true
}

// resolveRange validates a mip range and expands a zero count.
func (t *StateTracker) resolveRange(base, count uint32) (uint32, uint32, error) {
	n := uint32(len(t.mips))
	if base >= n {
		return 0, 0, fmt.Errorf("%w: base mip %d, image has %d", ErrMipRangeOutOfBounds, base, n)
	}
	if count == 0 {
		count = n - base
	}
	if count > n-base {
		return 0, 0, fmt.Errorf("%w: mips [%d, %d), image has %d", ErrMipRangeOutOfBounds, base, base+count, n)
	}
	return base, count, nil
}

// Transition moves a mip range into the requested state and returns the
// barriers that make it safe. Mips already in the requested state are
// skipped, so repeating a request yields no barriers. Consecutive mips with
// the same prior state share one barrier.
func (t *StateTracker) Transition(req TransitionRequest) ([]MipBarrier, error) {
	base, count, err := t.resolveRange(req.BaseMip, req.MipCount)
	if err != nil {
		return nil, err
	}
	want := SubresourceState{Layout: req.Layout, Access: req.Access, Stage: req.Stage}

	var out []MipBarrier
	for mip := base; mip < base+count; mip++ {
		cur := t.mips[mip]
		if cur == want {
			continue
		}
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.BaseMip+last.MipCount == mip && last.OldLayout == cur.Layout &&
				last.SrcAccess == cur.Access && last.SrcStage == cur.Stage {
				last.MipCount++
				t.mips[mip] = want
				continue
			}
		}
		out = append(out, MipBarrier{
			OldLayout: cur.Layout,
			NewLayout: want.Layout,
			SrcAccess: cur.Access,
			DstAccess: want.Access,
			SrcStage:  cur.Stage,
			DstStage:  want.Stage,
			BaseMip:   mip,
			MipCount:  1,
		})
		t.mips[mip] = want
	}
	return out, nil
}

// Barrier records an explicit same-layout barrier over a mip range.
// Explicit barriers are never elided. When the mips of the range disagree on
// layout, one barrier is produced per run of equal layouts.
func (t *StateTracker) Barrier(req ExplicitBarrier) ([]MipBarrier, error) {
	base, count, err := t.resolveRange(req.BaseMip, req.MipCount)
	if err != nil {
		return nil, err
	}
	var out []MipBarrier
	for mip := base; mip < base+count; mip++ {
		layout := t.mips[mip].Layout
		if n := len(out); n > 0 && out[n-1].OldLayout == layout && out[n-1].BaseMip+out[n-1].MipCount == mip {
			out[n-1].MipCount++
		} else {
			out = append(out, MipBarrier{
				OldLayout: layout,
				NewLayout: layout,
				SrcAccess: req.SrcAccess,
				DstAccess: req.DstAccess,
				SrcStage:  req.SrcStage,
				DstStage:  req.DstStage,
				BaseMip:   mip,
				MipCount:  1,
			})
		}
		t.mips[mip] = SubresourceState{Layout: layout, Access: req.DstAccess, Stage: req.DstStage}
	}
	return out, nil
}

// Force overwrites the tracked layout of a mip range without a barrier.
// It reconciles layout changes the GPU performed implicitly, such as the
// final layouts applied when a render pass ends.
func (t *StateTracker) Force(layout ImageLayout, access Access, stage PipelineStage, baseMip, mipCount uint32) error {
	base, count, err := t.resolveRange(baseMip, mipCount)
	if err != nil {
		return err
	}
	for mip := base; mip < base+count; mip++ {
		t.mips[mip] = SubresourceState{Layout: layout, Access: access, Stage: stage}
	}
	return nil
}

// snapshot returns a copy of the per-mip states.
func (t *StateTracker) snapshot() []SubresourceState {
	return slices.Clone(t.mips)
}

// restore replaces the per-mip states with a snapshot of the same image.
func (t *StateTracker) restore(mips []SubresourceState) {
	if len(mips) == len(t.mips) {
		copy(t.mips, mips)
	}
}

// attachmentWriteState returns the last access a render pass makes to an
// attachment of format f.
func attachmentWriteState(f Format) (Access, PipelineStage) {
	if f.IsDepth() {
		return AccessDepthStencilWrite, StageLateFragmentTests
	}
	return AccessColorAttachmentWrite, StageColorAttachmentOutput
}
