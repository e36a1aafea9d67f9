package gpu

import (
	"errors"
	"testing"
)

// =============================================================================
// Transition table
// =============================================================================

func TestLookupTransition(t *testing.T) {
	tests := []struct {
		name      string
		from, to  ImageLayout
		srcAccess Access
		dstAccess Access
		srcStage  PipelineStage
		dstStage  PipelineStage
	}{
		{"upload start", LayoutUndefined, LayoutTransferDst, AccessNone, AccessTransferWrite, StageTopOfPipe, StageTransfer},
		{"mip chain step", LayoutTransferDst, LayoutTransferSrc, AccessTransferWrite, AccessTransferRead, StageTransfer, StageTransfer},
		{"blit source to shader", LayoutTransferSrc, LayoutShaderReadOnly, AccessTransferRead, AccessShaderRead, StageTransfer, StageFragmentShader},
		{"depth attachment", LayoutUndefined, LayoutDepthStencilAttachment, AccessNone, AccessDepthStencilRead | AccessDepthStencilWrite, StageTopOfPipe, StageEarlyFragmentTests},
		{"compute to fragment", LayoutGeneral, LayoutShaderReadOnly, AccessShaderRead, AccessShaderRead, StageComputeShader, StageFragmentShader},
		{"fragment to compute", LayoutShaderReadOnly, LayoutGeneral, AccessShaderRead, AccessShaderRead, StageFragmentShader, StageComputeShader},
		{"storage from nothing", LayoutUndefined, LayoutGeneral, AccessNone, AccessNone, StageTopOfPipe, StageTopOfPipe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sa, da, ss, ds, err := LookupTransition(tt.from, tt.to)
			if err != nil {
				t.Fatalf("LookupTransition(%v, %v) error = %v", tt.from, tt.to, err)
			}
			if sa != tt.srcAccess || da != tt.dstAccess {
				t.Errorf("access = (%v, %v), want (%v, %v)", sa, da, tt.srcAccess, tt.dstAccess)
			}
			if ss != tt.srcStage || ds != tt.dstStage {
				t.Errorf("stage = (%v, %v), want (%v, %v)", ss, ds, tt.srcStage, tt.dstStage)
			}
		})
	}
}

func TestLookupTransition_TableSize(t *testing.T) {
	if got := len(layoutTransitions); got != 19 {
		t.Errorf("transition table has %d entries, want 19", got)
	}
}

func TestLookupTransition_Unsupported(t *testing.T) {
	pairs := [][2]ImageLayout{
		{LayoutColorAttachment, LayoutTransferSrc},
		{LayoutPresentSrc, LayoutGeneral},
		{LayoutDepthStencilAttachment, LayoutShaderReadOnly},
		{LayoutTransferDst, LayoutColorAttachment},
	}
	for _, p := range pairs {
		_, _, _, _, err := LookupTransition(p[0], p[1])
		if !errors.Is(err, ErrUnsupportedTransition) {
			t.Errorf("LookupTransition(%v, %v) error = %v, want ErrUnsupportedTransition", p[0], p[1], err)
		}
	}
}

// =============================================================================
// StateTracker
// =============================================================================

func TestStateTracker_Initial(t *testing.T) {
	tr := NewStateTracker(4)
	if tr.MipLevels() != 4 {
		t.Fatalf("MipLevels() = %d, want 4", tr.MipLevels())
	}
	for mip := uint32(0); mip < 4; mip++ {
		if s := tr.State(mip); s != initialState {
			t.Errorf("State(%d) = %+v, want %+v", mip, s, initialState)
		}
	}
	if l, ok := tr.Layout(); !ok || l != LayoutUndefined {
		t.Errorf("Layout() = %v, %v; want Undefined, true", l, ok)
	}
}

func TestStateTracker_ZeroMipsMeansOne(t *testing.T) {
	if got := NewStateTracker(0).MipLevels(); got != 1 {
		t.Errorf("MipLevels() = %d, want 1", got)
	}
}

func TestStateTracker_TransitionRecordsBarrier(t *testing.T) {
	tr := NewStateTracker(3)
	bs, err := tr.Transition(TransitionRequest{
		Layout: LayoutTransferDst, Access: AccessTransferWrite, Stage: StageTransfer,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(bs) != 1 {
		t.Fatalf("got %d barriers, want 1 merged barrier", len(bs))
	}
	b := bs[0]
	if b.OldLayout != LayoutUndefined || b.NewLayout != LayoutTransferDst {
		t.Errorf("layouts = %v -> %v", b.OldLayout, b.NewLayout)
	}
	if b.SrcAccess != AccessNone || b.SrcStage != StageTopOfPipe {
		t.Errorf("src = (%v, %v), want prior state", b.SrcAccess, b.SrcStage)
	}
	if b.BaseMip != 0 || b.MipCount != 3 {
		t.Errorf("range = [%d, +%d), want [0, +3)", b.BaseMip, b.MipCount)
	}
	for mip := uint32(0); mip < 3; mip++ {
		if got := tr.State(mip).Layout; got != LayoutTransferDst {
			t.Errorf("mip %d layout = %v", mip, got)
		}
	}
}

func TestStateTracker_RepeatIsNoOp(t *testing.T) {
	tr := NewStateTracker(2)
	req := TransitionRequest{Layout: LayoutShaderReadOnly, Access: AccessShaderRead, Stage: StageFragmentShader}
	if _, err := tr.Transition(req); err != nil {
		t.Fatal(err)
	}
	bs, err := tr.Transition(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(bs) != 0 {
		t.Errorf("repeated transition produced %d barriers, want 0", len(bs))
	}
}

func TestStateTracker_MipsAreIndependent(t *testing.T) {
	tr := NewStateTracker(5)
	if _, err := tr.Transition(TransitionRequest{
		Layout: LayoutGeneral, Access: AccessShaderWrite, Stage: StageComputeShader,
		BaseMip: 3, MipCount: 1,
	}); err != nil {
		t.Fatal(err)
	}
	for mip := uint32(0); mip < 5; mip++ {
		want := LayoutUndefined
		if mip == 3 {
			want = LayoutGeneral
		}
		if got := tr.State(mip).Layout; got != want {
			t.Errorf("mip %d layout = %v, want %v", mip, got, want)
		}
	}
	if _, ok := tr.Layout(); ok {
		t.Error("Layout() reported a uniform layout for mixed mips")
	}
}

func TestStateTracker_SplitsRunsByPriorState(t *testing.T) {
	tr := NewStateTracker(4)
	_, _ = tr.Transition(TransitionRequest{Layout: LayoutGeneral, Access: AccessShaderWrite, Stage: StageComputeShader, BaseMip: 1, MipCount: 2})

	bs, err := tr.Transition(TransitionRequest{Layout: LayoutShaderReadOnly, Access: AccessShaderRead, Stage: StageFragmentShader})
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		old        ImageLayout
		base, mips uint32
	}{
		{LayoutUndefined, 0, 1},
		{LayoutGeneral, 1, 2},
		{LayoutUndefined, 3, 1},
	}
	if len(bs) != len(want) {
		t.Fatalf("got %d barriers, want %d: %+v", len(bs), len(want), bs)
	}
	for i, w := range want {
		if bs[i].OldLayout != w.old || bs[i].BaseMip != w.base || bs[i].MipCount != w.mips {
			t.Errorf("barrier %d = {%v %d +%d}, want {%v %d +%d}",
				i, bs[i].OldLayout, bs[i].BaseMip, bs[i].MipCount, w.old, w.base, w.mips)
		}
	}
}

func TestStateTracker_ExplicitBarrierNeverElided(t *testing.T) {
	tr := NewStateTracker(2)
	req := ExplicitBarrier{
		SrcAccess: AccessShaderWrite, DstAccess: AccessShaderRead,
		SrcStage: StageComputeShader, DstStage: StageComputeShader,
	}
	for i := 0; i < 2; i++ {
		bs, err := tr.Barrier(req)
		if err != nil {
			t.Fatal(err)
		}
		if len(bs) != 1 {
			t.Fatalf("round %d: got %d barriers, want 1", i, len(bs))
		}
		if bs[0].OldLayout != bs[0].NewLayout {
			t.Errorf("explicit barrier changed layout: %v -> %v", bs[0].OldLayout, bs[0].NewLayout)
		}
	}
	if s := tr.State(1); s.Access != AccessShaderRead || s.Stage != StageComputeShader {
		t.Errorf("State(1) = %+v, want dst masks recorded", s)
	}
}

func TestStateTracker_RangeErrors(t *testing.T) {
	tests := []struct {
		name        string
		base, count uint32
	}{
		{"base past end", 4, 1},
		{"count past end", 2, 3},
		{"base at end with zero count", 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewStateTracker(4)
			_, err := tr.Transition(TransitionRequest{Layout: LayoutGeneral, BaseMip: tt.base, MipCount: tt.count})
			if !errors.Is(err, ErrMipRangeOutOfBounds) {
				t.Errorf("Transition error = %v, want ErrMipRangeOutOfBounds", err)
			}
			if err := tr.Force(LayoutGeneral, AccessNone, StageTopOfPipe, tt.base, tt.count); !errors.Is(err, ErrMipRangeOutOfBounds) {
				t.Errorf("Force error = %v, want ErrMipRangeOutOfBounds", err)
			}
			for mip := uint32(0); mip < 4; mip++ {
				if tr.State(mip) != initialState {
					t.Errorf("mip %d changed by failed request", mip)
				}
			}
		})
	}
}

func TestStateTracker_Force(t *testing.T) {
	tr := NewStateTracker(3)
	if err := tr.Force(LayoutShaderReadOnly, AccessShaderRead, StageFragmentShader, 1, 1); err != nil {
		t.Fatal(err)
	}
	if got := tr.State(1).Layout; got != LayoutShaderReadOnly {
		t.Errorf("mip 1 layout = %v", got)
	}
	if got := tr.State(0).Layout; got != LayoutUndefined {
		t.Errorf("mip 0 layout = %v, want untouched", got)
	}
}

func TestImageLayout_String(t *testing.T) {
	if got := LayoutShaderReadOnly.String(); got == "" {
		t.Error("empty layout name")
	}
	if got := ImageLayout(200).String(); got != "Unknown(200)" {
		t.Errorf("String() = %q, want Unknown(200)", got)
	}
}
