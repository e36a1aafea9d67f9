package gpu

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
)

// Texture errors.
var (
	// ErrMissingUsage is returned when an operation needs a usage the image lacks.
	ErrMissingUsage = errors.New("gpu: image usage does not allow operation")

	// ErrInvalidExtent is returned for zero-sized images.
	ErrInvalidExtent = errors.New("gpu: invalid image extent")

	// ErrViewOutOfRange is returned when a view index exceeds the created views.
	ErrViewOutOfRange = errors.New("gpu: view index out of range")
)

// ViewScope selects how many views a texture exposes.
type ViewScope uint8

const (
	// ScopeEntireImage creates one view over every mip.
	ScopeEntireImage ViewScope = iota
	// ScopePerMipLevel creates one view per mip level.
	ScopePerMipLevel
)

// String returns the scope name.
func (s ViewScope) String() string {
	if s == ScopePerMipLevel {
		return "PerMipLevel"
	}
	return "EntireImage"
}

// TextureDesc describes a texture.
type TextureDesc struct {
	Label         string
	Width, Height uint32
	Format        Format
	// MipLevels of 0 selects the full chain for the extent.
	MipLevels uint32
	// ArrayLayers of 0 means 1, or 6 for cube textures.
	ArrayLayers uint32
	Usage       ImageUsage
	Samples     uint32
	Cube        bool
	Scope       ViewScope
}

// CalculateMipLevels returns the length of the full mip chain of an extent:
// floor(log2(max(w, h))) + 1.
func CalculateMipLevels(width, height uint32) uint32 {
	m := max(width, height)
	if m == 0 {
		return 1
	}
	return uint32(bits.Len32(m))
}

// Texture is a single-owner image with views, an optional sampler and
// per-mip state tracking.
//
// Every layout change goes through the state tracker, which records the
// matching barrier. ForceLayout only reconciles layout changes the GPU made
// implicitly at the end of a render pass.
//
// Thread Safety:
// Texture guards its state with a mutex. Recording into a CommandBuffer
// from several goroutines is not supported.
type Texture struct {
	mu sync.Mutex

	gctx *Context
	desc TextureDesc

	image   ImageHandle
	memory  MemoryHandle
	views   []ImageViewHandle
	attach  map[attachKey]ImageViewHandle
	sampler SamplerHandle
	state   Lifecycle
	tracker *StateTracker

	generatedMips uint32
}

// NewTexture describes a texture. No native object exists until Create.
func NewTexture(gctx *Context, desc TextureDesc) *Texture {
	if desc.ArrayLayers == 0 {
		desc.ArrayLayers = 1
		if desc.Cube {
			desc.ArrayLayers = 6
		}
	}
	if desc.Samples == 0 {
		desc.Samples = 1
	}
	return &Texture{gctx: gctx, desc: desc}
}

// Create allocates the image and its views. Calling Create on a live
// texture logs a warning and does nothing.
func (t *Texture) Create() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.live() {
		slogger().Warn("texture already created", "label", t.desc.Label)
		return nil
	}
	if t.state == Destroyed {
		return fmt.Errorf("create texture %q: %w", t.desc.Label, ErrResourceDestroyed)
	}
	if t.desc.Width == 0 || t.desc.Height == 0 {
		return fmt.Errorf("create texture %q: %w: %dx%d", t.desc.Label, ErrInvalidExtent, t.desc.Width, t.desc.Height)
	}
	if t.desc.MipLevels == 0 {
		t.desc.MipLevels = CalculateMipLevels(t.desc.Width, t.desc.Height)
		slogger().Warn("texture mip count not set, using full chain",
			"label", t.desc.Label, "mips", t.desc.MipLevels)
	}

	dev := t.gctx.device
	img, mem, err := dev.CreateImage(&ImageDesc{
		Label:          t.desc.Label,
		Width:          t.desc.Width,
		Height:         t.desc.Height,
		MipLevels:      t.desc.MipLevels,
		ArrayLayers:    t.desc.ArrayLayers,
		Format:         t.desc.Format,
		Usage:          t.desc.Usage,
		Samples:        t.desc.Samples,
		CubeCompatible: t.desc.Cube,
	})
	if err != nil {
		return fmt.Errorf("create texture %q: %w", t.desc.Label, err)
	}
	t.image, t.memory = img, mem

	n := uint32(1)
	if t.desc.Scope == ScopePerMipLevel {
		n = t.desc.MipLevels
	}
	t.views = make([]ImageViewHandle, 0, n)
	for i := uint32(0); i < n; i++ {
		vd := t.viewDesc(t.viewType())
		if t.desc.Scope == ScopePerMipLevel {
			vd.BaseMip, vd.MipCount = i, 1
		}
		v, err := dev.CreateImageView(&vd)
		if err != nil {
			t.destroyPartialInit()
			return fmt.Errorf("create texture %q view %d: %w", t.desc.Label, i, err)
		}
		t.views = append(t.views, v)
	}

	t.tracker = NewStateTracker(t.desc.MipLevels)
	t.generatedMips = 1
	t.state = Created
	slogger().Debug("texture created",
		"label", t.desc.Label,
		"size", fmt.Sprintf("%dx%d", t.desc.Width, t.desc.Height),
		"format", t.desc.Format,
		"mips", t.desc.MipLevels,
		"layers", t.desc.ArrayLayers,
		"scope", t.desc.Scope)
	return nil
}

func (t *Texture) viewType() ViewType {
	switch {
	case t.desc.Cube:
		return ViewTypeCube
	case t.desc.ArrayLayers > 1:
		return ViewType2DArray
	default:
		return ViewType2D
	}
}

func (t *Texture) viewDesc(typ ViewType) ImageViewDesc {
	return ImageViewDesc{
		Image:      t.image,
		Format:     t.desc.Format,
		Type:       typ,
		Aspect:     t.desc.Format.Aspect(),
		BaseMip:    0,
		MipCount:   t.desc.MipLevels,
		BaseLayer:  0,
		LayerCount: t.desc.ArrayLayers,
	}
}

// destroyPartialInit releases whatever Create managed to allocate.
// Caller must hold mu.
func (t *Texture) destroyPartialInit() {
	dev := t.gctx.device
	for _, v := range t.views {
		dev.DestroyImageView(v)
	}
	t.views = nil
	dev.DestroyImage(t.image, t.memory)
	t.image, t.memory = 0, 0
}

// CreateSampler creates the texture's sampler. An anisotropy above the
// device limit logs a warning and is clamped.
func (t *Texture) CreateSampler(desc SamplerDesc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := checkLive(t.state, t.desc.Label); err != nil {
		return err
	}
	if t.sampler != 0 {
		slogger().Warn("texture sampler already created", "label", t.desc.Label)
		return nil
	}
	if limit := t.gctx.caps.MaxSamplerAnisotropy; desc.MaxAnisotropy > limit {
		slogger().Warn("sampler anisotropy above device limit, clamping",
			"label", t.desc.Label, "requested", desc.MaxAnisotropy, "limit", limit)
		desc.MaxAnisotropy = limit
	}
	if desc.MaxLod == 0 {
		desc.MaxLod = float32(t.desc.MipLevels)
	}
	if desc.Label == "" {
		desc.Label = t.desc.Label + " sampler"
	}
	s, err := t.gctx.device.CreateSampler(&desc)
	if err != nil {
		return fmt.Errorf("create sampler %q: %w", t.desc.Label, err)
	}
	t.sampler = s
	return nil
}

// Label returns the debug label.
func (t *Texture) Label() string { return t.desc.Label }

// Width returns the width of mip 0.
func (t *Texture) Width() uint32 { return t.desc.Width }

// Height returns the height of mip 0.
func (t *Texture) Height() uint32 { return t.desc.Height }

// Format returns the texel format.
func (t *Texture) Format() Format { return t.desc.Format }

// MipLevels returns the allocated mip count.
func (t *Texture) MipLevels() uint32 { return t.desc.MipLevels }

// ArrayLayers returns the layer count.
func (t *Texture) ArrayLayers() uint32 { return t.desc.ArrayLayers }

// Scope returns the view scope.
func (t *Texture) Scope() ViewScope { return t.desc.Scope }

// Usage returns the image usage.
func (t *Texture) Usage() ImageUsage { return t.desc.Usage }

// CalculateMipLevelsFromSize returns the full mip chain length of the
// texture's extent, independent of how many mips were allocated.
func (t *Texture) CalculateMipLevelsFromSize() uint32 {
	return CalculateMipLevels(t.desc.Width, t.desc.Height)
}

// MipExtent returns the extent of a mip level, never below 1x1.
func (t *Texture) MipExtent(mip uint32) (uint32, uint32) {
	return max(t.desc.Width>>mip, 1), max(t.desc.Height>>mip, 1)
}

// GeneratedMips returns how many mips hold generated content.
func (t *Texture) GeneratedMips() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generatedMips
}

// SetGeneratedMips records that mips [0, n) hold content written by render
// passes or compute work rather than GenerateMipmaps. n is clamped to the
// allocated mip count.
func (t *Texture) SetGeneratedMips(n uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generatedMips = min(max(n, 1), t.desc.MipLevels)
}

// State returns the lifecycle state.
func (t *Texture) State() Lifecycle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// MipState returns the tracked state of a mip level.
func (t *Texture) MipState(mip uint32) SubresourceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tracker == nil {
		return initialState
	}
	return t.tracker.State(mip)
}

// Image returns the native image handle.
func (t *Texture) Image() (ImageHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := checkLive(t.state, t.desc.Label); err != nil {
		return 0, err
	}
	return t.image, nil
}

// View returns the view for a mip level. Entire-image textures return
// their single view for every index.
func (t *Texture) View(mip uint32) (ImageViewHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewLocked(mip)
}

// viewLocked returns a view. Caller must hold mu.
func (t *Texture) viewLocked(mip uint32) (ImageViewHandle, error) {
	if err := checkLive(t.state, t.desc.Label); err != nil {
		return 0, err
	}
	if t.desc.Scope == ScopeEntireImage {
		return t.views[0], nil
	}
	if mip >= uint32(len(t.views)) {
		return 0, fmt.Errorf("%s: %w: %d of %d", t.desc.Label, ErrViewOutOfRange, mip, len(t.views))
	}
	return t.views[mip], nil
}

// AttachmentView returns a view of one mip suitable for a framebuffer
// attachment. Layered and cube textures get a 2D array view over all layers.
func (t *Texture) AttachmentView(mip uint32) (ImageViewHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.desc.ArrayLayers == 1 && t.desc.Scope == ScopePerMipLevel {
		return t.viewLocked(mip)
	}
	if t.desc.ArrayLayers == 1 && t.desc.MipLevels == 1 {
		return t.viewLocked(0)
	}
	return t.attachmentLocked(attachKey{mip: mip, allLayers: true})
}

// AttachmentLayerView returns a 2D view of one layer of one mip, used to
// render a single cube face.
func (t *Texture) AttachmentLayerView(mip, layer uint32) (ImageViewHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := checkLive(t.state, t.desc.Label); err != nil {
		return 0, err
	}
	if layer >= t.desc.ArrayLayers {
		return 0, fmt.Errorf("%s: %w: layer %d of %d", t.desc.Label, ErrViewOutOfRange, layer, t.desc.ArrayLayers)
	}
	return t.attachmentLocked(attachKey{mip: mip, layer: layer})
}

// attachKey identifies a cached attachment view.
type attachKey struct {
	mip, layer uint32
	allLayers  bool
}

// attachmentLocked returns a cached attachment view, creating it on first
// use. Caller must hold mu.
func (t *Texture) attachmentLocked(k attachKey) (ImageViewHandle, error) {
	if err := checkLive(t.state, t.desc.Label); err != nil {
		return 0, err
	}
	if k.mip >= t.desc.MipLevels {
		return 0, fmt.Errorf("%s: %w: %d of %d", t.desc.Label, ErrViewOutOfRange, k.mip, t.desc.MipLevels)
	}
	if v, ok := t.attach[k]; ok {
		return v, nil
	}
	typ := ViewType2D
	if k.allLayers && t.desc.ArrayLayers > 1 {
		typ = ViewType2DArray
	}
	vd := t.viewDesc(typ)
	vd.BaseMip, vd.MipCount = k.mip, 1
	if !k.allLayers {
		vd.BaseLayer, vd.LayerCount = k.layer, 1
	}
	v, err := t.gctx.device.CreateImageView(&vd)
	if err != nil {
		return 0, fmt.Errorf("create attachment view %q mip %d: %w", t.desc.Label, k.mip, err)
	}
	if t.attach == nil {
		t.attach = make(map[attachKey]ImageViewHandle)
	}
	t.attach[k] = v
	return v, nil
}

// Sampler returns the sampler handle, or 0 if none was created.
func (t *Texture) Sampler() SamplerHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sampler
}

// =============================================================================
// Layout transitions
// =============================================================================

// TransitionLayout moves a mip range into a new layout and records the
// barriers. mipCount 0 covers every mip from baseMip. Unsupported layout
// pairs fail before anything is recorded; mips already in the layout are
// left alone.
func (t *Texture) TransitionLayout(cmd *CommandBuffer, layout ImageLayout, baseMip, mipCount uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(cmd, layout, baseMip, mipCount)
}

// transitionLocked is TransitionLayout. Caller must hold mu.
func (t *Texture) transitionLocked(cmd *CommandBuffer, layout ImageLayout, baseMip, mipCount uint32) error {
	if err := checkLive(t.state, t.desc.Label); err != nil {
		return err
	}
	if err := cmd.checkRecording(); err != nil {
		return err
	}
	base, count, err := t.tracker.resolveRange(baseMip, mipCount)
	if err != nil {
		return fmt.Errorf("transition %q: %w", t.desc.Label, err)
	}
	end := base + count
	for mip := base; mip < end; mip++ {
		cur := t.tracker.State(mip).Layout
		if cur == layout {
			continue
		}
		if _, _, _, _, err := LookupTransition(cur, layout); err != nil {
			slogger().Error("unsupported layout transition",
				"label", t.desc.Label, "mip", mip, "from", cur, "to", layout)
			return fmt.Errorf("transition %q mip %d: %w", t.desc.Label, mip, err)
		}
	}

	cmd.remember(t)
	var barriers []MipBarrier
	for mip := base; mip < end; {
		cur := t.tracker.State(mip).Layout
		if cur == layout {
			mip++
			continue
		}
		runEnd := mip + 1
		for runEnd < end && t.tracker.State(runEnd).Layout == cur {
			runEnd++
		}
		_, dstAccess, _, dstStage, _ := LookupTransition(cur, layout)
		bs, err := t.tracker.Transition(TransitionRequest{
			Layout:   layout,
			Access:   dstAccess,
			Stage:    dstStage,
			BaseMip:  mip,
			MipCount: runEnd - mip,
		})
		if err != nil {
			return err
		}
		barriers = append(barriers, bs...)
		mip = runEnd
	}
	t.recordBarriers(cmd, barriers)
	return nil
}

// InsertBarrier records a same-layout memory barrier over a mip range.
// It is never elided and updates the tracked access and stage.
func (t *Texture) InsertBarrier(cmd *CommandBuffer, b ExplicitBarrier) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.barrierLocked(cmd, b)
}

// barrierLocked is InsertBarrier. Caller must hold mu.
func (t *Texture) barrierLocked(cmd *CommandBuffer, b ExplicitBarrier) error {
	if err := checkLive(t.state, t.desc.Label); err != nil {
		return err
	}
	if err := cmd.checkRecording(); err != nil {
		return err
	}
	cmd.remember(t)
	bs, err := t.tracker.Barrier(b)
	if err != nil {
		return fmt.Errorf("barrier %q: %w", t.desc.Label, err)
	}
	t.recordBarriers(cmd, bs)
	return nil
}

// ForceLayout overwrites the tracked layout of a mip range without
// recording a barrier. Use it only for layout changes a render pass
// performed implicitly. The mips keep the attachment write as their last
// access, so the next barrier waits on the render pass output.
func (t *Texture) ForceLayout(layout ImageLayout, baseMip, mipCount uint32) error {
	return t.forceLayout(nil, layout, baseMip, mipCount)
}

// forceLayout is ForceLayout for a render pass ended in cmd, which can roll
// the change back.
func (t *Texture) forceLayout(cmd *CommandBuffer, layout ImageLayout, baseMip, mipCount uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := checkLive(t.state, t.desc.Label); err != nil {
		return err
	}
	cmd.remember(t)
	access, stage := attachmentWriteState(t.desc.Format)
	return t.tracker.Force(layout, access, stage, baseMip, mipCount)
}

// restoreTracking replaces the tracked mip states. Destroyed textures are
// left alone.
func (t *Texture) restoreTracking(mips []SubresourceState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tracker == nil || !t.state.live() {
		return
	}
	t.tracker.restore(mips)
}

// recordBarriers records tracker barriers. Caller must hold mu.
func (t *Texture) recordBarriers(cmd *CommandBuffer, bs []MipBarrier) {
	for _, b := range bs {
		cmd.pipelineBarrier(b.SrcStage, b.DstStage, ImageBarrier{
			Image:      t.image,
			OldLayout:  b.OldLayout,
			NewLayout:  b.NewLayout,
			SrcAccess:  b.SrcAccess,
			DstAccess:  b.DstAccess,
			Aspect:     t.desc.Format.Aspect(),
			BaseMip:    b.BaseMip,
			MipCount:   b.MipCount,
			BaseLayer:  0,
			LayerCount: t.desc.ArrayLayers,
		})
	}
}

// =============================================================================
// Copies
// =============================================================================

func (t *Texture) requireUsage(u ImageUsage, op string) error {
	if t.desc.Usage&u != u {
		return fmt.Errorf("%s %q: %w", op, t.desc.Label, ErrMissingUsage)
	}
	return nil
}

// GenerateMipmaps fills mips 1..n-1 by blitting each level from the one
// above it. Every mip ends in the ShaderReadOnly layout.
func (t *Texture) GenerateMipmaps(cmd *CommandBuffer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := checkLive(t.state, t.desc.Label); err != nil {
		return err
	}
	if err := t.requireUsage(ImageUsageTransferSrc|ImageUsageTransferDst, "generate mipmaps"); err != nil {
		return err
	}
	mips := t.desc.MipLevels
	if err := t.transitionLocked(cmd, LayoutTransferDst, 0, 0); err != nil {
		return err
	}
	for i := uint32(1); i < mips; i++ {
		if err := t.transitionLocked(cmd, LayoutTransferSrc, i-1, 1); err != nil {
			return err
		}
		sw, sh := t.MipExtent(i - 1)
		dw, dh := t.MipExtent(i)
		cmd.blitImage(t.image, LayoutTransferSrc, t.image, LayoutTransferDst, ImageBlit{
			Src:       ImageSubresource{Aspect: AspectColor, MipLevel: i - 1, LayerCount: t.desc.ArrayLayers},
			Dst:       ImageSubresource{Aspect: AspectColor, MipLevel: i, LayerCount: t.desc.ArrayLayers},
			SrcWidth:  sw,
			SrcHeight: sh,
			DstWidth:  dw,
			DstHeight: dh,
		})
		if err := t.transitionLocked(cmd, LayoutShaderReadOnly, i-1, 1); err != nil {
			return err
		}
	}
	if err := t.transitionLocked(cmd, LayoutShaderReadOnly, mips-1, 1); err != nil {
		return err
	}
	t.generatedMips = mips
	slogger().Debug("mipmaps generated", "label", t.desc.Label, "mips", mips)
	return nil
}

// layerBytes returns the byte size of one layer of mip 0.
func (t *Texture) layerBytes() uint64 {
	return uint64(t.desc.Width) * uint64(t.desc.Height) * uint64(t.desc.Format.BytesPerPixel())
}

// CopyFromData uploads texel data for mip 0 of every layer through a
// staging buffer and waits for the upload. Data longer than the image is
// clamped with a warning. The previous layout is restored afterwards; an
// Undefined image ends in ShaderReadOnly.
func (t *Texture) CopyFromData(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := checkLive(t.state, t.desc.Label); err != nil {
		return err
	}
	if err := t.requireUsage(ImageUsageTransferDst, "upload"); err != nil {
		return err
	}
	size := t.layerBytes() * uint64(t.desc.ArrayLayers)
	switch {
	case uint64(len(data)) > size:
		slogger().Warn("upload larger than image, clamping",
			"label", t.desc.Label, "bytes", len(data), "image", size)
		data = data[:size]
	case uint64(len(data)) < size:
		slogger().Warn("upload smaller than image, remaining texels undefined",
			"label", t.desc.Label, "bytes", len(data), "image", size)
	}
	if len(data) == 0 {
		return nil
	}

	staging := NewBuffer(t.gctx, BufferStaging, uint64(len(data)), t.desc.Label+" staging")
	if err := staging.Create(); err != nil {
		return err
	}
	defer staging.Destroy()
	if err := staging.Write(0, data); err != nil {
		return err
	}

	restore := t.tracker.State(0).Layout
	if restore == LayoutUndefined {
		restore = LayoutShaderReadOnly
	}
	return t.gctx.SubmitOneShot(ctx, func(cmd *CommandBuffer) error {
		if err := t.transitionLocked(cmd, LayoutTransferDst, 0, 0); err != nil {
			return err
		}
		cmd.copyBufferToImage(staging.handle, t.image, LayoutTransferDst, BufferImageCopy{
			Subresource: ImageSubresource{Aspect: t.desc.Format.Aspect(), LayerCount: t.desc.ArrayLayers},
			Width:       t.desc.Width,
			Height:      t.desc.Height,
		})
		return t.transitionLocked(cmd, restore, 0, 0)
	})
}

// ReadPixels copies mip 0 of layer 0 into host memory and waits for it.
// The previous layout is restored afterwards.
func (t *Texture) ReadPixels(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := checkLive(t.state, t.desc.Label); err != nil {
		return nil, err
	}
	if err := t.requireUsage(ImageUsageTransferSrc, "read pixels"); err != nil {
		return nil, err
	}
	readback := NewBuffer(t.gctx, BufferReadback, t.layerBytes(), t.desc.Label+" readback")
	if err := readback.Create(); err != nil {
		return nil, err
	}
	defer readback.Destroy()

	restore := t.tracker.State(0).Layout
	err := t.gctx.SubmitOneShot(ctx, func(cmd *CommandBuffer) error {
		if err := t.transitionLocked(cmd, LayoutTransferSrc, 0, 1); err != nil {
			return err
		}
		cmd.copyImageToBuffer(t.image, LayoutTransferSrc, readback.handle, BufferImageCopy{
			Subresource: ImageSubresource{Aspect: t.desc.Format.Aspect(), LayerCount: 1},
			Width:       t.desc.Width,
			Height:      t.desc.Height,
		})
		if restore == LayoutUndefined || restore == LayoutTransferSrc {
			return nil
		}
		return t.transitionLocked(cmd, restore, 0, 1)
	})
	if err != nil {
		return nil, err
	}
	mapped, err := readback.Map()
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), mapped...)
	return out, readback.Unmap()
}

// CopyFromTexture records copies of mips [baseMip, baseMip+mipCount) from
// src into the same mips of t. Layer or mip mismatches log a warning and
// copy the overlap; a nil source, self copy or empty range is a no-op.
// Mips not already in a copy-capable layout are transitioned first.
func (t *Texture) CopyFromTexture(cmd *CommandBuffer, src *Texture, baseMip, mipCount uint32) error {
	if src == nil || src == t || mipCount == 0 {
		slogger().Warn("texture copy skipped", "label", t.desc.Label, "mips", mipCount)
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	src.mu.Lock()
	defer src.mu.Unlock()

	if err := checkLive(t.state, t.desc.Label); err != nil {
		return err
	}
	if err := checkLive(src.state, src.desc.Label); err != nil {
		return err
	}
	if err := cmd.checkRecording(); err != nil {
		return err
	}

	layers := t.desc.ArrayLayers
	if src.desc.ArrayLayers != layers {
		layers = min(layers, src.desc.ArrayLayers)
		slogger().Warn("texture copy layer count mismatch, copying overlap",
			"dst", t.desc.Label, "src", src.desc.Label, "layers", layers)
	}
	mips := min(t.desc.MipLevels, src.desc.MipLevels)
	if baseMip >= mips {
		slogger().Warn("texture copy starts past last mip", "dst", t.desc.Label, "baseMip", baseMip)
		return nil
	}
	if baseMip+mipCount > mips {
		slogger().Warn("texture copy requests more mips than available, clamping",
			"dst", t.desc.Label, "requested", mipCount, "available", mips-baseMip)
		mipCount = mips - baseMip
	}

	cmd.remember(t)
	cmd.remember(src)
	regions := make([]ImageCopy, 0, mipCount)
	for mip := baseMip; mip < baseMip+mipCount; mip++ {
		if l := src.tracker.State(mip).Layout; l != LayoutGeneral && l != LayoutTransferSrc {
			if err := src.transitionLocked(cmd, LayoutTransferSrc, mip, 1); err != nil {
				return err
			}
		}
		if l := t.tracker.State(mip).Layout; l != LayoutGeneral && l != LayoutTransferDst {
			if err := t.transitionLocked(cmd, LayoutTransferDst, mip, 1); err != nil {
				return err
			}
		}
		w, h := t.MipExtent(mip)
		regions = append(regions, ImageCopy{
			Src:    ImageSubresource{Aspect: AspectColor, MipLevel: mip, LayerCount: layers},
			Dst:    ImageSubresource{Aspect: AspectColor, MipLevel: mip, LayerCount: layers},
			Width:  w,
			Height: h,
		})
	}

	// Source and destination layouts are uniform per mip but may differ
	// between mips, so record one copy per mip.
	for _, r := range regions {
		srcLayout := src.tracker.State(r.Src.MipLevel).Layout
		dstLayout := t.tracker.State(r.Dst.MipLevel).Layout
		cmd.copyImage(src.image, srcLayout, t.image, dstLayout, r)
		if err := src.tracker.Force(srcLayout, AccessTransferRead, StageTransfer, r.Src.MipLevel, 1); err != nil {
			return fmt.Errorf("copy %q: %w", src.desc.Label, err)
		}
		if err := t.tracker.Force(dstLayout, AccessTransferWrite, StageTransfer, r.Dst.MipLevel, 1); err != nil {
			return fmt.Errorf("copy %q: %w", t.desc.Label, err)
		}
	}
	return nil
}

// Destroy releases the sampler, views and image. Destroying a texture that
// was never created or is already destroyed logs a warning and does nothing.
func (t *Texture) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.live() {
		slogger().Warn("destroy on texture without native object", "label", t.desc.Label, "state", t.state)
		return
	}
	dev := t.gctx.device
	if t.sampler != 0 {
		dev.DestroySampler(t.sampler)
		t.sampler = 0
	}
	for _, v := range t.attach {
		dev.DestroyImageView(v)
	}
	t.attach = nil
	t.destroyPartialInit()
	t.state = Destroyed
}
