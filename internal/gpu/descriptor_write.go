package gpu

import (
	"errors"
	"fmt"
)

// ErrWriteBudgetExceeded is returned when a batch receives more writes than
// it was created for.
var ErrWriteBudgetExceeded = errors.New("gpu: descriptor write budget exceeded")

// ErrBindingMismatch is returned when a write does not match the set layout.
var ErrBindingMismatch = errors.New("gpu: descriptor write does not match layout binding")

type setBinding struct {
	set     DescriptorSetHandle
	binding uint32
}

// WriteDescriptorSets collects descriptor writes and applies them in one
// device call.
//
// The batch is created with exact upper bounds on buffer and image writes.
// A write past a bound is rejected and leaves the batch unchanged, as is a
// second write to the same (set, binding); the first write wins.
//
// Example:
//
//	batch := gpu.NewWriteDescriptorSets(1, 2)
//	_ = batch.AddUniformBuffer(set, 0, ubo)
//	_ = batch.AddImageSampler(set, 1, albedo, 0)
//	_ = batch.AddImage(set, 2, target, gpu.DescriptorStorageImage, 0)
//	err := set.Update(batch)
type WriteDescriptorSets struct {
	maxBuffers, maxImages int
	buffers, images       int
	writes                []DescriptorWrite
	seen                  map[setBinding]struct{}
}

// NewWriteDescriptorSets returns an empty batch accepting at most buffers
// buffer writes and images image writes.
func NewWriteDescriptorSets(buffers, images int) *WriteDescriptorSets {
	return &WriteDescriptorSets{
		maxBuffers: buffers,
		maxImages:  images,
		writes:     make([]DescriptorWrite, 0, buffers+images),
		seen:       make(map[setBinding]struct{}, buffers+images),
	}
}

// Len returns the number of accepted writes.
func (w *WriteDescriptorSets) Len() int { return len(w.writes) }

// Writes returns a copy of the accepted writes.
func (w *WriteDescriptorSets) Writes() []DescriptorWrite {
	return append([]DescriptorWrite(nil), w.writes...)
}

// AddUniformBuffer writes a whole uniform buffer to a binding.
func (w *WriteDescriptorSets) AddUniformBuffer(set *DescriptorSet, binding uint32, buf *Buffer) error {
	return w.addBuffer(set, binding, buf, DescriptorUniformBuffer)
}

// AddStorageBuffer writes a whole storage buffer to a binding.
func (w *WriteDescriptorSets) AddStorageBuffer(set *DescriptorSet, binding uint32, buf *Buffer) error {
	return w.addBuffer(set, binding, buf, DescriptorStorageBuffer)
}

func (w *WriteDescriptorSets) addBuffer(set *DescriptorSet, binding uint32, buf *Buffer, typ DescriptorType) error {
	if w.buffers == w.maxBuffers {
		slogger().Error("descriptor buffer writes exceed promised count",
			"binding", binding, "promised", w.maxBuffers)
		return fmt.Errorf("%w: %d buffer writes", ErrWriteBudgetExceeded, w.maxBuffers)
	}
	if err := w.checkBinding(set, binding, typ); err != nil {
		return err
	}
	h, err := buf.Handle()
	if err != nil {
		return err
	}
	w.commitWrite(DescriptorWrite{
		Set:     set.handle,
		Binding: binding,
		Type:    typ,
		Buffer:  &BufferInfo{Buffer: h, Offset: 0, Range: buf.Size()},
	})
	w.buffers++
	return nil
}

// AddImageSampler writes a texture view and its sampler to a combined
// image sampler binding.
func (w *WriteDescriptorSets) AddImageSampler(set *DescriptorSet, binding uint32, tex *Texture, mip uint32) error {
	return w.AddImage(set, binding, tex, DescriptorCombinedImageSampler, mip)
}

// AddImage writes the view of one mip of a texture to an image binding.
// Entire-image textures ignore mip. A texture whose tracked layout does not
// suit the descriptor type is written anyway with a warning.
func (w *WriteDescriptorSets) AddImage(set *DescriptorSet, binding uint32, tex *Texture, typ DescriptorType, mip uint32) error {
	return w.AddImageAt(set, binding, tex, typ, mip, tex.MipState(mip).Layout)
}

// AddImageAt is AddImage for a texture that will be in layout by the time
// the set is used. Passes that write descriptors before recording the
// barriers that move their inputs use it.
func (w *WriteDescriptorSets) AddImageAt(set *DescriptorSet, binding uint32, tex *Texture, typ DescriptorType, mip uint32, layout ImageLayout) error {
	if !typ.IsImage() {
		return fmt.Errorf("%w: %s is not an image type", ErrBindingMismatch, typ)
	}
	if w.images == w.maxImages {
		slogger().Error("descriptor image writes exceed promised count",
			"binding", binding, "promised", w.maxImages)
		return fmt.Errorf("%w: %d image writes", ErrWriteBudgetExceeded, w.maxImages)
	}
	if err := w.checkBinding(set, binding, typ); err != nil {
		return err
	}
	view, err := tex.View(mip)
	if err != nil {
		return err
	}

	switch {
	case typ == DescriptorStorageImage && layout != LayoutGeneral,
		typ != DescriptorStorageImage && layout != LayoutShaderReadOnly && layout != LayoutGeneral:
		slogger().Warn("descriptor image written in unexpected layout",
			"texture", tex.Label(), "mip", mip, "type", typ, "layout", layout)
	}
	if tex.Scope() == ScopePerMipLevel && mip >= tex.GeneratedMips() && typ != DescriptorStorageImage {
		slogger().Warn("sampling mip without generated content",
			"texture", tex.Label(), "mip", mip, "generated", tex.GeneratedMips())
	}

	if typ == DescriptorStorageImage {
		layout = LayoutGeneral
	} else if layout != LayoutGeneral {
		layout = LayoutShaderReadOnly
	}

	info := &ImageInfo{View: view, Layout: layout}
	if typ == DescriptorCombinedImageSampler {
		info.Sampler = tex.Sampler()
		if info.Sampler == 0 {
			slogger().Warn("combined image sampler written without sampler", "texture", tex.Label())
		}
	}
	w.commitWrite(DescriptorWrite{Set: set.handle, Binding: binding, Type: typ, Image: info})
	w.images++
	return nil
}

// checkBinding rejects duplicate and mistyped writes.
func (w *WriteDescriptorSets) checkBinding(set *DescriptorSet, binding uint32, typ DescriptorType) error {
	if _, dup := w.seen[setBinding{set.handle, binding}]; dup {
		slogger().Error("descriptor binding written twice in one batch", "binding", binding)
		return fmt.Errorf("%w: %d", ErrDuplicateBinding, binding)
	}
	if set.summary != nil {
		b, ok := set.summary.Binding(binding)
		if !ok || b.Type != typ {
			return fmt.Errorf("%w: binding %d as %s", ErrBindingMismatch, binding, typ)
		}
	}
	return nil
}

func (w *WriteDescriptorSets) commitWrite(dw DescriptorWrite) {
	w.seen[setBinding{dw.Set, dw.Binding}] = struct{}{}
	w.writes = append(w.writes, dw)
}

// Commit applies every write in one device call. Empty batches are skipped.
func (w *WriteDescriptorSets) Commit(gctx *Context) {
	if len(w.writes) == 0 {
		return
	}
	gctx.device.UpdateDescriptorSets(w.Writes())
}
