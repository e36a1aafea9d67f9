package gpu

import (
	"errors"
	"fmt"
)

// Framebuffer errors.
var (
	// ErrNoAttachments is returned when a framebuffer has no attachments.
	ErrNoAttachments = errors.New("gpu: framebuffer has no attachments")

	// ErrNoViewIndices is returned when attachments come without view indices.
	ErrNoViewIndices = errors.New("gpu: framebuffer has no view indices")

	// ErrAttachmentCountMismatch is returned when attachment and view index
	// counts differ, or disagree with the render pass.
	ErrAttachmentCountMismatch = errors.New("gpu: framebuffer attachment count mismatch")

	// ErrNilRenderPass is returned when a render pass is required but nil.
	ErrNilRenderPass = errors.New("gpu: render pass is nil")

	// ErrZeroExtent is returned for framebuffers with a zero dimension.
	ErrZeroExtent = errors.New("gpu: framebuffer extent is zero")
)

// FramebufferConfig describes a framebuffer.
type FramebufferConfig struct {
	RenderPass *RenderPass
	// Attachments are ordered like the render pass attachments.
	Attachments []*Texture
	// ViewIndices picks the mip of each attachment to render into.
	ViewIndices   []uint32
	Width, Height uint32
	// Layers of 0 means 1.
	Layers uint32
	// SingleLayer attaches only array layer Layer of layered textures.
	SingleLayer bool
	Layer       uint32
}

// Framebuffer binds textures to the attachments of a render pass.
type Framebuffer struct {
	gctx   *Context
	cfg    FramebufferConfig
	handle FramebufferHandle
	state  Lifecycle
}

// NewFramebuffer returns an uncreated framebuffer.
func NewFramebuffer(gctx *Context) *Framebuffer {
	return &Framebuffer{gctx: gctx}
}

// Create validates the configuration and creates the native framebuffer.
// A second Create logs a warning and does nothing.
func (f *Framebuffer) Create(cfg FramebufferConfig) error {
	if f.state.live() {
		slogger().Warn("framebuffer already created")
		return nil
	}
	switch {
	case cfg.RenderPass == nil:
		return ErrNilRenderPass
	case len(cfg.Attachments) == 0:
		return ErrNoAttachments
	case len(cfg.ViewIndices) == 0:
		return ErrNoViewIndices
	case len(cfg.Attachments) != len(cfg.ViewIndices):
		return fmt.Errorf("%w: %d attachments, %d view indices",
			ErrAttachmentCountMismatch, len(cfg.Attachments), len(cfg.ViewIndices))
	case len(cfg.Attachments) != cfg.RenderPass.AttachmentCount():
		return fmt.Errorf("%w: %d attachments, render pass has %d",
			ErrAttachmentCountMismatch, len(cfg.Attachments), cfg.RenderPass.AttachmentCount())
	case cfg.Width == 0 || cfg.Height == 0:
		return fmt.Errorf("%w: %dx%d", ErrZeroExtent, cfg.Width, cfg.Height)
	case cfg.SingleLayer && cfg.Layers > 1:
		return fmt.Errorf("%w: single-layer framebuffer with %d layers", ErrAttachmentCountMismatch, cfg.Layers)
	}
	if cfg.Layers == 0 {
		cfg.Layers = 1
	}

	rp, err := cfg.RenderPass.Handle()
	if err != nil {
		return err
	}
	views := make([]ImageViewHandle, len(cfg.Attachments))
	for i, tex := range cfg.Attachments {
		var v ImageViewHandle
		if cfg.SingleLayer && tex.ArrayLayers() > 1 {
			v, err = tex.AttachmentLayerView(cfg.ViewIndices[i], cfg.Layer)
		} else {
			v, err = tex.AttachmentView(cfg.ViewIndices[i])
		}
		if err != nil {
			return fmt.Errorf("framebuffer attachment %d: %w", i, err)
		}
		views[i] = v
	}
	h, err := f.gctx.device.CreateFramebuffer(&FramebufferDesc{
		RenderPass:  rp,
		Attachments: views,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Layers:      cfg.Layers,
	})
	if err != nil {
		return fmt.Errorf("create framebuffer: %w", err)
	}
	cfg.Attachments = append([]*Texture(nil), cfg.Attachments...)
	cfg.ViewIndices = append([]uint32(nil), cfg.ViewIndices...)
	f.cfg, f.handle, f.state = cfg, h, Created
	return nil
}

// Handle returns the native handle.
func (f *Framebuffer) Handle() (FramebufferHandle, error) {
	if err := checkLive(f.state, "framebuffer"); err != nil {
		return 0, err
	}
	return f.handle, nil
}

// RenderPass returns the render pass the framebuffer was created for.
func (f *Framebuffer) RenderPass() *RenderPass { return f.cfg.RenderPass }

// Extent returns the framebuffer size.
func (f *Framebuffer) Extent() (uint32, uint32) { return f.cfg.Width, f.cfg.Height }

// Layers returns the layer count.
func (f *Framebuffer) Layers() uint32 { return f.cfg.Layers }

// Attachments returns the attachment textures in render pass order.
func (f *Framebuffer) Attachments() []*Texture { return f.cfg.Attachments }

// ViewIndices returns the mip rendered into for each attachment.
func (f *Framebuffer) ViewIndices() []uint32 { return f.cfg.ViewIndices }

// applyFinalLayouts records the layouts the render pass recorded in cmd
// left each attachment in.
func (f *Framebuffer) applyFinalLayouts(cmd *CommandBuffer, layouts []ImageLayout) {
	for i, tex := range f.cfg.Attachments {
		if i >= len(layouts) {
			return
		}
		if err := tex.forceLayout(cmd, layouts[i], f.cfg.ViewIndices[i], 1); err != nil {
			slogger().Warn("could not reconcile attachment layout",
				"texture", tex.Label(), "err", err)
		}
	}
}

// Destroy releases the native framebuffer.
func (f *Framebuffer) Destroy() {
	if !f.state.live() {
		slogger().Warn("destroy on framebuffer without native object", "state", f.state)
		return
	}
	f.gctx.device.DestroyFramebuffer(f.handle)
	f.handle, f.state = 0, Destroyed
}
