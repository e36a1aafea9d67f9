package lumen

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/lumen/backend"
	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/imageio"
	"github.com/gogpu/lumen/internal/mesh"
	"github.com/gogpu/lumen/internal/pass"
	"github.com/gogpu/lumen/internal/shader"
)

// Engine errors.
var (
	// ErrClosed is returned by an Engine after Close.
	ErrClosed = errors.New("lumen: engine is closed")

	// ErrNoEnvironment is returned by Render before an environment is loaded.
	ErrNoEnvironment = errors.New("lumen: no environment loaded")

	// ErrNoGraphics is returned for compute-only devices.
	ErrNoGraphics = errors.New("lumen: device has no graphics support")
)

// OutputFormat is the format of the tone mapped output image.
const OutputFormat = gpu.FormatR8G8B8A8Unorm

// environmentMaxSize bounds the longest edge of 8-bit environment images.
const environmentMaxSize = 4096

// FrameInput is the camera of one frame.
type FrameInput struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
}

// LookAround returns a camera at the origin turned yaw radians around the
// vertical axis, with a 60 degree vertical field of view.
func LookAround(yaw, aspect float32) FrameInput {
	dir := mgl32.Vec3{math32.Sin(yaw), 0, -math32.Cos(yaw)}
	return FrameInput{
		View:       mgl32.LookAtV(mgl32.Vec3{}, dir, mgl32.Vec3{0, 1, 0}),
		Projection: mgl32.Perspective(mgl32.DegToRad(60), aspect, 0.1, 100),
	}
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	lib *shader.Library
}

// WithShaderLibrary uses an already loaded library instead of the one
// Config.ShaderDir names.
func WithShaderLibrary(lib *shader.Library) Option {
	return func(o *engineOptions) { o.lib = lib }
}

// targets are the size dependent images of a frame.
type targets struct {
	width, height uint32

	hdr   *gpu.Texture
	depth *gpu.Texture
	msaa  *gpu.Texture
	ldr   *gpu.Texture

	hdrFB *gpu.Framebuffer
	ldrFB *gpu.Framebuffer
}

func (t *targets) destroy() {
	for _, fb := range []*gpu.Framebuffer{t.hdrFB, t.ldrFB} {
		if fb != nil {
			fb.Destroy()
		}
	}
	for _, tex := range []*gpu.Texture{t.hdr, t.depth, t.msaa, t.ldr} {
		if tex != nil {
			tex.Destroy()
		}
	}
	*t = targets{}
}

// Engine drives frames: the skybox is drawn into an HDR target, bloomed
// when the device supports it, and tone mapped into an offscreen LDR
// image.
//
// Lifecycle:
//  1. Open or New creates the passes and the frame targets
//  2. LoadEnvironment bakes the skybox and IBL maps
//  3. Render records and submits one frame per call
//  4. Close waits for the GPU and releases everything
//
// Thread Safety: Engine is NOT safe for concurrent use. Render, Resize and
// LoadEnvironment must be called from one goroutine.
type Engine struct {
	cfg     Config
	backend backend.RenderBackend
	gctx    *gpu.Context
	lib     *shader.Library
	ring    *gpu.FrameRing

	cube, quad *mesh.Mesh

	hdrRP, ldrRP *gpu.RenderPass
	samples      uint32

	cubemap *pass.Cubemap
	skybox  *pass.Skybox
	bloom   *pass.Bloom
	ldr     *pass.LDR

	targets targets
	// bloomActive is false when bloom is disabled, unsupported or the
	// target is too small for the mip chain.
	bloomActive bool

	reload atomic.Bool
	frames uint64
	closed bool
}

// Open initializes the backend named by cfg.Backend, or the best available
// one, and creates an Engine on its device. Close also closes the backend.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b, err := backend.InitNamed(cfg.Backend)
	if err != nil {
		return nil, err
	}
	e, err := New(ctx, b.Device(), cfg, opts...)
	if err != nil {
		b.Close()
		return nil, err
	}
	e.backend = b
	slogger().Info("engine opened", "backend", b.Name())
	return e, nil
}

// New creates an Engine on dev. The caller keeps ownership of dev.
func New(ctx context.Context, dev gpu.Device, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	gctx, err := gpu.NewContext(dev, cfg.contextOptions()...)
	if err != nil {
		return nil, fmt.Errorf("lumen: %w", err)
	}
	caps := gctx.Capabilities()
	if !caps.Graphics {
		gctx.Close()
		return nil, ErrNoGraphics
	}

	e := &Engine{cfg: cfg, gctx: gctx, lib: o.lib}
	if err := e.init(ctx); err != nil {
		e.release()
		return nil, err
	}
	return e, nil
}

func (e *Engine) init(ctx context.Context) error {
	caps := e.gctx.Capabilities()
	if e.lib == nil {
		lib, err := loadShaders(ctx, e.cfg, caps)
		if err != nil {
			return err
		}
		e.lib = lib
	}

	var err error
	if e.cube, err = mesh.Cube(e.gctx); err != nil {
		return fmt.Errorf("lumen: %w", err)
	}
	if e.quad, err = mesh.Quad(e.gctx); err != nil {
		return fmt.Errorf("lumen: %w", err)
	}

	e.samples = sampleCount(e.cfg.MSAASamples, caps.MaxColorSamples)
	if e.samples != e.cfg.MSAASamples {
		slogger().Warn("msaa sample count lowered to device limit",
			"requested", e.cfg.MSAASamples, "used", e.samples)
	}
	e.hdrRP = gpu.NewRenderPass(e.gctx)
	if err := e.hdrRP.Create(gpu.RenderPassHDR, gpu.RenderPassParams{}); err != nil {
		return fmt.Errorf("lumen: %w", err)
	}
	e.ldrRP = gpu.NewRenderPass(e.gctx)
	if err := e.ldrRP.Create(gpu.RenderPassLDR, gpu.RenderPassParams{
		ColorFormat: OutputFormat,
		Samples:     e.samples,
		Offscreen:   true,
	}); err != nil {
		return fmt.Errorf("lumen: %w", err)
	}

	e.cubemap = pass.NewCubemap(e.gctx, e.lib, e.cfg.cubemapConfig())
	if err := e.cubemap.Create(); err != nil {
		return fmt.Errorf("lumen: %w", err)
	}
	if err := e.createPasses(); err != nil {
		return err
	}
	if e.cfg.Bloom {
		if caps.PushConstants {
			e.bloom = pass.NewBloom(e.gctx, e.lib, e.cfg.bloomConfig())
		} else {
			slogger().Info("bloom disabled: backend has no push constants")
		}
	}

	if e.ring, err = gpu.NewFrameRing(e.gctx); err != nil {
		return fmt.Errorf("lumen: %w", err)
	}
	return e.createTargets(ctx, uint32(e.cfg.WindowWidth), uint32(e.cfg.WindowHeight))
}

// loadShaders compiles the shaders of cfg for a device with caps.
func loadShaders(ctx context.Context, cfg Config, caps gpu.Capabilities) (*shader.Library, error) {
	opts := []shader.Option{shader.WithSamplerOffset(caps.SamplerBindingOffset)}
	var lib *shader.Library
	if cfg.ShaderDir != "" {
		lib = shader.OpenDir(cfg.ShaderDir, opts...)
	} else {
		lib = shader.NewLibrary(shader.Embedded(), opts...)
	}
	if err := lib.Load(ctx); err != nil {
		return nil, fmt.Errorf("lumen: load shaders: %w", err)
	}
	return lib, nil
}

// sampleCount returns the largest power of two not above want or limit.
func sampleCount(want, limit uint32) uint32 {
	n := max(min(want, max(limit, 1)), 1)
	s := uint32(1)
	for s*2 <= n {
		s *= 2
	}
	return s
}

// createPasses builds the passes whose pipelines depend on the shaders but
// not on the frame size.
func (e *Engine) createPasses() error {
	if e.skybox == nil {
		e.skybox = pass.NewSkybox(e.gctx, e.lib)
	}
	if err := e.skybox.Create(e.hdrRP); err != nil {
		return fmt.Errorf("lumen: %w", err)
	}
	if e.ldr == nil {
		e.ldr = pass.NewLDR(e.gctx, e.lib)
	}
	if err := e.ldr.Create(e.ldrRP); err != nil {
		return fmt.Errorf("lumen: %w", err)
	}
	return nil
}

// texture creates a single-mip texture.
func (e *Engine) texture(label string, w, h uint32, format gpu.Format, usage gpu.ImageUsage, samples uint32) (*gpu.Texture, error) {
	t := gpu.NewTexture(e.gctx, gpu.TextureDesc{
		Label:     label,
		Width:     w,
		Height:    h,
		Format:    format,
		MipLevels: 1,
		Usage:     usage,
		Samples:   samples,
	})
	if err := t.Create(); err != nil {
		return nil, fmt.Errorf("lumen: %w", err)
	}
	return t, nil
}

// createTargets allocates the frame images at w x h, sizes bloom to match
// and points the LDR pass at the image it tone maps.
func (e *Engine) createTargets(ctx context.Context, w, h uint32) error {
	t := &e.targets
	t.width, t.height = w, h
	var err error

	hdrUsage := gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled | gpu.ImageUsageTransferSrc
	if e.bloom != nil {
		hdrUsage |= gpu.ImageUsageStorage
	}
	if t.hdr, err = e.texture("hdr color", w, h, gpu.FormatR32G32B32A32Sfloat, hdrUsage, 1); err != nil {
		return err
	}
	if err := t.hdr.CreateSampler(gpu.SamplerDesc{
		MagFilter:   gpu.FilterLinear,
		MinFilter:   gpu.FilterLinear,
		AddressMode: gpu.AddressModeClampToEdge,
	}); err != nil {
		return fmt.Errorf("lumen: %w", err)
	}
	if t.depth, err = e.texture("depth", w, h, gpu.FormatD32Sfloat, gpu.ImageUsageDepthStencilAttachment, 1); err != nil {
		return err
	}
	t.hdrFB = gpu.NewFramebuffer(e.gctx)
	if err := t.hdrFB.Create(gpu.FramebufferConfig{
		RenderPass:  e.hdrRP,
		Attachments: []*gpu.Texture{t.hdr, t.depth},
		ViewIndices: []uint32{0, 0},
		Width:       w,
		Height:      h,
	}); err != nil {
		return fmt.Errorf("lumen: hdr framebuffer: %w", err)
	}

	if t.ldr, err = e.texture("ldr color", w, h, OutputFormat, gpu.ImageUsageColorAttachment|gpu.ImageUsageTransferSrc, 1); err != nil {
		return err
	}
	ldrAttachments := []*gpu.Texture{t.ldr}
	if e.samples > 1 {
		if t.msaa, err = e.texture("ldr msaa", w, h, OutputFormat, gpu.ImageUsageColorAttachment, e.samples); err != nil {
			return err
		}
		ldrAttachments = []*gpu.Texture{t.msaa, t.ldr}
	}
	t.ldrFB = gpu.NewFramebuffer(e.gctx)
	if err := t.ldrFB.Create(gpu.FramebufferConfig{
		RenderPass:  e.ldrRP,
		Attachments: ldrAttachments,
		ViewIndices: make([]uint32, len(ldrAttachments)),
		Width:       w,
		Height:      h,
	}); err != nil {
		return fmt.Errorf("lumen: ldr framebuffer: %w", err)
	}

	e.bloomActive = false
	if e.bloom != nil {
		switch err := e.bloom.Create(ctx, w, h); {
		case err == nil:
			e.bloomActive = true
		case errors.Is(err, pass.ErrInsufficientMips):
			slogger().Warn("bloom skipped at this size", "width", w, "height", h, "err", err)
		default:
			return fmt.Errorf("lumen: %w", err)
		}
	}

	tonemapped := t.hdr
	if e.bloomActive {
		tonemapped = e.bloom.OutputTexture()
		// The LDR sets sample it read-only between frames.
		if err := e.gctx.SubmitOneShot(ctx, func(cmd *gpu.CommandBuffer) error {
			return tonemapped.TransitionLayout(cmd, gpu.LayoutShaderReadOnly, 0, 1)
		}); err != nil {
			return fmt.Errorf("lumen: %w", err)
		}
	}
	for frame := range e.gctx.FramesInFlight() {
		if err := e.ldr.UpdateDescriptorSets(frame, tonemapped); err != nil {
			return fmt.Errorf("lumen: %w", err)
		}
	}
	slogger().Debug("frame targets created", "width", w, "height", h, "samples", e.samples, "bloom", e.bloomActive)
	return nil
}

func (e *Engine) destroyTargets() {
	if e.bloom != nil && e.bloom.Created() {
		e.bloom.Destroy()
	}
	e.bloomActive = false
	e.targets.destroy()
}

// Config returns the settings the engine was created with.
func (e *Engine) Config() Config { return e.cfg }

// Capabilities returns the device capabilities.
func (e *Engine) Capabilities() gpu.Capabilities { return e.gctx.Capabilities() }

// Size returns the frame size.
func (e *Engine) Size() (int, int) { return int(e.targets.width), int(e.targets.height) }

// Frames returns the number of frames submitted.
func (e *Engine) Frames() uint64 { return e.frames }

// BloomActive reports whether frames are bloomed.
func (e *Engine) BloomActive() bool { return e.bloomActive }

// OutputTexture returns the tone mapped image of the last frame. It is
// replaced by Resize.
func (e *Engine) OutputTexture() *gpu.Texture { return e.targets.ldr }

// HDRTexture returns the scene target the skybox is drawn into.
func (e *Engine) HDRTexture() *gpu.Texture { return e.targets.hdr }

// IBLMaps are the image based lighting maps baked by LoadEnvironment.
type IBLMaps struct {
	Skybox     *gpu.Texture
	Irradiance *gpu.Texture
	Prefilter  *gpu.Texture
	BRDFLUT    *gpu.Texture
}

// IBL returns the baked maps. Every field is nil before LoadEnvironment.
func (e *Engine) IBL() IBLMaps {
	if e.skybox == nil || e.skybox.Environment() == nil {
		return IBLMaps{}
	}
	return IBLMaps{
		Skybox:     e.cubemap.SkyboxCubemap(),
		Irradiance: e.cubemap.IrradianceMap(),
		Prefilter:  e.cubemap.PrefilterMap(),
		BRDFLUT:    e.cubemap.BRDFLUT(),
	}
}

// LoadEnvironment bakes the skybox cubemap, irradiance map, prefiltered
// map and BRDF lookup table from an equirectangular image, then frees the
// source and the intermediate mipped copy. A second call rebakes.
func (e *Engine) LoadEnvironment(ctx context.Context, img *imageio.Image) error {
	if e.closed {
		return ErrClosed
	}
	if err := e.ring.Wait(ctx); err != nil {
		return err
	}
	if e.skybox.Environment() != nil {
		// Baking runs once per pass; start from a fresh one.
		e.cubemap.Destroy()
		if err := e.cubemap.Create(); err != nil {
			return fmt.Errorf("lumen: %w", err)
		}
	}
	src, err := imageio.NewTexture(ctx, e.gctx, img, "environment")
	if err != nil {
		return fmt.Errorf("lumen: %w", err)
	}
	defer src.Destroy()

	if err := e.cubemap.Run(ctx, src, e.cube, e.quad); err != nil {
		return fmt.Errorf("lumen: bake environment: %w", err)
	}
	e.cubemap.DestroyIntermediates()
	if err := e.skybox.SetEnvironment(e.cubemap.SkyboxCubemap()); err != nil {
		return fmt.Errorf("lumen: %w", err)
	}
	slogger().Info("environment baked", "width", img.Width, "height", img.Height)
	return nil
}

// LoadEnvironmentFile bakes the environment from an image file, or from a
// generated sky gradient when path is empty.
func (e *Engine) LoadEnvironmentFile(ctx context.Context, path string) error {
	if path == "" {
		return e.LoadEnvironment(ctx, imageio.Gradient(1024, 512))
	}
	img, err := imageio.Load(path, imageio.Options{MaxSize: environmentMaxSize})
	if err != nil {
		return fmt.Errorf("lumen: %w", err)
	}
	return e.LoadEnvironment(ctx, img)
}

// Resize recreates the frame targets at width x height after the frames
// in flight finish. A zero dimension, as reported by a minimized window,
// and an unchanged size are ignored.
func (e *Engine) Resize(ctx context.Context, width, height int) error {
	if e.closed {
		return ErrClosed
	}
	if width <= 0 || height <= 0 {
		slogger().Debug("resize to empty size ignored", "width", width, "height", height)
		return nil
	}
	w, h := uint32(width), uint32(height)
	if w == e.targets.width && h == e.targets.height {
		return nil
	}
	if err := e.ring.Wait(ctx); err != nil {
		return err
	}
	e.destroyTargets()
	if err := e.createTargets(ctx, w, h); err != nil {
		return err
	}
	slogger().Info("frame targets resized", "width", w, "height", h)
	return nil
}

// WatchShaders reloads shaders from Config.ShaderDir as they change on
// disk. The next Render rebuilds the passes. It blocks until ctx is done.
func (e *Engine) WatchShaders(ctx context.Context) error {
	return e.lib.Watch(ctx, func(string) { e.reload.Store(true) })
}

// rebuild recreates every pipeline after a shader reload.
func (e *Engine) rebuild(ctx context.Context) error {
	if err := e.ring.Wait(ctx); err != nil {
		return err
	}
	w, h := e.targets.width, e.targets.height
	e.destroyTargets()
	env := e.skybox.Environment()
	e.skybox.Destroy()
	e.ldr.Destroy()
	if err := e.createPasses(); err != nil {
		return err
	}
	if env != nil {
		if err := e.skybox.SetEnvironment(env); err != nil {
			return fmt.Errorf("lumen: %w", err)
		}
	}
	if err := e.createTargets(ctx, w, h); err != nil {
		return err
	}
	slogger().Info("passes rebuilt after shader reload")
	return nil
}

// Render records and submits one frame. It blocks while the frame slot it
// reuses is still on the GPU. A frame that fails to record is dropped and
// nothing is submitted.
func (e *Engine) Render(ctx context.Context, in FrameInput) error {
	if e.closed {
		return ErrClosed
	}
	if e.skybox.Environment() == nil {
		return ErrNoEnvironment
	}
	if e.reload.Swap(false) {
		if err := e.rebuild(ctx); err != nil {
			return err
		}
	}
	cmd, err := e.ring.Begin(ctx)
	if err != nil {
		return err
	}
	if err := e.record(e.ring.Index(), cmd, in); err != nil {
		e.ring.Abort()
		return fmt.Errorf("lumen: frame %d: %w", e.frames, err)
	}
	if err := e.ring.Submit(); err != nil {
		return err
	}
	e.ring.Advance()
	e.frames++
	return nil
}

func (e *Engine) record(frame int, cmd *gpu.CommandBuffer, in FrameInput) error {
	t := &e.targets
	if err := e.skybox.UpdateCamera(frame, in.View, in.Projection); err != nil {
		return err
	}
	if err := e.ldr.UpdateExposure(frame, e.cfg.Exposure); err != nil {
		return err
	}

	if err := cmd.BeginRenderPass(e.hdrRP, t.hdrFB, gpu.ContentsInline); err != nil {
		return err
	}
	if err := e.skybox.Draw(frame, cmd, e.cube, t.width, t.height); err != nil {
		return err
	}
	if err := cmd.EndRenderPass(); err != nil {
		return err
	}

	if e.bloomActive {
		out := e.bloom.OutputTexture()
		if err := out.TransitionLayout(cmd, gpu.LayoutGeneral, 0, 1); err != nil {
			return err
		}
		if err := e.bloom.Draw(frame, cmd, t.hdr); err != nil {
			return err
		}
		if err := out.TransitionLayout(cmd, gpu.LayoutShaderReadOnly, 0, 1); err != nil {
			return err
		}
	} else {
		// The LDR pass samples the scene color the HDR pass just wrote.
		if err := t.hdr.InsertBarrier(cmd, gpu.ExplicitBarrier{
			SrcAccess: gpu.AccessColorAttachmentWrite,
			DstAccess: gpu.AccessShaderRead,
			SrcStage:  gpu.StageColorAttachmentOutput,
			DstStage:  gpu.StageFragmentShader,
		}); err != nil {
			return err
		}
	}

	if err := cmd.BeginRenderPass(e.ldrRP, t.ldrFB, gpu.ContentsInline); err != nil {
		return err
	}
	if err := e.ldr.Draw(frame, cmd, e.quad, t.width, t.height); err != nil {
		return err
	}
	return cmd.EndRenderPass()
}

// Wait blocks until every submitted frame has finished.
func (e *Engine) Wait(ctx context.Context) error {
	if e.closed {
		return ErrClosed
	}
	return e.ring.Wait(ctx)
}

// ReadPixels waits for the submitted frames and returns the output image
// as tightly packed RGBA8 rows.
func (e *Engine) ReadPixels(ctx context.Context) ([]byte, error) {
	if err := e.Wait(ctx); err != nil {
		return nil, err
	}
	return e.targets.ldr.ReadPixels(ctx)
}

// SavePNG writes the output image to path.
func (e *Engine) SavePNG(ctx context.Context, path string) error {
	pix, err := e.ReadPixels(ctx)
	if err != nil {
		return err
	}
	w, h := e.Size()
	return imageio.SavePNG(path, w, h, pix)
}

// Close waits for the GPU and releases every object the engine created.
// A second Close is a no-op.
func (e *Engine) Close() {
	if e.closed {
		slogger().Warn("engine already closed")
		return
	}
	if e.ring != nil {
		if err := e.ring.Wait(context.Background()); err != nil {
			slogger().Warn("frames still in flight at close", "err", err)
		}
	}
	e.release()
}

// release destroys whatever init managed to create.
func (e *Engine) release() {
	e.destroyTargets()
	if e.ring != nil {
		e.ring.Destroy()
	}
	if e.ldr != nil && e.ldr.Created() {
		e.ldr.Destroy()
	}
	if e.skybox != nil && e.skybox.Created() {
		e.skybox.Destroy()
	}
	if e.cubemap != nil && e.cubemap.Created() {
		e.cubemap.Destroy()
	}
	for _, rp := range []*gpu.RenderPass{e.ldrRP, e.hdrRP} {
		if rp != nil {
			rp.Destroy()
		}
	}
	for _, m := range []*mesh.Mesh{e.quad, e.cube} {
		if m != nil {
			m.Destroy()
		}
	}
	e.gctx.Close()
	if e.backend != nil {
		e.backend.Close()
	}
	e.closed = true
}
