package pass

import (
	"context"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/mesh"
	"github.com/gogpu/lumen/internal/shader"
)

// CubeFaces is the number of cubemap faces.
const CubeFaces = 6

// CubemapConfig holds the cubemap preprocessing sizes and stage toggles.
type CubemapConfig struct {
	SkyboxResolution uint32
	IrradianceSize   uint32
	PrefilterSize    uint32
	PrefilterMips    uint32
	BRDFLUTSize      uint32

	Irradiance bool
	Prefilter  bool
	BRDF       bool
}

// DefaultCubemapConfig returns the default sizes with every stage enabled.
func DefaultCubemapConfig() CubemapConfig {
	return CubemapConfig{
		SkyboxResolution: 512,
		IrradianceSize:   32,
		PrefilterSize:    128,
		PrefilterMips:    5,
		BRDFLUTSize:      512,
		Irradiance:       true,
		Prefilter:        true,
		BRDF:             true,
	}
}

// CameraUniform is the view and projection pair read by the cube-face and
// skybox vertex shaders.
type CameraUniform struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
}

// faceTargets holds the look direction and up vector of each face, in
// layer order +X, -X, -Y, +Y, +Z, -Z.
var faceTargets = [CubeFaces][2]mgl32.Vec3{
	{{1, 0, 0}, {0, -1, 0}},
	{{-1, 0, 0}, {0, -1, 0}},
	{{0, -1, 0}, {0, 0, -1}},
	{{0, 1, 0}, {0, 0, 1}},
	{{0, 0, 1}, {0, -1, 0}},
	{{0, 0, -1}, {0, -1, 0}},
}

// FaceViews returns the view matrix of every cube face, looking out from
// the origin.
func FaceViews() [CubeFaces]mgl32.Mat4 {
	var out [CubeFaces]mgl32.Mat4
	for i, f := range faceTargets {
		out[i] = mgl32.LookAtV(mgl32.Vec3{}, f[0], f[1])
	}
	return out
}

// FaceProjection returns the 90 degree square projection shared by the
// faces, with Y flipped for Vulkan clip space.
func FaceProjection() mgl32.Mat4 {
	p := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 10)
	p.Set(1, 1, -p.At(1, 1))
	return p
}

// Roughness returns the roughness the prefilter map is convolved with at
// mip i: i/5, capped at 1.
func Roughness(i uint32) float32 {
	return math32.Min(float32(i)/(CubeFaces-1), 1)
}

// Cubemap converts an equirectangular environment into the image-based
// lighting inputs: a skybox cubemap, a diffuse irradiance map, a specular
// prefilter map with one roughness per mip and a BRDF lookup table.
//
// Every face is drawn into its own single-layer framebuffer. The uniform
// buffers and descriptor sets are allocated for all stages whatever the
// toggles, so enabling a stage later needs no new allocation.
type Cubemap struct {
	gctx *gpu.Context
	lib  *shader.Library
	cfg  CubemapConfig

	created bool

	faceLayout, envLayout, roughLayout *gpu.SetLayoutSummary

	viewProj  [CubeFaces]*gpu.Buffer
	layer     [CubeFaces]*gpu.Buffer
	roughness [CubeFaces]*gpu.Buffer

	skyboxSets, irradianceSets, prefilterSets, roughnessSets []*gpu.DescriptorSet

	skybox, mipped, irradiance, prefilter, brdf *gpu.Texture

	cubeRP, prefilterRP, brdfRP *gpu.RenderPass

	skyboxFBs     [CubeFaces]*gpu.Framebuffer
	irradianceFBs [CubeFaces]*gpu.Framebuffer
	prefilterFBs  [][CubeFaces]*gpu.Framebuffer
	brdfFB        *gpu.Framebuffer

	skyboxPipe, irradiancePipe, prefilterPipe, brdfPipe *gpu.Pipeline

	cleanup      releaser
	intermediate bool
}

// NewCubemap returns an uncreated cubemap preprocessing pass.
func NewCubemap(gctx *gpu.Context, lib *shader.Library, cfg CubemapConfig) *Cubemap {
	return &Cubemap{
		gctx: gctx,
		lib:  lib,
		cfg:  cfg,
		faceLayout: summary(
			binding(0, gpu.DescriptorUniformBuffer, gpu.ShaderStageVertex),
			binding(1, gpu.DescriptorUniformBuffer, gpu.ShaderStageVertex),
			binding(2, gpu.DescriptorCombinedImageSampler, gpu.ShaderStageFragment),
		),
		envLayout: summary(
			binding(0, gpu.DescriptorUniformBuffer, gpu.ShaderStageVertex),
			binding(1, gpu.DescriptorUniformBuffer, gpu.ShaderStageVertex),
			cubeBinding(2, gpu.ShaderStageFragment),
		),
		roughLayout: summary(
			binding(0, gpu.DescriptorUniformBuffer, gpu.ShaderStageFragment),
		),
	}
}

// Config returns the pass configuration.
func (c *Cubemap) Config() CubemapConfig { return c.cfg }

// Created reports whether Create succeeded and Destroy has not run since.
func (c *Cubemap) Created() bool { return c.created }

// SkyboxCubemap returns the environment as a cube texture.
func (c *Cubemap) SkyboxCubemap() *gpu.Texture { return c.skybox }

// IrradianceMap returns the diffuse irradiance cube.
func (c *Cubemap) IrradianceMap() *gpu.Texture { return c.irradiance }

// PrefilterMap returns the specular prefilter cube.
func (c *Cubemap) PrefilterMap() *gpu.Texture { return c.prefilter }

// BRDFLUT returns the BRDF integration lookup table.
func (c *Cubemap) BRDFLUT() *gpu.Texture { return c.brdf }

// Create allocates every texture, uniform buffer, descriptor set, render
// pass, framebuffer and pipeline of the pass.
func (c *Cubemap) Create() error {
	if c.created {
		slogger().Warn("cubemap pass already created")
		return nil
	}
	if c.cfg.PrefilterMips == 0 || c.cfg.PrefilterMips > gpu.CalculateMipLevels(c.cfg.PrefilterSize, c.cfg.PrefilterSize) {
		return fmt.Errorf("cubemap: %w: %d prefilter mips for size %d",
			ErrInsufficientMips, c.cfg.PrefilterMips, c.cfg.PrefilterSize)
	}
	if !c.gctx.Capabilities().Graphics {
		return fmt.Errorf("cubemap: %w: graphics", ErrUnsupported)
	}
	if err := c.create(); err != nil {
		c.cleanup.run()
		c.reset()
		return err
	}
	c.created, c.intermediate = true, true
	slogger().Info("cubemap pass created",
		"skybox", c.cfg.SkyboxResolution,
		"irradiance", c.cfg.IrradianceSize,
		"prefilter", c.cfg.PrefilterSize,
		"mips", c.cfg.PrefilterMips,
		"brdf", c.cfg.BRDFLUTSize)
	return nil
}

func (c *Cubemap) create() error {
	if err := c.createTextures(); err != nil {
		return err
	}
	if err := c.createUniforms(); err != nil {
		return err
	}
	if err := c.createSets(); err != nil {
		return err
	}
	if err := c.createRenderPasses(); err != nil {
		return err
	}
	if err := c.createFramebuffers(); err != nil {
		return err
	}
	return c.createPipelines()
}

func (c *Cubemap) texture(desc gpu.TextureDesc, sampler gpu.SamplerDesc) (*gpu.Texture, error) {
	t := gpu.NewTexture(c.gctx, desc)
	if err := t.Create(); err != nil {
		return nil, err
	}
	c.cleanup.add(func() {
		if t.State() != gpu.Destroyed {
			t.Destroy()
		}
	})
	if err := t.CreateSampler(sampler); err != nil {
		return nil, err
	}
	return t, nil
}

func (c *Cubemap) createTextures() error {
	repeat := gpu.SamplerDesc{
		MagFilter:    gpu.FilterLinear,
		MinFilter:    gpu.FilterLinear,
		MipmapFilter: gpu.FilterLinear,
		AddressMode:  gpu.AddressModeRepeat,
		MaxLod:       float32(c.cfg.PrefilterMips),
	}
	cube := func(label string, size, mips uint32, usage gpu.ImageUsage, scope gpu.ViewScope) gpu.TextureDesc {
		return gpu.TextureDesc{
			Label:       label,
			Width:       size,
			Height:      size,
			Format:      gpu.FormatR32G32B32A32Sfloat,
			MipLevels:   mips,
			ArrayLayers: CubeFaces,
			Usage:       usage,
			Cube:        true,
			Scope:       scope,
		}
	}
	var err error
	c.skybox, err = c.texture(cube("skybox cubemap", c.cfg.SkyboxResolution, 1,
		gpu.ImageUsageColorAttachment|gpu.ImageUsageTransferSrc|gpu.ImageUsageSampled,
		gpu.ScopeEntireImage), repeat)
	if err != nil {
		return fmt.Errorf("cubemap: %w", err)
	}
	c.mipped, err = c.texture(cube("skybox cubemap mipped", c.cfg.SkyboxResolution, c.cfg.PrefilterMips,
		gpu.ImageUsageSampled|gpu.ImageUsageTransferDst|gpu.ImageUsageTransferSrc,
		gpu.ScopeEntireImage), repeat)
	if err != nil {
		return fmt.Errorf("cubemap: %w", err)
	}
	c.irradiance, err = c.texture(cube("irradiance map", c.cfg.IrradianceSize, 1,
		gpu.ImageUsageColorAttachment|gpu.ImageUsageSampled,
		gpu.ScopeEntireImage), repeat)
	if err != nil {
		return fmt.Errorf("cubemap: %w", err)
	}

	prefilterSampler := repeat
	prefilterSampler.MipmapFilter = gpu.FilterNearest
	prefilterSampler.MaxAnisotropy = c.gctx.Capabilities().MaxSamplerAnisotropy
	c.prefilter, err = c.texture(cube("prefilter map", c.cfg.PrefilterSize, c.cfg.PrefilterMips,
		gpu.ImageUsageColorAttachment|gpu.ImageUsageSampled|gpu.ImageUsageTransferDst|gpu.ImageUsageTransferSrc,
		gpu.ScopePerMipLevel), prefilterSampler)
	if err != nil {
		return fmt.Errorf("cubemap: %w", err)
	}

	c.brdf, err = c.texture(gpu.TextureDesc{
		Label:     "brdf lut",
		Width:     c.cfg.BRDFLUTSize,
		Height:    c.cfg.BRDFLUTSize,
		Format:    gpu.FormatR16G16Sfloat,
		MipLevels: 1,
		Usage:     gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled,
	}, gpu.SamplerDesc{
		MagFilter:   gpu.FilterLinear,
		MinFilter:   gpu.FilterLinear,
		AddressMode: gpu.AddressModeClampToEdge,
	})
	if err != nil {
		return fmt.Errorf("cubemap: %w", err)
	}
	return nil
}

// createUniforms fills the face, layer and roughness buffers. Their
// contents never change.
func (c *Cubemap) createUniforms() error {
	views, proj := FaceViews(), FaceProjection()
	for i := range CubeFaces {
		vp := gpu.NewBuffer(c.gctx, gpu.BufferUniform, 2*16*4, fmt.Sprintf("cubemap view proj[%d]", i))
		layer := gpu.NewBuffer(c.gctx, gpu.BufferUniform, 4, fmt.Sprintf("cubemap layer[%d]", i))
		rough := gpu.NewBuffer(c.gctx, gpu.BufferUniform, 4, fmt.Sprintf("prefilter roughness[%d]", i))
		for _, b := range []*gpu.Buffer{vp, layer, rough} {
			if err := b.Create(); err != nil {
				return fmt.Errorf("cubemap: %w", err)
			}
			c.cleanup.add(b.Destroy)
		}
		if err := vp.WriteValue(0, CameraUniform{View: views[i], Projection: proj}); err != nil {
			return err
		}
		if err := layer.WriteValue(0, uint32(i)); err != nil {
			return err
		}
		if err := rough.WriteValue(0, Roughness(uint32(i))); err != nil {
			return err
		}
		c.viewProj[i], c.layer[i], c.roughness[i] = vp, layer, rough
	}
	return nil
}

func (c *Cubemap) createSets() error {
	var err error
	if c.skyboxSets, err = gpu.NewDescriptorSets(c.gctx, c.faceLayout, CubeFaces); err != nil {
		return fmt.Errorf("cubemap sets: %w", err)
	}
	c.cleanup.freeSets(c.skyboxSets)
	for _, s := range []*[]*gpu.DescriptorSet{&c.irradianceSets, &c.prefilterSets} {
		if *s, err = gpu.NewDescriptorSets(c.gctx, c.envLayout, CubeFaces); err != nil {
			return fmt.Errorf("cubemap sets: %w", err)
		}
		c.cleanup.freeSets(*s)
	}
	if c.roughnessSets, err = gpu.NewDescriptorSets(c.gctx, c.roughLayout, CubeFaces); err != nil {
		return fmt.Errorf("cubemap roughness sets: %w", err)
	}
	c.cleanup.freeSets(c.roughnessSets)

	for i := range CubeFaces {
		for _, set := range []*gpu.DescriptorSet{c.skyboxSets[i], c.irradianceSets[i], c.prefilterSets[i]} {
			if err := update(set, 2, 0, func(w *gpu.WriteDescriptorSets) error {
				if err := w.AddUniformBuffer(set, 0, c.viewProj[i]); err != nil {
					return err
				}
				return w.AddUniformBuffer(set, 1, c.layer[i])
			}); err != nil {
				return fmt.Errorf("cubemap face %d: %w", i, err)
			}
		}
		rs := c.roughnessSets[i]
		if err := update(rs, 1, 0, func(w *gpu.WriteDescriptorSets) error {
			return w.AddUniformBuffer(rs, 0, c.roughness[i])
		}); err != nil {
			return fmt.Errorf("cubemap roughness %d: %w", i, err)
		}
	}
	return nil
}

func (c *Cubemap) createRenderPasses() error {
	for _, rp := range []struct {
		dst  **gpu.RenderPass
		kind gpu.RenderPassKind
	}{
		{&c.cubeRP, gpu.RenderPassCubemap},
		{&c.prefilterRP, gpu.RenderPassPrefilter},
		{&c.brdfRP, gpu.RenderPassBRDF},
	} {
		p := gpu.NewRenderPass(c.gctx)
		if err := p.Create(rp.kind, gpu.RenderPassParams{}); err != nil {
			return fmt.Errorf("cubemap: %w", err)
		}
		c.cleanup.add(p.Destroy)
		*rp.dst = p
	}
	return nil
}

func (c *Cubemap) framebuffer(rp *gpu.RenderPass, tex *gpu.Texture, mip, layer uint32) (*gpu.Framebuffer, error) {
	w, h := tex.MipExtent(mip)
	fb := gpu.NewFramebuffer(c.gctx)
	if err := fb.Create(gpu.FramebufferConfig{
		RenderPass:  rp,
		Attachments: []*gpu.Texture{tex},
		ViewIndices: []uint32{mip},
		Width:       w,
		Height:      h,
		SingleLayer: tex.ArrayLayers() > 1,
		Layer:       layer,
	}); err != nil {
		return nil, fmt.Errorf("cubemap framebuffer %q mip %d layer %d: %w", tex.Label(), mip, layer, err)
	}
	c.cleanup.add(fb.Destroy)
	return fb, nil
}

func (c *Cubemap) createFramebuffers() error {
	var err error
	for f := range uint32(CubeFaces) {
		if c.skyboxFBs[f], err = c.framebuffer(c.cubeRP, c.skybox, 0, f); err != nil {
			return err
		}
		if c.irradianceFBs[f], err = c.framebuffer(c.cubeRP, c.irradiance, 0, f); err != nil {
			return err
		}
	}
	c.prefilterFBs = make([][CubeFaces]*gpu.Framebuffer, c.cfg.PrefilterMips)
	for mip := range c.cfg.PrefilterMips {
		for f := range uint32(CubeFaces) {
			if c.prefilterFBs[mip][f], err = c.framebuffer(c.prefilterRP, c.prefilter, mip, f); err != nil {
				return err
			}
		}
	}
	c.brdfFB, err = c.framebuffer(c.brdfRP, c.brdf, 0, 0)
	return err
}

func (c *Cubemap) createPipelines() error {
	inside := gpu.DefaultGraphicsState()
	inside.CullMode = gpu.CullNone

	var err error
	if c.skyboxPipe, err = graphicsPipeline(c.gctx, c.lib, shader.CubemapPreprocessing, c.cubeRP, inside, c.faceLayout); err != nil {
		return fmt.Errorf("cubemap: %w", err)
	}
	c.cleanup.add(c.skyboxPipe.Destroy)
	if c.irradiancePipe, err = graphicsPipeline(c.gctx, c.lib, shader.IrradianceSampling, c.cubeRP, inside, c.envLayout); err != nil {
		return fmt.Errorf("cubemap: %w", err)
	}
	c.cleanup.add(c.irradiancePipe.Destroy)
	if c.prefilterPipe, err = graphicsPipeline(c.gctx, c.lib, shader.PrefilterSkybox, c.prefilterRP, inside, c.envLayout, c.roughLayout); err != nil {
		return fmt.Errorf("cubemap: %w", err)
	}
	c.cleanup.add(c.prefilterPipe.Destroy)
	if c.brdfPipe, err = graphicsPipeline(c.gctx, c.lib, shader.BRDFConvolution, c.brdfRP, inside); err != nil {
		return fmt.Errorf("cubemap: %w", err)
	}
	c.cleanup.add(c.brdfPipe.Destroy)
	return nil
}

// validate checks every Draw precondition. It records nothing.
func (c *Cubemap) validate(cmd *gpu.CommandBuffer, source *gpu.Texture, cube, quad *mesh.Mesh) error {
	if !c.created {
		slogger().Error("cubemap drawn before create")
		return ErrPassNotCreated
	}
	if err := checkRecording(cmd); err != nil {
		return err
	}
	switch {
	case source == nil:
		slogger().Error("cubemap pass has no source texture")
		return fmt.Errorf("cubemap source: %w", ErrNilInput)
	case cube == nil:
		slogger().Error("cubemap pass has no cube mesh")
		return fmt.Errorf("cubemap cube mesh: %w", ErrNilInput)
	case quad == nil && c.cfg.BRDF:
		slogger().Error("cubemap pass has no quad mesh for the BRDF stage")
		return fmt.Errorf("cubemap quad mesh: %w", ErrNilInput)
	}
	if st := source.State(); st != gpu.Created {
		slogger().Error("cubemap source has no native image", "texture", source.Label(), "state", st)
		return fmt.Errorf("cubemap source %q: %w", source.Label(), gpu.ErrResourceNotCreated)
	}
	if source.Usage()&gpu.ImageUsageSampled == 0 {
		slogger().Error("cubemap source must be sampled", "texture", source.Label())
		return fmt.Errorf("cubemap source %q: %w", source.Label(), gpu.ErrMissingUsage)
	}
	if l := source.MipState(0).Layout; l != gpu.LayoutShaderReadOnly {
		if _, _, _, _, err := gpu.LookupTransition(l, gpu.LayoutShaderReadOnly); err != nil {
			slogger().Error("cubemap source cannot be sampled from its layout", "texture", source.Label(), "layout", l)
			return fmt.Errorf("cubemap source %q: %w", source.Label(), err)
		}
	}
	if !c.intermediate && (c.cfg.Irradiance || c.cfg.Prefilter) {
		slogger().Error("cubemap drawn after its intermediates were destroyed")
		return fmt.Errorf("cubemap mipped copy: %w", gpu.ErrResourceNotCreated)
	}
	return nil
}

// Draw records the full preprocessing chain: six skybox faces, the mipped
// copy of the skybox, the irradiance faces, the prefilter faces of every
// mip and the BRDF lookup table. Disabled stages are skipped.
func (c *Cubemap) Draw(cmd *gpu.CommandBuffer, source *gpu.Texture, cube, quad *mesh.Mesh) error {
	if err := c.validate(cmd, source, cube, quad); err != nil {
		return err
	}

	// Configure.
	for i := range CubeFaces {
		set := c.skyboxSets[i]
		if err := update(set, 0, 1, func(w *gpu.WriteDescriptorSets) error {
			return w.AddImageAt(set, 2, source, gpu.DescriptorCombinedImageSampler, 0, gpu.LayoutShaderReadOnly)
		}); err != nil {
			return err
		}
		if !c.intermediate {
			continue
		}
		for _, set := range []*gpu.DescriptorSet{c.irradianceSets[i], c.prefilterSets[i]} {
			if err := update(set, 0, 1, func(w *gpu.WriteDescriptorSets) error {
				return w.AddImageAt(set, 2, c.mipped, gpu.DescriptorCombinedImageSampler, 0, gpu.LayoutShaderReadOnly)
			}); err != nil {
				return err
			}
		}
	}

	// Barrier.
	if err := source.TransitionLayout(cmd, gpu.LayoutShaderReadOnly, 0, 0); err != nil {
		return err
	}

	// Execute.
	err := c.drawFaces(cmd, c.cubeRP, c.skyboxFBs, c.skyboxPipe, cube, func(face int) []*gpu.DescriptorSet {
		return []*gpu.DescriptorSet{c.skyboxSets[face]}
	})
	if err != nil {
		return fmt.Errorf("skybox cubemap: %w", err)
	}

	if c.cfg.Irradiance || c.cfg.Prefilter {
		if err := c.mipped.CopyFromTexture(cmd, c.skybox, 0, 1); err != nil {
			return err
		}
		if err := c.mipped.GenerateMipmaps(cmd); err != nil {
			return err
		}
	}
	if err := c.skybox.TransitionLayout(cmd, gpu.LayoutShaderReadOnly, 0, 0); err != nil {
		return err
	}

	if c.cfg.Irradiance {
		err := c.drawFaces(cmd, c.cubeRP, c.irradianceFBs, c.irradiancePipe, cube, func(face int) []*gpu.DescriptorSet {
			return []*gpu.DescriptorSet{c.irradianceSets[face]}
		})
		if err != nil {
			return fmt.Errorf("irradiance: %w", err)
		}
	}

	if c.cfg.Prefilter {
		for mip := range c.cfg.PrefilterMips {
			rs := c.roughnessSets[min(mip, CubeFaces-1)]
			err := c.drawFaces(cmd, c.prefilterRP, c.prefilterFBs[mip], c.prefilterPipe, cube, func(face int) []*gpu.DescriptorSet {
				return []*gpu.DescriptorSet{c.prefilterSets[face], rs}
			})
			if err != nil {
				return fmt.Errorf("prefilter mip %d: %w", mip, err)
			}
			slogger().Debug("prefilter mip rendered", "mip", mip, "roughness", Roughness(mip))
		}
		c.prefilter.SetGeneratedMips(c.cfg.PrefilterMips)
	}

	if c.cfg.BRDF {
		if err := c.drawQuad(cmd, quad); err != nil {
			return fmt.Errorf("brdf: %w", err)
		}
	}
	return nil
}

// drawFaces renders the cube once into each face framebuffer.
func (c *Cubemap) drawFaces(cmd *gpu.CommandBuffer, rp *gpu.RenderPass, fbs [CubeFaces]*gpu.Framebuffer, p *gpu.Pipeline, cube *mesh.Mesh, sets func(face int) []*gpu.DescriptorSet) error {
	for face, fb := range fbs {
		w, h := fb.Extent()
		if err := cmd.BeginRenderPass(rp, fb, gpu.ContentsInline); err != nil {
			return err
		}
		if err := cmd.BindPipeline(p); err != nil {
			return err
		}
		if err := cmd.SetViewport(float32(w), float32(h)); err != nil {
			return err
		}
		if err := cmd.SetScissor(w, h); err != nil {
			return err
		}
		if err := cmd.BindDescriptorSets(p, 0, sets(face)...); err != nil {
			return err
		}
		if err := cube.Draw(cmd); err != nil {
			return err
		}
		if err := cmd.EndRenderPass(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cubemap) drawQuad(cmd *gpu.CommandBuffer, quad *mesh.Mesh) error {
	w, h := c.brdfFB.Extent()
	if err := cmd.BeginRenderPass(c.brdfRP, c.brdfFB, gpu.ContentsInline); err != nil {
		return err
	}
	if err := cmd.BindPipeline(c.brdfPipe); err != nil {
		return err
	}
	if err := cmd.SetViewport(float32(w), float32(h)); err != nil {
		return err
	}
	if err := cmd.SetScissor(w, h); err != nil {
		return err
	}
	if err := quad.Draw(cmd); err != nil {
		return err
	}
	return cmd.EndRenderPass()
}

// Run records Draw into a one-shot command buffer, submits it and waits
// for completion or ctx.
func (c *Cubemap) Run(ctx context.Context, source *gpu.Texture, cube, quad *mesh.Mesh) error {
	return c.gctx.SubmitOneShot(ctx, func(cmd *gpu.CommandBuffer) error {
		return c.Draw(cmd, source, cube, quad)
	})
}

// DestroyIntermediates frees the mipped skybox copy once the irradiance
// and prefilter maps are final. Later draws with those stages enabled fail.
func (c *Cubemap) DestroyIntermediates() {
	if !c.created || !c.intermediate {
		slogger().Warn("cubemap intermediates already destroyed")
		return
	}
	c.mipped.Destroy()
	c.intermediate = false
}

// Destroy releases everything Create allocated.
func (c *Cubemap) Destroy() {
	if !c.created {
		slogger().Warn("destroy on cubemap pass that was not created")
		return
	}
	c.cleanup.run()
	c.reset()
	c.created, c.intermediate = false, false
}

func (c *Cubemap) reset() {
	c.skyboxSets, c.irradianceSets, c.prefilterSets, c.roughnessSets = nil, nil, nil, nil
	c.skybox, c.mipped, c.irradiance, c.prefilter, c.brdf = nil, nil, nil, nil, nil
	c.cubeRP, c.prefilterRP, c.brdfRP = nil, nil, nil
	c.skyboxFBs, c.irradianceFBs, c.prefilterFBs, c.brdfFB = [CubeFaces]*gpu.Framebuffer{}, [CubeFaces]*gpu.Framebuffer{}, nil, nil
	c.skyboxPipe, c.irradiancePipe, c.prefilterPipe, c.brdfPipe = nil, nil, nil, nil
	c.viewProj, c.layer, c.roughness = [CubeFaces]*gpu.Buffer{}, [CubeFaces]*gpu.Buffer{}, [CubeFaces]*gpu.Buffer{}
}
