package pass

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/mesh"
	"github.com/gogpu/lumen/internal/shader"
)

// Skybox draws the environment cube behind the scene inside the HDR render
// pass. The cube sits at the far plane, so the depth test is LessOrEqual
// and depth writes are off.
type Skybox struct {
	gctx *gpu.Context
	lib  *shader.Library

	created bool

	layout   *gpu.SetLayoutSummary
	pipeline *gpu.Pipeline
	camera   []*gpu.Buffer
	sets     []*gpu.DescriptorSet
	env      *gpu.Texture

	cleanup releaser
}

// NewSkybox returns an uncreated skybox pass.
func NewSkybox(gctx *gpu.Context, lib *shader.Library) *Skybox {
	return &Skybox{
		gctx: gctx,
		lib:  lib,
		layout: summary(
			binding(0, gpu.DescriptorUniformBuffer, gpu.ShaderStageVertex),
			cubeBinding(1, gpu.ShaderStageFragment),
		),
	}
}

// Created reports whether Create succeeded and Destroy has not run since.
func (s *Skybox) Created() bool { return s.created }

// Environment returns the cube texture the sets point at, or nil.
func (s *Skybox) Environment() *gpu.Texture { return s.env }

// Create builds the pipeline for the HDR render pass rp and one camera
// buffer and set per frame in flight.
func (s *Skybox) Create(rp *gpu.RenderPass) error {
	if s.created {
		slogger().Warn("skybox pass already created")
		return nil
	}
	if rp == nil {
		return fmt.Errorf("skybox: %w", gpu.ErrNilRenderPass)
	}
	if err := s.create(rp); err != nil {
		s.cleanup.run()
		s.pipeline, s.camera, s.sets = nil, nil, nil
		return err
	}
	s.created = true
	slogger().Info("skybox pass created", "frames", s.gctx.FramesInFlight())
	return nil
}

func (s *Skybox) create(rp *gpu.RenderPass) error {
	state := gpu.DefaultGraphicsState()
	state.CullMode = gpu.CullNone
	state.DepthTest = true
	state.DepthCompare = gpu.CompareLessOrEqual

	var err error
	if s.pipeline, err = graphicsPipeline(s.gctx, s.lib, shader.Skybox, rp, state, s.layout); err != nil {
		return fmt.Errorf("skybox: %w", err)
	}
	s.cleanup.add(s.pipeline.Destroy)

	if s.camera, err = gpu.NewUniformBuffers(s.gctx, 2*16*4, "skybox camera"); err != nil {
		return fmt.Errorf("skybox: %w", err)
	}
	for _, b := range s.camera {
		s.cleanup.add(b.Destroy)
	}
	if s.sets, err = gpu.NewDescriptorSets(s.gctx, s.layout, s.gctx.FramesInFlight()); err != nil {
		return fmt.Errorf("skybox sets: %w", err)
	}
	s.cleanup.freeSets(s.sets)
	for i, set := range s.sets {
		if err := update(set, 1, 0, func(w *gpu.WriteDescriptorSets) error {
			return w.AddUniformBuffer(set, 0, s.camera[i])
		}); err != nil {
			return fmt.Errorf("skybox frame %d: %w", i, err)
		}
	}
	return nil
}

// SetEnvironment points every frame's set at the cube texture env.
func (s *Skybox) SetEnvironment(env *gpu.Texture) error {
	if !s.created {
		slogger().Error("skybox environment set before create")
		return ErrPassNotCreated
	}
	if env == nil {
		slogger().Error("skybox pass has no environment texture")
		return fmt.Errorf("skybox: %w", ErrNilInput)
	}
	if env.ArrayLayers() != CubeFaces {
		slogger().Warn("skybox environment is not a cube texture", "texture", env.Label(), "layers", env.ArrayLayers())
	}
	for i, set := range s.sets {
		if err := update(set, 0, 1, func(w *gpu.WriteDescriptorSets) error {
			return w.AddImageAt(set, 1, env, gpu.DescriptorCombinedImageSampler, 0, gpu.LayoutShaderReadOnly)
		}); err != nil {
			return fmt.Errorf("skybox frame %d: %w", i, err)
		}
	}
	s.env = env
	return nil
}

// UpdateCamera writes the camera of frame.
func (s *Skybox) UpdateCamera(frame int, view, projection mgl32.Mat4) error {
	if !s.created {
		slogger().Error("skybox camera updated before create")
		return ErrPassNotCreated
	}
	if err := checkFrame(s.gctx, frame); err != nil {
		return err
	}
	return s.camera[frame].WriteValue(0, CameraUniform{View: view, Projection: projection})
}

// Draw records the skybox cube over width x height. cmd must be inside
// the HDR render pass.
func (s *Skybox) Draw(frame int, cmd *gpu.CommandBuffer, cube *mesh.Mesh, width, height uint32) error {
	if !s.created {
		slogger().Error("skybox drawn before create")
		return ErrPassNotCreated
	}
	if err := checkFrame(s.gctx, frame); err != nil {
		return err
	}
	if err := checkRecording(cmd); err != nil {
		return err
	}
	if !cmd.InRenderPass() {
		slogger().Error("skybox drawn outside a render pass")
		return fmt.Errorf("skybox: %w", gpu.ErrNoRenderPass)
	}
	if cube == nil {
		slogger().Error("skybox pass has no cube mesh")
		return fmt.Errorf("skybox cube mesh: %w", ErrNilInput)
	}
	if s.env == nil {
		slogger().Error("skybox drawn without an environment")
		return fmt.Errorf("skybox environment: %w", ErrNilInput)
	}

	if err := cmd.BindPipeline(s.pipeline); err != nil {
		return err
	}
	if err := cmd.SetViewport(float32(width), float32(height)); err != nil {
		return err
	}
	if err := cmd.SetScissor(width, height); err != nil {
		return err
	}
	if err := cmd.BindDescriptorSets(s.pipeline, 0, s.sets[frame]); err != nil {
		return err
	}
	return cube.Draw(cmd)
}

// Destroy releases the pipeline, camera buffers and descriptor sets.
func (s *Skybox) Destroy() {
	if !s.created {
		slogger().Warn("destroy on skybox pass that was not created")
		return
	}
	s.cleanup.run()
	s.pipeline, s.camera, s.sets, s.env = nil, nil, nil, nil
	s.created = false
}
