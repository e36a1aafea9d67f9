//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/lumen/internal/gpu"
)

// blitShaderSource draws one triangle covering the target and samples the
// source mip at the matching coordinate.
const blitShaderSource = `
@group(0) @binding(0) var src: texture_2d<f32>;
@group(0) @binding(1) var src_sampler: sampler;

struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@vertex
fn vs_main(@builtin(vertex_index) index: u32) -> VertexOutput {
    let uv = vec2<f32>(f32((index << 1u) & 2u), f32(index & 2u));
    var out: VertexOutput;
    out.position = vec4<f32>(uv.x * 2.0 - 1.0, 1.0 - uv.y * 2.0, 0.0, 1.0);
    out.uv = uv;
    return out;
}

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return textureSampleLevel(src, src_sampler, in.uv, 0.0);
}
`

// blitter owns the shader, layouts, samplers and per-format pipelines of
// CmdBlitImage. It is created on the first blit.
type blitter struct {
	shader    hal.ShaderModule
	layout    hal.BindGroupLayout
	pipeLay   hal.PipelineLayout
	linear    hal.Sampler
	nearest   hal.Sampler
	pipelines map[gputypes.TextureFormat]hal.RenderPipeline
}

func newBlitter(device hal.Device) (*blitter, error) {
	b := &blitter{pipelines: make(map[gputypes.TextureFormat]hal.RenderPipeline)}
	var err error
	b.shader, err = device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "lumen_blit_shader",
		Source: hal.ShaderSource{WGSL: blitShaderSource},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create blit shader: %w", err)
	}
	b.layout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "lumen_blit_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		b.destroy(device)
		return nil, fmt.Errorf("wgpu: create blit layout: %w", err)
	}
	b.pipeLay, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "lumen_blit_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{b.layout},
	})
	if err != nil {
		b.destroy(device)
		return nil, fmt.Errorf("wgpu: create blit pipeline layout: %w", err)
	}
	for _, s := range []struct {
		dst  *hal.Sampler
		mode gputypes.FilterMode
	}{{&b.linear, gputypes.FilterModeLinear}, {&b.nearest, gputypes.FilterModeNearest}} {
		*s.dst, err = device.CreateSampler(&hal.SamplerDescriptor{
			Label:        "lumen_blit_sampler",
			AddressModeU: gputypes.AddressModeClampToEdge,
			AddressModeV: gputypes.AddressModeClampToEdge,
			AddressModeW: gputypes.AddressModeClampToEdge,
			MagFilter:    s.mode,
			MinFilter:    s.mode,
			MipmapFilter: gputypes.FilterModeNearest,
		})
		if err != nil {
			b.destroy(device)
			return nil, fmt.Errorf("wgpu: create blit sampler: %w", err)
		}
	}
	return b, nil
}

func (b *blitter) pipeline(device hal.Device, format gputypes.TextureFormat) (hal.RenderPipeline, error) {
	if p, ok := b.pipelines[format]; ok {
		return p, nil
	}
	p, err := device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "lumen_blit_pipeline",
		Layout: b.pipeLay,
		Vertex: hal.VertexState{Module: b.shader, EntryPoint: "vs_main"},
		Fragment: &hal.FragmentState{
			Module:     b.shader,
			EntryPoint: "fs_main",
			Targets:    []gputypes.ColorTargetState{{Format: format, WriteMask: gputypes.ColorWriteMaskAll}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create blit pipeline: %w", err)
	}
	b.pipelines[format] = p
	return p, nil
}

func (b *blitter) destroy(device hal.Device) {
	for _, p := range b.pipelines {
		device.DestroyRenderPipeline(p)
	}
	b.pipelines = nil
	if b.linear != nil {
		device.DestroySampler(b.linear)
	}
	if b.nearest != nil {
		device.DestroySampler(b.nearest)
	}
	if b.pipeLay != nil {
		device.DestroyPipelineLayout(b.pipeLay)
	}
	if b.layout != nil {
		device.DestroyBindGroupLayout(b.layout)
	}
	if b.shader != nil {
		device.DestroyShaderModule(b.shader)
	}
}

// blit draws each layer of one region. The source range is sampled and
// the destination range rendered, then both return to the usages their
// layouts map to.
func (e *encoder) blit(src *image, srcUsage gputypes.TextureUsage, dst *image, dstUsage gputypes.TextureUsage, r gpu.ImageBlit, filter gpu.Filter) error {
	d := e.d
	if d.blit == nil {
		b, err := newBlitter(d.device)
		if err != nil {
			return err
		}
		d.blit = b
	}
	pipe, err := d.blit.pipeline(d.device, dst.format)
	if err != nil {
		return err
	}
	sampler := d.blit.linear
	if filter == gpu.FilterNearest {
		sampler = d.blit.nearest
	}

	layers := max(r.Src.LayerCount, 1)
	for l := range layers {
		srcRange := gputypes.ImageSubresourceRange{
			Aspect:          gputypes.TextureAspectAll,
			BaseMipLevel:    r.Src.MipLevel,
			MipLevelCount:   1,
			BaseArrayLayer:  r.Src.BaseLayer + l,
			ArrayLayerCount: 1,
		}
		dstRange := gputypes.ImageSubresourceRange{
			Aspect:          gputypes.TextureAspectAll,
			BaseMipLevel:    r.Dst.MipLevel,
			MipLevelCount:   1,
			BaseArrayLayer:  r.Dst.BaseLayer + l,
			ArrayLayerCount: 1,
		}
		srcView, err := d.device.CreateTextureView(src.hal, &hal.TextureViewDescriptor{
			Label:           "lumen_blit_src",
			Format:          src.format,
			Dimension:       gputypes.TextureViewDimension2D,
			Aspect:          gputypes.TextureAspectAll,
			BaseMipLevel:    srcRange.BaseMipLevel,
			MipLevelCount:   1,
			BaseArrayLayer:  srcRange.BaseArrayLayer,
			ArrayLayerCount: 1,
		})
		if err != nil {
			return fmt.Errorf("wgpu: blit source view: %w", err)
		}
		e.g.views = append(e.g.views, srcView)
		dstView, err := d.device.CreateTextureView(dst.hal, &hal.TextureViewDescriptor{
			Label:           "lumen_blit_dst",
			Format:          dst.format,
			Dimension:       gputypes.TextureViewDimension2D,
			Aspect:          gputypes.TextureAspectAll,
			BaseMipLevel:    dstRange.BaseMipLevel,
			MipLevelCount:   1,
			BaseArrayLayer:  dstRange.BaseArrayLayer,
			ArrayLayerCount: 1,
		})
		if err != nil {
			return fmt.Errorf("wgpu: blit destination view: %w", err)
		}
		e.g.views = append(e.g.views, dstView)
		group, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:  "lumen_blit_bind",
			Layout: d.blit.layout,
			Entries: []gputypes.BindGroupEntry{
				{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: srcView.NativeHandle()}},
				{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: sampler.NativeHandle()}},
			},
		})
		if err != nil {
			return fmt.Errorf("wgpu: blit bind group: %w", err)
		}
		e.g.groups = append(e.g.groups, group)

		e.transition(src.hal, srcUsage, gputypes.TextureUsageTextureBinding, srcRange)
		e.transition(dst.hal, dstUsage, gputypes.TextureUsageRenderAttachment, dstRange)
		rp := e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "lumen_blit_pass",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:    dstView,
				LoadOp:  gputypes.LoadOpClear,
				StoreOp: gputypes.StoreOpStore,
			}},
		})
		rp.SetPipeline(pipe)
		rp.SetBindGroup(0, group, nil)
		rp.SetViewport(0, 0, float32(r.DstWidth), float32(r.DstHeight), 0, 1)
		rp.SetScissorRect(0, 0, r.DstWidth, r.DstHeight)
		rp.Draw(3, 1, 0, 0)
		rp.End()
		e.transition(src.hal, gputypes.TextureUsageTextureBinding, srcUsage, srcRange)
		e.transition(dst.hal, gputypes.TextureUsageRenderAttachment, dstUsage, dstRange)
	}
	return nil
}
