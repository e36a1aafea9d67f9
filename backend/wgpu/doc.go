// Package wgpu implements the lumen device contract on the gogpu/wgpu
// hardware abstraction layer.
//
// Importing the package registers the "wgpu" backend:
//
//	import _ "github.com/gogpu/lumen/backend/wgpu"
//
// The device differs from Vulkan in a few places the core accounts for:
//
//   - Push constants are unsupported; Capabilities reports it and the bloom
//     pass is skipped.
//   - A combined image sampler at binding b is split into a texture at b
//     and a sampler at b+SamplerBindingOffset. Shaders for this backend are
//     loaded with shader.WithSamplerOffset.
//   - Blits are drawn as fullscreen triangles, one render pass per layer.
//   - Render passes, framebuffers and descriptor sets are descriptions;
//     hal passes and bind groups are built when commands are submitted.
//
// Build with the nogpu tag to leave the backend out.
package wgpu
