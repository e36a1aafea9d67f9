// Package lumen is the synchronization core of a physically based
// renderer: GPU resource lifecycles, per-mip image state tracking with
// barrier emission, descriptor set caching, render pass and pipeline
// composition, and the bloom, image based lighting, skybox and tone
// mapping passes built on them.
//
// # Overview
//
// An Engine owns a device context, a ring of frames in flight and the
// passes. Each Render call waits for the frame slot it reuses, records
//
//  1. the skybox into a floating point HDR target
//  2. a compute bloom of that target, when the backend has push constants
//  3. exposure tone mapping into an 8-bit offscreen image
//
// and submits the frame. Presentation is left to the caller; the final
// image is available through OutputTexture, ReadPixels and SavePNG.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/lumen"
//	    _ "github.com/gogpu/lumen/backend/vulkan"
//	)
//
//	e, err := lumen.Open(ctx, lumen.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer e.Close()
//
//	if err := e.LoadEnvironmentFile(ctx, "sky.hdr"); err != nil {
//	    return err
//	}
//	if err := e.Render(ctx, lumen.LookAround(0, 16.0/9)); err != nil {
//	    return err
//	}
//	_ = e.SavePNG(ctx, "frame.png")
//
// # Backends
//
// Backends register themselves on import:
//
//   - backend/vulkan: native Vulkan through goki/vulkan
//   - backend/wgpu: the gogpu/wgpu HAL (Vulkan, Metal, DX12, GLES)
//   - null: an in-memory device that records commands, always available
//
// Config.Backend picks one by name; empty selects the best that opens.
//
// # Configuration
//
// Config carries every size and tuning constant of the renderer and loads
// from TOML with LoadConfig. Files only need the keys they change.
//
// # Logging
//
// lumen is silent by default. SetLogger installs a log/slog logger for the
// root package, every internal package and the backends.
package lumen
