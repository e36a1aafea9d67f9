// Package backend selects the device the rendering core records against.
//
// Backends register a factory from init() and are selected at runtime by
// name or by priority. Importing a backend package registers it:
//
//	import (
//		_ "github.com/gogpu/lumen/backend/vulkan"
//		_ "github.com/gogpu/lumen/backend/wgpu"
//	)
//
// # Backend Selection
//
// InitDefault opens the first backend, in priority order, whose Init
// succeeds:
//
//	b, err := backend.InitDefault()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer b.Close()
//
//	gctx, err := gpu.NewContext(b.Device())
//
// # Available Backends
//
//   - "vulkan": native Vulkan through goki/vulkan
//   - "wgpu": portable backend on the gogpu/wgpu HAL
//   - "null": in-memory device, always available, renders nothing
package backend
