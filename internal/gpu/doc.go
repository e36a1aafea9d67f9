// Package gpu is the pass/resource synchronization core of lumen.
//
// It models the explicit-API objects a renderer composes every frame and the
// state machines that keep them consistent with what the GPU is doing:
//
//   - Context: the explicit device context handed to every component. There
//     are no process-wide device or command-pool registries.
//   - Buffer and Texture: single-owner GPU resources with a lifecycle
//     (Uninitialized -> Created -> Mapped -> Destroyed).
//   - StateTracker: per-mip (layout, access, stage) tracking that emits the
//     pipeline barriers required by each transition.
//   - SetLayoutSummary, SetLayoutCache, DescriptorAllocator and
//     WriteDescriptorSets: descriptor layouts, sets and write batches.
//   - RenderPassBuilder, RenderPass and Framebuffer: render pass composition
//     built from a closed set of variants.
//   - CommandBuffer: the primary/secondary recording state machine.
//   - Pipeline: graphics and compute pipelines sharing one layout path.
//   - FrameRing: MaxFramesInFlight slots of fences and command buffers.
//
// # Backends
//
// The package never talks to a driver directly. All native work goes through
// the Device interface, implemented by backend/vulkan (goki/vulkan),
// backend/wgpu (gogpu/wgpu HAL) and, for tests, gputest.Device.
//
// # Ordering
//
// Every operation that records GPU work validates its preconditions before
// the first command is recorded. A failed precondition returns an error and
// leaves the command buffer untouched.
//
// # Thread Safety
//
// Recording is single-threaded: a CommandBuffer and the passes recording into
// it must be driven from one goroutine. Resources guard their own lifecycle
// state with a mutex.
package gpu
