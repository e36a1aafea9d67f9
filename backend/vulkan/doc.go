// Package vulkan implements the lumen device contract on Vulkan through
// goki/vulkan.
//
// Importing the package registers the "vulkan" backend, the first choice
// of backend.InitDefault:
//
//	import _ "github.com/gogpu/lumen/backend/vulkan"
//
// The loader is resolved at runtime; a machine without a Vulkan driver
// fails Init and selection falls through to the next backend. Every core
// handle is an integer key into a per-kind table of native objects, so
// handles stay comparable and never leak cgo pointers to callers.
//
// Build with the nogpu tag to leave the backend out.
package vulkan
