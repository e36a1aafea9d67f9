//go:build !nogpu

package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
)

var (
	// ErrNoPhysicalDevice is returned when the instance enumerates no GPU
	// with a graphics and compute queue family.
	ErrNoPhysicalDevice = errors.New("vulkan: no suitable physical device")

	// ErrNoMemoryType is returned when no memory type satisfies an
	// allocation.
	ErrNoMemoryType = errors.New("vulkan: no matching memory type")

	// ErrNotMappable is returned by MapMemory for device-local memory.
	ErrNotMappable = errors.New("vulkan: memory is not host visible")
)

// newError converts a failed result into an error. It returns nil on
// vk.Success.
func newError(op string, ret vk.Result) error {
	if ret == vk.Success {
		return nil
	}
	return fmt.Errorf("vulkan: %s: %w (%d)", op, vk.Error(ret), ret)
}
