package gpu

import "fmt"

// Format is a texel format understood by every backend.
type Format uint8

const (
	// FormatUndefined is the zero format. Resources cannot be created with it.
	FormatUndefined Format = iota
	// FormatR8G8B8A8Unorm is 8-bit RGBA, linear.
	FormatR8G8B8A8Unorm
	// FormatR8G8B8A8Srgb is 8-bit RGBA, sRGB encoded.
	FormatR8G8B8A8Srgb
	// FormatB8G8R8A8Unorm is 8-bit BGRA, linear. Common surface format.
	FormatB8G8R8A8Unorm
	// FormatB8G8R8A8Srgb is 8-bit BGRA, sRGB encoded.
	FormatB8G8R8A8Srgb
	// FormatR16G16Sfloat is two 16-bit float channels (BRDF lookup table).
	FormatR16G16Sfloat
	// FormatR16G16B16A16Sfloat is four 16-bit float channels.
	FormatR16G16B16A16Sfloat
	// FormatR32G32B32A32Sfloat is four 32-bit float channels (HDR targets).
	FormatR32G32B32A32Sfloat
	// FormatD16Unorm is a 16-bit depth format.
	FormatD16Unorm
	// FormatD32Sfloat is a 32-bit float depth format.
	FormatD32Sfloat
	// FormatD16UnormS8Uint is 16-bit depth with 8-bit stencil.
	FormatD16UnormS8Uint
	// FormatD24UnormS8Uint is 24-bit depth with 8-bit stencil.
	FormatD24UnormS8Uint
	// FormatD32SfloatS8Uint is 32-bit float depth with 8-bit stencil.
	FormatD32SfloatS8Uint
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatUndefined:
		return "Undefined"
	case FormatR8G8B8A8Unorm:
		return "R8G8B8A8Unorm"
	case FormatR8G8B8A8Srgb:
		return "R8G8B8A8Srgb"
	case FormatB8G8R8A8Unorm:
		return "B8G8R8A8Unorm"
	case FormatB8G8R8A8Srgb:
		return "B8G8R8A8Srgb"
	case FormatR16G16Sfloat:
		return "R16G16Sfloat"
	case FormatR16G16B16A16Sfloat:
		return "R16G16B16A16Sfloat"
	case FormatR32G32B32A32Sfloat:
		return "R32G32B32A32Sfloat"
	case FormatD16Unorm:
		return "D16Unorm"
	case FormatD32Sfloat:
		return "D32Sfloat"
	case FormatD16UnormS8Uint:
		return "D16UnormS8Uint"
	case FormatD24UnormS8Uint:
		return "D24UnormS8Uint"
	case FormatD32SfloatS8Uint:
		return "D32SfloatS8Uint"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// IsDepth reports whether the format has a depth component.
func (f Format) IsDepth() bool {
	switch f {
	case FormatD16Unorm, FormatD32Sfloat,
		FormatD16UnormS8Uint, FormatD24UnormS8Uint, FormatD32SfloatS8Uint:
		return true
	default:
		return false
	}
}

// HasStencil reports whether the format has a stencil component.
func (f Format) HasStencil() bool {
	switch f {
	case FormatD16UnormS8Uint, FormatD24UnormS8Uint, FormatD32SfloatS8Uint:
		return true
	default:
		return false
	}
}

// BytesPerPixel returns the size of one texel in bytes.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb,
		FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb,
		FormatR16G16Sfloat, FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatD16Unorm:
		return 2
	case FormatD16UnormS8Uint:
		return 3
	case FormatD32SfloatS8Uint:
		return 5
	case FormatR16G16B16A16Sfloat:
		return 8
	case FormatR32G32B32A32Sfloat:
		return 16
	default:
		return 0
	}
}

// Aspect returns the image aspect a full view of this format covers.
func (f Format) Aspect() ImageAspect {
	if !f.IsDepth() {
		return AspectColor
	}
	if f.HasStencil() {
		return AspectDepth | AspectStencil
	}
	return AspectDepth
}

// ImageAspect selects color, depth or stencil planes of an image.
type ImageAspect uint8

const (
	// AspectColor is the color plane.
	AspectColor ImageAspect = 1 << iota
	// AspectDepth is the depth plane.
	AspectDepth
	// AspectStencil is the stencil plane.
	AspectStencil
)
