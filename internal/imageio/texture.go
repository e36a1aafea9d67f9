package imageio

import (
	"context"
	"fmt"

	"github.com/gogpu/lumen/internal/gpu"
)

// NewTexture uploads img as an R32G32B32A32 texture with a full mip chain
// and a linear repeat sampler, ready to be sampled.
func NewTexture(ctx context.Context, gctx *gpu.Context, img *Image, label string) (*gpu.Texture, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyData, label)
	}
	if len(img.Pix) != img.Width*img.Height*4 {
		return nil, fmt.Errorf("%w: %q has %d floats for %dx%d", ErrPixelCount, label, len(img.Pix), img.Width, img.Height)
	}
	tex := gpu.NewTexture(gctx, gpu.TextureDesc{
		Label:     label,
		Width:     uint32(img.Width),
		Height:    uint32(img.Height),
		Format:    gpu.FormatR32G32B32A32Sfloat,
		MipLevels: gpu.CalculateMipLevels(uint32(img.Width), uint32(img.Height)),
		Usage:     gpu.ImageUsageSampled | gpu.ImageUsageTransferSrc | gpu.ImageUsageTransferDst,
	})
	if err := tex.Create(); err != nil {
		return nil, err
	}
	fail := func(err error) (*gpu.Texture, error) {
		tex.Destroy()
		return nil, fmt.Errorf("upload %q: %w", label, err)
	}
	if err := tex.CreateSampler(gpu.SamplerDesc{
		MagFilter:    gpu.FilterLinear,
		MinFilter:    gpu.FilterLinear,
		MipmapFilter: gpu.FilterLinear,
		AddressMode:  gpu.AddressModeRepeat,
		MaxLod:       float32(tex.MipLevels()),
	}); err != nil {
		return fail(err)
	}
	if err := tex.CopyFromData(ctx, img.Bytes()); err != nil {
		return fail(err)
	}
	if tex.MipLevels() > 1 {
		if err := gctx.SubmitOneShot(ctx, tex.GenerateMipmaps); err != nil {
			return fail(err)
		}
	}
	return tex, nil
}
