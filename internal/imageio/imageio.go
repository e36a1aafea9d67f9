// Package imageio decodes environment and texture images into linear
// RGBA32F pixel data ready for upload.
//
// PNG and JPEG sources are sRGB encoded and are linearized on decode;
// Radiance .hdr sources are already linear. Only 8-bit sources can be
// resampled on load.
package imageio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/chewxy/math32"
	xdraw "golang.org/x/image/draw"
)

// I/O errors.
var (
	// ErrUnsupportedFormat is returned when the image format is not supported.
	ErrUnsupportedFormat = errors.New("imageio: unsupported format")

	// ErrEmptyData is returned when image data is empty.
	ErrEmptyData = errors.New("imageio: empty data")

	// ErrPixelCount is returned when pixel data does not match the extent.
	ErrPixelCount = errors.New("imageio: pixel count does not match extent")
)

// Image is a linear RGBA float image, top row first.
type Image struct {
	Width, Height int
	// Pix holds 4 floats per texel.
	Pix []float32
}

// At returns the texel at (x, y).
func (m *Image) At(x, y int) [4]float32 {
	i := (y*m.Width + x) * 4
	return [4]float32{m.Pix[i], m.Pix[i+1], m.Pix[i+2], m.Pix[i+3]}
}

// Bytes returns the pixels as little-endian R32G32B32A32 data.
func (m *Image) Bytes() []byte {
	out := make([]byte, len(m.Pix)*4)
	for i, v := range m.Pix {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// Options control decoding.
type Options struct {
	// MaxSize bounds the longest edge of 8-bit sources; larger images are
	// downsampled preserving aspect ratio. 0 means no limit.
	MaxSize int
	// Linear skips sRGB decoding of 8-bit sources.
	Linear bool
}

// Load decodes the image at path.
func Load(path string, opts Options) (*Image, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("imageio: open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, err := Decode(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	slogger().Debug("image loaded", "path", path, "width", img.Width, "height", img.Height)
	return img, nil
}

// Decode decodes a Radiance, PNG or JPEG image, detecting the format from
// its header.
func Decode(r io.Reader, opts Options) (*Image, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if len(head) == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, ErrEmptyData
		}
		return nil, fmt.Errorf("imageio: read: %w", err)
	}
	if bytes.HasPrefix(head, []byte("#?")) {
		return decodeRadiance(br)
	}
	img, _, err := image.Decode(br)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("imageio: decode: %w", err)
	}
	return FromImage(img, opts), nil
}

// FromImage converts an 8- or 16-bit image to linear floats, resampling
// it first when it exceeds opts.MaxSize.
func FromImage(src image.Image, opts Options) *Image {
	b := src.Bounds()
	w, h := fitSize(b.Dx(), b.Dy(), opts.MaxSize)

	dst := image.NewNRGBA64(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
		slogger().Debug("image resampled", "from", b.Size(), "to", dst.Bounds().Size())
	}

	out := &Image{Width: w, Height: h, Pix: make([]float32, w*h*4)}
	for y := range h {
		row := dst.Pix[y*dst.Stride:]
		for x := range w {
			for c := range 4 {
				v := float32(binary.BigEndian.Uint16(row[(x*4+c)*2:])) / 0xffff
				if c < 3 && !opts.Linear {
					v = SRGBToLinear(v)
				}
				out.Pix[(y*w+x)*4+c] = v
			}
		}
	}
	return out
}

// fitSize scales (w, h) so the longest edge is at most limit.
func fitSize(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}

// SRGBToLinear decodes one sRGB channel value in [0, 1].
func SRGBToLinear(v float32) float32 {
	if v <= 0.04045 {
		return v / 12.92
	}
	return math32.Pow((v+0.055)/1.055, 2.4)
}

// EncodePNG writes 8-bit RGBA pixels, top row first, as PNG.
func EncodePNG(w io.Writer, width, height int, rgba []byte) error {
	if len(rgba) != width*height*4 {
		return fmt.Errorf("%w: %d bytes for %dx%d", ErrPixelCount, len(rgba), width, height)
	}
	img := &image.NRGBA{Pix: rgba, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("imageio: encode PNG: %w", err)
	}
	return nil
}

// SavePNG writes 8-bit RGBA pixels to a PNG file.
func SavePNG(path string, width, height int, rgba []byte) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("imageio: create file: %w", err)
	}
	if err := EncodePNG(f, width, height, rgba); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Gradient returns a synthetic equirectangular sky: a warm horizon fading
// to a blue zenith with a bright sun disc. The demo uses it when no
// environment file is given.
func Gradient(width, height int) *Image {
	out := &Image{Width: width, Height: height, Pix: make([]float32, width*height*4)}
	sunX, sunY := width/4, height/3
	sunR2 := float32(width*width) / 4096
	for y := range height {
		t := float32(y) / float32(max(1, height-1))
		r := 0.2 + 0.8*t
		g := 0.35 + 0.45*t
		b := 1.0 - 0.4*t
		for x := range width {
			i := (y*width + x) * 4
			dx, dy := float32(x-sunX), float32(y-sunY)
			boost := float32(1)
			if dx*dx+dy*dy < sunR2 {
				boost = 40
			}
			out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = r*boost, g*boost, b*boost, 1
		}
	}
	return out
}
