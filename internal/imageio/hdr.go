package imageio

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
)

const maxRadianceExtent = 1 << 15

// decodeRadiance reads a Radiance RGBE image with the standard -Y H +X W
// orientation, flat or with per-channel run-length encoded scanlines.
func decodeRadiance(r *bufio.Reader) (*Image, error) {
	magic, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("imageio: radiance header: %w", err)
	}
	magic = strings.TrimSpace(magic)
	if magic != "#?RADIANCE" && magic != "#?RGBE" {
		return nil, fmt.Errorf("%w: radiance magic %q", ErrUnsupportedFormat, magic)
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("imageio: radiance header: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if f, ok := strings.CutPrefix(line, "FORMAT="); ok && f != "32-bit_rle_rgbe" {
			return nil, fmt.Errorf("%w: radiance format %q", ErrUnsupportedFormat, f)
		}
	}

	res, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("imageio: radiance resolution: %w", err)
	}
	var w, h int
	if _, err := fmt.Sscanf(strings.TrimSpace(res), "-Y %d +X %d", &h, &w); err != nil {
		return nil, fmt.Errorf("%w: radiance resolution %q", ErrUnsupportedFormat, strings.TrimSpace(res))
	}
	if w <= 0 || h <= 0 || w > maxRadianceExtent || h > maxRadianceExtent {
		return nil, fmt.Errorf("%w: radiance extent %dx%d", ErrUnsupportedFormat, w, h)
	}

	out := &Image{Width: w, Height: h, Pix: make([]float32, w*h*4)}
	scan := make([]byte, w*4)
	for y := range h {
		if err := readScanline(r, scan, w); err != nil {
			return nil, fmt.Errorf("imageio: radiance scanline %d: %w", y, err)
		}
		for x := range w {
			rgbe := scan[x*4 : x*4+4]
			i := (y*w + x) * 4
			out.Pix[i+3] = 1
			if rgbe[3] == 0 {
				continue
			}
			f := float32(math.Ldexp(1, int(rgbe[3])-(128+8)))
			out.Pix[i] = float32(rgbe[0]) * f
			out.Pix[i+1] = float32(rgbe[1]) * f
			out.Pix[i+2] = float32(rgbe[2]) * f
		}
	}
	return out, nil
}

// readScanline fills scan with w interleaved RGBE texels.
func readScanline(r *bufio.Reader, scan []byte, w int) error {
	if _, err := io.ReadFull(r, scan[:4]); err != nil {
		return err
	}
	rle := w >= 8 && w < maxRadianceExtent &&
		scan[0] == 2 && scan[1] == 2 && scan[2]&0x80 == 0
	if !rle {
		_, err := io.ReadFull(r, scan[4:])
		return err
	}
	if n := int(scan[2])<<8 | int(scan[3]); n != w {
		return fmt.Errorf("encoded width %d, want %d", n, w)
	}

	// Channels are stored one after another, each run-length encoded.
	for c := range 4 {
		for x := 0; x < w; {
			count, err := r.ReadByte()
			if err != nil {
				return err
			}
			if count > 128 {
				n := int(count - 128)
				if x+n > w {
					return fmt.Errorf("run overflows scanline")
				}
				v, err := r.ReadByte()
				if err != nil {
					return err
				}
				for range n {
					scan[x*4+c] = v
					x++
				}
				continue
			}
			n := int(count)
			if n == 0 || x+n > w {
				return fmt.Errorf("bad literal length %d", n)
			}
			for range n {
				v, err := r.ReadByte()
				if err != nil {
					return err
				}
				scan[x*4+c] = v
				x++
			}
		}
	}
	return nil
}
