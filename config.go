package lumen

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/pass"
)

// ErrInvalidConfig is returned by Validate and LoadConfig for out of range
// settings.
var ErrInvalidConfig = errors.New("lumen: invalid config")

// Duration is a time.Duration written as a Go duration string ("5s") in
// TOML files.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds the renderer settings. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// Backend names the backend to open. Empty picks the best available.
	Backend string `toml:"backend"`

	WindowWidth  int `toml:"window_width"`
	WindowHeight int `toml:"window_height"`

	SkyboxResolution  uint32 `toml:"skybox_resolution"`
	IrradianceMapSize uint32 `toml:"irradiance_map_size"`
	PrefilterMapSize  uint32 `toml:"prefilter_map_size"`
	PrefilterMaxMips  uint32 `toml:"prefilter_max_mips"`
	BRDFLUTSize       uint32 `toml:"brdf_lut_size"`

	MaxFramesInFlight int `toml:"max_frames_in_flight"`
	MaxAssetCount     int `toml:"max_asset_count"`

	Bloom             bool    `toml:"bloom"`
	BloomMaxMips      uint32  `toml:"bloom_max_mips"`
	BloomFilterRadius float32 `toml:"bloom_filter_radius"`
	BloomIntensity    float32 `toml:"bloom_intensity"`
	BloomMixWeight    float32 `toml:"bloom_mix_weight"`

	Exposure    float32 `toml:"exposure"`
	MSAASamples uint32  `toml:"msaa_samples"`

	FenceTimeout Duration `toml:"fence_timeout"`

	// ShaderDir loads shaders from disk and enables hot reload. Empty uses
	// the shaders built into the binary.
	ShaderDir string `toml:"shader_dir"`

	// EnvironmentMap is the equirectangular image the skybox and IBL maps
	// are baked from. Empty uses a generated sky gradient.
	EnvironmentMap string `toml:"environment_map"`
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		WindowWidth:       1280,
		WindowHeight:      720,
		SkyboxResolution:  512,
		IrradianceMapSize: 32,
		PrefilterMapSize:  128,
		PrefilterMaxMips:  5,
		BRDFLUTSize:       512,
		MaxFramesInFlight: 2,
		MaxAssetCount:     100,
		Bloom:             true,
		BloomMaxMips:      6,
		BloomFilterRadius: 0.005,
		BloomIntensity:    0.04,
		BloomMixWeight:    0.1,
		Exposure:          1.0,
		MSAASamples:       4,
		FenceTimeout:      Duration(5 * time.Second),
	}
}

// LoadConfig reads a TOML file over DefaultConfig, so a file only names
// the settings it changes. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("lumen: load config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("lumen: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the config as TOML.
func (c Config) Save(path string) error {
	b, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("lumen: encode config: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

// Validate reports every out of range setting, each wrapped with
// ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		bad("window size %dx%d", c.WindowWidth, c.WindowHeight)
	}
	for _, s := range []struct {
		name string
		v    uint32
	}{
		{"skybox_resolution", c.SkyboxResolution},
		{"irradiance_map_size", c.IrradianceMapSize},
		{"prefilter_map_size", c.PrefilterMapSize},
		{"brdf_lut_size", c.BRDFLUTSize},
	} {
		if s.v == 0 {
			bad("%s is zero", s.name)
		}
	}
	if c.PrefilterMaxMips == 0 || (c.PrefilterMapSize > 0 && c.PrefilterMaxMips > gpu.CalculateMipLevels(c.PrefilterMapSize, c.PrefilterMapSize)) {
		bad("prefilter_max_mips %d for a %d map", c.PrefilterMaxMips, c.PrefilterMapSize)
	}
	if c.MaxFramesInFlight < 1 {
		bad("max_frames_in_flight %d", c.MaxFramesInFlight)
	}
	if c.MaxAssetCount < 1 {
		bad("max_asset_count %d", c.MaxAssetCount)
	}
	if c.Bloom && c.BloomMaxMips < 2 {
		bad("bloom_max_mips %d, need at least 2", c.BloomMaxMips)
	}
	if c.BloomMixWeight < 0 || c.BloomMixWeight > 1 {
		bad("bloom_mix_weight %g outside [0, 1]", c.BloomMixWeight)
	}
	if c.Exposure <= 0 {
		bad("exposure %g", c.Exposure)
	}
	if c.MSAASamples == 0 || c.MSAASamples > 64 || bits.OnesCount32(c.MSAASamples) != 1 {
		bad("msaa_samples %d is not a power of two up to 64", c.MSAASamples)
	}
	if c.FenceTimeout <= 0 {
		bad("fence_timeout %s", time.Duration(c.FenceTimeout))
	}
	return errors.Join(errs...)
}

// bloomConfig returns the bloom pass parameters.
func (c Config) bloomConfig() pass.BloomConfig {
	return pass.BloomConfig{
		MaxMips:      c.BloomMaxMips,
		FilterRadius: c.BloomFilterRadius,
		Intensity:    c.BloomIntensity,
		MixWeight:    c.BloomMixWeight,
	}
}

// cubemapConfig returns the preprocessing sizes with every stage enabled.
func (c Config) cubemapConfig() pass.CubemapConfig {
	return pass.CubemapConfig{
		SkyboxResolution: c.SkyboxResolution,
		IrradianceSize:   c.IrradianceMapSize,
		PrefilterSize:    c.PrefilterMapSize,
		PrefilterMips:    c.PrefilterMaxMips,
		BRDFLUTSize:      c.BRDFLUTSize,
		Irradiance:       true,
		Prefilter:        true,
		BRDF:             true,
	}
}

// contextOptions returns the device context options.
func (c Config) contextOptions() []gpu.ContextOption {
	return []gpu.ContextOption{
		gpu.WithFramesInFlight(c.MaxFramesInFlight),
		gpu.WithMaxAssetCount(c.MaxAssetCount),
		gpu.WithFenceTimeout(time.Duration(c.FenceTimeout)),
	}
}
