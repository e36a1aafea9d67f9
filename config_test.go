package lumen

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lumen.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1280, cfg.WindowWidth)
	assert.Equal(t, 720, cfg.WindowHeight)
	assert.Equal(t, uint32(512), cfg.SkyboxResolution)
	assert.Equal(t, uint32(32), cfg.IrradianceMapSize)
	assert.Equal(t, uint32(128), cfg.PrefilterMapSize)
	assert.Equal(t, uint32(5), cfg.PrefilterMaxMips)
	assert.Equal(t, uint32(512), cfg.BRDFLUTSize)
	assert.Equal(t, 2, cfg.MaxFramesInFlight)
	assert.Equal(t, 100, cfg.MaxAssetCount)
	assert.Equal(t, uint32(6), cfg.BloomMaxMips)
	assert.InDelta(t, 0.005, cfg.BloomFilterRadius, 1e-7)
	assert.InDelta(t, 0.04, cfg.BloomIntensity, 1e-7)
	assert.InDelta(t, 0.1, cfg.BloomMixWeight, 1e-7)
	assert.Equal(t, float32(1), cfg.Exposure)
	assert.Equal(t, uint32(4), cfg.MSAASamples)
	assert.Equal(t, Duration(5*time.Second), cfg.FenceTimeout)
}

func TestDefaultConfig_PassParameters(t *testing.T) {
	cfg := DefaultConfig()
	b := cfg.bloomConfig()
	assert.Equal(t, cfg.BloomMaxMips, b.MaxMips)
	assert.Equal(t, cfg.BloomIntensity, b.Intensity)

	c := cfg.cubemapConfig()
	assert.Equal(t, cfg.PrefilterMaxMips, c.PrefilterMips)
	assert.True(t, c.Irradiance && c.Prefilter && c.BRDF)
	assert.Len(t, cfg.contextOptions(), 3)
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
backend = "null"
window_width = 640
msaa_samples = 1
exposure = 2.5
fence_timeout = "250ms"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "null", cfg.Backend)
	assert.Equal(t, 640, cfg.WindowWidth)
	assert.Equal(t, 720, cfg.WindowHeight, "unset keys keep defaults")
	assert.Equal(t, uint32(1), cfg.MSAASamples)
	assert.Equal(t, float32(2.5), cfg.Exposure)
	assert.Equal(t, Duration(250*time.Millisecond), cfg.FenceTimeout)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		invalid bool
	}{
		{"unknown key", "no_such_key = 1\n", false},
		{"bad duration", "fence_timeout = \"soon\"\n", false},
		{"wrong type", "window_width = \"wide\"\n", false},
		{"out of range", "msaa_samples = 3\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShaderDir = "shaders"
	cfg.FenceTimeout = Duration(time.Second)
	path := filepath.Join(t.TempDir(), "out.toml")
	require.NoError(t, cfg.Save(path))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero width", func(c *Config) { c.WindowWidth = 0 }},
		{"zero skybox", func(c *Config) { c.SkyboxResolution = 0 }},
		{"too many prefilter mips", func(c *Config) { c.PrefilterMapSize, c.PrefilterMaxMips = 16, 6 }},
		{"no frames", func(c *Config) { c.MaxFramesInFlight = 0 }},
		{"no assets", func(c *Config) { c.MaxAssetCount = 0 }},
		{"one bloom mip", func(c *Config) { c.BloomMaxMips = 1 }},
		{"mix weight", func(c *Config) { c.BloomMixWeight = 1.5 }},
		{"exposure", func(c *Config) { c.Exposure = 0 }},
		{"msaa", func(c *Config) { c.MSAASamples = 6 }},
		{"fence timeout", func(c *Config) { c.FenceTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfig_ValidateSkipsBloomMipsWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bloom = false
	cfg.BloomMaxMips = 0
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowWidth = 0
	cfg.Exposure = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window size")
	assert.Contains(t, err.Error(), "exposure")
}
