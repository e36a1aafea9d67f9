// Package shader compiles and stores the shader modules the passes use.
//
// Sources live in a directory tree keyed by pipeline and stage:
//
//	<root>/<pipeline>/<stage>.wgsl
//	<root>/<pipeline>/<stage>.spv
//
// where stage is one of vert, geom, frag or comp. WGSL sources are
// compiled to SPIR-V with naga; .spv files are taken as SPIR-V words.
// A default set of WGSL sources is embedded and returned by Embedded.
package shader

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/gogpu/naga"

	"github.com/gogpu/lumen/internal/gpu"
)

// Shader errors.
var (
	// ErrNotFound is returned when no module exists for a pipeline stage.
	ErrNotFound = errors.New("shader: module not found")

	// ErrInvalidSPIRV is returned for SPIR-V that is truncated or lacks the
	// magic number.
	ErrInvalidSPIRV = errors.New("shader: invalid SPIR-V")

	// ErrUnknownStage is returned for a file name that names no stage.
	ErrUnknownStage = errors.New("shader: unknown stage")
)

// SPIRVMagic is the first word of every SPIR-V module.
const SPIRVMagic = 0x07230203

// Pipeline names of the embedded sources.
const (
	BloomDownscaling     = "bloom_downscaling"
	BloomUpscaling       = "bloom_upscaling"
	BloomComposition     = "bloom_composition"
	CubemapPreprocessing = "cubemap_preprocessing"
	IrradianceSampling   = "irradiance_sampling"
	PrefilterSkybox      = "prefilter_skybox"
	BRDFConvolution      = "brdf_convolution"
	LDRConversion        = "ldr_conversion"
	Skybox               = "skybox"
)

// Key identifies one compiled module.
type Key struct {
	Pipeline string
	Stage    gpu.ShaderStage
}

// String returns "pipeline/stage".
func (k Key) String() string {
	return k.Pipeline + "/" + StageName(k.Stage)
}

var stageNames = []struct {
	stage gpu.ShaderStage
	name  string
}{
	{gpu.ShaderStageVertex, "vert"},
	{gpu.ShaderStageGeometry, "geom"},
	{gpu.ShaderStageFragment, "frag"},
	{gpu.ShaderStageCompute, "comp"},
}

// StageName returns the file stem of a single stage.
func StageName(s gpu.ShaderStage) string {
	for _, n := range stageNames {
		if n.stage == s {
			return n.name
		}
	}
	return fmt.Sprintf("Unknown(%d)", int(s))
}

// ParseStage maps a file stem to its stage.
func ParseStage(name string) (gpu.ShaderStage, error) {
	for _, n := range stageNames {
		if n.name == name {
			return n.stage, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

// parseFileName splits "frag.wgsl" into its stage and extension.
func parseFileName(name string) (gpu.ShaderStage, string, error) {
	ext := path.Ext(name)
	if ext != ".wgsl" && ext != ".spv" {
		return 0, "", fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	stage, err := ParseStage(strings.TrimSuffix(name, ext))
	return stage, ext, err
}

// Compiler turns WGSL source into SPIR-V words.
type Compiler func(source string) ([]uint32, error)

// CompileWGSL compiles WGSL source to SPIR-V with naga.
func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	return Words(spirvBytes)
}

var samplerDecl = regexp.MustCompile(`@binding\((\d+)\)(\s*var\s+\w+\s*:\s*sampler\b)`)

// OffsetSamplers adds offset to the binding of every sampler declaration
// in WGSL source. Textures keep their bindings.
func OffsetSamplers(source string, offset uint32) string {
	if offset == 0 {
		return source
	}
	return samplerDecl.ReplaceAllStringFunc(source, func(decl string) string {
		m := samplerDecl.FindStringSubmatch(decl)
		n, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return decl
		}
		return fmt.Sprintf("@binding(%d)%s", uint32(n)+offset, m[2])
	})
}

// Words converts little-endian SPIR-V bytes to words and checks the magic
// number.
func Words(b []byte) ([]uint32, error) {
	if len(b) < 4 || len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSPIRV, len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) |
			uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 |
			uint32(b[i*4+3])<<24
	}
	if words[0] != SPIRVMagic {
		return nil, fmt.Errorf("%w: magic 0x%08X", ErrInvalidSPIRV, words[0])
	}
	return words, nil
}
