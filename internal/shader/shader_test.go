package shader

import (
	"context"
	"encoding/binary"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/gpu/gputest"
)

// fakeCompiler returns a two-word module whose second word is the source
// length, and counts calls.
func fakeCompiler(calls *atomic.Int32) Compiler {
	return func(src string) ([]uint32, error) {
		calls.Add(1)
		if strings.Contains(src, "syntax error") {
			return nil, errors.New("unexpected token")
		}
		return []uint32{SPIRVMagic, uint32(len(src))}, nil
	}
}

func spirvBytes(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// =============================================================================
// Stages and words
// =============================================================================

func TestParseStage(t *testing.T) {
	tests := []struct {
		name    string
		want    gpu.ShaderStage
		wantErr bool
	}{
		{"vert", gpu.ShaderStageVertex, false},
		{"geom", gpu.ShaderStageGeometry, false},
		{"frag", gpu.ShaderStageFragment, false},
		{"comp", gpu.ShaderStageCompute, false},
		{"tesc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStage(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownStage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.name, StageName(got))
		})
	}
}

func TestKeyString(t *testing.T) {
	k := Key{Pipeline: Skybox, Stage: gpu.ShaderStageFragment}
	assert.Equal(t, "skybox/frag", k.String())
	assert.Equal(t, "Unknown(0)", StageName(0))
}

func TestOffsetSamplers(t *testing.T) {
	src := "@group(0) @binding(1) var environment: texture_cube<f32>;\n" +
		"@group(0) @binding(1) var environment_sampler: sampler;\n" +
		"@group(1) @binding(0) var<uniform> roughness: f32;\n"

	tests := []struct {
		name   string
		offset uint32
		want   string
	}{
		{"zero keeps source", 0, src},
		{"sampler moves", 16, strings.Replace(src, "@binding(1) var environment_sampler", "@binding(17) var environment_sampler", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OffsetSamplers(src, tt.offset))
		})
	}
}

func TestLibrary_SamplerOffsetReachesCompiler(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	lib := NewLibrary(Embedded(), WithSamplerOffset(16), WithCompiler(func(src string) ([]uint32, error) {
		mu.Lock()
		seen = append(seen, src)
		mu.Unlock()
		return []uint32{SPIRVMagic}, nil
	}))
	require.NoError(t, lib.Load(context.Background(), LDRConversion))
	assert.Contains(t, strings.Join(seen, "\n"), "@binding(16) var hdr_sampler")
}

func TestWords(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    []uint32
		wantErr bool
	}{
		{"valid", spirvBytes(SPIRVMagic, 0x00010000, 7), []uint32{SPIRVMagic, 0x00010000, 7}, false},
		{"empty", nil, nil, true},
		{"truncated", spirvBytes(SPIRVMagic)[:3], nil, true},
		{"not word aligned", append(spirvBytes(SPIRVMagic), 1), nil, true},
		{"bad magic", spirvBytes(0xDEADBEEF, 1), nil, true},
		{"big endian magic", []byte{0x07, 0x23, 0x02, 0x03}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Words(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSPIRV)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Library
// =============================================================================

func TestLibrary_LoadEmbedded(t *testing.T) {
	var calls atomic.Int32
	lib := NewLibrary(Embedded(), WithCompiler(fakeCompiler(&calls)))
	require.NoError(t, lib.Load(context.Background()))

	tests := []struct {
		pipeline string
		stages   gpu.ShaderStage
	}{
		{BloomDownscaling, gpu.ShaderStageCompute},
		{BloomUpscaling, gpu.ShaderStageCompute},
		{BloomComposition, gpu.ShaderStageCompute},
		{CubemapPreprocessing, gpu.ShaderStageVertex | gpu.ShaderStageFragment},
		{IrradianceSampling, gpu.ShaderStageVertex | gpu.ShaderStageFragment},
		{PrefilterSkybox, gpu.ShaderStageVertex | gpu.ShaderStageFragment},
		{BRDFConvolution, gpu.ShaderStageVertex | gpu.ShaderStageFragment},
		{LDRConversion, gpu.ShaderStageVertex | gpu.ShaderStageFragment},
		{Skybox, gpu.ShaderStageVertex | gpu.ShaderStageFragment},
	}
	want := 0
	for _, tt := range tests {
		t.Run(tt.pipeline, func(t *testing.T) {
			assert.Equal(t, tt.stages, lib.Stages(tt.pipeline))
		})
		for s := tt.stages; s != 0; s &= s - 1 {
			want++
		}
	}
	assert.Equal(t, want, lib.Len())
	assert.Equal(t, int32(want), calls.Load())
}

func TestLibrary_LoadNamedPipeline(t *testing.T) {
	var calls atomic.Int32
	lib := NewLibrary(Embedded(), WithCompiler(fakeCompiler(&calls)))
	require.NoError(t, lib.Load(context.Background(), Skybox))

	assert.Equal(t, 2, lib.Len())
	_, err := lib.Code(BloomDownscaling, gpu.ShaderStageCompute)
	assert.ErrorIs(t, err, ErrNotFound)

	code, err := lib.Code(Skybox, gpu.ShaderStageVertex)
	require.NoError(t, err)
	assert.Equal(t, uint32(SPIRVMagic), code[0])
}

func TestLibrary_SPIRVFiles(t *testing.T) {
	var calls atomic.Int32
	fsys := fstest.MapFS{
		"quad/vert.spv":   {Data: spirvBytes(SPIRVMagic, 1, 2)},
		"quad/frag.wgsl":  {Data: []byte("@fragment fn main() {}")},
		"quad/frag.spv":   {Data: spirvBytes(SPIRVMagic, 9)},
		"quad/README.txt": {Data: []byte("notes")},
	}
	lib := NewLibrary(fsys, WithCompiler(fakeCompiler(&calls)))
	require.NoError(t, lib.Load(context.Background(), "quad"))

	vert, err := lib.Code("quad", gpu.ShaderStageVertex)
	require.NoError(t, err)
	assert.Equal(t, []uint32{SPIRVMagic, 1, 2}, vert)

	frag, err := lib.Code("quad", gpu.ShaderStageFragment)
	require.NoError(t, err)
	assert.Equal(t, []uint32{SPIRVMagic, 9}, frag, ".spv must win over .wgsl")
	assert.Zero(t, calls.Load())
}

func TestLibrary_LoadErrorKeepsPrevious(t *testing.T) {
	var calls atomic.Int32
	fsys := fstest.MapFS{
		"a/comp.wgsl": {Data: []byte("fn main() {}")},
	}
	lib := NewLibrary(fsys, WithCompiler(fakeCompiler(&calls)))
	require.NoError(t, lib.Load(context.Background()))
	before, err := lib.Code("a", gpu.ShaderStageCompute)
	require.NoError(t, err)

	fsys["a/comp.wgsl"] = &fstest.MapFile{Data: []byte("syntax error")}
	fsys["b/comp.spv"] = &fstest.MapFile{Data: spirvBytes(0xBAD)}
	err = lib.Load(context.Background(), "a", "b")
	require.Error(t, err)

	after, err := lib.Code("a", gpu.ShaderStageCompute)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, err = lib.Code("b", gpu.ShaderStageCompute)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLibrary_LoadMissingPipeline(t *testing.T) {
	lib := NewLibrary(fstest.MapFS{})
	assert.Error(t, lib.Load(context.Background(), "nope"))
}

func TestLibrary_LoadCanceled(t *testing.T) {
	var calls atomic.Int32
	lib := NewLibrary(Embedded(), WithCompiler(fakeCompiler(&calls)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := lib.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, lib.Len())
}

func TestLibrary_CreateModules(t *testing.T) {
	var calls atomic.Int32
	lib := NewLibrary(Embedded(), WithCompiler(fakeCompiler(&calls)))
	require.NoError(t, lib.Load(context.Background(), CubemapPreprocessing))

	dev := gputest.NewDevice()
	mods, err := lib.CreateModules(dev, CubemapPreprocessing)
	require.NoError(t, err)

	stages := mods.Stages()
	require.Len(t, stages, 2)
	assert.Equal(t, gpu.ShaderStageVertex, stages[0].Stage)
	assert.Equal(t, gpu.ShaderStageFragment, stages[1].Stage)
	assert.Equal(t, "main", stages[0].EntryPoint)
	assert.NotZero(t, mods.Module(gpu.ShaderStageFragment))
	assert.Zero(t, mods.Module(gpu.ShaderStageCompute))
	assert.Equal(t, 2, dev.Live().Shaders)

	mods.Destroy()
	assert.Zero(t, dev.Live().Shaders)
	assert.Empty(t, dev.Errors())

	_, err = lib.CreateModules(dev, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Watch
// =============================================================================

func TestLibrary_WatchNeedsDirectory(t *testing.T) {
	lib := NewLibrary(fstest.MapFS{})
	assert.ErrorIs(t, lib.Watch(context.Background(), nil), ErrNotWatchable)
}

func TestLibrary_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tone"), 0o755))
	src := filepath.Join(dir, "tone", "comp.wgsl")
	require.NoError(t, os.WriteFile(src, []byte("fn main() {}"), 0o644))

	var calls atomic.Int32
	lib := OpenDir(dir, WithCompiler(fakeCompiler(&calls)))
	require.NoError(t, lib.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan string, 8)
	done := make(chan error, 1)
	go func() { done <- lib.Watch(ctx, func(p string) { reloaded <- p }) }()

	// Give the watcher time to register before touching the file.
	time.Sleep(100 * time.Millisecond)
	longer := "fn main() { let x = 1; }"
	require.NoError(t, os.WriteFile(src, []byte(longer), 0o644))

	select {
	case p := <-reloaded:
		assert.Equal(t, "tone", p)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
	code, err := lib.Code("tone", gpu.ShaderStageCompute)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(longer)), code[1])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// =============================================================================
// naga
// =============================================================================

func TestCompileWGSL_BRDFConvolution(t *testing.T) {
	for _, stage := range []string{"vert", "frag"} {
		t.Run(stage, func(t *testing.T) {
			src, err := fs.ReadFile(Embedded(), BRDFConvolution+"/"+stage+".wgsl")
			require.NoError(t, err)

			words, err := CompileWGSL(string(src))
			if err != nil {
				if strings.Contains(err.Error(), "not yet implemented") ||
					strings.Contains(err.Error(), "not supported") {
					t.Skipf("naga: %v", err)
				}
				t.Fatalf("compile %s: %v", stage, err)
			}
			require.NotEmpty(t, words)
			assert.Equal(t, uint32(SPIRVMagic), words[0])
		})
	}
}
