package shader

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/lumen/internal/gpu"
)

//go:embed wgsl
var embedded embed.FS

// Embedded returns the built-in WGSL sources.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "wgsl")
	if err != nil {
		panic(err) // the directory is part of the binary
	}
	return sub
}

// Option configures a Library.
type Option func(*Library)

// WithCompiler replaces the WGSL compiler. Tests use it to avoid naga.
func WithCompiler(c Compiler) Option {
	return func(l *Library) {
		if c != nil {
			l.compile = c
		}
	}
}

// WithSamplerOffset moves every WGSL sampler declaration from binding b to
// b+offset before compiling, for backends that cannot share one binding
// between a texture and its sampler. SPIR-V sources are left alone.
func WithSamplerOffset(offset uint32) Option {
	return func(l *Library) {
		l.samplerOffset = offset
	}
}

// Library holds compiled SPIR-V keyed by pipeline and stage.
//
// Thread Safety: Library is safe for concurrent use; Watch reloads
// pipelines from its own goroutine.
type Library struct {
	mu      sync.RWMutex
	fsys    fs.FS
	dir     string
	compile Compiler
	modules map[Key][]uint32

	samplerOffset uint32
}

// NewLibrary returns an empty library reading sources from fsys.
func NewLibrary(fsys fs.FS, opts ...Option) *Library {
	l := &Library{
		fsys:    fsys,
		compile: CompileWGSL,
		modules: make(map[Key][]uint32),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OpenDir returns a library reading sources from a directory on disk.
// Only directory libraries can be watched.
func OpenDir(dir string, opts ...Option) *Library {
	l := NewLibrary(os.DirFS(dir), opts...)
	l.dir = dir
	return l
}

type source struct {
	key  Key
	file string
	ext  string
}

// Load compiles every stage of the named pipelines, or of every pipeline
// directory when none are named. Sources compile concurrently; on error
// nothing is stored.
func (l *Library) Load(ctx context.Context, pipelines ...string) error {
	if len(pipelines) == 0 {
		entries, err := fs.ReadDir(l.fsys, ".")
		if err != nil {
			return fmt.Errorf("list pipelines: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				pipelines = append(pipelines, e.Name())
			}
		}
	}

	sources, err := l.sources(pipelines)
	if err != nil {
		return err
	}

	results := make([][]uint32, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := fs.ReadFile(l.fsys, src.file)
			if err != nil {
				return fmt.Errorf("%s: %w", src.key, err)
			}
			if src.ext == ".spv" {
				results[i], err = Words(data)
			} else {
				results[i], err = l.compile(OffsetSamplers(string(data), l.samplerOffset))
			}
			if err != nil {
				return fmt.Errorf("%s: %w", src.key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slogger().Error("shader load failed", "err", err)
		return err
	}

	l.mu.Lock()
	for i, src := range sources {
		l.modules[src.key] = results[i]
	}
	l.mu.Unlock()
	slogger().Debug("shaders loaded", "pipelines", len(pipelines), "modules", len(sources))
	return nil
}

// sources lists the stage files of the pipelines. A .spv file wins over a
// .wgsl file for the same stage.
func (l *Library) sources(pipelines []string) ([]source, error) {
	byKey := make(map[Key]source)
	for _, p := range pipelines {
		entries, err := fs.ReadDir(l.fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read pipeline %q: %w", p, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			stage, ext, err := parseFileName(e.Name())
			if err != nil {
				slogger().Warn("ignoring file in shader directory", "pipeline", p, "file", e.Name())
				continue
			}
			k := Key{Pipeline: p, Stage: stage}
			if prev, ok := byKey[k]; ok && prev.ext == ".spv" {
				continue
			}
			byKey[k] = source{key: k, file: p + "/" + e.Name(), ext: ext}
		}
	}
	out := make([]source, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].file < out[j].file })
	return out, nil
}

// Code returns the SPIR-V of one pipeline stage.
func (l *Library) Code(pipeline string, stage gpu.ShaderStage) ([]uint32, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	code, ok := l.modules[Key{Pipeline: pipeline, Stage: stage}]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, Key{Pipeline: pipeline, Stage: stage})
	}
	return code, nil
}

// Stages returns the mask of loaded stages of a pipeline.
func (l *Library) Stages(pipeline string) gpu.ShaderStage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var mask gpu.ShaderStage
	for k := range l.modules {
		if k.Pipeline == pipeline {
			mask |= k.Stage
		}
	}
	return mask
}

// Len returns the number of loaded modules.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.modules)
}

// =============================================================================
// Device modules
// =============================================================================

// Modules are the device shader modules of one pipeline. They may be
// destroyed as soon as the pipeline is created.
type Modules struct {
	dev    gpu.Device
	stages []gpu.ShaderStageModule
}

// CreateModules creates a device module for every loaded stage of a
// pipeline, in vert, geom, frag, comp order.
func (l *Library) CreateModules(dev gpu.Device, pipeline string) (*Modules, error) {
	m := &Modules{dev: dev}
	for _, n := range stageNames {
		code, err := l.Code(pipeline, n.stage)
		if err != nil {
			continue
		}
		h, err := dev.CreateShaderModule(Key{Pipeline: pipeline, Stage: n.stage}.String(), code)
		if err != nil {
			m.Destroy()
			return nil, fmt.Errorf("create shader module %s/%s: %w", pipeline, n.name, err)
		}
		m.stages = append(m.stages, gpu.ShaderStageModule{Stage: n.stage, Module: h, EntryPoint: "main"})
	}
	if len(m.stages) == 0 {
		return nil, fmt.Errorf("%w: pipeline %q", ErrNotFound, pipeline)
	}
	return m, nil
}

// Stages returns the stage modules for a graphics pipeline.
func (m *Modules) Stages() []gpu.ShaderStageModule { return m.stages }

// Module returns the module of one stage, or 0.
func (m *Modules) Module(stage gpu.ShaderStage) gpu.ShaderModuleHandle {
	for _, s := range m.stages {
		if s.Stage == stage {
			return s.Module
		}
	}
	return 0
}

// Destroy releases the device modules.
func (m *Modules) Destroy() {
	for _, s := range m.stages {
		m.dev.DestroyShaderModule(s.Module)
	}
	m.stages = nil
}
