// Command lumendemo renders the skybox of an environment map through the
// bloom and tone mapping passes and saves the last frame as a PNG.
//
// Usage:
//
//	lumendemo [-config lumen.toml] [-backend vulkan|wgpu|null] [-env sky.hdr]
//	          [-frames 3] [-window] [-output frame.png] [-v]
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"

	"github.com/gogpu/lumen"
	_ "github.com/gogpu/lumen/backend/vulkan"
	_ "github.com/gogpu/lumen/backend/wgpu"
	"github.com/gogpu/lumen/internal/window"
)

func init() {
	// GLFW must run on the main thread.
	runtime.LockOSThread()
}

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file")
		backend    = flag.String("backend", "", "backend name; empty picks the best available")
		envPath    = flag.String("env", "", "equirectangular environment image (.hdr, .png, .jpg)")
		frames     = flag.Int("frames", 3, "frames to render offscreen")
		windowed   = flag.Bool("window", false, "render until the window is closed, following its size")
		output     = flag.String("output", "lumen.png", "output PNG")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	lumen.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := lumen.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = lumen.LoadConfig(*configPath); err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *envPath != "" {
		cfg.EnvironmentMap = *envPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var surface window.Surface = window.NewOffscreen(cfg.WindowWidth, cfg.WindowHeight)
	var win *window.Window
	if *windowed {
		if err := window.Init(); err != nil {
			log.Fatalf("window: %v", err)
		}
		defer window.Terminate()
		var err error
		win, err = window.Open(window.Config{Width: cfg.WindowWidth, Height: cfg.WindowHeight, Title: "lumen"})
		if err != nil {
			log.Fatalf("window: %v", err)
		}
		defer win.Destroy()
		surface = win
		cfg.WindowWidth, cfg.WindowHeight = win.FramebufferSize()
	}

	e, err := lumen.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer e.Close()

	if cfg.ShaderDir != "" {
		go func() {
			if err := e.WatchShaders(ctx); err != nil && ctx.Err() == nil {
				log.Printf("shader watch: %v", err)
			}
		}()
	}
	if err := e.LoadEnvironmentFile(ctx, cfg.EnvironmentMap); err != nil {
		log.Fatalf("environment: %v", err)
	}

	yaw := float32(0)
	render := func() error {
		if surface.ConsumeResized() {
			surface.WaitWhileMinimized()
			w, h := surface.FramebufferSize()
			if err := e.Resize(ctx, w, h); err != nil {
				return err
			}
		}
		w, h := e.Size()
		yaw += 0.01
		return e.Render(ctx, lumen.LookAround(yaw, float32(w)/float32(h)))
	}

	if win != nil {
		for !win.ShouldClose() && ctx.Err() == nil {
			win.PollEvents()
			if err := render(); err != nil {
				log.Fatalf("frame %d: %v", e.Frames(), err)
			}
		}
	} else {
		for range *frames {
			if err := render(); err != nil {
				log.Fatalf("frame %d: %v", e.Frames(), err)
			}
		}
	}

	if err := e.SavePNG(ctx, *output); err != nil {
		log.Fatalf("save: %v", err)
	}
	w, h := e.Size()
	log.Printf("%d frames, last saved to %s (%dx%d, bloom %v)", e.Frames(), *output, w, h, e.BloomActive())
}
