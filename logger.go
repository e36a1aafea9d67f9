package lumen

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/lumen/backend"
	"github.com/gogpu/lumen/internal/gpu"
	"github.com/gogpu/lumen/internal/imageio"
	"github.com/gogpu/lumen/internal/mesh"
	"github.com/gogpu/lumen/internal/pass"
	"github.com/gogpu/lumen/internal/shader"
	"github.com/gogpu/lumen/internal/window"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// slogger returns the logger of the frame driver.
func slogger() *slog.Logger { return loggerPtr.Load() }

// setters are the package loggers SetLogger fans out to.
var setters = []func(*slog.Logger){
	gpu.SetLogger,
	backend.SetLogger,
	shader.SetLogger,
	mesh.SetLogger,
	imageio.SetLogger,
	window.SetLogger,
	pass.SetLogger,
}

// SetLogger configures the logger for lumen and all its sub-packages,
// backends included. By default, lumen produces no log output.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by lumen:
//   - [slog.LevelDebug]: resource creation, dispatch sizes
//   - [slog.LevelInfo]: backend selection, pass creation
//   - [slog.LevelWarn]: repeated create or destroy, suspicious usage
//   - [slog.LevelError]: failed preconditions; the call records nothing
//
// Example:
//
//	lumen.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	for _, set := range setters {
		set(l)
	}
}

// Logger returns the current logger used by lumen.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
