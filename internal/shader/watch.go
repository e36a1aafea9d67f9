package shader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ErrNotWatchable is returned by Watch on libraries not opened with OpenDir.
var ErrNotWatchable = errors.New("shader: library is not backed by a directory")

// Watch reloads a pipeline whenever one of its source files changes and
// then calls onReload with the pipeline name. A failed reload keeps the
// previous modules and is logged. Watch blocks until ctx is done.
func (l *Library) Watch(ctx context.Context, onReload func(pipeline string)) error {
	if l.dir == "" {
		return ErrNotWatchable
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create shader watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(l.dir, e.Name())); err != nil {
				return fmt.Errorf("watch %s: %w", e.Name(), err)
			}
		}
	}
	slogger().Info("watching shaders", "dir", l.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			rel, err := filepath.Rel(l.dir, ev.Name)
			if err != nil {
				continue
			}
			pipeline := filepath.Dir(rel)
			if pipeline == "." {
				// A new pipeline directory.
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						slogger().Warn("could not watch shader directory", "dir", ev.Name, "err", err)
					}
				}
				continue
			}
			if _, _, err := parseFileName(filepath.Base(ev.Name)); err != nil {
				continue
			}
			if err := l.Load(ctx, filepath.ToSlash(pipeline)); err != nil {
				slogger().Warn("shader reload failed, keeping previous modules", "pipeline", pipeline, "err", err)
				continue
			}
			slogger().Info("shaders reloaded", "pipeline", pipeline)
			if onReload != nil {
				onReload(pipeline)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slogger().Warn("shader watcher error", "err", err)
		}
	}
}
