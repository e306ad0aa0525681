package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch watches path's directory for changes to path and reloads the
// config on every write/create event, pushing the result to the returned
// channel. The channel is closed when ctx is cancelled. A reload that
// fails to parse is logged and skipped; the last good config keeps
// running.
func Watch(ctx context.Context, path string) (<-chan *Config, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan *Config, 1)
	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != filepath.Clean(path) {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					slog.Warn("config: reload failed, keeping previous config", "error", err)
					continue
				}
				select {
				case out <- cfg:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config: watcher error", "error", err)
			}
		}
	}()

	return out, nil
}
