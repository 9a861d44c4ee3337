package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watch signals on the returned channel whenever one of the given
// files changes, debounced so an editor's write burst yields a single
// reload. The watcher goroutine stops when ctx is canceled.
func Watch(ctx context.Context, files ...string) <-chan struct{} {
	reloadCh := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create config watcher", "error", err)
		return reloadCh
	}

	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			slog.Warn("Could not resolve watch path", "file", file)
			continue
		}
		if err := watcher.Add(abs); err != nil {
			slog.Warn("Could not watch file", "file", file, "error", err)
		}
	}

	go func() {
		defer watcher.Close()
		defer close(reloadCh)

		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// Create covers atomic replace-on-save editors.
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, func() {
					slog.Info("Configuration change detected", "file", event.Name)
					select {
					case reloadCh <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watcher error", "error", err)
			}
		}
	}()

	return reloadCh
}
