package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last write before a reload fires.
const DefaultDebounce = 500 * time.Millisecond

// WatchConfig watches the given files and emits the path of the changed file
// once writes have settled for the debounce period. Missing files are skipped.
// The returned channel is closed when ctx is done.
func WatchConfig(ctx context.Context, debounce time.Duration, files ...string) <-chan string {
	reloadCh := make(chan string, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create fsnotify watcher", "error", err)
		close(reloadCh)
		return reloadCh
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	// Editors replace files atomically, so the parent directory is watched
	// and events are filtered by name.
	watched := make(map[string]bool)
	for _, file := range files {
		if file == "" {
			continue
		}
		absPath, err := filepath.Abs(file)
		if err != nil {
			slog.Warn("Could not resolve absolute path for watch file", "file", file)
			continue
		}
		if _, err := os.Stat(absPath); err != nil {
			slog.Debug("Skipping missing configuration file", "file", file)
			continue
		}
		if err := watcher.Add(filepath.Dir(absPath)); err != nil {
			slog.Warn("Could not watch file", "file", file, "error", err)
			continue
		}
		watched[absPath] = true
		slog.Debug("Watching configuration file", "file", file)
	}

	go func() {
		defer watcher.Close()
		defer close(reloadCh)

		var (
			timer   *time.Timer
			timerC  <-chan time.Time
			pending string
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !watched[filepath.Clean(event.Name)] {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				pending = event.Name
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				timerC = timer.C
			case <-timerC:
				timerC = nil
				slog.Info("Configuration change detected", "file", pending)
				select {
				case reloadCh <- pending:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Watcher encountered an error", "error", err)
			}
		}
	}()

	return reloadCh
}
