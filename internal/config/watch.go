package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the event burst an editor's atomic save emits into
// a single reload.
const debounceDelay = 200 * time.Millisecond

// Watch monitors path and calls onChange with the freshly loaded Config after
// each write. Write bursts are debounced. A reload that fails to parse or
// validate is logged and onChange is not called, so the previous config stays
// active. Runs until ctx is cancelled.
func Watch(ctx context.Context, path string, log *slog.Logger, onChange func(*Config)) error {
	if log == nil {
		log = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	log.Info("config: watching for changes", "path", path)

	var debounce *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Reload on write and create. Editors often save via rename, which
			// surfaces as a create on the watched path.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
				pending = debounce.C
			} else {
				if !debounce.Stop() {
					<-debounce.C
				}
				debounce.Reset(debounceDelay)
			}

		case <-pending:
			debounce, pending = nil, nil

			cfg, err := Load(path)
			if err != nil {
				log.Error("config: reload rejected, keeping previous config",
					"path", path, "err", err)
			} else {
				log.Info("config: reloaded", "path", path, "rules", len(cfg.Alerts.Rules))
				onChange(cfg)
			}

			// An atomic save replaces the inode, which drops the watch.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("config: watcher error", "err", err)
		}
	}
}
