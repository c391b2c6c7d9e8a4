package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file when it changes on disk. Bursts of events
// are collapsed: the reload runs once the file has been quiet for Cooldown.
type Watcher struct {
	Path     string
	EnvFile  string
	Cooldown time.Duration
	Log      *zap.Logger
}

// Start watches until ctx is done; onUpdate receives every config that
// loads and validates. Invalid edits are logged and skipped.
func (w Watcher) Start(ctx context.Context, onUpdate func(Config)) error {
	if w.Cooldown <= 0 {
		w.Cooldown = 500 * time.Millisecond
	}
	if w.Log == nil {
		w.Log = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory: editors often replace the file rather than write it.
	target := filepath.Clean(w.Path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.Cooldown)
			} else {
				timer.Reset(w.Cooldown)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := LoadWithEnvOverrides(w.Path, w.EnvFile)
			if err != nil {
				w.Log.Warn("config reload rejected", zap.String("path", w.Path), zap.Error(err))
				continue
			}
			w.Log.Info("config reloaded", zap.String("path", w.Path))
			if onUpdate != nil {
				onUpdate(cfg)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Log.Warn("config watcher error", zap.Error(err))
		}
	}
}
