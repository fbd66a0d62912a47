package assistant

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/config"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/logging"
)

// watchConfig monitors the config file and hot-reloads the selector
// settings (budget, essentials, keyword map) on change. Servers, pools, and
// plugins keep their startup configuration; those need a restart.
// It blocks until the context is cancelled.
func (a *Assistant) watchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	path := a.cfg.Path()
	// Watch the directory: editors replace the file, which drops a watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	logging.Infof("watching %s for changes", path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Editors fire several events per save; collapse them.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, a.reloadSelector)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warnf("config watcher: %v", err)
		}
	}
}

// reloadSelector re-reads the config file and swaps the selector settings.
func (a *Assistant) reloadSelector() {
	fresh, err := config.LoadFrom(a.cfg.Path())
	if err != nil {
		logging.Warnf("config reload skipped: %v", err)
		return
	}

	a.selectorMu.Lock()
	a.selectorCfg = fresh.Selector
	a.selectorMu.Unlock()
	logging.Infof("selector configuration reloaded")
}
