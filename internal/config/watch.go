package config

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file on write/create events until ctx is done.
// A reload that fails validation leaves the previous config active and is
// reported through onError.
func (m *Manager) Watch(ctx context.Context, onReload func(*Config), onError func(error), logger *slog.Logger) error {
	if m.path == "" {
		return errors.New("config manager has no backing file")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(m.path); err != nil {
		return err
	}
	if logger != nil {
		logger.Info("watching config", "path", m.path)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
			// editors that save by rename replace the inode
			_ = watcher.Add(m.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}
