package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/codefionn/agentbridge/internal/logger"
)

// Watch reloads the config whenever the file at path changes and hands the
// fresh copy to onChange. Reload errors are logged and the previous config
// stays in effect. The returned stop function ends the watch.
//
// The parent directory is watched rather than the file itself, because
// editors typically replace the file and the old inode stops emitting events.
func Watch(path string, onChange func(*Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	log := logger.Global().WithPrefix("config")
	target := filepath.Clean(path)

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Warn("config reload failed: %v", err)
					continue
				}
				log.Info("config reloaded")
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watch error: %v", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
