package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch watches the config file's directory and invokes onChange with a
// freshly reloaded Config whenever the file is written. It debounces
// bursts of events (editors commonly emit several writes per save) the
// same way the registry's hot reload does (§4.B, 200ms default).
func Watch(path string, debounce time.Duration, onChange func(*Config)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	go func() {
		var timer *time.Timer
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					cfg, err := Load(path)
					if err != nil {
						log.Warn().Err(err).Str("path", path).Msg("config reload failed, keeping previous config")
						return
					}
					onChange(cfg)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()

	return watcher.Close, nil
}
