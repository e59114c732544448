package capability

import (
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/mcpgateway/pkg/models"
)

// Watch watches every directory under each root (those present when Watch
// starts; directories created later are not added) and invokes onReload
// with a freshly loaded snapshot whenever a file in them changes, debounced by the
// given duration (§4.B: "debounced 200 ms by default"). onReload is
// responsible for validating and swapping the snapshot into the Registry;
// Watch itself never touches the Registry.
func (l *Loader) Watch(debounce time.Duration, onReload func(*models.Snapshot, []string, error)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, root := range l.Roots {
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return err
			}
			return watcher.Add(path)
		})
		if walkErr != nil {
			log.Warn().Err(walkErr).Str("root", root).Msg("capability watch: could not watch root")
		}
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
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					snap, warnings, err := l.Load()
					onReload(snap, warnings, err)
				})
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(werr).Msg("capability watcher error")
			}
		}
	}()

	return watcher.Close, nil
}
