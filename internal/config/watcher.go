package config

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads path into every snapshot in snaps whenever it changes on
// disk, debouncing rapid successive writes (editors often emit several
// events per save). Every enabled transport's Frame keeps its own
// Snapshot, so a single file change must fan out to all of them. It
// returns a stop function; the returned error is non-nil only if the
// underlying fsnotify watcher failed to start.
func Watch(path string, log *zap.Logger, snaps ...*Snapshot) (stop func(), err error) {
	if log == nil {
		log = zap.NewNop()
	}
	if path == "" || len(snaps) == 0 {
		return func() {}, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		var timer *time.Timer
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(100*time.Millisecond, func() {
					cfg, err := Load(path)
					if err != nil {
						log.Warn("config reload failed", zap.String("path", path), zap.Error(err))
						return
					}
					for _, snap := range snaps {
						snap.Replace(cfg)
					}
					log.Info("config reloaded", zap.String("path", path))
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()

	return func() {
		close(done)
		w.Close()
	}, nil
}
