package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounceWindow coalesces the write bursts editors and config management
// tools produce into a single reload.
const debounceWindow = 500 * time.Millisecond

// Watch reloads the store whenever its file changes on disk, until ctx is
// cancelled. Watching the parent directory instead of the file itself keeps
// the watch alive across rename-based atomic writes.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		target := filepath.Clean(s.path)

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceWindow, func() {
					if err := s.Reload(); err != nil {
						log.Error().Err(err).Str("path", s.path).Msg("Failed to reload instance catalog, keeping previous")
						return
					}
					log.Info().Str("path", s.path).Int("instances", len(s.Current().Instances)).Msg("Reloaded instance catalog")
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Config watcher error")
			}
		}
	}()

	return nil
}
