package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch follows the cache file until ctx is done. Changes saved by another
// process, such as "cartkeeper extract --save" while the agent runs, are
// loaded and reported to the OnChange hooks. The store's own writes are
// recognized by revision and ignored.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch local store: %w", err)
	}
	defer w.Close()

	// The file is replaced by rename on every save, so watch its directory.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch local store: %w", err)
	}
	name := filepath.Base(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			changed, err := s.Refresh()
			if err != nil {
				s.logger.Warn("reload after external change failed", "error", err)
				continue
			}
			if changed {
				s.logger.Info("local cache changed by another process")
				s.changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watch error", "error", err)
		}
	}
}
