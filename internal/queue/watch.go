package queue

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watch sends on wake whenever a marker lands in the queue directory, until
// ctx is done. Sends never block; a pending wake-up absorbs later ones.
func (q *Queue) Watch(ctx context.Context, wake chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("queue watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(q.dir); err != nil {
		return fmt.Errorf("watch %s: %w", q.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			kind, ok := KindOf(event.Name)
			if !ok {
				continue
			}
			q.log.Debug().Str("kind", string(kind)).Msg("marker arrived")
			select {
			case wake <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			q.log.Warn().Err(err).Msg("queue watcher error")
		}
	}
}
