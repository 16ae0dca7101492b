package taskconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits after the last file event before
// reloading, so that editors writing in several steps trigger one reload.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the snapshot whenever a task config file in the directory
// changes, until ctx is cancelled. Reloads whose content matches the
// current snapshot are skipped.
func (s *Store) Watch(ctx context.Context) error {
	return s.watch(ctx, DefaultDebounce, nil)
}

// watch is Watch with a configurable debounce. onReload, when set, is
// called after every debounced reload attempt.
func (s *Store) watch(ctx context.Context, debounce time.Duration, onReload func(changed bool, err error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.logger.Info().Str("dir", s.dir).Msg("watching task configs")

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if ctx.Err() != nil {
				return
			}
			changed, err := s.reloadIfChanged()
			switch {
			case err != nil:
				s.logger.Warn().Err(err).Msg("task config reload failed")
			case changed:
				s.logger.Info().Int("tasks", len(s.ScheduledTasks())).Msg("task configs reloaded")
			default:
				s.logger.Debug().Msg("task configs unchanged; skipping reload")
			}
			if onReload != nil {
				onReload(changed, err)
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watch %s: event channel closed", s.dir)
			}
			if !IsTaskConfigFile(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				s.logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("task config change detected")
				schedule()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watch %s: error channel closed", s.dir)
			}
			if err == nil {
				continue
			}
			// Overflow means events were missed; reload once and keep going.
			if strings.Contains(strings.ToLower(err.Error()), "overflow") {
				s.logger.Warn().Err(err).Msg("task config watch overflow; forcing reload")
				schedule()
				continue
			}
			s.logger.Warn().Err(err).Msg("task config watch error")
		}
	}
}
