package quota

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ReloadHook is called after every reload attempt with its result.
type ReloadHook func(err error)

// WatchPlans reloads table whenever the YAML file at path changes. The
// directory is watched rather than the file so that editors replacing the
// file by rename are picked up. A file that fails to parse leaves the
// current table in place. The watcher stops when ctx is cancelled.
func WatchPlans(ctx context.Context, path string, table *PlanTable, log logrus.FieldLogger, hooks ...ReloadHook) error {
	if log == nil {
		log = logrus.StandardLogger()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve plans path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	log = log.WithField("plans_file", abs)
	log.Info("Watching plan table for changes")

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				reloadPlans(abs, table, log)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("Plan watcher error")
			}
		}
	}()

	return nil
}

func reloadPlans(path string, table *PlanTable, log logrus.FieldLogger) error {
	plans, err := LoadPlans(path)
	if err == nil {
		err = table.Replace(plans)
	}
	if err != nil {
		log.WithError(err).Warn("Ignoring invalid plan table")
		return err
	}
	log.WithField("plans", len(plans)).Info("Plan table reloaded")
	return nil
}
