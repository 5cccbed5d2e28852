package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conorfennell/sleepwell/internal/storage"
)

// DefaultDebounce groups bursts of file events into one reconciliation.
const DefaultDebounce = 500 * time.Millisecond

// Watch reconciles local sources whenever markdown files under them change.
// Sources registered after Watch starts are not picked up. It blocks until ctx is done.
func Watch(ctx context.Context, db *storage.DB, debounce time.Duration, onChange func()) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	sources, err := db.GetAllSources()
	if err != nil {
		return fmt.Errorf("failed to get sources: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	var local []storage.Source
	for _, source := range sources {
		if source.Type != storage.SourceLocal {
			continue
		}
		if err := addTree(watcher, source.Path); err != nil {
			slog.Warn("Failed to watch source", "path", source.Path, "error", err)
			continue
		}
		local = append(local, source)
	}
	slog.Info("Watching item-set sources", "count", len(local))

	dirty := make(map[int64]storage.Source)
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				// New subdirectories need their own watch.
				_ = addTree(watcher, event.Name)
			}
			if !isMarkdown(event.Name) {
				continue
			}
			if source, found := owner(local, event.Name); found {
				dirty[source.ID] = source
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Watcher error", "error", err)
		case <-timer.C:
			for id, source := range dirty {
				reconcileLocalSource(db, &source)
				delete(dirty, id)
			}
			if onChange != nil {
				onChange()
			}
		}
	}
}

// addTree watches root and every directory below it.
func addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func owner(sources []storage.Source, path string) (storage.Source, bool) {
	for _, source := range sources {
		rel, err := filepath.Rel(source.Path, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return source, true
		}
	}
	return storage.Source{}, false
}
