package sync

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/sleepwell/internal/domain"
	"github.com/conorfennell/sleepwell/internal/gitsource"
	"github.com/conorfennell/sleepwell/internal/itemkey"
	"github.com/conorfennell/sleepwell/internal/parser"
	"github.com/conorfennell/sleepwell/internal/storage"
)

// SourceType guesses whether path names a git repository or a local directory.
func SourceType(path string) string {
	if strings.HasSuffix(path, ".git") || strings.HasPrefix(path, "git@") || strings.HasPrefix(path, "https://") {
		return storage.SourceGit
	}
	return storage.SourceLocal
}

// AddSource registers a new item-set source and returns its ID. Adding a path
// that is already registered returns the existing ID.
func AddSource(db *storage.DB, path string) (int64, error) {
	if path == "" {
		return 0, fmt.Errorf("source path cannot be empty")
	}
	existing, err := db.FindSourceByPath(path)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}
	return db.InsertSource(path, SourceType(path))
}

// Options controls where git sources are checked out.
type Options struct {
	ReposDir string
	Progress io.Writer
}

// RunSync iterates over all sources and reconciles them. A failing source is
// logged and skipped; only failing to list the sources is returned.
func RunSync(ctx context.Context, db *storage.DB, opts Options) error {
	slog.Info("Starting sync process for all sources...")
	sources, err := db.GetAllSources()
	if err != nil {
		return fmt.Errorf("failed to get sources: %w", err)
	}

	if len(sources) == 0 {
		slog.Info("No sources configured. Add one with --add-source <path/or/url.git>")
		return nil
	}

	reposDir := opts.ReposDir
	if reposDir == "" {
		reposDir = "repos"
	}
	if err := os.MkdirAll(reposDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create repos directory: %w", err)
	}

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		slog.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

		sourceToReconcile := source

		if source.Type == storage.SourceGit {
			localRepoPath, err := gitUrlToLocalPath(reposDir, source.Path)
			if err != nil {
				slog.Error("Error determining local path for git repo", "url", source.Path, "error", err)
				continue
			}

			if err := gitsource.Sync(ctx, source.Path, localRepoPath, opts.Progress); err != nil {
				slog.Error("Error syncing git repo", "url", source.Path, "error", err)
				continue
			}

			sourceToReconcile.Path = localRepoPath
		}
		reconcileLocalSource(db, &sourceToReconcile)
	}
	slog.Info("Sync process complete.")
	return nil
}

// LoadItems returns the synced items, or the built-in set when none are stored.
func LoadItems(db *storage.DB) ([]domain.Item, error) {
	items, err := db.GetAllItems()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return domain.DefaultItems, nil
	}
	return items, nil
}

func reconcileLocalSource(db *storage.DB, source *storage.Source) {
	var parsedItems []domain.Item
	var parseErrors []error
	foundHashes := make(map[string]bool)

	walkErr := filepath.WalkDir(source.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if d.IsDir() || !isMarkdown(path) {
			return nil
		}

		fileItems, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			parseErrors = append(parseErrors, fmt.Errorf("parsing %s: %w", path, parseErr))
		}
		for _, item := range fileItems {
			item.Hash = itemkey.Hash(item)
			if foundHashes[item.Hash] {
				continue // An identity may appear only once per deck
			}
			parsedItems = append(parsedItems, item)
			foundHashes[item.Hash] = true

			existing, findErr := db.FindItemByHash(item.Hash)
			if findErr != nil {
				parseErrors = append(parseErrors, fmt.Errorf("db check for %s: %w", item.Hash, findErr))
				continue
			}
			if existing == nil {
				slog.Info("New item found, inserting...", "name", item.Name, "hash", item.Hash)
				if insertErr := db.InsertItem(item, source.ID); insertErr != nil {
					parseErrors = append(parseErrors, fmt.Errorf("db insert for %s: %w", item.Hash, insertErr))
				}
			}
		}
		return nil
	})

	if walkErr != nil {
		slog.Error("Error walking directory", "path", source.Path, "error", walkErr)
		return
	}

	dbItems, err := db.GetItemsBySourceID(source.ID)
	if err != nil {
		slog.Error("Error getting items for source", "source_id", source.ID, "error", err)
		return
	}

	var orphanedItems int
	for _, dbItem := range dbItems {
		if _, found := foundHashes[dbItem.Hash]; !found {
			slog.Info("Orphaned item, deleting", "name", dbItem.Name, "hash", dbItem.Hash)
			orphanedItems++
			if err := db.DeleteItemByHash(dbItem.Hash); err != nil {
				slog.Warn("Failed to delete orphaned item", "hash", dbItem.Hash, "error", err)
			}
		}
	}

	if err := db.UpdateSourceLastScanned(source.ID); err != nil {
		slog.Warn("Failed to update last scanned for source", "source_id", source.ID, "error", err)
	}

	slog.Info("reconciliation complete",
		"path", source.Path,
		"parsed_items", len(parsedItems),
		"orphaned_deleted", orphanedItems,
		"errors", len(parseErrors),
	)
	for _, e := range parseErrors {
		slog.Warn("Item-set error", "error", e)
	}
}

func isMarkdown(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".md")
}

func gitUrlToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http") {
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, host, repoPath), nil
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
}
