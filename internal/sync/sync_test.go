package sync

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/sleepwell/internal/domain"
	"github.com/conorfennell/sleepwell/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "sleepwell.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func itemNames(items []domain.Item) []string {
	var names []string
	for _, it := range items {
		names = append(names, it.Name)
	}
	return names
}

func TestSourceType(t *testing.T) {
	testCases := map[string]string{
		"/home/me/items":                       storage.SourceLocal,
		"./items":                              storage.SourceLocal,
		"https://github.com/me/items":          storage.SourceGit,
		"git@github.com:me/items.git":          storage.SourceGit,
		"https://example.com/calm-symbols.git": storage.SourceGit,
	}
	for path, expected := range testCases {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, expected, SourceType(path))
		})
	}
}

func TestGitUrlToLocalPath(t *testing.T) {
	testCases := []struct {
		url      string
		expected string
		wantErr  bool
	}{
		{url: "https://github.com/me/items.git", expected: filepath.Join("repos", "github.com", "me", "items")},
		{url: "git@github.com:me/items.git", expected: filepath.Join("repos", "github.com", "me", "items")},
		{url: "not a url", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			got, err := gitUrlToLocalPath("repos", tc.url)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestRunSyncReconcilesLocalSource(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	ctx := context.Background()

	writeFile(t, filepath.Join(dir, "calm.md"), "N: moon\nE: 🌙\n---\nN: star\nE: ⭐\n")
	writeFile(t, filepath.Join(dir, "nested", "more.md"), "N: leaf\nE: 🍃\n---\nN: Moon\nE: 🌕\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "N: ignored\n")

	id, err := AddSource(db, dir)
	require.NoError(t, err)
	again, err := AddSource(db, dir)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	require.NoError(t, RunSync(ctx, db, Options{ReposDir: filepath.Join(t.TempDir(), "repos")}))

	items, err := LoadItems(db)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"leaf", "moon", "star"}, itemNames(items))

	// Removing an item from the files removes it from storage.
	writeFile(t, filepath.Join(dir, "calm.md"), "N: moon\nE: 🌙\n")
	require.NoError(t, RunSync(ctx, db, Options{ReposDir: filepath.Join(t.TempDir(), "repos")}))

	items, err = LoadItems(db)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"leaf", "moon"}, itemNames(items))

	sources, err := db.GetAllSources()
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.True(t, sources[0].LastScanned.Valid)
}

func TestRunSyncWithoutSources(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, RunSync(context.Background(), db, Options{ReposDir: filepath.Join(t.TempDir(), "repos")}))

	items, err := LoadItems(db)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultItems, items)
}

func TestAddSourceEmpty(t *testing.T) {
	db := openTestDB(t)
	_, err := AddSource(db, "")
	assert.Error(t, err)
}

func TestWatchReconcilesOnChange(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "calm.md"), "N: moon\n")

	_, err := AddSource(db, dir)
	require.NoError(t, err)
	require.NoError(t, RunSync(context.Background(), db, Options{ReposDir: filepath.Join(t.TempDir(), "repos")}))

	ctx, cancel := context.WithCancel(context.Background())
	var changes atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, db, 20*time.Millisecond, func() { changes.Add(1) })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "calm.md"), "N: moon\n---\nN: wave\n")

	assert.Eventually(t, func() bool {
		items, err := LoadItems(db)
		if err != nil {
			return false
		}
		return len(items) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, changes.Load(), int32(1))

	cancel()
	require.NoError(t, <-done)
}
