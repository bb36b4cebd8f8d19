package persist

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/9diov/rss-fuse/internal/model"
)

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := New(dir)

	now := time.Now()
	feeds := map[string]Entry[model.Feed]{
		"tech": {
			Value:     model.Feed{Name: "tech", URL: "https://example.com/tech.xml", Status: model.Active()},
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		},
	}
	articles := map[string]Entry[model.Article]{
		"tech:abc": {
			Value:     model.Article{ID: "tech:abc", Title: "Hello"},
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		},
	}

	if err := store.Save(feeds, articles); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	snap, err := store.Load(7)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if snap == nil {
		t.Fatal("Load() returned nil snapshot after Save()")
	}
	if len(snap.Feeds) != 1 || snap.Feeds["tech"].Value.URL != "https://example.com/tech.xml" {
		t.Errorf("feeds round-trip mismatch: %+v", snap.Feeds)
	}
	if len(snap.Articles) != 1 || snap.Articles["tech:abc"].Value.Title != "Hello" {
		t.Errorf("articles round-trip mismatch: %+v", snap.Articles)
	}
}

func TestLoadMissingFileReturnsNilNoError(t *testing.T) {
	t.Parallel()
	store := New(t.TempDir())
	snap, err := store.Load(7)
	if err != nil {
		t.Fatalf("Load() on missing file should not error, got %v", err)
	}
	if snap != nil {
		t.Error("Load() on missing file should return nil snapshot")
	}
}

func TestLoadFiltersExpiredEntries(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := New(dir)

	now := time.Now()
	feeds := map[string]Entry[model.Feed]{
		"tech": {Value: model.Feed{Name: "tech"}, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)},
	}
	if err := store.Save(feeds, nil); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	snap, err := store.Load(7)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if snap == nil {
		t.Fatal("expected a non-nil snapshot (file exists, just filtered)")
	}
	if len(snap.Feeds) != 0 {
		t.Errorf("expired feed entries should be filtered out, got %d", len(snap.Feeds))
	}
}

func TestLoadRejectsSnapshotOlderThanMaxAge(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	old := time.Now().Add(-30 * 24 * time.Hour).Unix()
	content := `{"version": 1, "saved_at_unix_seconds": ` + itoa(old) + `, "feeds": {}, "articles": {}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store := New(dir)
	snap, err := store.Load(7)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if snap != nil {
		t.Error("a snapshot older than maxAgeDays should be treated as no cached content")
	}
}

func TestLoadZeroMaxAgeDisablesAgeCheck(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := New(dir)
	if err := store.Save(nil, nil); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	snap, err := store.Load(0)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if snap == nil {
		t.Error("maxAgeDays=0 should not reject on age")
	}
}

func TestLoadUnknownVersionReturnsNil(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(`{"version": 999, "saved_at_unix_seconds": 0, "feeds": {}, "articles": {}}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store := New(dir)
	snap, err := store.Load(7)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if snap != nil {
		t.Error("unrecognized version should be treated as no cached content")
	}
}

func TestSaveIsAtomicNoTmpLeftBehind(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := New(dir)
	if err := store.Save(nil, nil); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName+".tmp")); !os.IsNotExist(err) {
		t.Error("temp file should not survive a successful Save()")
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Error("final snapshot file should exist after Save()")
	}
}

func TestCleanupRemovesOversizedSnapshot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := New(dir)

	now := time.Now()
	big := make(map[string]Entry[model.Article], 50000)
	for i := 0; i < 50000; i++ {
		id := "tech:" + itoa(int64(i))
		big[id] = Entry[model.Article]{
			Value:     model.Article{ID: id, Title: "padding padding padding padding"},
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		}
	}
	if err := store.Save(nil, big); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if err := store.Cleanup(1); err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); !os.IsNotExist(err) {
		t.Error("Cleanup() should remove a snapshot exceeding maxSizeMB")
	}
}

func TestCleanupRemovesStrayTmpFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := New(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	stray := filepath.Join(dir, FileName+".tmp")
	if err := os.WriteFile(stray, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := store.Cleanup(100); err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("stray .tmp file should be removed by Cleanup()")
	}
}
