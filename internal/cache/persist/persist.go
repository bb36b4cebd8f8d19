// Package persist implements the Persistent Cache (spec §4.D): a single
// JSON snapshot file written atomically via a temp-file-then-rename, so a
// reader never observes a half-written file.
//
// Grounded on internal/db/store.go's Open/openDB corruption-recovery
// pattern (teacher: delete-and-recreate on schema mismatch) for "a load
// failure means start fresh, never abort"; and on
// internal/fs/linearfs.go's cache-directory resolution, generalized here to
// the portable os.UserCacheDir() instead of the teacher's hardcoded
// "Library/Caches" path.
package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/9diov/rss-fuse/internal/model"
	"github.com/9diov/rss-fuse/internal/rfserr"
)

// Version is the current on-disk snapshot format version (spec §6).
const Version = 1

// FileName is the snapshot file's name within the cache directory.
const FileName = "feeds_cache.json"

// Entry wraps a cached value with the timestamps spec §4.C's entry wrapper
// describes, flattened to Unix seconds for JSON (spec §4.D).
type Entry[T any] struct {
	Value     T
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (e Entry[T]) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

type wireEntry struct {
	Value     json.RawMessage `json:"value"`
	CreatedAt int64           `json:"created_at"`
	ExpiresAt int64           `json:"expires_at"`
}

type wireSnapshot struct {
	Version     int                  `json:"version"`
	SavedAtUnix int64                `json:"saved_at_unix_seconds"`
	Feeds       map[string]wireEntry `json:"feeds"`
	Articles    map[string]wireEntry `json:"articles"`
}

// Snapshot is the decoded, filtered result of Load.
type Snapshot struct {
	SavedAt  time.Time
	Feeds    map[string]Entry[model.Feed]
	Articles map[string]Entry[model.Article]
}

// Store is a persistent cache bound to a single cache directory.
type Store struct {
	dir string
}

// New returns a Store writing/reading feeds_cache.json under dir. dir is
// created lazily by Save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path() string {
	return filepath.Join(s.dir, FileName)
}

// Load returns nil (no error) if the file is absent, older than
// maxAgeDays, or an unrecognized version — per spec §4.D, all three are
// "no cached content", not a fatal condition. Expired per-entry values are
// filtered out.
func (s *Store) Load(maxAgeDays int) (*Snapshot, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rfserr.Wrap(rfserr.Io, "read persistent cache", err)
	}

	var wire wireSnapshot
	if err := json.Unmarshal(data, &wire); err != nil {
		// A corrupt snapshot is treated as "no cached content", matching the
		// teacher's delete-and-recreate policy for a broken on-disk store.
		return nil, nil
	}

	if wire.Version != Version {
		return nil, nil
	}

	savedAt := time.Unix(wire.SavedAtUnix, 0).UTC()
	if maxAgeDays > 0 && time.Since(savedAt) > time.Duration(maxAgeDays)*24*time.Hour {
		return nil, nil
	}

	now := time.Now()
	snap := &Snapshot{
		SavedAt:  savedAt,
		Feeds:    make(map[string]Entry[model.Feed]),
		Articles: make(map[string]Entry[model.Article]),
	}

	for name, we := range wire.Feeds {
		var feed model.Feed
		if err := json.Unmarshal(we.Value, &feed); err != nil {
			continue
		}
		e := Entry[model.Feed]{Value: feed, CreatedAt: time.Unix(we.CreatedAt, 0).UTC(), ExpiresAt: time.Unix(we.ExpiresAt, 0).UTC()}
		if !e.expired(now) {
			snap.Feeds[name] = e
		}
	}
	for id, we := range wire.Articles {
		var article model.Article
		if err := json.Unmarshal(we.Value, &article); err != nil {
			continue
		}
		e := Entry[model.Article]{Value: article, CreatedAt: time.Unix(we.CreatedAt, 0).UTC(), ExpiresAt: time.Unix(we.ExpiresAt, 0).UTC()}
		if !e.expired(now) {
			snap.Articles[id] = e
		}
	}

	return snap, nil
}

// Save writes feeds and articles to disk atomically: it writes to
// feeds_cache.json.tmp then renames over the target. Expired entries are
// filtered out before writing.
func (s *Store) Save(feeds map[string]Entry[model.Feed], articles map[string]Entry[model.Article]) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return rfserr.Wrap(rfserr.Io, "create cache directory", err)
	}

	now := time.Now()
	wire := wireSnapshot{
		Version:     Version,
		SavedAtUnix: now.Unix(),
		Feeds:       make(map[string]wireEntry, len(feeds)),
		Articles:    make(map[string]wireEntry, len(articles)),
	}

	for name, e := range feeds {
		if e.expired(now) {
			continue
		}
		raw, err := json.Marshal(e.Value)
		if err != nil {
			return rfserr.Wrap(rfserr.Serialization, "encode feed for persistent cache", err)
		}
		wire.Feeds[name] = wireEntry{Value: raw, CreatedAt: e.CreatedAt.Unix(), ExpiresAt: e.ExpiresAt.Unix()}
	}
	for id, e := range articles {
		if e.expired(now) {
			continue
		}
		raw, err := json.Marshal(e.Value)
		if err != nil {
			return rfserr.Wrap(rfserr.Serialization, "encode article for persistent cache", err)
		}
		wire.Articles[id] = wireEntry{Value: raw, CreatedAt: e.CreatedAt.Unix(), ExpiresAt: e.ExpiresAt.Unix()}
	}

	data, err := json.MarshalIndent(&wire, "", "  ")
	if err != nil {
		return rfserr.Wrap(rfserr.Serialization, "encode persistent cache snapshot", err)
	}

	tmpPath := s.path() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return rfserr.Wrap(rfserr.Io, "write persistent cache temp file", err)
	}
	if err := os.Rename(tmpPath, s.path()); err != nil {
		return rfserr.Wrap(rfserr.Io, "rename persistent cache temp file", err)
	}
	return nil
}

// Cleanup deletes the snapshot if it exceeds maxSizeMB and removes any
// stray *.tmp files left behind by an interrupted Save.
func (s *Store) Cleanup(maxSizeMB int) error {
	if info, err := os.Stat(s.path()); err == nil {
		if maxSizeMB > 0 && info.Size() > int64(maxSizeMB)*1024*1024 {
			if err := os.Remove(s.path()); err != nil {
				return rfserr.Wrap(rfserr.Io, "remove oversized persistent cache", err)
			}
		}
	} else if !os.IsNotExist(err) {
		return rfserr.Wrap(rfserr.Io, "stat persistent cache", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rfserr.Wrap(rfserr.Io, "list cache directory", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			_ = os.Remove(filepath.Join(s.dir, entry.Name()))
		}
	}
	return nil
}

// DefaultCacheDir resolves the OS cache directory for rss-fuse, per spec
// §4.H step 2 ("Persistent Cache directory under the OS cache directory").
func DefaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", rfserr.Wrap(rfserr.Io, "resolve OS cache directory", err)
	}
	return filepath.Join(base, "rss-fuse"), nil
}
