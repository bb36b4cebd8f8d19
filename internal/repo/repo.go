// Package repo implements the Repository (spec §4.E, component E): the
// data access layer composing an in-memory Storage, the two-tier cache, and
// the external feed/article sources. FUSE nodes and the CLI only ever talk
// to a Repository, never to Storage or the caches directly.
package repo

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/9diov/rss-fuse/internal/cache"
	"github.com/9diov/rss-fuse/internal/cache/persist"
	"github.com/9diov/rss-fuse/internal/feed"
	"github.com/9diov/rss-fuse/internal/model"
	"github.com/9diov/rss-fuse/internal/rfserr"
)

// Repository composes Storage, the in-memory cache, the persistent cache,
// and a Fetcher+Parser pair. It is the only type FUSE nodes and the CLI
// depend on for feed/article data.
type Repository struct {
	storage Storage
	feeds   *cache.Cache[model.Feed]
	articles *cache.Cache[model.Article]
	persist  *persist.Store
	fetcher  feed.Fetcher
	parser   feed.Parser

	maxArticles int

	statsMu      sync.Mutex
	opLatencyEMA time.Duration

	logger *log.Logger
}

// Option configures a Repository at construction time.
type Option func(*Repository)

// WithPersistence enables the persistent cache backed by dir, loading any
// existing snapshot into both caches immediately (spec §4.E "at
// construction ... calls load() on startup").
func WithPersistence(dir string) Option {
	return func(r *Repository) {
		r.persist = persist.New(dir)
	}
}

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// articleCacheCapacity bounds the in-memory article cache's LRU.
const articleCacheCapacity = 1000

// New constructs a Repository. feedTTL/articleTTL size the in-memory
// cache's default TTL (spec §6 settings.cache_duration); maxArticles
// caps how many articles a refreshed feed keeps (settings.max_articles).
// The article cache holds at most articleCacheCapacity entries.
func New(storage Storage, fetcher feed.Fetcher, parser feed.Parser, feedTTL, articleTTL time.Duration, maxArticles int, opts ...Option) *Repository {
	r := &Repository{
		storage:     storage,
		feeds:       cache.New[model.Feed](feedTTL, 0),
		articles:    cache.New[model.Article](articleTTL, articleCacheCapacity),
		fetcher:     fetcher,
		parser:      parser,
		maxArticles: maxArticles,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.persist != nil {
		if snap, err := r.persist.Load(7); err == nil && snap != nil {
			for name, e := range snap.Feeds {
				r.feeds.PutWithTTL(name, e.Value, time.Until(e.ExpiresAt))
				if err := r.storage.StoreFeed(e.Value); err != nil {
					r.logger.Printf("repo: restore feed %q from snapshot: %v", name, err)
				}
			}
			for id, e := range snap.Articles {
				r.articles.PutWithTTL(id, e.Value, time.Until(e.ExpiresAt))
				if err := r.storage.StoreArticle(e.Value); err != nil {
					r.logger.Printf("repo: restore article %q from snapshot: %v", id, err)
				}
			}
		} else if err != nil {
			r.logger.Printf("repo: load persistent cache: %v", err)
		}
	}

	return r
}

func (r *Repository) timed(start time.Time) {
	elapsed := time.Since(start)
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	if r.opLatencyEMA == 0 {
		r.opLatencyEMA = elapsed
		return
	}
	const alpha = 0.2
	r.opLatencyEMA = time.Duration(alpha*float64(elapsed) + (1-alpha)*float64(r.opLatencyEMA))
}

// GetFeed returns feed name, consulting the cache first and falling back
// to storage. A storage hit backfills the cache.
func (r *Repository) GetFeed(name string) (model.Feed, bool) {
	defer r.timed(time.Now())

	if f, ok := r.feeds.Get(name); ok {
		return f, true
	}
	if f, ok := r.storage.GetFeed(name); ok {
		r.feeds.Put(name, f)
		return f, true
	}
	return model.Feed{}, false
}

// SaveFeed writes feed to both storage and cache, caching every article it
// carries.
func (r *Repository) SaveFeed(f model.Feed) error {
	defer r.timed(time.Now())

	if err := r.storage.StoreFeed(f); err != nil {
		return rfserr.Wrap(rfserr.Storage, "store feed "+f.Name, err)
	}
	r.feeds.Put(f.Name, f)
	for _, a := range f.Articles {
		r.articles.Put(a.ID, a)
	}
	return nil
}

// RefreshFeed fetches url, parses it, translates the result to a Feed with
// status Active, saves it, and triggers an immediate persistent-cache save
// (spec §4.E "refresh_feed also triggers an immediate save").
func (r *Repository) RefreshFeed(ctx context.Context, name, url string) (model.Feed, error) {
	defer r.timed(time.Now())

	data, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return model.Feed{}, err
	}

	parsed, err := r.parser.Parse(data)
	if err != nil {
		return model.Feed{}, err
	}

	f := model.FromParsedFeed(parsed, name, url, r.maxArticles)
	if err := r.SaveFeed(f); err != nil {
		return model.Feed{}, err
	}

	if r.persist != nil {
		if err := r.saveSnapshot(); err != nil {
			r.logger.Printf("repo: save persistent cache after refresh of %q: %v", name, err)
		}
	}

	return f, nil
}

// LoadFeedCacheFirst returns cached or stored content for name, never
// fetching over the network.
func (r *Repository) LoadFeedCacheFirst(name string) (model.Feed, bool) {
	return r.GetFeed(name)
}

// RefreshFeedBackground performs RefreshFeed, logging and swallowing any
// error so cached content keeps serving across transient failures. This
// mirrors the "continue on error, never abort" control flow the teacher's
// background sync loop uses per team.
func (r *Repository) RefreshFeedBackground(ctx context.Context, name, url string) (model.Feed, bool) {
	f, err := r.RefreshFeed(ctx, name, url)
	if err != nil {
		r.logger.Printf("repo: background refresh of %q failed: %v", name, err)
		return model.Feed{}, false
	}
	return f, true
}

// RefreshAll refreshes every (name, url) pair with up to concurrentFetches
// refreshes in flight at once (spec §5 concurrent_fetches), continuing past
// individual failures.
func (r *Repository) RefreshAll(ctx context.Context, feeds map[string]string, concurrentFetches int) {
	if concurrentFetches <= 0 {
		concurrentFetches = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, concurrentFetches)

	for name, url := range feeds {
		name, url := name, url
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			defer func() { <-sem }()

			r.RefreshFeedBackground(gctx, name, url)
			return nil
		})
	}
	_ = g.Wait()
}

// SearchQuery mirrors spec §4.E's search_articles filter set.
type SearchQuery struct {
	FeedName        string
	TitleContains   string
	ContentContains string
	Author          string
	Tags            []string
	DateFrom        *time.Time
	DateTo          *time.Time
	Limit           int
	Offset          int
}

// SearchArticles scans candidate articles (scoped to FeedName when set, all
// articles otherwise), applies every filter in q, sorts for a stable
// result order, and paginates with Limit/Offset (defaults 50/0).
func (r *Repository) SearchArticles(q SearchQuery) []model.Article {
	defer r.timed(time.Now())

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	candidates := r.storage.ListArticles(q.FeedName)
	matched := make([]model.Article, 0, len(candidates))
	for _, a := range candidates {
		if !matchesQuery(a, q) {
			continue
		}
		matched = append(matched, a)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID < matched[j].ID
	})

	if q.Offset >= len(matched) {
		return nil
	}
	end := q.Offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[q.Offset:end]
}

func matchesQuery(a model.Article, q SearchQuery) bool {
	if q.TitleContains != "" && !strings.Contains(strings.ToLower(a.Title), strings.ToLower(q.TitleContains)) {
		return false
	}
	if q.ContentContains != "" && !strings.Contains(strings.ToLower(a.Content), strings.ToLower(q.ContentContains)) {
		return false
	}
	if q.Author != "" && !strings.EqualFold(a.Author, q.Author) {
		return false
	}
	if !matchesTags(a.Tags, q.Tags) {
		return false
	}
	if a.Published != nil && !within(*a.Published, q.DateFrom, q.DateTo) {
		return false
	}
	return true
}

// Stats aggregates storage size, both caches' hit-rate stats, and the
// exponentially-weighted moving average of recorded operation latency.
type Stats struct {
	Storage       StorageStats
	FeedCache     cache.Stats
	ArticleCache  cache.Stats
	AvgLatencyEMA time.Duration
}

func (r *Repository) Stats() Stats {
	r.statsMu.Lock()
	ema := r.opLatencyEMA
	r.statsMu.Unlock()

	return Stats{
		Storage:       r.storage.GetStats(),
		FeedCache:     r.feeds.Stats(),
		ArticleCache:  r.articles.Stats(),
		AvgLatencyEMA: ema,
	}
}

// saveSnapshot writes the current cache contents to the persistent cache.
// Snapshot() already filters expired entries; every remaining entry is
// written with CreatedAt = now and ExpiresAt = now + 24h, so the in-memory
// entry's own expiry is not carried over to disk.
func (r *Repository) saveSnapshot() error {
	now := time.Now()
	feedEntries := make(map[string]persist.Entry[model.Feed])
	for name, f := range r.feeds.Snapshot() {
		feedEntries[name] = persist.Entry[model.Feed]{Value: f, CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour)}
	}
	articleEntries := make(map[string]persist.Entry[model.Article])
	for id, a := range r.articles.Snapshot() {
		articleEntries[id] = persist.Entry[model.Article]{Value: a, CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour)}
	}
	return r.persist.Save(feedEntries, articleEntries)
}

// SaveToDisk exposes saveSnapshot for the orchestrator's periodic
// save-every-5-minutes task (spec §4.E) and for a clean shutdown.
func (r *Repository) SaveToDisk() error {
	if r.persist == nil {
		return nil
	}
	return r.saveSnapshot()
}

// StartPeriodicSave spawns a goroutine saving the persistent cache every
// interval until ctx is cancelled, returning a channel closed once the
// goroutine has exited so callers can wait for a final save to finish.
func (r *Repository) StartPeriodicSave(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if r.persist == nil {
		close(done)
		return done
	}

	var stopped int32
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if atomic.CompareAndSwapInt32(&stopped, 0, 1) {
					if err := r.saveSnapshot(); err != nil {
						r.logger.Printf("repo: final persistent cache save: %v", err)
					}
				}
				return
			case <-ticker.C:
				if err := r.saveSnapshot(); err != nil {
					r.logger.Printf("repo: periodic persistent cache save: %v", err)
				}
			}
		}
	}()
	return done
}
