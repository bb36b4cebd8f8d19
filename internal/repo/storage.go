package repo

import (
	"strings"
	"sync"
	"time"

	"github.com/9diov/rss-fuse/internal/model"
	"github.com/9diov/rss-fuse/internal/rfserr"
)

// Storage is the capability interface spec §9 "Dynamic dispatch" names:
// an in-memory map of feeds and articles with store/get/list/remove
// operations. Kept thin; MemStorage is the only implementation rss-fuse
// ships, but callers depend on this interface so a test can swap in a
// fake.
type Storage interface {
	StoreFeed(feed model.Feed) error
	GetFeed(name string) (model.Feed, bool)
	ListFeeds() []model.Feed
	RemoveFeed(name string) error

	StoreArticle(article model.Article) error
	GetArticle(id string) (model.Article, bool)
	ListArticles(feedName string) []model.Article
	RemoveArticle(id string) error

	GetStats() StorageStats
	Cleanup() error
	HealthCheck() error
}

// StorageStats reports the storage-layer contribution to Repository.Stats.
type StorageStats struct {
	FeedCount    int
	ArticleCount int
}

// MemStorage is an in-memory Storage backed by plain maps guarded by a
// single mutex, the same shape as the feed/article records it holds — no
// separate persistence of its own; that's Persistent Cache's job.
type MemStorage struct {
	mu       sync.RWMutex
	feeds    map[string]model.Feed
	articles map[string]model.Article
	// articlesByFeed indexes article ids per feed name for ListArticles
	// and RemoveFeed cascades.
	articlesByFeed map[string]map[string]struct{}
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		feeds:          make(map[string]model.Feed),
		articles:       make(map[string]model.Article),
		articlesByFeed: make(map[string]map[string]struct{}),
	}
}

func (s *MemStorage) StoreFeed(feed model.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[feed.Name] = feed
	if _, ok := s.articlesByFeed[feed.Name]; !ok {
		s.articlesByFeed[feed.Name] = make(map[string]struct{})
	}
	for _, a := range feed.Articles {
		s.articles[a.ID] = a
		s.articlesByFeed[feed.Name][a.ID] = struct{}{}
	}
	return nil
}

func (s *MemStorage) GetFeed(name string) (model.Feed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.feeds[name]
	return f, ok
}

func (s *MemStorage) ListFeeds() []model.Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		out = append(out, f)
	}
	return out
}

func (s *MemStorage) RemoveFeed(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feeds[name]; !ok {
		return rfserr.New(rfserr.NotFound, "feed "+name+" not found in storage")
	}
	for id := range s.articlesByFeed[name] {
		delete(s.articles, id)
	}
	delete(s.articlesByFeed, name)
	delete(s.feeds, name)
	return nil
}

func (s *MemStorage) StoreArticle(article model.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[article.ID] = article
	return nil
}

func (s *MemStorage) GetArticle(id string) (model.Article, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.articles[id]
	return a, ok
}

func (s *MemStorage) ListArticles(feedName string) []model.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if feedName == "" {
		out := make([]model.Article, 0, len(s.articles))
		for _, a := range s.articles {
			out = append(out, a)
		}
		return out
	}

	ids := s.articlesByFeed[feedName]
	out := make([]model.Article, 0, len(ids))
	for id := range ids {
		if a, ok := s.articles[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (s *MemStorage) RemoveArticle(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.articles[id]; !ok {
		return rfserr.New(rfserr.NotFound, "article "+id+" not found in storage")
	}
	delete(s.articles, id)
	for feedName, ids := range s.articlesByFeed {
		if _, ok := ids[id]; ok {
			delete(ids, id)
			_ = feedName
		}
	}
	return nil
}

func (s *MemStorage) GetStats() StorageStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StorageStats{FeedCount: len(s.feeds), ArticleCount: len(s.articles)}
}

// Cleanup is a no-op for MemStorage: there is nothing on disk to reclaim.
func (s *MemStorage) Cleanup() error { return nil }

// HealthCheck always succeeds for an in-memory store; it exists to satisfy
// the Storage interface and to give a future disk-backed implementation a
// place to report corruption.
func (s *MemStorage) HealthCheck() error { return nil }

// matchesTags reports whether all of want are present in have.
func matchesTags(have []string, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[strings.ToLower(t)] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[strings.ToLower(w)]; !ok {
			return false
		}
	}
	return true
}

// within reports whether t falls in [from, to], treating a nil from/to as
// unbounded on that side.
func within(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}
