// Package feed implements the external collaborators spec §1/§6 scope out
// of the core: network fetching and RSS/Atom parsing. Both are exposed as
// small capability interfaces (spec §9 "Dynamic dispatch") so
// internal/repo can be tested against fakes.
package feed

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/9diov/rss-fuse/internal/model"
	"github.com/9diov/rss-fuse/internal/rfserr"
)

// Fetcher is the external network-fetch contract: fetch(url) -> bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Parser is the external RSS/Atom parsing contract: assume a library
// returning ParsedFeed structures.
type Parser interface {
	Parse(data []byte) (model.ParsedFeed, error)
}

// HTTPFetcher fetches over HTTP(S), bounded by a per-request timeout and a
// token-bucket limiter implementing spec §5's concurrent_fetches
// backpressure.
//
// Grounded on internal/sync/worker.go's rate-limit-aware client fields
// (rateLimitedAt/rateLimitExpiry, teacher) generalized from Linear's
// GraphQL rate limit response into a pre-emptive limiter shared across
// feeds.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher builds a fetcher with the given per-request timeout and a
// concurrency cap translated into permits-per-second.
func NewHTTPFetcher(timeout time.Duration, concurrentFetches int) *HTTPFetcher {
	if concurrentFetches <= 0 {
		concurrentFetches = 5
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(concurrentFetches), concurrentFetches),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, rfserr.Wrap(rfserr.Timeout, "waiting for fetch rate limiter", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, rfserr.Wrap(rfserr.InvalidUrl, "build request for "+url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		var netErr net.Error
		if ctx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, rfserr.Wrap(rfserr.Timeout, "fetch "+url+" timed out", err)
		}
		return nil, rfserr.Wrap(rfserr.Network, "fetch "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, rfserr.New(rfserr.Network, "fetch "+url+" returned HTTP "+resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, rfserr.Wrap(rfserr.Network, "read response body from "+url, err)
	}
	return data, nil
}

// GofeedParser adapts github.com/mmcdole/gofeed to the Parser interface.
type GofeedParser struct{}

func NewGofeedParser() *GofeedParser { return &GofeedParser{} }

func (p *GofeedParser) Parse(data []byte) (model.ParsedFeed, error) {
	fp := gofeed.NewParser()
	parsed, err := fp.ParseString(string(data))
	if err != nil {
		return model.ParsedFeed{}, rfserr.Wrap(rfserr.FeedParse, "parse feed body", err)
	}

	out := model.ParsedFeed{
		Title:       parsed.Title,
		Description: parsed.Description,
		Items:       make([]model.ParsedArticle, 0, len(parsed.Items)),
	}
	for _, item := range parsed.Items {
		article := model.ParsedArticle{
			GUID:        item.GUID,
			Title:       item.Title,
			Link:        item.Link,
			Description: item.Description,
			Content:     item.Content,
			Tags:        tagsFromCategories(item.Categories),
		}
		if item.Author != nil {
			article.Author = item.Author.Name
		}
		article.Published = item.PublishedParsed
		article.Updated = item.UpdatedParsed
		out.Items = append(out.Items, article)
	}
	return out, nil
}

func tagsFromCategories(categories []string) []string {
	if len(categories) == 0 {
		return nil
	}
	return append([]string(nil), categories...)
}
