// Package model holds the canonical Article/Feed records (spec §3) and the
// pure functions that derive ids and render Markdown from them.
package model

import (
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"lukechampine.com/blake3"
)

// ParsedArticle is the external contract this package accepts from the
// out-of-scope RSS/Atom parser (spec §1, §6): "assume a library returning
// ParsedFeed structures". Field names mirror what github.com/mmcdole/gofeed
// exposes on a gofeed.Item, kept narrow to what rendering needs.
type ParsedArticle struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	Author      string
	Published   *time.Time
	Updated     *time.Time
	Tags        []string
}

// ParsedFeed is the external contract for a fetched-and-parsed feed.
type ParsedFeed struct {
	Title       string
	Description string
	Items       []ParsedArticle
}

// Article is the canonical record for a single feed entry (spec §3).
type Article struct {
	ID          string
	Title       string
	Link        string
	Description string
	Content     string
	Author      string
	Published   *time.Time
	Updated     *time.Time
	CachedAt    *time.Time
	Tags        []string
	Read        bool
}

// Now is overridable in tests so CachedAt is deterministic.
var Now = time.Now

// FromParsed builds a canonical Article from a ParsedArticle, applying the
// id-derivation rule from spec §3: the parser's GUID if present, otherwise
// "{feed_name}:{hex(blake3(link))}". The derivation is a pure function of
// (feedName, link) when no GUID is supplied, so it is idempotent.
func FromParsed(p ParsedArticle, feedName string) Article {
	title := p.Title
	if title == "" {
		title = "Untitled"
	}

	now := Now().UTC()
	a := Article{
		ID:          idFor(p, feedName),
		Title:       title,
		Link:        p.Link,
		Description: p.Description,
		Content:     p.Content,
		Author:      p.Author,
		Published:   p.Published,
		Updated:     p.Updated,
		CachedAt:    &now,
		Tags:        append([]string(nil), p.Tags...),
		Read:        false,
	}
	return a
}

func idFor(p ParsedArticle, feedName string) string {
	if p.GUID != "" {
		return p.GUID
	}
	return feedName + ":" + hex.EncodeToString(blake3Sum(normalizeLink(p.Link)))
}

// normalizeLink strips common tracking query parameters before hashing, per
// the original Rust implementation's content extractor (see SPEC_FULL.md's
// "Supplemented features"). This is a pure function of the link string, so
// idempotence of FromParsed is preserved.
func normalizeLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") || lower == "ref" || lower == "fbclid" || lower == "gclid" {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func blake3Sum(s string) []byte {
	sum := blake3.Sum256([]byte(s))
	return sum[:]
}
