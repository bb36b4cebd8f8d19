package model

import "time"

// FeedState is the tagged variant from spec §3: Active | Updating |
// Disabled | Error(message), plus Loading for a feed whose content has not
// been loaded yet.
type FeedState string

const (
	StateActive   FeedState = "active"
	StateUpdating FeedState = "updating"
	StateDisabled FeedState = "disabled"
	StateLoading  FeedState = "loading"
	StateError    FeedState = "error"
)

// FeedStatus pairs the tagged state with the error message, when present.
type FeedStatus struct {
	State        FeedState
	ErrorMessage string
}

func Active() FeedStatus   { return FeedStatus{State: StateActive} }
func Updating() FeedStatus { return FeedStatus{State: StateUpdating} }
func Disabled() FeedStatus { return FeedStatus{State: StateDisabled} }
func Loading() FeedStatus  { return FeedStatus{State: StateLoading} }
func ErrorState(msg string) FeedStatus {
	return FeedStatus{State: StateError, ErrorMessage: msg}
}

// Feed is the canonical record for a configured feed (spec §3).
type Feed struct {
	Name        string
	URL         string
	Title       string
	Description string
	LastUpdated *time.Time
	Articles    []Article
	Status      FeedStatus
}

// FromParsedFeed translates a ParsedFeed plus its configured name/url into
// a Feed with status Active, per spec §4.E RefreshFeed.
func FromParsedFeed(p ParsedFeed, name, feedURL string, maxArticles int) Feed {
	articles := make([]Article, 0, len(p.Items))
	for _, item := range p.Items {
		articles = append(articles, FromParsed(item, name))
	}
	if maxArticles > 0 && len(articles) > maxArticles {
		articles = articles[:maxArticles]
	}

	now := Now().UTC()
	return Feed{
		Name:        name,
		URL:         feedURL,
		Title:       p.Title,
		Description: p.Description,
		LastUpdated: &now,
		Articles:    articles,
		Status:      Active(),
	}
}
