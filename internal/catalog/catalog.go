// Package catalog fetches app metadata and reviews from the public store
// endpoints: the iTunes lookup API and customer-reviews feed for iOS, and a
// Google Play scraper sidecar for Android.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"reviewpulse/internal/review"
)

var (
	// ErrUpstream wraps every failure to reach or understand a store.
	ErrUpstream = errors.New("catalog: upstream unavailable")
	// ErrNotFound is returned when the store does not know the app.
	ErrNotFound = errors.New("catalog: app not found")
)

const (
	DefaultCountry = "tr"
	DefaultLang    = "tr"
	DefaultPage    = 1
	DefaultLimit   = 100

	SortRecent  = "recent"
	SortHelpful = "helpful"
	SortRating  = "rating"
)

type AppQuery struct {
	AppID   string
	Country string
	Lang    string
}

type ReviewQuery struct {
	AppID   string
	Country string
	Lang    string
	Sort    string
	Page    int // iOS feed page 1-10; Android has page 1 only
	Limit   int // Android review count
}

// Source is one store.
type Source interface {
	AppInfo(ctx context.Context, q AppQuery) (json.RawMessage, error)
	Reviews(ctx context.Context, q ReviewQuery) ([]review.Review, error)
}

func (q AppQuery) withDefaults() AppQuery {
	q.AppID = strings.TrimSpace(q.AppID)
	q.Country = lowerOr(q.Country, DefaultCountry)
	q.Lang = lowerOr(q.Lang, DefaultLang)
	return q
}

func (q ReviewQuery) withDefaults() ReviewQuery {
	q.AppID = strings.TrimSpace(q.AppID)
	q.Country = lowerOr(q.Country, DefaultCountry)
	q.Lang = lowerOr(q.Lang, DefaultLang)
	q.Sort = lowerOr(q.Sort, SortRecent)
	if q.Page <= 0 {
		q.Page = DefaultPage
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	return q
}

func lowerOr(s, def string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def
	}
	return s
}
