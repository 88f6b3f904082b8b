package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"reviewpulse/internal/review"
)

const DefaultITunesBaseURL = "https://itunes.apple.com"

// maxFeedPage is the last page the customer-reviews feed serves.
const maxFeedPage = 10

// ITunes reads the public App Store endpoints.
type ITunes struct {
	f fetcher
}

func NewITunes(baseURL string, httpClient *http.Client, timeout time.Duration) *ITunes {
	if baseURL == "" {
		baseURL = DefaultITunesBaseURL
	}
	return &ITunes{f: newFetcher("itunes", baseURL, httpClient, timeout)}
}

type lookupResponse struct {
	ResultCount int               `json:"resultCount"`
	Results     []json.RawMessage `json:"results"`
}

func (s *ITunes) AppInfo(ctx context.Context, q AppQuery) (json.RawMessage, error) {
	q = q.withDefaults()
	if q.AppID == "" {
		return nil, fmt.Errorf("itunes: app id is required")
	}

	body, err := s.f.get(ctx, "/lookup", url.Values{
		"id":      {q.AppID},
		"country": {q.Country},
		"lang":    {q.Lang},
	})
	if err != nil {
		return nil, err
	}

	var lr lookupResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, upstreamDecodeError("itunes", err)
	}
	if lr.ResultCount == 0 || len(lr.Results) == 0 {
		return nil, fmt.Errorf("%w: itunes id %s", ErrNotFound, q.AppID)
	}
	return lr.Results[0], nil
}

// feedSort maps the dashboard sort names to the feed's. The feed has no
// rating order so that falls back to most recent.
func feedSort(sort string) string {
	if sort == SortHelpful {
		return "mosthelpful"
	}
	return "mostrecent"
}

type label struct {
	Label string `json:"label"`
}

type feedEntry struct {
	ID      label `json:"id"`
	Updated label `json:"updated"`
	Rating  label `json:"im:rating"`
	Title   label `json:"title"`
	Content label `json:"content"`
	Author  struct {
		Name label `json:"name"`
	} `json:"author"`
}

// feedEntries accepts both a single entry object and an array of entries.
type feedEntries []feedEntry

func (e *feedEntries) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '{' {
		var one feedEntry
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*e = feedEntries{one}
		return nil
	}
	var many []feedEntry
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*e = many
	return nil
}

type reviewFeed struct {
	Feed struct {
		Entry feedEntries `json:"entry"`
	} `json:"feed"`
}

func (s *ITunes) Reviews(ctx context.Context, q ReviewQuery) ([]review.Review, error) {
	q = q.withDefaults()
	if q.AppID == "" {
		return nil, fmt.Errorf("itunes: app id is required")
	}
	if q.Page > maxFeedPage {
		return []review.Review{}, nil
	}

	path := fmt.Sprintf("/%s/rss/customerreviews/page=%s/id=%s/sortby=%s/json",
		url.PathEscape(q.Country), strconv.Itoa(q.Page), url.PathEscape(q.AppID), feedSort(q.Sort))

	body, err := s.f.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	var feed reviewFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, upstreamDecodeError("itunes", err)
	}

	out := make([]review.Review, 0, len(feed.Feed.Entry))
	for _, e := range feed.Feed.Entry {
		// the first entry of older feeds describes the app, not a review
		if e.Rating.Label == "" {
			continue
		}
		out = append(out, review.Review{
			ID:     e.ID.Label,
			Date:   e.Updated.Label,
			Score:  e.Rating.Label,
			Title:  e.Title.Label,
			Text:   e.Content.Label,
			Author: e.Author.Name.Label,
		})
	}
	return out, nil
}
