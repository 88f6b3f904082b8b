package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"reviewpulse/internal/review"
)

// Play talks to a Google Play scraper sidecar exposing GET /app and
// GET /reviews. The scraping itself lives in the sidecar.
type Play struct {
	f fetcher
}

func NewPlay(baseURL string, httpClient *http.Client, timeout time.Duration) *Play {
	return &Play{f: newFetcher("play", baseURL, httpClient, timeout)}
}

// playSort maps the dashboard sort names to the scraper's.
func playSort(sort string) string {
	switch sort {
	case SortRating:
		return "rating"
	case SortHelpful, "helpfulness":
		return "helpfulness"
	case "relevance":
		return "relevance"
	default:
		return "newest"
	}
}

func (s *Play) AppInfo(ctx context.Context, q AppQuery) (json.RawMessage, error) {
	q = q.withDefaults()
	if q.AppID == "" {
		return nil, fmt.Errorf("play: app id is required")
	}
	// the sidecar answers with a single batch of q.Limit reviews
	if q.Page > 1 {
		return []review.Review{}, nil
	}

	body, err := s.f.get(ctx, "/app", url.Values{
		"appId":   {q.AppID},
		"country": {q.Country},
		"lang":    {q.Lang},
	})
	if err != nil {
		return nil, err
	}

	raw, err := unwrapData(body)
	if err != nil {
		return nil, upstreamDecodeError("play", err)
	}
	if bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: play id %s", ErrNotFound, q.AppID)
	}
	return raw, nil
}

func (s *Play) Reviews(ctx context.Context, q ReviewQuery) ([]review.Review, error) {
	q = q.withDefaults()
	if q.AppID == "" {
		return nil, fmt.Errorf("play: app id is required")
	}
	// the sidecar answers with a single batch of q.Limit reviews
	if q.Page > 1 {
		return []review.Review{}, nil
	}

	body, err := s.f.get(ctx, "/reviews", url.Values{
		"appId":   {q.AppID},
		"country": {q.Country},
		"lang":    {q.Lang},
		"sort":    {playSort(q.Sort)},
		"num":     {strconv.Itoa(q.Limit)},
	})
	if err != nil {
		return nil, err
	}

	list, err := reviewList(body)
	if err != nil {
		return nil, upstreamDecodeError("play", err)
	}
	return list, nil
}

// unwrapData strips a {"data": ...} envelope when present.
func unwrapData(body []byte) (json.RawMessage, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err == nil {
		if d, ok := env["data"]; ok {
			return d, nil
		}
		return json.RawMessage(body), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON")
	}
	return json.RawMessage(body), nil
}

// reviewList accepts a bare array or an object holding the array under one
// of the keys scrapers commonly use.
func reviewList(body []byte) ([]review.Review, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []review.Review
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	for _, k := range []string{"data", "reviews", "results", "items"} {
		raw, ok := env[k]
		if !ok || len(bytes.TrimSpace(raw)) == 0 || bytes.TrimSpace(raw)[0] != '[' {
			continue
		}
		var list []review.Review
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	return []review.Review{}, nil
}
