package catalog

import (
	"context"

	"reviewpulse/internal/review"
)

const (
	DefaultAllPages    = 10
	DefaultRatingPages = 5
	MaxCollectPages    = 50
)

// Collect reads pages 1..maxPages of q from src, stopping early at the first
// empty page. keep filters reviews; nil keeps all. pages is the number of
// non-empty pages read.
func Collect(ctx context.Context, src Source, q ReviewQuery, maxPages int, keep func(review.Review) bool) (reviews []review.Review, pages int, err error) {
	maxPages = min(max(maxPages, 1), MaxCollectPages)
	reviews = []review.Review{}

	for page := 1; page <= maxPages; page++ {
		q.Page = page
		batch, err := src.Reviews(ctx, q)
		if err != nil {
			return nil, pages, err
		}
		if len(batch) == 0 {
			break
		}
		pages++

		for _, r := range batch {
			if keep == nil || keep(r) {
				reviews = append(reviews, r)
			}
		}
	}
	return reviews, pages, nil
}

// WithStars keeps reviews whose rounded score equals stars.
func WithStars(stars int) func(review.Review) bool {
	return func(r review.Review) bool {
		n, ok := r.Stars()
		return ok && n == stars
	}
}
