package cache

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"reviewpulse/internal/review"
)

const (
	// FingerprintInvalid is returned when the payload is not a list of reviews.
	FingerprintInvalid = "invalid"
	// FingerprintEmpty is returned when no reviews were supplied.
	FingerprintEmpty = "no-reviews"
)

// Fingerprint returns a short, order-independent digest of the id, date and
// score of every review. It is a cache-key optimization, not a security
// boundary: the 32-bit hash can collide.
func Fingerprint(reviews []review.Review) string {
	parts := make([]string, len(reviews))
	for i, r := range reviews {
		parts[i] = r.ID + "-" + r.Date + "-" + r.Score
	}
	sort.Strings(parts)
	return hashString(strings.Join(parts, "|"))
}

// FingerprintJSON fingerprints a raw request payload that should hold a JSON
// array of review objects.
func FingerprintJSON(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return FingerprintEmpty
	}
	if raw[0] != '[' {
		return FingerprintInvalid
	}
	var reviews []review.Review
	if err := json.Unmarshal(raw, &reviews); err != nil {
		return FingerprintInvalid
	}
	return Fingerprint(reviews)
}

// hashString is the classic h = h*31 + c over UTF-16 code units, wrapped to
// a signed 32-bit integer and printed as signed hex.
func hashString(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	return strconv.FormatInt(int64(h), 16)
}
