// Package review holds the normalized review record shared by the catalog
// sources, the analysis providers and the cache fingerprinting.
package review

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Review is a store review reduced to the fields the service reasons about.
// ID, Date and Score keep their textual form so that fingerprints do not
// depend on how an upstream happened to type them.
type Review struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Score  string `json:"score"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text,omitempty"`
	Author string `json:"userName,omitempty"`
}

// Field fallbacks, first present wins.
var (
	idFields    = []string{"id", "reviewId", "review_id"}
	dateFields  = []string{"date", "updated", "at"}
	scoreFields = []string{"score", "rating"}
	textFields  = []string{"text", "content", "body"}
)

// UnmarshalJSON accepts the differing shapes the Android and iOS scrapers
// produce. Unknown fields are ignored.
func (r *Review) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Review{
		ID:     pick(raw, idFields),
		Date:   pick(raw, dateFields),
		Score:  pick(raw, scoreFields),
		Title:  pick(raw, []string{"title"}),
		Text:   pick(raw, textFields),
		Author: pick(raw, []string{"userName", "author"}),
	}
	return nil
}

func pick(raw map[string]json.RawMessage, names []string) string {
	for _, name := range names {
		v, ok := raw[name]
		if !ok {
			continue
		}
		v = bytes.TrimSpace(v)
		if len(v) == 0 || bytes.Equal(v, []byte("null")) {
			continue
		}
		return scalar(v)
	}
	return ""
}

// scalar renders a JSON scalar the way a JavaScript template string would:
// strings unquoted, numbers in shortest form, booleans as true/false.
func scalar(v json.RawMessage) string {
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	case 't', 'f':
		return string(v)
	case '{', '[':
		return string(v)
	default:
		if f, err := strconv.ParseFloat(string(v), 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	return strings.Trim(string(v), `"`)
}

// Stars returns the score rounded to whole stars. ok is false when the score
// is missing or not a number.
func (r Review) Stars() (stars int, ok bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(r.Score), 64)
	if err != nil {
		return 0, false
	}
	return int(math.Round(f)), true
}
