package search

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID             string    `json:"id"`
	ContributorKey string    `json:"contributorKey"`
	FormType       string    `json:"formType"`
	CreatedAt      time.Time `json:"createdAt"`
	Snippet        string    `json:"snippet"`
}

// Query describes a search request. ContributorKey, when set, restricts hits
// to that contributor's records.
type Query struct {
	Text           string
	ContributorKey string
	Limit          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// RecordDocument is the data we index for a record.
type RecordDocument struct {
	ID             string `json:"id"`
	ContributorKey string `json:"contributorKey"`
	FormType       string `json:"formType"`
	CreatedAt      int64  `json:"createdAt"`
	Text           string `json:"text"`
}

// DocumentFromRecord flattens a record's narrative answers and free-text
// demographics into one searchable text field.
func DocumentFromRecord(r store.Record) RecordDocument {
	d := r.Content.Demographics
	parts := []string{d.State, d.SNFName, d.ServicesDiscussed, d.ServicesAccepted, d.ServicesUtilizedAfterDischarge}
	ids := make([]string, 0, len(r.Content.Answers))
	for id := range r.Content.Answers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		parts = append(parts, r.Content.Answers[id])
	}
	return RecordDocument{
		ID:             r.ID,
		ContributorKey: r.ContributorKey,
		FormType:       r.FormType,
		CreatedAt:      r.CreatedAt.Unix(),
		Text:           joinNonBlank(parts),
	}
}

func joinNonBlank(parts []string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

const snippetWidth = 160

// snippetAround returns up to width runes of text centred on the first match
// of query.
func snippetAround(text, query string, width int) string {
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	// ToLower maps rune for rune, so rune offsets carry over to text.
	lower := strings.ToLower(text)
	start := 0
	if idx := strings.Index(lower, strings.ToLower(strings.TrimSpace(query))); idx > 0 {
		start = max(0, utf8.RuneCountInString(lower[:idx])-width/4)
	}
	end := min(start+width, len(runes))
	start = max(0, end-width)
	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}
