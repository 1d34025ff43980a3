package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

// RecordSource is the slice of the store used by the SQL fallback.
type RecordSource interface {
	SearchRecords(ctx context.Context, query, contributorKey string, limit int) ([]store.Record, error)
}

// SQLSearcher implements Searcher with a substring match against the record
// table. It is always available and is used whenever Meilisearch is not.
type SQLSearcher struct {
	source  RecordSource
	timeout func() (context.Context, context.CancelFunc)
}

func NewSQLSearcher(source RecordSource) *SQLSearcher {
	return &SQLSearcher{
		source: source,
		timeout: func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), queryTimeout)
		},
	}
}

func (s *SQLSearcher) Healthy() bool { return s.source != nil }

func (s *SQLSearcher) Search(q Query) ([]Result, int, error) {
	if s.source == nil {
		return nil, 0, fmt.Errorf("sql search: no record source")
	}
	ctx, cancel := s.timeout()
	defer cancel()

	records, err := s.source.SearchRecords(ctx, q.Text, q.ContributorKey, q.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("sql search: %w", err)
	}
	results := make([]Result, 0, len(records))
	for _, r := range records {
		doc := DocumentFromRecord(r)
		results = append(results, Result{
			ID:             r.ID,
			ContributorKey: r.ContributorKey,
			FormType:       r.FormType,
			CreatedAt:      r.CreatedAt,
			Snippet:        snippetAround(doc.Text, q.Text, snippetWidth),
		})
	}
	return results, len(results), nil
}

func normalizeQuery(q Query) Query {
	q.Text = strings.TrimSpace(q.Text)
	q.ContributorKey = strings.TrimSpace(q.ContributorKey)
	if q.Limit <= 0 || q.Limit > maxLimit {
		q.Limit = defaultLimit
	}
	return q
}
