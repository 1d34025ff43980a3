package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 100
	queryTimeout = 5 * time.Second
)

// Indexer keeps an external index in step with the record table.
type Indexer interface {
	Healthy() bool
	IndexRecord(doc RecordDocument) error
	IndexRecords(docs []RecordDocument) error
	DeleteRecord(id string) error
}

// MeiliBackend is what the facade needs from Meilisearch.
type MeiliBackend interface {
	Searcher
	Indexer
}

// RecordLister loads records for a full reindex.
type RecordLister interface {
	ListRecentRecords(ctx context.Context, limit int) ([]store.Record, error)
}

// Service is the facade that tries Meilisearch first and falls back to SQL.
type Service struct {
	meili    MeiliBackend
	fallback Searcher
	logger   *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili MeiliBackend, fallback Searcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{meili: meili, fallback: fallback, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to SQL.
func (s *Service) Search(q Query) Response {
	q = normalizeQuery(q)
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to sql", slog.String("error", err.Error()))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("sql search failed", slog.String("error", err.Error()))
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexRecord indexes a record (fire-and-forget to Meilisearch).
func (s *Service) IndexRecord(r store.Record) {
	if !s.meiliReady() {
		return
	}
	doc := DocumentFromRecord(r)
	go func() {
		if err := s.meili.IndexRecord(doc); err != nil {
			s.logger.Warn("index record", slog.String("record_id", doc.ID), slog.String("error", err.Error()))
		}
	}()
}

// DeleteRecord removes a record from the search index (fire-and-forget).
func (s *Service) DeleteRecord(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteRecord(id); err != nil {
			s.logger.Warn("delete record from index", slog.String("record_id", id), slog.String("error", err.Error()))
		}
	}()
}

// ReindexAll pushes up to limit of the newest records to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context, lister RecordLister, limit int) (int, error) {
	if !s.meiliReady() || lister == nil {
		return 0, nil
	}
	records, err := lister.ListRecentRecords(ctx, limit)
	if err != nil {
		return 0, err
	}
	docs := make([]RecordDocument, 0, len(records))
	for _, r := range records {
		docs = append(docs, DocumentFromRecord(r))
	}
	if err := s.meili.IndexRecords(docs); err != nil {
		s.logger.Warn("reindex records", slog.String("error", err.Error()))
		return 0, err
	}
	return len(docs), nil
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
