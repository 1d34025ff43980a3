package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/logging"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

type fakeSource struct {
	records []store.Record
	err     error
	gotKey  string
}

func (f *fakeSource) SearchRecords(ctx context.Context, query, contributorKey string, limit int) ([]store.Record, error) {
	f.gotKey = contributorKey
	if f.err != nil {
		return nil, f.err
	}
	var out []store.Record
	for _, r := range f.records {
		if strings.Contains(strings.ToLower(DocumentFromRecord(r).Text), strings.ToLower(query)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) ListRecentRecords(ctx context.Context, limit int) ([]store.Record, error) {
	return f.records, f.err
}

type fakeMeili struct {
	mu      sync.Mutex
	healthy bool
	err     error
	indexed []RecordDocument
	deleted []string
	done    chan struct{}
}

func (f *fakeMeili) Healthy() bool { return f.healthy }

func (f *fakeMeili) Search(q Query) ([]Result, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return []Result{{ID: "meili_1"}}, 1, nil
}

func (f *fakeMeili) IndexRecord(doc RecordDocument) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, doc)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil
}

func (f *fakeMeili) IndexRecords(docs []RecordDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, docs...)
	return nil
}

func (f *fakeMeili) DeleteRecord(id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil
}

func sampleRecords() []store.Record {
	return []store.Record{
		{
			ID: "jane_doe_1", ContributorKey: "jane_doe", FormType: "full",
			CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			Content: store.Content{
				Demographics: store.Demographics{State: "PA", SNFName: "Maple Grove"},
				Answers:      map[string]string{"q6": "Patient waited on a wheelchair ramp."},
			},
		},
		{
			ID: "john_roe_1", ContributorKey: "john_roe", FormType: "abbrev",
			Content: store.Content{Answers: map[string]string{"aq1": "Discharged home with PT."}},
		},
	}
}

func TestDocumentFromRecordFlattensText(t *testing.T) {
	doc := DocumentFromRecord(sampleRecords()[0])
	if doc.ID != "jane_doe_1" || doc.ContributorKey != "jane_doe" {
		t.Fatalf("unexpected identity fields: %+v", doc)
	}
	want := "PA\nMaple Grove\nPatient waited on a wheelchair ramp."
	if doc.Text != want {
		t.Fatalf("expected text %q, got %q", want, doc.Text)
	}
}

func TestSnippetAroundCentresOnMatch(t *testing.T) {
	text := strings.Repeat("a", 300) + "ramp" + strings.Repeat("b", 300)
	got := snippetAround(text, "RAMP", 40)
	if !strings.Contains(got, "ramp") {
		t.Fatalf("expected snippet to include match, got %q", got)
	}
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipses on both ends, got %q", got)
	}
	if short := snippetAround("short text", "x", 40); short != "short text" {
		t.Fatalf("short text should pass through, got %q", short)
	}
}

func TestSearchFallsBackToSQLWhenMeiliUnhealthy(t *testing.T) {
	source := &fakeSource{records: sampleRecords()}
	svc := NewService(&fakeMeili{healthy: false}, NewSQLSearcher(source), logging.NewNop())

	resp := svc.Search(Query{Text: "ramp", ContributorKey: "jane_doe"})
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("expected one result, got %+v", resp)
	}
	if resp.Results[0].ID != "jane_doe_1" {
		t.Fatalf("unexpected hit %q", resp.Results[0].ID)
	}
	if source.gotKey != "jane_doe" {
		t.Fatalf("expected contributor filter to be passed, got %q", source.gotKey)
	}
}

func TestSearchFallsBackWhenMeiliErrors(t *testing.T) {
	source := &fakeSource{records: sampleRecords()}
	svc := NewService(&fakeMeili{healthy: true, err: errors.New("boom")}, NewSQLSearcher(source), logging.NewNop())

	resp := svc.Search(Query{Text: "PT"})
	if len(resp.Results) != 1 || resp.Results[0].ID != "john_roe_1" {
		t.Fatalf("expected sql fallback result, got %+v", resp)
	}
}

func TestSearchPrefersMeili(t *testing.T) {
	svc := NewService(&fakeMeili{healthy: true}, NewSQLSearcher(&fakeSource{}), logging.NewNop())
	resp := svc.Search(Query{Text: "anything"})
	if len(resp.Results) != 1 || resp.Results[0].ID != "meili_1" {
		t.Fatalf("expected meili result, got %+v", resp)
	}
}

func TestSearchEmptyQueryAndErrors(t *testing.T) {
	svc := NewService(nil, NewSQLSearcher(&fakeSource{err: errors.New("db down")}), logging.NewNop())
	if resp := svc.Search(Query{Text: "   "}); resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("blank query should yield an empty list, got %+v", resp)
	}
	if resp := svc.Search(Query{Text: "ramp"}); resp.Results == nil || resp.Total != 0 {
		t.Fatalf("storage errors should yield an empty list, got %+v", resp)
	}
}

func TestIndexAndDeleteAreAsync(t *testing.T) {
	meili := &fakeMeili{healthy: true, done: make(chan struct{}, 2)}
	svc := NewService(meili, nil, logging.NewNop())

	svc.IndexRecord(sampleRecords()[0])
	svc.DeleteRecord("john_roe_1")
	for i := 0; i < 2; i++ {
		select {
		case <-meili.done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for index call")
		}
	}
	meili.mu.Lock()
	defer meili.mu.Unlock()
	if len(meili.indexed) != 1 || meili.indexed[0].ID != "jane_doe_1" {
		t.Fatalf("unexpected indexed docs %+v", meili.indexed)
	}
	if len(meili.deleted) != 1 || meili.deleted[0] != "john_roe_1" {
		t.Fatalf("unexpected deletes %+v", meili.deleted)
	}
}

func TestReindexAll(t *testing.T) {
	meili := &fakeMeili{healthy: true}
	svc := NewService(meili, nil, logging.NewNop())
	n, err := svc.ReindexAll(context.Background(), &fakeSource{records: sampleRecords()}, 100)
	if err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if n != 2 || len(meili.indexed) != 2 {
		t.Fatalf("expected 2 docs indexed, got %d / %d", n, len(meili.indexed))
	}

	offline := NewService(&fakeMeili{healthy: false}, nil, logging.NewNop())
	if n, _ := offline.ReindexAll(context.Background(), &fakeSource{records: sampleRecords()}, 100); n != 0 {
		t.Fatalf("expected no reindex when meili is offline, got %d", n)
	}
}
