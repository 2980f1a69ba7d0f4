package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goAudit/store"
)

var testTemplate = store.Template{
	Name:           "audit_log",
	Pattern:        "audit-log-*",
	Version:        1,
	RequiredFields: []string{"id", "event_type"},
}

func doc(id, partition string, ts time.Time, src string) store.Document {
	return store.Document{ID: id, Partition: partition, Timestamp: ts, Source: []byte(src)}
}

func TestPutTemplateIfAbsentIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.PutTemplateIfAbsent(ctx, testTemplate)
	if err != nil || !created {
		t.Fatalf("first put: created=%v err=%v", created, err)
	}
	created, err = s.PutTemplateIfAbsent(ctx, testTemplate)
	if err != nil || created {
		t.Fatalf("second put: created=%v err=%v", created, err)
	}
	if err := s.DeleteTemplate(ctx, testTemplate.Name); err != nil {
		t.Fatalf("delete: %v", err)
	}
	exists, err := s.TemplateExists(ctx, testTemplate.Name)
	if err != nil || exists {
		t.Fatalf("expected template gone, exists=%v err=%v", exists, err)
	}
	if _, err := s.PutTemplateIfAbsent(ctx, store.Template{Name: "x"}); !errors.Is(err, store.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for template without pattern, got %v", err)
	}
}

func TestBulkIsolatesRejectedDocuments(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.PutTemplateIfAbsent(ctx, testTemplate)

	now := time.Now().UTC()
	resp, err := s.Bulk(ctx, []store.Document{
		doc("1", "audit-log-a", now, `{"id":"1","event_type":"access_granted"}`),
		doc("2", "audit-log-a", now, `{"id":"2"}`),
		doc("3", "audit-log-a", now, `{"id":"3","event_type":"access_denied"}`),
	})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	failed := resp.Failed()
	if len(failed) != 1 || failed[0].ID != "2" || !errors.Is(failed[0].Err, store.ErrMalformed) {
		t.Fatalf("unexpected failures %+v", failed)
	}
	if s.Count() != 2 {
		t.Fatalf("expected 2 stored documents, got %d", s.Count())
	}
}

func TestBulkRewriteDoesNotDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	d := doc("1", "audit-log-a", time.Now(), `{"id":"1","event_type":"x"}`)

	for i := 0; i < 3; i++ {
		if _, err := s.Bulk(ctx, []store.Document{d}); err != nil {
			t.Fatalf("bulk %d: %v", i, err)
		}
	}
	if s.Count() != 1 {
		t.Fatalf("expected exactly one document, got %d", s.Count())
	}
}

func TestBulkWithoutTemplateAcceptsAnything(t *testing.T) {
	s := New()
	resp, err := s.Bulk(context.Background(), []store.Document{doc("1", "p", time.Now(), `not json`)})
	if err != nil || len(resp.Failed()) != 0 {
		t.Fatalf("expected dynamic acceptance, resp=%+v err=%v", resp, err)
	}
}

func TestSearchFiltersByTermsAndRange(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	_, _ = s.Bulk(ctx, []store.Document{
		doc("1", "audit-log-2026.10.16", base, `{"principal":"alice"}`),
		doc("2", "audit-log-2026.10.16", base.Add(time.Hour), `{"principal":"bob"}`),
		doc("3", "audit-log-2026.10.17", base.Add(25*time.Hour), `{"principal":"alice"}`),
		doc("4", "other", base, `{"principal":"alice"}`),
	})

	res, err := s.Search(ctx, store.Query{Pattern: "audit-log-*", Terms: map[string]string{"principal": "alice"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 2 || res.Documents[0].ID != "1" || res.Documents[1].ID != "3" {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = s.Search(ctx, store.Query{Partitions: []string{"audit-log-2026.10.16"}, To: base.Add(30 * time.Minute)})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 1 || res.Documents[0].ID != "1" {
		t.Fatalf("unexpected ranged result %+v", res)
	}
}

func TestCanceledContextIsUnavailable(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Bulk(ctx, nil); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
