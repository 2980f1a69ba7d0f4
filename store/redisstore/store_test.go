package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goAudit/store"
)

var testTemplate = store.Template{
	Name:           "audit_log",
	Pattern:        "audit-log-*",
	Version:        1,
	RequiredFields: []string{"id", "event_type"},
}

func newRedisStoreTest(t *testing.T) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New(rdb, "ga"), mr, rdb
}

func TestPutTemplateIfAbsentCreatesOnce(t *testing.T) {
	s, _, rdb := newRedisStoreTest(t)
	ctx := context.Background()

	created, err := s.PutTemplateIfAbsent(ctx, testTemplate)
	if err != nil || !created {
		t.Fatalf("first put: created=%v err=%v", created, err)
	}
	created, err = s.PutTemplateIfAbsent(ctx, testTemplate)
	if err != nil || created {
		t.Fatalf("second put: created=%v err=%v", created, err)
	}

	version, err := rdb.HGet(ctx, "ga:template:audit_log", "version").Result()
	if err != nil || version != "1" {
		t.Fatalf("unexpected version %q err=%v", version, err)
	}

	if err := s.DeleteTemplate(ctx, testTemplate.Name); err != nil {
		t.Fatalf("delete: %v", err)
	}
	exists, err := s.TemplateExists(ctx, testTemplate.Name)
	if err != nil || exists {
		t.Fatalf("expected template gone, exists=%v err=%v", exists, err)
	}
	members, err := rdb.SMembers(ctx, "ga:templates").Result()
	if err != nil || len(members) != 0 {
		t.Fatalf("expected empty template index, got %v err=%v", members, err)
	}
}

func TestBulkPartialFailureAndSearch(t *testing.T) {
	s, _, _ := newRedisStoreTest(t)
	ctx := context.Background()
	if _, err := s.PutTemplateIfAbsent(ctx, testTemplate); err != nil {
		t.Fatalf("put template: %v", err)
	}

	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	docs := []store.Document{
		{Partition: "audit-log-2026.10.16", ID: "a", Timestamp: base, Source: []byte(`{"id":"a","event_type":"access_granted","principal":"alice"}`)},
		{Partition: "audit-log-2026.10.16", ID: "b", Timestamp: base.Add(time.Second), Source: []byte(`{"id":"b"}`)},
		{Partition: "audit-log-2026.10.16", ID: "c", Timestamp: base.Add(2 * time.Second), Source: []byte(`{"id":"c","event_type":"access_denied","principal":"bob"}`)},
	}
	resp, err := s.Bulk(ctx, docs)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	failed := resp.Failed()
	if len(failed) != 1 || failed[0].ID != "b" || !errors.Is(failed[0].Err, store.ErrMalformed) {
		t.Fatalf("unexpected failures %+v", failed)
	}

	// A retried write must not create a second document.
	if _, err := s.Bulk(ctx, docs[:1]); err != nil {
		t.Fatalf("retry bulk: %v", err)
	}

	res, err := s.Search(ctx, store.Query{Pattern: "audit-log-*"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 2 || res.Documents[0].ID != "a" || res.Documents[1].ID != "c" {
		t.Fatalf("unexpected search result %+v", res)
	}
	if !res.Documents[0].Timestamp.Equal(base) {
		t.Fatalf("expected timestamp %v, got %v", base, res.Documents[0].Timestamp)
	}

	res, err = s.Search(ctx, store.Query{
		Pattern: "audit-log-*",
		From:    base.Add(time.Second),
		Terms:   map[string]string{"principal": "bob"},
	})
	if err != nil {
		t.Fatalf("ranged search: %v", err)
	}
	if res.Total != 1 || res.Documents[0].ID != "c" {
		t.Fatalf("unexpected ranged result %+v", res)
	}
}

func TestBulkCommandErrorIsPerDocument(t *testing.T) {
	s, mr, _ := newRedisStoreTest(t)
	ctx := context.Background()

	// A string key where the partition hash should be makes HSET fail with WRONGTYPE.
	if err := mr.Set("ga:idx:broken", "x"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	resp, err := s.Bulk(ctx, []store.Document{
		{Partition: "broken", ID: "1", Timestamp: time.Now(), Source: []byte(`{}`)},
		{Partition: "fine", ID: "2", Timestamp: time.Now(), Source: []byte(`{}`)},
	})
	if err != nil {
		t.Fatalf("expected partial failure, got whole-batch error %v", err)
	}
	if resp.Items[0].Err == nil || resp.Items[1].Err != nil {
		t.Fatalf("unexpected item statuses %+v", resp.Items)
	}
}

func TestUnreachableRedisIsUnavailable(t *testing.T) {
	s, mr, _ := newRedisStoreTest(t)
	mr.Close()

	ctx := context.Background()
	_, err := s.Bulk(ctx, []store.Document{{Partition: "p", ID: "1", Source: []byte(`{}`)}})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from bulk, got %v", err)
	}
	if _, err := s.PutTemplateIfAbsent(ctx, testTemplate); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from put template, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	if err := classify(errors.New("NOPERM this user has no permissions")); !errors.Is(err, store.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if err := classify(context.DeadlineExceeded); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestTransientServerErrorsAreUnavailable(t *testing.T) {
	replies := []string{
		"LOADING Redis is loading the dataset in memory",
		"READONLY You can't write against a read only replica.",
		"MASTERDOWN Link with MASTER is down",
		"CLUSTERDOWN The cluster is down",
		"TRYAGAIN Multiple keys request during rehashing of slot",
		"BUSY Redis is busy running a script",
		"OOM command not allowed when used memory > 'maxmemory'.",
	}
	for _, reply := range replies {
		t.Run(strings.Fields(reply)[0], func(t *testing.T) {
			s, mr, _ := newRedisStoreTest(t)
			ctx := context.Background()
			mr.SetError(reply)

			if _, err := s.PutTemplateIfAbsent(ctx, testTemplate); !errors.Is(err, store.ErrUnavailable) || errors.Is(err, store.ErrMalformed) {
				t.Fatalf("put template: expected ErrUnavailable, got %v", err)
			}
			_, err := s.Bulk(ctx, []store.Document{{Partition: "p", ID: "1", Timestamp: time.Now(), Source: []byte(`{}`)}})
			if !errors.Is(err, store.ErrUnavailable) || errors.Is(err, store.ErrMalformed) {
				t.Fatalf("bulk: expected ErrUnavailable, got %v", err)
			}

			mr.SetError("")
			if _, err := s.PutTemplateIfAbsent(ctx, testTemplate); err != nil {
				t.Fatalf("put template after recovery: %v", err)
			}
		})
	}
}

func TestClassifyKeepsMalformedForCommandErrors(t *testing.T) {
	s, mr, _ := newRedisStoreTest(t)
	ctx := context.Background()
	if err := mr.Set("ga:ts:p", "x"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := s.Search(ctx, store.Query{Partitions: []string{"p"}})
	if !errors.Is(err, store.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for WRONGTYPE, got %v", err)
	}
}

func TestSearchFromExactSubMillisecondTimestamp(t *testing.T) {
	s, _, _ := newRedisStoreTest(t)
	ctx := context.Background()

	ts := time.Date(2026, 10, 16, 12, 0, 0, 123456789, time.UTC)
	src, err := json.Marshal(map[string]any{
		"id":         "sub-ms",
		"event_type": "access_granted",
		"@timestamp": ts,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := s.Bulk(ctx, []store.Document{{Partition: "audit-log-2026.10.16", ID: "sub-ms", Timestamp: ts, Source: src}}); err != nil {
		t.Fatalf("bulk: %v", err)
	}

	res, err := s.Search(ctx, store.Query{Pattern: "audit-log-*", From: ts})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 1 || !res.Documents[0].Timestamp.Equal(ts) {
		t.Fatalf("expected the event at its own timestamp, got %+v", res)
	}

	res, err = s.Search(ctx, store.Query{Pattern: "audit-log-*", From: ts.Add(time.Nanosecond)})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 0 {
		t.Fatalf("expected nothing after the event, got %+v", res)
	}

	res, err = s.Search(ctx, store.Query{Pattern: "audit-log-*", To: ts.Add(-time.Nanosecond)})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 0 {
		t.Fatalf("expected nothing before the event, got %+v", res)
	}
}
