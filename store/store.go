package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable reports a transient whole-store failure. Callers retry.
	ErrUnavailable = errors.New("store unavailable")
	// ErrPermissionDenied reports that the store refused the operation.
	ErrPermissionDenied = errors.New("store permission denied")
	// ErrMalformed reports a document or template the store cannot accept.
	ErrMalformed = errors.New("malformed document")
)

// Document is one encoded audit event addressed to a partition.
type Document struct {
	Partition string
	ID        string
	Timestamp time.Time
	Source    []byte
}

// ItemStatus is the per-document outcome of a bulk write. Err is nil when the
// document was accepted.
type ItemStatus struct {
	ID        string
	Partition string
	Err       error
}

// BulkResponse lists one ItemStatus per submitted document, in order.
type BulkResponse struct {
	Items []ItemStatus
}

// Failed returns the rejected items.
func (r BulkResponse) Failed() []ItemStatus {
	var out []ItemStatus
	for _, item := range r.Items {
		if item.Err != nil {
			out = append(out, item)
		}
	}
	return out
}

// Query selects documents for verification reads.
//
// Partitions, when non-empty, restricts the search to those names. Otherwise
// every partition matching Pattern is searched. Terms are exact matches on
// top-level string fields of the document source.
type Query struct {
	Partitions []string
	Pattern    string
	Terms      map[string]string
	From       time.Time
	To         time.Time
	Limit      int
}

// SearchResult holds matching documents ordered by timestamp. Total counts
// every match, including those cut by Limit.
type SearchResult struct {
	Total     int
	Documents []Document
}

// Writer persists batches of documents.
//
// A nil error with per-item failures is a partial failure. A non-nil error
// means no document in the batch may be assumed written.
type Writer interface {
	Bulk(ctx context.Context, docs []Document) (BulkResponse, error)
}

// Templates manages the schema applied to new partitions.
type Templates interface {
	PutTemplateIfAbsent(ctx context.Context, tmpl Template) (created bool, err error)
	TemplateExists(ctx context.Context, name string) (bool, error)
	DeleteTemplate(ctx context.Context, name string) error
}

// Searcher answers verification queries.
type Searcher interface {
	Search(ctx context.Context, q Query) (SearchResult, error)
}

// Store is the full backend contract consumed by the trail.
type Store interface {
	Writer
	Templates
	Searcher
}
