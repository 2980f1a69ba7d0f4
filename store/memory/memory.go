// Package memory is an in-process store.Store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MrEthical07/goAudit/store"
)

// Store keeps templates and partitions in maps guarded by one mutex.
// Documents are keyed by ID within a partition, so rewriting an ID replaces
// the earlier copy.
type Store struct {
	mu         sync.RWMutex
	templates  map[string]store.Template
	partitions map[string]map[string]store.Document
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		templates:  make(map[string]store.Template),
		partitions: make(map[string]map[string]store.Document),
	}
}

// Bulk validates each document against the matching template and writes the
// accepted ones.
func (s *Store) Bulk(ctx context.Context, docs []store.Document) (store.BulkResponse, error) {
	if err := ctx.Err(); err != nil {
		return store.BulkResponse{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	templates := s.templateList()
	resp := store.BulkResponse{Items: make([]store.ItemStatus, len(docs))}
	for i, doc := range docs {
		item := store.ItemStatus{ID: doc.ID, Partition: doc.Partition}
		if tmpl, ok := store.MatchTemplate(templates, doc.Partition); ok {
			item.Err = tmpl.Validate(doc)
		}
		if item.Err == nil {
			part := s.partitions[doc.Partition]
			if part == nil {
				part = make(map[string]store.Document)
				s.partitions[doc.Partition] = part
			}
			doc.Source = append([]byte(nil), doc.Source...)
			part[doc.ID] = doc
		}
		resp.Items[i] = item
	}
	return resp, nil
}

// PutTemplateIfAbsent stores tmpl unless a template with the same name exists.
func (s *Store) PutTemplateIfAbsent(ctx context.Context, tmpl store.Template) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if tmpl.Name == "" || tmpl.Pattern == "" {
		return false, fmt.Errorf("%w: template requires name and pattern", store.ErrMalformed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[tmpl.Name]; ok {
		return false, nil
	}
	s.templates[tmpl.Name] = tmpl
	return true, nil
}

// TemplateExists reports whether a template named name is stored.
func (s *Store) TemplateExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.templates[name]
	return ok, nil
}

// DeleteTemplate removes the named template. Deleting a missing template is
// not an error.
func (s *Store) DeleteTemplate(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.templates, name)
	return nil
}

// Search scans every selected partition.
func (s *Store) Search(ctx context.Context, q store.Query) (store.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return store.SearchResult{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []store.Document
	for name, part := range s.partitions {
		if !q.Selects(name) {
			continue
		}
		for _, doc := range part {
			if q.Accepts(doc) {
				matches = append(matches, doc)
			}
		}
	}
	return store.Collect(matches, q.Limit), nil
}

// Partitions lists partition names in sorted order.
func (s *Store) Partitions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of stored documents across all partitions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, part := range s.partitions {
		n += len(part)
	}
	return n
}

func (s *Store) templateList() []store.Template {
	out := make([]store.Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	return out
}
