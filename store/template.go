package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"
)

// Template describes the schema and settings applied to every partition whose
// name matches Pattern.
type Template struct {
	Name             string   `json:"name"`
	Pattern          string   `json:"pattern"`
	Version          int      `json:"version"`
	RequiredFields   []string `json:"required_fields,omitempty"`
	MaxDocumentBytes int      `json:"max_document_bytes,omitempty"`
}

// Matches reports whether partition falls under the template pattern.
func (t Template) Matches(partition string) bool {
	return PatternMatches(t.Pattern, partition)
}

// Validate checks doc against the template. The returned error wraps
// ErrMalformed.
func (t Template) Validate(doc Document) error {
	if t.MaxDocumentBytes > 0 && len(doc.Source) > t.MaxDocumentBytes {
		return fmt.Errorf("%w: document %s is %d bytes, limit %d", ErrMalformed, doc.ID, len(doc.Source), t.MaxDocumentBytes)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc.Source, &fields); err != nil {
		return fmt.Errorf("%w: document %s: %v", ErrMalformed, doc.ID, err)
	}
	if fields == nil {
		return fmt.Errorf("%w: document %s is not an object", ErrMalformed, doc.ID)
	}
	for _, name := range t.RequiredFields {
		raw, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return fmt.Errorf("%w: document %s missing field %q", ErrMalformed, doc.ID, name)
		}
	}
	return nil
}

// PatternMatches applies a shell glob such as "audit-log-*" to a partition
// name. An empty pattern matches everything.
func PatternMatches(pattern, partition string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, partition)
	return err == nil && ok
}

// MatchTemplate returns the highest-version template matching partition.
func MatchTemplate(templates []Template, partition string) (Template, bool) {
	var (
		best  Template
		found bool
	)
	for _, t := range templates {
		if !t.Matches(partition) {
			continue
		}
		if !found || t.Version > best.Version {
			best, found = t, true
		}
	}
	return best, found
}

// Selects reports whether q includes partition.
func (q Query) Selects(partition string) bool {
	if len(q.Partitions) > 0 {
		for _, p := range q.Partitions {
			if p == partition {
				return true
			}
		}
		return false
	}
	return PatternMatches(q.Pattern, partition)
}

// Accepts reports whether doc satisfies the time range and term filters.
func (q Query) Accepts(doc Document) bool {
	if !q.From.IsZero() && doc.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && doc.Timestamp.After(q.To) {
		return false
	}
	if len(q.Terms) == 0 {
		return true
	}
	var fields map[string]any
	if err := json.Unmarshal(doc.Source, &fields); err != nil {
		return false
	}
	for k, want := range q.Terms {
		got, ok := fields[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Collect orders matches by timestamp, then ID, and applies Limit.
func Collect(matches []Document, limit int) SearchResult {
	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].Timestamp.Equal(matches[j].Timestamp) {
			return matches[i].Timestamp.Before(matches[j].Timestamp)
		}
		return matches[i].ID < matches[j].ID
	})
	res := SearchResult{Total: len(matches), Documents: matches}
	if limit > 0 && len(matches) > limit {
		res.Documents = matches[:limit]
	}
	return res
}

// TimestampMillis is the sort key used by backends that index by time.
func TimestampMillis(ts time.Time) int64 {
	return ts.UTC().UnixMilli()
}
