// Package query reads recorded audit events back from a store.
//
// Writes are asynchronous, so a successful Record does not make an event
// visible immediately. AwaitVisible polls until the expected events show up
// and is the intended way for tests and verification tools to wait for them.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goAudit "github.com/MrEthical07/goAudit"
	"github.com/MrEthical07/goAudit/internal/partition"
	"github.com/MrEthical07/goAudit/store"
)

// DefaultMaxPartitions bounds how many explicit partition names a bounded
// time range may expand to before the adapter falls back to the pattern.
const DefaultMaxPartitions = 64

var (
	// ErrInvalidRange is returned when To is before From.
	ErrInvalidRange = errors.New("query: time range end before start")
	// ErrNotVisible is returned by AwaitVisible when ctx ends first.
	ErrNotVisible = errors.New("query: events not visible")
)

// Filter selects events by exact field match. Empty fields match anything.
type Filter struct {
	Principal     string
	Type          goAudit.EventType
	Action        string
	OriginAddress string
}

// TimeRange is a closed interval. A zero bound is open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Result holds matching events ordered by timestamp. Total counts every match,
// including events cut by the limit.
type Result struct {
	Total  int
	Events []goAudit.Event
}

// Adapter translates filters into store queries over the trail's partitions.
type Adapter struct {
	searcher      store.Searcher
	policy        partition.Policy
	maxPartitions int
}

func New(searcher store.Searcher, cfg goAudit.PartitionConfig) *Adapter {
	return &Adapter{
		searcher:      searcher,
		policy:        partition.Policy{Prefix: cfg.Prefix, Granularity: cfg.Granularity},
		maxPartitions: DefaultMaxPartitions,
	}
}

// WithMaxPartitions overrides DefaultMaxPartitions. Values below 1 always
// search by pattern.
func (a *Adapter) WithMaxPartitions(n int) *Adapter {
	a.maxPartitions = n
	return a
}

// Query returns every event matching f within r.
func (a *Adapter) Query(ctx context.Context, f Filter, r TimeRange) ([]goAudit.Event, error) {
	res, err := a.Search(ctx, f, r, 0)
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

// Search returns at most limit matching events. A limit of 0 means no limit.
func (a *Adapter) Search(ctx context.Context, f Filter, r TimeRange, limit int) (Result, error) {
	q, err := a.build(f, r, limit)
	if err != nil {
		return Result{}, err
	}
	found, err := a.searcher.Search(ctx, q)
	if err != nil {
		return Result{}, err
	}

	res := Result{Total: found.Total, Events: make([]goAudit.Event, 0, len(found.Documents))}
	for _, doc := range found.Documents {
		var ev goAudit.Event
		if err := json.Unmarshal(doc.Source, &ev); err != nil {
			return Result{}, fmt.Errorf("%w: document %s: %v", store.ErrMalformed, doc.ID, err)
		}
		res.Events = append(res.Events, ev)
	}
	return res, nil
}

// AwaitVisible polls every poll interval until at least min events match, then
// returns them. When ctx ends first it returns the last result together with
// ErrNotVisible.
func (a *Adapter) AwaitVisible(ctx context.Context, f Filter, r TimeRange, min int, poll time.Duration) (Result, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var last Result
	for {
		res, err := a.Search(ctx, f, r, 0)
		switch {
		case err == nil && res.Total >= min:
			return res, nil
		case err == nil:
			last = res
		case errors.Is(err, ErrInvalidRange):
			return Result{}, err
		}

		select {
		case <-ctx.Done():
			return last, fmt.Errorf("%w: have %d, want %d: %v", ErrNotVisible, last.Total, min, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (a *Adapter) build(f Filter, r TimeRange, limit int) (store.Query, error) {
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return store.Query{}, ErrInvalidRange
	}

	q := store.Query{
		Pattern: a.policy.Pattern(),
		From:    r.From,
		To:      r.To,
		Limit:   limit,
	}
	if !r.From.IsZero() && !r.To.IsZero() && a.maxPartitions > 0 {
		if names, ok := a.policy.Between(r.From, r.To, a.maxPartitions); ok {
			q.Partitions = names
		}
	}

	terms := make(map[string]string, 4)
	if f.Principal != "" {
		terms["principal"] = f.Principal
	}
	if f.Type != "" {
		terms["event_type"] = string(f.Type)
	}
	if f.Action != "" {
		terms["action"] = f.Action
	}
	if f.OriginAddress != "" {
		terms["origin_address"] = f.OriginAddress
	}
	if len(terms) > 0 {
		q.Terms = terms
	}
	return q, nil
}
