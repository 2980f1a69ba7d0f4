// Package storetest wraps the memory store with fault injection for tests of
// the flush and template paths.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goAudit/store"
	"github.com/MrEthical07/goAudit/store/memory"
)

// Faulty is a store.Store whose failures are scripted by the test.
type Faulty struct {
	*memory.Store

	mu           sync.Mutex
	failBulk     int
	bulkErr      error
	failTemplate int
	templateErr  error
	reject       func(store.Document) error
	latency      time.Duration
	bulkAttempts []time.Time
	templateGate chan struct{}
	putCalls     atomic.Int64
	bulkCalls    atomic.Int64
	existsCalls  atomic.Int64
}

var _ store.Store = (*Faulty)(nil)

// New returns a healthy fault-injecting store.
func New() *Faulty {
	return &Faulty{Store: memory.New()}
}

// FailBulk makes the next n Bulk calls fail with err. A nil err means
// store.ErrUnavailable.
func (f *Faulty) FailBulk(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = store.ErrUnavailable
	}
	f.failBulk, f.bulkErr = n, err
}

// FailTemplate makes the next n PutTemplateIfAbsent calls fail with err.
func (f *Faulty) FailTemplate(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = store.ErrUnavailable
	}
	f.failTemplate, f.templateErr = n, err
}

// Reject installs a per-document predicate. A non-nil return rejects the
// document with that error.
func (f *Faulty) Reject(fn func(store.Document) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject = fn
}

// SetLatency delays every Bulk call by d or until ctx ends.
func (f *Faulty) SetLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

// HoldTemplates blocks PutTemplateIfAbsent until the returned release func is
// called.
func (f *Faulty) HoldTemplates() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.templateGate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Bulk applies the scripted faults, then delegates.
func (f *Faulty) Bulk(ctx context.Context, docs []store.Document) (store.BulkResponse, error) {
	f.bulkCalls.Add(1)
	f.mu.Lock()
	f.bulkAttempts = append(f.bulkAttempts, time.Now())
	latency := f.latency
	var failErr error
	if f.failBulk > 0 {
		f.failBulk--
		failErr = f.bulkErr
	}
	reject := f.reject
	f.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return store.BulkResponse{}, fmt.Errorf("%w: %v", store.ErrUnavailable, ctx.Err())
		}
	}
	if failErr != nil {
		return store.BulkResponse{}, fmt.Errorf("%w: injected", failErr)
	}

	if reject == nil {
		return f.Store.Bulk(ctx, docs)
	}

	resp := store.BulkResponse{Items: make([]store.ItemStatus, len(docs))}
	accepted := make([]store.Document, 0, len(docs))
	slots := make([]int, 0, len(docs))
	for i, doc := range docs {
		resp.Items[i] = store.ItemStatus{ID: doc.ID, Partition: doc.Partition}
		if err := reject(doc); err != nil {
			resp.Items[i].Err = err
			continue
		}
		accepted = append(accepted, doc)
		slots = append(slots, i)
	}
	inner, err := f.Store.Bulk(ctx, accepted)
	if err != nil {
		return store.BulkResponse{}, err
	}
	for j, item := range inner.Items {
		resp.Items[slots[j]] = item
	}
	return resp, nil
}

// PutTemplateIfAbsent applies scripted template faults, then delegates.
func (f *Faulty) PutTemplateIfAbsent(ctx context.Context, tmpl store.Template) (bool, error) {
	f.putCalls.Add(1)
	f.mu.Lock()
	gate := f.templateGate
	var failErr error
	if f.failTemplate > 0 {
		f.failTemplate--
		failErr = f.templateErr
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return false, fmt.Errorf("%w: %v", store.ErrUnavailable, ctx.Err())
		}
	}
	if failErr != nil {
		return false, fmt.Errorf("%w: injected", failErr)
	}
	return f.Store.PutTemplateIfAbsent(ctx, tmpl)
}

// TemplateExists counts calls, then delegates.
func (f *Faulty) TemplateExists(ctx context.Context, name string) (bool, error) {
	f.existsCalls.Add(1)
	return f.Store.TemplateExists(ctx, name)
}

// PutCalls returns the number of PutTemplateIfAbsent calls.
func (f *Faulty) PutCalls() int64 { return f.putCalls.Load() }

// BulkCalls returns the number of Bulk calls, failed ones included.
func (f *Faulty) BulkCalls() int64 { return f.bulkCalls.Load() }

// ExistsCalls returns the number of TemplateExists calls.
func (f *Faulty) ExistsCalls() int64 { return f.existsCalls.Load() }

// BulkAttempts returns the start time of every Bulk call.
func (f *Faulty) BulkAttempts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.bulkAttempts...)
}
