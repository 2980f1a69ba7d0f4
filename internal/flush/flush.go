// Package flush moves buffered events into the store in batches.
//
// A cycle drains one batch, groups it by partition, gates every group on the
// template manager, encodes the events and writes each group with a single
// bulk call. Whole-batch store failures are retried with exponential backoff;
// per-document rejections are final.
package flush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/MrEthical07/goAudit/internal/audit"
	"github.com/MrEthical07/goAudit/internal/buffer"
	"github.com/MrEthical07/goAudit/internal/metrics"
	"github.com/MrEthical07/goAudit/internal/partition"
	"github.com/MrEthical07/goAudit/internal/template"
	"github.com/MrEthical07/goAudit/store"
)

// errMissingStatus marks documents the store returned no status for.
var errMissingStatus = errors.New("missing item status")

// Gate blocks writes until the partition template is in place.
type Gate interface {
	EnsureReady(ctx context.Context) error
}

// Config controls batching and retry.
type Config struct {
	Interval     time.Duration
	MaxBatchSize int
	WriteTimeout time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	MaxRetries   int
	Jitter       float64
}

// Failure is a terminal per-event outcome.
type Failure struct {
	Event audit.Event
	Err   error
}

// Result summarizes one flush cycle.
type Result struct {
	Attempted int
	Succeeded int
	Failures  []Failure
	Requeued  int
	Dropped   int
}

// Flusher drains a buffer into a store.Writer.
type Flusher struct {
	buf     *buffer.Buffer
	writer  store.Writer
	gate    Gate
	policy  partition.Policy
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	degraded bool
	reason   string
}

// New wires a flusher. A nil logger is replaced by a no-op logger.
func New(buf *buffer.Buffer, writer store.Writer, gate Gate, policy partition.Policy, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Flusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1000
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	return &Flusher{
		buf:     buf,
		writer:  writer,
		gate:    gate,
		policy:  policy,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Run flushes on every interval tick and whenever the buffer reaches its
// high-water mark, until stop is closed or ctx ends. After a cycle that
// requeued everything it drained, Run ignores the high-water signal until the
// next tick.
func (f *Flusher) Run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	stalled := false
	for {
		ready := f.buf.Ready()
		if stalled {
			ready = nil
		}
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-ready:
		}
		stalled = false

		for {
			res := f.FlushOnce(ctx)
			if res.Attempted > 0 && res.Requeued == res.Attempted {
				stalled = true
				break
			}
			if res.Attempted == 0 || !f.buf.AboveHighWater() {
				break
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	}
}

type group struct {
	partition string
	events    []audit.Event
}

func (f *Flusher) group(events []audit.Event) []group {
	index := make(map[string]int)
	var groups []group
	for _, ev := range events {
		name := f.policy.For(ev.Timestamp)
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, group{partition: name})
		}
		groups[i].events = append(groups[i].events, ev)
	}
	return groups
}

// FlushOnce runs one cycle over at most MaxBatchSize events.
func (f *Flusher) FlushOnce(ctx context.Context) Result {
	events := f.buf.Drain(f.cfg.MaxBatchSize)
	res := Result{Attempted: len(events)}
	if len(events) == 0 {
		return res
	}

	f.metrics.Inc(metrics.FlushCycles)
	start := time.Now()
	defer func() { f.metrics.Observe(metrics.FlushLatency, time.Since(start)) }()

	for _, g := range f.group(events) {
		if err := f.gate.EnsureReady(ctx); err != nil {
			f.holdBack(g, err, &res)
			continue
		}
		f.writeGroup(ctx, g, &res)
	}
	return res
}

func (f *Flusher) holdBack(g group, err error, res *Result) {
	if !template.IsRetryable(err) {
		res.Dropped += len(g.events)
		f.metrics.Add(metrics.EventsDropped, uint64(len(g.events)))
		f.logger.Error("audit template unavailable, dropping batch",
			zap.String("partition", g.partition),
			zap.Int("dropped", len(g.events)),
			zap.Error(err),
		)
		return
	}

	evicted := f.buf.Requeue(g.events)
	requeued := len(g.events) - evicted
	res.Requeued += requeued
	res.Dropped += evicted
	f.metrics.Add(metrics.EventsRequeued, uint64(requeued))
	f.metrics.Add(metrics.EventsDropped, uint64(evicted))
	f.logger.Debug("audit template not ready, requeued batch",
		zap.String("partition", g.partition),
		zap.Int("requeued", requeued),
		zap.Int("dropped", evicted),
		zap.Error(err),
	)
}

func (f *Flusher) writeGroup(ctx context.Context, g group, res *Result) {
	docs := make([]store.Document, 0, len(g.events))
	sent := make([]audit.Event, 0, len(g.events))
	for _, ev := range g.events {
		src, err := json.Marshal(ev)
		if err != nil {
			f.reject(g.partition, ev, fmt.Errorf("%w: %v", store.ErrMalformed, err), res)
			continue
		}
		docs = append(docs, store.Document{
			Partition: g.partition,
			ID:        ev.ID,
			Timestamp: ev.Timestamp,
			Source:    src,
		})
		sent = append(sent, ev)
	}
	if len(docs) == 0 {
		return
	}

	resp, err := f.write(ctx, g.partition, docs)
	if err != nil {
		res.Dropped += len(docs)
		f.metrics.Add(metrics.EventsDropped, uint64(len(docs)))
		f.metrics.Inc(metrics.BatchesAbandoned)
		f.setDegraded(err.Error())
		f.logger.Error("audit batch abandoned",
			zap.String("partition", g.partition),
			zap.Int("dropped", len(docs)),
			zap.Error(err),
		)
		return
	}

	f.metrics.Inc(metrics.BatchesWritten)
	f.clearDegraded()
	for i, ev := range sent {
		if i >= len(resp.Items) {
			f.reject(g.partition, ev, errMissingStatus, res)
			continue
		}
		if err := resp.Items[i].Err; err != nil {
			f.reject(g.partition, ev, err, res)
			continue
		}
		res.Succeeded++
		f.metrics.Inc(metrics.EventsIndexed)
	}
}

func (f *Flusher) reject(partitionName string, ev audit.Event, err error, res *Result) {
	res.Failures = append(res.Failures, Failure{Event: ev, Err: err})
	f.metrics.Inc(metrics.EventsRejected)
	f.logger.Warn("audit event rejected",
		zap.String("partition", partitionName),
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("reason", err.Error()),
	)
}

func (f *Flusher) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.cfg.BackoffBase
	exp.MaxInterval = f.cfg.BackoffMax
	exp.Multiplier = 2
	exp.RandomizationFactor = f.cfg.Jitter
	exp.MaxElapsedTime = 0

	retries := f.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// write issues one bulk call per attempt, each bounded by WriteTimeout.
// Only store.ErrUnavailable is retried.
func (f *Flusher) write(ctx context.Context, partitionName string, docs []store.Document) (store.BulkResponse, error) {
	attempt := 0
	op := func() (store.BulkResponse, error) {
		attempt++
		wctx, cancel := context.WithTimeout(ctx, f.cfg.WriteTimeout)
		defer cancel()

		resp, err := f.writer.Bulk(wctx, docs)
		if err == nil {
			return resp, nil
		}
		f.metrics.Inc(metrics.FlushFailures)
		if !errors.Is(err, store.ErrUnavailable) {
			return resp, backoff.Permanent(err)
		}
		return resp, err
	}
	notify := func(err error, delay time.Duration) {
		f.metrics.Inc(metrics.FlushRetries)
		f.logger.Warn("audit bulk write failed, retrying",
			zap.String("partition", partitionName),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
	return backoff.RetryNotifyWithData(op, f.newBackOff(ctx), notify)
}

// Drain flushes until the buffer is empty or ctx ends. Cycles that make no
// progress pause for one backoff base before trying again.
func (f *Flusher) Drain(ctx context.Context) error {
	for f.buf.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := f.FlushOnce(ctx)
		if res.Attempted > 0 && res.Requeued < res.Attempted {
			continue
		}
		timer := time.NewTimer(f.cfg.BackoffBase)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Degraded reports whether the last bulk write was abandoned, and why.
func (f *Flusher) Degraded() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded, f.reason
}

func (f *Flusher) setDegraded(reason string) {
	f.mu.Lock()
	f.degraded = true
	f.reason = reason
	f.mu.Unlock()
}

func (f *Flusher) clearDegraded() {
	f.mu.Lock()
	f.degraded = false
	f.reason = ""
	f.mu.Unlock()
}
