package goAudit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MrEthical07/goAudit/internal/audit"
	"github.com/MrEthical07/goAudit/internal/buffer"
	"github.com/MrEthical07/goAudit/internal/flush"
	"github.com/MrEthical07/goAudit/internal/metrics"
	"github.com/MrEthical07/goAudit/internal/template"
	"github.com/MrEthical07/goAudit/store"
)

type lifecycle int

const (
	stateCreated lifecycle = iota
	stateRunning
	stateStopped
)

// Trail accepts audit events from request-handling code and persists them
// asynchronously. All methods are safe for concurrent use.
type Trail struct {
	config    Config
	store     store.Store
	logger    *zap.Logger
	metrics   *metrics.Metrics
	buf       *buffer.Buffer
	templates *template.Manager
	flusher   *flush.Flusher
	mirror    *audit.Dispatcher

	dropLog      *rate.Limiter
	pendingDrops atomic.Uint64

	// life guards state transitions. Record holds it shared so Stop cannot
	// complete its final accounting while an Offer is in progress.
	life          sync.RWMutex
	state         lifecycle
	stopCh        chan struct{}
	reconcileStop context.CancelFunc
	ioCtx         context.Context
	ioCancel      context.CancelFunc
	workers       sync.WaitGroup
}

// Start launches the flush workers and the template reconciler and begins
// creating the template. Start is a no-op on a running trail. The workers
// outlive ctx; use Stop to end them.
func (t *Trail) Start(ctx context.Context) error {
	t.life.Lock()
	defer t.life.Unlock()

	switch t.state {
	case stateRunning:
		return nil
	case stateStopped:
		return ErrTrailStopped
	}

	base := context.WithoutCancel(ctx)
	reconcileCtx, reconcileStop := context.WithCancel(base)
	t.ioCtx, t.ioCancel = context.WithCancel(base)
	t.reconcileStop = reconcileStop
	t.stopCh = make(chan struct{})

	t.workers.Add(2)
	go func() {
		defer t.workers.Done()
		if err := t.templates.EnsureReady(reconcileCtx); err != nil && reconcileCtx.Err() == nil {
			t.logger.Warn("audit template not ready at start", zap.Error(err))
		}
	}()
	go func() {
		defer t.workers.Done()
		t.templates.Run(reconcileCtx)
	}()

	for i := 0; i < t.config.Flush.Workers; i++ {
		t.workers.Add(1)
		go func() {
			defer t.workers.Done()
			t.flusher.Run(t.ioCtx, t.stopCh)
		}()
	}

	t.state = stateRunning
	t.logger.Info("audit trail started",
		zap.Int("workers", t.config.Flush.Workers),
		zap.Int("capacity", t.buf.Cap()),
		zap.String("partition_pattern", t.config.Partition.Pattern()),
		zap.Stringer("overflow_policy", t.config.Buffer.OverflowPolicy),
	)
	return nil
}

// Record validates ev and queues it for persistence. It never performs I/O
// and returns only ErrInvalidEvent, ErrBufferFull or ErrTrailStopped. Events
// recorded before Start are buffered and written once the trail starts.
func (t *Trail) Record(ev Event) error {
	return t.record(context.Background(), ev)
}

// RecordContext builds an event from the principal, origin address and layer
// attached to ctx, then records it.
func (t *Trail) RecordContext(ctx context.Context, typ EventType, action string, details map[string]any) error {
	return t.record(ctx, Event{
		Type:          typ,
		Action:        action,
		Principal:     principalFromContext(ctx),
		OriginAddress: originFromContext(ctx),
		Layer:         layerFromContext(ctx),
		Details:       details,
	})
}

func (t *Trail) record(ctx context.Context, ev Event) error {
	if ev.Type == "" {
		t.metrics.Inc(metrics.RecordRejected)
		return fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	}

	ev = ev.Clone()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	} else {
		ev.Timestamp = ev.Timestamp.UTC()
	}
	if ev.Node == "" {
		ev.Node = t.config.NodeName
	}

	t.life.RLock()
	if t.state == stateStopped {
		t.life.RUnlock()
		return ErrTrailStopped
	}
	evicted, err := t.buf.Offer(ev)
	t.life.RUnlock()

	if err != nil {
		t.metrics.Inc(metrics.RecordRejected)
		return err
	}
	t.metrics.Inc(metrics.EventsRecorded)
	if evicted > 0 {
		t.metrics.Add(metrics.EventsDropped, uint64(evicted))
		t.logDrop(uint64(evicted))
	}
	t.emitMirror(ctx, ev)
	return nil
}

func (t *Trail) logDrop(n uint64) {
	t.pendingDrops.Add(n)
	if !t.dropLog.Allow() {
		return
	}
	t.logger.Warn("audit buffer overflow, oldest events dropped",
		zap.Uint64("dropped", t.pendingDrops.Swap(0)),
		zap.Uint64("dropped_total", t.metrics.Value(metrics.EventsDropped)),
		zap.Int("capacity", t.buf.Cap()),
	)
}

func (t *Trail) emitMirror(ctx context.Context, ev Event) {
	if t.mirror == nil {
		return
	}
	emitCtx := context.WithoutCancel(ctx)
	if !t.config.Mirror.DropIfFull {
		var cancel context.CancelFunc
		emitCtx, cancel = context.WithTimeout(emitCtx, t.config.Buffer.EnqueueTimeout)
		defer cancel()
	}
	if !t.mirror.Emit(emitCtx, ev) {
		t.metrics.Inc(metrics.MirrorDropped)
	}
}

// Flush writes everything currently buffered, blocking until the buffer is
// empty or ctx ends.
func (t *Trail) Flush(ctx context.Context) error {
	t.life.RLock()
	stopped := t.state == stateStopped
	t.life.RUnlock()
	if stopped {
		return ErrTrailStopped
	}
	return t.flusher.Drain(ctx)
}

// Stop stops accepting events, lets the workers finish their current cycle,
// and drains what is left. Writes still in flight when timeout elapses are
// abandoned; remaining events are discarded, counted as dropped, and reported
// through ErrShutdownTimeout. Stop is idempotent.
func (t *Trail) Stop(timeout time.Duration) error {
	t.life.Lock()
	if t.state == stateStopped {
		t.life.Unlock()
		return nil
	}
	wasRunning := t.state == stateRunning
	t.state = stateStopped
	if wasRunning {
		close(t.stopCh)
		t.reconcileStop()
	} else {
		t.ioCtx, t.ioCancel = context.WithCancel(context.Background())
	}
	t.life.Unlock()

	before := t.metrics.Value(metrics.EventsDropped)
	var timedOut atomic.Bool
	abandon := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		t.ioCancel()
	})
	defer abandon.Stop()

	t.workers.Wait()
	drainErr := t.flusher.Drain(t.ioCtx)
	t.ioCancel()

	if left := len(t.buf.Drain(t.buf.Cap())); left > 0 {
		t.metrics.Add(metrics.EventsDropped, uint64(left))
	}
	t.mirror.Close()

	discarded := t.metrics.Value(metrics.EventsDropped) - before
	if timedOut.Load() && discarded > 0 {
		t.logger.Error("audit trail stopped with unflushed events",
			zap.Uint64("dropped", discarded),
			zap.Duration("timeout", timeout),
			zap.Error(drainErr),
		)
		return fmt.Errorf("%w: %d events discarded", ErrShutdownTimeout, discarded)
	}
	t.logger.Info("audit trail stopped",
		zap.Uint64("indexed", t.metrics.Value(metrics.EventsIndexed)),
		zap.Uint64("dropped", t.metrics.Value(metrics.EventsDropped)),
	)
	return nil
}

// Health summarizes the trail for readiness checks.
//
// DOWN: not started, stopped, or the template failed for a reason that needs
// operator action. DEGRADED: the template failed transiently or the last
// bulk write was abandoned. HEALTHY otherwise.
func (t *Trail) Health() Health {
	st := t.templates.Status()
	h := Health{
		Status:   HealthHealthy,
		Buffered: t.buf.Len(),
		Capacity: t.buf.Cap(),
		Template: TemplateHealth{
			State:    st.State.String(),
			Since:    st.Since,
			Attempts: st.Attempts,
		},
	}
	if st.Err != nil {
		h.Template.Reason = st.Err.Reason.String()
	}

	t.life.RLock()
	state := t.state
	t.life.RUnlock()

	switch {
	case state == stateCreated:
		h.Status, h.Reason = HealthDown, "not started"
	case state == stateStopped:
		h.Status, h.Reason = HealthDown, "stopped"
	case st.State == template.Failed && !st.Err.Retryable():
		h.Status, h.Reason = HealthDown, "template: "+st.Err.Error()
	case st.State == template.Failed:
		h.Status, h.Reason = HealthDegraded, "template: "+st.Err.Error()
	default:
		if degraded, reason := t.flusher.Degraded(); degraded {
			h.Status, h.Reason = HealthDegraded, "flush: "+reason
		}
	}
	return h
}

// MetricsSnapshot copies the current counters.
func (t *Trail) MetricsSnapshot() MetricsSnapshot {
	return t.metrics.Snapshot()
}

// EventsDropped returns the total number of events lost to overflow, retry
// exhaustion or shutdown.
func (t *Trail) EventsDropped() uint64 {
	return t.metrics.Value(metrics.EventsDropped)
}

// Buffered returns the number of events waiting to be flushed.
func (t *Trail) Buffered() int {
	return t.buf.Len()
}

// Config returns a copy of the trail configuration.
func (t *Trail) Config() Config {
	return cloneConfig(t.config)
}
