package metrics

import (
	"sync/atomic"
	"time"
)

// ID identifies one trail metric.
type ID uint16

const (
	EventsRecorded ID = iota
	EventsIndexed
	EventsDropped
	EventsRejected
	EventsRequeued
	RecordRejected
	FlushCycles
	BatchesWritten
	FlushFailures
	FlushRetries
	BatchesAbandoned
	TemplateEnsureCalls
	TemplateCreated
	TemplateFailures
	TemplateVanished
	MirrorDropped
	FlushLatency
	idCount
)

var names = [idCount]string{
	EventsRecorded:      "events_recorded",
	EventsIndexed:       "events_indexed",
	EventsDropped:       "events_dropped",
	EventsRejected:      "events_rejected",
	EventsRequeued:      "events_requeued",
	RecordRejected:      "record_rejected",
	FlushCycles:         "flush_cycles",
	BatchesWritten:      "batches_written",
	FlushFailures:       "flush_failures",
	FlushRetries:        "flush_retries",
	BatchesAbandoned:    "batches_abandoned",
	TemplateEnsureCalls: "template_ensure_calls",
	TemplateCreated:     "template_created",
	TemplateFailures:    "template_failures",
	TemplateVanished:    "template_vanished",
	MirrorDropped:       "mirror_dropped",
	FlushLatency:        "flush_latency",
}

// Name returns the stable snake_case name used by exporters.
func (id ID) Name() string {
	if id >= idCount {
		return "unknown"
	}
	return names[id]
}

// IDs lists every metric in declaration order.
func IDs() []ID {
	out := make([]ID, 0, idCount)
	for id := ID(0); id < idCount; id++ {
		out = append(out, id)
	}
	return out
}

const (
	HistogramBuckets = 8
	cacheLineSize    = 64
)

// BucketBounds are the inclusive upper bounds of the first seven histogram
// buckets. The last bucket is +Inf.
var BucketBounds = [HistogramBuckets - 1]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

type histogram struct {
	buckets [HistogramBuckets]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the trail counters. Counters are always on; the latency
// histogram is opt-in.
type Metrics struct {
	enableLatency bool
	counters      [idCount]paddedCounter
	histograms    [idCount]histogram
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Counters   map[ID]uint64
	Histograms map[ID][]uint64
}

// New allocates a metric set.
func New(enableLatency bool) *Metrics {
	return &Metrics{enableLatency: enableLatency}
}

// LatencyEnabled reports whether Observe records anything.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id.
func (m *Metrics) Inc(id ID) {
	m.Add(id, 1)
}

// Add adds n to id. Safe on a nil receiver.
func (m *Metrics) Add(id ID, n uint64) {
	if m == nil || id >= idCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d into the histogram for id.
func (m *Metrics) Observe(id ID, d time.Duration) {
	if m == nil || !m.enableLatency || id != FlushLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current counter value.
func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and the latency histogram when enabled.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{
			Counters:   map[ID]uint64{},
			Histograms: map[ID][]uint64{},
		}
	}

	s := Snapshot{
		Counters:   make(map[ID]uint64, int(idCount)),
		Histograms: make(map[ID][]uint64, 1),
	}
	for id := ID(0); id < idCount; id++ {
		if id == FlushLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, HistogramBuckets)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[FlushLatency].buckets[i])
		}
		s.Histograms[FlushLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range BucketBounds {
		if d <= bound {
			return i
		}
	}
	return HistogramBuckets - 1
}
