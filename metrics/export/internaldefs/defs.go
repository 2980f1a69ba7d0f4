package internaldefs

import (
	goAudit "github.com/MrEthical07/goAudit"
)

// CounterDef names one trail counter for exporters.
type CounterDef struct {
	ID   goAudit.MetricID
	Name string
	Help string
}

// HistogramDef names one trail histogram for exporters.
type HistogramDef struct {
	ID   goAudit.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goAudit.MetricEventsRecorded, Name: "goaudit_events_recorded_total", Help: "Events accepted into the buffer."},
	{ID: goAudit.MetricEventsIndexed, Name: "goaudit_events_indexed_total", Help: "Events acknowledged by the store."},
	{ID: goAudit.MetricEventsDropped, Name: "goaudit_events_dropped_total", Help: "Events lost to overflow, retry exhaustion or shutdown."},
	{ID: goAudit.MetricEventsRejected, Name: "goaudit_events_rejected_total", Help: "Events rejected individually by the store."},
	{ID: goAudit.MetricEventsRequeued, Name: "goaudit_events_requeued_total", Help: "Events returned to the buffer while the template was not ready."},
	{ID: goAudit.MetricRecordRejected, Name: "goaudit_record_rejected_total", Help: "Record calls refused as invalid, full or stopped."},
	{ID: goAudit.MetricFlushCycles, Name: "goaudit_flush_cycles_total", Help: "Flush cycles that drained at least one event."},
	{ID: goAudit.MetricBatchesWritten, Name: "goaudit_batches_written_total", Help: "Bulk writes the store accepted."},
	{ID: goAudit.MetricFlushFailures, Name: "goaudit_flush_failures_total", Help: "Failed bulk write attempts."},
	{ID: goAudit.MetricFlushRetries, Name: "goaudit_flush_retries_total", Help: "Bulk write retries scheduled after a transient failure."},
	{ID: goAudit.MetricBatchesAbandoned, Name: "goaudit_batches_abandoned_total", Help: "Bulk writes given up after exhausting retries."},
	{ID: goAudit.MetricTemplateEnsureCalls, Name: "goaudit_template_ensure_calls_total", Help: "Template creation attempts sent to the store."},
	{ID: goAudit.MetricTemplateCreated, Name: "goaudit_template_created_total", Help: "Template ensure attempts that left the template in place."},
	{ID: goAudit.MetricTemplateFailures, Name: "goaudit_template_failures_total", Help: "Failed template ensure attempts."},
	{ID: goAudit.MetricTemplateVanished, Name: "goaudit_template_vanished_total", Help: "Times the reconciler found the template missing."},
	{ID: goAudit.MetricMirrorDropped, Name: "goaudit_mirror_dropped_total", Help: "Events the mirror sink dropped under backpressure."},
}

var HistogramDefs = []HistogramDef{
	{ID: goAudit.MetricFlushLatency, Name: "goaudit_flush_latency_seconds", Help: "Flush cycle latency histogram."},
}

// BufferedName is the gauge of events waiting in the buffer.
const (
	BufferedName = "goaudit_buffer_events"
	BufferedHelp = "Events waiting to be flushed."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// bucket is +Inf.
var HistogramUpperBounds = func() []float64 {
	out := make([]float64, len(goAudit.HistogramBucketBounds))
	for i, d := range goAudit.HistogramBucketBounds {
		out[i] = d.Seconds()
	}
	return out
}()

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, padding with
// zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
