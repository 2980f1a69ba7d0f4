package goAudit

import (
	"io"
	"time"

	internalaudit "github.com/MrEthical07/goAudit/internal/audit"
	internalmetrics "github.com/MrEthical07/goAudit/internal/metrics"
)

// Event is one security-relevant action. Record fills ID and Timestamp when
// they are empty and takes its own copy of Details.
type Event = internalaudit.Event

// EventType classifies an Event.
type EventType = internalaudit.EventType

const (
	EventAuthenticationSuccess     = internalaudit.TypeAuthenticationSuccess
	EventAuthenticationFailed      = internalaudit.TypeAuthenticationFailed
	EventRealmAuthenticationFailed = internalaudit.TypeRealmAuthenticationFailed
	EventAnonymousAccessDenied     = internalaudit.TypeAnonymousAccessDenied
	EventAccessGranted             = internalaudit.TypeAccessGranted
	EventAccessDenied              = internalaudit.TypeAccessDenied
	EventTamperedRequest           = internalaudit.TypeTamperedRequest
	EventConnectionGranted         = internalaudit.TypeConnectionGranted
	EventConnectionDenied          = internalaudit.TypeConnectionDenied
	EventRunAsGranted              = internalaudit.TypeRunAsGranted
	EventRunAsDenied               = internalaudit.TypeRunAsDenied
	EventSystemAccessGranted       = internalaudit.TypeSystemAccessGranted
	EventConfigChange              = internalaudit.TypeConfigChange
)

// Sink receives mirrored events from the trail's dispatcher.
type Sink = internalaudit.Sink

// NoOpSink discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based Sink.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON document per line to an io.Writer.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies one trail counter or histogram.
type MetricID = internalmetrics.ID

const (
	MetricEventsRecorded      = internalmetrics.EventsRecorded
	MetricEventsIndexed       = internalmetrics.EventsIndexed
	MetricEventsDropped       = internalmetrics.EventsDropped
	MetricEventsRejected      = internalmetrics.EventsRejected
	MetricEventsRequeued      = internalmetrics.EventsRequeued
	MetricRecordRejected      = internalmetrics.RecordRejected
	MetricFlushCycles         = internalmetrics.FlushCycles
	MetricBatchesWritten      = internalmetrics.BatchesWritten
	MetricFlushFailures       = internalmetrics.FlushFailures
	MetricFlushRetries        = internalmetrics.FlushRetries
	MetricBatchesAbandoned    = internalmetrics.BatchesAbandoned
	MetricTemplateEnsureCalls = internalmetrics.TemplateEnsureCalls
	MetricTemplateCreated     = internalmetrics.TemplateCreated
	MetricTemplateFailures    = internalmetrics.TemplateFailures
	MetricTemplateVanished    = internalmetrics.TemplateVanished
	MetricMirrorDropped       = internalmetrics.MirrorDropped
	MetricFlushLatency        = internalmetrics.FlushLatency
)

// MetricIDs lists every metric in declaration order.
func MetricIDs() []MetricID {
	return internalmetrics.IDs()
}

// MetricsSnapshot is a point-in-time copy of all trail metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// HistogramBucketBounds are the upper bounds of the first seven latency
// buckets; the eighth is +Inf.
var HistogramBucketBounds = internalmetrics.BucketBounds

// HealthStatus is the coarse trail state.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// TemplateHealth mirrors the template manager's state.
type TemplateHealth struct {
	State    string    `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	Since    time.Time `json:"since"`
	Attempts int       `json:"attempts,omitempty"`
}

// Health is returned by Trail.Health.
type Health struct {
	Status   HealthStatus   `json:"status"`
	Reason   string         `json:"reason,omitempty"`
	Buffered int            `json:"buffered"`
	Capacity int            `json:"capacity"`
	Template TemplateHealth `json:"template"`
}
