package goAudit

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/goAudit/internal/buffer"
	"github.com/MrEthical07/goAudit/internal/partition"
)

// Config holds every tunable of a Trail. Build clones it, so later changes to
// the caller's copy have no effect.
type Config struct {
	Buffer    BufferConfig
	Flush     FlushConfig
	Retry     RetryConfig
	Template  TemplateConfig
	Partition PartitionConfig
	Mirror    MirrorConfig
	Metrics   MetricsConfig

	// NodeName is stamped on events recorded without one.
	NodeName string
}

/*
====================================
BUFFER CONFIG
====================================
*/

// OverflowPolicy selects what Record does when the buffer is full.
type OverflowPolicy = buffer.OverflowPolicy

const (
	// DropOldest evicts the oldest buffered event. Record never fails.
	DropOldest = buffer.DropOldest
	// RejectNew makes Record return ErrBufferFull after EnqueueTimeout.
	RejectNew = buffer.RejectNew
)

// BufferConfig sizes the in-memory event buffer.
type BufferConfig struct {
	Capacity       int
	OverflowPolicy OverflowPolicy
	// EnqueueTimeout bounds how long Record waits for space under RejectNew.
	EnqueueTimeout time.Duration
	// HighWaterMark triggers an eager flush once that many events are buffered.
	HighWaterMark int
	// DropLogInterval rate-limits overflow warnings. Zero logs every overflow.
	DropLogInterval time.Duration
}

/*
====================================
FLUSH CONFIG
====================================
*/

// FlushConfig controls batching.
type FlushConfig struct {
	Interval     time.Duration
	MaxBatchSize int
	Workers      int
	WriteTimeout time.Duration
}

// RetryConfig controls the exponential backoff shared by bulk writes and
// template creation.
type RetryConfig struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxRetries  int
	Jitter      float64
}

/*
====================================
TEMPLATE CONFIG
====================================
*/

// TemplateConfig describes the partition template kept in the store.
type TemplateConfig struct {
	Name              string
	Version           int
	ReconcileInterval time.Duration
	EnsureTimeout     time.Duration
	RequiredFields    []string
	MaxDocumentBytes  int
}

// Granularity is the width of one time partition.
type Granularity = partition.Granularity

const (
	Hourly  = partition.Hourly
	Daily   = partition.Daily
	Weekly  = partition.Weekly
	Monthly = partition.Monthly
)

// ParseGranularity accepts "hourly", "daily", "weekly" or "monthly".
func ParseGranularity(s string) (Granularity, error) {
	return partition.ParseGranularity(s)
}

// PartitionConfig names time partitions as Prefix plus the timestamp bucket.
type PartitionConfig struct {
	Prefix      string
	Granularity Granularity
}

// Pattern matches every partition this config produces.
func (p PartitionConfig) Pattern() string {
	return p.policy().Pattern()
}

// PartitionFor returns the partition an event stamped ts is written to.
func (p PartitionConfig) PartitionFor(ts time.Time) string {
	return p.policy().For(ts)
}

func (p PartitionConfig) policy() partition.Policy {
	return partition.Policy{Prefix: p.Prefix, Granularity: p.Granularity}
}

/*
====================================
MIRROR / METRICS CONFIG
====================================
*/

// MirrorConfig enables a secondary sink fed asynchronously with every
// recorded event.
type MirrorConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles optional metric families. Counters are always on.
type MetricsConfig struct {
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Buffer: BufferConfig{
			Capacity:        10000,
			OverflowPolicy:  DropOldest,
			EnqueueTimeout:  10 * time.Millisecond,
			HighWaterMark:   1000,
			DropLogInterval: 10 * time.Second,
		},
		Flush: FlushConfig{
			Interval:     time.Second,
			MaxBatchSize: 1000,
			Workers:      1,
			WriteTimeout: 30 * time.Second,
		},
		Retry: RetryConfig{
			BackoffBase: time.Second,
			BackoffMax:  30 * time.Second,
			MaxRetries:  5,
			Jitter:      0.2,
		},
		Template: TemplateConfig{
			Name:              "audit_log",
			Version:           1,
			ReconcileInterval: 30 * time.Second,
			EnsureTimeout:     10 * time.Second,
			RequiredFields:    []string{"id", "event_type", "@timestamp"},
			MaxDocumentBytes:  1 << 20,
		},
		Partition: PartitionConfig{
			Prefix:      partition.DefaultPrefix,
			Granularity: Daily,
		},
		Mirror: MirrorConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return defaultConfig()
}

// HighThroughputConfig favors large batches and a deep buffer.
func HighThroughputConfig() Config {
	cfg := defaultConfig()
	cfg.Buffer.Capacity = 100000
	cfg.Buffer.HighWaterMark = 5000
	cfg.Flush.MaxBatchSize = 5000
	cfg.Flush.Interval = 2 * time.Second
	cfg.Flush.Workers = 4
	return cfg
}

// LowLatencyConfig makes events visible sooner at the cost of smaller batches.
func LowLatencyConfig() Config {
	cfg := defaultConfig()
	cfg.Buffer.Capacity = 5000
	cfg.Buffer.HighWaterMark = 100
	cfg.Flush.MaxBatchSize = 100
	cfg.Flush.Interval = 100 * time.Millisecond
	cfg.Retry.BackoffBase = 200 * time.Millisecond
	cfg.Retry.BackoffMax = 5 * time.Second
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Template.RequiredFields = slices.Clone(cfg.Template.RequiredFields)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Buffer
	if c.Buffer.Capacity < 1 {
		return errors.New("Buffer Capacity must be >= 1")
	}
	if c.Buffer.OverflowPolicy != DropOldest && c.Buffer.OverflowPolicy != RejectNew {
		return errors.New("Buffer OverflowPolicy is invalid")
	}
	if c.Buffer.EnqueueTimeout < 0 {
		return errors.New("Buffer EnqueueTimeout must be >= 0")
	}
	if c.Buffer.EnqueueTimeout > time.Second {
		return errors.New("Buffer EnqueueTimeout must be <= 1s")
	}
	if c.Buffer.HighWaterMark < 1 || c.Buffer.HighWaterMark > c.Buffer.Capacity {
		return errors.New("Buffer HighWaterMark must be between 1 and Capacity")
	}
	if c.Buffer.DropLogInterval < 0 {
		return errors.New("Buffer DropLogInterval must be >= 0")
	}

	// Flush
	if c.Flush.Interval <= 0 {
		return errors.New("Flush Interval must be > 0")
	}
	if c.Flush.MaxBatchSize < 1 {
		return errors.New("Flush MaxBatchSize must be >= 1")
	}
	if c.Flush.Workers < 1 || c.Flush.Workers > 32 {
		return errors.New("Flush Workers must be between 1 and 32")
	}
	if c.Flush.WriteTimeout <= 0 {
		return errors.New("Flush WriteTimeout must be > 0")
	}

	// Retry
	if c.Retry.BackoffBase <= 0 {
		return errors.New("Retry BackoffBase must be > 0")
	}
	if c.Retry.BackoffMax < c.Retry.BackoffBase {
		return errors.New("Retry BackoffMax must be >= BackoffBase")
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("Retry MaxRetries must be >= 0")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return errors.New("Retry Jitter must be between 0 and 1")
	}

	// Template
	if strings.TrimSpace(c.Template.Name) == "" {
		return errors.New("Template Name must be set")
	}
	if c.Template.Version < 0 {
		return errors.New("Template Version must be >= 0")
	}
	if c.Template.ReconcileInterval <= 0 {
		return errors.New("Template ReconcileInterval must be > 0")
	}
	if c.Template.EnsureTimeout <= 0 {
		return errors.New("Template EnsureTimeout must be > 0")
	}
	if c.Template.MaxDocumentBytes < 0 {
		return errors.New("Template MaxDocumentBytes must be >= 0")
	}

	// Partition
	if strings.TrimSpace(c.Partition.Prefix) == "" {
		return errors.New("Partition Prefix must be set")
	}
	if strings.ContainsAny(c.Partition.Prefix, "*?[]\\/") {
		return errors.New("Partition Prefix must not contain pattern or path characters")
	}
	if !c.Partition.Granularity.Valid() {
		return errors.New("Partition Granularity is invalid")
	}

	// Mirror
	if c.Mirror.Enabled && c.Mirror.BufferSize < 1 {
		return errors.New("Mirror BufferSize must be >= 1 when enabled")
	}

	return nil
}
