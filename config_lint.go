package goAudit

import "fmt"

// LintWarning flags a valid but risky setting.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of Config.Lint.
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Code
	}
	return out
}

// Lint reports settings that validate but are likely to lose events or
// overload the store. It assumes Validate has passed.
func (c Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, format string, args ...any) {
		ws = append(ws, LintWarning{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if c.Buffer.OverflowPolicy == RejectNew && c.Buffer.EnqueueTimeout == 0 {
		add("reject_without_wait", "RejectNew with zero EnqueueTimeout rejects on the first full buffer")
	}
	if c.Buffer.HighWaterMark == c.Buffer.Capacity {
		add("high_water_at_capacity", "eager flush starts only when the buffer is already full")
	}
	if c.Flush.MaxBatchSize > c.Buffer.Capacity {
		add("batch_exceeds_capacity", "MaxBatchSize %d exceeds buffer Capacity %d", c.Flush.MaxBatchSize, c.Buffer.Capacity)
	}
	if c.Retry.MaxRetries == 0 {
		add("retries_disabled", "a single transient store error drops the whole batch")
	}
	if c.Partition.Granularity == Hourly {
		add("hourly_partitions", "hourly partitions create 24 partitions per day")
	}
	if c.Mirror.Enabled && !c.Mirror.DropIfFull {
		add("mirror_blocking", "a slow mirror sink can delay Record by up to EnqueueTimeout")
	}
	return ws
}
