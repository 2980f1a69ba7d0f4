package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	goAudit "github.com/MrEthical07/goAudit"
)

func bindTrailFlags(fs *pflag.FlagSet) {
	def := goAudit.DefaultConfig()
	fs.String("preset", "default", "config preset (default, high_throughput, low_latency)")
	fs.Int("buffer-capacity", def.Buffer.Capacity, "events held in memory before overflow")
	fs.String("overflow-policy", def.Buffer.OverflowPolicy.String(), "overflow policy (drop_oldest, reject_new)")
	fs.Duration("enqueue-timeout", def.Buffer.EnqueueTimeout, "how long reject_new waits for space")
	fs.Int("flush-high-water-mark", def.Buffer.HighWaterMark, "buffer depth that triggers an early flush")
	fs.Duration("flush-interval", def.Flush.Interval, "periodic flush interval")
	fs.Int("max-batch-size", def.Flush.MaxBatchSize, "events per bulk write")
	fs.Int("flush-workers", def.Flush.Workers, "concurrent flush workers")
	fs.Duration("backoff-base", def.Retry.BackoffBase, "first retry delay")
	fs.Duration("backoff-max", def.Retry.BackoffMax, "retry delay cap")
	fs.Int("max-retries", def.Retry.MaxRetries, "retries per batch before it is dropped")
	fs.Duration("template-reconcile-interval", def.Template.ReconcileInterval, "template existence check interval")
	fs.String("template-name", def.Template.Name, "partition template name")
	fs.String("partition-prefix", def.Partition.Prefix, "partition name prefix")
	fs.String("partition-granularity", def.Partition.Granularity.String(), "partition width (hourly, daily, weekly, monthly)")
	fs.String("node-name", "", "node name stamped on events")
	fs.Bool("mirror-stdout", false, "mirror every event to stdout as JSON lines")
}

// presetConfig returns the named base configuration.
func presetConfig(name string) (goAudit.Config, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return goAudit.DefaultConfig(), nil
	case "high_throughput":
		return goAudit.HighThroughputConfig(), nil
	case "low_latency":
		return goAudit.LowLatencyConfig(), nil
	default:
		return goAudit.Config{}, fmt.Errorf("unknown preset %q", name)
	}
}

func parseOverflowPolicy(s string) (goAudit.OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop_oldest":
		return goAudit.DropOldest, nil
	case "reject_new":
		return goAudit.RejectNew, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// trailConfig overlays explicitly set keys on the preset and validates the
// result. Unset keys keep the preset's values.
func trailConfig(v *viper.Viper) (goAudit.Config, error) {
	cfg, err := presetConfig(v.GetString("preset"))
	if err != nil {
		return cfg, err
	}

	if v.IsSet("buffer-capacity") {
		cfg.Buffer.Capacity = v.GetInt("buffer-capacity")
	}
	if v.IsSet("overflow-policy") {
		if cfg.Buffer.OverflowPolicy, err = parseOverflowPolicy(v.GetString("overflow-policy")); err != nil {
			return cfg, err
		}
	}
	if v.IsSet("enqueue-timeout") {
		cfg.Buffer.EnqueueTimeout = v.GetDuration("enqueue-timeout")
	}
	if v.IsSet("flush-high-water-mark") {
		cfg.Buffer.HighWaterMark = v.GetInt("flush-high-water-mark")
	}
	if v.IsSet("flush-interval") {
		cfg.Flush.Interval = v.GetDuration("flush-interval")
	}
	if v.IsSet("max-batch-size") {
		cfg.Flush.MaxBatchSize = v.GetInt("max-batch-size")
	}
	if v.IsSet("flush-workers") {
		cfg.Flush.Workers = v.GetInt("flush-workers")
	}
	if v.IsSet("backoff-base") {
		cfg.Retry.BackoffBase = v.GetDuration("backoff-base")
	}
	if v.IsSet("backoff-max") {
		cfg.Retry.BackoffMax = v.GetDuration("backoff-max")
	}
	if v.IsSet("max-retries") {
		cfg.Retry.MaxRetries = v.GetInt("max-retries")
	}
	if v.IsSet("template-reconcile-interval") {
		cfg.Template.ReconcileInterval = v.GetDuration("template-reconcile-interval")
	}
	if v.IsSet("template-name") {
		cfg.Template.Name = v.GetString("template-name")
	}
	if v.IsSet("partition-prefix") {
		cfg.Partition.Prefix = v.GetString("partition-prefix")
	}
	if v.IsSet("partition-granularity") {
		if cfg.Partition.Granularity, err = goAudit.ParseGranularity(v.GetString("partition-granularity")); err != nil {
			return cfg, err
		}
	}
	if v.IsSet("node-name") {
		cfg.NodeName = v.GetString("node-name")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	switch format {
	case "console":
		zc = zap.NewDevelopmentConfig()
	case "json", "":
		zc = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
