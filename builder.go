package goAudit

import (
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MrEthical07/goAudit/internal/audit"
	"github.com/MrEthical07/goAudit/internal/buffer"
	"github.com/MrEthical07/goAudit/internal/flush"
	"github.com/MrEthical07/goAudit/internal/metrics"
	"github.com/MrEthical07/goAudit/internal/template"
	"github.com/MrEthical07/goAudit/store"
)

// Builder assembles a Trail. A Builder can be built once.
type Builder struct {
	config Config
	store  store.Store
	logger *zap.Logger
	mirror Sink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the backend. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithLogger sets the structured logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMirrorSink sets the secondary sink and enables mirroring.
func (b *Builder) WithMirrorSink(sink Sink) *Builder {
	b.mirror = sink
	if sink != nil {
		b.config.Mirror.Enabled = true
	}
	return b
}

// WithLatencyHistograms toggles the flush latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the trail. The trail does not
// write anything until Start.
func (b *Builder) Build() (*Trail, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	if b.store == nil {
		return nil, ErrStoreRequired
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("goaudit")

	m := metrics.New(cfg.Metrics.EnableLatencyHistograms)
	policy := cfg.Partition.policy()

	buf := buffer.New(buffer.Config{
		Capacity:       cfg.Buffer.Capacity,
		Policy:         cfg.Buffer.OverflowPolicy,
		EnqueueTimeout: cfg.Buffer.EnqueueTimeout,
		HighWaterMark:  cfg.Buffer.HighWaterMark,
	})

	templates := template.NewManager(b.store, template.Config{
		Template: store.Template{
			Name:             cfg.Template.Name,
			Pattern:          policy.Pattern(),
			Version:          cfg.Template.Version,
			RequiredFields:   cfg.Template.RequiredFields,
			MaxDocumentBytes: cfg.Template.MaxDocumentBytes,
		},
		ReconcileInterval: cfg.Template.ReconcileInterval,
		EnsureTimeout:     cfg.Template.EnsureTimeout,
		BackoffBase:       cfg.Retry.BackoffBase,
		BackoffMax:        cfg.Retry.BackoffMax,
		Jitter:            cfg.Retry.Jitter,
	}, m, logger)

	flusher := flush.New(buf, b.store, templates, policy, flush.Config{
		Interval:     cfg.Flush.Interval,
		MaxBatchSize: cfg.Flush.MaxBatchSize,
		WriteTimeout: cfg.Flush.WriteTimeout,
		BackoffBase:  cfg.Retry.BackoffBase,
		BackoffMax:   cfg.Retry.BackoffMax,
		MaxRetries:   cfg.Retry.MaxRetries,
		Jitter:       cfg.Retry.Jitter,
	}, m, logger)

	limit := rate.Inf
	if cfg.Buffer.DropLogInterval > 0 {
		limit = rate.Every(cfg.Buffer.DropLogInterval)
	}

	t := &Trail{
		config:    cfg,
		store:     b.store,
		logger:    logger,
		metrics:   m,
		buf:       buf,
		templates: templates,
		flusher:   flusher,
		dropLog:   rate.NewLimiter(limit, 1),
	}
	if cfg.Mirror.Enabled {
		sink := b.mirror
		if sink == nil {
			sink = NoOpSink{}
		}
		t.mirror = audit.NewDispatcher(audit.DispatcherConfig{
			BufferSize: cfg.Mirror.BufferSize,
			DropIfFull: cfg.Mirror.DropIfFull,
		}, sink)
	}

	b.built = true
	return t, nil
}
