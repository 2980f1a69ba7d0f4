// Package template keeps the store's partition template in place and gates
// writes on it.
//
// The manager is a small state machine (UNKNOWN, ENSURING, READY, FAILED)
// guarded by one mutex. At most one create call is in flight at a time; every
// other caller waits on that attempt's outcome instead of calling the store.
package template

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/MrEthical07/goAudit/internal/metrics"
	"github.com/MrEthical07/goAudit/store"
)

// State is the manager's view of the template.
type State int

const (
	Unknown State = iota
	Ensuring
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Ensuring:
		return "ensuring"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "invalid"
	}
}

// Config drives ensure timing.
type Config struct {
	Template          store.Template
	ReconcileInterval time.Duration
	EnsureTimeout     time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	Jitter            float64
}

// Status is a snapshot for health reporting. Attempts counts consecutive
// failed attempts and resets on success.
type Status struct {
	State    State
	Err      *Error
	Since    time.Time
	Attempts int
}

// Manager ensures one template exists.
type Manager struct {
	store   store.Templates
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	state    State
	err      *Error
	since    time.Time
	attempts int
	retryAt  time.Time
	inflight chan struct{}
	backoff  *backoff.ExponentialBackOff
}

// NewManager returns a manager in the UNKNOWN state.
func NewManager(templates store.Templates, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EnsureTimeout <= 0 {
		cfg.EnsureTimeout = 10 * time.Second
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 30 * time.Second
	}

	b := backoff.NewExponentialBackOff()
	if cfg.BackoffBase > 0 {
		b.InitialInterval = cfg.BackoffBase
	}
	if cfg.BackoffMax > 0 {
		b.MaxInterval = cfg.BackoffMax
	}
	b.RandomizationFactor = cfg.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	return &Manager{
		store:   templates,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		since:   time.Now(),
		backoff: b,
	}
}

// EnsureReady returns nil once the template is known to exist.
//
// A READY manager answers without touching the store. A FAILED manager whose
// retry time has not come returns the cached error. Otherwise the caller
// starts or joins the single in-flight attempt and waits for its outcome or
// for ctx to end. The attempt itself is detached from ctx, so a canceled
// caller does not fail the attempt for everyone else.
func (m *Manager) EnsureReady(ctx context.Context) error {
	waited := false
	for {
		m.mu.Lock()
		switch {
		case m.state == Ready:
			m.mu.Unlock()
			return nil
		case m.state == Failed && (waited || m.now().Before(m.retryAt)):
			err := m.err
			m.mu.Unlock()
			return err
		}
		wait := m.inflight
		if m.state != Ensuring {
			wait = m.startLocked(ctx)
		}
		m.mu.Unlock()

		select {
		case <-wait:
			waited = true
		case <-ctx.Done():
			return &Error{Reason: StoreUnavailable, Err: ctx.Err()}
		}
	}
}

func (m *Manager) startLocked(ctx context.Context) chan struct{} {
	done := make(chan struct{})
	m.state = Ensuring
	m.inflight = done
	m.since = m.now()

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.EnsureTimeout)
	go func() {
		defer cancel()
		m.attempt(actx, done)
	}()
	return done
}

func (m *Manager) attempt(ctx context.Context, done chan struct{}) {
	m.metrics.Inc(metrics.TemplateEnsureCalls)
	created, err := m.store.PutTemplateIfAbsent(ctx, m.cfg.Template)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(done)

	m.inflight = nil
	m.since = m.now()
	if err == nil {
		m.state = Ready
		m.err = nil
		m.attempts = 0
		m.backoff.Reset()
		if created {
			m.metrics.Inc(metrics.TemplateCreated)
			m.logger.Info("audit template created",
				zap.String("template", m.cfg.Template.Name),
				zap.Int("version", m.cfg.Template.Version),
			)
		}
		return
	}

	terr := Classify(err)
	m.state = Failed
	m.err = terr
	m.attempts++
	m.metrics.Inc(metrics.TemplateFailures)

	delay := m.cfg.ReconcileInterval
	if terr.Retryable() {
		delay = m.backoff.NextBackOff()
	}
	m.retryAt = m.since.Add(delay)

	fields := []zap.Field{
		zap.String("template", m.cfg.Template.Name),
		zap.String("reason", terr.Reason.String()),
		zap.Int("attempt", m.attempts),
		zap.Duration("delay", delay),
		zap.Error(err),
	}
	if terr.Retryable() {
		m.logger.Warn("audit template ensure failed", fields...)
	} else {
		m.logger.Error("audit template ensure failed", fields...)
	}
}

// Reconcile runs one pass: a READY template is checked for existence and
// recreated if it vanished; an UNKNOWN or due FAILED template is ensured.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.mu.Lock()
	state := m.state
	due := state == Failed && !m.now().Before(m.retryAt)
	m.mu.Unlock()

	switch {
	case state == Ready:
		exists, err := m.store.TemplateExists(ctx, m.cfg.Template.Name)
		if err != nil {
			return Classify(err)
		}
		if exists {
			return nil
		}
		m.mu.Lock()
		if m.state == Ready {
			m.state = Unknown
			m.since = m.now()
		}
		m.mu.Unlock()
		m.metrics.Inc(metrics.TemplateVanished)
		m.logger.Warn("audit template vanished", zap.String("template", m.cfg.Template.Name))
		return m.EnsureReady(ctx)
	case state == Unknown, due:
		return m.EnsureReady(ctx)
	default:
		return nil
	}
}

// Run reconciles on every ReconcileInterval tick until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Reconcile(ctx); err != nil && ctx.Err() == nil {
				m.logger.Debug("audit template reconcile", zap.Error(err))
			}
		}
	}
}

// Status returns the current state snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:    m.state,
		Err:      m.err,
		Since:    m.since,
		Attempts: m.attempts,
	}
}
