package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"relay/internal/relay/metrics"
	"relay/pkg/platform/audit"
)

type ExpiringStore interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Purger removes undelivered messages older than the retention window on a
// fixed schedule, independent of request traffic.
type Purger struct {
	store          ExpiringStore
	interval       time.Duration
	now            func() time.Time
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
}

type Option func(*Purger)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Purger) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Purger) {
		p.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(p *Purger) {
		p.auditPublisher = publisher
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Purger) {
		p.now = now
	}
}

// New constructs a Purger. A non-positive interval defaults to one hour.
func New(store ExpiringStore, interval time.Duration, opts ...Option) *Purger {
	if interval <= 0 {
		interval = time.Hour
	}
	p := &Purger{
		store:    store,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run purges once per interval until ctx is cancelled. A failed sweep is
// logged and retried on the next tick.
func (p *Purger) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.PurgeOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
	}
}

// PurgeOnce runs a single sweep at the current time.
func (p *Purger) PurgeOnce(ctx context.Context) (int, error) {
	now := p.now()
	removed, err := p.store.PurgeExpired(ctx, now)
	if removed > 0 {
		p.metrics.AddMessagesPurged(removed)
		p.logger.InfoContext(ctx, "expired messages purged",
			"count", removed,
			"event", string(audit.EventMessagesPurged),
			"log_type", "audit",
		)
		if p.auditPublisher != nil {
			_ = p.auditPublisher.Emit(ctx, audit.Event{
				Action:    string(audit.EventMessagesPurged),
				Timestamp: now,
				Count:     removed,
			})
		}
	}
	return removed, err
}
