package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"relay/internal/relay/metrics"
	"relay/internal/relay/models"
	id "relay/pkg/domain"
	"relay/pkg/platform/circuit"
)

// ErrQueueFull is returned by Dispatcher.Notify when the buffer is full.
var ErrQueueFull = fmt.Errorf("notify queue full: %w", models.ErrDeliveryNotifyFailed)

type job struct {
	principal id.Principal
	text      string
}

// Dispatcher decouples notification from the turn that triggered it. Notify
// only enqueues; workers started by Run deliver to the sink, retrying each
// notification a bounded number of times.
type Dispatcher struct {
	sink           Notifier
	queue          chan job
	workers        int
	maxTries       uint
	attemptTimeout time.Duration
	newBackOff     func() backoff.BackOff
	logger         *slog.Logger
	metrics        *metrics.Metrics
	breaker        *circuit.Breaker
}

type DispatcherOption func(*Dispatcher)

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan job, n)
		}
	}
}

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithMaxTries(n uint) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxTries = n
		}
	}
}

func WithAttemptTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.attemptTimeout = t
	}
}

// WithBackOff overrides the retry schedule. Tests use a zero backoff.
func WithBackOff(factory func() backoff.BackOff) DispatcherOption {
	return func(d *Dispatcher) {
		d.newBackOff = factory
	}
}

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithBreaker skips delivery while the sink's circuit is open.
func WithBreaker(b *circuit.Breaker) DispatcherOption {
	return func(d *Dispatcher) {
		d.breaker = b
	}
}

func NewDispatcher(sink Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:           sink,
		queue:          make(chan job, 1024),
		workers:        4,
		maxTries:       3,
		attemptTimeout: 5 * time.Second,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify enqueues a notification without blocking.
func (d *Dispatcher) Notify(ctx context.Context, principal id.Principal, text string) error {
	select {
	case d.queue <- job{principal: principal, text: text}:
		return nil
	default:
		d.metrics.IncrementNotifyDropped()
		d.logger.WarnContext(ctx, "notify queue full, dropping notification")
		return ErrQueueFull
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for range d.workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case j := <-d.queue:
					d.deliver(ctx, j)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	if d.breaker != nil && !d.breaker.Allow() {
		d.metrics.IncrementNotifyDropped()
		d.logger.DebugContext(ctx, "notify circuit open, dropping notification", "circuit", d.breaker.Name())
		return
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		defer cancel()
		return struct{}{}, d.sink.Notify(attemptCtx, j.principal, j.text)
	},
		backoff.WithBackOff(d.newBackOff()),
		backoff.WithMaxTries(d.maxTries),
	)
	if err == nil {
		d.recordSuccess(ctx)
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	d.recordFailure(ctx)
	d.metrics.IncrementNotifyFailures()
	d.logger.WarnContext(ctx, "notification failed",
		"reason", models.ReasonCode(models.ErrDeliveryNotifyFailed),
		"error", err,
	)
}

func (d *Dispatcher) recordSuccess(ctx context.Context) {
	if d.breaker == nil {
		return
	}
	if _, change := d.breaker.RecordSuccess(); change.Closed {
		d.logger.InfoContext(ctx, "notify circuit closed", "circuit", d.breaker.Name())
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context) {
	if d.breaker == nil {
		return
	}
	if _, change := d.breaker.RecordFailure(); change.Opened {
		d.logger.WarnContext(ctx, "notify circuit opened", "circuit", d.breaker.Name())
	}
}
