// Package notify delivers out-of-band messages (the sign-in challenge code) to account holders.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultTimeout bounds a single asynchronous send.
const DefaultTimeout = 5 * time.Second

const meterName = "authsession/backend/internal/notify"

// Notifier sends message to destination (an E.164 phone number).
type Notifier interface {
	Send(ctx context.Context, destination, message string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, destination, message string) error

func (f NotifierFunc) Send(ctx context.Context, destination, message string) error {
	return f(ctx, destination, message)
}

// Dispatcher runs sends in the background so callers never wait on delivery.
// Failures are logged and counted; they are never returned to the caller.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger
	failures metric.Int64Counter
	sent     metric.Int64Counter
	wg       sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout sets the per-send timeout.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(p *Dispatcher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(p *Dispatcher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMeterProvider sets the meter provider for the delivery counters.
func WithMeterProvider(mp metric.MeterProvider) DispatcherOption {
	return func(p *Dispatcher) {
		if mp != nil {
			p.initMetrics(mp.Meter(meterName))
		}
	}
}

// NewDispatcher returns a Dispatcher sending through n. n may be nil, in which case Dispatch is a no-op.
func NewDispatcher(n Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier: n,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	d.initMetrics(otel.Meter(meterName))
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) initMetrics(m metric.Meter) {
	var err error
	d.failures, err = m.Int64Counter("auth.notify.failures",
		metric.WithDescription("Challenge deliveries that failed"))
	if err != nil {
		d.logger.Warn("notify: failures counter unavailable", "error", err)
	}
	d.sent, err = m.Int64Counter("auth.notify.sent",
		metric.WithDescription("Challenge deliveries handed to the notifier"))
	if err != nil {
		d.logger.Warn("notify: sent counter unavailable", "error", err)
	}
}

// Dispatch sends message to destination in a new goroutine with its own timeout.
// The request context is not used so a finished request does not abort delivery.
func (d *Dispatcher) Dispatch(destination, message string) {
	if d == nil || d.notifier == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Send(ctx, destination, message); err != nil {
			if d.failures != nil {
				d.failures.Add(ctx, 1)
			}
			d.logger.Error("notify: delivery failed",
				"destination", Mask(destination),
				"error", err,
			)
			return
		}
		if d.sent != nil {
			d.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
		}
	}()
}

// Wait blocks until every dispatched send has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// Mask hides all but the last four characters of a destination for logging.
func Mask(destination string) string {
	if len(destination) <= 4 {
		return "****"
	}
	return "****" + destination[len(destination)-4:]
}
