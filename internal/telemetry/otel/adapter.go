package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"authsession/backend/internal/identity/service"
)

const eventScope = "authsession.auth.events"

// recordEmitter is the part of otellog.Logger used by the emitter.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns a service.EventEmitter that writes auth events as OTel log records via provider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) service.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(eventScope)}
}

// NewEventEmitterWithLogger returns an emitter over an existing logger.
func NewEventEmitterWithLogger(logger recordEmitter) service.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, service.Event) {}

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts e to a log record. Failed operations are recorded at WARN, the rest at INFO.
func (e *otelEmitter) Emit(ctx context.Context, ev service.Event) {
	rec := otellog.Record{}
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now().UTC())
	rec.SetEventName("auth." + ev.Name)
	rec.SetBody(otellog.StringValue(ev.Name))
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetSeverityText("INFO")
	if !ev.Success {
		rec.SetSeverity(otellog.SeverityWarn)
		rec.SetSeverityText("WARN")
	}
	rec.AddAttributes(otellog.Bool("success", ev.Success))
	if ev.AccountID != "" {
		rec.AddAttributes(otellog.String("account_id", ev.AccountID))
	}
	if ev.Reason != "" {
		rec.AddAttributes(otellog.String("reason", ev.Reason))
	}
	e.logger.Emit(ctx, rec)
}
