package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/provisioner/pkg/engine"
)

// Observer implements engine.Observer: every task run gets a span, a
// duration sample, an outcome count and a debug log line.
type Observer struct {
	logger  *Logger
	metrics *Metrics
	tracer  *Tracer
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver creates an observer. Any of the collaborators may be nil.
func NewObserver(logger *Logger, metrics *Metrics, tracer *Tracer) *Observer {
	return &Observer{logger: logger, metrics: metrics, tracer: tracer}
}

// StartTask implements engine.Observer.
func (o *Observer) StartTask(ctx context.Context, kind, title string) (context.Context, func(engine.Outcome)) {
	start := time.Now()

	if o.metrics != nil {
		o.metrics.TaskStarted()
	}

	var end func(engine.Outcome)
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartTaskSpan(ctx, kind, title)
		end = func(outcome engine.Outcome) {
			span.SetAttributes(AttrTaskOutcome.String(outcome.Label()))
			if outcome == engine.Failed {
				span.SetStatus(codes.Error, outcome.String())
			} else {
				RecordSuccess(span)
			}
			span.End()
		}
	}

	logger := o.logger
	if logger == nil {
		logger = FromContext(ctx)
	}
	logger = logger.WithField("kind", kind).WithField("task", title)
	ctx = logger.WithContext(ctx)

	return ctx, func(outcome engine.Outcome) {
		elapsed := time.Since(start)
		if o.metrics != nil {
			o.metrics.TaskFinished(kind, outcome.Label(), elapsed)
		}
		if end != nil {
			end(outcome)
		}
		logger.zlog.Debug().
			Str("outcome", outcome.Label()).
			Dur("duration", elapsed).
			Msg("Task finished")
	}
}

// Retried returns a hook counting and logging retries of an operation.
func (o *Observer) Retried(ctx context.Context) func(op string) {
	return func(op string) {
		if o.metrics != nil {
			o.metrics.RecordRetry(op)
		}
		logger := o.logger
		if logger == nil {
			logger = FromContext(ctx)
		}
		logger.zlog.Warn().Str("operation", op).Msg("Retrying after transient error")
	}
}
