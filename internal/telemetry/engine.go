package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/keys"
)

const engineScopeName = "github.com/plenumhq/plenum/datastore"

// InstrumentedEngine wraps datastore.Engine with OTel tracing and metrics.
// Every request to the datastore gets a span and is counted in
// plenum.datastore.* metrics. Use WrapEngine to create one; it returns the
// original engine unchanged when telemetry is disabled.
type InstrumentedEngine struct {
	inner       datastore.Engine
	tracer      trace.Tracer
	ops         metric.Int64Counter
	dur         metric.Float64Histogram
	errs        metric.Int64Counter
	writeEvents metric.Int64Counter
}

// WrapEngine returns e decorated with OTel instrumentation.
// When telemetry is disabled, e is returned as-is with zero overhead.
func WrapEngine(e datastore.Engine) datastore.Engine {
	if !Enabled() {
		return e
	}
	m := Meter(engineScopeName)
	ops, _ := m.Int64Counter("plenum.datastore.operations",
		metric.WithDescription("Total datastore requests executed"),
	)
	dur, _ := m.Float64Histogram("plenum.datastore.operation.duration",
		metric.WithDescription("Datastore request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("plenum.datastore.errors",
		metric.WithDescription("Total datastore request errors"),
	)
	writeEvents, _ := m.Int64Counter("plenum.datastore.write.events",
		metric.WithDescription("Total events committed through write requests"),
	)
	return &InstrumentedEngine{
		inner:       e,
		tracer:      Tracer(engineScopeName),
		ops:         ops,
		dur:         dur,
		errs:        errs,
		writeEvents: writeEvents,
	}
}

// op starts a span and records a metric for the named datastore request.
func (e *InstrumentedEngine) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := e.tracer.Start(ctx, "datastore."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	e.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (e *InstrumentedEngine) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	e.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// ── Reads ───────────────────────────────────────────────────────────────────

func (e *InstrumentedEngine) Get(ctx context.Context, fqid keys.FQID, mappedFields ...string) (map[string]any, error) {
	attrs := []attribute.KeyValue{attribute.String("plenum.fqid", fqid.String())}
	ctx, span, t := e.op(ctx, "Get", attrs...)
	v, err := e.inner.Get(ctx, fqid, mappedFields...)
	e.done(ctx, span, t, err, attrs...)
	return v, err
}

func (e *InstrumentedEngine) GetMany(ctx context.Context, requests ...datastore.GetManyRequest) (map[keys.Collection]map[int]map[string]any, error) {
	attrs := []attribute.KeyValue{attribute.Int("plenum.request.count", len(requests))}
	ctx, span, t := e.op(ctx, "GetMany", attrs...)
	v, err := e.inner.GetMany(ctx, requests...)
	e.done(ctx, span, t, err, attrs...)
	return v, err
}

func (e *InstrumentedEngine) GetAll(ctx context.Context, collection keys.Collection, mappedFields ...string) ([]map[string]any, error) {
	attrs := []attribute.KeyValue{attribute.String("plenum.collection", string(collection))}
	ctx, span, t := e.op(ctx, "GetAll", attrs...)
	v, err := e.inner.GetAll(ctx, collection, mappedFields...)
	if err == nil {
		span.SetAttributes(attribute.Int("plenum.result.count", len(v)))
	}
	e.done(ctx, span, t, err, attrs...)
	return v, err
}

func (e *InstrumentedEngine) Filter(ctx context.Context, collection keys.Collection, filter datastore.Filter) ([]map[string]any, error) {
	attrs := []attribute.KeyValue{attribute.String("plenum.collection", string(collection))}
	ctx, span, t := e.op(ctx, "Filter", attrs...)
	v, err := e.inner.Filter(ctx, collection, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("plenum.result.count", len(v)))
	}
	e.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Aggregates ──────────────────────────────────────────────────────────────

func (e *InstrumentedEngine) Exists(ctx context.Context, collection keys.Collection, filter datastore.Filter) (datastore.Found, error) {
	attrs := []attribute.KeyValue{attribute.String("plenum.collection", string(collection))}
	ctx, span, t := e.op(ctx, "Exists", attrs...)
	v, err := e.inner.Exists(ctx, collection, filter)
	e.done(ctx, span, t, err, attrs...)
	return v, err
}

func (e *InstrumentedEngine) Count(ctx context.Context, collection keys.Collection, filter datastore.Filter) (datastore.Counted, error) {
	attrs := []attribute.KeyValue{attribute.String("plenum.collection", string(collection))}
	ctx, span, t := e.op(ctx, "Count", attrs...)
	v, err := e.inner.Count(ctx, collection, filter)
	e.done(ctx, span, t, err, attrs...)
	return v, err
}

func (e *InstrumentedEngine) Min(ctx context.Context, collection keys.Collection, filter datastore.Filter, field string) (map[string]any, error) {
	attrs := []attribute.KeyValue{
		attribute.String("plenum.collection", string(collection)),
		attribute.String("plenum.field", field),
	}
	ctx, span, t := e.op(ctx, "Min", attrs...)
	v, err := e.inner.Min(ctx, collection, filter, field)
	e.done(ctx, span, t, err, attrs...)
	return v, err
}

func (e *InstrumentedEngine) Max(ctx context.Context, collection keys.Collection, filter datastore.Filter, field string) (map[string]any, error) {
	attrs := []attribute.KeyValue{
		attribute.String("plenum.collection", string(collection)),
		attribute.String("plenum.field", field),
	}
	ctx, span, t := e.op(ctx, "Max", attrs...)
	v, err := e.inner.Max(ctx, collection, filter, field)
	e.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Writes ──────────────────────────────────────────────────────────────────

func (e *InstrumentedEngine) ReserveIDs(ctx context.Context, collection keys.Collection, amount int) ([]int, error) {
	attrs := []attribute.KeyValue{
		attribute.String("plenum.collection", string(collection)),
		attribute.Int("plenum.amount", amount),
	}
	ctx, span, t := e.op(ctx, "ReserveIDs", attrs...)
	v, err := e.inner.ReserveIDs(ctx, collection, amount)
	e.done(ctx, span, t, err, attrs...)
	return v, err
}

func (e *InstrumentedEngine) Write(ctx context.Context, request datastore.WriteRequest) error {
	attrs := []attribute.KeyValue{
		attribute.Int("plenum.event.count", len(request.Events)),
		attribute.Int("plenum.locked.count", len(request.LockedFields)),
	}
	ctx, span, t := e.op(ctx, "Write", attrs...)
	err := e.inner.Write(ctx, request)
	if err == nil {
		e.writeEvents.Add(ctx, int64(len(request.Events)), metric.WithAttributes(attrs...))
	}
	e.done(ctx, span, t, err, attrs...)
	return err
}
