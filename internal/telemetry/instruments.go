package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ScopeName is the instrumentation scope for every span and instrument.
const ScopeName = "github.com/dusk-indust/sourcelens"

// Instruments holds the tracer and metric instruments the engine records
// into. It is safe for concurrent use.
type Instruments struct {
	tracer trace.Tracer

	parseDuration metric.Float64Histogram
	parseTotal    metric.Int64Counter
	parseNodes    metric.Int64Histogram
	syntaxErrors  metric.Int64Counter

	queryDuration      metric.Float64Histogram
	queryMatches       metric.Int64Histogram
	queryLimitExceeded metric.Int64Counter
	queryTimeouts      metric.Int64Counter

	editDuration metric.Float64Histogram
	editTotal    metric.Int64Counter

	recoveryAttempts metric.Int64Counter
	recoveryTotal    metric.Int64Counter
}

// NewInstruments creates the instruments on the given providers.
func NewInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(ScopeName)
	i := &Instruments{tracer: tp.Tracer(ScopeName)}

	var errs []error
	f64 := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		errs = append(errs, err)
		return h
	}
	i64h := func(name, desc string) metric.Int64Histogram {
		h, err := meter.Int64Histogram(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	i.parseDuration = f64("sourcelens_parse_duration_seconds", "Duration of parse operations")
	i.parseTotal = counter("sourcelens_parse_total", "Total number of parse operations")
	i.parseNodes = i64h("sourcelens_parse_nodes", "Number of nodes per parsed tree")
	i.syntaxErrors = counter("sourcelens_syntax_errors_total", "Syntax problems found in parsed trees")

	i.queryDuration = f64("sourcelens_query_duration_seconds", "Duration of query executions")
	i.queryMatches = i64h("sourcelens_query_matches", "Number of matches per query execution")
	i.queryLimitExceeded = counter("sourcelens_query_match_limit_exceeded_total", "Query executions that hit the match limit")
	i.queryTimeouts = counter("sourcelens_query_timeouts_total", "Query executions stopped by their timeout")

	i.editDuration = f64("sourcelens_edit_duration_seconds", "Duration of incremental edits")
	i.editTotal = counter("sourcelens_edit_total", "Total number of edit batches applied")

	i.recoveryAttempts = counter("sourcelens_recovery_attempts_total", "Trial reparses made during recovery")
	i.recoveryTotal = counter("sourcelens_recovery_total", "Recovery runs by outcome")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return i, nil
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	i, _ := NewInstruments(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	return i
}

var (
	globalOnce sync.Once
	global     *Instruments
)

// Global returns instruments bound to the otel global providers. Providers
// installed later by Init are picked up through the global delegates.
func Global() *Instruments {
	globalOnce.Do(func() {
		i, err := NewInstruments(otel.GetTracerProvider(), otel.GetMeterProvider())
		if err != nil {
			otel.Handle(err)
			i = Noop()
		}
		global = i
	})
	return global
}

// Start opens a span for an engine operation.
func (i *Instruments) Start(ctx context.Context, op, language string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("language", language))
	return i.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RecordParse records one parse. errorCount is the number of syntax
// problems in the resulting tree; err is the parse failure, if any.
func (i *Instruments) RecordParse(ctx context.Context, language string, d time.Duration, nodes, errorCount int, err error) {
	lang := attribute.String("language", language)
	attrs := metric.WithAttributes(lang, attribute.Bool("success", err == nil))
	i.parseDuration.Record(ctx, d.Seconds(), attrs)
	i.parseTotal.Add(ctx, 1, attrs)
	if err != nil {
		return
	}
	i.parseNodes.Record(ctx, int64(nodes), metric.WithAttributes(lang))
	if errorCount > 0 {
		i.syntaxErrors.Add(ctx, int64(errorCount), metric.WithAttributes(lang))
	}
}

// RecordQuery records one query execution.
func (i *Instruments) RecordQuery(ctx context.Context, language, category string, d time.Duration, matches int, exceeded, timedOut bool) {
	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.String("category", category),
	)
	i.queryDuration.Record(ctx, d.Seconds(), attrs)
	i.queryMatches.Record(ctx, int64(matches), attrs)
	if exceeded {
		i.queryLimitExceeded.Add(ctx, 1, attrs)
	}
	if timedOut {
		i.queryTimeouts.Add(ctx, 1, attrs)
	}
}

// RecordEdit records one edit batch.
func (i *Instruments) RecordEdit(ctx context.Context, language string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.Bool("success", err == nil),
	)
	i.editDuration.Record(ctx, d.Seconds(), attrs)
	i.editTotal.Add(ctx, 1, attrs)
}

// RecordRecovery records one recovery run.
func (i *Instruments) RecordRecovery(ctx context.Context, language string, attempts int, recovered bool) {
	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.Bool("recovered", recovered),
	)
	i.recoveryAttempts.Add(ctx, int64(attempts), attrs)
	i.recoveryTotal.Add(ctx, 1, attrs)
}
