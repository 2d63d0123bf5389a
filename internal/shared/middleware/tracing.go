package middleware

import (
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	httpTracer             = otel.Tracer("harvestsync/http")
	httpMeter              = otel.Meter("harvestsync/http")
	httpRequestDuration, _ = httpMeter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	actionTotal, _ = httpMeter.Int64Counter("harvestsync.action.total",
		metric.WithDescription("Inbound actions and subscription calls by outcome"),
	)
)

// Outcomes of an inbound call as seen by the board.
const (
	OutcomeOK          = "ok"
	OutcomeRejected    = "rejected"
	OutcomeRateLimited = "rate_limited"
	OutcomeUnauth      = "unauthenticated"
	OutcomeError       = "error"
)

// Outcome classifies a response status.
func Outcome(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case status == http.StatusUnauthorized:
		return OutcomeUnauth
	case status >= 500:
		return OutcomeError
	case status >= 400:
		return OutcomeRejected
	default:
		return OutcomeOK
	}
}

// Operation names the action or subscription event a request targets:
// "create-client" for /actions/create-client and "subscribe:new-expense"
// for /subscriptions/new-expense/subscribe. Other paths return "".
func Operation(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "actions":
		return parts[1]
	case len(parts) == 3 && parts[0] == "subscriptions":
		return parts[2] + ":" + parts[1]
	}
	return ""
}

// Tracing opens a span per request and records the duration histogram.
// Requests that reach an action or subscription endpoint are also counted
// by outcome. Routes come from the matched mux pattern so item ids never
// become metric labels.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := httpTracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		start := time.Now()
		wrapped := wrapResponseWriter(w)
		req := r.WithContext(ctx)
		next.ServeHTTP(wrapped, req)

		route := req.Pattern
		if route == "" {
			route = "unmatched"
		} else {
			span.SetName(route)
		}

		status := wrapped.Status()
		outcome := Outcome(status)
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.String("http.route", route),
			attribute.String("harvestsync.outcome", outcome),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		httpRequestDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		))

		if op := Operation(r.URL.Path); op != "" && route != "unmatched" {
			span.SetAttributes(attribute.String("harvestsync.operation", op))
			actionTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("harvestsync.operation", op),
				attribute.String("harvestsync.outcome", outcome),
			))
		}
	})
}

// Telemetry adds otelhttp server instrumentation. Spans are named after the
// operation when there is one.
func Telemetry(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "harvestsync-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			if op := Operation(r.URL.Path); op != "" {
				return r.Method + " " + op
			}
			return r.Method + " " + r.URL.Path
		}),
	)
}
