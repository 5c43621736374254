package stream

import (
	"context"
	"net/http"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	wsConnectSpanName = "websocket.connect"
	tracerName        = "github.com/iomekam/dapp-inter/internal/stream"
)

func startWebSocketSpan(tracer trace.Tracer, r *http.Request, route string) (context.Context, trace.Span) {
	ctx := r.Context()
	ctx = otelapi.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))
	if tracer == nil {
		tracer = otelapi.Tracer(tracerName)
	}
	return tracer.Start(ctx, wsConnectSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("http.scheme", wsRequestScheme(r)),
			attribute.String("user_agent", r.UserAgent()),
		),
	)
}

func wsRequestScheme(r *http.Request) string {
	if r.URL != nil && r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
