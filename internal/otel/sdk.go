// Package otel installs the OpenTelemetry SDK for storagewatch processes.
// Library packages only use the otel API; without SetupSDK their spans go to
// the no-op provider.
package otel

import (
	"context"
	"os"
	"strconv"
	"strings"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	DefaultServiceName  = "storagewatch"
	DefaultHTTPEndpoint = "127.0.0.1:4318"
)

// SDKOptions configures the trace exporter and resource.
type SDKOptions struct {
	Enabled            bool
	HTTPEndpoint       string
	ServiceName        string
	ServiceVersion     string
	ResourceAttributes map[string]string
}

// SDKOptionsFromEnv applies STORAGEWATCH_OTEL_* variables on top of base.
func SDKOptionsFromEnv(base SDKOptions) SDKOptions {
	options := base
	if rawEnabled, ok := os.LookupEnv("STORAGEWATCH_OTEL_SDK_ENABLED"); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(rawEnabled)); err == nil {
			options.Enabled = parsed
		}
	}
	if endpoint := strings.TrimSpace(os.Getenv("STORAGEWATCH_OTEL_HTTP_ENDPOINT")); endpoint != "" {
		options.HTTPEndpoint = endpoint
	}
	if serviceName := strings.TrimSpace(os.Getenv("STORAGEWATCH_OTEL_SERVICE_NAME")); serviceName != "" {
		options.ServiceName = serviceName
	}
	if options.ServiceName == "" {
		options.ServiceName = DefaultServiceName
	}
	if extra := ParseResourceAttributes(os.Getenv("STORAGEWATCH_OTEL_RESOURCE_ATTRIBUTES")); len(extra) > 0 {
		merged := make(map[string]string, len(options.ResourceAttributes)+len(extra))
		for key, value := range options.ResourceAttributes {
			merged[key] = value
		}
		for key, value := range extra {
			merged[key] = value
		}
		options.ResourceAttributes = merged
	}
	return options
}

// SetupSDK installs a batching OTLP/HTTP tracer provider and the W3C
// propagators. The returned func flushes and shuts the provider down.
func SetupSDK(ctx context.Context, options SDKOptions) (func(context.Context) error, error) {
	if !options.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	endpoint := normalizeEndpoint(options.HTTPEndpoint)
	if endpoint == "" {
		endpoint = DefaultHTTPEndpoint
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	serviceName := strings.TrimSpace(options.ServiceName)
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	resourceAttrs := []attribute.KeyValue{
		attribute.String("service.name", serviceName),
	}
	if strings.TrimSpace(options.ServiceVersion) != "" {
		resourceAttrs = append(resourceAttrs, attribute.String("service.version", options.ServiceVersion))
	}
	if host, err := os.Hostname(); err == nil && strings.TrimSpace(host) != "" {
		resourceAttrs = append(resourceAttrs, attribute.String("host.name", host))
	}
	for key, value := range options.ResourceAttributes {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		resourceAttrs = append(resourceAttrs, attribute.String(trimmedKey, value))
	}

	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(resourceAttrs...))
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otelapi.SetTracerProvider(tracerProvider)
	otelapi.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tracerProvider.Shutdown, nil
}

// ParseResourceAttributes reads "key=value,key2=value2". Malformed pairs
// are skipped.
func ParseResourceAttributes(raw string) map[string]string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	attributes := make(map[string]string)
	for _, pair := range strings.Split(trimmed, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		attributes[key] = strings.TrimSpace(value)
	}
	if len(attributes) == 0 {
		return nil
	}
	return attributes
}

func normalizeEndpoint(raw string) string {
	endpoint := strings.TrimSpace(raw)
	endpoint = strings.TrimSuffix(endpoint, "/")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimSuffix(endpoint, "/")
}
