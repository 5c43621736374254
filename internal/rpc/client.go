// Package rpc posts JSON-RPC batches to a chain node over HTTP.
package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/iomekam/dapp-inter/internal/version"
)

const (
	DefaultMaxResponseBytes = 16 << 20
	maxErrorMessageBytes    = 4 << 10
	tracerName              = "github.com/iomekam/dapp-inter/internal/rpc"
)

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rpc endpoint returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("rpc endpoint returned HTTP %d: %s", e.StatusCode, e.Message)
}

var ErrResponseTooLarge = errors.New("rpc response too large")

type Options struct {
	Endpoint         string
	HTTPClient       *http.Client
	MaxResponseBytes int64
	Tracer           trace.Tracer
}

type Client struct {
	endpoint string
	http     *http.Client
	maxBytes int64
	tracer   trace.Tracer
}

func NewClient(options Options) (*Client, error) {
	endpoint := strings.TrimSpace(options.Endpoint)
	if endpoint == "" {
		return nil, errors.New("rpc endpoint is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse rpc endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("rpc endpoint %q must use http or https", endpoint)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("rpc endpoint %q has no host", endpoint)
	}

	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient, err = NewHTTPClient(TransportOptions{})
		if err != nil {
			return nil, err
		}
	}
	maxBytes := options.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBytes
	}
	tracer := options.Tracer
	if tracer == nil {
		tracer = otelapi.Tracer(tracerName)
	}
	return &Client{
		endpoint: endpoint,
		http:     httpClient,
		maxBytes: maxBytes,
		tracer:   tracer,
	}, nil
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Post sends body as a single JSON POST and returns the raw response body.
// batchSize is recorded on the span only.
func (c *Client) Post(ctx context.Context, body []byte, batchSize int) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "rpc.batch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.endpoint", c.endpoint),
			attribute.Int("rpc.batch_size", batchSize),
		),
	)
	defer span.End()

	payload, err := c.post(ctx, body, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return payload, nil
}

func (c *Client) post(ctx context.Context, body []byte, span trace.Span) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", version.UserAgent())
	otelapi.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(request.Header))

	response, err := c.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("rpc request failed: %w", err)
	}
	defer response.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", response.StatusCode))

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: response.StatusCode, Message: readErrorMessage(response.Body)}
	}

	payload, err := io.ReadAll(io.LimitReader(response.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read rpc response: %w", err)
	}
	if int64(len(payload)) > c.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.maxBytes)
	}
	return payload, nil
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorMessageBytes))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
