//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package trace holds the OpenTelemetry tracer used by the runtime.
// Spans are always created; they are only shipped after Start installs
// an OTLP exporter.
package trace

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	itelemetry "trpc.group/trpc-go/trpc-agent-runtime/internal/telemetry"
)

// Tracer is the tracer used for invoke_agent, call_llm and execute_tool spans.
var Tracer trace.Tracer = noop.NewTracerProvider().Tracer(itelemetry.InstrumentName)

// Option configures Start.
type Option func(*options)

type options struct {
	endpoint         string
	protocol         string
	headers          map[string]string
	serviceName      string
	serviceVersion   string
	serviceNamespace string
}

// WithEndpoint sets the collector endpoint (host:port).
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithProtocol selects itelemetry.ProtocolGRPC (default) or itelemetry.ProtocolHTTP.
func WithProtocol(protocol string) Option {
	return func(o *options) { o.protocol = protocol }
}

// WithHeaders sets headers sent with every export request.
func WithHeaders(headers map[string]string) Option {
	return func(o *options) { o.headers = headers }
}

// WithServiceName overrides the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(o *options) { o.serviceName = name }
}

// Start installs a batching OTLP exporter and replaces Tracer.
// The returned func flushes and shuts the provider down.
func Start(ctx context.Context, opts ...Option) (func() error, error) {
	o := &options{
		protocol:         itelemetry.ProtocolGRPC,
		serviceName:      itelemetry.ServiceName,
		serviceVersion:   itelemetry.ServiceVersion,
		serviceNamespace: itelemetry.ServiceNamespace,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.endpoint == "" {
		o.endpoint = defaultEndpoint(o.protocol)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNamespace(o.serviceNamespace),
		semconv.ServiceName(o.serviceName),
		semconv.ServiceVersion(o.serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("trace: create resource: %w", err)
	}
	exporter, err := newExporter(ctx, o)
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	Tracer = provider.Tracer(itelemetry.InstrumentName)
	return func() error {
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("trace: shutdown provider: %w", err)
		}
		return nil
	}, nil
}

func newExporter(ctx context.Context, o *options) (sdktrace.SpanExporter, error) {
	if o.protocol == itelemetry.ProtocolHTTP {
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(o.endpoint),
			otlptracehttp.WithInsecure(),
			otlptracehttp.WithHeaders(o.headers),
		)
		if err != nil {
			return nil, fmt.Errorf("trace: create http exporter: %w", err)
		}
		return exp, nil
	}
	conn, err := itelemetry.NewGRPCConn(o.endpoint)
	if err != nil {
		return nil, err
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithGRPCConn(conn),
		otlptracegrpc.WithHeaders(o.headers),
	)
	if err != nil {
		return nil, fmt.Errorf("trace: create grpc exporter: %w", err)
	}
	return exp, nil
}

func defaultEndpoint(protocol string) string {
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); ep != "" {
		return ep
	}
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
		return ep
	}
	if protocol == itelemetry.ProtocolHTTP {
		return "localhost:4318"
	}
	return "localhost:4317"
}
