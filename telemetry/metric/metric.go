//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package metric holds the OpenTelemetry meter used by the runtime.
package metric

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"

	itelemetry "trpc.group/trpc-go/trpc-agent-runtime/internal/telemetry"
)

// Meter records the runtime counters. It is a no-op until Start is called.
var Meter metric.Meter = noopm.Meter{}

// Counter names.
const (
	NameLLMCalls  = "trpc_agent_runtime.llm.calls"
	NameToolCalls = "trpc_agent_runtime.tool.calls"
)

// RecordLLMCall counts one model call made on behalf of agentName.
func RecordLLMCall(ctx context.Context, agentName, modelName string) {
	c, err := Meter.Int64Counter(NameLLMCalls)
	if err != nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gen_ai.agent.name", agentName),
		attribute.String("gen_ai.request.model", modelName),
	))
}

// RecordToolCall counts one tool execution and whether it failed.
func RecordToolCall(ctx context.Context, toolName string, failed bool) {
	c, err := Meter.Int64Counter(NameToolCalls)
	if err != nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gen_ai.tool.name", toolName),
		attribute.Bool("error", failed),
	))
}

// Option configures Start.
type Option func(*options)

type options struct {
	endpoint    string
	protocol    string
	serviceName string
}

// WithEndpoint sets the collector endpoint (host:port).
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithProtocol selects itelemetry.ProtocolGRPC (default) or itelemetry.ProtocolHTTP.
func WithProtocol(protocol string) Option {
	return func(o *options) { o.protocol = protocol }
}

// WithServiceName overrides the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(o *options) { o.serviceName = name }
}

// Start installs a periodic OTLP metric exporter and replaces Meter.
func Start(ctx context.Context, opts ...Option) (func() error, error) {
	o := &options{
		protocol:    itelemetry.ProtocolGRPC,
		serviceName: itelemetry.ServiceName,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.endpoint == "" {
		o.endpoint = defaultEndpoint(o.protocol)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNamespace(itelemetry.ServiceNamespace),
		semconv.ServiceName(o.serviceName),
		semconv.ServiceVersion(itelemetry.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("metric: create resource: %w", err)
	}
	exporter, err := newExporter(ctx, o)
	if err != nil {
		return nil, err
	}
	return Install(ctx, sdkmetric.NewPeriodicReader(exporter), res), nil
}

// Install replaces Meter with one backed by reader. Tests use it with a
// manual reader. The returned func shuts the provider down.
func Install(ctx context.Context, reader sdkmetric.Reader, res *resource.Resource) func() error {
	opts := []sdkmetric.Option{sdkmetric.WithReader(reader)}
	if res != nil {
		opts = append(opts, sdkmetric.WithResource(res))
	}
	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)
	Meter = provider.Meter(itelemetry.InstrumentName)
	return func() error {
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("metric: shutdown provider: %w", err)
		}
		return nil
	}
}

func newExporter(ctx context.Context, o *options) (sdkmetric.Exporter, error) {
	if o.protocol == itelemetry.ProtocolHTTP {
		exp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(o.endpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("metric: create http exporter: %w", err)
		}
		return exp, nil
	}
	conn, err := itelemetry.NewGRPCConn(o.endpoint)
	if err != nil {
		return nil, err
	}
	exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("metric: create grpc exporter: %w", err)
	}
	return exp, nil
}

func defaultEndpoint(protocol string) string {
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); ep != "" {
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
