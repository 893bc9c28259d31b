// Package tracing wraps module resolution, deployment, and repository
// fetches in OpenTelemetry spans, following aistore's own tracing package
// shape but re-pointed at this platform's operations instead of object
// transfer.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/coredeploy/vertexd"

var tracer = otel.Tracer(instrumentationName)

// Init wires the global TracerProvider. When otlpEndpoint is empty it falls
// back to a stdout exporter, which is what a developer running `vertexd run`
// without an observability backend configured actually wants to see.
func Init(ctx context.Context, otlpEndpoint string) (shutdown func(context.Context) error, err error) {
	var exporter sdktrace.SpanExporter
	if otlpEndpoint != "" {
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(otlpEndpoint), otlptracegrpc.WithInsecure())
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: building exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartResolve opens a span around one ModuleResolver.Resolve call.
func StartResolve(ctx context.Context, moduleName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "module.resolve", trace.WithAttributes(
		attribute.String("module.name", moduleName),
	))
}

// StartInstall opens a span around one Repository.Install attempt.
func StartInstall(ctx context.Context, moduleName, repoName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "module.install", trace.WithAttributes(
		attribute.String("module.name", moduleName),
		attribute.String("repository", repoName),
	))
}

// StartDeploy opens a span around one VerticleRuntime.DeployModule call.
func StartDeploy(ctx context.Context, moduleName, deploymentName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "deployment.deploy", trace.WithAttributes(
		attribute.String("module.name", moduleName),
		attribute.String("deployment.name", deploymentName),
	))
}

// StartUndeploy opens a span around one VerticleRuntime.Undeploy call.
func StartUndeploy(ctx context.Context, deploymentName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "deployment.undeploy", trace.WithAttributes(
		attribute.String("deployment.name", deploymentName),
	))
}
