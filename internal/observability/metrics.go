package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/sessiond/sessiond/internal/config"
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}

var (
	countersOnce      sync.Once
	loginCounter      metric.Int64Counter
	refreshCounter    metric.Int64Counter
	logoutCounter     metric.Int64Counter
	validationCounter metric.Int64Counter
	storeOpCounter    metric.Int64Counter
)

func ensureCounters() {
	countersOnce.Do(func() {
		meter := otel.Meter("sessiond")
		loginCounter, _ = meter.Int64Counter("auth.login.attempts")
		refreshCounter, _ = meter.Int64Counter("auth.refresh.attempts")
		logoutCounter, _ = meter.Int64Counter("auth.logout.attempts")
		validationCounter, _ = meter.Int64Counter("auth.token.validations")
		storeOpCounter, _ = meter.Int64Counter("store.operations")
	})
}

func RecordLoginAttempt(ctx context.Context, outcome string) {
	ensureCounters()
	if loginCounter == nil {
		return
	}
	loginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordRefreshAttempt(ctx context.Context, outcome string) {
	ensureCounters()
	if refreshCounter == nil {
		return
	}
	refreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordLogoutAttempt(ctx context.Context, outcome string) {
	ensureCounters()
	if logoutCounter == nil {
		return
	}
	logoutCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	ensureCounters()
	if validationCounter == nil {
		return
	}
	validationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

func RecordStoreOperation(ctx context.Context, entity, operation, outcome string) {
	ensureCounters()
	if storeOpCounter == nil {
		return
	}
	storeOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
