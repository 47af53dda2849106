package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Provider wraps the MeterProvider and its shutdown.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Shutdown      func(context.Context) error
}

// Setup installs a global MeterProvider. With an empty endpoint the provider
// has no exporter and instruments record nowhere.
func Setup(ctx context.Context, endpoint, serviceName, instanceID string, insecure bool) (*Provider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return &Provider{MeterProvider: mp, Shutdown: mp.Shutdown}, nil
	}

	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.instance.id", instanceID),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(u.Host)}
	if insecure || u.Scheme != "https" {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))),
	)
	otel.SetMeterProvider(mp)
	return &Provider{MeterProvider: mp, Shutdown: mp.Shutdown}, nil
}
