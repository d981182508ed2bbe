package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics exposes the counters the limiter, retry policy and API clients
// feed. With no meter provider installed these are no-ops, so dry runs and
// tests pay nothing.
type Metrics struct {
	requests metric.Int64Counter
	waits    metric.Int64Counter
	retries  metric.Int64Counter
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("badgehunter")
	requests, err := meter.Int64Counter("badgehunter.api.requests",
		metric.WithDescription("API requests issued, by account"))
	if err != nil {
		return nil, err
	}
	waits, err := meter.Int64Counter("badgehunter.limiter.waits",
		metric.WithDescription("Times the rate limiter made a caller wait"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("badgehunter.retries",
		metric.WithDescription("Retried attempts, by error class"))
	if err != nil {
		return nil, err
	}
	return &Metrics{requests: requests, waits: waits, retries: retries}, nil
}

func (m *Metrics) RequestIssued(account string) {
	m.requests.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("account", account)))
}

func (m *Metrics) LimiterWait(account string) {
	m.waits.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("account", account)))
}

func (m *Metrics) RetryAttempt(class string) {
	m.retries.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("class", class)))
}
