package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	meterOnce       sync.Once
	decisionCounter metric.Int64Counter
)

func initMeters() {
	meter := otel.Meter("github.com/cordon-io/cordon/internal/otel")
	decisionCounter, _ = meter.Int64Counter("cordon.decisions",
		metric.WithDescription("Authorization decisions by perimeter and outcome"))
}

// RecordDecision counts one authorization decision for the given perimeter.
func RecordDecision(ctx context.Context, perimeter string, allowed bool, reason string) {
	meterOnce.Do(initMeters)
	if decisionCounter == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("perimeter", perimeter),
		attribute.Bool("allowed", allowed),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String("reason", reason))
	}
	decisionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
