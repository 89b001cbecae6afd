package authz

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// engineMetrics counts decisions through the global meter provider. Without a
// configured SDK the instruments are no-ops.
type engineMetrics struct {
	decisions metric.Int64Counter
}

func newEngineMetrics() *engineMetrics {
	meter := otel.Meter("github.com/trustplane/trustplane/pkg/authz")
	decisions, err := meter.Int64Counter("authz.decisions",
		metric.WithDescription("Authorization decisions by outcome and reason"))
	if err != nil {
		return &engineMetrics{}
	}
	return &engineMetrics{decisions: decisions}
}

func (m *engineMetrics) record(ctx context.Context, decision Decision, reason DenialReason) {
	if m.decisions == nil {
		return
	}
	m.decisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("decision", string(decision)),
			attribute.String("reason", string(reason)),
		))
}
