package eventbus

import (
	"context"

	json "github.com/goccy/go-json"

	"github.com/matthewbaird/bidconfig/internal/event"
	"github.com/matthewbaird/bidconfig/internal/metrics"
)

// MetricsConsumer turns confirmation events into counters.
type MetricsConsumer struct{}

// NewMetricsConsumer creates a new metrics consumer.
func NewMetricsConsumer() *MetricsConsumer {
	return &MetricsConsumer{}
}

// HandleEvent counts confirmations by product type and result. Other event
// types are already counted by the pipeline.
func (c *MetricsConsumer) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	var result string
	switch evt.EventType {
	case event.TypeTransactionConfirmed:
		result = "confirmed"
	case event.TypeConfirmationBlocked:
		result = "blocked"
	default:
		return nil
	}

	var p struct {
		ProductType string `json:"product_type"`
	}
	if len(evt.Payload) > 0 {
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
	}
	pt := p.ProductType
	if pt == "" {
		pt = "none"
	}
	metrics.ConfirmationsTotal.WithLabelValues(pt, result).Inc()
	return nil
}
