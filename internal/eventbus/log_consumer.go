package eventbus

import (
	"context"

	"go.uber.org/zap"

	"github.com/matthewbaird/bidconfig/internal/event"
	"github.com/matthewbaird/bidconfig/internal/logging"
)

// LogConsumer logs all domain events.
type LogConsumer struct {
	logger *zap.Logger
}

func NewLogConsumer(logger *zap.Logger) *LogConsumer {
	return &LogConsumer{logger: logging.OrNop(logger).Named("events")}
}

func (c *LogConsumer) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	entities := make([]string, len(evt.AffectedEntities))
	for i, ref := range evt.AffectedEntities {
		entities[i] = ref.EntityType + ":" + shortID(ref.EntityID)
	}
	level := zap.InfoLevel
	if evt.Severity == "critical" || evt.Severity == "warning" {
		level = zap.WarnLevel
	}
	c.logger.Log(level, evt.Summary,
		zap.String("event_type", evt.EventType),
		zap.String("category", evt.Category),
		zap.String("severity", evt.Severity),
		zap.Strings("entities", entities))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
