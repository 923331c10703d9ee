package pulse

import (
	"context"

	"github.com/HerbHall/pulsewatch/internal/event"
	"github.com/HerbHall/pulsewatch/pkg/models"
	"go.uber.org/zap"
)

// Alerter turns status transitions into events on the bus. Delivery is
// asynchronous so a slow observer never holds up the next check cycle.
type Alerter struct {
	bus    event.Publisher
	logger *zap.Logger
}

// NewAlerter creates an alerter that publishes to bus. A nil bus disables publishing.
func NewAlerter(bus event.Publisher, logger *zap.Logger) *Alerter {
	return &Alerter{bus: bus, logger: logger}
}

// Process logs and publishes a transition.
func (a *Alerter) Process(ctx context.Context, t *models.TransitionEvent) {
	transitionsTotal.WithLabelValues(string(t.Current)).Inc()

	topic := TopicServiceUp
	if t.Current == models.StatusUnhealthy {
		topic = TopicServiceDown
		a.logger.Warn("service down",
			zap.String("service", t.ServiceName),
			zap.String("previous", string(t.Previous)),
			zap.String("error", t.Error),
		)
	} else {
		a.logger.Info("service recovered",
			zap.String("service", t.ServiceName),
			zap.String("previous", string(t.Previous)),
		)
	}

	if a.bus == nil {
		return
	}
	a.bus.PublishAsync(ctx, event.Event{
		Topic:     topic,
		Source:    eventSource,
		Timestamp: t.Timestamp,
		Payload:   *t,
	})
}
