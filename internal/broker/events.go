package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"delivery-engine/internal/models"
	"delivery-engine/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderChanged publishes an OrderChanged event
func (ep *EventPublisher) PublishOrderChanged(ctx context.Context, event *models.OrderChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishDebtCreated publishes a DebtCreated event
func (ep *EventPublisher) PublishDebtCreated(ctx context.Context, event *models.DebtCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishDebtSettled publishes a DebtSettled event
func (ep *EventPublisher) PublishDebtSettled(ctx context.Context, event *models.DebtSettledEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishTripCompleted publishes a TripCompleted event
func (ep *EventPublisher) PublishTripCompleted(ctx context.Context, event *models.TripCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, "trip-"+event.TripUUID, event)
}

// EventHandler routes consumed events to registered callbacks.
type EventHandler struct {
	logger         *zap.Logger
	onOrderChanged func(context.Context, *models.OrderChangedEvent) error
	onDebtCreated  func(context.Context, *models.DebtCreatedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderChanged registers a handler for OrderChanged events
func (eh *EventHandler) OnOrderChanged(handler func(context.Context, *models.OrderChangedEvent) error) {
	eh.onOrderChanged = handler
}

// OnDebtCreated registers a handler for DebtCreated events
func (eh *EventHandler) OnDebtCreated(handler func(context.Context, *models.DebtCreatedEvent) error) {
	eh.onDebtCreated = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderChanged:
		if eh.onOrderChanged != nil {
			var event models.OrderChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderChanged event: %w", err)
			}
			return eh.onOrderChanged(ctx, &event)
		}

	case models.EventTypeDebtCreated:
		if eh.onDebtCreated != nil {
			var event models.DebtCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal DebtCreated event: %w", err)
			}
			return eh.onDebtCreated(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type",
			zap.String("type", baseEvent.EventType))
	}

	return nil
}
