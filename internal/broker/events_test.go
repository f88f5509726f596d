package broker

import (
	"context"
	"encoding/json"
	"testing"

	"delivery-engine/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHandlerRoutesOrderChanged(t *testing.T) {
	handler := NewEventHandler()

	var got *models.OrderChangedEvent
	handler.OnOrderChanged(func(ctx context.Context, event *models.OrderChangedEvent) error {
		got = event
		return nil
	})

	payload, err := json.Marshal(&models.OrderChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypeOrderChanged,
		},
		OrderID:    42,
		PrevStatus: models.OrderStatusAccepted,
		Status:     models.OrderStatusOnWay,
	})
	require.NoError(t, err)

	err = handler.HandleMessage(context.Background(), kafka.Message{Value: payload})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.OrderID)
	assert.Equal(t, models.OrderStatusOnWay, got.Status)
}

func TestEventHandlerIgnoresUnknownTypes(t *testing.T) {
	handler := NewEventHandler()
	handler.OnOrderChanged(func(ctx context.Context, event *models.OrderChangedEvent) error {
		t.Fatal("handler should not fire for other event types")
		return nil
	})

	payload, err := json.Marshal(&models.BaseEvent{
		EventID:   "evt-2",
		EventType: "inventory.restocked",
	})
	require.NoError(t, err)

	assert.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: payload}))
}

func TestEventHandlerRejectsMalformedPayload(t *testing.T) {
	handler := NewEventHandler()

	err := handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)
}
