package models

import "time"

// Event types
const (
	EventTypeOrderChanged  = "ORDER_CHANGED"
	EventTypeDebtCreated   = "DEBT_CREATED"
	EventTypeDebtSettled   = "DEBT_SETTLED"
	EventTypeTripCompleted = "TRIP_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderChangedEvent published on every successful status transition
// (and on creation, with PrevStatus empty).
type OrderChangedEvent struct {
	BaseEvent
	OrderID    int64   `json:"order_id"`
	OrderUUID  string  `json:"order_uuid"`
	OrderType  string  `json:"order_type"`
	PrevStatus string  `json:"prev_status,omitempty"`
	Status     string  `json:"status"`
	DriverID   *int64  `json:"driver_id,omitempty"`
	TripUUID   *string `json:"trip_uuid,omitempty"`
}

// DebtCreatedEvent published when a failed capture is converted to debt.
type DebtCreatedEvent struct {
	BaseEvent
	OrderID    int64 `json:"order_id"`
	CustomerID int64 `json:"customer_id"`
	Amount     int64 `json:"amount"`
}

// DebtSettledEvent published when a deferred or manual capture succeeds.
type DebtSettledEvent struct {
	BaseEvent
	OrderID    int64  `json:"order_id"`
	CustomerID int64  `json:"customer_id"`
	Amount     int64  `json:"amount"`
	ChargeID   string `json:"charge_id"`
}

// TripCompletedEvent published once every leg of a trip is terminal.
type TripCompletedEvent struct {
	BaseEvent
	TripUUID      string  `json:"trip_uuid"`
	CompletedLegs []int64 `json:"completed_legs"`
}
