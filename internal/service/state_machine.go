package service

import (
	"time"

	"delivery-engine/internal/models"
)

// allowedTransitions is the order status graph. Cancellation is
// reachable from every non-terminal state; completed and cancelled are
// terminal.
var allowedTransitions = map[string][]string{
	models.OrderStatusReceived:  {models.OrderStatusAccepted, models.OrderStatusCancelled},
	models.OrderStatusAccepted:  {models.OrderStatusOnWay, models.OrderStatusCancelled},
	models.OrderStatusOnWay:     {models.OrderStatusCompleted, models.OrderStatusCancelled},
	models.OrderStatusCompleted: {},
	models.OrderStatusCancelled: {},
}

// canTransition reports whether from -> to is an allowed move.
func canTransition(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// applyStatus moves the order to the target status and stamps the
// matching timestamp. Each timestamp is set at most once;
// first write wins.
func applyStatus(o *models.Order, to string, now time.Time) {
	o.Status = to
	switch to {
	case models.OrderStatusAccepted:
		if o.AcceptedAt == nil {
			t := now
			o.AcceptedAt = &t
		}
	case models.OrderStatusOnWay:
		if o.OnWayAt == nil {
			t := now
			o.OnWayAt = &t
		}
	case models.OrderStatusCompleted:
		if o.CompletedAt == nil {
			t := now
			o.CompletedAt = &t
		}
	case models.OrderStatusCancelled:
		if o.CancelledAt == nil {
			t := now
			o.CancelledAt = &t
		}
	}
}
