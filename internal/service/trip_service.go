package service

import (
	"context"
	"fmt"

	"delivery-engine/internal/models"
	"delivery-engine/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TripService groups booking orders under one trip UUID. Each leg is
// priced with the trip formula and authorized individually; a failed
// leg rolls the already-created legs back.
type TripService struct {
	orders *OrderService
	trips  TripRepository
	logger *zap.Logger
}

// NewTripService creates the trip coordinator.
func NewTripService(orders *OrderService, trips TripRepository) *TripService {
	return &TripService{
		orders: orders,
		trips:  trips,
		logger: util.GetLogger(),
	}
}

// CreateTrip creates every leg under a fresh trip UUID. On a mid-way
// failure the created legs are cancelled (without the fee) and the
// error surfaces to the caller.
func (ts *TripService) CreateTrip(ctx context.Context, legs []*OrderDraft) (string, []*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "TripService.CreateTrip")
	defer span.End()

	if len(legs) == 0 {
		return "", nil, &models.ValidationError{Reason: "trip requires at least one leg"}
	}

	tripUUID := uuid.New().String()
	if err := ts.trips.CreateTripGroup(ctx, &models.TripGroup{
		TripUUID:  tripUUID,
		TotalLegs: len(legs),
	}); err != nil {
		return "", nil, fmt.Errorf("failed to create trip group: %w", err)
	}

	created := make([]*models.Order, 0, len(legs))
	for _, draft := range legs {
		draft.Type = models.OrderTypeBooking
		draft.TripUUID = &tripUUID
		draft.TripLeg = true

		order, err := ts.orders.CreateOrder(ctx, draft)
		if err != nil {
			ts.compensate(ctx, created)
			return "", nil, fmt.Errorf("failed to create trip leg %d: %w", len(created)+1, err)
		}
		created = append(created, order)
	}

	ts.logger.Info("Trip created",
		zap.String("trip_uuid", tripUUID),
		zap.Int("legs", len(created)))
	return tripUUID, created, nil
}

// compensate cancels legs created before a failure so no half-trip is
// left holding authorizations.
func (ts *TripService) compensate(ctx context.Context, created []*models.Order) {
	for _, order := range created {
		if _, err := ts.orders.TransitionStatus(ctx, order.ID, models.OrderStatusCancelled,
			&TransitionContext{Rollback: true}); err != nil {
			ts.logger.Error("Failed to cancel trip leg during rollback",
				zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}
}

// GetTrip returns every leg of a trip.
func (ts *TripService) GetTrip(ctx context.Context, tripUUID string) ([]models.Order, error) {
	legs, err := ts.orders.deps.Orders.GetOrdersByTripUUID(ctx, tripUUID)
	if err != nil {
		return nil, err
	}
	if len(legs) == 0 {
		return nil, &models.NotFoundError{Entity: "trip", ID: tripUUID}
	}
	return legs, nil
}
