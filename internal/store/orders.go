package store

import (
	"context"
	"database/sql"
	"fmt"

	"delivery-engine/internal/models"
)

// CreateOrderWithBreakdown persists an order, its money breakdown and
// any line items as one transaction.
func (s *Store) CreateOrderWithBreakdown(ctx context.Context, order *models.Order, breakdown *models.MoneyBreakdown, items []models.OrderLineItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (uuid, type, source, status, merchant_id, customer_id, driver_id, trip_uuid, scheduled_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
		RETURNING id, version, created_at, updated_at`

	if err := tx.GetContext(ctx, order, query,
		order.UUID, order.Type, order.Source, order.Status,
		order.MerchantID, order.CustomerID, order.DriverID,
		order.TripUUID, order.ScheduledAt); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	breakdown.OrderID = order.ID
	if err := insertBreakdown(ctx, tx, breakdown); err != nil {
		return err
	}

	for i := range items {
		items[i].OrderID = order.ID
		if err := tx.GetContext(ctx, &items[i].ID, `
			INSERT INTO order_items (order_id, menu_item_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			items[i].OrderID, items[i].MenuItemID, items[i].Quantity, items[i].UnitPrice); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

func insertBreakdown(ctx context.Context, tx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}, b *models.MoneyBreakdown) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_breakdowns (
			order_id, distance, subtotal, base_fare, distance_fare, large_order_fare,
			awaiting_fare, service_fee, delivery_charge, tps, tvq, tip, tip_percent,
			discount, custom_amount, total_amount, charged_amount, charge_id,
			charged_amount2, charge_id2, debt_amount, payment_method
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		b.OrderID, b.Distance, b.Subtotal, b.BaseFare, b.DistanceFare, b.LargeOrderFare,
		b.AwaitingFare, b.ServiceFee, b.DeliveryCharge, b.TPS, b.TVQ, b.Tip, b.TipPercent,
		b.Discount, b.CustomAmount, b.TotalAmount, b.ChargedAmount, b.ChargeID,
		b.ChargedAmount2, b.ChargeID2, b.DebtAmount, b.PaymentMethod)
	if err != nil {
		return fmt.Errorf("failed to insert breakdown: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by internal ID.
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Entity: "order", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByUUID retrieves an order by its externally-visible UUID.
func (s *Store) GetOrderByUUID(ctx context.Context, uuid string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE uuid = $1", uuid)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Entity: "order", ID: uuid}
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderTransition writes the mutated transition fields with an
// optimistic version check. The order's Version must be the value read
// before mutating; ErrVersionConflict means someone else moved first.
func (s *Store) UpdateOrderTransition(ctx context.Context, order *models.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, driver_id = $2,
			accepted_at = $3, on_way_at = $4, completed_at = $5, cancelled_at = $6,
			version = version + 1, updated_at = NOW()
		WHERE id = $7 AND version = $8`,
		order.Status, order.DriverID,
		order.AcceptedAt, order.OnWayAt, order.CompletedAt, order.CancelledAt,
		order.ID, order.Version)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	order.Version++
	return nil
}

// GetBreakdown retrieves the money breakdown for an order.
func (s *Store) GetBreakdown(ctx context.Context, orderID int64) (*models.MoneyBreakdown, error) {
	var b models.MoneyBreakdown
	err := s.db.GetContext(ctx, &b, "SELECT * FROM order_breakdowns WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Entity: "breakdown", ID: orderID}
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SaveBreakdown writes back the mutable money fields of a breakdown.
func (s *Store) SaveBreakdown(ctx context.Context, b *models.MoneyBreakdown) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE order_breakdowns SET
			service_fee = $1, tps = $2, tvq = $3, tip = $4, discount = $5,
			custom_amount = $6, total_amount = $7,
			charged_amount = $8, charge_id = $9,
			charged_amount2 = $10, charge_id2 = $11, debt_amount = $12
		WHERE order_id = $13`,
		b.ServiceFee, b.TPS, b.TVQ, b.Tip, b.Discount,
		b.CustomAmount, b.TotalAmount,
		b.ChargedAmount, b.ChargeID,
		b.ChargedAmount2, b.ChargeID2, b.DebtAmount,
		b.OrderID)
	if err != nil {
		return fmt.Errorf("failed to save breakdown: %w", err)
	}
	return nil
}

// GetOrderItems retrieves all line items for an order.
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderLineItem, error) {
	var items []models.OrderLineItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID)
	return items, err
}

// CountActiveOrdersForDriver counts the driver's accepted/on-way orders.
func (s *Store) CountActiveOrdersForDriver(ctx context.Context, driverID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM orders
		WHERE driver_id = $1 AND status IN ($2, $3)`,
		driverID, models.OrderStatusAccepted, models.OrderStatusOnWay)
	return count, err
}

// GetDriver retrieves a driver profile.
func (s *Store) GetDriver(ctx context.Context, id int64) (*models.DriverProfile, error) {
	var d models.DriverProfile
	err := s.db.GetContext(ctx, &d, "SELECT * FROM driver_profiles WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Entity: "driver", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetOrdersByTripUUID retrieves every leg of a trip.
func (s *Store) GetOrdersByTripUUID(ctx context.Context, tripUUID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE trip_uuid = $1 ORDER BY id", tripUUID)
	return orders, err
}

// CreateTripGroup inserts the completion tracker for a new trip.
func (s *Store) CreateTripGroup(ctx context.Context, g *models.TripGroup) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trip_groups (trip_uuid, total_legs, terminal_legs, receipt_sent)
		VALUES ($1, $2, 0, FALSE)`,
		g.TripUUID, g.TotalLegs)
	if err != nil {
		return fmt.Errorf("failed to create trip group: %w", err)
	}
	return nil
}

// IncrementTerminalLegs bumps the terminal counter for a trip and
// returns the updated group.
func (s *Store) IncrementTerminalLegs(ctx context.Context, tripUUID string) (*models.TripGroup, error) {
	var g models.TripGroup
	err := s.db.GetContext(ctx, &g, `
		UPDATE trip_groups SET terminal_legs = terminal_legs + 1
		WHERE trip_uuid = $1
		RETURNING trip_uuid, total_legs, terminal_legs, receipt_sent, created_at`,
		tripUUID)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Entity: "trip", ID: tripUUID}
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// MarkTripReceiptSent flips the receipt flag; returns false when it was
// already set, so the aggregate receipt fires exactly once.
func (s *Store) MarkTripReceiptSent(ctx context.Context, tripUUID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trip_groups SET receipt_sent = TRUE
		WHERE trip_uuid = $1 AND receipt_sent = FALSE`,
		tripUUID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
