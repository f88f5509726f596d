package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"delivery-engine/internal/models"
)

// CreateDebt inserts a new debt record.
func (s *Store) CreateDebt(ctx context.Context, d *models.DebtRecord) error {
	query := `
		INSERT INTO debts (order_id, customer_id, amount, attempts, next_retry_at)
		VALUES ($1, $2, $3, 0, $4)
		RETURNING id, created_at`

	if err := s.db.GetContext(ctx, d, query,
		d.OrderID, d.CustomerID, d.Amount, d.NextRetryAt); err != nil {
		return fmt.Errorf("failed to insert debt: %w", err)
	}
	return nil
}

// GetDueDebts retrieves unsettled, unflagged debts whose retry time has
// passed.
func (s *Store) GetDueDebts(ctx context.Context, now time.Time, limit int) ([]models.DebtRecord, error) {
	var debts []models.DebtRecord
	err := s.db.SelectContext(ctx, &debts, `
		SELECT * FROM debts
		WHERE settled_at IS NULL AND flagged_manual = FALSE AND next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2`, now, limit)
	return debts, err
}

// GetOpenDebtByOrder retrieves the unsettled debt for an order, or nil.
func (s *Store) GetOpenDebtByOrder(ctx context.Context, orderID int64) (*models.DebtRecord, error) {
	var d models.DebtRecord
	err := s.db.GetContext(ctx, &d, `
		SELECT * FROM debts
		WHERE order_id = $1 AND settled_at IS NULL
		ORDER BY created_at DESC LIMIT 1`, orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetOpenDebtsByCustomer retrieves every unsettled debt for a customer.
func (s *Store) GetOpenDebtsByCustomer(ctx context.Context, customerID int64) ([]models.DebtRecord, error) {
	var debts []models.DebtRecord
	err := s.db.SelectContext(ctx, &debts, `
		SELECT * FROM debts
		WHERE customer_id = $1 AND settled_at IS NULL
		ORDER BY created_at`, customerID)
	return debts, err
}

// SettleDebt zeroes a debt after a successful capture.
func (s *Store) SettleDebt(ctx context.Context, debtID int64, settledAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE debts SET amount = 0, settled_at = $1 WHERE id = $2",
		settledAt, debtID)
	return err
}

// RescheduleDebt records a failed attempt and the next retry time.
func (s *Store) RescheduleDebt(ctx context.Context, debtID int64, nextRetryAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE debts SET attempts = attempts + 1, next_retry_at = $1 WHERE id = $2",
		nextRetryAt, debtID)
	return err
}

// FlagDebtManual takes a debt off the retry schedule for manual
// collection.
func (s *Store) FlagDebtManual(ctx context.Context, debtID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE debts SET flagged_manual = TRUE WHERE id = $1", debtID)
	return err
}
