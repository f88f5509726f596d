package store

import (
	"context"
	"database/sql"

	"delivery-engine/internal/models"
)

// GetCustomer retrieves the credit/referral/debt fields for a customer.
func (s *Store) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	var c models.Customer
	err := s.db.GetContext(ctx, &c, `
		SELECT id, credit, debt_amount, ref_user_id, ref_paid
		FROM customers WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Entity: "customer", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// AddCustomerCredit adds (or with a negative delta, removes) credit.
func (s *Store) AddCustomerCredit(ctx context.Context, customerID int64, delta float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE customers SET credit = credit + $1 WHERE id = $2",
		delta, customerID)
	return err
}

// AddCustomerDebt moves the customer's aggregate debt counter.
func (s *Store) AddCustomerDebt(ctx context.Context, customerID int64, deltaCents int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE customers SET debt_amount = debt_amount + $1 WHERE id = $2",
		deltaCents, customerID)
	return err
}

// MarkReferralPaid sets ref_paid after the referrer was credited.
func (s *Store) MarkReferralPaid(ctx context.Context, customerID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE customers SET ref_paid = TRUE WHERE id = $1", customerID)
	return err
}

// GetPromo retrieves a promo code, or nil when it does not exist.
func (s *Store) GetPromo(ctx context.Context, code string) (*models.PromoCode, error) {
	var p models.PromoCode
	err := s.db.GetContext(ctx, &p,
		"SELECT code, discount FROM promo_codes WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ConsumePromo deletes a promo code so it cannot be used twice.
func (s *Store) ConsumePromo(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM promo_codes WHERE code = $1", code)
	return err
}

// GetDefaultCard retrieves the customer's current default vaulted card.
func (s *Store) GetDefaultCard(ctx context.Context, customerID int64) (*models.Card, error) {
	var c models.Card
	err := s.db.GetContext(ctx, &c, `
		SELECT customer_id, gateway_token, last4
		FROM cards WHERE customer_id = $1 AND is_default = TRUE`, customerID)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Entity: "card", ID: customerID}
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
