package payment

import (
	"context"
	"fmt"

	"delivery-engine/internal/models"
	"delivery-engine/internal/util"
)

// WalletProcessor is the low-level wallet API (PayPal-shaped). An
// authorization returns an opaque reference; ProceedCharge with an
// amount captures against it, and with nil amount voids it.
type WalletProcessor interface {
	CreateAuthorization(ctx context.Context, token string, amountCents int64, description string) (string, error)
	ProceedCharge(ctx context.Context, ref string, amountCents *int64) (string, error)
}

// WalletGateway adapts a wallet processor to the Gateway interface.
type WalletGateway struct {
	processor WalletProcessor
}

// NewWalletGateway creates a wallet gateway.
func NewWalletGateway(processor WalletProcessor) *WalletGateway {
	return &WalletGateway{processor: processor}
}

func (g *WalletGateway) Authorize(ctx context.Context, token string, amountCents int64, capture bool, description string) (string, error) {
	if err := validateAmount(amountCents); err != nil {
		return "", err
	}
	ctx, span := util.StartSpan(ctx, "WalletGateway.Authorize")
	defer span.End()

	util.PaymentAttemptsTotal.WithLabelValues("wallet", "authorize").Inc()
	ref, err := g.processor.CreateAuthorization(ctx, token, amountCents, description)
	if err != nil {
		util.PaymentFailedTotal.WithLabelValues("wallet", "authorize").Inc()
		return "", &models.PaymentDeclinedError{Gateway: "wallet", Reason: err.Error()}
	}
	if capture {
		return g.Capture(ctx, ref, amountCents)
	}
	return ref, nil
}

func (g *WalletGateway) Capture(ctx context.Context, chargeID string, amountCents int64) (string, error) {
	if err := validateAmount(amountCents); err != nil {
		return "", err
	}
	ctx, span := util.StartSpan(ctx, "WalletGateway.Capture")
	defer span.End()

	util.PaymentAttemptsTotal.WithLabelValues("wallet", "capture").Inc()
	id, err := g.processor.ProceedCharge(ctx, chargeID, &amountCents)
	if err != nil {
		util.PaymentFailedTotal.WithLabelValues("wallet", "capture").Inc()
		return "", &models.PaymentDeclinedError{Gateway: "wallet", Reason: err.Error()}
	}
	return id, nil
}

// Refund is not distinct from Void for an uncaptured wallet
// authorization; a captured wallet charge is returned the same way.
func (g *WalletGateway) Refund(ctx context.Context, chargeID string) error {
	return g.Void(ctx, chargeID)
}

// Void releases the authorization by proceeding with a nil amount.
func (g *WalletGateway) Void(ctx context.Context, chargeID string) error {
	ctx, span := util.StartSpan(ctx, "WalletGateway.Void")
	defer span.End()

	if _, err := g.processor.ProceedCharge(ctx, chargeID, nil); err != nil {
		return fmt.Errorf("wallet void failed: %w", err)
	}
	return nil
}

// CancellationFee captures the flat fee from the existing authorization
// instead of voiding it.
func (g *WalletGateway) CancellationFee(ctx context.Context, token, chargeID string, feeCents int64) (string, error) {
	return g.Capture(ctx, chargeID, feeCents)
}
