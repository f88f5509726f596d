package payment

import (
	"context"
	"errors"
	"fmt"

	"delivery-engine/internal/models"
	"delivery-engine/internal/util"

	"go.uber.org/zap"
)

// CardProcessor is the low-level card API (Stripe-shaped). Authorize
// creates an un-captured charge; a later capture finalizes it.
type CardProcessor interface {
	CreateCharge(ctx context.Context, token string, amountCents int64, capture bool, description string) (string, error)
	CaptureCharge(ctx context.Context, chargeID string, amountCents int64) (string, error)
	RefundCharge(ctx context.Context, chargeID string) error
}

// CardGateway adapts a card processor to the Gateway interface and adds
// the ceiling rule: a capture above the configured ceiling that the
// processor declines is split into an immediate ceiling capture plus a
// deferred remainder reported as debt.
type CardGateway struct {
	processor    CardProcessor
	ceilingCents int64
	logger       *zap.Logger
}

// NewCardGateway creates a card gateway with the given capture ceiling.
func NewCardGateway(processor CardProcessor, ceilingCents int64) *CardGateway {
	return &CardGateway{
		processor:    processor,
		ceilingCents: ceilingCents,
		logger:       util.GetLogger(),
	}
}

func (g *CardGateway) Authorize(ctx context.Context, token string, amountCents int64, capture bool, description string) (string, error) {
	if err := validateAmount(amountCents); err != nil {
		return "", err
	}
	ctx, span := util.StartSpan(ctx, "CardGateway.Authorize")
	defer span.End()

	util.PaymentAttemptsTotal.WithLabelValues("card", "authorize").Inc()
	chargeID, err := g.processor.CreateCharge(ctx, token, amountCents, capture, description)
	if err != nil {
		util.PaymentFailedTotal.WithLabelValues("card", "authorize").Inc()
		return "", &models.PaymentDeclinedError{Gateway: "card", Reason: err.Error()}
	}
	return chargeID, nil
}

func (g *CardGateway) Capture(ctx context.Context, chargeID string, amountCents int64) (string, error) {
	if err := validateAmount(amountCents); err != nil {
		return "", err
	}
	ctx, span := util.StartSpan(ctx, "CardGateway.Capture")
	defer span.End()

	util.PaymentAttemptsTotal.WithLabelValues("card", "capture").Inc()
	id, err := g.processor.CaptureCharge(ctx, chargeID, amountCents)
	if err != nil {
		util.PaymentFailedTotal.WithLabelValues("card", "capture").Inc()
		return "", &models.PaymentDeclinedError{Gateway: "card", Reason: err.Error()}
	}
	return id, nil
}

// CaptureWithCeiling attempts a full capture first. When the processor
// declines an amount above the ceiling, exactly the ceiling is captured
// and the remainder is reported as debt; the ceiling portion is charged
// once, never twice. A decline at or below the ceiling is a plain
// declined outcome.
func (g *CardGateway) CaptureWithCeiling(ctx context.Context, chargeID string, amountCents int64) (*CaptureOutcome, error) {
	if err := validateAmount(amountCents); err != nil {
		return nil, err
	}
	ctx, span := util.StartSpan(ctx, "CardGateway.CaptureWithCeiling")
	defer span.End()

	id, err := g.Capture(ctx, chargeID, amountCents)
	if err == nil {
		return &CaptureOutcome{Captured: true, ChargeID: id, CapturedCents: amountCents}, nil
	}

	var declined *models.PaymentDeclinedError
	if !errors.As(err, &declined) {
		return nil, err
	}

	if amountCents <= g.ceilingCents {
		return &CaptureOutcome{Captured: false, DeclineReason: declined}, nil
	}

	g.logger.Warn("Full capture declined above ceiling, splitting",
		zap.String("charge_id", chargeID),
		zap.Int64("amount", amountCents),
		zap.Int64("ceiling", g.ceilingCents))

	id, err = g.Capture(ctx, chargeID, g.ceilingCents)
	if err != nil {
		// Even the ceiling portion failed: nothing captured, the whole
		// amount becomes the declined outcome.
		return &CaptureOutcome{Captured: false, DeclineReason: err}, nil
	}

	util.DebtsCreatedTotal.Inc()
	return &CaptureOutcome{
		Captured:      true,
		ChargeID:      id,
		CapturedCents: g.ceilingCents,
		DebtCents:     amountCents - g.ceilingCents,
	}, nil
}

func (g *CardGateway) Refund(ctx context.Context, chargeID string) error {
	ctx, span := util.StartSpan(ctx, "CardGateway.Refund")
	defer span.End()

	if err := g.processor.RefundCharge(ctx, chargeID); err != nil {
		return fmt.Errorf("card refund failed: %w", err)
	}
	return nil
}

// Void releases an uncaptured card authorization. Stripe models this as
// a refund of the uncaptured charge.
func (g *CardGateway) Void(ctx context.Context, chargeID string) error {
	return g.Refund(ctx, chargeID)
}

// CancellationFee charges the flat fee as a fresh captured charge
// against the customer's card.
func (g *CardGateway) CancellationFee(ctx context.Context, token, chargeID string, feeCents int64) (string, error) {
	return g.Authorize(ctx, token, feeCents, true, "cancellation fee")
}
