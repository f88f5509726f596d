package payment

import (
	"context"
	"fmt"

	"delivery-engine/internal/models"
)

// Gateway is the capability set every payment adapter provides.
type Gateway interface {
	// Authorize places a hold (or an immediate charge when capture is
	// true) on the customer's payment instrument.
	Authorize(ctx context.Context, token string, amountCents int64, capture bool, description string) (string, error)
	// Capture finalizes a previously authorized charge, up to the
	// authorized amount.
	Capture(ctx context.Context, chargeID string, amountCents int64) (string, error)
	// Refund returns the captured amount.
	Refund(ctx context.Context, chargeID string) error
	// Void releases an uncaptured authorization.
	Void(ctx context.Context, chargeID string) error
	// CancellationFee charges the flat fee for a late or
	// customer-attributed cancellation instead of a refund/void.
	CancellationFee(ctx context.Context, token, chargeID string, feeCents int64) (string, error)
}

// CaptureOutcome is the result of a ceiling-aware capture. Exactly one
// of the three shapes applies:
//   - full success: Captured true, DebtCents 0
//   - ceiling split: Captured true, DebtCents > 0 (ceiling captured,
//     remainder deferred)
//   - decline: Captured false (amount was at or below the ceiling)
type CaptureOutcome struct {
	Captured       bool
	ChargeID       string
	CapturedCents  int64
	DebtCents      int64
	DeclineReason  error
}

// CeilingCapturer is implemented by adapters that split captures above
// the configured ceiling into an immediate part and a deferred debt.
type CeilingCapturer interface {
	CaptureWithCeiling(ctx context.Context, chargeID string, amountCents int64) (*CaptureOutcome, error)
}

// validateAmount rejects negative amounts before any processor call.
// A negative amount here is an arithmetic bug upstream, not a runtime
// condition to recover from.
func validateAmount(amountCents int64) error {
	if amountCents < 0 {
		return &models.ValidationError{
			Reason: fmt.Sprintf("negative amount: %d", amountCents),
		}
	}
	return nil
}
