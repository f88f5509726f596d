package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"delivery-engine/config"
	"delivery-engine/internal/models"
	"delivery-engine/internal/payment"
	"delivery-engine/internal/pricing"
	"delivery-engine/internal/store"
	"delivery-engine/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Lead time before the scheduled pickup at which drivers are
	// notified, and past which a booking/trip cancellation is "late".
	driverNotifyLead = 30 * time.Minute

	// Credit rewarded to the customer on each order placed without a
	// promo code.
	creditReward = 0.50
	// One-time credit rewarded to the customer's referrer.
	referralReward = 10.00
)

// OrderDraft is the input to order creation.
type OrderDraft struct {
	Type        string     `json:"type"`
	Source      string     `json:"source"`
	MerchantID  *int64     `json:"merchant_id,omitempty"`
	CustomerID  *int64     `json:"customer_id,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`

	Origin      *LatLng `json:"origin,omitempty"`
	Destination *LatLng `json:"destination,omitempty"`
	// Distance overrides the provider lookup when already known.
	Distance float64 `json:"distance,omitempty"`

	Subtotal   float64                `json:"subtotal,omitempty"`
	Items      []models.OrderLineItem `json:"items,omitempty"`
	LargeOrder bool                   `json:"large_order,omitempty"`
	BringBack  bool                   `json:"bring_back,omitempty"`

	CustomAmount *float64 `json:"custom_amount,omitempty"`

	Tip        float64 `json:"tip,omitempty"`
	TipPercent float64 `json:"tip_percent,omitempty"`
	PromoCode  string  `json:"promo_code,omitempty"`

	MerchantBaseFare *float64 `json:"merchant_base_fare,omitempty"`

	PaymentMethod string `json:"payment_method"`
	// PaymentToken is the gateway customer token; when empty the
	// customer's default vaulted card is used.
	PaymentToken string `json:"payment_token,omitempty"`

	// Trip fields, set by the trip coordinator.
	TripUUID *string `json:"-"`
	TripLeg  bool    `json:"-"`
}

// TransitionContext carries per-transition inputs.
type TransitionContext struct {
	// DriverID is required when accepting.
	DriverID *int64 `json:"driver_id,omitempty"`
	// CustomAmount finalizes a custom order's price at on-way time.
	CustomAmount *float64 `json:"custom_amount,omitempty"`
	// AwaitingMinutes is the driver's waiting time at the pickup.
	AwaitingMinutes float64 `json:"awaiting_minutes,omitempty"`
	// ActorCustomer marks the cancellation as the customer's own action.
	ActorCustomer bool `json:"actor_customer,omitempty"`
	// SkipRefund cancels without touching the payment.
	SkipRefund bool `json:"skip_refund,omitempty"`
	// Rollback marks an internal compensation cancel. The hold is always
	// refunded in full; the cancellation fee never applies.
	Rollback bool `json:"-"`
}

// OrderServiceDeps bundles the collaborators of the order engine.
type OrderServiceDeps struct {
	Orders    OrderRepository
	Trips     TripRepository
	Customers CustomerCreditStore
	Promos    PromoCodeStore
	Cards     CardVaultLookup
	Distance  DistanceProvider

	Calculator *pricing.Calculator
	Gateways   map[string]payment.Gateway

	Debts     *DebtService
	Events    EventSink
	Notifier  Notifier
	Scheduler NotifyScheduler

	Payment config.PaymentConfig
}

// OrderService drives orders through the guarded status state machine,
// invoking pricing, payment, debt and notification collaborators.
type OrderService struct {
	deps   OrderServiceDeps
	logger *zap.Logger
	now    func() time.Time
}

// NewOrderService creates the order engine.
func NewOrderService(deps OrderServiceDeps) *OrderService {
	return &OrderService{
		deps:   deps,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// PrepareOrder computes a pricing preview. No side effects.
func (s *OrderService) PrepareOrder(ctx context.Context, draft *OrderDraft) (*models.MoneyBreakdown, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PrepareOrder")
	defer span.End()

	req, err := s.pricingRequest(ctx, draft)
	if err != nil {
		return nil, err
	}
	return s.deps.Calculator.Prepare(ctx, req)
}

// CreateOrder authorizes payment and persists the order with its money
// breakdown. Nothing is persisted when the authorization is declined.
func (s *OrderService) CreateOrder(ctx context.Context, draft *OrderDraft) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	gateway, err := s.gatewayFor(draft.PaymentMethod)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}
	if err := validateDraft(draft); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	req, err := s.pricingRequest(ctx, draft)
	if err != nil {
		return nil, err
	}
	breakdown, err := s.deps.Calculator.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	authCents := breakdown.ChargedAmount
	if draft.Type == models.OrderTypeCustom && breakdown.TotalAmount == nil {
		// Final amount unknown: authorize the fixed placeholder.
		authCents = s.deps.Payment.CustomAuthCents
	}

	token, err := s.paymentToken(ctx, draft)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, gateway, token, authCents, breakdown, draft); err != nil {
		util.OrdersFailedTotal.WithLabelValues("payment_declined").Inc()
		return nil, err
	}

	order := &models.Order{
		UUID:        uuid.New().String(),
		Type:        draft.Type,
		Source:      draft.Source,
		Status:      models.OrderStatusReceived,
		MerchantID:  draft.MerchantID,
		CustomerID:  draft.CustomerID,
		TripUUID:    draft.TripUUID,
		ScheduledAt: draft.ScheduledAt,
	}

	if err := s.deps.Orders.CreateOrderWithBreakdown(ctx, order, breakdown, draft.Items); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	util.OrdersCreatedTotal.WithLabelValues(order.Type).Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("uuid", order.UUID),
		zap.String("type", order.Type))

	s.applyReferralCredits(ctx, order, breakdown, draft)

	if err := s.deps.Scheduler.ScheduleDriverNotify(ctx, order.ID, order.ScheduledAt.Add(-driverNotifyLead)); err != nil {
		s.logger.Error("Failed to schedule driver notify",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}

	s.publishChange(ctx, order, "")
	return order, nil
}

// authorize places the hold(s) for the order and records them on the
// breakdown only after success. An amount above the ceiling is split
// into two authorizations so each capture stays under the ceiling.
func (s *OrderService) authorize(ctx context.Context, gateway payment.Gateway, token string, amountCents int64, breakdown *models.MoneyBreakdown, draft *OrderDraft) error {
	primary := amountCents
	var secondary int64

	if _, isCard := gateway.(*payment.CardGateway); isCard && amountCents > s.deps.Payment.CeilingCents {
		primary = s.deps.Payment.CeilingCents
		secondary = amountCents - s.deps.Payment.CeilingCents
	}

	desc := fmt.Sprintf("%s order for %s", draft.Type, draft.ScheduledAt.Format(time.RFC3339))
	chargeID, err := gateway.Authorize(ctx, token, primary, false, desc)
	if err != nil {
		return err
	}
	breakdown.ChargeID = chargeID
	breakdown.ChargedAmount = primary

	if secondary > 0 {
		chargeID2, err := gateway.Authorize(ctx, token, secondary, false, desc+" (2)")
		if err != nil {
			// Release the first hold; creation fails as a whole.
			if vErr := gateway.Void(ctx, chargeID); vErr != nil {
				s.logger.Error("Failed to void primary hold after split failure",
					zap.String("charge_id", chargeID), zap.Error(vErr))
			}
			breakdown.ChargeID = ""
			breakdown.ChargedAmount = 0
			return err
		}
		breakdown.ChargeID2 = chargeID2
		breakdown.ChargedAmount2 = secondary
	}
	return nil
}

// TransitionStatus is the guarded state machine entry point.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID int64, target string, tctx *TransitionContext) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TransitionStatus")
	defer span.End()

	if tctx == nil {
		tctx = &TransitionContext{}
	}

	order, err := s.deps.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.IsTerminal() || !canTransition(order.Status, target) {
		util.OrderTransitionConflicts.Inc()
		return nil, &models.ConflictError{
			Reason: fmt.Sprintf("order %d cannot move %s -> %s", orderID, order.Status, target),
		}
	}

	prev := order.Status
	switch target {
	case models.OrderStatusAccepted:
		err = s.accept(ctx, order, tctx)
	case models.OrderStatusOnWay:
		err = s.startDelivery(ctx, order, tctx)
	case models.OrderStatusCompleted:
		err = s.complete(ctx, order)
	case models.OrderStatusCancelled:
		err = s.cancel(ctx, order, tctx)
	default:
		err = &models.ValidationError{Reason: fmt.Sprintf("unknown status: %s", target)}
	}
	if err != nil {
		return nil, err
	}

	applyStatus(order, target, s.now())
	if err := s.deps.Orders.UpdateOrderTransition(ctx, order); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			util.OrderTransitionConflicts.Inc()
			return nil, &models.ConflictError{
				Reason: fmt.Sprintf("order %d changed concurrently", orderID),
			}
		}
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(target).Inc()
	s.logger.Info("Order transitioned",
		zap.Int64("order_id", order.ID),
		zap.String("from", prev),
		zap.String("to", target))

	if order.IsTerminal() && order.TripUUID != nil {
		s.finishTripLeg(ctx, order)
	}
	if order.Status == models.OrderStatusCompleted && order.TripUUID == nil {
		if err := s.deps.Notifier.Receipt(ctx, []models.Order{*order}); err != nil {
			s.logger.Error("Receipt notification failed",
				zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	s.publishChange(ctx, order, prev)
	return order, nil
}

// accept assigns the driver, enforcing the capacity guard.
func (s *OrderService) accept(ctx context.Context, order *models.Order, tctx *TransitionContext) error {
	if tctx.DriverID == nil {
		return &models.ValidationError{Reason: "driver_id required to accept"}
	}

	driver, err := s.deps.Orders.GetDriver(ctx, *tctx.DriverID)
	if err != nil {
		return err
	}

	if driver.MaxSimultaneousDelivery > 0 {
		active, err := s.deps.Orders.CountActiveOrdersForDriver(ctx, driver.ID)
		if err != nil {
			return err
		}
		if active >= driver.MaxSimultaneousDelivery {
			util.OrderTransitionConflicts.Inc()
			return &models.ConflictError{
				Reason: fmt.Sprintf("driver %d at capacity (%d)", driver.ID, driver.MaxSimultaneousDelivery),
			}
		}
	}

	order.DriverID = tctx.DriverID
	return nil
}

// startDelivery finalizes custom-order pricing now that the real amount
// is known, and captures it. Legacy-sourced customs keep the old
// behavior of capturing at completion.
func (s *OrderService) startDelivery(ctx context.Context, order *models.Order, tctx *TransitionContext) error {
	if order.Type != models.OrderTypeCustom {
		return nil
	}

	breakdown, err := s.deps.Orders.GetBreakdown(ctx, order.ID)
	if err != nil {
		return err
	}

	amount := tctx.CustomAmount
	if amount == nil {
		amount = breakdown.CustomAmount
	}
	if amount == nil {
		return &models.ValidationError{Reason: "custom amount required before going on way"}
	}

	final, err := s.deps.Calculator.Prepare(ctx, &pricing.PrepareRequest{
		OrderType:       order.Type,
		Source:          order.Source,
		Distance:        breakdown.Distance,
		ScheduledAt:     order.ScheduledAt,
		AwaitingMinutes: tctx.AwaitingMinutes,
		CustomAmount:    amount,
		Tip:             breakdown.Tip,
		TipPercent:      breakdown.TipPercent,
		CustomerID:      order.CustomerID,
		PaymentMethod:   breakdown.PaymentMethod,
	})
	if err != nil {
		return err
	}

	breakdown.CustomAmount = final.CustomAmount
	breakdown.ServiceFee = final.ServiceFee
	breakdown.AwaitingFare = final.AwaitingFare
	breakdown.DeliveryCharge = final.DeliveryCharge
	breakdown.TPS = final.TPS
	breakdown.TVQ = final.TVQ
	breakdown.Tip = final.Tip
	breakdown.Discount = final.Discount
	breakdown.TotalAmount = final.TotalAmount

	if order.Source == models.OrderSourceCustomerLegacy {
		// Legacy clients settle at completion.
		return s.deps.Orders.SaveBreakdown(ctx, breakdown)
	}

	if err := s.captureCustom(ctx, order, breakdown, final.ChargedAmount); err != nil {
		return err
	}
	return s.deps.Orders.SaveBreakdown(ctx, breakdown)
}

// captureCustom charges the final custom amount. The placeholder hold
// from creation is released and a fresh charge is placed, since the
// placeholder never covers the real amount.
func (s *OrderService) captureCustom(ctx context.Context, order *models.Order, breakdown *models.MoneyBreakdown, amountCents int64) error {
	gateway, err := s.gatewayFor(breakdown.PaymentMethod)
	if err != nil {
		return err
	}

	token, err := s.tokenForOrder(ctx, order)
	if err != nil {
		return err
	}

	if breakdown.ChargeID != "" {
		if err := gateway.Void(ctx, breakdown.ChargeID); err != nil {
			s.logger.Warn("Failed to release placeholder hold",
				zap.Int64("order_id", order.ID),
				zap.String("charge_id", breakdown.ChargeID),
				zap.Error(err))
		}
		// The old hold is dead either way; drop the reference now so a
		// later cancellation or retry never refunds it.
		breakdown.ChargeID = ""
		breakdown.ChargedAmount = 0
		if err := s.deps.Orders.SaveBreakdown(ctx, breakdown); err != nil {
			return err
		}
	}

	chargeID, err := gateway.Authorize(ctx, token, amountCents, false, fmt.Sprintf("custom order %s", order.UUID))
	if err != nil {
		return err
	}

	if capturer, ok := gateway.(payment.CeilingCapturer); ok {
		outcome, err := capturer.CaptureWithCeiling(ctx, chargeID, amountCents)
		if err != nil {
			s.releaseHold(ctx, gateway, order.ID, chargeID)
			return err
		}
		if !outcome.Captured {
			s.releaseHold(ctx, gateway, order.ID, chargeID)
			return &models.PaymentDeclinedError{Gateway: breakdown.PaymentMethod, Reason: outcome.DeclineReason.Error()}
		}
		breakdown.ChargeID = outcome.ChargeID
		breakdown.ChargedAmount = outcome.CapturedCents
		if outcome.DebtCents > 0 {
			s.convertToDebt(ctx, order, breakdown, outcome.DebtCents)
		}
		return nil
	}

	captured, err := gateway.Capture(ctx, chargeID, amountCents)
	if err != nil {
		s.releaseHold(ctx, gateway, order.ID, chargeID)
		return err
	}
	breakdown.ChargeID = captured
	breakdown.ChargedAmount = amountCents
	return nil
}

// releaseHold voids an authorization that will not be captured. A
// failure only logs; the hold expires at the gateway on its own.
func (s *OrderService) releaseHold(ctx context.Context, gateway payment.Gateway, orderID int64, chargeID string) {
	if err := gateway.Void(ctx, chargeID); err != nil {
		s.logger.Error("Failed to release hold",
			zap.Int64("order_id", orderID),
			zap.String("charge_id", chargeID),
			zap.Error(err))
	}
}

// complete captures the remaining authorized amount, plus the secondary
// charge when creation split the authorization.
func (s *OrderService) complete(ctx context.Context, order *models.Order) error {
	breakdown, err := s.deps.Orders.GetBreakdown(ctx, order.ID)
	if err != nil {
		return err
	}

	if order.Type == models.OrderTypeCustom {
		// Non-legacy customs were captured when going on way.
		if order.Source != models.OrderSourceCustomerLegacy {
			return nil
		}
		if breakdown.TotalAmount == nil {
			return &models.ValidationError{Reason: "custom amount never finalized"}
		}
		if err := s.captureCustom(ctx, order, breakdown, pricing.ToCents(*breakdown.TotalAmount)); err != nil {
			return err
		}
		return s.deps.Orders.SaveBreakdown(ctx, breakdown)
	}
	if breakdown.ChargeID == "" {
		return nil
	}

	gateway, err := s.gatewayFor(breakdown.PaymentMethod)
	if err != nil {
		return err
	}

	start := s.now()
	if err := s.captureAt(ctx, gateway, order, breakdown, breakdown.ChargeID, breakdown.ChargedAmount); err != nil {
		return err
	}
	if breakdown.ChargeID2 != "" {
		if err := s.captureSecondary(ctx, gateway, order, breakdown); err != nil {
			return err
		}
	}
	util.PaymentCaptureLatency.Observe(time.Since(start).Seconds())

	return s.deps.Orders.SaveBreakdown(ctx, breakdown)
}

// captureAt finalizes the primary charge. A decline at or below the
// ceiling is fatal to the completion; above it, the ceiling portion is
// captured and the remainder becomes debt.
func (s *OrderService) captureAt(ctx context.Context, gateway payment.Gateway, order *models.Order, breakdown *models.MoneyBreakdown, chargeID string, amountCents int64) error {
	if capturer, ok := gateway.(payment.CeilingCapturer); ok {
		outcome, err := capturer.CaptureWithCeiling(ctx, chargeID, amountCents)
		if err != nil {
			return err
		}
		if !outcome.Captured {
			return &models.UnderpaidCompletionError{
				OrderID: order.ID,
				Amount:  amountCents,
				Cause:   outcome.DeclineReason,
			}
		}
		breakdown.ChargeID = outcome.ChargeID
		breakdown.ChargedAmount = outcome.CapturedCents
		if outcome.DebtCents > 0 {
			s.convertToDebt(ctx, order, breakdown, outcome.DebtCents)
		}
		return nil
	}

	captured, err := gateway.Capture(ctx, chargeID, amountCents)
	if err != nil {
		var declined *models.PaymentDeclinedError
		if errors.As(err, &declined) {
			return &models.UnderpaidCompletionError{OrderID: order.ID, Amount: amountCents, Cause: declined}
		}
		return err
	}
	breakdown.ChargeID = captured
	return nil
}

// captureSecondary finalizes the split remainder; a decline here is
// converted to debt rather than failing the completion.
func (s *OrderService) captureSecondary(ctx context.Context, gateway payment.Gateway, order *models.Order, breakdown *models.MoneyBreakdown) error {
	if _, err := gateway.Capture(ctx, breakdown.ChargeID2, breakdown.ChargedAmount2); err != nil {
		var declined *models.PaymentDeclinedError
		if !errors.As(err, &declined) {
			return err
		}
		s.logger.Warn("Secondary capture declined, deferring as debt",
			zap.Int64("order_id", order.ID),
			zap.Int64("amount", breakdown.ChargedAmount2))
		debt := breakdown.ChargedAmount2
		breakdown.ChargeID2 = ""
		breakdown.ChargedAmount2 = 0
		s.convertToDebt(ctx, order, breakdown, debt)
	}
	return nil
}

// convertToDebt hands a failed remainder to the debt ledger. The order
// still completes; collection is deferred.
func (s *OrderService) convertToDebt(ctx context.Context, order *models.Order, breakdown *models.MoneyBreakdown, amountCents int64) {
	if s.deps.Debts == nil || order.CustomerID == nil {
		s.logger.Error("Cannot create debt: no ledger or customer",
			zap.Int64("order_id", order.ID),
			zap.Int64("amount", amountCents))
		return
	}
	if err := s.deps.Debts.CreateDebt(ctx, order, breakdown, amountCents); err != nil {
		s.logger.Error("Failed to create debt",
			zap.Int64("order_id", order.ID),
			zap.Int64("amount", amountCents),
			zap.Error(err))
	}
}

// cancel refunds or fee-charges the payment and stamps the order.
func (s *OrderService) cancel(ctx context.Context, order *models.Order, tctx *TransitionContext) error {
	if err := s.deps.Scheduler.CancelDriverNotify(ctx, order.ID); err != nil {
		s.logger.Warn("Failed to cancel scheduled notify",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}

	if tctx.SkipRefund {
		return nil
	}

	breakdown, err := s.deps.Orders.GetBreakdown(ctx, order.ID)
	if err != nil {
		return err
	}
	if breakdown.ChargeID == "" {
		return nil
	}

	gateway, err := s.gatewayFor(breakdown.PaymentMethod)
	if err != nil {
		return err
	}

	if s.chargeableCancellation(order, tctx) {
		return s.cancellationFee(ctx, gateway, order, breakdown)
	}

	// Full refund. Failures are swallowed: the amount may already have
	// been returned through another path.
	if err := gateway.Refund(ctx, breakdown.ChargeID); err != nil {
		s.logger.Error("Refund failed",
			zap.Int64("order_id", order.ID),
			zap.String("charge_id", breakdown.ChargeID),
			zap.Error(err))
	}
	if breakdown.ChargeID2 != "" {
		if err := gateway.Refund(ctx, breakdown.ChargeID2); err != nil {
			s.logger.Error("Secondary refund failed",
				zap.Int64("order_id", order.ID),
				zap.String("charge_id", breakdown.ChargeID2),
				zap.Error(err))
		}
	}
	return nil
}

// chargeableCancellation decides whether the flat fee applies instead
// of a refund: the customer's own action once a driver is attached, or
// any booking/trip cancellation within the lead window of the pickup.
// Internal rollbacks always refund.
func (s *OrderService) chargeableCancellation(order *models.Order, tctx *TransitionContext) bool {
	if tctx.Rollback {
		return false
	}
	if tctx.ActorCustomer && order.DriverID != nil {
		return true
	}
	if order.Type == models.OrderTypeBooking || order.Type == models.OrderTypeTrip {
		return s.now().After(order.ScheduledAt.Add(-driverNotifyLead))
	}
	return false
}

func (s *OrderService) cancellationFee(ctx context.Context, gateway payment.Gateway, order *models.Order, breakdown *models.MoneyBreakdown) error {
	token, err := s.tokenForOrder(ctx, order)
	if err != nil {
		return err
	}

	feeID, err := gateway.CancellationFee(ctx, token, breakdown.ChargeID, s.deps.Payment.CancellationFeeCents)
	if err != nil {
		s.logger.Error("Cancellation fee charge failed",
			zap.Int64("order_id", order.ID), zap.Error(err))
		return nil
	}

	// Release the original hold for card payments; the fee replaced it.
	if _, isCard := gateway.(*payment.CardGateway); isCard {
		if err := gateway.Void(ctx, breakdown.ChargeID); err != nil {
			s.logger.Error("Failed to void original hold after fee",
				zap.Int64("order_id", order.ID), zap.Error(err))
		}
		if breakdown.ChargeID2 != "" {
			if err := gateway.Void(ctx, breakdown.ChargeID2); err != nil {
				s.logger.Error("Failed to void secondary hold after fee",
					zap.Int64("order_id", order.ID), zap.Error(err))
			}
		}
	}

	breakdown.ChargeID = feeID
	breakdown.ChargedAmount = s.deps.Payment.CancellationFeeCents
	breakdown.ChargeID2 = ""
	breakdown.ChargedAmount2 = 0
	return s.deps.Orders.SaveBreakdown(ctx, breakdown)
}

// finishTripLeg advances the trip completion counter and fires the
// aggregate receipt exactly once when every leg is terminal.
func (s *OrderService) finishTripLeg(ctx context.Context, order *models.Order) {
	group, err := s.deps.Trips.IncrementTerminalLegs(ctx, *order.TripUUID)
	if err != nil {
		s.logger.Error("Failed to advance trip counter",
			zap.String("trip_uuid", *order.TripUUID), zap.Error(err))
		return
	}
	if group.TerminalLegs < group.TotalLegs {
		return
	}

	first, err := s.deps.Trips.MarkTripReceiptSent(ctx, *order.TripUUID)
	if err != nil {
		s.logger.Error("Failed to mark trip receipt",
			zap.String("trip_uuid", *order.TripUUID), zap.Error(err))
		return
	}
	if !first {
		return
	}

	legs, err := s.deps.Orders.GetOrdersByTripUUID(ctx, *order.TripUUID)
	if err != nil {
		s.logger.Error("Failed to load trip legs",
			zap.String("trip_uuid", *order.TripUUID), zap.Error(err))
		return
	}

	completed := make([]models.Order, 0, len(legs))
	completedIDs := make([]int64, 0, len(legs))
	for _, leg := range legs {
		if leg.Status == models.OrderStatusCompleted {
			completed = append(completed, leg)
			completedIDs = append(completedIDs, leg.ID)
		}
	}

	util.TripsCompletedTotal.Inc()
	if err := s.deps.Notifier.Receipt(ctx, completed); err != nil {
		s.logger.Error("Trip receipt notification failed",
			zap.String("trip_uuid", *order.TripUUID), zap.Error(err))
	}
	if err := s.deps.Events.PublishTripCompleted(ctx, &models.TripCompletedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeTripCompleted),
		TripUUID:      *order.TripUUID,
		CompletedLegs: completedIDs,
	}); err != nil {
		s.logger.Error("Failed to publish TripCompleted", zap.Error(err))
	}
}

// applyReferralCredits runs the creation-path credit side effects for
// customer-sourced orders: consume the promo, or reward order credit;
// pay the referrer once.
func (s *OrderService) applyReferralCredits(ctx context.Context, order *models.Order, breakdown *models.MoneyBreakdown, draft *OrderDraft) {
	if order.Source != models.OrderSourceCustomer || order.CustomerID == nil {
		return
	}
	customerID := *order.CustomerID

	if draft.PromoCode != "" {
		if err := s.deps.Promos.ConsumePromo(ctx, draft.PromoCode); err != nil {
			s.logger.Error("Failed to consume promo code",
				zap.String("code", draft.PromoCode), zap.Error(err))
		}
	} else {
		// The credit-based discount spends accumulated credit; the
		// plain path rewards a small amount per order.
		delta := creditReward
		if breakdown.Discount < 0 {
			delta = breakdown.Discount
		}
		if err := s.deps.Customers.AddCustomerCredit(ctx, customerID, delta); err != nil {
			s.logger.Error("Failed to adjust customer credit",
				zap.Int64("customer_id", customerID), zap.Error(err))
		}
	}

	customer, err := s.deps.Customers.GetCustomer(ctx, customerID)
	if err != nil {
		s.logger.Error("Failed to load customer for referral",
			zap.Int64("customer_id", customerID), zap.Error(err))
		return
	}
	if customer.RefUserID != nil && !customer.RefPaid {
		if err := s.deps.Customers.AddCustomerCredit(ctx, *customer.RefUserID, referralReward); err != nil {
			s.logger.Error("Failed to credit referrer",
				zap.Int64("referrer_id", *customer.RefUserID), zap.Error(err))
			return
		}
		if err := s.deps.Customers.MarkReferralPaid(ctx, customerID); err != nil {
			s.logger.Error("Failed to mark referral paid",
				zap.Int64("customer_id", customerID), zap.Error(err))
		}
	}
}

// GetOrder retrieves an order with its breakdown.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, *models.MoneyBreakdown, error) {
	order, err := s.deps.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	breakdown, err := s.deps.Orders.GetBreakdown(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, breakdown, nil
}

// GetActiveOrderCountForDriver counts a driver's accepted/on-way orders.
func (s *OrderService) GetActiveOrderCountForDriver(ctx context.Context, driverID int64) (int, error) {
	return s.deps.Orders.CountActiveOrdersForDriver(ctx, driverID)
}

func (s *OrderService) pricingRequest(ctx context.Context, draft *OrderDraft) (*pricing.PrepareRequest, error) {
	distance := draft.Distance
	if distance == 0 && draft.Origin != nil && draft.Destination != nil {
		d, err := s.deps.Distance.GetDistance(ctx, *draft.Origin, *draft.Destination)
		if err != nil {
			return nil, fmt.Errorf("distance lookup failed: %w", err)
		}
		distance = d
	}

	return &pricing.PrepareRequest{
		OrderType:        draft.Type,
		Source:           draft.Source,
		Distance:         distance,
		ScheduledAt:      draft.ScheduledAt,
		Subtotal:         draft.Subtotal,
		LargeOrder:       draft.LargeOrder,
		BringBack:        draft.BringBack,
		CustomAmount:     draft.CustomAmount,
		Tip:              draft.Tip,
		TipPercent:       draft.TipPercent,
		PromoCode:        draft.PromoCode,
		CustomerID:       draft.CustomerID,
		MerchantBaseFare: draft.MerchantBaseFare,
		TripLeg:          draft.TripLeg,
		PaymentMethod:    draft.PaymentMethod,
	}, nil
}

func (s *OrderService) gatewayFor(method string) (payment.Gateway, error) {
	gateway, ok := s.deps.Gateways[method]
	if !ok {
		return nil, &models.ValidationError{Reason: fmt.Sprintf("unsupported payment method: %q", method)}
	}
	return gateway, nil
}

func (s *OrderService) paymentToken(ctx context.Context, draft *OrderDraft) (string, error) {
	if draft.PaymentToken != "" {
		return draft.PaymentToken, nil
	}
	if draft.CustomerID == nil {
		return "", &models.ValidationError{Reason: "payment token or customer required"}
	}
	card, err := s.deps.Cards.GetDefaultCard(ctx, *draft.CustomerID)
	if err != nil {
		return "", err
	}
	return card.GatewayToken, nil
}

func (s *OrderService) tokenForOrder(ctx context.Context, order *models.Order) (string, error) {
	if order.CustomerID == nil {
		return "", &models.ValidationError{Reason: "order has no customer for payment lookup"}
	}
	card, err := s.deps.Cards.GetDefaultCard(ctx, *order.CustomerID)
	if err != nil {
		return "", err
	}
	return card.GatewayToken, nil
}

func (s *OrderService) publishChange(ctx context.Context, order *models.Order, prev string) {
	event := &models.OrderChangedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderChanged),
		OrderID:    order.ID,
		OrderUUID:  order.UUID,
		OrderType:  order.Type,
		PrevStatus: prev,
		Status:     order.Status,
		DriverID:   order.DriverID,
		TripUUID:   order.TripUUID,
	}
	if err := s.deps.Events.PublishOrderChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderChanged",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}
	if err := s.deps.Notifier.OrderStatusChanged(ctx, order); err != nil {
		s.logger.Error("Status notification failed",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

func validateDraft(draft *OrderDraft) error {
	switch draft.Type {
	case models.OrderTypeBooking, models.OrderTypeMenu, models.OrderTypeCustom, models.OrderTypeTrip:
	default:
		return &models.ValidationError{Reason: fmt.Sprintf("unknown order type: %q", draft.Type)}
	}
	switch draft.Source {
	case models.OrderSourceCustomer, models.OrderSourceCustomerLegacy,
		models.OrderSourceMerchant, models.OrderSourceManual:
	default:
		return &models.ValidationError{Reason: fmt.Sprintf("unknown order source: %q", draft.Source)}
	}
	if draft.Type == models.OrderTypeMenu && draft.MerchantID == nil {
		return &models.ValidationError{Reason: "menu orders require a merchant"}
	}
	if draft.ScheduledAt.IsZero() {
		return &models.ValidationError{Reason: "scheduled_at required"}
	}
	return nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
