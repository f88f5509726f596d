package service

import (
	"context"
	"fmt"
	"time"

	"delivery-engine/config"
	"delivery-engine/internal/models"
	"delivery-engine/internal/payment"
	"delivery-engine/internal/util"

	"go.uber.org/zap"
)

// DebtService is the ledger for uncaptured remainders. It creates debts
// when a capture fails past the ceiling, retries them on a schedule and
// settles them manually on customer request.
type DebtService struct {
	orders    OrderRepository
	debts     DebtRepository
	customers CustomerCreditStore
	cards     CardVaultLookup
	gateway   payment.Gateway
	events    EventSink
	cfg       config.DebtConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewDebtService creates the debt ledger. The gateway is the card
// gateway: debt retries always run against the customer's default card.
func NewDebtService(
	orders OrderRepository,
	debts DebtRepository,
	customers CustomerCreditStore,
	cards CardVaultLookup,
	gateway payment.Gateway,
	events EventSink,
	cfg config.DebtConfig,
) *DebtService {
	return &DebtService{
		orders:    orders,
		debts:     debts,
		customers: customers,
		cards:     cards,
		gateway:   gateway,
		events:    events,
		cfg:       cfg,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// CreateDebt records an uncaptured remainder for later collection: the
// amount lands on the breakdown, on a scheduled debt row and on the
// customer's aggregate counter.
func (ds *DebtService) CreateDebt(ctx context.Context, order *models.Order, breakdown *models.MoneyBreakdown, amountCents int64) error {
	ctx, span := util.StartSpan(ctx, "DebtService.CreateDebt")
	defer span.End()

	if order.CustomerID == nil {
		return &models.ValidationError{Reason: "debt requires a customer"}
	}
	if amountCents <= 0 {
		return &models.ValidationError{Reason: fmt.Sprintf("invalid debt amount: %d", amountCents)}
	}

	breakdown.DebtAmount = amountCents
	if err := ds.orders.SaveBreakdown(ctx, breakdown); err != nil {
		return fmt.Errorf("failed to record debt on breakdown: %w", err)
	}

	debt := &models.DebtRecord{
		OrderID:     order.ID,
		CustomerID:  *order.CustomerID,
		Amount:      amountCents,
		NextRetryAt: ds.now().Add(ds.retryDelay()),
	}
	if err := ds.debts.CreateDebt(ctx, debt); err != nil {
		return fmt.Errorf("failed to create debt record: %w", err)
	}

	if err := ds.customers.AddCustomerDebt(ctx, *order.CustomerID, amountCents); err != nil {
		ds.logger.Error("Failed to bump customer debt counter",
			zap.Int64("customer_id", *order.CustomerID), zap.Error(err))
	}

	ds.logger.Warn("Debt created",
		zap.Int64("order_id", order.ID),
		zap.Int64("customer_id", *order.CustomerID),
		zap.Int64("amount", amountCents))

	if err := ds.events.PublishDebtCreated(ctx, &models.DebtCreatedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeDebtCreated),
		OrderID:    order.ID,
		CustomerID: *order.CustomerID,
		Amount:     amountCents,
	}); err != nil {
		ds.logger.Error("Failed to publish DebtCreated", zap.Error(err))
	}
	return nil
}

// RunDuePass retries every debt whose schedule has come due. Called by
// the background worker on each tick; safe to run concurrently with
// foreground mutations because every retry re-reads authoritative state
// first.
func (ds *DebtService) RunDuePass(ctx context.Context) {
	due, err := ds.debts.GetDueDebts(ctx, ds.now(), 100)
	if err != nil {
		ds.logger.Error("Failed to load due debts", zap.Error(err))
		return
	}

	for i := range due {
		if err := ds.retry(ctx, &due[i], false); err != nil {
			ds.logger.Warn("Debt retry failed",
				zap.Int64("debt_id", due[i].ID),
				zap.Int64("order_id", due[i].OrderID),
				zap.Error(err))
		}
	}
}

// retry attempts to collect one debt. When the breakdown shows no
// outstanding amount (a manual payoff won the race) the row is settled
// without any gateway call.
func (ds *DebtService) retry(ctx context.Context, debt *models.DebtRecord, manual bool) error {
	ctx, span := util.StartSpan(ctx, "DebtService.retry")
	defer span.End()

	breakdown, err := ds.orders.GetBreakdown(ctx, debt.OrderID)
	if err != nil {
		return err
	}

	if breakdown.DebtAmount == 0 {
		util.DebtRetriesTotal.WithLabelValues("noop").Inc()
		return ds.debts.SettleDebt(ctx, debt.ID, ds.now())
	}

	card, err := ds.cards.GetDefaultCard(ctx, debt.CustomerID)
	if err != nil {
		ds.reschedule(ctx, debt)
		return err
	}

	amount := breakdown.DebtAmount
	chargeID, err := ds.gateway.Authorize(ctx, card.GatewayToken,
		amount, true, fmt.Sprintf("outstanding balance for order %d", debt.OrderID))
	if err != nil {
		util.DebtRetriesTotal.WithLabelValues("declined").Inc()
		ds.reschedule(ctx, debt)
		return err
	}

	// Settle the row before touching the breakdown: the customer is
	// charged at this point, and a settled row is what keeps the next
	// pass from charging again. The breakdown write failing afterwards
	// only leaves a stale debt figure on the order.
	if err := ds.debts.SettleDebt(ctx, debt.ID, ds.now()); err != nil {
		return fmt.Errorf("failed to settle debt row: %w", err)
	}
	breakdown.ChargeID2 = chargeID
	breakdown.ChargedAmount2 = amount
	breakdown.DebtAmount = 0
	if err := ds.orders.SaveBreakdown(ctx, breakdown); err != nil {
		ds.logger.Error("Failed to clear debt on breakdown",
			zap.Int64("order_id", debt.OrderID), zap.Error(err))
	}
	if err := ds.customers.AddCustomerDebt(ctx, debt.CustomerID, -amount); err != nil {
		ds.logger.Error("Failed to lower customer debt counter",
			zap.Int64("customer_id", debt.CustomerID), zap.Error(err))
	}

	path := "scheduled"
	if manual {
		path = "manual"
	}
	util.DebtsSettledTotal.WithLabelValues(path).Inc()
	util.DebtRetriesTotal.WithLabelValues("captured").Inc()
	ds.logger.Info("Debt settled",
		zap.Int64("debt_id", debt.ID),
		zap.Int64("order_id", debt.OrderID),
		zap.Int64("amount", amount),
		zap.String("path", path))

	if err := ds.events.PublishDebtSettled(ctx, &models.DebtSettledEvent{
		BaseEvent:  newBaseEvent(models.EventTypeDebtSettled),
		OrderID:    debt.OrderID,
		CustomerID: debt.CustomerID,
		Amount:     amount,
		ChargeID:   chargeID,
	}); err != nil {
		ds.logger.Error("Failed to publish DebtSettled", zap.Error(err))
	}
	return nil
}

// reschedule books the next attempt, or flags the debt for manual
// collection once the attempt budget is spent.
func (ds *DebtService) reschedule(ctx context.Context, debt *models.DebtRecord) {
	if debt.Attempts+1 >= ds.cfg.MaxAttempts {
		ds.logger.Warn("Debt flagged for manual collection",
			zap.Int64("debt_id", debt.ID),
			zap.Int("attempts", debt.Attempts+1))
		if err := ds.debts.FlagDebtManual(ctx, debt.ID); err != nil {
			ds.logger.Error("Failed to flag debt", zap.Error(err))
		}
		return
	}
	if err := ds.debts.RescheduleDebt(ctx, debt.ID, ds.now().Add(ds.retryDelay())); err != nil {
		ds.logger.Error("Failed to reschedule debt", zap.Error(err))
	}
}

// PayOrderDebt settles the outstanding debt on one order immediately,
// outside the schedule. The next scheduled tick becomes a no-op.
func (ds *DebtService) PayOrderDebt(ctx context.Context, orderID int64) error {
	debt, err := ds.debts.GetOpenDebtByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if debt == nil {
		return &models.NotFoundError{Entity: "debt", ID: orderID}
	}
	return ds.retry(ctx, debt, true)
}

// PayDebt settles every outstanding debt of a customer immediately.
func (ds *DebtService) PayDebt(ctx context.Context, customerID int64) error {
	debts, err := ds.debts.GetOpenDebtsByCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if len(debts) == 0 {
		return &models.NotFoundError{Entity: "debt", ID: customerID}
	}
	for i := range debts {
		if err := ds.retry(ctx, &debts[i], true); err != nil {
			return err
		}
	}
	return nil
}

func (ds *DebtService) retryDelay() time.Duration {
	return time.Duration(ds.cfg.RetryDelay) * time.Hour
}
