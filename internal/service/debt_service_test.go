package service

import (
	"context"
	"testing"
	"time"

	"delivery-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedDebt plants a completed order carrying an outstanding debt.
func seedDebt(f *engineFixture, customerID, amountCents int64) (*models.Order, *models.DebtRecord) {
	order := f.repo.seedOrder(&models.Order{
		Type:       models.OrderTypeBooking,
		Status:     models.OrderStatusCompleted,
		CustomerID: int64Ptr(customerID),
	}, &models.MoneyBreakdown{
		PaymentMethod: models.PaymentMethodStripe,
		DebtAmount:    amountCents,
	})

	debt := &models.DebtRecord{
		OrderID:     order.ID,
		CustomerID:  customerID,
		Amount:      amountCents,
		NextRetryAt: fixedNow.Add(-time.Hour),
	}
	_ = f.debts.CreateDebt(context.Background(), debt)
	f.customers.customers[customerID].DebtAmount += amountCents
	return order, debt
}

func TestDebtRetryCapturesAndSettles(t *testing.T) {
	f := newEngineFixture()
	f.addCustomer(1, 0)
	f.debtSvc.now = func() time.Time { return fixedNow }
	order, debt := seedDebt(f, 1, 7000)

	f.debtSvc.RunDuePass(context.Background())

	breakdown, _ := f.repo.GetBreakdown(context.Background(), order.ID)
	assert.Zero(t, breakdown.DebtAmount)
	assert.NotEmpty(t, breakdown.ChargeID2)
	assert.Equal(t, int64(7000), breakdown.ChargedAmount2)
	assert.Equal(t, int64(7000), f.cardProc.Captured(breakdown.ChargeID2))

	assert.NotNil(t, f.debts.debts[debt.ID].SettledAt)

	customer, _ := f.customers.GetCustomer(context.Background(), 1)
	assert.Zero(t, customer.DebtAmount)

	require.Len(t, f.events.debtSettled, 1)
	assert.Equal(t, int64(7000), f.events.debtSettled[0].Amount)
}

func TestDebtRetryBreakdownWriteFailureChargesOnce(t *testing.T) {
	f := newEngineFixture()
	f.addCustomer(1, 0)
	f.debtSvc.now = func() time.Time { return fixedNow }
	_, debt := seedDebt(f, 1, 7000)

	// The capture succeeds but the breakdown write does not.
	f.repo.failNextSave = true
	f.debtSvc.RunDuePass(context.Background())

	// The row settled anyway: the customer was charged.
	assert.NotNil(t, f.debts.debts[debt.ID].SettledAt)
	require.Len(t, f.events.debtSettled, 1)

	customer, _ := f.customers.GetCustomer(context.Background(), 1)
	assert.Zero(t, customer.DebtAmount)

	// The next pass finds nothing due and never charges again.
	f.debtSvc.RunDuePass(context.Background())
	assert.Len(t, f.events.debtSettled, 1)
}

func TestDebtRetryNoopAfterManualPayoff(t *testing.T) {
	f := newEngineFixture()
	f.addCustomer(1, 0)
	f.debtSvc.now = func() time.Time { return fixedNow }
	order, debt := seedDebt(f, 1, 7000)

	// The breakdown was already cleared through another path; a gateway
	// call would decline.
	breakdown, _ := f.repo.GetBreakdown(context.Background(), order.ID)
	breakdown.DebtAmount = 0
	_ = f.repo.SaveBreakdown(context.Background(), breakdown)
	f.cardProc.FailAll = true

	f.debtSvc.RunDuePass(context.Background())

	assert.NotNil(t, f.debts.debts[debt.ID].SettledAt)
	assert.Zero(t, f.debts.debts[debt.ID].Attempts)
	assert.Empty(t, f.events.debtSettled)
}

func TestDebtRetryDeclineReschedules(t *testing.T) {
	f := newEngineFixture()
	f.addCustomer(1, 0)
	f.debtSvc.now = func() time.Time { return fixedNow }
	_, debt := seedDebt(f, 1, 7000)
	f.cardProc.FailAll = true

	f.debtSvc.RunDuePass(context.Background())

	stored := f.debts.debts[debt.ID]
	assert.Nil(t, stored.SettledAt)
	assert.False(t, stored.FlaggedManual)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, fixedNow.Add(48*time.Hour), stored.NextRetryAt)
}

func TestDebtFlaggedManualAfterMaxAttempts(t *testing.T) {
	f := newEngineFixture()
	f.addCustomer(1, 0)
	f.debtSvc.now = func() time.Time { return fixedNow }
	_, debt := seedDebt(f, 1, 7000)
	f.debts.debts[debt.ID].Attempts = 2 // one attempt left of 3
	f.cardProc.FailAll = true

	f.debtSvc.RunDuePass(context.Background())

	stored := f.debts.debts[debt.ID]
	assert.True(t, stored.FlaggedManual)
	assert.Nil(t, stored.SettledAt)

	// Flagged debts leave the schedule.
	due, err := f.debts.GetDueDebts(context.Background(), fixedNow, 100)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestPayOrderDebtImmediately(t *testing.T) {
	f := newEngineFixture()
	f.addCustomer(1, 0)
	f.debtSvc.now = func() time.Time { return fixedNow }
	order, debt := seedDebt(f, 1, 4200)

	require.NoError(t, f.debtSvc.PayOrderDebt(context.Background(), order.ID))

	assert.NotNil(t, f.debts.debts[debt.ID].SettledAt)
	breakdown, _ := f.repo.GetBreakdown(context.Background(), order.ID)
	assert.Zero(t, breakdown.DebtAmount)
	assert.Equal(t, int64(4200), breakdown.ChargedAmount2)

	// The next scheduled pass has nothing to do.
	f.debtSvc.RunDuePass(context.Background())
	require.Len(t, f.events.debtSettled, 1)
}

func TestPayOrderDebtWithoutDebt(t *testing.T) {
	f := newEngineFixture()

	err := f.debtSvc.PayOrderDebt(context.Background(), 404)

	var notFound *models.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestPayDebtSettlesEveryCustomerDebt(t *testing.T) {
	f := newEngineFixture()
	f.addCustomer(1, 0)
	f.debtSvc.now = func() time.Time { return fixedNow }
	seedDebt(f, 1, 3000)
	seedDebt(f, 1, 2000)

	require.NoError(t, f.debtSvc.PayDebt(context.Background(), 1))

	open, err := f.debts.GetOpenDebtsByCustomer(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, open)

	customer, _ := f.customers.GetCustomer(context.Background(), 1)
	assert.Zero(t, customer.DebtAmount)
}

func TestCreateDebtValidation(t *testing.T) {
	f := newEngineFixture()
	f.addCustomer(1, 0)
	order := f.repo.seedOrder(&models.Order{
		Type:       models.OrderTypeBooking,
		Status:     models.OrderStatusCompleted,
		CustomerID: int64Ptr(1),
	}, &models.MoneyBreakdown{PaymentMethod: models.PaymentMethodStripe})
	breakdown, _ := f.repo.GetBreakdown(context.Background(), order.ID)

	var verr *models.ValidationError
	err := f.debtSvc.CreateDebt(context.Background(), order, breakdown, 0)
	assert.ErrorAs(t, err, &verr)

	orphan := &models.Order{ID: 999, Type: models.OrderTypeBooking}
	err = f.debtSvc.CreateDebt(context.Background(), orphan, breakdown, 1000)
	assert.ErrorAs(t, err, &verr)
}
