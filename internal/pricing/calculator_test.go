package pricing

import (
	"context"
	"sync"
	"testing"
	"time"

	"delivery-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapBackend is an in-memory Backend for tests.
type mapBackend struct {
	mu     sync.Mutex
	values map[string]string
}

func newMapBackend() *mapBackend {
	return &mapBackend{values: make(map[string]string)}
}

func (b *mapBackend) GetConstant(ctx context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (b *mapBackend) SetConstant(ctx context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
	return nil
}

type staticPromos map[string]float64

func (p staticPromos) GetPromo(ctx context.Context, code string) (*models.PromoCode, error) {
	if d, ok := p[code]; ok {
		return &models.PromoCode{Code: code, Discount: d}, nil
	}
	return nil, nil
}

type staticCredits map[int64]float64

func (c staticCredits) GetCustomer(ctx context.Context, customerID int64) (*models.Customer, error) {
	return &models.Customer{ID: customerID, Credit: c[customerID]}, nil
}

func newTestCalculator(promos staticPromos, credits staticCredits) *Calculator {
	return NewCalculator(NewConstantsStore(newMapBackend()), promos, credits)
}

// offSurge and inSurge are fixed times outside and inside the default
// surge window (16:30-19:30).
var (
	offSurge = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	inSurge  = time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
)

func TestBookingPricing(t *testing.T) {
	calc := newTestCalculator(nil, nil)

	b, err := calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:   models.OrderTypeBooking,
		Source:      models.OrderSourceCustomer,
		Distance:    8000,
		ScheduledAt: offSurge,
	})
	require.NoError(t, err)

	assert.InDelta(t, 12.99, b.BaseFare, 1e-9)
	assert.InDelta(t, 5*0.55, b.DistanceFare, 1e-9) // 5 billable km
	assert.InDelta(t, 15.74, b.DeliveryCharge, 1e-9)

	require.NotNil(t, b.TPS)
	require.NotNil(t, b.TVQ)
	assert.InDelta(t, 15.74*0.05, *b.TPS, 1e-9)
	assert.InDelta(t, 15.74*0.09975, *b.TVQ, 1e-9)

	expectedTotal := 15.74 + 15.74*0.05 + 15.74*0.09975
	require.NotNil(t, b.TotalAmount)
	assert.InDelta(t, expectedTotal, *b.TotalAmount, 1e-9)
	assert.Equal(t, ToCents(expectedTotal), b.ChargedAmount)
}

func TestPricingIsDeterministic(t *testing.T) {
	calc := newTestCalculator(nil, nil)
	req := &PrepareRequest{
		OrderType:   models.OrderTypeBooking,
		Source:      models.OrderSourceCustomer,
		Distance:    12345,
		ScheduledAt: inSurge,
		Subtotal:    33.20,
		LargeOrder:  true,
		TipPercent:  0.15,
	}

	first, err := calc.Prepare(context.Background(), req)
	require.NoError(t, err)
	second, err := calc.Prepare(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSurgeMultipliesExtras(t *testing.T) {
	calc := newTestCalculator(nil, nil)

	b, err := calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:   models.OrderTypeBooking,
		Source:      models.OrderSourceCustomer,
		Distance:    8000,
		ScheduledAt: inSurge,
		LargeOrder:  true,
	})
	require.NoError(t, err)

	assert.InDelta(t, 12.99*1.2, b.BaseFare, 1e-9) // 15.588
	assert.InDelta(t, 5*0.55*1.2, b.DistanceFare, 1e-9)
	assert.InDelta(t, 5.00*1.2, b.LargeOrderFare, 1e-9)
}

func TestSurgeWindowBoundaries(t *testing.T) {
	calc := newTestCalculator(nil, nil)

	cases := []struct {
		name  string
		at    time.Time
		surge bool
	}{
		{"before start", time.Date(2026, 3, 10, 16, 29, 0, 0, time.UTC), false},
		{"at start", time.Date(2026, 3, 10, 16, 30, 0, 0, time.UTC), true},
		{"inside", time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC), true},
		{"at end", time.Date(2026, 3, 10, 19, 30, 0, 0, time.UTC), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := calc.Prepare(context.Background(), &PrepareRequest{
				OrderType:   models.OrderTypeBooking,
				Source:      models.OrderSourceCustomer,
				ScheduledAt: tc.at,
			})
			require.NoError(t, err)

			expected := 12.99
			if tc.surge {
				expected *= 1.2
			}
			assert.InDelta(t, expected, b.BaseFare, 1e-9)
		})
	}
}

func TestDistanceClamping(t *testing.T) {
	calc := newTestCalculator(nil, nil)

	// Below the minimum nothing is billable.
	b, err := calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:   models.OrderTypeBooking,
		Source:      models.OrderSourceCustomer,
		Distance:    2000,
		ScheduledAt: offSurge,
	})
	require.NoError(t, err)
	assert.Zero(t, b.DistanceFare)

	// Above the maximum the fare stops growing.
	b, err = calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:   models.OrderTypeBooking,
		Source:      models.OrderSourceCustomer,
		Distance:    50000,
		ScheduledAt: offSurge,
	})
	require.NoError(t, err)
	assert.InDelta(t, 17*0.55, b.DistanceFare, 1e-9) // (20000-3000)/1000 km
}

func TestBringBackCompoundsOnSurge(t *testing.T) {
	calc := newTestCalculator(nil, nil)

	b, err := calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:   models.OrderTypeBooking,
		Source:      models.OrderSourceCustomer,
		ScheduledAt: inSurge,
		BringBack:   true,
	})
	require.NoError(t, err)

	assert.InDelta(t, 12.99*1.2*1.5, b.BaseFare, 1e-9)
}

func TestPromoDiscountWins(t *testing.T) {
	calc := newTestCalculator(staticPromos{"SAVE4": 4.00}, staticCredits{7: 100})
	customerID := int64(7)

	b, err := calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:   models.OrderTypeMenu,
		Source:      models.OrderSourceCustomer,
		ScheduledAt: offSurge,
		PromoCode:   "SAVE4",
		CustomerID:  &customerID,
	})
	require.NoError(t, err)

	assert.InDelta(t, -4.00, b.Discount, 1e-9)
}

func TestMenuCreditDiscount(t *testing.T) {
	calc := newTestCalculator(nil, staticCredits{7: 6.00, 8: 2.00})

	rich := int64(7)
	b, err := calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:   models.OrderTypeMenu,
		Source:      models.OrderSourceCustomer,
		ScheduledAt: offSurge,
		CustomerID:  &rich,
	})
	require.NoError(t, err)
	assert.InDelta(t, -CreditDiscount, b.Discount, 1e-9)

	poor := int64(8)
	b, err = calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:   models.OrderTypeMenu,
		Source:      models.OrderSourceCustomer,
		ScheduledAt: offSurge,
		CustomerID:  &poor,
	})
	require.NoError(t, err)
	assert.Zero(t, b.Discount)
}

func TestBookingNeverGetsAutomaticDiscount(t *testing.T) {
	calc := newTestCalculator(nil, staticCredits{7: 100})
	customerID := int64(7)

	b, err := calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:   models.OrderTypeBooking,
		Source:      models.OrderSourceCustomer,
		ScheduledAt: offSurge,
		CustomerID:  &customerID,
	})
	require.NoError(t, err)

	assert.Zero(t, b.Discount)
}

func TestCustomWithoutAmountLeavesTotalUnset(t *testing.T) {
	calc := newTestCalculator(nil, nil)

	b, err := calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:   models.OrderTypeCustom,
		Source:      models.OrderSourceCustomer,
		Distance:    5000,
		ScheduledAt: offSurge,
	})
	require.NoError(t, err)

	assert.Nil(t, b.TotalAmount)
	assert.Nil(t, b.TPS)
	assert.Nil(t, b.TVQ)
	assert.Zero(t, b.ChargedAmount)
}

func TestCustomPricing(t *testing.T) {
	calc := newTestCalculator(nil, nil)
	amount := 40.00

	b, err := calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:       models.OrderTypeCustom,
		Source:          models.OrderSourceCustomer,
		Distance:        5000,
		ScheduledAt:     offSurge,
		AwaitingMinutes: 15,
		CustomAmount:    &amount,
		TipPercent:      0.10,
	})
	require.NoError(t, err)

	// 10 billable waiting minutes past the free allowance.
	assert.InDelta(t, 10*0.55, b.AwaitingFare, 1e-9)

	dc := 9.99 + 2*0.55 + 10*0.55
	assert.InDelta(t, dc, b.DeliveryCharge, 1e-9)

	serviceFee := ServiceFeeRate * (dc + amount)
	assert.InDelta(t, serviceFee, b.ServiceFee, 1e-9)

	taxBase := dc + serviceFee
	require.NotNil(t, b.TPS)
	assert.InDelta(t, TPSRate*taxBase, *b.TPS, 1e-9)

	preTip := dc + amount + serviceFee + TPSRate*taxBase + TVQRate*taxBase
	assert.InDelta(t, 0.10*preTip, b.Tip, 1e-9)

	require.NotNil(t, b.TotalAmount)
	assert.InDelta(t, preTip*1.10, *b.TotalAmount, 1e-9)
	assert.Equal(t, ToCents(preTip*1.10), b.ChargedAmount)
}

func TestTripLegPricing(t *testing.T) {
	calc := newTestCalculator(nil, nil)

	b, err := calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:   models.OrderTypeBooking,
		Source:      models.OrderSourceCustomer,
		Distance:    8000,
		ScheduledAt: offSurge,
		LargeOrder:  true,
		BringBack:   true,
		TripLeg:     true,
	})
	require.NoError(t, err)

	// Trip legs use the trip base fare and skip the booking extras.
	assert.InDelta(t, 9.99, b.BaseFare, 1e-9)
	assert.Zero(t, b.LargeOrderFare)
	assert.InDelta(t, 9.99+5*0.55, b.DeliveryCharge, 1e-9)
}

func TestMerchantBaseFareOverride(t *testing.T) {
	calc := newTestCalculator(nil, nil)
	merchantFare := 2.49
	merchantID := int64(11)

	b, err := calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:        models.OrderTypeMenu,
		Source:           models.OrderSourceMerchant,
		ScheduledAt:      offSurge,
		CustomerID:       &merchantID,
		MerchantBaseFare: &merchantFare,
	})
	require.NoError(t, err)

	assert.InDelta(t, 2.49, b.BaseFare, 1e-9)
}

func TestUnknownOrderTypeRejected(t *testing.T) {
	calc := newTestCalculator(nil, nil)

	_, err := calc.Prepare(context.Background(), &PrepareRequest{
		OrderType:   "subscription",
		ScheduledAt: offSurge,
	})

	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestToCents(t *testing.T) {
	assert.Equal(t, int64(1810), ToCents(18.097))
	assert.Equal(t, int64(1000), ToCents(9.999))
	assert.Equal(t, int64(50), ToCents(0.5))
	assert.Equal(t, int64(0), ToCents(0))
}
