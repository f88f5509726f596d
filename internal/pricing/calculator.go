package pricing

import (
	"context"
	"fmt"
	"math"
	"time"

	"delivery-engine/internal/models"
)

// Tax and fee rates. TPS/TVQ are the federal/provincial sales tax
// components; the service fee applies to custom orders only.
const (
	TPSRate        = 0.05
	TVQRate        = 0.09975
	ServiceFeeRate = 0.07

	// Minutes of waiting at the pickup that are free of charge on
	// custom orders.
	FreeAwaitingMinutes = 5

	// Automatic discount applied to menu orders when the customer has
	// accumulated enough credit.
	CreditDiscount = 5.00
)

// PromoLookup resolves a promo code to its discount, if valid.
type PromoLookup interface {
	GetPromo(ctx context.Context, code string) (*models.PromoCode, error)
}

// CreditLookup resolves a customer's accumulated credit.
type CreditLookup interface {
	GetCustomer(ctx context.Context, customerID int64) (*models.Customer, error)
}

// PrepareRequest is the input to a pricing computation.
type PrepareRequest struct {
	OrderType string
	Source    string

	Distance        float64 // meters
	ScheduledAt     time.Time
	Subtotal        float64
	LargeOrder      bool
	BringBack       bool
	AwaitingMinutes float64 // minutes since arrival, custom orders only

	CustomAmount *float64 // nil while the final custom amount is unknown

	Tip        float64
	TipPercent float64

	PromoCode  string
	CustomerID *int64

	// MerchantBaseFare overrides the menu base fare when the merchant
	// negotiated its own rate.
	MerchantBaseFare *float64

	// TripLeg prices a booking order with the trip formula: base and
	// distance fare only.
	TripLeg bool

	PaymentMethod string
}

// Calculator computes delivery-charge extras and taxes per order type.
// Given a constants snapshot and fixed lookups it is a pure function of
// its request.
type Calculator struct {
	constants *ConstantsStore
	promos    PromoLookup
	credits   CreditLookup
}

// NewCalculator creates a price calculator.
func NewCalculator(constants *ConstantsStore, promos PromoLookup, credits CreditLookup) *Calculator {
	return &Calculator{constants: constants, promos: promos, credits: credits}
}

// Prepare computes the full money breakdown for a request. It has no
// side effects: promo codes are read, never consumed.
func (c *Calculator) Prepare(ctx context.Context, req *PrepareRequest) (*models.MoneyBreakdown, error) {
	cons, err := c.constants.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load price constants: %w", err)
	}
	return c.prepareWith(ctx, cons, req)
}

func (c *Calculator) prepareWith(ctx context.Context, cons *Constants, req *PrepareRequest) (*models.MoneyBreakdown, error) {
	b := &models.MoneyBreakdown{
		Distance:      req.Distance,
		Subtotal:      req.Subtotal,
		Tip:           req.Tip,
		TipPercent:    req.TipPercent,
		PaymentMethod: req.PaymentMethod,
	}

	b.BaseFare = c.baseFare(cons, req)
	b.DistanceFare = distanceFare(cons, req.Distance)

	if req.OrderType == models.OrderTypeBooking && !req.TripLeg && req.LargeOrder {
		b.LargeOrderFare = cons.LargeOrderFare
	}
	if req.OrderType == models.OrderTypeCustom && req.AwaitingMinutes > FreeAwaitingMinutes {
		b.AwaitingFare = (req.AwaitingMinutes - FreeAwaitingMinutes) * cons.AwaitingTimeRate
	}

	// Surge multiplies every extra; bring-back compounds on top of it.
	if inSurgeWindow(cons, req.ScheduledAt) {
		mul := 1 + cons.SurgeTimeKoef
		b.BaseFare *= mul
		b.DistanceFare *= mul
		b.LargeOrderFare *= mul
		b.AwaitingFare *= mul
	}
	if req.OrderType == models.OrderTypeBooking && !req.TripLeg && req.BringBack {
		mul := 1 + cons.BringBackKoef
		b.BaseFare *= mul
		b.DistanceFare *= mul
		b.LargeOrderFare *= mul
		b.AwaitingFare *= mul
	}

	b.DeliveryCharge = b.BaseFare + b.DistanceFare + b.LargeOrderFare + b.AwaitingFare

	discount, err := c.resolveDiscount(ctx, cons, req)
	if err != nil {
		return nil, err
	}
	b.Discount = discount

	switch req.OrderType {
	case models.OrderTypeBooking, models.OrderTypeTrip, models.OrderTypeMenu:
		base := b.DeliveryCharge + b.Subtotal + b.Discount
		tps := TPSRate * base
		tvq := TVQRate * base
		b.TPS = &tps
		b.TVQ = &tvq

		total := b.DeliveryCharge + b.Subtotal + tps + tvq + b.Discount
		if b.TipPercent > 0 {
			b.Tip = b.TipPercent * (b.Subtotal + b.DeliveryCharge)
		}
		total += b.Tip
		b.TotalAmount = &total

	case models.OrderTypeCustom:
		if req.CustomAmount == nil {
			// Final amount not known yet: taxes and total stay unset
			// until the driver reports it.
			break
		}
		b.CustomAmount = req.CustomAmount
		b.ServiceFee = ServiceFeeRate * (b.DeliveryCharge + *req.CustomAmount)

		taxBase := b.DeliveryCharge + b.ServiceFee
		tps := TPSRate * taxBase
		tvq := TVQRate * taxBase
		b.TPS = &tps
		b.TVQ = &tvq

		total := b.DeliveryCharge + *req.CustomAmount + b.ServiceFee + tps + tvq + b.Discount
		if b.TipPercent > 0 {
			b.Tip = b.TipPercent * total
		}
		total += b.Tip
		b.TotalAmount = &total

	default:
		return nil, &models.ValidationError{Reason: fmt.Sprintf("unknown order type: %s", req.OrderType)}
	}

	if b.TotalAmount != nil {
		b.ChargedAmount = ToCents(*b.TotalAmount)
	}
	return b, nil
}

func (c *Calculator) baseFare(cons *Constants, req *PrepareRequest) float64 {
	switch req.OrderType {
	case models.OrderTypeBooking:
		if req.TripLeg {
			return cons.TripBaseFare
		}
		return cons.BookingBaseFare
	case models.OrderTypeTrip:
		return cons.TripBaseFare
	case models.OrderTypeMenu:
		if req.MerchantBaseFare != nil {
			return *req.MerchantBaseFare
		}
		return cons.MenuBaseFare
	case models.OrderTypeCustom:
		return cons.CustomBaseFare
	}
	return 0
}

// distanceFare charges per km for the billable span between the minimum
// and maximum distances; distance outside the span does not contribute.
func distanceFare(cons *Constants, distance float64) float64 {
	billable := distance - cons.MinDistance
	if billable < 0 {
		billable = 0
	}
	if max := cons.MaxDistance - cons.MinDistance; billable > max {
		billable = max
	}
	return billable / 1000 * cons.DistanceKoef
}

// inSurgeWindow reports whether the scheduled local time-of-day falls in
// the configured [start, end) surge window, in minutes since midnight.
func inSurgeWindow(cons *Constants, scheduledAt time.Time) bool {
	minutes := float64(scheduledAt.Hour()*60 + scheduledAt.Minute())
	return minutes >= cons.SurgeTimeStart && minutes < cons.SurgeTimeEnd
}

// resolveDiscount applies the promo code when present and valid;
// otherwise menu orders placed by a customer with enough accumulated
// credit get the automatic credit discount. Booking orders never
// receive automatic discounts.
func (c *Calculator) resolveDiscount(ctx context.Context, cons *Constants, req *PrepareRequest) (float64, error) {
	if req.PromoCode != "" && c.promos != nil {
		promo, err := c.promos.GetPromo(ctx, req.PromoCode)
		if err != nil {
			return 0, fmt.Errorf("failed to look up promo code: %w", err)
		}
		if promo != nil {
			return -promo.Discount, nil
		}
	}

	if req.OrderType == models.OrderTypeMenu && req.Source == models.OrderSourceCustomer &&
		req.CustomerID != nil && c.credits != nil {
		customer, err := c.credits.GetCustomer(ctx, *req.CustomerID)
		if err != nil {
			return 0, fmt.Errorf("failed to look up customer credit: %w", err)
		}
		if customer != nil && customer.Credit >= cons.CreditDiscountThreshold {
			return -CreditDiscount, nil
		}
	}
	return 0, nil
}

// ToCents converts a currency amount to rounded minor units.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
