package models

import (
	"time"
)

// Order types
const (
	OrderTypeBooking = "booking"
	OrderTypeMenu    = "menu"
	OrderTypeCustom  = "custom"
	OrderTypeTrip    = "trip"
)

// Order sources
const (
	OrderSourceCustomer       = "customer"
	OrderSourceCustomerLegacy = "customer_legacy"
	OrderSourceMerchant       = "merchant"
	OrderSourceManual         = "manual"
)

// Order statuses
const (
	OrderStatusReceived  = "received"
	OrderStatusAccepted  = "accepted"
	OrderStatusOnWay     = "on_way"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Payment methods
const (
	PaymentMethodStripe   = "stripe"
	PaymentMethodApplePay = "apple_pay"
	PaymentMethodPayPal   = "paypal"
)

// Order represents a delivery order
type Order struct {
	ID          int64      `db:"id" json:"id"`
	UUID        string     `db:"uuid" json:"uuid"`
	Type        string     `db:"type" json:"type"`
	Source      string     `db:"source" json:"source"`
	Status      string     `db:"status" json:"status"`
	MerchantID  *int64     `db:"merchant_id" json:"merchant_id,omitempty"`
	CustomerID  *int64     `db:"customer_id" json:"customer_id,omitempty"`
	DriverID    *int64     `db:"driver_id" json:"driver_id,omitempty"`
	TripUUID    *string    `db:"trip_uuid" json:"trip_uuid,omitempty"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	AcceptedAt  *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	OnWayAt     *time.Time `db:"on_way_at" json:"on_way_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	Version     int64      `db:"version" json:"-"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the order reached a terminal status.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled
}

// OrderLineItem represents an item on a menu order
type OrderLineItem struct {
	ID         int64   `db:"id" json:"id"`
	OrderID    int64   `db:"order_id" json:"order_id"`
	MenuItemID int64   `db:"menu_item_id" json:"menu_item_id"`
	Quantity   int     `db:"quantity" json:"quantity"`
	UnitPrice  float64 `db:"unit_price" json:"unit_price"`
}

// MoneyBreakdown holds every monetary component of an order.
//
// All fields are in currency units except ChargedAmount, ChargedAmount2
// and DebtAmount, which are rounded minor-unit (cent) integers used for
// gateway calls. ChargedAmount/ChargeID are written only after a gateway
// call succeeded, never speculatively.
type MoneyBreakdown struct {
	OrderID        int64    `db:"order_id" json:"order_id"`
	Distance       float64  `db:"distance" json:"distance"`
	Subtotal       float64  `db:"subtotal" json:"subtotal"`
	BaseFare       float64  `db:"base_fare" json:"base_fare"`
	DistanceFare   float64  `db:"distance_fare" json:"distance_fare"`
	LargeOrderFare float64  `db:"large_order_fare" json:"large_order_fare"`
	AwaitingFare   float64  `db:"awaiting_fare" json:"awaiting_fare"`
	ServiceFee     float64  `db:"service_fee" json:"service_fee"`
	DeliveryCharge float64  `db:"delivery_charge" json:"delivery_charge"`
	TPS            *float64 `db:"tps" json:"tps,omitempty"`
	TVQ            *float64 `db:"tvq" json:"tvq,omitempty"`
	Tip            float64  `db:"tip" json:"tip"`
	TipPercent     float64  `db:"tip_percent" json:"tip_percent"`
	Discount       float64  `db:"discount" json:"discount"`
	CustomAmount   *float64 `db:"custom_amount" json:"custom_amount,omitempty"`
	TotalAmount    *float64 `db:"total_amount" json:"total_amount,omitempty"`
	ChargedAmount  int64    `db:"charged_amount" json:"charged_amount"`
	ChargeID       string   `db:"charge_id" json:"charge_id,omitempty"`
	ChargedAmount2 int64    `db:"charged_amount2" json:"charged_amount2"`
	ChargeID2      string   `db:"charge_id2" json:"charge_id2,omitempty"`
	DebtAmount     int64    `db:"debt_amount" json:"debt_amount"`
	PaymentMethod  string   `db:"payment_method" json:"payment_method"`
}

// DebtRecord tracks an uncaptured remainder owed by a customer.
type DebtRecord struct {
	ID            int64      `db:"id" json:"id"`
	OrderID       int64      `db:"order_id" json:"order_id"`
	CustomerID    int64      `db:"customer_id" json:"customer_id"`
	Amount        int64      `db:"amount" json:"amount"`
	Attempts      int        `db:"attempts" json:"attempts"`
	NextRetryAt   time.Time  `db:"next_retry_at" json:"next_retry_at"`
	SettledAt     *time.Time `db:"settled_at" json:"settled_at,omitempty"`
	FlaggedManual bool       `db:"flagged_manual" json:"flagged_manual"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// TripGroup tracks terminal progress of booking orders billed as a unit.
type TripGroup struct {
	TripUUID     string    `db:"trip_uuid" json:"trip_uuid"`
	TotalLegs    int       `db:"total_legs" json:"total_legs"`
	TerminalLegs int       `db:"terminal_legs" json:"terminal_legs"`
	ReceiptSent  bool      `db:"receipt_sent" json:"receipt_sent"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Customer carries the credit/referral/debt fields the engine touches.
type Customer struct {
	ID         int64   `db:"id" json:"id"`
	Credit     float64 `db:"credit" json:"credit"`
	DebtAmount int64   `db:"debt_amount" json:"debt_amount"`
	RefUserID  *int64  `db:"ref_user_id" json:"ref_user_id,omitempty"`
	RefPaid    bool    `db:"ref_paid" json:"ref_paid"`
}

// DriverProfile carries the capacity field used by the accept guard.
type DriverProfile struct {
	ID                      int64 `db:"id" json:"id"`
	MaxSimultaneousDelivery int   `db:"max_simultaneous_delivery" json:"max_simultaneous_delivery"`
}

// PromoCode is a single-use discount code.
type PromoCode struct {
	Code     string  `db:"code" json:"code"`
	Discount float64 `db:"discount" json:"discount"`
}

// Card is a vaulted payment card reference.
type Card struct {
	CustomerID   int64  `db:"customer_id" json:"customer_id"`
	GatewayToken string `db:"gateway_token" json:"gateway_token"`
	Last4        string `db:"last4" json:"last4"`
}
