package service

import (
	"context"
	"math"
	"time"

	"delivery-engine/internal/models"
	"delivery-engine/internal/util"

	"go.uber.org/zap"
)

// OrderRepository is the persistence surface the engine needs for
// orders, breakdowns, drivers and trip legs.
type OrderRepository interface {
	CreateOrderWithBreakdown(ctx context.Context, order *models.Order, breakdown *models.MoneyBreakdown, items []models.OrderLineItem) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByUUID(ctx context.Context, uuid string) (*models.Order, error)
	UpdateOrderTransition(ctx context.Context, order *models.Order) error
	GetBreakdown(ctx context.Context, orderID int64) (*models.MoneyBreakdown, error)
	SaveBreakdown(ctx context.Context, b *models.MoneyBreakdown) error
	CountActiveOrdersForDriver(ctx context.Context, driverID int64) (int, error)
	GetDriver(ctx context.Context, id int64) (*models.DriverProfile, error)
	GetOrdersByTripUUID(ctx context.Context, tripUUID string) ([]models.Order, error)
}

// TripRepository tracks terminal progress per trip.
type TripRepository interface {
	CreateTripGroup(ctx context.Context, g *models.TripGroup) error
	IncrementTerminalLegs(ctx context.Context, tripUUID string) (*models.TripGroup, error)
	MarkTripReceiptSent(ctx context.Context, tripUUID string) (bool, error)
}

// DebtRepository persists debt records and their retry schedule.
type DebtRepository interface {
	CreateDebt(ctx context.Context, d *models.DebtRecord) error
	GetDueDebts(ctx context.Context, now time.Time, limit int) ([]models.DebtRecord, error)
	GetOpenDebtByOrder(ctx context.Context, orderID int64) (*models.DebtRecord, error)
	GetOpenDebtsByCustomer(ctx context.Context, customerID int64) ([]models.DebtRecord, error)
	SettleDebt(ctx context.Context, debtID int64, settledAt time.Time) error
	RescheduleDebt(ctx context.Context, debtID int64, nextRetryAt time.Time) error
	FlagDebtManual(ctx context.Context, debtID int64) error
}

// PromoCodeStore resolves and consumes single-use promo codes.
type PromoCodeStore interface {
	GetPromo(ctx context.Context, code string) (*models.PromoCode, error)
	ConsumePromo(ctx context.Context, code string) error
}

// CustomerCreditStore reads and mutates customer credit, referral and
// aggregate debt fields.
type CustomerCreditStore interface {
	GetCustomer(ctx context.Context, customerID int64) (*models.Customer, error)
	AddCustomerCredit(ctx context.Context, customerID int64, delta float64) error
	AddCustomerDebt(ctx context.Context, customerID int64, deltaCents int64) error
	MarkReferralPaid(ctx context.Context, customerID int64) error
}

// CardVaultLookup resolves a customer's current default vaulted card.
type CardVaultLookup interface {
	GetDefaultCard(ctx context.Context, customerID int64) (*models.Card, error)
}

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceProvider resolves the travel distance between two points, in
// meters. Geocoding lives behind this interface.
type DistanceProvider interface {
	GetDistance(ctx context.Context, origin, destination LatLng) (float64, error)
}

// Notifier delivers push/email notifications. Failures are logged by
// callers and never block the state machine.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, order *models.Order) error
	DriversAvailable(ctx context.Context, orderID int64) error
	Receipt(ctx context.Context, orders []models.Order) error
}

// EventSink publishes domain events to external subscribers.
type EventSink interface {
	PublishOrderChanged(ctx context.Context, event *models.OrderChangedEvent) error
	PublishDebtCreated(ctx context.Context, event *models.DebtCreatedEvent) error
	PublishDebtSettled(ctx context.Context, event *models.DebtSettledEvent) error
	PublishTripCompleted(ctx context.Context, event *models.TripCompletedEvent) error
}

// NotifyScheduler defers a "notify drivers" event until shortly before
// the scheduled pickup.
type NotifyScheduler interface {
	ScheduleDriverNotify(ctx context.Context, orderID int64, dueAt time.Time) error
	CancelDriverNotify(ctx context.Context, orderID int64) error
}

// HaversineDistance is the default DistanceProvider: straight-line
// distance, good enough when no routing backend is configured.
type HaversineDistance struct{}

const earthRadiusMeters = 6371000

func (HaversineDistance) GetDistance(ctx context.Context, origin, destination LatLng) (float64, error) {
	lat1 := origin.Lat * math.Pi / 180
	lat2 := destination.Lat * math.Pi / 180
	dLat := (destination.Lat - origin.Lat) * math.Pi / 180
	dLng := (destination.Lng - origin.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c, nil
}

// LogNotifier is the default Notifier: it only logs. Real push/email
// delivery is wired in deployment.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a logging notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

func (n *LogNotifier) OrderStatusChanged(ctx context.Context, order *models.Order) error {
	n.logger.Info("notify: order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("status", order.Status))
	return nil
}

func (n *LogNotifier) DriversAvailable(ctx context.Context, orderID int64) error {
	n.logger.Info("notify: drivers available", zap.Int64("order_id", orderID))
	return nil
}

func (n *LogNotifier) Receipt(ctx context.Context, orders []models.Order) error {
	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	n.logger.Info("notify: receipt", zap.Int64s("order_ids", ids))
	return nil
}
