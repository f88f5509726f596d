package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"delivery-engine/config"
	"delivery-engine/internal/models"
	"delivery-engine/internal/payment"
	"delivery-engine/internal/pricing"
	"delivery-engine/internal/store"
)

// In-memory collaborators for engine tests. They mirror the store's
// semantics (version checks, due-debt filtering) without a database.

type fakeOrderRepo struct {
	mu         sync.Mutex
	nextID     int64
	orders     map[int64]*models.Order
	breakdowns map[int64]*models.MoneyBreakdown
	drivers    map[int64]*models.DriverProfile

	failNextUpdate bool
	failNextSave   bool
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		orders:     make(map[int64]*models.Order),
		breakdowns: make(map[int64]*models.MoneyBreakdown),
		drivers:    make(map[int64]*models.DriverProfile),
	}
}

func (r *fakeOrderRepo) CreateOrderWithBreakdown(ctx context.Context, order *models.Order, breakdown *models.MoneyBreakdown, items []models.OrderLineItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	order.ID = r.nextID
	order.Version = 1
	breakdown.OrderID = order.ID
	o := *order
	b := *breakdown
	r.orders[order.ID] = &o
	r.breakdowns[order.ID] = &b
	return nil
}

func (r *fakeOrderRepo) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "order", ID: id}
	}
	cp := *o
	return &cp, nil
}

func (r *fakeOrderRepo) GetOrderByUUID(ctx context.Context, uuid string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.UUID == uuid {
			cp := *o
			return &cp, nil
		}
	}
	return nil, &models.NotFoundError{Entity: "order", ID: uuid}
}

func (r *fakeOrderRepo) UpdateOrderTransition(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNextUpdate {
		r.failNextUpdate = false
		return store.ErrVersionConflict
	}
	stored, ok := r.orders[order.ID]
	if !ok {
		return &models.NotFoundError{Entity: "order", ID: order.ID}
	}
	if stored.Version != order.Version {
		return store.ErrVersionConflict
	}
	cp := *order
	cp.Version++
	r.orders[order.ID] = &cp
	order.Version++
	return nil
}

func (r *fakeOrderRepo) GetBreakdown(ctx context.Context, orderID int64) (*models.MoneyBreakdown, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakdowns[orderID]
	if !ok {
		return nil, &models.NotFoundError{Entity: "breakdown", ID: orderID}
	}
	cp := *b
	return &cp, nil
}

func (r *fakeOrderRepo) SaveBreakdown(ctx context.Context, b *models.MoneyBreakdown) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNextSave {
		r.failNextSave = false
		return fmt.Errorf("breakdown write failed")
	}
	cp := *b
	r.breakdowns[b.OrderID] = &cp
	return nil
}

func (r *fakeOrderRepo) CountActiveOrdersForDriver(ctx context.Context, driverID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, o := range r.orders {
		if o.DriverID != nil && *o.DriverID == driverID &&
			(o.Status == models.OrderStatusAccepted || o.Status == models.OrderStatusOnWay) {
			count++
		}
	}
	return count, nil
}

func (r *fakeOrderRepo) GetDriver(ctx context.Context, id int64) (*models.DriverProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drivers[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "driver", ID: id}
	}
	cp := *d
	return &cp, nil
}

func (r *fakeOrderRepo) GetOrdersByTripUUID(ctx context.Context, tripUUID string) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var legs []models.Order
	for _, o := range r.orders {
		if o.TripUUID != nil && *o.TripUUID == tripUUID {
			legs = append(legs, *o)
		}
	}
	return legs, nil
}

// seedOrder inserts an order with a breakdown directly, bypassing
// creation-time payment.
func (r *fakeOrderRepo) seedOrder(order *models.Order, breakdown *models.MoneyBreakdown) *models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	order.ID = r.nextID
	if order.Version == 0 {
		order.Version = 1
	}
	o := *order
	r.orders[order.ID] = &o
	if breakdown != nil {
		breakdown.OrderID = order.ID
		b := *breakdown
		r.breakdowns[order.ID] = &b
	}
	return &o
}

type fakeTrips struct {
	mu     sync.Mutex
	groups map[string]*models.TripGroup
}

func newFakeTrips() *fakeTrips {
	return &fakeTrips{groups: make(map[string]*models.TripGroup)}
}

func (t *fakeTrips) CreateTripGroup(ctx context.Context, g *models.TripGroup) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *g
	t.groups[g.TripUUID] = &cp
	return nil
}

func (t *fakeTrips) IncrementTerminalLegs(ctx context.Context, tripUUID string) (*models.TripGroup, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[tripUUID]
	if !ok {
		return nil, &models.NotFoundError{Entity: "trip", ID: tripUUID}
	}
	g.TerminalLegs++
	cp := *g
	return &cp, nil
}

func (t *fakeTrips) MarkTripReceiptSent(ctx context.Context, tripUUID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[tripUUID]
	if !ok {
		return false, &models.NotFoundError{Entity: "trip", ID: tripUUID}
	}
	if g.ReceiptSent {
		return false, nil
	}
	g.ReceiptSent = true
	return true, nil
}

type fakeCustomers struct {
	mu        sync.Mutex
	customers map[int64]*models.Customer
}

func newFakeCustomers() *fakeCustomers {
	return &fakeCustomers{customers: make(map[int64]*models.Customer)}
}

func (c *fakeCustomers) GetCustomer(ctx context.Context, customerID int64) (*models.Customer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cust, ok := c.customers[customerID]
	if !ok {
		return nil, &models.NotFoundError{Entity: "customer", ID: customerID}
	}
	cp := *cust
	return &cp, nil
}

func (c *fakeCustomers) AddCustomerCredit(ctx context.Context, customerID int64, delta float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cust, ok := c.customers[customerID]
	if !ok {
		return &models.NotFoundError{Entity: "customer", ID: customerID}
	}
	cust.Credit += delta
	return nil
}

func (c *fakeCustomers) AddCustomerDebt(ctx context.Context, customerID int64, deltaCents int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cust, ok := c.customers[customerID]
	if !ok {
		return &models.NotFoundError{Entity: "customer", ID: customerID}
	}
	cust.DebtAmount += deltaCents
	return nil
}

func (c *fakeCustomers) MarkReferralPaid(ctx context.Context, customerID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cust, ok := c.customers[customerID]
	if !ok {
		return &models.NotFoundError{Entity: "customer", ID: customerID}
	}
	cust.RefPaid = true
	return nil
}

type fakePromos struct {
	mu       sync.Mutex
	codes    map[string]float64
	consumed []string
}

func newFakePromos() *fakePromos {
	return &fakePromos{codes: make(map[string]float64)}
}

func (p *fakePromos) GetPromo(ctx context.Context, code string) (*models.PromoCode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.codes[code]
	if !ok {
		return nil, nil
	}
	return &models.PromoCode{Code: code, Discount: d}, nil
}

func (p *fakePromos) ConsumePromo(ctx context.Context, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.codes[code]; !ok {
		return &models.NotFoundError{Entity: "promo", ID: code}
	}
	delete(p.codes, code)
	p.consumed = append(p.consumed, code)
	return nil
}

type fakeCards struct {
	mu     sync.Mutex
	tokens map[int64]string
}

func newFakeCards() *fakeCards {
	return &fakeCards{tokens: make(map[int64]string)}
}

func (c *fakeCards) GetDefaultCard(ctx context.Context, customerID int64) (*models.Card, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[customerID]
	if !ok {
		return nil, &models.NotFoundError{Entity: "card", ID: customerID}
	}
	return &models.Card{CustomerID: customerID, GatewayToken: tok}, nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[int64]time.Time
	cancelled []int64
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[int64]time.Time)}
}

func (s *fakeScheduler) ScheduleDriverNotify(ctx context.Context, orderID int64, dueAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[orderID] = dueAt
	return nil
}

func (s *fakeScheduler) CancelDriverNotify(ctx context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, orderID)
	s.cancelled = append(s.cancelled, orderID)
	return nil
}

type fakeEvents struct {
	mu            sync.Mutex
	orderChanged  []*models.OrderChangedEvent
	debtCreated   []*models.DebtCreatedEvent
	debtSettled   []*models.DebtSettledEvent
	tripCompleted []*models.TripCompletedEvent
}

func (e *fakeEvents) PublishOrderChanged(ctx context.Context, event *models.OrderChangedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orderChanged = append(e.orderChanged, event)
	return nil
}

func (e *fakeEvents) PublishDebtCreated(ctx context.Context, event *models.DebtCreatedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.debtCreated = append(e.debtCreated, event)
	return nil
}

func (e *fakeEvents) PublishDebtSettled(ctx context.Context, event *models.DebtSettledEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.debtSettled = append(e.debtSettled, event)
	return nil
}

func (e *fakeEvents) PublishTripCompleted(ctx context.Context, event *models.TripCompletedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tripCompleted = append(e.tripCompleted, event)
	return nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	statusChanges int
	driversFired  []int64
	receipts      [][]models.Order
}

func (n *fakeNotifier) OrderStatusChanged(ctx context.Context, order *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statusChanges++
	return nil
}

func (n *fakeNotifier) DriversAvailable(ctx context.Context, orderID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.driversFired = append(n.driversFired, orderID)
	return nil
}

func (n *fakeNotifier) Receipt(ctx context.Context, orders []models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, orders)
	return nil
}

type fakeDebtRepo struct {
	mu     sync.Mutex
	nextID int64
	debts  map[int64]*models.DebtRecord
}

func newFakeDebtRepo() *fakeDebtRepo {
	return &fakeDebtRepo{debts: make(map[int64]*models.DebtRecord)}
}

func (r *fakeDebtRepo) CreateDebt(ctx context.Context, d *models.DebtRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	d.ID = r.nextID
	d.CreatedAt = time.Now()
	cp := *d
	r.debts[d.ID] = &cp
	return nil
}

func (r *fakeDebtRepo) GetDueDebts(ctx context.Context, now time.Time, limit int) ([]models.DebtRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []models.DebtRecord
	for _, d := range r.debts {
		if d.SettledAt == nil && !d.FlaggedManual && !d.NextRetryAt.After(now) {
			due = append(due, *d)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (r *fakeDebtRepo) GetOpenDebtByOrder(ctx context.Context, orderID int64) (*models.DebtRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.debts {
		if d.OrderID == orderID && d.SettledAt == nil {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeDebtRepo) GetOpenDebtsByCustomer(ctx context.Context, customerID int64) ([]models.DebtRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var open []models.DebtRecord
	for _, d := range r.debts {
		if d.CustomerID == customerID && d.SettledAt == nil {
			open = append(open, *d)
		}
	}
	return open, nil
}

func (r *fakeDebtRepo) SettleDebt(ctx context.Context, debtID int64, settledAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.debts[debtID]
	if !ok {
		return &models.NotFoundError{Entity: "debt", ID: debtID}
	}
	d.Amount = 0
	t := settledAt
	d.SettledAt = &t
	return nil
}

func (r *fakeDebtRepo) RescheduleDebt(ctx context.Context, debtID int64, nextRetryAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.debts[debtID]
	if !ok {
		return &models.NotFoundError{Entity: "debt", ID: debtID}
	}
	d.Attempts++
	d.NextRetryAt = nextRetryAt
	return nil
}

func (r *fakeDebtRepo) FlagDebtManual(ctx context.Context, debtID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.debts[debtID]
	if !ok {
		return &models.NotFoundError{Entity: "debt", ID: debtID}
	}
	d.FlaggedManual = true
	return nil
}

// mapBackend is an in-memory pricing backend.
type mapBackend struct {
	mu     sync.Mutex
	values map[string]string
}

func (b *mapBackend) GetConstant(ctx context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	if !ok {
		return "", pricing.ErrKeyNotFound
	}
	return v, nil
}

func (b *mapBackend) SetConstant(ctx context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
	return nil
}

// engineFixture wires the order engine against in-memory collaborators
// and the in-memory card processor.
type engineFixture struct {
	svc     *OrderService
	debtSvc *DebtService

	repo      *fakeOrderRepo
	trips     *fakeTrips
	customers *fakeCustomers
	promos    *fakePromos
	cards     *fakeCards
	scheduler *fakeScheduler
	events    *fakeEvents
	notifier  *fakeNotifier
	debts     *fakeDebtRepo

	cardProc   *payment.InMemCardProcessor
	walletProc *payment.InMemWalletProcessor
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		repo:       newFakeOrderRepo(),
		trips:      newFakeTrips(),
		customers:  newFakeCustomers(),
		promos:     newFakePromos(),
		cards:      newFakeCards(),
		scheduler:  newFakeScheduler(),
		events:     &fakeEvents{},
		notifier:   &fakeNotifier{},
		debts:      newFakeDebtRepo(),
		cardProc:   payment.NewInMemCardProcessor(),
		walletProc: payment.NewInMemWalletProcessor(),
	}

	paymentCfg := config.PaymentConfig{
		SimulateGateway:      true,
		CeilingCents:         5000,
		CancellationFeeCents: 300,
		CustomAuthCents:      100,
	}

	card := payment.NewCardGateway(f.cardProc, paymentCfg.CeilingCents)
	wallet := payment.NewWalletGateway(f.walletProc)
	gateways := map[string]payment.Gateway{
		models.PaymentMethodStripe:   card,
		models.PaymentMethodApplePay: card,
		models.PaymentMethodPayPal:   wallet,
	}

	constants := pricing.NewConstantsStore(&mapBackend{values: make(map[string]string)})
	calculator := pricing.NewCalculator(constants, f.promos, f.customers)

	f.debtSvc = NewDebtService(f.repo, f.debts, f.customers, f.cards, card, f.events,
		config.DebtConfig{RetryInterval: 60, RetryDelay: 48, MaxAttempts: 3})

	f.svc = NewOrderService(OrderServiceDeps{
		Orders:     f.repo,
		Trips:      f.trips,
		Customers:  f.customers,
		Promos:     f.promos,
		Cards:      f.cards,
		Distance:   HaversineDistance{},
		Calculator: calculator,
		Gateways:   gateways,
		Debts:      f.debtSvc,
		Events:     f.events,
		Notifier:   f.notifier,
		Scheduler:  f.scheduler,
		Payment:    paymentCfg,
	})
	return f
}

func (f *engineFixture) addCustomer(id int64, credit float64) {
	f.customers.customers[id] = &models.Customer{ID: id, Credit: credit}
	f.cards.tokens[id] = "tok_vault"
}

func (f *engineFixture) addDriver(id int64, maxSimultaneous int) {
	f.repo.drivers[id] = &models.DriverProfile{ID: id, MaxSimultaneousDelivery: maxSimultaneous}
}
