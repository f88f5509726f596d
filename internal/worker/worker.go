package worker

import (
	"context"
	"time"

	"delivery-engine/internal/broker"
	"delivery-engine/internal/models"
	"delivery-engine/internal/service"
	"delivery-engine/internal/util"

	"go.uber.org/zap"
)

// DebtRetryWorker drives the debt ledger's retry schedule on a fixed
// interval. Each pass re-reads authoritative state, so it is safe next
// to foreground order mutations.
type DebtRetryWorker struct {
	debts    *service.DebtService
	interval time.Duration
	logger   *zap.Logger
}

// NewDebtRetryWorker creates the retry scheduler.
func NewDebtRetryWorker(debts *service.DebtService, interval time.Duration) *DebtRetryWorker {
	return &DebtRetryWorker{
		debts:    debts,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs the scheduler until the context is cancelled.
func (w *DebtRetryWorker) Start(ctx context.Context) {
	w.logger.Info("Starting debt retry worker",
		zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Debt retry worker stopping")
			return
		case <-ticker.C:
			w.debts.RunDuePass(ctx)
		}
	}
}

// NotifyScheduleWorker fires deferred "drivers available" notifications
// once their due time passes.
type NotifyScheduleWorker struct {
	schedule interface {
		PopDueDriverNotifies(ctx context.Context, now time.Time) ([]int64, error)
	}
	notifier service.Notifier
	interval time.Duration
	logger   *zap.Logger
}

// NewNotifyScheduleWorker creates the notify scheduler.
func NewNotifyScheduleWorker(
	schedule interface {
		PopDueDriverNotifies(ctx context.Context, now time.Time) ([]int64, error)
	},
	notifier service.Notifier,
	interval time.Duration,
) *NotifyScheduleWorker {
	return &NotifyScheduleWorker{
		schedule: schedule,
		notifier: notifier,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs the scheduler until the context is cancelled.
func (w *NotifyScheduleWorker) Start(ctx context.Context) {
	w.logger.Info("Starting notify schedule worker",
		zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Notify schedule worker stopping")
			return
		case <-ticker.C:
			w.firePass(ctx)
		}
	}
}

func (w *NotifyScheduleWorker) firePass(ctx context.Context) {
	due, err := w.schedule.PopDueDriverNotifies(ctx, time.Now())
	if err != nil {
		w.logger.Error("Failed to pop due notifies", zap.Error(err))
		return
	}
	for _, orderID := range due {
		if err := w.notifier.DriversAvailable(ctx, orderID); err != nil {
			w.logger.Error("Drivers-available notification failed",
				zap.Int64("order_id", orderID), zap.Error(err))
		}
	}
}

// OrderEventsWorker consumes the order event stream, standing in for
// the external push subscribers (websocket gateway, legacy webhooks).
type OrderEventsWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewOrderEventsWorker creates the event relay worker.
func NewOrderEventsWorker(consumer *broker.Consumer) *OrderEventsWorker {
	logger := util.GetLogger()

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderChanged(func(ctx context.Context, event *models.OrderChangedEvent) error {
		logger.Info("Order change relayed",
			zap.Int64("order_id", event.OrderID),
			zap.String("status", event.Status))
		return nil
	})

	return &OrderEventsWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}
}

// Start starts consuming until the context is cancelled.
func (w *OrderEventsWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting order events worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the underlying consumer.
func (w *OrderEventsWorker) Stop() error {
	w.logger.Info("Stopping order events worker")
	return w.consumer.Close()
}
