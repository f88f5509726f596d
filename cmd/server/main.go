package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"delivery-engine/config"
	"delivery-engine/internal/api"
	"delivery-engine/internal/broker"
	"delivery-engine/internal/models"
	"delivery-engine/internal/payment"
	"delivery-engine/internal/pricing"
	"delivery-engine/internal/redisclient"
	"delivery-engine/internal/service"
	"delivery-engine/internal/store"
	"delivery-engine/internal/util"
	"delivery-engine/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting delivery engine")

	tp, err := util.InitTracer("delivery-engine", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	constants := pricing.NewConstantsStore(redisClient)
	calculator := pricing.NewCalculator(constants, db, db)

	gateways := buildGateways(cfg.Payment)
	notifier := service.NewLogNotifier()

	debtService := service.NewDebtService(db, db, db, db,
		gateways[models.PaymentMethodStripe], eventPublisher, cfg.Debt)

	orderService := service.NewOrderService(service.OrderServiceDeps{
		Orders:     db,
		Trips:      db,
		Customers:  db,
		Promos:     db,
		Cards:      db,
		Distance:   service.HaversineDistance{},
		Calculator: calculator,
		Gateways:   gateways,
		Debts:      debtService,
		Events:     eventPublisher,
		Notifier:   notifier,
		Scheduler:  redisClient,
		Payment:    cfg.Payment,
	})
	tripService := service.NewTripService(orderService, db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	debtWorker := worker.NewDebtRetryWorker(debtService,
		time.Duration(cfg.Debt.RetryInterval)*time.Second)
	go debtWorker.Start(workerCtx)

	notifyWorker := worker.NewNotifyScheduleWorker(redisClient, notifier, 30*time.Second)
	go notifyWorker.Start(workerCtx)

	orderConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	eventsWorker := worker.NewOrderEventsWorker(orderConsumer)
	go func() {
		if err := eventsWorker.Start(workerCtx); err != nil {
			log.Printf("Order events worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, tripService, debtService, constants)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	eventsWorker.Stop()

	log.Println("Server exited")
}

// buildGateways maps payment methods to gateways. With SIMULATE_GATEWAY
// set (the default outside production) the in-memory processors are used
// so the engine runs without live credentials.
func buildGateways(cfg config.PaymentConfig) map[string]payment.Gateway {
	var cardProcessor payment.CardProcessor
	var walletProcessor payment.WalletProcessor

	if cfg.SimulateGateway {
		cardProcessor = payment.NewInMemCardProcessor()
		walletProcessor = payment.NewInMemWalletProcessor()
	} else {
		cardProcessor = payment.NewStripeProcessor(cfg.StripeKey)
		walletProcessor = payment.NewPayPalProcessor(cfg.PayPalClientID, cfg.PayPalSecret, cfg.PayPalBaseURL)
	}

	card := payment.NewCardGateway(cardProcessor, cfg.CeilingCents)
	return map[string]payment.Gateway{
		models.PaymentMethodStripe:   card,
		models.PaymentMethodApplePay: card,
		models.PaymentMethodPayPal:   payment.NewWalletGateway(walletProcessor),
	}
}
