package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"type"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of successful order status transitions",
	}, []string{"status"})

	OrderTransitionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_transition_conflicts_total",
		Help: "Total number of status transitions rejected by a guard",
	})

	PaymentAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment gateway calls",
	}, []string{"gateway", "operation"})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of declined payment gateway calls",
	}, []string{"gateway", "operation"})

	PaymentCaptureLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_capture_latency_seconds",
		Help:    "Latency of payment captures",
		Buckets: prometheus.DefBuckets,
	})

	DebtsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "debts_created_total",
		Help: "Total number of debts created from failed captures",
	})

	DebtsSettledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debts_settled_total",
		Help: "Total number of debts settled",
	}, []string{"path"})

	DebtRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debt_retries_total",
		Help: "Total number of scheduled debt retry attempts",
	}, []string{"outcome"})

	TripsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trips_completed_total",
		Help: "Total number of trips with every leg terminal",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
