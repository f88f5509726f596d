package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"delivery-engine/internal/models"
	"delivery-engine/internal/pricing"
	"delivery-engine/internal/service"
	"delivery-engine/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	orderService *service.OrderService
	tripService  *service.TripService
	debtService  *service.DebtService
	constants    *pricing.ConstantsStore
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orderService *service.OrderService,
	tripService *service.TripService,
	debtService *service.DebtService,
	constants *pricing.ConstantsStore,
) *Handler {
	return &Handler{
		orderService: orderService,
		tripService:  tripService,
		debtService:  debtService,
		constants:    constants,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders/prepare", h.prepareOrder)
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/status", h.transitionStatus)
		v1.POST("/orders/:id/debt/pay", h.payOrderDebt)
		v1.POST("/customers/:id/debt/pay", h.payCustomerDebt)
		v1.POST("/trips", h.createTrip)
		v1.GET("/trips/:uuid", h.getTrip)
		v1.GET("/drivers/:id/active-count", h.driverActiveCount)
		v1.PUT("/admin/constants/:key", h.updateConstant)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready", "time": time.Now().Unix()})
}

// prepareOrder returns a pricing preview without side effects.
func (h *Handler) prepareOrder(c *gin.Context) {
	var draft service.OrderDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	breakdown, err := h.orderService.PrepareOrder(c.Request.Context(), &draft)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}

func (h *Handler) createOrder(c *gin.Context) {
	var draft service.OrderDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &draft)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, breakdown, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "breakdown": breakdown})
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
	service.TransitionContext
}

func (h *Handler) transitionStatus(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orderService.TransitionStatus(c.Request.Context(), orderID, req.Status, &req.TransitionContext)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) payOrderDebt(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	if err := h.debtService.PayOrderDebt(c.Request.Context(), orderID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "settled"})
}

func (h *Handler) payCustomerDebt(c *gin.Context) {
	customerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid customer ID"})
		return
	}

	if err := h.debtService.PayDebt(c.Request.Context(), customerID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "settled"})
}

type createTripRequest struct {
	Legs []*service.OrderDraft `json:"legs" binding:"required,min=1"`
}

func (h *Handler) createTrip(c *gin.Context) {
	var req createTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	tripUUID, orders, err := h.tripService.CreateTrip(c.Request.Context(), req.Legs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"trip_uuid": tripUUID, "orders": orders})
}

func (h *Handler) getTrip(c *gin.Context) {
	legs, err := h.tripService.GetTrip(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": legs})
}

func (h *Handler) driverActiveCount(c *gin.Context) {
	driverID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid driver ID"})
		return
	}

	count, err := h.orderService.GetActiveOrderCountForDriver(c.Request.Context(), driverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver_id": driverID, "active_orders": count})
}

type updateConstantRequest struct {
	Value float64 `json:"value"`
}

func (h *Handler) updateConstant(c *gin.Context) {
	var req updateConstantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.constants.Set(c.Request.Context(), c.Param("key"), req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to update constant", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// respondError maps domain error kinds to HTTP statuses.
func respondError(c *gin.Context, err error) {
	var (
		validation *models.ValidationError
		notFound   *models.NotFoundError
		conflict   *models.ConflictError
		declined   *models.PaymentDeclinedError
		underpaid  *models.UnderpaidCompletionError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &declined), errors.As(err, &underpaid):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
