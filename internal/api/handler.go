package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"ticket-service/internal/apperr"
	"ticket-service/internal/service"
	"ticket-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RateLimiter is satisfied by *redisclient.Client
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Services are the operations exposed over HTTP
type Services struct {
	Issuance     *service.IssuanceService
	Confirmation *service.ConfirmationService
	CheckIn      *service.CheckInService
	Tickets      *service.TicketService
	Ledger       *service.InventoryLedger
}

// Options configures authentication, webhook verification and limits
type Options struct {
	JWTSecret         string
	WebhookSecret     string
	SignatureHeader   string
	PurchaseRateLimit int
	Limiter           RateLimiter
	// Readiness probes by dependency name
	Checks map[string]func(context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	svc             Services
	auth            *Authenticator
	limiter         RateLimiter
	rateLimit       int
	webhookSecret   string
	signatureHeader string
	checks          map[string]func(context.Context) error
	logger          *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, opts Options) *Handler {
	header := opts.SignatureHeader
	if header == "" {
		header = "X-Wallet-Signature"
	}
	return &Handler{
		svc:             svc,
		auth:            NewAuthenticator(opts.JWTSecret),
		limiter:         opts.Limiter,
		rateLimit:       opts.PurchaseRateLimit,
		webhookSecret:   opts.WebhookSecret,
		signatureHeader: header,
		checks:          opts.Checks,
		logger:          util.GetLogger(),
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

	// the wallet authenticates by body signature, not by bearer token
	router.POST("/api/v1/webhooks/payment", h.paymentWebhook)

	v1 := router.Group("/api/v1", h.auth.authenticate())
	{
		v1.GET("/tiers/:id", h.getTier)
		v1.POST("/pay/initiate", h.purchaseRateLimit(), h.initiatePurchase)

		authed := v1.Group("", requireActor())
		authed.POST("/scanner/verify", h.verifyTicket)
		authed.GET("/tickets/mine", h.myTickets)
		authed.GET("/organizer/events/:id/attendees", h.eventAttendees)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck probes every configured dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"dependencies": deps,
		"time":         time.Now().Unix(),
	})
}

// initiatePurchase handles checkout. Free tiers are issued immediately
// (201); paid tiers return once the wallet accepted the collection (202).
func (h *Handler) initiatePurchase(c *gin.Context) {
	var req service.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{
			Error:   "Invalid request body",
			Details: map[string]any{"reason": err.Error()},
		})
		return
	}

	resp, err := h.svc.Issuance.Purchase(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	if resp.Status == service.PurchaseStatusInitiated {
		c.JSON(http.StatusAccepted, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

type webhookPayload struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// paymentWebhook applies a wallet confirmation. The signature covers the
// raw body, so it is checked before anything is decoded.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "could not read request body"})
		return
	}

	if !util.VerifySignature(h.webhookSecret, body, c.GetHeader(h.signatureHeader)) {
		h.logger.Warn("Webhook signature mismatch", zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusForbidden, errorBody{Error: "invalid signature", Code: apperr.CodeInvalidSignature})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid JSON payload"})
		return
	}

	result, err := h.svc.Confirmation.Confirm(c.Request.Context(), payload.Reference, payload.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type verifyRequest struct {
	QRHash string `json:"qr_hash"`
}

// verifyTicket handles a gate scan
func (h *Handler) verifyTicket(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "Invalid request body"})
		return
	}

	result, err := h.svc.CheckIn.Verify(c.Request.Context(), actorFrom(c), req.QRHash)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// myTickets lists the caller's tickets
func (h *Handler) myTickets(c *gin.Context) {
	tickets, err := h.svc.Tickets.ListMine(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

// eventAttendees lists the guest list of an event the caller organizes
func (h *Handler) eventAttendees(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "Invalid event ID"})
		return
	}

	attendees, err := h.svc.Tickets.ListAttendees(c.Request.Context(), actorFrom(c), eventID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"attendees": attendees,
		"count":     len(attendees),
	})
}

// getTier handles get tier availability by ID
func (h *Handler) getTier(c *gin.Context) {
	tierID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "Invalid tier ID"})
		return
	}

	tier, err := h.svc.Ledger.Availability(c.Request.Context(), tierID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tier)
}

// purchaseRateLimit caps checkouts per caller per minute. It fails open
// when the limiter is unreachable.
func (h *Handler) purchaseRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil || h.rateLimit <= 0 {
			c.Next()
			return
		}

		key := "purchase:ip:" + c.ClientIP()
		if actor := actorFrom(c); actor != nil {
			key = "purchase:user:" + actor.UserID.String()
		}

		allowed, err := h.limiter.Allow(c.Request.Context(), key, h.rateLimit, time.Minute)
		if err != nil {
			h.logger.Warn("Rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{
				Error: "too many purchase attempts, slow down",
				Code:  apperr.CodeRateLimited,
			})
			return
		}
		c.Next()
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
