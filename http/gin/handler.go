// Package gin serves the pay desk endpoints and provides x402 payment gating
// for Gin routers.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	x402http "github.com/boorich/naveens/http"
	"github.com/boorich/naveens/payment"
)

// Handler serves POST /api/pay, GET /api/config and GET /health
type Handler struct {
	service *payment.Service
	config  payment.Config
	public  payment.PublicConfig
	logger  *zap.Logger
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(service *payment.Service, config payment.Config, public payment.PublicConfig, opts ...HandlerOption) *Handler {
	h := &Handler{
		service: service,
		config:  config,
		public:  public,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the handler's routes on r
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/api/pay", h.Pay)
	r.GET("/api/config", h.Config)
	r.GET("/health", Health)
}

// Pay answers with a 402 challenge until the request carries a payment
// header, then settles the payment and returns the proof.
func (h *Handler) Pay(c *gin.Context) {
	var req payment.PayRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Validate() != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}

	payload, err := x402http.PaymentPayloadFromRequest(c.Request)
	if err != nil {
		h.logger.Debug("rejected payment header", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid payment header",
			"message": err.Error(),
		})
		return
	}

	checkout, err := h.service.Checkout(c.Request.Context(), *req.Amount, req.Label, payload, h.config)
	if err != nil {
		h.writeError(c, payload != nil, err)
		return
	}

	if checkout.PaymentRequired() {
		encoded, err := x402http.EncodePaymentRequired(checkout.Challenge.Required)
		if err != nil {
			h.writeError(c, false, err)
			return
		}
		c.Header(x402http.PaymentRequiredHeader, encoded)
		c.JSON(http.StatusPaymentRequired, checkout.Challenge.Required)
		return
	}

	encoded, err := x402http.EncodeSettleResponse(checkout.SettleResponse())
	if err != nil {
		h.logger.Warn("failed to encode payment response header", zap.Error(err))
	} else {
		c.Header(x402http.PaymentResponseHeader, encoded)
	}
	c.JSON(http.StatusOK, checkout.Response(*req.Amount))
}

func (h *Handler) writeError(c *gin.Context, paying bool, err error) {
	if paying {
		h.logger.Warn("payment processing error", zap.Error(err))
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "Payment Processing Error",
			"message": err.Error(),
		})
		return
	}
	h.logger.Error("pay request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "Internal Server Error",
		"message": err.Error(),
	})
}

// Config exposes the non-sensitive desk configuration
func (h *Handler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, h.public)
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
