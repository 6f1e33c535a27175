// Package echo serves the pay desk endpoints on an Echo router.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
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

type HandlerOption func(*Handler)

func WithLogger(logger *zap.Logger) HandlerOption {
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

// Register mounts the handler's routes on e
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/api/pay", h.Pay)
	e.GET("/api/config", h.Config)
	e.GET("/health", Health)
}

func (h *Handler) Pay(c echo.Context) error {
	var req payment.PayRequest
	if err := c.Bind(&req); err != nil || req.Validate() != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid amount"})
	}

	payload, err := x402http.PaymentPayloadFromRequest(c.Request())
	if err != nil {
		h.logger.Debug("rejected payment header", zap.Error(err))
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid payment header", "message": err.Error()})
	}

	checkout, err := h.service.Checkout(c.Request().Context(), *req.Amount, req.Label, payload, h.config)
	if err != nil {
		return h.writeError(c, payload != nil, err)
	}

	if checkout.PaymentRequired() {
		encoded, err := x402http.EncodePaymentRequired(checkout.Challenge.Required)
		if err != nil {
			return h.writeError(c, false, err)
		}
		c.Response().Header().Set(x402http.PaymentRequiredHeader, encoded)
		return c.JSON(http.StatusPaymentRequired, checkout.Challenge.Required)
	}

	if encoded, err := x402http.EncodeSettleResponse(checkout.SettleResponse()); err == nil {
		c.Response().Header().Set(x402http.PaymentResponseHeader, encoded)
	} else {
		h.logger.Warn("failed to encode payment response header", zap.Error(err))
	}
	return c.JSON(http.StatusOK, checkout.Response(*req.Amount))
}

func (h *Handler) writeError(c echo.Context, paying bool, err error) error {
	status, title := http.StatusInternalServerError, "Internal Server Error"
	if paying {
		status, title = http.StatusPaymentRequired, "Payment Processing Error"
		h.logger.Warn("payment processing error", zap.Error(err))
	} else {
		h.logger.Error("pay request failed", zap.Error(err))
	}
	return c.JSON(status, map[string]string{"error": title, "message": err.Error()})
}

func (h *Handler) Config(c echo.Context) error {
	return c.JSON(http.StatusOK, h.public)
}

func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
