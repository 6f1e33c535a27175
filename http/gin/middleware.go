package gin

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	x402 "github.com/boorich/naveens"
	x402http "github.com/boorich/naveens/http"
)

// PaymentContextKey is the gin context key holding the *x402.VerifyResponse
// of a verified payment.
const PaymentContextKey = "x402_payment"

// PaymentMiddlewareOptions is the options for the PaymentMiddleware.
type PaymentMiddlewareOptions struct {
	Description     string
	MimeType        string
	Resource        string
	ResourceRootURL string
	Logger          *zap.Logger
}

// Options is the type for the options for the PaymentMiddleware.
type Options func(*PaymentMiddlewareOptions)

// WithDescription sets the resource description shown in challenges.
func WithDescription(description string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Description = description
	}
}

// WithMimeType sets the resource mime type shown in challenges.
func WithMimeType(mimeType string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.MimeType = mimeType
	}
}

// WithResource fixes the resource URL instead of deriving it from the request.
func WithResource(resource string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Resource = resource
	}
}

func WithResourceRootURL(resourceRootURL string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.ResourceRootURL = resourceRootURL
	}
}

func WithLogger(logger *zap.Logger) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Logger = logger
	}
}

// PaymentMiddleware gates the following handlers behind an x402 payment
// priced by resource. The server must be initialized.
//
// The payment is verified before the handler runs and settled only when the
// handler succeeds; the handler's response is held back until settlement so the
// PAYMENT-RESPONSE header can be attached.
func PaymentMiddleware(server *x402.X402ResourceServer, resource x402.ResourceConfig, opts ...Options) gin.HandlerFunc {
	options := &PaymentMiddlewareOptions{
		MimeType: "application/json",
		Logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.Logger

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		requirements, err := server.BuildPaymentRequirements(ctx, resource)
		if err != nil {
			logger.Error("failed to build payment requirements", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       err.Error(),
				"x402Version": x402.ProtocolVersion,
			})
			return
		}

		info := x402.ResourceInfo{
			URL:         options.Resource,
			Description: options.Description,
			MimeType:    options.MimeType,
		}
		if info.URL == "" {
			info.URL = options.ResourceRootURL + c.Request.URL.Path
		}

		payload, err := x402http.PaymentPayloadFromRequest(c.Request)
		if err != nil {
			logger.Debug("invalid payment header", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":       err.Error(),
				"x402Version": x402.ProtocolVersion,
			})
			return
		}
		if payload == nil {
			paymentRequired(c, server, requirements, info, "Payment required")
			return
		}

		matched, err := server.FindMatchingRequirements(requirements, *payload)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":       err.Error(),
				"x402Version": x402.ProtocolVersion,
			})
			return
		}
		if matched == nil {
			paymentRequired(c, server, requirements, info, "No matching payment requirements")
			return
		}

		verification, err := server.VerifyPayment(ctx, *payload, *matched)
		if err != nil {
			logger.Error("failed to verify payment", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":       "Payment verification failed",
				"x402Version": x402.ProtocolVersion,
			})
			return
		}
		if !verification.IsValid {
			paymentRequired(c, server, requirements, info, verification.InvalidReason)
			return
		}
		c.Set(PaymentContextKey, &verification)

		// Hold the handler's response until the payment settles
		writer := &responseWriter{
			ResponseWriter: c.Writer,
			statusCode:     http.StatusOK,
		}
		c.Writer = writer

		c.Next()

		c.Writer = writer.ResponseWriter
		if c.IsAborted() || writer.statusCode >= http.StatusBadRequest {
			writer.flush()
			return
		}

		settlement, err := server.SettlePayment(ctx, *payload, *matched)
		if err != nil {
			logger.Error("settlement failed", zap.Error(err))
			paymentRequired(c, server, requirements, info, err.Error())
			return
		}

		encoded, err := x402http.EncodeSettleResponse(settlement)
		if err != nil {
			logger.Warn("failed to encode payment response header", zap.Error(err))
		} else {
			c.Header(x402http.PaymentResponseHeader, encoded)
		}
		writer.flush()
	}
}

func paymentRequired(c *gin.Context, server *x402.X402ResourceServer, requirements []x402.PaymentRequirements, info x402.ResourceInfo, errMsg string) {
	required := server.CreatePaymentRequiredResponse(requirements, info, errMsg, nil)
	if encoded, err := x402http.EncodePaymentRequired(required); err == nil {
		c.Header(x402http.PaymentRequiredHeader, encoded)
	}
	c.AbortWithStatusJSON(http.StatusPaymentRequired, required)
}

// GetPaymentFromContext returns the verified payment of the request, or nil
func GetPaymentFromContext(c *gin.Context) *x402.VerifyResponse {
	value, exists := c.Get(PaymentContextKey)
	if !exists {
		return nil
	}
	verification, _ := value.(*x402.VerifyResponse)
	return verification
}

// responseWriter is a custom response writer that captures the response
type responseWriter struct {
	gin.ResponseWriter
	body       bytes.Buffer
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *responseWriter) WriteHeaderNow() {}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}

func (w *responseWriter) Status() int {
	return w.statusCode
}

func (w *responseWriter) Size() int {
	return w.body.Len()
}

func (w *responseWriter) Written() bool {
	return w.written
}

// flush writes the captured response to the underlying writer
func (w *responseWriter) flush() {
	w.ResponseWriter.WriteHeader(w.statusCode)
	_, _ = w.ResponseWriter.Write(w.body.Bytes())
}
