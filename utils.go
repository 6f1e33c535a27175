package x402

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateResourceConfig checks the static fields of a resource config
func ValidateResourceConfig(c ResourceConfig) error {
	if err := structValidator().Struct(c); err != nil {
		return NewPaymentError(ErrCodeInvalidConfig, fmt.Sprintf("invalid resource config: %v", err), nil)
	}
	if c.Price == nil {
		return NewPaymentError(ErrCodeInvalidConfig, "price is required", nil)
	}
	if _, ok := c.Price.(DynamicPrice); ok {
		return NewPaymentError(ErrCodeInvalidConfig, "dynamic price must be resolved before building requirements", nil)
	}
	return nil
}

// ValidatePaymentPayload performs basic validation on a payment payload
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.X402Version < 1 || p.X402Version > ProtocolVersion {
		return NewPaymentError(ErrCodeUnsupportedProtocolVersion, fmt.Sprintf("unsupported x402 version: %d", p.X402Version), nil)
	}
	scheme, network := p.SchemeAndNetwork()
	if scheme == "" {
		return NewPaymentError(ErrCodeInvalidPayment, "payment scheme is required", nil)
	}
	if network == "" {
		return NewPaymentError(ErrCodeInvalidPayment, "payment network is required", nil)
	}
	if p.Payload == nil {
		return NewPaymentError(ErrCodeInvalidPayment, "payment payload is required", nil)
	}
	return nil
}

// ValidatePaymentRequirements performs basic validation on payment requirements
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if r.Scheme == "" {
		return NewPaymentError(ErrCodeInvalidRequirements, "payment scheme is required", nil)
	}
	if r.Network == "" {
		return NewPaymentError(ErrCodeInvalidRequirements, "payment network is required", nil)
	}
	if r.Asset == "" {
		return NewPaymentError(ErrCodeInvalidRequirements, "payment asset is required", nil)
	}
	if r.PayTo == "" {
		return NewPaymentError(ErrCodeInvalidRequirements, "payment recipient is required", nil)
	}
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return NewPaymentError(ErrCodeInvalidRequirements, fmt.Sprintf("amount must be a non-negative integer, got %q", r.Amount), nil)
	}
	if r.MaxTimeoutSeconds <= 0 {
		return NewPaymentError(ErrCodeInvalidRequirements, "maxTimeoutSeconds must be positive", nil)
	}
	return nil
}
