package x402

import (
	"fmt"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any PaymentError carrying the same code, so the sentinels below
// can be used with errors.Is.
func (e *PaymentError) Is(target error) bool {
	t, ok := target.(*PaymentError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Common error codes
const (
	ErrCodeMissingAsset               = "missing_asset"
	ErrCodeInvalidMoneyFormat         = "invalid_money_format"
	ErrCodeUnsupportedNetwork         = "unsupported_network"
	ErrCodeUnsupportedScheme          = "unsupported_scheme"
	ErrCodeFacilitatorUnsupported     = "facilitator_unsupported"
	ErrCodeUnsupportedProtocolVersion = "unsupported_protocol_version"
	ErrCodeInvalidPayment             = "invalid_payment"
	ErrCodeInvalidConfig              = "invalid_config"
	ErrCodeInvalidRequirements        = "invalid_requirements"
	ErrCodeSettlementAborted          = "settlement_aborted"
	ErrCodeNoFacilitator              = "no_facilitator"
	ErrCodeFacilitatorsChanged        = "facilitators_changed"
)

// Sentinels for errors.Is checks
var (
	ErrMissingAsset               = &PaymentError{Code: ErrCodeMissingAsset}
	ErrInvalidMoneyFormat         = &PaymentError{Code: ErrCodeInvalidMoneyFormat}
	ErrUnsupportedNetwork         = &PaymentError{Code: ErrCodeUnsupportedNetwork}
	ErrUnsupportedScheme          = &PaymentError{Code: ErrCodeUnsupportedScheme}
	ErrFacilitatorUnsupported     = &PaymentError{Code: ErrCodeFacilitatorUnsupported}
	ErrUnsupportedProtocolVersion = &PaymentError{Code: ErrCodeUnsupportedProtocolVersion}
	ErrInvalidPayment             = &PaymentError{Code: ErrCodeInvalidPayment}
	ErrInvalidConfig              = &PaymentError{Code: ErrCodeInvalidConfig}
	ErrInvalidRequirements        = &PaymentError{Code: ErrCodeInvalidRequirements}
	ErrSettlementAborted          = &PaymentError{Code: ErrCodeSettlementAborted}
	ErrNoFacilitator              = &PaymentError{Code: ErrCodeNoFacilitator}
	ErrFacilitatorsChanged        = &PaymentError{Code: ErrCodeFacilitatorsChanged}
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// VerifyError is returned when a facilitator answers a verify call with a
// non-2xx status and a well-formed verify response body.
type VerifyError struct {
	StatusCode    int
	InvalidReason string
	Payer         string
}

func (e *VerifyError) Error() string {
	reason := e.InvalidReason
	if reason == "" {
		reason = "unknown reason"
	}
	return fmt.Sprintf("verification failed (%d): %s", e.StatusCode, reason)
}

// NewVerifyError creates a VerifyError from a facilitator response
func NewVerifyError(statusCode int, response VerifyResponse) *VerifyError {
	return &VerifyError{
		StatusCode:    statusCode,
		InvalidReason: response.InvalidReason,
		Payer:         response.Payer,
	}
}

// SettleError is returned when settlement did not succeed. StatusCode is the
// facilitator's HTTP status, or 200 when the facilitator reported success=false.
type SettleError struct {
	StatusCode  int
	ErrorReason string
	Payer       string
	Transaction string
	Network     Network
}

func (e *SettleError) Error() string {
	reason := e.ErrorReason
	if reason == "" {
		reason = "unknown reason"
	}
	return fmt.Sprintf("settlement failed (%d): %s", e.StatusCode, reason)
}

// NewSettleError creates a SettleError from a facilitator response
func NewSettleError(statusCode int, response SettleResponse) *SettleError {
	return &SettleError{
		StatusCode:  statusCode,
		ErrorReason: response.ErrorReason,
		Payer:       response.Payer,
		Transaction: response.Transaction,
		Network:     response.Network,
	}
}

// FacilitatorError reports that a facilitator could not be used at all:
// unreachable, or it answered with a body that is not a protocol response.
type FacilitatorError struct {
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

func (e *FacilitatorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("facilitator %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("facilitator %s failed (%d): %s", e.Operation, e.StatusCode, e.Body)
}

func (e *FacilitatorError) Unwrap() error {
	return e.Err
}
