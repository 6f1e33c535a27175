package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	x402 "github.com/boorich/naveens"
)

// Header names used by the x402 HTTP transport
const (
	PaymentRequiredHeader  = "PAYMENT-REQUIRED"
	PaymentSignatureHeader = "PAYMENT-SIGNATURE"
	PaymentResponseHeader  = "PAYMENT-RESPONSE"

	// LegacyPaymentHeader is the v1 request header some clients still send
	LegacyPaymentHeader = "X-PAYMENT"
)

// EncodePaymentRequired encodes a challenge for the PAYMENT-REQUIRED header
func EncodePaymentRequired(required x402.PaymentRequired) (string, error) {
	return encodeHeader(required)
}

// DecodePaymentRequired decodes a PAYMENT-REQUIRED header value
func DecodePaymentRequired(header string) (x402.PaymentRequired, error) {
	var required x402.PaymentRequired
	if err := decodeHeader(header, &required); err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid %s header: %w", PaymentRequiredHeader, err)
	}
	return required, nil
}

// EncodePaymentPayload encodes a payload for the PAYMENT-SIGNATURE header
func EncodePaymentPayload(payload x402.PaymentPayload) (string, error) {
	return encodeHeader(payload)
}

// EncodeSettleResponse encodes a settlement result for the PAYMENT-RESPONSE header
func EncodeSettleResponse(response x402.SettleResponse) (string, error) {
	return encodeHeader(response)
}

// DecodeSettleResponse decodes a PAYMENT-RESPONSE header value
func DecodeSettleResponse(header string) (x402.SettleResponse, error) {
	var response x402.SettleResponse
	if err := decodeHeader(header, &response); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("invalid %s header: %w", PaymentResponseHeader, err)
	}
	return response, nil
}

// PaymentHeader returns the raw payment header of a request, preferring
// PAYMENT-SIGNATURE over the legacy X-PAYMENT header.
func PaymentHeader(header http.Header) string {
	if value := header.Get(PaymentSignatureHeader); value != "" {
		return value
	}
	return header.Get(LegacyPaymentHeader)
}

// PaymentPayloadFromRequest extracts and validates the payment payload of r.
// It returns (nil, nil) when the request carries no payment header.
func PaymentPayloadFromRequest(r *http.Request) (*x402.PaymentPayload, error) {
	header := PaymentHeader(r.Header)
	if header == "" {
		return nil, nil
	}
	return ValidateAndDecodePaymentHeader(header)
}

func encodeHeader(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeHeader(header string, v interface{}) error {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return fmt.Errorf("base64 decoding failed: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	return nil
}
