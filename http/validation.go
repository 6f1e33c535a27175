package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/boorich/naveens"
)

// Base64 regex pattern - requires at least one character
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// paymentPayloadSchema describes a decoded payment header. Version 2 payloads
// must carry the accepted requirements; version 1 payloads may instead carry
// scheme and network at the top level.
const paymentPayloadSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["x402Version", "payload"],
	"properties": {
		"x402Version": {"type": "integer", "minimum": 1},
		"payload": {"type": "object"},
		"accepted": {
			"type": "object",
			"required": ["scheme", "network"],
			"properties": {
				"scheme": {"type": "string", "minLength": 1},
				"network": {"type": "string", "minLength": 1},
				"asset": {"type": "string"},
				"amount": {"type": "string"},
				"payTo": {"type": "string"},
				"maxTimeoutSeconds": {"type": "integer", "minimum": 0},
				"extra": {"type": "object"}
			}
		},
		"scheme": {"type": "string"},
		"network": {"type": "string"},
		"resource": {
			"type": "object",
			"properties": {
				"url": {"type": "string"},
				"description": {"type": "string"},
				"mimeType": {"type": "string"}
			}
		},
		"extensions": {"type": "object"}
	},
	"if": {"properties": {"x402Version": {"const": 1}}},
	"then": {
		"anyOf": [
			{"required": ["accepted"]},
			{"required": ["scheme", "network"]}
		]
	},
	"else": {"required": ["accepted"]}
}`

var payloadSchemaLoader = gojsonschema.NewStringLoader(paymentPayloadSchema)

// ValidateAndDecodePaymentHeader validates and decodes a payment header string.
// It checks the base64 encoding, then validates the JSON document against the
// payment payload schema before decoding it.
//
// Every failure wraps x402.ErrInvalidPayment.
func ValidateAndDecodePaymentHeader(paymentHeader string) (*x402.PaymentPayload, error) {
	if paymentHeader == "" {
		return nil, invalidPayment("payment header is empty")
	}

	if !base64Regex.MatchString(paymentHeader) {
		return nil, invalidPayment("invalid payment header format: not valid base64")
	}

	decoded, err := base64.StdEncoding.DecodeString(paymentHeader)
	if err != nil {
		return nil, invalidPayment(fmt.Sprintf("invalid payment header format: base64 decoding failed - %v", err))
	}

	if err := ValidatePaymentPayloadJSON(decoded); err != nil {
		return nil, err
	}

	var payload x402.PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, invalidPayment(fmt.Sprintf("failed to parse payment payload: %v", err))
	}

	return &payload, nil
}

// ValidatePaymentPayloadJSON validates a raw JSON payment payload document
func ValidatePaymentPayloadJSON(document []byte) error {
	if !json.Valid(document) {
		return invalidPayment("invalid payment header format: not valid JSON")
	}

	result, err := gojsonschema.Validate(payloadSchemaLoader, gojsonschema.NewBytesLoader(document))
	if err != nil {
		return invalidPayment(fmt.Sprintf("schema validation error: %v", err))
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
		}
		return invalidPayment(fmt.Sprintf("invalid payment payload: %s", strings.Join(errs, "; ")))
	}

	return nil
}

func invalidPayment(message string) error {
	return x402.NewPaymentError(x402.ErrCodeInvalidPayment, message, nil)
}
